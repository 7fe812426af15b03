// Package domain provides shared domain-level sentinel errors.
package domain

import "errors"

// ErrNotFound indicates the requested entity does not exist.
var ErrNotFound = errors.New("not found")

// ErrUnauthorized indicates the session is no longer valid and has been cleared.
var ErrUnauthorized = errors.New("authentication required")
