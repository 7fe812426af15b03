// Package session holds the persisted client session: tokens, profile and
// role. It is the single owner of that state; everything else reads through
// it and subscribes to forced-logout notifications.
package session

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/scholarline/taskdesk/internal/domain/user"
)

// state is the on-disk shape, one JSON document per session.
type state struct {
	AccessToken  string     `json:"access_token,omitempty"`
	RefreshToken string     `json:"refresh_token,omitempty"`
	Role         user.Role  `json:"role,omitempty"`
	User         *user.User `json:"user,omitempty"`
}

// Session is a file-backed session store. All methods are safe for concurrent
// use. Mutations persist before returning.
type Session struct {
	mu      sync.Mutex
	path    string
	state   state
	onClear []func()
}

// DefaultPath returns the session file location under the user config dir.
func DefaultPath() (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("user config dir: %w", err)
	}
	return filepath.Join(dir, "taskdesk", "session.json"), nil
}

// Load opens the session at path, creating an empty one if the file does not
// exist. An empty path selects DefaultPath.
func Load(path string) (*Session, error) {
	if path == "" {
		p, err := DefaultPath()
		if err != nil {
			return nil, err
		}
		path = p
	}

	s := &Session{path: path}

	data, err := os.ReadFile(path) //nolint:gosec // G304: path comes from config
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return s, nil
		}
		return nil, fmt.Errorf("read session: %w", err)
	}
	if err := json.Unmarshal(data, &s.state); err != nil {
		// A corrupt session file is treated as logged out.
		s.state = state{}
	}
	return s, nil
}

// SetTokens stores the access and refresh tokens. An empty refresh token
// keeps the previous one (token refresh may not rotate it).
func (s *Session) SetTokens(access, refresh string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.AccessToken = access
	if refresh != "" {
		s.state.RefreshToken = refresh
	}
	return s.save()
}

// SetUser stores the authenticated profile and its role.
func (s *Session) SetUser(u user.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.User = &u
	s.state.Role = u.Role
	return s.save()
}

// AccessToken returns the current access token, empty when logged out.
func (s *Session) AccessToken() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.AccessToken
}

// RefreshToken returns the current refresh token.
func (s *Session) RefreshToken() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.RefreshToken
}

// Role returns the persisted role, empty when logged out.
func (s *Session) Role() user.Role {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.Role
}

// User returns the persisted profile, nil when logged out.
func (s *Session) User() *user.User {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state.User == nil {
		return nil
	}
	u := *s.state.User
	return &u
}

// Authenticated reports whether an access token is present.
func (s *Session) Authenticated() bool {
	return s.AccessToken() != ""
}

// OnClear registers fn to run whenever the session is cleared, including a
// forced clear on authentication expiry.
func (s *Session) OnClear(fn func()) {
	s.mu.Lock()
	s.onClear = append(s.onClear, fn)
	s.mu.Unlock()
}

// Clear wipes all session state atomically and notifies subscribers.
func (s *Session) Clear() {
	s.mu.Lock()
	s.state = state{}
	_ = os.Remove(s.path)
	subs := append([]func(){}, s.onClear...)
	s.mu.Unlock()

	for _, fn := range subs {
		fn()
	}
}

// save must be called with s.mu held. Writes via a temp file and rename so a
// crash never leaves a half-written session.
func (s *Session) save() error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o700); err != nil {
		return fmt.Errorf("session dir: %w", err)
	}
	data, err := json.MarshalIndent(s.state, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal session: %w", err)
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("write session: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("replace session: %w", err)
	}
	return nil
}
