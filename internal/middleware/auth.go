package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/scholarline/taskdesk/internal/domain/user"
)

type authUserCtxKey struct{}

// TokenValidator resolves a bearer token to its account.
type TokenValidator interface {
	UserForToken(token string) (*user.User, bool)
}

// publicPaths are exempt from authentication.
var publicPaths = map[string]bool{
	"/healthz":                           true,
	"/api/token/":                        true,
	"/api/token/refresh/":                true,
	"/api/register/":                     true,
	"/api/auth/password-reset/":          true,
	"/api/auth/password-reset-confirm/":  true,
	"/api/auth/password-reset-complete/": true,
}

// Auth returns middleware that validates bearer tokens. WebSocket paths
// authenticate via a token query parameter instead, since browser WebSocket
// clients cannot set headers.
func Auth(tokens TokenValidator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if publicPaths[r.URL.Path] {
				next.ServeHTTP(w, r)
				return
			}

			raw := ""
			if strings.HasPrefix(r.URL.Path, "/ws/") {
				raw = r.URL.Query().Get("token")
			} else if h := r.Header.Get("Authorization"); strings.HasPrefix(h, "Bearer ") {
				raw = strings.TrimPrefix(h, "Bearer ")
			}
			if raw == "" {
				http.Error(w, `{"error":"authorization required"}`, http.StatusUnauthorized)
				return
			}

			u, ok := tokens.UserForToken(raw)
			if !ok {
				http.Error(w, `{"error":"invalid or expired token"}`, http.StatusUnauthorized)
				return
			}

			ctx := context.WithValue(r.Context(), authUserCtxKey{}, u)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// UserFromContext returns the authenticated user, or nil.
func UserFromContext(ctx context.Context) *user.User {
	u, _ := ctx.Value(authUserCtxKey{}).(*user.User)
	return u
}
