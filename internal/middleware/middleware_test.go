package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/scholarline/taskdesk/internal/domain/user"
	"github.com/scholarline/taskdesk/internal/logger"
)

type staticTokens map[string]*user.User

func (s staticTokens) UserForToken(token string) (*user.User, bool) {
	u, ok := s[token]
	return u, ok
}

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func TestRequestIDGeneratedAndEchoed(t *testing.T) {
	var seen string
	h := RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = logger.RequestID(r.Context())
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest("GET", "/api/tasks/", nil))

	if seen == "" {
		t.Error("no request id in context")
	}
	if rec.Header().Get("X-Request-ID") != seen {
		t.Error("response header does not match context id")
	}
}

func TestRequestIDPreserved(t *testing.T) {
	var seen string
	h := RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = logger.RequestID(r.Context())
	}))

	req := httptest.NewRequest("GET", "/api/tasks/", nil)
	req.Header.Set("X-Request-ID", "abc-123")
	h.ServeHTTP(httptest.NewRecorder(), req)

	if seen != "abc-123" {
		t.Errorf("request id = %q, want abc-123", seen)
	}
}

func TestAuthBearerToken(t *testing.T) {
	tokens := staticTokens{"good": {ID: 1, Username: "sam", Role: user.RoleClient}}
	var got *user.User
	h := Auth(tokens)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = UserFromContext(r.Context())
	}))

	req := httptest.NewRequest("GET", "/api/tasks/", nil)
	req.Header.Set("Authorization", "Bearer good")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK || got == nil || got.Username != "sam" {
		t.Fatalf("code = %d, user = %+v", rec.Code, got)
	}
}

func TestAuthRejectsBadToken(t *testing.T) {
	h := Auth(staticTokens{})(okHandler())

	req := httptest.NewRequest("GET", "/api/tasks/", nil)
	req.Header.Set("Authorization", "Bearer nope")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Errorf("code = %d, want 401", rec.Code)
	}
}

func TestAuthPublicPathsSkipped(t *testing.T) {
	h := Auth(staticTokens{})(okHandler())

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest("POST", "/api/token/", nil))

	if rec.Code != http.StatusOK {
		t.Errorf("code = %d, want 200 without credentials", rec.Code)
	}
}

func TestAuthWebSocketQueryToken(t *testing.T) {
	tokens := staticTokens{"wstok": {ID: 2, Username: "eve", Role: user.RoleAdmin}}
	h := Auth(tokens)(okHandler())

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest("GET", "/ws/admin/?token=wstok", nil))

	if rec.Code != http.StatusOK {
		t.Errorf("code = %d, want 200", rec.Code)
	}
}

func TestRequireRole(t *testing.T) {
	tokens := staticTokens{
		"client": {ID: 1, Username: "sam", Role: user.RoleClient},
		"admin":  {ID: 2, Username: "eve", Role: user.RoleAdmin},
	}
	h := Auth(tokens)(RequireRole(user.RoleAdmin)(okHandler()))

	cases := []struct {
		token string
		want  int
	}{
		{"admin", http.StatusOK},
		{"client", http.StatusForbidden},
	}
	for _, tc := range cases {
		req := httptest.NewRequest("GET", "/api/admin/stats/", nil)
		req.Header.Set("Authorization", "Bearer "+tc.token)
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		if rec.Code != tc.want {
			t.Errorf("token %s: code = %d, want %d", tc.token, rec.Code, tc.want)
		}
	}
}
