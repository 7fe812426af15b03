package rest

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/scholarline/taskdesk/internal/config"
	"github.com/scholarline/taskdesk/internal/domain"
	"github.com/scholarline/taskdesk/internal/session"
)

func testSession(t *testing.T) *session.Session {
	t.Helper()
	s, err := session.Load(filepath.Join(t.TempDir(), "session.json"))
	if err != nil {
		t.Fatal(err)
	}
	return s
}

func newClient(t *testing.T, srv *httptest.Server, sess *session.Session, opts ...Option) *Client {
	t.Helper()
	return New(config.API{BaseURL: srv.URL, Timeout: 5 * time.Second}, sess, opts...)
}

func TestBearerTokenAttached(t *testing.T) {
	var gotAuth, gotReqID string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotReqID = r.Header.Get("X-Request-ID")
		_, _ = w.Write([]byte(`[]`))
	}))
	defer srv.Close()

	sess := testSession(t)
	if err := sess.SetTokens("tok123", ""); err != nil {
		t.Fatal(err)
	}

	c := newClient(t, srv, sess)
	if _, err := c.Tasks(context.Background()); err != nil {
		t.Fatal(err)
	}

	if gotAuth != "Bearer tok123" {
		t.Errorf("Authorization = %q, want Bearer tok123", gotAuth)
	}
	if gotReqID == "" {
		t.Error("expected an X-Request-ID header")
	}
}

func TestUnauthorizedClearsSession(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	sess := testSession(t)
	if err := sess.SetTokens("stale", "r"); err != nil {
		t.Fatal(err)
	}
	cleared := false
	sess.OnClear(func() { cleared = true })

	c := newClient(t, srv, sess)
	_, err := c.Tasks(context.Background())

	if !errors.Is(err, domain.ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
	if !cleared {
		t.Error("401 must clear the session")
	}
	if sess.Authenticated() {
		t.Error("session still holds a token after 401")
	}
}

func TestLoginFailureDoesNotClearSession(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"detail":"No active account found"}`))
	}))
	defer srv.Close()

	sess := testSession(t)
	if err := sess.SetTokens("still-good", ""); err != nil {
		t.Fatal(err)
	}

	c := newClient(t, srv, sess)
	if _, err := c.Login(context.Background(), "u", "wrong"); err == nil {
		t.Fatal("expected login error")
	}

	if !sess.Authenticated() {
		t.Error("bad credentials must not clear an existing session")
	}
}

func TestLoginStoresTokensAndUser(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/token/":
			_, _ = w.Write([]byte(`{"access":"a1","refresh":"r1"}`))
		case "/api/auth/user/":
			if r.Header.Get("Authorization") != "Bearer a1" {
				w.WriteHeader(http.StatusUnauthorized)
				return
			}
			_, _ = w.Write([]byte(`{"id":5,"username":"sam","role":"client"}`))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	sess := testSession(t)
	c := newClient(t, srv, sess)

	u, err := c.Login(context.Background(), "sam", "pw")
	if err != nil {
		t.Fatal(err)
	}
	if u.Username != "sam" {
		t.Errorf("user = %+v", u)
	}
	if sess.AccessToken() != "a1" || sess.RefreshToken() != "r1" {
		t.Error("tokens not persisted")
	}
	if sess.Role() != "client" {
		t.Errorf("role = %q, want client", sess.Role())
	}
}

func TestPostActionDecodesResult(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %s, want POST", r.Method)
		}
		var payload map[string]any
		_ = json.NewDecoder(r.Body).Decode(&payload)
		if payload["amount"] != 75.0 {
			t.Errorf("payload = %v", payload)
		}
		_, _ = w.Write([]byte(`{"task":{"id":3,"status":"budget_negotiation"},"message":"Counter sent"}`))
	}))
	defer srv.Close()

	c := newClient(t, srv, testSession(t))
	res, err := c.PostAction(context.Background(), "/api/tasks/3/counter-budget/", map[string]any{"amount": 75.0})
	if err != nil {
		t.Fatal(err)
	}
	if res.Task == nil || res.Task.ID != 3 {
		t.Fatalf("result task = %+v", res.Task)
	}
	if res.Message != "Counter sent" {
		t.Errorf("message = %q", res.Message)
	}
}

func TestMultipartCreateTask(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Fatalf("parse multipart: %v", err)
		}
		if got := r.FormValue("title"); got != "Essay on Go" {
			t.Errorf("title = %q", got)
		}
		f, hdr, err := r.FormFile("file")
		if err != nil {
			t.Fatalf("form file: %v", err)
		}
		defer func() { _ = f.Close() }()
		if hdr.Filename != "notes.txt" {
			t.Errorf("filename = %q", hdr.Filename)
		}
		_, _ = w.Write([]byte(`{"id":11,"title":"Essay on Go","status":"submitted"}`))
	}))
	defer srv.Close()

	c := newClient(t, srv, testSession(t))
	created, err := c.CreateTask(context.Background(), CreateTaskRequest{
		Title:          "Essay on Go",
		ProposedBudget: "50",
		Files:          []Upload{{Filename: "notes.txt", Reader: strings.NewReader("hello")}},
	})
	if err != nil {
		t.Fatal(err)
	}
	if created.ID != 11 {
		t.Errorf("created id = %d", created.ID)
	}
}

func TestCachedGetServesSecondCallFromCache(t *testing.T) {
	var mu sync.Mutex
	hits := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		hits++
		mu.Unlock()
		_, _ = w.Write([]byte(`[{"id":1,"message":"hi","sender_role":"admin"}]`))
	}))
	defer srv.Close()

	c := newClient(t, srv, testSession(t), WithCache(&memCache{data: map[string][]byte{}}, time.Minute))

	for range 2 {
		msgs, err := c.ChatHistory(context.Background(), 1)
		if err != nil {
			t.Fatal(err)
		}
		if len(msgs) != 1 || msgs[0].Body != "hi" {
			t.Fatalf("messages = %+v", msgs)
		}
	}

	mu.Lock()
	defer mu.Unlock()
	if hits != 1 {
		t.Fatalf("backend hit %d times, want 1", hits)
	}
}

// memCache is a deterministic cache.Cache for tests (ristretto admits
// entries asynchronously, which makes hit counting flaky).
type memCache struct {
	mu   sync.Mutex
	data map[string][]byte
}

func (m *memCache) Get(_ context.Context, key string) ([]byte, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.data[key]
	return v, ok, nil
}

func (m *memCache) Set(_ context.Context, key string, value []byte, _ time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = value
	return nil
}

func (m *memCache) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, key)
	return nil
}

func TestHTTPErrorSurfacesBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"username":["already taken"]}`))
	}))
	defer srv.Close()

	c := newClient(t, srv, testSession(t))
	_, err := c.Register(context.Background(), RegisterRequest{Username: "dup", Password: "x"})
	if err == nil || !strings.Contains(err.Error(), "already taken") {
		t.Fatalf("expected validation text in error, got %v", err)
	}
}
