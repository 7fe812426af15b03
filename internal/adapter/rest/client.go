// Package rest provides the HTTP client for the task-marketplace backend API.
package rest

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/scholarline/taskdesk/internal/config"
	"github.com/scholarline/taskdesk/internal/domain"
	"github.com/scholarline/taskdesk/internal/logger"
	"github.com/scholarline/taskdesk/internal/port/cache"
	"github.com/scholarline/taskdesk/internal/resilience"
	"github.com/scholarline/taskdesk/internal/session"
)

// Client talks to the backend REST API. All authenticated calls carry the
// session's bearer token; any 401 clears the session, which is the one
// globally fatal condition of the client.
type Client struct {
	baseURL    string
	httpClient *http.Client
	session    *session.Session
	breaker    *resilience.Breaker
	cache      cache.Cache
	cacheTTL   time.Duration
	log        *slog.Logger
}

// Option configures optional client collaborators.
type Option func(*Client)

// WithBreaker attaches a circuit breaker to all outgoing calls.
func WithBreaker(b *resilience.Breaker) Option {
	return func(c *Client) { c.breaker = b }
}

// WithCache attaches a response cache for read-mostly GETs.
func WithCache(cc cache.Cache, ttl time.Duration) Option {
	return func(c *Client) {
		c.cache = cc
		c.cacheTTL = ttl
	}
}

// WithLogger sets the client logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) { c.log = l }
}

// New creates a backend API client.
func New(cfg config.API, sess *session.Session, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		session: sess,
		httpClient: &http.Client{
			Timeout:   cfg.Timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		log: slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// doJSON issues an authenticated JSON request.
func (c *Client) doJSON(ctx context.Context, method, path string, body []byte) ([]byte, error) {
	return c.do(ctx, method, path, "application/json", body, true)
}

// doPublic issues an unauthenticated JSON request (auth endpoints). A 401
// here means bad credentials, not an expired session, so it never clears
// local state.
func (c *Client) doPublic(ctx context.Context, method, path string, body []byte) ([]byte, error) {
	return c.do(ctx, method, path, "application/json", body, false)
}

// cachedGet serves an authenticated GET through the response cache when one
// is configured.
func (c *Client) cachedGet(ctx context.Context, path string) ([]byte, error) {
	if c.cache == nil {
		return c.doJSON(ctx, http.MethodGet, path, nil)
	}
	if data, ok, err := c.cache.Get(ctx, path); err == nil && ok {
		return data, nil
	}
	data, err := c.doJSON(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, err
	}
	_ = c.cache.Set(ctx, path, data, c.cacheTTL)
	return data, nil
}

func (c *Client) invalidate(ctx context.Context, path string) {
	if c.cache != nil {
		_ = c.cache.Delete(ctx, path)
	}
}

func (c *Client) do(ctx context.Context, method, path, contentType string, body []byte, authed bool) ([]byte, error) {
	var result []byte
	call := func() error {
		var bodyReader io.Reader
		if body != nil {
			bodyReader = bytes.NewReader(body)
		}

		req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
		if err != nil {
			return fmt.Errorf("create request: %w", err)
		}

		req.Header.Set("Content-Type", contentType)
		reqID := logger.RequestID(ctx)
		if reqID == "" {
			reqID = uuid.NewString()
		}
		req.Header.Set("X-Request-ID", reqID)
		if authed {
			if token := c.session.AccessToken(); token != "" {
				req.Header.Set("Authorization", "Bearer "+token)
			}
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return fmt.Errorf("http request: %w", err)
		}
		defer func() { _ = resp.Body.Close() }()

		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("read response: %w", err)
		}

		if resp.StatusCode == http.StatusUnauthorized && authed {
			c.log.Warn("authentication expired, clearing session")
			c.session.Clear()
			return domain.ErrUnauthorized
		}
		if resp.StatusCode >= 400 {
			return fmt.Errorf("api error %d: %s", resp.StatusCode, truncate(data, 512))
		}

		result = data
		return nil
	}

	if c.breaker != nil {
		if err := c.breaker.Execute(call); err != nil {
			return nil, err
		}
		return result, nil
	}

	if err := call(); err != nil {
		return nil, err
	}
	return result, nil
}

func truncate(b []byte, n int) string {
	s := string(b)
	if len(s) > n {
		return s[:n] + "..."
	}
	return s
}
