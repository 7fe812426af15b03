// Package wsclient implements the reconnecting WebSocket channel used for
// server-pushed task and chat events. One Channel owns one logical
// connection and keeps it alive across transient failures with capped
// exponential backoff.
package wsclient

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/coder/websocket"
)

// State is the observable connection state, for UI indicators.
type State string

const (
	StateConnecting State = "connecting"
	StateOpen       State = "open"
	StateClosed     State = "closed"
)

// Config parameterizes a Channel.
type Config struct {
	// Base is the ws(s) origin, already resolved via ResolveBase.
	Base string
	// Path is the server-relative endpoint, e.g. "/ws/task/7/".
	Path string
	// Token supplies the current auth token. It is consulted before every
	// attempt, so a token that appears later enables later attempts.
	Token func() string
	// OnMessage receives every well-formed inbound frame.
	OnMessage func(Event)
	// OnStatus, when set, observes connection state transitions.
	OnStatus func(State)
	// OnRetry, when set, observes each scheduled reconnect with its delay.
	OnRetry func(attempt int, delay time.Duration)
	// OnDropped, when set, observes each malformed frame discarded.
	OnDropped func()

	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	Logger         *slog.Logger
}

// Channel is a single logical WebSocket connection with reconnection.
// Send is best-effort: frames are dropped when the socket is not open.
type Channel struct {
	cfg    Config
	log    *slog.Logger
	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	conn    *websocket.Conn
	state   State
	attempt int
	closed  bool
}

// Open creates the channel and starts connecting in the background.
func Open(cfg Config) *Channel {
	if cfg.InitialBackoff <= 0 {
		cfg.InitialBackoff = time.Second
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = 30 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Token == nil {
		cfg.Token = func() string { return "" }
	}

	ctx, cancel := context.WithCancel(context.Background())
	c := &Channel{
		cfg:    cfg,
		log:    cfg.Logger.With("ws_path", cfg.Path),
		ctx:    ctx,
		cancel: cancel,
		state:  StateConnecting,
	}
	go c.run()
	return c
}

// Delay returns the reconnect backoff for the given attempt:
// min(initial * 2^attempt, ceiling).
func Delay(attempt int, initial, ceiling time.Duration) time.Duration {
	if attempt >= 30 {
		return ceiling
	}
	d := initial << uint(attempt)
	if d <= 0 || d > ceiling {
		return ceiling
	}
	return d
}

// State returns the current connection state.
func (c *Channel) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Send serializes and transmits v if the channel is currently open, and
// silently drops it otherwise. This is a best-effort channel, not a queue.
func (c *Channel) Send(ctx context.Context, v any) {
	c.mu.Lock()
	conn := c.conn
	open := c.state == StateOpen
	c.mu.Unlock()

	if !open || conn == nil {
		c.log.Debug("send dropped, channel not open")
		return
	}

	data, err := json.Marshal(v)
	if err != nil {
		c.log.Error("marshal outbound frame", "error", err)
		return
	}
	if err := conn.Write(ctx, websocket.MessageText, data); err != nil {
		c.log.Debug("write failed", "error", err)
	}
}

// Close shuts the channel down deliberately: pending reconnects are
// cancelled and the connection closes with a normal-closure code so neither
// side schedules a retry.
func (c *Channel) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	conn := c.conn
	c.mu.Unlock()

	c.cancel()
	if conn != nil {
		_ = conn.Close(websocket.StatusNormalClosure, "client shutdown")
	}
	c.setState(StateClosed)
}

func (c *Channel) run() {
	for {
		if c.isClosed() {
			return
		}

		token := c.cfg.Token()
		if token == "" {
			// No token yet; keep trying on the backoff schedule.
			c.log.Debug("no auth token, deferring connect")
			if !c.backoff() {
				return
			}
			continue
		}

		c.setState(StateConnecting)
		url := BuildURL(c.cfg.Base, c.cfg.Path, token)

		conn, _, err := websocket.Dial(c.ctx, url, nil) //nolint:bodyclose // closed via conn.Close
		if err != nil {
			if c.isClosed() {
				return
			}
			c.log.Warn("dial failed", "error", err)
			c.setState(StateClosed)
			if !c.backoff() {
				return
			}
			continue
		}

		c.mu.Lock()
		c.conn = conn
		c.attempt = 0
		c.mu.Unlock()
		c.setState(StateOpen)
		c.log.Info("websocket connected")

		normal := c.readLoop(conn)

		c.mu.Lock()
		c.conn = nil
		c.mu.Unlock()
		c.setState(StateClosed)

		if c.isClosed() || normal {
			return
		}
		if !c.backoff() {
			return
		}
	}
}

// readLoop consumes frames until the connection dies. It reports whether the
// connection ended with a normal closure, which suppresses reconnection.
func (c *Channel) readLoop(conn *websocket.Conn) bool {
	for {
		_, data, err := conn.Read(c.ctx)
		if err != nil {
			status := websocket.CloseStatus(err)
			if status == websocket.StatusNormalClosure {
				c.log.Info("websocket closed")
				return true
			}
			c.log.Warn("websocket disconnected", "close_status", status, "error", err)
			return false
		}

		var ev Event
		if err := json.Unmarshal(data, &ev); err != nil || ev.Type == "" {
			// Malformed frames never take the channel down.
			c.log.Warn("dropping malformed frame", "error", err)
			if c.cfg.OnDropped != nil {
				c.cfg.OnDropped()
			}
			continue
		}
		if c.cfg.OnMessage != nil {
			c.cfg.OnMessage(ev)
		}
	}
}

// backoff sleeps for the current attempt's delay. Returns false when the
// channel was closed while waiting.
func (c *Channel) backoff() bool {
	c.mu.Lock()
	attempt := c.attempt
	c.attempt++
	c.mu.Unlock()

	delay := Delay(attempt, c.cfg.InitialBackoff, c.cfg.MaxBackoff)
	c.log.Info("scheduling reconnect", "attempt", attempt, "delay", delay)
	if c.cfg.OnRetry != nil {
		c.cfg.OnRetry(attempt, delay)
	}

	t := time.NewTimer(delay)
	defer t.Stop()
	select {
	case <-c.ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

func (c *Channel) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *Channel) setState(s State) {
	c.mu.Lock()
	if c.state == s {
		c.mu.Unlock()
		return
	}
	c.state = s
	c.mu.Unlock()
	if c.cfg.OnStatus != nil {
		c.cfg.OnStatus(s)
	}
}
