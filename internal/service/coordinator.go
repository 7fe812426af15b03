// Package service houses the sync coordinator, the only component that may
// drive both the REST API and the WebSocket channels. It owns the mapping
// from user intent to optimistic store mutation plus REST call, and from
// inbound socket events to store mutations.
package service

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/scholarline/taskdesk/internal/adapter/otel"
	"github.com/scholarline/taskdesk/internal/adapter/rest"
	"github.com/scholarline/taskdesk/internal/adapter/wsclient"
	"github.com/scholarline/taskdesk/internal/config"
	"github.com/scholarline/taskdesk/internal/domain/task"
	"github.com/scholarline/taskdesk/internal/domain/user"
	"github.com/scholarline/taskdesk/internal/session"
	"github.com/scholarline/taskdesk/internal/store"
)

// API is the REST surface the coordinator consumes. *rest.Client satisfies it.
type API interface {
	Tasks(ctx context.Context) ([]task.Task, error)
	PostAction(ctx context.Context, path string, payload any) (*rest.ActionResult, error)
	ChatHistory(ctx context.Context, taskID int64) ([]task.ChatMessage, error)
	SendChat(ctx context.Context, taskID int64, body string, file *rest.Upload) error
	MarkRead(ctx context.Context, taskID int64) error
	UploadSolution(ctx context.Context, taskID int64, filename string, r io.Reader) error
}

// Socket is the outbound face of one live WebSocket channel.
type Socket interface {
	Send(ctx context.Context, v any)
	State() wsclient.State
	Close()
}

// Dialer opens a Socket. Tests substitute a fake; the default wraps
// wsclient.Open.
type Dialer func(cfg wsclient.Config) Socket

// NoticeLevel classifies a user-facing notification.
type NoticeLevel string

const (
	NoticeInfo  NoticeLevel = "info"
	NoticeError NoticeLevel = "error"
)

// Notice is a transient user-facing notification, the toast equivalent.
type Notice struct {
	Level NoticeLevel
	Text  string
}

// Config parameterizes a Coordinator.
type Config struct {
	API     API
	Store   *store.Store
	Session *session.Session
	// WSBase is the ws(s) origin, already resolved via wsclient.ResolveBase.
	WSBase         string
	InitialBackoff time.Duration
	MaxBackoff     time.Duration

	Logger  *slog.Logger
	Metrics *otel.Metrics

	// OnNotice receives user-facing notifications. Optional.
	OnNotice func(Notice)
	// OnState observes mailbox connection state changes, for UI indicators.
	OnState func(wsclient.State)
	// OnTyping observes remote typing indicator changes on the selected task.
	OnTyping func(taskID int64, username string, active bool)

	// Dial overrides socket construction, for tests.
	Dial Dialer
	// TypingIdle is the silence window after which a typing burst ends.
	TypingIdle time.Duration
}

// Coordinator binds the mailbox channel and one per-task channel to the
// task store. All REST failures roll back their optimistic mutation and
// surface a Notice; they are never retried automatically.
type Coordinator struct {
	cfg  Config
	log  *slog.Logger
	dial Dialer

	typing *TypingNotifier

	mu       sync.Mutex
	mailbox  Socket
	taskSock Socket
	selected int64
	remote   map[int64]*time.Timer // task id -> typing indicator expiry
	closed   bool
}

// New creates a Coordinator. Start must be called before use.
func New(cfg Config) *Coordinator {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.OnNotice == nil {
		cfg.OnNotice = func(Notice) {}
	}
	if cfg.TypingIdle <= 0 {
		cfg.TypingIdle = time.Second
	}
	c := &Coordinator{
		cfg:    cfg,
		log:    cfg.Logger,
		dial:   cfg.Dial,
		remote: make(map[int64]*time.Timer),
	}
	if c.dial == nil {
		c.dial = func(wc wsclient.Config) Socket { return wsclient.Open(wc) }
	}
	c.typing = NewTypingNotifier(cfg.TypingIdle, c.sendTyping)
	return c
}

// Start loads the initial task list into the store and opens the mailbox
// channel for the session's role. The mailbox reconnects indefinitely; a
// missing token only defers attempts until login completes.
func (c *Coordinator) Start(ctx context.Context) error {
	tasks, err := c.cfg.API.Tasks(ctx)
	if err != nil {
		return fmt.Errorf("load tasks: %w", err)
	}
	// UpsertTask prepends unknown ids, so feed the list back to front to
	// keep the server's ordering.
	for i := len(tasks) - 1; i >= 0; i-- {
		c.cfg.Store.UpsertTask(tasks[i])
	}

	path := "/ws/client/"
	if c.cfg.Session.Role() == user.RoleAdmin {
		path = "/ws/admin/"
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.mailbox = c.openSocket(path, c.cfg.OnState)
	return nil
}

// openSocket dials one channel wired into the coordinator's event handling
// and metrics. Caller holds c.mu or is the constructor.
func (c *Coordinator) openSocket(path string, onState func(wsclient.State)) Socket {
	return c.dial(wsclient.Config{
		Base:           c.cfg.WSBase,
		Path:           path,
		Token:          c.cfg.Session.AccessToken,
		OnMessage:      c.handleInbound,
		OnStatus:       onState,
		OnRetry:        c.retryObserved,
		OnDropped:      c.frameDropped,
		InitialBackoff: c.cfg.InitialBackoff,
		MaxBackoff:     c.cfg.MaxBackoff,
		Logger:         c.log,
	})
}

func (c *Coordinator) retryObserved(_ int, _ time.Duration) {
	if c.cfg.Metrics != nil {
		c.cfg.Metrics.SocketReconnects.Add(context.Background(), 1)
	}
}

func (c *Coordinator) frameDropped() {
	if c.cfg.Metrics != nil {
		c.cfg.Metrics.SocketFramesDropped.Add(context.Background(), 1)
	}
}

// SelectTask focuses a task: the previous per-task channel is torn down, a
// new one opens for the given id, the task is marked read and its chat
// history loads into the store.
func (c *Coordinator) SelectTask(ctx context.Context, id int64) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return fmt.Errorf("coordinator closed")
	}
	if c.taskSock != nil {
		c.taskSock.Close()
		c.taskSock = nil
	}
	c.selected = id
	c.taskSock = c.openSocket(fmt.Sprintf("/ws/task/%d/", id), nil)
	c.mu.Unlock()

	if err := c.cfg.API.MarkRead(ctx, id); err != nil {
		c.log.Warn("mark read failed", "task_id", id, "error", err)
	} else {
		zero := 0
		c.cfg.Store.PatchTask(id, store.Patch{UnreadCount: &zero})
	}

	history, err := c.cfg.API.ChatHistory(ctx, id)
	if err != nil {
		return fmt.Errorf("load chat history: %w", err)
	}
	c.cfg.Store.SetMessages(id, history)
	return nil
}

// Selected returns the currently focused task id, zero when none.
func (c *Coordinator) Selected() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.selected
}

// SendChat sends a chat message on the selected task. An optimistic
// placeholder appears in the store immediately and is replaced by the
// server's echo, matched on sender and body. A failed send takes the
// placeholder back out.
func (c *Coordinator) SendChat(ctx context.Context, body string, file *rest.Upload) error {
	c.mu.Lock()
	id := c.selected
	c.mu.Unlock()
	if id == 0 {
		return fmt.Errorf("no task selected")
	}

	temp := task.ChatMessage{
		ID:        task.NewTempMessageID(),
		TaskID:    id,
		Body:      body,
		Sender:    c.cfg.Session.Role(),
		CreatedAt: time.Now(),
	}
	if file != nil {
		temp.FileName = file.Filename
	}
	c.cfg.Store.AppendMessage(id, temp)
	c.typing.Flush()

	if err := c.cfg.API.SendChat(ctx, id, body, file); err != nil {
		c.cfg.Store.DropMessage(id, temp.ID)
		c.cfg.OnNotice(Notice{Level: NoticeError, Text: "Message failed to send"})
		return fmt.Errorf("send chat: %w", err)
	}
	return nil
}

// Typing records one local keystroke; bursts collapse into a single start
// frame and one stop frame after the idle window.
func (c *Coordinator) Typing() {
	c.typing.Ping()
}

func (c *Coordinator) sendTyping(active bool) {
	c.mu.Lock()
	sock := c.taskSock
	c.mu.Unlock()
	if sock == nil {
		return
	}
	sock.Send(context.Background(), wsclient.TypingSend{Type: "typing", IsTyping: active})
}

// UploadSolution uploads the admin's solution file. The resulting status
// change arrives through the mailbox channel, so no optimistic patch is
// applied.
func (c *Coordinator) UploadSolution(ctx context.Context, taskID int64, filename string, r io.Reader) error {
	if err := c.cfg.API.UploadSolution(ctx, taskID, filename, r); err != nil {
		c.cfg.OnNotice(Notice{Level: NoticeError, Text: "Upload failed"})
		return err
	}
	c.cfg.OnNotice(Notice{Level: NoticeInfo, Text: "Solution uploaded"})
	return nil
}

// handleInbound merges one server-pushed event into the store. Server
// payloads are authoritative and always overwrite local optimistic state.
func (c *Coordinator) handleInbound(ev wsclient.Event) {
	if c.cfg.Metrics != nil {
		c.cfg.Metrics.EventsReceived.Add(context.Background(), 1)
	}

	switch ev.Type {
	case wsclient.EventTaskCreated:
		if ev.Task == nil {
			return
		}
		// The creator already holds the task from its REST response.
		if c.cfg.Store.Has(ev.Task.ID) {
			return
		}
		c.cfg.Store.UpsertTask(*ev.Task)
		c.cfg.OnNotice(Notice{Level: NoticeInfo, Text: fmt.Sprintf("New task: %s", ev.Task.Title)})

	case wsclient.EventTaskUpdated:
		if ev.Task == nil {
			return
		}
		c.cfg.Store.UpsertTask(*ev.Task)
		c.cfg.OnNotice(Notice{Level: NoticeInfo, Text: updateNotice(ev.Task)})

	case wsclient.EventChatMessage:
		if ev.Message == nil {
			return
		}
		msg := *ev.Message
		c.mu.Lock()
		selected := c.selected
		c.mu.Unlock()
		id := msg.TaskID
		if id == 0 {
			id = selected
		}
		if id == 0 {
			return
		}
		c.cfg.Store.AppendMessage(id, msg)
		if id != selected && msg.Sender != c.cfg.Session.Role() {
			if snap, ok := c.cfg.Store.Snapshot(id); ok {
				n := snap.UnreadCount + 1
				c.cfg.Store.PatchTask(id, store.Patch{UnreadCount: &n})
			}
		}

	case wsclient.EventUserTyping:
		c.remoteTyping(ev)

	default:
		c.log.Debug("ignoring event", "type", ev.Type)
	}
}

// updateNotice picks the toast text for a pushed task update. Only the new
// status and negotiation values matter; prior local state never changes the
// wording.
func updateNotice(t *task.Task) string {
	switch t.Status {
	case task.StatusBudgetNegotiation:
		switch t.NegotiationStatus {
		case task.NegotiationPendingStudentResponse:
			return fmt.Sprintf("Budget proposed for %q: $%.2f", t.Title, t.ProposedBudget)
		case task.NegotiationPendingAdminResponse:
			return fmt.Sprintf("Counter offer on %q: $%.2f", t.Title, t.ProposedBudget)
		case task.NegotiationRejected:
			return fmt.Sprintf("Budget rejected on %q", t.Title)
		}
		return fmt.Sprintf("Budget negotiation updated on %q", t.Title)
	case task.StatusInProgress:
		return fmt.Sprintf("Work started on %q", t.Title)
	case task.StatusAwaitingReview:
		return fmt.Sprintf("%q is ready for review", t.Title)
	case task.StatusRevisionRequested:
		return fmt.Sprintf("Revision requested on %q", t.Title)
	case task.StatusCompleted:
		return fmt.Sprintf("%q completed", t.Title)
	case task.StatusWithdrawn:
		return fmt.Sprintf("%q was withdrawn", t.Title)
	case task.StatusRejected:
		return fmt.Sprintf("%q was rejected", t.Title)
	case task.StatusCancelled:
		return fmt.Sprintf("%q was cancelled", t.Title)
	}
	return fmt.Sprintf("Task %q updated", t.Title)
}

// remoteTyping surfaces a peer's typing indicator and expires it after a
// second of silence, matching the cadence of the start/stop frames.
func (c *Coordinator) remoteTyping(ev wsclient.Event) {
	c.mu.Lock()
	id := c.selected
	if id == 0 || c.closed {
		c.mu.Unlock()
		return
	}
	if t, ok := c.remote[id]; ok {
		t.Stop()
		delete(c.remote, id)
	}
	if ev.IsTyping {
		c.remote[id] = time.AfterFunc(time.Second, func() {
			c.mu.Lock()
			delete(c.remote, id)
			c.mu.Unlock()
			if c.cfg.OnTyping != nil {
				c.cfg.OnTyping(id, ev.Username, false)
			}
		})
	}
	c.mu.Unlock()

	if c.cfg.OnTyping != nil {
		c.cfg.OnTyping(id, ev.Username, ev.IsTyping)
	}
}

// Close tears down both channels and stops the typing notifier. Safe to
// call more than once.
func (c *Coordinator) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	mailbox, taskSock := c.mailbox, c.taskSock
	c.mailbox, c.taskSock = nil, nil
	for id, t := range c.remote {
		t.Stop()
		delete(c.remote, id)
	}
	c.mu.Unlock()

	c.typing.Close()
	if taskSock != nil {
		taskSock.Close()
	}
	if mailbox != nil {
		mailbox.Close()
	}
}

// ResolveWSBase derives the socket origin from the configured bases.
func ResolveWSBase(ws config.WS, api config.API) string {
	return wsclient.ResolveBase(ws.BaseURL, api.BaseURL)
}
