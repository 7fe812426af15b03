package devserver

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"

	"github.com/coder/websocket"

	"github.com/scholarline/taskdesk/internal/domain/task"
	"github.com/scholarline/taskdesk/internal/domain/user"
)

// frame is the envelope for every outbound WebSocket message, matching what
// the sync client expects on the wire.
type frame struct {
	Type     string            `json:"type"`
	Task     *task.Task        `json:"task,omitempty"`
	Message  *task.ChatMessage `json:"message,omitempty"`
	UserID   int64             `json:"user_id,omitempty"`
	Username string            `json:"username,omitempty"`
	IsTyping bool              `json:"is_typing,omitempty"`
}

// inboundFrame is what task sockets may send upstream.
type inboundFrame struct {
	Type     string `json:"type"`
	Message  string `json:"message"`
	IsTyping bool   `json:"is_typing"`
}

// conn wraps a single WebSocket connection with its room and identity.
type conn struct {
	ws     *websocket.Conn
	room   string
	user   user.User
	cancel context.CancelFunc
}

// Hub manages all active WebSocket connections grouped into rooms: "admin"
// for every admin mailbox, "client:{id}" per client mailbox and "task:{id}"
// per focused task.
type Hub struct {
	state *State
	log   *slog.Logger

	mu    sync.RWMutex
	conns map[*conn]struct{}
}

// NewHub creates a hub bound to the server state.
func NewHub(state *State, log *slog.Logger) *Hub {
	if log == nil {
		log = slog.Default()
	}
	return &Hub{state: state, log: log, conns: make(map[*conn]struct{})}
}

func mailboxRoom(u *user.User) string {
	if u.Role == user.RoleAdmin {
		return "admin"
	}
	return fmt.Sprintf("client:%d", u.ID)
}

func taskRoom(id int64) string { return fmt.Sprintf("task:%d", id) }

// HandleMailbox upgrades /ws/admin/ and /ws/client/ connections.
func (h *Hub) HandleMailbox(w http.ResponseWriter, r *http.Request) {
	u := userFrom(r)
	if u == nil {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	h.accept(w, r, mailboxRoom(u), *u, 0)
}

// HandleTask upgrades /ws/task/{id}/ connections.
func (h *Hub) HandleTask(taskID int64) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		u := userFrom(r)
		if u == nil {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		h.accept(w, r, taskRoom(taskID), *u, taskID)
	}
}

func (h *Hub) accept(w http.ResponseWriter, r *http.Request, room string, u user.User, taskID int64) {
	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true, // local development server
	})
	if err != nil {
		h.log.Error("websocket accept failed", "error", err)
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	c := &conn{ws: ws, room: room, user: u, cancel: cancel}

	h.mu.Lock()
	h.conns[c] = struct{}{}
	h.mu.Unlock()

	h.log.Info("websocket connected", "room", room, "user", u.Username)

	go func() {
		defer func() {
			h.remove(c)
			_ = ws.Close(websocket.StatusNormalClosure, "")
		}()
		for {
			_, data, err := ws.Read(ctx)
			if err != nil {
				return
			}
			if taskID != 0 {
				h.handleTaskFrame(ctx, taskID, u, data)
			}
		}
	}()
}

// handleTaskFrame consumes chat and typing frames sent on a task socket.
func (h *Hub) handleTaskFrame(ctx context.Context, taskID int64, u user.User, data []byte) {
	var in inboundFrame
	if err := json.Unmarshal(data, &in); err != nil {
		h.log.Warn("dropping malformed inbound frame", "error", err)
		return
	}

	switch in.Type {
	case "chat_message":
		msg, err := h.state.AppendMessage(taskID, u.ID, u.Role, u.Username, in.Message, "")
		if err != nil {
			h.log.Warn("chat on unknown task", "task_id", taskID)
			return
		}
		h.Broadcast(ctx, taskRoom(taskID), frame{Type: "chat_message", Message: &msg})
	case "typing":
		h.BroadcastExcept(ctx, taskRoom(taskID), u.ID, frame{
			Type: "user_typing", UserID: u.ID, Username: u.Username, IsTyping: in.IsTyping,
		})
	default:
		h.log.Debug("ignoring inbound frame", "type", in.Type)
	}
}

// Broadcast sends a frame to every connection in a room.
func (h *Hub) Broadcast(ctx context.Context, room string, f frame) {
	h.BroadcastExcept(ctx, room, 0, f)
}

// BroadcastExcept sends a frame to a room, skipping one user's connections.
func (h *Hub) BroadcastExcept(ctx context.Context, room string, skipUserID int64, f frame) {
	data, err := json.Marshal(f)
	if err != nil {
		h.log.Error("marshal ws frame", "error", err)
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.conns {
		if c.room != room {
			continue
		}
		if skipUserID != 0 && c.user.ID == skipUserID {
			continue
		}
		if err := c.ws.Write(ctx, websocket.MessageText, data); err != nil {
			h.log.Debug("websocket write failed", "error", err)
			go h.remove(c)
		}
	}
}

// BroadcastTask pushes a task payload to everyone who should see it: all
// admins, the owning client and anyone focused on the task.
func (h *Hub) BroadcastTask(ctx context.Context, eventType string, t task.Task) {
	h.Broadcast(ctx, "admin", frame{Type: eventType, Task: &t})
	h.Broadcast(ctx, fmt.Sprintf("client:%d", t.ClientID), frame{Type: eventType, Task: &t})
	h.Broadcast(ctx, taskRoom(t.ID), frame{Type: eventType, Task: &t})
}

// BroadcastChat pushes a stored chat message to the task room.
func (h *Hub) BroadcastChat(ctx context.Context, msg task.ChatMessage) {
	h.Broadcast(ctx, taskRoom(msg.TaskID), frame{Type: "chat_message", Message: &msg})
}

// ConnectionCount returns the number of active connections.
func (h *Hub) ConnectionCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns)
}

func (h *Hub) remove(c *conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.conns[c]; ok {
		c.cancel()
		delete(h.conns, c)
		h.log.Info("websocket disconnected", "room", c.room)
	}
}
