package wsclient

import "github.com/scholarline/taskdesk/internal/domain/task"

// Event type constants for inbound WebSocket frames.
const (
	EventTaskCreated = "task_created"
	EventTaskUpdated = "task_updated"
	EventChatMessage = "chat_message"
	EventUserTyping  = "user_typing"
)

// Event is the envelope for all frames on the wire. Every frame carries a
// type; the optional fields depend on it.
type Event struct {
	Type     string            `json:"type"`
	Task     *task.Task        `json:"task,omitempty"`
	Message  *task.ChatMessage `json:"message,omitempty"`
	UserID   int64             `json:"user_id,omitempty"`
	Username string            `json:"username,omitempty"`
	IsTyping bool              `json:"is_typing,omitempty"`
}

// TypingSend is the outbound frame for a typing indicator.
type TypingSend struct {
	Type     string `json:"type"`
	IsTyping bool   `json:"is_typing"`
}
