package rest

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/scholarline/taskdesk/internal/domain/task"
	"github.com/scholarline/taskdesk/internal/domain/user"
)

// ActionResult is the common response shape for task action endpoints:
// the updated task plus a human-readable confirmation.
type ActionResult struct {
	Task    *task.Task `json:"task,omitempty"`
	Message string     `json:"message,omitempty"`
}

// Stats holds the admin dashboard aggregate counters.
type Stats struct {
	TotalTasks        int     `json:"total_tasks"`
	Submitted         int     `json:"submitted"`
	BudgetNegotiation int     `json:"budget_negotiation"`
	InProgress        int     `json:"in_progress"`
	AwaitingReview    int     `json:"awaiting_review"`
	Completed         int     `json:"completed"`
	TotalEarnings     float64 `json:"total_earnings"`
}

// User fetches the current authenticated profile.
func (c *Client) User(ctx context.Context) (user.User, error) {
	data, err := c.doJSON(ctx, http.MethodGet, "/api/auth/user/", nil)
	if err != nil {
		return user.User{}, fmt.Errorf("fetch user: %w", err)
	}
	var u user.User
	if err := json.Unmarshal(data, &u); err != nil {
		return user.User{}, fmt.Errorf("unmarshal user: %w", err)
	}
	return u, nil
}

// Tasks lists all tasks visible to the authenticated role.
func (c *Client) Tasks(ctx context.Context) ([]task.Task, error) {
	data, err := c.doJSON(ctx, http.MethodGet, "/api/tasks/", nil)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	var tasks []task.Task
	if err := json.Unmarshal(data, &tasks); err != nil {
		return nil, fmt.Errorf("unmarshal tasks: %w", err)
	}
	return tasks, nil
}

// PostAction issues a task action POST and decodes the standard result.
// path is the full endpoint path, e.g. "/api/tasks/7/approve/".
func (c *Client) PostAction(ctx context.Context, path string, payload any) (*ActionResult, error) {
	var body []byte
	if payload != nil {
		var err error
		body, err = json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("marshal payload: %w", err)
		}
	}

	data, err := c.doJSON(ctx, http.MethodPost, path, body)
	if err != nil {
		return nil, err
	}

	var res ActionResult
	if len(data) > 0 {
		if err := json.Unmarshal(data, &res); err != nil {
			// Some endpoints answer with a bare confirmation; a body that
			// does not decode is not a failure.
			c.log.Debug("non-standard action response", "path", path)
		}
	}
	return &res, nil
}

// ChatHistory fetches a task's chat messages, served from the response cache
// when warm.
func (c *Client) ChatHistory(ctx context.Context, taskID int64) ([]task.ChatMessage, error) {
	path := fmt.Sprintf("/api/tasks/%d/chat/", taskID)
	data, err := c.cachedGet(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("chat history: %w", err)
	}
	var msgs []task.ChatMessage
	if err := json.Unmarshal(data, &msgs); err != nil {
		return nil, fmt.Errorf("unmarshal chat history: %w", err)
	}
	return msgs, nil
}

// SendChat posts a chat message, with an optional file attachment (multipart
// when a file rides along). The server echo arrives over the task socket, so
// the response body is not folded back into state here.
func (c *Client) SendChat(ctx context.Context, taskID int64, body string, file *Upload) error {
	path := fmt.Sprintf("/api/tasks/%d/chat/", taskID)
	defer c.invalidate(ctx, path)

	if file != nil {
		fields := map[string]string{}
		if body != "" {
			fields["message"] = body
		}
		_, err := c.doMultipart(ctx, path, fields, []Upload{*file})
		if err != nil {
			return fmt.Errorf("send chat with file: %w", err)
		}
		return nil
	}

	payload, err := json.Marshal(map[string]string{"message": body})
	if err != nil {
		return fmt.Errorf("marshal chat: %w", err)
	}
	if _, err := c.doJSON(ctx, http.MethodPost, path, payload); err != nil {
		return fmt.Errorf("send chat: %w", err)
	}
	return nil
}

// MarkRead resets the unread counter for a task's chat.
func (c *Client) MarkRead(ctx context.Context, taskID int64) error {
	path := fmt.Sprintf("/api/tasks/%d/mark-read/", taskID)
	if _, err := c.doJSON(ctx, http.MethodPost, path, nil); err != nil {
		return fmt.Errorf("mark read: %w", err)
	}
	return nil
}

// Stats fetches the admin aggregate counters, cached briefly.
func (c *Client) Stats(ctx context.Context) (Stats, error) {
	data, err := c.cachedGet(ctx, "/api/admin/stats/")
	if err != nil {
		return Stats{}, fmt.Errorf("stats: %w", err)
	}
	var s Stats
	if err := json.Unmarshal(data, &s); err != nil {
		return Stats{}, fmt.Errorf("unmarshal stats: %w", err)
	}
	return s, nil
}
