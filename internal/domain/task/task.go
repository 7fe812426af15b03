// Package task defines the Task domain entity and its chat messages.
package task

import (
	"time"

	"github.com/scholarline/taskdesk/internal/domain/user"
)

// Status represents the overall workflow state of a task.
type Status string

const (
	StatusSubmitted         Status = "submitted"
	StatusBudgetNegotiation Status = "budget_negotiation"
	StatusInProgress        Status = "in_progress"
	StatusAwaitingReview    Status = "awaiting_review"
	StatusRevisionRequested Status = "revision_requested"
	StatusCompleted         Status = "completed"
	StatusWithdrawn         Status = "withdrawn"
	StatusRejected          Status = "rejected"
	StatusCancelled         Status = "cancelled"
)

// Inactive reports whether the task has left the workflow without delivery.
// Inactive tasks stay visible but accept no further actions.
func (s Status) Inactive() bool {
	return s == StatusWithdrawn || s == StatusRejected || s == StatusCancelled
}

// Terminal reports whether the task will never change again.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s.Inactive()
}

// NegotiationStatus is the budget back-and-forth sub-state, orthogonal to Status.
type NegotiationStatus string

const (
	NegotiationPendingAdminReview     NegotiationStatus = "pending_admin_review"
	NegotiationPendingStudentResponse NegotiationStatus = "pending_student_response"
	NegotiationPendingAdminResponse   NegotiationStatus = "pending_admin_response"
	NegotiationAccepted               NegotiationStatus = "accepted"
	NegotiationRejected               NegotiationStatus = "rejected"
)

// Task represents one submitted assignment routed through an admin for
// negotiation and delivery.
type Task struct {
	ID             int64     `json:"id"`
	ClientID       int64     `json:"client_id,omitempty"`
	AdminID        int64     `json:"assigned_admin_id,omitempty"`
	Title          string    `json:"title"`
	Description    string    `json:"description,omitempty"`
	Subject        string    `json:"subject,omitempty"`
	EducationLevel string    `json:"education_level,omitempty"`
	Status         Status    `json:"status"`

	NegotiationStatus NegotiationStatus `json:"negotiation_status,omitempty"`
	NegotiationReason string            `json:"negotiation_reason,omitempty"`
	Budget            *float64          `json:"budget,omitempty"`
	ProposedBudget    float64           `json:"proposed_budget,omitempty"`
	CounterBudget     *float64          `json:"counter_budget,omitempty"`

	// Progress is meaningful only while the task is in progress.
	Progress int `json:"progress"`

	Revisions   []Revision `json:"revisions,omitempty"`
	Files       []File     `json:"files,omitempty"`
	UnreadCount int        `json:"unread_count"`

	WithdrawalReason   string     `json:"withdrawal_reason,omitempty"`
	RejectReason       string     `json:"reject_reason,omitempty"`
	Deadline           *time.Time `json:"deadline,omitempty"`
	WithdrawalDeadline *time.Time `json:"withdrawal_deadline,omitempty"`
	CompletedAt        *time.Time `json:"completed_at,omitempty"`
	CreatedAt          time.Time  `json:"created_at"`
	UpdatedAt          time.Time  `json:"updated_at"`
}

// Clone returns a deep copy of t, safe to keep as a rollback snapshot.
func (t Task) Clone() Task {
	c := t
	if t.Budget != nil {
		v := *t.Budget
		c.Budget = &v
	}
	if t.CounterBudget != nil {
		v := *t.CounterBudget
		c.CounterBudget = &v
	}
	c.Revisions = append([]Revision(nil), t.Revisions...)
	c.Files = append([]File(nil), t.Files...)
	return c
}

// Revision is one revision request raised by the client against delivered work.
type Revision struct {
	ID          int64      `json:"id"`
	Feedback    string     `json:"feedback"`
	RequestedBy user.Role  `json:"requested_by"`
	Status      string     `json:"status"` // requested | in_progress | completed
	CreatedAt   time.Time  `json:"created_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// File describes an uploaded attachment. The file set is append-only from the
// client's point of view.
type File struct {
	ID         int64     `json:"id"`
	Name       string    `json:"name"`
	URL        string    `json:"url"`
	Size       int64     `json:"size"`
	UploadedBy user.Role `json:"uploaded_by"`
	CreatedAt  time.Time `json:"created_at"`
}

// tempIDFloor separates client-generated message IDs from server-assigned
// ones. Temp IDs are unix milliseconds, which sit far above any plausible
// sequence the server hands out.
const tempIDFloor = 1_000_000_000_000

// ChatMessage belongs to exactly one task.
type ChatMessage struct {
	ID         int64     `json:"id"`
	TaskID     int64     `json:"task_id"`
	Body       string    `json:"message"`
	Sender     user.Role `json:"sender_role"`
	SenderName string    `json:"sender_name,omitempty"`
	FileName   string    `json:"file_name,omitempty"`
	FileURL    string    `json:"file_url,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

// Temp reports whether the message carries a client-generated placeholder ID
// that a later server echo is expected to replace.
func (m ChatMessage) Temp() bool {
	return m.ID >= tempIDFloor
}

// NewTempMessageID returns a placeholder ID for an optimistic chat message.
func NewTempMessageID() int64 {
	return time.Now().UnixMilli()
}
