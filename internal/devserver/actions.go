package devserver

import (
	"errors"
	"fmt"
	"time"

	"github.com/scholarline/taskdesk/internal/domain/task"
	"github.com/scholarline/taskdesk/internal/domain/user"
)

// The transition rules below mirror the production workflow: the budget
// negotiation ping-pongs between the two roles until one side accepts or
// rejects, then the task moves through delivery and review.

// AcceptBudget locks in whatever amount is currently proposed and starts
// the work. Either side may be the accepting party, whoever the ball was
// with.
func (s *State) AcceptBudget(id int64, actor *user.User) (task.Task, error) {
	return s.mutateTask(id, func(t *task.Task) error {
		if t.Status != task.StatusSubmitted && t.Status != task.StatusBudgetNegotiation {
			return fmt.Errorf("cannot accept budget in status %s", t.Status)
		}
		amount := t.ProposedBudget
		t.Budget = &amount
		t.NegotiationStatus = task.NegotiationAccepted
		t.Status = task.StatusInProgress
		if actor.Role == user.RoleAdmin {
			t.AdminID = actor.ID
		}
		return nil
	})
}

// CounterBudget records the client's counter-offer and hands the ball back
// to the admin.
func (s *State) CounterBudget(id int64, amount float64, reason string) (task.Task, error) {
	if amount <= 0 {
		return task.Task{}, errors.New("amount must be positive")
	}
	return s.mutateTask(id, func(t *task.Task) error {
		if t.NegotiationStatus != task.NegotiationPendingStudentResponse {
			return errors.New("no proposal awaiting your response")
		}
		t.ProposedBudget = amount
		t.CounterBudget = &amount
		t.NegotiationReason = reason
		t.NegotiationStatus = task.NegotiationPendingAdminResponse
		t.Status = task.StatusBudgetNegotiation
		return nil
	})
}

// RejectBudget ends the negotiation without agreement.
func (s *State) RejectBudget(id int64) (task.Task, error) {
	return s.mutateTask(id, func(t *task.Task) error {
		t.NegotiationStatus = task.NegotiationRejected
		t.Status = task.StatusRejected
		return nil
	})
}

// Withdraw retracts the task at the client's request.
func (s *State) Withdraw(id int64, reason string) (task.Task, error) {
	return s.mutateTask(id, func(t *task.Task) error {
		if t.Status.Terminal() {
			return fmt.Errorf("cannot withdraw a %s task", t.Status)
		}
		t.Status = task.StatusWithdrawn
		t.WithdrawalReason = reason
		return nil
	})
}

// Approve is the client signing off on delivered work.
func (s *State) Approve(id int64) (task.Task, error) {
	return s.mutateTask(id, func(t *task.Task) error {
		if t.Status != task.StatusAwaitingReview {
			return errors.New("nothing awaiting review")
		}
		now := time.Now()
		t.Status = task.StatusCompleted
		t.Progress = 100
		t.CompletedAt = &now
		return nil
	})
}

// RequestRevision sends delivered work back with feedback.
func (s *State) RequestRevision(id int64, feedback string) (task.Task, error) {
	if feedback == "" {
		return task.Task{}, errors.New("feedback is required")
	}
	return s.mutateTask(id, func(t *task.Task) error {
		if t.Status != task.StatusAwaitingReview {
			return errors.New("nothing awaiting review")
		}
		t.Status = task.StatusRevisionRequested
		t.Revisions = append(t.Revisions, task.Revision{
			ID:          int64(len(t.Revisions) + 1),
			Feedback:    feedback,
			RequestedBy: user.RoleClient,
			Status:      "requested",
			CreatedAt:   time.Now(),
		})
		return nil
	})
}

// Accept is the admin taking the task at the proposed budget.
func (s *State) Accept(id int64, admin *user.User) (task.Task, error) {
	return s.mutateTask(id, func(t *task.Task) error {
		if t.Status != task.StatusSubmitted {
			return fmt.Errorf("cannot accept a %s task", t.Status)
		}
		amount := t.ProposedBudget
		t.Budget = &amount
		t.AdminID = admin.ID
		t.NegotiationStatus = task.NegotiationAccepted
		t.Status = task.StatusInProgress
		return nil
	})
}

// RejectTask declines the task outright.
func (s *State) RejectTask(id int64, reason string) (task.Task, error) {
	return s.mutateTask(id, func(t *task.Task) error {
		if t.Status.Terminal() {
			return fmt.Errorf("cannot reject a %s task", t.Status)
		}
		t.Status = task.StatusRejected
		t.RejectReason = reason
		return nil
	})
}

// ProposeBudget sends the admin's counter-proposal to the client.
func (s *State) ProposeBudget(id int64, admin *user.User, amount float64, reason string) (task.Task, error) {
	if amount <= 0 {
		return task.Task{}, errors.New("amount must be positive")
	}
	return s.mutateTask(id, func(t *task.Task) error {
		if t.Status != task.StatusSubmitted && t.Status != task.StatusBudgetNegotiation {
			return fmt.Errorf("cannot negotiate a %s task", t.Status)
		}
		t.ProposedBudget = amount
		t.NegotiationReason = reason
		t.NegotiationStatus = task.NegotiationPendingStudentResponse
		t.Status = task.StatusBudgetNegotiation
		t.AdminID = admin.ID
		return nil
	})
}

// UpdateProgress moves the in-progress percentage.
func (s *State) UpdateProgress(id int64, progress int) (task.Task, error) {
	if progress < 0 || progress > 100 {
		return task.Task{}, errors.New("progress must be between 0 and 100")
	}
	return s.mutateTask(id, func(t *task.Task) error {
		if t.Status != task.StatusInProgress && t.Status != task.StatusRevisionRequested {
			return errors.New("task is not being worked on")
		}
		t.Progress = progress
		return nil
	})
}

// SubmitReview hands finished work to the client.
func (s *State) SubmitReview(id int64) (task.Task, error) {
	return s.mutateTask(id, func(t *task.Task) error {
		if t.Status != task.StatusInProgress && t.Status != task.StatusRevisionRequested {
			return errors.New("task is not being worked on")
		}
		t.Status = task.StatusAwaitingReview
		t.Progress = 100
		return nil
	})
}

// MarkComplete closes the task from the admin side after client approval.
func (s *State) MarkComplete(id int64) (task.Task, error) {
	return s.mutateTask(id, func(t *task.Task) error {
		if t.Status != task.StatusAwaitingReview {
			return errors.New("nothing awaiting completion")
		}
		now := time.Now()
		t.Status = task.StatusCompleted
		t.Progress = 100
		t.CompletedAt = &now
		return nil
	})
}

// AttachSolution records an uploaded solution file and moves the task to
// review when it was in progress.
func (s *State) AttachSolution(id int64, filename string, size int64) (task.Task, error) {
	return s.mutateTask(id, func(t *task.Task) error {
		t.Files = append(t.Files, task.File{
			ID:         int64(len(t.Files) + 1),
			Name:       filename,
			URL:        fmt.Sprintf("/files/%d/%s", id, filename),
			Size:       size,
			UploadedBy: user.RoleAdmin,
			CreatedAt:  time.Now(),
		})
		if t.Status == task.StatusInProgress || t.Status == task.StatusRevisionRequested {
			t.Status = task.StatusAwaitingReview
			t.Progress = 100
		}
		return nil
	})
}
