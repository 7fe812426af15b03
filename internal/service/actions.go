package service

import (
	"context"
	"fmt"
	"time"

	"github.com/scholarline/taskdesk/internal/domain/task"
	"github.com/scholarline/taskdesk/internal/domain/user"
	"github.com/scholarline/taskdesk/internal/store"
)

// ActionParams carries the optional inputs an action may need. Unused
// fields are ignored by the action's payload builder.
type ActionParams struct {
	Amount   float64 // counterBudget, proposeBudget
	Reason   string  // withdraw, reject
	Feedback string  // requestRevision
	Progress int     // updateProgress
}

// actionSpec binds one user intent to its endpoint, request payload and
// optimistic patch. The patch is what the backend will do on success; the
// server's echo overwrites it either way.
type actionSpec struct {
	path    func(id int64, role user.Role) string
	payload func(p ActionParams) any
	patch   func(p ActionParams) store.Patch
}

func clientPath(suffix string) func(int64, user.Role) string {
	return func(id int64, _ user.Role) string {
		return fmt.Sprintf("/api/tasks/%d/%s/", id, suffix)
	}
}

func adminPath(suffix string) func(int64, user.Role) string {
	return func(id int64, _ user.Role) string {
		return fmt.Sprintf("/api/admin/tasks/%d/%s/", id, suffix)
	}
}

// roledPath picks the endpoint family by who is acting; accept-budget
// exists on both sides of the negotiation.
func roledPath(suffix string) func(int64, user.Role) string {
	return func(id int64, role user.Role) string {
		if role == user.RoleAdmin {
			return fmt.Sprintf("/api/admin/tasks/%d/%s/", id, suffix)
		}
		return fmt.Sprintf("/api/tasks/%d/%s/", id, suffix)
	}
}

func statusPatch(s task.Status) func(ActionParams) store.Patch {
	return func(ActionParams) store.Patch {
		return store.Patch{Status: &s}
	}
}

func noPayload(ActionParams) any { return nil }

var actionTable = map[task.Action]actionSpec{
	task.ActionAcceptBudget: {
		path:    roledPath("accept-budget"),
		payload: noPayload,
		patch: func(ActionParams) store.Patch {
			s, n := task.StatusInProgress, task.NegotiationAccepted
			return store.Patch{Status: &s, NegotiationStatus: &n}
		},
	},
	task.ActionCounterBudget: {
		path:    clientPath("counter-budget"),
		payload: func(p ActionParams) any { return map[string]any{"amount": p.Amount} },
		patch: func(p ActionParams) store.Patch {
			s, n := task.StatusBudgetNegotiation, task.NegotiationPendingAdminResponse
			return store.Patch{Status: &s, NegotiationStatus: &n, ProposedBudget: &p.Amount, CounterBudget: &p.Amount}
		},
	},
	task.ActionRejectBudget: {
		path:    clientPath("reject-budget"),
		payload: noPayload,
		patch: func(ActionParams) store.Patch {
			s, n := task.StatusRejected, task.NegotiationRejected
			return store.Patch{Status: &s, NegotiationStatus: &n}
		},
	},
	task.ActionWithdraw: {
		path:    clientPath("withdraw"),
		payload: func(p ActionParams) any { return map[string]any{"reason": p.Reason} },
		patch: func(p ActionParams) store.Patch {
			s := task.StatusWithdrawn
			return store.Patch{Status: &s, WithdrawalReason: &p.Reason}
		},
	},
	task.ActionApprove: {
		path:    clientPath("approve"),
		payload: noPayload,
		patch:   statusPatch(task.StatusCompleted),
	},
	task.ActionRequestRevision: {
		path:    clientPath("request-revision"),
		payload: func(p ActionParams) any { return map[string]any{"feedback": p.Feedback} },
		patch:   statusPatch(task.StatusRevisionRequested),
	},
	task.ActionAccept: {
		path:    adminPath("accept"),
		payload: noPayload,
		patch:   statusPatch(task.StatusInProgress),
	},
	task.ActionReject: {
		path:    adminPath("reject"),
		payload: func(p ActionParams) any { return map[string]any{"reason": p.Reason} },
		patch:   statusPatch(task.StatusRejected),
	},
	task.ActionProposeBudget: {
		path:    adminPath("propose-budget"),
		payload: func(p ActionParams) any { return map[string]any{"amount": p.Amount} },
		patch: func(p ActionParams) store.Patch {
			s, n := task.StatusBudgetNegotiation, task.NegotiationPendingStudentResponse
			return store.Patch{Status: &s, NegotiationStatus: &n, ProposedBudget: &p.Amount}
		},
	},
	task.ActionUpdateProgress: {
		path:    adminPath("update-progress"),
		payload: func(p ActionParams) any { return map[string]any{"progress": p.Progress} },
		patch: func(p ActionParams) store.Patch {
			return store.Patch{Progress: &p.Progress}
		},
	},
	task.ActionSubmitReview: {
		path:    adminPath("submit-review"),
		payload: noPayload,
		patch: func(ActionParams) store.Patch {
			s, full := task.StatusAwaitingReview, 100
			return store.Patch{Status: &s, Progress: &full}
		},
	},
	task.ActionMarkComplete: {
		path:    adminPath("mark-complete"),
		payload: noPayload,
		patch: func(ActionParams) store.Patch {
			s, full := task.StatusCompleted, 100
			return store.Patch{Status: &s, Progress: &full}
		},
	},
}

// PerformAction applies the action's optimistic patch, issues the REST call
// and reconciles. On failure the pre-action snapshot is restored and a
// Notice surfaces; the action is not retried. On success any task payload
// in the response is upserted, since the server may have moved further than
// the optimistic guess.
func (c *Coordinator) PerformAction(ctx context.Context, taskID int64, action task.Action, params ActionParams) error {
	spec, ok := actionTable[action]
	if !ok {
		return fmt.Errorf("unknown action %q", action)
	}

	snapshot, ok := c.cfg.Store.Snapshot(taskID)
	if !ok {
		return fmt.Errorf("unknown task %d", taskID)
	}

	c.cfg.Store.PatchTask(taskID, spec.patch(params))

	start := time.Now()
	result, err := c.cfg.API.PostAction(ctx, spec.path(taskID, c.cfg.Session.Role()), spec.payload(params))
	if c.cfg.Metrics != nil {
		c.cfg.Metrics.ActionsPerformed.Add(ctx, 1)
		c.cfg.Metrics.ActionDuration.Record(ctx, time.Since(start).Seconds())
	}
	if err != nil {
		c.cfg.Store.RollbackTask(taskID, snapshot)
		if c.cfg.Metrics != nil {
			c.cfg.Metrics.ActionsRolledBack.Add(ctx, 1)
		}
		// Raw API error text stays in the returned error; the toast is generic.
		c.cfg.OnNotice(Notice{Level: NoticeError, Text: "Action failed, please try again"})
		return fmt.Errorf("action %s: %w", action, err)
	}

	if result.Task != nil {
		c.cfg.Store.UpsertTask(*result.Task)
	}
	if result.Message != "" {
		c.cfg.OnNotice(Notice{Level: NoticeInfo, Text: result.Message})
	}
	return nil
}
