package task

import "github.com/scholarline/taskdesk/internal/domain/user"

// Action names a user intent the backend exposes as an endpoint.
type Action string

// Client-side actions.
const (
	ActionAcceptBudget    Action = "acceptBudget"
	ActionCounterBudget   Action = "counterBudget"
	ActionRejectBudget    Action = "rejectBudget"
	ActionWithdraw        Action = "withdraw"
	ActionApprove         Action = "approve"
	ActionRequestRevision Action = "requestRevision"
)

// Admin-side actions.
const (
	ActionAccept         Action = "accept"
	ActionReject         Action = "reject"
	ActionProposeBudget  Action = "proposeBudget"
	ActionUpdateProgress Action = "updateProgress"
	ActionSubmitReview   Action = "submitReview"
	ActionMarkComplete   Action = "markComplete"
	ActionUploadSolution Action = "uploadSolution"
)

// AvailableActions is the single decision table mapping the rendered
// (status, negotiation) pair to the actions a role may take. The server stays
// the sole authority on legality; this only drives which actions to offer.
func AvailableActions(s Status, n NegotiationStatus, role user.Role) []Action {
	if s.Terminal() {
		return nil
	}
	if role == user.RoleAdmin {
		return adminActions(s, n)
	}
	return clientActions(s, n)
}

func clientActions(s Status, n NegotiationStatus) []Action {
	switch s {
	case StatusSubmitted, StatusBudgetNegotiation:
		if n == NegotiationPendingStudentResponse {
			return []Action{ActionAcceptBudget, ActionCounterBudget, ActionRejectBudget, ActionWithdraw}
		}
		return []Action{ActionWithdraw}
	case StatusInProgress:
		return []Action{ActionWithdraw}
	case StatusAwaitingReview:
		return []Action{ActionApprove, ActionRequestRevision}
	default:
		// revision_requested: the admin is working, the client waits.
		return nil
	}
}

func adminActions(s Status, n NegotiationStatus) []Action {
	switch s {
	case StatusSubmitted:
		if n == NegotiationPendingAdminResponse {
			return []Action{ActionAcceptBudget, ActionProposeBudget, ActionReject}
		}
		return []Action{ActionAccept, ActionProposeBudget, ActionReject}
	case StatusBudgetNegotiation:
		if n == NegotiationPendingAdminResponse {
			return []Action{ActionAcceptBudget, ActionProposeBudget, ActionReject}
		}
		// Counter-offer is out; waiting on the student.
		return nil
	case StatusInProgress:
		return []Action{ActionUpdateProgress, ActionSubmitReview, ActionUploadSolution}
	case StatusRevisionRequested:
		return []Action{ActionUpdateProgress, ActionUploadSolution}
	case StatusAwaitingReview:
		return []Action{ActionMarkComplete}
	default:
		return nil
	}
}
