package ledger

import "github.com/pmehta/loanbook/pkg/models"

// action identifies an admin-driven state machine transition.
type action string

const (
	actionApprove  action = "approve"
	actionDisburse action = "disburse"
	actionReject   action = "reject"
)

// transitionRule fixes, for one action, the required source status, the
// target status, and which current statuses count as "already
// transitioned" rather than plainly invalid.
type transitionRule struct {
	from models.LoanStatus
	to   models.LoanStatus
	// alreadyIn maps current statuses to the AlreadyInStatus rejection;
	// any other mismatch is InvalidOperation.
	alreadyIn map[models.LoanStatus]bool
}

// transitions is the complete state machine for admin actions. CLOSED
// is deliberately absent as a target: a loan closes only through Repay.
var transitions = map[action]transitionRule{
	actionApprove: {
		from: models.StatusApplied,
		to:   models.StatusApproved,
		alreadyIn: map[models.LoanStatus]bool{
			models.StatusApproved:  true,
			models.StatusDisbursed: true,
			models.StatusRejected:  true,
		},
	},
	actionDisburse: {
		from: models.StatusApproved,
		to:   models.StatusDisbursed,
		alreadyIn: map[models.LoanStatus]bool{
			models.StatusDisbursed: true,
			models.StatusRejected:  true,
		},
	},
	actionReject: {
		from: models.StatusApplied,
		to:   models.StatusRejected,
		alreadyIn: map[models.LoanStatus]bool{
			models.StatusApproved:  true,
			models.StatusDisbursed: true,
			models.StatusRejected:  true,
		},
	},
}
