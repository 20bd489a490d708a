package store

import (
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/pmehta/loanbook/pkg/models"
)

// Infrastructure sentinels. Stores return these (optionally wrapped) and
// the ledger translates them into domain errors.
var (
	ErrNotFound      = errors.New("not found")
	ErrConflict      = errors.New("conflict")
	ErrAdminNotFound = errors.New("admin not found")
)

// StatusConflictError reports a guarded transition that found the loan in
// a different status than the transition requires. Nothing was written.
type StatusConflictError struct {
	Current models.LoanStatus
}

func (e *StatusConflictError) Error() string {
	return "loan status is " + string(e.Current)
}

// StatusChange is the audit stamp written alongside a status transition.
type StatusChange struct {
	Actor  string
	At     time.Time
	Reason string
}

// Storage defines the persistence operations for loans, repayments and
// admins. Implementations must make CreateLoan's guard-then-insert a
// single per-borrower critical section, and Transition/SettleRepayment
// conditional writes that either fully apply or leave no trace.
type Storage interface {
	// CreateLoan inserts the loan after guard accepts the borrower's
	// current active (APPLIED/APPROVED/DISBURSED) loans. A nil guard
	// inserts unconditionally.
	CreateLoan(loan *models.Loan, guard func(active []*models.Loan) error) error

	GetLoan(id uuid.UUID) (*models.Loan, error)
	// GetLoanForCustomer returns ErrNotFound when either the id or the
	// owning customer does not match, so ownership failures are
	// indistinguishable from missing loans.
	GetLoanForCustomer(id uuid.UUID, customerID string) (*models.Loan, error)
	ListLoansByStatus(status models.LoanStatus) ([]*models.Loan, error)
	ListLoansForCustomer(customerID string) ([]*models.Loan, error)

	// Transition moves the loan from -> to only if its current status is
	// exactly from, stamping change for the target status. Returns the
	// updated loan, ErrNotFound, or *StatusConflictError.
	Transition(id uuid.UUID, from, to models.LoanStatus, change StatusChange) (*models.Loan, error)

	// SettleRepayment compares the loan's stored balance against
	// oldBalance and, in one transaction, writes newBalance (moving the
	// loan to CLOSED at closedAt when closeLoan is set) and appends rec.
	// Returns ErrConflict when the balance or status moved underneath
	// the caller, with nothing written.
	SettleRepayment(id uuid.UUID, oldBalance, newBalance decimal.Decimal, closeLoan bool, closedAt time.Time, rec *models.RepaymentRecord) error

	RepaymentsForLoan(loanID uuid.UUID) ([]*models.RepaymentRecord, error)

	CreateAdmin(admin *models.Admin) error
	GetAdmin(id uuid.UUID) (*models.Admin, error)

	Close() error
}
