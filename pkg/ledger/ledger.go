// Package ledger owns the loan lifecycle: eligibility-gated application,
// the guarded state machine for approve/reject/disburse, and the
// repayment ledger that drives a loan to CLOSED.
package ledger

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/pmehta/loanbook/pkg/emi"
	"github.com/pmehta/loanbook/pkg/models"
	"github.com/pmehta/loanbook/pkg/store"
)

const (
	minCreditScore = 650
	maxCreditScore = 900
)

// Ledger handles the business logic for loans and repayments.
type Ledger struct {
	storage store.Storage
	now     func() time.Time
}

// NewLedger creates a new Ledger with a given Storage implementation.
func NewLedger(s store.Storage) *Ledger {
	return &Ledger{storage: s, now: time.Now}
}

// Application carries a loan request from an identified caller. It is
// validated and consumed; only the Loan built from it is persisted.
type Application struct {
	CustomerID   string
	Role         models.Role
	LoanType     models.LoanType
	CreditScore  int
	Principal    decimal.Decimal
	TenureMonths int
	// AnnualRate overrides the product default when set (percent p.a.).
	AnnualRate *float64
	// StartDate anchors the schedule; defaults to the application date.
	StartDate *time.Time
}

// Apply validates the application, checks eligibility and creates the
// loan in APPLIED status with its schedule and totals computed once.
// The remaining balance starts at the total payable.
func (l *Ledger) Apply(app Application) (*models.Loan, error) {
	if app.Role != models.RoleBorrower {
		return nil, ErrForbidden
	}
	if !app.LoanType.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidLoanType, app.LoanType)
	}
	if !app.Principal.IsPositive() {
		return nil, ErrInvalidPrincipal
	}
	if app.TenureMonths <= 0 {
		return nil, emi.ErrInvalidTenure
	}
	if app.CreditScore < minCreditScore || app.CreditScore > maxCreditScore {
		return nil, ErrInvalidCreditScore
	}

	rate := models.DefaultAnnualRates[app.LoanType]
	if app.AnnualRate != nil {
		rate = *app.AnnualRate
	}
	now := l.now()
	start := now
	if app.StartDate != nil {
		start = *app.StartDate
	}

	schedule, err := emi.BuildSchedule(app.Principal, rate, app.TenureMonths, start, emi.Options{})
	if err != nil {
		return nil, err
	}
	totalPayable := schedule.TotalPayable(app.Principal)

	loan := &models.Loan{
		ID:               uuid.New(),
		CustomerID:       app.CustomerID,
		LoanType:         app.LoanType,
		CreditScore:      app.CreditScore,
		Principal:        app.Principal.Round(2),
		AnnualRate:       rate,
		TenureMonths:     app.TenureMonths,
		EMIAmount:        schedule.Installment,
		TotalInterest:    schedule.TotalInterest(),
		TotalPayable:     totalPayable,
		RemainingBalance: totalPayable,
		Schedule:         schedule.Entries,
		Status:           models.StatusApplied,
		AppliedAt:        now,
	}

	if err := l.storage.CreateLoan(loan, checkEligibility(app.LoanType)); err != nil {
		return nil, err
	}
	return loan, nil
}

// Approve moves an APPLIED loan to APPROVED, stamping the acting admin.
func (l *Ledger) Approve(loanID, adminID uuid.UUID) (*models.Loan, error) {
	return l.transition(actionApprove, loanID, adminID, "")
}

// Reject moves an APPLIED loan to REJECTED, storing the reason verbatim.
func (l *Ledger) Reject(loanID, adminID uuid.UUID, reason string) (*models.Loan, error) {
	return l.transition(actionReject, loanID, adminID, reason)
}

// Disburse moves an APPROVED loan to DISBURSED.
func (l *Ledger) Disburse(loanID, adminID uuid.UUID) (*models.Loan, error) {
	return l.transition(actionDisburse, loanID, adminID, "")
}

// transition is the single guarded-update path for every admin action.
// The transition table supplies the rule; the store enforces it with a
// conditional write, so an invalid call never mutates the loan.
func (l *Ledger) transition(act action, loanID, adminID uuid.UUID, reason string) (*models.Loan, error) {
	rule, ok := transitions[act]
	if !ok {
		return nil, fmt.Errorf("%w: unknown action %q", ErrInvalidOperation, act)
	}

	admin, err := l.storage.GetAdmin(adminID)
	if err != nil {
		if errors.Is(err, store.ErrAdminNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrAdminNotFound, adminID)
		}
		return nil, err
	}

	loan, err := l.storage.Transition(loanID, rule.from, rule.to, store.StatusChange{
		Actor:  admin.DisplayName(),
		At:     l.now(),
		Reason: reason,
	})
	if err != nil {
		var conflict *store.StatusConflictError
		switch {
		case errors.Is(err, store.ErrNotFound):
			return nil, fmt.Errorf("%w: %s", ErrNotFound, loanID)
		case errors.As(err, &conflict):
			if rule.alreadyIn[conflict.Current] {
				return nil, fmt.Errorf("%w: loan %s is already %s", ErrAlreadyInStatus, loanID, conflict.Current)
			}
			return nil, fmt.Errorf("%w: cannot %s a %s loan", ErrInvalidOperation, act, conflict.Current)
		}
		return nil, err
	}
	return loan, nil
}

// RepaymentResult reports the outcome of one successful repayment.
type RepaymentResult struct {
	LoanID           uuid.UUID         `json:"loan_id"`
	Paid             decimal.Decimal   `json:"paid"`
	RemainingBalance decimal.Decimal   `json:"remaining_balance"`
	Status           models.LoanStatus `json:"status"`
}

// Repay applies a payment from the owning borrower against a DISBURSED
// loan. Overpayment is rejected. When the balance reaches zero the loan
// moves to CLOSED; this is the only path to CLOSED. The settlement is a
// balance compare-and-swap: when a concurrent payment lands first, the
// loan is re-read and the request re-validated against the new balance.
func (l *Ledger) Repay(loanID uuid.UUID, customerID string, amount decimal.Decimal) (*RepaymentResult, error) {
	payment := amount.Round(2)
	for {
		loan, err := l.storage.GetLoanForCustomer(loanID, customerID)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return nil, fmt.Errorf("%w: %s", ErrNotFound, loanID)
			}
			return nil, err
		}
		if loan.Status == models.StatusClosed {
			return nil, fmt.Errorf("%w: loan %s is CLOSED", ErrWrongStatus, loanID)
		}
		if loan.Status != models.StatusDisbursed {
			return nil, fmt.Errorf("%w: only DISBURSED loans accept repayments, loan %s is %s", ErrInvalidOperation, loanID, loan.Status)
		}
		if !payment.IsPositive() {
			return nil, fmt.Errorf("%w: payment must be positive", ErrInvalidAmount)
		}
		if payment.GreaterThan(loan.RemainingBalance) {
			return nil, fmt.Errorf("%w: payment exceeds outstanding balance (%s)", ErrInvalidAmount, loan.RemainingBalance)
		}

		now := l.now()
		newBalance := loan.RemainingBalance.Sub(payment).Round(2)
		closeLoan := newBalance.IsZero()
		rec := &models.RepaymentRecord{
			ID:               uuid.New(),
			LoanID:           loanID,
			CustomerID:       customerID,
			Amount:           payment,
			PaidOn:           now,
			RemainingBalance: newBalance,
		}

		err = l.storage.SettleRepayment(loanID, loan.RemainingBalance, newBalance, closeLoan, now, rec)
		if errors.Is(err, store.ErrConflict) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("failed to settle repayment: %w", err)
		}

		status := loan.Status
		if closeLoan {
			status = models.StatusClosed
		}
		return &RepaymentResult{
			LoanID:           loanID,
			Paid:             payment,
			RemainingBalance: newBalance,
			Status:           status,
		}, nil
	}
}

// GetLoan retrieves a loan by its ID.
func (l *Ledger) GetLoan(id uuid.UUID) (*models.Loan, error) {
	loan, err := l.storage.GetLoan(id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		return nil, err
	}
	return loan, nil
}

// GetLoanOwned retrieves a loan only when owned by customerID; a loan
// owned by someone else is reported as not found.
func (l *Ledger) GetLoanOwned(id uuid.UUID, customerID string) (*models.Loan, error) {
	loan, err := l.storage.GetLoanForCustomer(id, customerID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		return nil, err
	}
	return loan, nil
}

// LoansByStatus lists all loans currently in the given status.
func (l *Ledger) LoansByStatus(status models.LoanStatus) ([]*models.Loan, error) {
	return l.storage.ListLoansByStatus(status)
}

// LoansForCustomer lists all loans owned by the borrower.
func (l *Ledger) LoansForCustomer(customerID string) ([]*models.Loan, error) {
	return l.storage.ListLoansForCustomer(customerID)
}

// Repayments lists a loan's repayment history, oldest first. The loan
// must exist; ownership checks belong to the caller.
func (l *Ledger) Repayments(loanID uuid.UUID) ([]*models.RepaymentRecord, error) {
	if _, err := l.GetLoan(loanID); err != nil {
		return nil, err
	}
	return l.storage.RepaymentsForLoan(loanID)
}

// RegisterAdmin creates an approver account.
func (l *Ledger) RegisterAdmin(firstName, lastName string) (*models.Admin, error) {
	admin := &models.Admin{ID: uuid.New(), FirstName: firstName, LastName: lastName}
	if err := l.storage.CreateAdmin(admin); err != nil {
		return nil, fmt.Errorf("failed to store admin: %w", err)
	}
	return admin, nil
}
