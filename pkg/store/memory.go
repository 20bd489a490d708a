package store

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/pmehta/loanbook/pkg/models"
)

// MemoryStore is an in-memory Storage for tests and development. A
// single mutex covers every operation, which trivially satisfies the
// per-borrower and per-loan atomicity the interface demands.
type MemoryStore struct {
	mu         sync.Mutex
	loans      map[uuid.UUID]*models.Loan
	repayments []*models.RepaymentRecord
	admins     map[uuid.UUID]*models.Admin
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		loans:  make(map[uuid.UUID]*models.Loan),
		admins: make(map[uuid.UUID]*models.Admin),
	}
}

// CreateLoan evaluates guard and inserts under one lock.
func (m *MemoryStore) CreateLoan(loan *models.Loan, guard func(active []*models.Loan) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if guard != nil {
		var active []*models.Loan
		for _, l := range m.loans {
			if l.CustomerID == loan.CustomerID && l.Status.Active() {
				active = append(active, copyLoan(l))
			}
		}
		if err := guard(active); err != nil {
			return err
		}
	}
	m.loans[loan.ID] = copyLoan(loan)
	return nil
}

// GetLoan retrieves a copy of the loan.
func (m *MemoryStore) GetLoan(id uuid.UUID) (*models.Loan, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	loan, ok := m.loans[id]
	if !ok {
		return nil, ErrNotFound
	}
	return copyLoan(loan), nil
}

// GetLoanForCustomer retrieves the loan only when owned by customerID.
func (m *MemoryStore) GetLoanForCustomer(id uuid.UUID, customerID string) (*models.Loan, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	loan, ok := m.loans[id]
	if !ok || loan.CustomerID != customerID {
		return nil, ErrNotFound
	}
	return copyLoan(loan), nil
}

// ListLoansByStatus retrieves all loans in the given status.
func (m *MemoryStore) ListLoansByStatus(status models.LoanStatus) ([]*models.Loan, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var loans []*models.Loan
	for _, l := range m.loans {
		if l.Status == status {
			loans = append(loans, copyLoan(l))
		}
	}
	return loans, nil
}

// ListLoansForCustomer retrieves all loans owned by customerID.
func (m *MemoryStore) ListLoansForCustomer(customerID string) ([]*models.Loan, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var loans []*models.Loan
	for _, l := range m.loans {
		if l.CustomerID == customerID {
			loans = append(loans, copyLoan(l))
		}
	}
	return loans, nil
}

// Transition performs the guarded status update under the lock.
func (m *MemoryStore) Transition(id uuid.UUID, from, to models.LoanStatus, change StatusChange) (*models.Loan, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	loan, ok := m.loans[id]
	if !ok {
		return nil, ErrNotFound
	}
	if loan.Status != from {
		return nil, &StatusConflictError{Current: loan.Status}
	}

	at := change.At
	loan.Status = to
	switch to {
	case models.StatusApproved:
		loan.ApprovedAt = &at
		loan.ApprovedBy = change.Actor
	case models.StatusDisbursed:
		loan.DisbursedAt = &at
		loan.DisbursedBy = change.Actor
	case models.StatusRejected:
		loan.RejectedAt = &at
		loan.RejectedBy = change.Actor
		loan.RejectionReason = change.Reason
	}
	return copyLoan(loan), nil
}

// SettleRepayment applies the balance CAS and record append under the lock.
func (m *MemoryStore) SettleRepayment(id uuid.UUID, oldBalance, newBalance decimal.Decimal, closeLoan bool, closedAt time.Time, rec *models.RepaymentRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	loan, ok := m.loans[id]
	if !ok {
		return ErrNotFound
	}
	if loan.Status != models.StatusDisbursed || !loan.RemainingBalance.Equal(oldBalance) {
		return ErrConflict
	}

	loan.RemainingBalance = newBalance
	if closeLoan {
		at := closedAt
		loan.Status = models.StatusClosed
		loan.ClosedAt = &at
	}
	recCopy := *rec
	m.repayments = append(m.repayments, &recCopy)
	return nil
}

// RepaymentsForLoan retrieves all repayments for a loan in append order.
func (m *MemoryStore) RepaymentsForLoan(loanID uuid.UUID) ([]*models.RepaymentRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var records []*models.RepaymentRecord
	for _, r := range m.repayments {
		if r.LoanID == loanID {
			recCopy := *r
			records = append(records, &recCopy)
		}
	}
	return records, nil
}

// CreateAdmin inserts a new admin account.
func (m *MemoryStore) CreateAdmin(admin *models.Admin) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	adminCopy := *admin
	m.admins[admin.ID] = &adminCopy
	return nil
}

// GetAdmin retrieves an admin by ID.
func (m *MemoryStore) GetAdmin(id uuid.UUID) (*models.Admin, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	admin, ok := m.admins[id]
	if !ok {
		return nil, ErrAdminNotFound
	}
	adminCopy := *admin
	return &adminCopy, nil
}

// Close is a no-op for the in-memory store.
func (m *MemoryStore) Close() error {
	return nil
}

func copyLoan(loan *models.Loan) *models.Loan {
	loanCopy := *loan
	loanCopy.Schedule = append([]models.ScheduleEntry(nil), loan.Schedule...)
	copyTime := func(t *time.Time) *time.Time {
		if t == nil {
			return nil
		}
		tc := *t
		return &tc
	}
	loanCopy.ApprovedAt = copyTime(loan.ApprovedAt)
	loanCopy.DisbursedAt = copyTime(loan.DisbursedAt)
	loanCopy.RejectedAt = copyTime(loan.RejectedAt)
	loanCopy.ClosedAt = copyTime(loan.ClosedAt)
	return &loanCopy
}
