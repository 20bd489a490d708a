package models

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// LoanStatus tracks where a loan sits in its lifecycle.
type LoanStatus string

const (
	StatusApplied   LoanStatus = "APPLIED"
	StatusApproved  LoanStatus = "APPROVED"
	StatusDisbursed LoanStatus = "DISBURSED"
	StatusRejected  LoanStatus = "REJECTED"
	StatusClosed    LoanStatus = "CLOSED"
)

// Active reports whether the loan counts against the borrower's eligibility.
func (s LoanStatus) Active() bool {
	return s == StatusApplied || s == StatusApproved || s == StatusDisbursed
}

// Terminal reports whether no further transitions are possible.
func (s LoanStatus) Terminal() bool {
	return s == StatusRejected || s == StatusClosed
}

// LoanType identifies the lending product.
type LoanType string

const (
	LoanTypeProperty  LoanType = "PROPERTY"
	LoanTypeEducation LoanType = "EDUCATION"
	LoanTypeGold      LoanType = "GOLD"
	LoanTypeVehicle   LoanType = "VEHICLE"
)

// DefaultAnnualRates holds the product rate (percent per annum) applied
// when an application does not carry an explicit rate.
var DefaultAnnualRates = map[LoanType]float64{
	LoanTypeProperty:  8.5,
	LoanTypeEducation: 6.5,
	LoanTypeGold:      10.0,
	LoanTypeVehicle:   9.0,
}

// Valid reports whether t is one of the supported products.
func (t LoanType) Valid() bool {
	_, ok := DefaultAnnualRates[t]
	return ok
}

// Role is the caller's resolved role.
type Role string

const (
	RoleBorrower Role = "BORROWER"
	RoleAdmin    Role = "ADMIN"
)

// ScheduleEntry is one month of an amortization schedule. Entries are
// computed once at application time and never change afterwards.
type ScheduleEntry struct {
	MonthNo            int             `json:"month_no"`
	DueDate            time.Time       `json:"due_date"`
	EMI                decimal.Decimal `json:"emi"`
	PrincipalComponent decimal.Decimal `json:"principal_component"`
	InterestComponent  decimal.Decimal `json:"interest_component"`
	RemainingBalance   decimal.Decimal `json:"remaining_balance"`
	LateFee            decimal.Decimal `json:"late_fee"`
	TotalPaymentDue    decimal.Decimal `json:"total_payment_due"`
}

// Loan is the persistent loan record. Only Status, RemainingBalance and
// the per-transition audit stamps are mutable after creation; terminal
// loans are retained for audit, never deleted.
type Loan struct {
	ID          uuid.UUID `json:"id"`
	CustomerID  string    `json:"customer_id"`
	LoanType    LoanType  `json:"loan_type"`
	CreditScore int       `json:"credit_score"`

	Principal        decimal.Decimal `json:"principal"`
	AnnualRate       float64         `json:"annual_rate"`
	TenureMonths     int             `json:"tenure_months"`
	EMIAmount        decimal.Decimal `json:"emi_amount"`
	TotalInterest    decimal.Decimal `json:"total_interest"`
	TotalPayable     decimal.Decimal `json:"total_payable"`
	RemainingBalance decimal.Decimal `json:"remaining_balance"`
	Schedule         []ScheduleEntry `json:"emi_schedule"`

	Status    LoanStatus `json:"status"`
	AppliedAt time.Time  `json:"applied_at"`

	ApprovedAt      *time.Time `json:"approved_at,omitempty"`
	ApprovedBy      string     `json:"approved_by,omitempty"`
	DisbursedAt     *time.Time `json:"disbursed_at,omitempty"`
	DisbursedBy     string     `json:"disbursed_by,omitempty"`
	RejectedAt      *time.Time `json:"rejected_at,omitempty"`
	RejectedBy      string     `json:"rejected_by,omitempty"`
	RejectionReason string     `json:"rejection_reason,omitempty"`
	ClosedAt        *time.Time `json:"closed_at,omitempty"`
}

// RepaymentRecord is the append-only record of one successful repayment.
// RemainingBalance is the loan balance after this payment was applied.
type RepaymentRecord struct {
	ID               uuid.UUID       `json:"id"`
	LoanID           uuid.UUID       `json:"loan_id"`
	CustomerID       string          `json:"customer_id"`
	Amount           decimal.Decimal `json:"amount"`
	PaidOn           time.Time       `json:"paid_on"`
	RemainingBalance decimal.Decimal `json:"remaining_balance"`
}

// Admin is an approver account. Its display name is stamped onto loans
// it approves, rejects or disburses.
type Admin struct {
	ID        uuid.UUID `json:"id"`
	FirstName string    `json:"first_name"`
	LastName  string    `json:"last_name"`
}

// DisplayName returns "First Last" with empty parts trimmed.
func (a Admin) DisplayName() string {
	return strings.TrimSpace(a.FirstName + " " + a.LastName)
}
