package ledger

import (
	"errors"

	"github.com/pmehta/loanbook/pkg/emi"
)

// Domain sentinels. Callers match with errors.Is; messages wrapped
// around them carry the loan id and the conflicting status.
var (
	ErrForbidden          = errors.New("only BORROWER accounts can apply for loans")
	ErrTooManyActiveLoans = errors.New("borrower already holds two active loans")
	ErrDuplicateLoanType  = errors.New("borrower already holds an active loan of this type")
	ErrInvalidLoanType    = errors.New("unknown loan type")
	ErrInvalidPrincipal   = errors.New("principal must be greater than zero")
	ErrInvalidCreditScore = errors.New("credit score must be between 650 and 900")

	ErrNotFound      = errors.New("loan not found")
	ErrAdminNotFound = errors.New("admin not found")

	ErrAlreadyInStatus  = errors.New("loan already transitioned")
	ErrInvalidOperation = errors.New("operation not valid for loan status")
	ErrWrongStatus      = errors.New("loan is closed")
	ErrInvalidAmount    = errors.New("invalid repayment amount")
)

// ErrInvalidTenure mirrors the amortization engine's tenure guard so
// callers can match every application error in one package.
var ErrInvalidTenure = emi.ErrInvalidTenure
