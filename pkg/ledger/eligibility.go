package ledger

import (
	"fmt"

	"github.com/pmehta/loanbook/pkg/models"
)

// maxActiveLoans caps how many APPLIED/APPROVED/DISBURSED loans a
// borrower may hold at once.
const maxActiveLoans = 2

// checkEligibility returns the guard the store evaluates inside its
// per-borrower critical section, so the active-loan scan and the insert
// cannot interleave with a concurrent application.
func checkEligibility(requested models.LoanType) func(active []*models.Loan) error {
	return func(active []*models.Loan) error {
		if len(active) >= maxActiveLoans {
			return ErrTooManyActiveLoans
		}
		for _, loan := range active {
			if loan.LoanType == requested {
				return fmt.Errorf("%w: %s", ErrDuplicateLoanType, requested)
			}
		}
		return nil
	}
}
