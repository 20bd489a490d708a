// Package emi implements the equal-monthly-installment amortization engine.
// All monetary values are rounded to 2 decimal places after each arithmetic
// step so a schedule is reproducible from its inputs alone.
package emi

import (
	"errors"
	"math"
	"time"

	"github.com/shopspring/decimal"

	"github.com/pmehta/loanbook/pkg/models"
)

// ErrInvalidTenure rejects schedules with no periods.
var ErrInvalidTenure = errors.New("tenure months must be greater than zero")

var hundred = decimal.NewFromInt(100)

// CalculateInstallment returns the fixed monthly installment for a loan of
// the given principal, annual rate (percent) and tenure. With a zero rate
// the principal divides evenly; otherwise the standard EMI formula
// P*r*(1+r)^n / ((1+r)^n - 1) applies with monthly rate r.
func CalculateInstallment(principal decimal.Decimal, annualRatePercent float64, tenureMonths int) (decimal.Decimal, error) {
	if tenureMonths <= 0 {
		return decimal.Zero, ErrInvalidTenure
	}
	r := annualRatePercent / 12 / 100
	if r == 0 {
		return principal.Div(decimal.NewFromInt(int64(tenureMonths))).Round(2), nil
	}
	// The power factor is computed in float64; everything monetary stays
	// in decimal.
	p, _ := principal.Float64()
	factor := math.Pow(1+r, float64(tenureMonths))
	return decimal.NewFromFloat(p * r * factor / (factor - 1)).Round(2), nil
}

// Options carries the late-fee inputs for BuildSchedule. The zero value
// produces a schedule with no late fees.
type Options struct {
	// LateFeePercentPerDay is charged on the month's EMI per day of delay.
	LateFeePercentPerDay decimal.Decimal
	// DelaysPerMonth lists delay days per month, indexed from month 1.
	// Missing months default to zero.
	DelaysPerMonth []int
}

// Schedule is a fully materialized amortization schedule.
type Schedule struct {
	Installment decimal.Decimal
	Entries     []models.ScheduleEntry
}

// BuildSchedule produces the month-by-month breakdown for the loan. The
// final month's principal component is forced to clear the balance
// exactly, absorbing rounding drift, and its EMI is recomputed as
// principal component plus interest. Due dates follow a fixed 30-day
// month convention rather than calendar months.
func BuildSchedule(principal decimal.Decimal, annualRatePercent float64, tenureMonths int, startDate time.Time, opts Options) (*Schedule, error) {
	installment, err := CalculateInstallment(principal, annualRatePercent, tenureMonths)
	if err != nil {
		return nil, err
	}

	monthlyRate := decimal.NewFromFloat(annualRatePercent / 12 / 100)
	balance := principal
	entries := make([]models.ScheduleEntry, 0, tenureMonths)

	for m := 1; m <= tenureMonths; m++ {
		interest := balance.Mul(monthlyRate).Round(2)
		principalComponent := installment.Sub(interest).Round(2)
		emi := installment
		if m == tenureMonths {
			principalComponent = balance.Round(2)
			emi = principalComponent.Add(interest)
		}

		balance = balance.Sub(principalComponent).Round(2)
		if balance.IsNegative() {
			balance = decimal.Zero
		}

		delayDays := 0
		if m-1 < len(opts.DelaysPerMonth) {
			delayDays = opts.DelaysPerMonth[m-1]
		}
		lateFee := emi.Mul(opts.LateFeePercentPerDay).Div(hundred).Mul(decimal.NewFromInt(int64(delayDays))).Round(2)

		entries = append(entries, models.ScheduleEntry{
			MonthNo:            m,
			DueDate:            startDate.AddDate(0, 0, 30*m),
			EMI:                emi,
			PrincipalComponent: principalComponent,
			InterestComponent:  interest,
			RemainingBalance:   balance,
			LateFee:            lateFee,
			TotalPaymentDue:    emi.Add(lateFee).Round(2),
		})
	}

	return &Schedule{Installment: installment, Entries: entries}, nil
}

// TotalInterest sums the interest components across the schedule.
func (s *Schedule) TotalInterest() decimal.Decimal {
	total := decimal.Zero
	for _, e := range s.Entries {
		total = total.Add(e.InterestComponent)
	}
	return total
}

// TotalLateFees sums the late fees across the schedule.
func (s *Schedule) TotalLateFees() decimal.Decimal {
	total := decimal.Zero
	for _, e := range s.Entries {
		total = total.Add(e.LateFee)
	}
	return total
}

// TotalPayable is principal plus total interest plus total late fees.
func (s *Schedule) TotalPayable(principal decimal.Decimal) decimal.Decimal {
	return principal.Add(s.TotalInterest()).Add(s.TotalLateFees()).Round(2)
}
