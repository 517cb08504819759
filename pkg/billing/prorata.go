package billing

import (
	"math"
	"time"

	"github.com/shopspring/decimal"
)

// CycleDays is the length of a billing cycle used for prorating
const CycleDays = 30

// ProrataResult is the amount owed today for a mid-cycle change
type ProrataResult struct {
	AmountDue     decimal.Decimal `json:"amount_due"`
	DaysRemaining int             `json:"days_remaining"`
}

// Prorata computes the amount due today when moving from currentPrice to
// newPrice with the cycle ending at dueDate.
func Prorata(newPrice, currentPrice decimal.Decimal, dueDate, now time.Time) ProrataResult {
	if !currentPrice.IsPositive() {
		return ProrataResult{AmountDue: newPrice.Round(2), DaysRemaining: CycleDays}
	}
	return ProrataForDays(newPrice, currentPrice, DaysRemaining(dueDate, now))
}

// ProrataForDays prorates over an explicit number of remaining days, clamped
// to [0, CycleDays].
func ProrataForDays(newPrice, currentPrice decimal.Decimal, days int) ProrataResult {
	if !currentPrice.IsPositive() {
		return ProrataResult{AmountDue: newPrice.Round(2), DaysRemaining: CycleDays}
	}
	days = clampDays(days)

	delta := newPrice.Sub(currentPrice)
	if !delta.IsPositive() {
		return ProrataResult{AmountDue: decimal.Zero, DaysRemaining: days}
	}

	amount := delta.Mul(decimal.NewFromInt(int64(days))).Div(decimal.NewFromInt(CycleDays)).Round(2)
	return ProrataResult{AmountDue: amount, DaysRemaining: days}
}

// DaysRemaining returns the whole days, rounded up, from now until dueDate,
// clamped to [0, CycleDays].
func DaysRemaining(dueDate, now time.Time) int {
	hours := dueDate.Sub(now).Hours()
	if hours <= 0 {
		return 0
	}
	days := math.Ceil(hours / 24)
	if days > CycleDays {
		return CycleDays
	}
	return int(days)
}

func clampDays(days int) int {
	if days < 0 {
		return 0
	}
	if days > CycleDays {
		return CycleDays
	}
	return days
}
