package domain

import "github.com/shopspring/decimal"

// Change is a signed difference against a reference value.
type Change struct {
	Amount  decimal.Decimal `json:"amount"`
	Percent decimal.Decimal `json:"percent"`
	// IsPositive is true for gains. A flat change is reported positive for display.
	IsPositive bool `json:"is_positive"`
	// Flat marks a change too small to be shown as a gain or a loss.
	Flat bool `json:"flat"`
}

func newChange(amount, percent, epsilon decimal.Decimal) Change {
	flat := amount.Abs().LessThan(epsilon) || amount.IsZero()
	return Change{
		Amount:     amount,
		Percent:    percent,
		IsPositive: flat || amount.IsPositive(),
		Flat:       flat,
	}
}

// PercentageDiff returns the percent difference between current and reference.
// A zero reference yields zero.
func PercentageDiff(current, reference decimal.Decimal) decimal.Decimal {
	if reference.IsZero() {
		return decimal.Zero
	}
	return current.Sub(reference).Div(reference).Mul(hundred)
}
