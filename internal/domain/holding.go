package domain

import (
	"github.com/shopspring/decimal"
)

const percentageMultiplier = 100

var (
	// ShareEpsilon is the position size treated as fully sold.
	ShareEpsilon = decimal.New(1, -9)
	// PnLEpsilon is the P&L amount, in currency units, shown as "no change".
	PnLEpsilon = decimal.New(1, -3)

	hundred = decimal.NewFromInt(percentageMultiplier)
)

// Holding is the position in one instrument with weighted-average cost basis.
type Holding struct {
	InstrumentID string          `json:"instrument_id"`
	Shares       decimal.Decimal `json:"shares"`
	TotalCost    decimal.Decimal `json:"total_cost"`
	AverageCost  decimal.Decimal `json:"average_cost"`
}

// IsEmpty reports whether the holding is logically absent.
func (h Holding) IsEmpty() bool {
	return h.Shares.LessThanOrEqual(ShareEpsilon)
}

// Add returns the holding after buying shares for cost.
// The average cost is recomputed from the new totals.
func (h Holding) Add(shares, cost decimal.Decimal) Holding {
	next := Holding{
		InstrumentID: h.InstrumentID,
		Shares:       h.Shares.Add(shares),
		TotalCost:    h.TotalCost.Add(cost),
	}
	next.AverageCost = averageCost(next.TotalCost, next.Shares)
	return next
}

// Remove returns the holding after selling shares and the cost basis released.
// The average cost of the remaining position does not change.
func (h Holding) Remove(shares decimal.Decimal) (Holding, decimal.Decimal) {
	released := h.AverageCost.Mul(shares)
	next := Holding{
		InstrumentID: h.InstrumentID,
		Shares:       h.Shares.Sub(shares),
		TotalCost:    h.TotalCost.Sub(released),
		AverageCost:  h.AverageCost,
	}
	if next.IsEmpty() {
		return Holding{InstrumentID: h.InstrumentID, Shares: decimal.Zero, TotalCost: decimal.Zero, AverageCost: decimal.Zero}, h.TotalCost
	}
	if next.TotalCost.IsNegative() {
		next.TotalCost = decimal.Zero
	}
	return next, released
}

// MarketValue returns shares valued at price.
func (h Holding) MarketValue(price decimal.Decimal) decimal.Decimal {
	return h.Shares.Mul(price)
}

// UnrealizedPnL compares the market value at price with the cost basis.
func (h Holding) UnrealizedPnL(price decimal.Decimal) Change {
	amount := h.MarketValue(price).Sub(h.TotalCost)
	percent := decimal.Zero
	if h.TotalCost.IsPositive() {
		percent = amount.Div(h.TotalCost).Mul(hundred)
	}
	return newChange(amount, percent, PnLEpsilon)
}

func averageCost(totalCost, shares decimal.Decimal) decimal.Decimal {
	if shares.LessThanOrEqual(decimal.Zero) {
		return decimal.Zero
	}
	return totalCost.Div(shares)
}
