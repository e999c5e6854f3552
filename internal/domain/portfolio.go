package domain

import (
	"sort"

	"github.com/shopspring/decimal"
)

// Portfolio is a point-in-time copy of the ledger state.
type Portfolio struct {
	CashBalance decimal.Decimal    `json:"cash_balance"`
	Holdings    map[string]Holding `json:"holdings"`
	// Version increases by one with every committed mutation.
	Version uint64 `json:"version"`
}

// NewPortfolio creates an empty portfolio funded with cash.
func NewPortfolio(cash decimal.Decimal) Portfolio {
	return Portfolio{CashBalance: cash, Holdings: make(map[string]Holding)}
}

// Clone returns a deep copy.
func (p Portfolio) Clone() Portfolio {
	holdings := make(map[string]Holding, len(p.Holdings))
	for id, h := range p.Holdings {
		holdings[id] = h
	}
	return Portfolio{CashBalance: p.CashBalance, Holdings: holdings, Version: p.Version}
}

// Holding returns the holding for instrumentID.
func (p Portfolio) Holding(instrumentID string) (Holding, bool) {
	h, ok := p.Holdings[instrumentID]
	return h, ok
}

// InstrumentIDs returns held instruments in lexical order.
func (p Portfolio) InstrumentIDs() []string {
	ids := make([]string, 0, len(p.Holdings))
	for id := range p.Holdings {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Valuation sums the market value of all holdings. Missing prices count as zero.
func (p Portfolio) Valuation(prices map[string]decimal.Decimal) decimal.Decimal {
	total := decimal.Zero
	for id, h := range p.Holdings {
		price, ok := prices[id]
		if !ok {
			continue
		}
		total = total.Add(h.MarketValue(price))
	}
	return total
}
