// Package domain defines the ledger, price and scheduling types shared by every service.
package domain

import (
	"fmt"
	"strings"
)

// Pair splits an instrument into the asset and the currency it is quoted in.
type Pair struct {
	// From asset symbol.
	From string
	// To quote currency symbol.
	To string
}

// ParsePair parses an instrument id such as "BTC_USDT".
func ParsePair(instrumentID string) (Pair, error) {
	parts := strings.Split(strings.ToUpper(strings.TrimSpace(instrumentID)), "_")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return Pair{}, invalidf("instrument %q must look like BASE_QUOTE", instrumentID)
	}
	return Pair{From: parts[0], To: parts[1]}, nil
}

// String returns the instrument id.
func (p *Pair) String() string {
	return fmt.Sprintf("%s_%s", p.From, p.To)
}

// Symbol returns the concatenated exchange symbol.
func (p *Pair) Symbol() string {
	return fmt.Sprintf("%s%s", p.From, p.To)
}
