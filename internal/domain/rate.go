package domain

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// CurrencyPair is a conversion direction.
type CurrencyPair struct {
	From string `json:"from"`
	To   string `json:"to"`
}

// NewCurrencyPair upper-cases both codes.
func NewCurrencyPair(from, to string) CurrencyPair {
	return CurrencyPair{
		From: strings.ToUpper(strings.TrimSpace(from)),
		To:   strings.ToUpper(strings.TrimSpace(to)),
	}
}

// String returns "FROM_TO".
func (c CurrencyPair) String() string {
	return c.From + "_" + c.To
}

// ExchangeRateEntry is a cached conversion rate.
type ExchangeRateEntry struct {
	Pair      CurrencyPair    `json:"pair"`
	Rate      decimal.Decimal `json:"rate"`
	FetchedAt time.Time       `json:"fetched_at"`
	TTL       time.Duration   `json:"ttl"`
}

// Fresh reports whether the entry is still within its TTL at now.
func (e ExchangeRateEntry) Fresh(now time.Time) bool {
	return now.Sub(e.FetchedAt) < e.TTL
}
