package pricer

import (
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"github.com/vadiminshakov/accrue/internal/domain"
)

// Quote is the last known price of an instrument.
type Quote struct {
	InstrumentID string          `json:"instrument_id"`
	Price        decimal.Decimal `json:"price"`
	At           time.Time       `json:"at"`
}

type seriesKey struct {
	instrumentID string
	period       domain.Period
}

type cachedSeries struct {
	series    domain.PriceSeries
	fetchedAt time.Time
}

// PriceBook holds the latest quotes and series. Quote and Prices treat quotes
// older than maxAge as unknown; LastPrice does not.
type PriceBook struct {
	mu     sync.RWMutex
	quotes map[string]Quote
	series map[seriesKey]cachedSeries
	maxAge time.Duration
	clock  func() time.Time
}

// NewPriceBook creates an empty book. A zero maxAge keeps quotes forever.
func NewPriceBook(maxAge time.Duration, clock func() time.Time) *PriceBook {
	if clock == nil {
		clock = time.Now
	}
	return &PriceBook{
		quotes: make(map[string]Quote),
		series: make(map[seriesKey]cachedSeries),
		maxAge: maxAge,
		clock:  clock,
	}
}

// SetQuote records price for instrumentID observed at at.
func (b *PriceBook) SetQuote(instrumentID string, price decimal.Decimal, at time.Time) {
	if !price.IsPositive() {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	if prev, ok := b.quotes[instrumentID]; ok && prev.At.After(at) {
		return
	}
	b.quotes[instrumentID] = Quote{InstrumentID: instrumentID, Price: price, At: at}
}

// Quote returns the fresh quote of instrumentID.
func (b *PriceBook) Quote(instrumentID string) (Quote, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	q, ok := b.quotes[instrumentID]
	if !ok || !b.fresh(q.At) {
		return Quote{}, false
	}
	return q, true
}

// LastPrice returns the last known price of instrumentID, however old.
func (b *PriceBook) LastPrice(instrumentID string) (decimal.Decimal, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	q, ok := b.quotes[instrumentID]
	return q.Price, ok
}

// Prices returns every fresh price keyed by instrument.
func (b *PriceBook) Prices() map[string]decimal.Decimal {
	b.mu.RLock()
	defer b.mu.RUnlock()

	out := make(map[string]decimal.Decimal, len(b.quotes))
	for id, q := range b.quotes {
		if b.fresh(q.At) {
			out[id] = q.Price
		}
	}
	return out
}

// Instruments returns instruments with a recorded quote, fresh or not.
func (b *PriceBook) Instruments() []string {
	b.mu.RLock()
	defer b.mu.RUnlock()

	ids := make([]string, 0, len(b.quotes))
	for id := range b.quotes {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// SetSeries caches series.
func (b *PriceBook) SetSeries(series domain.PriceSeries) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.series[seriesKey{series.InstrumentID, series.Period}] = cachedSeries{series: series, fetchedAt: b.clock()}
}

// Series returns the cached series if it was fetched within ttl.
func (b *PriceBook) Series(instrumentID string, period domain.Period, ttl time.Duration) (domain.PriceSeries, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	c, ok := b.series[seriesKey{instrumentID, period}]
	if !ok || (ttl > 0 && b.clock().Sub(c.fetchedAt) >= ttl) {
		return domain.PriceSeries{}, false
	}
	return c.series, true
}

// fresh must be called with mu held.
func (b *PriceBook) fresh(at time.Time) bool {
	return b.maxAge <= 0 || b.clock().Sub(at) < b.maxAge
}
