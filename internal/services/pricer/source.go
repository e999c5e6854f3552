// Package pricer fetches current prices and price histories from market data
// providers and keeps the latest values in a PriceBook.
package pricer

import (
	"context"
	"sort"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/vadiminshakov/accrue/internal/domain"
)

// Source is a market data provider.
type Source interface {
	// FetchCurrent returns the last traded price of instrumentID.
	FetchCurrent(ctx context.Context, instrumentID string) (decimal.Decimal, error)
	// FetchSeries returns the price history of instrumentID over period.
	FetchSeries(ctx context.Context, instrumentID string, period domain.Period) (domain.PriceSeries, error)
}

// buildSeries orders points by time, drops duplicates and non-positive
// prices and keeps at most the last limit points.
func buildSeries(instrumentID string, period domain.Period, points []domain.PricePoint, limit int) (domain.PriceSeries, error) {
	sort.SliceStable(points, func(i, j int) bool {
		return points[i].Timestamp.Before(points[j].Timestamp)
	})

	clean := make([]domain.PricePoint, 0, len(points))
	for _, pt := range points {
		if !pt.Price.IsPositive() {
			continue
		}
		if n := len(clean); n > 0 && !pt.Timestamp.After(clean[n-1].Timestamp) {
			continue
		}
		clean = append(clean, pt)
	}
	if limit > 0 && len(clean) > limit {
		clean = clean[len(clean)-limit:]
	}
	if len(clean) == 0 {
		return domain.PriceSeries{}, errors.Wrapf(domain.ErrPriceUnavailable, "no usable prices for %s %s", instrumentID, period)
	}

	return domain.NewPriceSeries(instrumentID, period, clean)
}

func parsePrice(instrumentID, raw string) (decimal.Decimal, error) {
	if raw == "" {
		return decimal.Zero, errors.Wrapf(domain.ErrPriceUnavailable, "empty price for %s", instrumentID)
	}
	price, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, errors.Wrapf(err, "parse price %q for %s", raw, instrumentID)
	}
	if !price.IsPositive() {
		return decimal.Zero, errors.Wrapf(domain.ErrPriceUnavailable, "non-positive price %s for %s", raw, instrumentID)
	}
	return price, nil
}
