package pricer

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	hyperliquid "github.com/sonirico/go-hyperliquid"
	"github.com/vadiminshakov/accrue/internal/domain"
)

// HyperliquidSource reads mid prices and candles from the Hyperliquid Info API.
// Instruments are keyed by their base coin.
type HyperliquidSource struct {
	info  *hyperliquid.Info
	clock func() time.Time
}

// NewHyperliquidSource creates a Hyperliquid source.
func NewHyperliquidSource(info *hyperliquid.Info) *HyperliquidSource {
	return &HyperliquidSource{info: info, clock: time.Now}
}

// FetchCurrent returns the mid price of the instrument's base coin.
func (s *HyperliquidSource) FetchCurrent(ctx context.Context, instrumentID string) (decimal.Decimal, error) {
	if s.info == nil {
		return decimal.Zero, errors.New("hyperliquid info client is nil")
	}
	pair, err := domain.ParsePair(instrumentID)
	if err != nil {
		return decimal.Zero, err
	}

	mids, err := s.info.AllMids(ctx)
	if err != nil {
		return decimal.Zero, errors.Wrapf(err, "hyperliquid mids for %s", instrumentID)
	}
	mid, ok := mids[pair.From]
	if !ok {
		return decimal.Zero, errors.Wrapf(domain.ErrPriceUnavailable, "hyperliquid has no mid for %s", pair.From)
	}
	return parsePrice(instrumentID, mid)
}

// FetchSeries returns close prices of the candles covering period.
func (s *HyperliquidSource) FetchSeries(ctx context.Context, instrumentID string, period domain.Period) (domain.PriceSeries, error) {
	if s.info == nil {
		return domain.PriceSeries{}, errors.New("hyperliquid info client is nil")
	}
	pair, err := domain.ParsePair(instrumentID)
	if err != nil {
		return domain.PriceSeries{}, err
	}

	width, count := period.Sampling()
	endMs := s.clock().UnixMilli()
	// two extra candles of slack for boundary rounding
	startMs := endMs - int64(count+2)*width.Milliseconds()

	candles, err := s.info.CandlesSnapshot(ctx, pair.From, period.Interval(), startMs, endMs)
	if err != nil {
		return domain.PriceSeries{}, errors.Wrapf(err, "hyperliquid candles for %s %s", instrumentID, period)
	}

	points := make([]domain.PricePoint, 0, len(candles))
	for i, c := range candles {
		price, err := parsePrice(instrumentID, c.Close)
		if err != nil {
			return domain.PriceSeries{}, errors.Wrapf(err, "candle %d", i)
		}
		points = append(points, domain.PricePoint{Timestamp: time.UnixMilli(c.TimeClose), Price: price})
	}

	return buildSeries(instrumentID, period, points, count)
}
