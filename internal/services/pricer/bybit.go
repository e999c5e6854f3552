package pricer

import (
	"context"
	"strconv"
	"time"

	bybit "github.com/hirokisan/bybit/v2"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/vadiminshakov/accrue/internal/domain"
)

// bybitMaxKlines is the largest page the kline endpoint serves.
const bybitMaxKlines = 1000

// BybitSource reads spot prices from the Bybit V5 market API.
type BybitSource struct {
	client *bybit.Client
}

// NewBybitSource creates a Bybit source.
func NewBybitSource(client *bybit.Client) *BybitSource {
	return &BybitSource{client: client}
}

// FetchCurrent returns the last traded price of a BASE_QUOTE instrument.
func (s *BybitSource) FetchCurrent(_ context.Context, instrumentID string) (decimal.Decimal, error) {
	pair, err := domain.ParsePair(instrumentID)
	if err != nil {
		return decimal.Zero, err
	}
	symbol := bybit.SymbolV5(pair.Symbol())

	result, err := s.client.V5().Market().GetTickers(bybit.V5GetTickersParam{
		Category: bybit.CategoryV5Spot,
		Symbol:   &symbol,
	})
	if err != nil {
		return decimal.Zero, errors.Wrapf(err, "bybit tickers for %s", instrumentID)
	}
	if result == nil || len(result.Result.Spot.List) == 0 {
		return decimal.Zero, errors.Wrapf(domain.ErrPriceUnavailable, "bybit returned no ticker for %s", instrumentID)
	}

	return parsePrice(instrumentID, result.Result.Spot.List[0].LastPrice)
}

// FetchSeries returns close prices of the candles covering period.
func (s *BybitSource) FetchSeries(_ context.Context, instrumentID string, period domain.Period) (domain.PriceSeries, error) {
	pair, err := domain.ParsePair(instrumentID)
	if err != nil {
		return domain.PriceSeries{}, err
	}
	interval, err := bybitInterval(period)
	if err != nil {
		return domain.PriceSeries{}, err
	}
	_, count := period.Sampling()
	limit := count
	if limit > bybitMaxKlines {
		limit = bybitMaxKlines
	}

	result, err := s.client.V5().Market().GetKline(bybit.V5GetKlineParam{
		Category: bybit.CategoryV5Spot,
		Symbol:   bybit.SymbolV5(pair.Symbol()),
		Interval: interval,
		Limit:    &limit,
	})
	if err != nil {
		return domain.PriceSeries{}, errors.Wrapf(err, "bybit klines for %s %s", instrumentID, period)
	}
	if result == nil {
		return domain.PriceSeries{}, errors.Wrapf(domain.ErrPriceUnavailable, "bybit returned no klines for %s", instrumentID)
	}

	// bybit lists newest first; buildSeries re-orders
	points := make([]domain.PricePoint, 0, len(result.Result.List))
	for i, k := range result.Result.List {
		ms, err := strconv.ParseInt(k.StartTime, 10, 64)
		if err != nil {
			return domain.PriceSeries{}, errors.Wrapf(err, "parse kline %d start time %q", i, k.StartTime)
		}
		price, err := parsePrice(instrumentID, k.Close)
		if err != nil {
			return domain.PriceSeries{}, errors.Wrapf(err, "kline %d", i)
		}
		points = append(points, domain.PricePoint{Timestamp: time.UnixMilli(ms), Price: price})
	}

	return buildSeries(instrumentID, period, points, count)
}

func bybitInterval(period domain.Period) (bybit.Interval, error) {
	switch period {
	case domain.Period1H:
		return bybit.Interval("1"), nil
	case domain.Period1D:
		return bybit.Interval("15"), nil
	case domain.Period1W:
		return bybit.Interval("60"), nil
	case domain.Period1M:
		return bybit.Interval("240"), nil
	case domain.Period1Y:
		return bybit.Interval("D"), nil
	case domain.PeriodAll:
		return bybit.Interval("W"), nil
	}
	return "", errors.Wrapf(domain.ErrInvalidArgument, "unsupported period %q", period)
}
