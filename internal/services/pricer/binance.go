package pricer

import (
	"context"
	"time"

	"github.com/adshao/go-binance/v2"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/vadiminshakov/accrue/internal/domain"
)

// BinanceSource reads spot prices from the Binance public API.
type BinanceSource struct {
	client *binance.Client
}

// NewBinanceSource creates a Binance source. Public endpoints need no keys.
func NewBinanceSource(client *binance.Client) *BinanceSource {
	return &BinanceSource{client: client}
}

// FetchCurrent returns the last price of a BASE_QUOTE instrument.
func (s *BinanceSource) FetchCurrent(ctx context.Context, instrumentID string) (decimal.Decimal, error) {
	pair, err := domain.ParsePair(instrumentID)
	if err != nil {
		return decimal.Zero, err
	}

	prices, err := s.client.NewListPricesService().Symbol(pair.Symbol()).Do(ctx)
	if err != nil {
		return decimal.Zero, errors.Wrapf(err, "binance prices for %s", instrumentID)
	}
	if len(prices) == 0 {
		return decimal.Zero, errors.Wrapf(domain.ErrPriceUnavailable, "binance returned no price for %s", instrumentID)
	}

	return parsePrice(instrumentID, prices[0].Price)
}

// FetchSeries returns close prices of the candles covering period.
func (s *BinanceSource) FetchSeries(ctx context.Context, instrumentID string, period domain.Period) (domain.PriceSeries, error) {
	pair, err := domain.ParsePair(instrumentID)
	if err != nil {
		return domain.PriceSeries{}, err
	}
	_, count := period.Sampling()

	klines, err := s.client.NewKlinesService().
		Symbol(pair.Symbol()).
		Interval(period.Interval()).
		Limit(count).
		Do(ctx)
	if err != nil {
		return domain.PriceSeries{}, errors.Wrapf(err, "binance klines for %s %s", instrumentID, period)
	}

	points, err := klinePoints(instrumentID, klines)
	if err != nil {
		return domain.PriceSeries{}, err
	}
	return buildSeries(instrumentID, period, points, count)
}

func klinePoints(instrumentID string, klines []*binance.Kline) ([]domain.PricePoint, error) {
	points := make([]domain.PricePoint, 0, len(klines))
	for i, k := range klines {
		if k == nil {
			continue
		}
		price, err := parsePrice(instrumentID, k.Close)
		if err != nil {
			return nil, errors.Wrapf(err, "kline %d", i)
		}
		points = append(points, domain.PricePoint{Timestamp: time.UnixMilli(k.CloseTime), Price: price})
	}
	return points, nil
}
