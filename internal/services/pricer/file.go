package pricer

import (
	"context"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/vadiminshakov/accrue/internal/domain"
	"gopkg.in/yaml.v3"
)

// FileSource serves prices from a YAML fixture, for offline runs and tests.
//
//	prices:
//	  AAPL: "187.50"
//	series:
//	  AAPL:
//	    1D: ["185.1", "186.0", "187.5"]
//
// Series points are spaced by the period's candle width and end at the time
// of the request. An instrument with a price but no series gets a flat one.
type FileSource struct {
	mu     sync.RWMutex
	prices map[string]decimal.Decimal
	series map[string]map[domain.Period][]decimal.Decimal
	clock  func() time.Time
}

type fileFixture struct {
	Prices map[string]string              `yaml:"prices"`
	Series map[string]map[string][]string `yaml:"series"`
}

// NewFileSource loads the fixture at path.
func NewFileSource(path string) (*FileSource, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "read price fixture %s", path)
	}
	return ParseFileSource(data)
}

// ParseFileSource parses a YAML fixture.
func ParseFileSource(data []byte) (*FileSource, error) {
	var raw fileFixture
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, errors.Wrap(err, "decode price fixture")
	}

	s := &FileSource{
		prices: make(map[string]decimal.Decimal, len(raw.Prices)),
		series: make(map[string]map[domain.Period][]decimal.Decimal, len(raw.Series)),
		clock:  time.Now,
	}
	for id, v := range raw.Prices {
		price, err := parsePrice(id, v)
		if err != nil {
			return nil, err
		}
		s.prices[strings.ToUpper(id)] = price
	}
	for id, byPeriod := range raw.Series {
		id = strings.ToUpper(id)
		s.series[id] = make(map[domain.Period][]decimal.Decimal, len(byPeriod))
		for name, values := range byPeriod {
			period, err := domain.ParsePeriod(name)
			if err != nil {
				return nil, errors.Wrapf(err, "series of %s", id)
			}
			parsed := make([]decimal.Decimal, 0, len(values))
			for _, v := range values {
				price, err := parsePrice(id, v)
				if err != nil {
					return nil, errors.Wrapf(err, "series %s of %s", period, id)
				}
				parsed = append(parsed, price)
			}
			s.series[id][period] = parsed
		}
	}

	return s, nil
}

// SetPrice overrides the current price of instrumentID.
func (s *FileSource) SetPrice(instrumentID string, price decimal.Decimal) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.prices[strings.ToUpper(instrumentID)] = price
}

// FetchCurrent returns the fixture price.
func (s *FileSource) FetchCurrent(_ context.Context, instrumentID string) (decimal.Decimal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	price, ok := s.prices[strings.ToUpper(instrumentID)]
	if !ok {
		return decimal.Zero, errors.Wrapf(domain.ErrPriceUnavailable, "no fixture price for %s", instrumentID)
	}
	return price, nil
}

// FetchSeries returns the fixture series, or a flat series at the current price.
func (s *FileSource) FetchSeries(ctx context.Context, instrumentID string, period domain.Period) (domain.PriceSeries, error) {
	s.mu.RLock()
	values := s.series[strings.ToUpper(instrumentID)][period]
	s.mu.RUnlock()

	now := s.clock()
	if len(values) == 0 {
		price, err := s.FetchCurrent(ctx, instrumentID)
		if err != nil {
			return domain.PriceSeries{}, err
		}
		return domain.DegenerateSeries(instrumentID, period, price, now), nil
	}

	width, _ := period.Sampling()
	start := now.Add(-time.Duration(len(values)-1) * width)
	points := make([]domain.PricePoint, len(values))
	for i, v := range values {
		points[i] = domain.PricePoint{Timestamp: start.Add(time.Duration(i) * width), Price: v}
	}
	return domain.NewPriceSeries(instrumentID, period, points)
}
