package fx

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/PaesslerAG/jsonpath"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/vadiminshakov/accrue/internal/domain"
)

// HTTPSource reads a rate from any JSON HTTP API. The URL template may use
// {from} and {to}; the rate is extracted with a JSONPath expression, e.g.
// "$.rates.{to}".
type HTTPSource struct {
	client      *http.Client
	urlTemplate string
	path        string
}

// NewHTTPSource creates an HTTP rate source. A nil client gets a 10s timeout.
func NewHTTPSource(client *http.Client, urlTemplate, path string) *HTTPSource {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &HTTPSource{client: client, urlTemplate: urlTemplate, path: path}
}

func (s *HTTPSource) FetchRate(ctx context.Context, from, to string) (decimal.Decimal, error) {
	r := strings.NewReplacer("{from}", from, "{to}", to)
	url := r.Replace(s.urlTemplate)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return decimal.Zero, errors.Wrap(err, "build rate request")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return decimal.Zero, errors.Wrapf(err, "get %s", url)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return decimal.Zero, errors.Errorf("rate API returned status %d", resp.StatusCode)
	}

	var body any
	dec := json.NewDecoder(resp.Body)
	dec.UseNumber()
	if err := dec.Decode(&body); err != nil {
		return decimal.Zero, errors.Wrap(err, "decode rate response")
	}

	path := r.Replace(s.path)
	val, err := jsonpath.Get(path, body)
	if err != nil {
		return decimal.Zero, errors.Wrapf(err, "evaluate %q", path)
	}
	// jsonpath returns a list for wildcard and slice expressions
	if list, ok := val.([]any); ok {
		if len(list) == 0 {
			return decimal.Zero, errors.Errorf("%q matched nothing", path)
		}
		val = list[0]
	}

	return toDecimal(val)
}

func toDecimal(v any) (decimal.Decimal, error) {
	switch x := v.(type) {
	case json.Number:
		return decimal.NewFromString(x.String())
	case float64:
		return decimal.NewFromFloat(x), nil
	case string:
		return decimal.NewFromString(strings.ReplaceAll(x, ",", "."))
	}
	return decimal.Zero, errors.Errorf("rate value %v is not a number", v)
}

// StaticSource serves fixed rates, for offline runs and tests. The inverse of
// a configured pair is derived.
type StaticSource struct {
	rates map[domain.CurrencyPair]decimal.Decimal
}

// NewStaticSource creates a source from rates keyed "FROM_TO".
func NewStaticSource(rates map[string]decimal.Decimal) (*StaticSource, error) {
	s := &StaticSource{rates: make(map[domain.CurrencyPair]decimal.Decimal, len(rates))}
	for key, rate := range rates {
		parts := strings.Split(key, "_")
		if len(parts) != 2 {
			return nil, errors.Wrapf(domain.ErrInvalidArgument, "rate key %q must look like FROM_TO", key)
		}
		if !rate.IsPositive() {
			return nil, errors.Wrapf(domain.ErrInvalidArgument, "rate %s must be positive", key)
		}
		s.rates[domain.NewCurrencyPair(parts[0], parts[1])] = rate
	}
	return s, nil
}

func (s *StaticSource) FetchRate(_ context.Context, from, to string) (decimal.Decimal, error) {
	pair := domain.NewCurrencyPair(from, to)
	if rate, ok := s.rates[pair]; ok {
		return rate, nil
	}
	if rate, ok := s.rates[domain.NewCurrencyPair(to, from)]; ok {
		return decimal.NewFromInt(1).Div(rate), nil
	}
	return decimal.Zero, errors.Errorf("no static rate for %s", pair)
}
