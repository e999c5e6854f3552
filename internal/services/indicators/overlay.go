// Package indicators computes chart overlays (moving averages, RSI, MACD)
// over price series.
package indicators

import (
	"math"
	"strconv"
	"strings"

	"github.com/cinar/indicator/v2/helper"
	"github.com/cinar/indicator/v2/momentum"
	"github.com/cinar/indicator/v2/trend"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/vadiminshakov/accrue/internal/domain"
)

// Kind names an overlay.
type Kind string

const (
	KindEMA  Kind = "ema"
	KindSMA  Kind = "sma"
	KindRSI  Kind = "rsi"
	KindMACD Kind = "macd"
)

const (
	maxPeriod        = 500
	macdMinimumInput = 26
)

// Overlay is an indicator with its period.
type Overlay struct {
	Kind   Kind `json:"kind"`
	Period int  `json:"period"`
}

// Result holds overlay values aligned to the tail of the input: Values[i]
// belongs to input index Offset+i.
type Result struct {
	Overlay
	Offset int               `json:"offset"`
	Values []decimal.Decimal `json:"values"`
}

// ParseOverlay parses "ema:20", "sma:50", "rsi:14" or "macd".
func ParseOverlay(s string) (Overlay, error) {
	name, rawPeriod, hasPeriod := strings.Cut(strings.ToLower(strings.TrimSpace(s)), ":")
	o := Overlay{Kind: Kind(name)}

	switch o.Kind {
	case KindMACD:
		return o, nil
	case KindEMA, KindSMA, KindRSI:
	default:
		return Overlay{}, errors.Wrapf(domain.ErrInvalidArgument, "unknown overlay %q", s)
	}
	if !hasPeriod {
		return Overlay{}, errors.Wrapf(domain.ErrInvalidArgument, "overlay %q needs a period, e.g. %s:20", s, name)
	}
	period, err := strconv.Atoi(rawPeriod)
	if err != nil || period < 2 || period > maxPeriod {
		return Overlay{}, errors.Wrapf(domain.ErrInvalidArgument, "overlay period must be within [2, %d], got %q", maxPeriod, rawPeriod)
	}
	o.Period = period
	return o, nil
}

// Compute applies the overlay to values.
func (o Overlay) Compute(values []decimal.Decimal) (Result, error) {
	need := o.Period
	switch o.Kind {
	case KindRSI:
		need = o.Period + 1
	case KindMACD:
		need = macdMinimumInput
	}
	if len(values) < need {
		return Result{}, errors.Wrapf(domain.ErrInvalidArgument, "not enough data points for %s: need %d, got %d", o.Kind, need, len(values))
	}

	in := helper.SliceToChan(decimalsToFloat64(values))
	var out []float64
	switch o.Kind {
	case KindEMA:
		out = helper.ChanToSlice(trend.NewEmaWithPeriod[float64](o.Period).Compute(in))
	case KindSMA:
		out = helper.ChanToSlice(trend.NewSmaWithPeriod[float64](o.Period).Compute(in))
	case KindRSI:
		out = helper.ChanToSlice(momentum.NewRsiWithPeriod[float64](o.Period).Compute(in))
	case KindMACD:
		macdChan, signalChan := trend.NewMacd[float64]().Compute(in)
		// signal is unused but must be drained
		go func() {
			for range signalChan {
			}
		}()
		out = helper.ChanToSlice(macdChan)
	default:
		return Result{}, errors.Wrapf(domain.ErrInvalidArgument, "unknown overlay %q", o.Kind)
	}

	return Result{Overlay: o, Offset: len(values) - len(out), Values: float64ToDecimals(out)}, nil
}

// ForSeries resamples series to points raw prices and applies the overlay.
func (o Overlay) ForSeries(series domain.PriceSeries, points int) (Result, error) {
	return o.Compute(series.Interpolable().ResampleRaw(points))
}

func decimalsToFloat64(decimals []decimal.Decimal) []float64 {
	result := make([]float64, len(decimals))
	for i, d := range decimals {
		result[i], _ = d.Float64()
	}
	return result
}

func float64ToDecimals(floats []float64) []decimal.Decimal {
	result := make([]decimal.Decimal, len(floats))
	for i, f := range floats {
		// rsi of a flat window is 0/0
		if math.IsNaN(f) || math.IsInf(f, 0) {
			result[i] = decimal.Zero
			continue
		}
		result[i] = decimal.NewFromFloat(f)
	}
	return result
}
