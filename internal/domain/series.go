package domain

import (
	"math"
	"time"

	"github.com/shopspring/decimal"
)

var half = decimal.New(5, -1)

// PricePoint is one observed price.
type PricePoint struct {
	Timestamp time.Time       `json:"t"`
	Price     decimal.Decimal `json:"p"`
}

// PriceSeries is the ordered price history of one instrument over one period.
// Values are never mutated after construction.
type PriceSeries struct {
	InstrumentID string       `json:"instrument_id"`
	Period       Period       `json:"period"`
	Points       []PricePoint `json:"points"`
}

// NewPriceSeries validates and copies points: non-empty, strictly increasing
// timestamps, positive prices.
func NewPriceSeries(instrumentID string, period Period, points []PricePoint) (PriceSeries, error) {
	if len(points) == 0 {
		return PriceSeries{}, invalidf("price series for %s %s is empty", instrumentID, period)
	}

	copied := make([]PricePoint, len(points))
	for i, pt := range points {
		if !pt.Price.IsPositive() {
			return PriceSeries{}, invalidf("price at index %d must be positive, got %s", i, pt.Price.String())
		}
		if i > 0 && !pt.Timestamp.After(points[i-1].Timestamp) {
			return PriceSeries{}, invalidf("timestamps must be strictly increasing at index %d", i)
		}
		copied[i] = pt
	}

	return PriceSeries{InstrumentID: instrumentID, Period: period, Points: copied}, nil
}

// DegenerateSeries returns the flat two-point series [v, v] stamped at t.
func DegenerateSeries(instrumentID string, period Period, v decimal.Decimal, t time.Time) PriceSeries {
	return PriceSeries{
		InstrumentID: instrumentID,
		Period:       period,
		Points: []PricePoint{
			{Timestamp: t, Price: v},
			{Timestamp: t, Price: v},
		},
	}
}

// Len returns the number of points.
func (s PriceSeries) Len() int {
	return len(s.Points)
}

// First returns the oldest point.
func (s PriceSeries) First() (PricePoint, bool) {
	if len(s.Points) == 0 {
		return PricePoint{}, false
	}
	return s.Points[0], true
}

// Latest returns the newest point.
func (s PriceSeries) Latest() (PricePoint, bool) {
	if len(s.Points) == 0 {
		return PricePoint{}, false
	}
	return s.Points[len(s.Points)-1], true
}

// Interpolable returns s when it has at least two points, otherwise the
// degenerate [v, v] series built from its only point.
func (s PriceSeries) Interpolable() PriceSeries {
	if len(s.Points) >= 2 {
		return s
	}
	if len(s.Points) == 1 {
		pt := s.Points[0]
		return DegenerateSeries(s.InstrumentID, s.Period, pt.Price, pt.Timestamp)
	}
	return DegenerateSeries(s.InstrumentID, s.Period, decimal.Zero, time.Time{})
}

// PriceAt linearly interpolates the series with points spread evenly over [0, 1].
// Progress outside [0, 1] is clamped. PriceAt(0) and PriceAt(1) are exactly the
// first and last prices.
func (s PriceSeries) PriceAt(progress float64) decimal.Decimal {
	n := len(s.Points)
	switch n {
	case 0:
		return decimal.Zero
	case 1:
		return s.Points[0].Price
	}

	progress = clampProgress(progress)
	if progress == 1 {
		return s.Points[n-1].Price
	}

	pos := progress * float64(n-1)
	idx := int(math.Floor(pos))
	if idx >= n-1 {
		return s.Points[n-1].Price
	}
	frac := pos - float64(idx)
	lo, hi := s.Points[idx].Price, s.Points[idx+1].Price
	if frac == 0 {
		return lo
	}

	return lo.Add(hi.Sub(lo).Mul(decimal.NewFromFloat(frac)))
}

// ChangeAt compares PriceAt(progress) with the start of the period.
func (s PriceSeries) ChangeAt(progress float64) Change {
	start := s.PriceAt(0)
	current := s.PriceAt(progress)
	amount := current.Sub(start)
	if start.IsZero() {
		return Change{Amount: amount, Percent: decimal.Zero, IsPositive: true, Flat: amount.IsZero()}
	}
	return newChange(amount, PercentageDiff(current, start), decimal.Zero)
}

// Resample returns targetCount evenly spaced interpolated prices normalized to
// [0, 1] by (v-min)/(max-min). A flat series maps every value to 0.5.
// targetCount below 2 is raised to 2.
func (s PriceSeries) Resample(targetCount int) []decimal.Decimal {
	values := s.ResampleRaw(targetCount)

	lo, hi := values[0], values[0]
	for _, v := range values[1:] {
		lo = decimal.Min(lo, v)
		hi = decimal.Max(hi, v)
	}

	out := make([]decimal.Decimal, len(values))
	span := hi.Sub(lo)
	for i, v := range values {
		if span.IsZero() {
			out[i] = half
			continue
		}
		out[i] = v.Sub(lo).Div(span)
	}
	return out
}

// ResampleRaw returns targetCount evenly spaced interpolated prices without normalization.
func (s PriceSeries) ResampleRaw(targetCount int) []decimal.Decimal {
	if targetCount < 2 {
		targetCount = 2
	}
	series := s.Interpolable()

	values := make([]decimal.Decimal, targetCount)
	last := float64(targetCount - 1)
	for i := range values {
		values[i] = series.PriceAt(float64(i) / last)
	}
	return values
}

func clampProgress(p float64) float64 {
	if math.IsNaN(p) || p < 0 {
		return 0
	}
	if p > 1 {
		return 1
	}
	return p
}
