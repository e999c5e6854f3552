package web

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gorilla/mux"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/vadiminshakov/accrue/internal/domain"
	"github.com/vadiminshakov/accrue/internal/services/indicators"
)

const (
	defaultChartPoints = 100
	maxChartPoints     = 2000
)

type seriesView struct {
	InstrumentID string              `json:"instrument_id"`
	Period       domain.Period       `json:"period"`
	Values       []decimal.Decimal   `json:"values"`
	Normalized   []decimal.Decimal   `json:"normalized"`
	Progress     float64             `json:"progress"`
	PriceAt      decimal.Decimal     `json:"price_at"`
	Change       domain.Change       `json:"change"`
	Overlays     []indicators.Result `json:"overlays,omitempty"`
	Latest       *domain.PricePoint  `json:"latest,omitempty"`
}

type rateView struct {
	From      string           `json:"from"`
	To        string           `json:"to"`
	Rate      decimal.Decimal  `json:"rate"`
	Amount    *decimal.Decimal `json:"amount,omitempty"`
	Converted *decimal.Decimal `json:"converted,omitempty"`
}

func (s *Server) handleSeries(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	id := strings.ToUpper(vars["instrument"])
	period, err := domain.ParsePeriod(vars["period"])
	if err != nil {
		s.fail(w, r, err)
		return
	}

	q := r.URL.Query()
	points := defaultChartPoints
	if raw := q.Get("points"); raw != "" {
		points, err = strconv.Atoi(raw)
		if err != nil || points < 2 || points > maxChartPoints {
			s.fail(w, r, errors.Wrapf(domain.ErrInvalidArgument, "points must be within [2, %d], got %q", maxChartPoints, raw))
			return
		}
	}
	progress := 1.0
	if raw := q.Get("progress"); raw != "" {
		progress, err = strconv.ParseFloat(raw, 64)
		if err != nil {
			s.fail(w, r, errors.Wrapf(domain.ErrInvalidArgument, "progress %q is not a number", raw))
			return
		}
	}
	overlays, err := parseOverlays(q)
	if err != nil {
		s.fail(w, r, err)
		return
	}

	series, err := s.deps.Series.Series(r.Context(), id, period)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	series = series.Interpolable()

	view := seriesView{
		InstrumentID: id,
		Period:       period,
		Values:       series.ResampleRaw(points),
		Normalized:   series.Resample(points),
		Progress:     progress,
		PriceAt:      series.PriceAt(progress),
		Change:       series.ChangeAt(progress),
	}
	if latest, ok := series.Latest(); ok {
		view.Latest = &latest
	}
	for _, o := range overlays {
		res, err := o.ForSeries(series, points)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		view.Overlays = append(view.Overlays, res)
	}

	writeJSON(w, http.StatusOK, view)
}

// parseOverlays reads ?ema=20&sma=50&rsi=14&macd=1 and repeated ?overlay=ema:20.
func parseOverlays(q map[string][]string) ([]indicators.Overlay, error) {
	var names []string
	for _, kind := range []indicators.Kind{indicators.KindEMA, indicators.KindSMA, indicators.KindRSI} {
		for _, period := range q[string(kind)] {
			names = append(names, string(kind)+":"+period)
		}
	}
	if len(q[string(indicators.KindMACD)]) > 0 {
		names = append(names, string(indicators.KindMACD))
	}
	names = append(names, q["overlay"]...)

	overlays := make([]indicators.Overlay, 0, len(names))
	for _, raw := range names {
		o, err := indicators.ParseOverlay(raw)
		if err != nil {
			return nil, err
		}
		overlays = append(overlays, o)
	}
	return overlays, nil
}

func (s *Server) handleRate(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	from, to := strings.ToUpper(vars["from"]), strings.ToUpper(vars["to"])

	view := rateView{From: from, To: to}
	if raw := r.URL.Query().Get("amount"); raw != "" {
		amount, err := decimal.NewFromString(raw)
		if err != nil {
			s.fail(w, r, errors.Wrapf(domain.ErrInvalidArgument, "amount %q is not a number", raw))
			return
		}
		view.Amount = &amount
	}

	rate, err := s.deps.Rates.GetRate(r.Context(), from, to)
	if errors.Is(err, domain.ErrRateUnavailable) {
		writeJSON(w, http.StatusServiceUnavailable, errorResponse{
			Error:            err.Error(),
			Code:             codeRateUnavailable,
			FallbackCurrency: s.deps.BaseCurrency,
		})
		return
	}
	if err != nil {
		s.fail(w, r, err)
		return
	}

	view.Rate = rate
	if view.Amount != nil {
		converted := view.Amount.Mul(rate)
		view.Converted = &converted
	}
	writeJSON(w, http.StatusOK, view)
}
