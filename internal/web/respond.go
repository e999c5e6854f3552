package web

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/pkg/errors"
	"github.com/vadiminshakov/accrue/internal/domain"
	"go.uber.org/zap"
)

const maxBodyBytes = 1 << 20

// Error codes returned in the "code" field.
const (
	codeInsufficientFunds  = "insufficient_funds"
	codeInsufficientShares = "insufficient_shares"
	codeDuplicatePlan      = "duplicate_active_plan"
	codeNotFound           = "not_found"
	codeInvalidTransition  = "invalid_transition"
	codeInvalidArgument    = "invalid_argument"
	codeUnknownCurrency    = "unknown_currency"
	codePriceUnavailable   = "price_unavailable"
	codeRateUnavailable    = "rate_unavailable"
	codeRateLimited        = "rate_limited"
	codeInternal           = "internal"
)

type errorResponse struct {
	Error            string `json:"error"`
	Code             string `json:"code"`
	FallbackCurrency string `json:"fallback_currency,omitempty"`
}

// classify maps a service error to its HTTP status and code.
func classify(err error) (int, string) {
	switch {
	case errors.Is(err, domain.ErrInsufficientFunds):
		return http.StatusConflict, codeInsufficientFunds
	case errors.Is(err, domain.ErrInsufficientShares):
		return http.StatusConflict, codeInsufficientShares
	case errors.Is(err, domain.ErrDuplicateActivePlan):
		return http.StatusConflict, codeDuplicatePlan
	case errors.Is(err, domain.ErrPlanNotFound):
		return http.StatusNotFound, codeNotFound
	case errors.Is(err, domain.ErrInvalidTransition):
		return http.StatusUnprocessableEntity, codeInvalidTransition
	case errors.Is(err, domain.ErrInvalidArgument):
		return http.StatusBadRequest, codeInvalidArgument
	case errors.Is(err, domain.ErrUnknownCurrency):
		return http.StatusBadRequest, codeUnknownCurrency
	case errors.Is(err, domain.ErrPriceUnavailable):
		return http.StatusServiceUnavailable, codePriceUnavailable
	case errors.Is(err, domain.ErrRateUnavailable):
		return http.StatusServiceUnavailable, codeRateUnavailable
	default:
		return http.StatusInternalServerError, codeInternal
	}
}

func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	status, code := classify(err)
	if status == http.StatusInternalServerError {
		s.l.Error("request failed", zap.String("path", r.URL.Path), zap.Error(err))
		writeError(w, status, code, "internal error")
		return
	}
	writeError(w, status, code, err.Error())
}

func writeError(w http.ResponseWriter, status int, code, msg string) {
	writeJSON(w, status, errorResponse{Error: msg, Code: code})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func decodeBody(r *http.Request, dst any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return errors.Wrapf(domain.ErrInvalidArgument, "malformed request body: %v", err)
	}
	return nil
}
