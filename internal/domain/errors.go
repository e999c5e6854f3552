package domain

import "github.com/pkg/errors"

// Recoverable conditions returned by the ledger, scheduler and rate cache.
// Callers match them with errors.Is.
var (
	ErrInsufficientFunds   = errors.New("insufficient funds")
	ErrInsufficientShares  = errors.New("insufficient shares")
	ErrDuplicateActivePlan = errors.New("an active or paused plan already exists for this instrument")
	ErrRateUnavailable     = errors.New("exchange rate unavailable")
	ErrPlanNotFound        = errors.New("recurring purchase not found")
	ErrInvalidTransition   = errors.New("invalid plan status transition")
	ErrInvalidArgument     = errors.New("invalid argument")
	ErrPriceUnavailable    = errors.New("price unavailable")
	ErrUnknownCurrency     = errors.New("unknown currency")
)

// ExecutionError is the persisted reason of a failed recurring execution.
type ExecutionError string

const (
	ExecutionErrorInsufficientFunds ExecutionError = "insufficient_funds"
	ExecutionErrorPriceUnavailable  ExecutionError = "price_unavailable"
	ExecutionErrorRejected          ExecutionError = "rejected"
)

// ExecutionErrorFor classifies err into a persisted reason.
func ExecutionErrorFor(err error) ExecutionError {
	switch {
	case errors.Is(err, ErrInsufficientFunds):
		return ExecutionErrorInsufficientFunds
	case errors.Is(err, ErrPriceUnavailable):
		return ExecutionErrorPriceUnavailable
	default:
		return ExecutionErrorRejected
	}
}

func invalidf(format string, args ...any) error {
	return errors.Wrapf(ErrInvalidArgument, format, args...)
}
