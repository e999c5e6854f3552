package domain

import (
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
)

// PlanStatus is the lifecycle state of a recurring purchase.
type PlanStatus string

const (
	PlanStatusActive    PlanStatus = "active"
	PlanStatusPaused    PlanStatus = "paused"
	PlanStatusCancelled PlanStatus = "cancelled"
)

// ParsePlanStatus parses a status name case-insensitively.
func ParsePlanStatus(s string) (PlanStatus, error) {
	st := PlanStatus(strings.ToLower(strings.TrimSpace(s)))
	switch st {
	case PlanStatusActive, PlanStatusPaused, PlanStatusCancelled:
		return st, nil
	}
	return "", invalidf("unknown plan status %q", s)
}

// IsLive reports whether the plan still occupies its instrument slot.
func (s PlanStatus) IsLive() bool {
	return s == PlanStatusActive || s == PlanStatusPaused
}

// RecurringPurchase buys a fixed amount of one instrument on a cadence.
type RecurringPurchase struct {
	ID                 string          `json:"id"`
	InstrumentID       string          `json:"instrument_id"`
	AmountPerExecution decimal.Decimal `json:"amount_per_execution"`
	Frequency          Frequency       `json:"frequency"`
	Status             PlanStatus      `json:"status"`
	NextExecutionAt    time.Time       `json:"next_execution_at"`
	PurchaseCount      int             `json:"purchase_count"`
	TotalInvested      decimal.Decimal `json:"total_invested"`
	// AnchorDay is the day of month monthly plans return to.
	AnchorDay int       `json:"anchor_day"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NewRecurringPurchase creates an active plan scheduled one cycle after createdAt.
func NewRecurringPurchase(id, instrumentID string, amount decimal.Decimal, freq Frequency, createdAt time.Time) (RecurringPurchase, error) {
	if strings.TrimSpace(instrumentID) == "" {
		return RecurringPurchase{}, invalidf("instrument is required")
	}
	if !amount.IsPositive() {
		return RecurringPurchase{}, invalidf("amount per execution must be positive, got %s", amount.String())
	}
	if !freq.Valid() {
		return RecurringPurchase{}, invalidf("unknown frequency %q", freq)
	}

	return RecurringPurchase{
		ID:                 id,
		InstrumentID:       instrumentID,
		AmountPerExecution: amount,
		Frequency:          freq,
		Status:             PlanStatusActive,
		NextExecutionAt:    freq.NextDate(createdAt),
		TotalInvested:      decimal.Zero,
		AnchorDay:          createdAt.Day(),
		CreatedAt:          createdAt,
		UpdatedAt:          createdAt,
	}, nil
}

// IsDue reports whether an active plan should execute at now.
func (p *RecurringPurchase) IsDue(now time.Time) bool {
	return p.Status == PlanStatusActive && !p.NextExecutionAt.After(now)
}

// Pause moves an active plan to paused.
func (p *RecurringPurchase) Pause(now time.Time) error {
	if p.Status != PlanStatusActive {
		return errors.Wrapf(ErrInvalidTransition, "cannot pause %s plan", p.Status)
	}
	p.Status = PlanStatusPaused
	p.UpdatedAt = now
	return nil
}

// Resume moves a paused plan back to active and schedules it one cycle after
// now. Cycles missed while paused are not executed.
func (p *RecurringPurchase) Resume(now time.Time) error {
	if p.Status != PlanStatusPaused {
		return errors.Wrapf(ErrInvalidTransition, "cannot resume %s plan", p.Status)
	}
	p.Status = PlanStatusActive
	p.AnchorDay = now.Day()
	p.NextExecutionAt = p.Frequency.NextDate(now)
	p.UpdatedAt = now
	return nil
}

// Cancel ends the plan. Cancelled is terminal.
func (p *RecurringPurchase) Cancel(now time.Time) error {
	if !p.Status.IsLive() {
		return errors.Wrapf(ErrInvalidTransition, "cannot cancel %s plan", p.Status)
	}
	p.Status = PlanStatusCancelled
	p.UpdatedAt = now
	return nil
}

// Advance moves the schedule one cycle past the current due date.
func (p *RecurringPurchase) Advance(now time.Time) {
	p.NextExecutionAt = p.Frequency.nextDate(p.NextExecutionAt, p.AnchorDay)
	p.UpdatedAt = now
}

// RecordPurchase accounts a successful execution of amount.
func (p *RecurringPurchase) RecordPurchase(amount decimal.Decimal) {
	p.PurchaseCount++
	p.TotalInvested = p.TotalInvested.Add(amount)
}

// ExecutionRecord is the append-only audit entry of one scheduled execution.
type ExecutionRecord struct {
	ID                  string          `json:"id"`
	RecurringPurchaseID string          `json:"recurring_purchase_id"`
	InstrumentID        string          `json:"instrument_id"`
	AmountRequested     decimal.Decimal `json:"amount_requested"`
	SharesAcquired      decimal.Decimal `json:"shares_acquired"`
	PricePerShare       decimal.Decimal `json:"price_per_share"`
	FeeCharged          decimal.Decimal `json:"fee_charged"`
	Success             bool            `json:"success"`
	ErrorReason         *ExecutionError `json:"error_reason,omitempty"`
	// ScheduledFor is the due date this record settles.
	ScheduledFor time.Time `json:"scheduled_for"`
	ExecutedAt   time.Time `json:"executed_at"`
}

// ExecutionReference returns the idempotency key of a plan's due date.
func ExecutionReference(planID string, scheduledFor time.Time) string {
	return planID + "/" + scheduledFor.UTC().Format(time.RFC3339Nano)
}
