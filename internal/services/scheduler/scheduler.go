// Package scheduler runs recurring purchase plans against the ledger.
package scheduler

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/vadiminshakov/accrue/internal/domain"
	"github.com/vadiminshakov/accrue/internal/services/ledger"
	"go.uber.org/zap"
)

type buyer interface {
	Buy(instrumentID string, grossAmount, pricePerShare decimal.Decimal, feeRateBps int, opts ...ledger.TradeOption) (domain.BuyResult, error)
}

type prices interface {
	LastPrice(instrumentID string) (decimal.Decimal, bool)
}

type store interface {
	Save(plan domain.RecurringPurchase, exec *domain.ExecutionRecord) error
	Load() ([]domain.RecurringPurchase, []domain.ExecutionRecord, error)
}

type notifier interface {
	Publish(rec domain.ExecutionRecord)
}

// Scheduler owns the plans. Tick may run concurrently with plan edits; both
// are serialized so a plan is never executed twice for the same due date.
type Scheduler struct {
	mu         sync.Mutex
	plans      map[string]*domain.RecurringPurchase
	order      []string
	executions []domain.ExecutionRecord

	buyer      buyer
	prices     prices
	store      store
	notifier   notifier
	feeRateBps int
	clock      func() time.Time
	l          *zap.Logger
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithStore persists plans and executions and restores them on creation.
func WithStore(s store) Option {
	return func(sc *Scheduler) {
		sc.store = s
	}
}

// WithNotifier publishes every execution record.
func WithNotifier(n notifier) Option {
	return func(sc *Scheduler) {
		sc.notifier = n
	}
}

// WithClock overrides time.Now for plan creation and transitions.
func WithClock(clock func() time.Time) Option {
	return func(sc *Scheduler) {
		sc.clock = clock
	}
}

// WithFeeRate sets the fee charged on scheduled buys, in basis points.
func WithFeeRate(bps int) Option {
	return func(sc *Scheduler) {
		sc.feeRateBps = bps
	}
}

// New creates a scheduler that buys through b at prices from p.
func New(l *zap.Logger, b buyer, p prices, opts ...Option) (*Scheduler, error) {
	if l == nil {
		l = zap.NewNop()
	}
	if b == nil || p == nil {
		return nil, errors.Wrap(domain.ErrInvalidArgument, "buyer and prices are required")
	}

	sc := &Scheduler{
		plans:  make(map[string]*domain.RecurringPurchase),
		buyer:  b,
		prices: p,
		clock:  time.Now,
		l:      l.With(zap.String("component", "scheduler")),
	}
	for _, opt := range opts {
		opt(sc)
	}
	if sc.feeRateBps < 0 || sc.feeRateBps > domain.MaxFeeRateBps {
		return nil, errors.Wrapf(domain.ErrInvalidArgument, "fee rate must be within [0, %d] bps, got %d", domain.MaxFeeRateBps, sc.feeRateBps)
	}

	if sc.store != nil {
		plans, executions, err := sc.store.Load()
		if err != nil {
			return nil, errors.Wrap(err, "restore plans")
		}
		for i := range plans {
			plan := plans[i]
			sc.plans[plan.ID] = &plan
			sc.order = append(sc.order, plan.ID)
		}
		sc.executions = executions
		if len(plans) > 0 {
			sc.l.Info("plans restored", zap.Int("plans", len(plans)), zap.Int("executions", len(executions)))
		}
	}

	return sc, nil
}

// Create adds an active plan whose first execution is one cycle from now.
// At most one active or paused plan may exist per instrument.
func (sc *Scheduler) Create(instrumentID string, amount decimal.Decimal, freq domain.Frequency) (domain.RecurringPurchase, error) {
	instrumentID = strings.TrimSpace(instrumentID)

	sc.mu.Lock()
	defer sc.mu.Unlock()

	for _, id := range sc.order {
		p := sc.plans[id]
		if p.InstrumentID == instrumentID && p.Status.IsLive() {
			return domain.RecurringPurchase{}, errors.Wrapf(domain.ErrDuplicateActivePlan, "%s: plan %s is %s", instrumentID, p.ID, p.Status)
		}
	}

	plan, err := domain.NewRecurringPurchase(uuid.New().String(), instrumentID, amount, freq, sc.clock())
	if err != nil {
		return domain.RecurringPurchase{}, err
	}
	if err := sc.persist(plan, nil); err != nil {
		return domain.RecurringPurchase{}, err
	}

	sc.plans[plan.ID] = &plan
	sc.order = append(sc.order, plan.ID)

	sc.l.Info("plan created",
		zap.String("plan_id", plan.ID),
		zap.String("instrument", instrumentID),
		zap.String("amount", amount.String()),
		zap.String("frequency", string(freq)),
		zap.Time("next_execution_at", plan.NextExecutionAt))

	return plan, nil
}

// Pause stops an active plan from executing.
func (sc *Scheduler) Pause(id string) (domain.RecurringPurchase, error) {
	return sc.transition(id, "paused", (*domain.RecurringPurchase).Pause)
}

// Resume reactivates a paused plan one cycle from now.
func (sc *Scheduler) Resume(id string) (domain.RecurringPurchase, error) {
	return sc.transition(id, "resumed", (*domain.RecurringPurchase).Resume)
}

// Cancel ends a plan for good.
func (sc *Scheduler) Cancel(id string) (domain.RecurringPurchase, error) {
	return sc.transition(id, "cancelled", (*domain.RecurringPurchase).Cancel)
}

func (sc *Scheduler) transition(id, verb string, apply func(*domain.RecurringPurchase, time.Time) error) (domain.RecurringPurchase, error) {
	sc.mu.Lock()
	defer sc.mu.Unlock()

	cur, ok := sc.plans[id]
	if !ok {
		return domain.RecurringPurchase{}, errors.Wrapf(domain.ErrPlanNotFound, "plan %s", id)
	}

	next := *cur
	if err := apply(&next, sc.clock()); err != nil {
		return domain.RecurringPurchase{}, err
	}
	if err := sc.persist(next, nil); err != nil {
		return domain.RecurringPurchase{}, err
	}
	*cur = next

	sc.l.Info("plan "+verb, zap.String("plan_id", id), zap.String("status", string(next.Status)),
		zap.Time("next_execution_at", next.NextExecutionAt))

	return next, nil
}

// Tick executes every plan due at now, in due-date order. Each due plan runs
// at most once per call and advances by one cycle, so a plan that is several
// cycles behind catches up over consecutive ticks. Failed executions are
// recorded and the plan still advances.
func (sc *Scheduler) Tick(ctx context.Context, now time.Time) []domain.ExecutionRecord {
	sc.mu.Lock()
	defer sc.mu.Unlock()

	due := make([]*domain.RecurringPurchase, 0)
	for _, id := range sc.order {
		if p := sc.plans[id]; p.IsDue(now) {
			due = append(due, p)
		}
	}
	sort.SliceStable(due, func(i, j int) bool {
		return due[i].NextExecutionAt.Before(due[j].NextExecutionAt)
	})

	records := make([]domain.ExecutionRecord, 0, len(due))
	for _, plan := range due {
		if ctx.Err() != nil {
			sc.l.Info("tick interrupted", zap.Int("remaining", len(due)-len(records)))
			break
		}
		records = append(records, sc.execute(plan, now))
	}

	return records
}

// execute must be called with mu held.
func (sc *Scheduler) execute(cur *domain.RecurringPurchase, now time.Time) domain.ExecutionRecord {
	next := *cur
	rec := domain.ExecutionRecord{
		ID:                  uuid.New().String(),
		RecurringPurchaseID: next.ID,
		InstrumentID:        next.InstrumentID,
		AmountRequested:     next.AmountPerExecution,
		SharesAcquired:      decimal.Zero,
		PricePerShare:       decimal.Zero,
		FeeCharged:          decimal.Zero,
		ScheduledFor:        next.NextExecutionAt,
		ExecutedAt:          now,
	}

	logger := sc.l.With(zap.String("plan_id", next.ID), zap.String("instrument", next.InstrumentID),
		zap.Time("scheduled_for", rec.ScheduledFor))

	price, ok := sc.prices.LastPrice(next.InstrumentID)
	if !ok || !price.IsPositive() {
		reason := domain.ExecutionErrorPriceUnavailable
		rec.ErrorReason = &reason
		logger.Warn("recurring purchase skipped: no price")
	} else {
		rec.PricePerShare = price
		ref := domain.ExecutionReference(next.ID, rec.ScheduledFor)
		res, err := sc.buyer.Buy(next.InstrumentID, next.AmountPerExecution, price, sc.feeRateBps, ledger.WithReference(ref))
		if err != nil {
			reason := domain.ExecutionErrorFor(err)
			rec.ErrorReason = &reason
			logger.Warn("recurring purchase failed", zap.Error(err), zap.String("reason", string(reason)))
		} else {
			rec.Success = true
			rec.SharesAcquired = res.SharesAcquired
			rec.FeeCharged = res.FeeCharged
			next.RecordPurchase(next.AmountPerExecution)
			logger.Info("recurring purchase executed",
				zap.String("amount", next.AmountPerExecution.String()),
				zap.String("shares", res.SharesAcquired.String()),
				zap.String("price", price.String()))
		}
	}

	next.Advance(now)
	if err := sc.persist(next, &rec); err != nil {
		// the ledger reference keeps a replay of this due date from charging twice
		logger.Error("failed to persist execution", zap.Error(err))
	}
	*cur = next
	sc.executions = append(sc.executions, rec)

	if sc.notifier != nil {
		sc.notifier.Publish(rec)
	}
	return rec
}

func (sc *Scheduler) persist(plan domain.RecurringPurchase, exec *domain.ExecutionRecord) error {
	if sc.store == nil {
		return nil
	}
	if err := sc.store.Save(plan, exec); err != nil {
		return errors.Wrapf(err, "persist plan %s", plan.ID)
	}
	return nil
}

// Plan returns the plan with id.
func (sc *Scheduler) Plan(id string) (domain.RecurringPurchase, error) {
	sc.mu.Lock()
	defer sc.mu.Unlock()

	p, ok := sc.plans[id]
	if !ok {
		return domain.RecurringPurchase{}, errors.Wrapf(domain.ErrPlanNotFound, "plan %s", id)
	}
	return *p, nil
}

// Plans returns plans in creation order, filtered by status when any are given.
func (sc *Scheduler) Plans(statuses ...domain.PlanStatus) []domain.RecurringPurchase {
	sc.mu.Lock()
	defer sc.mu.Unlock()

	out := make([]domain.RecurringPurchase, 0, len(sc.order))
	for _, id := range sc.order {
		p := sc.plans[id]
		if len(statuses) > 0 && !hasStatus(statuses, p.Status) {
			continue
		}
		out = append(out, *p)
	}
	return out
}

func hasStatus(statuses []domain.PlanStatus, s domain.PlanStatus) bool {
	for _, st := range statuses {
		if st == s {
			return true
		}
	}
	return false
}

// Executions returns execution records, oldest first. An empty planID returns all.
func (sc *Scheduler) Executions(planID string) []domain.ExecutionRecord {
	sc.mu.Lock()
	defer sc.mu.Unlock()

	out := make([]domain.ExecutionRecord, 0)
	for _, rec := range sc.executions {
		if planID == "" || rec.RecurringPurchaseID == planID {
			out = append(out, rec)
		}
	}
	return out
}

// Run ticks every interval until ctx is done.
func (sc *Scheduler) Run(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		return errors.Wrapf(domain.ErrInvalidArgument, "tick interval must be positive, got %s", interval)
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	sc.l.Info("starting scheduler loop", zap.Duration("interval", interval))

	for {
		select {
		case <-ctx.Done():
			sc.l.Info("context done, stopping scheduler loop")
			return ctx.Err()
		case <-ticker.C:
			records := sc.Tick(ctx, sc.clock())
			if len(records) > 0 {
				sc.l.Debug("scheduler tick", zap.Int("executions", len(records)))
			}
		}
	}
}
