package scheduler

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/vadiminshakov/accrue/internal/domain"
	"github.com/vadiminshakov/accrue/internal/events"
	"github.com/vadiminshakov/accrue/internal/services/ledger"
	"github.com/vadiminshakov/accrue/internal/services/pricer"
	"go.uber.org/zap"
)

type staticPrices map[string]decimal.Decimal

func (p staticPrices) LastPrice(instrumentID string) (decimal.Decimal, bool) {
	v, ok := p[instrumentID]
	return v, ok
}

type mockBuyer struct {
	mock.Mock
}

func (m *mockBuyer) Buy(instrumentID string, grossAmount, pricePerShare decimal.Decimal, feeRateBps int, _ ...ledger.TradeOption) (domain.BuyResult, error) {
	args := m.Called(instrumentID, grossAmount, pricePerShare, feeRateBps)
	return args.Get(0).(domain.BuyResult), args.Error(1)
}

type memStore struct {
	mu         sync.Mutex
	plans      map[string]domain.RecurringPurchase
	order      []string
	executions []domain.ExecutionRecord
}

func newMemStore() *memStore {
	return &memStore{plans: make(map[string]domain.RecurringPurchase)}
}

func (s *memStore) Save(plan domain.RecurringPurchase, exec *domain.ExecutionRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.plans[plan.ID]; !ok {
		s.order = append(s.order, plan.ID)
	}
	s.plans[plan.ID] = plan
	if exec != nil {
		s.executions = append(s.executions, *exec)
	}
	return nil
}

func (s *memStore) Load() ([]domain.RecurringPurchase, []domain.ExecutionRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.RecurringPurchase, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.plans[id])
	}
	return out, append([]domain.ExecutionRecord(nil), s.executions...), nil
}

func (s *memStore) clone() *memStore {
	plans, execs, _ := s.Load()
	c := newMemStore()
	for _, p := range plans {
		_ = c.Save(p, nil)
	}
	c.executions = execs
	return c
}

func decimalMatcher(expected decimal.Decimal) interface{} {
	return mock.MatchedBy(func(actual decimal.Decimal) bool {
		return expected.Equal(actual)
	})
}

var jan15 = time.Date(2026, 1, 15, 10, 0, 0, 0, time.UTC)

func newLedger(t *testing.T, cash int64) *ledger.Ledger {
	t.Helper()
	lg, err := ledger.New(zap.NewNop(), decimal.NewFromInt(cash))
	require.NoError(t, err)
	return lg
}

func newScheduler(t *testing.T, b buyer, p prices, opts ...Option) *Scheduler {
	t.Helper()
	opts = append([]Option{WithClock(func() time.Time { return jan15 })}, opts...)
	sc, err := New(zap.NewNop(), b, p, opts...)
	require.NoError(t, err)
	return sc
}

func TestScheduler_MonthlyPlanExecutesOncePerCycle(t *testing.T) {
	lg := newLedger(t, 1000)
	sc := newScheduler(t, lg, staticPrices{"AAPL": decimal.NewFromInt(10)})

	plan, err := sc.Create("AAPL", decimal.NewFromInt(100), domain.FrequencyMonthly)
	require.NoError(t, err)
	assert.True(t, plan.NextExecutionAt.Equal(time.Date(2026, 2, 15, 10, 0, 0, 0, time.UTC)))

	assert.Empty(t, sc.Tick(context.Background(), jan15.Add(24*time.Hour)))

	feb15 := time.Date(2026, 2, 15, 10, 0, 0, 0, time.UTC)
	records := sc.Tick(context.Background(), feb15)
	require.Len(t, records, 1)
	assert.True(t, records[0].Success)
	assert.Nil(t, records[0].ErrorReason)
	assert.True(t, records[0].SharesAcquired.Equal(decimal.NewFromInt(10)))
	assert.True(t, records[0].ScheduledFor.Equal(feb15))

	// a second tick at the same instant must not execute again
	assert.Empty(t, sc.Tick(context.Background(), feb15))

	plan, err = sc.Plan(plan.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, plan.PurchaseCount)
	assert.True(t, plan.TotalInvested.Equal(decimal.NewFromInt(100)))
	assert.True(t, plan.NextExecutionAt.Equal(time.Date(2026, 3, 15, 10, 0, 0, 0, time.UTC)))
	assert.True(t, lg.Cash().Equal(decimal.NewFromInt(900)))

	records = sc.Tick(context.Background(), time.Date(2026, 3, 15, 10, 0, 0, 0, time.UTC))
	require.Len(t, records, 1)
	assert.True(t, lg.Cash().Equal(decimal.NewFromInt(800)))
	assert.Len(t, sc.Executions(plan.ID), 2)
}

func TestScheduler_InsufficientFundsIsRecordedAndAdvances(t *testing.T) {
	lg := newLedger(t, 50)
	sc := newScheduler(t, lg, staticPrices{"AAPL": decimal.NewFromInt(10)})

	plan, err := sc.Create("AAPL", decimal.NewFromInt(100), domain.FrequencyWeekly)
	require.NoError(t, err)

	records := sc.Tick(context.Background(), plan.NextExecutionAt)
	require.Len(t, records, 1)
	assert.False(t, records[0].Success)
	require.NotNil(t, records[0].ErrorReason)
	assert.Equal(t, domain.ExecutionErrorInsufficientFunds, *records[0].ErrorReason)
	assert.True(t, records[0].SharesAcquired.IsZero())

	updated, err := sc.Plan(plan.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, updated.PurchaseCount)
	assert.True(t, updated.TotalInvested.IsZero())
	assert.True(t, updated.NextExecutionAt.Equal(plan.NextExecutionAt.AddDate(0, 0, 7)))
	assert.True(t, lg.Cash().Equal(decimal.NewFromInt(50)))
}

func TestScheduler_UsesLastKnownPriceAfterOutage(t *testing.T) {
	lg := newLedger(t, 1000)
	due := time.Date(2026, 2, 15, 10, 0, 0, 0, time.UTC)
	book := pricer.NewPriceBook(5*time.Minute, func() time.Time { return due })
	// last refresh succeeded two hours before the due date
	book.SetQuote("AAPL", decimal.NewFromInt(20), due.Add(-2*time.Hour))
	_, fresh := book.Quote("AAPL")
	require.False(t, fresh)

	sc := newScheduler(t, lg, book)
	plan, err := sc.Create("AAPL", decimal.NewFromInt(100), domain.FrequencyMonthly)
	require.NoError(t, err)
	require.True(t, plan.NextExecutionAt.Equal(due))

	records := sc.Tick(context.Background(), due)
	require.Len(t, records, 1)
	assert.True(t, records[0].Success)
	assert.True(t, records[0].PricePerShare.Equal(decimal.NewFromInt(20)))
	assert.True(t, records[0].SharesAcquired.Equal(decimal.NewFromInt(5)))
	assert.True(t, lg.Cash().Equal(decimal.NewFromInt(900)))
}

func TestScheduler_MissingPriceSkipsBuyer(t *testing.T) {
	b := &mockBuyer{}
	sc := newScheduler(t, b, staticPrices{})

	plan, err := sc.Create("AAPL", decimal.NewFromInt(100), domain.FrequencyDaily)
	require.NoError(t, err)

	records := sc.Tick(context.Background(), plan.NextExecutionAt)
	require.Len(t, records, 1)
	require.NotNil(t, records[0].ErrorReason)
	assert.Equal(t, domain.ExecutionErrorPriceUnavailable, *records[0].ErrorReason)
	b.AssertNotCalled(t, "Buy", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestScheduler_BuyerRejectionIsRecorded(t *testing.T) {
	b := &mockBuyer{}
	b.On("Buy", "AAPL", decimalMatcher(decimal.NewFromInt(100)), decimalMatcher(decimal.NewFromInt(20)), 25).
		Return(domain.BuyResult{}, errors.New("exchange closed")).Once()
	sc := newScheduler(t, b, staticPrices{"AAPL": decimal.NewFromInt(20)}, WithFeeRate(25))

	plan, err := sc.Create("AAPL", decimal.NewFromInt(100), domain.FrequencyDaily)
	require.NoError(t, err)

	records := sc.Tick(context.Background(), plan.NextExecutionAt)
	require.Len(t, records, 1)
	require.NotNil(t, records[0].ErrorReason)
	assert.Equal(t, domain.ExecutionErrorRejected, *records[0].ErrorReason)
	assert.True(t, records[0].PricePerShare.Equal(decimal.NewFromInt(20)))
	b.AssertExpectations(t)
}

func TestScheduler_OverdueCyclesCatchUpOnePerTick(t *testing.T) {
	lg := newLedger(t, 1000)
	sc := newScheduler(t, lg, staticPrices{"AAPL": decimal.NewFromInt(10)})

	_, err := sc.Create("AAPL", decimal.NewFromInt(10), domain.FrequencyDaily)
	require.NoError(t, err)

	now := time.Date(2026, 1, 20, 12, 0, 0, 0, time.UTC)
	var scheduled []time.Time
	for i := 0; i < 10; i++ {
		records := sc.Tick(context.Background(), now)
		if len(records) == 0 {
			break
		}
		require.Len(t, records, 1)
		scheduled = append(scheduled, records[0].ScheduledFor)
	}

	// Jan 16 through Jan 20, one cycle per tick
	require.Len(t, scheduled, 5)
	for i, at := range scheduled {
		assert.True(t, at.Equal(time.Date(2026, 1, 16+i, 10, 0, 0, 0, time.UTC)))
	}
	assert.True(t, lg.Cash().Equal(decimal.NewFromInt(950)))
}

func TestScheduler_DueOrder(t *testing.T) {
	lg := newLedger(t, 1000)
	clock := jan15
	sc, err := New(zap.NewNop(), lg, staticPrices{"AAPL": decimal.NewFromInt(10), "MSFT": decimal.NewFromInt(10)},
		WithClock(func() time.Time { return clock }))
	require.NoError(t, err)

	_, err = sc.Create("MSFT", decimal.NewFromInt(10), domain.FrequencyWeekly)
	require.NoError(t, err)
	clock = jan15.Add(-48 * time.Hour)
	_, err = sc.Create("AAPL", decimal.NewFromInt(10), domain.FrequencyWeekly)
	require.NoError(t, err)

	records := sc.Tick(context.Background(), jan15.AddDate(0, 0, 7))
	require.Len(t, records, 2)
	assert.Equal(t, "AAPL", records[0].InstrumentID)
	assert.Equal(t, "MSFT", records[1].InstrumentID)
}

func TestScheduler_StatusTransitions(t *testing.T) {
	lg := newLedger(t, 1000)
	clock := jan15
	sc, err := New(zap.NewNop(), lg, staticPrices{"AAPL": decimal.NewFromInt(10)},
		WithClock(func() time.Time { return clock }))
	require.NoError(t, err)

	plan, err := sc.Create("AAPL", decimal.NewFromInt(100), domain.FrequencyWeekly)
	require.NoError(t, err)

	_, err = sc.Pause(plan.ID)
	require.NoError(t, err)
	assert.Empty(t, sc.Tick(context.Background(), plan.NextExecutionAt.AddDate(0, 1, 0)))

	_, err = sc.Pause(plan.ID)
	assert.True(t, errors.Is(err, domain.ErrInvalidTransition))

	clock = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	resumed, err := sc.Resume(plan.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.PlanStatusActive, resumed.Status)
	assert.True(t, resumed.NextExecutionAt.Equal(time.Date(2026, 3, 8, 9, 0, 0, 0, time.UTC)))

	cancelled, err := sc.Cancel(plan.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.PlanStatusCancelled, cancelled.Status)

	_, err = sc.Resume(plan.ID)
	assert.True(t, errors.Is(err, domain.ErrInvalidTransition))
	_, err = sc.Cancel(plan.ID)
	assert.True(t, errors.Is(err, domain.ErrInvalidTransition))
	assert.Empty(t, sc.Tick(context.Background(), time.Date(2027, 1, 1, 0, 0, 0, 0, time.UTC)))

	_, err = sc.Pause("missing")
	assert.True(t, errors.Is(err, domain.ErrPlanNotFound))
}

func TestScheduler_OneLivePlanPerInstrument(t *testing.T) {
	sc := newScheduler(t, newLedger(t, 1000), staticPrices{})

	first, err := sc.Create("AAPL", decimal.NewFromInt(100), domain.FrequencyWeekly)
	require.NoError(t, err)

	_, err = sc.Create("AAPL", decimal.NewFromInt(50), domain.FrequencyDaily)
	assert.True(t, errors.Is(err, domain.ErrDuplicateActivePlan))

	_, err = sc.Pause(first.ID)
	require.NoError(t, err)
	_, err = sc.Create("AAPL", decimal.NewFromInt(50), domain.FrequencyDaily)
	assert.True(t, errors.Is(err, domain.ErrDuplicateActivePlan))

	_, err = sc.Cancel(first.ID)
	require.NoError(t, err)
	_, err = sc.Create("AAPL", decimal.NewFromInt(50), domain.FrequencyDaily)
	require.NoError(t, err)

	assert.Len(t, sc.Plans(), 2)
	assert.Len(t, sc.Plans(domain.PlanStatusActive), 1)
	assert.Len(t, sc.Plans(domain.PlanStatusCancelled), 1)
}

func TestScheduler_CreateValidates(t *testing.T) {
	sc := newScheduler(t, newLedger(t, 1000), staticPrices{})

	_, err := sc.Create("AAPL", decimal.Zero, domain.FrequencyWeekly)
	assert.True(t, errors.Is(err, domain.ErrInvalidArgument))
	_, err = sc.Create("", decimal.NewFromInt(1), domain.FrequencyWeekly)
	assert.True(t, errors.Is(err, domain.ErrInvalidArgument))
	_, err = sc.Create("AAPL", decimal.NewFromInt(1), domain.Frequency("hourly"))
	assert.True(t, errors.Is(err, domain.ErrInvalidArgument))
	assert.Empty(t, sc.Plans())
}

func TestScheduler_RestoreFromStore(t *testing.T) {
	st := newMemStore()
	lg := newLedger(t, 1000)
	sc := newScheduler(t, lg, staticPrices{"AAPL": decimal.NewFromInt(10)}, WithStore(st))

	plan, err := sc.Create("AAPL", decimal.NewFromInt(100), domain.FrequencyMonthly)
	require.NoError(t, err)
	require.Len(t, sc.Tick(context.Background(), plan.NextExecutionAt), 1)

	restored := newScheduler(t, lg, staticPrices{"AAPL": decimal.NewFromInt(10)}, WithStore(st))
	got, err := restored.Plan(plan.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, got.PurchaseCount)
	assert.True(t, got.NextExecutionAt.Equal(time.Date(2026, 3, 15, 10, 0, 0, 0, time.UTC)))
	assert.Len(t, restored.Executions(""), 1)
}

func TestScheduler_ReplayAfterCrashDoesNotChargeTwice(t *testing.T) {
	st := newMemStore()
	lg := newLedger(t, 1000)
	sc := newScheduler(t, lg, staticPrices{"AAPL": decimal.NewFromInt(10)}, WithStore(st))

	plan, err := sc.Create("AAPL", decimal.NewFromInt(100), domain.FrequencyMonthly)
	require.NoError(t, err)
	beforeTick := st.clone()

	require.Len(t, sc.Tick(context.Background(), plan.NextExecutionAt), 1)
	require.True(t, lg.Cash().Equal(decimal.NewFromInt(900)))

	// the plan state written before the execution is all that survived
	replayed := newScheduler(t, lg, staticPrices{"AAPL": decimal.NewFromInt(10)}, WithStore(beforeTick))
	records := replayed.Tick(context.Background(), plan.NextExecutionAt)
	require.Len(t, records, 1)
	assert.True(t, records[0].Success)
	assert.True(t, lg.Cash().Equal(decimal.NewFromInt(900)))
	assert.Len(t, lg.Trades(), 1)
}

func TestScheduler_CancelledContextStopsTick(t *testing.T) {
	sc := newScheduler(t, newLedger(t, 1000), staticPrices{"AAPL": decimal.NewFromInt(10)})
	plan, err := sc.Create("AAPL", decimal.NewFromInt(100), domain.FrequencyDaily)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.Empty(t, sc.Tick(ctx, plan.NextExecutionAt))

	got, err := sc.Plan(plan.ID)
	require.NoError(t, err)
	assert.True(t, got.NextExecutionAt.Equal(plan.NextExecutionAt))
}

func TestScheduler_RunPublishesExecutions(t *testing.T) {
	broadcaster := events.NewExecutionBroadcaster(8)
	sub := broadcaster.Subscribe()
	defer broadcaster.Unsubscribe(sub)

	lg := newLedger(t, 1000)
	clock := jan15
	var mu sync.Mutex
	sc, err := New(zap.NewNop(), lg, staticPrices{"AAPL": decimal.NewFromInt(10)},
		WithNotifier(broadcaster),
		WithClock(func() time.Time {
			mu.Lock()
			defer mu.Unlock()
			return clock
		}))
	require.NoError(t, err)

	plan, err := sc.Create("AAPL", decimal.NewFromInt(100), domain.FrequencyDaily)
	require.NoError(t, err)
	mu.Lock()
	clock = plan.NextExecutionAt
	mu.Unlock()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- sc.Run(ctx, 5*time.Millisecond)
	}()

	select {
	case rec := <-sub:
		assert.Equal(t, plan.ID, rec.RecurringPurchaseID)
		assert.True(t, rec.Success)
	case <-time.After(2 * time.Second):
		t.Fatal("no execution published")
	}

	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
}

func TestScheduler_RunRejectsBadInterval(t *testing.T) {
	sc := newScheduler(t, newLedger(t, 1), staticPrices{})
	assert.True(t, errors.Is(sc.Run(context.Background(), 0), domain.ErrInvalidArgument))
}
