package domain

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func TestFrequency_NextDate(t *testing.T) {
	from := time.Date(2026, 1, 15, 9, 30, 0, 0, time.UTC)

	require.Equal(t, time.Date(2026, 1, 16, 9, 30, 0, 0, time.UTC), FrequencyDaily.NextDate(from))
	require.Equal(t, time.Date(2026, 1, 22, 9, 30, 0, 0, time.UTC), FrequencyWeekly.NextDate(from))
	require.Equal(t, time.Date(2026, 1, 29, 9, 30, 0, 0, time.UTC), FrequencyBiweekly.NextDate(from))
	require.Equal(t, time.Date(2026, 2, 15, 9, 30, 0, 0, time.UTC), FrequencyMonthly.NextDate(from))
}

func TestFrequency_MonthlyClampsToMonthEnd(t *testing.T) {
	jan31 := time.Date(2026, 1, 31, 0, 0, 0, 0, time.UTC)
	require.Equal(t, time.Date(2026, 2, 28, 0, 0, 0, 0, time.UTC), FrequencyMonthly.NextDate(jan31))

	leap := time.Date(2028, 1, 30, 0, 0, 0, 0, time.UTC)
	require.Equal(t, time.Date(2028, 2, 29, 0, 0, 0, 0, time.UTC), FrequencyMonthly.NextDate(leap))

	dec31 := time.Date(2026, 12, 31, 0, 0, 0, 0, time.UTC)
	require.Equal(t, time.Date(2027, 1, 31, 0, 0, 0, 0, time.UTC), FrequencyMonthly.NextDate(dec31))
}

func TestRecurringPurchase_AdvanceReturnsToAnchorDay(t *testing.T) {
	created := time.Date(2026, 1, 31, 12, 0, 0, 0, time.UTC)
	plan, err := NewRecurringPurchase("p1", "BTC_USDT", decimal.NewFromInt(10), FrequencyMonthly, created)
	require.NoError(t, err)
	require.Equal(t, time.Date(2026, 2, 28, 12, 0, 0, 0, time.UTC), plan.NextExecutionAt)

	plan.Advance(created)
	require.Equal(t, time.Date(2026, 3, 31, 12, 0, 0, 0, time.UTC), plan.NextExecutionAt)
}

func TestRecurringPurchase_Transitions(t *testing.T) {
	now := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	plan, err := NewRecurringPurchase("p1", "BTC_USDT", decimal.NewFromInt(10), FrequencyWeekly, now)
	require.NoError(t, err)
	require.Equal(t, PlanStatusActive, plan.Status)

	require.ErrorIs(t, plan.Resume(now), ErrInvalidTransition)
	require.NoError(t, plan.Pause(now))
	require.ErrorIs(t, plan.Pause(now), ErrInvalidTransition)

	later := now.Add(30 * 24 * time.Hour)
	require.NoError(t, plan.Resume(later))
	require.Equal(t, later.AddDate(0, 0, 7), plan.NextExecutionAt)

	require.NoError(t, plan.Cancel(later))
	require.ErrorIs(t, plan.Pause(later), ErrInvalidTransition)
	require.ErrorIs(t, plan.Resume(later), ErrInvalidTransition)
	require.ErrorIs(t, plan.Cancel(later), ErrInvalidTransition)
	require.Equal(t, PlanStatusCancelled, plan.Status)
	require.False(t, plan.IsDue(later.AddDate(1, 0, 0)))
}

func TestNewRecurringPurchase_Validation(t *testing.T) {
	now := time.Now()

	_, err := NewRecurringPurchase("p", "", decimal.NewFromInt(1), FrequencyDaily, now)
	require.ErrorIs(t, err, ErrInvalidArgument)

	_, err = NewRecurringPurchase("p", "X", decimal.Zero, FrequencyDaily, now)
	require.ErrorIs(t, err, ErrInvalidArgument)

	_, err = NewRecurringPurchase("p", "X", decimal.NewFromInt(1), Frequency("hourly"), now)
	require.ErrorIs(t, err, ErrInvalidArgument)
}
