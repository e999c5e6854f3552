package plans

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vadiminshakov/accrue/internal/domain"
)

func TestWALStore_LatestStateWins(t *testing.T) {
	dir := t.TempDir()
	created := time.Date(2026, 1, 15, 10, 0, 0, 0, time.UTC)

	store, err := NewWALStore(dir)
	require.NoError(t, err)

	first, err := domain.NewRecurringPurchase("p1", "AAPL", decimal.NewFromInt(100), domain.FrequencyMonthly, created)
	require.NoError(t, err)
	second, err := domain.NewRecurringPurchase("p2", "MSFT", decimal.NewFromInt(50), domain.FrequencyWeekly, created)
	require.NoError(t, err)
	require.NoError(t, store.Save(first, nil))
	require.NoError(t, store.Save(second, nil))

	exec := domain.ExecutionRecord{ID: "e1", RecurringPurchaseID: "p1", Success: true, ScheduledFor: first.NextExecutionAt}
	first.RecordPurchase(decimal.NewFromInt(100))
	first.Advance(first.NextExecutionAt)
	require.NoError(t, store.Save(first, &exec))
	require.NoError(t, store.Close())

	reopened, err := NewWALStore(dir)
	require.NoError(t, err)
	defer reopened.Close()

	plans, executions, err := reopened.Load()
	require.NoError(t, err)
	require.Len(t, plans, 2)
	assert.Equal(t, "p1", plans[0].ID)
	assert.Equal(t, 1, plans[0].PurchaseCount)
	assert.True(t, plans[0].NextExecutionAt.Equal(time.Date(2026, 3, 15, 10, 0, 0, 0, time.UTC)))
	assert.Equal(t, "p2", plans[1].ID)

	require.Len(t, executions, 1)
	assert.Equal(t, "e1", executions[0].ID)
}

func TestWALStore_SaveRequiresID(t *testing.T) {
	store, err := NewWALStore(t.TempDir())
	require.NoError(t, err)
	defer store.Close()

	assert.Error(t, store.Save(domain.RecurringPurchase{}, nil))
}
