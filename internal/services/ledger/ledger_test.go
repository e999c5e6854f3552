package ledger

import (
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vadiminshakov/accrue/internal/domain"
	"go.uber.org/zap"
)

type memJournal struct {
	mu        sync.Mutex
	portfolio *domain.Portfolio
	trades    []domain.Trade
	failWith  error
}

func (j *memJournal) Load() (*domain.Portfolio, []domain.Trade, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.portfolio == nil {
		return nil, nil, nil
	}
	p := j.portfolio.Clone()
	return &p, append([]domain.Trade(nil), j.trades...), nil
}

func (j *memJournal) Record(portfolio domain.Portfolio, trade domain.Trade) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.failWith != nil {
		return j.failWith
	}
	p := portfolio.Clone()
	j.portfolio = &p
	j.trades = append(j.trades, trade)
	return nil
}

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func newLedger(t *testing.T, cash string, opts ...Option) *Ledger {
	t.Helper()
	lg, err := New(zap.NewNop(), d(cash), opts...)
	require.NoError(t, err)
	return lg
}

func TestLedger_BuyWithFee(t *testing.T) {
	lg := newLedger(t, "10000")

	res, err := lg.Buy("AAPL", d("1000"), d("100"), 50)
	require.NoError(t, err)

	assert.True(t, res.FeeCharged.Equal(d("5")))
	assert.True(t, res.NetAmount.Equal(d("995")))
	assert.True(t, res.SharesAcquired.Equal(d("9.95")))
	assert.NotEmpty(t, res.TradeID)
	assert.True(t, lg.Cash().Equal(d("9000")))

	h, ok := lg.Holding("AAPL")
	require.True(t, ok)
	assert.True(t, h.Shares.Equal(d("9.95")))
	assert.True(t, h.TotalCost.Equal(d("995")))
	assert.True(t, h.AverageCost.Equal(d("100")))

	pnl := lg.UnrealizedPnL("AAPL", d("110"))
	assert.True(t, pnl.Amount.Equal(d("99.5")))
	assert.True(t, pnl.Percent.Equal(d("10")))
	assert.True(t, pnl.IsPositive)

	assert.Equal(t, uint64(1), lg.Snapshot().Version)
}

func TestLedger_BuyInsufficientFunds(t *testing.T) {
	lg := newLedger(t, "50")

	_, err := lg.Buy("AAPL", d("100"), d("10"), 0)
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrInsufficientFunds))

	snap := lg.Snapshot()
	assert.True(t, snap.CashBalance.Equal(d("50")))
	assert.Empty(t, snap.Holdings)
	assert.Equal(t, uint64(0), snap.Version)
	assert.Empty(t, lg.Trades())
}

func TestLedger_BuyRejectsInvalidInput(t *testing.T) {
	lg := newLedger(t, "1000")

	tests := []struct {
		name  string
		inst  string
		gross string
		price string
		fee   int
	}{
		{"empty instrument", "", "10", "1", 0},
		{"zero gross", "AAPL", "0", "1", 0},
		{"negative gross", "AAPL", "-1", "1", 0},
		{"zero price", "AAPL", "10", "0", 0},
		{"negative fee", "AAPL", "10", "1", -1},
		{"fee above gross", "AAPL", "10", "1", domain.MaxFeeRateBps + 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := lg.Buy(tt.inst, d(tt.gross), d(tt.price), tt.fee)
			require.Error(t, err)
			assert.True(t, errors.Is(err, domain.ErrInvalidArgument))
		})
	}
	assert.True(t, lg.Cash().Equal(d("1000")))
}

func TestLedger_SellKeepsAverageCost(t *testing.T) {
	lg := newLedger(t, "10000")
	_, err := lg.Buy("AAPL", d("1000"), d("100"), 0)
	require.NoError(t, err)

	res, err := lg.Sell("AAPL", d("4"), d("120"))
	require.NoError(t, err)
	assert.True(t, res.Proceeds.Equal(d("480")))
	assert.True(t, res.RealizedPnL.Equal(d("80")))

	h, ok := lg.Holding("AAPL")
	require.True(t, ok)
	assert.True(t, h.Shares.Equal(d("6")))
	assert.True(t, h.AverageCost.Equal(d("100")))
	assert.True(t, h.TotalCost.Equal(d("600")))
	assert.True(t, lg.Cash().Equal(d("9480")))
}

func TestLedger_SellAllRemovesHolding(t *testing.T) {
	lg := newLedger(t, "1000")
	_, err := lg.Buy("AAPL", d("1000"), d("100"), 0)
	require.NoError(t, err)

	_, err = lg.Sell("AAPL", d("10"), d("90"))
	require.NoError(t, err)

	_, ok := lg.Holding("AAPL")
	assert.False(t, ok)
	assert.True(t, lg.Cash().Equal(d("900")))
}

func TestLedger_SellMoreThanHeld(t *testing.T) {
	lg := newLedger(t, "1000")
	_, err := lg.Buy("AAPL", d("1000"), d("100"), 0)
	require.NoError(t, err)

	_, err = lg.Sell("AAPL", d("10.5"), d("100"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrInsufficientShares))

	h, ok := lg.Holding("AAPL")
	require.True(t, ok)
	assert.True(t, h.Shares.Equal(d("10")))

	_, err = lg.Sell("MSFT", d("1"), d("100"))
	assert.True(t, errors.Is(err, domain.ErrInsufficientShares))
}

func TestLedger_BuyWithReferenceIsIdempotent(t *testing.T) {
	lg := newLedger(t, "1000")

	first, err := lg.Buy("AAPL", d("100"), d("10"), 10, WithReference("plan-1/2026-01-15"))
	require.NoError(t, err)
	second, err := lg.Buy("AAPL", d("100"), d("10"), 10, WithReference("plan-1/2026-01-15"))
	require.NoError(t, err)

	assert.Equal(t, first.TradeID, second.TradeID)
	assert.True(t, first.SharesAcquired.Equal(second.SharesAcquired))
	assert.True(t, first.NetAmount.Equal(second.NetAmount))
	assert.True(t, lg.Cash().Equal(d("900")))
	assert.Len(t, lg.Trades(), 1)
}

func TestLedger_DepositWithdraw(t *testing.T) {
	lg := newLedger(t, "100")

	cash, err := lg.Deposit(d("50"))
	require.NoError(t, err)
	assert.True(t, cash.Equal(d("150")))

	_, err = lg.Withdraw(d("151"))
	assert.True(t, errors.Is(err, domain.ErrInsufficientFunds))

	cash, err = lg.Withdraw(d("150"))
	require.NoError(t, err)
	assert.True(t, cash.IsZero())

	_, err = lg.Deposit(d("0"))
	assert.True(t, errors.Is(err, domain.ErrInvalidArgument))

	trades := lg.Trades()
	require.Len(t, trades, 2)
	assert.Equal(t, domain.TradeKindDeposit, trades[0].Kind)
	assert.Equal(t, domain.TradeKindWithdraw, trades[1].Kind)
}

func TestLedger_Valuation(t *testing.T) {
	lg := newLedger(t, "10000")
	_, err := lg.Buy("AAPL", d("1000"), d("100"), 0)
	require.NoError(t, err)
	_, err = lg.Buy("MSFT", d("500"), d("50"), 0)
	require.NoError(t, err)

	value := lg.Valuation(map[string]decimal.Decimal{"AAPL": d("110")})
	assert.True(t, value.Equal(d("1100")))

	value = lg.Valuation(map[string]decimal.Decimal{"AAPL": d("110"), "MSFT": d("60")})
	assert.True(t, value.Equal(d("1700")))
}

func TestLedger_SnapshotIsACopy(t *testing.T) {
	lg := newLedger(t, "1000")
	_, err := lg.Buy("AAPL", d("100"), d("10"), 0)
	require.NoError(t, err)

	snap := lg.Snapshot()
	delete(snap.Holdings, "AAPL")
	snap.CashBalance = decimal.Zero

	_, ok := lg.Holding("AAPL")
	assert.True(t, ok)
	assert.True(t, lg.Cash().Equal(d("900")))
}

func TestLedger_ConcurrentReadsSeeConsistentState(t *testing.T) {
	lg := newLedger(t, "100000")

	var wg sync.WaitGroup
	stop := make(chan struct{})
	errs := make(chan string, 1)

	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
				}
				snap := lg.Snapshot()
				h, ok := snap.Holding("AAPL")
				if !ok {
					continue
				}
				// every buy is 100 cash for 10 shares, so cash and shares move together
				spent := d("100000").Sub(snap.CashBalance)
				if !spent.Equal(h.Shares.Mul(d("10"))) {
					select {
					case errs <- "torn snapshot":
					default:
					}
				}
			}
		}()
	}

	for i := 0; i < 200; i++ {
		_, err := lg.Buy("AAPL", d("100"), d("10"), 0)
		require.NoError(t, err)
	}
	close(stop)
	wg.Wait()

	select {
	case msg := <-errs:
		t.Fatal(msg)
	default:
	}
	assert.Equal(t, uint64(200), lg.Snapshot().Version)
}

func TestLedger_JournalFailureAbortsMutation(t *testing.T) {
	j := &memJournal{failWith: errors.New("disk full")}
	lg := newLedger(t, "1000", WithJournal(j))

	_, err := lg.Buy("AAPL", d("100"), d("10"), 0)
	require.Error(t, err)

	assert.True(t, lg.Cash().Equal(d("1000")))
	assert.Empty(t, lg.Trades())
}

func TestLedger_RestoreFromJournal(t *testing.T) {
	j := &memJournal{}
	at := time.Date(2026, 1, 15, 9, 0, 0, 0, time.UTC)
	lg := newLedger(t, "1000", WithJournal(j), WithClock(func() time.Time { return at }))

	_, err := lg.Buy("AAPL", d("100"), d("10"), 0, WithReference("ref-1"))
	require.NoError(t, err)
	_, err = lg.Deposit(d("50"))
	require.NoError(t, err)

	restored := newLedger(t, "1", WithJournal(j))
	assert.True(t, restored.Cash().Equal(d("950")))
	assert.Equal(t, uint64(2), restored.Snapshot().Version)
	require.Len(t, restored.Trades(), 2)
	assert.True(t, restored.Trades()[0].ExecutedAt.Equal(at))

	// a reference applied before the restart is still known
	_, err = restored.Buy("AAPL", d("100"), d("10"), 0, WithReference("ref-1"))
	require.NoError(t, err)
	assert.True(t, restored.Cash().Equal(d("950")))
}

func TestLedger_NegativeInitialCash(t *testing.T) {
	_, err := New(nil, d("-1"))
	assert.True(t, errors.Is(err, domain.ErrInvalidArgument))
}
