// Package ledger owns cash and holdings. Every money-moving operation, manual
// or scheduled, goes through Ledger so the cost basis invariants hold.
package ledger

import (
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/vadiminshakov/accrue/internal/domain"
	"go.uber.org/zap"
)

// journal persists committed mutations. Record is called before the mutation
// becomes visible; an error aborts it.
type journal interface {
	Load() (*domain.Portfolio, []domain.Trade, error)
	Record(portfolio domain.Portfolio, trade domain.Trade) error
}

type state struct {
	portfolio domain.Portfolio
	// trades is append-only; readers never look past their own length.
	trades []domain.Trade
}

// Ledger is safe for concurrent use. Writers are serialized, readers see the
// last committed state without blocking on writers.
type Ledger struct {
	mu    sync.Mutex
	state atomic.Pointer[state]
	refs  map[string]int

	journal journal
	clock   func() time.Time
	l       *zap.Logger
}

// Option configures a Ledger.
type Option func(*Ledger)

// WithJournal persists every mutation and restores state from it on creation.
func WithJournal(j journal) Option {
	return func(lg *Ledger) {
		lg.journal = j
	}
}

// WithClock overrides time.Now for trade timestamps.
func WithClock(clock func() time.Time) Option {
	return func(lg *Ledger) {
		lg.clock = clock
	}
}

// TradeOption configures a single buy.
type TradeOption func(*tradeOptions)

type tradeOptions struct {
	reference string
}

// WithReference makes a buy idempotent: a reference that was already applied
// returns the original result without mutating the ledger again.
func WithReference(ref string) TradeOption {
	return func(o *tradeOptions) {
		o.reference = ref
	}
}

// New creates a ledger funded with initialCash, or restored from the journal
// when it holds a snapshot.
func New(l *zap.Logger, initialCash decimal.Decimal, opts ...Option) (*Ledger, error) {
	if l == nil {
		l = zap.NewNop()
	}
	if initialCash.IsNegative() {
		return nil, errors.Wrapf(domain.ErrInvalidArgument, "initial cash must not be negative, got %s", initialCash.String())
	}

	lg := &Ledger{
		refs:  make(map[string]int),
		clock: time.Now,
		l:     l.With(zap.String("component", "ledger")),
	}
	for _, opt := range opts {
		opt(lg)
	}

	st := &state{portfolio: domain.NewPortfolio(initialCash)}
	if lg.journal != nil {
		restored, trades, err := lg.journal.Load()
		if err != nil {
			return nil, errors.Wrap(err, "restore ledger")
		}
		if restored != nil {
			st.portfolio = restored.Clone()
			st.trades = trades
			lg.l.Info("ledger restored",
				zap.String("cash", st.portfolio.CashBalance.String()),
				zap.Int("holdings", len(st.portfolio.Holdings)),
				zap.Int("trades", len(trades)),
				zap.Uint64("version", st.portfolio.Version))
		}
	}
	for i, tr := range st.trades {
		if tr.Reference != "" {
			lg.refs[tr.Reference] = i
		}
	}
	lg.state.Store(st)

	return lg, nil
}

// Buy spends grossAmount of cash on instrumentID at pricePerShare. The fee is
// taken out of the gross amount before converting into shares.
func (lg *Ledger) Buy(instrumentID string, grossAmount, pricePerShare decimal.Decimal, feeRateBps int, opts ...TradeOption) (domain.BuyResult, error) {
	if strings.TrimSpace(instrumentID) == "" {
		return domain.BuyResult{}, errors.Wrap(domain.ErrInvalidArgument, "instrument is required")
	}
	quote, err := domain.QuoteBuy(grossAmount, pricePerShare, feeRateBps)
	if err != nil {
		return domain.BuyResult{}, err
	}

	var o tradeOptions
	for _, opt := range opts {
		opt(&o)
	}

	lg.mu.Lock()
	defer lg.mu.Unlock()

	cur := lg.state.Load()
	if o.reference != "" {
		if idx, ok := lg.refs[o.reference]; ok {
			prev := cur.trades[idx]
			lg.l.Info("buy already applied", zap.String("reference", o.reference), zap.String("trade_id", prev.ID))
			return domain.BuyResult{
				SharesAcquired: prev.Shares,
				FeeCharged:     prev.Fee,
				NetAmount:      prev.Amount.Sub(prev.Fee),
				TradeID:        prev.ID,
			}, nil
		}
	}

	cash := cur.portfolio.CashBalance
	if grossAmount.GreaterThan(cash) {
		return domain.BuyResult{}, errors.Wrapf(domain.ErrInsufficientFunds, "have %s need %s", cash.String(), grossAmount.String())
	}

	next := cur.portfolio.Clone()
	next.CashBalance = cash.Sub(grossAmount)
	holding, ok := next.Holdings[instrumentID]
	if !ok {
		holding = domain.Holding{InstrumentID: instrumentID}
	}
	next.Holdings[instrumentID] = holding.Add(quote.SharesAcquired, quote.NetAmount)

	trade := domain.Trade{
		ID:           uuid.New().String(),
		Kind:         domain.TradeKindBuy,
		InstrumentID: instrumentID,
		Shares:       quote.SharesAcquired,
		Price:        pricePerShare,
		Amount:       grossAmount,
		Fee:          quote.FeeCharged,
		RealizedPnL:  decimal.Zero,
		Reference:    o.reference,
		ExecutedAt:   lg.clock(),
	}
	if err := lg.commit(cur, next, trade); err != nil {
		return domain.BuyResult{}, err
	}

	quote.TradeID = trade.ID
	lg.l.Info("buy executed",
		zap.String("instrument", instrumentID),
		zap.String("gross", grossAmount.String()),
		zap.String("fee", quote.FeeCharged.String()),
		zap.String("shares", quote.SharesAcquired.String()),
		zap.String("price", pricePerShare.String()),
		zap.String("cash", next.CashBalance.String()))

	return quote, nil
}

// Sell sells shares of instrumentID at pricePerShare. The remaining position
// keeps its average cost; a position sold down to zero is removed.
func (lg *Ledger) Sell(instrumentID string, shares, pricePerShare decimal.Decimal) (domain.SellResult, error) {
	if !shares.IsPositive() {
		return domain.SellResult{}, errors.Wrapf(domain.ErrInvalidArgument, "shares must be positive, got %s", shares.String())
	}
	if !pricePerShare.IsPositive() {
		return domain.SellResult{}, errors.Wrapf(domain.ErrInvalidArgument, "price per share must be positive, got %s", pricePerShare.String())
	}

	lg.mu.Lock()
	defer lg.mu.Unlock()

	cur := lg.state.Load()
	holding, ok := cur.portfolio.Holding(instrumentID)
	if !ok || shares.GreaterThan(holding.Shares) {
		have := decimal.Zero
		if ok {
			have = holding.Shares
		}
		return domain.SellResult{}, errors.Wrapf(domain.ErrInsufficientShares, "%s: have %s want to sell %s", instrumentID, have.String(), shares.String())
	}

	proceeds := shares.Mul(pricePerShare)
	realized := pricePerShare.Sub(holding.AverageCost).Mul(shares)

	next := cur.portfolio.Clone()
	rest, _ := holding.Remove(shares)
	if rest.IsEmpty() {
		delete(next.Holdings, instrumentID)
	} else {
		next.Holdings[instrumentID] = rest
	}
	next.CashBalance = next.CashBalance.Add(proceeds)

	trade := domain.Trade{
		ID:           uuid.New().String(),
		Kind:         domain.TradeKindSell,
		InstrumentID: instrumentID,
		Shares:       shares,
		Price:        pricePerShare,
		Amount:       proceeds,
		Fee:          decimal.Zero,
		RealizedPnL:  realized,
		ExecutedAt:   lg.clock(),
	}
	if err := lg.commit(cur, next, trade); err != nil {
		return domain.SellResult{}, err
	}

	lg.l.Info("sell executed",
		zap.String("instrument", instrumentID),
		zap.String("shares", shares.String()),
		zap.String("price", pricePerShare.String()),
		zap.String("proceeds", proceeds.String()),
		zap.String("realized_pnl", realized.String()),
		zap.Bool("closed", rest.IsEmpty()))

	return domain.SellResult{Proceeds: proceeds, RealizedPnL: realized, TradeID: trade.ID}, nil
}

// Deposit adds cash.
func (lg *Ledger) Deposit(amount decimal.Decimal) (decimal.Decimal, error) {
	return lg.moveCash(domain.TradeKindDeposit, amount)
}

// Withdraw removes cash; it never drives the balance negative.
func (lg *Ledger) Withdraw(amount decimal.Decimal) (decimal.Decimal, error) {
	return lg.moveCash(domain.TradeKindWithdraw, amount)
}

func (lg *Ledger) moveCash(kind domain.TradeKind, amount decimal.Decimal) (decimal.Decimal, error) {
	if !amount.IsPositive() {
		return decimal.Zero, errors.Wrapf(domain.ErrInvalidArgument, "%s amount must be positive, got %s", kind, amount.String())
	}

	lg.mu.Lock()
	defer lg.mu.Unlock()

	cur := lg.state.Load()
	next := cur.portfolio.Clone()
	switch kind {
	case domain.TradeKindDeposit:
		next.CashBalance = next.CashBalance.Add(amount)
	default:
		if amount.GreaterThan(next.CashBalance) {
			return decimal.Zero, errors.Wrapf(domain.ErrInsufficientFunds, "have %s want to withdraw %s", next.CashBalance.String(), amount.String())
		}
		next.CashBalance = next.CashBalance.Sub(amount)
	}

	trade := domain.Trade{
		ID:          uuid.New().String(),
		Kind:        kind,
		Shares:      decimal.Zero,
		Price:       decimal.Zero,
		Amount:      amount,
		Fee:         decimal.Zero,
		RealizedPnL: decimal.Zero,
		ExecutedAt:  lg.clock(),
	}
	if err := lg.commit(cur, next, trade); err != nil {
		return decimal.Zero, err
	}

	lg.l.Info("cash moved", zap.String("kind", string(kind)), zap.String("amount", amount.String()),
		zap.String("cash", next.CashBalance.String()))

	return next.CashBalance, nil
}

// commit must be called with mu held.
func (lg *Ledger) commit(cur *state, next domain.Portfolio, trade domain.Trade) error {
	next.Version = cur.portfolio.Version + 1

	if lg.journal != nil {
		if err := lg.journal.Record(next, trade); err != nil {
			lg.l.Error("failed to persist ledger mutation", zap.Error(err), zap.String("trade_id", trade.ID))
			return errors.Wrap(err, "persist ledger mutation")
		}
	}

	trades := append(cur.trades, trade)
	if trade.Reference != "" {
		lg.refs[trade.Reference] = len(trades) - 1
	}
	lg.state.Store(&state{portfolio: next, trades: trades})

	return nil
}

// Snapshot returns a copy of the last committed portfolio.
func (lg *Ledger) Snapshot() domain.Portfolio {
	return lg.state.Load().portfolio.Clone()
}

// Cash returns the cash balance.
func (lg *Ledger) Cash() decimal.Decimal {
	return lg.state.Load().portfolio.CashBalance
}

// Holding returns the current holding of instrumentID.
func (lg *Ledger) Holding(instrumentID string) (domain.Holding, bool) {
	return lg.state.Load().portfolio.Holding(instrumentID)
}

// Trades returns committed trades, oldest first.
func (lg *Ledger) Trades() []domain.Trade {
	trades := lg.state.Load().trades
	out := make([]domain.Trade, len(trades))
	copy(out, trades)
	return out
}

// Valuation values every holding at prices. Instruments without a price count as zero.
func (lg *Ledger) Valuation(prices map[string]decimal.Decimal) decimal.Decimal {
	return lg.state.Load().portfolio.Valuation(prices)
}

// UnrealizedPnL compares the holding of instrumentID with currentPrice.
// An instrument that is not held reports a flat zero change.
func (lg *Ledger) UnrealizedPnL(instrumentID string, currentPrice decimal.Decimal) domain.Change {
	holding, ok := lg.Holding(instrumentID)
	if !ok {
		return domain.Change{Amount: decimal.Zero, Percent: decimal.Zero, IsPositive: true, Flat: true}
	}
	return holding.UnrealizedPnL(currentPrice)
}
