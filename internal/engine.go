// Package internal wires the ledger, scheduler, price pipeline, rate cache
// and web API into one running engine.
package internal

import (
	"context"
	"path/filepath"
	"sort"
	"time"

	"github.com/pkg/errors"
	"github.com/vadiminshakov/accrue/config"
	"github.com/vadiminshakov/accrue/internal/domain"
	"github.com/vadiminshakov/accrue/internal/events"
	"github.com/vadiminshakov/accrue/internal/services/fx"
	"github.com/vadiminshakov/accrue/internal/services/ledger"
	"github.com/vadiminshakov/accrue/internal/services/pricer"
	"github.com/vadiminshakov/accrue/internal/services/scheduler"
	"github.com/vadiminshakov/accrue/internal/storage/ledgerstate"
	"github.com/vadiminshakov/accrue/internal/storage/plans"
	"github.com/vadiminshakov/accrue/internal/web"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	executionBuffer = 64
	ledgerSubdir    = "ledger"
	plansSubdir     = "plans"
)

// Engine owns every long-lived component.
type Engine struct {
	conf config.Config
	l    *zap.Logger

	Ledger    *ledger.Ledger
	Scheduler *scheduler.Scheduler
	Book      *pricer.PriceBook
	Refresher *pricer.Refresher
	Rates     *fx.Cache
	Feed      *events.ExecutionBroadcaster
	Server    *web.Server

	closers []func() error
}

// NewEngine restores the journals under conf.DataDir and builds the services
// on top of source.
func NewEngine(l *zap.Logger, conf config.Config, source pricer.Source) (*Engine, error) {
	if l == nil {
		l = zap.NewNop()
	}
	if source == nil {
		return nil, errors.Wrap(domain.ErrInvalidArgument, "price source is required")
	}
	e := &Engine{conf: conf, l: l}

	ledgerStore, err := ledgerstate.NewWALStore(filepath.Join(conf.DataDir, ledgerSubdir))
	if err != nil {
		return nil, err
	}
	e.closers = append(e.closers, ledgerStore.Close)

	e.Ledger, err = ledger.New(l, conf.InitialCash, ledger.WithJournal(ledgerStore))
	if err != nil {
		e.Close()
		return nil, errors.Wrap(err, "create ledger")
	}

	planStore, err := plans.NewWALStore(filepath.Join(conf.DataDir, plansSubdir))
	if err != nil {
		e.Close()
		return nil, err
	}
	e.closers = append(e.closers, planStore.Close)

	e.Book = pricer.NewPriceBook(conf.MaxQuoteAge, nil)
	e.Feed = events.NewExecutionBroadcaster(executionBuffer)

	e.Scheduler, err = scheduler.New(l, e.Ledger, e.Book,
		scheduler.WithStore(planStore),
		scheduler.WithNotifier(e.Feed),
		scheduler.WithFeeRate(conf.FeeRateBps),
	)
	if err != nil {
		e.Close()
		return nil, errors.Wrap(err, "create scheduler")
	}

	e.Refresher = pricer.NewRefresher(l, source, e.Book, e.TrackedInstruments,
		pricer.WithRateLimit(conf.PriceRateLimit, 1),
		pricer.WithRequestTimeout(conf.FetchTimeout),
		pricer.WithSeriesTTL(conf.SeriesTTL),
	)

	rateSource, err := NewRateSource(conf, nil)
	if err != nil {
		e.Close()
		return nil, err
	}
	rateStore, closeStore := NewRateStore(conf)
	e.closers = append(e.closers, closeStore)
	e.Rates = fx.NewCache(l, rateSource,
		fx.WithTTL(conf.FX.TTL),
		fx.WithFetchTimeout(conf.FetchTimeout),
		fx.WithStore(rateStore),
		fx.WithExtraCurrencies(conf.FX.ExtraCurrencies...),
	)

	e.Server = web.NewServer(l, conf.Web.Listen, web.Deps{
		Portfolio:    e.Ledger,
		Quotes:       e.Book,
		Series:       e.Refresher,
		Plans:        e.Scheduler,
		Rates:        e.Rates,
		Executions:   e.Feed,
		FeeRateBps:   conf.FeeRateBps,
		QuoteTTL:     conf.QuoteTTL,
		BaseCurrency: conf.BaseCurrency,
	}, web.WithRateLimit(conf.Web.RateLimit, conf.Web.RateBurst))

	return e, nil
}

// TrackedInstruments returns configured, held and planned instruments, sorted.
func (e *Engine) TrackedInstruments() []string {
	seen := make(map[string]struct{})
	add := func(id string) {
		if id != "" {
			seen[id] = struct{}{}
		}
	}
	for _, id := range e.conf.Instruments {
		add(id)
	}
	for _, id := range e.Ledger.Snapshot().InstrumentIDs() {
		add(id)
	}
	for _, p := range e.Scheduler.Plans(domain.PlanStatusActive, domain.PlanStatusPaused) {
		add(p.InstrumentID)
	}

	out := make([]string, 0, len(seen))
	for id := range seen {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// Run primes prices, executes overdue plans once and then runs the refresher,
// the scheduler and the web API until ctx is done.
func (e *Engine) Run(ctx context.Context) error {
	if err := e.Refresher.RefreshOnce(ctx); err != nil {
		e.l.Warn("initial price refresh incomplete", zap.Error(err))
	}
	if records := e.Scheduler.Tick(ctx, time.Now()); len(records) > 0 {
		e.l.Info("executed overdue plans", zap.Int("executions", len(records)))
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return ignoreCanceled(e.Refresher.Run(ctx, e.conf.PriceRefreshInterval))
	})
	g.Go(func() error {
		return ignoreCanceled(e.Scheduler.Run(ctx, e.conf.TickInterval))
	})
	g.Go(func() error {
		if len(e.conf.Web.TLSDomains) > 0 {
			return e.Server.StartWithAutoTLS(ctx, e.conf.Web.TLSDomains, e.conf.Web.CertCacheDir)
		}
		return e.Server.Start(ctx)
	})

	return g.Wait()
}

// Close releases the journals and the rate store. It returns the first error.
func (e *Engine) Close() error {
	var first error
	for i := len(e.closers) - 1; i >= 0; i-- {
		if err := e.closers[i](); err != nil {
			e.l.Warn("close failed", zap.Error(err))
			if first == nil {
				first = err
			}
		}
	}
	e.closers = nil
	return first
}

func ignoreCanceled(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// Status is a read-only view of the persisted state.
type Status struct {
	Portfolio  domain.Portfolio
	Trades     int
	Plans      []domain.RecurringPurchase
	Executions []domain.ExecutionRecord
}

// LoadStatus reads the journals under conf.DataDir without starting the engine.
func LoadStatus(conf config.Config) (Status, error) {
	ledgerStore, err := ledgerstate.NewWALStore(filepath.Join(conf.DataDir, ledgerSubdir))
	if err != nil {
		return Status{}, err
	}
	defer ledgerStore.Close()

	portfolio, trades, err := ledgerStore.Load()
	if err != nil {
		return Status{}, errors.Wrap(err, "load ledger")
	}
	st := Status{Portfolio: domain.NewPortfolio(conf.InitialCash), Trades: len(trades)}
	if portfolio != nil {
		st.Portfolio = *portfolio
	}

	planStore, err := plans.NewWALStore(filepath.Join(conf.DataDir, plansSubdir))
	if err != nil {
		return Status{}, err
	}
	defer planStore.Close()

	st.Plans, st.Executions, err = planStore.Load()
	if err != nil {
		return Status{}, errors.Wrap(err, "load plans")
	}
	return st, nil
}
