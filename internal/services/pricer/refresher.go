package pricer

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/vadiminshakov/accrue/internal/domain"
	"github.com/vadiminshakov/accrue/pkg/retrier"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"
)

const (
	defaultConcurrency    = 4
	defaultRequestTimeout = 10 * time.Second
	defaultSeriesTTL      = time.Minute
)

// Refresher pulls quotes from a Source into a PriceBook. Outbound requests
// share one rate limiter and each one is retried with backoff.
type Refresher struct {
	source      Source
	book        *PriceBook
	instruments func() []string
	limiter     *rate.Limiter
	retrier     *retrier.Retrier
	timeout     time.Duration
	seriesTTL   time.Duration
	concurrency int
	group       singleflight.Group
	clock       func() time.Time
	l           *zap.Logger
}

// RefresherOption configures a Refresher.
type RefresherOption func(*Refresher)

// WithRateLimit caps outbound requests per second.
func WithRateLimit(perSecond float64, burst int) RefresherOption {
	return func(r *Refresher) {
		r.limiter = rate.NewLimiter(rate.Limit(perSecond), burst)
	}
}

// WithRetrier replaces the default retrier.
func WithRetrier(rt *retrier.Retrier) RefresherOption {
	return func(r *Refresher) {
		r.retrier = rt
	}
}

// WithRequestTimeout bounds a single provider call.
func WithRequestTimeout(d time.Duration) RefresherOption {
	return func(r *Refresher) {
		r.timeout = d
	}
}

// WithSeriesTTL sets how long a fetched series is served from the book.
func WithSeriesTTL(d time.Duration) RefresherOption {
	return func(r *Refresher) {
		r.seriesTTL = d
	}
}

// WithConcurrency bounds parallel fetches within one refresh pass.
func WithConcurrency(n int) RefresherOption {
	return func(r *Refresher) {
		if n > 0 {
			r.concurrency = n
		}
	}
}

// WithRefresherClock overrides time.Now for quote timestamps.
func WithRefresherClock(clock func() time.Time) RefresherOption {
	return func(r *Refresher) {
		r.clock = clock
	}
}

// NewRefresher creates a refresher for the instruments returned by instruments.
func NewRefresher(l *zap.Logger, source Source, book *PriceBook, instruments func() []string, opts ...RefresherOption) *Refresher {
	if l == nil {
		l = zap.NewNop()
	}
	r := &Refresher{
		source:      source,
		book:        book,
		instruments: instruments,
		limiter:     rate.NewLimiter(rate.Inf, 1),
		retrier: retrier.New(
			retrier.WithMaxRetries(2),
			retrier.WithInitialInterval(200*time.Millisecond),
			retrier.WithRetryIf(retryable),
		),
		timeout:     defaultRequestTimeout,
		seriesTTL:   defaultSeriesTTL,
		concurrency: defaultConcurrency,
		clock:       time.Now,
		l:           l.With(zap.String("component", "price_refresher")),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// retryable reports whether a provider error may go away on its own.
func retryable(err error) bool {
	return !errors.Is(err, domain.ErrInvalidArgument) && !errors.Is(err, domain.ErrPriceUnavailable) &&
		!errors.Is(err, context.Canceled)
}

// RefreshOnce fetches the current price of every instrument. Failures are
// logged per instrument; the returned error reports how many failed.
func (r *Refresher) RefreshOnce(ctx context.Context) error {
	ids := r.instruments()
	if len(ids) == 0 {
		return nil
	}

	var failed atomic.Int32
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.concurrency)
	for _, id := range ids {
		g.Go(func() error {
			if _, err := r.Current(gctx, id); err != nil {
				failed.Add(1)
				r.l.Warn("price refresh failed", zap.String("instrument", id), zap.Error(err))
			}
			return nil
		})
	}
	_ = g.Wait()

	if n := failed.Load(); n > 0 {
		return errors.Errorf("price refresh: %d of %d instruments failed", n, len(ids))
	}
	return nil
}

// Current fetches the price of instrumentID and records it in the book.
func (r *Refresher) Current(ctx context.Context, instrumentID string) (decimal.Decimal, error) {
	v, err, _ := r.group.Do("current/"+instrumentID, func() (any, error) {
		price, err := r.fetch(ctx, func(ctx context.Context) (any, error) {
			return r.source.FetchCurrent(ctx, instrumentID)
		})
		if err != nil {
			return decimal.Zero, err
		}
		p := price.(decimal.Decimal)
		r.book.SetQuote(instrumentID, p, r.clock())
		return p, nil
	})
	if err != nil {
		return decimal.Zero, err
	}
	return v.(decimal.Decimal), nil
}

// Series returns the series of instrumentID over period, from the book when
// it is recent enough. Concurrent requests for the same series share one fetch.
// A failed fetch falls back to the last series in the book regardless of age.
func (r *Refresher) Series(ctx context.Context, instrumentID string, period domain.Period) (domain.PriceSeries, error) {
	if s, ok := r.book.Series(instrumentID, period, r.seriesTTL); ok {
		return s, nil
	}

	v, err, _ := r.group.Do("series/"+instrumentID+"/"+string(period), func() (any, error) {
		res, err := r.fetch(ctx, func(ctx context.Context) (any, error) {
			return r.source.FetchSeries(ctx, instrumentID, period)
		})
		if err != nil {
			return domain.PriceSeries{}, err
		}
		series := res.(domain.PriceSeries)
		r.book.SetSeries(series)
		if latest, ok := series.Latest(); ok {
			r.book.SetQuote(instrumentID, latest.Price, latest.Timestamp)
		}
		return series, nil
	})
	if err != nil {
		if last, ok := r.book.Series(instrumentID, period, 0); ok {
			r.l.Warn("serving last known series", zap.String("instrument", instrumentID),
				zap.String("period", string(period)), zap.Error(err))
			return last, nil
		}
		return domain.PriceSeries{}, err
	}
	return v.(domain.PriceSeries), nil
}

func (r *Refresher) fetch(ctx context.Context, call func(ctx context.Context) (any, error)) (any, error) {
	return retrier.DoWithData(r.retrier, ctx, func(ctx context.Context) (any, error) {
		if err := r.limiter.Wait(ctx); err != nil {
			return nil, err
		}
		reqCtx, cancel := context.WithTimeout(ctx, r.timeout)
		defer cancel()
		return call(reqCtx)
	})
}

// Run refreshes every interval until ctx is done. The first pass runs after
// one interval; callers prime the book with RefreshOnce.
func (r *Refresher) Run(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		return errors.Wrapf(domain.ErrInvalidArgument, "refresh interval must be positive, got %s", interval)
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	r.l.Info("starting price refresh loop", zap.Duration("interval", interval))

	for {
		select {
		case <-ctx.Done():
			r.l.Info("context done, stopping price refresh loop")
			return ctx.Err()
		case <-ticker.C:
			if err := r.RefreshOnce(ctx); err != nil {
				r.l.Debug("price refresh incomplete", zap.Error(err))
			}
		}
	}
}
