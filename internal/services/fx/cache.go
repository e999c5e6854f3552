// Package fx converts amounts between currencies using a TTL cache in front
// of an external rate source. It serves display values only.
package fx

import (
	"context"
	"strings"
	"time"

	"github.com/Rhymond/go-money"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/vadiminshakov/accrue/internal/domain"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

const (
	defaultTTL          = 10 * time.Minute
	defaultFetchTimeout = 10 * time.Second
)

// RateSource fetches a live conversion rate.
type RateSource interface {
	FetchRate(ctx context.Context, from, to string) (decimal.Decimal, error)
}

// RateStore keeps rate entries, including expired ones.
type RateStore interface {
	Get(ctx context.Context, pair domain.CurrencyPair) (domain.ExchangeRateEntry, bool, error)
	Put(ctx context.Context, entry domain.ExchangeRateEntry) error
	Entries(ctx context.Context) ([]domain.ExchangeRateEntry, error)
}

// Cache returns cached rates while they are fresh and refetches otherwise.
// When a refetch fails the stale entry is served if there is one.
type Cache struct {
	source  RateSource
	store   RateStore
	ttl     time.Duration
	timeout time.Duration
	allowed map[string]struct{}
	group   singleflight.Group
	clock   func() time.Time
	l       *zap.Logger
}

// Option configures a Cache.
type Option func(*Cache)

// WithTTL sets how long a fetched rate is fresh.
func WithTTL(ttl time.Duration) Option {
	return func(c *Cache) {
		if ttl > 0 {
			c.ttl = ttl
		}
	}
}

// WithFetchTimeout bounds a shared fetch.
func WithFetchTimeout(d time.Duration) Option {
	return func(c *Cache) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithStore replaces the in-memory store.
func WithStore(s RateStore) Option {
	return func(c *Cache) {
		c.store = s
	}
}

// WithClock overrides time.Now.
func WithClock(clock func() time.Time) Option {
	return func(c *Cache) {
		c.clock = clock
	}
}

// WithExtraCurrencies accepts codes outside ISO 4217, such as USDT.
func WithExtraCurrencies(codes ...string) Option {
	return func(c *Cache) {
		for _, code := range codes {
			c.allowed[strings.ToUpper(strings.TrimSpace(code))] = struct{}{}
		}
	}
}

// NewCache creates a rate cache over source.
func NewCache(l *zap.Logger, source RateSource, opts ...Option) *Cache {
	if l == nil {
		l = zap.NewNop()
	}
	c := &Cache{
		source:  source,
		store:   NewMemoryStore(),
		ttl:     defaultTTL,
		timeout: defaultFetchTimeout,
		allowed: make(map[string]struct{}),
		clock:   time.Now,
		l:       l.With(zap.String("component", "fx")),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// ValidCurrency reports whether code is ISO 4217 or explicitly allowed.
func (c *Cache) ValidCurrency(code string) bool {
	code = strings.ToUpper(strings.TrimSpace(code))
	if code == "" {
		return false
	}
	if _, ok := c.allowed[code]; ok {
		return true
	}
	return money.GetCurrency(code) != nil
}

// GetRate returns how many units of to one unit of from buys.
func (c *Cache) GetRate(ctx context.Context, from, to string) (decimal.Decimal, error) {
	pair := domain.NewCurrencyPair(from, to)
	if pair.From == pair.To && pair.From != "" {
		return decimal.NewFromInt(1), nil
	}
	for _, code := range []string{pair.From, pair.To} {
		if !c.ValidCurrency(code) {
			return decimal.Zero, errors.Wrapf(domain.ErrUnknownCurrency, "%q", code)
		}
	}

	cached, found, err := c.store.Get(ctx, pair)
	if err != nil {
		c.l.Warn("rate store read failed", zap.String("pair", pair.String()), zap.Error(err))
		found = false
	}
	if found && cached.Fresh(c.clock()) {
		return cached.Rate, nil
	}

	// waiters share the fetch, so it must outlive any single caller
	ch := c.group.DoChan(pair.String(), func() (any, error) {
		fetchCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.timeout)
		defer cancel()
		return c.refresh(fetchCtx, pair)
	})
	select {
	case res := <-ch:
		if res.Err == nil {
			return res.Val.(decimal.Decimal), nil
		}
		err = res.Err
	case <-ctx.Done():
		err = ctx.Err()
	}

	if found {
		c.l.Warn("serving stale rate", zap.String("pair", pair.String()),
			zap.Time("fetched_at", cached.FetchedAt), zap.Error(err))
		return cached.Rate, nil
	}
	return decimal.Zero, errors.Wrapf(domain.ErrRateUnavailable, "%s: %v", pair, err)
}

func (c *Cache) refresh(ctx context.Context, pair domain.CurrencyPair) (decimal.Decimal, error) {
	rate, err := c.source.FetchRate(ctx, pair.From, pair.To)
	if err != nil {
		return decimal.Zero, errors.Wrapf(err, "fetch rate %s", pair)
	}
	// a fetch that finished after its deadline must not overwrite the entry
	if err := ctx.Err(); err != nil {
		return decimal.Zero, err
	}
	if !rate.IsPositive() {
		return decimal.Zero, errors.Errorf("source returned non-positive rate %s for %s", rate.String(), pair)
	}

	entry := domain.ExchangeRateEntry{Pair: pair, Rate: rate, FetchedAt: c.clock(), TTL: c.ttl}
	if err := c.store.Put(ctx, entry); err != nil {
		c.l.Warn("rate store write failed", zap.String("pair", pair.String()), zap.Error(err))
	}
	c.l.Debug("rate refreshed", zap.String("pair", pair.String()), zap.String("rate", rate.String()))

	return rate, nil
}

// Convert returns amount expressed in to.
func (c *Cache) Convert(ctx context.Context, amount decimal.Decimal, from, to string) (decimal.Decimal, error) {
	rate, err := c.GetRate(ctx, from, to)
	if err != nil {
		return decimal.Zero, err
	}
	return amount.Mul(rate), nil
}

// Entries returns every stored entry.
func (c *Cache) Entries(ctx context.Context) ([]domain.ExchangeRateEntry, error) {
	return c.store.Entries(ctx)
}
