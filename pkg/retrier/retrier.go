// Package retrier retries fallible calls with exponential backoff and jitter.
package retrier

import (
	"context"
	"math/rand"
	"time"
)

const (
	defaultInitialInterval = 500 * time.Millisecond
	defaultMaxInterval     = 10 * time.Second
	defaultMultiplier      = 2.0
	defaultMaxRetries      = 3
	defaultJitter          = 0.1
)

// Retrier implements exponential backoff with jitter.
type Retrier struct {
	initialInterval time.Duration
	maxInterval     time.Duration
	multiplier      float64
	maxRetries      int
	jitter          float64
	retryIf         func(error) bool
	onRetry         func(attempt int, err error)
}

// Option configures a Retrier.
type Option func(*Retrier)

// WithInitialInterval sets the delay before the first retry.
func WithInitialInterval(d time.Duration) Option {
	return func(r *Retrier) {
		r.initialInterval = d
	}
}

// WithMaxInterval caps the delay between retries.
func WithMaxInterval(d time.Duration) Option {
	return func(r *Retrier) {
		r.maxInterval = d
	}
}

// WithMultiplier sets the backoff multiplier.
func WithMultiplier(m float64) Option {
	return func(r *Retrier) {
		r.multiplier = m
	}
}

// WithMaxRetries sets how many times a failed call is repeated.
func WithMaxRetries(n int) Option {
	return func(r *Retrier) {
		r.maxRetries = n
	}
}

// WithJitter sets the jitter factor (0.0 to 1.0).
func WithJitter(j float64) Option {
	return func(r *Retrier) {
		r.jitter = j
	}
}

// WithRetryIf stops retrying as soon as fn reports an error as permanent.
func WithRetryIf(fn func(error) bool) Option {
	return func(r *Retrier) {
		r.retryIf = fn
	}
}

// WithOnRetry is called before every retry with the attempt number and the last error.
func WithOnRetry(fn func(attempt int, err error)) Option {
	return func(r *Retrier) {
		r.onRetry = fn
	}
}

// New creates a Retrier with default values and optional overrides.
func New(opts ...Option) *Retrier {
	r := &Retrier{
		initialInterval: defaultInitialInterval,
		maxInterval:     defaultMaxInterval,
		multiplier:      defaultMultiplier,
		maxRetries:      defaultMaxRetries,
		jitter:          defaultJitter,
	}

	for _, opt := range opts {
		opt(r)
	}

	return r
}

// Do calls fn until it succeeds, the retries run out, the error is permanent
// or ctx is done.
func (r *Retrier) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	interval := r.initialInterval

	var err error
	for attempt := 0; attempt <= r.maxRetries; attempt++ {
		if attempt > 0 {
			if r.onRetry != nil {
				r.onRetry(attempt, err)
			}
			if waitErr := sleep(ctx, r.backoff(interval)); waitErr != nil {
				return waitErr
			}
			interval = time.Duration(float64(interval) * r.multiplier)
			if interval > r.maxInterval {
				interval = r.maxInterval
			}
		}

		err = fn(ctx)
		if err == nil {
			return nil
		}
		if r.retryIf != nil && !r.retryIf(err) {
			return err
		}
	}

	return err
}

func (r *Retrier) backoff(interval time.Duration) time.Duration {
	jitter := (rand.Float64()*2 - 1) * r.jitter * float64(interval)
	d := time.Duration(float64(interval) + jitter)
	if d < 0 {
		return 0
	}
	return d
}

func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// DoWithData is Do for calls that return a value.
func DoWithData[T any](r *Retrier, ctx context.Context, fn func(ctx context.Context) (T, error)) (T, error) {
	var result T
	err := r.Do(ctx, func(ctx context.Context) error {
		var e error
		result, e = fn(ctx)
		return e
	})
	return result, err
}
