// Package retry re-invokes a fallible operation with exponential backoff.
//
// The attempt count and delay schedule are fixed by the Policy:
//
//	attempts:            MaxRetries + 1
//	delay before try 1:  0
//	delay before try i:  InitialDelay * Multiplier^(i-2)   (i > 1)
package retry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// Policy is shared read-only by every call to Do.
type Policy struct {
	MaxRetries   int
	InitialDelay time.Duration
	Multiplier   float64
}

// DefaultPolicy mirrors the gateway defaults: 3 retries, 1s, doubling.
func DefaultPolicy() Policy {
	return Policy{MaxRetries: 3, InitialDelay: time.Second, Multiplier: 2}
}

func (p Policy) Validate() error {
	if p.MaxRetries < 0 {
		return fmt.Errorf("retry: max retries must be >= 0, got %d", p.MaxRetries)
	}
	if p.InitialDelay < 0 {
		return fmt.Errorf("retry: initial delay must be >= 0, got %s", p.InitialDelay)
	}
	if p.Multiplier <= 0 {
		return fmt.Errorf("retry: backoff multiplier must be > 0, got %g", p.Multiplier)
	}
	return nil
}

// Delays returns the wait before each retry, in order.
func (p Policy) Delays() []time.Duration {
	out := make([]time.Duration, 0, p.MaxRetries)
	d := p.InitialDelay
	for i := 0; i < p.MaxRetries; i++ {
		out = append(out, d)
		d = scale(d, p.Multiplier)
	}
	return out
}

func scale(d time.Duration, m float64) time.Duration {
	return time.Duration(float64(d) * m)
}

type SleepFunc func(ctx context.Context, d time.Duration) error

type options struct {
	logger    *zap.Logger
	sleep     SleepFunc
	onRetry   func(attempt int, err error, delay time.Duration)
	retryable func(error) bool
	name      string
}

type Option func(*options)

func WithLogger(l *zap.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithSleep replaces the backoff wait.
func WithSleep(fn SleepFunc) Option {
	return func(o *options) {
		if fn != nil {
			o.sleep = fn
		}
	}
}

// WithOnRetry is called once per failed attempt that will be retried.
func WithOnRetry(fn func(attempt int, err error, delay time.Duration)) Option {
	return func(o *options) { o.onRetry = fn }
}

// WithClassifier stops retrying as soon as fn reports an error as not retryable.
// Without it every error is retried.
func WithClassifier(fn func(error) bool) Option {
	return func(o *options) { o.retryable = fn }
}

// WithName labels log lines with the operation name.
func WithName(name string) Option {
	return func(o *options) { o.name = name }
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Do runs op until it succeeds or the policy's budget is spent. The error of the
// final attempt is returned as-is.
func Do[T any](ctx context.Context, p Policy, op func(ctx context.Context) (T, error), opts ...Option) (T, error) {
	o := options{logger: zap.NewNop(), sleep: sleepCtx, name: "operation"}
	for _, opt := range opts {
		opt(&o)
	}

	var zero T
	if err := p.Validate(); err != nil {
		return zero, err
	}

	delay := p.InitialDelay
	var lastErr error
	for attempt := 0; attempt <= p.MaxRetries; attempt++ {
		res, err := op(ctx)
		if err == nil {
			return res, nil
		}
		lastErr = err

		if attempt == p.MaxRetries {
			break
		}
		if o.retryable != nil && !o.retryable(err) {
			o.logger.Warn("attempt failed with non-retryable error",
				zap.String("op", o.name),
				zap.Int("attempt", attempt+1),
				zap.Error(err),
			)
			return zero, err
		}

		o.logger.Warn("attempt failed, retrying",
			zap.String("op", o.name),
			zap.Int("attempt", attempt+1),
			zap.Int("max_retries", p.MaxRetries),
			zap.Duration("delay", delay),
			zap.Error(err),
		)
		if o.onRetry != nil {
			o.onRetry(attempt+1, err, delay)
		}
		if serr := o.sleep(ctx, delay); serr != nil {
			return zero, errors.Join(serr, lastErr)
		}
		delay = scale(delay, p.Multiplier)
	}

	o.logger.Error("all retry attempts failed",
		zap.String("op", o.name),
		zap.Int("attempts", p.MaxRetries+1),
		zap.Error(lastErr),
	)
	return zero, lastErr
}
