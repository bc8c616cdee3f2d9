// Package retry wraps remote operations with a bounded, classified
// exponential backoff policy.
package retry

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"github.com/turbine-data/adsync/internal/platform"
)

const (
	DefaultMaxAttempts = 5
	DefaultFactor      = 5 * time.Second
)

// Executor retries an operation on transient failures with a deterministic
// exponential schedule. Fatal failures and exhausted budgets propagate the
// last error unchanged.
type Executor struct {
	maxAttempts uint64
	factor      time.Duration
	logger      *zap.Logger
}

type Option func(*Executor)

func WithMaxAttempts(n int) Option {
	return func(e *Executor) {
		if n > 0 {
			e.maxAttempts = uint64(n)
		}
	}
}

// WithFactor sets the base wait of the exponential schedule. Waits double
// from there; there is no jitter so schedules are reproducible in tests.
func WithFactor(d time.Duration) Option {
	return func(e *Executor) {
		if d > 0 {
			e.factor = d
		}
	}
}

func WithLogger(logger *zap.Logger) Option {
	return func(e *Executor) {
		e.logger = logger
	}
}

func New(opts ...Option) *Executor {
	e := &Executor{
		maxAttempts: DefaultMaxAttempts,
		factor:      DefaultFactor,
		logger:      zap.NewNop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Do runs op, classifying each failure. Transient failures are retried up
// to the attempt budget; fatal ones stop immediately.
func (e *Executor) Do(ctx context.Context, op func() error) error {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = e.factor
	bo.Multiplier = 2
	bo.RandomizationFactor = 0
	bo.MaxInterval = 10 * time.Minute
	bo.MaxElapsedTime = 0

	attempt := 0

	wrapped := func() error {
		attempt++
		err := op()
		if err == nil {
			return nil
		}
		if platform.Classify(err) == platform.ClassFatal {
			return backoff.Permanent(err)
		}
		return err
	}

	notify := func(err error, wait time.Duration) {
		var malformed *platform.MalformedResponseError
		if errors.As(err, &malformed) {
			e.logger.Info("malformed JSON response from provider")
		}
		e.logger.Info("caught retryable error, backing off",
			zap.Error(err),
			zap.Int("attempt", attempt),
			zap.Duration("wait", wait),
		)
	}

	return backoff.RetryNotify(
		wrapped,
		backoff.WithContext(backoff.WithMaxRetries(bo, e.maxAttempts-1), ctx),
		notify,
	)
}
