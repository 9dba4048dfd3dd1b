package upstream

import (
	"context"
	"math"
	"math/rand"
	"net"
	"time"

	"costtrend/pkg/errors"
)

// RetryConfig bounds the exponential backoff between attempts
type RetryConfig struct {
	MaxRetries int
	MinBackoff time.Duration
	MaxBackoff time.Duration
	Multiplier float64
	// Jitter is the fraction of the delay added at random (0 disables)
	Jitter float64
}

// DefaultRetryConfig returns a sensible default configuration
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries: 4,
		MinBackoff: 500 * time.Millisecond,
		MaxBackoff: 30 * time.Second,
		Multiplier: 2.0,
		Jitter:     0.2,
	}
}

// Retrier re-runs retryable operations with exponential backoff
type Retrier struct {
	cfg   RetryConfig
	sleep func(ctx context.Context, d time.Duration) error
}

// NewRetrier creates a retrier, filling zero values with defaults
func NewRetrier(cfg RetryConfig) *Retrier {
	def := DefaultRetryConfig()
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.MinBackoff <= 0 {
		cfg.MinBackoff = def.MinBackoff
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = def.MaxBackoff
	}
	if cfg.Multiplier <= 1 {
		cfg.Multiplier = def.Multiplier
	}
	return &Retrier{cfg: cfg, sleep: sleepContext}
}

// Do runs fn until it succeeds, returns a non-retryable error, or retries are exhausted.
// onRetry, if set, is called before each backoff.
func (r *Retrier) Do(ctx context.Context, fn func(ctx context.Context) error, onRetry func(attempt int, delay time.Duration, err error)) error {
	var lastErr error

	for attempt := 0; attempt <= r.cfg.MaxRetries; attempt++ {
		err := fn(ctx)
		if err == nil {
			return nil
		}
		lastErr = err

		if !Retryable(err) || attempt == r.cfg.MaxRetries {
			break
		}

		delay := r.Backoff(attempt)
		if onRetry != nil {
			onRetry(attempt+1, delay, err)
		}
		if err := r.sleep(ctx, delay); err != nil {
			return errors.Wrap(lastErr, "retry cancelled")
		}
	}

	if Retryable(lastErr) {
		return errors.Wrapf(lastErr, "gave up after %d retries", r.cfg.MaxRetries)
	}
	return lastErr
}

// Backoff returns the delay before retry number attempt+1: min * multiplier^attempt, capped
func (r *Retrier) Backoff(attempt int) time.Duration {
	delay := time.Duration(float64(r.cfg.MinBackoff) * math.Pow(r.cfg.Multiplier, float64(attempt)))
	if delay > r.cfg.MaxBackoff || delay <= 0 {
		delay = r.cfg.MaxBackoff
	}
	if r.cfg.Jitter > 0 && r.cfg.Jitter <= 1 {
		delay += time.Duration(rand.Float64() * r.cfg.Jitter * float64(delay))
	}
	return delay
}

// Retryable reports whether err is a transient provider failure.
// Context cancellation is never retried.
func Retryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	if errors.IsRetryable(err) {
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return netErr.Timeout()
	}
	return false
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
