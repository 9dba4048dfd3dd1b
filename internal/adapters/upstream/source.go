package upstream

import (
	"context"
	"time"

	"github.com/sony/gobreaker"

	"costtrend/internal/adapters/config"
	"costtrend/internal/domain/consumption"
	"costtrend/internal/metrics"
	"costtrend/pkg/errors"
	"costtrend/pkg/logger"
)

// Source wraps a consumption provider with rate limiting, a circuit breaker and
// retries with exponential backoff. Every failure that survives the retries is
// reported as errors.ErrUpstreamUnavailable unless the provider rejected the query.
type Source struct {
	name    string
	next    consumption.PagedSource
	limiter *Limiter
	breaker *gobreaker.CircuitBreaker
	retrier *Retrier
	log     *logger.Logger
}

// NewSource creates a resilient page source around next
func NewSource(name string, next consumption.PagedSource, cfg config.UpstreamConfig, log *logger.Logger) *Source {
	log = log.With("component", "upstream", "source", name)

	failures := cfg.BreakerFailures
	if failures == 0 {
		failures = 5
	}

	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Timeout:     cfg.BreakerCooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= failures
		},
		IsSuccessful: func(err error) bool {
			// provider rejections say nothing about provider health
			return err == nil || !Retryable(err)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			metrics.UpstreamBreakerState.WithLabelValues(name).Set(float64(to))
			log.Warnw("Upstream circuit breaker state changed",
				"from", from.String(),
				"to", to.String(),
			)
		},
	})

	return &Source{
		name:    name,
		next:    next,
		limiter: NewLimiter(name, cfg.RequestsPerMinute),
		breaker: breaker,
		retrier: NewRetrier(RetryConfig{
			MaxRetries: cfg.MaxRetries,
			MinBackoff: cfg.MinBackoff,
			MaxBackoff: cfg.MaxBackoff,
			Multiplier: 2.0,
			Jitter:     0.2,
		}),
		log: log,
	}
}

// FetchPage implements consumption.PagedSource
func (s *Source) FetchPage(ctx context.Context, q consumption.Query, pageToken string) (*consumption.Page, error) {
	var page *consumption.Page

	err := s.retrier.Do(ctx, func(ctx context.Context) error {
		if err := s.limiter.Wait(ctx); err != nil {
			return err
		}

		start := time.Now()
		res, err := s.breaker.Execute(func() (interface{}, error) {
			return s.next.FetchPage(ctx, q, pageToken)
		})
		if err == gobreaker.ErrOpenState || err == gobreaker.ErrTooManyRequests {
			metrics.UpstreamCalls.WithLabelValues(s.name, "open").Inc()
			return errors.Wrapf(errors.ErrUpstreamUnavailable, "%s circuit breaker: %v", s.name, err)
		}
		metrics.RecordUpstreamCall(s.name, time.Since(start), err)
		if err != nil {
			return err
		}

		page = res.(*consumption.Page)
		return nil
	}, func(attempt int, delay time.Duration, err error) {
		metrics.UpstreamCalls.WithLabelValues(s.name, "retry").Inc()
		s.log.Warnw("Retrying consumption page fetch",
			"attempt", attempt,
			"backoff", delay,
			"page_token", pageToken,
			"error", err,
		)
	})
	if err != nil {
		if Retryable(err) && !errors.IsRetryable(err) {
			err = errors.Join(errors.ErrUpstreamUnavailable, err)
		}
		return nil, err
	}
	if page == nil {
		page = &consumption.Page{}
	}
	return page, nil
}

// State returns the circuit breaker state
func (s *Source) State() gobreaker.State {
	return s.breaker.State()
}
