package upstream

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"costtrend/internal/adapters/config"
	"costtrend/internal/domain/consumption"
	"costtrend/pkg/errors"
	"costtrend/pkg/logger"
)

func testLogger() *logger.Logger {
	zapLogger, _ := zap.NewDevelopment()
	return &logger.Logger{SugaredLogger: zapLogger.Sugar()}
}

// flakySource fails the first `failures` calls with err
type flakySource struct {
	mu       sync.Mutex
	calls    int
	failures int
	err      error
}

func (f *flakySource) FetchPage(_ context.Context, _ consumption.Query, token string) (*consumption.Page, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.calls++
	if f.calls <= f.failures {
		return nil, f.err
	}
	return &consumption.Page{
		Records: []*consumption.Record{{ResourceType: "compute", Quantity: 1, UnitPrice: 1}},
	}, nil
}

func newTestSource(next consumption.PagedSource, retries int, breakerFailures uint32) *Source {
	s := NewSource("test", next, config.UpstreamConfig{
		RequestsPerMinute: 0,
		MaxRetries:        retries,
		MinBackoff:        time.Millisecond,
		MaxBackoff:        10 * time.Millisecond,
		BreakerFailures:   breakerFailures,
		BreakerCooldown:   time.Hour,
	}, testLogger())
	s.retrier.sleep = func(context.Context, time.Duration) error { return nil }
	return s
}

func TestSource_RetriesTransientFailures(t *testing.T) {
	next := &flakySource{failures: 2, err: errors.Wrap(errors.ErrUpstreamUnavailable, "503")}
	s := newTestSource(next, 3, 10)

	page, err := s.FetchPage(context.Background(), consumption.Query{}, "")
	require.NoError(t, err)

	assert.Len(t, page.Records, 1)
	assert.Equal(t, 3, next.calls)
}

func TestSource_ExhaustedRetriesSurfaceUpstreamUnavailable(t *testing.T) {
	next := &flakySource{failures: 100, err: errors.Wrap(errors.ErrUpstreamUnavailable, "503")}
	s := newTestSource(next, 2, 10)

	_, err := s.FetchPage(context.Background(), consumption.Query{}, "")

	assert.ErrorIs(t, err, errors.ErrUpstreamUnavailable)
	assert.Equal(t, 3, next.calls)
}

func TestSource_DoesNotRetryRejections(t *testing.T) {
	next := &flakySource{failures: 100, err: errors.Wrap(errors.ErrInvalidInput, "bad filter")}
	s := newTestSource(next, 5, 10)

	_, err := s.FetchPage(context.Background(), consumption.Query{}, "")

	assert.ErrorIs(t, err, errors.ErrInvalidInput)
	assert.NotErrorIs(t, err, errors.ErrUpstreamUnavailable)
	assert.Equal(t, 1, next.calls)
}

func TestSource_BreakerOpensAfterConsecutiveFailures(t *testing.T) {
	next := &flakySource{failures: 100, err: errors.ErrUpstreamUnavailable}
	s := newTestSource(next, 0, 3)

	for i := 0; i < 3; i++ {
		_, err := s.FetchPage(context.Background(), consumption.Query{}, "")
		require.Error(t, err)
	}
	assert.Equal(t, gobreaker.StateOpen, s.State())

	_, err := s.FetchPage(context.Background(), consumption.Query{}, "")
	assert.ErrorIs(t, err, errors.ErrUpstreamUnavailable)
	assert.Equal(t, 3, next.calls, "open breaker must not reach the provider")
}

func TestRetrier_Backoff(t *testing.T) {
	r := NewRetrier(RetryConfig{MaxRetries: 5, MinBackoff: 100 * time.Millisecond, MaxBackoff: time.Second, Multiplier: 2})

	assert.Equal(t, 100*time.Millisecond, r.Backoff(0))
	assert.Equal(t, 200*time.Millisecond, r.Backoff(1))
	assert.Equal(t, 800*time.Millisecond, r.Backoff(3))
	assert.Equal(t, time.Second, r.Backoff(10))
}

func TestRetrier_StopsOnContextCancel(t *testing.T) {
	r := NewRetrier(RetryConfig{MaxRetries: 5, MinBackoff: time.Hour, MaxBackoff: time.Hour})
	ctx, cancel := context.WithCancel(context.Background())

	calls := 0
	err := r.Do(ctx, func(context.Context) error {
		calls++
		cancel()
		return errors.ErrUpstreamUnavailable
	}, nil)

	assert.ErrorIs(t, err, errors.ErrUpstreamUnavailable)
	assert.Equal(t, 1, calls)
}

func TestRetryable(t *testing.T) {
	assert.True(t, Retryable(errors.Wrap(errors.ErrUpstreamUnavailable, "x")))
	assert.False(t, Retryable(context.Canceled))
	assert.False(t, Retryable(errors.ErrInvalidInput))
	assert.False(t, Retryable(nil))
}
