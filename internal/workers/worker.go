package workers

import (
	"context"
	"sync"
	"time"

	"costtrend/pkg/logger"
)

// Worker is a periodic maintenance task
type Worker interface {
	Name() string

	// Run performs one pass and returns; the scheduler repeats it every Interval()
	Run(ctx context.Context) error

	Interval() time.Duration
	Enabled() bool
}

// WorkerWithHealth is a worker that keeps run statistics
type WorkerWithHealth interface {
	Worker
	Health() WorkerHealth
	RecordRun(duration time.Duration)
	RecordError(err error, duration time.Duration)
}

// WorkerHealth is a snapshot of a worker's run statistics
type WorkerHealth struct {
	LastRun      time.Time
	LastDuration time.Duration
	LastError    error
	RunCount     int64
	ErrorCount   int64
	// ConsecutiveErrors resets on the first successful run
	ConsecutiveErrors int
	AvgDuration       time.Duration
}

// Failing reports whether the last maxConsecutive runs all failed
func (h WorkerHealth) Failing(maxConsecutive int) bool {
	return maxConsecutive > 0 && h.ConsecutiveErrors >= maxConsecutive
}

// BaseWorker carries the name, schedule and statistics shared by all workers
type BaseWorker struct {
	name     string
	interval time.Duration
	enabled  bool
	log      *logger.Logger

	mu            sync.RWMutex
	health        WorkerHealth
	totalDuration time.Duration
}

// NewBaseWorker creates a new base worker
func NewBaseWorker(name string, interval time.Duration, enabled bool, log *logger.Logger) *BaseWorker {
	return &BaseWorker{
		name:     name,
		interval: interval,
		enabled:  enabled,
		log:      log.With("worker", name),
	}
}

func (w *BaseWorker) Name() string            { return w.name }
func (w *BaseWorker) Interval() time.Duration { return w.interval }
func (w *BaseWorker) Enabled() bool           { return w.enabled }
func (w *BaseWorker) Log() *logger.Logger     { return w.log }

// Health returns a copy of the run statistics
func (w *BaseWorker) Health() WorkerHealth {
	w.mu.RLock()
	defer w.mu.RUnlock()

	h := w.health
	if h.RunCount > 0 {
		h.AvgDuration = time.Duration(int64(w.totalDuration) / h.RunCount)
	}
	return h
}

// RecordRun records a successful run
func (w *BaseWorker) RecordRun(duration time.Duration) {
	w.record(nil, duration)
}

// RecordError records a failed run
func (w *BaseWorker) RecordError(err error, duration time.Duration) {
	w.record(err, duration)
}

func (w *BaseWorker) record(err error, duration time.Duration) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.health.LastRun = time.Now()
	w.health.LastDuration = duration
	w.health.LastError = err
	w.health.RunCount++
	w.totalDuration += duration

	if err != nil {
		w.health.ErrorCount++
		w.health.ConsecutiveErrors++
		return
	}
	w.health.ConsecutiveErrors = 0
}
