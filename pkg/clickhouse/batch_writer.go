package clickhouse

import (
	"context"
	"sync"
	"time"

	"costtrend/pkg/logger"
)

// FlushFunc performs the actual INSERT of one batch
type FlushFunc[T any] func(ctx context.Context, batch []T) error

// BatchWriter buffers rows in memory and flushes them in batches, on size or on age.
// Single-row inserts are slow in ClickHouse.
type BatchWriter[T any] struct {
	flushFunc FlushFunc[T]
	log       *logger.Logger

	mu        sync.Mutex
	buffer    []T
	lastFlush time.Time
	running   bool

	maxBatchSize int
	maxAge       time.Duration
	maxBuffered  int
	table        string

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// BatchWriterConfig configures a BatchWriter
type BatchWriterConfig[T any] struct {
	FlushFunc    FlushFunc[T]
	Table        string
	MaxBatchSize int           // Default: 500
	MaxAge       time.Duration // Default: 5s
	// MaxBuffered bounds rows kept for retry after a failed flush. Default: 10 × MaxBatchSize
	MaxBuffered int
	Logger      *logger.Logger
}

// NewBatchWriter creates a new batch writer
func NewBatchWriter[T any](cfg BatchWriterConfig[T]) *BatchWriter[T] {
	if cfg.MaxBatchSize <= 0 {
		cfg.MaxBatchSize = 500
	}
	if cfg.MaxAge <= 0 {
		cfg.MaxAge = 5 * time.Second
	}
	if cfg.MaxBuffered < cfg.MaxBatchSize {
		cfg.MaxBuffered = 10 * cfg.MaxBatchSize
	}
	log := cfg.Logger
	if log == nil {
		log = logger.Get()
	}

	return &BatchWriter[T]{
		flushFunc:    cfg.FlushFunc,
		buffer:       make([]T, 0, cfg.MaxBatchSize),
		maxBatchSize: cfg.MaxBatchSize,
		maxAge:       cfg.MaxAge,
		maxBuffered:  cfg.MaxBuffered,
		table:        cfg.Table,
		lastFlush:    time.Now(),
		stopCh:       make(chan struct{}),
		log:          log.With("component", "batch_writer", "table", cfg.Table),
	}
}

// Start begins the background flush loop
func (bw *BatchWriter[T]) Start(ctx context.Context) {
	bw.mu.Lock()
	if bw.running {
		bw.mu.Unlock()
		return
	}
	bw.running = true
	bw.mu.Unlock()

	bw.wg.Add(1)
	go bw.flushLoop(ctx)

	bw.log.Infow("BatchWriter started", "max_batch_size", bw.maxBatchSize, "max_age", bw.maxAge)
}

// Add buffers rows and flushes synchronously once the batch is full
func (bw *BatchWriter[T]) Add(ctx context.Context, rows ...T) error {
	bw.mu.Lock()
	bw.buffer = append(bw.buffer, rows...)
	full := len(bw.buffer) >= bw.maxBatchSize
	bw.mu.Unlock()

	if full {
		return bw.Flush(ctx)
	}
	return nil
}

// Flush writes all buffered rows. On failure the rows go back to the buffer,
// oldest dropped first once MaxBuffered is exceeded.
func (bw *BatchWriter[T]) Flush(ctx context.Context) error {
	bw.mu.Lock()
	if len(bw.buffer) == 0 {
		bw.mu.Unlock()
		return nil
	}
	batch := bw.buffer
	bw.buffer = make([]T, 0, bw.maxBatchSize)
	bw.lastFlush = time.Now()
	bw.mu.Unlock()

	start := time.Now()
	err := bw.flushFunc(ctx, batch)
	took := time.Since(start)

	if err != nil {
		dropped := bw.requeue(batch)
		bw.log.Errorw("Failed to flush batch",
			"rows", len(batch),
			"dropped", dropped,
			"took", took,
			"error", err,
		)
		return err
	}

	bw.log.Debugw("Flushed batch", "rows", len(batch), "took", took)
	return nil
}

func (bw *BatchWriter[T]) requeue(batch []T) int {
	bw.mu.Lock()
	defer bw.mu.Unlock()

	merged := append(batch, bw.buffer...)
	dropped := 0
	if len(merged) > bw.maxBuffered {
		dropped = len(merged) - bw.maxBuffered
		merged = merged[dropped:]
	}
	bw.buffer = merged
	return dropped
}

func (bw *BatchWriter[T]) flushLoop(ctx context.Context) {
	defer bw.wg.Done()

	ticker := time.NewTicker(bw.maxAge)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			bw.finalFlush()
			return
		case <-bw.stopCh:
			bw.finalFlush()
			return
		case <-ticker.C:
			if bw.BufferSize() == 0 {
				continue
			}
			if err := bw.Flush(ctx); err != nil {
				bw.log.Warnw("Periodic flush failed", "error", err)
			}
		}
	}
}

func (bw *BatchWriter[T]) finalFlush() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := bw.Flush(ctx); err != nil {
		bw.log.Errorw("Final flush failed", "error", err)
	}
}

// Stop flushes remaining rows and waits for the loop to exit
func (bw *BatchWriter[T]) Stop(ctx context.Context) error {
	bw.mu.Lock()
	if !bw.running {
		bw.mu.Unlock()
		return bw.Flush(ctx)
	}
	bw.running = false
	bw.mu.Unlock()

	close(bw.stopCh)

	done := make(chan struct{})
	go func() {
		bw.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		bw.log.Info("BatchWriter stopped")
		return nil
	case <-ctx.Done():
		bw.log.Warn("BatchWriter stop timed out")
		return ctx.Err()
	}
}

// BufferSize returns the number of rows waiting to be flushed
func (bw *BatchWriter[T]) BufferSize() int {
	bw.mu.Lock()
	defer bw.mu.Unlock()
	return len(bw.buffer)
}
