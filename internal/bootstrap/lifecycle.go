package bootstrap

import (
	"context"
	"sync"
	"time"

	chclient "costtrend/internal/adapters/clickhouse"
	"costtrend/internal/adapters/kafka"
	pgclient "costtrend/internal/adapters/postgres"
	redisclient "costtrend/internal/adapters/redis"
	"costtrend/internal/api"
	"costtrend/internal/jobs"
	chrepo "costtrend/internal/repository/clickhouse"
	"costtrend/internal/workers"
	"costtrend/pkg/errors"
	"costtrend/pkg/logger"
)

// Lifecycle manages graceful shutdown of components
type Lifecycle struct {
	shutdownTimeout time.Duration
	httpTimeout     time.Duration
}

// NewLifecycle creates a new lifecycle manager
func NewLifecycle() *Lifecycle {
	return &Lifecycle{
		shutdownTimeout: 60 * time.Second,
		httpTimeout:     5 * time.Second,
	}
}

// Shutdown stops components in dependency order:
// 1. No new requests accepted
// 2. Workers and jobs finish
// 3. Buffered consumption flushed
// 4. Producer closed
// 5. Errors and logs flushed
// 6. Database connections last
func (l *Lifecycle) Shutdown(
	wg *sync.WaitGroup,
	httpServer *api.Server,
	workerScheduler *workers.Scheduler,
	orchestrator *jobs.Orchestrator,
	consumptionRepo *chrepo.ConsumptionRepository,
	kafkaProducer *kafka.Producer,
	pgClient *pgclient.Client,
	chClient *chclient.Client,
	redisClient *redisclient.Client,
	errorTracker errors.Tracker,
	log *logger.Logger,
) {
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), l.shutdownTimeout)
	defer shutdownCancel()

	// ========================================
	// Step 1: Stop HTTP Server
	// ========================================
	log.Info("[1/8] Stopping HTTP server...")
	if httpServer != nil {
		httpCtx, httpCancel := context.WithTimeout(shutdownCtx, l.httpTimeout)
		if err := httpServer.Shutdown(httpCtx); err != nil {
			log.Error("HTTP server shutdown failed", "error", err)
		} else {
			log.Info("✓ HTTP server stopped")
		}
		httpCancel()
	}

	// ========================================
	// Step 2: Stop Background Workers
	// ========================================
	log.Info("[2/8] Stopping background workers...")
	if workerScheduler != nil {
		if err := workerScheduler.Stop(); err != nil {
			log.Error("Workers shutdown failed", "error", err)
		} else {
			log.Info("✓ Workers stopped")
		}
	}

	// ========================================
	// Step 3: Stop Job Orchestrator
	// Running and queued jobs are recorded as failed
	// ========================================
	log.Info("[3/8] Stopping job orchestrator...")
	if orchestrator != nil {
		orchestrator.Stop()
		log.Info("✓ Job orchestrator stopped")
	}

	// ========================================
	// Step 4: Wait for Goroutines
	// ========================================
	log.Info("[4/8] Waiting for goroutines...")
	l.waitForGoroutines(wg, 5*time.Second, log)

	// ========================================
	// Step 5: Flush Consumption Writer
	// ========================================
	log.Info("[5/8] Flushing consumption writer...")
	if consumptionRepo != nil {
		if err := consumptionRepo.Stop(shutdownCtx); err != nil {
			log.Error("Consumption writer flush failed", "error", err)
		} else {
			log.Info("✓ Consumption writer flushed")
		}
	}

	// ========================================
	// Step 6: Close Kafka Producer
	// ========================================
	log.Info("[6/8] Closing Kafka producer...")
	if kafkaProducer != nil {
		if err := kafkaProducer.Close(); err != nil {
			log.Error("Kafka producer close failed", "error", err)
		} else {
			log.Info("✓ Kafka producer closed")
		}
	}

	// ========================================
	// Step 7: Flush Error Tracker and Logs
	// ========================================
	log.Info("[7/8] Flushing error tracker and logs...")
	l.flushErrorTracker(shutdownCtx, errorTracker, log)
	if err := logger.Sync(); err != nil {
		log.Warn("Log sync completed with warnings")
	}

	// ========================================
	// Step 8: Close Database Connections
	// LAST - other components may need them during shutdown
	// ========================================
	log.Info("[8/8] Closing database connections...")
	l.closeDatabases(pgClient, chClient, redisClient, log)

	log.Info("✅ Graceful shutdown complete")
}

// waitForGoroutines waits for all goroutines with a timeout
func (l *Lifecycle) waitForGoroutines(wg *sync.WaitGroup, timeout time.Duration, log *logger.Logger) {
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		log.Info("✓ All goroutines finished")
	case <-time.After(timeout):
		log.Warn("⚠ Some goroutines did not finish within timeout", "timeout", timeout)
	}
}

func (l *Lifecycle) flushErrorTracker(ctx context.Context, tracker errors.Tracker, log *logger.Logger) {
	if tracker == nil {
		return
	}

	flushCtx, flushCancel := context.WithTimeout(ctx, 3*time.Second)
	defer flushCancel()

	if err := tracker.Flush(flushCtx); err != nil {
		log.Error("Error tracker flush failed", "error", err)
	} else {
		log.Info("✓ Error tracker flushed")
	}
}

func (l *Lifecycle) closeDatabases(
	pgClient *pgclient.Client,
	chClient *chclient.Client,
	redisClient *redisclient.Client,
	log *logger.Logger,
) {
	var errs errors.MultiError

	if pgClient != nil {
		if err := pgClient.Close(); err != nil {
			errs.Add(errors.Wrap(err, "postgres"))
		}
	}
	if chClient != nil {
		if err := chClient.Close(); err != nil {
			errs.Add(errors.Wrap(err, "clickhouse"))
		}
	}
	if redisClient != nil {
		if err := redisClient.Close(); err != nil {
			errs.Add(errors.Wrap(err, "redis"))
		}
	}

	if err := errs.ToError(); err != nil {
		log.Error("Database close errors", "error", err)
	} else {
		log.Info("✓ Database connections closed")
	}
}
