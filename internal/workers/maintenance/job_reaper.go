package maintenance

import (
	"context"
	"time"

	"costtrend/internal/domain/job"
	"costtrend/internal/metrics"
	"costtrend/internal/workers"
	"costtrend/pkg/errors"
	"costtrend/pkg/logger"
)

// Purger drops expired entries from an in-process cache
type Purger interface {
	Purge() int
}

// ReaperConfig schedules the reaper
type ReaperConfig struct {
	// Retention keeps terminal jobs this long; zero disables the reaper
	Retention time.Duration
	// StaleAfter fails pending or running jobs created this long ago; zero skips it
	StaleAfter time.Duration
	Interval   time.Duration
}

// JobReaper fails orphaned jobs, evicts terminal jobs past the retention window and
// purges expired in-process cache entries
type JobReaper struct {
	*workers.BaseWorker
	store  job.Store
	purger Purger
	cfg    ReaperConfig
	clock  func() time.Time
}

// NewJobReaper creates the reaper. purger may be nil when the cache expires entries itself.
func NewJobReaper(store job.Store, purger Purger, cfg ReaperConfig, clock func() time.Time, log *logger.Logger) *JobReaper {
	if clock == nil {
		clock = time.Now
	}
	return &JobReaper{
		BaseWorker: workers.NewBaseWorker("job_reaper", cfg.Interval, cfg.Retention > 0, log),
		store:      store,
		purger:     purger,
		cfg:        cfg,
		clock:      clock,
	}
}

// Run performs one pass
func (r *JobReaper) Run(ctx context.Context) error {
	now := r.clock()

	failed, err := r.failStale(ctx, now)
	if err != nil {
		return err
	}

	cutoff := now.Add(-r.cfg.Retention)
	removed, err := r.store.DeleteFinishedBefore(ctx, cutoff)
	if err != nil {
		return errors.Wrap(err, "evict finished jobs")
	}
	metrics.JobsEvicted.Add(float64(removed))

	purged := 0
	if r.purger != nil {
		purged = r.purger.Purge()
	}

	if failed > 0 || removed > 0 || purged > 0 {
		r.Log().Infow("Evicted expired entries",
			"stale_jobs", failed,
			"jobs", removed,
			"cache_entries", purged,
			"cutoff", cutoff.Format(time.RFC3339),
		)
	}
	return nil
}

// failStale fails jobs that no worker is going to finish, freeing their params for resubmission
func (r *JobReaper) failStale(ctx context.Context, now time.Time) (int, error) {
	if r.cfg.StaleAfter <= 0 {
		return 0, nil
	}

	stale, err := r.store.FindStale(ctx, now.Add(-r.cfg.StaleAfter))
	if err != nil {
		return 0, errors.Wrap(err, "find stale jobs")
	}

	cause := errors.Wrapf(errors.ErrJobAbandoned, "no outcome within %s", r.cfg.StaleAfter)
	failed := 0
	for _, j := range stale {
		final, err := r.store.Update(ctx, j.ID, func(cur *job.Job) error {
			return cur.Fail(cause, now.UTC())
		})
		switch {
		case errors.Is(err, errors.ErrInvalidTransition), errors.Is(err, errors.ErrJobNotFound):
			// finished or evicted since the lookup
			continue
		case err != nil:
			return failed, errors.Wrapf(err, "fail stale job %s", j.ID)
		}
		failed++
		metrics.JobsFinished.WithLabelValues(final.Status.String(), final.ErrorCode).Inc()
		r.Log().Warnw("Failed orphaned job",
			"job_id", j.ID,
			"status", j.Status,
			"created_at", j.CreatedAt.Format(time.RFC3339),
		)
	}
	return failed, nil
}
