package jobs

import (
	"context"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"

	"costtrend/internal/domain/cache"
	"costtrend/internal/domain/consumption"
	"costtrend/internal/domain/job"
	"costtrend/internal/domain/trend"
	"costtrend/internal/events"
	"costtrend/internal/metrics"
	"costtrend/pkg/errors"
	"costtrend/pkg/logger"
)

// Runner computes a trend for params, reporting page progress as it goes
type Runner func(ctx context.Context, params trend.Params, progress consumption.ProgressFunc) (*trend.Result, error)

// Config sizes the pool
type Config struct {
	Workers   int
	QueueSize int
	// Timeout is the wall-clock deadline of one job
	Timeout time.Duration
	// CacheTTL applies to results stored on completion
	CacheTTL time.Duration
}

// Orchestrator runs trend jobs on a fixed pool of workers fed by a bounded queue.
// Submission never blocks; pollers read snapshots from the job store.
type Orchestrator struct {
	cfg    Config
	store  job.Store
	cache  cache.Cache
	run    Runner
	events events.Sink
	clock  func() time.Time
	log    *logger.Logger

	queue chan string

	mu      sync.Mutex
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	started bool
}

// NewOrchestrator creates an orchestrator. A nil sink drops events, a nil clock uses time.Now.
func NewOrchestrator(
	cfg Config,
	store job.Store,
	c cache.Cache,
	run Runner,
	sink events.Sink,
	clock func() time.Time,
	log *logger.Logger,
) *Orchestrator {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = cfg.Workers
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Minute
	}
	if sink == nil {
		sink = events.NopSink{}
	}
	if clock == nil {
		clock = time.Now
	}
	return &Orchestrator{
		cfg:    cfg,
		store:  store,
		cache:  c,
		run:    run,
		events: sink,
		clock:  clock,
		log:    log.With("component", "job_orchestrator"),
		queue:  make(chan string, cfg.QueueSize),
	}
}

// Start launches the workers
func (o *Orchestrator) Start(ctx context.Context) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.started {
		return errors.Wrapf(errors.ErrInternal, "orchestrator already started")
	}
	o.started = true
	o.ctx, o.cancel = context.WithCancel(ctx)

	for i := 0; i < o.cfg.Workers; i++ {
		o.wg.Add(1)
		go o.worker(i)
	}

	o.log.Infow("Job orchestrator started",
		"workers", o.cfg.Workers,
		"queue_size", o.cfg.QueueSize,
		"timeout", o.cfg.Timeout,
	)
	return nil
}

// Stop cancels running jobs, waits for workers to exit and fails every job still
// queued, so none stays pending after shutdown.
func (o *Orchestrator) Stop() {
	o.mu.Lock()
	if !o.started {
		o.mu.Unlock()
		return
	}
	o.cancel()
	o.started = false
	o.mu.Unlock()

	o.wg.Wait()
	abandoned := o.drain()
	o.log.Infow("Job orchestrator stopped", "abandoned", abandoned)
}

// drain fails the jobs left in the queue and returns how many there were
func (o *Orchestrator) drain() int {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	n := 0
	for {
		select {
		case id := <-o.queue:
			o.abandon(ctx, id)
			n++
		default:
			metrics.JobQueueDepth.Set(0)
			return n
		}
	}
}

// abandon fails a job that no worker will run
func (o *Orchestrator) abandon(ctx context.Context, id string) {
	cause := errors.Wrap(errors.ErrJobAbandoned, "orchestrator stopped before the job started")
	j, err := o.store.Update(ctx, id, func(cur *job.Job) error {
		return cur.Fail(cause, o.clock().UTC())
	})
	if err != nil {
		o.log.Warnw("Failed to abandon queued job", "job_id", id, "error", err)
		return
	}
	metrics.JobsFinished.WithLabelValues(j.Status.String(), j.ErrorCode).Inc()
	o.publish(ctx, j)
}

// Submit registers a pending job for params and returns its id without waiting.
// An in-flight job of the same session with identical params is reused.
func (o *Orchestrator) Submit(ctx context.Context, params trend.Params) (string, error) {
	hash, err := cache.Hash(params)
	if err != nil {
		return "", err
	}

	if existing, err := o.store.FindActive(ctx, params.SessionID, hash); err == nil {
		metrics.JobsSubmitted.WithLabelValues("deduplicated").Inc()
		o.log.Debugw("Reusing in-flight job", "job_id", existing.ID, "session_id", params.SessionID)
		return existing.ID, nil
	} else if !errors.Is(err, errors.ErrJobNotFound) {
		return "", errors.Wrap(err, "find active job")
	}

	j := job.New(uuid.NewString(), params.SessionID, hash, params, o.clock().UTC())
	if err := o.store.Create(ctx, j); err != nil {
		return "", errors.Wrap(err, "create job")
	}

	select {
	case o.queue <- j.ID:
	default:
		metrics.JobsSubmitted.WithLabelValues("rejected").Inc()
		// release the active slot so a later submission can retry
		if _, ferr := o.store.Update(ctx, j.ID, func(cur *job.Job) error {
			return cur.Fail(errors.ErrQueueFull, o.clock().UTC())
		}); ferr != nil {
			o.log.Warnw("Failed to mark rejected job", "job_id", j.ID, "error", ferr)
		}
		return "", errors.Wrapf(errors.ErrQueueFull, "%d jobs waiting", cap(o.queue))
	}

	metrics.JobsSubmitted.WithLabelValues("queued").Inc()
	metrics.JobQueueDepth.Set(float64(len(o.queue)))
	o.publish(ctx, j)

	o.log.Infow("Trend job queued",
		"job_id", j.ID,
		"session_id", j.SessionID,
		"granularity", params.Granularity,
		"from", params.From.Format(time.DateOnly),
		"to", params.To.Format(time.DateOnly),
	)
	return j.ID, nil
}

// Get returns a snapshot of a job owned by sessionID.
// Jobs of other sessions are reported as not found.
func (o *Orchestrator) Get(ctx context.Context, sessionID, id string) (*job.Job, error) {
	j, err := o.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if j.SessionID != sessionID {
		return nil, errors.Wrapf(errors.ErrJobNotFound, "id=%s", id)
	}
	return j, nil
}

func (o *Orchestrator) worker(n int) {
	defer o.wg.Done()

	log := o.log.With("worker", n)
	for {
		select {
		case <-o.ctx.Done():
			log.Debug("Worker stopping due to context cancellation")
			return
		case id := <-o.queue:
			metrics.JobQueueDepth.Set(float64(len(o.queue)))
			if o.ctx.Err() != nil {
				// select picked the queue over a cancelled context
				o.abandon(context.WithoutCancel(o.ctx), id)
				return
			}
			o.execute(o.ctx, id)
		}
	}
}

type outcome struct {
	result *trend.Result
	err    error
}

// execute runs one job to a terminal state. Store writes outlive shutdown so no job
// is left running.
func (o *Orchestrator) execute(parent context.Context, id string) {
	storeCtx := context.WithoutCancel(parent)
	log := o.log.With("job_id", id)

	startedAt := o.clock()
	j, err := o.store.Update(storeCtx, id, func(cur *job.Job) error {
		return cur.Start(startedAt.UTC())
	})
	if err != nil {
		log.Warnw("Job could not be started", "error", err)
		return
	}
	o.publish(storeCtx, j)

	ctx, cancel := context.WithTimeout(parent, o.cfg.Timeout)
	defer cancel()

	progress := func(done, total int) {
		pct, eta := o.estimate(done, total, startedAt)
		if _, err := o.store.Update(storeCtx, id, func(cur *job.Job) error {
			return cur.ReportProgress(pct, eta)
		}); err != nil {
			log.Debugw("Progress update skipped", "error", err)
		}
	}

	done := make(chan outcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- outcome{err: errors.Wrapf(errors.ErrInternal, "job panicked: %v", r)}
			}
		}()
		res, err := o.run(ctx, j.Params, progress)
		done <- outcome{result: res, err: err}
	}()

	var out outcome
	select {
	case out = <-done:
	case <-ctx.Done():
		out.err = ctx.Err()
	}
	if out.err == nil && ctx.Err() != nil {
		out.err = ctx.Err()
	}
	if errors.Is(out.err, context.DeadlineExceeded) {
		out.err = errors.Wrapf(errors.ErrJobTimeout, "exceeded %s", o.cfg.Timeout)
	}

	o.finish(storeCtx, log, j, out, startedAt)
}

func (o *Orchestrator) finish(ctx context.Context, log *logger.Logger, j *job.Job, out outcome, startedAt time.Time) {
	now := o.clock().UTC()

	if out.err == nil && out.result == nil {
		out.err = errors.Wrap(errors.ErrInternal, "runner returned no result")
	}

	if out.err == nil {
		key, err := cache.Key(cache.KindTrend, j.Params)
		if err == nil {
			err = o.cache.Set(ctx, key, out.result, o.cfg.CacheTTL)
		}
		if err != nil {
			log.Warnw("Failed to cache job result", "error", err)
		}
	}

	final, err := o.store.Update(ctx, j.ID, func(cur *job.Job) error {
		if out.err != nil {
			return cur.Fail(out.err, now)
		}
		return cur.Complete(out.result, now)
	})
	if err != nil {
		log.Errorw("Failed to record job outcome", "error", err, "job_error", out.err)
		return
	}

	elapsed := now.Sub(startedAt)
	metrics.RecordJobFinished(final.Status.String(), final.ErrorCode, elapsed)
	o.publish(ctx, final)

	if out.err != nil {
		log.Warnw("Trend job failed",
			"code", final.ErrorCode,
			"error", out.err,
			"took", elapsed.Round(time.Millisecond),
		)
		return
	}
	log.Infow("Trend job completed",
		"periods", len(out.result.Periods),
		"total_cost", humanize.CommafWithDigits(out.result.TotalCost, 2),
		"took", humanize.RelTime(startedAt, now, "", ""),
	)
}

// estimate converts page counts to a percentage capped below 100 and an ETA
// extrapolated from the elapsed time.
func (o *Orchestrator) estimate(done, total int, startedAt time.Time) (int, time.Duration) {
	if total <= 0 {
		return 0, 0
	}
	pct := done * 100 / total
	if pct > 99 {
		pct = 99
	}
	if pct <= 0 {
		return 0, 0
	}
	elapsed := o.clock().Sub(startedAt)
	eta := elapsed / time.Duration(pct) * time.Duration(100-pct)
	return pct, eta
}

func (o *Orchestrator) publish(ctx context.Context, j *job.Job) {
	e := events.NewJobEvent(events.TypeFor(j.Status), j, o.clock())
	if err := o.events.PublishJobEvent(ctx, e); err != nil {
		o.log.Warnw("Failed to publish job event", "job_id", j.ID, "type", e.Type, "error", err)
	}
}

