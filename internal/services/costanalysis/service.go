package costanalysis

import (
	"context"
	"strings"
	"time"

	"costtrend/internal/domain/budget"
	"costtrend/internal/domain/cache"
	"costtrend/internal/domain/consumption"
	"costtrend/internal/domain/drift"
	"costtrend/internal/domain/job"
	"costtrend/internal/domain/period"
	"costtrend/internal/domain/trend"
	"costtrend/internal/metrics"
	"costtrend/internal/services/aggregator"
	"costtrend/internal/services/budgetstatus"
	driftsvc "costtrend/internal/services/drift"
	trendsvc "costtrend/internal/services/trend"
	"costtrend/pkg/errors"
	"costtrend/pkg/logger"
)

// Jobs is the asynchronous side of the service.
// Implemented by internal/jobs.Orchestrator.
type Jobs interface {
	Submit(ctx context.Context, params trend.Params) (string, error)
	Get(ctx context.Context, sessionID, id string) (*job.Job, error)
}

// Config holds service settings
type Config struct {
	CacheTTL        time.Duration
	DefaultCurrency string
	DriftThreshold  float64
	// MaxWindowMonths bounds the query window; 0 disables the check
	MaxWindowMonths int
}

// Deps are the collaborators of the service
type Deps struct {
	Source     consumption.PagedSource
	Budgets    budget.Store
	Estimates  drift.EstimateSource
	Cache      cache.Cache
	Calculator *trendsvc.Calculator
	Engine     *budgetstatus.Engine
	Analyzer   *driftsvc.Analyzer
}

// Service correlates consumption, budgets and estimates into trends, budget status and drift
type Service struct {
	cfg  Config
	deps Deps
	jobs Jobs
	log  *logger.Logger
}

// NewService creates a new cost analysis service
func NewService(cfg Config, deps Deps, log *logger.Logger) *Service {
	if cfg.DefaultCurrency == "" {
		cfg.DefaultCurrency = "USD"
	}
	if cfg.DriftThreshold <= 0 {
		cfg.DriftThreshold = drift.DefaultThreshold
	}
	return &Service{
		cfg:  cfg,
		deps: deps,
		log:  log.With("service", "cost_analysis"),
	}
}

// UseJobs attaches the job orchestrator. The orchestrator itself runs RunTrend,
// so it is built after the service.
func (s *Service) UseJobs(j Jobs) {
	s.jobs = j
}

// TrendRequest asks for a cost trend
type TrendRequest struct {
	SessionID   string
	From        time.Time
	To          time.Time
	Granularity period.Granularity
	Filters     consumption.Filters
	// BudgetID scopes the trend to a budget: its currency, granularity and end date
	BudgetID     string
	ForceRefresh bool
}

// DriftRequest asks for estimate-vs-actual drift
type DriftRequest struct {
	// Estimated overrides the catalog estimate when set
	Estimated map[string]drift.Estimate
	From      time.Time
	To        time.Time
	Filters   consumption.Filters
	// Threshold in percent; 0 uses the configured default
	Threshold float64
}

// ComputeTrend returns the trend for req, from cache unless ForceRefresh is set
func (s *Service) ComputeTrend(ctx context.Context, req TrendRequest) (*trend.Result, error) {
	params, err := s.prepare(ctx, req)
	if err != nil {
		return nil, err
	}

	key, err := cache.Key(cache.KindTrend, params)
	if err != nil {
		return nil, err
	}

	if !req.ForceRefresh {
		var cached trend.Result
		if s.lookup(ctx, cache.KindTrend, key, &cached) {
			return &cached, nil
		}
	} else if err := s.invalidateHistory(ctx, params); err != nil {
		return nil, err
	}

	result, err := s.RunTrend(ctx, params, nil)
	if err != nil {
		return nil, err
	}

	if err := s.deps.Cache.Set(ctx, key, result, s.cfg.CacheTTL); err != nil {
		s.log.Warnw("Failed to cache trend", "key", key, "error", err)
	}
	return result, nil
}

// SubmitTrendJob validates req synchronously and queues the computation.
// Invalid ranges and unknown budgets are rejected here, never queued.
func (s *Service) SubmitTrendJob(ctx context.Context, req TrendRequest) (string, error) {
	if s.jobs == nil {
		return "", errors.Wrap(errors.ErrInternal, "job orchestrator not configured")
	}

	params, err := s.prepare(ctx, req)
	if err != nil {
		return "", err
	}

	if req.ForceRefresh {
		if err := s.invalidate(ctx, params); err != nil {
			return "", err
		}
	}

	return s.jobs.Submit(ctx, params)
}

// GetJobStatus returns a snapshot of a job owned by sessionID
func (s *Service) GetJobStatus(ctx context.Context, sessionID, jobID string) (*job.Job, error) {
	if s.jobs == nil {
		return nil, errors.Wrapf(errors.ErrJobNotFound, "id=%s", jobID)
	}
	return s.jobs.Get(ctx, sessionID, jobID)
}

// InvalidateTrend drops the cached trend and history of req
func (s *Service) InvalidateTrend(ctx context.Context, req TrendRequest) error {
	params, err := s.prepare(ctx, req)
	if err != nil {
		return err
	}
	return s.invalidate(ctx, params)
}

// RunTrend computes a trend for normalized params, bypassing the trend cache.
// It is the job runner; progress may be nil.
func (s *Service) RunTrend(ctx context.Context, params trend.Params, progress consumption.ProgressFunc) (*trend.Result, error) {
	target := params.To
	if params.BudgetID != "" {
		b, err := s.deps.Budgets.Get(ctx, params.BudgetID)
		if err != nil {
			return nil, err
		}
		if b.EndDate != nil {
			target = period.Truncate(*b.EndDate)
		}
	}

	w := params.Window()
	currency := params.Currency

	var history []period.Period
	if hw, ok := s.deps.Calculator.HistoryWindow(w); ok {
		h, err := s.history(ctx, params, hw, progress)
		if err != nil {
			return nil, err
		}
		history = h.Periods
		if currency == "" {
			currency = h.Currency
		}
	} else if progress != nil {
		progress(1, 1)
	}

	if currency == "" {
		currency = s.cfg.DefaultCurrency
	}

	return s.deps.Calculator.Compute(history, trendsvc.Input{
		Window:      w,
		Granularity: params.Granularity,
		Target:      target,
		Currency:    currency,
		Region:      params.Filters.Region,
	})
}

// historyEntry is the cached aggregation of complete history
type historyEntry struct {
	Periods  []period.Period `json:"periods"`
	Currency string          `json:"currency"`
}

// history returns aggregated periods of hw, fetching from the provider on a cache miss
func (s *Service) history(ctx context.Context, params trend.Params, hw period.Window, progress consumption.ProgressFunc) (*historyEntry, error) {
	key, err := historyKey(params, hw)
	if err != nil {
		return nil, err
	}

	var cached historyEntry
	if s.lookup(ctx, cache.KindHistory, key, &cached) {
		if progress != nil {
			progress(1, 1)
		}
		return &cached, nil
	}

	q := params.Query()
	q.Window = hw

	started := time.Now()
	records, err := consumption.Collect(ctx, s.deps.Source, q, progress)
	if err != nil {
		return nil, err
	}

	agg, err := aggregator.Aggregate(records, hw, params.Granularity, params.Filters)
	if err != nil {
		return nil, err
	}
	if err := checkCurrency(params.Currency, agg.Currency); err != nil {
		return nil, err
	}

	entry := &historyEntry{Periods: agg.Periods, Currency: agg.Currency}
	if err := s.deps.Cache.Set(ctx, key, entry, s.cfg.CacheTTL); err != nil {
		s.log.Warnw("Failed to cache history", "key", key, "error", err)
	}

	s.log.Debugw("Aggregated consumption history",
		"records", len(records),
		"matched", agg.Records,
		"periods", len(agg.Periods),
		"took", time.Since(started),
	)
	return entry, nil
}

// ComputeBudgetStatus returns the budget periods intersecting [from, to) with their spend
func (s *Service) ComputeBudgetStatus(ctx context.Context, budgetID string, from, to time.Time) ([]budget.Period, error) {
	w := period.NewWindow(from, to)
	if !w.To.After(w.From) {
		return nil, errors.NewRangeError("to_date", "must be after from_date", w.To.Format(period.DateLayout))
	}

	b, err := s.deps.Budgets.Get(ctx, budgetID)
	if err != nil {
		return nil, err
	}

	generated, err := budget.GeneratePeriods(b, w.To)
	if err != nil {
		return nil, err
	}
	periods := budgetstatus.Intersecting(generated, w.From, w.To)
	if len(periods) == 0 {
		return []budget.Period{}, nil
	}

	// today's partial spend counts toward the current period
	span := period.Window{From: periods[0].Start, To: periods[len(periods)-1].End}
	if tomorrow := s.deps.Calculator.HistoryEnd().AddDate(0, 0, 1); tomorrow.Before(span.To) {
		span.To = tomorrow
	}

	var daily []period.Period
	if span.To.After(span.From) {
		q := consumption.Query{Window: span, Granularity: period.Day}
		records, err := consumption.Collect(ctx, s.deps.Source, q, nil)
		if err != nil {
			return nil, err
		}
		agg, err := aggregator.Aggregate(records, span, period.Day, consumption.Filters{})
		if err != nil {
			return nil, err
		}
		if err := checkCurrency(b.Currency, agg.Currency); err != nil {
			return nil, err
		}
		daily = agg.Periods
	}

	return s.deps.Engine.Evaluate(periods, daily), nil
}

// driftKey identifies cached actual totals
type driftKey struct {
	Window  period.Window       `json:"window"`
	Filters consumption.Filters `json:"filters"`
}

type driftActuals struct {
	Totals   map[string]consumption.Total `json:"totals"`
	Currency string                       `json:"currency"`
}

// ComputeDrift compares estimated cost per resource type with actual consumption over [From, To)
func (s *Service) ComputeDrift(ctx context.Context, req DriftRequest) ([]drift.Entry, error) {
	w := period.NewWindow(req.From, req.To)
	if err := w.Validate(period.Day); err != nil {
		return nil, err
	}
	filters := req.Filters.Normalize()

	threshold := req.Threshold
	if threshold <= 0 {
		threshold = s.cfg.DriftThreshold
	}

	estimated := req.Estimated
	if estimated == nil {
		if s.deps.Estimates == nil {
			return nil, errors.Wrap(errors.ErrInvalidInput, "no estimate supplied and no estimate source configured")
		}
		var err error
		estimated, err = s.deps.Estimates.FetchEstimatedCosts(ctx, filters)
		if err != nil {
			return nil, errors.Wrap(err, "fetch estimated costs")
		}
	}

	actual, err := s.actuals(ctx, w, filters)
	if err != nil {
		return nil, err
	}

	return s.deps.Analyzer.Analyze(estimated, actual.Totals, threshold), nil
}

func (s *Service) actuals(ctx context.Context, w period.Window, filters consumption.Filters) (*driftActuals, error) {
	hw, ok := s.deps.Calculator.HistoryWindow(w)
	if !ok {
		return &driftActuals{Totals: map[string]consumption.Total{}}, nil
	}

	key, err := cache.Key(cache.KindDrift, driftKey{Window: hw, Filters: filters})
	if err != nil {
		return nil, err
	}

	var cached driftActuals
	if s.lookup(ctx, cache.KindDrift, key, &cached) {
		return &cached, nil
	}

	q := consumption.Query{Window: hw, Granularity: period.Day, Filters: filters}
	records, err := consumption.Collect(ctx, s.deps.Source, q, nil)
	if err != nil {
		return nil, err
	}

	totals, currency, err := aggregator.AggregateByResourceType(records, hw, filters)
	if err != nil {
		return nil, err
	}

	out := &driftActuals{Totals: totals, Currency: currency}
	if err := s.deps.Cache.Set(ctx, key, out, s.cfg.CacheTTL); err != nil {
		s.log.Warnw("Failed to cache drift actuals", "key", key, "error", err)
	}
	return out, nil
}

// prepare normalizes and validates a trend request into cacheable params
func (s *Service) prepare(ctx context.Context, req TrendRequest) (trend.Params, error) {
	params := trend.Params{
		SessionID:   req.SessionID,
		From:        req.From,
		To:          req.To,
		Granularity: req.Granularity,
		Filters:     req.Filters,
		BudgetID:    req.BudgetID,
	}.Normalize()

	if params.BudgetID != "" {
		b, err := s.deps.Budgets.Get(ctx, params.BudgetID)
		if err != nil {
			return trend.Params{}, err
		}
		params.Currency = strings.ToUpper(b.Currency)
		// a budget always plots at the granularity of its period type
		derived := b.PeriodType.TrendGranularity()
		if params.Granularity != "" && params.Granularity != derived {
			s.log.Debugw("Budget overrides requested granularity",
				"budget_id", b.ID,
				"requested", params.Granularity,
				"granularity", derived,
			)
		}
		params.Granularity = derived
	}
	if params.Granularity == "" {
		params.Granularity = period.Month
	}

	w := params.Window()
	if err := w.Validate(params.Granularity); err != nil {
		return trend.Params{}, err
	}
	if s.cfg.MaxWindowMonths > 0 && w.To.After(period.AddMonths(w.From, s.cfg.MaxWindowMonths)) {
		return trend.Params{}, errors.NewRangeError("to_date",
			"window exceeds the maximum number of months", s.cfg.MaxWindowMonths)
	}

	return params, nil
}

func (s *Service) invalidate(ctx context.Context, params trend.Params) error {
	key, err := cache.Key(cache.KindTrend, params)
	if err != nil {
		return err
	}
	if err := s.deps.Cache.Invalidate(ctx, key); err != nil {
		return errors.Wrap(err, "invalidate trend")
	}
	return s.invalidateHistory(ctx, params)
}

func (s *Service) invalidateHistory(ctx context.Context, params trend.Params) error {
	hw, ok := s.deps.Calculator.HistoryWindow(params.Window())
	if !ok {
		return nil
	}
	key, err := historyKey(params, hw)
	if err != nil {
		return err
	}
	if err := s.deps.Cache.Invalidate(ctx, key); err != nil {
		return errors.Wrap(err, "invalidate history")
	}
	return nil
}

// lookup reads key into dest, treating cache errors as misses
func (s *Service) lookup(ctx context.Context, kind, key string, dest any) bool {
	hit, err := s.deps.Cache.Get(ctx, key, dest)
	switch {
	case err != nil:
		metrics.RecordCacheLookup(kind, "error")
		s.log.Warnw("Cache lookup failed", "kind", kind, "error", err)
		return false
	case hit:
		metrics.RecordCacheLookup(kind, "hit")
		return true
	default:
		metrics.RecordCacheLookup(kind, "miss")
		return false
	}
}

// historyKey is shared by every session and budget querying the same data
func historyKey(params trend.Params, hw period.Window) (string, error) {
	return cache.Key(cache.KindHistory, trend.Params{
		From:        hw.From,
		To:          hw.To,
		Granularity: params.Granularity,
		Filters:     params.Filters,
		Currency:    params.Currency,
	})
}

func checkCurrency(want, got string) error {
	if want == "" || got == "" || strings.EqualFold(want, got) {
		return nil
	}
	return errors.Wrapf(errors.ErrCurrencyMismatch, "expected %s, consumption is in %s", strings.ToUpper(want), got)
}
