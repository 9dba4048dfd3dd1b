package costanalysis

import (
	"context"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"costtrend/internal/domain/budget"
	"costtrend/internal/domain/consumption"
	"costtrend/internal/domain/drift"
	"costtrend/internal/domain/job"
	"costtrend/internal/domain/period"
	"costtrend/internal/domain/trend"
	"costtrend/internal/repository/memory"
	"costtrend/internal/services/budgetstatus"
	driftsvc "costtrend/internal/services/drift"
	trendsvc "costtrend/internal/services/trend"
	"costtrend/pkg/errors"
	"costtrend/pkg/logger"
)

func testLogger() *logger.Logger {
	zapLogger, _ := zap.NewDevelopment()
	return &logger.Logger{SugaredLogger: zapLogger.Sugar()}
}

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// fakeSource serves records in pages of pageSize, filtered by window
type fakeSource struct {
	mu       sync.Mutex
	records  []*consumption.Record
	pageSize int
	calls    int
	err      error
}

func (f *fakeSource) FetchPage(_ context.Context, q consumption.Query, token string) (*consumption.Page, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, f.err
	}

	var matched []*consumption.Record
	for _, r := range f.records {
		if q.Window.Intersects(r.From, r.End()) {
			matched = append(matched, r)
		}
	}

	offset := 0
	if token != "" {
		offset, _ = strconv.Atoi(token)
	}
	end := offset + f.pageSize
	if end > len(matched) {
		end = len(matched)
	}

	page := &consumption.Page{
		Records:        matched[offset:end],
		EstimatedPages: (len(matched) + f.pageSize - 1) / f.pageSize,
	}
	if end < len(matched) {
		page.NextToken = strconv.Itoa(end)
	}
	return page, nil
}

func (f *fakeSource) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type mockBudgetStore struct {
	mock.Mock
}

func (m *mockBudgetStore) Get(ctx context.Context, id string) (*budget.Budget, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*budget.Budget), args.Error(1)
}

func (m *mockBudgetStore) List(ctx context.Context, ownerID string) ([]*budget.Budget, error) {
	args := m.Called(ctx, ownerID)
	return args.Get(0).([]*budget.Budget), args.Error(1)
}

type mockEstimates struct {
	mock.Mock
}

func (m *mockEstimates) FetchEstimatedCosts(ctx context.Context, f consumption.Filters) (map[string]drift.Estimate, error) {
	args := m.Called(ctx, f)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(map[string]drift.Estimate), args.Error(1)
}

type mockJobs struct {
	mock.Mock
}

func (m *mockJobs) Submit(ctx context.Context, params trend.Params) (string, error) {
	args := m.Called(ctx, params)
	return args.String(0), args.Error(1)
}

func (m *mockJobs) Get(ctx context.Context, sessionID, id string) (*job.Job, error) {
	args := m.Called(ctx, sessionID, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*job.Job), args.Error(1)
}

// dailyRecords returns one record per day in [from, to) costing cost
func dailyRecords(from, to time.Time, cost float64, resourceType string) []*consumption.Record {
	var out []*consumption.Record
	for d := from; d.Before(to); d = d.AddDate(0, 0, 1) {
		out = append(out, &consumption.Record{
			ResourceType: resourceType,
			Service:      "compute",
			Region:       "eu-west-1",
			From:         d,
			To:           d.AddDate(0, 0, 1),
			Quantity:     1,
			UnitPrice:    cost,
			Currency:     "USD",
		})
	}
	return out
}

type fixture struct {
	svc       *Service
	source    *fakeSource
	budgets   *mockBudgetStore
	estimates *mockEstimates
	cache     *memory.Cache
}

func newFixture(t *testing.T, now time.Time, records []*consumption.Record) *fixture {
	t.Helper()
	clock := func() time.Time { return now }
	log := testLogger()

	f := &fixture{
		source:    &fakeSource{records: records, pageSize: 7},
		budgets:   &mockBudgetStore{},
		estimates: &mockEstimates{},
		cache:     memory.NewCache(clock),
	}
	f.svc = NewService(Config{CacheTTL: time.Hour, MaxWindowMonths: 24}, Deps{
		Source:     f.source,
		Budgets:    f.budgets,
		Estimates:  f.estimates,
		Cache:      f.cache,
		Calculator: trendsvc.NewCalculator(trendsvc.Config{}, clock, log),
		Engine:     budgetstatus.NewEngine(clock, log),
		Analyzer:   driftsvc.NewAnalyzer(log),
	}, log)
	return f
}

func TestComputeTrend_MonthEndToEnd(t *testing.T) {
	f := newFixture(t, date(2024, 6, 1), dailyRecords(date(2024, 1, 1), date(2024, 1, 31), 10, "vm"))

	result, err := f.svc.ComputeTrend(context.Background(), TrendRequest{
		SessionID:   "s1",
		From:        date(2024, 1, 1),
		To:          date(2024, 2, 1),
		Granularity: period.Month,
	})
	require.NoError(t, err)

	require.Len(t, result.Periods, 1)
	assert.Equal(t, "2024-01", result.Periods[0].Key)
	assert.InDelta(t, 300.0, result.Periods[0].Cost, 1e-9)
	assert.Equal(t, 0.0, result.GrowthRate)
	assert.Equal(t, trend.Stable, result.Direction)
	assert.False(t, result.Projected)
	assert.Equal(t, "USD", result.Currency)
}

func TestComputeTrend_ServesFromCache(t *testing.T) {
	f := newFixture(t, date(2024, 6, 1), dailyRecords(date(2024, 1, 1), date(2024, 3, 1), 10, "vm"))
	req := TrendRequest{SessionID: "s1", From: date(2024, 1, 1), To: date(2024, 3, 1), Granularity: period.Week}

	first, err := f.svc.ComputeTrend(context.Background(), req)
	require.NoError(t, err)
	calls := f.source.Calls()
	require.Greater(t, calls, 1, "records span several pages")

	second, err := f.svc.ComputeTrend(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, calls, f.source.Calls(), "cache hit must not reach the provider")
	assert.Equal(t, first.TotalCost, second.TotalCost)
	assert.Len(t, second.Periods, 8)

	// other sessions share the cache entry
	req.SessionID = "s2"
	_, err = f.svc.ComputeTrend(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, calls, f.source.Calls())

	req.ForceRefresh = true
	_, err = f.svc.ComputeTrend(context.Background(), req)
	require.NoError(t, err)
	assert.Greater(t, f.source.Calls(), calls, "force refresh refetches history")
}

func TestComputeTrend_InvalidRange(t *testing.T) {
	f := newFixture(t, date(2024, 6, 1), nil)

	tests := []struct {
		name string
		req  TrendRequest
	}{
		{"reversed", TrendRequest{From: date(2024, 2, 1), To: date(2024, 1, 1), Granularity: period.Day}},
		{"shorter than a month", TrendRequest{From: date(2024, 1, 1), To: date(2024, 1, 20), Granularity: period.Month}},
		{"longer than max window", TrendRequest{From: date(2020, 1, 1), To: date(2024, 1, 1), Granularity: period.Month}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.svc.ComputeTrend(context.Background(), tt.req)
			assert.ErrorIs(t, err, errors.ErrInvalidRange)
		})
	}
	assert.Equal(t, 0, f.source.Calls())
}

func TestComputeTrend_ProjectsToBudgetEnd(t *testing.T) {
	end := date(2024, 12, 31)
	f := newFixture(t, date(2024, 3, 1), dailyRecords(date(2024, 1, 1), date(2024, 3, 1), 10, "vm"))
	f.budgets.On("Get", mock.Anything, "b-1").Return(&budget.Budget{
		ID: "b-1", Amount: 10000, Currency: "usd", PeriodType: budget.Yearly,
		StartDate: date(2024, 1, 1), EndDate: &end,
	}, nil)

	result, err := f.svc.ComputeTrend(context.Background(), TrendRequest{
		SessionID: "s1",
		From:      date(2024, 1, 1),
		To:        date(2024, 3, 1),
		BudgetID:  "b-1",
	})
	require.NoError(t, err)

	assert.Equal(t, period.Month, result.Granularity, "yearly budgets plot monthly")
	assert.Equal(t, "USD", result.Currency)
	assert.True(t, result.Projected)
	assert.Equal(t, end, result.To)

	hist := result.Historical()
	require.Len(t, hist, 2)
	last := result.Periods[len(result.Periods)-1]
	assert.True(t, last.Projected)
	assert.Equal(t, hist[1].Cost, last.Cost, "projection repeats the last historical cost")
	assert.Equal(t, end, last.End)
}

func TestComputeTrend_BudgetGranularityWins(t *testing.T) {
	f := newFixture(t, date(2024, 6, 1), dailyRecords(date(2024, 1, 1), date(2024, 3, 1), 10, "vm"))
	f.budgets.On("Get", mock.Anything, "b-1").Return(&budget.Budget{
		ID: "b-1", Amount: 10000, Currency: "USD", PeriodType: budget.Yearly, StartDate: date(2024, 1, 1),
	}, nil)

	req := TrendRequest{SessionID: "s1", From: date(2024, 1, 1), To: date(2024, 3, 1), BudgetID: "b-1"}
	derived, err := f.svc.ComputeTrend(context.Background(), req)
	require.NoError(t, err)

	req.Granularity = period.Day
	explicit, err := f.svc.ComputeTrend(context.Background(), req)
	require.NoError(t, err)

	assert.Equal(t, period.Month, explicit.Granularity)
	assert.Len(t, explicit.Periods, 2)
	assert.Equal(t, derived.Periods, explicit.Periods)
}

func TestComputeTrend_FlatSpendAcrossToday(t *testing.T) {
	now := time.Date(2024, 9, 15, 12, 0, 0, 0, time.UTC)
	f := newFixture(t, now, dailyRecords(date(2024, 7, 1), date(2024, 9, 15), 10, "vm"))

	result, err := f.svc.ComputeTrend(context.Background(), TrendRequest{
		SessionID:   "s1",
		From:        date(2024, 7, 1),
		To:          date(2024, 12, 1),
		Granularity: period.Month,
	})
	require.NoError(t, err)

	assert.Equal(t, trend.Stable, result.Direction)
	require.Len(t, result.Periods, 5)
	for i, p := range result.Periods {
		assert.InDelta(t, 310.0, p.Cost, 1e-6, p.Key)
		assert.Equal(t, i >= 2, p.Projected, p.Key)
	}
	assert.Equal(t, "2024-09", result.Periods[2].Key)
	assert.Equal(t, date(2024, 9, 1), result.Periods[2].Start)
}

func TestComputeTrend_BudgetNotFound(t *testing.T) {
	f := newFixture(t, date(2024, 6, 1), nil)
	f.budgets.On("Get", mock.Anything, "missing").Return(nil, errors.ErrBudgetNotFound)

	_, err := f.svc.ComputeTrend(context.Background(), TrendRequest{
		From: date(2024, 1, 1), To: date(2024, 2, 1), BudgetID: "missing",
	})
	assert.ErrorIs(t, err, errors.ErrBudgetNotFound)
}

func TestComputeTrend_UpstreamFailure(t *testing.T) {
	f := newFixture(t, date(2024, 6, 1), nil)
	f.source.err = errors.Wrap(errors.ErrUpstreamUnavailable, "503")

	_, err := f.svc.ComputeTrend(context.Background(), TrendRequest{
		From: date(2024, 1, 1), To: date(2024, 2, 1), Granularity: period.Day,
	})
	assert.ErrorIs(t, err, errors.ErrUpstreamUnavailable)
	assert.Equal(t, 0, f.cache.Len(), "failures are never cached")
}

func TestSubmitTrendJob_ValidatesSynchronously(t *testing.T) {
	f := newFixture(t, date(2024, 6, 1), nil)
	jobs := &mockJobs{}
	f.svc.UseJobs(jobs)

	_, err := f.svc.SubmitTrendJob(context.Background(), TrendRequest{
		From: date(2024, 2, 1), To: date(2024, 1, 1), Granularity: period.Day,
	})
	assert.ErrorIs(t, err, errors.ErrInvalidRange)
	jobs.AssertNotCalled(t, "Submit", mock.Anything, mock.Anything)
}

func TestSubmitTrendJob_NormalizesParams(t *testing.T) {
	f := newFixture(t, date(2024, 6, 1), nil)
	jobs := &mockJobs{}
	f.svc.UseJobs(jobs)

	jobs.On("Submit", mock.Anything, mock.MatchedBy(func(p trend.Params) bool {
		return p.SessionID == "s1" &&
			p.From.Equal(date(2024, 1, 1)) &&
			p.Filters.Region == "eu-west-1" &&
			p.Granularity == period.Month
	})).Return("job-1", nil)

	id, err := f.svc.SubmitTrendJob(context.Background(), TrendRequest{
		SessionID: "s1",
		From:      time.Date(2024, 1, 1, 15, 30, 0, 0, time.UTC),
		To:        date(2024, 4, 1),
		Filters:   consumption.Filters{Region: " EU-West-1 "},
	})
	require.NoError(t, err)
	assert.Equal(t, "job-1", id)
	jobs.AssertExpectations(t)
}

func TestGetJobStatus(t *testing.T) {
	f := newFixture(t, date(2024, 6, 1), nil)

	_, err := f.svc.GetJobStatus(context.Background(), "s1", "job-1")
	assert.ErrorIs(t, err, errors.ErrJobNotFound, "no orchestrator attached")

	jobs := &mockJobs{}
	f.svc.UseJobs(jobs)
	j := job.New("job-1", "s1", "hash", trend.Params{}, date(2024, 6, 1))
	jobs.On("Get", mock.Anything, "s1", "job-1").Return(j, nil)

	got, err := f.svc.GetJobStatus(context.Background(), "s1", "job-1")
	require.NoError(t, err)
	assert.Equal(t, job.StatusPending, got.Status)
}

func TestRunTrend_ReportsProgress(t *testing.T) {
	f := newFixture(t, date(2024, 6, 1), dailyRecords(date(2024, 1, 1), date(2024, 2, 1), 10, "vm"))

	params := trend.Params{From: date(2024, 1, 1), To: date(2024, 2, 1), Granularity: period.Day}
	var reported [][2]int
	result, err := f.svc.RunTrend(context.Background(), params, func(done, total int) {
		reported = append(reported, [2]int{done, total})
	})
	require.NoError(t, err)
	assert.Len(t, result.Periods, 31)

	require.Len(t, reported, 5, "31 records in pages of 7")
	for i, r := range reported {
		assert.Equal(t, i+1, r[0])
		assert.Equal(t, 5, r[1])
	}
}

func TestInvalidateTrend(t *testing.T) {
	f := newFixture(t, date(2024, 6, 1), dailyRecords(date(2024, 1, 1), date(2024, 2, 1), 10, "vm"))
	req := TrendRequest{From: date(2024, 1, 1), To: date(2024, 2, 1), Granularity: period.Week}

	_, err := f.svc.ComputeTrend(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, 2, f.cache.Len(), "trend and history entries")

	require.NoError(t, f.svc.InvalidateTrend(context.Background(), req))
	assert.Equal(t, 0, f.cache.Len())
}

func TestComputeBudgetStatus_ResetsEachPeriod(t *testing.T) {
	var records []*consumption.Record
	records = append(records, dailyRecords(date(2024, 1, 27), date(2024, 2, 1), 300, "vm")...)
	records = append(records, dailyRecords(date(2024, 2, 1), date(2024, 2, 3), 300, "vm")...)

	f := newFixture(t, date(2024, 6, 1), records)
	f.budgets.On("Get", mock.Anything, "b-1").Return(&budget.Budget{
		ID: "b-1", Amount: 1000, Currency: "USD", PeriodType: budget.Monthly, StartDate: date(2024, 1, 1),
	}, nil)

	periods, err := f.svc.ComputeBudgetStatus(context.Background(), "b-1", date(2024, 1, 1), date(2024, 3, 1))
	require.NoError(t, err)
	require.Len(t, periods, 2)

	assert.Equal(t, 1500.0, periods[0].CumulativeSpent)
	assert.Equal(t, 150.0, periods[0].UtilizationPercent)
	assert.Equal(t, 600.0, periods[1].CumulativeSpent)
	assert.Equal(t, 400.0, periods[1].Remaining)
	assert.Equal(t, 50.0, periods[1].AlertLevel(nil))
}

func TestComputeBudgetStatus_Errors(t *testing.T) {
	f := newFixture(t, date(2024, 6, 1), nil)
	f.budgets.On("Get", mock.Anything, "missing").Return(nil, errors.Wrap(errors.ErrBudgetNotFound, "id=missing"))
	f.budgets.On("Get", mock.Anything, "eur").Return(&budget.Budget{
		ID: "eur", Amount: 100, Currency: "EUR", PeriodType: budget.Monthly, StartDate: date(2024, 1, 1),
	}, nil)

	_, err := f.svc.ComputeBudgetStatus(context.Background(), "missing", date(2024, 1, 1), date(2024, 2, 1))
	assert.ErrorIs(t, err, errors.ErrBudgetNotFound)

	_, err = f.svc.ComputeBudgetStatus(context.Background(), "missing", date(2024, 2, 1), date(2024, 1, 1))
	assert.ErrorIs(t, err, errors.ErrInvalidRange)

	f.source.records = dailyRecords(date(2024, 1, 1), date(2024, 1, 3), 5, "vm")
	_, err = f.svc.ComputeBudgetStatus(context.Background(), "eur", date(2024, 1, 1), date(2024, 2, 1))
	assert.ErrorIs(t, err, errors.ErrCurrencyMismatch)
}

func TestComputeBudgetStatus_BeforeBudgetStart(t *testing.T) {
	f := newFixture(t, date(2024, 6, 1), nil)
	f.budgets.On("Get", mock.Anything, "b-1").Return(&budget.Budget{
		ID: "b-1", Amount: 100, Currency: "USD", PeriodType: budget.Monthly, StartDate: date(2024, 5, 1),
	}, nil)

	periods, err := f.svc.ComputeBudgetStatus(context.Background(), "b-1", date(2024, 1, 1), date(2024, 3, 1))
	require.NoError(t, err)
	assert.Empty(t, periods)
	assert.Equal(t, 0, f.source.Calls())
}

func TestComputeDrift_WithSuppliedEstimates(t *testing.T) {
	var records []*consumption.Record
	records = append(records, dailyRecords(date(2024, 1, 1), date(2024, 1, 11), 12, "vm")...)
	records = append(records, dailyRecords(date(2024, 1, 1), date(2024, 1, 6), 10, "disk")...)

	f := newFixture(t, date(2024, 6, 1), records)

	entries, err := f.svc.ComputeDrift(context.Background(), DriftRequest{
		Estimated: map[string]drift.Estimate{
			"vm":     {Cost: 100, Count: 1},
			"bucket": {Cost: 20, Count: 2},
		},
		From: date(2024, 1, 1),
		To:   date(2024, 2, 1),
	})
	require.NoError(t, err)
	require.Len(t, entries, 3)

	assert.Equal(t, "bucket", entries[0].ResourceType)
	assert.Equal(t, -100.0, entries[0].DriftPercent)

	assert.Equal(t, "disk", entries[1].ResourceType)
	assert.True(t, entries[1].Undefined)
	assert.Equal(t, drift.UndefinedPercent, entries[1].DriftPercent)

	assert.Equal(t, "vm", entries[2].ResourceType)
	assert.InDelta(t, 20.0, entries[2].DriftPercent, 1e-9)
	assert.True(t, entries[2].Significant)
	assert.Equal(t, 10, entries[2].ActualCount)
	f.estimates.AssertNotCalled(t, "FetchEstimatedCosts", mock.Anything, mock.Anything)
}

func TestComputeDrift_FetchesEstimates(t *testing.T) {
	f := newFixture(t, date(2024, 6, 1), dailyRecords(date(2024, 1, 1), date(2024, 1, 11), 10, "vm"))
	f.estimates.On("FetchEstimatedCosts", mock.Anything, consumption.Filters{Region: "eu-west-1"}).
		Return(map[string]drift.Estimate{"vm": {Cost: 95, Count: 1}}, nil)

	entries, err := f.svc.ComputeDrift(context.Background(), DriftRequest{
		From:      date(2024, 1, 1),
		To:        date(2024, 2, 1),
		Filters:   consumption.Filters{Region: "EU-WEST-1"},
		Threshold: 10,
	})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.False(t, entries[0].Significant, "5.26% is under the threshold")
	f.estimates.AssertExpectations(t)
}

func TestComputeDrift_MixedCaseResourceTypes(t *testing.T) {
	f := newFixture(t, date(2024, 6, 1), dailyRecords(date(2024, 1, 1), date(2024, 2, 1), 10, "VM"))
	f.estimates.On("FetchEstimatedCosts", mock.Anything, mock.Anything).
		Return(map[string]drift.Estimate{"vm": {Cost: 310, Count: 1}}, nil)

	entries, err := f.svc.ComputeDrift(context.Background(), DriftRequest{From: date(2024, 1, 1), To: date(2024, 2, 1)})
	require.NoError(t, err)

	require.Len(t, entries, 1, "one entry per resource type")
	assert.Equal(t, "vm", entries[0].ResourceType)
	assert.InDelta(t, 0.0, entries[0].DriftPercent, 1e-9)
	assert.False(t, entries[0].Significant)
}

func TestComputeDrift_EstimateSourceFailure(t *testing.T) {
	f := newFixture(t, date(2024, 6, 1), nil)
	f.estimates.On("FetchEstimatedCosts", mock.Anything, mock.Anything).
		Return(nil, errors.ErrUpstreamUnavailable)

	_, err := f.svc.ComputeDrift(context.Background(), DriftRequest{From: date(2024, 1, 1), To: date(2024, 2, 1)})
	assert.ErrorIs(t, err, errors.ErrUpstreamUnavailable)
}
