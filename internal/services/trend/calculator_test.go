package trend

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"costtrend/internal/domain/period"
	"costtrend/internal/domain/trend"
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

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func withCosts(periods []period.Period, costs ...float64) []period.Period {
	for i := range periods {
		periods[i].Cost = costs[i]
	}
	return periods
}

func TestCompute_SinglePeriodIsStable(t *testing.T) {
	calc := NewCalculator(Config{}, fixedClock(date(2024, 6, 1)), testLogger())
	w := period.NewWindow(date(2024, 1, 1), date(2024, 2, 1))
	history := withCosts(period.Range(w, period.Month), 300)

	result, err := calc.Compute(history, Input{Window: w, Granularity: period.Month, Currency: "USD"})
	require.NoError(t, err)

	require.Len(t, result.Periods, 1)
	assert.Equal(t, 300.0, result.Periods[0].Cost)
	assert.Equal(t, 0.0, result.GrowthRate)
	assert.Equal(t, trend.Stable, result.Direction)
	assert.Equal(t, 300.0, result.TotalCost)
	assert.False(t, result.Projected)
}

func TestGrowthRate(t *testing.T) {
	w := period.NewWindow(date(2024, 1, 1), date(2024, 5, 1))

	tests := []struct {
		name  string
		costs []float64
		want  float64
	}{
		{"doubling", []float64{100, 150, 120, 200}, 100},
		{"halving", []float64{200, 0, 0, 100}, -50},
		{"leading and trailing zeros", []float64{0, 50, 75, 0}, 50},
		{"single non-zero", []float64{0, 0, 80, 0}, 0},
		{"all zero", []float64{0, 0, 0, 0}, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			history := withCosts(period.Range(w, period.Month), tt.costs...)
			assert.InDelta(t, tt.want, GrowthRate(history), 1e-9)
		})
	}
}

func TestCompute_Direction(t *testing.T) {
	calc := NewCalculator(Config{Epsilon: 1}, fixedClock(date(2025, 1, 1)), testLogger())
	w := period.NewWindow(date(2024, 1, 1), date(2024, 3, 1))

	up, err := calc.Compute(withCosts(period.Range(w, period.Month), 100, 102), Input{Window: w, Granularity: period.Month})
	require.NoError(t, err)
	assert.Equal(t, trend.Increasing, up.Direction)

	down, err := calc.Compute(withCosts(period.Range(w, period.Month), 100, 90), Input{Window: w, Granularity: period.Month})
	require.NoError(t, err)
	assert.Equal(t, trend.Decreasing, down.Direction)

	flat, err := calc.Compute(withCosts(period.Range(w, period.Month), 100, 100.5), Input{Window: w, Granularity: period.Month})
	require.NoError(t, err)
	assert.Equal(t, trend.Stable, flat.Direction)
}

func TestCompute_ProjectsWholeBucketAfterPartialHistory(t *testing.T) {
	now := time.Date(2024, 3, 15, 9, 30, 0, 0, time.UTC)
	calc := NewCalculator(Config{}, fixedClock(now), testLogger())
	w := period.NewWindow(date(2024, 1, 1), date(2024, 6, 1))

	hw, ok := calc.HistoryWindow(w)
	require.True(t, ok)
	assert.Equal(t, date(2024, 3, 15), hw.To)

	// March is observed only through the 14th
	history := withCosts(period.Range(hw, period.Month), 100, 120, 60)
	result, err := calc.Compute(history, Input{Window: w, Granularity: period.Month})
	require.NoError(t, err)

	assert.Equal(t, 20.0, result.GrowthRate, "partial month is not compared")
	assert.Equal(t, 110.0, result.HistoricalAverage)
	assert.Equal(t, 220.0, result.TotalCost)
	assert.Len(t, result.Historical(), 2)

	require.Len(t, result.Periods, 5)
	assert.True(t, result.Projected)

	tail := result.Periods[2:]
	assert.Equal(t, "2024-03", tail[0].Key)
	assert.Equal(t, date(2024, 3, 1), tail[0].Start, "projection covers the whole partial bucket")
	assert.Equal(t, date(2024, 4, 1), tail[0].End)
	for _, p := range tail {
		assert.True(t, p.Projected)
		assert.Equal(t, 120.0, p.Cost)
	}
	assert.Equal(t, date(2024, 6, 1), tail[len(tail)-1].End)
	assert.Equal(t, 360.0, result.ProjectedCost)

	keys := make(map[string]bool)
	for i, p := range result.Periods {
		assert.False(t, keys[p.Key], "duplicate key %s", p.Key)
		keys[p.Key] = true
		if i > 0 {
			assert.Equal(t, result.Periods[i-1].End, p.Start)
		}
	}
}

func TestCompute_FlatDailySpendIsStable(t *testing.T) {
	calc := NewCalculator(Config{}, fixedClock(date(2024, 9, 15)), testLogger())
	w := period.NewWindow(date(2024, 7, 1), date(2024, 12, 1))
	hw, _ := calc.HistoryWindow(w)

	// $10 a day: July and August are full, September has 14 days
	history := period.Range(hw, period.Month)
	for i := range history {
		history[i].Cost = 10 * float64(history[i].Days())
	}
	require.Len(t, history, 3)

	result, err := calc.Compute(history, Input{Window: w, Granularity: period.Month})
	require.NoError(t, err)

	assert.Equal(t, 0.0, result.GrowthRate)
	assert.Equal(t, trend.Stable, result.Direction)

	hist := result.Historical()
	require.Len(t, hist, 2)
	for _, p := range result.Periods[len(hist):] {
		assert.Equal(t, hist[1].Cost, p.Cost, "a projected month costs a full historical month")
	}
	assert.Equal(t, "2024-09", result.Periods[2].Key)
}

func TestCompute_PartialOnlyHistoryUsesRunRate(t *testing.T) {
	calc := NewCalculator(Config{}, fixedClock(date(2024, 3, 11)), testLogger())
	w := period.NewWindow(date(2024, 3, 1), date(2024, 5, 1))
	hw, _ := calc.HistoryWindow(w)

	history := withCosts(period.Range(hw, period.Month), 100)
	result, err := calc.Compute(history, Input{Window: w, Granularity: period.Month})
	require.NoError(t, err)

	assert.Empty(t, result.Historical())
	require.Len(t, result.Periods, 2)
	// 100 over 10 days scaled to 31
	assert.Equal(t, 310.0, result.Periods[0].Cost)
	assert.Equal(t, 310.0, result.Periods[1].Cost)
	assert.Equal(t, trend.Stable, result.Direction)
}

func TestCompute_WindowClippedBucketIsComplete(t *testing.T) {
	calc := NewCalculator(Config{}, fixedClock(date(2024, 6, 1)), testLogger())
	w := period.NewWindow(date(2024, 1, 1), date(2024, 3, 15))
	hw, _ := calc.HistoryWindow(w)

	history := withCosts(period.Range(hw, period.Month), 100, 120, 60)
	result, err := calc.Compute(history, Input{Window: w, Granularity: period.Month})
	require.NoError(t, err)

	assert.Len(t, result.Historical(), 3)
	assert.False(t, result.Projected)
	assert.Equal(t, 280.0, result.TotalCost)
}

func TestCompute_ProjectionTargetBeyondWindow(t *testing.T) {
	calc := NewCalculator(Config{}, fixedClock(date(2024, 2, 1)), testLogger())
	w := period.NewWindow(date(2024, 1, 1), date(2024, 3, 1))
	hw, _ := calc.HistoryWindow(w)
	history := withCosts(period.Range(hw, period.Month), 40)

	result, err := calc.Compute(history, Input{Window: w, Granularity: period.Month, Target: date(2024, 12, 31)})
	require.NoError(t, err)

	assert.Equal(t, date(2024, 12, 31), result.To)
	assert.Len(t, result.Periods, 12)
}

func TestCompute_ProjectionDeterministic(t *testing.T) {
	calc := NewCalculator(Config{}, fixedClock(date(2024, 2, 10)), testLogger())
	w := period.NewWindow(date(2024, 1, 1), date(2024, 4, 1))
	hw, _ := calc.HistoryWindow(w)

	first, err := calc.Compute(withCosts(period.Range(hw, period.Week), 10, 20, 30, 40, 5, 2), Input{Window: w, Granularity: period.Week})
	require.NoError(t, err)
	second, err := calc.Compute(withCosts(period.Range(hw, period.Week), 10, 20, 30, 40, 5, 2), Input{Window: w, Granularity: period.Week})
	require.NoError(t, err)

	assert.Equal(t, first.Periods, second.Periods)
	assert.Equal(t, first.ProjectedCost, second.ProjectedCost)
}

func TestCompute_ProjectionOverflow(t *testing.T) {
	calc := NewCalculator(Config{MaxProjected: 1000}, fixedClock(date(2024, 1, 2)), testLogger())
	w := period.NewWindow(date(2024, 1, 1), date(2024, 2, 1))
	hw, _ := calc.HistoryWindow(w)
	history := withCosts(period.Range(hw, period.Day), 1)

	_, err := calc.Compute(history, Input{Window: w, Granularity: period.Day, Target: date(2030, 1, 1)})
	assert.ErrorIs(t, err, errors.ErrProjectionOverflow)
}

func TestCompute_EntirelyFutureWindow(t *testing.T) {
	calc := NewCalculator(Config{}, fixedClock(date(2024, 1, 1)), testLogger())
	w := period.NewWindow(date(2024, 3, 1), date(2024, 5, 1))

	_, ok := calc.HistoryWindow(w)
	assert.False(t, ok)

	result, err := calc.Compute(nil, Input{Window: w, Granularity: period.Month})
	require.NoError(t, err)

	require.Len(t, result.Periods, 2)
	assert.Zero(t, result.ProjectedCost)
	assert.Zero(t, result.HistoricalAverage)
}

func TestHistoricalAverage(t *testing.T) {
	w := period.NewWindow(date(2024, 1, 1), date(2024, 4, 1))
	history := withCosts(period.Range(w, period.Month), 10, 0, 20)

	assert.Equal(t, 10.0, HistoricalAverage(history))
	assert.Equal(t, 0.0, HistoricalAverage(nil))
}
