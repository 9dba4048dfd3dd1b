package period

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"costtrend/pkg/errors"
)

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func TestBucketOf_Day(t *testing.T) {
	b := BucketOf(time.Date(2024, 3, 10, 17, 45, 0, 0, time.UTC), Day)

	assert.Equal(t, "2024-03-10", b.Key)
	assert.Equal(t, date(2024, 3, 10), b.Start)
	assert.Equal(t, date(2024, 3, 11), b.End)
}

func TestBucketOf_Month(t *testing.T) {
	b := BucketOf(date(2024, 12, 31), Month)

	assert.Equal(t, "2024-12", b.Key)
	assert.Equal(t, date(2024, 12, 1), b.Start)
	assert.Equal(t, date(2025, 1, 1), b.End)
}

func TestBucketOf_WeekBoundaries(t *testing.T) {
	tests := []struct {
		day   int
		key   string
		start int
		end   time.Time
	}{
		{1, "2024-02-W1", 1, date(2024, 2, 8)},
		{7, "2024-02-W1", 1, date(2024, 2, 8)},
		{8, "2024-02-W2", 8, date(2024, 2, 15)},
		{14, "2024-02-W2", 8, date(2024, 2, 15)},
		{15, "2024-02-W3", 15, date(2024, 2, 22)},
		{21, "2024-02-W3", 15, date(2024, 2, 22)},
		{22, "2024-02-W4", 22, date(2024, 3, 1)},
		{29, "2024-02-W4", 22, date(2024, 3, 1)},
	}

	for _, tt := range tests {
		b := BucketOf(date(2024, 2, tt.day), Week)
		assert.Equal(t, tt.key, b.Key, "day %d", tt.day)
		assert.Equal(t, date(2024, 2, tt.start), b.Start, "day %d", tt.day)
		assert.Equal(t, tt.end, b.End, "day %d", tt.day)
	}
}

// Every day of every month maps to exactly one of four weekly buckets and the
// buckets partition the month without gaps.
func TestBucketOf_WeekCoverage(t *testing.T) {
	for month := time.January; month <= time.December; month++ {
		for _, year := range []int{2023, 2024} {
			days := DaysIn(year, month)
			seen := map[string]int{}

			for d := 1; d <= days; d++ {
				day := date(year, month, d)
				b := BucketOf(day, Week)
				require.True(t, !day.Before(b.Start) && day.Before(b.End), "%s outside its bucket", day)
				seen[b.Key]++
			}

			assert.Len(t, seen, 4, "%d-%02d", year, month)

			total := 0
			for _, n := range seen {
				total += n
			}
			assert.Equal(t, days, total)

			first := BucketOf(date(year, month, 1), Week)
			cursor := first.Start
			for i := 0; i < 4; i++ {
				b := BucketOf(cursor, Week)
				assert.Equal(t, cursor, b.Start)
				cursor = b.End
			}
			assert.Equal(t, date(year, month+1, 1), cursor)
		}
	}
}

func TestAddMonths_ClampsDay(t *testing.T) {
	assert.Equal(t, date(2024, 2, 29), AddMonths(date(2024, 1, 31), 1))
	assert.Equal(t, date(2023, 2, 28), AddMonths(date(2023, 1, 31), 1))
	assert.Equal(t, date(2024, 4, 30), AddMonths(date(2024, 1, 31), 3))
	assert.Equal(t, date(2025, 2, 28), AddMonths(date(2024, 2, 29), 12))
	assert.Equal(t, date(2024, 3, 31), AddMonths(date(2024, 1, 31), 2))
}

func TestRange_ClipsToWindow(t *testing.T) {
	w := NewWindow(date(2024, 1, 10), date(2024, 3, 5))
	periods := Range(w, Month)

	require.Len(t, periods, 3)
	assert.Equal(t, date(2024, 1, 10), periods[0].Start)
	assert.Equal(t, date(2024, 2, 1), periods[0].End)
	assert.Equal(t, "2024-02", periods[1].Key)
	assert.Equal(t, date(2024, 3, 1), periods[2].Start)
	assert.Equal(t, date(2024, 3, 5), periods[2].End)

	for i := 1; i < len(periods); i++ {
		assert.Equal(t, periods[i-1].End, periods[i].Start, "periods must be contiguous")
	}
}

func TestRange_Week(t *testing.T) {
	w := NewWindow(date(2024, 1, 1), date(2024, 2, 1))
	periods := Range(w, Week)

	require.Len(t, periods, 4)
	assert.Equal(t, 10, periods[3].Days())
}

func TestIndex(t *testing.T) {
	periods := Range(NewWindow(date(2024, 1, 1), date(2024, 1, 31)), Day)

	assert.Equal(t, 0, Index(periods, date(2024, 1, 1)))
	assert.Equal(t, 14, Index(periods, time.Date(2024, 1, 15, 12, 0, 0, 0, time.UTC)))
	assert.Equal(t, -1, Index(periods, date(2024, 1, 31)))
	assert.Equal(t, -1, Index(periods, date(2023, 12, 31)))
}

func TestWindow_Validate(t *testing.T) {
	tests := []struct {
		name    string
		window  Window
		g       Granularity
		wantErr error
	}{
		{"valid month", NewWindow(date(2024, 1, 1), date(2024, 2, 1)), Month, nil},
		{"equal bounds", NewWindow(date(2024, 1, 1), date(2024, 1, 1)), Day, errors.ErrInvalidRange},
		{"reversed", NewWindow(date(2024, 2, 1), date(2024, 1, 1)), Day, errors.ErrInvalidRange},
		{"shorter than a week", NewWindow(date(2024, 1, 1), date(2024, 1, 5)), Week, errors.ErrInvalidRange},
		{"shorter than a month", NewWindow(date(2024, 1, 31), date(2024, 2, 28)), Month, errors.ErrInvalidRange},
		{"end of month step", NewWindow(date(2024, 1, 31), date(2024, 2, 29)), Month, nil},
		{"bad granularity", NewWindow(date(2024, 1, 1), date(2024, 2, 1)), Granularity("hour"), errors.ErrInvalidInput},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.window.Validate(tt.g)
			if tt.wantErr == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}
