package period

import (
	"fmt"
	"time"
)

// Bucket is the canonical [Start, End) slot a date belongs to for a granularity
type Bucket struct {
	Key   string
	Start time.Time
	End   time.Time
}

// weekStartDays are the days of month on which "week" buckets begin.
// These are billing weeks, not ISO weeks: the fourth bucket runs to the end of the month.
var weekStartDays = [4]int{1, 8, 15, 22}

// Truncate returns t as UTC midnight of its calendar date
func Truncate(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// BucketOf returns the bucket containing t
func BucketOf(t time.Time, g Granularity) Bucket {
	day := Truncate(t)
	y, m, d := day.Date()

	switch g {
	case Week:
		idx := weekIndex(d)
		start := time.Date(y, m, weekStartDays[idx], 0, 0, 0, 0, time.UTC)
		var end time.Time
		if idx == len(weekStartDays)-1 {
			end = time.Date(y, m+1, 1, 0, 0, 0, 0, time.UTC)
		} else {
			end = time.Date(y, m, weekStartDays[idx+1], 0, 0, 0, 0, time.UTC)
		}
		return Bucket{
			Key:   fmt.Sprintf("%04d-%02d-W%d", y, int(m), idx+1),
			Start: start,
			End:   end,
		}
	case Month:
		start := time.Date(y, m, 1, 0, 0, 0, 0, time.UTC)
		return Bucket{
			Key:   start.Format("2006-01"),
			Start: start,
			End:   start.AddDate(0, 1, 0),
		}
	default:
		return Bucket{
			Key:   day.Format(DateLayout),
			Start: day,
			End:   day.AddDate(0, 0, 1),
		}
	}
}

func weekIndex(dayOfMonth int) int {
	for i := len(weekStartDays) - 1; i >= 0; i-- {
		if dayOfMonth >= weekStartDays[i] {
			return i
		}
	}
	return 0
}

// Step returns t advanced by one nominal granularity length.
// Month steps are calendar-correct: Jan 31 + 1 month is Feb 28/29, not March.
func Step(t time.Time, g Granularity) time.Time {
	switch g {
	case Week:
		return Truncate(t).AddDate(0, 0, 7)
	case Month:
		return AddMonths(Truncate(t), 1)
	default:
		return Truncate(t).AddDate(0, 0, 1)
	}
}

// AddMonths adds n calendar months to t, clamping the day to the target month's length
func AddMonths(t time.Time, n int) time.Time {
	y, m, d := t.Date()
	first := time.Date(y, m+time.Month(n), 1, 0, 0, 0, 0, t.Location())
	if last := DaysIn(first.Year(), first.Month()); d > last {
		d = last
	}
	h, mi, s := t.Clock()
	return time.Date(first.Year(), first.Month(), d, h, mi, s, t.Nanosecond(), t.Location())
}

// DaysIn returns the number of days in the given month
func DaysIn(year int, month time.Month) int {
	return time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}

// Range enumerates the buckets covering the window, clipping the first and last
// bucket to the window bounds. The result is contiguous and zero-valued.
func Range(w Window, g Granularity) []Period {
	periods := make([]Period, 0, estimateCount(w, g))
	for cursor := w.From; cursor.Before(w.To); {
		b := BucketOf(cursor, g)
		end := b.End
		if end.After(w.To) {
			end = w.To
		}
		periods = append(periods, Period{
			Key:         b.Key,
			Start:       cursor,
			End:         end,
			Granularity: g,
		})
		cursor = end
	}
	return periods
}

// Index locates the period containing t using binary search; -1 when outside
func Index(periods []Period, t time.Time) int {
	lo, hi := 0, len(periods)-1
	for lo <= hi {
		mid := (lo + hi) / 2
		switch {
		case t.Before(periods[mid].Start):
			hi = mid - 1
		case !t.Before(periods[mid].End):
			lo = mid + 1
		default:
			return mid
		}
	}
	return -1
}

func estimateCount(w Window, g Granularity) int {
	days := int(w.To.Sub(w.From).Hours()/24) + 1
	if days < 1 {
		return 0
	}
	switch g {
	case Week:
		return days/7 + 2
	case Month:
		return days/28 + 2
	default:
		return days
	}
}
