package period

import (
	"time"

	"costtrend/pkg/errors"
)

// Granularity is the bucket size used to aggregate consumption
type Granularity string

const (
	Day   Granularity = "day"
	Week  Granularity = "week"
	Month Granularity = "month"
)

// Valid reports whether g is one of the supported granularities
func (g Granularity) Valid() bool {
	switch g {
	case Day, Week, Month:
		return true
	}
	return false
}

// ParseGranularity converts user input into a Granularity
func ParseGranularity(s string) (Granularity, error) {
	g := Granularity(s)
	if !g.Valid() {
		return "", errors.NewValidationError("granularity", "must be day, week or month", s)
	}
	return g, nil
}

// Period is one aggregated time bucket.
// Periods within one result are contiguous, non-overlapping and sorted ascending.
type Period struct {
	Key         string      `json:"key"`
	Start       time.Time   `json:"start_date"`
	End         time.Time   `json:"end_date"` // exclusive
	Granularity Granularity `json:"granularity"`
	Cost        float64     `json:"cost"`
	Quantity    float64     `json:"quantity"`
	Projected   bool        `json:"projected"`
}

// Contains reports whether t falls inside [Start, End)
func (p Period) Contains(t time.Time) bool {
	return !t.Before(p.Start) && t.Before(p.End)
}

// Days returns the number of calendar days covered by the period
func (p Period) Days() int {
	return int(p.End.Sub(p.Start).Hours() / 24)
}

// Window is a half-open [From, To) date range
type Window struct {
	From time.Time `json:"from_date"`
	To   time.Time `json:"to_date"`
}

// NewWindow normalizes both bounds to UTC midnight
func NewWindow(from, to time.Time) Window {
	return Window{From: Truncate(from), To: Truncate(to)}
}

// Validate rejects empty windows and windows shorter than one granularity step
func (w Window) Validate(g Granularity) error {
	if !g.Valid() {
		return errors.NewValidationError("granularity", "must be day, week or month", g)
	}
	if !w.To.After(w.From) {
		return errors.NewRangeError("to_date", "must be after from_date", w.To.Format(DateLayout))
	}
	if w.To.Before(Step(w.From, g)) {
		return errors.NewRangeError("to_date", "must be at least one "+string(g)+" after from_date", w.To.Format(DateLayout))
	}
	return nil
}

// Contains reports whether t falls inside the window
func (w Window) Contains(t time.Time) bool {
	return !t.Before(w.From) && t.Before(w.To)
}

// Intersects reports whether [from, to) overlaps the window
func (w Window) Intersects(from, to time.Time) bool {
	return from.Before(w.To) && to.After(w.From)
}

// DateLayout is the canonical date format used in keys and messages
const DateLayout = "2006-01-02"
