package trend

import (
	"time"

	"costtrend/internal/domain/consumption"
	"costtrend/internal/domain/period"
)

// Direction classifies the growth rate
type Direction string

const (
	Increasing Direction = "increasing"
	Decreasing Direction = "decreasing"
	Stable     Direction = "stable"
)

// DirectionOf classifies growth (in percent) against a stability band of ±epsilon
func DirectionOf(growth, epsilon float64) Direction {
	switch {
	case growth > epsilon:
		return Increasing
	case growth < -epsilon:
		return Decreasing
	default:
		return Stable
	}
}

// Result is the computed trend for one request. Results are derived data and
// may be served from cache.
type Result struct {
	Periods           []period.Period    `json:"periods"`
	GrowthRate        float64            `json:"growth_rate"`
	HistoricalAverage float64            `json:"historical_average"`
	TotalCost         float64            `json:"total_cost"`
	ProjectedCost     float64            `json:"projected_cost"`
	Direction         Direction          `json:"trend_direction"`
	Projected         bool               `json:"projected"`
	Currency          string             `json:"currency"`
	Region            string             `json:"region,omitempty"`
	Granularity       period.Granularity `json:"granularity"`
	From              time.Time          `json:"from_date"`
	To                time.Time          `json:"to_date"`
	GeneratedAt       time.Time          `json:"generated_at"`
}

// Historical returns the non-projected prefix of the periods
func (r *Result) Historical() []period.Period {
	for i, p := range r.Periods {
		if p.Projected {
			return r.Periods[:i]
		}
	}
	return r.Periods
}

// Params identify a trend computation. The same params always yield the same cache key.
type Params struct {
	SessionID   string              `json:"-"`
	From        time.Time           `json:"from_date"`
	To          time.Time           `json:"to_date"`
	Granularity period.Granularity  `json:"granularity"`
	Filters     consumption.Filters `json:"filters"`
	BudgetID    string              `json:"budget_id,omitempty"`
	Currency    string              `json:"currency,omitempty"`
}

// Normalize truncates dates and lowercases filters
func (p Params) Normalize() Params {
	p.From = period.Truncate(p.From)
	p.To = period.Truncate(p.To)
	p.Filters = p.Filters.Normalize()
	return p
}

// Window returns the [From, To) window of the params
func (p Params) Window() period.Window {
	return period.NewWindow(p.From, p.To)
}

// Query converts the params into a provider query
func (p Params) Query() consumption.Query {
	return consumption.Query{
		Window:      p.Window(),
		Granularity: p.Granularity,
		Filters:     p.Filters,
	}
}
