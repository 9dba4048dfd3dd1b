package trend

import (
	"time"

	"github.com/shopspring/decimal"

	"costtrend/internal/domain/period"
	"costtrend/internal/domain/trend"
	"costtrend/internal/services/aggregator"
	"costtrend/pkg/errors"
	"costtrend/pkg/logger"
)

// Defaults used when the config leaves values unset
const (
	DefaultEpsilon      = 1.0
	DefaultMaxProjected = 1000
)

// Config tunes the calculator
type Config struct {
	// Epsilon is the stability band in percent
	Epsilon float64
	// MaxProjected caps the projected tail
	MaxProjected int
}

// Input describes one trend computation over already aggregated history
type Input struct {
	Window      period.Window
	Granularity period.Granularity
	// Target is the projection end date. Zero means Window.To.
	Target   time.Time
	Currency string
	Region   string
}

// Calculator derives growth, direction and a forward-fill projection from historical periods
type Calculator struct {
	cfg   Config
	clock func() time.Time
	log   *logger.Logger
}

// NewCalculator creates a calculator. A nil clock uses time.Now.
func NewCalculator(cfg Config, clock func() time.Time, log *logger.Logger) *Calculator {
	if cfg.Epsilon <= 0 {
		cfg.Epsilon = DefaultEpsilon
	}
	if cfg.MaxProjected <= 0 {
		cfg.MaxProjected = DefaultMaxProjected
	}
	if clock == nil {
		clock = time.Now
	}
	return &Calculator{
		cfg:   cfg,
		clock: clock,
		log:   log.With("component", "trend_calculator"),
	}
}

// HistoryEnd is the exclusive end of complete history: the start of today in UTC
func (c *Calculator) HistoryEnd() time.Time {
	return period.Truncate(c.clock())
}

// HistoryWindow returns the part of w that has complete history, and false when none does
func (c *Calculator) HistoryWindow(w period.Window) (period.Window, bool) {
	end := c.HistoryEnd()
	if w.To.Before(end) {
		end = w.To
	}
	if !end.After(w.From) {
		return period.Window{From: w.From, To: w.From}, false
	}
	return period.Window{From: w.From, To: end}, true
}

// Compute builds the trend result. history must be the aggregated, contiguous periods of
// HistoryWindow(in.Window); it may be empty when the window lies entirely in the future.
//
// A trailing period cut short by the start of today is only partly observed. It is left
// out of growth, average and total, and its whole bucket is projected instead.
func (c *Calculator) Compute(history []period.Period, in Input) (*trend.Result, error) {
	target := in.Target
	if target.IsZero() {
		target = in.Window.To
	}
	target = period.Truncate(target)

	complete := history
	var partial *period.Period
	if c.trailingPartial(history, in.Granularity, target) {
		p := history[len(history)-1]
		partial = &p
		complete = history[:len(history)-1]
	}

	edge := in.Window.From
	if n := len(complete); n > 0 {
		edge = complete[n-1].End
	}

	result := &trend.Result{
		Periods:           make([]period.Period, 0, len(history)),
		GrowthRate:        GrowthRate(complete),
		HistoricalAverage: HistoricalAverage(complete),
		TotalCost:         aggregator.Sum(complete),
		Currency:          in.Currency,
		Region:            in.Region,
		Granularity:       in.Granularity,
		From:              in.Window.From,
		To:                in.Window.To,
		GeneratedAt:       c.clock().UTC(),
	}
	result.Direction = trend.DirectionOf(result.GrowthRate, c.cfg.Epsilon)
	result.Periods = append(result.Periods, complete...)

	if target.After(edge) {
		lastCost := 0.0
		switch {
		case len(complete) > 0:
			lastCost = complete[len(complete)-1].Cost
		case partial != nil:
			lastCost = runRate(*partial, in.Granularity)
		}
		tail, err := c.Project(edge, target, in.Granularity, lastCost)
		if err != nil {
			return nil, err
		}
		result.Periods = append(result.Periods, tail...)
		result.Projected = len(tail) > 0
		result.ProjectedCost = aggregator.Sum(tail)
		result.To = target

		c.log.Debugw("Projected trend tail",
			"from", edge.Format(period.DateLayout),
			"to", target.Format(period.DateLayout),
			"periods", len(tail),
			"partial_dropped", partial != nil,
		)
	}

	return result, nil
}

// trailingPartial reports whether the last period ends at today's start inside its
// bucket while the request continues past it
func (c *Calculator) trailingPartial(history []period.Period, g period.Granularity, target time.Time) bool {
	n := len(history)
	if n == 0 {
		return false
	}
	last := history[n-1]
	if !last.End.Equal(c.HistoryEnd()) || !target.After(last.End) {
		return false
	}
	return last.End.Before(period.BucketOf(last.Start, g).End)
}

// runRate scales a partly observed period to the cost of its whole remaining bucket.
// It only seeds the projection when no complete period exists.
func runRate(p period.Period, g period.Granularity) float64 {
	observed := p.Days()
	if observed <= 0 {
		return 0
	}
	full := period.Period{Start: p.Start, End: period.BucketOf(p.Start, g).End}.Days()
	return decimal.NewFromFloat(p.Cost).
		Mul(decimal.NewFromInt(int64(full))).
		Div(decimal.NewFromInt(int64(observed))).
		Round(4).InexactFloat64()
}

// Project forward-fills buckets from edge to target, each repeating cost.
// Exceeding the period cap is an error, never a truncated tail.
func (c *Calculator) Project(edge, target time.Time, g period.Granularity, cost float64) ([]period.Period, error) {
	var tail []period.Period
	for cursor := edge; cursor.Before(target); {
		if len(tail) >= c.cfg.MaxProjected {
			return nil, errors.Wrapf(errors.ErrProjectionOverflow,
				"more than %d %s periods between %s and %s",
				c.cfg.MaxProjected, g, edge.Format(period.DateLayout), target.Format(period.DateLayout))
		}
		b := period.BucketOf(cursor, g)
		end := b.End
		if end.After(target) {
			end = target
		}
		tail = append(tail, period.Period{
			Key:         b.Key,
			Start:       cursor,
			End:         end,
			Granularity: g,
			Cost:        cost,
			Projected:   true,
		})
		cursor = end
	}
	return tail, nil
}

// GrowthRate is the percent change between the first and last periods with non-zero cost.
// Fewer than two such periods yield 0.
func GrowthRate(history []period.Period) float64 {
	first, last := -1, -1
	for i, p := range history {
		if p.Cost == 0 {
			continue
		}
		if first < 0 {
			first = i
		}
		last = i
	}
	if first < 0 || first == last {
		return 0
	}
	from := decimal.NewFromFloat(history[first].Cost)
	to := decimal.NewFromFloat(history[last].Cost)
	return to.Sub(from).Div(from).Mul(decimal.NewFromInt(100)).Round(4).InexactFloat64()
}

// HistoricalAverage is the mean cost of the periods, 0 for none
func HistoricalAverage(history []period.Period) float64 {
	if len(history) == 0 {
		return 0
	}
	sum := decimal.Zero
	for _, p := range history {
		sum = sum.Add(decimal.NewFromFloat(p.Cost))
	}
	return sum.Div(decimal.NewFromInt(int64(len(history)))).Round(4).InexactFloat64()
}
