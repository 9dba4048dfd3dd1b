package budgetstatus

import (
	"time"

	"github.com/shopspring/decimal"

	"costtrend/internal/domain/budget"
	"costtrend/internal/domain/period"
	"costtrend/pkg/logger"
)

var hundred = decimal.NewFromInt(100)

// Engine fills spend into budget periods. It only reports utilization;
// alerting on thresholds belongs to the caller.
type Engine struct {
	clock func() time.Time
	log   *logger.Logger
}

// NewEngine creates an engine. A nil clock uses time.Now.
func NewEngine(clock func() time.Time, log *logger.Logger) *Engine {
	if clock == nil {
		clock = time.Now
	}
	return &Engine{
		clock: clock,
		log:   log.With("component", "budget_status"),
	}
}

// Evaluate computes spend for every budget period from consumption periods.
// A consumption period counts toward the budget period containing its start, up to
// the evaluation date (now, or the period end if earlier). Spend resets at each
// budget period boundary.
func (e *Engine) Evaluate(stubs []budget.Period, consumption []period.Period) []budget.Period {
	now := e.clock().UTC()
	out := make([]budget.Period, len(stubs))

	for i, bp := range stubs {
		until := bp.End
		if now.Before(until) {
			until = now
		}

		spent := decimal.Zero
		for _, cp := range consumption {
			if !cp.Start.Before(bp.Start) && cp.Start.Before(until) {
				spent = spent.Add(decimal.NewFromFloat(cp.Cost))
			}
		}

		out[i] = fill(bp, spent)
	}

	e.log.Debugw("Evaluated budget periods",
		"periods", len(out),
		"evaluated_at", now.Format(time.RFC3339),
	)
	return out
}

func fill(bp budget.Period, spent decimal.Decimal) budget.Period {
	amount := decimal.NewFromFloat(bp.Amount)

	bp.CumulativeSpent = spent.Round(2).InexactFloat64()
	bp.Remaining = amount.Sub(spent).Round(2).InexactFloat64()
	bp.UtilizationPercent = 0
	if amount.IsPositive() {
		bp.UtilizationPercent = spent.Div(amount).Mul(hundred).Round(2).InexactFloat64()
	}
	return bp
}

// Intersecting returns the budget periods overlapping [from, to)
func Intersecting(periods []budget.Period, from, to time.Time) []budget.Period {
	w := period.Window{From: from, To: to}
	out := make([]budget.Period, 0, len(periods))
	for _, p := range periods {
		if w.Intersects(p.Start, p.End) {
			out = append(out, p)
		}
	}
	return out
}
