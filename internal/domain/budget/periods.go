package budget

import (
	"time"

	"costtrend/internal/domain/period"
	"costtrend/pkg/errors"
)

// MaxPeriods bounds generation: a hundred years of monthly cycles
const MaxPeriods = 1200

// GeneratePeriods splits the budget into billing-cycle periods covering
// [StartDate, min(EndDate, to)). Every start is computed from StartDate itself so
// day-of-month clamping never drifts (Jan 31, Feb 29, Mar 31). The last period is
// clipped to the horizon. Amount is set, spend fields are left zero.
// More than MaxPeriods periods is an ErrInvalidRange, never a truncated list.
func GeneratePeriods(b *Budget, to time.Time) ([]Period, error) {
	start := period.Truncate(b.StartDate)
	horizon := Horizon(b, to)
	if !horizon.After(start) {
		return nil, nil
	}

	months := b.PeriodType.Months()
	periods := make([]Period, 0, 4)

	for i := 0; ; i++ {
		ps := period.AddMonths(start, i*months)
		if !ps.Before(horizon) {
			break
		}
		if i == MaxPeriods {
			return nil, errors.NewRangeError("to_date",
				"budget spans more than the maximum number of periods", MaxPeriods)
		}
		pe := period.AddMonths(start, (i+1)*months)
		if pe.After(horizon) {
			pe = horizon
		}
		periods = append(periods, Period{
			Start:     ps,
			End:       pe,
			Amount:    b.Amount,
			Remaining: b.Amount,
		})
	}

	return periods, nil
}

// Horizon returns the end of the period generation window for a budget given a query end
func Horizon(b *Budget, to time.Time) time.Time {
	horizon := period.Truncate(to)
	if b.EndDate != nil {
		if end := period.Truncate(*b.EndDate); end.Before(horizon) {
			return end
		}
	}
	return horizon
}
