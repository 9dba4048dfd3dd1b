package aggregator

import (
	"sort"
	"strings"

	"github.com/shopspring/decimal"

	"costtrend/internal/domain/consumption"
	"costtrend/internal/domain/period"
	"costtrend/pkg/errors"
)

// Aggregation is the bucketed view of a set of records
type Aggregation struct {
	Periods  []period.Period
	Currency string
	// Records is the number of records that contributed
	Records int
	Total   float64
}

// Aggregate filters records, clips them to the window and sums them into
// contiguous buckets of granularity g. Empty buckets are kept with zero cost.
//
// A record spanning several buckets is attributed entirely to the bucket holding
// max(record.From, w.From); cost is never prorated, so the sum over periods equals
// the sum over every record that intersects the window.
func Aggregate(records []*consumption.Record, w period.Window, g period.Granularity, f consumption.Filters) (*Aggregation, error) {
	if err := w.Validate(g); err != nil {
		return nil, err
	}

	periods := period.Range(w, g)
	costs := make([]decimal.Decimal, len(periods))
	quantities := make([]decimal.Decimal, len(periods))
	total := decimal.Zero

	var (
		currency string
		count    int
	)

	for _, r := range records {
		if r == nil || !f.Match(r) || !w.Intersects(r.From, r.End()) {
			continue
		}

		cur, err := mergeCurrency(currency, r.Currency)
		if err != nil {
			return nil, err
		}
		currency = cur

		start := r.From
		if start.Before(w.From) {
			start = w.From
		}
		idx := period.Index(periods, start)
		if idx < 0 {
			// intersecting records always land in a bucket
			return nil, errors.Wrapf(errors.ErrInternal, "record starting %s outside window", start.Format(period.DateLayout))
		}

		cost := recordCost(r)
		costs[idx] = costs[idx].Add(cost)
		quantities[idx] = quantities[idx].Add(decimal.NewFromFloat(r.Quantity))
		total = total.Add(cost)
		count++
	}

	for i := range periods {
		periods[i].Cost = costs[i].InexactFloat64()
		periods[i].Quantity = quantities[i].InexactFloat64()
	}

	return &Aggregation{
		Periods:  periods,
		Currency: currency,
		Records:  count,
		Total:    total.InexactFloat64(),
	}, nil
}

// AggregateByResourceType sums cost and counts records per resource type for
// records intersecting the window. Types differing only in case or surrounding
// space share one key, see consumption.TypeKey.
func AggregateByResourceType(records []*consumption.Record, w period.Window, f consumption.Filters) (map[string]consumption.Total, string, error) {
	sums := make(map[string]decimal.Decimal)
	counts := make(map[string]int)
	var currency string

	for _, r := range records {
		if r == nil || !f.Match(r) || !w.Intersects(r.From, r.End()) {
			continue
		}
		cur, err := mergeCurrency(currency, r.Currency)
		if err != nil {
			return nil, "", err
		}
		currency = cur

		key := consumption.TypeKey(r.ResourceType)
		sums[key] = sums[key].Add(recordCost(r))
		counts[key]++
	}

	totals := make(map[string]consumption.Total, len(sums))
	for rt, sum := range sums {
		totals[rt] = consumption.Total{Cost: sum.InexactFloat64(), Count: counts[rt]}
	}
	return totals, currency, nil
}

// Sum adds period costs exactly
func Sum(periods []period.Period) float64 {
	total := decimal.Zero
	for _, p := range periods {
		total = total.Add(decimal.NewFromFloat(p.Cost))
	}
	return total.InexactFloat64()
}

// ResourceTypes returns the sorted keys of a totals map
func ResourceTypes(totals map[string]consumption.Total) []string {
	keys := make([]string, 0, len(totals))
	for k := range totals {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func recordCost(r *consumption.Record) decimal.Decimal {
	return decimal.NewFromFloat(r.Quantity).Mul(decimal.NewFromFloat(r.UnitPrice))
}

func mergeCurrency(current, next string) (string, error) {
	next = strings.ToUpper(strings.TrimSpace(next))
	switch {
	case next == "":
		return current, nil
	case current == "":
		return next, nil
	case current != next:
		return "", errors.Wrapf(errors.ErrCurrencyMismatch, "%s and %s in one query", current, next)
	}
	return current, nil
}
