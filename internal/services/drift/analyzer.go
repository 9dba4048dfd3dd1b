package drift

import (
	"sort"

	"github.com/shopspring/decimal"

	"costtrend/internal/domain/consumption"
	"costtrend/internal/domain/drift"
	"costtrend/pkg/logger"
)

// Analyzer compares catalog estimates against actual consumption per resource type
type Analyzer struct {
	log *logger.Logger
}

// NewAnalyzer creates a drift analyzer
func NewAnalyzer(log *logger.Logger) *Analyzer {
	return &Analyzer{log: log.With("component", "drift_analyzer")}
}

// Analyze returns one entry per resource type present on either side, sorted by type.
// Types are matched by consumption.TypeKey. A missing side counts as zero cost and
// zero count. threshold <= 0 uses drift.DefaultThreshold.
func (a *Analyzer) Analyze(estimated map[string]drift.Estimate, actual map[string]consumption.Total, threshold float64) []drift.Entry {
	if threshold <= 0 {
		threshold = drift.DefaultThreshold
	}
	estimated, actual = foldEstimates(estimated), foldTotals(actual)

	types := make(map[string]struct{}, len(estimated)+len(actual))
	for rt := range estimated {
		types[rt] = struct{}{}
	}
	for rt := range actual {
		types[rt] = struct{}{}
	}

	entries := make([]drift.Entry, 0, len(types))
	significant := 0
	for rt := range types {
		e := Compare(rt, estimated[rt], actual[rt], threshold)
		if e.Significant {
			significant++
		}
		entries = append(entries, e)
	}

	sort.Slice(entries, func(i, j int) bool {
		return entries[i].ResourceType < entries[j].ResourceType
	})

	a.log.Debugw("Drift analyzed",
		"resource_types", len(entries),
		"significant", significant,
		"threshold", threshold,
	)
	return entries
}

func foldEstimates(in map[string]drift.Estimate) map[string]drift.Estimate {
	out := make(map[string]drift.Estimate, len(in))
	for rt, e := range in {
		key := consumption.TypeKey(rt)
		prev := out[key]
		out[key] = drift.Estimate{
			Cost:  decimal.NewFromFloat(prev.Cost).Add(decimal.NewFromFloat(e.Cost)).InexactFloat64(),
			Count: prev.Count + e.Count,
		}
	}
	return out
}

func foldTotals(in map[string]consumption.Total) map[string]consumption.Total {
	out := make(map[string]consumption.Total, len(in))
	for rt, t := range in {
		key := consumption.TypeKey(rt)
		prev := out[key]
		out[key] = consumption.Total{
			Cost:  decimal.NewFromFloat(prev.Cost).Add(decimal.NewFromFloat(t.Cost)).InexactFloat64(),
			Count: prev.Count + t.Count,
		}
	}
	return out
}

// Compare builds the drift entry of a single resource type
func Compare(resourceType string, est drift.Estimate, act consumption.Total, threshold float64) drift.Entry {
	estimated := decimal.NewFromFloat(est.Cost)
	actual := decimal.NewFromFloat(act.Cost)
	amount := actual.Sub(estimated)

	e := drift.Entry{
		ResourceType:   resourceType,
		EstimatedCost:  estimated.Round(2).InexactFloat64(),
		ActualCost:     actual.Round(2).InexactFloat64(),
		DriftAmount:    amount.Round(2).InexactFloat64(),
		EstimatedCount: est.Count,
		ActualCount:    act.Count,
	}

	switch {
	case !estimated.IsZero():
		e.DriftPercent = amount.Div(estimated).Mul(decimal.NewFromInt(100)).Round(2).InexactFloat64()
	case !actual.IsZero():
		// credits drift the other way
		e.DriftPercent = drift.UndefinedPercent
		if actual.IsNegative() {
			e.DriftPercent = -drift.UndefinedPercent
		}
		e.Undefined = true
	}

	pct := e.DriftPercent
	if pct < 0 {
		pct = -pct
	}
	e.Significant = pct >= threshold
	return e
}
