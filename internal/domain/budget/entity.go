package budget

import (
	"time"

	"costtrend/internal/domain/period"
	"costtrend/pkg/errors"
)

// PeriodType is the billing cycle of a budget
type PeriodType string

const (
	Monthly   PeriodType = "monthly"
	Quarterly PeriodType = "quarterly"
	Yearly    PeriodType = "yearly"
)

// Months returns the cycle length in calendar months
func (p PeriodType) Months() int {
	switch p {
	case Quarterly:
		return 3
	case Yearly:
		return 12
	default:
		return 1
	}
}

// Valid reports whether p is a supported cycle
func (p PeriodType) Valid() bool {
	switch p {
	case Monthly, Quarterly, Yearly:
		return true
	}
	return false
}

// TrendGranularity is the granularity used to plot a trend against this budget.
// It keeps the number of points bounded regardless of budget length.
func (p PeriodType) TrendGranularity() period.Granularity {
	if p == Monthly {
		return period.Week
	}
	return period.Month
}

// Budget is a user-defined spending limit. Owned by a session/user and read-only here.
type Budget struct {
	ID         string     `db:"id" json:"id"`
	OwnerID    string     `db:"owner_id" json:"owner_id"`
	Name       string     `db:"name" json:"name"`
	Amount     float64    `db:"amount" json:"amount"`
	Currency   string     `db:"currency" json:"currency"`
	PeriodType PeriodType `db:"period_type" json:"period_type"`
	StartDate  time.Time  `db:"start_date" json:"start_date"`
	// EndDate nil means the budget is open-ended
	EndDate   *time.Time `db:"end_date" json:"end_date,omitempty"`
	CreatedAt time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt time.Time  `db:"updated_at" json:"updated_at"`
}

// OpenEnded reports whether the budget has no end date
func (b *Budget) OpenEnded() bool {
	return b.EndDate == nil
}

// Validate checks invariants the generator relies on
func (b *Budget) Validate() error {
	if !b.PeriodType.Valid() {
		return errors.NewValidationError("period_type", "must be monthly, quarterly or yearly", b.PeriodType)
	}
	if b.Amount < 0 {
		return errors.NewValidationError("amount", "must not be negative", b.Amount)
	}
	if b.StartDate.IsZero() {
		return errors.NewValidationError("start_date", "is required", nil)
	}
	if b.EndDate != nil && !b.EndDate.After(b.StartDate) {
		return errors.NewRangeError("end_date", "must be after start_date", b.EndDate.Format(period.DateLayout))
	}
	return nil
}

// Period is one billing-cycle segment of a budget with its spend.
// Derived per query, never persisted.
type Period struct {
	Start              time.Time `json:"start_date"`
	End                time.Time `json:"end_date"` // exclusive
	Amount             float64   `json:"budget_amount"`
	CumulativeSpent    float64   `json:"cumulative_spent"`
	Remaining          float64   `json:"remaining"`
	UtilizationPercent float64   `json:"utilization_percent"`
}

// OverBudget reports utilization at or above 100%
func (p Period) OverBudget() bool {
	return p.UtilizationPercent >= 100
}

// DefaultAlertThresholds are the utilization percentages alerting policies usually watch
var DefaultAlertThresholds = []float64{50, 75, 90, 100}

// AlertLevel returns the highest threshold reached, or 0 when none is.
// Sending alerts is up to the caller.
func (p Period) AlertLevel(thresholds []float64) float64 {
	if len(thresholds) == 0 {
		thresholds = DefaultAlertThresholds
	}
	level := 0.0
	for _, th := range thresholds {
		if p.UtilizationPercent >= th && th > level {
			level = th
		}
	}
	return level
}
