package drift

import (
	"context"

	"costtrend/internal/domain/consumption"
)

// UndefinedPercent is reported when the estimate is zero but actual spend is not,
// negated when the actual is a net credit
const UndefinedPercent = 9999.0

// DefaultThreshold is the significance threshold in percent
const DefaultThreshold = 10.0

// Estimate is the catalog-derived cost of a resource type
type Estimate struct {
	Cost  float64 `json:"cost" db:"cost"`
	Count int     `json:"count" db:"count"`
}

// Entry compares estimated and actual cost for one resource type
type Entry struct {
	ResourceType   string  `json:"resource_type"`
	EstimatedCost  float64 `json:"estimated_cost"`
	ActualCost     float64 `json:"actual_cost"`
	DriftAmount    float64 `json:"drift_amount"`
	DriftPercent   float64 `json:"drift_percent"`
	Undefined      bool    `json:"undefined"`
	EstimatedCount int     `json:"estimated_count"`
	ActualCount    int     `json:"actual_count"`
	Significant    bool    `json:"significant"`
}

// EstimateSource returns estimated cost per resource type.
// Implementation is in internal/repository/postgres/estimate.go
type EstimateSource interface {
	FetchEstimatedCosts(ctx context.Context, filters consumption.Filters) (map[string]Estimate, error)
}
