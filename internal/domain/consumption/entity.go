package consumption

import (
	"strings"
	"time"

	"costtrend/internal/domain/period"
)

// Record is one consumption line produced by the billing provider.
// The [From, To) range is half-open. Records are immutable once fetched.
type Record struct {
	ResourceType string            `json:"resource_type" ch:"resource_type"`
	Service      string            `json:"service" ch:"service"`
	Operation    string            `json:"operation" ch:"operation"`
	Region       string            `json:"region" ch:"region"`
	Tags         map[string]string `json:"tags,omitempty" ch:"tags"`
	From         time.Time         `json:"from_date" ch:"from_date"`
	To           time.Time         `json:"to_date" ch:"to_date"`
	Quantity     float64           `json:"quantity" ch:"quantity"`
	UnitPrice    float64           `json:"unit_price" ch:"unit_price"`
	Currency     string            `json:"currency" ch:"currency"`
}

// Cost returns quantity × unit price
func (r *Record) Cost() float64 {
	return r.Quantity * r.UnitPrice
}

// End returns the exclusive end of the record, treating empty or inverted ranges as one day
func (r *Record) End() time.Time {
	if !r.To.After(r.From) {
		return period.Truncate(r.From).AddDate(0, 0, 1)
	}
	return r.To
}

// Filters narrow a consumption query. Empty fields match everything.
type Filters struct {
	Region       string `json:"region,omitempty"`
	ResourceType string `json:"resource_type,omitempty"`
	Service      string `json:"service,omitempty"`
	// Tag is a "key=value" pair; a bare "key" matches any value
	Tag string `json:"tag,omitempty"`
}

// Match reports whether the record passes every filter
func (f Filters) Match(r *Record) bool {
	if f.Region != "" && !strings.EqualFold(f.Region, r.Region) {
		return false
	}
	if f.ResourceType != "" && !strings.EqualFold(f.ResourceType, r.ResourceType) {
		return false
	}
	if f.Service != "" && !strings.EqualFold(f.Service, r.Service) {
		return false
	}
	if f.Tag != "" {
		key, value, hasValue := f.TagPair()
		got, ok := r.Tags[key]
		if !ok {
			return false
		}
		if hasValue && got != value {
			return false
		}
	}
	return true
}

// TagPair splits the tag filter into key and optional value
func (f Filters) TagPair() (key, value string, hasValue bool) {
	key, value, hasValue = strings.Cut(f.Tag, "=")
	return strings.TrimSpace(key), strings.TrimSpace(value), hasValue
}

// Normalize lowercases comparable fields so equal filters hash equally
func (f Filters) Normalize() Filters {
	return Filters{
		Region:       strings.ToLower(strings.TrimSpace(f.Region)),
		ResourceType: TypeKey(f.ResourceType),
		Service:      strings.ToLower(strings.TrimSpace(f.Service)),
		Tag:          strings.TrimSpace(f.Tag),
	}
}

// TypeKey is the canonical form of a resource type used to key totals and estimates
func TypeKey(resourceType string) string {
	return strings.ToLower(strings.TrimSpace(resourceType))
}

// Query describes one consumption fetch
type Query struct {
	Window      period.Window      `json:"window"`
	Granularity period.Granularity `json:"granularity"`
	Filters     Filters            `json:"filters"`
}

// Page is one page of provider results
type Page struct {
	Records []*Record
	// NextToken is empty on the last page
	NextToken string
	// EstimatedPages is the provider's estimate of the total page count (0 if unknown)
	EstimatedPages int
}

// Total is the cost and record count of one group of records
type Total struct {
	Cost  float64 `json:"cost"`
	Count int     `json:"count"`
}
