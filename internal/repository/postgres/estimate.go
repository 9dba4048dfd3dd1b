package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"costtrend/internal/domain/consumption"
	"costtrend/internal/domain/drift"
	"costtrend/pkg/errors"
)

// Compile-time check
var _ drift.EstimateSource = (*EstimateRepository)(nil)

// EstimateRepository prices live resources against the catalog.
// Estimates are monthly costs per resource type.
type EstimateRepository struct {
	db DBTX
}

// NewEstimateRepository creates a new estimate repository
func NewEstimateRepository(db DBTX) *EstimateRepository {
	return &EstimateRepository{db: db}
}

type estimateRow struct {
	ResourceType string  `db:"resource_type"`
	Cost         float64 `db:"cost"`
	Count        int     `db:"count"`
}

// FetchEstimatedCosts returns the catalog cost of active resources matching filters, grouped by type
func (r *EstimateRepository) FetchEstimatedCosts(ctx context.Context, filters consumption.Filters) (map[string]drift.Estimate, error) {
	where, args := estimateWhere(filters.Normalize())

	query := `
		SELECT
			lower(r.resource_type) AS resource_type,
			COALESCE(SUM(r.quantity * p.monthly_price), 0) AS cost,
			COUNT(*) AS count
		FROM resources r
		JOIN catalog_prices p ON p.resource_type = r.resource_type AND p.region = r.region
		WHERE ` + where + `
		GROUP BY lower(r.resource_type)
		ORDER BY resource_type`

	var rows []estimateRow
	if err := r.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, errors.Join(errors.ErrUpstreamUnavailable, errors.Wrap(err, "failed to fetch estimated costs"))
	}

	out := make(map[string]drift.Estimate, len(rows))
	for _, row := range rows {
		key := consumption.TypeKey(row.ResourceType)
		prev := out[key]
		out[key] = drift.Estimate{Cost: prev.Cost + row.Cost, Count: prev.Count + row.Count}
	}
	return out, nil
}

func estimateWhere(f consumption.Filters) (string, []interface{}) {
	conds := []string{"r.active = true"}
	var args []interface{}

	add := func(cond string, arg interface{}) {
		args = append(args, arg)
		conds = append(conds, fmt.Sprintf(cond, len(args)))
	}

	if f.Region != "" {
		add("lower(r.region) = $%d", f.Region)
	}
	if f.ResourceType != "" {
		add("lower(r.resource_type) = $%d", f.ResourceType)
	}
	if f.Service != "" {
		add("lower(r.service) = $%d", f.Service)
	}
	if f.Tag != "" {
		key, value, hasValue := f.TagPair()
		if hasValue {
			args = append(args, key, value)
			conds = append(conds, fmt.Sprintf("r.tags ->> $%d = $%d", len(args)-1, len(args)))
		} else {
			add("jsonb_exists(r.tags, $%d)", key)
		}
	}

	return strings.Join(conds, " AND "), args
}

// Resource is one provisioned resource in the inventory
type Resource struct {
	ID           string            `db:"id"`
	ResourceType string            `db:"resource_type"`
	Service      string            `db:"service"`
	Region       string            `db:"region"`
	Tags         map[string]string `db:"-"`
	Quantity     float64           `db:"quantity"`
	Active       bool              `db:"active"`
}

// CatalogPrice is the list price of one resource type in one region
type CatalogPrice struct {
	ResourceType string  `db:"resource_type"`
	Region       string  `db:"region"`
	MonthlyPrice float64 `db:"monthly_price"`
	Currency     string  `db:"currency"`
}

// UpsertResource inserts or replaces an inventory entry
func (r *EstimateRepository) UpsertResource(ctx context.Context, res *Resource) error {
	tags := res.Tags
	if tags == nil {
		tags = map[string]string{}
	}
	encoded, err := json.Marshal(tags)
	if err != nil {
		return errors.Wrap(err, "failed to encode tags")
	}

	query := `
		INSERT INTO resources (id, resource_type, service, region, tags, quantity, active)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO UPDATE SET
			resource_type = EXCLUDED.resource_type,
			service = EXCLUDED.service,
			region = EXCLUDED.region,
			tags = EXCLUDED.tags,
			quantity = EXCLUDED.quantity,
			active = EXCLUDED.active`

	if _, err := r.db.ExecContext(ctx, query,
		res.ID, res.ResourceType, res.Service, res.Region, string(encoded), res.Quantity, res.Active,
	); err != nil {
		return errors.Wrapf(err, "failed to upsert resource id=%s", res.ID)
	}
	return nil
}

// UpsertCatalogPrice inserts or replaces a list price
func (r *EstimateRepository) UpsertCatalogPrice(ctx context.Context, p *CatalogPrice) error {
	if p.MonthlyPrice < 0 {
		return errors.NewValidationError("monthly_price", "must not be negative", p.MonthlyPrice)
	}

	query := `
		INSERT INTO catalog_prices (resource_type, region, monthly_price, currency)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (resource_type, region) DO UPDATE SET
			monthly_price = EXCLUDED.monthly_price,
			currency = EXCLUDED.currency`

	if _, err := r.db.ExecContext(ctx, query,
		p.ResourceType, p.Region, p.MonthlyPrice, strings.ToUpper(p.Currency),
	); err != nil {
		return errors.Wrapf(err, "failed to upsert catalog price %s/%s", p.ResourceType, p.Region)
	}
	return nil
}
