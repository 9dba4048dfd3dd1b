package postgres

import (
	"context"

	"costtrend/pkg/errors"
)

var schema = []string{
	`CREATE TABLE IF NOT EXISTS budgets (
		id          TEXT PRIMARY KEY,
		owner_id    TEXT NOT NULL,
		name        TEXT NOT NULL,
		amount      NUMERIC(18, 2) NOT NULL CHECK (amount >= 0),
		currency    TEXT NOT NULL DEFAULT 'USD',
		period_type TEXT NOT NULL CHECK (period_type IN ('monthly', 'quarterly', 'yearly')),
		start_date  DATE NOT NULL,
		end_date    DATE,
		created_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
		updated_at  TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE INDEX IF NOT EXISTS budgets_owner_idx ON budgets (owner_id)`,
	`CREATE TABLE IF NOT EXISTS resources (
		id            TEXT PRIMARY KEY,
		resource_type TEXT NOT NULL,
		service       TEXT NOT NULL DEFAULT '',
		region        TEXT NOT NULL,
		tags          JSONB NOT NULL DEFAULT '{}',
		quantity      NUMERIC(18, 4) NOT NULL DEFAULT 1,
		active        BOOLEAN NOT NULL DEFAULT true
	)`,
	`CREATE TABLE IF NOT EXISTS catalog_prices (
		resource_type TEXT NOT NULL,
		region        TEXT NOT NULL,
		monthly_price NUMERIC(18, 6) NOT NULL,
		currency      TEXT NOT NULL DEFAULT 'USD',
		PRIMARY KEY (resource_type, region)
	)`,
}

// EnsureSchema creates the tables read by the repositories
func EnsureSchema(ctx context.Context, db DBTX) error {
	for _, stmt := range schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return errors.Wrap(err, "failed to apply schema")
		}
	}
	return nil
}
