package postgres

import (
	"context"
	"database/sql"
)

// DBTX is satisfied by *sqlx.DB and *sqlx.Tx so repositories can run inside a
// caller's transaction (the seeder loads budgets in one).
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	GetContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error
	SelectContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error
}
