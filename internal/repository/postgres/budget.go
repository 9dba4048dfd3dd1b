package postgres

import (
	"context"
	"database/sql"

	"costtrend/internal/domain/budget"
	"costtrend/pkg/errors"
)

// Compile-time check
var _ budget.Store = (*BudgetRepository)(nil)

const budgetColumns = `id, owner_id, name, amount, currency, period_type, start_date, end_date, created_at, updated_at`

// BudgetRepository implements budget.Store using sqlx
type BudgetRepository struct {
	db DBTX
}

// NewBudgetRepository creates a new budget repository
func NewBudgetRepository(db DBTX) *BudgetRepository {
	return &BudgetRepository{db: db}
}

// Get retrieves a budget by ID
func (r *BudgetRepository) Get(ctx context.Context, id string) (*budget.Budget, error) {
	query := `SELECT ` + budgetColumns + ` FROM budgets WHERE id = $1`

	var b budget.Budget
	err := r.db.GetContext(ctx, &b, query, id)
	if err == sql.ErrNoRows {
		return nil, errors.Wrapf(errors.ErrBudgetNotFound, "id=%s", id)
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to get budget")
	}

	return &b, nil
}

// List returns the budgets of an owner ordered by start date
func (r *BudgetRepository) List(ctx context.Context, ownerID string) ([]*budget.Budget, error) {
	query := `SELECT ` + budgetColumns + ` FROM budgets WHERE owner_id = $1 ORDER BY start_date, id`

	var budgets []*budget.Budget
	if err := r.db.SelectContext(ctx, &budgets, query, ownerID); err != nil {
		return nil, errors.Wrap(err, "failed to list budgets")
	}

	return budgets, nil
}

// Create inserts a new budget
func (r *BudgetRepository) Create(ctx context.Context, b *budget.Budget) error {
	if err := b.Validate(); err != nil {
		return err
	}

	query := `
		INSERT INTO budgets (
			id, owner_id, name, amount, currency, period_type, start_date, end_date, created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10
		)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			amount = EXCLUDED.amount,
			currency = EXCLUDED.currency,
			period_type = EXCLUDED.period_type,
			start_date = EXCLUDED.start_date,
			end_date = EXCLUDED.end_date,
			updated_at = EXCLUDED.updated_at`

	_, err := r.db.ExecContext(ctx, query,
		b.ID, b.OwnerID, b.Name, b.Amount, b.Currency, b.PeriodType,
		b.StartDate, b.EndDate, b.CreatedAt, b.UpdatedAt,
	)
	if err != nil {
		return errors.Wrap(err, "failed to create budget")
	}

	return nil
}
