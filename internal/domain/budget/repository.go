package budget

import "context"

// Store defines read access to budgets.
// Implementation is in internal/repository/postgres/budget.go
type Store interface {
	// Get returns errors.ErrBudgetNotFound when the id is unknown
	Get(ctx context.Context, id string) (*Budget, error)
	List(ctx context.Context, ownerID string) ([]*Budget, error)
}

// Writer is used by the seeder and tests to persist budgets
type Writer interface {
	Create(ctx context.Context, b *Budget) error
}
