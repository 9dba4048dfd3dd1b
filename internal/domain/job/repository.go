package job

import (
	"context"
	"time"
)

// UpdateFunc mutates a job inside a store transaction. Returning an error aborts the update.
type UpdateFunc func(j *Job) error

// Store is a concurrency-safe job table.
// Implementations: internal/repository/memory/job.go, internal/repository/redis/job.go
type Store interface {
	Create(ctx context.Context, j *Job) error
	// Get returns a snapshot, or errors.ErrJobNotFound
	Get(ctx context.Context, id string) (*Job, error)
	// Update applies fn atomically and returns the stored snapshot
	Update(ctx context.Context, id string, fn UpdateFunc) (*Job, error)
	// FindActive returns the non-terminal job of a session with the given params hash,
	// or errors.ErrJobNotFound
	FindActive(ctx context.Context, sessionID, paramsHash string) (*Job, error)
	// FindStale returns pending or running jobs created before cutoff
	FindStale(ctx context.Context, cutoff time.Time) ([]*Job, error)
	// DeleteFinishedBefore evicts terminal jobs finished before cutoff
	DeleteFinishedBefore(ctx context.Context, cutoff time.Time) (int, error)
}
