package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"costtrend/internal/domain/job"
	"costtrend/pkg/errors"
)

// JobStore is an in-process job.Store guarded by a RWMutex.
// Readers always receive clones, so a poller never observes a job mid-update.
type JobStore struct {
	mu     sync.RWMutex
	jobs   map[string]*job.Job
	active map[string]string // session|params hash -> job id
}

// NewJobStore creates an empty job store
func NewJobStore() *JobStore {
	return &JobStore{
		jobs:   make(map[string]*job.Job),
		active: make(map[string]string),
	}
}

func activeKey(sessionID, paramsHash string) string {
	return sessionID + "|" + paramsHash
}

// Create stores a new job
func (s *JobStore) Create(_ context.Context, j *job.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.jobs[j.ID]; exists {
		return errors.Wrapf(errors.ErrInvalidInput, "job already exists: id=%s", j.ID)
	}
	s.jobs[j.ID] = j.Clone()
	if !j.Status.Terminal() {
		s.active[activeKey(j.SessionID, j.ParamsHash)] = j.ID
	}
	return nil
}

// Get returns a snapshot of the job
func (s *JobStore) Get(_ context.Context, id string) (*job.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	j, ok := s.jobs[id]
	if !ok {
		return nil, errors.Wrapf(errors.ErrJobNotFound, "id=%s", id)
	}
	return j.Clone(), nil
}

// Update applies fn to a copy and commits it only when fn succeeds
func (s *JobStore) Update(_ context.Context, id string, fn job.UpdateFunc) (*job.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, ok := s.jobs[id]
	if !ok {
		return nil, errors.Wrapf(errors.ErrJobNotFound, "id=%s", id)
	}

	next := cur.Clone()
	if err := fn(next); err != nil {
		return nil, err
	}

	s.jobs[id] = next
	if next.Status.Terminal() {
		key := activeKey(next.SessionID, next.ParamsHash)
		if s.active[key] == id {
			delete(s.active, key)
		}
	}
	return next.Clone(), nil
}

// FindActive returns the in-flight job for the session and params hash
func (s *JobStore) FindActive(_ context.Context, sessionID, paramsHash string) (*job.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.active[activeKey(sessionID, paramsHash)]
	if !ok {
		return nil, errors.Wrapf(errors.ErrJobNotFound, "no active job for session=%s", sessionID)
	}
	return s.jobs[id].Clone(), nil
}

// FindStale returns snapshots of unfinished jobs created before cutoff, oldest first
func (s *JobStore) FindStale(_ context.Context, cutoff time.Time) ([]*job.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*job.Job
	for _, j := range s.jobs {
		if j.StaleAt(cutoff) {
			out = append(out, j.Clone())
		}
	}
	sort.Slice(out, func(a, b int) bool { return out[a].CreatedAt.Before(out[b].CreatedAt) })
	return out, nil
}

// DeleteFinishedBefore evicts terminal jobs finished before cutoff
func (s *JobStore) DeleteFinishedBefore(_ context.Context, cutoff time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for id, j := range s.jobs {
		if j.ExpiredAt(cutoff) {
			delete(s.jobs, id)
			removed++
		}
	}
	return removed, nil
}

// Len returns the number of stored jobs
func (s *JobStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.jobs)
}
