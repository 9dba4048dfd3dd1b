package job

import (
	"time"

	"costtrend/internal/domain/trend"
	"costtrend/pkg/errors"
)

// Status of a background trend job
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// Terminal reports whether no further transitions are allowed
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// rank orders statuses so transitions can only move forward
func (s Status) rank() int {
	switch s {
	case StatusPending:
		return 0
	case StatusRunning:
		return 1
	case StatusCompleted, StatusFailed:
		return 2
	}
	return -1
}

// String returns string representation
func (s Status) String() string {
	return string(s)
}

// Job is a unit of asynchronous trend work.
// Mutated only by the orchestrator; immutable once terminal.
type Job struct {
	ID        string `json:"id"`
	SessionID string `json:"session_id"`
	Status    Status `json:"status"`
	Progress  int    `json:"progress"`
	// EstimatedTimeRemaining is in seconds, 0 when unknown or done
	EstimatedTimeRemaining int64         `json:"estimated_time_remaining"`
	Result                 *trend.Result `json:"result,omitempty"`
	Error                  string        `json:"error,omitempty"`
	ErrorCode              string        `json:"error_code,omitempty"`
	ParamsHash             string        `json:"params_hash"`
	Params                 trend.Params  `json:"params"`
	CreatedAt              time.Time     `json:"created_at"`
	StartedAt              *time.Time    `json:"started_at,omitempty"`
	FinishedAt             *time.Time    `json:"finished_at,omitempty"`
}

// New creates a pending job
func New(id, sessionID, paramsHash string, params trend.Params, now time.Time) *Job {
	return &Job{
		ID:         id,
		SessionID:  sessionID,
		Status:     StatusPending,
		ParamsHash: paramsHash,
		Params:     params,
		CreatedAt:  now,
	}
}

// Clone returns a deep-enough copy for handing to pollers.
// Result is shared: it is never mutated after completion.
func (j *Job) Clone() *Job {
	c := *j
	if j.StartedAt != nil {
		t := *j.StartedAt
		c.StartedAt = &t
	}
	if j.FinishedAt != nil {
		t := *j.FinishedAt
		c.FinishedAt = &t
	}
	return &c
}

func (j *Job) transition(to Status) error {
	if j.Status.Terminal() || to.rank() <= j.Status.rank() {
		return errors.Wrapf(errors.ErrInvalidTransition, "job %s: %s -> %s", j.ID, j.Status, to)
	}
	j.Status = to
	return nil
}

// Start moves a pending job to running
func (j *Job) Start(now time.Time) error {
	if err := j.transition(StatusRunning); err != nil {
		return err
	}
	j.StartedAt = &now
	return nil
}

// ReportProgress records progress of a running job. Lower values than the current
// progress are ignored; 100 is reserved for completion.
func (j *Job) ReportProgress(progress int, eta time.Duration) error {
	if j.Status != StatusRunning {
		return errors.Wrapf(errors.ErrInvalidTransition, "job %s: progress while %s", j.ID, j.Status)
	}
	if progress > 99 {
		progress = 99
	}
	if progress < j.Progress {
		return nil
	}
	j.Progress = progress
	if eta < 0 {
		eta = 0
	}
	j.EstimatedTimeRemaining = int64(eta.Round(time.Second) / time.Second)
	return nil
}

// Complete stores the result and finishes the job
func (j *Job) Complete(result *trend.Result, now time.Time) error {
	if j.Status != StatusRunning {
		return errors.Wrapf(errors.ErrInvalidTransition, "job %s: %s -> %s", j.ID, j.Status, StatusCompleted)
	}
	if err := j.transition(StatusCompleted); err != nil {
		return err
	}
	j.Progress = 100
	j.EstimatedTimeRemaining = 0
	j.Result = result
	j.FinishedAt = &now
	return nil
}

// Fail finishes the job with an error. Progress is frozen, partial results are dropped.
func (j *Job) Fail(cause error, now time.Time) error {
	if err := j.transition(StatusFailed); err != nil {
		return err
	}
	j.Result = nil
	j.EstimatedTimeRemaining = 0
	if cause != nil {
		j.Error = cause.Error()
	}
	j.ErrorCode = errors.Code(cause)
	j.FinishedAt = &now
	return nil
}

// ExpiredAt reports whether a terminal job finished before cutoff
func (j *Job) ExpiredAt(cutoff time.Time) bool {
	return j.Status.Terminal() && j.FinishedAt != nil && j.FinishedAt.Before(cutoff)
}

// StaleAt reports whether a job created before cutoff still has no outcome
func (j *Job) StaleAt(cutoff time.Time) bool {
	return !j.Status.Terminal() && j.CreatedAt.Before(cutoff)
}
