package events

import (
	"time"

	"github.com/google/uuid"

	"costtrend/internal/domain/job"
)

// Job event types
const (
	TypeJobSubmitted = "job.submitted"
	TypeJobStarted   = "job.started"
	TypeJobCompleted = "job.completed"
	TypeJobFailed    = "job.failed"
)

// schemaVersion is bumped on incompatible payload changes
const schemaVersion = "1.0"

// JobEvent is a trend job lifecycle notification
type JobEvent struct {
	ID         string    `json:"id"`
	Type       string    `json:"type"`
	Version    string    `json:"version"`
	Timestamp  time.Time `json:"timestamp"`
	JobID      string    `json:"job_id"`
	SessionID  string    `json:"session_id"`
	ParamsHash string    `json:"params_hash"`
	Status     string    `json:"status"`
	Progress   int       `json:"progress"`
	Error      string    `json:"error,omitempty"`
	ErrorCode  string    `json:"error_code,omitempty"`
	// DurationMs is set on terminal events
	DurationMs int64 `json:"duration_ms,omitempty"`
}

// NewJobEvent snapshots j into an event of the given type
func NewJobEvent(eventType string, j *job.Job, now time.Time) *JobEvent {
	e := &JobEvent{
		ID:         uuid.NewString(),
		Type:       eventType,
		Version:    schemaVersion,
		Timestamp:  now.UTC(),
		JobID:      j.ID,
		SessionID:  j.SessionID,
		ParamsHash: j.ParamsHash,
		Status:     j.Status.String(),
		Progress:   j.Progress,
		Error:      j.Error,
		ErrorCode:  j.ErrorCode,
	}
	if j.StartedAt != nil && j.FinishedAt != nil {
		e.DurationMs = j.FinishedAt.Sub(*j.StartedAt).Milliseconds()
	}
	return e
}

// TypeFor maps a job status to its event type
func TypeFor(s job.Status) string {
	switch s {
	case job.StatusRunning:
		return TypeJobStarted
	case job.StatusCompleted:
		return TypeJobCompleted
	case job.StatusFailed:
		return TypeJobFailed
	default:
		return TypeJobSubmitted
	}
}
