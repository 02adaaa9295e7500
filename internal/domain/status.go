package domain

import "time"

// JobStatus is the lifecycle state of a job in the state store.
type JobStatus string

const (
	// StatusQueued means the job is enqueued and not yet picked up.
	StatusQueued JobStatus = "queued"

	// StatusProcessing means a worker owns the job.
	StatusProcessing JobStatus = "processing"

	// StatusCompleted means the job finished with a usable result.
	StatusCompleted JobStatus = "completed"

	// StatusFailed means the job finished without a usable result.
	StatusFailed JobStatus = "failed"
)

// IsTerminal reports whether the status is final. Terminal records are
// never overwritten.
func (s JobStatus) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// IsValid reports whether the status is one of the known lifecycle states.
func (s JobStatus) IsValid() bool {
	switch s {
	case StatusQueued, StatusProcessing, StatusCompleted, StatusFailed:
		return true
	default:
		return false
	}
}

// StatusRecord is the per-job entry held in the state store.
type StatusRecord struct {
	JobID       string
	Status      JobStatus
	UpdatedAt   time.Time
	CompletedAt time.Time
	Result      Result
	Error       string
}
