// Package state implements the job status store backing idempotency checks
// and lifecycle tracking.
package state

import (
	"context"
	"errors"

	"github.com/verifyd/screening-worker/internal/domain"
)

var (
	// ErrNotFound is returned when no record exists for a job ID.
	ErrNotFound = errors.New("job status not found")

	// ErrTerminalState is returned when a write would overwrite a
	// completed or failed record.
	ErrTerminalState = errors.New("job is in a terminal state")
)

// Store tracks per-job lifecycle status. Implementations enforce that
// terminal records are never overwritten. Write failures are expected to be
// logged and swallowed by callers; the store never blocks the pipeline.
type Store interface {
	// Get returns the status record for a job, or ErrNotFound.
	Get(ctx context.Context, jobID string) (*domain.StatusRecord, error)

	// MarkProcessing transitions a job to processing.
	MarkProcessing(ctx context.Context, jobID string) error

	// MarkCompleted transitions a job to completed with its result.
	MarkCompleted(ctx context.Context, jobID string, result domain.Result) error

	// MarkFailed transitions a job to failed with an error description.
	MarkFailed(ctx context.Context, jobID string, reason string) error
}
