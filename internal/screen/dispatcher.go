package screen

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/verifyd/screening-worker/internal/domain"
	"github.com/verifyd/screening-worker/internal/history"
	"github.com/verifyd/screening-worker/internal/logger"
	"github.com/verifyd/screening-worker/internal/state"
	"github.com/verifyd/screening-worker/internal/telemetry"
)

// Outcome classifies what the dispatcher did with a message. Every outcome
// ends with the message acknowledged; redelivery is never used as a retry
// mechanism.
type Outcome string

const (
	// OutcomeCompleted means the job produced a result.
	OutcomeCompleted Outcome = "completed"
	// OutcomeFailed means the job reached a terminal failed status.
	OutcomeFailed Outcome = "failed"
	// OutcomeDuplicate means the job was already terminal or in flight.
	OutcomeDuplicate Outcome = "duplicate"
	// OutcomeEcho means the message was a published result looping back.
	OutcomeEcho Outcome = "echo"
	// OutcomePoison means the message could not be decoded at all.
	OutcomePoison Outcome = "poison"
)

// Processor turns a validated job into a structured result.
type Processor interface {
	Process(ctx context.Context, job *domain.Job) (domain.Result, error)
}

// Auditor records finished jobs to the audit trail.
type Auditor interface {
	Record(ctx context.Context, entry *history.Entry) (int64, error)
}

// Dispatcher owns the per-message pipeline: echo detection, validation,
// idempotency, status writes, routing, and completion semantics.
type Dispatcher struct {
	store      state.Store
	processors map[domain.JobType]Processor
	auditor    Auditor
	logger     logger.Logger
	telemetry  *telemetry.Provider
}

// NewDispatcher creates a dispatcher. The auditor may be nil when history
// is disabled.
func NewDispatcher(
	store state.Store,
	processors map[domain.JobType]Processor,
	auditor Auditor,
	log logger.Logger,
	tel *telemetry.Provider,
) *Dispatcher {
	return &Dispatcher{
		store:      store,
		processors: processors,
		auditor:    auditor,
		logger:     log,
		telemetry:  tel,
	}
}

// Handle processes one raw queue payload end to end and reports what
// happened. It never returns an error: every path ends with a decision the
// worker can acknowledge.
func (d *Dispatcher) Handle(ctx context.Context, payload []byte) Outcome {
	if len(payload) == 0 {
		d.logger.Error("dropping message with empty payload")
		d.telemetry.RecordJobDropped(string(OutcomePoison))
		return OutcomePoison
	}

	var msg domain.Message
	if err := json.Unmarshal(payload, &msg); err != nil {
		d.logger.Error("dropping undecodable message", logger.Error(err))
		d.telemetry.RecordJobDropped(string(OutcomePoison))
		return OutcomePoison
	}

	if msg.IsEcho() {
		d.logger.Debug("dropping result echo", logger.String("job_id", msg.JobID))
		d.telemetry.RecordJobDropped(string(OutcomeEcho))
		return OutcomeEcho
	}

	job, err := domain.JobFromMessage(&msg)
	if err != nil {
		if msg.JobID == "" {
			d.logger.Error("dropping message without job_id", logger.Error(err))
			d.telemetry.RecordJobDropped(string(OutcomePoison))
			return OutcomePoison
		}
		// Malformed but identifiable: fail terminally, never retry
		d.logger.Warn("job failed validation",
			logger.String("job_id", msg.JobID), logger.Error(err))
		d.setFailed(ctx, msg.JobID, err.Error())
		d.telemetry.RecordJobFailed(msg.JobType, "validation", 0)
		d.audit(ctx, msg.JobID, domain.JobType(msg.JobType), domain.StatusFailed, nil, err.Error(), 0)
		return OutcomeFailed
	}

	if d.isDuplicate(ctx, job.ID) {
		d.logger.Info("dropping duplicate job", logger.String("job_id", job.ID))
		d.telemetry.RecordJobDropped(string(OutcomeDuplicate))
		return OutcomeDuplicate
	}

	return d.process(ctx, job)
}

// isDuplicate checks the state store for an existing claim on the job.
// Store failures are treated as no-claim; processing proceeds
// optimistically rather than stalling on the store.
func (d *Dispatcher) isDuplicate(ctx context.Context, jobID string) bool {
	rec, err := d.store.Get(ctx, jobID)
	if err != nil {
		if !errors.Is(err, state.ErrNotFound) {
			d.logger.Warn("idempotency check failed, proceeding",
				logger.String("job_id", jobID), logger.Error(err))
		}
		return false
	}
	return rec.Status.IsTerminal() || rec.Status == domain.StatusProcessing
}

func (d *Dispatcher) process(ctx context.Context, job *domain.Job) Outcome {
	ctx, span := d.telemetry.StartSpan(ctx, "job.process",
		attribute.String("job_id", job.ID),
		attribute.String("job_type", string(job.Type)))
	defer span.End()

	start := time.Now()

	if err := d.store.MarkProcessing(ctx, job.ID); err != nil {
		if errors.Is(err, state.ErrTerminalState) {
			d.logger.Info("dropping duplicate job", logger.String("job_id", job.ID))
			d.telemetry.RecordJobDropped(string(OutcomeDuplicate))
			return OutcomeDuplicate
		}
		// Status writes never block the pipeline
		d.logger.Warn("failed to mark job processing",
			logger.String("job_id", job.ID), logger.Error(err))
	}

	proc, ok := d.processors[job.Type]
	if !ok {
		return d.fail(ctx, job, "no processor for job type", start)
	}

	result, err := proc.Process(ctx, job)
	switch {
	case err != nil:
		return d.fail(ctx, job, err.Error(), start)
	case len(result) == 0:
		// Success with nothing to show is a failure, not a silent pass
		return d.fail(ctx, job, "processing returned an empty result", start)
	default:
		return d.complete(ctx, job, result, start)
	}
}

func (d *Dispatcher) complete(ctx context.Context, job *domain.Job, result domain.Result, start time.Time) Outcome {
	elapsed := time.Since(start)

	if err := d.store.MarkCompleted(ctx, job.ID, result); err != nil {
		d.logger.Error("failed to mark job completed",
			logger.String("job_id", job.ID), logger.Error(err))
	}

	d.logger.Info("job completed",
		logger.String("job_id", job.ID),
		logger.String("job_type", string(job.Type)),
		logger.Duration("duration", elapsed))

	d.telemetry.RecordJobCompleted(string(job.Type), elapsed)
	d.audit(ctx, job.ID, job.Type, domain.StatusCompleted, result, "", elapsed)
	return OutcomeCompleted
}

func (d *Dispatcher) fail(ctx context.Context, job *domain.Job, reason string, start time.Time) Outcome {
	elapsed := time.Since(start)

	d.setFailed(ctx, job.ID, reason)

	d.logger.Warn("job failed",
		logger.String("job_id", job.ID),
		logger.String("job_type", string(job.Type)),
		logger.String("reason", reason),
		logger.Duration("duration", elapsed))

	d.telemetry.RecordJobFailed(string(job.Type), "processing", elapsed)
	d.audit(ctx, job.ID, job.Type, domain.StatusFailed, nil, reason, elapsed)
	return OutcomeFailed
}

func (d *Dispatcher) setFailed(ctx context.Context, jobID, reason string) {
	if err := d.store.MarkFailed(ctx, jobID, reason); err != nil {
		d.logger.Error("failed to mark job failed",
			logger.String("job_id", jobID), logger.Error(err))
	}
}

// audit writes a history entry. Best effort: failures are logged and the
// pipeline moves on.
func (d *Dispatcher) audit(ctx context.Context, jobID string, jobType domain.JobType,
	status domain.JobStatus, result domain.Result, errMsg string, duration time.Duration,
) {
	if d.auditor == nil {
		return
	}

	entry := history.EntryFromResult(jobID, jobType, status, result, errMsg, duration)
	if _, err := d.auditor.Record(ctx, entry); err != nil {
		d.logger.Warn("failed to record screening history",
			logger.String("job_id", jobID), logger.Error(err))
	}
}
