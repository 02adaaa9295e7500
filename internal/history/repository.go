package history

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/verifyd/screening-worker/internal/domain"
)

// ErrNotFound is returned when no history entry matches.
var ErrNotFound = errors.New("history entry not found")

// Entry is one row of the screening audit trail.
type Entry struct {
	ID          int64         `db:"id"`
	JobID       string        `db:"job_id"`
	JobType     string        `db:"job_type"`
	Status      string        `db:"status"`
	Result      []byte        `db:"result"`
	Error       string        `db:"error"`
	Sources     []string      `db:"sources"`
	Duration    time.Duration `db:"-"`
	DurationMS  int64         `db:"duration_ms"`
	ProcessedAt time.Time     `db:"processed_at"`
	CreatedAt   time.Time     `db:"created_at"`
}

// Repository stores screening history rows.
type Repository struct {
	db *sqlx.DB
}

// NewRepository creates a history repository.
func NewRepository(db *sqlx.DB) *Repository {
	return &Repository{db: db}
}

// Record inserts one audit entry and returns its ID. Inserts are
// best-effort from the pipeline's perspective; callers log and continue on
// failure.
func (r *Repository) Record(ctx context.Context, entry *Entry) (int64, error) {
	query := `
		INSERT INTO screening_history (
			job_id, job_type, status, result, error, sources, duration_ms, processed_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id`

	result := entry.Result
	if result == nil {
		result = []byte("null")
	}
	durationMS := entry.DurationMS
	if durationMS == 0 && entry.Duration > 0 {
		durationMS = entry.Duration.Milliseconds()
	}
	processedAt := entry.ProcessedAt
	if processedAt.IsZero() {
		processedAt = time.Now().UTC()
	}

	var id int64
	err := r.db.QueryRowContext(ctx, query,
		entry.JobID,
		entry.JobType,
		entry.Status,
		result,
		entry.Error,
		pq.Array(entry.Sources),
		durationMS,
		processedAt,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("failed to insert screening history: %w", err)
	}

	return id, nil
}

// EntryFromResult builds an audit entry from a job outcome.
func EntryFromResult(jobID string, jobType domain.JobType, status domain.JobStatus,
	result domain.Result, errMsg string, duration time.Duration,
) *Entry {
	entry := &Entry{
		JobID:       jobID,
		JobType:     string(jobType),
		Status:      string(status),
		Error:       errMsg,
		Duration:    duration,
		ProcessedAt: time.Now().UTC(),
	}

	if result != nil {
		if data, err := json.Marshal(result); err == nil {
			entry.Result = data
		}
		switch sources := result["sources"].(type) {
		case []string:
			entry.Sources = sources
		case []any:
			for _, s := range sources {
				if str, ok := s.(string); ok {
					entry.Sources = append(entry.Sources, str)
				}
			}
		}
	}

	return entry
}

// LatestByJob returns the most recent entry for a job ID.
func (r *Repository) LatestByJob(ctx context.Context, jobID string) (*Entry, error) {
	query := `
		SELECT id, job_id, job_type, status, result, error, sources, duration_ms, processed_at, created_at
		FROM screening_history
		WHERE job_id = $1
		ORDER BY processed_at DESC
		LIMIT 1`

	var entry Entry
	var sources pq.StringArray
	row := r.db.QueryRowContext(ctx, query, jobID)
	err := row.Scan(
		&entry.ID,
		&entry.JobID,
		&entry.JobType,
		&entry.Status,
		&entry.Result,
		&entry.Error,
		&sources,
		&entry.DurationMS,
		&entry.ProcessedAt,
		&entry.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to query screening history: %w", err)
	}

	entry.Sources = []string(sources)
	return &entry, nil
}

// CountByStatus returns entry counts grouped by status.
func (r *Repository) CountByStatus(ctx context.Context) (map[string]int64, error) {
	query := `SELECT status, COUNT(*) FROM screening_history GROUP BY status`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to count screening history: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int64)
	for rows.Next() {
		var status string
		var count int64
		if err := rows.Scan(&status, &count); err != nil {
			return nil, fmt.Errorf("failed to scan history count: %w", err)
		}
		counts[status] = count
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate history counts: %w", err)
	}

	return counts, nil
}
