package history_test

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/verifyd/screening-worker/internal/domain"
	"github.com/verifyd/screening-worker/internal/history"
)

func newMockRepo(t *testing.T) (*history.Repository, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	return history.NewRepository(sqlx.NewDb(db, "postgres")), mock
}

func TestRepository_Record(t *testing.T) {
	repo, mock := newMockRepo(t)

	mock.ExpectQuery("INSERT INTO screening_history").
		WithArgs("job-1", "document", "completed",
			[]byte(`{"status":"Good"}`), "",
			pq.Array([]string{"https://a.example"}),
			int64(1500), sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(42)))

	id, err := repo.Record(context.Background(), &history.Entry{
		JobID:    "job-1",
		JobType:  "document",
		Status:   "completed",
		Result:   []byte(`{"status":"Good"}`),
		Sources:  []string{"https://a.example"},
		Duration: 1500 * time.Millisecond,
	})
	require.NoError(t, err)
	assert.Equal(t, int64(42), id)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRepository_RecordNilResult(t *testing.T) {
	repo, mock := newMockRepo(t)

	mock.ExpectQuery("INSERT INTO screening_history").
		WithArgs("job-2", "text_analysis", "failed",
			[]byte("null"), "model unreachable",
			pq.Array([]string(nil)),
			int64(0), sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(7)))

	id, err := repo.Record(context.Background(), &history.Entry{
		JobID:   "job-2",
		JobType: "text_analysis",
		Status:  "failed",
		Error:   "model unreachable",
	})
	require.NoError(t, err)
	assert.Equal(t, int64(7), id)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRepository_LatestByJob(t *testing.T) {
	repo, mock := newMockRepo(t)
	now := time.Now().UTC()

	rows := sqlmock.NewRows([]string{
		"id", "job_id", "job_type", "status", "result", "error",
		"sources", "duration_ms", "processed_at", "created_at",
	}).AddRow(
		int64(3), "job-3", "document", "completed", []byte(`{"status":"Good"}`), "",
		pq.StringArray{"https://a.example"}, int64(900), now, now,
	)
	mock.ExpectQuery("SELECT (.+) FROM screening_history").
		WithArgs("job-3").
		WillReturnRows(rows)

	entry, err := repo.LatestByJob(context.Background(), "job-3")
	require.NoError(t, err)
	assert.Equal(t, "completed", entry.Status)
	assert.Equal(t, []string{"https://a.example"}, entry.Sources)
	assert.Equal(t, int64(900), entry.DurationMS)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRepository_LatestByJobNotFound(t *testing.T) {
	repo, mock := newMockRepo(t)

	mock.ExpectQuery("SELECT (.+) FROM screening_history").
		WithArgs("nope").
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	_, err := repo.LatestByJob(context.Background(), "nope")
	assert.ErrorIs(t, err, history.ErrNotFound)
}

func TestRepository_CountByStatus(t *testing.T) {
	repo, mock := newMockRepo(t)

	mock.ExpectQuery("SELECT status, COUNT").
		WillReturnRows(sqlmock.NewRows([]string{"status", "count"}).
			AddRow("completed", int64(10)).
			AddRow("failed", int64(2)))

	counts, err := repo.CountByStatus(context.Background())
	require.NoError(t, err)
	assert.Equal(t, map[string]int64{"completed": 10, "failed": 2}, counts)
}

func TestEntryFromResult(t *testing.T) {
	result := domain.Result{
		"status":  "Good",
		"sources": []any{"https://a.example", "https://b.example"},
	}

	entry := history.EntryFromResult("job-5", domain.JobTypeTextAnalysis,
		domain.StatusCompleted, result, "", 2*time.Second)

	assert.Equal(t, "job-5", entry.JobID)
	assert.Equal(t, "text_analysis", entry.JobType)
	assert.Equal(t, "completed", entry.Status)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, entry.Sources)
	assert.JSONEq(t, `{"status":"Good","sources":["https://a.example","https://b.example"]}`,
		string(entry.Result))
}
