package state

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/verifyd/screening-worker/internal/domain"
	"github.com/verifyd/screening-worker/internal/logger"
)

func newSweepFixture(t *testing.T) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	return NewRedisStore(client, RedisStoreConfig{KeyPrefix: "test"}), mr
}

func backdate(t *testing.T, mr *miniredis.Miniredis, jobID string, age time.Duration) {
	t.Helper()
	stale := time.Now().UTC().Add(-age).Format(time.RFC3339)
	mr.HSet("test:job:"+jobID, fieldUpdatedAt, stale)
}

func TestReconciler_SweepFailsStaleProcessingJobs(t *testing.T) {
	store, mr := newSweepFixture(t)
	ctx := context.Background()

	require.NoError(t, store.MarkProcessing(ctx, "stale-job"))
	require.NoError(t, store.MarkProcessing(ctx, "fresh-job"))
	backdate(t, mr, "stale-job", time.Hour)

	r := NewReconciler(store, logger.NewNop(), ReconcilerConfig{StaleAfter: 30 * time.Minute})
	r.sweep(ctx)

	stale, err := store.Get(ctx, "stale-job")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusFailed, stale.Status)
	assert.Equal(t, "processing timed out", stale.Error)

	fresh, err := store.Get(ctx, "fresh-job")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusProcessing, fresh.Status)

	ids, err := store.ProcessingJobs(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"fresh-job"}, ids)
}

func TestReconciler_SweepSkipsTerminalLeftovers(t *testing.T) {
	store, mr := newSweepFixture(t)
	ctx := context.Background()

	// a terminal record still in the index, as after a crashed SRem
	require.NoError(t, store.MarkCompleted(ctx, "done-job", domain.Result{"status": "Good"}))
	mr.SAdd("test:processing", "done-job")
	backdate(t, mr, "done-job", time.Hour)

	r := NewReconciler(store, logger.NewNop(), ReconcilerConfig{StaleAfter: 30 * time.Minute})
	r.sweep(ctx)

	rec, err := store.Get(ctx, "done-job")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCompleted, rec.Status)
}

func TestReconciler_StartStop(t *testing.T) {
	store, _ := newSweepFixture(t)

	r := NewReconciler(store, logger.NewNop(), ReconcilerConfig{
		Interval:   10 * time.Millisecond,
		StaleAfter: time.Minute,
	})
	r.Start(context.Background())
	time.Sleep(30 * time.Millisecond)
	r.Stop()

	// stopping twice is a no-op
	r.Stop()
}
