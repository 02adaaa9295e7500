package queue_test

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/verifyd/screening-worker/internal/queue"
)

func newTestQueue(t *testing.T) (*queue.StreamsClient, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	return queue.NewStreamsClientFromRedis(client, "test"), mr
}

func newTestConsumer(t *testing.T, client *queue.StreamsClient, consumerID string) *queue.Consumer {
	t.Helper()
	consumer, err := queue.NewConsumer(client, queue.ConsumerConfig{
		ConsumerID:   consumerID,
		BlockTimeout: 50 * time.Millisecond,
		ClaimMinIdle: time.Minute,
	})
	require.NoError(t, err)
	require.NoError(t, consumer.Initialize(context.Background()))
	return consumer
}

func TestConsumer_RequiresConsumerID(t *testing.T) {
	client, _ := newTestQueue(t)

	_, err := queue.NewConsumer(client, queue.ConsumerConfig{})
	assert.Error(t, err)
}

func TestConsumer_ReadEmptyStream(t *testing.T) {
	client, _ := newTestQueue(t)
	consumer := newTestConsumer(t, client, "worker-a")

	msgs, err := consumer.Read(context.Background())
	require.NoError(t, err)
	assert.Empty(t, msgs)
}

func TestConsumer_EnqueueReadAcknowledge(t *testing.T) {
	client, _ := newTestQueue(t)
	consumer := newTestConsumer(t, client, "worker-a")
	producer := queue.NewProducer(client)
	ctx := context.Background()

	payload := map[string]any{"job_id": "job-1", "job_type": "document"}
	id, err := producer.Enqueue(ctx, payload)
	require.NoError(t, err)
	assert.NotEmpty(t, id)

	depth, err := producer.QueueDepth(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), depth)

	msgs, err := consumer.Read(ctx)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, id, msgs[0].MessageID)
	assert.JSONEq(t, `{"job_id": "job-1", "job_type": "document"}`, string(msgs[0].Payload))
	assert.WithinDuration(t, time.Now(), msgs[0].EnqueuedAt, 5*time.Second)

	pending, err := consumer.PendingCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), pending)

	require.NoError(t, consumer.Acknowledge(ctx, msgs[0]))

	pending, err = consumer.PendingCount(ctx)
	require.NoError(t, err)
	assert.Zero(t, pending)
}

func TestConsumer_ReclaimsStalePending(t *testing.T) {
	client, mr := newTestQueue(t)
	dead := newTestConsumer(t, client, "worker-dead")
	alive := newTestConsumer(t, client, "worker-alive")
	producer := queue.NewProducer(client)
	ctx := context.Background()

	_, err := producer.Enqueue(ctx, map[string]any{"job_id": "job-2"})
	require.NoError(t, err)

	// deliver to the dead consumer, never acknowledge
	msgs, err := dead.Read(ctx)
	require.NoError(t, err)
	require.Len(t, msgs, 1)

	// below the idle threshold the other consumer sees nothing
	got, err := alive.Read(ctx)
	require.NoError(t, err)
	assert.Empty(t, got)

	mr.SetTime(time.Now().Add(2 * time.Minute))

	got, err = alive.Read(ctx)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, msgs[0].MessageID, got[0].MessageID)
	assert.JSONEq(t, string(msgs[0].Payload), string(got[0].Payload))
}

func TestConsumer_AcknowledgeNilMessage(t *testing.T) {
	client, _ := newTestQueue(t)
	consumer := newTestConsumer(t, client, "worker-a")

	assert.Error(t, consumer.Acknowledge(context.Background(), nil))
}
