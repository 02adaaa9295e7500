// Package queue provides the Redis Streams job queue for the screening worker.
package queue

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	// Connection timeout for the initial ping.
	defaultConnectionTimeout = 2 * time.Second

	// Field names within a stream entry.
	JobDataField    = "job"
	EnqueuedAtField = "enqueued_at"
)

// StreamsClient wraps a Redis client with streams-specific operations.
type StreamsClient struct {
	client *redis.Client
	prefix string
}

// StreamsConfig holds connection settings for the streams client.
type StreamsConfig struct {
	Addr     string
	Password string `json:"-"`
	DB       int
	Prefix   string
}

// NewStreamsClient connects to Redis and verifies the connection.
func NewStreamsClient(cfg StreamsConfig) (*StreamsClient, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), defaultConnectionTimeout)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return NewStreamsClientFromRedis(client, cfg.Prefix), nil
}

// NewStreamsClientFromRedis wraps an existing Redis client.
func NewStreamsClientFromRedis(client *redis.Client, prefix string) *StreamsClient {
	if prefix == "" {
		prefix = "screening"
	}
	return &StreamsClient{
		client: client,
		prefix: prefix,
	}
}

// StreamName returns the job stream key.
func (c *StreamsClient) StreamName() string {
	return fmt.Sprintf("%s:jobs", c.prefix)
}

// Close closes the underlying Redis client.
func (c *StreamsClient) Close() error {
	return c.client.Close()
}

// Ping checks if Redis is reachable.
func (c *StreamsClient) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// Client returns the underlying Redis client.
func (c *StreamsClient) Client() *redis.Client {
	return c.client
}

// CreateConsumerGroup creates the consumer group if it doesn't exist.
func (c *StreamsClient) CreateConsumerGroup(ctx context.Context, stream, group string) error {
	err := c.client.XGroupCreateMkStream(ctx, stream, group, "0").Err()
	if err != nil && err.Error() != "BUSYGROUP Consumer Group name already exists" {
		return fmt.Errorf("failed to create consumer group: %w", err)
	}
	return nil
}

// XAdd appends a message to a stream.
func (c *StreamsClient) XAdd(ctx context.Context, stream string, values map[string]any) (string, error) {
	return c.client.XAdd(ctx, &redis.XAddArgs{
		Stream: stream,
		Values: values,
	}).Result()
}

// XReadGroup reads messages from a stream via a consumer group.
func (c *StreamsClient) XReadGroup(
	ctx context.Context, group, consumer string, streams []string, count int64, block time.Duration,
) ([]redis.XStream, error) {
	return c.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    group,
		Consumer: consumer,
		Streams:  streams,
		Count:    count,
		Block:    block,
	}).Result()
}

// XAck acknowledges messages in a stream.
func (c *StreamsClient) XAck(ctx context.Context, stream, group string, ids ...string) error {
	return c.client.XAck(ctx, stream, group, ids...).Err()
}

// XPendingExt returns detailed pending entries for a stream.
func (c *StreamsClient) XPendingExt(
	ctx context.Context, stream, group, start, end string, count int64,
) ([]redis.XPendingExt, error) {
	return c.client.XPendingExt(ctx, &redis.XPendingExtArgs{
		Stream: stream,
		Group:  group,
		Start:  start,
		End:    end,
		Count:  count,
	}).Result()
}

// XClaim claims pending messages for a consumer.
func (c *StreamsClient) XClaim(
	ctx context.Context, stream, group, consumer string, minIdle time.Duration, ids ...string,
) ([]redis.XMessage, error) {
	return c.client.XClaim(ctx, &redis.XClaimArgs{
		Stream:   stream,
		Group:    group,
		Consumer: consumer,
		MinIdle:  minIdle,
		Messages: ids,
	}).Result()
}

// XLen returns the length of a stream.
func (c *StreamsClient) XLen(ctx context.Context, stream string) (int64, error) {
	return c.client.XLen(ctx, stream).Result()
}

// XTrimMaxLen trims a stream to a maximum length.
func (c *StreamsClient) XTrimMaxLen(ctx context.Context, stream string, maxLen int64) error {
	return c.client.XTrimMaxLen(ctx, stream, maxLen).Err()
}
