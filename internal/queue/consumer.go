package queue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	// Default consumer group name.
	defaultConsumerGroup = "screening-workers"

	// Default block timeout for reading from the stream.
	defaultBlockTimeout = 5 * time.Second

	// Default count of messages to read per batch.
	defaultBatchSize = 10

	// Default minimum idle time before claiming pending messages.
	defaultClaimMinIdle = 5 * time.Minute

	// Maximum pending messages to check at once.
	maxPendingCheck = 100
)

// Consumer reads job messages from the Redis stream via a consumer group.
// Delivery is at-least-once: unacknowledged messages are reclaimed after
// they sit idle past the claim threshold.
type Consumer struct {
	client        *StreamsClient
	consumerGroup string
	consumerID    string
	blockTimeout  time.Duration
	batchSize     int64
	claimMinIdle  time.Duration
}

// ConsumerConfig holds configuration for the Consumer.
type ConsumerConfig struct {
	ConsumerGroup string
	ConsumerID    string
	BlockTimeout  time.Duration
	BatchSize     int64
	ClaimMinIdle  time.Duration
}

// ConsumedMessage is a raw message read from the queue. The payload is left
// undecoded; classification and validation happen downstream so that poison
// messages can still be acknowledged.
type ConsumedMessage struct {
	MessageID  string
	Payload    []byte
	EnqueuedAt time.Time
}

// NewConsumer creates a new message consumer.
func NewConsumer(client *StreamsClient, cfg ConsumerConfig) (*Consumer, error) {
	if cfg.ConsumerID == "" {
		return nil, errors.New("consumer ID is required")
	}

	group := cfg.ConsumerGroup
	if group == "" {
		group = defaultConsumerGroup
	}

	blockTimeout := cfg.BlockTimeout
	if blockTimeout <= 0 {
		blockTimeout = defaultBlockTimeout
	}

	batchSize := cfg.BatchSize
	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}

	claimMinIdle := cfg.ClaimMinIdle
	if claimMinIdle <= 0 {
		claimMinIdle = defaultClaimMinIdle
	}

	return &Consumer{
		client:        client,
		consumerGroup: group,
		consumerID:    cfg.ConsumerID,
		blockTimeout:  blockTimeout,
		batchSize:     batchSize,
		claimMinIdle:  claimMinIdle,
	}, nil
}

// Initialize creates the consumer group for the job stream.
func (c *Consumer) Initialize(ctx context.Context) error {
	stream := c.client.StreamName()
	if err := c.client.CreateConsumerGroup(ctx, stream, c.consumerGroup); err != nil {
		return fmt.Errorf("failed to create consumer group for %s: %w", stream, err)
	}
	return nil
}

// Read returns the next batch of messages. Stale pending messages from dead
// consumers are reclaimed first; otherwise the call blocks up to the block
// timeout waiting for new messages. An empty result is not an error.
func (c *Consumer) Read(ctx context.Context) ([]*ConsumedMessage, error) {
	if reclaimed := c.reclaimPending(ctx); len(reclaimed) > 0 {
		return reclaimed, nil
	}
	return c.readNewMessages(ctx)
}

// Acknowledge marks a message as processed. Acknowledged messages are never
// redelivered.
func (c *Consumer) Acknowledge(ctx context.Context, msg *ConsumedMessage) error {
	if msg == nil {
		return errors.New("message cannot be nil")
	}
	return c.client.XAck(ctx, c.client.StreamName(), c.consumerGroup, msg.MessageID)
}

// PendingCount returns the number of delivered-but-unacknowledged messages.
func (c *Consumer) PendingCount(ctx context.Context) (int64, error) {
	entries, err := c.client.XPendingExt(ctx, c.client.StreamName(), c.consumerGroup, "-", "+", maxPendingCheck)
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, nil
		}
		return 0, fmt.Errorf("failed to get pending count: %w", err)
	}
	return int64(len(entries)), nil
}

func (c *Consumer) readNewMessages(ctx context.Context) ([]*ConsumedMessage, error) {
	streams := []string{c.client.StreamName(), ">"}

	result, err := c.client.XReadGroup(ctx, c.consumerGroup, c.consumerID, streams, c.batchSize, c.blockTimeout)
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil // No messages available
		}
		return nil, fmt.Errorf("failed to read from stream: %w", err)
	}

	return c.parseStreams(result), nil
}

// reclaimPending claims pending messages that exceeded the idle threshold.
// Errors are swallowed; new-message reads proceed regardless.
func (c *Consumer) reclaimPending(ctx context.Context) []*ConsumedMessage {
	stream := c.client.StreamName()

	pending, err := c.client.XPendingExt(ctx, stream, c.consumerGroup, "-", "+", maxPendingCheck)
	if err != nil {
		return nil
	}

	var idsToReclaim []string
	for _, entry := range pending {
		if entry.Idle >= c.claimMinIdle {
			idsToReclaim = append(idsToReclaim, entry.ID)
		}
	}
	if len(idsToReclaim) == 0 {
		return nil
	}

	claimed, err := c.client.XClaim(ctx, stream, c.consumerGroup, c.consumerID, c.claimMinIdle, idsToReclaim...)
	if err != nil {
		return nil
	}

	msgs := make([]*ConsumedMessage, 0, len(claimed))
	for _, msg := range claimed {
		msgs = append(msgs, c.parseMessage(msg))
	}
	return msgs
}

func (c *Consumer) parseStreams(streams []redis.XStream) []*ConsumedMessage {
	var msgs []*ConsumedMessage
	for _, stream := range streams {
		for _, msg := range stream.Messages {
			msgs = append(msgs, c.parseMessage(msg))
		}
	}
	return msgs
}

// parseMessage extracts the raw payload from a stream entry. A missing or
// invalid job field leaves the payload empty; the dispatcher treats that as
// a poison message and acknowledges it.
func (c *Consumer) parseMessage(msg redis.XMessage) *ConsumedMessage {
	consumed := &ConsumedMessage{MessageID: msg.ID}

	if jobData, ok := msg.Values[JobDataField].(string); ok {
		consumed.Payload = []byte(jobData)
	}

	if enqueuedStr, ok := msg.Values[EnqueuedAtField].(string); ok {
		if t, err := time.Parse(time.RFC3339, enqueuedStr); err == nil {
			consumed.EnqueuedAt = t
		}
	}

	return consumed
}

// ConsumerGroup returns the consumer group name.
func (c *Consumer) ConsumerGroup() string {
	return c.consumerGroup
}

// ConsumerID returns the consumer ID.
func (c *Consumer) ConsumerID() string {
	return c.consumerID
}
