package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// Producer enqueues screening job messages.
type Producer struct {
	client *StreamsClient
}

// NewProducer creates a new job producer.
func NewProducer(client *StreamsClient) *Producer {
	return &Producer{client: client}
}

// Enqueue appends a job message to the stream and returns the message ID.
// The payload may be any JSON-serializable message shape; the consumer side
// classifies and validates it.
func (p *Producer) Enqueue(ctx context.Context, payload any) (string, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("failed to marshal job payload: %w", err)
	}

	id, err := p.client.XAdd(ctx, p.client.StreamName(), map[string]any{
		JobDataField:    string(data),
		EnqueuedAtField: time.Now().UTC().Format(time.RFC3339),
	})
	if err != nil {
		return "", fmt.Errorf("failed to enqueue job: %w", err)
	}

	return id, nil
}

// QueueDepth returns the current length of the job stream.
func (p *Producer) QueueDepth(ctx context.Context) (int64, error) {
	return p.client.XLen(ctx, p.client.StreamName())
}
