package state

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/verifyd/screening-worker/internal/domain"
)

const (
	// Default timeout for a single store operation. Status writes ride
	// alongside the processing pipeline and must not stall it.
	defaultOpTimeout = 10 * time.Second

	fieldStatus      = "status"
	fieldUpdatedAt   = "updated_at"
	fieldCompletedAt = "completed_at"
	fieldResult      = "result"
	fieldError       = "error"
)

// RedisStore is a Redis-backed Store. Each job is a hash under
// <prefix>:job:<id>; jobs currently processing are indexed in a set so the
// reconciler can sweep orphans.
type RedisStore struct {
	client    *redis.Client
	keyPrefix string
	opTimeout time.Duration
}

// RedisStoreConfig holds configuration for the Redis store.
type RedisStoreConfig struct {
	KeyPrefix string
	OpTimeout time.Duration
}

// NewRedisStore creates a store on an existing Redis client.
func NewRedisStore(client *redis.Client, cfg RedisStoreConfig) *RedisStore {
	prefix := cfg.KeyPrefix
	if prefix == "" {
		prefix = "screening"
	}
	opTimeout := cfg.OpTimeout
	if opTimeout <= 0 {
		opTimeout = defaultOpTimeout
	}
	return &RedisStore{
		client:    client,
		keyPrefix: prefix,
		opTimeout: opTimeout,
	}
}

func (s *RedisStore) jobKey(jobID string) string {
	return fmt.Sprintf("%s:job:%s", s.keyPrefix, jobID)
}

func (s *RedisStore) processingKey() string {
	return fmt.Sprintf("%s:processing", s.keyPrefix)
}

// Get returns the status record for a job, or ErrNotFound.
func (s *RedisStore) Get(ctx context.Context, jobID string) (*domain.StatusRecord, error) {
	ctx, cancel := context.WithTimeout(ctx, s.opTimeout)
	defer cancel()

	values, err := s.client.HGetAll(ctx, s.jobKey(jobID)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read job status: %w", err)
	}
	if len(values) == 0 {
		return nil, ErrNotFound
	}

	rec := &domain.StatusRecord{
		JobID:  jobID,
		Status: domain.JobStatus(values[fieldStatus]),
		Error:  values[fieldError],
	}
	if v := values[fieldUpdatedAt]; v != "" {
		if t, parseErr := time.Parse(time.RFC3339, v); parseErr == nil {
			rec.UpdatedAt = t
		}
	}
	if v := values[fieldCompletedAt]; v != "" {
		if t, parseErr := time.Parse(time.RFC3339, v); parseErr == nil {
			rec.CompletedAt = t
		}
	}
	if v := values[fieldResult]; v != "" {
		var result domain.Result
		if unmarshalErr := json.Unmarshal([]byte(v), &result); unmarshalErr == nil {
			rec.Result = result
		}
	}

	return rec, nil
}

// MarkProcessing transitions a job to processing and indexes it for the
// reconciler. Terminal records are left untouched.
func (s *RedisStore) MarkProcessing(ctx context.Context, jobID string) error {
	ctx, cancel := context.WithTimeout(ctx, s.opTimeout)
	defer cancel()

	if err := s.guardTerminal(ctx, jobID); err != nil {
		return err
	}

	now := time.Now().UTC().Format(time.RFC3339)
	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, s.jobKey(jobID), map[string]any{
		fieldStatus:    string(domain.StatusProcessing),
		fieldUpdatedAt: now,
	})
	pipe.SAdd(ctx, s.processingKey(), jobID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to mark job processing: %w", err)
	}
	return nil
}

// MarkCompleted transitions a job to completed with its result.
func (s *RedisStore) MarkCompleted(ctx context.Context, jobID string, result domain.Result) error {
	data, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("failed to marshal job result: %w", err)
	}
	return s.finish(ctx, jobID, domain.StatusCompleted, map[string]any{fieldResult: string(data)})
}

// MarkFailed transitions a job to failed with an error description.
func (s *RedisStore) MarkFailed(ctx context.Context, jobID string, reason string) error {
	return s.finish(ctx, jobID, domain.StatusFailed, map[string]any{fieldError: reason})
}

func (s *RedisStore) finish(ctx context.Context, jobID string, status domain.JobStatus, extra map[string]any) error {
	ctx, cancel := context.WithTimeout(ctx, s.opTimeout)
	defer cancel()

	if err := s.guardTerminal(ctx, jobID); err != nil {
		return err
	}

	now := time.Now().UTC().Format(time.RFC3339)
	fields := map[string]any{
		fieldStatus:      string(status),
		fieldUpdatedAt:   now,
		fieldCompletedAt: now,
	}
	for k, v := range extra {
		fields[k] = v
	}

	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, s.jobKey(jobID), fields)
	pipe.SRem(ctx, s.processingKey(), jobID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to mark job %s: %w", status, err)
	}
	return nil
}

// guardTerminal rejects writes against completed or failed records.
func (s *RedisStore) guardTerminal(ctx context.Context, jobID string) error {
	current, err := s.client.HGet(ctx, s.jobKey(jobID), fieldStatus).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil
		}
		return fmt.Errorf("failed to read current status: %w", err)
	}
	if domain.JobStatus(current).IsTerminal() {
		return ErrTerminalState
	}
	return nil
}

// ProcessingJobs returns job IDs currently indexed as processing.
func (s *RedisStore) ProcessingJobs(ctx context.Context) ([]string, error) {
	ctx, cancel := context.WithTimeout(ctx, s.opTimeout)
	defer cancel()

	ids, err := s.client.SMembers(ctx, s.processingKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list processing jobs: %w", err)
	}
	return ids, nil
}
