package model

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"time"

	"github.com/verifyd/screening-worker/internal/logger"
	"github.com/verifyd/screening-worker/internal/ratelimit"
)

const (
	defaultMaxRetries = 3
	defaultBaseDelay  = 2 * time.Second
	defaultMaxDelay   = 60 * time.Second

	// Backoff jitter bounds: each delay is scaled by a factor drawn
	// uniformly from [jitterMin, jitterMax).
	jitterMin = 0.5
	jitterMax = 1.5
)

// RetryPolicy bounds retry behavior for a single inference call.
// A call makes at most MaxRetries+1 attempts.
type RetryPolicy struct {
	MaxRetries int
	BaseDelay  time.Duration
	MaxDelay   time.Duration
}

// SetDefaults fills in zero-value fields.
func (p *RetryPolicy) SetDefaults() {
	if p.MaxRetries <= 0 {
		p.MaxRetries = defaultMaxRetries
	}
	if p.BaseDelay <= 0 {
		p.BaseDelay = defaultBaseDelay
	}
	if p.MaxDelay <= 0 {
		p.MaxDelay = defaultMaxDelay
	}
}

// Delay returns the backoff before the retry following the given
// zero-based attempt: base * 2^attempt, jittered, capped at MaxDelay.
func (p *RetryPolicy) Delay(attempt int) time.Duration {
	backoff := float64(p.BaseDelay) * math.Pow(2, float64(attempt))
	jitter := jitterMin + rand.Float64()*(jitterMax-jitterMin)
	delay := time.Duration(backoff * jitter)
	if delay > p.MaxDelay {
		delay = p.MaxDelay
	}
	return delay
}

// Caller wraps a Client with the global rate limiter and retry policy.
// Every attempt, including retries, waits for a rate limiter slot first.
type Caller struct {
	client  Client
	limiter *ratelimit.Limiter
	policy  RetryPolicy
	logger  logger.Logger
}

// NewCaller creates a rate-limited, retrying caller.
func NewCaller(client Client, limiter *ratelimit.Limiter, policy RetryPolicy, log logger.Logger) *Caller {
	policy.SetDefaults()
	return &Caller{
		client:  client,
		limiter: limiter,
		policy:  policy,
		logger:  log,
	}
}

// Call issues a chat completion with rate limiting and bounded retries.
// Fatal errors return immediately; retryable errors back off exponentially
// until the attempt budget is spent.
func (c *Caller) Call(ctx context.Context, req *Request) (*Response, error) {
	var lastErr error

	for attempt := 0; attempt <= c.policy.MaxRetries; attempt++ {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("rate limiter wait interrupted: %w", err)
		}

		resp, err := c.client.ChatCompletion(ctx, req)
		if err == nil {
			return resp, nil
		}
		lastErr = err

		if !Retryable(err) {
			c.logger.Warn("model call failed with non-retryable error",
				logger.String("model", req.Model),
				logger.Int("attempt", attempt+1),
				logger.Error(err))
			return nil, err
		}

		if attempt == c.policy.MaxRetries {
			break
		}

		delay := c.policy.Delay(attempt)
		c.logger.Warn("model call failed, retrying",
			logger.String("model", req.Model),
			logger.Int("attempt", attempt+1),
			logger.Duration("delay", delay),
			logger.Error(err))

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("retry wait interrupted: %w", ctx.Err())
		case <-time.After(delay):
		}
	}

	return nil, fmt.Errorf("model call failed after %d attempts: %w",
		c.policy.MaxRetries+1, lastErr)
}
