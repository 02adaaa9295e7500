package model_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/verifyd/screening-worker/internal/logger"
	"github.com/verifyd/screening-worker/internal/model"
	"github.com/verifyd/screening-worker/internal/ratelimit"
)

// countingClient fails a fixed number of times before succeeding.
type countingClient struct {
	mu       sync.Mutex
	failures int
	err      error
	calls    int
}

func (c *countingClient) ChatCompletion(_ context.Context, req *model.Request) (*model.Response, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	if c.calls <= c.failures {
		return nil, c.err
	}
	return &model.Response{Content: "ok", Model: req.Model, StatusCode: 200}, nil
}

func (c *countingClient) callCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls
}

func newCaller(client model.Client, maxRetries int) *model.Caller {
	return model.NewCaller(client, ratelimit.New(time.Microsecond, 0), model.RetryPolicy{
		MaxRetries: maxRetries,
		BaseDelay:  time.Millisecond,
		MaxDelay:   5 * time.Millisecond,
	}, logger.NewNop())
}

func TestCaller_SucceedsAfterRetryableFailures(t *testing.T) {
	client := &countingClient{
		failures: 2,
		err:      &model.CallError{Kind: model.KindServer, StatusCode: 500, Message: "upstream down"},
	}
	caller := newCaller(client, 3)

	resp, err := caller.Call(context.Background(), chatRequest())
	require.NoError(t, err)
	assert.Equal(t, "ok", resp.Content)
	assert.Equal(t, 3, client.callCount())
}

func TestCaller_ExhaustsAttemptBudget(t *testing.T) {
	client := &countingClient{
		failures: 100,
		err:      &model.CallError{Kind: model.KindRateLimited, StatusCode: 429, Message: "slow down"},
	}
	caller := newCaller(client, 2)

	_, err := caller.Call(context.Background(), chatRequest())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "after 3 attempts")
	assert.Equal(t, 3, client.callCount())

	var callErr *model.CallError
	assert.ErrorAs(t, err, &callErr)
}

func TestCaller_FatalErrorStopsImmediately(t *testing.T) {
	client := &countingClient{
		failures: 100,
		err:      &model.CallError{Kind: model.KindClient, StatusCode: 400, Message: "bad request"},
	}
	caller := newCaller(client, 3)

	_, err := caller.Call(context.Background(), chatRequest())
	require.Error(t, err)
	assert.Equal(t, 1, client.callCount())
}

func TestCaller_ContextCancelDuringBackoff(t *testing.T) {
	client := &countingClient{
		failures: 100,
		err:      &model.CallError{Kind: model.KindServer, StatusCode: 503, Message: "unavailable"},
	}
	caller := model.NewCaller(client, ratelimit.New(time.Microsecond, 0), model.RetryPolicy{
		MaxRetries: 5,
		BaseDelay:  time.Hour,
		MaxDelay:   time.Hour,
	}, logger.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	_, err := caller.Call(ctx, chatRequest())
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, client.callCount())
}

func TestRetryPolicy_DelayGrowsAndCaps(t *testing.T) {
	policy := model.RetryPolicy{
		BaseDelay: 100 * time.Millisecond,
		MaxDelay:  time.Second,
	}

	for attempt := 0; attempt < 10; attempt++ {
		delay := policy.Delay(attempt)
		assert.LessOrEqual(t, delay, time.Second)
		assert.Positive(t, delay)
	}
	// attempt 0 jitter range is [50ms, 150ms)
	d := policy.Delay(0)
	assert.GreaterOrEqual(t, d, 50*time.Millisecond)
	assert.Less(t, d, 150*time.Millisecond)
}

func TestRetryable_Classification(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{name: "nil", err: nil, want: false},
		{name: "timeout kind", err: &model.CallError{Kind: model.KindTimeout}, want: true},
		{name: "connection kind", err: &model.CallError{Kind: model.KindConnection}, want: true},
		{name: "rate limited kind", err: &model.CallError{Kind: model.KindRateLimited}, want: true},
		{name: "server kind", err: &model.CallError{Kind: model.KindServer}, want: true},
		{name: "empty response kind", err: &model.CallError{Kind: model.KindEmptyResponse}, want: true},
		{name: "client kind", err: &model.CallError{Kind: model.KindClient}, want: false},
		{name: "malformed kind", err: &model.CallError{Kind: model.KindMalformedResponse}, want: false},
		{name: "context canceled", err: context.Canceled, want: false},
		{name: "deadline exceeded", err: context.DeadlineExceeded, want: true},
		{name: "reasoning token limit", err: errors.New("model hit reasoning token limit"), want: false},
		{name: "connection refused text", err: errors.New("dial tcp: connection refused"), want: true},
		{name: "unrelated error", err: errors.New("something else broke"), want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, model.Retryable(tt.err))
		})
	}
}
