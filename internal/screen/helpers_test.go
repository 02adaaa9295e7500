package screen_test

import (
	"context"
	"sync"
	"time"

	"github.com/verifyd/screening-worker/internal/armor"
	"github.com/verifyd/screening-worker/internal/domain"
	"github.com/verifyd/screening-worker/internal/history"
	"github.com/verifyd/screening-worker/internal/logger"
	"github.com/verifyd/screening-worker/internal/model"
	"github.com/verifyd/screening-worker/internal/ratelimit"
	"github.com/verifyd/screening-worker/internal/source"
	"github.com/verifyd/screening-worker/internal/state"
	"github.com/verifyd/screening-worker/internal/telemetry"
)

// Prometheus collectors register globally, so the test binary shares one
// provider.
var testTel = telemetry.NewProvider()

// fakeStore is an in-memory state.Store.
type fakeStore struct {
	mu     sync.Mutex
	recs   map[string]*domain.StatusRecord
	getErr error
}

func newFakeStore() *fakeStore {
	return &fakeStore{recs: make(map[string]*domain.StatusRecord)}
}

func (s *fakeStore) Get(_ context.Context, jobID string) (*domain.StatusRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.getErr != nil {
		return nil, s.getErr
	}
	rec, ok := s.recs[jobID]
	if !ok {
		return nil, state.ErrNotFound
	}
	copied := *rec
	return &copied, nil
}

func (s *fakeStore) MarkProcessing(_ context.Context, jobID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if rec, ok := s.recs[jobID]; ok && rec.Status.IsTerminal() {
		return state.ErrTerminalState
	}
	s.recs[jobID] = &domain.StatusRecord{
		JobID: jobID, Status: domain.StatusProcessing, UpdatedAt: time.Now(),
	}
	return nil
}

func (s *fakeStore) MarkCompleted(_ context.Context, jobID string, result domain.Result) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if rec, ok := s.recs[jobID]; ok && rec.Status.IsTerminal() {
		return state.ErrTerminalState
	}
	s.recs[jobID] = &domain.StatusRecord{
		JobID: jobID, Status: domain.StatusCompleted,
		UpdatedAt: time.Now(), CompletedAt: time.Now(), Result: result,
	}
	return nil
}

func (s *fakeStore) MarkFailed(_ context.Context, jobID, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if rec, ok := s.recs[jobID]; ok && rec.Status.IsTerminal() {
		return state.ErrTerminalState
	}
	s.recs[jobID] = &domain.StatusRecord{
		JobID: jobID, Status: domain.StatusFailed,
		UpdatedAt: time.Now(), CompletedAt: time.Now(), Error: reason,
	}
	return nil
}

func (s *fakeStore) status(jobID string) domain.JobStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.recs[jobID]
	if !ok {
		return ""
	}
	return rec.Status
}

func (s *fakeStore) seed(rec *domain.StatusRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.recs[rec.JobID] = rec
}

// fakeAuditor records history entries in memory.
type fakeAuditor struct {
	mu      sync.Mutex
	entries []*history.Entry
}

func (a *fakeAuditor) Record(_ context.Context, entry *history.Entry) (int64, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.entries = append(a.entries, entry)
	return int64(len(a.entries)), nil
}

func (a *fakeAuditor) count() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.entries)
}

// fakeModelClient returns canned responses or errors in call order,
// repeating the final element once exhausted.
type fakeModelClient struct {
	mu        sync.Mutex
	responses []fakeCall
	calls     int
}

type fakeCall struct {
	content string
	err     error
}

func (c *fakeModelClient) ChatCompletion(_ context.Context, req *model.Request) (*model.Response, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	idx := c.calls
	if idx >= len(c.responses) {
		idx = len(c.responses) - 1
	}
	c.calls++

	call := c.responses[idx]
	if call.err != nil {
		return nil, call.err
	}
	return &model.Response{
		Content:      call.content,
		Model:        req.Model,
		StatusCode:   200,
		ResponseTime: time.Millisecond,
	}, nil
}

func (c *fakeModelClient) callCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls
}

// newTestCaller wraps a fake client in a fast real caller.
func newTestCaller(client model.Client) *model.Caller {
	limiter := ratelimit.New(time.Microsecond, 0)
	return model.NewCaller(client, limiter, model.RetryPolicy{
		MaxRetries: 1,
		BaseDelay:  time.Millisecond,
		MaxDelay:   5 * time.Millisecond,
	}, logger.NewNop())
}

func disabledSanitizer() *armor.Client {
	return armor.NewClient(armor.Config{Enabled: false}, logger.NewNop())
}

// fakeResolver serves fixed bytes for any locator.
type fakeResolver struct {
	err error
}

func (r *fakeResolver) Resolve(_ context.Context, _ string) (*source.Blob, error) {
	if r.err != nil {
		return nil, r.err
	}
	return &source.Blob{Data: []byte("image-bytes"), MIME: "image/png"}, nil
}
