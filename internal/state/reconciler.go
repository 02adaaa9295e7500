package state

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/verifyd/screening-worker/internal/logger"
)

const (
	// Default interval between reconciliation sweeps.
	defaultReconcileInterval = 5 * time.Minute

	// Default age after which a processing record is considered orphaned.
	defaultStaleAfter = 30 * time.Minute
)

// Reconciler periodically sweeps the processing index and fails records
// that have been stuck in processing past the staleness threshold. This
// covers workers that died mid-job without writing a terminal status.
type Reconciler struct {
	store      *RedisStore
	logger     logger.Logger
	interval   time.Duration
	staleAfter time.Duration

	stopChan chan struct{}
	wg       sync.WaitGroup
	mu       sync.Mutex
	started  bool
}

// ReconcilerConfig holds configuration for the reconciler.
type ReconcilerConfig struct {
	Interval   time.Duration
	StaleAfter time.Duration
}

// NewReconciler creates a reconciler over the given store.
func NewReconciler(store *RedisStore, log logger.Logger, cfg ReconcilerConfig) *Reconciler {
	interval := cfg.Interval
	if interval <= 0 {
		interval = defaultReconcileInterval
	}
	staleAfter := cfg.StaleAfter
	if staleAfter <= 0 {
		staleAfter = defaultStaleAfter
	}
	return &Reconciler{
		store:      store,
		logger:     log,
		interval:   interval,
		staleAfter: staleAfter,
		stopChan:   make(chan struct{}),
	}
}

// Start begins the background sweep loop.
func (r *Reconciler) Start(ctx context.Context) {
	r.mu.Lock()
	if r.started {
		r.mu.Unlock()
		return
	}
	r.started = true
	r.mu.Unlock()

	r.wg.Add(1)
	go r.run(ctx)

	r.logger.Info("state reconciler started",
		logger.Duration("interval", r.interval),
		logger.Duration("stale_after", r.staleAfter))
}

// Stop halts the sweep loop and waits for it to finish.
func (r *Reconciler) Stop() {
	r.mu.Lock()
	if !r.started {
		r.mu.Unlock()
		return
	}
	r.started = false
	r.mu.Unlock()

	close(r.stopChan)
	r.wg.Wait()

	r.logger.Info("state reconciler stopped")
}

func (r *Reconciler) run(ctx context.Context) {
	defer r.wg.Done()

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-r.stopChan:
			return
		case <-ticker.C:
			r.sweep(ctx)
		}
	}
}

// sweep fails processing records older than the staleness threshold.
func (r *Reconciler) sweep(ctx context.Context) {
	ids, err := r.store.ProcessingJobs(ctx)
	if err != nil {
		r.logger.Error("failed to list processing jobs", logger.Error(err))
		return
	}

	cutoff := time.Now().Add(-r.staleAfter)
	swept := 0

	for _, jobID := range ids {
		rec, err := r.store.Get(ctx, jobID)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				continue
			}
			r.logger.Error("failed to read processing job",
				logger.String("job_id", jobID), logger.Error(err))
			continue
		}

		if rec.Status.IsTerminal() || rec.UpdatedAt.After(cutoff) {
			continue
		}

		if err := r.store.MarkFailed(ctx, jobID, "processing timed out"); err != nil {
			r.logger.Error("failed to fail stale job",
				logger.String("job_id", jobID), logger.Error(err))
			continue
		}
		swept++
	}

	if swept > 0 {
		r.logger.Warn("swept stale processing jobs", logger.Int("count", swept))
	}
}
