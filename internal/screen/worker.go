package screen

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/verifyd/screening-worker/internal/logger"
	"github.com/verifyd/screening-worker/internal/queue"
	"github.com/verifyd/screening-worker/internal/telemetry"
)

const (
	defaultMaxWorkers      = 16
	defaultErrorBackoff    = 5 * time.Second
	defaultAckTimeout      = 5 * time.Second
	defaultShutdownTimeout = 30 * time.Second
)

// Worker pulls messages from the queue and fans them out over a bounded
// pool of handler goroutines. Every message is acknowledged after its
// handler runs, whatever the outcome; job-level retries do not exist at
// the message layer.
type Worker struct {
	consumer   *queue.Consumer
	dispatcher *Dispatcher
	logger     logger.Logger
	telemetry  *telemetry.Provider

	maxWorkers      int
	errorBackoff    time.Duration
	ackTimeout      time.Duration
	shutdownTimeout time.Duration

	sem      chan struct{}
	stopChan chan struct{}
	wg       sync.WaitGroup
	mu       sync.Mutex
	started  bool

	startedAt time.Time
	processed atomic.Int64
	failed    atomic.Int64
	dropped   atomic.Int64
	active    atomic.Int64
}

// WorkerConfig holds worker pool settings.
type WorkerConfig struct {
	MaxWorkers      int
	ErrorBackoff    time.Duration
	AckTimeout      time.Duration
	ShutdownTimeout time.Duration
}

// NewWorker creates a worker over the given consumer and dispatcher.
func NewWorker(
	consumer *queue.Consumer,
	dispatcher *Dispatcher,
	cfg WorkerConfig,
	log logger.Logger,
	tel *telemetry.Provider,
) *Worker {
	maxWorkers := cfg.MaxWorkers
	if maxWorkers <= 0 {
		maxWorkers = defaultMaxWorkers
	}
	errorBackoff := cfg.ErrorBackoff
	if errorBackoff <= 0 {
		errorBackoff = defaultErrorBackoff
	}
	ackTimeout := cfg.AckTimeout
	if ackTimeout <= 0 {
		ackTimeout = defaultAckTimeout
	}
	shutdownTimeout := cfg.ShutdownTimeout
	if shutdownTimeout <= 0 {
		shutdownTimeout = defaultShutdownTimeout
	}

	return &Worker{
		consumer:        consumer,
		dispatcher:      dispatcher,
		logger:          log,
		telemetry:       tel,
		maxWorkers:      maxWorkers,
		errorBackoff:    errorBackoff,
		ackTimeout:      ackTimeout,
		shutdownTimeout: shutdownTimeout,
		sem:             make(chan struct{}, maxWorkers),
		stopChan:        make(chan struct{}),
	}
}

// Start begins the pull loop.
func (w *Worker) Start(ctx context.Context) {
	w.mu.Lock()
	if w.started {
		w.mu.Unlock()
		return
	}
	w.started = true
	w.startedAt = time.Now()
	w.mu.Unlock()

	w.wg.Add(1)
	go w.run(ctx)

	w.logger.Info("worker started",
		logger.String("consumer_id", w.consumer.ConsumerID()),
		logger.Int("max_workers", w.maxWorkers))
}

// Stop halts intake and waits for in-flight jobs, bounded by the shutdown
// timeout. Jobs that outlive the timeout keep their stream entries pending
// and will be reclaimed by another consumer.
func (w *Worker) Stop() {
	w.mu.Lock()
	if !w.started {
		w.mu.Unlock()
		return
	}
	w.started = false
	w.mu.Unlock()

	close(w.stopChan)

	done := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		w.logger.Info("worker stopped")
	case <-time.After(w.shutdownTimeout):
		w.logger.Warn("worker shutdown timed out with jobs in flight",
			logger.Int64("active", w.active.Load()))
	}
}

// IsRunning reports whether the worker is started.
func (w *Worker) IsRunning() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.started
}

func (w *Worker) run(ctx context.Context) {
	defer w.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopChan:
			return
		default:
		}

		msgs, err := w.consumer.Read(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			w.logger.Error("queue read failed", logger.Error(err))
			select {
			case <-ctx.Done():
				return
			case <-w.stopChan:
				return
			case <-time.After(w.errorBackoff):
			}
			continue
		}

		// Empty poll: the blocking read already paced us
		for _, msg := range msgs {
			select {
			case w.sem <- struct{}{}:
			case <-w.stopChan:
				return
			case <-ctx.Done():
				return
			}

			w.wg.Add(1)
			go w.handle(ctx, msg)
		}
	}
}

func (w *Worker) handle(ctx context.Context, msg *queue.ConsumedMessage) {
	defer w.wg.Done()
	defer func() { <-w.sem }()

	w.active.Add(1)
	w.telemetry.SetActiveJobs(int(w.active.Load()))
	defer func() {
		w.active.Add(-1)
		w.telemetry.SetActiveJobs(int(w.active.Load()))
	}()

	outcome := w.dispatcher.Handle(ctx, msg.Payload)

	switch outcome {
	case OutcomeCompleted:
		w.processed.Add(1)
	case OutcomeFailed:
		w.failed.Add(1)
	default:
		w.dropped.Add(1)
	}
	w.telemetry.RecordQueueMessage(string(outcome))

	// Ack outlives pipeline cancellation so drained jobs don't redeliver
	ackCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), w.ackTimeout)
	defer cancel()
	if err := w.consumer.Acknowledge(ackCtx, msg); err != nil {
		w.logger.Error("failed to acknowledge message",
			logger.String("message_id", msg.MessageID), logger.Error(err))
	}
}

// Status returns runtime stats for the status endpoint.
func (w *Worker) Status() map[string]any {
	w.mu.Lock()
	started := w.started
	startedAt := w.startedAt
	w.mu.Unlock()

	status := map[string]any{
		"running":     started,
		"consumer_id": w.consumer.ConsumerID(),
		"max_workers": w.maxWorkers,
		"processed":   w.processed.Load(),
		"failed":      w.failed.Load(),
		"dropped":     w.dropped.Load(),
		"active":      w.active.Load(),
	}
	if !startedAt.IsZero() {
		status["started_at"] = startedAt.UTC().Format(time.RFC3339)
		status["uptime_seconds"] = int64(time.Since(startedAt).Seconds())
	}
	return status
}
