// Package telemetry provides Prometheus metrics and tracing for the
// screening worker.
package telemetry

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const serviceName = "screening-worker"

// Metrics holds all worker Prometheus metrics.
type Metrics struct {
	// Job lifecycle
	JobsProcessed *prometheus.CounterVec
	JobsFailed    *prometheus.CounterVec
	JobsDropped   *prometheus.CounterVec
	JobDuration   *prometheus.HistogramVec
	ActiveJobs    prometheus.Gauge

	// Model calls
	ModelCalls        *prometheus.CounterVec
	ModelCallDuration *prometheus.HistogramVec
	ModelRetries      prometheus.Counter

	// Chunk fan-out
	ChunksProcessed prometheus.Counter
	ChunksFailed    prometheus.Counter
	FallbackResults prometheus.Counter

	// Queue
	QueueMessages *prometheus.CounterVec
	QueueDepth    prometheus.Gauge
}

// Provider wraps the tracer and metrics.
type Provider struct {
	Tracer  trace.Tracer
	Metrics *Metrics
}

// NewProvider initializes telemetry with Prometheus metrics.
func NewProvider() *Provider {
	return &Provider{
		Tracer:  otel.Tracer(serviceName),
		Metrics: initMetrics(),
	}
}

// Handler returns the Prometheus HTTP handler for the /metrics endpoint.
func (p *Provider) Handler() http.Handler {
	return promhttp.Handler()
}

func initMetrics() *Metrics {
	m := &Metrics{}
	initJobMetrics(m)
	initModelMetrics(m)
	initChunkMetrics(m)
	initQueueMetrics(m)
	return m
}

func initJobMetrics(m *Metrics) {
	m.JobsProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "screening_jobs_processed_total",
		Help: "Total jobs that reached a completed status",
	}, []string{"job_type"})

	m.JobsFailed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "screening_jobs_failed_total",
		Help: "Total jobs that reached a failed status",
	}, []string{"job_type", "reason"})

	m.JobsDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "screening_jobs_dropped_total",
		Help: "Total messages dropped without processing (echoes, duplicates, poison)",
	}, []string{"reason"})

	m.JobDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "screening_job_duration_seconds",
		Help:    "End-to-end processing time per job",
		Buckets: []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120, 300, 600},
	}, []string{"job_type"})

	m.ActiveJobs = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "screening_active_jobs",
		Help: "Jobs currently being processed",
	})
}

func initModelMetrics(m *Metrics) {
	m.ModelCalls = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "screening_model_calls_total",
		Help: "Total inference calls by outcome",
	}, []string{"model", "outcome"})

	m.ModelCallDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "screening_model_call_duration_seconds",
		Help:    "Inference call latency",
		Buckets: []float64{0.5, 1, 2.5, 5, 10, 20, 40, 60, 120},
	}, []string{"model"})

	m.ModelRetries = promauto.NewCounter(prometheus.CounterOpts{
		Name: "screening_model_retries_total",
		Help: "Total inference call retry attempts",
	})
}

func initChunkMetrics(m *Metrics) {
	m.ChunksProcessed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "screening_chunks_processed_total",
		Help: "Total document chunks processed successfully",
	})

	m.ChunksFailed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "screening_chunks_failed_total",
		Help: "Total document chunks that failed after retries",
	})

	m.FallbackResults = promauto.NewCounter(prometheus.CounterOpts{
		Name: "screening_fallback_results_total",
		Help: "Total jobs that produced the low-confidence fallback payload",
	})
}

func initQueueMetrics(m *Metrics) {
	m.QueueMessages = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "screening_queue_messages_total",
		Help: "Total queue messages read by outcome",
	}, []string{"outcome"})

	m.QueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "screening_queue_depth",
		Help: "Current length of the job stream",
	})
}

// RecordJobCompleted records a successful job.
func (p *Provider) RecordJobCompleted(jobType string, duration time.Duration) {
	p.Metrics.JobsProcessed.WithLabelValues(jobType).Inc()
	p.Metrics.JobDuration.WithLabelValues(jobType).Observe(duration.Seconds())
}

// RecordJobFailed records a failed job with a reason label.
func (p *Provider) RecordJobFailed(jobType, reason string, duration time.Duration) {
	p.Metrics.JobsFailed.WithLabelValues(jobType, reason).Inc()
	p.Metrics.JobDuration.WithLabelValues(jobType).Observe(duration.Seconds())
}

// RecordJobDropped records a message dropped without processing.
func (p *Provider) RecordJobDropped(reason string) {
	p.Metrics.JobsDropped.WithLabelValues(reason).Inc()
}

// RecordModelCall records one inference call.
func (p *Provider) RecordModelCall(model, outcome string, duration time.Duration) {
	p.Metrics.ModelCalls.WithLabelValues(model, outcome).Inc()
	p.Metrics.ModelCallDuration.WithLabelValues(model).Observe(duration.Seconds())
}

// RecordChunk records a chunk outcome.
func (p *Provider) RecordChunk(success bool) {
	if success {
		p.Metrics.ChunksProcessed.Inc()
	} else {
		p.Metrics.ChunksFailed.Inc()
	}
}

// RecordFallback records an all-chunks-failed fallback result.
func (p *Provider) RecordFallback() {
	p.Metrics.FallbackResults.Inc()
}

// SetActiveJobs sets the active job gauge.
func (p *Provider) SetActiveJobs(count int) {
	p.Metrics.ActiveJobs.Set(float64(count))
}

// SetQueueDepth sets the queue depth gauge.
func (p *Provider) SetQueueDepth(depth int64) {
	p.Metrics.QueueDepth.Set(float64(depth))
}

// RecordQueueMessage records a queue read outcome.
func (p *Provider) RecordQueueMessage(outcome string) {
	p.Metrics.QueueMessages.WithLabelValues(outcome).Inc()
}

// StartSpan starts a new trace span.
// The caller is responsible for ending the span with span.End().
//
//nolint:spancheck // Caller is responsible for ending the span
func (p *Provider) StartSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	ctx, span := p.Tracer.Start(ctx, name, trace.WithAttributes(attrs...))
	return ctx, span
}
