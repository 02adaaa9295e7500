package screen

import (
	"context"
	"encoding/base64"
	"fmt"
	"time"

	"github.com/verifyd/screening-worker/internal/armor"
	"github.com/verifyd/screening-worker/internal/domain"
	"github.com/verifyd/screening-worker/internal/logger"
	"github.com/verifyd/screening-worker/internal/model"
	"github.com/verifyd/screening-worker/internal/source"
	"github.com/verifyd/screening-worker/internal/telemetry"
)

const defaultChunkSize = 8

// DocumentProcessor screens scanned documents. Source files are resolved to
// content units, grouped into chunks, fanned out to the model under the
// global rate limit, and merged into a single structured verdict.
type DocumentProcessor struct {
	caller    *model.Caller
	resolver  source.Resolver
	sanitizer *armor.Client
	scheduler *ChunkScheduler
	chunkSize int
	modelName string
	logger    logger.Logger
	telemetry *telemetry.Provider
}

// DocumentProcessorConfig holds document processor settings.
type DocumentProcessorConfig struct {
	ChunkSize int
	ModelName string
}

// NewDocumentProcessor creates a document processor.
func NewDocumentProcessor(
	caller *model.Caller,
	resolver source.Resolver,
	sanitizer *armor.Client,
	scheduler *ChunkScheduler,
	cfg DocumentProcessorConfig,
	log logger.Logger,
	tel *telemetry.Provider,
) *DocumentProcessor {
	chunkSize := cfg.ChunkSize
	if chunkSize <= 0 {
		chunkSize = defaultChunkSize
	}
	return &DocumentProcessor{
		caller:    caller,
		resolver:  resolver,
		sanitizer: sanitizer,
		scheduler: scheduler,
		chunkSize: chunkSize,
		modelName: cfg.ModelName,
		logger:    log,
		telemetry: tel,
	}
}

// Process screens a document job. Source resolution failure is fatal for
// the job; chunk-level model failures are tolerated up to all-but-one, and
// a fully failed fan-out produces the fallback verdict rather than an
// error.
func (p *DocumentProcessor) Process(ctx context.Context, job *domain.Job) (domain.Result, error) {
	units, err := p.resolveUnits(ctx, job)
	if err != nil {
		return nil, err
	}

	chunks := BuildChunks(units, p.chunkSize)
	p.logger.Info("processing document job",
		logger.String("job_id", job.ID),
		logger.String("document_type", job.DocumentType),
		logger.Int("units", len(units)),
		logger.Int("chunks", len(chunks)))

	outcomes := p.scheduler.Run(ctx, chunks, func(ctx context.Context, chunk Chunk) (string, error) {
		return p.processChunk(ctx, job, chunk)
	})

	payloads := make([]string, 0, len(outcomes))
	failed := 0
	for _, outcome := range outcomes {
		if outcome.Err != nil {
			failed++
			p.telemetry.RecordChunk(false)
			continue
		}
		p.telemetry.RecordChunk(true)
		payloads = append(payloads, outcome.Payload)
	}

	if len(payloads) == 0 {
		p.logger.Warn("all document chunks failed, returning fallback result",
			logger.String("job_id", job.ID),
			logger.Int("chunks", len(chunks)))
		p.telemetry.RecordFallback()
		result := FallbackResult()
		annotateDocumentResult(result, job, len(chunks), failed)
		return result, nil
	}

	result := MergeResults(payloads)
	annotateDocumentResult(result, job, len(chunks), failed)
	return result, nil
}

func (p *DocumentProcessor) resolveUnits(ctx context.Context, job *domain.Job) ([]ContentUnit, error) {
	units := make([]ContentUnit, 0, len(job.FileURLs))
	for i, locator := range job.FileURLs {
		blob, err := p.resolver.Resolve(ctx, locator)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve source %d of %d: %w", i+1, len(job.FileURLs), err)
		}
		units = append(units, ContentUnit{
			DataURL: fmt.Sprintf("data:%s;base64,%s", blob.MIME, base64.StdEncoding.EncodeToString(blob.Data)),
			Label:   fmt.Sprintf("%s part %d", job.Filename, i+1),
		})
	}
	return units, nil
}

func (p *DocumentProcessor) processChunk(ctx context.Context, job *domain.Job, chunk Chunk) (string, error) {
	prompt := documentPrompt(job.DocumentType, chunk.Index, chunk.Total)

	prompt, err := p.sanitizer.SanitizePrompt(ctx, prompt)
	if err != nil {
		return "", fmt.Errorf("prompt rejected: %w", err)
	}

	parts := make([]model.ContentPart, 0, len(chunk.Units)+1)
	parts = append(parts, model.ContentPart{Type: "text", Text: prompt})
	for _, unit := range chunk.Units {
		parts = append(parts, model.ContentPart{
			Type:     "image_url",
			ImageURL: &model.ImageURL{URL: unit.DataURL},
		})
	}

	modelName := job.ModelName
	if modelName == "" {
		modelName = p.modelName
	}

	start := time.Now()
	resp, err := p.caller.Call(ctx, &model.Request{
		Model:    modelName,
		Messages: []model.ChatMessage{{Role: "user", Content: parts}},
	})
	if err != nil {
		p.telemetry.RecordModelCall(modelName, "error", time.Since(start))
		return "", err
	}
	p.telemetry.RecordModelCall(modelName, "success", resp.ResponseTime)

	content, err := p.sanitizer.SanitizeResponse(ctx, resp.Content)
	if err != nil {
		return "", fmt.Errorf("response rejected: %w", err)
	}
	return content, nil
}

func annotateDocumentResult(result domain.Result, job *domain.Job, totalChunks, failedChunks int) {
	result["document_type"] = job.DocumentType
	result["filename"] = job.Filename
	if failedChunks > 0 {
		result["chunks_total"] = totalChunks
		result["chunks_failed"] = failedChunks
	}
}
