package screen

import (
	"context"
	"fmt"
	"time"

	"github.com/verifyd/screening-worker/internal/armor"
	"github.com/verifyd/screening-worker/internal/domain"
	"github.com/verifyd/screening-worker/internal/logger"
	"github.com/verifyd/screening-worker/internal/model"
	"github.com/verifyd/screening-worker/internal/telemetry"
)

// analysisSpec binds an analysis type to its model and entity type.
type analysisSpec struct {
	Model      string
	EntityType string
}

// analysisModels routes each analysis type to a dedicated screening model.
var analysisModels = map[string]analysisSpec{
	"pep-analysis":              {Model: "pep-analysis", EntityType: domain.EntityIndividual},
	"negative-news":             {Model: "negative-news", EntityType: domain.EntityIndividual},
	"law-involvement":           {Model: "law-involvement", EntityType: domain.EntityIndividual},
	"corporate-negative-news":   {Model: "corporate-negative-news", EntityType: domain.EntityCorporate},
	"corporate-law-involvement": {Model: "corporate-law-involvement", EntityType: domain.EntityCorporate},
}

// TextAnalysisProcessor screens names and free text: PEP status, negative
// news, and law involvement lookups for individuals and companies.
type TextAnalysisProcessor struct {
	caller    *model.Caller
	sanitizer *armor.Client
	logger    logger.Logger
	telemetry *telemetry.Provider
}

// NewTextAnalysisProcessor creates a text analysis processor.
func NewTextAnalysisProcessor(
	caller *model.Caller,
	sanitizer *armor.Client,
	log logger.Logger,
	tel *telemetry.Provider,
) *TextAnalysisProcessor {
	return &TextAnalysisProcessor{
		caller:    caller,
		sanitizer: sanitizer,
		logger:    log,
		telemetry: tel,
	}
}

// Process runs a single text analysis job. Unknown analysis types and
// entity type mismatches are fatal for the job.
func (p *TextAnalysisProcessor) Process(ctx context.Context, job *domain.Job) (domain.Result, error) {
	spec, ok := analysisModels[job.AnalysisType]
	if !ok {
		return nil, fmt.Errorf("unknown analysis_type %q", job.AnalysisType)
	}
	if job.EntityType != spec.EntityType {
		return nil, fmt.Errorf("analysis_type %q requires entity_type %q, got %q",
			job.AnalysisType, spec.EntityType, job.EntityType)
	}

	prompt := analysisPrompt(job)
	prompt, err := p.sanitizer.SanitizePrompt(ctx, prompt)
	if err != nil {
		return nil, fmt.Errorf("prompt rejected: %w", err)
	}

	modelName := job.ModelName
	if modelName == "" {
		modelName = spec.Model
	}

	p.logger.Info("processing text analysis job",
		logger.String("job_id", job.ID),
		logger.String("analysis_type", job.AnalysisType),
		logger.String("model", modelName))

	start := time.Now()
	resp, err := p.caller.Call(ctx, &model.Request{
		Model:    modelName,
		Messages: []model.ChatMessage{model.TextMessage("user", prompt)},
	})
	if err != nil {
		p.telemetry.RecordModelCall(modelName, "error", time.Since(start))
		return nil, err
	}
	p.telemetry.RecordModelCall(modelName, "success", resp.ResponseTime)

	content, err := p.sanitizer.SanitizeResponse(ctx, resp.Content)
	if err != nil {
		return nil, fmt.Errorf("response rejected: %w", err)
	}

	return formatFindings(job, modelName, content, resp), nil
}

// formatFindings normalizes model output into the analysis result shape.
// Unextractable output is preserved verbatim so reviewers can still see it.
func formatFindings(job *domain.Job, modelName, content string, resp *model.Response) domain.Result {
	result := domain.Result{
		"analysis_type": job.AnalysisType,
		"entity_type":   job.EntityType,
		"name":          job.Name,
		"model":         modelName,
	}

	findings, ok := ExtractJSON(content)
	if !ok {
		findings = domain.Result{
			statusField:    statusBad,
			"summary":      "analysis output could not be parsed",
			"raw_response": content,
		}
	}
	result["findings"] = map[string]any(findings)

	if confidence, found := extractConfidence(findings); found {
		result["confidence"] = confidence
	}
	if len(resp.Sources) > 0 {
		result["sources"] = resp.Sources
	}
	result["response_time_ms"] = resp.ResponseTime.Milliseconds()
	result["usage"] = map[string]any{
		"prompt_tokens":     resp.Usage.PromptTokens,
		"completion_tokens": resp.Usage.CompletionTokens,
		"total_tokens":      resp.Usage.TotalTokens,
	}

	return result
}

// extractConfidence pulls a numeric confidence from findings, tolerating
// the few shapes models actually emit.
func extractConfidence(findings domain.Result) (float64, bool) {
	switch v := findings["confidence"].(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	case string:
		var f float64
		if _, err := fmt.Sscanf(v, "%f", &f); err == nil {
			return f, true
		}
	}
	return 0, false
}

// AnalysisTypes returns the supported analysis type names.
func AnalysisTypes() []string {
	types := make([]string, 0, len(analysisModels))
	for t := range analysisModels {
		types = append(types, t)
	}
	return types
}
