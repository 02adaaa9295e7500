package screen_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/verifyd/screening-worker/internal/domain"
	"github.com/verifyd/screening-worker/internal/logger"
	"github.com/verifyd/screening-worker/internal/model"
	"github.com/verifyd/screening-worker/internal/screen"
)

func newTextProcessor(client model.Client) *screen.TextAnalysisProcessor {
	return screen.NewTextAnalysisProcessor(
		newTestCaller(client), disabledSanitizer(), logger.NewNop(), testTel)
}

func analysisJob(analysisType, entityType string) *domain.Job {
	return &domain.Job{
		ID:           "ta-job",
		Type:         domain.JobTypeTextAnalysis,
		AnalysisType: analysisType,
		EntityType:   entityType,
		Name:         "Jane Example",
	}
}

func TestTextAnalysisProcessor_FormatsFindings(t *testing.T) {
	client := &fakeModelClient{responses: []fakeCall{
		{content: "```json\n{\"status\": \"Bad\", \"summary\": \"two adverse articles\", \"confidence\": 0.8}\n```"},
	}}
	p := newTextProcessor(client)

	result, err := p.Process(context.Background(), analysisJob("negative-news", domain.EntityIndividual))
	require.NoError(t, err)

	assert.Equal(t, "negative-news", result["analysis_type"])
	assert.Equal(t, "Jane Example", result["name"])
	assert.Equal(t, "negative-news", result["model"])
	assert.Equal(t, 0.8, result["confidence"])

	findings, ok := result["findings"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "Bad", findings["status"])
	assert.Equal(t, "two adverse articles", findings["summary"])
}

func TestTextAnalysisProcessor_ModelNameOverride(t *testing.T) {
	client := &fakeModelClient{responses: []fakeCall{
		{content: "```json\n{\"status\": \"Good\"}\n```"},
	}}
	p := newTextProcessor(client)

	job := analysisJob("pep-analysis", domain.EntityIndividual)
	job.ModelName = "pep-analysis-v2"

	result, err := p.Process(context.Background(), job)
	require.NoError(t, err)
	assert.Equal(t, "pep-analysis-v2", result["model"])
}

func TestTextAnalysisProcessor_UnknownAnalysisType(t *testing.T) {
	client := &fakeModelClient{responses: []fakeCall{{content: "unused"}}}
	p := newTextProcessor(client)

	_, err := p.Process(context.Background(), analysisJob("sentiment", domain.EntityIndividual))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown analysis_type")
	assert.Zero(t, client.callCount())
}

func TestTextAnalysisProcessor_EntityTypeMismatch(t *testing.T) {
	client := &fakeModelClient{responses: []fakeCall{{content: "unused"}}}
	p := newTextProcessor(client)

	_, err := p.Process(context.Background(), analysisJob("corporate-negative-news", domain.EntityIndividual))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "entity_type")
	assert.Zero(t, client.callCount())
}

func TestTextAnalysisProcessor_UnparseableOutputPreserved(t *testing.T) {
	client := &fakeModelClient{responses: []fakeCall{
		{content: "I found nothing noteworthy about this person."},
	}}
	p := newTextProcessor(client)

	result, err := p.Process(context.Background(), analysisJob("law-involvement", domain.EntityIndividual))
	require.NoError(t, err)

	findings, ok := result["findings"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "Bad", findings["status"])
	assert.Contains(t, findings["raw_response"], "nothing noteworthy")
}
