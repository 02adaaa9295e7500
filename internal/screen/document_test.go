package screen_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/verifyd/screening-worker/internal/domain"
	"github.com/verifyd/screening-worker/internal/logger"
	"github.com/verifyd/screening-worker/internal/model"
	"github.com/verifyd/screening-worker/internal/screen"
)

func newDocumentProcessor(client model.Client, resolver *fakeResolver, chunkSize int) *screen.DocumentProcessor {
	return screen.NewDocumentProcessor(
		newTestCaller(client),
		resolver,
		disabledSanitizer(),
		screen.NewChunkScheduler(2, logger.NewNop()),
		screen.DocumentProcessorConfig{ChunkSize: chunkSize, ModelName: "doc-screening"},
		logger.NewNop(),
		testTel,
	)
}

func documentJob(files int) *domain.Job {
	urls := make([]string, files)
	for i := range urls {
		urls[i] = "https://example.com/scan.png"
	}
	return &domain.Job{
		ID:           "doc-job",
		Type:         domain.JobTypeDocument,
		DocumentType: domain.DocTypeKTP,
		FileURLs:     urls,
		Filename:     "scan.png",
	}
}

func TestDocumentProcessor_MergesChunkResults(t *testing.T) {
	client := &fakeModelClient{responses: []fakeCall{
		{content: "```json\n{\"status\": \"Good\", \"validation_reason\": \"legible\"}\n```"},
	}}
	p := newDocumentProcessor(client, &fakeResolver{}, 2)

	result, err := p.Process(context.Background(), documentJob(4))
	require.NoError(t, err)

	assert.Equal(t, "Good", result["status"])
	assert.Equal(t, domain.DocTypeKTP, result["document_type"])
	assert.Equal(t, "scan.png", result["filename"])
	// 4 files at chunk size 2 means 2 model calls
	assert.Equal(t, 2, client.callCount())
}

func TestDocumentProcessor_AllChunksFailedYieldsFallback(t *testing.T) {
	client := &fakeModelClient{responses: []fakeCall{
		{err: &model.CallError{Kind: model.KindClient, StatusCode: 400, Message: "bad request"}},
	}}
	p := newDocumentProcessor(client, &fakeResolver{}, 2)

	result, err := p.Process(context.Background(), documentJob(4))
	require.NoError(t, err)

	assert.Equal(t, "Bad", result["status"])
	assert.Contains(t, result["validation_reason"], "could not be processed")
	assert.Equal(t, 2, result["chunks_total"])
	assert.Equal(t, 2, result["chunks_failed"])
}

func TestDocumentProcessor_PartialChunkFailureStillMerges(t *testing.T) {
	client := &fakeModelClient{responses: []fakeCall{
		{err: &model.CallError{Kind: model.KindClient, StatusCode: 400, Message: "bad request"}},
		{content: "```json\n{\"status\": \"Good\"}\n```"},
	}}
	p := newDocumentProcessor(client, &fakeResolver{}, 1)

	result, err := p.Process(context.Background(), documentJob(2))
	require.NoError(t, err)

	assert.Equal(t, "Good", result["status"])
	assert.Equal(t, 1, result["chunks_failed"])
}

func TestDocumentProcessor_SourceResolutionFailureIsFatal(t *testing.T) {
	client := &fakeModelClient{responses: []fakeCall{{content: "unused"}}}
	p := newDocumentProcessor(client, &fakeResolver{err: errors.New("object not found")}, 2)

	_, err := p.Process(context.Background(), documentJob(1))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "object not found")
	assert.Zero(t, client.callCount())
}
