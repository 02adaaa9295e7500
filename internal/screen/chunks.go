package screen

import (
	"context"
	"sync"

	"github.com/verifyd/screening-worker/internal/logger"
)

const defaultMaxConcurrentChunks = 8

// ContentUnit is one opaque piece of document content, carried as a data
// URL ready for a multimodal model message.
type ContentUnit struct {
	DataURL string
	Label   string
}

// Chunk is a contiguous slice of a job's content units. Index is 1-based.
type Chunk struct {
	Index int
	Total int
	Units []ContentUnit
}

// ChunkOutcome is the result of processing a single chunk.
type ChunkOutcome struct {
	Index   int
	Payload string
	Err     error
}

// ChunkFunc processes one chunk into a raw model payload.
type ChunkFunc func(ctx context.Context, chunk Chunk) (string, error)

// ChunkScheduler fans chunks out over a bounded worker pool and collects
// outcomes in completion order. Individual chunk failures do not abort the
// batch; the caller decides what a fully-failed batch means.
type ChunkScheduler struct {
	maxConcurrent int
	logger        logger.Logger
}

// NewChunkScheduler creates a scheduler with the given chunk concurrency.
func NewChunkScheduler(maxConcurrent int, log logger.Logger) *ChunkScheduler {
	if maxConcurrent <= 0 {
		maxConcurrent = defaultMaxConcurrentChunks
	}
	return &ChunkScheduler{
		maxConcurrent: maxConcurrent,
		logger:        log,
	}
}

// Run processes all chunks and returns their outcomes in completion order.
func (s *ChunkScheduler) Run(ctx context.Context, chunks []Chunk, fn ChunkFunc) []ChunkOutcome {
	if len(chunks) == 0 {
		return nil
	}

	jobs := make(chan Chunk, len(chunks))
	results := make(chan ChunkOutcome, len(chunks))

	workers := s.maxConcurrent
	if workers > len(chunks) {
		workers = len(chunks)
	}

	var wg sync.WaitGroup
	for range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for chunk := range jobs {
				select {
				case <-ctx.Done():
					results <- ChunkOutcome{Index: chunk.Index, Err: ctx.Err()}
					continue
				default:
				}

				payload, err := fn(ctx, chunk)
				if err != nil {
					s.logger.Warn("chunk processing failed",
						logger.Int("chunk", chunk.Index),
						logger.Int("total", chunk.Total),
						logger.Error(err))
				}
				results <- ChunkOutcome{Index: chunk.Index, Payload: payload, Err: err}
			}
		}()
	}

	for _, chunk := range chunks {
		jobs <- chunk
	}
	close(jobs)

	go func() {
		wg.Wait()
		close(results)
	}()

	outcomes := make([]ChunkOutcome, 0, len(chunks))
	for outcome := range results {
		outcomes = append(outcomes, outcome)
	}
	return outcomes
}

// BuildChunks splits content units into chunks of at most size units.
func BuildChunks(units []ContentUnit, size int) []Chunk {
	if size <= 0 {
		size = 1
	}
	if len(units) == 0 {
		return nil
	}

	total := (len(units) + size - 1) / size
	chunks := make([]Chunk, 0, total)
	for i := 0; i < len(units); i += size {
		end := i + size
		if end > len(units) {
			end = len(units)
		}
		chunks = append(chunks, Chunk{
			Index: len(chunks) + 1,
			Total: total,
			Units: units[i:end],
		})
	}
	return chunks
}
