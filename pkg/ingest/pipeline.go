// Package ingest turns an extracted document into a searchable context.
package ingest

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"github.com/xhad/askdoc/internal/models"
	"github.com/xhad/askdoc/internal/types"
	"github.com/xhad/askdoc/pkg/processor"
)

const DefaultMaxConcurrent = 2

type PipelineConfig struct {
	// MaxConcurrent bounds the number of ingestions running at once.
	MaxConcurrent int
}

// Pipeline chunks, embeds and indexes documents.
type Pipeline struct {
	config    PipelineConfig
	processor *processor.Processor
	embedder  types.Embedder
	builder   types.IndexBuilder
	sem       *semaphore.Weighted
}

func NewPipeline(proc *processor.Processor, embedder types.Embedder, builder types.IndexBuilder, config PipelineConfig) (*Pipeline, error) {
	if proc == nil || embedder == nil || builder == nil {
		return nil, fmt.Errorf("%w: pipeline needs a processor, an embedder and an index builder", types.ErrInvalidArgument)
	}
	if config.MaxConcurrent < 0 {
		return nil, fmt.Errorf("%w: max concurrent ingestions cannot be negative", types.ErrInvalidArgument)
	} else if config.MaxConcurrent == 0 {
		config.MaxConcurrent = DefaultMaxConcurrent
	}

	return &Pipeline{
		config:    config,
		processor: proc,
		embedder:  embedder,
		builder:   builder,
		sem:       semaphore.NewWeighted(int64(config.MaxConcurrent)),
	}, nil
}

// Ingest builds a DocumentContext for doc. Any failure aborts the whole
// ingestion; no partial context is ever returned.
func (p *Pipeline) Ingest(ctx context.Context, doc models.Document) (*types.DocumentContext, error) {
	if err := p.sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	defer p.sem.Release(1)

	id := uuid.NewString()
	sourceID := doc.Name
	if sourceID == "" {
		sourceID = doc.ID
	}

	chunks := p.processor.Split(doc.Content, sourceID)

	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Text
	}
	vectors, err := p.embedder.EmbedDocuments(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("failed to embed %q: %w", doc.Name, err)
	}
	if len(vectors) != len(chunks) {
		return nil, fmt.Errorf("failed to embed %q: %w: %d vectors for %d chunks",
			doc.Name, types.ErrEmbeddingFailure, len(vectors), len(chunks))
	}

	idx, err := p.builder.Build(ctx, id, vectors)
	if err != nil {
		return nil, fmt.Errorf("failed to build index for %q: %w", doc.Name, err)
	}
	if idx.Len() != len(chunks) {
		_ = p.builder.Drop(ctx, id)
		return nil, fmt.Errorf("failed to build index for %q: %d rows for %d chunks", doc.Name, idx.Len(), len(chunks))
	}

	return &types.DocumentContext{
		ID:        id,
		Name:      doc.Name,
		Chunks:    chunks,
		Embedder:  p.embedder,
		Index:     idx,
		CreatedAt: time.Now(),
	}, nil
}

// Result is the outcome of an asynchronous ingestion.
type Result struct {
	Context *types.DocumentContext
	Err     error
}

// IngestAsync runs Ingest on its own goroutine. The returned channel
// receives exactly one Result and is then closed.
func (p *Pipeline) IngestAsync(ctx context.Context, doc models.Document) <-chan Result {
	out := make(chan Result, 1)
	go func() {
		defer close(out)
		docCtx, err := p.Ingest(ctx, doc)
		out <- Result{Context: docCtx, Err: err}
	}()
	return out
}

// Release drops the index backing docCtx.
func (p *Pipeline) Release(ctx context.Context, docCtx *types.DocumentContext) error {
	if docCtx == nil {
		return nil
	}
	if err := p.builder.Drop(ctx, docCtx.ID); err != nil {
		return fmt.Errorf("failed to drop index %s: %w", docCtx.ID, err)
	}
	return nil
}
