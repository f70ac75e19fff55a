package ingest_test

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xhad/askdoc/internal/models"
	"github.com/xhad/askdoc/internal/types"
	"github.com/xhad/askdoc/pkg/index"
	"github.com/xhad/askdoc/pkg/ingest"
	"github.com/xhad/askdoc/pkg/llm"
	"github.com/xhad/askdoc/pkg/processor"
)

type failingEmbedder struct {
	*llm.HashEmbedder
}

func (failingEmbedder) EmbedDocuments(context.Context, []string) ([][]float32, error) {
	return nil, types.ErrEmbeddingFailure
}

type shortEmbedder struct {
	*llm.HashEmbedder
}

func (e shortEmbedder) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	v, err := e.HashEmbedder.EmbedDocuments(ctx, texts)
	if err != nil || len(v) == 0 {
		return v, err
	}
	return v[:len(v)-1], nil
}

// slowEmbedder tracks how many EmbedDocuments calls overlap.
type slowEmbedder struct {
	*llm.HashEmbedder
	active, peak int32
}

func (e *slowEmbedder) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	n := atomic.AddInt32(&e.active, 1)
	for {
		p := atomic.LoadInt32(&e.peak)
		if n <= p || atomic.CompareAndSwapInt32(&e.peak, p, n) {
			break
		}
	}
	time.Sleep(5 * time.Millisecond)
	atomic.AddInt32(&e.active, -1)
	return e.HashEmbedder.EmbedDocuments(ctx, texts)
}

type droppingBuilder struct {
	index.MemoryBuilder
	mu      sync.Mutex
	dropped []string
	err     error
}

func (b *droppingBuilder) Build(ctx context.Context, collection string, vectors [][]float32) (types.VectorIndex, error) {
	if b.err != nil {
		return nil, b.err
	}
	return b.MemoryBuilder.Build(ctx, collection, vectors)
}

func (b *droppingBuilder) Drop(_ context.Context, collection string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.dropped = append(b.dropped, collection)
	return nil
}

func newProcessor(t *testing.T) *processor.Processor {
	t.Helper()
	p, err := processor.NewWithConfig(processor.ProcessorConfig{ChunkSize: 80, ChunkOverlap: 10})
	require.NoError(t, err)
	return p
}

func sampleDocument() models.Document {
	return models.Document{
		ID:   "1",
		Name: "guide.md",
		Content: "# Guide\n" + strings.Repeat("Vector search ranks passages by inner product. ", 6) +
			"\n## Tools\nThe model can add and divide numbers.\n",
	}
}

func TestIngest(t *testing.T) {
	emb := llm.NewHashEmbedder(256)
	p, err := ingest.NewPipeline(newProcessor(t), emb, index.MemoryBuilder{}, ingest.PipelineConfig{})
	require.NoError(t, err)

	docCtx, err := p.Ingest(context.Background(), sampleDocument())
	require.NoError(t, err)

	assert.NotEmpty(t, docCtx.ID)
	assert.Equal(t, "guide.md", docCtx.Name)
	assert.Greater(t, len(docCtx.Chunks), 2)
	assert.Equal(t, len(docCtx.Chunks), docCtx.Index.Len())
	for _, c := range docCtx.Chunks {
		assert.Equal(t, "guide.md", c.SourceID)
	}

	q, err := emb.EmbedQuery(context.Background(), "The model can add and divide numbers.")
	require.NoError(t, err)
	results, err := docCtx.Index.Search(context.Background(), q, 1)
	require.NoError(t, err)
	assert.Contains(t, docCtx.Chunks[results[0].Row].Text, "divide numbers")
	assert.Equal(t, "Tools", docCtx.Chunks[results[0].Row].Metadata["Header 2"])
}

func TestIngest_EmptyDocument(t *testing.T) {
	p, err := ingest.NewPipeline(newProcessor(t), llm.NewHashEmbedder(16), index.MemoryBuilder{}, ingest.PipelineConfig{})
	require.NoError(t, err)

	docCtx, err := p.Ingest(context.Background(), models.Document{Name: "blank.txt", Content: "  \n "})
	require.NoError(t, err)
	assert.Empty(t, docCtx.Chunks)
	assert.Equal(t, 0, docCtx.Index.Len())
}

func TestIngest_Failures(t *testing.T) {
	proc := newProcessor(t)

	t.Run("embedding", func(t *testing.T) {
		p, err := ingest.NewPipeline(proc, failingEmbedder{llm.NewHashEmbedder(16)}, index.MemoryBuilder{}, ingest.PipelineConfig{})
		require.NoError(t, err)
		docCtx, err := p.Ingest(context.Background(), sampleDocument())
		assert.ErrorIs(t, err, types.ErrEmbeddingFailure)
		assert.Nil(t, docCtx)
	})

	t.Run("vector count", func(t *testing.T) {
		p, err := ingest.NewPipeline(proc, shortEmbedder{llm.NewHashEmbedder(16)}, index.MemoryBuilder{}, ingest.PipelineConfig{})
		require.NoError(t, err)
		docCtx, err := p.Ingest(context.Background(), sampleDocument())
		assert.ErrorIs(t, err, types.ErrEmbeddingFailure)
		assert.Nil(t, docCtx)
	})

	t.Run("index build", func(t *testing.T) {
		builder := &droppingBuilder{err: errors.New("disk full")}
		p, err := ingest.NewPipeline(proc, llm.NewHashEmbedder(16), builder, ingest.PipelineConfig{})
		require.NoError(t, err)
		docCtx, err := p.Ingest(context.Background(), sampleDocument())
		assert.ErrorContains(t, err, "disk full")
		assert.Nil(t, docCtx)
	})

	t.Run("cancelled", func(t *testing.T) {
		p, err := ingest.NewPipeline(proc, llm.NewHashEmbedder(16), index.MemoryBuilder{}, ingest.PipelineConfig{})
		require.NoError(t, err)
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		_, err = p.Ingest(ctx, sampleDocument())
		assert.ErrorIs(t, err, context.Canceled)
	})
}

func TestNewPipeline_Invalid(t *testing.T) {
	_, err := ingest.NewPipeline(nil, llm.NewHashEmbedder(8), index.MemoryBuilder{}, ingest.PipelineConfig{})
	assert.ErrorIs(t, err, types.ErrInvalidArgument)

	_, err = ingest.NewPipeline(newProcessor(t), llm.NewHashEmbedder(8), index.MemoryBuilder{}, ingest.PipelineConfig{MaxConcurrent: -1})
	assert.ErrorIs(t, err, types.ErrInvalidArgument)
}

func TestIngestAsync(t *testing.T) {
	p, err := ingest.NewPipeline(newProcessor(t), llm.NewHashEmbedder(32), index.MemoryBuilder{}, ingest.PipelineConfig{})
	require.NoError(t, err)

	res, ok := <-p.IngestAsync(context.Background(), sampleDocument())
	require.True(t, ok)
	require.NoError(t, res.Err)
	assert.Equal(t, len(res.Context.Chunks), res.Context.Index.Len())
}

func TestIngest_ConcurrencyBound(t *testing.T) {
	emb := &slowEmbedder{HashEmbedder: llm.NewHashEmbedder(16)}
	p, err := ingest.NewPipeline(newProcessor(t), emb, index.MemoryBuilder{}, ingest.PipelineConfig{MaxConcurrent: 2})
	require.NoError(t, err)

	var results []<-chan ingest.Result
	for i := 0; i < 6; i++ {
		results = append(results, p.IngestAsync(context.Background(), sampleDocument()))
	}
	for _, ch := range results {
		res := <-ch
		require.NoError(t, res.Err)
	}
	assert.LessOrEqual(t, atomic.LoadInt32(&emb.peak), int32(2))
}

func TestRelease(t *testing.T) {
	builder := &droppingBuilder{}
	p, err := ingest.NewPipeline(newProcessor(t), llm.NewHashEmbedder(16), builder, ingest.PipelineConfig{})
	require.NoError(t, err)

	docCtx, err := p.Ingest(context.Background(), sampleDocument())
	require.NoError(t, err)
	require.NoError(t, p.Release(context.Background(), docCtx))
	assert.Equal(t, []string{docCtx.ID}, builder.dropped)
	assert.NoError(t, p.Release(context.Background(), nil))
}
