package types

import (
	"context"
	"time"

	"github.com/xhad/askdoc/internal/models"
)

// Embedder maps text to dense vectors. It has the same method set as the
// langchaingo embeddings.Embedder, so those implementations fit directly.
type Embedder interface {
	EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error)
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
}

// SearchResult is one ranked hit of a vector index.
type SearchResult struct {
	Row   int
	Score float32
}

// VectorIndex is a read-only nearest-neighbour index. Row i of the index
// corresponds to chunk i of the document it was built from.
type VectorIndex interface {
	Search(ctx context.Context, query []float32, k int) ([]SearchResult, error)
	Len() int
}

// IndexBuilder builds one VectorIndex per document context.
type IndexBuilder interface {
	Build(ctx context.Context, collection string, vectors [][]float32) (VectorIndex, error)
	Drop(ctx context.Context, collection string) error
}

// DocumentContext is everything a query needs to answer questions about one
// uploaded document. It is created once and never mutated.
type DocumentContext struct {
	ID        string
	Name      string
	Chunks    []models.Chunk
	Embedder  Embedder
	Index     VectorIndex
	CreatedAt time.Time
}
