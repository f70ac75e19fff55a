// Package index provides the in-memory nearest-neighbour index used for
// document retrieval.
package index

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/xhad/askdoc/internal/types"
)

// Flat is an exact inner-product index over a fixed set of rows. Searches
// compare the query against every row, which is fast enough for the few
// thousand chunks of a single document.
type Flat struct {
	mu      sync.RWMutex
	dim     int
	vectors [][]float32
}

var _ types.VectorIndex = (*Flat)(nil)

// Build creates an index holding vectors in order.
func Build(vectors [][]float32) (*Flat, error) {
	f := &Flat{}
	if err := f.Add(vectors); err != nil {
		return nil, err
	}
	return f, nil
}

// Add appends vectors, preserving their order. All vectors must share the
// dimension of the first one ever added.
func (f *Flat) Add(vectors [][]float32) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	dim := f.dim
	for i, v := range vectors {
		if len(v) == 0 {
			return fmt.Errorf("%w: index: empty vector at row %d", types.ErrInvalidArgument, len(f.vectors)+i)
		}
		if dim == 0 {
			dim = len(v)
		}
		if len(v) != dim {
			return fmt.Errorf("%w: index: vector dimension %d != %d at row %d",
				types.ErrInvalidArgument, len(v), dim, len(f.vectors)+i)
		}
	}

	f.dim = dim
	for _, v := range vectors {
		f.vectors = append(f.vectors, append([]float32(nil), v...))
	}
	return nil
}

// Len returns the number of rows.
func (f *Flat) Len() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.vectors)
}

// Dim returns the vector dimension, or 0 for an empty index.
func (f *Flat) Dim() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.dim
}

// Search returns the min(k, Len()) rows with the highest inner product with
// query, best first. Equal scores are ordered by row index.
func (f *Flat) Search(_ context.Context, query []float32, k int) ([]types.SearchResult, error) {
	if k <= 0 {
		return nil, fmt.Errorf("%w: index: k must be positive, got %d", types.ErrInvalidArgument, k)
	}

	f.mu.RLock()
	defer f.mu.RUnlock()

	if len(f.vectors) == 0 {
		return nil, nil
	}
	if len(query) != f.dim {
		return nil, fmt.Errorf("%w: index: query dimension %d != index dimension %d",
			types.ErrInvalidArgument, len(query), f.dim)
	}

	results := make([]types.SearchResult, len(f.vectors))
	for row, v := range f.vectors {
		results[row] = types.SearchResult{Row: row, Score: dot(query, v)}
	}
	sort.SliceStable(results, func(a, b int) bool {
		return results[a].Score > results[b].Score
	})

	if k > len(results) {
		k = len(results)
	}
	return results[:k], nil
}

func dot(a, b []float32) float32 {
	var s float64
	for i := range a {
		s += float64(a[i]) * float64(b[i])
	}
	return float32(s)
}

// MemoryBuilder builds Flat indexes. Indexes are garbage collected with the
// session that owns them, so Drop has nothing to do.
type MemoryBuilder struct{}

var _ types.IndexBuilder = MemoryBuilder{}

func (MemoryBuilder) Build(_ context.Context, _ string, vectors [][]float32) (types.VectorIndex, error) {
	return Build(vectors)
}

func (MemoryBuilder) Drop(context.Context, string) error { return nil }
