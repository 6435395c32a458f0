// Package vectordb provides vector index adapters.
// Clean Architecture: Adapters implementing ports.VectorIndex. The index
// is consumed as a black box; each adapter reports its native metric and
// the retriever normalizes.
package vectordb

import (
	"context"
	"math"
	"sort"
	"sync"

	"github.com/askpdf/askpdf-go/internal/domain/entities"
	"github.com/askpdf/askpdf-go/internal/domain/ports"
)

// IndexedChunk is an embedded passage loaded into an index.
type IndexedChunk struct {
	Content    string
	SourceFile string
	Page       string
	Embedding  []float32
}

// InMemoryIndex is a brute-force cosine index. Useful for tests and
// small corpora; swap in the SQLite or Qdrant adapter without changing
// usecases.
type InMemoryIndex struct {
	mu     sync.RWMutex
	chunks []IndexedChunk
}

// NewInMemoryIndex creates an empty in-memory index.
func NewInMemoryIndex() *InMemoryIndex {
	return &InMemoryIndex{}
}

// Add loads embedded chunks into the index.
func (s *InMemoryIndex) Add(ctx context.Context, chunks []IndexedChunk) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.chunks = append(s.chunks, chunks...)
	return nil
}

// Query returns up to k entries nearest to the vector, with native
// cosine similarity scores.
func (s *InMemoryIndex) Query(ctx context.Context, vector []float32, k int) ([]ports.IndexHit, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	hits := make([]ports.IndexHit, 0, len(s.chunks))
	for _, chunk := range s.chunks {
		hits = append(hits, ports.IndexHit{
			Content:    chunk.Content,
			SourceFile: chunk.SourceFile,
			Page:       chunk.Page,
			Score:      cosineSimilarity(vector, chunk.Embedding),
		})
	}

	sort.SliceStable(hits, func(i, j int) bool {
		return hits[i].Score > hits[j].Score
	})

	if len(hits) > k {
		hits = hits[:k]
	}
	return hits, nil
}

// Count returns the number of indexed entries.
func (s *InMemoryIndex) Count(ctx context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.chunks), nil
}

// Metric reports that scores are cosine similarities.
func (s *InMemoryIndex) Metric() entities.MetricKind {
	return entities.MetricSimilarity
}

// cosineSimilarity calculates cosine similarity between two vectors.
func cosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}

	var dotProduct, normA, normB float64
	for i := range a {
		dotProduct += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}

	if normA == 0 || normB == 0 {
		return 0
	}

	return dotProduct / (math.Sqrt(normA) * math.Sqrt(normB))
}
