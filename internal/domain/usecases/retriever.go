// Package usecases - retriever.go turns a question into ranked, threshold-filtered contexts.
package usecases

import (
	"context"
	"fmt"
	"sort"

	"github.com/askpdf/askpdf-go/internal/domain/entities"
	"github.com/askpdf/askpdf-go/internal/domain/ports"
)

// Retriever obtains the question's embedding, queries the vector index,
// and normalizes heterogeneous similarity/distance outputs into one
// bounded relevance score.
type Retriever struct {
	embedder ports.EmbeddingService
	index    ports.VectorIndex
}

// NewRetriever creates a Retriever with injected dependencies.
func NewRetriever(embedder ports.EmbeddingService, index ports.VectorIndex) *Retriever {
	return &Retriever{embedder: embedder, index: index}
}

// Retrieve returns up to topK chunks whose normalized relevance clears
// scoreThreshold, sorted descending by relevance (stable, so ties keep
// the index's original order). An empty result is not an error; failures
// of the embedding or index collaborators are wrapped with
// ports.ErrRetrievalUnavailable and never retried here.
func (r *Retriever) Retrieve(ctx context.Context, question string, topK int, scoreThreshold float64) ([]entities.ContextChunk, error) {
	if topK <= 0 {
		topK = 5
	}

	vector, err := r.embedder.Embed(ctx, question)
	if err != nil {
		return nil, fmt.Errorf("%w: embedding question: %v", ports.ErrRetrievalUnavailable, err)
	}

	hits, err := r.index.Query(ctx, vector, topK)
	if err != nil {
		return nil, fmt.Errorf("%w: querying index: %v", ports.ErrRetrievalUnavailable, err)
	}

	metric := r.index.Metric()
	chunks := make([]entities.ContextChunk, 0, len(hits))
	for _, hit := range hits {
		score := entities.NormalizeScore(metric, hit.Score)
		if score < scoreThreshold {
			continue
		}
		chunks = append(chunks, entities.ContextChunk{
			Content: hit.Content,
			Metadata: entities.ChunkMetadata{
				SourceFile: hit.SourceFile,
				Page:       hit.Page,
			},
			RelevanceScore: score,
		})
	}

	sort.SliceStable(chunks, func(i, j int) bool {
		return chunks[i].RelevanceScore > chunks[j].RelevanceScore
	})

	return chunks, nil
}
