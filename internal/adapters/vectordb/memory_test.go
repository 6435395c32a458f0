package vectordb

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/askpdf/askpdf-go/internal/domain/entities"
)

func testChunks() []IndexedChunk {
	return []IndexedChunk{
		{Content: "alpha", SourceFile: "a.pdf", Page: "1", Embedding: []float32{1, 0, 0}},
		{Content: "beta", SourceFile: "b.pdf", Page: "2", Embedding: []float32{0, 1, 0}},
		{Content: "gamma", SourceFile: "c.pdf", Page: "3", Embedding: []float32{0.6, 0.8, 0}},
	}
}

func TestInMemoryIndex_QueryRanksByCosine(t *testing.T) {
	idx := NewInMemoryIndex()
	require.NoError(t, idx.Add(context.Background(), testChunks()))

	hits, err := idx.Query(context.Background(), []float32{1, 0, 0}, 3)

	require.NoError(t, err)
	require.Len(t, hits, 3)
	assert.Equal(t, "alpha", hits[0].Content)
	assert.InDelta(t, 1.0, hits[0].Score, 1e-6)
	assert.Equal(t, "gamma", hits[1].Content)
	assert.InDelta(t, 0.6, hits[1].Score, 1e-6)
	assert.Equal(t, "beta", hits[2].Content)
	assert.InDelta(t, 0.0, hits[2].Score, 1e-6)
	assert.Equal(t, "a.pdf", hits[0].SourceFile)
	assert.Equal(t, "1", hits[0].Page)
}

func TestInMemoryIndex_QueryTruncatesToK(t *testing.T) {
	idx := NewInMemoryIndex()
	require.NoError(t, idx.Add(context.Background(), testChunks()))

	hits, err := idx.Query(context.Background(), []float32{1, 0, 0}, 2)

	require.NoError(t, err)
	require.Len(t, hits, 2)
	assert.Equal(t, "alpha", hits[0].Content)
	assert.Equal(t, "gamma", hits[1].Content)
}

func TestInMemoryIndex_EmptyIndex(t *testing.T) {
	idx := NewInMemoryIndex()

	hits, err := idx.Query(context.Background(), []float32{1, 0, 0}, 5)

	require.NoError(t, err)
	assert.Empty(t, hits)
}

func TestInMemoryIndex_Count(t *testing.T) {
	idx := NewInMemoryIndex()

	n, err := idx.Count(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	require.NoError(t, idx.Add(context.Background(), testChunks()))

	n, err = idx.Count(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, n)
}

func TestInMemoryIndex_Metric(t *testing.T) {
	assert.Equal(t, entities.MetricSimilarity, NewInMemoryIndex().Metric())
}

func TestCosineSimilarity(t *testing.T) {
	assert.InDelta(t, 1.0, cosineSimilarity([]float32{1, 2}, []float32{2, 4}), 1e-6)
	assert.InDelta(t, 0.0, cosineSimilarity([]float32{1, 0}, []float32{0, 1}), 1e-6)
	assert.InDelta(t, -1.0, cosineSimilarity([]float32{1, 0}, []float32{-1, 0}), 1e-6)
	assert.Equal(t, 0.0, cosineSimilarity([]float32{1, 0}, []float32{1}), "mismatched lengths")
	assert.Equal(t, 0.0, cosineSimilarity([]float32{0, 0}, []float32{1, 1}), "zero vector")
}
