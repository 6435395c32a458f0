// Package embedding provides embedding service adapters.
// Clean Architecture: Adapters implementing ports.EmbeddingService.
package embedding

import (
	"context"
	"errors"
	"fmt"
	"math"
	"os"

	openai "github.com/sashabaranov/go-openai"
)

// OpenAIAdapter implements ports.EmbeddingService using the OpenAI
// embeddings API. Vectors are L2-normalized so cosine similarity in the
// index reduces to a dot product.
type OpenAIAdapter struct {
	client *openai.Client
	model  string
	dim    int
}

// NewOpenAIAdapter creates an OpenAI embedding adapter. The API key is
// read from OPENAI_API_KEY.
func NewOpenAIAdapter(model string) (*OpenAIAdapter, error) {
	key := os.Getenv("OPENAI_API_KEY")
	if key == "" {
		return nil, errors.New("OPENAI_API_KEY environment variable not set")
	}
	if model == "" {
		model = "text-embedding-3-small"
	}

	dim := 1536
	if model == "text-embedding-3-large" {
		dim = 3072
	}

	return &OpenAIAdapter{
		client: openai.NewClient(key),
		model:  model,
		dim:    dim,
	}, nil
}

// Embed generates an embedding for a single text.
func (a *OpenAIAdapter) Embed(ctx context.Context, text string) ([]float32, error) {
	if len(text) == 0 {
		return nil, errors.New("cannot embed empty text")
	}

	resp, err := a.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Model: openai.EmbeddingModel(a.model),
		Input: []string{text},
	})
	if err != nil {
		return nil, fmt.Errorf("calling OpenAI embeddings: %w", err)
	}
	if len(resp.Data) == 0 {
		return nil, errors.New("no embedding data returned from API")
	}

	v := make([]float32, len(resp.Data[0].Embedding))
	copy(v, resp.Data[0].Embedding)
	l2normalize(v)
	return v, nil
}

// Dimension returns the embedding dimension.
func (a *OpenAIAdapter) Dimension() int {
	return a.dim
}

// Model returns the embedding model name.
func (a *OpenAIAdapter) Model() string {
	return a.model
}

// l2normalize normalizes a vector to unit length.
func l2normalize(v []float32) {
	var sum float32
	for _, x := range v {
		sum += x * x
	}
	if sum == 0 {
		return
	}
	inv := float32(1.0 / math.Sqrt(float64(sum)))
	for i := range v {
		v[i] *= inv
	}
}
