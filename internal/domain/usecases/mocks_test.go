package usecases

import (
	"context"
	"errors"
	"sync"

	"github.com/askpdf/askpdf-go/internal/domain/entities"
	"github.com/askpdf/askpdf-go/internal/domain/ports"
)

// mockEmbedder implements ports.EmbeddingService for testing.
type mockEmbedder struct {
	mu    sync.Mutex
	calls int
	err   error
}

func (m *mockEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	m.mu.Lock()
	m.calls++
	m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	return []float32{0.1, 0.2, 0.3}, nil
}

// mockIndex implements ports.VectorIndex for testing.
type mockIndex struct {
	hits   []ports.IndexHit
	metric entities.MetricKind
	err    error

	mu    sync.Mutex
	calls int
	lastK int
}

func (m *mockIndex) Query(ctx context.Context, vector []float32, k int) ([]ports.IndexHit, error) {
	m.mu.Lock()
	m.calls++
	m.lastK = k
	m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	if len(m.hits) > k {
		return m.hits[:k], nil
	}
	return m.hits, nil
}

func (m *mockIndex) Count(ctx context.Context) (int, error) {
	return len(m.hits), nil
}

func (m *mockIndex) Metric() entities.MetricKind {
	return m.metric
}

// mockCompletion implements ports.CompletionService, recording the
// prompt and config of the last call.
type mockCompletion struct {
	answer string
	err    error

	mu         sync.Mutex
	calls      int
	lastPrompt string
	lastCfg    ports.GenerationConfig
}

func (m *mockCompletion) Complete(ctx context.Context, prompt string, cfg ports.GenerationConfig) (string, error) {
	m.mu.Lock()
	m.calls++
	m.lastPrompt = prompt
	m.lastCfg = cfg
	m.mu.Unlock()
	if m.err != nil {
		return "", m.err
	}
	if m.answer != "" {
		return m.answer, nil
	}
	return "mocked answer [1]", nil
}

var errBoom = errors.New("boom")

func f64(v float64) *float64 { return &v }

func f32(v float32) *float32 { return &v }

// threeHits is the standard scenario: native scores 0.9, 0.3, 0.6.
func threeHits() []ports.IndexHit {
	return []ports.IndexHit{
		{Content: "first passage", SourceFile: "a.pdf", Page: "1", Score: 0.9},
		{Content: "second passage", SourceFile: "b.pdf", Page: "2", Score: 0.3},
		{Content: "third passage", SourceFile: "c.pdf", Page: "3", Score: 0.6},
	}
}
