package vectordb

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/askpdf/askpdf-go/internal/domain/entities"
	"github.com/askpdf/askpdf-go/internal/domain/ports"
)

// QdrantIndex is a minimal REST client implementing ports.VectorIndex
// against a Qdrant collection that was populated elsewhere. Payloads are
// expected to carry content, source_file, and page fields.
type QdrantIndex struct {
	url        string
	apiKey     string
	collection string
	metric     entities.MetricKind
	client     *http.Client
}

// QdrantConfig contains connection details for a Qdrant collection.
type QdrantConfig struct {
	URL        string
	APIKey     string
	Collection string
	Distance   string // collection distance: "Cosine" (default), "Dot", or "Euclid"
	Timeout    time.Duration
}

// NewQdrantIndex creates a Qdrant-backed vector index.
func NewQdrantIndex(cfg QdrantConfig) *QdrantIndex {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 15 * time.Second
	}
	// Cosine and Dot collections return similarities (higher-better);
	// Euclid returns distances (lower-better).
	metric := entities.MetricSimilarity
	if strings.EqualFold(cfg.Distance, "Euclid") {
		metric = entities.MetricDistance
	}
	return &QdrantIndex{
		url:        cfg.URL,
		apiKey:     cfg.APIKey,
		collection: cfg.Collection,
		metric:     metric,
		client:     &http.Client{Timeout: timeout},
	}
}

// Query searches the collection for the k nearest points.
func (q *QdrantIndex) Query(ctx context.Context, vector []float32, k int) ([]ports.IndexHit, error) {
	if k <= 0 {
		k = 5
	}
	req := map[string]any{
		"vector":       vector,
		"limit":        k,
		"with_payload": true,
	}
	var resp struct {
		Result []struct {
			Score   float64        `json:"score"`
			Payload map[string]any `json:"payload"`
		} `json:"result"`
	}
	url := fmt.Sprintf("%s/collections/%s/points/search", q.url, q.collection)
	if err := q.postJSON(ctx, url, req, &resp); err != nil {
		return nil, err
	}

	hits := make([]ports.IndexHit, 0, len(resp.Result))
	for _, r := range resp.Result {
		hit := ports.IndexHit{Score: r.Score}
		if v, ok := r.Payload["content"].(string); ok {
			hit.Content = v
		}
		if v, ok := r.Payload["source_file"].(string); ok {
			hit.SourceFile = v
		}
		switch v := r.Payload["page"].(type) {
		case string:
			hit.Page = v
		case float64:
			hit.Page = fmt.Sprintf("%d", int(v))
		}
		hits = append(hits, hit)
	}
	return hits, nil
}

// Count returns the number of points in the collection.
func (q *QdrantIndex) Count(ctx context.Context) (int, error) {
	var resp struct {
		Result struct {
			Count int `json:"count"`
		} `json:"result"`
	}
	url := fmt.Sprintf("%s/collections/%s/points/count", q.url, q.collection)
	if err := q.postJSON(ctx, url, map[string]any{"exact": true}, &resp); err != nil {
		return 0, err
	}
	return resp.Result.Count, nil
}

// Metric reports how the collection's native scores are ordered.
func (q *QdrantIndex) Metric() entities.MetricKind {
	return q.metric
}

func (q *QdrantIndex) postJSON(ctx context.Context, url string, body any, out any) error {
	data, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshaling request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if q.apiKey != "" {
		req.Header.Set("api-key", q.apiKey)
	}
	resp, err := q.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("qdrant POST %s failed: %s", url, resp.Status)
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}
