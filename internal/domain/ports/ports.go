// Package ports defines interfaces for external dependencies.
// Clean Architecture: These are the boundaries - usecases depend on these abstractions,
// not concrete implementations. Adapters implement these interfaces.
package ports

import (
	"context"
	"errors"

	"github.com/askpdf/askpdf-go/internal/domain/entities"
)

// Failure taxonomy. Adapters wrap their underlying errors with one of
// these sentinels so callers can branch with errors.Is.
var (
	// ErrRetrievalUnavailable marks embedding or index service failures.
	// Never converted into "zero contexts", which is a valid, different outcome.
	ErrRetrievalUnavailable = errors.New("retrieval unavailable")

	// ErrGenerationFailed marks completion service failures.
	ErrGenerationFailed = errors.New("answer generation failed")

	// ErrStoreUnavailable marks conversation store I/O failures.
	ErrStoreUnavailable = errors.New("conversation store unavailable")

	// ErrConfigNotFound marks a missing config snapshot - distinct from
	// an empty result set so callers can tell "no conversations yet"
	// from a misconfigured store name.
	ErrConfigNotFound = errors.New("config snapshot not found")
)

// EmbeddingService generates vector embeddings for text.
// Implementations must be deterministic for identical input.
type EmbeddingService interface {
	// Embed generates a vector embedding for the given text.
	Embed(ctx context.Context, text string) ([]float32, error)
}

// IndexHit is one nearest-neighbor entry returned by a vector index,
// carrying the index's native similarity or distance figure.
type IndexHit struct {
	Content    string
	SourceFile string
	Page       string
	Score      float64 // native figure; interpret via VectorIndex.Metric
}

// VectorIndex performs nearest-neighbor search over embedded chunks.
// Consumed as a black box; the retriever normalizes its native scores.
type VectorIndex interface {
	// Query returns up to k nearest entries for the given vector.
	Query(ctx context.Context, vector []float32, k int) ([]IndexHit, error)

	// Count returns the total number of indexed entries.
	Count(ctx context.Context) (int, error)

	// Metric says whether Score values are similarities or distances.
	Metric() entities.MetricKind
}

// GenerationConfig holds caller-adjustable completion parameters.
// Temperature is a pointer so an explicit 0 (fully greedy decoding)
// stays distinguishable from "not set"; nil falls back to defaults.
type GenerationConfig struct {
	Model       string
	Temperature *float32
	MaxTokens   int
}

// CompletionService generates text from a language model.
type CompletionService interface {
	// Complete renders the prompt into generated text.
	Complete(ctx context.Context, prompt string, cfg GenerationConfig) (string, error)
}

// ConversationStore durably persists conversation logs, namespaced by a
// store name. All read operations against a store that does not exist
// yet return empty results, except LoadConfig which returns
// ErrConfigNotFound.
type ConversationStore interface {
	// SaveConfig writes a point-in-time system identity snapshot.
	SaveConfig(name string, cfg entities.SystemConfig) error

	// LoadConfig reads back a snapshot; ErrConfigNotFound if absent.
	LoadConfig(name string) (entities.SystemConfig, error)

	// PersistConversations inserts one record per entry, each with its
	// source rows, in a single transaction per record. An empty
	// sessionID is replaced with a generated one.
	PersistConversations(ctx context.Context, name string, entries []entities.ConversationEntry, sessionID string) error

	// LoadRecent returns up to limit records, newest first, with sources attached.
	LoadRecent(ctx context.Context, name string, limit int) ([]entities.ConversationRecord, error)

	// Search returns records whose question or answer contains text and
	// whose avg_similarity clears minSimilarity, newest first.
	Search(ctx context.Context, name, text string, minSimilarity float64) ([]entities.ConversationRecord, error)

	// Stats aggregates the store: totals, rounded averages, top sources.
	Stats(ctx context.Context, name string) (entities.StoreStats, error)

	// DeleteConversation removes a record and, by cascade, its sources.
	DeleteConversation(ctx context.Context, name string, id int64) error
}
