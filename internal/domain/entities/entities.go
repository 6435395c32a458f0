// Package entities contains core business entities.
// These are the enterprise business rules - pure domain objects with no external dependencies.
package entities

import "time"

// ChunkMetadata identifies where a retrieved passage came from.
type ChunkMetadata struct {
	SourceFile string
	Page       string // page locator; integer pages are formatted at the adapter boundary
}

// ContextChunk is a retrieved passage of source text.
// Created transiently per query by the retriever and discarded after
// response assembly; only derived Source records persist.
type ContextChunk struct {
	Content        string
	Metadata       ChunkMetadata
	RelevanceScore float64 // normalized, higher-is-better, in [0,1]
}

// Source is a citation-numbered attribution in the final answer.
// CitationID values are contiguous starting at 1 and match the order
// contexts were presented to the completion service.
type Source struct {
	CitationID int
	File       string
	Page       string
	Similarity float64
}

// Outcome tags a QueryResponse so callers switch exhaustively instead
// of probing optional fields.
type Outcome int

const (
	// OutcomeAnswered means the completion service produced an answer.
	OutcomeAnswered Outcome = iota
	// OutcomeNoContext means nothing cleared the score threshold; the
	// answer is the fixed fallback message, not model output.
	OutcomeNoContext
	// OutcomeGenerationFailed means the completion call failed; the
	// envelope is degraded but structurally valid.
	OutcomeGenerationFailed
)

// String returns a human-readable outcome label.
func (o Outcome) String() string {
	switch o {
	case OutcomeAnswered:
		return "answered"
	case OutcomeNoContext:
		return "no_context"
	case OutcomeGenerationFailed:
		return "generation_failed"
	default:
		return "unknown"
	}
}

// NoContextAnswer is the fixed fallback returned when no context clears
// the retrieval threshold.
const NoContextAnswer = "I could not find relevant information to answer this question."

// QueryResponse is the envelope returned to every caller (UI, API, batch job).
type QueryResponse struct {
	Question        string
	Answer          string
	Outcome         Outcome
	FailureReason   string // set only when Outcome is OutcomeGenerationFailed
	Sources         []Source
	NumContextsUsed int
	AvgSimilarity   float64
	Model           string
	Contexts        []ContextChunk // raw retrieved contexts, merged back for callers that need them
}

// FinalAnswer returns the answer text a reader should see: the
// synthesized answer, or a labeled failure description when generation
// failed. Log entries and presentation layers use this so a persisted
// failed exchange stays self-explanatory.
func (r QueryResponse) FinalAnswer() string {
	if r.Outcome == OutcomeGenerationFailed {
		return "Answer generation failed: " + r.FailureReason
	}
	return r.Answer
}

// ConversationEntry is one exchange in the orchestrator's in-memory log.
// The log is a transient, process-lifetime cache; durable persistence
// lives in the conversation store and must be flushed explicitly.
type ConversationEntry struct {
	Question    string
	Answer      string
	NumContexts int
	Sources     []Source
	Model       string
}

// StoredSource is a persisted source row belonging to a ConversationRecord.
type StoredSource struct {
	File       string
	Page       string
	Similarity float64
}

// ConversationRecord is one durably stored exchange with its sources.
type ConversationRecord struct {
	ID            int64
	Question      string
	Answer        string
	NumContexts   int
	AvgSimilarity float64
	ModelUsed     string
	SessionID     string
	CreatedAt     time.Time
	Sources       []StoredSource
}

// SystemConfig is a point-in-time snapshot of system identity.
// Informational only - never used to reconstruct behavior.
type SystemConfig struct {
	Name               string    `json:"name"`
	CreatedAt          time.Time `json:"created_at"`
	IndexLocation      string    `json:"index_location"`
	Collection         string    `json:"collection"`
	TotalDocuments     int       `json:"total_documents"`
	EmbeddingModel     string    `json:"embedding_model"`
	EmbeddingDimension int       `json:"embedding_dimension"`
	CompletionProvider string    `json:"completion_provider"`
	CompletionModel    string    `json:"completion_model"`
}

// SessionStats summarizes the in-memory conversation log.
type SessionStats struct {
	TotalQueries           int
	TotalContextsRetrieved int
	AvgContextsPerQuery    float64
}

// SourceCount is a source file with its citation count.
type SourceCount struct {
	File  string
	Count int
}

// StoreStats summarizes a persisted conversation store.
type StoreStats struct {
	TotalConversations  int
	AvgSimilarityScore  float64
	AvgContextsPerQuery float64
	TopSources          []SourceCount
}

// MetricKind says how to interpret a vector index's native score.
type MetricKind int

const (
	// MetricSimilarity means the native score is higher-is-better.
	MetricSimilarity MetricKind = iota
	// MetricDistance means the native score is lower-is-better.
	MetricDistance
)

// NormalizeScore converts a native similarity or distance figure into
// the single relevance convention used everywhere: higher-is-better,
// bounded [0,1]. Similarity metrics are clamped into [0,1]; distance
// metrics map through 1/(1+d). Thresholds are only comparable across
// index backends because every backend goes through this one function.
func NormalizeScore(kind MetricKind, raw float64) float64 {
	var score float64
	switch kind {
	case MetricDistance:
		if raw < 0 {
			raw = 0
		}
		score = 1 / (1 + raw)
	default:
		score = raw
	}
	if score < 0 {
		return 0
	}
	if score > 1 {
		return 1
	}
	return score
}

// AvgSimilarity returns the exact mean of the sources' similarity,
// or 0.0 when sources is empty (no division by zero).
func AvgSimilarity(sources []Source) float64 {
	if len(sources) == 0 {
		return 0.0
	}
	var sum float64
	for _, s := range sources {
		sum += s.Similarity
	}
	return sum / float64(len(sources))
}
