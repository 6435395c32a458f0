// Package usecases - query.go coordinates retrieval and synthesis and
// tracks the in-memory conversation log.
package usecases

import (
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/askpdf/askpdf-go/internal/domain/entities"
	"github.com/askpdf/askpdf-go/internal/domain/ports"
)

// QueryOptions are the per-call knobs of the pipeline. ScoreThreshold
// is a pointer so an explicit 0 (keep every hit) stays distinguishable
// from "not set"; nil falls back to the engine defaults.
type QueryOptions struct {
	TopK           int
	ScoreThreshold *float64
	Generation     ports.GenerationConfig
}

// DefaultQueryOptions returns the conservative defaults used when a
// caller passes the zero value.
func DefaultQueryOptions() QueryOptions {
	threshold := 0.5
	temperature := float32(DefaultTemperature)
	return QueryOptions{
		TopK:           5,
		ScoreThreshold: &threshold,
		Generation: ports.GenerationConfig{
			Temperature: &temperature,
			MaxTokens:   DefaultMaxTokens,
		},
	}
}

// Engine coordinates Retriever -> Synthesizer and owns the in-memory
// conversation log. The log is an explicit state object guarded by a
// mutex, not process-wide state; it must be flushed to a conversation
// store explicitly to survive restart.
type Engine struct {
	retriever   *Retriever
	synthesizer *Synthesizer

	mu       sync.Mutex
	history  []entities.ConversationEntry
	defaults QueryOptions
}

// NewEngine creates an Engine with injected pipeline stages.
func NewEngine(retriever *Retriever, synthesizer *Synthesizer) *Engine {
	return &Engine{
		retriever:   retriever,
		synthesizer: synthesizer,
		defaults:    DefaultQueryOptions(),
	}
}

// SetDefaults replaces the engine-level default query options. Zero
// fields in opts keep the built-in defaults.
func (e *Engine) SetDefaults(opts QueryOptions) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.defaults = e.fill(opts)
}

func (e *Engine) fill(opts QueryOptions) QueryOptions {
	def := DefaultQueryOptions()
	if opts.TopK <= 0 {
		opts.TopK = def.TopK
	}
	if opts.ScoreThreshold == nil {
		opts.ScoreThreshold = def.ScoreThreshold
	}
	if opts.Generation.Temperature == nil {
		opts.Generation.Temperature = def.Generation.Temperature
	}
	if opts.Generation.MaxTokens <= 0 {
		opts.Generation.MaxTokens = def.Generation.MaxTokens
	}
	return opts
}

// Query runs the pipeline for one question.
//
// Retrieval failures are returned as an error (wrapping
// ports.ErrRetrievalUnavailable) - nothing is appended to the log.
// Every other path produces a well-formed envelope and appends exactly
// one log entry after the pipeline completes: zero contexts yield the
// fixed fallback, and a failed completion yields a degraded envelope
// tagged OutcomeGenerationFailed.
func (e *Engine) Query(ctx context.Context, question string, opts QueryOptions) (entities.QueryResponse, error) {
	e.mu.Lock()
	base := e.defaults
	e.mu.Unlock()
	if opts.TopK <= 0 {
		opts.TopK = base.TopK
	}
	if opts.ScoreThreshold == nil {
		opts.ScoreThreshold = base.ScoreThreshold
	}
	if opts.Generation.Model == "" {
		opts.Generation.Model = base.Generation.Model
	}
	if opts.Generation.Temperature == nil {
		opts.Generation.Temperature = base.Generation.Temperature
	}
	if opts.Generation.MaxTokens <= 0 {
		opts.Generation.MaxTokens = base.Generation.MaxTokens
	}

	contexts, err := e.retriever.Retrieve(ctx, question, opts.TopK, *opts.ScoreThreshold)
	if err != nil {
		return entities.QueryResponse{}, fmt.Errorf("retrieving contexts: %w", err)
	}

	var resp entities.QueryResponse
	if len(contexts) == 0 {
		resp = entities.QueryResponse{
			Question:        question,
			Answer:          entities.NoContextAnswer,
			Outcome:         entities.OutcomeNoContext,
			Sources:         []entities.Source{},
			NumContextsUsed: 0,
			AvgSimilarity:   0.0,
			Model:           opts.Generation.Model,
		}
	} else {
		result, synthErr := e.synthesizer.Synthesize(ctx, question, contexts, opts.Generation)
		if synthErr != nil {
			resp = entities.QueryResponse{
				Question:        question,
				Outcome:         entities.OutcomeGenerationFailed,
				FailureReason:   synthErr.Error(),
				Sources:         []entities.Source{},
				NumContextsUsed: 0,
				AvgSimilarity:   0.0,
				Model:           opts.Generation.Model,
			}
		} else {
			resp = entities.QueryResponse{
				Question:        question,
				Answer:          result.Answer,
				Outcome:         entities.OutcomeAnswered,
				Sources:         result.Sources,
				NumContextsUsed: result.NumContextsUsed,
				AvgSimilarity:   result.AvgSimilarity,
				Model:           result.Model,
				Contexts:        contexts,
			}
		}
	}

	e.mu.Lock()
	e.history = append(e.history, entities.ConversationEntry{
		Question:    question,
		Answer:      resp.FinalAnswer(),
		NumContexts: resp.NumContextsUsed,
		Sources:     resp.Sources,
		Model:       resp.Model,
	})
	e.mu.Unlock()

	return resp, nil
}

// Stats summarizes the in-memory log; all zero when it is empty.
func (e *Engine) Stats() entities.SessionStats {
	e.mu.Lock()
	defer e.mu.Unlock()

	if len(e.history) == 0 {
		return entities.SessionStats{}
	}
	total := 0
	for _, entry := range e.history {
		total += entry.NumContexts
	}
	return entities.SessionStats{
		TotalQueries:           len(e.history),
		TotalContextsRetrieved: total,
		AvgContextsPerQuery:    float64(total) / float64(len(e.history)),
	}
}

// History returns a copy of the in-memory conversation log.
func (e *Engine) History() []entities.ConversationEntry {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]entities.ConversationEntry, len(e.history))
	copy(out, e.history)
	return out
}

// ClearHistory empties the in-memory conversation log.
func (e *Engine) ClearHistory() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.history = nil
}

// Display writes a human-readable rendering of a response. Not part of
// the data contract.
func (e *Engine) Display(w io.Writer, resp entities.QueryResponse) {
	fmt.Fprintln(w, "ANSWER")
	fmt.Fprintln(w, resp.FinalAnswer())

	fmt.Fprintf(w, "\nSOURCES (%d documents)\n", resp.NumContextsUsed)
	if len(resp.Sources) == 0 {
		fmt.Fprintln(w, "  No sources available")
	} else {
		for _, src := range resp.Sources {
			fmt.Fprintf(w, "  [%d] %s (Page %s) - Relevance: %.1f%%\n",
				src.CitationID, src.File, src.Page, src.Similarity*100)
		}
	}
	fmt.Fprintf(w, "\nModel: %s | Contexts: %d\n", resp.Model, resp.NumContextsUsed)
}
