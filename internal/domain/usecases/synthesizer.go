// Package usecases - synthesizer.go renders contexts into a cited prompt and
// maps the completion output back to attributed sources.
package usecases

import (
	"context"
	"fmt"
	"strings"

	"github.com/askpdf/askpdf-go/internal/domain/entities"
	"github.com/askpdf/askpdf-go/internal/domain/ports"
)

// Default generation parameters. Low temperature to minimize hallucinated
// citations.
const (
	DefaultTemperature = 0.3
	DefaultMaxTokens   = 1000
)

// SynthesisResult is the structured output of one synthesis call.
type SynthesisResult struct {
	Answer          string
	Sources         []entities.Source
	Model           string
	NumContextsUsed int
	AvgSimilarity   float64
}

// Synthesizer formats retrieved contexts into a citation-numbered prompt
// and invokes the completion service once per call.
type Synthesizer struct {
	completion   ports.CompletionService
	defaultModel string
}

// NewSynthesizer creates a Synthesizer bound to a completion service.
func NewSynthesizer(completion ports.CompletionService, defaultModel string) *Synthesizer {
	return &Synthesizer{completion: completion, defaultModel: defaultModel}
}

// Synthesize answers question from contexts. Empty contexts short-circuit
// to the fixed fallback without calling the completion service. A failed
// completion call returns an error wrapping ports.ErrGenerationFailed;
// the friendly degraded answer is rendered at the presentation boundary,
// not here.
func (s *Synthesizer) Synthesize(ctx context.Context, question string, contexts []entities.ContextChunk, cfg ports.GenerationConfig) (SynthesisResult, error) {
	cfg = s.applyDefaults(cfg)

	if len(contexts) == 0 {
		return SynthesisResult{
			Answer:          entities.NoContextAnswer,
			Sources:         []entities.Source{},
			Model:           cfg.Model,
			NumContextsUsed: 0,
			AvgSimilarity:   0.0,
		}, nil
	}

	prompt := BuildPrompt(question, contexts)

	answer, err := s.completion.Complete(ctx, prompt, cfg)
	if err != nil {
		return SynthesisResult{}, fmt.Errorf("%w: %v", ports.ErrGenerationFailed, err)
	}

	// Sources reflect what was offered to the model, not what the answer
	// text actually cited.
	sources := make([]entities.Source, len(contexts))
	for i, c := range contexts {
		sources[i] = entities.Source{
			CitationID: i + 1,
			File:       c.Metadata.SourceFile,
			Page:       c.Metadata.Page,
			Similarity: c.RelevanceScore,
		}
	}

	return SynthesisResult{
		Answer:          answer,
		Sources:         sources,
		Model:           cfg.Model,
		NumContextsUsed: len(contexts),
		AvgSimilarity:   entities.AvgSimilarity(sources),
	}, nil
}

func (s *Synthesizer) applyDefaults(cfg ports.GenerationConfig) ports.GenerationConfig {
	if cfg.Model == "" {
		cfg.Model = s.defaultModel
	}
	if cfg.Temperature == nil {
		t := float32(DefaultTemperature)
		cfg.Temperature = &t
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = DefaultMaxTokens
	}
	return cfg
}

// BuildPrompt renders the deterministic completion prompt. Each context
// gets a 1-based citation index in input order; the generated answer's
// [n] markers are meaningful only under that ordering.
func BuildPrompt(question string, contexts []entities.ContextChunk) string {
	formatted := make([]string, len(contexts))
	for i, c := range contexts {
		formatted[i] = fmt.Sprintf("[%d] (Source: %s, Page: %s, Relevance: %.1f%%)\n%s",
			i+1, c.Metadata.SourceFile, c.Metadata.Page, c.RelevanceScore*100, c.Content)
	}

	var sb strings.Builder
	sb.WriteString("You are a helpful AI assistant. Answer the user's question based ONLY on the provided context from PDF documents.\n\n")
	sb.WriteString("IMPORTANT INSTRUCTIONS:\n")
	sb.WriteString("1. Only use information from the context below\n")
	sb.WriteString("2. Cite sources using [1], [2], [3] format after relevant statements\n")
	sb.WriteString("3. If the context doesn't contain enough information, clearly state that\n")
	sb.WriteString("4. Be concise but comprehensive\n")
	sb.WriteString("5. If you're uncertain, express appropriate confidence levels\n\n")
	sb.WriteString("CONTEXT:\n")
	sb.WriteString(strings.Join(formatted, "\n\n"))
	sb.WriteString("\n\nQUESTION: ")
	sb.WriteString(question)
	sb.WriteString("\n\nANSWER (with citations):")
	return sb.String()
}
