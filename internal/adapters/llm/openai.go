// Package llm provides completion service adapters.
// Clean Architecture: Adapters implementing ports.CompletionService.
package llm

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net/http"
	"os"

	openai "github.com/sashabaranov/go-openai"

	"github.com/askpdf/askpdf-go/internal/domain/ports"
)

// Completion failure classes. The synthesizer does not care which one
// occurred, but operators reading errors do.
var (
	ErrAuthentication = errors.New("completion service rejected credentials")
	ErrRateLimited    = errors.New("completion service rate limit exceeded")
	ErrBadRequest     = errors.New("completion request malformed")
)

// OpenAIAdapter implements ports.CompletionService using an
// OpenAI-compatible chat completions API (OpenAI, Groq, etc. via BaseURL).
type OpenAIAdapter struct {
	client       *openai.Client
	defaultModel string
}

// NewOpenAIAdapter creates a completion adapter. The API key is read
// from keyEnv (default OPENAI_API_KEY); baseURL overrides the endpoint
// for OpenAI-compatible providers.
func NewOpenAIAdapter(baseURL, keyEnv, defaultModel string) (*OpenAIAdapter, error) {
	if keyEnv == "" {
		keyEnv = "OPENAI_API_KEY"
	}
	key := os.Getenv(keyEnv)
	if key == "" {
		return nil, fmt.Errorf("%s environment variable not set", keyEnv)
	}

	cfg := openai.DefaultConfig(key)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}

	return &OpenAIAdapter{
		client:       openai.NewClientWithConfig(cfg),
		defaultModel: defaultModel,
	}, nil
}

// Complete renders the prompt into generated text with the given
// generation parameters.
func (a *OpenAIAdapter) Complete(ctx context.Context, prompt string, cfg ports.GenerationConfig) (string, error) {
	model := cfg.Model
	if model == "" {
		model = a.defaultModel
	}

	req := openai.ChatCompletionRequest{
		Model:     model,
		MaxTokens: cfg.MaxTokens,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
	}
	if cfg.Temperature != nil {
		t := *cfg.Temperature
		if t == 0 {
			// The client drops a literal zero from the request, which the
			// API reads as "use the default". Smallest nonzero keeps it greedy.
			t = math.SmallestNonzeroFloat32
		}
		req.Temperature = t
	}

	resp, err := a.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return "", classify(err)
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("no completion choices returned")
	}

	return resp.Choices[0].Message.Content, nil
}

// classify maps API errors onto the adapter's failure classes so
// authentication, rate-limit, and malformed-input conditions stay
// distinguishable through errors.Is.
func classify(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.HTTPStatusCode {
		case http.StatusUnauthorized, http.StatusForbidden:
			return fmt.Errorf("%w: %v", ErrAuthentication, err)
		case http.StatusTooManyRequests:
			return fmt.Errorf("%w: %v", ErrRateLimited, err)
		case http.StatusBadRequest, http.StatusUnprocessableEntity:
			return fmt.Errorf("%w: %v", ErrBadRequest, err)
		}
	}
	return fmt.Errorf("calling completion API: %w", err)
}
