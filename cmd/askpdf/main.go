// Command askpdf serves retrieval-augmented question answering over an
// embedded PDF corpus and persists conversation history.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	nethttp "net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"

	"github.com/askpdf/askpdf-go/internal/adapters/embedding"
	"github.com/askpdf/askpdf-go/internal/adapters/llm"
	"github.com/askpdf/askpdf-go/internal/adapters/store"
	"github.com/askpdf/askpdf-go/internal/adapters/vectordb"
	"github.com/askpdf/askpdf-go/internal/config"
	"github.com/askpdf/askpdf-go/internal/domain/entities"
	"github.com/askpdf/askpdf-go/internal/domain/ports"
	"github.com/askpdf/askpdf-go/internal/domain/usecases"
	"github.com/askpdf/askpdf-go/internal/infrastructure/http"
)

func main() {
	// Load .env if present (API keys).
	_ = godotenv.Load()

	configPath := flag.String("config", "", "path to config.yaml (default: ./config.yaml, then ~/.config/askpdf/config.yaml)")
	addr := flag.String("addr", "", "listen address (overrides config)")
	storeName := flag.String("store", "", "conversation store name (overrides config)")
	sessionID := flag.String("session", "", "session id for persisted conversations (default: random)")
	flag.Parse()

	if err := run(*configPath, *addr, *storeName, *sessionID); err != nil {
		fmt.Fprintf(os.Stderr, "askpdf: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath, addr, storeName, sessionID string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var cfg *config.AppConfig
	var err error
	if configPath != "" {
		cfg, err = config.Load(configPath)
	} else {
		cfg, configPath, err = config.LoadDefault()
	}
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if addr != "" {
		cfg.Server.Addr = addr
	}
	if storeName != "" {
		cfg.Store.Name = storeName
	}
	if sessionID == "" {
		sessionID = uuid.NewString()
	}

	embedder, embedModel, embedDim, err := buildEmbedder(cfg)
	if err != nil {
		return err
	}
	index, err := buildIndex(cfg)
	if err != nil {
		return err
	}
	completion, err := buildCompletion(cfg)
	if err != nil {
		return err
	}

	convStore, err := store.NewSQLiteStore(cfg.Store.Dir)
	if err != nil {
		return fmt.Errorf("opening conversation store: %w", err)
	}

	retriever := usecases.NewRetriever(embedder, index)
	synthesizer := usecases.NewSynthesizer(completion, cfg.Completion.Model)
	engine := usecases.NewEngine(retriever, synthesizer)
	engine.SetDefaults(optionsFromConfig(cfg))

	// Snapshot system identity for the store.
	count := 0
	if n, err := index.Count(ctx); err == nil {
		count = n
	} else {
		log.Printf("[ERROR] Counting indexed documents: %v", err)
	}
	snapshot := entities.SystemConfig{
		IndexLocation:      cfg.Index.DataPath,
		TotalDocuments:     count,
		EmbeddingModel:     embedModel,
		EmbeddingDimension: embedDim,
		CompletionProvider: cfg.Completion.Provider,
		CompletionModel:    cfg.Completion.Model,
	}
	if cfg.Index.Qdrant != nil {
		snapshot.IndexLocation = cfg.Index.Qdrant.URL
		snapshot.Collection = cfg.Index.Qdrant.Collection
	}
	if err := convStore.SaveConfig(cfg.Store.Name, snapshot); err != nil {
		return fmt.Errorf("saving config snapshot: %w", err)
	}

	// Config changes adjust retrieval defaults without a restart.
	updates, err := config.Watch(ctx, configPath)
	if err != nil {
		log.Printf("[ERROR] Watching config: %v", err)
	} else {
		go func() {
			for updated := range updates {
				engine.SetDefaults(optionsFromConfig(updated))
				log.Printf("[INFO] Reloaded retrieval defaults from %s", configPath)
			}
		}()
	}

	server := http.NewServer(engine, convStore, cfg.Store.Name, sessionID, cfg.Server.Addr)
	err = server.Start(ctx)
	if err != nil && !errors.Is(err, nethttp.ErrServerClosed) {
		return err
	}

	// Flush the in-memory log so the session survives the restart.
	if entries := engine.History(); len(entries) > 0 {
		flushCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := convStore.PersistConversations(flushCtx, cfg.Store.Name, entries, sessionID); err != nil {
			return fmt.Errorf("flushing conversation log: %w", err)
		}
		log.Printf("[INFO] Persisted %d conversations to store %q", len(entries), cfg.Store.Name)
	}
	return nil
}

func optionsFromConfig(cfg *config.AppConfig) usecases.QueryOptions {
	threshold := cfg.Retrieval.ScoreThreshold
	temperature := cfg.Completion.Temperature
	return usecases.QueryOptions{
		TopK:           cfg.Retrieval.TopK,
		ScoreThreshold: &threshold,
		Generation: ports.GenerationConfig{
			Model:       cfg.Completion.Model,
			Temperature: &temperature,
			MaxTokens:   cfg.Completion.MaxTokens,
		},
	}
}

func buildEmbedder(cfg *config.AppConfig) (ports.EmbeddingService, string, int, error) {
	switch cfg.Embedder.Type {
	case "ollama":
		var baseURL, model string
		if cfg.Embedder.Ollama != nil {
			baseURL = cfg.Embedder.Ollama.BaseURL
			model = cfg.Embedder.Ollama.Model
		}
		a := embedding.NewOllamaAdapter(baseURL, model)
		return a, a.Model(), a.Dimension(), nil
	case "openai", "":
		var model string
		if cfg.Embedder.OpenAI != nil {
			model = cfg.Embedder.OpenAI.Model
		}
		a, err := embedding.NewOpenAIAdapter(model)
		if err != nil {
			return nil, "", 0, fmt.Errorf("building embedder: %w", err)
		}
		return a, a.Model(), a.Dimension(), nil
	default:
		return nil, "", 0, fmt.Errorf("unknown embedder type %q", cfg.Embedder.Type)
	}
}

func buildIndex(cfg *config.AppConfig) (ports.VectorIndex, error) {
	switch cfg.Index.Type {
	case "memory":
		return vectordb.NewInMemoryIndex(), nil
	case "qdrant":
		if cfg.Index.Qdrant == nil {
			return nil, errors.New("index type qdrant requires a qdrant section")
		}
		return vectordb.NewQdrantIndex(vectordb.QdrantConfig{
			URL:        cfg.Index.Qdrant.URL,
			APIKey:     cfg.Index.Qdrant.APIKey,
			Collection: cfg.Index.Qdrant.Collection,
			Distance:   cfg.Index.Qdrant.Distance,
			Timeout:    time.Duration(cfg.Index.Qdrant.TimeoutSecs) * time.Second,
		}), nil
	case "sqlite", "":
		idx, err := vectordb.NewSQLiteIndex(cfg.Index.DataPath)
		if err != nil {
			return nil, fmt.Errorf("building index: %w", err)
		}
		return idx, nil
	default:
		return nil, fmt.Errorf("unknown index type %q", cfg.Index.Type)
	}
}

func buildCompletion(cfg *config.AppConfig) (ports.CompletionService, error) {
	switch cfg.Completion.Provider {
	case "ollama":
		return llm.NewOllamaAdapter(cfg.Completion.BaseURL, cfg.Completion.Model), nil
	case "openai", "":
		a, err := llm.NewOpenAIAdapter(cfg.Completion.BaseURL, cfg.Completion.APIKeyEnv, cfg.Completion.Model)
		if err != nil {
			return nil, fmt.Errorf("building completion client: %w", err)
		}
		return a, nil
	default:
		return nil, fmt.Errorf("unknown completion provider %q", cfg.Completion.Provider)
	}
}
