// Package http provides the HTTP server infrastructure.
// Clean Architecture: Framework/driver layer - outermost circle.
package http

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/askpdf/askpdf-go/internal/adapters/export"
	"github.com/askpdf/askpdf-go/internal/domain/entities"
	"github.com/askpdf/askpdf-go/internal/domain/ports"
	"github.com/askpdf/askpdf-go/internal/domain/usecases"
)

// Server exposes the query pipeline and conversation store over HTTP.
type Server struct {
	engine    *usecases.Engine
	store     ports.ConversationStore
	storeName string
	sessionID string
	addr      string
}

// NewServer creates a new HTTP server.
func NewServer(engine *usecases.Engine, store ports.ConversationStore, storeName, sessionID, addr string) *Server {
	return &Server{
		engine:    engine,
		store:     store,
		storeName: storeName,
		sessionID: sessionID,
		addr:      addr,
	}
}

// Start runs the HTTP server until ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	mux := http.NewServeMux()

	mux.HandleFunc("/api/query", s.handleQuery)
	mux.HandleFunc("/api/stats", s.handleStats)
	mux.HandleFunc("/api/history", s.handleHistory)
	mux.HandleFunc("/api/history/flush", s.handleFlush)
	mux.HandleFunc("/api/history/export", s.handleExport)
	mux.HandleFunc("/api/conversations/recent", s.handleRecent)
	mux.HandleFunc("/api/conversations/search", s.handleSearch)
	mux.HandleFunc("/api/conversations/stats", s.handleStoreStats)
	mux.HandleFunc("/api/health", s.handleHealth)

	server := &http.Server{
		Addr:         s.addr,
		Handler:      corsMiddleware(loggingMiddleware(mux)),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 300 * time.Second, // completions can be slow
	}

	log.Printf("[INFO] askpdf server starting on %s", s.addr)

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		server.Shutdown(shutdownCtx)
	}()

	return server.ListenAndServe()
}

// sourceDTO mirrors entities.Source on the wire.
type sourceDTO struct {
	CitationID int     `json:"citation_id"`
	File       string  `json:"file"`
	Page       string  `json:"page"`
	Similarity float64 `json:"similarity"`
}

// responseDTO is the wire form of the query envelope, stable across callers.
type responseDTO struct {
	Question        string      `json:"question"`
	Answer          string      `json:"answer"`
	Outcome         string      `json:"outcome"`
	FailureReason   string      `json:"failure_reason,omitempty"`
	Sources         []sourceDTO `json:"sources"`
	NumContextsUsed int         `json:"num_contexts_used"`
	AvgSimilarity   float64     `json:"avg_similarity"`
	Model           string      `json:"model,omitempty"`
}

func toDTO(resp entities.QueryResponse) responseDTO {
	sources := make([]sourceDTO, len(resp.Sources))
	for i, src := range resp.Sources {
		sources[i] = sourceDTO{
			CitationID: src.CitationID,
			File:       src.File,
			Page:       src.Page,
			Similarity: src.Similarity,
		}
	}
	return responseDTO{
		Question:        resp.Question,
		Answer:          resp.FinalAnswer(),
		Outcome:         resp.Outcome.String(),
		FailureReason:   resp.FailureReason,
		Sources:         sources,
		NumContextsUsed: resp.NumContextsUsed,
		AvgSimilarity:   resp.AvgSimilarity,
		Model:           resp.Model,
	}
}

// handleQuery runs the pipeline for one question.
func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	// Threshold and temperature decode into pointers so an explicit 0
	// survives the trip; absent fields stay nil and fall back to defaults.
	var req struct {
		Question       string   `json:"question"`
		TopK           int      `json:"top_k"`
		ScoreThreshold *float64 `json:"score_threshold"`
		Model          string   `json:"model"`
		Temperature    *float32 `json:"temperature"`
		MaxTokens      int      `json:"max_tokens"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if req.Question == "" {
		http.Error(w, "Question required", http.StatusBadRequest)
		return
	}

	resp, err := s.engine.Query(r.Context(), req.Question, usecases.QueryOptions{
		TopK:           req.TopK,
		ScoreThreshold: req.ScoreThreshold,
		Generation: ports.GenerationConfig{
			Model:       req.Model,
			Temperature: req.Temperature,
			MaxTokens:   req.MaxTokens,
		},
	})
	if err != nil {
		// Retrieval unavailable is the one failure with no envelope.
		status := http.StatusInternalServerError
		if errors.Is(err, ports.ErrRetrievalUnavailable) {
			status = http.StatusServiceUnavailable
		}
		writeJSON(w, status, map[string]string{"error": err.Error()})
		return
	}

	writeJSON(w, http.StatusOK, toDTO(resp))
}

// handleStats returns in-memory session statistics.
func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	stats := s.engine.Stats()
	writeJSON(w, http.StatusOK, map[string]any{
		"total_queries":            stats.TotalQueries,
		"total_contexts_retrieved": stats.TotalContextsRetrieved,
		"avg_contexts_per_query":   stats.AvgContextsPerQuery,
	})
}

// handleHistory returns (GET) or clears (DELETE) the in-memory log.
func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		writeJSON(w, http.StatusOK, s.engine.History())
	case http.MethodDelete:
		s.engine.ClearHistory()
		w.WriteHeader(http.StatusNoContent)
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

// handleFlush persists the in-memory log to the conversation store and
// clears it on success.
func (s *Server) handleFlush(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	entries := s.engine.History()
	if err := s.store.PersistConversations(r.Context(), s.storeName, entries, s.sessionID); err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	s.engine.ClearHistory()
	writeJSON(w, http.StatusOK, map[string]int{"persisted": len(entries)})
}

// handleExport streams the in-memory log as JSON or CSV.
func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	entries := s.engine.History()
	switch r.URL.Query().Get("format") {
	case "csv":
		w.Header().Set("Content-Type", "text/csv")
		w.Header().Set("Content-Disposition", `attachment; filename="conversations.csv"`)
		if err := export.WriteCSV(w, entries); err != nil {
			log.Printf("[ERROR] CSV export: %v", err)
		}
	default:
		w.Header().Set("Content-Type", "application/json")
		if err := export.WriteJSON(w, entries); err != nil {
			log.Printf("[ERROR] JSON export: %v", err)
		}
	}
}

// handleRecent returns recent persisted conversations.
func (s *Server) handleRecent(w http.ResponseWriter, r *http.Request) {
	limit := 20
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}
	records, err := s.store.LoadRecent(r.Context(), s.storeName, limit)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, records)
}

// handleSearch searches persisted conversations.
func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	text := r.URL.Query().Get("q")
	minSim := 0.0
	if v := r.URL.Query().Get("min_similarity"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			minSim = f
		}
	}
	records, err := s.store.Search(r.Context(), s.storeName, text, minSim)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, records)
}

// handleStoreStats returns persisted-store statistics.
func (s *Server) handleStoreStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.store.Stats(r.Context(), s.storeName)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// handleHealth returns server health status.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		log.Printf("%s %s %v", r.Method, r.URL.Path, time.Since(start))
	})
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == "OPTIONS" {
			return
		}
		next.ServeHTTP(w, r)
	})
}
