package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/askpdf/askpdf-go/internal/domain/entities"
	"github.com/askpdf/askpdf-go/internal/domain/ports"
	"github.com/askpdf/askpdf-go/internal/domain/usecases"
)

type stubEmbedder struct{ err error }

func (s *stubEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if s.err != nil {
		return nil, s.err
	}
	return []float32{1, 0, 0}, nil
}

type stubIndex struct {
	hits []ports.IndexHit
	err  error
}

func (s *stubIndex) Query(ctx context.Context, vector []float32, k int) ([]ports.IndexHit, error) {
	if s.err != nil {
		return nil, s.err
	}
	if len(s.hits) > k {
		return s.hits[:k], nil
	}
	return s.hits, nil
}

func (s *stubIndex) Count(ctx context.Context) (int, error) { return len(s.hits), nil }

func (s *stubIndex) Metric() entities.MetricKind { return entities.MetricSimilarity }

type stubCompletion struct {
	answer string
	err    error
}

func (s *stubCompletion) Complete(ctx context.Context, prompt string, cfg ports.GenerationConfig) (string, error) {
	if s.err != nil {
		return "", s.err
	}
	return s.answer, nil
}

type stubStore struct {
	persisted  []entities.ConversationEntry
	sessionID  string
	records    []entities.ConversationRecord
	searchText string
	searchMin  float64
	stats      entities.StoreStats
	persistErr error
}

func (s *stubStore) SaveConfig(name string, cfg entities.SystemConfig) error { return nil }

func (s *stubStore) LoadConfig(name string) (entities.SystemConfig, error) {
	return entities.SystemConfig{}, ports.ErrConfigNotFound
}

func (s *stubStore) PersistConversations(ctx context.Context, name string, entries []entities.ConversationEntry, sessionID string) error {
	if s.persistErr != nil {
		return s.persistErr
	}
	s.persisted = append(s.persisted, entries...)
	s.sessionID = sessionID
	return nil
}

func (s *stubStore) LoadRecent(ctx context.Context, name string, limit int) ([]entities.ConversationRecord, error) {
	if len(s.records) > limit {
		return s.records[:limit], nil
	}
	return s.records, nil
}

func (s *stubStore) Search(ctx context.Context, name, text string, minSimilarity float64) ([]entities.ConversationRecord, error) {
	s.searchText = text
	s.searchMin = minSimilarity
	return s.records, nil
}

func (s *stubStore) Stats(ctx context.Context, name string) (entities.StoreStats, error) {
	return s.stats, nil
}

func (s *stubStore) DeleteConversation(ctx context.Context, name string, id int64) error { return nil }

func newTestServer(index *stubIndex, completion *stubCompletion, store *stubStore) *Server {
	engine := usecases.NewEngine(
		usecases.NewRetriever(&stubEmbedder{}, index),
		usecases.NewSynthesizer(completion, "test-model"),
	)
	return NewServer(engine, store, "default", "session-1", ":0")
}

func defaultHits() []ports.IndexHit {
	return []ports.IndexHit{
		{Content: "first passage", SourceFile: "a.pdf", Page: "1", Score: 0.9},
		{Content: "second passage", SourceFile: "b.pdf", Page: "2", Score: 0.7},
	}
}

func TestHandleQuery_Success(t *testing.T) {
	s := newTestServer(&stubIndex{hits: defaultHits()}, &stubCompletion{answer: "answer [1][2]"}, &stubStore{})

	req := httptest.NewRequest(http.MethodPost, "/api/query",
		strings.NewReader(`{"question":"what is this?","top_k":5,"score_threshold":0.5}`))
	rec := httptest.NewRecorder()
	s.handleQuery(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var dto responseDTO
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &dto))
	assert.Equal(t, "what is this?", dto.Question)
	assert.Equal(t, "answer [1][2]", dto.Answer)
	assert.Equal(t, "answered", dto.Outcome)
	require.Len(t, dto.Sources, 2)
	assert.Equal(t, 1, dto.Sources[0].CitationID)
	assert.Equal(t, "a.pdf", dto.Sources[0].File)
	assert.Equal(t, 2, dto.NumContextsUsed)
	assert.InDelta(t, 0.8, dto.AvgSimilarity, 1e-9)
}

func TestHandleQuery_NoContext(t *testing.T) {
	s := newTestServer(&stubIndex{}, &stubCompletion{}, &stubStore{})

	req := httptest.NewRequest(http.MethodPost, "/api/query",
		strings.NewReader(`{"question":"anything?"}`))
	rec := httptest.NewRecorder()
	s.handleQuery(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var dto responseDTO
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &dto))
	assert.Equal(t, "no_context", dto.Outcome)
	assert.Equal(t, entities.NoContextAnswer, dto.Answer)
	assert.Empty(t, dto.Sources)
}

func TestHandleQuery_ExplicitZeroThreshold(t *testing.T) {
	// A zero-scored hit only comes back if the explicit 0 threshold
	// survives JSON decoding instead of collapsing to the 0.5 default.
	index := &stubIndex{hits: []ports.IndexHit{
		{Content: "weak passage", SourceFile: "w.pdf", Page: "9", Score: 0.0},
	}}
	s := newTestServer(index, &stubCompletion{answer: "a [1]"}, &stubStore{})

	req := httptest.NewRequest(http.MethodPost, "/api/query",
		strings.NewReader(`{"question":"q","score_threshold":0}`))
	rec := httptest.NewRecorder()
	s.handleQuery(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var dto responseDTO
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &dto))
	assert.Equal(t, "answered", dto.Outcome)
	assert.Equal(t, 1, dto.NumContextsUsed)
	require.Len(t, dto.Sources, 1)
	assert.Equal(t, "w.pdf", dto.Sources[0].File)
}

func TestHandleQuery_DegradedAnswerOnGenerationFailure(t *testing.T) {
	s := newTestServer(&stubIndex{hits: defaultHits()}, &stubCompletion{err: errors.New("rate limited")}, &stubStore{})

	req := httptest.NewRequest(http.MethodPost, "/api/query",
		strings.NewReader(`{"question":"q"}`))
	rec := httptest.NewRecorder()
	s.handleQuery(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var dto responseDTO
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &dto))
	assert.Equal(t, "generation_failed", dto.Outcome)
	assert.True(t, strings.HasPrefix(dto.Answer, "Answer generation failed: "), dto.Answer)
	assert.NotEmpty(t, dto.FailureReason)
}

func TestHandleQuery_RetrievalUnavailableIs503(t *testing.T) {
	s := newTestServer(&stubIndex{err: errors.New("index down")}, &stubCompletion{}, &stubStore{})

	req := httptest.NewRequest(http.MethodPost, "/api/query",
		strings.NewReader(`{"question":"q"}`))
	rec := httptest.NewRecorder()
	s.handleQuery(rec, req)

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.NotEmpty(t, body["error"])
}

func TestHandleQuery_BadRequests(t *testing.T) {
	s := newTestServer(&stubIndex{}, &stubCompletion{}, &stubStore{})

	rec := httptest.NewRecorder()
	s.handleQuery(rec, httptest.NewRequest(http.MethodGet, "/api/query", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)

	rec = httptest.NewRecorder()
	s.handleQuery(rec, httptest.NewRequest(http.MethodPost, "/api/query", strings.NewReader(`{}`)))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = httptest.NewRecorder()
	s.handleQuery(rec, httptest.NewRequest(http.MethodPost, "/api/query", strings.NewReader(`not json`)))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleStats(t *testing.T) {
	s := newTestServer(&stubIndex{hits: defaultHits()}, &stubCompletion{answer: "a"}, &stubStore{})

	req := httptest.NewRequest(http.MethodPost, "/api/query", strings.NewReader(`{"question":"q"}`))
	s.handleQuery(httptest.NewRecorder(), req)

	rec := httptest.NewRecorder()
	s.handleStats(rec, httptest.NewRequest(http.MethodGet, "/api/stats", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var stats map[string]float64
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &stats))
	assert.Equal(t, 1.0, stats["total_queries"])
	assert.Equal(t, 2.0, stats["total_contexts_retrieved"])
	assert.Equal(t, 2.0, stats["avg_contexts_per_query"])
}

func TestHandleHistory_GetAndClear(t *testing.T) {
	s := newTestServer(&stubIndex{hits: defaultHits()}, &stubCompletion{answer: "a"}, &stubStore{})
	req := httptest.NewRequest(http.MethodPost, "/api/query", strings.NewReader(`{"question":"q"}`))
	s.handleQuery(httptest.NewRecorder(), req)

	rec := httptest.NewRecorder()
	s.handleHistory(rec, httptest.NewRequest(http.MethodGet, "/api/history", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var entries []entities.ConversationEntry
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &entries))
	require.Len(t, entries, 1)
	assert.Equal(t, "q", entries[0].Question)

	rec = httptest.NewRecorder()
	s.handleHistory(rec, httptest.NewRequest(http.MethodDelete, "/api/history", nil))
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = httptest.NewRecorder()
	s.handleHistory(rec, httptest.NewRequest(http.MethodGet, "/api/history", nil))
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &entries))
	assert.Empty(t, entries)
}

func TestHandleFlush_PersistsAndClears(t *testing.T) {
	store := &stubStore{}
	s := newTestServer(&stubIndex{hits: defaultHits()}, &stubCompletion{answer: "a"}, store)
	req := httptest.NewRequest(http.MethodPost, "/api/query", strings.NewReader(`{"question":"q"}`))
	s.handleQuery(httptest.NewRecorder(), req)

	rec := httptest.NewRecorder()
	s.handleFlush(rec, httptest.NewRequest(http.MethodPost, "/api/history/flush", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, store.persisted, 1)
	assert.Equal(t, "session-1", store.sessionID)
	assert.Empty(t, s.engine.History(), "flush clears the in-memory log")
}

func TestHandleFlush_StoreFailureKeepsHistory(t *testing.T) {
	store := &stubStore{persistErr: errors.New("disk full")}
	s := newTestServer(&stubIndex{hits: defaultHits()}, &stubCompletion{answer: "a"}, store)
	req := httptest.NewRequest(http.MethodPost, "/api/query", strings.NewReader(`{"question":"q"}`))
	s.handleQuery(httptest.NewRecorder(), req)

	rec := httptest.NewRecorder()
	s.handleFlush(rec, httptest.NewRequest(http.MethodPost, "/api/history/flush", nil))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Len(t, s.engine.History(), 1)
}

func TestHandleExport_CSV(t *testing.T) {
	s := newTestServer(&stubIndex{hits: defaultHits()}, &stubCompletion{answer: "a"}, &stubStore{})
	req := httptest.NewRequest(http.MethodPost, "/api/query", strings.NewReader(`{"question":"q"}`))
	s.handleQuery(httptest.NewRecorder(), req)

	rec := httptest.NewRecorder()
	s.handleExport(rec, httptest.NewRequest(http.MethodGet, "/api/history/export?format=csv", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/csv", rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Body.String(), "question,answer,num_contexts,model,sources")
	assert.Contains(t, rec.Body.String(), "a.pdf p.1; b.pdf p.2")
}

func TestHandleExport_JSONDefault(t *testing.T) {
	s := newTestServer(&stubIndex{}, &stubCompletion{}, &stubStore{})

	rec := httptest.NewRecorder()
	s.handleExport(rec, httptest.NewRequest(http.MethodGet, "/api/history/export", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	var envelope map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &envelope))
	assert.Contains(t, envelope, "exported_at")
	assert.Contains(t, envelope, "conversations")
}

func TestHandleSearch_PassesQueryParams(t *testing.T) {
	store := &stubStore{}
	s := newTestServer(&stubIndex{}, &stubCompletion{}, store)

	rec := httptest.NewRecorder()
	s.handleSearch(rec, httptest.NewRequest(http.MethodGet, "/api/conversations/search?q=invoice&min_similarity=0.6", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "invoice", store.searchText)
	assert.Equal(t, 0.6, store.searchMin)
}

func TestHandleRecent_LimitParam(t *testing.T) {
	store := &stubStore{records: []entities.ConversationRecord{
		{ID: 3, Question: "third"},
		{ID: 2, Question: "second"},
		{ID: 1, Question: "first"},
	}}
	s := newTestServer(&stubIndex{}, &stubCompletion{}, store)

	rec := httptest.NewRecorder()
	s.handleRecent(rec, httptest.NewRequest(http.MethodGet, "/api/conversations/recent?limit=2", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var records []entities.ConversationRecord
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &records))
	assert.Len(t, records, 2)
}

func TestHandleStoreStats(t *testing.T) {
	store := &stubStore{stats: entities.StoreStats{
		TotalConversations: 7,
		AvgSimilarityScore: 0.61,
		TopSources:         []entities.SourceCount{{File: "a.pdf", Count: 4}},
	}}
	s := newTestServer(&stubIndex{}, &stubCompletion{}, store)

	rec := httptest.NewRecorder()
	s.handleStoreStats(rec, httptest.NewRequest(http.MethodGet, "/api/conversations/stats", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var stats entities.StoreStats
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &stats))
	assert.Equal(t, 7, stats.TotalConversations)
	require.Len(t, stats.TopSources, 1)
	assert.Equal(t, "a.pdf", stats.TopSources[0].File)
}

func TestHandleHealth(t *testing.T) {
	s := newTestServer(&stubIndex{}, &stubCompletion{}, &stubStore{})

	rec := httptest.NewRecorder()
	s.handleHealth(rec, httptest.NewRequest(http.MethodGet, "/api/health", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}
