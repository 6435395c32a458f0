// Package store provides durable conversation persistence.
// Clean Architecture: Adapter implementing ports.ConversationStore.
// Each logical store name maps to one SQLite database file plus one JSON
// config snapshot under the save directory.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3" // SQLite driver

	"github.com/askpdf/askpdf-go/internal/domain/entities"
	"github.com/askpdf/askpdf-go/internal/domain/ports"
)

// SQLiteStore persists conversation logs to per-name SQLite databases.
// Writes are serialized per store so a record's source rows are never
// readable without their parent row.
type SQLiteStore struct {
	saveDir string

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewSQLiteStore creates a store rooted at saveDir (default "rag_saves").
func NewSQLiteStore(saveDir string) (*SQLiteStore, error) {
	if saveDir == "" {
		saveDir = "rag_saves"
	}
	if err := os.MkdirAll(saveDir, 0755); err != nil {
		return nil, fmt.Errorf("%w: creating save directory: %v", ports.ErrStoreUnavailable, err)
	}
	return &SQLiteStore{
		saveDir: saveDir,
		locks:   make(map[string]*sync.Mutex),
	}, nil
}

// lock returns the write lock for one logical store.
func (s *SQLiteStore) lock(name string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.locks[name]
	if !ok {
		l = &sync.Mutex{}
		s.locks[name] = l
	}
	return l
}

func validateName(name string) error {
	if name == "" || strings.ContainsAny(name, `/\`) {
		return fmt.Errorf("%w: invalid store name %q", ports.ErrStoreUnavailable, name)
	}
	return nil
}

func (s *SQLiteStore) configPath(name string) string {
	return filepath.Join(s.saveDir, name+"_config.json")
}

func (s *SQLiteStore) dbPath(name string) string {
	return filepath.Join(s.saveDir, name+"_conversations.db")
}

// SaveConfig writes a point-in-time system identity snapshot as JSON.
func (s *SQLiteStore) SaveConfig(name string, cfg entities.SystemConfig) error {
	if err := validateName(name); err != nil {
		return err
	}
	cfg.Name = name
	if cfg.CreatedAt.IsZero() {
		cfg.CreatedAt = time.Now().UTC()
	}
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding config: %w", err)
	}
	if err := os.WriteFile(s.configPath(name), data, 0644); err != nil {
		return fmt.Errorf("%w: writing config: %v", ports.ErrStoreUnavailable, err)
	}
	return nil
}

// LoadConfig reads a snapshot back. A missing snapshot is
// ports.ErrConfigNotFound, distinct from an empty conversation set.
func (s *SQLiteStore) LoadConfig(name string) (entities.SystemConfig, error) {
	if err := validateName(name); err != nil {
		return entities.SystemConfig{}, err
	}
	data, err := os.ReadFile(s.configPath(name))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return entities.SystemConfig{}, fmt.Errorf("%w: %s", ports.ErrConfigNotFound, name)
		}
		return entities.SystemConfig{}, fmt.Errorf("%w: reading config: %v", ports.ErrStoreUnavailable, err)
	}
	var cfg entities.SystemConfig
	if err := json.Unmarshal(data, &cfg); err != nil {
		return entities.SystemConfig{}, fmt.Errorf("decoding config: %w", err)
	}
	return cfg, nil
}

// openDB opens the store's database with foreign keys enabled so the
// sources cascade actually fires.
func (s *SQLiteStore) openDB(name string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", s.dbPath(name)+"?_foreign_keys=on&_loc=UTC")
	if err != nil {
		return nil, fmt.Errorf("%w: opening database: %v", ports.ErrStoreUnavailable, err)
	}
	return db, nil
}

// initSchema creates tables and indices. Safe to call repeatedly.
func initSchema(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS conversations (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		question TEXT NOT NULL,
		answer TEXT,
		num_contexts INTEGER,
		avg_similarity REAL,
		model_used TEXT,
		session_id TEXT
	);
	CREATE TABLE IF NOT EXISTS sources (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		conversation_id INTEGER NOT NULL,
		source_file TEXT,
		page TEXT,
		similarity REAL,
		FOREIGN KEY(conversation_id) REFERENCES conversations(id)
			ON DELETE CASCADE
	);
	CREATE INDEX IF NOT EXISTS idx_conversations_session ON conversations(session_id);
	CREATE INDEX IF NOT EXISTS idx_conversations_created ON conversations(created_at);
	CREATE INDEX IF NOT EXISTS idx_sources_conversation ON sources(conversation_id);
	`
	_, err := db.Exec(schema)
	return err
}

// PersistConversations inserts one record per entry, each in its own
// transaction together with its source rows. avg_similarity is computed
// at write time from the entry's sources (0 if none). An empty sessionID
// gets a generated UUID.
func (s *SQLiteStore) PersistConversations(ctx context.Context, name string, entries []entities.ConversationEntry, sessionID string) error {
	if err := validateName(name); err != nil {
		return err
	}
	l := s.lock(name)
	l.Lock()
	defer l.Unlock()

	db, err := s.openDB(name)
	if err != nil {
		return err
	}
	defer db.Close()

	if err := initSchema(db); err != nil {
		return fmt.Errorf("%w: initializing schema: %v", ports.ErrStoreUnavailable, err)
	}

	if sessionID == "" {
		sessionID = uuid.NewString()
	}

	for _, entry := range entries {
		if err := insertEntry(ctx, db, entry, sessionID); err != nil {
			return err
		}
	}
	return nil
}

func insertEntry(ctx context.Context, db *sql.DB, entry entities.ConversationEntry, sessionID string) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: starting transaction: %v", ports.ErrStoreUnavailable, err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		INSERT INTO conversations
		(question, answer, num_contexts, avg_similarity, model_used, session_id)
		VALUES (?, ?, ?, ?, ?, ?)`,
		entry.Question,
		entry.Answer,
		entry.NumContexts,
		entities.AvgSimilarity(entry.Sources),
		entry.Model,
		sessionID,
	)
	if err != nil {
		return fmt.Errorf("%w: inserting conversation: %v", ports.ErrStoreUnavailable, err)
	}

	convID, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("%w: reading insert id: %v", ports.ErrStoreUnavailable, err)
	}

	for _, src := range entry.Sources {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO sources (conversation_id, source_file, page, similarity)
			VALUES (?, ?, ?, ?)`,
			convID, src.File, src.Page, src.Similarity,
		); err != nil {
			return fmt.Errorf("%w: inserting source: %v", ports.ErrStoreUnavailable, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: committing record: %v", ports.ErrStoreUnavailable, err)
	}
	return nil
}

// exists reports whether the store's database file has been created.
func (s *SQLiteStore) exists(name string) bool {
	_, err := os.Stat(s.dbPath(name))
	return err == nil
}

// LoadRecent returns up to limit records ordered by creation time
// descending, each with its source rows attached. A store that was
// never written to yields an empty result, not an error.
func (s *SQLiteStore) LoadRecent(ctx context.Context, name string, limit int) ([]entities.ConversationRecord, error) {
	if err := validateName(name); err != nil {
		return nil, err
	}
	if !s.exists(name) {
		return []entities.ConversationRecord{}, nil
	}

	db, err := s.openDB(name)
	if err != nil {
		return nil, err
	}
	defer db.Close()

	rows, err := db.QueryContext(ctx, `
		SELECT id, question, answer, num_contexts, avg_similarity, model_used, session_id, created_at
		FROM conversations
		ORDER BY created_at DESC, id DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("%w: querying conversations: %v", ports.ErrStoreUnavailable, err)
	}
	records, err := scanRecords(rows)
	if err != nil {
		return nil, err
	}
	if err := attachSources(ctx, db, records); err != nil {
		return nil, err
	}
	return records, nil
}

// Search returns records whose question or answer contains text and
// whose avg_similarity clears minSimilarity, newest first. The threshold
// applies to both text branches. Matching uses SQLite LIKE, which is
// case-insensitive for ASCII.
func (s *SQLiteStore) Search(ctx context.Context, name, text string, minSimilarity float64) ([]entities.ConversationRecord, error) {
	if err := validateName(name); err != nil {
		return nil, err
	}
	if !s.exists(name) {
		return []entities.ConversationRecord{}, nil
	}

	db, err := s.openDB(name)
	if err != nil {
		return nil, err
	}
	defer db.Close()

	pattern := "%" + text + "%"
	rows, err := db.QueryContext(ctx, `
		SELECT id, question, answer, num_contexts, avg_similarity, model_used, session_id, created_at
		FROM conversations
		WHERE (question LIKE ? OR answer LIKE ?) AND avg_similarity >= ?
		ORDER BY created_at DESC, id DESC`,
		pattern, pattern, minSimilarity)
	if err != nil {
		return nil, fmt.Errorf("%w: searching conversations: %v", ports.ErrStoreUnavailable, err)
	}
	records, err := scanRecords(rows)
	if err != nil {
		return nil, err
	}
	if err := attachSources(ctx, db, records); err != nil {
		return nil, err
	}
	return records, nil
}

func scanRecords(rows *sql.Rows) ([]entities.ConversationRecord, error) {
	defer rows.Close()

	var records []entities.ConversationRecord
	for rows.Next() {
		var rec entities.ConversationRecord
		var answer, model, session sql.NullString
		if err := rows.Scan(&rec.ID, &rec.Question, &answer, &rec.NumContexts,
			&rec.AvgSimilarity, &model, &session, &rec.CreatedAt); err != nil {
			return nil, fmt.Errorf("%w: scanning conversation: %v", ports.ErrStoreUnavailable, err)
		}
		rec.Answer = answer.String
		rec.ModelUsed = model.String
		rec.SessionID = session.String
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: iterating conversations: %v", ports.ErrStoreUnavailable, err)
	}
	return records, nil
}

func attachSources(ctx context.Context, db *sql.DB, records []entities.ConversationRecord) error {
	for i := range records {
		rows, err := db.QueryContext(ctx, `
			SELECT source_file, page, similarity
			FROM sources
			WHERE conversation_id = ?`, records[i].ID)
		if err != nil {
			return fmt.Errorf("%w: querying sources: %v", ports.ErrStoreUnavailable, err)
		}
		for rows.Next() {
			var src entities.StoredSource
			var file, page sql.NullString
			if err := rows.Scan(&file, &page, &src.Similarity); err != nil {
				rows.Close()
				return fmt.Errorf("%w: scanning source: %v", ports.ErrStoreUnavailable, err)
			}
			src.File = file.String
			src.Page = page.String
			records[i].Sources = append(records[i].Sources, src)
		}
		if err := rows.Err(); err != nil {
			rows.Close()
			return fmt.Errorf("%w: iterating sources: %v", ports.ErrStoreUnavailable, err)
		}
		rows.Close()
	}
	return nil
}

// Stats aggregates the store: totals, rounded averages, and the five
// most-cited source files.
func (s *SQLiteStore) Stats(ctx context.Context, name string) (entities.StoreStats, error) {
	if err := validateName(name); err != nil {
		return entities.StoreStats{}, err
	}
	if !s.exists(name) {
		return entities.StoreStats{}, nil
	}

	db, err := s.openDB(name)
	if err != nil {
		return entities.StoreStats{}, err
	}
	defer db.Close()

	var stats entities.StoreStats
	if err := db.QueryRowContext(ctx,
		"SELECT COUNT(*), COALESCE(AVG(avg_similarity), 0), COALESCE(AVG(num_contexts), 0) FROM conversations",
	).Scan(&stats.TotalConversations, &stats.AvgSimilarityScore, &stats.AvgContextsPerQuery); err != nil {
		return entities.StoreStats{}, fmt.Errorf("%w: aggregating conversations: %v", ports.ErrStoreUnavailable, err)
	}
	stats.AvgSimilarityScore = roundTo(stats.AvgSimilarityScore, 3)
	stats.AvgContextsPerQuery = roundTo(stats.AvgContextsPerQuery, 2)

	rows, err := db.QueryContext(ctx, `
		SELECT source_file, COUNT(*) as count
		FROM sources
		GROUP BY source_file
		ORDER BY count DESC
		LIMIT 5`)
	if err != nil {
		return entities.StoreStats{}, fmt.Errorf("%w: aggregating sources: %v", ports.ErrStoreUnavailable, err)
	}
	defer rows.Close()
	for rows.Next() {
		var sc entities.SourceCount
		if err := rows.Scan(&sc.File, &sc.Count); err != nil {
			return entities.StoreStats{}, fmt.Errorf("%w: scanning source count: %v", ports.ErrStoreUnavailable, err)
		}
		stats.TopSources = append(stats.TopSources, sc)
	}
	if err := rows.Err(); err != nil {
		return entities.StoreStats{}, fmt.Errorf("%w: iterating source counts: %v", ports.ErrStoreUnavailable, err)
	}

	return stats, nil
}

// DeleteConversation removes one record; the foreign key cascade removes
// its source rows. Administrative operation.
func (s *SQLiteStore) DeleteConversation(ctx context.Context, name string, id int64) error {
	if err := validateName(name); err != nil {
		return err
	}
	if !s.exists(name) {
		return nil
	}
	l := s.lock(name)
	l.Lock()
	defer l.Unlock()

	db, err := s.openDB(name)
	if err != nil {
		return err
	}
	defer db.Close()

	if _, err := db.ExecContext(ctx, "DELETE FROM conversations WHERE id = ?", id); err != nil {
		return fmt.Errorf("%w: deleting conversation: %v", ports.ErrStoreUnavailable, err)
	}
	return nil
}

func roundTo(v float64, places int) float64 {
	factor := math.Pow(10, float64(places))
	return math.Round(v*factor) / factor
}
