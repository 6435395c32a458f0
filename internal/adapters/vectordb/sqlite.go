package vectordb

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	_ "github.com/mattn/go-sqlite3" // SQLite driver

	"github.com/askpdf/askpdf-go/internal/domain/entities"
	"github.com/askpdf/askpdf-go/internal/domain/ports"
)

// SQLiteIndex implements ports.VectorIndex with SQLite-backed
// persistence and brute-force scan. Embeddings are stored as JSON blobs;
// good enough for corpora that fit a single machine.
type SQLiteIndex struct {
	mu       sync.RWMutex
	db       *sql.DB
	dataPath string
}

// NewSQLiteIndex opens (or creates) a persistent index under dataPath.
func NewSQLiteIndex(dataPath string) (*SQLiteIndex, error) {
	if dataPath == "" {
		dataPath = "./data"
	}

	if err := os.MkdirAll(dataPath, 0755); err != nil {
		return nil, fmt.Errorf("creating data directory: %w", err)
	}

	dbPath := filepath.Join(dataPath, "vectors.db")
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	idx := &SQLiteIndex{
		db:       db,
		dataPath: dataPath,
	}

	if err := idx.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("initializing schema: %w", err)
	}

	return idx, nil
}

// initSchema creates the necessary tables.
func (s *SQLiteIndex) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS chunks (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		content TEXT NOT NULL,
		source_file TEXT NOT NULL,
		page TEXT,
		embedding BLOB NOT NULL,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);
	CREATE INDEX IF NOT EXISTS idx_chunks_source_file ON chunks(source_file);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Add persists embedded chunks.
func (s *SQLiteIndex) Add(ctx context.Context, chunks []IndexedChunk) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO chunks (content, source_file, page, embedding)
		VALUES (?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("preparing statement: %w", err)
	}
	defer stmt.Close()

	for _, chunk := range chunks {
		embeddingJSON, err := json.Marshal(chunk.Embedding)
		if err != nil {
			return fmt.Errorf("encoding embedding: %w", err)
		}
		if _, err := stmt.ExecContext(ctx, chunk.Content, chunk.SourceFile, chunk.Page, embeddingJSON); err != nil {
			return fmt.Errorf("inserting chunk: %w", err)
		}
	}

	return tx.Commit()
}

// Query loads all chunks and scores them against the vector (brute force).
func (s *SQLiteIndex) Query(ctx context.Context, vector []float32, k int) ([]ports.IndexHit, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT content, source_file, page, embedding
		FROM chunks
	`)
	if err != nil {
		return nil, fmt.Errorf("querying chunks: %w", err)
	}
	defer rows.Close()

	var hits []ports.IndexHit
	for rows.Next() {
		var content, sourceFile string
		var page sql.NullString
		var embeddingJSON []byte

		if err := rows.Scan(&content, &sourceFile, &page, &embeddingJSON); err != nil {
			return nil, fmt.Errorf("scanning row: %w", err)
		}

		var embedding []float32
		if err := json.Unmarshal(embeddingJSON, &embedding); err != nil {
			continue // skip corrupted embeddings
		}

		hits = append(hits, ports.IndexHit{
			Content:    content,
			SourceFile: sourceFile,
			Page:       page.String,
			Score:      cosineSimilarity(vector, embedding),
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating rows: %w", err)
	}

	sort.SliceStable(hits, func(i, j int) bool {
		return hits[i].Score > hits[j].Score
	})

	if len(hits) > k {
		hits = hits[:k]
	}
	return hits, nil
}

// Count returns the number of stored chunks.
func (s *SQLiteIndex) Count(ctx context.Context) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM chunks").Scan(&count)
	return count, err
}

// Metric reports that scores are cosine similarities.
func (s *SQLiteIndex) Metric() entities.MetricKind {
	return entities.MetricSimilarity
}

// Close closes the database connection.
func (s *SQLiteIndex) Close() error {
	return s.db.Close()
}
