// Package export renders conversation logs into interchange formats.
package export

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/askpdf/askpdf-go/internal/domain/entities"
)

// jsonEnvelope is the top-level shape of a JSON export.
type jsonEnvelope struct {
	ExportedAt    time.Time                    `json:"exported_at"`
	Conversations []entities.ConversationEntry `json:"conversations"`
}

// WriteJSON writes the entries as an indented JSON document wrapped with
// an export timestamp.
func WriteJSON(w io.Writer, entries []entities.ConversationEntry) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(jsonEnvelope{
		ExportedAt:    time.Now().UTC(),
		Conversations: entries,
	}); err != nil {
		return fmt.Errorf("encoding export: %w", err)
	}
	return nil
}

// WriteCSV writes one row per entry with a semicolon-joined source list.
func WriteCSV(w io.Writer, entries []entities.ConversationEntry) error {
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"question", "answer", "num_contexts", "model", "sources"}); err != nil {
		return fmt.Errorf("writing header: %w", err)
	}
	for _, e := range entries {
		files := make([]string, len(e.Sources))
		for i, s := range e.Sources {
			files[i] = fmt.Sprintf("%s p.%s", s.File, s.Page)
		}
		row := []string{
			e.Question,
			e.Answer,
			fmt.Sprintf("%d", e.NumContexts),
			e.Model,
			strings.Join(files, "; "),
		}
		if err := cw.Write(row); err != nil {
			return fmt.Errorf("writing row: %w", err)
		}
	}
	cw.Flush()
	return cw.Error()
}
