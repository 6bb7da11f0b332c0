// Package retrieval implements the AI Adapter's bounded retrieval layer
// (prompt-assembly layer 6): fetching a handful of explicitly-relevant
// prior session spans by cosine similarity over stored embeddings,
// never unbounded history. Adapted from the agents/rag package's
// VectorStore/cosine-similarity search onto boardroom session spans
// instead of codebase chunks.
package retrieval

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"time"
)

// Span is one embedded, retrievable prior moment: a Q&A turn from a
// completed session, or a past quarterly/weekly output.
type Span struct {
	ID         string
	SourceType string // "session_turn", "quarterly_output", "weekly_brief"
	SourceID   string
	Content    string
	Embedding  []float32
	CreatedAt  time.Time
}

// Match is one retrieval hit, ranked by similarity to the query vector.
type Match struct {
	Span       Span
	Similarity float64
}

// Store persists spans and answers bounded similarity queries against
// them, backed by the same SQLite file as the rest of the Store.
type Store struct {
	db *sql.DB
}

func NewStore(db *sql.DB) (*Store, error) {
	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("retrieval: migrate: %w", err)
	}
	return s, nil
}

func (s *Store) migrate() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS retrieval_spans (
			id TEXT PRIMARY KEY,
			source_type TEXT NOT NULL,
			source_id TEXT NOT NULL,
			content TEXT NOT NULL,
			embedding TEXT NOT NULL,
			created_at_utc DATETIME NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_retrieval_spans_source ON retrieval_spans(source_type, source_id);
	`)
	return err
}

// Put stores (or replaces) one span's embedding.
func (s *Store) Put(ctx context.Context, span Span) error {
	embJSON, err := json.Marshal(span.Embedding)
	if err != nil {
		return fmt.Errorf("retrieval: marshal embedding: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO retrieval_spans (id, source_type, source_id, content, embedding, created_at_utc)
		VALUES (?, ?, ?, ?, ?, ?)
	`, span.ID, span.SourceType, span.SourceID, span.Content, string(embJSON), span.CreatedAt)
	return err
}

// SearchOptions bounds a retrieval query; Limit defaults to 5 when unset,
// keeping layer 6 of the prompt small regardless of corpus size.
type SearchOptions struct {
	SourceType    string
	Limit         int
	MinSimilarity float64
}

// Search returns the top matches for queryVec, highest similarity
// first, bounded by opts.Limit - the retrieval layer never hands the AI
// Adapter unbounded history.
func (s *Store) Search(ctx context.Context, queryVec []float32, opts SearchOptions) ([]Match, error) {
	query := `SELECT id, source_type, source_id, content, embedding, created_at_utc FROM retrieval_spans`
	var args []any
	if opts.SourceType != "" {
		query += ` WHERE source_type = ?`
		args = append(args, opts.SourceType)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var matches []Match
	for rows.Next() {
		var span Span
		var embJSON string
		if err := rows.Scan(&span.ID, &span.SourceType, &span.SourceID, &span.Content, &embJSON, &span.CreatedAt); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(embJSON), &span.Embedding); err != nil {
			continue
		}
		sim := cosineSimilarity(queryVec, span.Embedding)
		if sim >= opts.MinSimilarity {
			matches = append(matches, Match{Span: span, Similarity: sim})
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	sort.Slice(matches, func(i, j int) bool { return matches[i].Similarity > matches[j].Similarity })

	limit := opts.Limit
	if limit == 0 {
		limit = 5
	}
	if len(matches) > limit {
		matches = matches[:limit]
	}
	return matches, nil
}

func cosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
