package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

const highlightColumns = `id, user_id, book_id, content, note, page, chapter,
	color, summary, embedding, dimensions, created_at, updated_at`

// AddHighlight inserts a new highlight. The ID is generated if empty.
// Content must be non-empty and page, when set, must be positive.
func (s *SQLiteStore) AddHighlight(ctx context.Context, h *Highlight) error {
	if strings.TrimSpace(h.Content) == "" {
		return fmt.Errorf("highlight content is required")
	}
	if h.Page < 0 {
		return fmt.Errorf("page must be positive")
	}
	if h.ID == "" {
		h.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	h.CreatedAt = now
	h.UpdatedAt = now

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO highlights (id, user_id, book_id, content, note, page, chapter,
			color, summary, embedding, dimensions, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, NULLIF(?, 0), ?, ?, ?, ?, ?, ?, ?)`,
		h.ID, h.UserID, h.BookID, h.Content, h.Note, h.Page, h.Chapter,
		h.Color, h.Summary, float32ToBytes(h.Embedding), len(h.Embedding),
		h.CreatedAt, h.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("inserting highlight: %w", err)
	}
	return nil
}

// GetHighlight fetches one highlight scoped to the user, without relations.
func (s *SQLiteStore) GetHighlight(ctx context.Context, userID, id string) (*Highlight, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+highlightColumns+` FROM highlights WHERE id = ? AND user_id = ?`,
		id, userID)
	h, err := scanHighlight(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("getting highlight %s: %w", id, err)
	}
	return h, nil
}

// ListHighlights returns the user's full highlight corpus, newest first,
// with book and topic relations denormalized onto each highlight.
// The search engine depends on seeing the whole corpus in one read.
func (s *SQLiteStore) ListHighlights(ctx context.Context, userID string) ([]*Highlight, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT h.id, h.user_id, h.book_id, h.content, h.note, h.page, h.chapter,
			h.color, h.summary, h.embedding, h.dimensions, h.created_at, h.updated_at,
			b.id, b.user_id, b.title, b.author, b.source, b.created_at, b.updated_at
		 FROM highlights h
		 JOIN books b ON h.book_id = b.id
		 WHERE h.user_id = ?
		 ORDER BY h.created_at DESC, h.id DESC`, userID)
	if err != nil {
		return nil, fmt.Errorf("listing highlights: %w", err)
	}
	defer rows.Close()

	var highlights []*Highlight
	byID := make(map[string]*Highlight)
	for rows.Next() {
		h := &Highlight{Topics: []TopicRef{}}
		b := &Book{}
		var blob []byte
		var page sql.NullInt64
		var dims int
		if err := rows.Scan(&h.ID, &h.UserID, &h.BookID, &h.Content, &h.Note, &page,
			&h.Chapter, &h.Color, &h.Summary, &blob, &dims, &h.CreatedAt, &h.UpdatedAt,
			&b.ID, &b.UserID, &b.Title, &b.Author, &b.Source, &b.CreatedAt, &b.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scanning highlight row: %w", err)
		}
		if page.Valid {
			h.Page = int(page.Int64)
		}
		h.Embedding = bytesToFloat32(blob)
		h.Book = b
		highlights = append(highlights, h)
		byID[h.ID] = h
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(highlights) == 0 {
		return highlights, nil
	}

	if err := s.attachTopics(ctx, userID, byID); err != nil {
		return nil, err
	}
	return highlights, nil
}

// attachTopics loads topic relations for the given highlights in one query.
func (s *SQLiteStore) attachTopics(ctx context.Context, userID string, byID map[string]*Highlight) error {
	rows, err := s.db.QueryContext(ctx,
		`SELECT ht.highlight_id, ht.confidence, t.id, t.user_id, t.name, t.created_at
		 FROM highlight_topics ht
		 JOIN highlights h ON ht.highlight_id = h.id
		 JOIN topics t ON ht.topic_id = t.id AND t.user_id = h.user_id
		 WHERE h.user_id = ?`, userID)
	if err != nil {
		return fmt.Errorf("listing highlight topics: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var highlightID string
		var confidence sql.NullFloat64
		t := Topic{}
		if err := rows.Scan(&highlightID, &confidence, &t.ID, &t.UserID, &t.Name, &t.CreatedAt); err != nil {
			return fmt.Errorf("scanning topic row: %w", err)
		}
		h, ok := byID[highlightID]
		if !ok {
			continue
		}
		ref := TopicRef{Topic: t}
		if confidence.Valid {
			c := confidence.Float64
			ref.Confidence = &c
		}
		h.Topics = append(h.Topics, ref)
	}
	return rows.Err()
}

// UpdateHighlight updates the user-editable fields. The stored embedding is
// cleared because the content it was computed from may have changed; the
// enrichment worker recomputes it.
func (s *SQLiteStore) UpdateHighlight(ctx context.Context, h *Highlight) error {
	if strings.TrimSpace(h.Content) == "" {
		return fmt.Errorf("highlight content is required")
	}
	if h.Page < 0 {
		return fmt.Errorf("page must be positive")
	}
	h.UpdatedAt = time.Now().UTC()
	res, err := s.db.ExecContext(ctx,
		`UPDATE highlights SET content = ?, note = ?, page = NULLIF(?, 0), chapter = ?,
			color = ?, embedding = NULL, dimensions = 0, updated_at = ?
		 WHERE id = ? AND user_id = ?`,
		h.Content, h.Note, h.Page, h.Chapter, h.Color, h.UpdatedAt, h.ID, h.UserID)
	if err != nil {
		return fmt.Errorf("updating highlight %s: %w", h.ID, err)
	}
	return requireRow(res)
}

// DeleteHighlight removes a highlight. Topic joins cascade.
func (s *SQLiteStore) DeleteHighlight(ctx context.Context, userID, id string) error {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM highlights WHERE id = ? AND user_id = ?`, id, userID)
	if err != nil {
		return fmt.Errorf("deleting highlight %s: %w", id, err)
	}
	return requireRow(res)
}

// SetEmbedding stores the embedding vector for a highlight, replacing any
// existing one.
func (s *SQLiteStore) SetEmbedding(ctx context.Context, highlightID string, vector []float32) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE highlights SET embedding = ?, dimensions = ? WHERE id = ?`,
		float32ToBytes(vector), len(vector), highlightID)
	if err != nil {
		return fmt.Errorf("storing embedding for highlight %s: %w", highlightID, err)
	}
	return requireRow(res)
}

// SetSummary stores the AI-generated summary for a highlight.
func (s *SQLiteStore) SetSummary(ctx context.Context, highlightID, summary string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE highlights SET summary = ? WHERE id = ?`, summary, highlightID)
	if err != nil {
		return fmt.Errorf("storing summary for highlight %s: %w", highlightID, err)
	}
	return requireRow(res)
}

// ListMissingEmbeddings returns highlights without a stored embedding,
// oldest first, across all users. Used by the backfill worker.
func (s *SQLiteStore) ListMissingEmbeddings(ctx context.Context, limit int) ([]*Highlight, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+highlightColumns+` FROM highlights
		 WHERE embedding IS NULL OR dimensions = 0
		 ORDER BY created_at ASC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("listing highlights missing embeddings: %w", err)
	}
	defer rows.Close()

	var highlights []*Highlight
	for rows.Next() {
		h, err := scanHighlight(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning highlight row: %w", err)
		}
		highlights = append(highlights, h)
	}
	return highlights, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanHighlight(row rowScanner) (*Highlight, error) {
	h := &Highlight{Topics: []TopicRef{}}
	var blob []byte
	var page sql.NullInt64
	var dims int
	err := row.Scan(&h.ID, &h.UserID, &h.BookID, &h.Content, &h.Note, &page,
		&h.Chapter, &h.Color, &h.Summary, &blob, &dims, &h.CreatedAt, &h.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if page.Valid {
		h.Page = int(page.Int64)
	}
	h.Embedding = bytesToFloat32(blob)
	return h, nil
}
