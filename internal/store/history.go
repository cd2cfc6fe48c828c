package store

import (
	"context"
	"fmt"
	"time"
)

// RecordSearch appends one answered search to the history log.
// History rows are never mutated or deleted.
func (s *SQLiteStore) RecordSearch(ctx context.Context, userID, query, answer string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO search_history (user_id, query, answer, created_at) VALUES (?, ?, ?, ?)`,
		userID, query, answer, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("recording search: %w", err)
	}
	return nil
}

// ListSearchHistory returns the user's most recent searches, newest first.
func (s *SQLiteStore) ListSearchHistory(ctx context.Context, userID string, limit int) ([]*SearchHistoryEntry, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, user_id, query, answer, created_at FROM search_history
		 WHERE user_id = ? ORDER BY created_at DESC, id DESC LIMIT ?`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("listing search history: %w", err)
	}
	defer rows.Close()

	var entries []*SearchHistoryEntry
	for rows.Next() {
		e := &SearchHistoryEntry{}
		if err := rows.Scan(&e.ID, &e.UserID, &e.Query, &e.Answer, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning history row: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
