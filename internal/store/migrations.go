package store

import "fmt"

// migrate creates all tables if they don't exist. Every statement is
// idempotent, so running migrations on an existing database is a no-op.
func (s *SQLiteStore) migrate() error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS books (
			id         TEXT PRIMARY KEY,
			user_id    TEXT NOT NULL,
			title      TEXT NOT NULL,
			author     TEXT NOT NULL DEFAULT '',
			source     TEXT NOT NULL DEFAULT 'manual',
			created_at DATETIME NOT NULL,
			updated_at DATETIME NOT NULL
		)`,

		`CREATE TABLE IF NOT EXISTS highlights (
			id         TEXT PRIMARY KEY,
			user_id    TEXT NOT NULL,
			book_id    TEXT NOT NULL REFERENCES books(id) ON DELETE CASCADE,
			content    TEXT NOT NULL,
			note       TEXT NOT NULL DEFAULT '',
			page       INTEGER,
			chapter    TEXT NOT NULL DEFAULT '',
			color      TEXT NOT NULL DEFAULT '',
			summary    TEXT NOT NULL DEFAULT '',
			embedding  BLOB,
			dimensions INTEGER NOT NULL DEFAULT 0,
			created_at DATETIME NOT NULL,
			updated_at DATETIME NOT NULL
		)`,

		`CREATE TABLE IF NOT EXISTS topics (
			id         TEXT PRIMARY KEY,
			user_id    TEXT NOT NULL,
			name       TEXT NOT NULL,
			created_at DATETIME NOT NULL,
			UNIQUE(user_id, name)
		)`,

		`CREATE TABLE IF NOT EXISTS highlight_topics (
			highlight_id TEXT NOT NULL REFERENCES highlights(id) ON DELETE CASCADE,
			topic_id     TEXT NOT NULL REFERENCES topics(id) ON DELETE CASCADE,
			confidence   REAL,
			PRIMARY KEY (highlight_id, topic_id)
		)`,

		`CREATE TABLE IF NOT EXISTS search_history (
			id         INTEGER PRIMARY KEY AUTOINCREMENT,
			user_id    TEXT NOT NULL,
			query      TEXT NOT NULL,
			answer     TEXT NOT NULL,
			created_at DATETIME NOT NULL
		)`,

		`CREATE TABLE IF NOT EXISTS api_keys (
			key_hash   TEXT PRIMARY KEY,
			user_id    TEXT NOT NULL,
			name       TEXT NOT NULL,
			created_at DATETIME NOT NULL,
			UNIQUE(user_id, name)
		)`,

		`CREATE INDEX IF NOT EXISTS idx_books_user ON books(user_id)`,
		`CREATE INDEX IF NOT EXISTS idx_highlights_user ON highlights(user_id, created_at DESC)`,
		`CREATE INDEX IF NOT EXISTS idx_highlights_book ON highlights(book_id)`,
		`CREATE INDEX IF NOT EXISTS idx_topics_user ON topics(user_id)`,
		`CREATE INDEX IF NOT EXISTS idx_history_user ON search_history(user_id, created_at DESC)`,
	}

	for _, stmt := range statements {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("executing migration: %w", err)
		}
	}
	return nil
}
