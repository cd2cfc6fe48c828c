// Package store provides the SQLite storage layer for marginalia.
//
// All user data lives in a single SQLite database file:
// - Books and their highlights, with optional embedding vectors
// - Topics and the highlight/topic join with confidence scores
// - Append-only search history
// - Hashed API keys for HTTP authentication
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// DefaultDBPath is the default database location.
const DefaultDBPath = "~/.marginalia/marginalia.db"

// DefaultEmbeddingDimensions matches OpenAI text-embedding-3-small.
const DefaultEmbeddingDimensions = 1536

// ErrNotFound is returned when a requested row does not exist
// or belongs to another user.
var ErrNotFound = errors.New("not found")

// BookSource enumerates where a book record came from.
const (
	BookSourceManual   = "manual"
	BookSourceImported = "imported"
)

// Book is the parent of highlights.
type Book struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	Title     string    `json:"title"`
	Author    string    `json:"author,omitempty"`
	Source    string    `json:"source"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Topic is a user-defined or AI-assigned label.
type Topic struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
}

// TopicRef is a topic attached to a highlight, with the join confidence.
type TopicRef struct {
	Topic
	Confidence *float64 `json:"confidence,omitempty"`
}

// Highlight is a saved quoted passage, the atomic unit of retrieval.
// Book and Topics are denormalized onto the struct by ListHighlights.
type Highlight struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	BookID    string    `json:"book_id"`
	Content   string    `json:"content"`
	Note      string    `json:"note,omitempty"`
	Page      int       `json:"page,omitempty"`
	Chapter   string    `json:"chapter,omitempty"`
	Color     string    `json:"color,omitempty"`
	Summary   string    `json:"summary,omitempty"`
	Embedding []float32 `json:"-"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	Book   *Book      `json:"book,omitempty"`
	Topics []TopicRef `json:"topics"`
}

// SearchHistoryEntry records one answered search. Append-only.
type SearchHistoryEntry struct {
	ID        int64     `json:"id"`
	UserID    string    `json:"user_id"`
	Query     string    `json:"query"`
	Answer    string    `json:"answer"`
	CreatedAt time.Time `json:"created_at"`
}

// DashboardStats holds per-user aggregate counts.
type DashboardStats struct {
	BookCount      int64 `json:"book_count"`
	HighlightCount int64 `json:"highlight_count"`
	TopicCount     int64 `json:"topic_count"`
	EmbeddedCount  int64 `json:"embedded_count"`
	SearchCount    int64 `json:"search_count"`
}

// Config holds configuration for NewStore.
type Config struct {
	DBPath string
}

// Store defines the storage interface consumed by the search engine,
// the HTTP server and the enrichment workers.
type Store interface {
	// Books
	AddBook(ctx context.Context, b *Book) error
	GetBook(ctx context.Context, userID, id string) (*Book, error)
	ListBooks(ctx context.Context, userID string) ([]*Book, error)
	UpdateBook(ctx context.Context, b *Book) error
	DeleteBook(ctx context.Context, userID, id string) error

	// Highlights
	AddHighlight(ctx context.Context, h *Highlight) error
	GetHighlight(ctx context.Context, userID, id string) (*Highlight, error)
	ListHighlights(ctx context.Context, userID string) ([]*Highlight, error)
	UpdateHighlight(ctx context.Context, h *Highlight) error
	DeleteHighlight(ctx context.Context, userID, id string) error

	// Enrichment
	SetEmbedding(ctx context.Context, highlightID string, vector []float32) error
	SetSummary(ctx context.Context, highlightID, summary string) error
	ListMissingEmbeddings(ctx context.Context, limit int) ([]*Highlight, error)

	// Topics
	AddTopic(ctx context.Context, t *Topic) error
	GetTopic(ctx context.Context, userID, id string) (*Topic, error)
	ListTopics(ctx context.Context, userID string) ([]*Topic, error)
	AssignTopic(ctx context.Context, highlightID, topicID string, confidence *float64) error

	// Search history
	RecordSearch(ctx context.Context, userID, query, answer string) error
	ListSearchHistory(ctx context.Context, userID string, limit int) ([]*SearchHistoryEntry, error)

	// API keys
	CreateAPIKey(ctx context.Context, userID, name string) (string, error)
	ResolveAPIKey(ctx context.Context, key string) (string, error)
	DeleteAPIKey(ctx context.Context, userID, name string) error

	// Observability
	Dashboard(ctx context.Context, userID string) (*DashboardStats, error)

	Close() error
}

// SQLiteStore implements Store using a single SQLite database.
type SQLiteStore struct {
	db     *sql.DB
	dbPath string
}

// NewStore creates a new SQLite-backed Store.
// Pass ":memory:" for in-memory databases (testing).
func NewStore(cfg Config) (*SQLiteStore, error) {
	if cfg.DBPath == "" {
		cfg.DBPath = expandPath(DefaultDBPath)
	}

	if cfg.DBPath != ":memory:" {
		dir := filepath.Dir(cfg.DBPath)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("creating db directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// Every pooled connection to ":memory:" would get its own database.
	if cfg.DBPath == ":memory:" {
		db.SetMaxOpenConns(1)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys=ON",
		"PRAGMA busy_timeout=5000",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("setting pragma %q: %w", p, err)
		}
	}

	s := &SQLiteStore{db: db, dbPath: cfg.DBPath}

	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return s, nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// expandPath expands ~ to the home directory.
func expandPath(path string) string {
	if len(path) > 0 && path[0] == '~' {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[1:])
	}
	return path
}
