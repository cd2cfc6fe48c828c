// Package ingest imports reading highlights from export files.
//
// Each supported format (CSV/TSV, JSON, Markdown) has its own importer
// implementing the Importer interface; the engine picks one by file
// extension. Imported rows are grouped by book title, books are created
// with source "imported", and highlights are stored unembedded. The
// backfill worker picks them up afterwards.
package ingest

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/marginalia-dev/marginalia/internal/store"
)

// RawHighlight is one parsed highlight before it is persisted.
type RawHighlight struct {
	BookTitle  string
	BookAuthor string
	Content    string
	Note       string
	Page       int
	Chapter    string
	Color      string
}

// Importer parses one file format into raw highlights.
type Importer interface {
	CanHandle(path string) bool
	Import(ctx context.Context, path string) ([]RawHighlight, error)
}

// Result reports one import run.
type Result struct {
	BooksCreated int
	Highlights   int
	Skipped      int
}

// Storage is the slice of the store the import engine writes to.
type Storage interface {
	AddBook(ctx context.Context, b *store.Book) error
	ListBooks(ctx context.Context, userID string) ([]*store.Book, error)
	AddHighlight(ctx context.Context, h *store.Highlight) error
}

// Engine dispatches files to format importers and persists the result.
type Engine struct {
	store     Storage
	importers []Importer
}

// NewEngine creates an import engine with all format importers registered.
func NewEngine(st Storage) *Engine {
	return &Engine{
		store: st,
		importers: []Importer{
			&CSVImporter{},
			&JSONImporter{},
			&MarkdownImporter{},
		},
	}
}

// ImportFile parses the file and stores its highlights for the user.
// defaultBook is used for rows that carry no book title of their own;
// rows with neither are skipped.
func (e *Engine) ImportFile(ctx context.Context, userID, path, defaultBook string) (*Result, error) {
	importer := e.importerFor(path)
	if importer == nil {
		return nil, fmt.Errorf("unsupported file type %q (supported: .csv, .tsv, .json, .md)", filepath.Ext(path))
	}

	raw, err := importer.Import(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("importing %s: %w", path, err)
	}

	res := &Result{}

	// Reuse the user's existing books by title so re-imports do not
	// duplicate them.
	books, err := e.store.ListBooks(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("listing books: %w", err)
	}
	byTitle := make(map[string]*store.Book, len(books))
	for _, b := range books {
		byTitle[strings.ToLower(b.Title)] = b
	}

	for _, rh := range raw {
		title := strings.TrimSpace(rh.BookTitle)
		if title == "" {
			title = strings.TrimSpace(defaultBook)
		}
		if title == "" || strings.TrimSpace(rh.Content) == "" {
			res.Skipped++
			continue
		}

		book, ok := byTitle[strings.ToLower(title)]
		if !ok {
			book = &store.Book{
				UserID: userID,
				Title:  title,
				Author: rh.BookAuthor,
				Source: store.BookSourceImported,
			}
			if err := e.store.AddBook(ctx, book); err != nil {
				return res, fmt.Errorf("creating book %q: %w", title, err)
			}
			byTitle[strings.ToLower(title)] = book
			res.BooksCreated++
		}

		h := &store.Highlight{
			UserID:  userID,
			BookID:  book.ID,
			Content: strings.TrimSpace(rh.Content),
			Note:    strings.TrimSpace(rh.Note),
			Page:    rh.Page,
			Chapter: rh.Chapter,
			Color:   rh.Color,
		}
		if err := e.store.AddHighlight(ctx, h); err != nil {
			return res, fmt.Errorf("storing highlight from %s: %w", path, err)
		}
		res.Highlights++
	}

	return res, nil
}

func (e *Engine) importerFor(path string) Importer {
	for _, imp := range e.importers {
		if imp.CanHandle(path) {
			return imp
		}
	}
	return nil
}
