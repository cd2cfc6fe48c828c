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

// AddBook inserts a new book. The ID is generated if empty.
func (s *SQLiteStore) AddBook(ctx context.Context, b *Book) error {
	if strings.TrimSpace(b.Title) == "" {
		return fmt.Errorf("book title is required")
	}
	if b.ID == "" {
		b.ID = uuid.NewString()
	}
	if b.Source == "" {
		b.Source = BookSourceManual
	}
	now := time.Now().UTC()
	b.CreatedAt = now
	b.UpdatedAt = now

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO books (id, user_id, title, author, source, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		b.ID, b.UserID, b.Title, b.Author, b.Source, b.CreatedAt, b.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("inserting book: %w", err)
	}
	return nil
}

// GetBook fetches one book scoped to the user.
func (s *SQLiteStore) GetBook(ctx context.Context, userID, id string) (*Book, error) {
	b := &Book{}
	err := s.db.QueryRowContext(ctx,
		`SELECT id, user_id, title, author, source, created_at, updated_at
		 FROM books WHERE id = ? AND user_id = ?`, id, userID,
	).Scan(&b.ID, &b.UserID, &b.Title, &b.Author, &b.Source, &b.CreatedAt, &b.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("getting book %s: %w", id, err)
	}
	return b, nil
}

// ListBooks returns the user's books, newest first.
func (s *SQLiteStore) ListBooks(ctx context.Context, userID string) ([]*Book, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, user_id, title, author, source, created_at, updated_at
		 FROM books WHERE user_id = ? ORDER BY created_at DESC, id DESC`, userID)
	if err != nil {
		return nil, fmt.Errorf("listing books: %w", err)
	}
	defer rows.Close()

	var books []*Book
	for rows.Next() {
		b := &Book{}
		if err := rows.Scan(&b.ID, &b.UserID, &b.Title, &b.Author, &b.Source, &b.CreatedAt, &b.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scanning book row: %w", err)
		}
		books = append(books, b)
	}
	return books, rows.Err()
}

// UpdateBook updates title, author and source of an existing book.
func (s *SQLiteStore) UpdateBook(ctx context.Context, b *Book) error {
	if strings.TrimSpace(b.Title) == "" {
		return fmt.Errorf("book title is required")
	}
	b.UpdatedAt = time.Now().UTC()
	res, err := s.db.ExecContext(ctx,
		`UPDATE books SET title = ?, author = ?, source = ?, updated_at = ?
		 WHERE id = ? AND user_id = ?`,
		b.Title, b.Author, b.Source, b.UpdatedAt, b.ID, b.UserID)
	if err != nil {
		return fmt.Errorf("updating book %s: %w", b.ID, err)
	}
	return requireRow(res)
}

// DeleteBook removes a book. Highlights cascade via foreign key.
func (s *SQLiteStore) DeleteBook(ctx context.Context, userID, id string) error {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM books WHERE id = ? AND user_id = ?`, id, userID)
	if err != nil {
		return fmt.Errorf("deleting book %s: %w", id, err)
	}
	return requireRow(res)
}

// requireRow converts a zero-row UPDATE/DELETE into ErrNotFound.
func requireRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
