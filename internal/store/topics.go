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

// AddTopic inserts a new topic. Topic names are unique per user.
func (s *SQLiteStore) AddTopic(ctx context.Context, t *Topic) error {
	if strings.TrimSpace(t.Name) == "" {
		return fmt.Errorf("topic name is required")
	}
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	t.CreatedAt = time.Now().UTC()

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO topics (id, user_id, name, created_at) VALUES (?, ?, ?, ?)`,
		t.ID, t.UserID, t.Name, t.CreatedAt)
	if err != nil {
		return fmt.Errorf("inserting topic: %w", err)
	}
	return nil
}

// GetTopic fetches one topic scoped to the user.
func (s *SQLiteStore) GetTopic(ctx context.Context, userID, id string) (*Topic, error) {
	t := &Topic{}
	err := s.db.QueryRowContext(ctx,
		`SELECT id, user_id, name, created_at FROM topics WHERE id = ? AND user_id = ?`,
		id, userID,
	).Scan(&t.ID, &t.UserID, &t.Name, &t.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("getting topic %s: %w", id, err)
	}
	return t, nil
}

// ListTopics returns the user's topics, alphabetical.
func (s *SQLiteStore) ListTopics(ctx context.Context, userID string) ([]*Topic, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, user_id, name, created_at FROM topics
		 WHERE user_id = ? ORDER BY name ASC`, userID)
	if err != nil {
		return nil, fmt.Errorf("listing topics: %w", err)
	}
	defer rows.Close()

	var topics []*Topic
	for rows.Next() {
		t := &Topic{}
		if err := rows.Scan(&t.ID, &t.UserID, &t.Name, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning topic row: %w", err)
		}
		topics = append(topics, t)
	}
	return topics, rows.Err()
}

// AssignTopic attaches a topic to a highlight with an optional confidence
// score in [0,1]. Reassigning updates the confidence.
func (s *SQLiteStore) AssignTopic(ctx context.Context, highlightID, topicID string, confidence *float64) error {
	if confidence != nil && (*confidence < 0 || *confidence > 1) {
		return fmt.Errorf("confidence must be between 0 and 1")
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO highlight_topics (highlight_id, topic_id, confidence) VALUES (?, ?, ?)
		 ON CONFLICT(highlight_id, topic_id) DO UPDATE SET confidence = excluded.confidence`,
		highlightID, topicID, confidence)
	if err != nil {
		return fmt.Errorf("assigning topic %s to highlight %s: %w", topicID, highlightID, err)
	}
	return nil
}
