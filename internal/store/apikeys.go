package store

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"
)

const apiKeyPrefix = "mgl_"

// CreateAPIKey mints a new API key for the user and stores its SHA-256 hash.
// The plaintext key is returned exactly once and never persisted.
func (s *SQLiteStore) CreateAPIKey(ctx context.Context, userID, name string) (string, error) {
	if strings.TrimSpace(name) == "" {
		return "", fmt.Errorf("key name is required")
	}

	raw := make([]byte, 24)
	if _, err := rand.Read(raw); err != nil {
		return "", fmt.Errorf("generating key material: %w", err)
	}
	key := apiKeyPrefix + hex.EncodeToString(raw)

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO api_keys (key_hash, user_id, name, created_at) VALUES (?, ?, ?, ?)`,
		hashAPIKey(key), userID, name, time.Now().UTC())
	if err != nil {
		return "", fmt.Errorf("storing api key: %w", err)
	}
	return key, nil
}

// ResolveAPIKey maps a plaintext API key to its owning user.
// Returns ErrNotFound for unknown keys.
func (s *SQLiteStore) ResolveAPIKey(ctx context.Context, key string) (string, error) {
	var userID string
	err := s.db.QueryRowContext(ctx,
		`SELECT user_id FROM api_keys WHERE key_hash = ?`, hashAPIKey(key),
	).Scan(&userID)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("resolving api key: %w", err)
	}
	return userID, nil
}

// DeleteAPIKey revokes the user's named key.
func (s *SQLiteStore) DeleteAPIKey(ctx context.Context, userID, name string) error {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM api_keys WHERE user_id = ? AND name = ?`, userID, name)
	if err != nil {
		return fmt.Errorf("deleting api key: %w", err)
	}
	return requireRow(res)
}

func hashAPIKey(key string) string {
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:])
}
