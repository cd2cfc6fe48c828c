package store

import (
	"context"
	"fmt"
)

// Dashboard returns per-user aggregate counts for the dashboard view.
func (s *SQLiteStore) Dashboard(ctx context.Context, userID string) (*DashboardStats, error) {
	stats := &DashboardStats{}

	queries := []struct {
		sql  string
		dest *int64
	}{
		{`SELECT COUNT(*) FROM books WHERE user_id = ?`, &stats.BookCount},
		{`SELECT COUNT(*) FROM highlights WHERE user_id = ?`, &stats.HighlightCount},
		{`SELECT COUNT(*) FROM topics WHERE user_id = ?`, &stats.TopicCount},
		{`SELECT COUNT(*) FROM highlights WHERE user_id = ? AND dimensions > 0`, &stats.EmbeddedCount},
		{`SELECT COUNT(*) FROM search_history WHERE user_id = ?`, &stats.SearchCount},
	}
	for _, q := range queries {
		if err := s.db.QueryRowContext(ctx, q.sql, userID).Scan(q.dest); err != nil {
			return nil, fmt.Errorf("computing dashboard stats: %w", err)
		}
	}
	return stats, nil
}
