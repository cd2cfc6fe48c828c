package search

import (
	"strings"

	"github.com/marginalia-dev/marginalia/internal/store"
)

// MatchesQuery reports whether the highlight's content or note contains the
// query as a case-insensitive substring. An empty query never matches.
func MatchesQuery(query string, h *store.Highlight) bool {
	q := strings.ToLower(strings.TrimSpace(query))
	if q == "" {
		return false
	}
	if strings.Contains(strings.ToLower(h.Content), q) {
		return true
	}
	return h.Note != "" && strings.Contains(strings.ToLower(h.Note), q)
}
