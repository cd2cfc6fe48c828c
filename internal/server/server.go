// Package server exposes marginalia over HTTP. Every endpoint is
// authenticated with a Bearer API key and scoped to the key's owning user.
// Responses use a {"data": ...} / {"error": ...} JSON envelope.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/marginalia-dev/marginalia/internal/enrich"
	"github.com/marginalia-dev/marginalia/internal/search"
	"github.com/marginalia-dev/marginalia/internal/store"
)

type ctxKey int

const userIDKey ctxKey = 0

// Server holds the handlers' collaborators.
type Server struct {
	store    store.Store
	engine   *search.Engine
	enricher *enrich.Enricher // nil disables async enrichment
}

// New builds the HTTP server with all routes registered.
func New(addr string, st store.Store, engine *search.Engine, enricher *enrich.Enricher) *http.Server {
	s := &Server{store: st, engine: engine, enricher: enricher}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/search", s.auth(s.handleSearch))
	mux.HandleFunc("GET /api/search/history", s.auth(s.handleSearchHistory))
	mux.HandleFunc("GET /api/dashboard", s.auth(s.handleDashboard))

	mux.HandleFunc("GET /api/books", s.auth(s.handleListBooks))
	mux.HandleFunc("POST /api/books", s.auth(s.handleCreateBook))
	mux.HandleFunc("GET /api/books/{id}", s.auth(s.handleGetBook))
	mux.HandleFunc("PUT /api/books/{id}", s.auth(s.handleUpdateBook))
	mux.HandleFunc("DELETE /api/books/{id}", s.auth(s.handleDeleteBook))

	mux.HandleFunc("GET /api/highlights", s.auth(s.handleListHighlights))
	mux.HandleFunc("POST /api/highlights", s.auth(s.handleCreateHighlight))
	mux.HandleFunc("PUT /api/highlights/{id}", s.auth(s.handleUpdateHighlight))
	mux.HandleFunc("DELETE /api/highlights/{id}", s.auth(s.handleDeleteHighlight))

	mux.HandleFunc("GET /api/topics", s.auth(s.handleListTopics))
	mux.HandleFunc("POST /api/topics", s.auth(s.handleCreateTopic))
	mux.HandleFunc("POST /api/highlights/{id}/topics", s.auth(s.handleAssignTopic))

	return &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
}

// auth resolves the Bearer API key to a user ID, rejecting the request
// with a bare 401 otherwise. No detail about why leaks to the caller.
func (s *Server) auth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		key, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || strings.TrimSpace(key) == "" {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		userID, err := s.store.ResolveAPIKey(r.Context(), strings.TrimSpace(key))
		if err != nil {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		next(w, r.WithContext(context.WithValue(r.Context(), userIDKey, userID)))
	}
}

func userID(r *http.Request) string {
	id, _ := r.Context().Value(userIDKey).(string)
	return id
}

func writeData(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(map[string]any{"data": v}); err != nil {
		log.Printf("[server] encoding response: %v", err)
	}
}

func writeError(w http.ResponseWriter, code int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

// writeStoreError maps storage errors onto HTTP statuses.
func writeStoreError(w http.ResponseWriter, err error) {
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "not found")
		return
	}
	log.Printf("[server] store error: %v", err)
	writeError(w, http.StatusInternalServerError, "internal server error")
}

func decodeJSON(r *http.Request, v any) error {
	defer r.Body.Close()
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}
