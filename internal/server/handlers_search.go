package server

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/marginalia-dev/marginalia/internal/search"
)

type searchRequest struct {
	Query string `json:"query"`
	UseAI *bool  `json:"useAI,omitempty"`
}

// handleSearch runs the hybrid search pipeline for the authenticated user.
// "No results" is a valid 200 with an empty list, never an error.
func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	var req searchRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	useAI := true
	if req.UseAI != nil {
		useAI = *req.UseAI
	}

	resp, err := s.engine.Search(r.Context(), userID(r), req.Query, useAI)
	if err != nil {
		var validation *search.ValidationError
		if errors.As(err, &validation) {
			writeError(w, http.StatusBadRequest, validation.Msg)
			return
		}
		writeStoreError(w, err)
		return
	}
	writeData(w, http.StatusOK, resp)
}

func (s *Server) handleSearchHistory(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	entries, err := s.store.ListSearchHistory(r.Context(), userID(r), limit)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeData(w, http.StatusOK, entries)
}

func (s *Server) handleDashboard(w http.ResponseWriter, r *http.Request) {
	stats, err := s.store.Dashboard(r.Context(), userID(r))
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeData(w, http.StatusOK, stats)
}
