package server

import (
	"context"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/marginalia-dev/marginalia/internal/store"
)

// Books

type bookRequest struct {
	Title  string `json:"title"`
	Author string `json:"author,omitempty"`
	Source string `json:"source,omitempty"`
}

func (s *Server) handleCreateBook(w http.ResponseWriter, r *http.Request) {
	var req bookRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if strings.TrimSpace(req.Title) == "" {
		writeError(w, http.StatusBadRequest, "title is required")
		return
	}
	b := &store.Book{UserID: userID(r), Title: req.Title, Author: req.Author, Source: req.Source}
	if err := s.store.AddBook(r.Context(), b); err != nil {
		writeStoreError(w, err)
		return
	}
	writeData(w, http.StatusCreated, b)
}

func (s *Server) handleListBooks(w http.ResponseWriter, r *http.Request) {
	books, err := s.store.ListBooks(r.Context(), userID(r))
	if err != nil {
		writeStoreError(w, err)
		return
	}
	if books == nil {
		books = []*store.Book{}
	}
	writeData(w, http.StatusOK, books)
}

func (s *Server) handleGetBook(w http.ResponseWriter, r *http.Request) {
	b, err := s.store.GetBook(r.Context(), userID(r), r.PathValue("id"))
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeData(w, http.StatusOK, b)
}

func (s *Server) handleUpdateBook(w http.ResponseWriter, r *http.Request) {
	var req bookRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if strings.TrimSpace(req.Title) == "" {
		writeError(w, http.StatusBadRequest, "title is required")
		return
	}
	b := &store.Book{
		ID:     r.PathValue("id"),
		UserID: userID(r),
		Title:  req.Title,
		Author: req.Author,
		Source: req.Source,
	}
	if b.Source == "" {
		b.Source = store.BookSourceManual
	}
	if err := s.store.UpdateBook(r.Context(), b); err != nil {
		writeStoreError(w, err)
		return
	}
	writeData(w, http.StatusOK, b)
}

func (s *Server) handleDeleteBook(w http.ResponseWriter, r *http.Request) {
	if err := s.store.DeleteBook(r.Context(), userID(r), r.PathValue("id")); err != nil {
		writeStoreError(w, err)
		return
	}
	writeData(w, http.StatusOK, map[string]bool{"deleted": true})
}

// Highlights

type highlightRequest struct {
	BookID  string `json:"book_id"`
	Content string `json:"content"`
	Note    string `json:"note,omitempty"`
	Page    int    `json:"page,omitempty"`
	Chapter string `json:"chapter,omitempty"`
	Color   string `json:"color,omitempty"`
}

func (req *highlightRequest) validate() string {
	if strings.TrimSpace(req.Content) == "" {
		return "content is required"
	}
	if req.Page < 0 {
		return "page must be positive"
	}
	return ""
}

func (s *Server) handleCreateHighlight(w http.ResponseWriter, r *http.Request) {
	var req highlightRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if msg := req.validate(); msg != "" {
		writeError(w, http.StatusBadRequest, msg)
		return
	}
	if strings.TrimSpace(req.BookID) == "" {
		writeError(w, http.StatusBadRequest, "book_id is required")
		return
	}
	// The book must exist and belong to the caller.
	if _, err := s.store.GetBook(r.Context(), userID(r), req.BookID); err != nil {
		writeStoreError(w, err)
		return
	}

	h := &store.Highlight{
		UserID:  userID(r),
		BookID:  req.BookID,
		Content: req.Content,
		Note:    req.Note,
		Page:    req.Page,
		Chapter: req.Chapter,
		Color:   req.Color,
	}
	if err := s.store.AddHighlight(r.Context(), h); err != nil {
		writeStoreError(w, err)
		return
	}
	s.enrichAsync(h)
	writeData(w, http.StatusCreated, h)
}

func (s *Server) handleListHighlights(w http.ResponseWriter, r *http.Request) {
	highlights, err := s.store.ListHighlights(r.Context(), userID(r))
	if err != nil {
		writeStoreError(w, err)
		return
	}
	if highlights == nil {
		highlights = []*store.Highlight{}
	}
	writeData(w, http.StatusOK, highlights)
}

func (s *Server) handleUpdateHighlight(w http.ResponseWriter, r *http.Request) {
	var req highlightRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if msg := req.validate(); msg != "" {
		writeError(w, http.StatusBadRequest, msg)
		return
	}

	existing, err := s.store.GetHighlight(r.Context(), userID(r), r.PathValue("id"))
	if err != nil {
		writeStoreError(w, err)
		return
	}
	existing.Content = req.Content
	existing.Note = req.Note
	existing.Page = req.Page
	existing.Chapter = req.Chapter
	existing.Color = req.Color

	if err := s.store.UpdateHighlight(r.Context(), existing); err != nil {
		writeStoreError(w, err)
		return
	}
	s.enrichAsync(existing)
	writeData(w, http.StatusOK, existing)
}

func (s *Server) handleDeleteHighlight(w http.ResponseWriter, r *http.Request) {
	if err := s.store.DeleteHighlight(r.Context(), userID(r), r.PathValue("id")); err != nil {
		writeStoreError(w, err)
		return
	}
	writeData(w, http.StatusOK, map[string]bool{"deleted": true})
}

// enrichAsync schedules embedding/summary computation for a highlight.
// Best-effort: failures are logged by the enricher and the highlight stays
// lexically searchable.
func (s *Server) enrichAsync(h *store.Highlight) {
	if s.enricher == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
		defer cancel()
		if err := s.enricher.EnrichHighlight(ctx, h); err != nil {
			log.Printf("[server] enrichment failed for highlight %s: %v", h.ID, err)
		}
	}()
}

// Topics

type topicRequest struct {
	Name string `json:"name"`
}

func (s *Server) handleCreateTopic(w http.ResponseWriter, r *http.Request) {
	var req topicRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if strings.TrimSpace(req.Name) == "" {
		writeError(w, http.StatusBadRequest, "name is required")
		return
	}
	t := &store.Topic{UserID: userID(r), Name: req.Name}
	if err := s.store.AddTopic(r.Context(), t); err != nil {
		writeStoreError(w, err)
		return
	}
	writeData(w, http.StatusCreated, t)
}

func (s *Server) handleListTopics(w http.ResponseWriter, r *http.Request) {
	topics, err := s.store.ListTopics(r.Context(), userID(r))
	if err != nil {
		writeStoreError(w, err)
		return
	}
	if topics == nil {
		topics = []*store.Topic{}
	}
	writeData(w, http.StatusOK, topics)
}

type assignTopicRequest struct {
	TopicID    string   `json:"topic_id"`
	Confidence *float64 `json:"confidence,omitempty"`
}

func (s *Server) handleAssignTopic(w http.ResponseWriter, r *http.Request) {
	var req assignTopicRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if strings.TrimSpace(req.TopicID) == "" {
		writeError(w, http.StatusBadRequest, "topic_id is required")
		return
	}
	if req.Confidence != nil && (*req.Confidence < 0 || *req.Confidence > 1) {
		writeError(w, http.StatusBadRequest, "confidence must be between 0 and 1")
		return
	}
	// Both sides of the join must belong to the caller.
	if _, err := s.store.GetHighlight(r.Context(), userID(r), r.PathValue("id")); err != nil {
		writeStoreError(w, err)
		return
	}
	if _, err := s.store.GetTopic(r.Context(), userID(r), req.TopicID); err != nil {
		writeStoreError(w, err)
		return
	}
	if err := s.store.AssignTopic(r.Context(), r.PathValue("id"), req.TopicID, req.Confidence); err != nil {
		writeStoreError(w, err)
		return
	}
	writeData(w, http.StatusOK, map[string]bool{"assigned": true})
}
