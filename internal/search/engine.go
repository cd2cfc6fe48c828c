package search

import (
	"context"
	"log"
	"strings"
	"time"

	"github.com/marginalia-dev/marginalia/internal/answer"
	"github.com/marginalia-dev/marginalia/internal/store"
)

// Storage is the slice of the store the search engine needs: one bulk
// corpus read and the append-only history write.
type Storage interface {
	ListHighlights(ctx context.Context, userID string) ([]*store.Highlight, error)
	RecordSearch(ctx context.Context, userID, query, answer string) error
}

// Embedder converts query text to a vector. Satisfied by embed.Client.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Synthesizer produces a grounded answer from ranked highlights.
// Satisfied by answer.Engine.
type Synthesizer interface {
	Synthesize(ctx context.Context, query string, sources []answer.Source) (*answer.Result, error)
}

// EngineOptions configures one search engine instance.
type EngineOptions struct {
	Rank          RankOptions
	EmbedTimeout  time.Duration // bound on the query-embedding call (default 15s)
	AnswerTimeout time.Duration // bound on answer synthesis (default 30s)
}

// Engine orchestrates one search request: corpus load, hybrid ranking,
// optional answer synthesis, history write. Engines hold no per-request
// state and are safe for concurrent use.
type Engine struct {
	store    Storage
	embedder Embedder    // nil disables the semantic pass
	synth    Synthesizer // nil disables answer synthesis
	opts     EngineOptions
}

// Response is the assembled search result.
type Response struct {
	Highlights   []Candidate       `json:"highlights"`
	AIAnswer     *string           `json:"aiAnswer"`
	Citations    []answer.Citation `json:"citations,omitempty"`
	TotalResults int               `json:"totalResults"`
	// LexicalOnly is true when the semantic pass did not run (no embedded
	// highlights, or the embedding provider failed).
	LexicalOnly bool `json:"lexicalOnly,omitempty"`
}

// NewEngine creates a search engine. Provider handles are injected and
// owned by the caller, typically built once at process startup.
func NewEngine(st Storage, embedder Embedder, synth Synthesizer, opts EngineOptions) *Engine {
	if opts.Rank.MaxResults <= 0 {
		opts.Rank = DefaultRankOptions()
	}
	if opts.EmbedTimeout <= 0 {
		opts.EmbedTimeout = 15 * time.Second
	}
	if opts.AnswerTimeout <= 0 {
		opts.AnswerTimeout = 30 * time.Second
	}
	return &Engine{store: st, embedder: embedder, synth: synth, opts: opts}
}

// Search runs one search request for the user.
//
// An empty result list is a normal outcome, never an error. Provider
// failures degrade the response (lexical-only results, nil answer) and are
// logged; only an invalid query or a corpus read failure is returned as an
// error.
func (e *Engine) Search(ctx context.Context, userID, query string, useAI bool) (*Response, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, &ValidationError{Msg: "query is required"}
	}

	corpus, err := e.store.ListHighlights(ctx, userID)
	if err != nil {
		return nil, &CorpusReadError{Err: err}
	}

	resp := &Response{Highlights: []Candidate{}}
	if len(corpus) == 0 {
		return resp, nil
	}

	ranked, err := Rank(ctx, query, corpus, e.embedFunc(), e.opts.Rank)
	if err != nil {
		return nil, err
	}
	resp.Highlights = ranked.Candidates
	resp.TotalResults = len(ranked.Candidates)
	resp.LexicalOnly = ranked.LexicalOnly

	if ranked.EmbedErr != nil {
		provErr := &ProviderError{Provider: "embedding", Err: ranked.EmbedErr}
		log.Printf("[search] degraded to lexical-only for query %q: %v", truncateQuery(query), provErr)
	}
	if ranked.MismatchSkipped > 0 {
		log.Printf("[search] skipped %d highlight(s) with mismatched embedding dimensions", ranked.MismatchSkipped)
	}

	if useAI && e.synth != nil && len(ranked.Candidates) > 0 {
		e.synthesize(ctx, userID, query, resp)
	}

	return resp, nil
}

// synthesize runs the answer stage and, on success, records the search in
// history as a best-effort background write. Synthesis failure leaves the
// answer nil; the search itself still succeeds.
func (e *Engine) synthesize(ctx context.Context, userID, query string, resp *Response) {
	sources := make([]answer.Source, 0, len(resp.Highlights))
	for _, c := range resp.Highlights {
		src := answer.Source{
			HighlightID: c.ID,
			Content:     c.Content,
			Note:        c.Note,
		}
		if c.Book != nil {
			src.BookTitle = c.Book.Title
		}
		sources = append(sources, src)
	}

	answerCtx, cancel := context.WithTimeout(ctx, e.opts.AnswerTimeout)
	defer cancel()

	result, err := e.synth.Synthesize(answerCtx, query, sources)
	if err != nil {
		provErr := &ProviderError{Provider: "answer", Err: err}
		log.Printf("[search] answer synthesis failed for query %q: %v", truncateQuery(query), provErr)
		return
	}

	resp.AIAnswer = &result.Answer
	resp.Citations = result.Citations

	// History is fire-and-forget: detached from the request context so a
	// client disconnect after synthesis does not lose the entry, and
	// failures only log.
	go func() {
		histCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := e.store.RecordSearch(histCtx, userID, query, result.Answer); err != nil {
			log.Printf("[search] recording search history failed: %v", err)
		}
	}()
}

// embedFunc wraps the injected embedder with the per-call timeout.
// Returns nil when no embedder is configured.
func (e *Engine) embedFunc() EmbedFunc {
	if e.embedder == nil {
		return nil
	}
	return func(ctx context.Context, text string) ([]float32, error) {
		embedCtx, cancel := context.WithTimeout(ctx, e.opts.EmbedTimeout)
		defer cancel()
		return e.embedder.Embed(embedCtx, text)
	}
}

func truncateQuery(q string) string {
	if len(q) <= 80 {
		return q
	}
	return q[:80] + "…"
}
