// Package enrich computes the async AI enrichment for highlights: the
// embedding vector consumed by semantic search and an optional one-line
// summary. Enrichment runs outside the request path; a highlight without
// an embedding is still searchable lexically.
package enrich

import (
	"context"
	"fmt"
	"log"

	"golang.org/x/sync/errgroup"

	"github.com/marginalia-dev/marginalia/internal/embed"
	"github.com/marginalia-dev/marginalia/internal/llm"
	"github.com/marginalia-dev/marginalia/internal/store"
)

const summarySystemPrompt = "You summarize book passages. Respond with one or two plain " +
	"sentences capturing the passage's core idea. No preamble."

// Storage is the slice of the store the enricher writes to.
type Storage interface {
	SetEmbedding(ctx context.Context, highlightID string, vector []float32) error
	SetSummary(ctx context.Context, highlightID, summary string) error
	ListMissingEmbeddings(ctx context.Context, limit int) ([]*store.Highlight, error)
}

// Enricher computes embeddings and summaries for highlights.
type Enricher struct {
	store    Storage
	embedder embed.Embedder
	llm      llm.Provider // nil disables summaries
}

// NewEnricher creates an enricher. The LLM provider may be nil, in which
// case only embeddings are computed.
func NewEnricher(st Storage, embedder embed.Embedder, provider llm.Provider) *Enricher {
	return &Enricher{store: st, embedder: embedder, llm: provider}
}

// EnrichHighlight computes and stores the embedding and, when an LLM is
// configured, a short summary for one highlight. Summary failure does not
// fail the embedding write.
func (e *Enricher) EnrichHighlight(ctx context.Context, h *store.Highlight) error {
	vec, err := e.embedder.Embed(ctx, h.Content)
	if err != nil {
		return fmt.Errorf("embedding highlight %s: %w", h.ID, err)
	}
	if err := e.store.SetEmbedding(ctx, h.ID, vec); err != nil {
		return err
	}

	if e.llm != nil {
		if err := e.summarize(ctx, h); err != nil {
			log.Printf("[enrich] summary failed for highlight %s: %v", h.ID, err)
		}
	}
	return nil
}

func (e *Enricher) summarize(ctx context.Context, h *store.Highlight) error {
	prompt := fmt.Sprintf("Passage:\n%q", h.Content)
	if h.Note != "" {
		prompt += fmt.Sprintf("\n\nReader note:\n%q", h.Note)
	}
	summary, err := e.llm.Complete(ctx, prompt, llm.CompletionOpts{
		System:      summarySystemPrompt,
		Temperature: 0.3,
		MaxTokens:   120,
	})
	if err != nil {
		return err
	}
	return e.store.SetSummary(ctx, h.ID, summary)
}

// BackfillResult reports one backfill run.
type BackfillResult struct {
	Embedded int
	Failed   int
}

// Backfill embeds every highlight missing a vector, at most batchSize per
// run, using a bounded worker pool. Individual failures are logged and
// counted; the run only fails on context cancellation.
func (e *Enricher) Backfill(ctx context.Context, batchSize, workers int) (*BackfillResult, error) {
	if workers <= 0 {
		workers = 4
	}

	pending, err := e.store.ListMissingEmbeddings(ctx, batchSize)
	if err != nil {
		return nil, fmt.Errorf("listing highlights to backfill: %w", err)
	}

	res := &BackfillResult{}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)

	results := make(chan bool, len(pending))
	for _, h := range pending {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			if err := e.EnrichHighlight(gctx, h); err != nil {
				log.Printf("[enrich] backfill failed for highlight %s: %v", h.ID, err)
				results <- false
				return nil
			}
			results <- true
			return nil
		})
	}

	err = g.Wait()
	close(results)
	for ok := range results {
		if ok {
			res.Embedded++
		} else {
			res.Failed++
		}
	}
	if err != nil {
		return res, err
	}
	return res, nil
}
