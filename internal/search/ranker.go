package search

import (
	"context"
	"errors"
	"sort"

	"github.com/marginalia-dev/marginalia/internal/store"
)

// MatchType records how a candidate entered the result list.
type MatchType string

const (
	MatchSemantic MatchType = "semantic"
	MatchLexical  MatchType = "lexical"
)

// Candidate pairs a highlight with its match provenance for one ranking
// pass. Candidates are never persisted.
type Candidate struct {
	*store.Highlight
	Match MatchType `json:"match"`
	Score float64   `json:"score,omitempty"`
}

// EmbedFunc converts query text to an embedding vector.
type EmbedFunc func(ctx context.Context, text string) ([]float32, error)

// RankOptions bounds one ranking invocation.
type RankOptions struct {
	MaxResults      int     // result cap (default 10)
	SimilarityFloor float64 // exclusive lower bound on similarity (default 0.3)
}

// DefaultRankOptions returns the standard search bounds.
func DefaultRankOptions() RankOptions {
	return RankOptions{MaxResults: 10, SimilarityFloor: 0.3}
}

// RankResult is the outcome of one ranking pass.
type RankResult struct {
	Candidates []Candidate
	// LexicalOnly is true when no semantic pass ran: the corpus carried no
	// usable embeddings, or the embedding provider failed and ranking
	// degraded to substring matching.
	LexicalOnly bool
	// EmbedErr holds the provider error that forced degradation, if any.
	EmbedErr error
	// MismatchSkipped counts highlights whose stored embedding did not
	// match the query embedding's dimensionality and were excluded from
	// the semantic pass.
	MismatchSkipped int
}

// Rank runs the hybrid retrieval pass over the corpus.
//
// Semantic candidates are scored against a single query embedding, sorted by
// similarity descending (ties broken by newer CreatedAt, then ID), kept only
// when strictly above the floor, and capped. Lexical matches are then appended
// in corpus order, skipping highlights already present, until the cap is
// reached. Rank only fails on context cancellation; provider errors degrade
// to lexical-only results.
func Rank(ctx context.Context, query string, corpus []*store.Highlight, embedFn EmbedFunc, opts RankOptions) (*RankResult, error) {
	if opts.MaxResults <= 0 {
		opts.MaxResults = 10
	}

	// Candidates starts non-nil so a no-match result serializes as an
	// empty list, not null.
	res := &RankResult{Candidates: []Candidate{}}

	var embedded []*store.Highlight
	for _, h := range corpus {
		if len(h.Embedding) > 0 {
			embedded = append(embedded, h)
		}
	}

	if len(embedded) > 0 && embedFn != nil {
		queryVec, err := embedFn(ctx, query)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			res.LexicalOnly = true
			res.EmbedErr = err
		} else {
			res.Candidates = semanticPass(query, queryVec, embedded, opts, res)
		}
	} else {
		res.LexicalOnly = true
	}

	seen := make(map[string]struct{}, len(res.Candidates))
	for _, c := range res.Candidates {
		seen[c.ID] = struct{}{}
	}
	for _, h := range corpus {
		if len(res.Candidates) >= opts.MaxResults {
			break
		}
		if _, dup := seen[h.ID]; dup {
			continue
		}
		if MatchesQuery(query, h) {
			res.Candidates = append(res.Candidates, Candidate{Highlight: h, Match: MatchLexical})
			seen[h.ID] = struct{}{}
		}
	}

	return res, nil
}

// semanticPass scores every embedded highlight against the query vector and
// returns the floored, capped semantic candidate list.
func semanticPass(query string, queryVec []float32, embedded []*store.Highlight, opts RankOptions, res *RankResult) []Candidate {
	scored := make([]Candidate, 0, len(embedded))
	for _, h := range embedded {
		sim, err := CosineSimilarity(queryVec, h.Embedding)
		if err != nil {
			var mismatch *DimensionMismatchError
			if errors.As(err, &mismatch) {
				res.MismatchSkipped++
			}
			continue
		}
		if sim > opts.SimilarityFloor {
			scored = append(scored, Candidate{Highlight: h, Match: MatchSemantic, Score: sim})
		}
	}

	sort.SliceStable(scored, func(i, j int) bool {
		if scored[i].Score != scored[j].Score {
			return scored[i].Score > scored[j].Score
		}
		if !scored[i].CreatedAt.Equal(scored[j].CreatedAt) {
			return scored[i].CreatedAt.After(scored[j].CreatedAt)
		}
		return scored[i].Highlight.ID < scored[j].Highlight.ID
	})

	if len(scored) > opts.MaxResults {
		scored = scored[:opts.MaxResults]
	}
	return scored
}
