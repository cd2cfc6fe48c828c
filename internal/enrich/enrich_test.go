package enrich

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/marginalia-dev/marginalia/internal/llm"
	"github.com/marginalia-dev/marginalia/internal/store"
)

type fakeStorage struct {
	mu         sync.Mutex
	embeddings map[string][]float32
	summaries  map[string]string
	pending    []*store.Highlight
}

func newFakeStorage() *fakeStorage {
	return &fakeStorage{
		embeddings: map[string][]float32{},
		summaries:  map[string]string{},
	}
}

func (f *fakeStorage) SetEmbedding(ctx context.Context, highlightID string, vector []float32) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.embeddings[highlightID] = vector
	return nil
}

func (f *fakeStorage) SetSummary(ctx context.Context, highlightID, summary string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.summaries[highlightID] = summary
	return nil
}

func (f *fakeStorage) ListMissingEmbeddings(ctx context.Context, limit int) ([]*store.Highlight, error) {
	if limit > 0 && len(f.pending) > limit {
		return f.pending[:limit], nil
	}
	return f.pending, nil
}

type fakeEmbedder struct {
	mu      sync.Mutex
	vec     []float32
	failFor map[string]bool
	calls   int
}

func (f *fakeEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.failFor[text] {
		return nil, errors.New("embed exploded")
	}
	return f.vec, nil
}

func (f *fakeEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, text := range texts {
		vec, err := f.Embed(ctx, text)
		if err != nil {
			return nil, err
		}
		out[i] = vec
	}
	return out, nil
}

func (f *fakeEmbedder) Dimensions() int { return len(f.vec) }

type fakeLLM struct {
	response string
	err      error
}

func (f *fakeLLM) Complete(ctx context.Context, prompt string, opts llm.CompletionOpts) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	return f.response, nil
}

func (f *fakeLLM) Name() string { return "fake" }

func TestEnrichHighlight(t *testing.T) {
	st := newFakeStorage()
	emb := &fakeEmbedder{vec: []float32{1, 2, 3}}
	e := NewEnricher(st, emb, &fakeLLM{response: "a tidy summary"})

	h := &store.Highlight{ID: "h1", Content: "some passage"}
	if err := e.EnrichHighlight(context.Background(), h); err != nil {
		t.Fatalf("enrich: %v", err)
	}
	if got := st.embeddings["h1"]; len(got) != 3 {
		t.Fatalf("embedding = %v", got)
	}
	if st.summaries["h1"] != "a tidy summary" {
		t.Fatalf("summary = %q", st.summaries["h1"])
	}
}

func TestEnrichWithoutLLM(t *testing.T) {
	st := newFakeStorage()
	e := NewEnricher(st, &fakeEmbedder{vec: []float32{1}}, nil)

	h := &store.Highlight{ID: "h1", Content: "passage"}
	if err := e.EnrichHighlight(context.Background(), h); err != nil {
		t.Fatalf("enrich: %v", err)
	}
	if len(st.summaries) != 0 {
		t.Fatalf("summaries = %v, want none without an LLM", st.summaries)
	}
}

func TestEnrichSummaryFailureTolerated(t *testing.T) {
	st := newFakeStorage()
	e := NewEnricher(st, &fakeEmbedder{vec: []float32{1}}, &fakeLLM{err: errors.New("model down")})

	h := &store.Highlight{ID: "h1", Content: "passage"}
	if err := e.EnrichHighlight(context.Background(), h); err != nil {
		t.Fatalf("summary failure must not fail enrichment: %v", err)
	}
	if len(st.embeddings) != 1 {
		t.Fatal("embedding should still be stored")
	}
}

func TestEnrichEmbedFailure(t *testing.T) {
	st := newFakeStorage()
	emb := &fakeEmbedder{vec: []float32{1}, failFor: map[string]bool{"bad": true}}
	e := NewEnricher(st, emb, nil)

	h := &store.Highlight{ID: "h1", Content: "bad"}
	if err := e.EnrichHighlight(context.Background(), h); err == nil {
		t.Fatal("expected embedding failure to propagate")
	}
	if len(st.embeddings) != 0 {
		t.Fatalf("embeddings = %v, want none", st.embeddings)
	}
}

func TestBackfillCountsFailures(t *testing.T) {
	st := newFakeStorage()
	st.pending = []*store.Highlight{
		{ID: "h1", Content: "ok one"},
		{ID: "h2", Content: "bad"},
		{ID: "h3", Content: "ok two"},
	}
	emb := &fakeEmbedder{vec: []float32{1}, failFor: map[string]bool{"bad": true}}
	e := NewEnricher(st, emb, nil)

	res, err := e.Backfill(context.Background(), 10, 2)
	if err != nil {
		t.Fatalf("backfill: %v", err)
	}
	if res.Embedded != 2 || res.Failed != 1 {
		t.Fatalf("result = %+v, want 2 embedded / 1 failed", res)
	}
	if len(st.embeddings) != 2 {
		t.Fatalf("stored embeddings = %d, want 2", len(st.embeddings))
	}
}

func TestBackfillRespectsBatchSize(t *testing.T) {
	st := newFakeStorage()
	for _, id := range []string{"h1", "h2", "h3", "h4"} {
		st.pending = append(st.pending, &store.Highlight{ID: id, Content: id})
	}
	emb := &fakeEmbedder{vec: []float32{1}}
	e := NewEnricher(st, emb, nil)

	res, err := e.Backfill(context.Background(), 2, 2)
	if err != nil {
		t.Fatalf("backfill: %v", err)
	}
	if res.Embedded != 2 {
		t.Fatalf("embedded = %d, want batch-limited 2", res.Embedded)
	}
}

func TestBackfillEmptyQueue(t *testing.T) {
	e := NewEnricher(newFakeStorage(), &fakeEmbedder{vec: []float32{1}}, nil)
	res, err := e.Backfill(context.Background(), 10, 4)
	if err != nil {
		t.Fatalf("backfill: %v", err)
	}
	if res.Embedded != 0 || res.Failed != 0 {
		t.Fatalf("result = %+v, want zeroes", res)
	}
}
