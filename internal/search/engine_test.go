package search

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/marginalia-dev/marginalia/internal/answer"
	"github.com/marginalia-dev/marginalia/internal/store"
)

type fakeStorage struct {
	mu        sync.Mutex
	corpus    []*store.Highlight
	listErr   error
	listCalls int
	history   []string
	recordErr error
}

func (f *fakeStorage) ListHighlights(ctx context.Context, userID string) ([]*store.Highlight, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.listCalls++
	if f.listErr != nil {
		return nil, f.listErr
	}
	return f.corpus, nil
}

func (f *fakeStorage) RecordSearch(ctx context.Context, userID, query, answer string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.recordErr != nil {
		return f.recordErr
	}
	f.history = append(f.history, query)
	return nil
}

func (f *fakeStorage) historyLen() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.history)
}

type fakeEmbedder struct {
	mu    sync.Mutex
	vec   []float32
	err   error
	calls int
}

func (f *fakeEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.vec, nil
}

type fakeSynth struct {
	mu      sync.Mutex
	result  *answer.Result
	err     error
	calls   int
	sources []answer.Source
}

func (f *fakeSynth) Synthesize(ctx context.Context, query string, sources []answer.Source) (*answer.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.sources = sources
	if f.err != nil {
		return nil, f.err
	}
	return f.result, nil
}

func waitForHistory(t *testing.T, st *fakeStorage, want int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if st.historyLen() == want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("history entries = %d after wait, want %d", st.historyLen(), want)
}

func testCorpus() []*store.Highlight {
	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	book := &store.Book{ID: "bk1", Title: "Thinking in Systems"}
	return []*store.Highlight{
		{ID: "h1", Content: "a stock is the memory of flow", Embedding: []float32{4, 3}, CreatedAt: base.Add(2 * time.Hour), Book: book},
		{ID: "h2", Content: "feedback loops run the show", Embedding: []float32{-7, 24}, CreatedAt: base.Add(time.Hour), Book: book},
		{ID: "h3", Content: "plain note on systems", Embedding: []float32{24, -7}, CreatedAt: base, Book: book},
	}
}

func TestEngineSearchEndToEnd(t *testing.T) {
	st := &fakeStorage{corpus: testCorpus()}
	emb := &fakeEmbedder{vec: []float32{3, 4}}
	synth := &fakeSynth{result: &answer.Result{
		Answer:    "Stocks hold memory [1].",
		Citations: []answer.Citation{{Index: 1, BookTitle: "Thinking in Systems", HighlightID: "h1"}},
	}}
	eng := NewEngine(st, emb, synth, EngineOptions{})

	resp, err := eng.Search(context.Background(), "u1", "systems", true)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.TotalResults != 3 {
		t.Fatalf("TotalResults = %d, want 3", resp.TotalResults)
	}
	wantOrder := []string{"h1", "h2", "h3"}
	for i, id := range wantOrder {
		if resp.Highlights[i].ID != id {
			t.Fatalf("highlight[%d] = %s, want %s", i, resp.Highlights[i].ID, id)
		}
	}
	if resp.AIAnswer == nil || *resp.AIAnswer != "Stocks hold memory [1]." {
		t.Fatalf("AIAnswer = %v, want synthesized answer", resp.AIAnswer)
	}
	if len(resp.Citations) != 1 || resp.Citations[0].HighlightID != "h1" {
		t.Fatalf("citations = %+v, want one citation to h1", resp.Citations)
	}
	if resp.LexicalOnly {
		t.Fatal("LexicalOnly should be false when the semantic pass ran")
	}
	if synth.sources[0].BookTitle != "Thinking in Systems" {
		t.Fatalf("synthesizer source BookTitle = %q", synth.sources[0].BookTitle)
	}
	waitForHistory(t, st, 1)
}

func TestEngineEmptyQuery(t *testing.T) {
	st := &fakeStorage{corpus: testCorpus()}
	emb := &fakeEmbedder{vec: []float32{3, 4}}
	eng := NewEngine(st, emb, nil, EngineOptions{})

	for _, q := range []string{"", "   ", "\t\n"} {
		_, err := eng.Search(context.Background(), "u1", q, true)
		var verr *ValidationError
		if !errors.As(err, &verr) {
			t.Fatalf("query %q: error = %v, want ValidationError", q, err)
		}
	}
	if st.listCalls != 0 {
		t.Fatalf("corpus read %d times for invalid queries, want 0", st.listCalls)
	}
	if emb.calls != 0 {
		t.Fatalf("embedder called %d times for invalid queries, want 0", emb.calls)
	}
}

func TestEngineEmptyCorpus(t *testing.T) {
	st := &fakeStorage{}
	emb := &fakeEmbedder{vec: []float32{3, 4}}
	synth := &fakeSynth{result: &answer.Result{Answer: "unused"}}
	eng := NewEngine(st, emb, synth, EngineOptions{})

	resp, err := eng.Search(context.Background(), "u1", "anything", true)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.TotalResults != 0 || len(resp.Highlights) != 0 {
		t.Fatalf("response = %+v, want empty", resp)
	}
	if resp.Highlights == nil {
		t.Fatal("Highlights must be an empty slice, not nil")
	}
	if emb.calls != 0 || synth.calls != 0 {
		t.Fatalf("providers called for empty corpus: embed=%d synth=%d", emb.calls, synth.calls)
	}
}

func TestEngineNoMatchesRendersEmptyList(t *testing.T) {
	st := &fakeStorage{corpus: testCorpus()}
	emb := &fakeEmbedder{vec: []float32{-3, -4}} // negative similarity to every embedding
	eng := NewEngine(st, emb, nil, EngineOptions{})

	resp, err := eng.Search(context.Background(), "u1", "zzz-no-match", false)
	if err != nil {
		t.Fatalf("no matches must not be an error: %v", err)
	}
	if resp.Highlights == nil {
		t.Fatal("Highlights must be an empty slice, not nil")
	}
	if resp.TotalResults != 0 {
		t.Fatalf("TotalResults = %d, want 0", resp.TotalResults)
	}
	out, err := json.Marshal(resp)
	if err != nil {
		t.Fatalf("marshaling response: %v", err)
	}
	if !strings.Contains(string(out), `"highlights":[]`) {
		t.Fatalf("response = %s, want highlights rendered as an empty list", out)
	}
}

func TestEngineCorpusReadError(t *testing.T) {
	readErr := errors.New("db locked")
	st := &fakeStorage{listErr: readErr}
	eng := NewEngine(st, nil, nil, EngineOptions{})

	_, err := eng.Search(context.Background(), "u1", "query", false)
	var cerr *CorpusReadError
	if !errors.As(err, &cerr) {
		t.Fatalf("error = %v, want CorpusReadError", err)
	}
	if !errors.Is(err, readErr) {
		t.Fatal("CorpusReadError must wrap the underlying error")
	}
}

func TestEngineDegradesOnEmbedFailure(t *testing.T) {
	st := &fakeStorage{corpus: testCorpus()}
	emb := &fakeEmbedder{err: errors.New("rate limited")}
	eng := NewEngine(st, emb, nil, EngineOptions{})

	resp, err := eng.Search(context.Background(), "u1", "systems", false)
	if err != nil {
		t.Fatalf("embedding failure must not fail the search, got: %v", err)
	}
	if !resp.LexicalOnly {
		t.Fatal("expected LexicalOnly response")
	}
	// Only h3 contains the query text.
	if resp.TotalResults != 1 || resp.Highlights[0].ID != "h3" {
		t.Fatalf("results = %+v, want lexical match h3", resp.Highlights)
	}
}

func TestEngineSynthesisFailure(t *testing.T) {
	st := &fakeStorage{corpus: testCorpus()}
	emb := &fakeEmbedder{vec: []float32{3, 4}}
	synth := &fakeSynth{err: errors.New("model overloaded")}
	eng := NewEngine(st, emb, synth, EngineOptions{})

	resp, err := eng.Search(context.Background(), "u1", "systems", true)
	if err != nil {
		t.Fatalf("synthesis failure must not fail the search, got: %v", err)
	}
	if resp.AIAnswer != nil {
		t.Fatalf("AIAnswer = %q, want nil", *resp.AIAnswer)
	}
	if resp.TotalResults != 3 {
		t.Fatalf("TotalResults = %d, want ranked results despite synthesis failure", resp.TotalResults)
	}
	// Failed synthesis never reaches history.
	time.Sleep(50 * time.Millisecond)
	if got := st.historyLen(); got != 0 {
		t.Fatalf("history entries = %d, want 0", got)
	}
}

func TestEngineUseAIFalseSkipsSynthesis(t *testing.T) {
	st := &fakeStorage{corpus: testCorpus()}
	emb := &fakeEmbedder{vec: []float32{3, 4}}
	synth := &fakeSynth{result: &answer.Result{Answer: "unused"}}
	eng := NewEngine(st, emb, synth, EngineOptions{})

	resp, err := eng.Search(context.Background(), "u1", "systems", false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if synth.calls != 0 {
		t.Fatalf("synthesizer called %d times with useAI=false, want 0", synth.calls)
	}
	if resp.AIAnswer != nil {
		t.Fatal("AIAnswer should be nil with useAI=false")
	}
}

func TestEngineNilEmbedderIsLexicalOnly(t *testing.T) {
	st := &fakeStorage{corpus: testCorpus()}
	eng := NewEngine(st, nil, nil, EngineOptions{})

	resp, err := eng.Search(context.Background(), "u1", "systems", false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !resp.LexicalOnly {
		t.Fatal("expected LexicalOnly without an embedder")
	}
	if resp.TotalResults != 1 || resp.Highlights[0].ID != "h3" {
		t.Fatalf("results = %+v, want lexical match h3", resp.Highlights)
	}
}
