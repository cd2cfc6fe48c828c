package embed

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"reflect"
	"strings"
	"testing"
)

func testClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	c, err := NewClient(&Config{
		Provider:    "custom",
		Model:       "test-model",
		Endpoint:    srv.URL,
		APIKey:      "test-key",
		MaxRetries:  0,
		TimeoutSecs: 5,
	})
	if err != nil {
		t.Fatalf("creating client: %v", err)
	}
	return c
}

func embedResponseBody(vectors [][]float32) []byte {
	type datum struct {
		Embedding []float32 `json:"embedding"`
		Index     int       `json:"index"`
	}
	var resp struct {
		Data []datum `json:"data"`
	}
	for i, v := range vectors {
		resp.Data = append(resp.Data, datum{Embedding: v, Index: i})
	}
	b, _ := json.Marshal(resp)
	return b
}

func TestEmbedSingle(t *testing.T) {
	var gotAuth string
	var gotReq embedRequest
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		json.NewDecoder(r.Body).Decode(&gotReq)
		w.Write(embedResponseBody([][]float32{{0.1, 0.2, 0.3}}))
	})

	vec, err := c.Embed(context.Background(), "hello highlights")
	if err != nil {
		t.Fatalf("embed: %v", err)
	}
	if !reflect.DeepEqual(vec, []float32{0.1, 0.2, 0.3}) {
		t.Fatalf("vec = %v", vec)
	}
	if gotAuth != "Bearer test-key" {
		t.Fatalf("auth header = %q", gotAuth)
	}
	if gotReq.Model != "test-model" || len(gotReq.Input) != 1 || gotReq.Input[0] != "hello highlights" {
		t.Fatalf("request = %+v", gotReq)
	}
	if c.Dimensions() != 3 {
		t.Fatalf("dimensions = %d, want 3 after first call", c.Dimensions())
	}
}

func TestEmbedEmptyText(t *testing.T) {
	calls := 0
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) { calls++ })

	if _, err := c.Embed(context.Background(), "   "); err == nil {
		t.Fatal("expected error for blank text")
	}
	if calls != 0 {
		t.Fatalf("server hit %d times for blank text, want 0", calls)
	}
}

func TestEmbedBatchOrderedByIndex(t *testing.T) {
	// Responses may arrive index-shuffled; results must follow the
	// request order.
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"data":[
			{"embedding":[2],"index":1},
			{"embedding":[1],"index":0},
			{"embedding":[3],"index":2}]}`)
	})

	vecs, err := c.EmbedBatch(context.Background(), []string{"a", "b", "c"})
	if err != nil {
		t.Fatalf("batch: %v", err)
	}
	want := [][]float32{{1}, {2}, {3}}
	if !reflect.DeepEqual(vecs, want) {
		t.Fatalf("vecs = %v, want %v", vecs, want)
	}
}

func TestEmbedBatchCountMismatch(t *testing.T) {
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write(embedResponseBody([][]float32{{1}}))
	})

	if _, err := c.EmbedBatch(context.Background(), []string{"a", "b"}); err == nil {
		t.Fatal("expected error when response count differs from request count")
	}
}

func TestEmbedBatchEmptyInput(t *testing.T) {
	calls := 0
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) { calls++ })

	vecs, err := c.EmbedBatch(context.Background(), nil)
	if err != nil || vecs != nil {
		t.Fatalf("empty batch = (%v, %v), want (nil, nil)", vecs, err)
	}
	if calls != 0 {
		t.Fatalf("server hit %d times for empty batch, want 0", calls)
	}
}

func TestEmbedServerError(t *testing.T) {
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "upstream exploded", http.StatusBadGateway)
	})

	_, err := c.Embed(context.Background(), "text")
	if err == nil {
		t.Fatal("expected error for 502 response")
	}
	if !strings.Contains(err.Error(), "502") {
		t.Fatalf("error %q should carry the status code", err)
	}
}

func TestEmbedRetriesThenSucceeds(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls == 1 {
			w.Header().Set("Retry-After", "0")
			http.Error(w, "slow down", http.StatusTooManyRequests)
			return
		}
		w.Write(embedResponseBody([][]float32{{5, 6}}))
	}))
	t.Cleanup(srv.Close)

	c, err := NewClient(&Config{
		Provider: "custom", Model: "m", Endpoint: srv.URL, APIKey: "k",
		MaxRetries: 2, TimeoutSecs: 5,
	})
	if err != nil {
		t.Fatalf("creating client: %v", err)
	}

	vec, err := c.Embed(context.Background(), "text")
	if err != nil {
		t.Fatalf("embed with retry: %v", err)
	}
	if !reflect.DeepEqual(vec, []float32{5, 6}) {
		t.Fatalf("vec = %v", vec)
	}
	if calls != 2 {
		t.Fatalf("server hit %d times, want 2", calls)
	}
}

func TestParseEmbedFlag(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "sk-test")
	t.Setenv("MARGINALIA_EMBED_ENDPOINT", "")
	t.Setenv("MARGINALIA_EMBED_API_KEY", "")

	cfg, err := ParseEmbedFlag("openai/text-embedding-3-small")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if cfg.Provider != "openai" || cfg.Model != "text-embedding-3-small" {
		t.Fatalf("cfg = %+v", cfg)
	}
	if cfg.Endpoint != "https://api.openai.com/v1/embeddings" {
		t.Fatalf("endpoint = %q", cfg.Endpoint)
	}
	if cfg.APIKey != "sk-test" {
		t.Fatalf("apiKey = %q", cfg.APIKey)
	}

	// Model names may contain slashes.
	cfg, err = ParseEmbedFlag("openrouter/sentence-transformers/all-MiniLM-L6-v2")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if cfg.Model != "sentence-transformers/all-MiniLM-L6-v2" {
		t.Fatalf("model = %q", cfg.Model)
	}

	for _, bad := range []string{"", "nomodel", "unknown/model"} {
		if _, err := ParseEmbedFlag(bad); err == nil {
			t.Fatalf("flag %q: expected error", bad)
		}
	}
}

func TestConfigValidate(t *testing.T) {
	base := Config{Provider: "openai", Model: "m", Endpoint: "https://x", APIKey: "k", MaxRetries: 1, TimeoutSecs: 10}
	if err := base.Validate(); err != nil {
		t.Fatalf("valid config rejected: %v", err)
	}

	noKey := base
	noKey.APIKey = ""
	if err := noKey.Validate(); err == nil {
		t.Fatal("openai without key should fail validation")
	}

	ollama := Config{Provider: "ollama", Model: "nomic-embed-text", Endpoint: "http://localhost:11434/v1/embeddings", MaxRetries: 1, TimeoutSecs: 10}
	if err := ollama.Validate(); err != nil {
		t.Fatalf("ollama needs no key: %v", err)
	}

	badTimeout := base
	badTimeout.TimeoutSecs = 0
	if err := badTimeout.Validate(); err == nil {
		t.Fatal("zero timeout should fail validation")
	}
}
