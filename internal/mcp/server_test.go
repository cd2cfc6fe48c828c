package mcp

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	mcplib "github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/marginalia-dev/marginalia/internal/search"
	"github.com/marginalia-dev/marginalia/internal/store"
)

// helper: create a test store seeded with one user's library
func setupTestStore(t *testing.T) *store.SQLiteStore {
	t.Helper()
	s, err := store.NewStore(store.Config{DBPath: ":memory:"})
	if err != nil {
		t.Fatalf("opening test store: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	ctx := context.Background()

	book := &store.Book{UserID: "u1", Title: "Thinking in Systems", Author: "Donella Meadows"}
	if err := s.AddBook(ctx, book); err != nil {
		t.Fatalf("adding test book: %v", err)
	}

	highlights := []*store.Highlight{
		{UserID: "u1", BookID: book.ID, Content: "A feedback loop is a closed chain of causal connections"},
		{UserID: "u1", BookID: book.ID, Content: "Stocks are the memory of the history of changing flows"},
	}
	for _, h := range highlights {
		if err := s.AddHighlight(ctx, h); err != nil {
			t.Fatalf("adding test highlight: %v", err)
		}
	}

	// Another user's library, invisible to the tools
	otherBook := &store.Book{UserID: "u2", Title: "Other Shelf"}
	if err := s.AddBook(ctx, otherBook); err != nil {
		t.Fatalf("adding other book: %v", err)
	}

	return s
}

// newTestServer wires a server with a lexical-only engine. No embedder
// or synthesizer, matching how the tools behave without AI providers.
func newTestServer(t *testing.T, s *store.SQLiteStore) *server.MCPServer {
	t.Helper()
	engine := search.NewEngine(s, nil, nil, search.EngineOptions{})
	return NewServer(ServerConfig{Store: s, Engine: engine, UserID: "u1", Version: "test"})
}

func TestNewServer(t *testing.T) {
	s := setupTestStore(t)

	srv := newTestServer(t, s)
	if srv == nil {
		t.Fatal("NewServer returned nil")
	}
}

// callTool is a helper that invokes an MCP tool through the JSON-RPC surface.
func callTool(t *testing.T, srv *server.MCPServer, name string, args map[string]interface{}) *mcplib.CallToolResult {
	t.Helper()

	result := srv.HandleMessage(context.Background(), mustMarshal(t, map[string]interface{}{
		"jsonrpc": "2.0",
		"id":      1,
		"method":  "tools/call",
		"params": map[string]interface{}{
			"name":      name,
			"arguments": args,
		},
	}))

	respBytes, err := json.Marshal(result)
	if err != nil {
		t.Fatalf("marshal response: %v", err)
	}

	var resp struct {
		Result struct {
			Content []struct {
				Type string `json:"type"`
				Text string `json:"text"`
			} `json:"content"`
			IsError bool `json:"isError"`
		} `json:"result"`
		Error *struct {
			Code    int    `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(respBytes, &resp); err != nil {
		t.Fatalf("unmarshal response: %v\nraw: %s", err, string(respBytes))
	}

	if resp.Error != nil {
		t.Fatalf("JSON-RPC error: %d %s", resp.Error.Code, resp.Error.Message)
	}

	callResult := &mcplib.CallToolResult{
		IsError: resp.Result.IsError,
	}
	for _, c := range resp.Result.Content {
		if c.Type == "text" {
			callResult.Content = append(callResult.Content, mcplib.NewTextContent(c.Text))
		}
	}

	return callResult
}

func mustMarshal(t *testing.T, v interface{}) json.RawMessage {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return data
}

func getTextContent(t *testing.T, result *mcplib.CallToolResult) string {
	t.Helper()
	if len(result.Content) == 0 {
		t.Fatal("no content in result")
	}
	for _, c := range result.Content {
		if tc, ok := c.(mcplib.TextContent); ok {
			return tc.Text
		}
	}
	t.Fatal("no text content found")
	return ""
}

func TestSearchHighlightsTool(t *testing.T) {
	s := setupTestStore(t)
	srv := newTestServer(t, s)

	result := callTool(t, srv, "search_highlights", map[string]interface{}{
		"query": "feedback loop",
	})
	if result.IsError {
		t.Fatalf("unexpected tool error: %s", getTextContent(t, result))
	}

	var resp search.Response
	if err := json.Unmarshal([]byte(getTextContent(t, result)), &resp); err != nil {
		t.Fatalf("parsing search response: %v", err)
	}

	if resp.TotalResults != 1 {
		t.Fatalf("TotalResults = %d, want 1", resp.TotalResults)
	}
	if len(resp.Highlights) != 1 || !strings.Contains(resp.Highlights[0].Content, "feedback loop") {
		t.Fatalf("highlights = %+v", resp.Highlights)
	}
}

func TestSearchHighlightsToolMissingQuery(t *testing.T) {
	s := setupTestStore(t)
	srv := newTestServer(t, s)

	result := callTool(t, srv, "search_highlights", map[string]interface{}{})
	if !result.IsError {
		t.Fatal("expected error for missing query")
	}
}

func TestAskHighlightsTool(t *testing.T) {
	s := setupTestStore(t)
	srv := newTestServer(t, s)

	result := callTool(t, srv, "ask_highlights", map[string]interface{}{
		"question": "stocks",
	})
	if result.IsError {
		t.Fatalf("unexpected tool error: %s", getTextContent(t, result))
	}

	var resp search.Response
	if err := json.Unmarshal([]byte(getTextContent(t, result)), &resp); err != nil {
		t.Fatalf("parsing ask response: %v", err)
	}

	if resp.TotalResults != 1 {
		t.Fatalf("TotalResults = %d, want 1", resp.TotalResults)
	}
	// No synthesizer configured, so the answer stays empty while the
	// retrieved highlights still come back.
	if resp.AIAnswer != nil {
		t.Fatalf("AIAnswer = %q, want nil without a synthesizer", *resp.AIAnswer)
	}
}

func TestAskHighlightsToolMissingQuestion(t *testing.T) {
	s := setupTestStore(t)
	srv := newTestServer(t, s)

	result := callTool(t, srv, "ask_highlights", map[string]interface{}{})
	if !result.IsError {
		t.Fatal("expected error for missing question")
	}
}

func TestListBooksTool(t *testing.T) {
	s := setupTestStore(t)
	srv := newTestServer(t, s)

	result := callTool(t, srv, "list_books", map[string]interface{}{})
	if result.IsError {
		t.Fatalf("unexpected tool error: %s", getTextContent(t, result))
	}

	var books []store.Book
	if err := json.Unmarshal([]byte(getTextContent(t, result)), &books); err != nil {
		t.Fatalf("parsing book list: %v", err)
	}

	if len(books) != 1 {
		t.Fatalf("got %d books, want 1 (only the configured user's)", len(books))
	}
	if books[0].Title != "Thinking in Systems" {
		t.Fatalf("title = %q", books[0].Title)
	}
}
