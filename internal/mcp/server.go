// Package mcp provides a Model Context Protocol server for marginalia.
//
// It exposes the highlight library to agent clients as MCP tools:
// hybrid search, question answering grounded in highlights, and book
// listing. Stdio transport only; the server is scoped to a single user
// chosen at startup, mirroring a personal reading library.
package mcp

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/marginalia-dev/marginalia/internal/search"
	"github.com/marginalia-dev/marginalia/internal/store"
)

// ServerConfig holds configuration for the MCP server.
type ServerConfig struct {
	Store   store.Store
	Engine  *search.Engine
	UserID  string
	Version string
}

// NewServer creates a configured MCP server with all marginalia tools.
func NewServer(cfg ServerConfig) *server.MCPServer {
	ver := cfg.Version
	if ver == "" {
		ver = "dev"
	}

	s := server.NewMCPServer(
		"Marginalia",
		ver,
		server.WithToolCapabilities(false),
	)

	registerSearchTool(s, cfg.Engine, cfg.UserID)
	registerAskTool(s, cfg.Engine, cfg.UserID)
	registerListBooksTool(s, cfg.Store, cfg.UserID)

	return s
}

// ServeStdio runs the server on stdin/stdout until the client disconnects.
func ServeStdio(s *server.MCPServer) error {
	return server.ServeStdio(s)
}

func registerSearchTool(s *server.MCPServer, engine *search.Engine, userID string) {
	tool := mcp.NewTool("search_highlights",
		mcp.WithDescription("Search the user's reading highlights. Combines substring matching with semantic embedding similarity; semantic matches rank first."),
		mcp.WithReadOnlyHintAnnotation(true),
		mcp.WithDestructiveHintAnnotation(false),
		mcp.WithString("query",
			mcp.Required(),
			mcp.Description("Free-text search query"),
		),
	)

	s.AddTool(tool, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		query, err := req.RequireString("query")
		if err != nil {
			return mcp.NewToolResultError("query is required"), nil
		}

		resp, err := engine.Search(ctx, userID, query, false)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("search error: %v", err)), nil
		}

		data, _ := json.MarshalIndent(resp, "", "  ")
		return mcp.NewToolResultText(string(data)), nil
	})
}

func registerAskTool(s *server.MCPServer, engine *search.Engine, userID string) {
	tool := mcp.NewTool("ask_highlights",
		mcp.WithDescription("Ask a natural-language question answered from the user's reading highlights, with citations naming the source books."),
		mcp.WithReadOnlyHintAnnotation(true),
		mcp.WithDestructiveHintAnnotation(false),
		mcp.WithString("question",
			mcp.Required(),
			mcp.Description("The question to answer from the highlight library"),
		),
	)

	s.AddTool(tool, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		question, err := req.RequireString("question")
		if err != nil {
			return mcp.NewToolResultError("question is required"), nil
		}

		resp, err := engine.Search(ctx, userID, question, true)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("search error: %v", err)), nil
		}

		data, _ := json.MarshalIndent(resp, "", "  ")
		return mcp.NewToolResultText(string(data)), nil
	})
}

func registerListBooksTool(s *server.MCPServer, st store.Store, userID string) {
	tool := mcp.NewTool("list_books",
		mcp.WithDescription("List the books in the user's library, newest first."),
		mcp.WithReadOnlyHintAnnotation(true),
		mcp.WithDestructiveHintAnnotation(false),
	)

	s.AddTool(tool, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		books, err := st.ListBooks(ctx, userID)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("list error: %v", err)), nil
		}

		data, _ := json.MarshalIndent(books, "", "  ")
		return mcp.NewToolResultText(string(data)), nil
	})
}
