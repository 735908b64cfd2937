package api

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/medqa/medqa/internal/index"
	"github.com/medqa/medqa/internal/ingest"
)

// MCPSearcher abstracts semantic search for the MCP layer.
type MCPSearcher interface {
	Retrieve(ctx context.Context, query string) ([]index.ScoredEntry, error)
}

// MCPDeps holds dependencies for the MCP server.
type MCPDeps struct {
	Assistant Asker
	Searcher  MCPSearcher
	Pipeline  Ingestor // optional; if nil, the status resource is not registered
}

// NewMCPServer creates an MCP server exposing the document corpus to
// MCP-capable clients.
func NewMCPServer(deps MCPDeps) *server.MCPServer {
	s := server.NewMCPServer(
		"medqa",
		"1.0.0",
		server.WithToolCapabilities(true),
		server.WithInstructions("medqa — question answering over a local medical document corpus."),
		server.WithRecovery(),
	)

	s.AddTool(
		mcp.NewTool("ask_documents",
			mcp.WithDescription("Ask a question; the answer is grounded in the ingested documents and includes citations."),
			mcp.WithString("question", mcp.Description("The question to answer"), mcp.Required()),
			mcp.WithString("session_id", mcp.Description("Optional session id to continue a conversation")),
		),
		mcpAskDocuments(deps),
	)

	s.AddTool(
		mcp.NewTool("search_documents",
			mcp.WithDescription("Semantically search the ingested documents and return the most relevant chunks."),
			mcp.WithString("query", mcp.Description("Search query"), mcp.Required()),
			mcp.WithNumber("limit", mcp.Description("Maximum number of results (default 3)")),
		),
		mcpSearchDocuments(deps),
	)

	if deps.Pipeline != nil {
		s.AddResource(
			mcp.NewResource(
				"medqa://status",
				"Ingestion Status",
				mcp.WithResourceDescription("Current ingestion stage and index counts as JSON"),
				mcp.WithMIMEType("application/json"),
			),
			mcpResourceStatus(deps),
		)
	}

	return s
}

func mcpResourceStatus(deps MCPDeps) server.ResourceHandlerFunc {
	return func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		status := map[string]any{"stage": deps.Pipeline.Stage().String()}
		if deps.Pipeline.Stage() == ingest.StageFailed {
			status["failed_stage"] = deps.Pipeline.FailedStage().String()
		}
		if report := deps.Pipeline.LastReport(); report != nil {
			status["documents"] = report.Documents
			status["chunks"] = report.Chunks
			status["reused"] = report.Reused
		}

		b, err := json.Marshal(status)
		if err != nil {
			return nil, fmt.Errorf("marshalling status: %w", err)
		}
		return []mcp.ResourceContents{
			mcp.TextResourceContents{
				URI:      req.Params.URI,
				MIMEType: "application/json",
				Text:     string(b),
			},
		}, nil
	}
}

func mcpAskDocuments(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		question, err := req.RequireString("question")
		if err != nil {
			return mcpError("question is required"), nil
		}
		sessionID := req.GetString("session_id", "")

		resp, err := deps.Assistant.Ask(ctx, sessionID, question)
		if err != nil {
			return mcpError(fmt.Sprintf("ask failed: %v", err)), nil
		}

		b, err := json.Marshal(resp)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal answer: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpSearchDocuments(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		query, err := req.RequireString("query")
		if err != nil {
			return mcpError("query is required"), nil
		}

		limit := req.GetInt("limit", 3)
		if limit <= 0 {
			limit = 3
		}

		chunks, err := deps.Searcher.Retrieve(ctx, query)
		if err != nil {
			return mcpError(fmt.Sprintf("search failed: %v", err)), nil
		}
		if limit < len(chunks) {
			chunks = chunks[:limit]
		}
		if len(chunks) == 0 {
			return mcpText("[]"), nil
		}

		type chunkResult struct {
			ID     string  `json:"id"`
			Source string  `json:"source"`
			Text   string  `json:"text"`
			Score  float64 `json:"score"`
		}
		results := make([]chunkResult, len(chunks))
		for i, c := range chunks {
			results[i] = chunkResult{ID: c.ChunkID, Source: c.Source, Text: c.Text, Score: c.Score}
		}

		b, err := json.Marshal(results)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal results: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpText(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: text},
		},
	}
}

func mcpError(msg string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: msg},
		},
		IsError: true,
	}
}
