package mcpadapter

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/kirillkom/policy-query-engine/internal/core/ports"
)

const (
	toolAskDocument = "ask_document"
	toolIndexStats  = "index_stats"
)

// Server exposes the query pipeline as MCP tools.
type Server struct {
	runner ports.QueryRunner
	index  ports.IndexInspector
	mcp    *server.MCPServer
}

func NewServer(name, version string, runner ports.QueryRunner, index ports.IndexInspector) *Server {
	s := &Server{
		runner: runner,
		index:  index,
		mcp: server.NewMCPServer(
			name,
			version,
			server.WithToolCapabilities(false),
			server.WithRecovery(),
		),
	}
	s.registerTools()
	return s
}

func (s *Server) MCPServer() *server.MCPServer {
	return s.mcp
}

// ServeStdio blocks serving MCP over stdin/stdout.
func (s *Server) ServeStdio() error {
	return server.ServeStdio(s.mcp)
}

func (s *Server) registerTools() {
	s.mcp.AddTool(mcp.NewTool(toolAskDocument,
		mcp.WithDescription("Answer coverage questions about an insurance, legal or HR document"),
		mcp.WithString("document_url",
			mcp.Required(),
			mcp.Description("http(s) URL or file:// reference of the document"),
		),
		mcp.WithArray("questions",
			mcp.Required(),
			mcp.Description("Questions to answer against the document"),
			mcp.WithStringItems(),
		),
	), s.handleAskDocument)

	s.mcp.AddTool(mcp.NewTool(toolIndexStats,
		mcp.WithDescription("Report vector index statistics"),
	), s.handleIndexStats)
}

func (s *Server) handleAskDocument(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := request.GetArguments()

	ref, _ := args["document_url"].(string)
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return mcp.NewToolResultError("document_url is required"), nil
	}
	questions, err := stringList(args["questions"])
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	resp, err := s.runner.Run(ctx, ref, questions)
	if err != nil {
		slog.Warn("mcp_tool_failed", "tool", toolAskDocument, "error", err)
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(resp)
}

func (s *Server) handleIndexStats(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	stats, err := s.index.Stats(ctx)
	if err != nil {
		slog.Warn("mcp_tool_failed", "tool", toolIndexStats, "error", err)
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(stats)
}

func stringList(raw any) ([]string, error) {
	switch v := raw.(type) {
	case []string:
		return v, nil
	case []any:
		out := make([]string, 0, len(v))
		for i, item := range v {
			s, ok := item.(string)
			if !ok {
				return nil, fmt.Errorf("questions[%d] must be a string", i)
			}
			out = append(out, s)
		}
		return out, nil
	case nil:
		return nil, fmt.Errorf("questions is required")
	default:
		return nil, fmt.Errorf("questions must be an array of strings")
	}
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode tool result: %w", err)
	}
	return mcp.NewToolResultText(string(data)), nil
}
