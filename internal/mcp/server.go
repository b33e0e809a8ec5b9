package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"log"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"mdsync/internal/domain"
	"mdsync/internal/etl"
	"mdsync/internal/service"
)

// Syncer is the part of service.SyncService exposed to agents.
type Syncer interface {
	Providers() []domain.ProviderConfig
	RunProvider(ctx context.Context, name string, opts service.RunOptions) (*etl.SyncResult, error)
	PlanWindows(ctx context.Context, name string, opts service.RunOptions) (*service.Plan, error)
	ListRuns(provider string, limit int) ([]domain.SyncRun, error)
	ListDuplicates(runID string) ([]domain.DuplicateTrip, error)
}

// Server is the MCP server for mdsync.
// It exposes tools and resources so AI agents can inspect and trigger provider syncs.
type Server struct {
	mcp  *server.MCPServer
	sync Syncer
}

// New creates and configures a new MCP server with all tools and resources.
func New(svc Syncer, version string) *Server {
	s := &Server{sync: svc}

	s.mcp = server.NewMCPServer(
		"mdsync-mcp",
		version,
		server.WithToolCapabilities(true),
		server.WithResourceCapabilities(true, false),
	)

	s.registerSyncTools()
	s.registerResources()
	return s
}

// ServeStdio starts the MCP server on stdin/stdout.
func (s *Server) ServeStdio() error {
	log.Println("[MCP] Starting stdio server...")
	return server.ServeStdio(s.mcp)
}

// ── Helpers ────────────────────────────────────────────────

// textResult creates a simple text tool result.
func textResult(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: text},
		},
	}
}

// jsonResult serializes v to JSON and wraps it in a text tool result.
func jsonResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal result: %w", err)
	}
	return textResult(string(data)), nil
}

func boolPtr(v bool) *bool { return &v }

// int64Arg reads an optional integer argument. JSON numbers arrive as
// float64; numeric strings are accepted too.
func int64Arg(args map[string]any, key string) (*int64, error) {
	switch v := args[key].(type) {
	case nil:
		return nil, nil
	case float64:
		n := int64(v)
		return &n, nil
	case string:
		if v == "" {
			return nil, nil
		}
		var n int64
		if _, err := fmt.Sscan(v, &n); err != nil {
			return nil, fmt.Errorf("%s must be unix seconds", key)
		}
		return &n, nil
	default:
		return nil, fmt.Errorf("%s must be unix seconds", key)
	}
}
