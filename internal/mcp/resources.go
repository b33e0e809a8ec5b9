package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
)

func (s *Server) registerResources() {
	// ── mdsync://providers ─────────────────────────────
	s.mcp.AddResource(mcp.NewResource(
		"mdsync://providers",
		"Configured Providers",
		mcp.WithMIMEType("application/json"),
	), s.handleProvidersResource)

	// ── mdsync://runs/{runId}/duplicates ───────────────
	s.mcp.AddResourceTemplate(
		mcp.NewResourceTemplate(
			"mdsync://runs/{runId}/duplicates",
			"Trip keys dropped as duplicates during a run",
		),
		s.handleRunDuplicatesResource,
	)
}

func (s *Server) handleProvidersResource(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	data, _ := json.MarshalIndent(s.sync.Providers(), "", "  ")
	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      "mdsync://providers",
			MIMEType: "application/json",
			Text:     string(data),
		},
	}, nil
}

func (s *Server) handleRunDuplicatesResource(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	uri := req.Params.URI
	runID := strings.TrimSuffix(strings.TrimPrefix(uri, "mdsync://runs/"), "/duplicates")
	if runID == "" || strings.Contains(runID, "/") {
		return nil, fmt.Errorf("invalid run URI: %s", uri)
	}

	dups, err := s.sync.ListDuplicates(runID)
	if err != nil {
		return nil, err
	}
	data, _ := json.MarshalIndent(dups, "", "  ")
	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      uri,
			MIMEType: "application/json",
			Text:     string(data),
		},
	}, nil
}
