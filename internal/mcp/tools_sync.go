package mcpserver

import (
	"context"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"

	"mdsync/internal/service"
)

func (s *Server) registerSyncTools() {
	s.mcp.AddTool(mcp.NewTool("list_providers",
		mcp.WithDescription("List configured MDS providers with their interval, offset, time unit and schedule"),
		mcp.WithToolAnnotation(mcp.ToolAnnotation{ReadOnlyHint: boolPtr(true)}),
	), s.handleListProviders)

	s.mcp.AddTool(mcp.NewTool("plan_windows",
		mcp.WithDescription("Resolve the time range and windows the next sync of a provider would fetch, without fetching anything. Shows the trailing partial window that will be skipped."),
		mcp.WithString("provider", mcp.Description("Provider name"), mcp.Required()),
		mcp.WithNumber("start", mcp.Description("Start as unix seconds (optional, defaults to checkpoint minus offset)")),
		mcp.WithNumber("end", mcp.Description("End as unix seconds (optional, defaults to now)")),
		mcp.WithToolAnnotation(mcp.ToolAnnotation{ReadOnlyHint: boolPtr(true)}),
	), s.handlePlanWindows)

	s.mcp.AddTool(mcp.NewTool("run_provider_sync",
		mcp.WithDescription("Fetch trips from a provider and upsert them into the staging store. With replace=true the provider's staged trips in the range are deleted first."),
		mcp.WithString("provider", mcp.Description("Provider name"), mcp.Required()),
		mcp.WithNumber("start", mcp.Description("Start as unix seconds (optional)")),
		mcp.WithNumber("end", mcp.Description("End as unix seconds (optional)")),
		mcp.WithBoolean("replace", mcp.Description("Delete staged trips in the range before loading")),
		mcp.WithToolAnnotation(mcp.ToolAnnotation{DestructiveHint: boolPtr(true)}),
	), s.handleRunProviderSync)

	s.mcp.AddTool(mcp.NewTool("list_sync_runs",
		mcp.WithDescription("List recent sync runs, newest first"),
		mcp.WithString("provider", mcp.Description("Provider name (optional, all providers if omitted)")),
		mcp.WithNumber("limit", mcp.Description("Max runs to return (default 20)")),
		mcp.WithToolAnnotation(mcp.ToolAnnotation{ReadOnlyHint: boolPtr(true)}),
	), s.handleListSyncRuns)
}

func (s *Server) handleListProviders(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return jsonResult(s.sync.Providers())
}

func (s *Server) runOptions(req mcp.CallToolRequest) (string, service.RunOptions, error) {
	var opts service.RunOptions
	provider := req.GetString("provider", "")
	if provider == "" {
		return "", opts, fmt.Errorf("provider is required")
	}

	args := req.GetArguments()
	var err error
	if opts.Start, err = int64Arg(args, "start"); err != nil {
		return "", opts, err
	}
	if opts.End, err = int64Arg(args, "end"); err != nil {
		return "", opts, err
	}
	opts.Replace, _ = args["replace"].(bool)
	return provider, opts, nil
}

func (s *Server) handlePlanWindows(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	provider, opts, err := s.runOptions(req)
	if err != nil {
		return nil, err
	}
	plan, err := s.sync.PlanWindows(ctx, provider, opts)
	if err != nil {
		return nil, fmt.Errorf("plan windows: %w", err)
	}
	return jsonResult(plan)
}

func (s *Server) handleRunProviderSync(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	provider, opts, err := s.runOptions(req)
	if err != nil {
		return nil, err
	}
	result, err := s.sync.RunProvider(ctx, provider, opts)
	if err != nil {
		return nil, fmt.Errorf("run provider sync: %w", err)
	}
	return jsonResult(result)
}

func (s *Server) handleListSyncRuns(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	limit := 20
	if v, ok := req.GetArguments()["limit"].(float64); ok && v > 0 {
		limit = int(v)
	}
	runs, err := s.sync.ListRuns(req.GetString("provider", ""), limit)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	return jsonResult(runs)
}
