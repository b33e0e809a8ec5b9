package mcpserver

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"

	"mdsync/internal/domain"
	"mdsync/internal/etl"
	"mdsync/internal/service"
)

type fakeSyncer struct {
	opts service.RunOptions
	name string
}

func (f *fakeSyncer) Providers() []domain.ProviderConfig {
	return []domain.ProviderConfig{{Name: "lime", Interval: 3600, Token: "hidden"}}
}

func (f *fakeSyncer) RunProvider(_ context.Context, name string, opts service.RunOptions) (*etl.SyncResult, error) {
	f.name, f.opts = name, opts
	if name == "broken" {
		return nil, etl.AuthError("acquire token", errors.New("no token"))
	}
	return &etl.SyncResult{Provider: name, Status: "success", Loaded: 7}, nil
}

func (f *fakeSyncer) PlanWindows(_ context.Context, name string, opts service.RunOptions) (*service.Plan, error) {
	f.name, f.opts = name, opts
	return &service.Plan{Provider: name, Count: 3}, nil
}

func (f *fakeSyncer) ListRuns(provider string, limit int) ([]domain.SyncRun, error) {
	return []domain.SyncRun{{ID: "r1", Provider: provider, Windows: limit}}, nil
}

func (f *fakeSyncer) ListDuplicates(runID string) ([]domain.DuplicateTrip, error) {
	return []domain.DuplicateTrip{{RunID: runID, TripID: "A"}}, nil
}

func callRequest(args map[string]any) mcp.CallToolRequest {
	var req mcp.CallToolRequest
	req.Params.Arguments = args
	return req
}

func resultText(t *testing.T, res *mcp.CallToolResult) string {
	t.Helper()
	if res == nil || len(res.Content) != 1 {
		t.Fatalf("expected one content item, got %+v", res)
	}
	tc, ok := res.Content[0].(mcp.TextContent)
	if !ok {
		t.Fatalf("expected text content, got %T", res.Content[0])
	}
	return tc.Text
}

func TestListProviders(t *testing.T) {
	s := New(&fakeSyncer{}, "test")
	res, err := s.handleListProviders(context.Background(), callRequest(nil))
	if err != nil {
		t.Fatalf("list providers: %v", err)
	}
	text := resultText(t, res)
	if !strings.Contains(text, `"name": "lime"`) || strings.Contains(text, "hidden") {
		t.Fatalf("unexpected providers output: %s", text)
	}
}

func TestRunProviderSync_Args(t *testing.T) {
	f := &fakeSyncer{}
	s := New(f, "test")

	res, err := s.handleRunProviderSync(context.Background(), callRequest(map[string]any{
		"provider": "lime",
		"start":    float64(1700000000),
		"end":      "1700007200",
		"replace":  true,
	}))
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if f.name != "lime" || f.opts.Start == nil || *f.opts.Start != 1700000000 {
		t.Fatalf("unexpected start: %+v", f.opts)
	}
	if f.opts.End == nil || *f.opts.End != 1700007200 || !f.opts.Replace {
		t.Fatalf("unexpected end/replace: %+v", f.opts)
	}
	if !strings.Contains(resultText(t, res), `"loaded": 7`) {
		t.Fatalf("result missing loaded count")
	}
}

func TestRunProviderSync_Errors(t *testing.T) {
	s := New(&fakeSyncer{}, "test")

	if _, err := s.handleRunProviderSync(context.Background(), callRequest(map[string]any{})); err == nil {
		t.Fatal("expected error without provider")
	}
	if _, err := s.handleRunProviderSync(context.Background(), callRequest(map[string]any{"provider": "lime", "start": "soon"})); err == nil {
		t.Fatal("expected error for non-numeric start")
	}
	_, err := s.handleRunProviderSync(context.Background(), callRequest(map[string]any{"provider": "broken"}))
	if !etl.IsKind(err, etl.KindAuth) {
		t.Fatalf("expected auth error, got %v", err)
	}
}

func TestPlanWindows(t *testing.T) {
	f := &fakeSyncer{}
	s := New(f, "test")
	res, err := s.handlePlanWindows(context.Background(), callRequest(map[string]any{"provider": "bird"}))
	if err != nil {
		t.Fatalf("plan: %v", err)
	}
	if f.opts.Start != nil || f.opts.End != nil {
		t.Fatalf("expected checkpoint-derived range, got %+v", f.opts)
	}
	if !strings.Contains(resultText(t, res), `"count": 3`) {
		t.Fatalf("plan output missing count")
	}
}

func TestListSyncRuns_DefaultLimit(t *testing.T) {
	s := New(&fakeSyncer{}, "test")
	res, err := s.handleListSyncRuns(context.Background(), callRequest(map[string]any{"provider": "lime"}))
	if err != nil {
		t.Fatalf("list runs: %v", err)
	}
	if !strings.Contains(resultText(t, res), `"windows": 20`) {
		t.Fatalf("expected default limit 20 to be passed through")
	}
}

func TestRunDuplicatesResource(t *testing.T) {
	s := New(&fakeSyncer{}, "test")
	var req mcp.ReadResourceRequest
	req.Params.URI = "mdsync://runs/r1/duplicates"

	contents, err := s.handleRunDuplicatesResource(context.Background(), req)
	if err != nil {
		t.Fatalf("read resource: %v", err)
	}
	tc, ok := contents[0].(mcp.TextResourceContents)
	if !ok || !strings.Contains(tc.Text, `"tripId": "A"`) || !strings.Contains(tc.Text, `"runId": "r1"`) {
		t.Fatalf("unexpected resource contents: %+v", contents)
	}

	req.Params.URI = "mdsync://runs//duplicates"
	if _, err := s.handleRunDuplicatesResource(context.Background(), req); err == nil {
		t.Fatal("expected error for empty run id")
	}
}
