package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"

	"mdsync/internal/config"
	"mdsync/internal/domain"
	"mdsync/internal/etl"
	"mdsync/internal/service"
)

type fakeSyncer struct {
	gotOpts     service.RunOptions
	gotProvider string
	gotLimit    int
	runErr      error
}

func (f *fakeSyncer) Providers() []domain.ProviderConfig {
	return []domain.ProviderConfig{{Name: "lime", ProviderID: "lime-id", Token: "hidden"}}
}

func (f *fakeSyncer) RunProvider(_ context.Context, name string, opts service.RunOptions) (*etl.SyncResult, error) {
	f.gotOpts = opts
	if name != "lime" {
		return nil, fmt.Errorf("%w %q", config.ErrUnknownProvider, name)
	}
	if f.runErr != nil {
		return &etl.SyncResult{Provider: name, Status: "error", Error: f.runErr.Error()}, f.runErr
	}
	return &etl.SyncResult{Provider: name, Status: "success", Loaded: 2, Windows: 1}, nil
}

func (f *fakeSyncer) PlanWindows(_ context.Context, name string, opts service.RunOptions) (*service.Plan, error) {
	if opts.Start != nil && opts.End != nil && *opts.Start >= *opts.End {
		return nil, etl.ScheduleError("resolve", errors.New("inverted"))
	}
	return &service.Plan{Provider: name, Count: 2}, nil
}

func (f *fakeSyncer) ListRuns(provider string, limit int) ([]domain.SyncRun, error) {
	f.gotProvider, f.gotLimit = provider, limit
	return nil, nil
}

func (f *fakeSyncer) ListDuplicates(runID string) ([]domain.DuplicateTrip, error) {
	return []domain.DuplicateTrip{{RunID: runID, TripID: "A"}}, nil
}

func init() { gin.SetMode(gin.TestMode) }

func do(t *testing.T, r http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func TestHealthAndRequestID(t *testing.T) {
	r := NewRouter(&fakeSyncer{}, nil)
	rec := do(t, r, http.MethodGet, "/healthz", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.NotEmpty(t, rec.Header().Get("X-Request-ID"))
}

func TestListProvidersHidesSecrets(t *testing.T) {
	r := NewRouter(&fakeSyncer{}, nil)
	rec := do(t, r, http.MethodGet, "/providers", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"providerId":"lime-id"`)
	require.NotContains(t, rec.Body.String(), "hidden")
}

func TestRunProvider(t *testing.T) {
	f := &fakeSyncer{}
	r := NewRouter(f, nil)

	rec := do(t, r, http.MethodPost, "/providers/lime/run", `{"start":1700000000,"end":1700007200,"replace":true}`)
	require.Equal(t, http.StatusOK, rec.Code)

	var res etl.SyncResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	require.Equal(t, 2, res.Loaded)
	require.NotNil(t, f.gotOpts.Start)
	require.Equal(t, int64(1700000000), *f.gotOpts.Start)
	require.True(t, f.gotOpts.Replace)

	rec = do(t, r, http.MethodPost, "/providers/lime/run", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Nil(t, f.gotOpts.Start)
}

func TestRunProviderErrors(t *testing.T) {
	f := &fakeSyncer{}
	r := NewRouter(f, nil)

	require.Equal(t, http.StatusNotFound, do(t, r, http.MethodPost, "/providers/nope/run", "").Code)
	require.Equal(t, http.StatusBadRequest, do(t, r, http.MethodPost, "/providers/lime/run", `{"start":"x"}`).Code)

	f.runErr = fmt.Errorf("provider lime: %w", service.ErrAlreadyRunning)
	require.Equal(t, http.StatusConflict, do(t, r, http.MethodPost, "/providers/lime/run", "").Code)

	f.runErr = etl.TransportError("fetch [0,1)", errors.New("http 503"))
	rec := do(t, r, http.MethodPost, "/providers/lime/run", "")
	require.Equal(t, http.StatusBadGateway, rec.Code)
	require.Contains(t, rec.Body.String(), `"result"`)
}

func TestPlan(t *testing.T) {
	r := NewRouter(&fakeSyncer{}, nil)
	require.Equal(t, http.StatusOK, do(t, r, http.MethodGet, "/providers/lime/plan", "").Code)
	require.Equal(t, http.StatusBadRequest, do(t, r, http.MethodGet, "/providers/lime/plan?start=10&end=5", "").Code)
	require.Equal(t, http.StatusBadRequest, do(t, r, http.MethodGet, "/providers/lime/plan?start=abc", "").Code)
}

func TestListRuns(t *testing.T) {
	f := &fakeSyncer{}
	r := NewRouter(f, nil)

	rec := do(t, r, http.MethodGet, "/runs?provider=lime&limit=5", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `[]`, rec.Body.String())
	require.Equal(t, "lime", f.gotProvider)
	require.Equal(t, 5, f.gotLimit)

	require.Equal(t, http.StatusBadRequest, do(t, r, http.MethodGet, "/runs?limit=0", "").Code)

	rec = do(t, r, http.MethodGet, "/runs/r1/duplicates", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"tripId":"A"`)
}

func TestMetricsRoute(t *testing.T) {
	metrics := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte("mdsync_up 1\n"))
	})
	r := NewRouter(&fakeSyncer{}, metrics)
	rec := do(t, r, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "mdsync_up")

	require.Equal(t, http.StatusNotFound, do(t, NewRouter(&fakeSyncer{}, nil), http.MethodGet, "/metrics", "").Code)
}
