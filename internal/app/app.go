package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	"mdsync/internal/api"
	"mdsync/internal/config"
	"mdsync/internal/etl"
	"mdsync/internal/observability"
	"mdsync/internal/secret"
	"mdsync/internal/service"
	"mdsync/internal/storage"
)

// Version is reported by the MCP server and the API.
var Version = "dev"

// App wires config, the state DB and the sync service for one CLI mode.
type App struct {
	Config  *config.Config
	Sync    *service.SyncService
	Metrics *observability.Metrics

	db *storage.DB
}

// Open loads the config at path and opens everything a run needs.
func Open(path string) (*App, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	secrets, err := secret.New(cfg.Secrets)
	if err != nil {
		return nil, err
	}

	db, err := storage.New(cfg.StateDB)
	if err != nil {
		return nil, fmt.Errorf("open state db: %w", err)
	}

	metrics := observability.NewMetrics()
	svc := service.NewSyncService(cfg, storage.NewRunStore(db), secrets, metrics, service.LogEmitter{})

	return &App{Config: cfg, Sync: svc, Metrics: metrics, db: db}, nil
}

// Close stops background work and closes the state DB.
func (a *App) Close() error {
	a.Sync.Stop()
	return a.db.Close()
}

// ── run ────────────────────────────────────────────────────

// RunOnce runs one provider, or every provider when name is empty.
func (a *App) RunOnce(ctx context.Context, name string, opts service.RunOptions) error {
	if name != "" {
		res, err := a.Sync.RunProvider(ctx, name, opts)
		printResult(res)
		return err
	}

	results, err := a.Sync.RunAll(ctx, opts)
	for _, res := range results {
		printResult(res)
	}
	return err
}

func printResult(res *etl.SyncResult) {
	if res == nil {
		return
	}
	log.Printf("%s: status=%s windows=%d fetched=%d loaded=%d duplicates=%d range=[%d,%d) took=%s",
		res.Provider, res.Status, res.Windows, res.Fetched, res.Loaded, res.Duplicates,
		res.Start, res.End, res.Duration.Round(time.Millisecond))
}

// ── serve ──────────────────────────────────────────────────

// Serve runs scheduled syncs, watches the config file and serves the API
// until ctx is cancelled. Running syncs get a grace period to finish.
func (a *App) Serve(ctx context.Context) error {
	a.Sync.RestartScheduler(ctx)
	if err := a.Sync.WatchConfig(ctx); err != nil {
		log.Printf("config watcher disabled: %v", err)
	}

	var servers []*http.Server
	errCh := make(chan error, 2)
	listen := func(addr string, h http.Handler) {
		srv := &http.Server{Addr: addr, Handler: h, ReadHeaderTimeout: 10 * time.Second}
		servers = append(servers, srv)
		go func() {
			log.Printf("listening on %s", addr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- fmt.Errorf("%s: %w", addr, err)
			}
		}()
	}

	if a.Config.APIAddr != "" {
		metrics := a.Metrics.Handler()
		if a.Config.MetricsAddr != "" {
			metrics = nil
		}
		listen(a.Config.APIAddr, api.NewRouter(a.Sync, metrics))
	}
	if a.Config.MetricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", a.Metrics.Handler())
		listen(a.Config.MetricsAddr, mux)
	}

	var err error
	select {
	case <-ctx.Done():
	case err = <-errCh:
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	a.Sync.Stop()
	for _, srv := range servers {
		srv.Shutdown(shutdownCtx)
	}
	if running := a.Sync.Running(); len(running) > 0 {
		log.Printf("waiting for running syncs: %s", strings.Join(running, ", "))
	}
	a.Sync.WaitRunning(shutdownCtx)
	return err
}
