package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/robfig/cron/v3"
	"golang.org/x/sync/errgroup"

	"mdsync/internal/config"
	"mdsync/internal/dbclient"
	"mdsync/internal/domain"
	"mdsync/internal/etl"
	"mdsync/internal/etl/sources"
	"mdsync/internal/observability"
	"mdsync/internal/secret"
)

// ─────────────────────────────────────────────────────────────
// Sync Service: runs provider syncs, schedules and reloads them
// ─────────────────────────────────────────────────────────────

// ConnectorFactory opens the staging store. Swapped out in tests.
type ConnectorFactory func(conn *domain.StagingConnection, password string) (dbclient.Connector, error)

// SyncService owns the loaded config and runs provider syncs against it.
// Runs of the same provider never overlap.
type SyncService struct {
	mu      sync.RWMutex
	cfg     *config.Config
	runs    domain.SyncRunStore
	secrets secret.SecretStore
	metrics *observability.Metrics
	emitter EventEmitter

	Connect ConnectorFactory
	Now     func() time.Time

	guard providerGuard

	// watcher / cron lifecycle
	watchCancel context.CancelFunc
	watcher     *fsnotify.Watcher
	cronSched   *cron.Cron
}

// NewSyncService creates a SyncService ready for use. metrics and emitter may be nil.
func NewSyncService(
	cfg *config.Config,
	runs domain.SyncRunStore,
	secrets secret.SecretStore,
	metrics *observability.Metrics,
	emitter EventEmitter,
) *SyncService {
	if emitter == nil {
		emitter = LogEmitter{}
	}
	return &SyncService{
		cfg:     cfg,
		runs:    runs,
		secrets: secrets,
		metrics: metrics,
		emitter: emitter,
		Connect: dbclient.NewConnector,
		Now:     time.Now,
	}
}

// Config returns the currently active config.
func (s *SyncService) Config() *config.Config {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cfg
}

// SetConfig swaps the active config. Running syncs keep the one they started with.
func (s *SyncService) SetConfig(cfg *config.Config) {
	s.mu.Lock()
	s.cfg = cfg
	s.mu.Unlock()
}

// Providers returns the configured providers in name order.
func (s *SyncService) Providers() []domain.ProviderConfig {
	cfg := s.Config()
	out := make([]domain.ProviderConfig, 0, len(cfg.Providers))
	for _, name := range cfg.ProviderNames() {
		out = append(out, *cfg.Providers[name])
	}
	return out
}

// ── Run ────────────────────────────────────────────────────

// RunOptions override the checkpoint-derived range. Start and End are
// unix seconds.
type RunOptions struct {
	Start   *int64 `json:"start,omitempty"`
	End     *int64 `json:"end,omitempty"`
	Replace bool   `json:"replace,omitempty"`
}

// RunProvider executes one sync run for the named provider and records it.
// The returned result is non-nil whenever the run log was created.
func (s *SyncService) RunProvider(ctx context.Context, name string, opts RunOptions) (*etl.SyncResult, error) {
	release, err := s.guard.acquire(name)
	if err != nil {
		return nil, err
	}
	defer release()

	cfg := s.Config()
	if _, err := cfg.Provider(name); err != nil {
		return nil, err
	}

	run := &domain.SyncRun{Provider: name}
	if err := s.runs.CreateRun(run); err != nil {
		return nil, fmt.Errorf("create run log: %w", err)
	}

	obs := &runObserver{}
	if s.metrics != nil {
		obs.next = s.metrics.Observer(name)
	}

	result, runErr := s.execute(ctx, cfg, name, opts, obs)
	if result == nil {
		result = &etl.SyncResult{Provider: name, Status: domain.RunStatusError}
		if runErr != nil {
			result.Error = runErr.Error()
		}
	}

	run.FinishedAt = time.Now()
	run.RangeStart = result.Start
	run.RangeEnd = result.End
	run.Windows = result.Windows
	run.Fetched = result.Fetched
	run.Loaded = result.Loaded
	run.Duplicates = result.Duplicates
	run.Status = result.Status
	run.Error = result.Error
	if err := s.runs.FinishRun(run); err != nil {
		log.Printf("mds sync: %s: failed to finish run log: %v", name, err)
	}
	if len(obs.keys) > 0 {
		if err := s.runs.RecordDuplicates(run.ID, name, obs.keys); err != nil {
			log.Printf("mds sync: %s: failed to record duplicates: %v", name, err)
		}
	}
	if s.metrics != nil {
		s.metrics.RunFinished(name, result.Status, run.FinishedAt.Sub(run.StartedAt), run.FinishedAt)
	}

	if runErr != nil {
		log.Printf("mds sync: %s: run %s failed after %d window(s): %v", name, run.ID, result.Windows, runErr)
	} else {
		log.Printf("mds sync: %s: run %s loaded %d trips in %d window(s)", name, run.ID, result.Loaded, result.Windows)
	}
	s.emitter.Emit(ctx, "sync:run-completed", run)

	return result, runErr
}

func (s *SyncService) execute(ctx context.Context, cfg *config.Config, name string, opts RunOptions, obs etl.Observer) (*etl.SyncResult, error) {
	pc, err := s.resolveProvider(cfg, name)
	if err != nil {
		return nil, err
	}

	if pc.Source == "mds" && pc.NeedsToken() {
		client := &http.Client{Timeout: time.Duration(pc.Timeout) * time.Second}
		token, err := sources.AcquireToken(ctx, client, pc.AuthURL, pc.AuthData, pc.AuthTokenResKey)
		if err != nil {
			return nil, err
		}
		pc.Token = token
	}

	src, err := etl.GetSource(pc.Source)
	if err != nil {
		return nil, err
	}
	extractor, err := src.Open(ctx, pc)
	if err != nil {
		return nil, fmt.Errorf("open source: %w", err)
	}

	conn, err := s.openStaging(cfg)
	if err != nil {
		return nil, etl.TransportError("open staging", err)
	}
	defer conn.Close()

	sched, err := etl.ResolveSchedule(ctx, scheduleParams(pc, opts), conn, s.Now)
	if err != nil {
		return nil, err
	}

	mode := etl.SyncUpsert
	if opts.Replace {
		mode = etl.SyncReplace
	}
	p := &etl.Pipeline{
		Provider:   name,
		ProviderID: pc.ProviderID,
		Source:     extractor,
		Dest:       conn,
		Schema:     cfg.Schema(),
		DedupeKey:  cfg.Staging.KeyColumn,
		Paging:     pc.Paging,
		Mode:       mode,
		Observer:   obs,
	}
	return p.Run(ctx, sched)
}

// resolveProvider returns a copy of the provider config with secret
// references replaced by their values.
func (s *SyncService) resolveProvider(cfg *config.Config, name string) (*domain.ProviderConfig, error) {
	orig, err := cfg.Provider(name)
	if err != nil {
		return nil, err
	}
	pc := *orig

	for _, f := range []*string{&pc.Token, &pc.User, &pc.Password} {
		if *f, err = secret.Resolve(s.secrets, *f); err != nil {
			return nil, err
		}
	}
	pc.Headers, err = s.resolveMap(orig.Headers)
	if err != nil {
		return nil, err
	}
	pc.AuthData, err = s.resolveMap(orig.AuthData)
	if err != nil {
		return nil, err
	}
	return &pc, nil
}

func (s *SyncService) resolveMap(in map[string]string) (map[string]string, error) {
	if in == nil {
		return nil, nil
	}
	out := make(map[string]string, len(in))
	for k, v := range in {
		r, err := secret.Resolve(s.secrets, v)
		if err != nil {
			return nil, err
		}
		out[k] = r
	}
	return out, nil
}

func (s *SyncService) openStaging(cfg *config.Config) (dbclient.Connector, error) {
	password, err := secret.Resolve(s.secrets, cfg.Staging.Password)
	if err != nil {
		return nil, err
	}
	return s.Connect(&cfg.Staging, password)
}

func scheduleParams(pc *domain.ProviderConfig, opts RunOptions) etl.ScheduleParams {
	return etl.ScheduleParams{
		ProviderID: pc.ProviderID,
		Start:      opts.Start,
		End:        opts.End,
		Offset:     pc.TimeOffsetSeconds,
		Interval:   pc.Interval,
		Millis:     pc.Millis(),
	}
}

// runObserver collects dropped keys for the run log and forwards to metrics.
type runObserver struct {
	next etl.Observer
	keys []string
}

func (o *runObserver) WindowDone(w etl.TimeWindow, fetched, loaded int) {
	if o.next != nil {
		o.next.WindowDone(w, fetched, loaded)
	}
}

func (o *runObserver) Duplicate(key string) {
	o.keys = append(o.keys, key)
	if o.next != nil {
		o.next.Duplicate(key)
	}
}

// RunAll runs every configured provider concurrently, each one a
// sequential pipeline. All providers run even if some fail.
func (s *SyncService) RunAll(ctx context.Context, opts RunOptions) ([]*etl.SyncResult, error) {
	names := s.Config().ProviderNames()
	results := make([]*etl.SyncResult, len(names))
	errs := make([]error, len(names))

	var g errgroup.Group
	g.SetLimit(4)
	for i, name := range names {
		g.Go(func() error {
			res, err := s.RunProvider(ctx, name, opts)
			results[i] = res
			if err != nil {
				errs[i] = fmt.Errorf("%s: %w", name, err)
			}
			return nil
		})
	}
	g.Wait()
	return results, errors.Join(errs...)
}

// ── Plan ───────────────────────────────────────────────────

// maxPlanWindows bounds the window list returned by PlanWindows.
const maxPlanWindows = 200

// Plan is a resolved schedule without any extraction.
type Plan struct {
	Provider string           `json:"provider"`
	Schedule etl.Schedule     `json:"schedule"`
	Count    int              `json:"count"`
	Windows  []etl.TimeWindow `json:"windows"`
	Tail     *etl.TimeWindow  `json:"tail,omitempty"`
}

// PlanWindows resolves the schedule a run would use right now.
func (s *SyncService) PlanWindows(ctx context.Context, name string, opts RunOptions) (*Plan, error) {
	cfg := s.Config()
	pc, err := cfg.Provider(name)
	if err != nil {
		return nil, err
	}

	var cp etl.Checkpointer
	if opts.Start == nil {
		conn, err := s.openStaging(cfg)
		if err != nil {
			return nil, etl.TransportError("open staging", err)
		}
		defer conn.Close()
		cp = conn
	}

	sched, err := etl.ResolveSchedule(ctx, scheduleParams(pc, opts), cp, s.Now)
	if err != nil {
		return nil, err
	}

	plan := &Plan{Provider: name, Schedule: *sched, Count: sched.Count()}
	for w := range sched.Windows() {
		if len(plan.Windows) == maxPlanWindows {
			break
		}
		plan.Windows = append(plan.Windows, w)
	}
	if tail, ok := sched.Tail(); ok {
		plan.Tail = &tail
	}
	return plan, nil
}

// PingStaging opens the staging store and checks connectivity.
func (s *SyncService) PingStaging(ctx context.Context) error {
	conn, err := s.openStaging(s.Config())
	if err != nil {
		return err
	}
	defer conn.Close()
	return conn.TestConnection(ctx)
}

// ListRuns returns recent runs, optionally for one provider.
func (s *SyncService) ListRuns(provider string, limit int) ([]domain.SyncRun, error) {
	return s.runs.ListRuns(provider, limit)
}

// ListDuplicates returns the keys dropped during a run.
func (s *SyncService) ListDuplicates(runID string) ([]domain.DuplicateTrip, error) {
	return s.runs.ListDuplicates(runID)
}

// ── Watchers (cron + config reload) ───────────────────────

// RestartScheduler tears down the current cron and rebuilds it from the
// providers that have a schedule.
func (s *SyncService) RestartScheduler(ctx context.Context) int {
	s.stopCron()

	cfg := s.Config()
	c := cron.New()
	n := 0
	for _, name := range cfg.ProviderNames() {
		expr := cfg.Providers[name].Schedule
		if expr == "" {
			continue
		}
		provider := name
		_, err := c.AddFunc(expr, func() {
			log.Printf("sync cron: running provider %s", provider)
			if _, err := s.RunProvider(ctx, provider, RunOptions{}); err != nil {
				log.Printf("sync cron: provider %s failed: %v", provider, err)
			}
		})
		if err != nil {
			log.Printf("sync cron: invalid expression %q for provider %s: %v", expr, provider, err)
			continue
		}
		n++
	}
	if n == 0 {
		return 0
	}
	c.Start()

	s.mu.Lock()
	s.cronSched = c
	s.mu.Unlock()
	log.Printf("sync cron: scheduled %d provider(s)", n)
	return n
}

// WatchConfig reloads the config file when it changes and rebuilds the
// cron. A config that fails to load is logged and the old one stays active.
func (s *SyncService) WatchConfig(ctx context.Context) error {
	path := s.Config().Path()
	if path == "" {
		return fmt.Errorf("config was not loaded from a file")
	}
	absPath, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("config path %q: %w", path, err)
	}

	s.stopWatcher()

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	// Watch the directory: editors replace files instead of writing in place.
	if err := watcher.Add(filepath.Dir(absPath)); err != nil {
		watcher.Close()
		return fmt.Errorf("watch dir %q: %w", filepath.Dir(absPath), err)
	}

	watchCtx, cancel := context.WithCancel(ctx)
	s.mu.Lock()
	s.watcher = watcher
	s.watchCancel = cancel
	s.mu.Unlock()

	go func() {
		var timer *time.Timer
		for {
			select {
			case <-watchCtx.Done():
				if timer != nil {
					timer.Stop()
				}
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
					continue
				}
				if p, _ := filepath.Abs(event.Name); p != absPath {
					continue
				}
				if timer != nil {
					timer.Stop()
				}
				timer = time.AfterFunc(500*time.Millisecond, func() {
					s.reload(ctx, path)
				})
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				log.Printf("config watcher: error: %v", err)
			}
		}
	}()

	log.Printf("config watcher: watching %s", absPath)
	return nil
}

func (s *SyncService) reload(ctx context.Context, path string) {
	cfg, err := config.Load(path)
	if err != nil {
		log.Printf("config watcher: reload of %s failed, keeping previous config: %v", path, err)
		return
	}
	s.SetConfig(cfg)
	log.Printf("config watcher: reloaded %s (%d provider(s))", path, len(cfg.Providers))
	s.RestartScheduler(ctx)
	s.emitter.Emit(ctx, "config:reloaded", cfg.ProviderNames())
}

// WaitRunning blocks until all running syncs finish or ctx is cancelled.
// Used for graceful shutdown.
func (s *SyncService) WaitRunning(ctx context.Context) {
	s.guard.wait(ctx)
}

// Running returns the providers with a sync in flight.
func (s *SyncService) Running() []string {
	return s.guard.providers()
}

// Stop tears down the watcher and scheduler.
func (s *SyncService) Stop() {
	s.stopWatcher()
	s.stopCron()
}

func (s *SyncService) stopWatcher() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.watchCancel != nil {
		s.watchCancel()
		s.watchCancel = nil
	}
	if s.watcher != nil {
		s.watcher.Close()
		s.watcher = nil
	}
}

func (s *SyncService) stopCron() {
	s.mu.Lock()
	c := s.cronSched
	s.cronSched = nil
	s.mu.Unlock()
	if c != nil {
		c.Stop()
	}
}
