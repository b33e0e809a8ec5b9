package service_test

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"

	"mdsync/internal/config"
	"mdsync/internal/dbclient"
	"mdsync/internal/domain"
	"mdsync/internal/etl"
	"mdsync/internal/observability"
	"mdsync/internal/secret"
	"mdsync/internal/service"
	"mdsync/internal/storage"
)

// ─────────────────────────────────────────────────────────────
// SyncService tests
// Runs the json_file source against a real SQLite staging file
// and an in-memory state DB.
// ─────────────────────────────────────────────────────────────

const base = int64(1700000000) // 2023-11-14T22:13:20Z

const tripsDoc = `{
  "version": "0.3.0",
  "data": {"trips": [
    {"provider_id": "lime", "trip_id": "A", "start_time": 1700000000, "end_time": 1700000100, "route": null},
    {"provider_id": "lime", "trip_id": "A", "start_time": 1700000000, "end_time": 1700000100, "route": null},
    {"provider_id": "lime", "trip_id": "B", "start_time": 1700000200, "end_time": 1700000900,
     "route": {"type": "FeatureCollection", "features": [
       {"type": "Feature", "geometry": {"type": "Point", "coordinates": [-122.41, 37.77]}},
       {"type": "Feature", "geometry": {"type": "Point", "coordinates": [-122.39, 37.79]}}
     ]}},
    {"provider_id": "lime", "trip_id": "C", "start_time": 1700003700, "end_time": 1700004000}
  ]}
}`

type fixture struct {
	svc     *service.SyncService
	staging string
	emitter *service.MockEmitter
	metrics *observability.Metrics
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	dir := t.TempDir()

	tripsPath := filepath.Join(dir, "trips.json")
	require.NoError(t, os.WriteFile(tripsPath, []byte(tripsDoc), 0o644))

	staging := filepath.Join(dir, "staging.db")
	db, err := sql.Open("sqlite", staging)
	require.NoError(t, err)
	_, err = db.Exec(`CREATE TABLE trips (
		provider_id TEXT, trip_id TEXT PRIMARY KEY, start_time TEXT, end_time TEXT,
		start_longitude REAL, start_latitude REAL, end_longitude REAL, end_latitude REAL)`)
	require.NoError(t, err)
	require.NoError(t, db.Close())

	cfg, err := config.Parse([]byte(fmt.Sprintf(`
staging:
  driver: sqlite
  host: %s
fields:
  - {name: provider_id, upload: true}
  - {name: trip_id, upload: true}
  - {name: start_time, upload: true, datetime: true}
  - {name: end_time, upload: true, datetime: true}
  - {name: start_longitude, upload: true}
  - {name: start_latitude, upload: true}
  - {name: end_longitude, upload: true}
  - {name: end_latitude, upload: true}
providers:
  lime:
    source: json_file
    file_path: %s
    time_offset_seconds: 600
`, staging, tripsPath)))
	require.NoError(t, err)

	state, err := storage.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { state.Close() })

	emitter := &service.MockEmitter{}
	metrics := observability.NewMetrics()
	svc := service.NewSyncService(cfg, storage.NewRunStore(state), secret.NewEnvStore("MDSYNC_TEST_"), metrics, emitter)
	svc.Now = func() time.Time { return time.Unix(base+7200, 0) }
	return &fixture{svc: svc, staging: staging, emitter: emitter, metrics: metrics}
}

func (f *fixture) rowCount(t *testing.T) int {
	t.Helper()
	db, err := sql.Open("sqlite", f.staging)
	require.NoError(t, err)
	defer db.Close()
	var n int
	require.NoError(t, db.QueryRow(`SELECT COUNT(*) FROM trips`).Scan(&n))
	return n
}

func ptr(v int64) *int64 { return &v }

func TestSyncService_RunProvider(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	opts := service.RunOptions{Start: ptr(base), End: ptr(base + 7200)}
	res, err := f.svc.RunProvider(ctx, "lime", opts)
	require.NoError(t, err)
	require.Equal(t, "success", res.Status)
	require.Equal(t, 2, res.Windows)
	require.Equal(t, 4, res.Fetched)
	require.Equal(t, 3, res.Loaded)
	require.Equal(t, 1, res.Duplicates)
	require.Equal(t, 3, f.rowCount(t))

	runs, err := f.svc.ListRuns("lime", 10)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	require.Equal(t, "success", runs[0].Status)
	require.Equal(t, 3, runs[0].Loaded)
	require.Equal(t, base, runs[0].RangeStart)

	dups, err := f.svc.ListDuplicates(runs[0].ID)
	require.NoError(t, err)
	require.Len(t, dups, 1)
	require.Equal(t, "A", dups[0].TripID)

	completed := f.emitter.Of("sync:run-completed")
	require.Len(t, completed, 1)
	require.Equal(t, runs[0].ID, completed[0].Data.(*domain.SyncRun).ID)

	// Loading the same range again must not add rows.
	_, err = f.svc.RunProvider(ctx, "lime", opts)
	require.NoError(t, err)
	require.Equal(t, 3, f.rowCount(t))
}

func TestSyncService_StagedValues(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.RunProvider(context.Background(), "lime", service.RunOptions{Start: ptr(base), End: ptr(base + 3600)})
	require.NoError(t, err)

	db, err := sql.Open("sqlite", f.staging)
	require.NoError(t, err)
	defer db.Close()

	var endTime string
	var slon, elat float64
	require.NoError(t, db.QueryRow(`SELECT end_time, start_longitude, end_latitude FROM trips WHERE trip_id = 'A'`).Scan(&endTime, &slon, &elat))
	require.Equal(t, "2023-11-14T22:15:00Z", endTime)
	require.Zero(t, slon)
	require.Zero(t, elat)

	require.NoError(t, db.QueryRow(`SELECT start_longitude, end_latitude FROM trips WHERE trip_id = 'B'`).Scan(&slon, &elat))
	require.InDelta(t, -122.41, slon, 1e-9)
	require.InDelta(t, 37.79, elat, 1e-9)
}

func TestSyncService_CheckpointResume(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// Nothing staged yet: the plan starts at the sentinel minus the offset.
	plan, err := f.svc.PlanWindows(ctx, "lime", service.RunOptions{})
	require.NoError(t, err)
	sentinel, err := etl.ToNumeric(etl.SentinelCheckpoint, etl.DefaultTZSuffix)
	require.NoError(t, err)
	require.Equal(t, sentinel-600, plan.Schedule.Start)

	_, err = f.svc.RunProvider(ctx, "lime", service.RunOptions{Start: ptr(base), End: ptr(base + 7200)})
	require.NoError(t, err)

	// Latest staged end_time is trip C at base+4000.
	plan, err = f.svc.PlanWindows(ctx, "lime", service.RunOptions{})
	require.NoError(t, err)
	require.Equal(t, base+4000-600, plan.Schedule.Start)
	require.Equal(t, base+7200, plan.Schedule.End)
	require.Equal(t, 1, plan.Count)
	require.Equal(t, []etl.TimeWindow{{Start: base + 3400, End: base + 7000}}, plan.Windows)
	require.NotNil(t, plan.Tail)
	require.Equal(t, base+7000, plan.Tail.Start)
}

func TestSyncService_Replace(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.RunProvider(ctx, "lime", service.RunOptions{Start: ptr(base), End: ptr(base + 7200)})
	require.NoError(t, err)

	db, err := sql.Open("sqlite", f.staging)
	require.NoError(t, err)
	_, err = db.Exec(`INSERT INTO trips (provider_id, trip_id, end_time) VALUES ('lime', 'STALE', '2023-11-14T22:30:00Z')`)
	require.NoError(t, err)
	require.NoError(t, db.Close())
	require.Equal(t, 4, f.rowCount(t))

	_, err = f.svc.RunProvider(ctx, "lime", service.RunOptions{Start: ptr(base), End: ptr(base + 7200), Replace: true})
	require.NoError(t, err)
	require.Equal(t, 3, f.rowCount(t))
}

func TestSyncService_ScheduleError(t *testing.T) {
	f := newFixture(t)

	res, err := f.svc.RunProvider(context.Background(), "lime", service.RunOptions{Start: ptr(base + 10), End: ptr(base)})
	require.Error(t, err)
	require.True(t, etl.IsKind(err, etl.KindSchedule))
	require.Equal(t, "error", res.Status)

	runs, err := f.svc.ListRuns("lime", 10)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	require.Equal(t, "error", runs[0].Status)
	require.NotEmpty(t, runs[0].Error)
}

func TestSyncService_PingStaging(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.svc.PingStaging(context.Background()))
}

func TestSyncService_UnknownProvider(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.RunProvider(context.Background(), "nope", service.RunOptions{})
	require.ErrorIs(t, err, config.ErrUnknownProvider)
}

func TestSyncService_RunAll(t *testing.T) {
	f := newFixture(t)
	results, err := f.svc.RunAll(context.Background(), service.RunOptions{Start: ptr(base), End: ptr(base + 3600)})
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.Equal(t, 2, results[0].Loaded)
}

func TestSyncService_Providers(t *testing.T) {
	f := newFixture(t)
	ps := f.svc.Providers()
	require.Len(t, ps, 1)
	require.Equal(t, "lime", ps[0].Name)
	require.Equal(t, "json_file", ps[0].Source)
}

func TestSyncService_RestartSchedulerWithoutSchedules(t *testing.T) {
	f := newFixture(t)
	require.Equal(t, 0, f.svc.RestartScheduler(context.Background()))
	f.svc.Stop()
}

func TestSyncService_WaitRunning_Immediate(t *testing.T) {
	f := newFixture(t)

	done := make(chan struct{})
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
		defer cancel()
		f.svc.WaitRunning(ctx)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(500 * time.Millisecond):
		t.Fatal("WaitRunning hung with no running syncs")
	}
}

func TestSyncService_Stop_Idempotent(t *testing.T) {
	f := newFixture(t)
	f.svc.Stop()
	f.svc.Stop()
}

func TestSyncService_RejectsOverlappingRun(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	cfg := f.svc.Config()
	bird := *cfg.Providers["lime"]
	bird.Name, bird.ProviderID = "bird", "bird"
	cfg.Providers["bird"] = &bird

	// the first run parks while opening staging
	entered := make(chan struct{})
	release := make(chan struct{})
	var calls atomic.Int32
	f.svc.Connect = func(conn *domain.StagingConnection, password string) (dbclient.Connector, error) {
		if calls.Add(1) == 1 {
			close(entered)
			<-release
		}
		return dbclient.NewConnector(conn, password)
	}

	opts := service.RunOptions{Start: ptr(base), End: ptr(base + 7200)}
	limeErr := make(chan error, 1)
	go func() {
		_, err := f.svc.RunProvider(ctx, "lime", opts)
		limeErr <- err
	}()
	<-entered
	require.Equal(t, []string{"lime"}, f.svc.Running())

	res, err := f.svc.RunProvider(ctx, "lime", opts)
	require.ErrorIs(t, err, service.ErrAlreadyRunning)
	require.Nil(t, res)

	res, err = f.svc.RunProvider(ctx, "bird", opts)
	require.NoError(t, err)
	require.Equal(t, 3, res.Loaded)

	close(release)
	select {
	case err := <-limeErr:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("lime run did not finish")
	}

	waitCtx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	f.svc.WaitRunning(waitCtx)
	require.Empty(t, f.svc.Running())

	// the rejected call leaves no run log behind
	runs, err := f.svc.ListRuns("lime", 10)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	require.Equal(t, "success", runs[0].Status)
}
