package storage

import (
	"database/sql"
	"fmt"
	"time"

	"mdsync/internal/domain"

	"github.com/google/uuid"
)

// RunStore implements persistence for sync runs and reported duplicates.
type RunStore struct {
	db *DB
}

// NewRunStore creates a new RunStore.
func NewRunStore(db *DB) *RunStore {
	return &RunStore{db: db}
}

var _ domain.SyncRunStore = (*RunStore)(nil)

// ── Runs ───────────────────────────────────────────────────

func (s *RunStore) CreateRun(r *domain.SyncRun) error {
	r.ID = uuid.New().String()
	if r.StartedAt.IsZero() {
		r.StartedAt = time.Now()
	}
	if r.Status == "" {
		r.Status = domain.RunStatusRunning
	}
	_, err := s.db.conn.Exec(
		`INSERT INTO sync_runs (id, provider, started_at, status) VALUES (?, ?, ?, ?)`,
		r.ID, r.Provider, r.StartedAt, r.Status,
	)
	return err
}

func (s *RunStore) FinishRun(r *domain.SyncRun) error {
	if r.FinishedAt.IsZero() {
		r.FinishedAt = time.Now()
	}
	res, err := s.db.conn.Exec(
		`UPDATE sync_runs SET finished_at=?, range_start=?, range_end=?, windows=?, fetched=?,
		 loaded=?, duplicates=?, status=?, error=? WHERE id=?`,
		r.FinishedAt, r.RangeStart, r.RangeEnd, r.Windows, r.Fetched,
		r.Loaded, r.Duplicates, r.Status, r.Error, r.ID,
	)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("sync run not found: %s", r.ID)
	}
	return nil
}

// ListRuns returns the newest runs first. An empty provider lists all.
func (s *RunStore) ListRuns(provider string, limit int) ([]domain.SyncRun, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.conn.Query(
		`SELECT id, provider, started_at, finished_at, range_start, range_end, windows,
		 fetched, loaded, duplicates, status, error
		 FROM sync_runs WHERE (? = '' OR provider = ?) ORDER BY started_at DESC LIMIT ?`,
		provider, provider, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []domain.SyncRun
	for rows.Next() {
		var r domain.SyncRun
		var finished sql.NullTime
		if err := rows.Scan(&r.ID, &r.Provider, &r.StartedAt, &finished, &r.RangeStart, &r.RangeEnd,
			&r.Windows, &r.Fetched, &r.Loaded, &r.Duplicates, &r.Status, &r.Error); err != nil {
			return nil, err
		}
		if finished.Valid {
			r.FinishedAt = finished.Time
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// ── Duplicates ─────────────────────────────────────────────

func (s *RunStore) RecordDuplicates(runID, provider string, tripIDs []string) error {
	if len(tripIDs) == 0 {
		return nil
	}
	tx, err := s.db.conn.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	now := time.Now()
	for _, id := range tripIDs {
		if _, err := tx.Exec(
			`INSERT INTO duplicate_trips (id, run_id, provider, trip_id, seen_at) VALUES (?, ?, ?, ?, ?)`,
			uuid.New().String(), runID, provider, id, now,
		); err != nil {
			return fmt.Errorf("record duplicate %s: %w", id, err)
		}
	}
	return tx.Commit()
}

func (s *RunStore) ListDuplicates(runID string) ([]domain.DuplicateTrip, error) {
	rows, err := s.db.conn.Query(
		`SELECT id, run_id, provider, trip_id, seen_at FROM duplicate_trips
		 WHERE run_id = ? ORDER BY seen_at ASC, rowid ASC`, runID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.DuplicateTrip
	for rows.Next() {
		var d domain.DuplicateTrip
		if err := rows.Scan(&d.ID, &d.RunID, &d.Provider, &d.TripID, &d.SeenAt); err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}
