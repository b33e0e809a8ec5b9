package etl

import "context"

// ── Destination ────────────────────────────────────────────
// A Destination writes batches into the staging store.
// Implementations live in internal/dbclient.

// SyncMode determines how a run treats rows already staged.
type SyncMode string

const (
	SyncUpsert  SyncMode = "upsert"  // insert-or-update by natural key
	SyncReplace SyncMode = "replace" // clear the run's range first, then upsert
)

// Destination loads batches idempotently on the batch's natural key.
type Destination interface {
	// Upsert writes the batch; re-applying an identical batch adds no rows.
	Upsert(ctx context.Context, batch *Batch) (int, error)

	// ClearRange deletes the provider's rows whose end_time falls in [from, to).
	ClearRange(ctx context.Context, providerID, from, to string) (int, error)
}
