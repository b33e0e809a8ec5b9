package domain

import "time"

// Run statuses.
const (
	RunStatusRunning = "running"
	RunStatusSuccess = "success"
	RunStatusError   = "error"
)

// SyncRun is a historical record of one provider sync run.
type SyncRun struct {
	ID         string    `json:"id"`
	Provider   string    `json:"provider"`
	StartedAt  time.Time `json:"startedAt"`
	FinishedAt time.Time `json:"finishedAt"`
	RangeStart int64     `json:"rangeStart"`
	RangeEnd   int64     `json:"rangeEnd"`
	Windows    int       `json:"windows"`
	Fetched    int       `json:"fetched"`
	Loaded     int       `json:"loaded"`
	Duplicates int       `json:"duplicates"`
	Status     string    `json:"status"`
	Error      string    `json:"error,omitempty"`
}

// DuplicateTrip is a trip key dropped by deduplication during a run.
type DuplicateTrip struct {
	ID       string    `json:"id"`
	RunID    string    `json:"runId"`
	Provider string    `json:"provider"`
	TripID   string    `json:"tripId"`
	SeenAt   time.Time `json:"seenAt"`
}

// SyncRunStore persists run history.
type SyncRunStore interface {
	CreateRun(r *SyncRun) error
	FinishRun(r *SyncRun) error
	ListRuns(provider string, limit int) ([]SyncRun, error)
	RecordDuplicates(runID, provider string, tripIDs []string) error
	ListDuplicates(runID string) ([]DuplicateTrip, error)
}
