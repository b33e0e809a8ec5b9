package etl

import (
	"context"
	"log"
	"time"
)

// ── Pipeline ───────────────────────────────────────────────
// Orchestrates one run: for each window, fetch → normalize routes →
// dedupe → project → normalize times → upsert.

// Observer receives per-window progress and dropped duplicate keys.
type Observer interface {
	WindowDone(w TimeWindow, fetched, loaded int)
	Duplicate(key string)
}

// SyncResult is the outcome of a run. It is filled in even when the run
// fails, covering the windows loaded before the failure.
type SyncResult struct {
	Provider   string        `json:"provider"`
	Status     string        `json:"status"` // "success" | "error"
	Start      int64         `json:"start"`
	End        int64         `json:"end"`
	Windows    int           `json:"windows"`
	Fetched    int           `json:"fetched"`
	Loaded     int           `json:"loaded"`
	Duplicates int           `json:"duplicates"`
	Duration   time.Duration `json:"duration"`
	Error      string        `json:"error,omitempty"`
}

// Pipeline holds everything one provider run needs. Windows are processed
// strictly one at a time; only the counters survive between windows.
type Pipeline struct {
	Provider   string
	ProviderID string
	Source     Extractor
	Dest       Destination
	Schema     *FieldSchema
	DedupeKey  string
	Paging     bool
	Mode       SyncMode
	Observer   Observer
}

// Run processes every window of sched and returns the loaded total.
func (p *Pipeline) Run(ctx context.Context, sched *Schedule) (*SyncResult, error) {
	began := time.Now()
	result := &SyncResult{Provider: p.Provider, Start: sched.Start, End: sched.End}
	fail := func(err error) (*SyncResult, error) {
		result.Status = "error"
		result.Error = err.Error()
		result.Duration = time.Since(began)
		return result, err
	}

	if tail, ok := sched.Tail(); ok {
		log.Printf("mds sync: %s: trailing span %s is shorter than the interval and is not extracted this run", p.Provider, tail)
	}

	// replace only clears what this run extracts again; the tail stays staged
	if covered := sched.Covered(); p.Mode == SyncReplace && covered > sched.Start {
		n, err := p.Dest.ClearRange(ctx, p.ProviderID, ToISO(float64(sched.Start)), ToISO(float64(covered)))
		if err != nil {
			return fail(TransportError("clear range", err))
		}
		log.Printf("mds sync: %s: replace mode cleared %d staged trips", p.Provider, n)
	}

	for w := range sched.Windows() {
		if err := ctx.Err(); err != nil {
			return fail(err)
		}

		records, err := p.Source.Fetch(ctx, w, p.Paging)
		if err != nil {
			return fail(TransportError("fetch "+w.String(), err))
		}
		result.Windows++
		result.Fetched += len(records)

		if len(records) == 0 {
			p.windowDone(w, 0, 0)
			continue
		}

		batch, dropped, err := p.Transform(records)
		if err != nil {
			return fail(err)
		}
		result.Duplicates += dropped

		if _, err := p.Dest.Upsert(ctx, batch); err != nil {
			return fail(TransportError("upsert "+w.String(), err))
		}
		result.Loaded += batch.Len()
		p.windowDone(w, len(records), batch.Len())
	}

	result.Status = "success"
	result.Duration = time.Since(began)
	return result, nil
}

// Transform runs the fixed transform chain over one window's records and
// returns the projected batch plus the number of dropped duplicates.
func (p *Pipeline) Transform(records []Record) (*Batch, int, error) {
	records = (&RouteNormalizer{}).Normalize(records)

	dd := &Deduplicator{Key: p.DedupeKey, OnDuplicate: p.duplicate}
	records, dropped, err := dd.Dedupe(records)
	if err != nil {
		return nil, 0, err
	}

	batch, err := (&FieldProjector{Schema: p.Schema}).Project(records)
	if err != nil {
		return nil, 0, err
	}

	if err := NormalizeTimes(batch, p.Schema.DatetimeFields()); err != nil {
		return nil, 0, err
	}
	return batch, len(dropped), nil
}

func (p *Pipeline) duplicate(key string) {
	log.Printf("mds sync: %s: duplicate %s=%s dropped", p.Provider, p.dedupeKey(), key)
	if p.Observer != nil {
		p.Observer.Duplicate(key)
	}
}

func (p *Pipeline) windowDone(w TimeWindow, fetched, loaded int) {
	log.Printf("mds sync: %s: window %s fetched=%d loaded=%d", p.Provider, w, fetched, loaded)
	if p.Observer != nil {
		p.Observer.WindowDone(w, fetched, loaded)
	}
}

func (p *Pipeline) dedupeKey() string {
	if p.DedupeKey == "" {
		return DefaultDedupeKey
	}
	return p.DedupeKey
}
