package etl

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"time"
)

// ── WindowScheduler ────────────────────────────────────────
// Resolves the [start, end) range of a run and partitions it into
// fixed-width half-open windows in the provider's time unit.

// SentinelCheckpoint is used when nothing has been loaded for a provider yet.
const SentinelCheckpoint = "2018-12-01T00:00:00"

// CheckpointField is the staged column the checkpoint is read from.
const CheckpointField = "end_time"

// TimeWindow is a half-open [Start, End) range in the provider's unit.
type TimeWindow struct {
	Start int64 `json:"start"`
	End   int64 `json:"end"`
}

func (w TimeWindow) String() string { return fmt.Sprintf("[%d,%d)", w.Start, w.End) }

// Checkpointer reads the most recent loaded timestamp for a provider.
// It returns "" when the provider has no rows yet.
type Checkpointer interface {
	MostRecent(ctx context.Context, providerID, field string) (string, error)
}

// ScheduleParams are the inputs of one schedule resolution. Start, End,
// Offset and Interval are in seconds.
type ScheduleParams struct {
	ProviderID string
	Start      *int64 // nil: derive from checkpoint
	End        *int64 // nil: wall clock
	Offset     int64
	Interval   int64
	Millis     bool
}

// Schedule is a resolved run range in the provider's unit.
type Schedule struct {
	Start    int64 `json:"start"`
	End      int64 `json:"end"`
	Interval int64 `json:"interval"`
}

// ResolveSchedule computes start, end and interval for a run.
//
// With no explicit start, the checkpoint (or SentinelCheckpoint) minus
// Offset is used, so records reported late are covered again. With no
// explicit end, now is used. Millisecond providers get every value scaled
// by 1000.
func ResolveSchedule(ctx context.Context, p ScheduleParams, cp Checkpointer, now func() time.Time) (*Schedule, error) {
	if p.Interval <= 0 {
		return nil, ScheduleError("resolve", fmt.Errorf("interval must be positive, got %d", p.Interval))
	}
	if now == nil {
		now = time.Now
	}

	var start int64
	if p.Start != nil {
		start = *p.Start
	} else {
		if cp == nil {
			return nil, ScheduleError("resolve", errors.New("no start given and no checkpoint source"))
		}
		last, err := cp.MostRecent(ctx, p.ProviderID, CheckpointField)
		if err != nil {
			return nil, TransportError("read checkpoint", err)
		}
		if last == "" {
			last = SentinelCheckpoint
		}
		ts, err := ToNumeric(last, DefaultTZSuffix)
		if err != nil {
			return nil, ScheduleError("read checkpoint", err)
		}
		start = ts - p.Offset
	}

	end := now().Unix()
	if p.End != nil {
		end = *p.End
	}

	if start >= end {
		return nil, ScheduleError("resolve", fmt.Errorf("start %d is not before end %d", start, end))
	}

	s := &Schedule{Start: start, End: end, Interval: p.Interval}
	if p.Millis {
		s.Start, s.End, s.Interval = start*1000, end*1000, p.Interval*1000
	}
	return s, nil
}

// Windows yields each full window from Start in Interval steps. It can be
// ranged over any number of times.
//
// A final span shorter than Interval is not yielded; see Tail.
func (s *Schedule) Windows() iter.Seq[TimeWindow] {
	return func(yield func(TimeWindow) bool) {
		for ws := s.Start; ws < s.End; ws += s.Interval {
			we := ws + s.Interval
			if we > s.End {
				return
			}
			if !yield(TimeWindow{Start: ws, End: we}) {
				return
			}
		}
	}
}

// Count returns the number of windows Windows yields.
func (s *Schedule) Count() int {
	if s.Interval <= 0 || s.End <= s.Start {
		return 0
	}
	return int((s.End - s.Start) / s.Interval)
}

// Covered returns the end of the last full window, or Start when there is none.
func (s *Schedule) Covered() int64 {
	return s.Start + int64(s.Count())*s.Interval
}

// Tail returns the trailing partial span that Windows skips, if any.
func (s *Schedule) Tail() (TimeWindow, bool) {
	if s.Interval <= 0 || s.End <= s.Start {
		return TimeWindow{}, false
	}
	rem := (s.End - s.Start) % s.Interval
	if rem == 0 {
		return TimeWindow{}, false
	}
	return TimeWindow{Start: s.End - rem, End: s.End}, true
}
