package etl

import (
	"context"
	"errors"
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type fixedCheckpoint struct {
	value string
	err   error
	calls int
}

func (c *fixedCheckpoint) MostRecent(_ context.Context, _, field string) (string, error) {
	c.calls++
	if field != CheckpointField {
		return "", errors.New("unexpected field " + field)
	}
	return c.value, c.err
}

func i64(v int64) *int64 { return &v }

func clock(sec int64) func() time.Time {
	return func() time.Time { return time.Unix(sec, 0) }
}

func TestResolveSchedule_SentinelMinusOffset(t *testing.T) {
	cp := &fixedCheckpoint{}
	s, err := ResolveSchedule(context.Background(), ScheduleParams{
		ProviderID: "lime", Offset: 7200, Interval: 3600,
	}, cp, clock(1543700000))
	require.NoError(t, err)
	require.Equal(t, 1, cp.calls)
	require.Equal(t, int64(1543622400-7200), s.Start)
	require.Equal(t, int64(1543700000), s.End)
	require.Equal(t, int64(3600), s.Interval)
}

func TestResolveSchedule_CheckpointFormats(t *testing.T) {
	for _, v := range []string{"2023-11-14T22:13:20", "2023-11-14T22:13:20+00:00"} {
		s, err := ResolveSchedule(context.Background(), ScheduleParams{Offset: 20, Interval: 60},
			&fixedCheckpoint{value: v}, clock(1700003600))
		require.NoError(t, err)
		require.Equal(t, int64(1700000000-20), s.Start)
	}
}

func TestResolveSchedule_ExplicitStartSkipsCheckpoint(t *testing.T) {
	cp := &fixedCheckpoint{err: errors.New("unreachable")}
	s, err := ResolveSchedule(context.Background(), ScheduleParams{
		Start: i64(1000), End: i64(5000), Offset: 500, Interval: 1000,
	}, cp, nil)
	require.NoError(t, err)
	require.Zero(t, cp.calls)
	require.Equal(t, int64(1000), s.Start)
	require.Equal(t, int64(5000), s.End)
}

func TestResolveSchedule_Millis(t *testing.T) {
	s, err := ResolveSchedule(context.Background(), ScheduleParams{
		Start: i64(1700000000), End: i64(1700007200), Interval: 3600, Millis: true,
	}, nil, nil)
	require.NoError(t, err)
	require.Equal(t, int64(1700000000000), s.Start)
	require.Equal(t, int64(1700007200000), s.End)
	require.Equal(t, int64(3600000), s.Interval)
	require.Equal(t, 2, s.Count())
}

func TestResolveSchedule_Errors(t *testing.T) {
	ctx := context.Background()

	_, err := ResolveSchedule(ctx, ScheduleParams{Start: i64(10), End: i64(10), Interval: 1}, nil, nil)
	require.True(t, IsKind(err, KindSchedule))

	_, err = ResolveSchedule(ctx, ScheduleParams{Start: i64(20), End: i64(10), Interval: 1}, nil, nil)
	require.True(t, IsKind(err, KindSchedule))

	_, err = ResolveSchedule(ctx, ScheduleParams{Start: i64(0), End: i64(10), Interval: 0}, nil, nil)
	require.True(t, IsKind(err, KindSchedule))

	_, err = ResolveSchedule(ctx, ScheduleParams{Interval: 1}, &fixedCheckpoint{err: errors.New("conn refused")}, nil)
	require.True(t, IsKind(err, KindTransport))

	_, err = ResolveSchedule(ctx, ScheduleParams{Interval: 1}, &fixedCheckpoint{value: "not a time"}, nil)
	require.True(t, IsKind(err, KindSchedule))
}

func collect(s *Schedule) []TimeWindow {
	var out []TimeWindow
	for w := range s.Windows() {
		out = append(out, w)
	}
	return out
}

func TestScheduleWindows(t *testing.T) {
	s := &Schedule{Start: 0, End: 10, Interval: 3}
	require.Equal(t, []TimeWindow{{0, 3}, {3, 6}, {6, 9}}, collect(s))
	require.Equal(t, 3, s.Count())

	tail, ok := s.Tail()
	require.True(t, ok)
	require.Equal(t, TimeWindow{9, 10}, tail)
	require.Equal(t, int64(9), s.Covered())

	// restartable
	require.Equal(t, collect(s), collect(s))

	exact := &Schedule{Start: 0, End: 9, Interval: 3}
	_, ok = exact.Tail()
	require.False(t, ok)
	require.Len(t, collect(exact), 3)

	short := &Schedule{Start: 0, End: 2, Interval: 3}
	require.Empty(t, collect(short))
	require.Zero(t, short.Count())
	require.Equal(t, int64(0), short.Covered())
}

func TestScheduleWindows_EarlyBreak(t *testing.T) {
	s := &Schedule{Start: 0, End: 100, Interval: 10}
	n := 0
	for range s.Windows() {
		n++
		if n == 2 {
			break
		}
	}
	require.Equal(t, 2, n)
}

func TestScheduleWindows_Properties(t *testing.T) {
	r := rand.New(rand.NewSource(42))
	for range 500 {
		start := r.Int63n(2_000_000_000)
		end := start + 1 + r.Int63n(100_000)
		interval := 1 + r.Int63n(10_000)
		s := &Schedule{Start: start, End: end, Interval: interval}

		ws := collect(s)
		require.Len(t, ws, s.Count())
		prev := start
		for _, w := range ws {
			require.Equal(t, prev, w.Start, "contiguous")
			require.Equal(t, interval, w.End-w.Start)
			require.Less(t, w.Start, end)
			require.GreaterOrEqual(t, w.Start, start)
			prev = w.End
		}
		if tail, ok := s.Tail(); ok {
			require.Equal(t, prev, tail.Start)
			require.Equal(t, end, tail.End)
			require.Less(t, tail.End-tail.Start, interval)
		} else {
			require.Equal(t, end, prev)
		}
	}
}
