package coalesce

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/habitstack/realtime/internal/clock"
)

type recordingSink struct {
	mu       sync.Mutex
	invalids  []string
	refetches []string
}

func (s *recordingSink) Invalidate(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.invalids = append(s.invalids, key)
}

func (s *recordingSink) RefetchActive(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.refetches = append(s.refetches, key)
}

func newCoalescerUnderTest(t *testing.T) (*Coalescer, *recordingSink, *clock.Manual) {
	t.Helper()
	sink := &recordingSink{}
	clk := clock.NewManual(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))
	return New(sink, clk, DefaultFlushDelay, nil), sink, clk
}

func TestCoalescer_DeduplicatesKeysPerTick(t *testing.T) {
	co, sink, clk := newCoalescerUnderTest(t)

	co.Schedule(Invalidate, "habit_entries")
	co.Schedule(Invalidate, "habit_entries")
	co.Schedule(Invalidate, "habit_entries")
	co.Schedule(Invalidate, "habits")

	assert.Equal(t, 2, co.PendingCount())

	clk.Advance(DefaultFlushDelay)

	require.Len(t, sink.invalids, 2)
	assert.ElementsMatch(t, []string{"habit_entries", "habits"}, sink.invalids)
	assert.Equal(t, int64(1), co.Flushes())
}

func TestCoalescer_RefetchDominatesInvalidate(t *testing.T) {
	co, sink, clk := newCoalescerUnderTest(t)

	co.Schedule(Invalidate, "habit_entries")
	co.Schedule(Refetch, "habit_entries")
	co.Schedule(Invalidate, "habit_entries")

	clk.Advance(DefaultFlushDelay)

	assert.Empty(t, sink.invalids)
	assert.Equal(t, []string{"habit_entries"}, sink.refetches)
}

func TestCoalescer_TrailingEdgeTimerArmsOnce(t *testing.T) {
	co, sink, clk := newCoalescerUnderTest(t)

	co.Schedule(Invalidate, "a")
	clk.Advance(DefaultFlushDelay / 2)
	// Scheduling inside the window must not push the flush out.
	co.Schedule(Invalidate, "b")
	clk.Advance(DefaultFlushDelay / 2)

	require.Len(t, sink.invalids, 2)
}

func TestCoalescer_NewBurstAfterFlushReArms(t *testing.T) {
	co, sink, clk := newCoalescerUnderTest(t)

	co.Schedule(Invalidate, "a")
	clk.Advance(DefaultFlushDelay)
	require.Len(t, sink.invalids, 1)

	co.Schedule(Invalidate, "a")
	assert.Len(t, sink.invalids, 1, "new burst waits for its own tick")

	clk.Advance(DefaultFlushDelay)
	assert.Len(t, sink.invalids, 2)
	assert.Equal(t, int64(2), co.Flushes())
}

func TestCoalescer_ManualFlushDrainsEarly(t *testing.T) {
	co, sink, clk := newCoalescerUnderTest(t)

	co.Schedule(Invalidate, "a")
	co.Flush()

	assert.Equal(t, []string{"a"}, sink.invalids)
	assert.Zero(t, co.PendingCount())

	// The armed timer was stopped; advancing must not double-deliver.
	clk.Advance(DefaultFlushDelay)
	assert.Len(t, sink.invalids, 1)
}

func TestCoalescer_EmptyKeyIgnored(t *testing.T) {
	co, _, _ := newCoalescerUnderTest(t)

	co.Schedule(Invalidate, "")
	assert.Zero(t, co.PendingCount())
}

func TestCoalescer_EmptyFlushNotCounted(t *testing.T) {
	co, _, _ := newCoalescerUnderTest(t)

	co.Flush()
	assert.Zero(t, co.Flushes())
}
