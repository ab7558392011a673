package reconcile

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/habitstack/realtime/internal/cache"
	"github.com/habitstack/realtime/internal/clock"
	"github.com/habitstack/realtime/internal/coalesce"
	"github.com/habitstack/realtime/internal/model"
)

type countingStrategy struct {
	calls int
	err   error
}

func (s *countingStrategy) Reconcile(ev model.ChangeEvent) error {
	s.calls++
	return s.err
}

func newEngineUnderTest(t *testing.T) (*Engine, cache.Store) {
	t.Helper()
	store := cache.New()
	clk := clock.NewManual(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))
	co := coalesce.New(store, clk, coalesce.DefaultFlushDelay, nil)
	return NewEngine(store, co, nil), store
}

func TestEngine_DispatchesToRegisteredStrategy(t *testing.T) {
	e, _ := newEngineUnderTest(t)

	special := &countingStrategy{}
	e.Register(model.CollectionFriendships, special)

	e.Apply(model.ChangeEvent{
		Collection: model.CollectionFriendships,
		Op:         model.OpUpdate,
		After:      model.Record{"id": "f-1"},
	})

	assert.Equal(t, 1, special.calls)
	stats := e.Stats()
	assert.Equal(t, int64(1), stats.Applied)
	assert.Equal(t, int64(1), stats.Specialized)
}

func TestEngine_FallsBackToGeneric(t *testing.T) {
	e, store := newEngineUnderTest(t)
	store.Set(model.KeyHabits, []model.Record{})

	e.Apply(model.ChangeEvent{
		Collection: model.CollectionHabits,
		Op:         model.OpInsert,
		After:      model.Record{"id": "h-1"},
	})

	require.Len(t, listOf(store, model.KeyHabits), 1)
	assert.Zero(t, e.Stats().Specialized)
}

func TestEngine_AnomaliesAbsorbedAndCounted(t *testing.T) {
	e, store := newEngineUnderTest(t)
	store.Set(model.KeyHabits, []model.Record{})

	// Update for a row that was never inserted.
	e.Apply(model.ChangeEvent{
		Collection: model.CollectionHabits,
		Op:         model.OpUpdate,
		After:      model.Record{"id": "h-404", "name": "ghost"},
	})

	stats := e.Stats()
	assert.Equal(t, int64(1), stats.Applied)
	assert.Equal(t, int64(1), stats.Anomalies)
}
