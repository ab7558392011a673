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

func newTestHarness(t *testing.T) (cache.Store, *coalesce.Coalescer, *Generic) {
	t.Helper()
	store := cache.New()
	clk := clock.NewManual(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))
	co := coalesce.New(store, clk, coalesce.DefaultFlushDelay, nil)
	return store, co, NewGeneric(store, co, nil)
}

func entryEvent(op model.Operation, after, before model.Record) model.ChangeEvent {
	return model.ChangeEvent{
		Collection: model.CollectionHabitEntries,
		Op:         op,
		After:      after,
		Before:     before,
		ReceivedAt: time.Now(),
	}
}

func listOf(store cache.Store, key string) []model.Record {
	value, _ := store.Get(key)
	list, _ := value.([]model.Record)
	return list
}

func TestGeneric_InsertPrepends(t *testing.T) {
	store, _, g := newTestHarness(t)
	store.Set(model.KeyHabitEntries, []model.Record{
		{"id": "e-1", "date": "2025-05-30"},
	})

	err := g.Reconcile(entryEvent(model.OpInsert, model.Record{"id": "e-2", "date": "2025-05-31"}, nil))
	require.NoError(t, err)

	list := listOf(store, model.KeyHabitEntries)
	require.Len(t, list, 2)
	assert.Equal(t, "e-2", list[0].ID())
	assert.Equal(t, "e-1", list[1].ID())
}

func TestGeneric_InsertIdempotent(t *testing.T) {
	store, _, g := newTestHarness(t)
	store.Set(model.KeyHabitEntries, []model.Record{})

	ev := entryEvent(model.OpInsert, model.Record{"id": "e-1", "status": "done"}, nil)
	require.NoError(t, g.Reconcile(ev))
	require.NoError(t, g.Reconcile(ev))

	list := listOf(store, model.KeyHabitEntries)
	require.Len(t, list, 1, "applying the same insert twice must not duplicate")
	assert.Equal(t, "e-1", list[0].ID())
}

func TestGeneric_InsertReplacesPlaceholderInPlace(t *testing.T) {
	store, _, g := newTestHarness(t)
	store.Set(model.KeyHabitEntries, []model.Record{
		{"id": "e-0", "date": "2025-04-30", "status": "done"},
		{"id": "temp-1", "date": "2025-05-01", "status": "pending"},
		{"id": "e-9", "date": "2025-05-02", "status": "done"},
	})

	ev := entryEvent(model.OpInsert, model.Record{"id": "real-99", "date": "2025-05-01", "status": "pending"}, nil)
	require.NoError(t, g.Reconcile(ev))

	list := listOf(store, model.KeyHabitEntries)
	require.Len(t, list, 3, "placeholder replacement must not change list length")
	assert.Equal(t, "real-99", list[1].ID(), "replacement preserves list position")

	// Redelivery: placeholder is gone, real id present, still no duplicate.
	require.NoError(t, g.Reconcile(ev))
	list = listOf(store, model.KeyHabitEntries)
	require.Len(t, list, 3)
	for _, rec := range list {
		assert.False(t, model.IsPlaceholderID(rec.ID()) && rec["date"] == "2025-05-01",
			"placeholder must be replaced at most once")
	}
}

func TestGeneric_InsertSkipsImplausiblePlaceholder(t *testing.T) {
	store, _, g := newTestHarness(t)
	store.Set(model.KeyHabitEntries, []model.Record{
		{"id": "temp-1", "date": "2025-05-01", "status": "pending"},
	})

	// Different date: not a plausible optimistic twin.
	ev := entryEvent(model.OpInsert, model.Record{"id": "real-7", "date": "2025-05-02", "status": "pending"}, nil)
	require.NoError(t, g.Reconcile(ev))

	list := listOf(store, model.KeyHabitEntries)
	require.Len(t, list, 2)
	assert.Equal(t, "real-7", list[0].ID())
	assert.Equal(t, "temp-1", list[1].ID())
}

func TestGeneric_UpdateMergesAllShapes(t *testing.T) {
	store, _, g := newTestHarness(t)
	store.Set(model.KeyHabitEntries, []model.Record{
		{"id": "e-1", "status": "pending", "note": "keep me"},
	})
	store.Set("habit_entries/e-1", model.Record{"id": "e-1", "status": "pending", "note": "keep me"})

	ev := entryEvent(model.OpUpdate, model.Record{"id": "e-1", "status": "done"}, nil)
	require.NoError(t, g.Reconcile(ev))

	list := listOf(store, model.KeyHabitEntries)
	require.Len(t, list, 1)
	assert.Equal(t, "done", list[0].StringField("status"))
	assert.Equal(t, "keep me", list[0].StringField("note"), "partial payload merges over existing fields")

	detail, ok := store.Get("habit_entries/e-1")
	require.True(t, ok)
	assert.Equal(t, "done", detail.(model.Record).StringField("status"))
}

func TestGeneric_UpdateBeforeInsertDegradesGracefully(t *testing.T) {
	store, co, g := newTestHarness(t)
	store.Set(model.KeyHabitEntries, []model.Record{})

	ev := entryEvent(model.OpUpdate, model.Record{"id": "e-404", "status": "done"}, nil)
	err := g.Reconcile(ev)
	assert.ErrorIs(t, err, ErrRowNotFound, "anomaly is reported, not raised")

	// The scheduled invalidation self-heals on the next fetch.
	assert.Greater(t, co.PendingCount(), 0)
}

func TestGeneric_DeleteByIDAcrossShapes(t *testing.T) {
	store, _, g := newTestHarness(t)
	store.Set(model.KeyHabits, []model.Record{
		{"id": "h-1", "name": "run"},
		{"id": "h-2", "name": "read"},
	})
	store.Set("habits/h-1", model.Record{"id": "h-1", "name": "run"})

	// Delete events carry only the primary key.
	ev := model.ChangeEvent{
		Collection: model.CollectionHabits,
		Op:         model.OpDelete,
		Before:     model.Record{"id": "h-1"},
	}
	require.NoError(t, g.Reconcile(ev))

	list := listOf(store, model.KeyHabits)
	require.Len(t, list, 1)
	assert.Equal(t, "h-2", list[0].ID())

	_, ok := store.Get("habits/h-1")
	assert.False(t, ok, "detail shape is removed entirely")
}

func TestGeneric_DeleteFromWrappedShape(t *testing.T) {
	store, _, g := newTestHarness(t)
	store.Set(model.KeyNotifications, cache.Wrapped{Data: []model.Record{
		{"id": "n-1"},
		{"id": "n-2"},
	}})

	ev := model.ChangeEvent{
		Collection: model.CollectionNotifications,
		Op:         model.OpDelete,
		Before:     model.Record{"id": "n-2"},
	}
	require.NoError(t, g.Reconcile(ev))

	value, ok := store.Get(model.KeyNotifications)
	require.True(t, ok)
	wrapped := value.(cache.Wrapped)
	require.Len(t, wrapped.Data, 1)
	assert.Equal(t, "n-1", wrapped.Data[0].ID())
}

func TestGeneric_AggregateKeysInvalidated(t *testing.T) {
	store, co, g := newTestHarness(t)
	store.Set(model.KeyHabitEntries, []model.Record{})
	store.Set(model.KeyStreakSummary, model.Record{"id": "self", "current_streak": 4})

	ev := entryEvent(model.OpInsert, model.Record{"id": "e-1", "status": "done"}, nil)
	require.NoError(t, g.Reconcile(ev))

	co.Flush()
	assert.True(t, store.Stale(model.KeyStreakSummary),
		"derived summary views go stale on every mutation of a source collection")
	assert.True(t, store.Stale(model.KeyHabitEntries))
}

func TestGeneric_OrderIndependentConvergence(t *testing.T) {
	// For a fixed final server state, any permutation preserving
	// per-collection order converges to the same cache content.
	events := []model.ChangeEvent{
		entryEvent(model.OpInsert, model.Record{"id": "e-1", "status": "pending"}, nil),
		entryEvent(model.OpUpdate, model.Record{"id": "e-1", "status": "done"}, nil),
	}
	other := model.ChangeEvent{
		Collection: model.CollectionHabits,
		Op:         model.OpInsert,
		After:      model.Record{"id": "h-1", "name": "run"},
	}

	apply := func(order []model.ChangeEvent) (entries []model.Record, habits []model.Record) {
		store, _, g := newTestHarness(t)
		store.Set(model.KeyHabitEntries, []model.Record{})
		store.Set(model.KeyHabits, []model.Record{})
		for _, ev := range order {
			g.Reconcile(ev)
		}
		return listOf(store, model.KeyHabitEntries), listOf(store, model.KeyHabits)
	}

	e1, h1 := apply([]model.ChangeEvent{events[0], events[1], other})
	e2, h2 := apply([]model.ChangeEvent{events[0], other, events[1]})
	e3, h3 := apply([]model.ChangeEvent{other, events[0], events[1]})

	assert.Equal(t, e1, e2)
	assert.Equal(t, e1, e3)
	assert.Equal(t, h1, h2)
	assert.Equal(t, h1, h3)
}
