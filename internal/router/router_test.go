package router

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/habitstack/realtime/internal/cache"
	"github.com/habitstack/realtime/internal/clock"
	"github.com/habitstack/realtime/internal/coalesce"
	"github.com/habitstack/realtime/internal/connection"
	"github.com/habitstack/realtime/internal/model"
	"github.com/habitstack/realtime/internal/reconcile"
)

func newRouterUnderTest(t *testing.T, input <-chan connection.Frame) (*Router, cache.Store) {
	t.Helper()
	store := cache.New()
	clk := clock.NewManual(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))
	co := coalesce.New(store, clk, coalesce.DefaultFlushDelay, nil)
	engine := reconcile.NewEngine(store, co, nil)
	return New(engine, input, nil), store
}

func changeFrame(t *testing.T, collection, op string, after model.Record) connection.Frame {
	t.Helper()
	data, err := json.Marshal(map[string]any{
		"type":       "change",
		"collection": collection,
		"op":         op,
		"after":      after,
	})
	require.NoError(t, err)
	return connection.Frame{Data: data, ReceivedAt: time.Now()}
}

func TestRouter_AppliesChangeFrames(t *testing.T) {
	r, store := newRouterUnderTest(t, nil)
	store.Set(model.KeyHabits, []model.Record{})

	r.Route(changeFrame(t, model.CollectionHabits, "insert", model.Record{"id": "h-1", "name": "Run"}))

	v, _ := store.Get(model.KeyHabits)
	list, _ := v.([]model.Record)
	require.Len(t, list, 1)
	assert.Equal(t, "h-1", list[0].ID())

	stats := r.Stats()
	assert.Equal(t, int64(1), stats.Received)
	assert.Equal(t, int64(1), stats.Routed)
}

func TestRouter_StampsActivityForEveryFrame(t *testing.T) {
	r, _ := newRouterUnderTest(t, nil)
	require.True(t, r.LastEventAt().IsZero())

	at := time.Date(2025, 6, 1, 12, 0, 1, 0, time.UTC)
	r.Route(connection.Frame{Data: []byte("{not json"), ReceivedAt: at})

	assert.Equal(t, at.UnixNano(), r.LastEventAt().UnixNano(),
		"garbage frames still prove the transport alive")
	assert.Equal(t, int64(1), r.Stats().ParseErrors)
}

func TestRouter_SkipsNonChangeFrames(t *testing.T) {
	r, store := newRouterUnderTest(t, nil)
	store.Set(model.KeyHabits, []model.Record{})

	r.Route(connection.Frame{
		Data:       []byte(`{"type":"heartbeat"}`),
		ReceivedAt: time.Now(),
	})

	stats := r.Stats()
	assert.Equal(t, int64(1), stats.Skipped)
	assert.Zero(t, stats.Routed)

	v, _ := store.Get(model.KeyHabits)
	assert.Empty(t, v.([]model.Record))
}

func TestRouter_ArrivalOrderPreserved(t *testing.T) {
	input := make(chan connection.Frame, 4)
	r, store := newRouterUnderTest(t, input)
	store.Set(model.KeyHabits, []model.Record{})

	require.NoError(t, r.Start(context.Background()))

	input <- changeFrame(t, model.CollectionHabits, "insert", model.Record{"id": "h-1", "name": "Run"})
	input <- changeFrame(t, model.CollectionHabits, "update", model.Record{"id": "h-1", "name": "Run daily"})

	require.Eventually(t, func() bool {
		return r.Stats().Routed == 2
	}, time.Second, 5*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, r.Stop(ctx))

	v, _ := store.Get(model.KeyHabits)
	list := v.([]model.Record)
	require.Len(t, list, 1)
	assert.Equal(t, "Run daily", list[0].StringField("name"))
}

func TestRouter_StopDrainsCleanly(t *testing.T) {
	input := make(chan connection.Frame)
	r, _ := newRouterUnderTest(t, input)

	require.NoError(t, r.Start(context.Background()))
	close(input)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, r.Stop(ctx))
}
