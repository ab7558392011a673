package reconcile

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/habitstack/realtime/internal/cache"
	"github.com/habitstack/realtime/internal/coalesce"
	"github.com/habitstack/realtime/internal/model"
)

// ErrRowNotFound marks an event referencing a row absent from every cache
// shape (typically out-of-order delivery). Callers treat it as an anomaly
// that the scheduled invalidation heals, never as a hard failure.
var ErrRowNotFound = errors.New("row not present in cache")

// Generic applies the default reconciliation rules for collections without
// a specialized strategy.
type Generic struct {
	store  cache.Store
	co     *coalesce.Coalescer
	watch  map[string]model.WatchedCollection
	logger *slog.Logger
}

// NewGeneric creates a standalone generic strategy. The engine constructs
// its own; this is for tests and composition.
func NewGeneric(store cache.Store, co *coalesce.Coalescer, logger *slog.Logger) *Generic {
	if logger == nil {
		logger = slog.Default()
	}
	return &Generic{store: store, co: co, watch: model.WatchMap(), logger: logger}
}

// Reconcile merges one event using the generic rules.
func (g *Generic) Reconcile(ev model.ChangeEvent) error {
	w, ok := g.watch[ev.Collection]
	if !ok {
		// Unwatched collection: nothing to mutate, but mark anything the
		// server might have named stale.
		g.co.Schedule(coalesce.Invalidate, ev.Collection)
		return nil
	}

	var err error
	switch ev.Op {
	case model.OpInsert:
		err = g.applyInsert(w, ev)
	case model.OpUpdate:
		err = g.applyUpdate(w, ev)
	case model.OpDelete:
		err = g.applyDelete(w, ev)
	default:
		err = fmt.Errorf("unknown operation %q", ev.Op)
	}

	g.scheduleInvalidations(w, ev.RowID())
	return err
}

// applyInsert adds the new row to each base list. An existing row with the
// same real id means the optimistic mutation's own success handler already
// applied it; a matching placeholder is replaced in place so the list
// neither flickers nor grows.
func (g *Generic) applyInsert(w model.WatchedCollection, ev model.ChangeEvent) error {
	id := ev.After.ID()
	if id == "" {
		return fmt.Errorf("insert without id in %s", ev.Collection)
	}

	for _, key := range w.BaseKeys {
		value, ok := g.store.Get(key)
		if !ok {
			continue
		}
		if cache.ContainsID(value, id) {
			// Idempotent redelivery or optimistic write already landed.
			continue
		}
		if ph, ok := cache.FindPlaceholder(value, plausibleMatch(ev.After)); ok {
			next, _ := cache.ReplaceByID(value, ph.ID(), ev.After)
			g.store.Set(key, next)
			continue
		}
		g.store.Set(key, cache.Prepend(value, ev.After))
	}
	return nil
}

// applyUpdate merges the partial payload over the row in every shape known
// to hold it. A miss degrades gracefully: the row's insert may simply not
// have been reconciled yet.
func (g *Generic) applyUpdate(w model.WatchedCollection, ev model.ChangeEvent) error {
	id := ev.After.ID()
	if id == "" {
		return fmt.Errorf("update without id in %s", ev.Collection)
	}

	found := false
	for _, key := range g.keysFor(w, id) {
		value, ok := g.store.Get(key)
		if !ok {
			continue
		}
		if next, merged := cache.MergeByID(value, id, ev.After); merged {
			g.store.Set(key, next)
			found = true
		}
	}
	if !found {
		return ErrRowNotFound
	}
	return nil
}

// applyDelete removes the row by id from every shape. The before payload
// may carry nothing but the primary key, so removal is id-based only.
func (g *Generic) applyDelete(w model.WatchedCollection, ev model.ChangeEvent) error {
	id := ev.RowID()
	if id == "" {
		return fmt.Errorf("delete without id in %s", ev.Collection)
	}

	found := false
	for _, key := range g.keysFor(w, id) {
		value, ok := g.store.Get(key)
		if !ok {
			continue
		}
		next, removed := cache.RemoveByID(value, id)
		if !removed {
			continue
		}
		found = true
		if next == nil {
			g.store.Delete(key)
		} else {
			g.store.Set(key, next)
		}
	}
	if !found {
		return ErrRowNotFound
	}
	return nil
}

// scheduleInvalidations marks the collection's base keys, the row's detail
// key, and dependent aggregate views stale. Plain invalidate, never
// refetch: the event payload omits derived fields, and the next natural
// fetch picks them up.
func (g *Generic) scheduleInvalidations(w model.WatchedCollection, id string) {
	for _, key := range w.BaseKeys {
		g.co.Schedule(coalesce.Invalidate, key)
	}
	if key := w.DetailKey(id); key != "" {
		g.co.Schedule(coalesce.Invalidate, key)
	}
	for _, key := range w.AggregateKeys {
		g.co.Schedule(coalesce.Invalidate, key)
	}
}

// keysFor lists every cache key that can hold the row.
func (g *Generic) keysFor(w model.WatchedCollection, id string) []string {
	keys := make([]string, 0, len(w.BaseKeys)+1)
	keys = append(keys, w.BaseKeys...)
	if key := w.DetailKey(id); key != "" {
		keys = append(keys, key)
	}
	return keys
}

// plausibleMatch reports whether a placeholder row could be the optimistic
// twin of the incoming server row: every scalar field they share (besides
// identity and server-stamped columns) must agree. Replacement only happens
// when exactly one placeholder qualifies; with several candidates the event
// is prepended instead and the scheduled invalidation heals any duplicate.
func plausibleMatch(incoming model.Record) func(model.Record) bool {
	return func(ph model.Record) bool {
		for field, phVal := range ph {
			switch field {
			case "id", "created_at", "updated_at":
				continue
			}
			inVal, ok := incoming[field]
			if !ok {
				continue
			}
			if fmt.Sprint(phVal) != fmt.Sprint(inVal) {
				return false
			}
		}
		return true
	}
}
