package reconcile

import (
	"log/slog"

	"github.com/habitstack/realtime/internal/cache"
	"github.com/habitstack/realtime/internal/coalesce"
	"github.com/habitstack/realtime/internal/model"
)

// Friendship status values as delivered by the feed.
const (
	FriendshipPending  = "pending"
	FriendshipAccepted = "accepted"
	FriendshipRejected = "rejected"
	FriendshipBlocked  = "blocked"
)

// Friendship reconciles friendship rows, which live in two status-scoped
// views. The feed delivers bare rows, not the joined representation the
// views hold, so status transitions move rows between views using the
// enrichment fields (friend_name, friend_avatar_url, ...) carried in the
// event payload itself.
type Friendship struct {
	store    cache.Store
	co       *coalesce.Coalescer
	fallback Strategy
	logger   *slog.Logger
}

// NewFriendship creates the friendship strategy. fallback handles inserts
// and anything without a status transition.
func NewFriendship(store cache.Store, co *coalesce.Coalescer, fallback Strategy, logger *slog.Logger) *Friendship {
	if logger == nil {
		logger = slog.Default()
	}
	return &Friendship{store: store, co: co, fallback: fallback, logger: logger}
}

// Reconcile applies one friendship event.
func (f *Friendship) Reconcile(ev model.ChangeEvent) error {
	if ev.Op != model.OpUpdate {
		return f.fallback.Reconcile(ev)
	}

	id := ev.After.ID()
	status := ev.After.StringField("status")

	switch status {
	case FriendshipAccepted:
		f.removeFrom(model.KeyFriendshipsPending, id)
		f.upsertInto(model.KeyFriendshipsActive, ev.After)
	case FriendshipRejected, FriendshipBlocked:
		f.removeFrom(model.KeyFriendshipsPending, id)
		f.removeFrom(model.KeyFriendshipsActive, id)
	case FriendshipPending:
		f.upsertInto(model.KeyFriendshipsPending, ev.After)
	default:
		return f.fallback.Reconcile(ev)
	}

	f.co.Schedule(coalesce.Invalidate, model.KeyFriendshipsPending)
	f.co.Schedule(coalesce.Invalidate, model.KeyFriendshipsActive)
	return nil
}

func (f *Friendship) removeFrom(key, id string) {
	value, ok := f.store.Get(key)
	if !ok {
		return
	}
	if next, removed := cache.RemoveByID(value, id); removed {
		f.store.Set(key, next)
	}
}

// upsertInto merges over an existing row (or its placeholder) or prepends.
func (f *Friendship) upsertInto(key string, row model.Record) {
	id := row.ID()
	value, ok := f.store.Get(key)
	if !ok {
		return
	}
	if next, merged := cache.MergeByID(value, id, row); merged {
		f.store.Set(key, next)
		return
	}
	if ph, ok := cache.FindPlaceholder(value, plausibleMatch(row)); ok {
		next, _ := cache.ReplaceByID(value, ph.ID(), row)
		f.store.Set(key, next)
		return
	}
	f.store.Set(key, cache.Prepend(value, row))
}
