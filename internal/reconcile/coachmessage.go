package reconcile

import (
	"log/slog"
	"sync"
	"time"

	"github.com/habitstack/realtime/internal/cache"
	"github.com/habitstack/realtime/internal/coalesce"
	"github.com/habitstack/realtime/internal/model"
)

// CoachMessage reconciles coach messages, which are produced by a
// multi-step generative process. Intermediate updates surface as partial
// "still generating" state in the thread view; the terminal update (the
// one carrying completed_at) is deduplicated against the last-seen
// terminal timestamp per message, since the feed can redeliver terminal
// events out of order.
type CoachMessage struct {
	store    cache.Store
	co       *coalesce.Coalescer
	fallback Strategy
	logger   *slog.Logger

	mu           sync.Mutex
	lastTerminal map[string]time.Time
}

// NewCoachMessage creates the coach-message strategy.
func NewCoachMessage(store cache.Store, co *coalesce.Coalescer, fallback Strategy, logger *slog.Logger) *CoachMessage {
	if logger == nil {
		logger = slog.Default()
	}
	return &CoachMessage{
		store:        store,
		co:           co,
		fallback:     fallback,
		logger:       logger,
		lastTerminal: make(map[string]time.Time),
	}
}

// Reconcile applies one coach-message event.
func (c *CoachMessage) Reconcile(ev model.ChangeEvent) error {
	if ev.Op != model.OpUpdate {
		return c.fallback.Reconcile(ev)
	}

	id := ev.After.ID()
	completedAt := ev.After.TimeField("completed_at")

	if completedAt.IsZero() {
		// Intermediate step: show partial content as still generating.
		row := ev.After.Clone()
		row["generating"] = true
		c.mergeThread(id, row)
		c.co.Schedule(coalesce.Invalidate, model.KeyCoachThread)
		return nil
	}

	c.mu.Lock()
	last, seen := c.lastTerminal[id]
	if seen && !completedAt.After(last) {
		c.mu.Unlock()
		c.logger.Debug("dropping stale terminal message event",
			"id", id,
			"completed_at", completedAt,
			"last_seen", last,
		)
		return nil
	}
	c.lastTerminal[id] = completedAt
	c.mu.Unlock()

	row := ev.After.Clone()
	row["generating"] = false
	c.mergeThread(id, row)
	c.co.Schedule(coalesce.Invalidate, model.KeyCoachThread)
	return nil
}

func (c *CoachMessage) mergeThread(id string, row model.Record) {
	value, ok := c.store.Get(model.KeyCoachThread)
	if !ok {
		return
	}
	if next, merged := cache.MergeByID(value, id, row); merged {
		c.store.Set(model.KeyCoachThread, next)
		return
	}
	// Update arrived before the insert reconciled; surface the partial row
	// rather than waiting for the refetch.
	c.store.Set(model.KeyCoachThread, cache.Prepend(value, row))
}
