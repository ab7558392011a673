// Package coalesce batches the invalidate/refetch instructions raised while
// a burst of change events is being reconciled, flushing one downstream
// call per affected cache key on a short trailing-edge timer.
package coalesce

import (
	"log/slog"
	"sync"
	"time"

	"github.com/habitstack/realtime/internal/cache"
	"github.com/habitstack/realtime/internal/clock"
)

// Kind is the invalidation flavor scheduled against a cache key.
type Kind int

const (
	// Invalidate marks the key stale; the next observer refetches.
	Invalidate Kind = iota

	// Refetch refetches the key immediately if a mounted view observes
	// it. Refetch dominates Invalidate for the same key within a tick.
	Refetch
)

// DefaultFlushDelay is the trailing-edge window for batching a burst.
const DefaultFlushDelay = 50 * time.Millisecond

// Coalescer deduplicates scheduled invalidations per flush tick.
type Coalescer struct {
	sink   cache.InvalidationSink
	clk    clock.Clock
	delay  time.Duration
	logger *slog.Logger

	mu      sync.Mutex
	pending map[string]Kind
	timer   clock.Timer
	flushes int64
}

// New creates a Coalescer flushing into sink after delay. A zero delay
// uses DefaultFlushDelay.
func New(sink cache.InvalidationSink, clk clock.Clock, delay time.Duration, logger *slog.Logger) *Coalescer {
	if logger == nil {
		logger = slog.Default()
	}
	if delay <= 0 {
		delay = DefaultFlushDelay
	}
	return &Coalescer{
		sink:    sink,
		clk:     clk,
		delay:   delay,
		logger:  logger,
		pending: make(map[string]Kind),
	}
}

// Schedule records one invalidation instruction. Synchronous and cheap;
// safe to call from event handlers. Duplicate keys collapse, with Refetch
// winning over Invalidate.
func (c *Coalescer) Schedule(kind Kind, key string) {
	if key == "" {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if existing, ok := c.pending[key]; !ok || kind > existing {
		c.pending[key] = kind
	}

	if c.timer == nil {
		c.timer = c.clk.AfterFunc(c.delay, c.Flush)
	}
}

// Flush delivers every pending instruction to the sink, one call per key.
func (c *Coalescer) Flush() {
	c.mu.Lock()
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	batch := c.pending
	c.pending = make(map[string]Kind)
	if len(batch) > 0 {
		c.flushes++
	}
	c.mu.Unlock()

	if len(batch) == 0 {
		return
	}

	for key, kind := range batch {
		switch kind {
		case Refetch:
			c.sink.RefetchActive(key)
		default:
			c.sink.Invalidate(key)
		}
	}

	c.logger.Debug("flushed invalidations", "keys", len(batch))
}

// PendingCount returns the number of keys awaiting flush.
func (c *Coalescer) PendingCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

// Flushes returns how many non-empty flushes have run.
func (c *Coalescer) Flushes() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.flushes
}
