package reconcile

import (
	"log/slog"
	"sync"

	"github.com/habitstack/realtime/internal/cache"
	"github.com/habitstack/realtime/internal/coalesce"
	"github.com/habitstack/realtime/internal/model"
)

// Strategy reconciles one change event into the cache.
type Strategy interface {
	Reconcile(ev model.ChangeEvent) error
}

// EngineStats is a snapshot of reconciliation counters.
type EngineStats struct {
	Applied     int64
	Specialized int64
	Anomalies   int64
}

// Engine routes events to per-collection strategies with a generic default.
type Engine struct {
	store  cache.Store
	co     *coalesce.Coalescer
	logger *slog.Logger

	watch      map[string]model.WatchedCollection
	strategies map[string]Strategy
	fallback   Strategy

	mu    sync.Mutex
	stats EngineStats
}

// NewEngine creates an engine with the generic strategy as the default for
// every collection on the watch list. Specialized strategies are added
// with Register.
func NewEngine(store cache.Store, co *coalesce.Coalescer, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	e := &Engine{
		store:      store,
		co:         co,
		logger:     logger,
		watch:      model.WatchMap(),
		strategies: make(map[string]Strategy),
	}
	e.fallback = &Generic{store: store, co: co, watch: e.watch, logger: logger}
	return e
}

// Register installs a specialized strategy for a collection.
func (e *Engine) Register(collection string, s Strategy) {
	e.strategies[collection] = s
}

// Generic returns the engine's fallback strategy, for strategies that
// delegate the cases they do not specialize.
func (e *Engine) Generic() Strategy {
	return e.fallback
}

// Apply reconciles one event. Reconciliation anomalies are absorbed: the
// scheduled invalidation self-heals the cache, so nothing propagates.
func (e *Engine) Apply(ev model.ChangeEvent) {
	strategy, specialized := e.strategies[ev.Collection]
	if !specialized {
		strategy = e.fallback
	}

	err := strategy.Reconcile(ev)

	e.mu.Lock()
	e.stats.Applied++
	if specialized {
		e.stats.Specialized++
	}
	if err != nil {
		e.stats.Anomalies++
	}
	e.mu.Unlock()

	if err != nil {
		e.logger.Debug("reconciliation anomaly",
			"collection", ev.Collection,
			"op", ev.Op,
			"id", ev.RowID(),
			"error", err,
		)
	}
}

// Stats returns a snapshot of reconciliation counters.
func (e *Engine) Stats() EngineStats {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.stats
}
