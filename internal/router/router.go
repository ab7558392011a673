// Package router dispatches inbound change frames to the reconciliation
// engine and maintains the last-event-received timestamp the Connection
// Supervisor's staleness check relies on.
package router

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/habitstack/realtime/internal/connection"
	"github.com/habitstack/realtime/internal/model"
	"github.com/habitstack/realtime/internal/reconcile"
)

// Stats contains router runtime counters.
type Stats struct {
	Received    int64
	Routed      int64
	ParseErrors int64
	Skipped     int64
}

// Router consumes frames from the supervisor and applies them in arrival
// order. Routing is a pure lookup by collection; the engine owns all
// reconciliation logic.
type Router struct {
	engine *reconcile.Engine
	input  <-chan connection.Frame
	logger *slog.Logger

	lastEventAt atomic.Int64 // unix nanos

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu    sync.Mutex
	stats Stats
}

// New creates a Router reading from input.
func New(engine *reconcile.Engine, input <-chan connection.Frame, logger *slog.Logger) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{
		engine: engine,
		input:  input,
		logger: logger,
	}
}

// Start begins routing frames.
func (r *Router) Start(ctx context.Context) error {
	r.ctx, r.cancel = context.WithCancel(ctx)

	r.wg.Add(1)
	go r.routeLoop()

	r.logger.Info("event router started")
	return nil
}

// Stop shuts the router down.
func (r *Router) Stop(ctx context.Context) error {
	if r.cancel != nil {
		r.cancel()
	}

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		r.logger.Info("event router stopped")
	case <-ctx.Done():
		r.logger.Warn("event router stop timed out")
	}
	return nil
}

// LastEventAt returns when the last change frame arrived (zero if none).
func (r *Router) LastEventAt() time.Time {
	ns := r.lastEventAt.Load()
	if ns == 0 {
		return time.Time{}
	}
	return time.Unix(0, ns)
}

// Stats returns a snapshot of routing counters.
func (r *Router) Stats() Stats {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stats
}

func (r *Router) routeLoop() {
	defer r.wg.Done()

	for {
		select {
		case <-r.ctx.Done():
			return
		case frame, ok := <-r.input:
			if !ok {
				r.logger.Info("frame channel closed")
				return
			}
			r.Route(frame)
		}
	}
}

// changeWire is the wire format of a change frame.
type changeWire struct {
	Type       string       `json:"type"`
	Collection string       `json:"collection"`
	Op         string       `json:"op"`
	Before     model.Record `json:"before"`
	After      model.Record `json:"after"`
}

// Route parses one frame and applies it. Events for a collection are
// applied in the order delivered; the staleness timestamp is stamped for
// every change frame, parsable or not, since any traffic proves the
// transport alive.
func (r *Router) Route(frame connection.Frame) {
	r.mu.Lock()
	r.stats.Received++
	r.mu.Unlock()

	r.lastEventAt.Store(frame.ReceivedAt.UnixNano())

	var wire changeWire
	if err := json.Unmarshal(frame.Data, &wire); err != nil {
		r.logger.Warn("unparsable frame", "error", err)
		r.mu.Lock()
		r.stats.ParseErrors++
		r.mu.Unlock()
		return
	}

	if wire.Type != "change" {
		r.mu.Lock()
		r.stats.Skipped++
		r.mu.Unlock()
		return
	}

	ev := model.ChangeEvent{
		Collection: wire.Collection,
		Op:         model.Operation(wire.Op),
		Before:     wire.Before,
		After:      wire.After,
		ReceivedAt: frame.ReceivedAt,
	}

	r.engine.Apply(ev)

	r.mu.Lock()
	r.stats.Routed++
	r.mu.Unlock()
}
