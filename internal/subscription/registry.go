// Package subscription tracks one logical feed channel per watched
// collection and classifies each as subscribed or failed from the server's
// acknowledgment, so the Connection Supervisor can judge overall health and
// retry only what needs retrying.
package subscription

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/habitstack/realtime/internal/clock"
	"github.com/habitstack/realtime/internal/model"
)

// Conn is the slice of the feed connection the registry needs.
type Conn interface {
	Subscribe(ctx context.Context, collection string) (string, error)
	Unsubscribe(ctx context.Context, subscriptionID string) error
}

// Status is the lifecycle state of one channel subscription.
type Status int

const (
	StatusPending Status = iota
	StatusSubscribed
	StatusFailed
)

// String returns the lowercase status name.
func (s Status) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusSubscribed:
		return "subscribed"
	case StatusFailed:
		return "failed"
	}
	return "unknown"
}

// Ack classifications recorded on failure.
const (
	AckError    = "error"
	AckTimedOut = "timed_out"
	AckClosed   = "closed"
)

// ChannelSubscription is the tracked state of one collection's channel.
// At most one live subscription exists per (collection, session) pair.
type ChannelSubscription struct {
	Collection       string
	SubscriptionID   string
	Status           Status
	Reason           string // Ack classification when failed
	LastTransitionAt time.Time
}

// Health summarizes how many channels are live.
type Health struct {
	Live  int
	Total int
}

// Connected reports full connectivity.
func (h Health) Connected() bool { return h.Total > 0 && h.Live == h.Total }

// Partial reports that some but not all channels are live.
func (h Health) Partial() bool { return h.Live > 0 && h.Live < h.Total }

// Registry owns the per-collection channel bookkeeping.
type Registry struct {
	collections   []model.WatchedCollection
	settleTimeout time.Duration
	clk           clock.Clock
	logger        *slog.Logger

	mu   sync.Mutex
	subs map[string]*ChannelSubscription
}

// NewRegistry creates a registry for the given watch list. Channels whose
// ack is still ambiguous after settleTimeout are classified failed so they
// stay eligible for retry.
func NewRegistry(collections []model.WatchedCollection, settleTimeout time.Duration, clk clock.Clock, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	if clk == nil {
		clk = clock.New()
	}
	return &Registry{
		collections:   collections,
		settleTimeout: settleTimeout,
		clk:           clk,
		logger:        logger,
		subs:          make(map[string]*ChannelSubscription),
	}
}

// OpenAll opens one channel per watched collection. Outcomes are settled
// per collection and never fail as a whole; the returned Health reflects
// the settled state.
func (r *Registry) OpenAll(ctx context.Context, conn Conn) Health {
	r.mu.Lock()
	now := r.clk.Now()
	for _, w := range r.collections {
		r.subs[w.Name] = &ChannelSubscription{
			Collection:       w.Name,
			Status:           StatusPending,
			LastTransitionAt: now,
		}
	}
	r.mu.Unlock()

	r.open(ctx, conn, r.names())
	return r.Health()
}

// OpenFailed retries only the channels currently classified failed. Used
// by the partial-connectivity retry path, which is cheaper than a full
// reconnect.
func (r *Registry) OpenFailed(ctx context.Context, conn Conn) Health {
	failed := r.Failed()

	r.mu.Lock()
	now := r.clk.Now()
	for _, name := range failed {
		if sub := r.subs[name]; sub != nil {
			sub.Status = StatusPending
			sub.Reason = ""
			sub.LastTransitionAt = now
		}
	}
	r.mu.Unlock()

	r.open(ctx, conn, failed)
	return r.Health()
}

// open settles the named collections concurrently and independently.
func (r *Registry) open(ctx context.Context, conn Conn, names []string) {
	g, ctx := errgroup.WithContext(ctx)
	for _, name := range names {
		name := name
		g.Go(func() error {
			settleCtx, cancel := context.WithTimeout(ctx, r.settleTimeout)
			defer cancel()

			subID, err := conn.Subscribe(settleCtx, name)
			r.record(name, subID, err)
			// One channel's failure never fails the batch.
			return nil
		})
	}
	g.Wait()
}

// record transitions a channel out of pending based on the settle result.
func (r *Registry) record(collection, subID string, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	sub := r.subs[collection]
	if sub == nil {
		return
	}
	sub.LastTransitionAt = r.clk.Now()

	if err == nil {
		sub.Status = StatusSubscribed
		sub.SubscriptionID = subID
		sub.Reason = ""
		r.logger.Debug("channel subscribed", "collection", collection, "sub_id", subID)
		return
	}

	sub.Status = StatusFailed
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		sub.Reason = AckTimedOut
	default:
		sub.Reason = AckError
	}
	r.logger.Warn("channel subscription failed",
		"collection", collection,
		"reason", sub.Reason,
		"error", err,
	)
}

// CloseAll unsubscribes live channels and resets the registry. Invoked on
// disconnect; remaining entries are marked closed.
func (r *Registry) CloseAll(ctx context.Context, conn Conn) {
	r.mu.Lock()
	live := make(map[string]string)
	now := r.clk.Now()
	for name, sub := range r.subs {
		if sub.Status == StatusSubscribed && sub.SubscriptionID != "" {
			live[name] = sub.SubscriptionID
		}
		sub.Status = StatusFailed
		sub.Reason = AckClosed
		sub.LastTransitionAt = now
	}
	r.mu.Unlock()

	if conn == nil {
		return
	}
	for name, subID := range live {
		if err := conn.Unsubscribe(ctx, subID); err != nil {
			r.logger.Debug("unsubscribe failed", "collection", name, "error", err)
		}
	}
}

// Reset drops all bookkeeping (used when the connection is torn down
// without a usable socket to unsubscribe over).
func (r *Registry) Reset() {
	r.mu.Lock()
	r.subs = make(map[string]*ChannelSubscription)
	r.mu.Unlock()
}

// Successful lists collections with live channels.
func (r *Registry) Successful() []string {
	return r.withStatus(StatusSubscribed)
}

// Failed lists collections whose channels failed to settle.
func (r *Registry) Failed() []string {
	return r.withStatus(StatusFailed)
}

// Get returns a copy of one channel's state.
func (r *Registry) Get(collection string) (ChannelSubscription, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	sub, ok := r.subs[collection]
	if !ok {
		return ChannelSubscription{}, false
	}
	return *sub, true
}

// Health returns the live/total channel counts.
func (r *Registry) Health() Health {
	r.mu.Lock()
	defer r.mu.Unlock()
	h := Health{Total: len(r.collections)}
	for _, sub := range r.subs {
		if sub.Status == StatusSubscribed {
			h.Live++
		}
	}
	return h
}

func (r *Registry) withStatus(status Status) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []string
	for name, sub := range r.subs {
		if sub.Status == status {
			out = append(out, name)
		}
	}
	return out
}

func (r *Registry) names() []string {
	out := make([]string, len(r.collections))
	for i, w := range r.collections {
		out[i] = w.Name
	}
	return out
}
