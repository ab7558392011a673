// Package reconcile merges change events into the local query cache.
//
// The Engine dispatches each event to the strategy registered for its
// collection, falling back to the generic strategy. Strategies mutate the
// cache directly and schedule coalesced invalidations; they never surface
// anomalies as errors, since a temporarily inconsistent cache self-heals on
// the next scheduled invalidation.
package reconcile
