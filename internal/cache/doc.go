// Package cache implements the key-addressed normalized query cache the
// reconciliation engine writes into. Values are stored under string keys in
// one of three shapes: a flat []model.Record list, a Wrapped list, or a
// single model.Record detail view.
//
// The store tracks which keys are currently observed by mounted views (so
// "refetch active" can be scoped) and registers in-flight fetches per key so
// a server-driven write can cancel racing fetches before it lands.
package cache
