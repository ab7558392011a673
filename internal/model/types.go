package model

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// -----------------------------------------------------------------------------
// Connection State
// -----------------------------------------------------------------------------

// ConnectionState describes the realtime connection lifecycle. Exactly one
// instance exists per authenticated session.
type ConnectionState int

const (
	StateDisconnected ConnectionState = iota
	StateConnecting
	StateConnected
	StateError
)

// String returns the lowercase state name.
func (s ConnectionState) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateError:
		return "error"
	}
	return "unknown"
}

// -----------------------------------------------------------------------------
// Change Events
// -----------------------------------------------------------------------------

// Operation is the kind of row-level change delivered by the feed.
type Operation string

const (
	OpInsert Operation = "insert"
	OpUpdate Operation = "update"
	OpDelete Operation = "delete"
)

// Record is one row as delivered by the feed or held in the cache.
type Record map[string]any

// ID returns the row's primary key, or "" if absent.
func (r Record) ID() string {
	return r.StringField("id")
}

// StringField returns a field as a string, or "" if absent or not a string.
func (r Record) StringField(key string) string {
	if r == nil {
		return ""
	}
	s, _ := r[key].(string)
	return s
}

// TimeField parses an RFC 3339 field, returning the zero time if absent or
// malformed.
func (r Record) TimeField(key string) time.Time {
	s := r.StringField(key)
	if s == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

// Clone returns a shallow copy of the record.
func (r Record) Clone() Record {
	if r == nil {
		return nil
	}
	out := make(Record, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}

// Merge returns a new record with fields from other layered over r.
func (r Record) Merge(other Record) Record {
	out := r.Clone()
	if out == nil {
		out = make(Record, len(other))
	}
	for k, v := range other {
		out[k] = v
	}
	return out
}

// ChangeEvent is a single row-level change notification for one watched
// collection. Before carries only the primary key on delete (server
// limitation); handlers must not assume full previous state is available.
type ChangeEvent struct {
	Collection string    // Watched collection name (e.g. "habit_entries")
	Op         Operation // insert, update, delete
	Before     Record    // Previous row; id-only on delete, nil on insert
	After      Record    // New row; nil on delete
	ReceivedAt time.Time // Local timestamp when the frame was read
}

// RowID resolves the id of the affected row, preferring After.
func (e ChangeEvent) RowID() string {
	if id := e.After.ID(); id != "" {
		return id
	}
	return e.Before.ID()
}

// -----------------------------------------------------------------------------
// Placeholder ids
// -----------------------------------------------------------------------------

// placeholderPrefix marks locally generated ids assigned to optimistically
// created rows before the server assigns the real id.
const placeholderPrefix = "temp-"

// NewPlaceholderID returns a fresh placeholder id for an optimistic insert.
func NewPlaceholderID() string {
	return placeholderPrefix + uuid.NewString()
}

// IsPlaceholderID reports whether id is a locally generated placeholder.
func IsPlaceholderID(id string) bool {
	return strings.HasPrefix(id, placeholderPrefix)
}
