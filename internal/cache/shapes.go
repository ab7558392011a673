package cache

import "github.com/habitstack/realtime/internal/model"

// The engine caches three value shapes: []model.Record (flat list),
// Wrapped (list under a data envelope), and model.Record (detail view).
// The helpers below apply one row-level mutation across any shape and
// report whether the value changed.

// ContainsID reports whether value holds a row with the given id.
func ContainsID(value any, id string) bool {
	_, ok := FindByID(value, id)
	return ok
}

// FindByID returns the row with the given id, if value holds one.
func FindByID(value any, id string) (model.Record, bool) {
	switch v := value.(type) {
	case []model.Record:
		for _, rec := range v {
			if rec.ID() == id {
				return rec, true
			}
		}
	case Wrapped:
		return FindByID(v.Data, id)
	case model.Record:
		if v.ID() == id {
			return v, true
		}
	}
	return nil, false
}

// Prepend inserts rec at the head of a list shape. A detail shape is
// replaced outright. Returns the new value.
func Prepend(value any, rec model.Record) any {
	switch v := value.(type) {
	case []model.Record:
		out := make([]model.Record, 0, len(v)+1)
		out = append(out, rec)
		return append(out, v...)
	case Wrapped:
		return Wrapped{Data: Prepend(v.Data, rec).([]model.Record)}
	case model.Record:
		return rec
	case nil:
		return []model.Record{rec}
	}
	return value
}

// ReplaceByID swaps the row with the given id for rec, preserving list
// position. Returns the new value and whether a replacement happened.
func ReplaceByID(value any, id string, rec model.Record) (any, bool) {
	switch v := value.(type) {
	case []model.Record:
		for i, existing := range v {
			if existing.ID() == id {
				out := make([]model.Record, len(v))
				copy(out, v)
				out[i] = rec
				return out, true
			}
		}
	case Wrapped:
		data, ok := ReplaceByID(v.Data, id, rec)
		if ok {
			return Wrapped{Data: data.([]model.Record)}, true
		}
	case model.Record:
		if v.ID() == id {
			return rec, true
		}
	}
	return value, false
}

// MergeByID layers fields over the row with the given id in place.
// Returns the new value and whether the row was found.
func MergeByID(value any, id string, fields model.Record) (any, bool) {
	switch v := value.(type) {
	case []model.Record:
		for i, existing := range v {
			if existing.ID() == id {
				out := make([]model.Record, len(v))
				copy(out, v)
				out[i] = existing.Merge(fields)
				return out, true
			}
		}
	case Wrapped:
		data, ok := MergeByID(v.Data, id, fields)
		if ok {
			return Wrapped{Data: data.([]model.Record)}, true
		}
	case model.Record:
		if v.ID() == id {
			return v.Merge(fields), true
		}
	}
	return value, false
}

// RemoveByID drops the row with the given id. Removal is id-based only:
// delete events may carry nothing but the primary key. A matching detail
// shape collapses to nil. Returns the new value and whether a row was
// removed.
func RemoveByID(value any, id string) (any, bool) {
	switch v := value.(type) {
	case []model.Record:
		for i, existing := range v {
			if existing.ID() == id {
				out := make([]model.Record, 0, len(v)-1)
				out = append(out, v[:i]...)
				return append(out, v[i+1:]...), true
			}
		}
	case Wrapped:
		data, ok := RemoveByID(v.Data, id)
		if ok {
			return Wrapped{Data: data.([]model.Record)}, true
		}
	case model.Record:
		if v.ID() == id {
			return nil, true
		}
	}
	return value, false
}

// FindPlaceholder returns the single placeholder row matching pred, if
// value is a list shape holding exactly one such candidate. Ambiguous
// matches return nothing: replacing the wrong optimistic row is worse
// than a transient duplicate healed by the next refetch.
func FindPlaceholder(value any, pred func(model.Record) bool) (model.Record, bool) {
	var rows []model.Record
	switch v := value.(type) {
	case []model.Record:
		rows = v
	case Wrapped:
		rows = v.Data
	default:
		return nil, false
	}

	var found model.Record
	for _, rec := range rows {
		if !model.IsPlaceholderID(rec.ID()) || !pred(rec) {
			continue
		}
		if found != nil {
			return nil, false
		}
		found = rec
	}
	return found, found != nil
}
