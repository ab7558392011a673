package cache

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/habitstack/realtime/internal/model"
)

func TestShapes_WrappedEnvelopePreserved(t *testing.T) {
	value := any(Wrapped{Data: []model.Record{{"id": "a"}, {"id": "b"}}})

	value = Prepend(value, model.Record{"id": "c"})
	wrapped, ok := value.(Wrapped)
	require.True(t, ok, "mutations keep the envelope shape")
	require.Len(t, wrapped.Data, 3)
	assert.Equal(t, "c", wrapped.Data[0].ID())

	value, removed := RemoveByID(value, "a")
	require.True(t, removed)
	assert.Len(t, value.(Wrapped).Data, 2)
}

func TestShapes_RemoveDetailCollapsesToNil(t *testing.T) {
	next, removed := RemoveByID(model.Record{"id": "h-1", "name": "Run"}, "h-1")
	require.True(t, removed)
	assert.Nil(t, next)
}

func TestShapes_ReplacePreservesPosition(t *testing.T) {
	list := []model.Record{{"id": "a"}, {"id": "b"}, {"id": "c"}}
	next, ok := ReplaceByID(list, "b", model.Record{"id": "b2"})
	require.True(t, ok)
	assert.Equal(t, "b2", next.([]model.Record)[1].ID())
}

func TestShapes_MutationsCopyTheList(t *testing.T) {
	original := []model.Record{{"id": "a", "n": 1}}
	next, ok := MergeByID(original, "a", model.Record{"n": 2})
	require.True(t, ok)

	assert.Equal(t, 1, original[0]["n"], "callers holding the old slice see the old rows")
	assert.Equal(t, 2, next.([]model.Record)[0]["n"])
}

func TestShapes_FindPlaceholderAmbiguousReturnsNothing(t *testing.T) {
	list := []model.Record{
		{"id": model.NewPlaceholderID(), "habit_id": "h-1", "date": "2025-06-01"},
		{"id": model.NewPlaceholderID(), "habit_id": "h-1", "date": "2025-06-01"},
	}
	_, ok := FindPlaceholder(list, func(model.Record) bool { return true })
	assert.False(t, ok, "two candidate placeholders is ambiguous")
}

func TestShapes_FindPlaceholderIgnoresRealRows(t *testing.T) {
	list := []model.Record{
		{"id": "real-1"},
		{"id": model.NewPlaceholderID(), "habit_id": "h-1"},
	}
	ph, ok := FindPlaceholder(list, func(model.Record) bool { return true })
	require.True(t, ok)
	assert.True(t, model.IsPlaceholderID(ph.ID()))
}
