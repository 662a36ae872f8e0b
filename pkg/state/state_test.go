package state

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStateClone(t *testing.T) {
	t.Parallel()

	orig := State{"count": 1, "name": "a"}
	cp := orig.Clone()
	cp["count"] = 2
	delete(cp, "name")

	assert.Equal(t, 1, orig["count"])
	assert.Equal(t, "a", orig["name"])

	var nilState State
	require.NotNil(t, nilState.Clone())
	assert.Empty(t, nilState.Clone())
}

func TestStateAccessors(t *testing.T) {
	t.Parallel()

	s := State{"count": 3, "task": "essay", "tags": []string{"x"}}

	n, ok := Lookup[int](s, "count")
	require.True(t, ok)
	assert.Equal(t, 3, n)

	_, ok = Lookup[string](s, "count")
	assert.False(t, ok, "wrong type must not match")

	_, ok = Lookup[int](s, "missing")
	assert.False(t, ok)

	assert.Equal(t, "essay", Get[string](s, "task"))
	assert.Equal(t, []string{"x"}, Get[[]string](s, "tags"))
	assert.Zero(t, Get[int](s, "missing"))

	assert.True(t, s.Has("task"))
	assert.False(t, s.Has("plan"))
	assert.Equal(t, []string{"count", "tags", "task"}, s.Keys())
}
