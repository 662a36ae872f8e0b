package checkpoints_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nigel-daniels/agents-langgraph/pkg/checkpoints"
	"github.com/nigel-daniels/agents-langgraph/pkg/checkpoints/checkpointtest"
)

func TestMemoryStore(t *testing.T) {
	t.Parallel()
	checkpointtest.Run(t, func(*testing.T) checkpoints.Store {
		return checkpoints.NewMemoryStore()
	})
}

func TestInstrumentedStore(t *testing.T) {
	t.Parallel()
	checkpointtest.Run(t, func(*testing.T) checkpoints.Store {
		return checkpoints.Instrument(checkpoints.NewMemoryStore())
	})

	s := checkpoints.Instrument(checkpoints.NewMemoryStore())
	assert.Same(t, s, checkpoints.Instrument(s), "double wrapping is a no-op")
}

func TestMemoryStoreClosed(t *testing.T) {
	t.Parallel()
	s := checkpoints.NewMemoryStore()
	require.NoError(t, s.Close())

	_, err := s.Append(context.Background(), &checkpoints.Checkpoint{ThreadID: "t1"})
	require.ErrorIs(t, err, checkpoints.ErrClosed)
	_, err = s.Latest(context.Background(), "t1")
	require.ErrorIs(t, err, checkpoints.ErrClosed)
}

func TestPrepare(t *testing.T) {
	t.Parallel()

	t.Run("root", func(t *testing.T) {
		t.Parallel()
		in := &checkpoints.Checkpoint{ThreadID: "t1", Next: []string{"a"}}
		out, err := checkpoints.Prepare(in, 0, false)
		require.NoError(t, err)
		assert.Equal(t, int64(1), out.Seq)
		assert.NotEmpty(t, out.ID)
		assert.Empty(t, in.ID, "input is not modified")

		out.Next[0] = "b"
		assert.Equal(t, "a", in.Next[0])
	})

	t.Run("ids are time ordered", func(t *testing.T) {
		t.Parallel()
		a := checkpoints.NewID()
		b := checkpoints.NewID()
		assert.Less(t, a, b)
	})

	t.Run("invalid", func(t *testing.T) {
		t.Parallel()
		_, err := checkpoints.Prepare(&checkpoints.Checkpoint{ThreadID: "t1"}, 3, false)
		require.ErrorIs(t, err, checkpoints.ErrInvalidParent)

		_, err = checkpoints.Prepare(&checkpoints.Checkpoint{ThreadID: "t1", ParentID: "p"}, 3, false)
		require.ErrorIs(t, err, checkpoints.ErrInvalidParent)

		_, err = checkpoints.Prepare(nil, 0, false)
		require.ErrorIs(t, err, checkpoints.ErrInvalidCheckpoint)
	})

	t.Run("expected head", func(t *testing.T) {
		t.Parallel()
		in := &checkpoints.Checkpoint{ThreadID: "t1", ParentID: "p", ExpectedSeq: 2}
		_, err := checkpoints.Prepare(in, 3, true)
		require.ErrorIs(t, err, checkpoints.ErrConflict)

		out, err := checkpoints.Prepare(in, 2, true)
		require.NoError(t, err)
		assert.Equal(t, int64(3), out.Seq)
		assert.Zero(t, out.ExpectedSeq)
	})
}

func TestRef(t *testing.T) {
	t.Parallel()
	cp := &checkpoints.Checkpoint{ThreadID: "t1", ID: "c2", ParentID: "c1", Next: []string{"x"}}

	assert.Equal(t, "t1@c2", cp.Ref().String())
	assert.Equal(t, "t1@latest", checkpoints.Ref{ThreadID: "t1"}.String())
	assert.Equal(t, checkpoints.Ref{ThreadID: "t1", CheckpointID: "c1"}, cp.ParentRef())
	assert.True(t, (&checkpoints.Checkpoint{ThreadID: "t1"}).ParentRef().IsZero())
	assert.False(t, cp.Terminal())

	clone := cp.Clone()
	clone.Next[0] = "y"
	assert.Equal(t, "x", cp.Next[0])
}
