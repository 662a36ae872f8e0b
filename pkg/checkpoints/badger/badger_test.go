package badger

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nigel-daniels/agents-langgraph/internal/log"
	"github.com/nigel-daniels/agents-langgraph/pkg/checkpoints"
	"github.com/nigel-daniels/agents-langgraph/pkg/checkpoints/checkpointtest"
)

func TestStoreInMemory(t *testing.T) {
	t.Parallel()
	checkpointtest.Run(t, func(t *testing.T) checkpoints.Store {
		s, err := Open(InMemoryConfig())
		require.NoError(t, err)
		return s
	})
}

func TestStoreOnDisk(t *testing.T) {
	t.Parallel()
	checkpointtest.Run(t, func(t *testing.T) checkpoints.Store {
		cfg := DefaultConfig(t.TempDir())
		cfg.SyncWrites = false
		cfg.Logger = log.Default
		s, err := Open(cfg)
		require.NoError(t, err)
		return s
	})
}

func TestStoreSurvivesReopen(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	cfg := DefaultConfig(t.TempDir())
	cfg.GCInterval = time.Hour

	s, err := Open(cfg)
	require.NoError(t, err)
	root, err := s.Append(ctx, &checkpoints.Checkpoint{ThreadID: "t1", Values: []byte(`{}`), Next: []string{"a"}})
	require.NoError(t, err)
	child, err := s.Append(ctx, &checkpoints.Checkpoint{ThreadID: "t1", ParentID: root.ID, Values: []byte(`{}`)})
	require.NoError(t, err)
	require.NoError(t, s.Close())

	s, err = Open(cfg)
	require.NoError(t, err)
	defer s.Close()

	latest, err := s.Latest(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, child.ID, latest.ID)
	assert.True(t, latest.Terminal())

	got, err := s.Get(ctx, root.Ref())
	require.NoError(t, err)
	assert.Equal(t, []string{"a"}, got.Next)
}

func TestThreadIDWithSeparator(t *testing.T) {
	t.Parallel()
	s, err := Open(InMemoryConfig())
	require.NoError(t, err)
	defer s.Close()

	_, err = s.Append(context.Background(), &checkpoints.Checkpoint{ThreadID: "a\x00b"})
	require.ErrorIs(t, err, checkpoints.ErrInvalidCheckpoint)
}

func TestOpenRequiresPath(t *testing.T) {
	t.Parallel()
	_, err := Open(Config{})
	require.Error(t, err)
}
