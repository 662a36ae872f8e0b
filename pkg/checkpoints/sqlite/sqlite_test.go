package sqlite

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/nigel-daniels/agents-langgraph/pkg/checkpoints"
	"github.com/nigel-daniels/agents-langgraph/pkg/checkpoints/checkpointtest"
)

func TestStore(t *testing.T) {
	t.Parallel()
	checkpointtest.Run(t, func(t *testing.T) checkpoints.Store {
		s, err := Open(filepath.Join(t.TempDir(), "checkpoints.db"))
		require.NoError(t, err)
		return s
	})
}

func TestStoreInMemory(t *testing.T) {
	t.Parallel()
	checkpointtest.Run(t, func(t *testing.T) checkpoints.Store {
		s, err := Open(":memory:")
		require.NoError(t, err)
		return s
	})
}

func TestStoreSurvivesReopen(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "checkpoints.db")

	s, err := Open(path)
	require.NoError(t, err)
	root, err := s.Append(ctx, &checkpoints.Checkpoint{
		ThreadID: "t1",
		Source:   checkpoints.SourceInput,
		Next:     []string{"llm"},
		Values:   []byte(`{"messages":[]}`),
	})
	require.NoError(t, err)
	require.NoError(t, s.Close())

	s, err = Open(path)
	require.NoError(t, err)
	defer s.Close()

	latest, err := s.Latest(ctx, "t1")
	require.NoError(t, err)
	require.Equal(t, root.ID, latest.ID)
	require.Equal(t, []string{"llm"}, latest.Next)
	require.Equal(t, checkpoints.SourceInput, latest.Source)
	require.Nil(t, latest.Nodes)
}

func TestNewRequiresDB(t *testing.T) {
	t.Parallel()
	_, err := New(nil)
	require.Error(t, err)
}
