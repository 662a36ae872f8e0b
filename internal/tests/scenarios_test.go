// Package tests runs whole graphs against every checkpoint store.
package tests

import (
	"context"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nigel-daniels/agents-langgraph/pkg/agents"
	"github.com/nigel-daniels/agents-langgraph/pkg/channels"
	"github.com/nigel-daniels/agents-langgraph/pkg/checkpoints"
	"github.com/nigel-daniels/agents-langgraph/pkg/checkpoints/badger"
	"github.com/nigel-daniels/agents-langgraph/pkg/checkpoints/checkpointtest"
	"github.com/nigel-daniels/agents-langgraph/pkg/checkpoints/sqlite"
	"github.com/nigel-daniels/agents-langgraph/pkg/graph"
	"github.com/nigel-daniels/agents-langgraph/pkg/state"
)

type storeFactory func(t *testing.T) checkpoints.Store

var stores = map[string]storeFactory{
	"memory": func(*testing.T) checkpoints.Store {
		return checkpoints.NewMemoryStore()
	},
	"sqlite": func(t *testing.T) checkpoints.Store {
		s, err := sqlite.Open(filepath.Join(t.TempDir(), "checkpoints.db"))
		require.NoError(t, err)
		return s
	},
	"badger": func(t *testing.T) checkpoints.Store {
		s, err := badger.Open(badger.InMemoryConfig())
		require.NoError(t, err)
		return s
	},
}

// forEachStore runs fn once per store kind with a fresh store.
func forEachStore(t *testing.T, fn func(t *testing.T, store checkpoints.Store)) {
	t.Helper()
	for name, factory := range stores {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			store := factory(t)
			t.Cleanup(func() { _ = store.Close() })
			fn(t, store)
		})
	}
}

func schema() *channels.Schema {
	return channels.MustSchema(
		channels.NewAccumulate[int]("count", 0),
		channels.NewAppend[string]("visited"),
	)
}

func add(name string, n int) graph.NodeFunc {
	return func(context.Context, state.State) (state.State, error) {
		return state.State{"count": n, "visited": name}, nil
	}
}

func count(st state.State) int {
	return state.Get[int](st, "count")
}

func visited(st state.State) []string {
	return state.Get[[]string](st, "visited")
}

func rawHistory(t *testing.T, store checkpoints.Store, threadID string) []*checkpoints.Checkpoint {
	t.Helper()
	var out []*checkpoints.Checkpoint
	for cp, err := range checkpoints.History(context.Background(), store, threadID, 2) {
		require.NoError(t, err)
		out = append(out, cp)
	}
	return out
}

func TestLinearGraph(t *testing.T) {
	t.Parallel()
	forEachStore(t, func(t *testing.T, store checkpoints.Store) {
		ctx := context.Background()
		cg, err := graph.NewGraph("linear", schema()).
			AddNode("A", add("A", 1)).
			AddNode("B", add("B", 1)).
			AddEdge("A", "B").
			AddEdge("B", graph.END).
			SetEntryPoint("A").
			Compile(graph.WithCheckpointStore(store))
		require.NoError(t, err)

		res, err := cg.Run(ctx, "linear", state.State{"count": 0})
		require.NoError(t, err)
		assert.Equal(t, graph.StatusCompleted, res.Status)
		assert.Equal(t, 2, count(res.Values))
		assert.Equal(t, []string{"A", "B"}, visited(res.Values))

		snap, err := cg.GetState(ctx, "linear")
		require.NoError(t, err)
		assert.True(t, snap.Terminal())
		assert.Equal(t, res.Checkpoint, snap.Ref)

		cps := rawHistory(t, store, "linear")
		require.Len(t, cps, 3)
		checkpointtest.AssertTree(t, cps)
		assert.Equal(t, []checkpoints.Source{checkpoints.SourceLoop, checkpoints.SourceLoop, checkpoints.SourceInput},
			[]checkpoints.Source{cps[0].Source, cps[1].Source, cps[2].Source})
	})
}

func TestInterruptAndResume(t *testing.T) {
	t.Parallel()
	forEachStore(t, func(t *testing.T, store checkpoints.Store) {
		ctx := context.Background()
		cg, err := graph.NewGraph("review", schema()).
			AddNode("A", add("A", 1)).
			AddNode("B", add("B", 1)).
			AddEdge("A", "B").
			SetEntryPoint("A").
			Compile(graph.WithCheckpointStore(store), graph.WithInterruptBefore("B"))
		require.NoError(t, err)

		res, err := cg.Run(ctx, "review", state.State{"count": 0})
		require.NoError(t, err)
		require.Equal(t, graph.StatusInterrupted, res.Status)
		assert.Equal(t, []string{"B"}, res.Next)
		assert.Equal(t, 1, count(res.Values))

		snap, err := cg.GetState(ctx, "review")
		require.NoError(t, err)
		assert.Equal(t, []string{"B"}, snap.Next)
		assert.Equal(t, checkpoints.SourceInterrupt, snap.Source)

		res, err = cg.Run(ctx, "review", nil)
		require.NoError(t, err)
		assert.Equal(t, graph.StatusCompleted, res.Status)
		assert.Equal(t, 2, count(res.Values))
		assert.Equal(t, []string{"A", "B"}, visited(res.Values))
		assert.Equal(t, 1, res.Steps)
	})
}

func TestConditionalLoop(t *testing.T) {
	t.Parallel()
	forEachStore(t, func(t *testing.T, store checkpoints.Store) {
		ctx := context.Background()
		router := func(_ context.Context, st state.State) (string, error) {
			if count(st) < 3 {
				return "retry", nil
			}
			return "done", nil
		}
		cg, err := graph.NewGraph("loop", schema()).
			AddNode("A", add("A", 1)).
			AddNode("B", add("B", 0)).
			AddEdge("A", "B").
			AddConditionalEdge("B", router, map[string]string{"retry": "A", "done": graph.END}).
			SetEntryPoint("A").
			Compile(graph.WithCheckpointStore(store))
		require.NoError(t, err)

		res, err := cg.Run(ctx, "loop", state.State{"count": 0})
		require.NoError(t, err)
		assert.Equal(t, 3, count(res.Values))
		assert.Equal(t, []string{"A", "B", "A", "B", "A", "B"}, visited(res.Values))

		// One input checkpoint plus one per step.
		assert.Len(t, rawHistory(t, store, "loop"), 7)
	})
}

func TestTimeTravel(t *testing.T) {
	t.Parallel()
	forEachStore(t, func(t *testing.T, store checkpoints.Store) {
		ctx := context.Background()
		cg, err := agents.NewCounter(agents.DefaultCounterLimit, graph.WithCheckpointStore(store))
		require.NoError(t, err)

		res, err := cg.Run(ctx, "counter", state.State{agents.CountKey: 0})
		require.NoError(t, err)
		require.Equal(t, 4, state.Get[int](res.Values, agents.CountKey))

		var afterFirst *graph.Snapshot
		for snap, err := range cg.GetHistory(ctx, "counter") {
			require.NoError(t, err)
			if snap.Step == 1 {
				afterFirst = snap
			}
		}
		require.NotNil(t, afterFirst)
		require.Equal(t, 1, state.Get[int](afterFirst.Values, agents.CountKey))
		before := len(rawHistory(t, store, "counter"))

		// Editing the old checkpoint forks the thread without touching the first branch.
		edited, err := cg.UpdateState(ctx, afterFirst.Ref, state.State{agents.CountKey: 5}, "")
		require.NoError(t, err)
		assert.Equal(t, afterFirst.Ref, edited.Parent)
		assert.Equal(t, []string{agents.CounterNode2}, edited.Next)

		res, err = cg.Run(ctx, "counter", nil, graph.WithCheckpointID(edited.Ref.CheckpointID))
		require.NoError(t, err)
		assert.Equal(t, 7, state.Get[int](res.Values, agents.CountKey))
		assert.Equal(t, "node_2", state.Get[string](res.Values, agents.LastNode))

		cps := rawHistory(t, store, "counter")
		assert.Len(t, cps, before+2)
		checkpointtest.AssertTree(t, cps)

		old, err := cg.GetStateAt(ctx, afterFirst.Ref)
		require.NoError(t, err)
		assert.Equal(t, afterFirst.Values, old.Values)
	})
}

func TestPausedThreadSurvivesReopen(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "checkpoints.db")

	compile := func(store checkpoints.Store) *graph.CompiledGraph {
		cg, err := graph.NewGraph("review", schema()).
			AddNode("A", add("A", 1)).
			AddNode("B", add("B", 1)).
			AddEdge("A", "B").
			SetEntryPoint("A").
			Compile(graph.WithCheckpointStore(store), graph.WithInterruptBefore("B"))
		require.NoError(t, err)
		return cg
	}

	store, err := sqlite.Open(path)
	require.NoError(t, err)
	res, err := compile(store).Run(ctx, "t1", state.State{})
	require.NoError(t, err)
	require.Equal(t, graph.StatusInterrupted, res.Status)
	require.NoError(t, store.Close())

	store, err = sqlite.Open(path)
	require.NoError(t, err)
	defer store.Close()

	res, err = compile(store).Run(ctx, "t1", nil)
	require.NoError(t, err)
	assert.Equal(t, graph.StatusCompleted, res.Status)
	assert.Equal(t, 2, count(res.Values))
}

// resumeTogether resumes the paused thread t1 from two graphs at once. Node B waits
// until both runs have reached it, so both start from the same head.
func resumeTogether(t *testing.T, first, second checkpoints.Store) []error {
	t.Helper()
	ctx := context.Background()

	var (
		arrived atomic.Int32
		gate    = make(chan struct{})
	)
	b := func(context.Context, state.State) (state.State, error) {
		if arrived.Add(1) == 2 {
			close(gate)
		}
		select {
		case <-gate:
		case <-time.After(5 * time.Second):
		}
		return state.State{"count": 1, "visited": "B"}, nil
	}
	compile := func(store checkpoints.Store) *graph.CompiledGraph {
		cg, err := graph.NewGraph("review", schema()).
			AddNode("A", add("A", 1)).
			AddNode("B", b).
			AddEdge("A", "B").
			SetEntryPoint("A").
			Compile(graph.WithCheckpointStore(store), graph.WithInterruptBefore("B"))
		require.NoError(t, err)
		return cg
	}

	graphs := []*graph.CompiledGraph{compile(first), compile(second)}
	res, err := graphs[0].Run(ctx, "t1", state.State{})
	require.NoError(t, err)
	require.Equal(t, graph.StatusInterrupted, res.Status)

	errs := make([]error, len(graphs))
	var wg sync.WaitGroup
	for i, cg := range graphs {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, errs[i] = cg.Run(ctx, "t1", nil)
		}()
	}
	wg.Wait()
	return errs
}

func assertSingleResume(t *testing.T, store checkpoints.Store, errs []error) {
	t.Helper()
	failed := 0
	for _, err := range errs {
		if err != nil {
			failed++
			require.ErrorIs(t, err, checkpoints.ErrConflict)
			_, ok := graph.LastCheckpoint(err)
			assert.True(t, ok)
		}
	}
	assert.Equal(t, 1, failed, "exactly one resume wins")

	cps := rawHistory(t, store, "t1")
	checkpointtest.AssertTree(t, cps)
	var paused *checkpoints.Checkpoint
	for _, cp := range cps {
		if cp.Source == checkpoints.SourceInterrupt {
			paused = cp
		}
	}
	require.NotNil(t, paused)
	children := 0
	for _, cp := range cps {
		if cp.ParentID == paused.ID {
			children++
		}
	}
	assert.Equal(t, 1, children)

	latest, err := store.Latest(context.Background(), "t1")
	require.NoError(t, err)
	assert.True(t, latest.Terminal())
}

func TestConcurrentResumeDoesNotFork(t *testing.T) {
	t.Parallel()
	forEachStore(t, func(t *testing.T, store checkpoints.Store) {
		errs := resumeTogether(t, store, store)
		assertSingleResume(t, store, errs)
	})
}

func TestConcurrentResumeAcrossHandles(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "checkpoints.db")
	first, err := sqlite.Open(path)
	require.NoError(t, err)
	defer first.Close()
	second, err := sqlite.Open(path)
	require.NoError(t, err)
	defer second.Close()

	errs := resumeTogether(t, first, second)
	assertSingleResume(t, first, errs)
}
