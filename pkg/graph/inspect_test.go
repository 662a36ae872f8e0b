package graph

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/nigel-daniels/agents-langgraph/pkg/checkpoints"
	"github.com/nigel-daniels/agents-langgraph/pkg/checkpoints/checkpointtest"
	"github.com/nigel-daniels/agents-langgraph/pkg/state"
)

func TestUpdateState(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("keeps next without as node", func(t *testing.T) {
		t.Parallel()
		cg := linear(t, WithInterruptBefore("B"))
		res, err := cg.Run(ctx, "t1", state.State{})
		require.NoError(t, err)
		require.Equal(t, StatusInterrupted, res.Status)

		snap, err := cg.UpdateState(ctx, res.Checkpoint, state.State{"count": 10}, "")
		require.NoError(t, err)
		assert.Equal(t, checkpoints.SourceUpdate, snap.Source)
		assert.Equal(t, []string{NodeUpdate}, snap.Nodes)
		assert.Equal(t, []string{"B"}, snap.Next)
		assert.Equal(t, res.Checkpoint, snap.Parent)
		assert.Equal(t, 11, count(snap.Values))

		// The edit counts as approval of the pending node.
		res, err = cg.Run(ctx, "t1", nil)
		require.NoError(t, err)
		assert.Equal(t, StatusCompleted, res.Status)
		assert.Equal(t, 12, count(res.Values))
	})

	t.Run("as node skips its execution", func(t *testing.T) {
		t.Parallel()
		cg := linear(t, WithInterruptBefore("B"))
		res, err := cg.Run(ctx, "t1", state.State{})
		require.NoError(t, err)

		snap, err := cg.UpdateState(ctx, checkpoints.Ref{ThreadID: "t1"}, state.State{"trace": "synthetic"}, "B")
		require.NoError(t, err)
		assert.Equal(t, []string{"B"}, snap.Nodes)
		assert.True(t, snap.Terminal())
		assert.Equal(t, []string{"A", "synthetic"}, trace(snap.Values))
		assert.Equal(t, res.Checkpoint, snap.Parent)

		res, err = cg.Run(ctx, "t1", nil)
		require.NoError(t, err)
		assert.Zero(t, res.Steps)
		assert.Equal(t, 1, count(res.Values))
	})

	t.Run("routes from as node", func(t *testing.T) {
		t.Parallel()
		router := func(_ context.Context, st state.State) (string, error) {
			if state.Get[string](st, "status") == "again" {
				return "again", nil
			}
			return "stop", nil
		}
		cg, err := NewGraph("routed", counterSchema()).
			AddNode("A", add("A", 1)).
			AddConditionalEdge("A", router, map[string]string{"again": "A", "stop": END}).
			SetEntryPoint("A").
			Compile()
		require.NoError(t, err)
		_, err = cg.Run(ctx, "t1", state.State{})
		require.NoError(t, err)

		snap, err := cg.UpdateState(ctx, checkpoints.Ref{ThreadID: "t1"}, state.State{"status": "again"}, "A")
		require.NoError(t, err)
		assert.Equal(t, []string{"A"}, snap.Next)

		_, err = cg.UpdateState(ctx, checkpoints.Ref{ThreadID: "t1"}, state.State{}, "ghost")
		require.ErrorIs(t, err, ErrNodeNotFound)
	})

	t.Run("rejects bad input", func(t *testing.T) {
		t.Parallel()
		cg := linear(t)
		_, err := cg.UpdateState(ctx, checkpoints.Ref{ThreadID: "missing"}, state.State{"count": 1}, "")
		require.ErrorIs(t, err, checkpoints.ErrNotFound)

		_, err = cg.UpdateState(ctx, checkpoints.Ref{}, state.State{"count": 1}, "")
		require.Error(t, err)

		_, err = cg.Run(ctx, "t1", state.State{})
		require.NoError(t, err)
		_, err = cg.UpdateState(ctx, checkpoints.Ref{ThreadID: "t1"}, state.State{"nope": 1}, "")
		require.Error(t, err)
		assert.Len(t, history(t, cg, "t1"), 3)
	})
}

func TestUpdateStateIsWriteOnce(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := checkpoints.NewMemoryStore()
	cg := linear(t, WithCheckpointStore(store))

	_, err := cg.Run(ctx, "t1", state.State{"count": 0})
	require.NoError(t, err)
	hist := history(t, cg, "t1")
	require.Len(t, hist, 3)

	before := make(map[string]*checkpoints.Checkpoint)
	for _, snap := range hist {
		cp, err := store.Get(ctx, snap.Ref)
		require.NoError(t, err)
		before[cp.ID] = cp
	}

	// Edit the middle checkpoint: a new branch appears, nothing else changes.
	edited, err := cg.UpdateState(ctx, hist[1].Ref, state.State{"count": 100}, "")
	require.NoError(t, err)
	assert.Equal(t, hist[1].Ref, edited.Parent)

	for id, cp := range before {
		got, err := store.Get(ctx, checkpoints.Ref{ThreadID: "t1", CheckpointID: id})
		require.NoError(t, err)
		assert.Equal(t, cp, got)
	}

	all, err := store.List(ctx, "t1", checkpoints.ListOptions{})
	require.NoError(t, err)
	assert.Len(t, all, 4)
	checkpointtest.AssertTree(t, all)
}

func TestBranchIsolation(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := checkpoints.NewMemoryStore()
	cg := linear(t, WithCheckpointStore(store))

	first, err := cg.Run(ctx, "t1", state.State{"count": 0})
	require.NoError(t, err)
	original := history(t, cg, "t1")
	require.Len(t, original, 3)
	root := original[2]

	res, err := cg.Run(ctx, "t1", nil, WithCheckpointID(root.Ref.CheckpointID))
	require.NoError(t, err)
	assert.Equal(t, 2, count(res.Values))
	assert.NotEqual(t, first.Checkpoint, res.Checkpoint)

	// The new leaf descends from the root through its own checkpoints.
	leaf, err := cg.GetStateAt(ctx, res.Checkpoint)
	require.NoError(t, err)
	mid, err := cg.GetStateAt(ctx, leaf.Parent)
	require.NoError(t, err)
	assert.Equal(t, root.Ref, mid.Parent)
	assert.NotEqual(t, original[1].Ref, mid.Ref)

	for _, snap := range original {
		got, err := cg.GetStateAt(ctx, snap.Ref)
		require.NoError(t, err)
		assert.Equal(t, snap, got)
	}

	all, err := store.List(ctx, "t1", checkpoints.ListOptions{})
	require.NoError(t, err)
	assert.Len(t, all, 5)
	checkpointtest.AssertTree(t, all)
}

func TestGetHistoryIsRestartable(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	cg := linear(t)

	_, err := cg.Run(ctx, "t1", state.State{})
	require.NoError(t, err)

	seq := cg.GetHistory(ctx, "t1")
	var first []checkpoints.Ref
	for snap, err := range seq {
		require.NoError(t, err)
		first = append(first, snap.Ref)
		break
	}

	var refs []checkpoints.Ref
	for snap, err := range seq {
		require.NoError(t, err)
		refs = append(refs, snap.Ref)
	}
	require.Len(t, refs, 3)
	assert.Equal(t, first[0], refs[0])

	// New checkpoints show up on the next iteration.
	_, err = cg.Run(ctx, "t1", state.State{})
	require.NoError(t, err)
	refs = refs[:0]
	for snap, err := range seq {
		require.NoError(t, err)
		refs = append(refs, snap.Ref)
	}
	assert.Len(t, refs, 6)

	_, err = cg.GetState(ctx, "unknown")
	require.ErrorIs(t, err, checkpoints.ErrNotFound)
	assert.Empty(t, history(t, cg, "unknown"))
}

func TestStream(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("one event per checkpoint", func(t *testing.T) {
		t.Parallel()
		cg := linear(t, WithInterruptBefore("B"))

		var kinds []EventKind
		var refs []checkpoints.Ref
		for ev, err := range cg.Stream(ctx, "t1", state.State{}) {
			require.NoError(t, err)
			kinds = append(kinds, ev.Kind)
			refs = append(refs, ev.Checkpoint)
		}
		assert.Equal(t, []EventKind{EventInput, EventStep, EventInterrupt}, kinds)

		hist := history(t, cg, "t1")
		require.Len(t, hist, 3)
		for i, ref := range refs {
			assert.Equal(t, hist[len(hist)-1-i].Ref, ref)
		}
	})

	t.Run("stops when the consumer breaks", func(t *testing.T) {
		t.Parallel()
		cg := linear(t)

		for ev, err := range cg.Stream(ctx, "t1", state.State{}) {
			require.NoError(t, err)
			if ev.Kind == EventStep {
				break
			}
		}

		snap, err := cg.GetState(ctx, "t1")
		require.NoError(t, err)
		assert.Equal(t, []string{"B"}, snap.Next)
		assert.Len(t, history(t, cg, "t1"), 2)
		assert.Zero(t, cg.locks.size())
	})

	t.Run("yields the error last", func(t *testing.T) {
		t.Parallel()
		cg := linear(t)

		var events int
		var last error
		for _, err := range cg.Stream(ctx, "empty", nil) {
			events++
			last = err
		}
		assert.Equal(t, 1, events)
		require.ErrorIs(t, last, ErrNoCheckpoint)
	})
}

func TestRunSpans(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	cg := linear(t)
	thread := "traced-" + cg.ID()

	_, err := cg.Run(ctx, thread, state.State{})
	require.NoError(t, err)

	var run sdktrace.ReadOnlySpan
	for _, span := range spanRecorder.Ended() {
		if span.Name() != "graph.run" {
			continue
		}
		for _, kv := range span.Attributes() {
			if kv.Key == "graph.thread" && kv.Value.AsString() == thread {
				run = span
			}
		}
	}
	require.NotNil(t, run)
	assert.Contains(t, run.Attributes(), attribute.String("graph.status", string(StatusCompleted)))

	names := map[string]int{}
	for _, span := range spanRecorder.Ended() {
		if span.SpanContext().TraceID() == run.SpanContext().TraceID() {
			names[span.Name()]++
		}
	}
	assert.Equal(t, 2, names["graph.step"])
	assert.Equal(t, 1, names["execute_node A"])
	assert.Equal(t, 1, names["execute_node B"])
}

func TestNodeMetadataSpan(t *testing.T) {
	t.Parallel()

	cg, err := NewGraph("tagged", counterSchema()).
		AddNode("tagged", func(context.Context, state.State) (state.State, error) {
			return nil, nil
		}, WithMetadata(map[string]any{"team": "core", "tier": 2, "beta": true, "tags": []string{"x"}})).
		SetEntryPoint("tagged").
		Compile()
	require.NoError(t, err)
	_, err = cg.Run(context.Background(), "t1", state.State{})
	require.NoError(t, err)

	var found bool
	for _, span := range spanRecorder.Ended() {
		if span.Name() != "execute_node tagged" {
			continue
		}
		found = true
		attrs := span.Attributes()
		assert.Contains(t, attrs, attribute.String("graph.node.metadata.team", "core"))
		assert.Contains(t, attrs, attribute.Int("graph.node.metadata.tier", 2))
		assert.Contains(t, attrs, attribute.Bool("graph.node.metadata.beta", true))
		for _, kv := range attrs {
			assert.NotEqual(t, attribute.Key("graph.node.metadata.tags"), kv.Key)
		}
	}
	assert.True(t, found)
}

func TestVisualizer(t *testing.T) {
	t.Parallel()

	router := func(context.Context, state.State) (string, error) { return "done", nil }
	cg, err := NewGraph("viz", counterSchema()).
		AddNode("A", add("A", 1)).
		AddNode("B", add("B", 1)).
		AddEdge("A", "B").
		AddConditionalEdge("B", router, map[string]string{"retry": "A", "done": END}).
		SetEntryPoint("A").
		Compile(WithInterruptBefore("B"))
	require.NoError(t, err)

	info := cg.GetGraphInfo()
	assert.Equal(t, []EdgeInfo{
		{From: "A", To: "B"},
		{From: "B", To: END, Label: "done", Conditional: true},
		{From: "B", To: "A", Label: "retry", Conditional: true},
	}, info.Edges)

	var buf bytes.Buffer
	cg.PrintGraph(&buf)
	assert.Contains(t, buf.String(), "* A (Entry)")
	assert.Contains(t, buf.String(), "- B (Interrupt)")
	assert.Contains(t, buf.String(), "B --[retry]--> A")

	mermaid := cg.Mermaid()
	assert.Contains(t, mermaid, "__start__ --> A\n")
	assert.Contains(t, mermaid, "A --> B\n")
	assert.Contains(t, mermaid, "B -. done .-> __end__\n")
	assert.Contains(t, mermaid, "class B interrupt\n")
}

func TestThreadLocks(t *testing.T) {
	t.Parallel()

	locks := newThreadLocks()
	release, err := locks.acquire(context.Background(), "t1")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = locks.acquire(ctx, "t1")
	require.ErrorIs(t, err, context.DeadlineExceeded)

	other, err := locks.acquire(context.Background(), "t2")
	require.NoError(t, err)
	other()

	acquired := make(chan struct{})
	go func() {
		rel, err := locks.acquire(context.Background(), "t1")
		if err == nil {
			rel()
		}
		close(acquired)
	}()
	release()
	release()
	<-acquired
	assert.Zero(t, locks.size())
}
