package graph

import (
	"context"
	"os"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/nigel-daniels/agents-langgraph/pkg/channels"
	"github.com/nigel-daniels/agents-langgraph/pkg/checkpoints"
	"github.com/nigel-daniels/agents-langgraph/pkg/state"
)

var spanRecorder = tracetest.NewSpanRecorder()

func TestMain(m *testing.M) {
	otel.SetTracerProvider(sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(spanRecorder)))
	os.Exit(m.Run())
}

//----------------//
// Test fixtures  //
//----------------//

func counterSchema() *channels.Schema {
	return channels.MustSchema(
		channels.NewAccumulate[int]("count", 0),
		channels.NewAppend[string]("trace"),
		channels.NewReplace[string]("status", ""),
	)
}

// add returns a node that adds n to count and records its name.
func add(name string, n int) NodeFunc {
	return func(context.Context, state.State) (state.State, error) {
		return state.State{"count": n, "trace": name}, nil
	}
}

// counting wraps fn and counts its invocations.
func counting(calls *atomic.Int32, fn NodeFunc) NodeFunc {
	return func(ctx context.Context, st state.State) (state.State, error) {
		calls.Add(1)
		return fn(ctx, st)
	}
}

func linear(t *testing.T, opts ...CompilationOption) *CompiledGraph {
	t.Helper()
	g := NewGraph("linear", counterSchema()).
		AddNode("A", add("A", 1)).
		AddNode("B", add("B", 1)).
		AddEdge("A", "B").
		AddEdge("B", END).
		SetEntryPoint("A")
	cg, err := g.Compile(opts...)
	require.NoError(t, err)
	return cg
}

func history(t *testing.T, cg *CompiledGraph, threadID string) []*Snapshot {
	t.Helper()
	var out []*Snapshot
	for snap, err := range cg.GetHistory(context.Background(), threadID) {
		require.NoError(t, err)
		out = append(out, snap)
	}
	return out
}

func count(st state.State) int {
	return state.Get[int](st, "count")
}

func trace(st state.State) []string {
	return state.Get[[]string](st, "trace")
}

//----------------//
// Compile        //
//----------------//

func TestCompile(t *testing.T) {
	t.Parallel()

	noop := add("noop", 0)
	router := func(context.Context, state.State) (string, error) { return "x", nil }

	tests := []struct {
		name  string
		build func() *Graph
		opts  []CompilationOption
		want  error
	}{
		{
			name: "valid graph",
			build: func() *Graph {
				return NewGraph("ok", counterSchema()).
					AddNode("A", noop).
					AddNode("B", noop).
					AddEdge("A", "B").
					AddConditionalEdge("B", router, map[string]string{"x": END, "y": "A"}).
					SetEntryPoint("A")
			},
			opts: []CompilationOption{WithInterruptBefore("B")},
		},
		{
			name: "missing schema",
			build: func() *Graph {
				return NewGraph("x", nil).AddNode("A", noop).SetEntryPoint("A")
			},
			want: ErrNoSchema,
		},
		{
			name: "empty node name",
			build: func() *Graph {
				return NewGraph("x", counterSchema()).AddNode("", noop).SetEntryPoint("A")
			},
			want: ErrInvalidNode,
		},
		{
			name: "reserved node name",
			build: func() *Graph {
				return NewGraph("x", counterSchema()).AddNode(END, noop).SetEntryPoint(END)
			},
			want: ErrReservedName,
		},
		{
			name: "nil node function",
			build: func() *Graph {
				return NewGraph("x", counterSchema()).AddNode("A", nil).SetEntryPoint("A")
			},
			want: ErrInvalidNode,
		},
		{
			name: "duplicate node",
			build: func() *Graph {
				return NewGraph("x", counterSchema()).AddNode("A", noop).AddNode("A", noop).SetEntryPoint("A")
			},
			want: ErrDuplicateNode,
		},
		{
			name: "edge from END",
			build: func() *Graph {
				return NewGraph("x", counterSchema()).AddNode("A", noop).AddEdge(END, "A").SetEntryPoint("A")
			},
			want: ErrReservedName,
		},
		{
			name: "edge to undeclared node",
			build: func() *Graph {
				return NewGraph("x", counterSchema()).AddNode("A", noop).AddEdge("A", "ghost").SetEntryPoint("A")
			},
			want: ErrNodeNotFound,
		},
		{
			name: "edge from undeclared node",
			build: func() *Graph {
				return NewGraph("x", counterSchema()).AddNode("A", noop).AddEdge("ghost", "A").SetEntryPoint("A")
			},
			want: ErrNodeNotFound,
		},
		{
			name: "nil router",
			build: func() *Graph {
				return NewGraph("x", counterSchema()).AddNode("A", noop).
					AddConditionalEdge("A", nil, map[string]string{"x": END}).SetEntryPoint("A")
			},
			want: ErrInvalidNode,
		},
		{
			name: "router without routes",
			build: func() *Graph {
				return NewGraph("x", counterSchema()).AddNode("A", noop).
					AddConditionalEdge("A", router, nil).SetEntryPoint("A")
			},
			want: ErrUnmappedLabel,
		},
		{
			name: "route to undeclared node",
			build: func() *Graph {
				return NewGraph("x", counterSchema()).AddNode("A", noop).
					AddConditionalEdge("A", router, map[string]string{"x": "ghost"}).SetEntryPoint("A")
			},
			want: ErrUnmappedLabel,
		},
		{
			name: "router on undeclared node",
			build: func() *Graph {
				return NewGraph("x", counterSchema()).AddNode("A", noop).
					AddConditionalEdge("ghost", router, map[string]string{"x": END}).SetEntryPoint("A")
			},
			want: ErrNodeNotFound,
		},
		{
			name: "missing entry point",
			build: func() *Graph {
				return NewGraph("x", counterSchema()).AddNode("A", noop)
			},
			want: ErrNoEntryPoint,
		},
		{
			name: "undeclared entry point",
			build: func() *Graph {
				return NewGraph("x", counterSchema()).AddNode("A", noop).SetEntryPoint("B")
			},
			want: ErrNodeNotFound,
		},
		{
			name: "interrupt before undeclared node",
			build: func() *Graph {
				return NewGraph("x", counterSchema()).AddNode("A", noop).SetEntryPoint("A")
			},
			opts: []CompilationOption{WithInterruptBefore("ghost")},
			want: ErrNodeNotFound,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cg, err := tt.build().Compile(tt.opts...)
			if tt.want == nil {
				require.NoError(t, err)
				require.NotNil(t, cg)
				return
			}
			require.ErrorIs(t, err, tt.want)
			var defErr *DefinitionError
			require.ErrorAs(t, err, &defErr)
			assert.Nil(t, cg)
		})
	}
}

func TestCompileDoesNotRunNodes(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	cg, err := NewGraph("lazy", counterSchema()).
		AddNode("A", counting(&calls, add("A", 1))).
		SetEntryPoint("A").
		Compile(WithInterruptBefore("A"))
	require.NoError(t, err)

	assert.Equal(t, int32(0), calls.Load())
	assert.Equal(t, []string{"A"}, cg.Nodes())
	assert.Equal(t, []string{"A"}, cg.InterruptBefore())
	assert.Equal(t, "A", cg.EntryPoint())
	assert.Contains(t, cg.ID(), "lazy-")
}

func TestNewGraphID(t *testing.T) {
	t.Parallel()

	g := NewGraph("my graph", counterSchema())
	assert.Contains(t, g.graphID, "my-graph-")

	g = NewGraph("", counterSchema(), WithGraphID("fixed"))
	assert.Equal(t, "fixed", g.graphID)
}

func TestLastCheckpoint(t *testing.T) {
	t.Parallel()

	ref := checkpoints.Ref{ThreadID: "t", CheckpointID: "c"}
	for _, err := range []error{
		&NodeExecutionError{Node: "A", Err: assert.AnError, Checkpoint: ref},
		&RoutingError{Node: "A", Err: ErrUnmappedLabel, Checkpoint: ref},
		&PersistenceError{Op: "append", Err: assert.AnError, Checkpoint: ref},
		&ExecutionError{Phase: "step", Err: assert.AnError, Checkpoint: ref},
	} {
		got, ok := LastCheckpoint(err)
		assert.True(t, ok, "%T", err)
		assert.Equal(t, ref, got)
	}

	_, ok := LastCheckpoint(assert.AnError)
	assert.False(t, ok)
	_, ok = LastCheckpoint(&PersistenceError{Op: "load", Err: assert.AnError})
	assert.False(t, ok)
}
