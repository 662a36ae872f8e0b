package agents

import (
	"context"

	"github.com/nigel-daniels/agents-langgraph/internal/log"
	"github.com/nigel-daniels/agents-langgraph/pkg/channels"
	"github.com/nigel-daniels/agents-langgraph/pkg/graph"
	"github.com/nigel-daniels/agents-langgraph/pkg/state"
)

// Counter graph channels and nodes.
const (
	CountKey   = "count"
	LastNode   = "lnode"
	ScratchKey = "scratch"

	CounterNode1 = "Node1"
	CounterNode2 = "Node2"
)

// DefaultCounterLimit is the count at which the counter graph stops looping.
const DefaultCounterLimit = 3

// CounterSchema returns the channels of the counter graph.
func CounterSchema() *channels.Schema {
	return channels.MustSchema(
		channels.NewReplace[string](LastNode, ""),
		channels.NewReplace[string](ScratchKey, ""),
		channels.NewAccumulate[int](CountKey, 0),
	)
}

func counterStep(name, label string) *BaseAgent {
	return NewSimpleAgent(name, func(ctx context.Context, st state.State) (state.State, error) {
		log.Debugf("%s, count: %d", name, state.Get[int](st, CountKey))
		return state.State{LastNode: label, CountKey: 1}, nil
	}, map[string]any{"kind": "counter"})
}

// NewCounter compiles Node1 -> Node2 with Node2 looping back to Node1 while count
// is below limit.
func NewCounter(limit int, opts ...graph.CompilationOption) (*graph.CompiledGraph, error) {
	if limit <= 0 {
		limit = DefaultCounterLimit
	}
	shouldContinue := func(_ context.Context, st state.State) (string, error) {
		if state.Get[int](st, CountKey) < limit {
			return "retry", nil
		}
		return "done", nil
	}

	g := graph.NewGraph("counter", CounterSchema())
	AddAgent(g, counterStep(CounterNode1, "node_1"))
	AddAgent(g, counterStep(CounterNode2, "node_2"))
	g.AddEdge(CounterNode1, CounterNode2).
		AddConditionalEdge(CounterNode2, shouldContinue, map[string]string{
			"retry": CounterNode1,
			"done":  graph.END,
		}).
		SetEntryPoint(CounterNode1)
	return g.Compile(opts...)
}
