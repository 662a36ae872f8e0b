// Package agents contains graphs built on pkg/graph: a practice counter, a tool using
// research agent with human approval and an essay writer. ReActLoop is the same idea
// as the research agent written as a plain loop.
package agents

import (
	"context"

	"github.com/nigel-daniels/agents-langgraph/pkg/graph"
	"github.com/nigel-daniels/agents-langgraph/pkg/state"
)

// Agent is a named unit of work that can be added to a graph as a node.
type Agent interface {
	Name() string
	Execute(ctx context.Context, st state.State) (state.State, error)
	Metadata() map[string]any
}

// BaseAgent is a straightforward in-process function agent.
type BaseAgent struct {
	name     string
	fn       graph.NodeFunc
	metadata map[string]any
}

// NewSimpleAgent helper to create an inline agent
func NewSimpleAgent(name string, fn graph.NodeFunc, meta map[string]any) *BaseAgent {
	return &BaseAgent{name: name, fn: fn, metadata: meta}
}

func (a *BaseAgent) Name() string {
	return a.name
}

func (a *BaseAgent) Execute(ctx context.Context, st state.State) (state.State, error) {
	return a.fn(ctx, st)
}

func (a *BaseAgent) Metadata() map[string]any {
	return a.metadata
}

// AddAgent declares a as a node of g.
func AddAgent(g *graph.Graph, a Agent, opts ...graph.NodeOption) *graph.Graph {
	if meta := a.Metadata(); meta != nil {
		opts = append(opts, graph.WithMetadata(meta))
	}
	return g.AddNode(a.Name(), a.Execute, opts...)
}
