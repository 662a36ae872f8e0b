// Package graph builds and runs state graphs whose state is checkpointed after
// every step.
//
// A Graph is a list of declarations: nodes, static edges, conditional edges and an
// entry point. Compile validates the declarations once and returns an immutable
// CompiledGraph that can run, stream, inspect and edit threads of execution.
package graph

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/nigel-daniels/agents-langgraph/pkg/channels"
	"github.com/nigel-daniels/agents-langgraph/pkg/state"
)

// END is the terminal target. Routing to END yields no next node.
const (
	END              = "__end__"
	defaultGraphName = "graph"
)

// NodeFunc computes a partial state update from a state snapshot. It must not
// retain or modify the snapshot.
type NodeFunc func(ctx context.Context, st state.State) (state.State, error)

// RouterFunc picks the label of the next node from the merged state.
type RouterFunc func(ctx context.Context, st state.State) (string, error)

// NodeSpec represents a node's specification
type NodeSpec struct {
	Name        string
	Function    NodeFunc
	RetryPolicy *RetryPolicy
	// Timeout bounds a single attempt. Zero means no limit.
	Timeout  time.Duration
	Metadata map[string]any
}

// RetryPolicy defines how a node should handle failures
type RetryPolicy struct {
	MaxAttempts int
	Delay       time.Duration
}

// Edge is a static connection between nodes
type Edge struct {
	From string
	To   string
}

// Branch is a conditional edge: Router picks a label and Routes maps it to a node
// or END.
type Branch struct {
	From   string
	Router RouterFunc
	Routes map[string]string
}

// Graph collects declarations until Compile.
type Graph struct {
	graphID    string
	schema     *channels.Schema
	nodes      []NodeSpec
	edges      []Edge
	branches   []Branch
	entryPoint string
}

type Option func(*Graph)

// WithGraphID overrides the generated graph ID.
func WithGraphID(id string) Option {
	return func(g *Graph) {
		g.graphID = id
	}
}

// NewGraph creates a new graph over the channels of schema
func NewGraph(name string, schema *channels.Schema, opt ...Option) *Graph {
	graphName := defaultGraphName
	if name != "" {
		graphName = strings.ReplaceAll(name, " ", "-")
	}

	g := &Graph{schema: schema}
	for _, o := range opt {
		o(g)
	}
	if g.graphID == "" {
		g.graphID = fmt.Sprintf("%s-%s", graphName, uuid.New().String())
	}
	return g
}

// AddNode declares a node. Declaration order decides merge order when several
// nodes run in the same step.
func (g *Graph) AddNode(name string, fn NodeFunc, opts ...NodeOption) *Graph {
	spec := NodeSpec{Name: name, Function: fn}
	for _, o := range opts {
		o(&spec)
	}
	g.nodes = append(g.nodes, spec)
	return g
}

// AddEdge declares a static edge. to may be END.
func (g *Graph) AddEdge(from, to string) *Graph {
	g.edges = append(g.edges, Edge{From: from, To: to})
	return g
}

// AddConditionalEdge declares a router on from. Every label the router can return
// must be a key of routes; targets are node names or END.
func (g *Graph) AddConditionalEdge(from string, router RouterFunc, routes map[string]string) *Graph {
	copied := make(map[string]string, len(routes))
	for label, target := range routes {
		copied[label] = target
	}
	g.branches = append(g.branches, Branch{From: from, Router: router, Routes: copied})
	return g
}

// SetEntryPoint sets the first node of every run started with input.
func (g *Graph) SetEntryPoint(name string) *Graph {
	g.entryPoint = name
	return g
}
