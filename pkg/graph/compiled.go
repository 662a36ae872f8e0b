package graph

import (
	"slices"

	"github.com/pkg/errors"

	"github.com/nigel-daniels/agents-langgraph/internal/log"
	"github.com/nigel-daniels/agents-langgraph/pkg/channels"
	"github.com/nigel-daniels/agents-langgraph/pkg/checkpoints"
)

// ErrNoSchema is returned when compiling a graph without a channel schema
var ErrNoSchema = errors.New("graph requires a channel schema")

// CompiledGraph is the immutable, executable form of a Graph. It is safe for
// concurrent use; runs on the same thread are serialized.
type CompiledGraph struct {
	id         string
	schema     *channels.Schema
	nodes      []NodeSpec
	index      map[string]int
	edges      map[string][]string
	branches   map[string][]Branch
	entryPoint string

	interruptBefore map[string]bool
	store           checkpoints.Store
	maxSteps        int
	conflicts       ConflictPolicy
	debug           bool

	locks *threadLocks
}

// Compile validates the declarations and freezes the topology. No node function
// is called. Violations are reported as a *DefinitionError.
func (g *Graph) Compile(opts ...CompilationOption) (*CompiledGraph, error) {
	cfg := compileConfig{maxSteps: defaultMaxSteps}
	for _, o := range opts {
		o(&cfg)
	}

	if g.schema == nil {
		return nil, NewDefinitionError("schema", "", ErrNoSchema)
	}

	index := make(map[string]int, len(g.nodes))
	for i, n := range g.nodes {
		switch {
		case n.Name == "":
			return nil, NewDefinitionError("add node", "", errors.Wrap(ErrInvalidNode, "empty name"))
		case n.Name == END || n.Name == NodeInput || n.Name == NodeUpdate || n.Name == NodeInterrupt:
			return nil, NewDefinitionError("add node", n.Name, ErrReservedName)
		case n.Function == nil:
			return nil, NewDefinitionError("add node", n.Name, errors.Wrap(ErrInvalidNode, "nil function"))
		}
		if _, exists := index[n.Name]; exists {
			return nil, NewDefinitionError("add node", n.Name, ErrDuplicateNode)
		}
		index[n.Name] = i
	}

	declared := func(name string) bool {
		_, ok := index[name]
		return ok
	}

	edges := make(map[string][]string)
	for _, e := range g.edges {
		if e.From == END {
			return nil, NewDefinitionError("add edge", e.From, errors.Wrap(ErrReservedName, "edge from END"))
		}
		if !declared(e.From) {
			return nil, NewDefinitionError("add edge", e.From, ErrNodeNotFound)
		}
		if e.To != END && !declared(e.To) {
			return nil, NewDefinitionError("add edge", e.To, ErrNodeNotFound)
		}
		if !slices.Contains(edges[e.From], e.To) {
			edges[e.From] = append(edges[e.From], e.To)
		}
	}

	branches := make(map[string][]Branch)
	for _, b := range g.branches {
		if !declared(b.From) {
			return nil, NewDefinitionError("add conditional edge", b.From, ErrNodeNotFound)
		}
		if b.Router == nil {
			return nil, NewDefinitionError("add conditional edge", b.From, errors.Wrap(ErrInvalidNode, "nil router"))
		}
		if len(b.Routes) == 0 {
			return nil, NewDefinitionError("add conditional edge", b.From, errors.Wrap(ErrUnmappedLabel, "no routes"))
		}
		for label, target := range b.Routes {
			if target != END && !declared(target) {
				return nil, NewDefinitionError("add conditional edge", b.From,
					errors.Wrapf(ErrUnmappedLabel, "label %q targets undeclared node %q", label, target))
			}
		}
		branches[b.From] = append(branches[b.From], b)
	}

	if g.entryPoint == "" {
		return nil, NewDefinitionError("entry point", "", ErrNoEntryPoint)
	}
	if !declared(g.entryPoint) {
		return nil, NewDefinitionError("entry point", g.entryPoint, ErrNodeNotFound)
	}

	interrupts := make(map[string]bool, len(cfg.interruptBefore))
	for _, name := range cfg.interruptBefore {
		if !declared(name) {
			return nil, NewDefinitionError("interrupt before", name, ErrNodeNotFound)
		}
		interrupts[name] = true
	}

	store := cfg.store
	if store == nil {
		store = checkpoints.NewMemoryStore()
	}

	cg := &CompiledGraph{
		id:              g.graphID,
		schema:          g.schema,
		nodes:           slices.Clone(g.nodes),
		index:           index,
		edges:           edges,
		branches:        branches,
		entryPoint:      g.entryPoint,
		interruptBefore: interrupts,
		store:           checkpoints.Instrument(store),
		maxSteps:        cfg.maxSteps,
		conflicts:       cfg.conflicts,
		debug:           cfg.debug,
		locks:           newThreadLocks(),
	}
	log.Debugw("graph compiled", "graph", cg.id, "nodes", cg.Nodes(), "entry", cg.entryPoint)
	return cg, nil
}

func (cg *CompiledGraph) ID() string {
	return cg.id
}

// Nodes returns the node names in declaration order.
func (cg *CompiledGraph) Nodes() []string {
	names := make([]string, len(cg.nodes))
	for i, n := range cg.nodes {
		names[i] = n.Name
	}
	return names
}

func (cg *CompiledGraph) Schema() *channels.Schema {
	return cg.schema
}

func (cg *CompiledGraph) EntryPoint() string {
	return cg.entryPoint
}

// InterruptBefore returns the nodes runs pause before, in declaration order.
func (cg *CompiledGraph) InterruptBefore() []string {
	var out []string
	for _, n := range cg.nodes {
		if cg.interruptBefore[n.Name] {
			out = append(out, n.Name)
		}
	}
	return out
}

// Store returns the checkpoint store of the graph.
func (cg *CompiledGraph) Store() checkpoints.Store {
	return cg.store
}

func (cg *CompiledGraph) node(name string) (NodeSpec, bool) {
	i, ok := cg.index[name]
	if !ok {
		return NodeSpec{}, false
	}
	return cg.nodes[i], true
}

// sortByDeclaration orders node names the way they were declared.
func (cg *CompiledGraph) sortByDeclaration(names []string) {
	slices.SortStableFunc(names, func(a, b string) int {
		return cg.index[a] - cg.index[b]
	})
}

func (cg *CompiledGraph) logDebug(format string, args ...any) {
	if cg.debug {
		log.Debugf("[%s] "+format, append([]any{cg.id}, args...)...)
	}
}
