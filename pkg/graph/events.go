package graph

import (
	"github.com/nigel-daniels/agents-langgraph/pkg/checkpoints"
	"github.com/nigel-daniels/agents-langgraph/pkg/state"
)

// Pseudo node names recorded on checkpoints not written by a step.
const (
	NodeInput     = "__input__"
	NodeUpdate    = "__update__"
	NodeInterrupt = "__interrupt__"
)

type EventKind string

const (
	// EventInput is emitted once the input of a run has been checkpointed.
	EventInput EventKind = "input"
	// EventStep is emitted after every completed step.
	EventStep EventKind = "step"
	// EventInterrupt is emitted when a run pauses before a node.
	EventInterrupt EventKind = "interrupt"
)

// Event is one item of a stream. Every event corresponds to exactly one new
// checkpoint.
type Event struct {
	Kind EventKind
	Step int
	// Nodes are the nodes that ran in the step
	Nodes []string
	// Updates holds the partial update of each node, keyed by node name
	Updates map[string]state.State
	// Values is the merged state after the step
	Values     state.State
	Next       []string
	Checkpoint checkpoints.Ref
}

type Status string

const (
	StatusCompleted   Status = "completed"
	StatusInterrupted Status = "interrupted"
)

// Result is the outcome of Run.
type Result struct {
	Status Status
	Values state.State
	// Next holds the pending nodes of an interrupted run
	Next []string
	// Interrupt is the node the run paused before
	Interrupt  string
	Checkpoint checkpoints.Ref
	// Steps counts the steps executed by this run
	Steps int
}
