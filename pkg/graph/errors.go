package graph

import (
	"fmt"

	"github.com/pkg/errors"

	"github.com/nigel-daniels/agents-langgraph/pkg/checkpoints"
)

var (
	// ErrDuplicateNode is returned when two nodes share a name
	ErrDuplicateNode = errors.New("node with this name already exists")

	// ErrNodeNotFound is returned when referencing a node that was never declared
	ErrNodeNotFound = errors.New("node not found")

	// ErrNoEntryPoint is returned when compiling a graph without an entry point
	ErrNoEntryPoint = errors.New("graph must have an entry point")

	// ErrUnmappedLabel is returned when a router label has no target
	ErrUnmappedLabel = errors.New("router label has no mapped target")

	// ErrReservedName is returned when a reserved name is misused
	ErrReservedName = errors.New("reserved node name")

	// ErrInvalidNode is returned for nodes or routers without a function
	ErrInvalidNode = errors.New("invalid node")

	// ErrNoCheckpoint is returned when resuming a thread that has no checkpoint
	ErrNoCheckpoint = errors.New("thread has no checkpoint to resume from")

	// ErrStepLimit is returned when a run exceeds the configured number of steps
	ErrStepLimit = errors.New("step limit reached")

	// ErrConflict is returned when concurrent nodes write the same value and the
	// graph was compiled with ErrorOnConflict
	ErrConflict = errors.New("concurrent nodes wrote the same value")
)

// DefinitionError is returned by Compile. Nothing is compiled when it occurs.
type DefinitionError struct {
	// Op is the declaration that failed
	Op string
	// Node is the node involved (if any)
	Node string
	// Err is the underlying error
	Err error
}

func (e *DefinitionError) Error() string {
	if e.Node != "" {
		return fmt.Sprintf("graph definition: %s: node '%s': %v", e.Op, e.Node, e.Err)
	}
	return fmt.Sprintf("graph definition: %s: %v", e.Op, e.Err)
}

func (e *DefinitionError) Unwrap() error {
	return e.Err
}

// NewDefinitionError creates a new DefinitionError
func NewDefinitionError(op string, node string, err error) error {
	return &DefinitionError{Op: op, Node: node, Err: err}
}

// NodeExecutionError reports a node that failed after all its attempts, or whose
// update could not be merged. No checkpoint was written for the step.
type NodeExecutionError struct {
	Node     string
	Attempts int
	Err      error
	// Checkpoint is the last good checkpoint of the thread
	Checkpoint checkpoints.Ref
}

func (e *NodeExecutionError) Error() string {
	return fmt.Sprintf("node '%s' failed after %d attempt(s): %v (resume from %s)",
		e.Node, e.Attempts, e.Err, e.Checkpoint)
}

func (e *NodeExecutionError) Unwrap() error {
	return e.Err
}

func (e *NodeExecutionError) LastCheckpoint() checkpoints.Ref {
	return e.Checkpoint
}

// RoutingError reports a router that failed or produced an unmapped label.
type RoutingError struct {
	Node       string
	Label      string
	Err        error
	Checkpoint checkpoints.Ref
}

func (e *RoutingError) Error() string {
	if e.Label != "" {
		return fmt.Sprintf("routing from '%s': label '%s': %v (resume from %s)", e.Node, e.Label, e.Err, e.Checkpoint)
	}
	return fmt.Sprintf("routing from '%s': %v (resume from %s)", e.Node, e.Err, e.Checkpoint)
}

func (e *RoutingError) Unwrap() error {
	return e.Err
}

func (e *RoutingError) LastCheckpoint() checkpoints.Ref {
	return e.Checkpoint
}

// PersistenceError reports a checkpoint store failure.
type PersistenceError struct {
	Op         string
	Err        error
	Checkpoint checkpoints.Ref
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persistence: %s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}

func (e *PersistenceError) LastCheckpoint() checkpoints.Ref {
	return e.Checkpoint
}

// ExecutionError reports a run stopped by the engine itself: cancellation, the
// step limit or a write conflict.
type ExecutionError struct {
	// Phase is the execution phase where the error occurred
	Phase      string
	Err        error
	Checkpoint checkpoints.Ref
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("execution error: %s: %v", e.Phase, e.Err)
}

func (e *ExecutionError) Unwrap() error {
	return e.Err
}

func (e *ExecutionError) LastCheckpoint() checkpoints.Ref {
	return e.Checkpoint
}

// LastCheckpoint returns the checkpoint a failed run can be resumed from.
func LastCheckpoint(err error) (checkpoints.Ref, bool) {
	var withRef interface{ LastCheckpoint() checkpoints.Ref }
	if !errors.As(err, &withRef) {
		return checkpoints.Ref{}, false
	}
	ref := withRef.LastCheckpoint()
	return ref, !ref.IsZero()
}
