package graph

import (
	"github.com/nigel-daniels/agents-langgraph/pkg/checkpoints"
)

const defaultMaxSteps = 25

// ConflictPolicy decides what happens when nodes running in the same step write the
// same replace channel or the same upsert identity.
type ConflictPolicy int

const (
	// LastWriteWins keeps the update of the node declared last.
	LastWriteWins ConflictPolicy = iota
	// ErrorOnConflict fails the step with ErrConflict.
	ErrorOnConflict
)

type compileConfig struct {
	store           checkpoints.Store
	interruptBefore []string
	maxSteps        int
	conflicts       ConflictPolicy
	debug           bool
}

type CompilationOption func(*compileConfig)

// WithCheckpointStore sets the store for state persistence. The default is an
// in-memory store private to the compiled graph.
func WithCheckpointStore(store checkpoints.Store) CompilationOption {
	return func(c *compileConfig) {
		c.store = store
	}
}

// WithInterruptBefore pauses runs before any of the given nodes executes.
func WithInterruptBefore(nodes ...string) CompilationOption {
	return func(c *compileConfig) {
		c.interruptBefore = append(c.interruptBefore, nodes...)
	}
}

// WithMaxSteps sets the maximum number of steps a single run may execute
func WithMaxSteps(steps int) CompilationOption {
	return func(c *compileConfig) {
		c.maxSteps = steps
	}
}

func WithConflictPolicy(policy ConflictPolicy) CompilationOption {
	return func(c *compileConfig) {
		c.conflicts = policy
	}
}

// WithDebug enables step level tracing in the logs
func WithDebug() CompilationOption {
	return func(c *compileConfig) {
		c.debug = true
	}
}

type executionConfig struct {
	checkpointID string
	maxSteps     int
	configurable map[string]any
}

type ExecutionOption func(*executionConfig)

// WithCheckpointID starts the run from a specific checkpoint instead of the latest.
// Resuming from an older checkpoint creates a new branch of the thread.
func WithCheckpointID(id string) ExecutionOption {
	return func(c *executionConfig) {
		c.checkpointID = id
	}
}

// WithStepLimit overrides the compiled step limit for one run.
func WithStepLimit(steps int) ExecutionOption {
	return func(c *executionConfig) {
		c.maxSteps = steps
	}
}

// WithConfigurable passes values to node functions through RunInfo.
func WithConfigurable(config map[string]any) ExecutionOption {
	return func(c *executionConfig) {
		c.configurable = config
	}
}
