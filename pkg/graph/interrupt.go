package graph

import (
	"context"
	"slices"

	"github.com/nigel-daniels/agents-langgraph/internal/log"
	"github.com/nigel-daniels/agents-langgraph/pkg/checkpoints"
	"github.com/nigel-daniels/agents-langgraph/pkg/state"
)

// interruptTarget returns the first pending node the graph pauses before.
func (cg *CompiledGraph) interruptTarget(next []string) (string, bool) {
	for _, name := range next {
		if cg.interruptBefore[name] {
			return name, true
		}
	}
	return "", false
}

// pause records an interrupt checkpoint. It carries the values and pending nodes
// of current unchanged, so resuming from it runs exactly what was paused.
func (cg *CompiledGraph) pause(ctx context.Context, current *checkpoints.Checkpoint, head int64, node string, values state.State, steps int, emit func(Event) bool) (*Result, error) {
	stored, err := cg.persist(ctx, &checkpoints.Checkpoint{
		ThreadID: current.ThreadID,
		ParentID: current.ID,
		Step:     current.Step,
		Source:   checkpoints.SourceInterrupt,
		Nodes:    []string{NodeInterrupt},
		Next:     slices.Clone(current.Next),
		Values:   current.Values,

		ExpectedSeq: head,
	}, current.Ref())
	if err != nil {
		return nil, err
	}
	interruptsTotal.WithLabelValues(node).Inc()
	log.Infow("run interrupted", "graph", cg.id, "thread", current.ThreadID, "before", node, "checkpoint", stored.ID)

	if !emit(Event{
		Kind:       EventInterrupt,
		Step:       stored.Step,
		Nodes:      []string{NodeInterrupt},
		Values:     values.Clone(),
		Next:       slices.Clone(stored.Next),
		Checkpoint: stored.Ref(),
	}) {
		return nil, errStopped
	}

	return &Result{
		Status:     StatusInterrupted,
		Values:     values,
		Next:       slices.Clone(stored.Next),
		Interrupt:  node,
		Checkpoint: stored.Ref(),
		Steps:      steps,
	}, nil
}
