package graph

import (
	"context"
	"iter"

	"github.com/nigel-daniels/agents-langgraph/pkg/state"
)

// Stream runs the thread like Run and yields one event per checkpoint written. A
// failure is yielded last with a zero Event. Breaking out of the loop stops the run
// after the current step; that step's checkpoint is still written.
func (cg *CompiledGraph) Stream(ctx context.Context, threadID string, input state.State, opts ...ExecutionOption) iter.Seq2[Event, error] {
	cfg := cg.executionConfig(opts)
	return func(yield func(Event, error) bool) {
		stopped := false
		_, err := cg.execute(ctx, threadID, input, cfg, func(ev Event) bool {
			if !yield(ev, nil) {
				stopped = true
				return false
			}
			return true
		})
		if err != nil && !stopped {
			yield(Event{}, err)
		}
	}
}
