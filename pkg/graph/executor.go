package graph

import (
	"context"
	"slices"

	"github.com/pkg/errors"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/nigel-daniels/agents-langgraph/pkg/channels"
	"github.com/nigel-daniels/agents-langgraph/pkg/checkpoints"
	"github.com/nigel-daniels/agents-langgraph/pkg/state"
)

// errStopped unwinds a run whose stream consumer stopped reading.
var errStopped = errors.New("stream consumer stopped")

// Run executes the thread until it completes or pauses. A non-nil input starts a
// new turn from the entry point; a nil input resumes from the latest checkpoint, or
// the one selected with WithCheckpointID.
func (cg *CompiledGraph) Run(ctx context.Context, threadID string, input state.State, opts ...ExecutionOption) (*Result, error) {
	return cg.execute(ctx, threadID, input, cg.executionConfig(opts), func(Event) bool { return true })
}

func (cg *CompiledGraph) executionConfig(opts []ExecutionOption) executionConfig {
	cfg := executionConfig{maxSteps: cg.maxSteps}
	for _, o := range opts {
		o(&cfg)
	}
	return cfg
}

func (cg *CompiledGraph) execute(ctx context.Context, threadID string, input state.State, cfg executionConfig, emit func(Event) bool) (*Result, error) {
	ctx, span := tracer.Start(ctx, "graph.run", trace.WithAttributes(
		attribute.String("graph.id", cg.id),
		attribute.String("graph.thread", threadID),
		attribute.Bool("graph.resume", input == nil),
	))
	defer span.End()

	res, err := cg.runThread(ctx, threadID, input, cfg, emit)
	switch {
	case err == nil:
		span.SetAttributes(attribute.String("graph.status", string(res.Status)), attribute.Int("graph.steps", res.Steps))
	case errors.Is(err, errStopped):
		span.SetAttributes(attribute.String("graph.status", "stopped"))
	default:
		span.RecordError(err)
		span.SetStatus(codes.Error, "run failed")
	}
	return res, err
}

func (cg *CompiledGraph) runThread(ctx context.Context, threadID string, input state.State, cfg executionConfig, emit func(Event) bool) (*Result, error) {
	if threadID == "" {
		return nil, &ExecutionError{Phase: "start", Err: errors.Wrap(checkpoints.ErrInvalidCheckpoint, "thread id is required")}
	}

	release, err := cg.locks.acquire(ctx, threadID)
	if err != nil {
		return nil, &ExecutionError{Phase: "start", Err: err}
	}
	defer release()

	base, head, err := cg.loadBase(ctx, threadID, cfg.checkpointID)
	if err != nil {
		return nil, err
	}

	current := base
	resumed := input == nil
	if resumed {
		if base == nil {
			return nil, &ExecutionError{Phase: "start", Err: errors.Wrapf(ErrNoCheckpoint, "thread %s", threadID)}
		}
	} else {
		current, err = cg.startTurn(ctx, threadID, base, head, input, emit)
		if err != nil {
			return nil, err
		}
	}

	values, err := cg.schema.Decode(current.Values)
	if err != nil {
		return nil, &PersistenceError{Op: "decode", Err: err, Checkpoint: current.Ref()}
	}

	for steps := 0; ; steps++ {
		if current.Terminal() {
			cg.logDebug("thread %s completed after %d step(s)", threadID, steps)
			return &Result{Status: StatusCompleted, Values: values, Checkpoint: current.Ref(), Steps: steps}, nil
		}

		// A run resumed from a pause or an edit has already been approved.
		approved := steps == 0 && resumed &&
			(current.Source == checkpoints.SourceInterrupt || current.Source == checkpoints.SourceUpdate)
		if node, ok := cg.interruptTarget(current.Next); ok && !approved {
			return cg.pause(ctx, current, head, node, values, steps, emit)
		}

		if cfg.maxSteps > 0 && steps >= cfg.maxSteps {
			stepsTotal.WithLabelValues("limit").Inc()
			return nil, &ExecutionError{Phase: "step", Err: errors.Wrapf(ErrStepLimit, "%d steps", cfg.maxSteps), Checkpoint: current.Ref()}
		}
		if err := ctx.Err(); err != nil {
			stepsTotal.WithLabelValues("canceled").Inc()
			return nil, &ExecutionError{Phase: "step", Err: err, Checkpoint: current.Ref()}
		}

		outcome, err := cg.step(ctx, threadID, current, values, cfg)
		if err != nil {
			stepsTotal.WithLabelValues("error").Inc()
			return nil, err
		}

		encoded, err := cg.schema.Encode(outcome.values)
		if err != nil {
			stepsTotal.WithLabelValues("error").Inc()
			return nil, &PersistenceError{Op: "encode", Err: err, Checkpoint: current.Ref()}
		}
		stored, err := cg.persist(ctx, &checkpoints.Checkpoint{
			ThreadID: threadID,
			ParentID: current.ID,
			Step:     current.Step + 1,
			Source:   checkpoints.SourceLoop,
			Nodes:    outcome.nodes,
			Next:     outcome.next,
			Values:   encoded,

			ExpectedSeq: head,
		}, current.Ref())
		if err != nil {
			stepsTotal.WithLabelValues("error").Inc()
			return nil, err
		}
		stepsTotal.WithLabelValues("ok").Inc()
		cg.logDebug("thread %s step %d ran %v, next %v", threadID, stored.Step, outcome.nodes, outcome.next)

		current, values, head = stored, outcome.values, stored.Seq
		if !emit(Event{
			Kind:       EventStep,
			Step:       stored.Step,
			Nodes:      slices.Clone(stored.Nodes),
			Updates:    outcome.updates,
			Values:     values.Clone(),
			Next:       slices.Clone(stored.Next),
			Checkpoint: stored.Ref(),
		}) {
			return nil, errStopped
		}
	}
}

// loadBase returns the checkpoint a run starts from, or nil for a new thread, and
// the Seq of the thread's latest checkpoint. Every append of the run expects the
// head it last saw, so a concurrent writer on the same store makes it fail instead
// of forking the thread.
func (cg *CompiledGraph) loadBase(ctx context.Context, threadID, checkpointID string) (*checkpoints.Checkpoint, int64, error) {
	latest, err := cg.store.Latest(ctx, threadID)
	switch {
	case errors.Is(err, checkpoints.ErrNotFound):
		latest = nil
	case err != nil:
		return nil, 0, &PersistenceError{Op: "load", Err: err}
	}
	var head int64
	if latest != nil {
		head = latest.Seq
	}

	if checkpointID == "" || (latest != nil && latest.ID == checkpointID) {
		return latest, head, nil
	}
	ref := checkpoints.Ref{ThreadID: threadID, CheckpointID: checkpointID}
	cp, err := cg.store.Get(ctx, ref)
	if err != nil {
		return nil, 0, &PersistenceError{Op: "load", Err: err}
	}
	return cp, head, nil
}

// startTurn merges input into the base state and checkpoints it with the entry
// point pending.
func (cg *CompiledGraph) startTurn(ctx context.Context, threadID string, base *checkpoints.Checkpoint, head int64, input state.State, emit func(Event) bool) (*checkpoints.Checkpoint, error) {
	values := cg.schema.Defaults()
	cp := &checkpoints.Checkpoint{
		ThreadID:    threadID,
		Source:      checkpoints.SourceInput,
		Nodes:       []string{NodeInput},
		Next:        []string{cg.entryPoint},
		ExpectedSeq: head,
	}
	var lastGood checkpoints.Ref
	if base != nil {
		decoded, err := cg.schema.Decode(base.Values)
		if err != nil {
			return nil, &PersistenceError{Op: "decode", Err: err, Checkpoint: base.Ref()}
		}
		values = decoded
		cp.ParentID = base.ID
		cp.Step = base.Step + 1
		lastGood = base.Ref()
	}

	values, err := cg.schema.Apply(values, input)
	if err != nil {
		return nil, &ExecutionError{Phase: "input", Err: err, Checkpoint: lastGood}
	}
	if cp.Values, err = cg.schema.Encode(values); err != nil {
		return nil, &PersistenceError{Op: "encode", Err: err, Checkpoint: lastGood}
	}

	stored, err := cg.persist(ctx, cp, lastGood)
	if err != nil {
		return nil, err
	}
	if !emit(Event{
		Kind:       EventInput,
		Step:       stored.Step,
		Nodes:      slices.Clone(stored.Nodes),
		Updates:    map[string]state.State{NodeInput: input.Clone()},
		Values:     values,
		Next:       slices.Clone(stored.Next),
		Checkpoint: stored.Ref(),
	}) {
		return nil, errStopped
	}
	return stored, nil
}

// persist appends cp even when ctx has been canceled mid step, so that completed
// work is never lost.
func (cg *CompiledGraph) persist(ctx context.Context, cp *checkpoints.Checkpoint, lastGood checkpoints.Ref) (*checkpoints.Checkpoint, error) {
	stored, err := cg.store.Append(context.WithoutCancel(ctx), cp)
	if err != nil {
		checkpointsTotal.WithLabelValues(string(cp.Source), "error").Inc()
		return nil, &PersistenceError{Op: "append", Err: err, Checkpoint: lastGood}
	}
	checkpointsTotal.WithLabelValues(string(cp.Source), "ok").Inc()
	return stored, nil
}

type stepOutcome struct {
	nodes   []string
	updates map[string]state.State
	values  state.State
	next    []string
}

// step runs every pending node of current against the same snapshot and merges
// their updates in declaration order. Nothing is persisted here.
func (cg *CompiledGraph) step(ctx context.Context, threadID string, current *checkpoints.Checkpoint, values state.State, cfg executionConfig) (*stepOutcome, error) {
	pending := slices.Clone(current.Next)
	cg.sortByDeclaration(pending)
	stepNum := current.Step + 1

	ctx, span := tracer.Start(ctx, "graph.step", trace.WithAttributes(
		attribute.Int("graph.step", stepNum),
		attribute.StringSlice("graph.nodes", pending),
	))
	defer span.End()

	nodes := make([]NodeSpec, len(pending))
	for i, name := range pending {
		node, ok := cg.node(name)
		if !ok {
			err := &NodeExecutionError{Node: name, Err: ErrNodeNotFound, Checkpoint: current.Ref()}
			span.RecordError(err)
			return nil, err
		}
		nodes[i] = node
	}

	updates := make([]state.State, len(nodes))
	attempts := make([]int, len(nodes))
	eg, egCtx := errgroup.WithContext(ctx)
	for i, node := range nodes {
		eg.Go(func() error {
			nodeCtx := withRunInfo(egCtx, RunInfo{
				GraphID:      cg.id,
				ThreadID:     threadID,
				Step:         stepNum,
				Node:         node.Name,
				Configurable: cfg.configurable,
				Metadata:     node.Metadata,
			})
			update, n, err := executeNode(nodeCtx, node, values)
			attempts[i] = n
			if err != nil {
				return &NodeExecutionError{Node: node.Name, Attempts: n, Err: err, Checkpoint: current.Ref()}
			}
			updates[i] = update
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "step failed")
		return nil, err
	}

	if cg.conflicts == ErrorOnConflict {
		if err := cg.checkConflicts(pending, updates); err != nil {
			span.RecordError(err)
			return nil, &ExecutionError{Phase: "merge", Err: err, Checkpoint: current.Ref()}
		}
	}

	merged := values
	byNode := make(map[string]state.State, len(pending))
	for i, name := range pending {
		next, err := cg.schema.Apply(merged, updates[i])
		if err != nil {
			span.RecordError(err)
			return nil, &NodeExecutionError{Node: name, Attempts: attempts[i], Err: errors.Wrap(err, "merge update"), Checkpoint: current.Ref()}
		}
		merged = next
		byNode[name] = updates[i].Clone()
	}

	next, err := cg.resolveNext(ctx, pending, merged, current.Ref())
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	return &stepOutcome{nodes: pending, updates: byNode, values: merged, next: next}, nil
}

// resolveNext follows the static edges and routers of every executed node. The
// result is deduplicated, excludes END and is in declaration order.
func (cg *CompiledGraph) resolveNext(ctx context.Context, executed []string, st state.State, lastGood checkpoints.Ref) ([]string, error) {
	var next []string
	add := func(target string) {
		if target != END && !slices.Contains(next, target) {
			next = append(next, target)
		}
	}

	for _, from := range executed {
		for _, to := range cg.edges[from] {
			add(to)
		}
		for _, br := range cg.branches[from] {
			label, err := br.Router(ctx, st.Clone())
			if err != nil {
				return nil, &RoutingError{Node: from, Err: err, Checkpoint: lastGood}
			}
			target, ok := br.Routes[label]
			if !ok {
				return nil, &RoutingError{Node: from, Label: label, Err: ErrUnmappedLabel, Checkpoint: lastGood}
			}
			add(target)
		}
	}

	cg.sortByDeclaration(next)
	return next, nil
}

// checkConflicts reports two nodes of one step writing the same replace channel or
// the same upsert identity.
func (cg *CompiledGraph) checkConflicts(nodes []string, updates []state.State) error {
	written := make(map[string]string)
	for i, update := range updates {
		for _, name := range update.Keys() {
			ch, ok := cg.schema.Lookup(name)
			if !ok {
				continue
			}
			keyer, ok := ch.(channels.Keyer)
			if !ok {
				continue
			}
			keys, err := keyer.Keys(update[name])
			if err != nil {
				return errors.Wrapf(err, "node %s channel %s", nodes[i], name)
			}
			for _, key := range keys {
				slot := name + "/" + key
				if other, seen := written[slot]; seen && other != nodes[i] {
					return errors.Wrapf(ErrConflict, "channel %s key %s written by %s and %s", name, key, other, nodes[i])
				}
				written[slot] = nodes[i]
			}
		}
	}
	return nil
}
