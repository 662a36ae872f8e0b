package graph

import (
	"context"
	"iter"
	"slices"
	"time"

	"github.com/pkg/errors"

	"github.com/nigel-daniels/agents-langgraph/pkg/checkpoints"
	"github.com/nigel-daniels/agents-langgraph/pkg/state"
)

// Snapshot is a decoded checkpoint.
type Snapshot struct {
	Ref    checkpoints.Ref
	Parent checkpoints.Ref
	Values state.State
	// Next are the nodes that run when the thread is resumed from this snapshot
	Next      []string
	Nodes     []string
	Source    checkpoints.Source
	Step      int
	CreatedAt time.Time
}

// Terminal reports whether nothing is left to run.
func (s *Snapshot) Terminal() bool {
	return len(s.Next) == 0
}

func (cg *CompiledGraph) snapshot(cp *checkpoints.Checkpoint) (*Snapshot, error) {
	values, err := cg.schema.Decode(cp.Values)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to decode checkpoint %s", cp.Ref())
	}
	return &Snapshot{
		Ref:       cp.Ref(),
		Parent:    cp.ParentRef(),
		Values:    values,
		Next:      slices.Clone(cp.Next),
		Nodes:     slices.Clone(cp.Nodes),
		Source:    cp.Source,
		Step:      cp.Step,
		CreatedAt: cp.CreatedAt,
	}, nil
}

// GetState returns the latest snapshot of a thread.
func (cg *CompiledGraph) GetState(ctx context.Context, threadID string) (*Snapshot, error) {
	cp, err := cg.store.Latest(ctx, threadID)
	if err != nil {
		return nil, err
	}
	return cg.snapshot(cp)
}

// GetStateAt returns the snapshot ref points at. An empty CheckpointID selects the
// latest one.
func (cg *CompiledGraph) GetStateAt(ctx context.Context, ref checkpoints.Ref) (*Snapshot, error) {
	cp, err := cg.load(ctx, ref)
	if err != nil {
		return nil, err
	}
	return cg.snapshot(cp)
}

// GetHistory returns the snapshots of a thread newest first. Every iteration reads
// the store again from the latest checkpoint.
func (cg *CompiledGraph) GetHistory(ctx context.Context, threadID string) iter.Seq2[*Snapshot, error] {
	return func(yield func(*Snapshot, error) bool) {
		for cp, err := range checkpoints.History(ctx, cg.store, threadID, checkpoints.DefaultPageSize) {
			if err != nil {
				yield(nil, err)
				return
			}
			snap, err := cg.snapshot(cp)
			if !yield(snap, err) || err != nil {
				return
			}
		}
	}
}

// UpdateState merges update into the state at ref and appends the result as a child
// of ref. With asNode set, the update is treated as the output of that node: its
// edges decide what runs next. Otherwise the pending nodes of ref are kept. Updating
// a checkpoint other than the latest starts a new branch.
func (cg *CompiledGraph) UpdateState(ctx context.Context, ref checkpoints.Ref, update state.State, asNode string) (*Snapshot, error) {
	if ref.ThreadID == "" {
		return nil, &ExecutionError{Phase: "update", Err: errors.Wrap(checkpoints.ErrInvalidCheckpoint, "thread id is required")}
	}
	if asNode != "" {
		if _, ok := cg.node(asNode); !ok {
			return nil, &ExecutionError{Phase: "update", Err: errors.Wrapf(ErrNodeNotFound, "as node %s", asNode)}
		}
	}

	release, err := cg.locks.acquire(ctx, ref.ThreadID)
	if err != nil {
		return nil, &ExecutionError{Phase: "update", Err: err}
	}
	defer release()

	base, head, err := cg.loadBase(ctx, ref.ThreadID, ref.CheckpointID)
	if err != nil {
		return nil, err
	}
	if base == nil {
		return nil, &PersistenceError{Op: "load", Err: checkpoints.NotFound(ref)}
	}
	values, err := cg.schema.Decode(base.Values)
	if err != nil {
		return nil, &PersistenceError{Op: "decode", Err: err, Checkpoint: base.Ref()}
	}
	merged, err := cg.schema.Apply(values, update)
	if err != nil {
		return nil, &ExecutionError{Phase: "update", Err: err, Checkpoint: base.Ref()}
	}

	cp := &checkpoints.Checkpoint{
		ThreadID: base.ThreadID,
		ParentID: base.ID,
		Step:     base.Step + 1,
		Source:   checkpoints.SourceUpdate,
		Nodes:    []string{NodeUpdate},
		Next:     slices.Clone(base.Next),

		ExpectedSeq: head,
	}
	if asNode != "" {
		cp.Nodes = []string{asNode}
		if cp.Next, err = cg.resolveNext(ctx, []string{asNode}, merged, base.Ref()); err != nil {
			return nil, err
		}
	}
	if cp.Values, err = cg.schema.Encode(merged); err != nil {
		return nil, &PersistenceError{Op: "encode", Err: err, Checkpoint: base.Ref()}
	}

	stored, err := cg.persist(ctx, cp, base.Ref())
	if err != nil {
		return nil, err
	}
	cg.logDebug("thread %s updated as %q from %s, next %v", ref.ThreadID, asNode, base.ID, stored.Next)
	return cg.snapshot(stored)
}

func (cg *CompiledGraph) load(ctx context.Context, ref checkpoints.Ref) (*checkpoints.Checkpoint, error) {
	if ref.CheckpointID == "" {
		return cg.store.Latest(ctx, ref.ThreadID)
	}
	return cg.store.Get(ctx, ref)
}
