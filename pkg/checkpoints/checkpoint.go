// Package checkpoints persists graph state snapshots per execution thread.
//
// Checkpoints are append-only. Every checkpoint but the first of a thread points at a
// parent in the same thread, so a thread's history is a tree: resuming or editing
// from an older checkpoint appends a new branch and leaves the existing ones alone.
package checkpoints

import (
	"context"
	"iter"
	"slices"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
)

var (
	// ErrNotFound is returned when a checkpoint or thread does not exist.
	ErrNotFound = errors.New("checkpoint not found")

	// ErrInvalidParent is returned when appending a checkpoint whose parent is not
	// the expected one for its thread.
	ErrInvalidParent = errors.New("invalid parent checkpoint")

	// ErrInvalidCheckpoint is returned for checkpoints missing required fields.
	ErrInvalidCheckpoint = errors.New("invalid checkpoint")

	// ErrConflict is returned when a concurrent append won the race for the thread.
	ErrConflict = errors.New("concurrent append to thread")

	// ErrClosed is returned by stores used after Close.
	ErrClosed = errors.New("checkpoint store is closed")
)

// DefaultPageSize is the page size used by History when none is given.
const DefaultPageSize = 50

// Source tells what wrote a checkpoint.
type Source string

const (
	SourceInput     Source = "input"
	SourceLoop      Source = "loop"
	SourceUpdate    Source = "update"
	SourceInterrupt Source = "interrupt"
)

// Ref addresses one checkpoint of a thread. An empty CheckpointID means the latest one.
type Ref struct {
	ThreadID     string `json:"thread_id"`
	CheckpointID string `json:"checkpoint_id,omitempty"`
}

func (r Ref) IsZero() bool {
	return r.ThreadID == "" && r.CheckpointID == ""
}

func (r Ref) String() string {
	if r.CheckpointID == "" {
		return r.ThreadID + "@latest"
	}
	return r.ThreadID + "@" + r.CheckpointID
}

// Checkpoint is an immutable snapshot of a thread's state.
type Checkpoint struct {
	ThreadID string `json:"thread_id"`
	ID       string `json:"id"`
	// ParentID is empty only for the first checkpoint of a thread.
	ParentID string `json:"parent_id,omitempty"`
	// Seq orders the checkpoints of a thread. It is assigned on append.
	Seq    int64  `json:"seq"`
	Step   int    `json:"step"`
	Source Source `json:"source"`
	// Nodes are the nodes whose execution produced this checkpoint.
	Nodes []string `json:"nodes,omitempty"`
	// Next are the nodes pending execution; empty when the thread is done.
	Next []string `json:"next,omitempty"`
	// Values is the encoded channel state.
	Values    []byte    `json:"values"`
	CreatedAt time.Time `json:"created_at"`

	// ExpectedSeq is the Seq of the thread's latest checkpoint as last seen by the
	// writer. When set, Append fails with ErrConflict if the thread has moved past it.
	// It is never stored.
	ExpectedSeq int64 `json:"-"`
}

func (c *Checkpoint) Ref() Ref {
	return Ref{ThreadID: c.ThreadID, CheckpointID: c.ID}
}

// ParentRef returns the parent reference, or the zero Ref for a root checkpoint.
func (c *Checkpoint) ParentRef() Ref {
	if c.ParentID == "" {
		return Ref{}
	}
	return Ref{ThreadID: c.ThreadID, CheckpointID: c.ParentID}
}

func (c *Checkpoint) Terminal() bool {
	return len(c.Next) == 0
}

// Clone returns a deep copy of c.
func (c *Checkpoint) Clone() *Checkpoint {
	if c == nil {
		return nil
	}
	cp := *c
	cp.Nodes = slices.Clone(c.Nodes)
	cp.Next = slices.Clone(c.Next)
	cp.Values = slices.Clone(c.Values)
	return &cp
}

// ListOptions bounds a List call.
type ListOptions struct {
	// Before only returns checkpoints with a Seq lower than Before. Zero means no bound.
	Before int64
	// Limit caps the number of checkpoints returned. Zero means no limit.
	Limit int
}

// Store persists checkpoints. Implementations must be safe for concurrent use and
// must never fork a thread silently: when two appends race on one thread, at most
// one of them may succeed with a given sequence number.
type Store interface {
	// Append validates the parent of cp, assigns ID, Seq and CreatedAt and stores it.
	// It returns ErrConflict when cp.ExpectedSeq is set and the thread head differs,
	// checked atomically with the write.
	Append(ctx context.Context, cp *Checkpoint) (*Checkpoint, error)
	Get(ctx context.Context, ref Ref) (*Checkpoint, error)
	// Latest returns the most recently appended checkpoint of a thread.
	Latest(ctx context.Context, threadID string) (*Checkpoint, error)
	// List returns checkpoints of a thread newest first.
	List(ctx context.Context, threadID string, opts ListOptions) ([]*Checkpoint, error)
	Close() error
}

// History returns a lazy sequence over the checkpoints of a thread, newest first. It
// reads the store one page at a time and starts over on every iteration.
func History(ctx context.Context, store Store, threadID string, pageSize int) iter.Seq2[*Checkpoint, error] {
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	return func(yield func(*Checkpoint, error) bool) {
		var before int64
		for {
			page, err := store.List(ctx, threadID, ListOptions{Before: before, Limit: pageSize})
			if err != nil {
				yield(nil, err)
				return
			}
			for _, cp := range page {
				if !yield(cp, nil) {
					return
				}
				before = cp.Seq
			}
			if len(page) < pageSize {
				return
			}
		}
	}
}

// NewID returns a new, time ordered checkpoint identifier.
func NewID() string {
	return uuid.Must(uuid.NewV7()).String()
}

// Prepare validates cp for appending after latestSeq and returns the copy to store.
// A set cp.ExpectedSeq must equal latestSeq.
// parentFound tells whether cp.ParentID exists in the thread. Stores call it while
// holding whatever guards the thread.
func Prepare(cp *Checkpoint, latestSeq int64, parentFound bool) (*Checkpoint, error) {
	if cp == nil || cp.ThreadID == "" {
		return nil, errors.Wrap(ErrInvalidCheckpoint, "thread id is required")
	}
	if cp.ParentID == "" && latestSeq > 0 {
		return nil, errors.Wrapf(ErrInvalidParent, "thread %s already has checkpoints", cp.ThreadID)
	}
	if cp.ParentID != "" && !parentFound {
		return nil, errors.Wrapf(ErrInvalidParent, "parent %s not in thread %s", cp.ParentID, cp.ThreadID)
	}
	if cp.ExpectedSeq > 0 && cp.ExpectedSeq != latestSeq {
		return nil, errors.Wrapf(ErrConflict, "thread %s is at seq %d, expected %d", cp.ThreadID, latestSeq, cp.ExpectedSeq)
	}

	out := cp.Clone()
	out.ExpectedSeq = 0
	out.ID = NewID()
	out.Seq = latestSeq + 1
	out.CreatedAt = time.Now().UTC()
	return out, nil
}

// NotFound wraps ErrNotFound with the reference that was looked up.
func NotFound(ref Ref) error {
	return errors.Wrap(ErrNotFound, ref.String())
}
