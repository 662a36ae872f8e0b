// Package checkpointtest provides the behaviour every checkpoints.Store must show.
package checkpointtest

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nigel-daniels/agents-langgraph/pkg/checkpoints"
)

// Factory returns an empty store. It is called once per sub test.
type Factory func(t *testing.T) checkpoints.Store

// Run exercises a store implementation.
func Run(t *testing.T, newStore Factory) {
	t.Helper()

	tests := []struct {
		name string
		fn   func(t *testing.T, s checkpoints.Store)
	}{
		{"EmptyThread", testEmptyThread},
		{"AppendChain", testAppendChain},
		{"RejectsBadParents", testRejectsBadParents},
		{"WriteOnce", testWriteOnce},
		{"Branches", testBranches},
		{"ListPaging", testListPaging},
		{"HistoryRestartable", testHistoryRestartable},
		{"ThreadIsolation", testThreadIsolation},
		{"ConcurrentAppends", testConcurrentAppends},
		{"ExpectedHead", testExpectedHead},
		{"ConcurrentExpectedHead", testConcurrentExpectedHead},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newStore(t)
			t.Cleanup(func() { _ = s.Close() })
			tt.fn(t, s)
		})
	}
}

func testCtx(t *testing.T) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func appendCP(t *testing.T, s checkpoints.Store, thread, parent string, values string) *checkpoints.Checkpoint {
	t.Helper()
	cp, err := s.Append(testCtx(t), &checkpoints.Checkpoint{
		ThreadID: thread,
		ParentID: parent,
		Source:   checkpoints.SourceLoop,
		Nodes:    []string{"node"},
		Next:     []string{"next"},
		Values:   []byte(values),
	})
	require.NoError(t, err)
	return cp
}

func testEmptyThread(t *testing.T, s checkpoints.Store) {
	ctx := testCtx(t)

	_, err := s.Latest(ctx, "nobody")
	require.ErrorIs(t, err, checkpoints.ErrNotFound)

	_, err = s.Get(ctx, checkpoints.Ref{ThreadID: "nobody", CheckpointID: "missing"})
	require.ErrorIs(t, err, checkpoints.ErrNotFound)

	list, err := s.List(ctx, "nobody", checkpoints.ListOptions{})
	require.NoError(t, err)
	assert.Empty(t, list)
}

func testAppendChain(t *testing.T, s checkpoints.Store) {
	ctx := testCtx(t)

	root := appendCP(t, s, "t1", "", `{"count":0}`)
	assert.NotEmpty(t, root.ID)
	assert.Equal(t, int64(1), root.Seq)
	assert.Empty(t, root.ParentID)
	assert.False(t, root.CreatedAt.IsZero())

	child := appendCP(t, s, "t1", root.ID, `{"count":1}`)
	assert.Equal(t, int64(2), child.Seq)
	assert.Equal(t, root.ID, child.ParentID)
	assert.Equal(t, root.Ref(), child.ParentRef())

	latest, err := s.Latest(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, child.ID, latest.ID)
	assert.Equal(t, []byte(`{"count":1}`), latest.Values)
	assert.Equal(t, []string{"node"}, latest.Nodes)
	assert.Equal(t, []string{"next"}, latest.Next)
	assert.Equal(t, checkpoints.SourceLoop, latest.Source)

	got, err := s.Get(ctx, root.Ref())
	require.NoError(t, err)
	assert.Equal(t, root.ID, got.ID)
	assert.Equal(t, []byte(`{"count":0}`), got.Values)
	assert.WithinDuration(t, root.CreatedAt, got.CreatedAt, time.Millisecond)
}

func testRejectsBadParents(t *testing.T, s checkpoints.Store) {
	ctx := testCtx(t)
	root := appendCP(t, s, "t1", "", `{}`)
	other := appendCP(t, s, "t2", "", `{}`)

	_, err := s.Append(ctx, &checkpoints.Checkpoint{ThreadID: "t1", Values: []byte(`{}`)})
	require.ErrorIs(t, err, checkpoints.ErrInvalidParent, "second root")

	_, err = s.Append(ctx, &checkpoints.Checkpoint{ThreadID: "t1", ParentID: "missing", Values: []byte(`{}`)})
	require.ErrorIs(t, err, checkpoints.ErrInvalidParent, "unknown parent")

	_, err = s.Append(ctx, &checkpoints.Checkpoint{ThreadID: "t1", ParentID: other.ID, Values: []byte(`{}`)})
	require.ErrorIs(t, err, checkpoints.ErrInvalidParent, "parent from another thread")

	_, err = s.Append(ctx, &checkpoints.Checkpoint{Values: []byte(`{}`)})
	require.ErrorIs(t, err, checkpoints.ErrInvalidCheckpoint)

	latest, err := s.Latest(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, root.ID, latest.ID, "failed appends must not change the thread")
}

func testWriteOnce(t *testing.T, s checkpoints.Store) {
	ctx := testCtx(t)

	input := &checkpoints.Checkpoint{
		ThreadID: "t1",
		Next:     []string{"a"},
		Values:   []byte(`{"v":1}`),
	}
	root, err := s.Append(ctx, input)
	require.NoError(t, err)

	// Mutating what was handed to or returned by the store must not leak in.
	input.Values[0] = 'X'
	input.Next[0] = "changed"
	root.Values[0] = 'Y'
	root.Next[0] = "changed"

	before, err := s.Get(ctx, checkpoints.Ref{ThreadID: "t1", CheckpointID: root.ID})
	require.NoError(t, err)
	assert.Equal(t, []byte(`{"v":1}`), before.Values)
	assert.Equal(t, []string{"a"}, before.Next)

	appendCP(t, s, "t1", root.ID, `{"v":2}`)

	after, err := s.Get(ctx, before.Ref())
	require.NoError(t, err)
	assert.Equal(t, before.Values, after.Values)
	assert.Equal(t, before.Next, after.Next)
	assert.Equal(t, before.Seq, after.Seq)
}

func testBranches(t *testing.T, s checkpoints.Store) {
	ctx := testCtx(t)

	root := appendCP(t, s, "t1", "", `0`)
	a := appendCP(t, s, "t1", root.ID, `1`)
	b := appendCP(t, s, "t1", a.ID, `2`)
	branch := appendCP(t, s, "t1", root.ID, `10`)
	leaf := appendCP(t, s, "t1", branch.ID, `11`)

	latest, err := s.Latest(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, leaf.ID, latest.ID)

	// Original path is still there, untouched.
	got, err := s.Get(ctx, b.Ref())
	require.NoError(t, err)
	assert.Equal(t, a.ID, got.ParentID)
	assert.Equal(t, []byte(`2`), got.Values)

	list, err := s.List(ctx, "t1", checkpoints.ListOptions{})
	require.NoError(t, err)
	require.Len(t, list, 5)
	AssertTree(t, list)

	ids := make([]string, len(list))
	for i, cp := range list {
		ids[i] = cp.ID
	}
	assert.Equal(t, []string{leaf.ID, branch.ID, b.ID, a.ID, root.ID}, ids)
}

func testListPaging(t *testing.T, s checkpoints.Store) {
	ctx := testCtx(t)

	parent := ""
	for i := range 5 {
		parent = appendCP(t, s, "t1", parent, fmt.Sprint(i)).ID
	}

	page, err := s.List(ctx, "t1", checkpoints.ListOptions{Limit: 2})
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.Equal(t, int64(5), page[0].Seq)
	assert.Equal(t, int64(4), page[1].Seq)

	page, err = s.List(ctx, "t1", checkpoints.ListOptions{Before: 4, Limit: 2})
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.Equal(t, int64(3), page[0].Seq)
	assert.Equal(t, int64(2), page[1].Seq)

	page, err = s.List(ctx, "t1", checkpoints.ListOptions{Before: 2})
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(t, int64(1), page[0].Seq)
}

func testHistoryRestartable(t *testing.T, s checkpoints.Store) {
	ctx := testCtx(t)

	parent := ""
	for i := range 7 {
		parent = appendCP(t, s, "t1", parent, fmt.Sprint(i)).ID
	}

	history := checkpoints.History(ctx, s, "t1", 3)
	collect := func() []int64 {
		var seqs []int64
		for cp, err := range history {
			require.NoError(t, err)
			seqs = append(seqs, cp.Seq)
		}
		return seqs
	}

	want := []int64{7, 6, 5, 4, 3, 2, 1}
	assert.Equal(t, want, collect())
	assert.Equal(t, want, collect(), "iterating again starts over")

	var first []int64
	for cp, err := range history {
		require.NoError(t, err)
		first = append(first, cp.Seq)
		if len(first) == 2 {
			break
		}
	}
	assert.Equal(t, []int64{7, 6}, first)
}

func testThreadIsolation(t *testing.T, s checkpoints.Store) {
	ctx := testCtx(t)

	a := appendCP(t, s, "alpha", "", `"a"`)
	appendCP(t, s, "beta", "", `"b"`)

	_, err := s.Get(ctx, checkpoints.Ref{ThreadID: "beta", CheckpointID: a.ID})
	require.ErrorIs(t, err, checkpoints.ErrNotFound)

	list, err := s.List(ctx, "alpha", checkpoints.ListOptions{})
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, a.ID, list[0].ID)
}

func testConcurrentAppends(t *testing.T, s checkpoints.Store) {
	ctx := testCtx(t)
	root := appendCP(t, s, "t1", "", `0`)

	const writers = 8
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		seqs = make(map[int64]string)
	)
	for i := range writers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			cp, err := s.Append(ctx, &checkpoints.Checkpoint{
				ThreadID: "t1",
				ParentID: root.ID,
				Values:   []byte(fmt.Sprint(i)),
			})
			if err != nil {
				assert.True(t, errors.Is(err, checkpoints.ErrConflict), "unexpected error: %v", err)
				return
			}
			mu.Lock()
			defer mu.Unlock()
			_, dup := seqs[cp.Seq]
			assert.False(t, dup, "sequence %d handed out twice", cp.Seq)
			seqs[cp.Seq] = cp.ID
		}()
	}
	wg.Wait()

	require.NotEmpty(t, seqs)
	list, err := s.List(ctx, "t1", checkpoints.ListOptions{})
	require.NoError(t, err)
	assert.Len(t, list, len(seqs)+1)
	AssertTree(t, list)
}

func testExpectedHead(t *testing.T, s checkpoints.Store) {
	ctx := testCtx(t)
	root := appendCP(t, s, "t1", "", `0`)

	first, err := s.Append(ctx, &checkpoints.Checkpoint{
		ThreadID: "t1", ParentID: root.ID, Values: []byte(`1`), ExpectedSeq: root.Seq,
	})
	require.NoError(t, err)
	assert.Zero(t, first.ExpectedSeq)

	// A second writer that saw the same head must not fork the thread.
	_, err = s.Append(ctx, &checkpoints.Checkpoint{
		ThreadID: "t1", ParentID: root.ID, Values: []byte(`2`), ExpectedSeq: root.Seq,
	})
	require.ErrorIs(t, err, checkpoints.ErrConflict)

	latest, err := s.Latest(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, first.ID, latest.ID)

	// Branching from an old checkpoint is fine once the writer knows the head.
	branch, err := s.Append(ctx, &checkpoints.Checkpoint{
		ThreadID: "t1", ParentID: root.ID, Values: []byte(`3`), ExpectedSeq: first.Seq,
	})
	require.NoError(t, err)
	assert.Equal(t, root.ID, branch.ParentID)

	got, err := s.Get(ctx, branch.Ref())
	require.NoError(t, err)
	assert.Zero(t, got.ExpectedSeq)

	list, err := s.List(ctx, "t1", checkpoints.ListOptions{})
	require.NoError(t, err)
	assert.Len(t, list, 3)
}

func testConcurrentExpectedHead(t *testing.T, s checkpoints.Store) {
	ctx := testCtx(t)
	root := appendCP(t, s, "t1", "", `0`)

	const writers = 8
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		succeeded int
	)
	for i := range writers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.Append(ctx, &checkpoints.Checkpoint{
				ThreadID:    "t1",
				ParentID:    root.ID,
				Values:      []byte(fmt.Sprint(i)),
				ExpectedSeq: root.Seq,
			})
			if err != nil {
				assert.True(t, errors.Is(err, checkpoints.ErrConflict), "unexpected error: %v", err)
				return
			}
			mu.Lock()
			succeeded++
			mu.Unlock()
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, succeeded)
	list, err := s.List(ctx, "t1", checkpoints.ListOptions{})
	require.NoError(t, err)
	assert.Len(t, list, 2)
}

// AssertTree checks that every checkpoint of a thread has a parent that exists and
// was appended before it, and that parent chains reach a single root.
func AssertTree(t *testing.T, cps []*checkpoints.Checkpoint) {
	t.Helper()

	byID := make(map[string]*checkpoints.Checkpoint, len(cps))
	for _, cp := range cps {
		byID[cp.ID] = cp
	}

	roots := 0
	for _, cp := range cps {
		if cp.ParentID == "" {
			roots++
			continue
		}
		parent, ok := byID[cp.ParentID]
		if assert.True(t, ok, "parent of %s missing", cp.ID) {
			assert.Less(t, parent.Seq, cp.Seq, "parent of %s must predate it", cp.ID)
		}

		// Walking up must terminate within len(cps) hops.
		hops := 0
		for cur := cp; cur.ParentID != "" && hops <= len(cps); hops++ {
			next, ok := byID[cur.ParentID]
			if !ok {
				break
			}
			cur = next
		}
		assert.LessOrEqual(t, hops, len(cps), "cycle above %s", cp.ID)
	}
	assert.Equal(t, 1, roots, "a thread has exactly one root")
}
