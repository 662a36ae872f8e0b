package checkpoints

import (
	"context"
	"sync"
)

type memoryThread struct {
	checkpoints []*Checkpoint
	byID        map[string]int
}

// MemoryStore keeps checkpoints in process memory. Stored checkpoints are copied on
// the way in and out, so callers can never alter what was persisted.
type MemoryStore struct {
	threads map[string]*memoryThread
	closed  bool
	mu      sync.RWMutex
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		threads: make(map[string]*memoryThread),
	}
}

func (m *MemoryStore) Append(_ context.Context, cp *Checkpoint) (*Checkpoint, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil, ErrClosed
	}

	var (
		latest      int64
		parentFound bool
	)
	th := m.threads[threadKey(cp)]
	if th != nil {
		latest = int64(len(th.checkpoints))
		_, parentFound = th.byID[cp.ParentID]
	}

	stored, err := Prepare(cp, latest, parentFound)
	if err != nil {
		return nil, err
	}

	if th == nil {
		th = &memoryThread{byID: make(map[string]int)}
		m.threads[stored.ThreadID] = th
	}
	th.byID[stored.ID] = len(th.checkpoints)
	th.checkpoints = append(th.checkpoints, stored)
	return stored.Clone(), nil
}

func (m *MemoryStore) Get(_ context.Context, ref Ref) (*Checkpoint, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil, ErrClosed
	}
	th, ok := m.threads[ref.ThreadID]
	if !ok {
		return nil, NotFound(ref)
	}
	if ref.CheckpointID == "" {
		return th.checkpoints[len(th.checkpoints)-1].Clone(), nil
	}
	idx, ok := th.byID[ref.CheckpointID]
	if !ok {
		return nil, NotFound(ref)
	}
	return th.checkpoints[idx].Clone(), nil
}

func (m *MemoryStore) Latest(ctx context.Context, threadID string) (*Checkpoint, error) {
	return m.Get(ctx, Ref{ThreadID: threadID})
}

func (m *MemoryStore) List(_ context.Context, threadID string, opts ListOptions) ([]*Checkpoint, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil, ErrClosed
	}
	th, ok := m.threads[threadID]
	if !ok {
		return nil, nil
	}

	var out []*Checkpoint
	for i := len(th.checkpoints) - 1; i >= 0; i-- {
		cp := th.checkpoints[i]
		if opts.Before > 0 && cp.Seq >= opts.Before {
			continue
		}
		out = append(out, cp.Clone())
		if opts.Limit > 0 && len(out) == opts.Limit {
			break
		}
	}
	return out, nil
}

func (m *MemoryStore) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

func threadKey(cp *Checkpoint) string {
	if cp == nil {
		return ""
	}
	return cp.ThreadID
}
