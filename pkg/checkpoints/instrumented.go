package checkpoints

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/nigel-daniels/agents-langgraph/internal/log"
)

var storeOpDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
	Name:    "agents_checkpoint_store_duration_seconds",
	Help:    "Latency of checkpoint store operations",
	Buckets: []float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1},
}, []string{"op", "status"})

// InstrumentedStore wraps a Store with metrics, logging and error context.
type InstrumentedStore struct {
	store Store
}

// Instrument wraps store. Wrapping an already instrumented store returns it unchanged.
func Instrument(store Store) Store {
	if s, ok := store.(*InstrumentedStore); ok {
		return s
	}
	return &InstrumentedStore{store: store}
}

// Unwrap returns the underlying store.
func (s *InstrumentedStore) Unwrap() Store {
	return s.store
}

func (s *InstrumentedStore) Append(ctx context.Context, cp *Checkpoint) (*Checkpoint, error) {
	start := time.Now()
	stored, err := s.store.Append(ctx, cp)
	observe("append", start, err)
	if err != nil {
		log.Warnw("checkpoint append failed", "thread", threadKey(cp), "error", err)
		return nil, errors.Wrapf(err, "failed to append checkpoint for thread %s", threadKey(cp))
	}
	log.Debugw("checkpoint appended",
		"thread", stored.ThreadID, "checkpoint", stored.ID, "seq", stored.Seq, "source", stored.Source)
	return stored, nil
}

func (s *InstrumentedStore) Get(ctx context.Context, ref Ref) (*Checkpoint, error) {
	start := time.Now()
	cp, err := s.store.Get(ctx, ref)
	observe("get", start, err)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to load checkpoint %s", ref)
	}
	return cp, nil
}

func (s *InstrumentedStore) Latest(ctx context.Context, threadID string) (*Checkpoint, error) {
	start := time.Now()
	cp, err := s.store.Latest(ctx, threadID)
	observe("latest", start, err)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to load latest checkpoint for thread %s", threadID)
	}
	return cp, nil
}

func (s *InstrumentedStore) List(ctx context.Context, threadID string, opts ListOptions) ([]*Checkpoint, error) {
	start := time.Now()
	cps, err := s.store.List(ctx, threadID, opts)
	observe("list", start, err)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to list checkpoints for thread %s", threadID)
	}
	return cps, nil
}

func (s *InstrumentedStore) Close() error {
	return s.store.Close()
}

func observe(op string, start time.Time, err error) {
	status := "ok"
	switch {
	case errors.Is(err, ErrNotFound):
		status = "not_found"
	case err != nil:
		status = "error"
	}
	storeOpDuration.WithLabelValues(op, status).Observe(time.Since(start).Seconds())
}
