package graph

import (
	"context"
	"fmt"
	"time"

	"github.com/pkg/errors"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/nigel-daniels/agents-langgraph/internal/log"
	"github.com/nigel-daniels/agents-langgraph/pkg/state"
)

const DefaultMaxRetries = 1

type NodeOption func(*NodeSpec)

// WithRetryPolicy retries a failing node up to MaxAttempts times in total.
func WithRetryPolicy(policy RetryPolicy) NodeOption {
	return func(n *NodeSpec) {
		n.RetryPolicy = &policy
	}
}

// WithNodeTimeout bounds each attempt of the node.
func WithNodeTimeout(d time.Duration) NodeOption {
	return func(n *NodeSpec) {
		n.Timeout = d
	}
}

// WithMetadata attaches metadata to the node. It is passed to the node in RunInfo
// and scalar values are recorded on the node's span as graph.node.metadata.<key>.
func WithMetadata(metadata map[string]any) NodeOption {
	return func(n *NodeSpec) {
		n.Metadata = metadata
	}
}

// executeNode runs one node, honouring its timeout and retry policy. It returns
// the update and the number of attempts made.
func executeNode(ctx context.Context, node NodeSpec, st state.State) (state.State, int, error) {
	attrs := append([]attribute.KeyValue{attribute.String("graph.node", node.Name)}, metadataAttributes(node.Metadata)...)
	ctx, span := tracer.Start(ctx, "execute_node "+node.Name, trace.WithAttributes(attrs...))
	defer span.End()

	maxAttempts := DefaultMaxRetries
	if node.RetryPolicy != nil && node.RetryPolicy.MaxAttempts > 0 {
		maxAttempts = node.RetryPolicy.MaxAttempts
	}

	start := time.Now()
	var lastErr error
	attempts := 0
	for attempt := range maxAttempts {
		if attempt > 0 {
			log.Infow("retrying node", "node", node.Name, "attempt", attempt+1, "error", lastErr)
			if err := sleep(ctx, node.RetryPolicy.Delay); err != nil {
				break
			}
		}
		attempts++

		update, err := invoke(ctx, node, st)
		if err == nil {
			nodeDuration.WithLabelValues(node.Name, "ok").Observe(time.Since(start).Seconds())
			span.SetAttributes(attribute.Int("graph.node.attempts", attempts))
			return update, attempts, nil
		}
		lastErr = err
	}

	nodeDuration.WithLabelValues(node.Name, "error").Observe(time.Since(start).Seconds())
	span.RecordError(lastErr)
	span.SetStatus(codes.Error, "node failed")
	return nil, attempts, lastErr
}

func metadataAttributes(metadata map[string]any) []attribute.KeyValue {
	attrs := make([]attribute.KeyValue, 0, len(metadata))
	for k, v := range metadata {
		key := "graph.node.metadata." + k
		switch t := v.(type) {
		case string:
			attrs = append(attrs, attribute.String(key, t))
		case bool:
			attrs = append(attrs, attribute.Bool(key, t))
		case int:
			attrs = append(attrs, attribute.Int(key, t))
		case int64:
			attrs = append(attrs, attribute.Int64(key, t))
		case float64:
			attrs = append(attrs, attribute.Float64(key, t))
		case fmt.Stringer:
			attrs = append(attrs, attribute.Stringer(key, t))
		}
	}
	return attrs
}

func invoke(ctx context.Context, node NodeSpec, st state.State) (update state.State, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("node panicked: %v", r)
		}
	}()

	if node.Timeout <= 0 {
		return node.Function(ctx, st.Clone())
	}

	ctx, cancel := context.WithTimeout(ctx, node.Timeout)
	defer cancel()
	update, err = node.Function(ctx, st.Clone())
	if err == nil && errors.Is(ctx.Err(), context.DeadlineExceeded) {
		// Late results count as a timeout.
		err = errors.Wrapf(ctx.Err(), "node %s exceeded %s", node.Name, node.Timeout)
	}
	return update, err
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
