package graph

import "context"

type runInfoKey struct{}

// RunInfo describes the execution a node function is part of.
type RunInfo struct {
	GraphID  string
	ThreadID string
	// Step is the step being executed.
	Step         int
	Node         string
	Configurable map[string]any
	// Metadata is the metadata the node was added with.
	Metadata map[string]any
}

func withRunInfo(ctx context.Context, info RunInfo) context.Context {
	return context.WithValue(ctx, runInfoKey{}, info)
}

// RunInfoFromContext returns the RunInfo of the node running with ctx.
func RunInfoFromContext(ctx context.Context) (RunInfo, bool) {
	info, ok := ctx.Value(runInfoKey{}).(RunInfo)
	return info, ok
}
