package main

import (
	"github.com/spf13/cobra"

	"github.com/nigel-daniels/agents-langgraph/pkg/agents"
	"github.com/nigel-daniels/agents-langgraph/pkg/checkpoints"
	"github.com/nigel-daniels/agents-langgraph/pkg/graph"
	"github.com/nigel-daniels/agents-langgraph/pkg/state"
)

func newCountCmd(a *app) *cobra.Command {
	var (
		limit  int
		resume bool
	)
	cmd := &cobra.Command{
		Use:   "count",
		Short: "Run the counter graph, looping Node1 and Node2 until the limit",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.withStore(func(store checkpoints.Store) error {
				g, err := agents.NewCounter(limit, a.graphOptions(store)...)
				if err != nil {
					return err
				}
				input := state.State{agents.CountKey: 0}
				if resume {
					input = nil
				}
				return streamRun(cmd, g, a.threadID, input)
			})
		},
	}
	cmd.Flags().IntVar(&limit, "limit", agents.DefaultCounterLimit, "count at which the loop stops")
	cmd.Flags().BoolVar(&resume, "resume", false, "resume the thread instead of starting a new turn")
	return cmd
}

// streamRun streams a run, printing one block per checkpoint.
func streamRun(cmd *cobra.Command, g *graph.CompiledGraph, threadID string, input state.State, opts ...graph.ExecutionOption) error {
	out := cmd.OutOrStdout()
	for ev, err := range g.Stream(cmd.Context(), threadID, input, opts...) {
		if err != nil {
			printError(cmd.ErrOrStderr(), err)
			return err
		}
		printEvent(out, ev)
	}
	snap, err := g.GetState(cmd.Context(), threadID)
	if err != nil {
		return err
	}
	printSnapshot(out, snap)
	return nil
}
