package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/nigel-daniels/agents-langgraph/pkg/agents"
	"github.com/nigel-daniels/agents-langgraph/pkg/checkpoints"
	"github.com/nigel-daniels/agents-langgraph/pkg/state"
)

func newWriterCmd(a *app) *cobra.Command {
	var revisions int
	cmd := &cobra.Command{
		Use:   "writer <task>",
		Short: "Plan, research, draft and revise an essay",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if revisions <= 0 {
				revisions = a.cfg.Writer.MaxRevisions
			}
			model, search, err := a.newModelAndSearch()
			if err != nil {
				return err
			}
			return a.withStore(func(store checkpoints.Store) error {
				w, err := agents.NewWriter(model, search,
					agents.WithWriterTemperature(a.cfg.Model.Temperature),
					agents.WithWriterGraphOptions(a.graphOptions(store)...),
				)
				if err != nil {
					return err
				}

				out := cmd.OutOrStdout()
				task := strings.Join(args, " ")
				for ev, err := range w.Stream(cmd.Context(), a.threadID, task, revisions) {
					if err != nil {
						printError(cmd.ErrOrStderr(), err)
						return err
					}
					printEvent(out, ev)
				}

				snap, err := w.Graph().GetState(cmd.Context(), a.threadID)
				if err != nil {
					return err
				}
				fmt.Fprintln(out, titleStyle.Render("essay"))
				fmt.Fprintln(out, boxStyle.Render(state.Get[string](snap.Values, agents.DraftKey)))
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&revisions, "revisions", 0, "maximum number of drafts (defaults to the config)")
	return cmd
}
