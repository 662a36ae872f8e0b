package main

import (
	"strings"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/tmc/langchaingo/llms/openai"

	"github.com/nigel-daniels/agents-langgraph/pkg/agents"
)

func newReActCmd(a *app) *cobra.Command {
	var maxTurns int
	cmd := &cobra.Command{
		Use:   "react <question>",
		Short: "Answer a question with the Thought, Action, Observation loop",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			model, err := openai.New(openai.WithModel(a.cfg.Model.Name))
			if err != nil {
				return errors.Wrap(err, "failed to create model client")
			}
			loop, err := agents.NewReActLoop(model, agents.WithMaxTurns(maxTurns))
			if err != nil {
				return err
			}
			res, err := loop.Query(cmd.Context(), strings.Join(args, " "))
			if res != nil {
				printMessages(cmd.OutOrStdout(), res.Messages[1:])
			}
			return err
		},
	}
	cmd.Flags().IntVar(&maxTurns, "max-turns", agents.DefaultMaxTurns, "model calls allowed before giving up")
	return cmd
}
