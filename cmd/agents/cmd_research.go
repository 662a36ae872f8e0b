package main

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/charmbracelet/huh"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/openai"
	"github.com/tmc/langchaingo/tools"
	"github.com/tmc/langchaingo/tools/duckduckgo"

	"github.com/nigel-daniels/agents-langgraph/pkg/agents"
	"github.com/nigel-daniels/agents-langgraph/pkg/checkpoints"
	"github.com/nigel-daniels/agents-langgraph/pkg/graph"
)

const searchUserAgent = "agents-langgraph/1.0"

// Approval choices for a paused research thread.
const (
	choiceRun    = "run"
	choiceEdit   = "edit"
	choiceAnswer = "answer"
	choiceStop   = "stop"
)

func (a *app) newModelAndSearch() (llms.Model, tools.Tool, error) {
	model, err := openai.New(openai.WithModel(a.cfg.Model.Name))
	if err != nil {
		return nil, nil, errors.Wrap(err, "failed to create model client")
	}
	search, err := duckduckgo.New(a.cfg.Search.MaxResults, searchUserAgent)
	if err != nil {
		return nil, nil, errors.Wrap(err, "failed to create search tool")
	}
	return model, search, nil
}

func newResearchCmd(a *app) *cobra.Command {
	var autoApprove bool
	cmd := &cobra.Command{
		Use:   "research <question>",
		Short: "Ask the research agent, approving each search before it runs",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			model, search, err := a.newModelAndSearch()
			if err != nil {
				return err
			}
			return a.withStore(func(store checkpoints.Store) error {
				opts := []agents.ResearchOption{
					agents.WithTemperature(a.cfg.Model.Temperature),
					agents.WithGraphOptions(a.graphOptions(store)...),
				}
				if autoApprove {
					opts = append(opts, agents.WithoutApproval())
				}
				agent, err := agents.NewResearchAgent(model, []tools.Tool{search}, opts...)
				if err != nil {
					return err
				}

				res, err := agent.Ask(cmd.Context(), a.threadID, strings.Join(args, " "))
				for err == nil && res.Status == graph.StatusInterrupted {
					var proceed bool
					proceed, err = approve(cmd.Context(), agent, a.threadID)
					if err != nil || !proceed {
						break
					}
					res, err = agent.Continue(cmd.Context(), a.threadID)
				}
				if err != nil {
					printError(cmd.ErrOrStderr(), err)
					return err
				}

				conversation, err := agent.Conversation(cmd.Context(), a.threadID)
				if err != nil {
					return err
				}
				printMessages(cmd.OutOrStdout(), conversation)
				return nil
			})
		},
	}
	cmd.Flags().BoolVarP(&autoApprove, "yes", "y", false, "run tool calls without asking")
	return cmd
}

// approve asks what to do with the pending tool calls. It returns false when the
// user chose to leave the thread paused.
func approve(ctx context.Context, agent *agents.ResearchAgent, threadID string) (bool, error) {
	calls, err := agent.ProposedToolCalls(ctx, threadID)
	if err != nil {
		return false, err
	}

	for _, call := range calls {
		if call.FunctionCall == nil {
			continue
		}
		fmt.Println(pauseStyle.Render("proposed: ") + fmt.Sprintf("%s(%s)", call.FunctionCall.Name, call.FunctionCall.Arguments))
	}

	var choice string
	err = huh.NewSelect[string]().
		Title("Proceed with the tool calls?").
		Options(
			huh.NewOption("Run them", choiceRun),
			huh.NewOption("Edit the queries", choiceEdit),
			huh.NewOption("Answer them myself", choiceAnswer),
			huh.NewOption("Stop here", choiceStop),
		).
		Value(&choice).
		Run()
	if err != nil {
		return false, errors.Wrap(err, "failed to read choice")
	}

	switch choice {
	case choiceRun:
		return true, nil
	case choiceEdit:
		for _, call := range calls {
			if call.FunctionCall == nil {
				continue
			}
			query := call.FunctionCall.Arguments
			err := huh.NewInput().
				Title("Query for " + call.ID).
				Value(&query).
				Run()
			if err != nil {
				return false, errors.Wrap(err, "failed to read query")
			}
			edited := call
			edited.FunctionCall = &llms.FunctionCall{Name: call.FunctionCall.Name, Arguments: queryArguments(query)}
			if _, err := agent.ReplaceToolCall(ctx, threadID, edited); err != nil {
				return false, err
			}
		}
		return true, nil
	case choiceAnswer:
		var answer string
		if err := huh.NewText().Title("Tool result").Value(&answer).Run(); err != nil {
			return false, errors.Wrap(err, "failed to read answer")
		}
		if _, err := agent.InjectToolResult(ctx, threadID, answer); err != nil {
			return false, err
		}
		return true, nil
	default:
		return false, nil
	}
}

// queryArguments wraps a plain query as tool arguments. Input that already looks
// like JSON is kept as is.
func queryArguments(query string) string {
	query = strings.TrimSpace(query)
	if strings.HasPrefix(query, "{") {
		return query
	}
	data, err := json.Marshal(map[string]string{"query": query})
	if err != nil {
		return query
	}
	return string(data)
}
