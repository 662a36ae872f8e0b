package main

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/tools"

	"github.com/nigel-daniels/agents-langgraph/pkg/agents"
	"github.com/nigel-daniels/agents-langgraph/pkg/channels"
	"github.com/nigel-daniels/agents-langgraph/pkg/checkpoints"
	"github.com/nigel-daniels/agents-langgraph/pkg/graph"
	"github.com/nigel-daniels/agents-langgraph/pkg/state"
)

// Graph names accepted by --graph.
const (
	graphCounter  = "counter"
	graphResearch = "research"
	graphWriter   = "writer"
)

var graphNames = []string{graphCounter, graphResearch, graphWriter}

var errOffline = errors.New("model is not available when inspecting a graph")

func schemaFor(name string) (*channels.Schema, error) {
	switch name {
	case graphCounter:
		return agents.CounterSchema(), nil
	case graphResearch:
		return agents.ResearchSchema(), nil
	case graphWriter:
		return agents.WriterSchema(), nil
	default:
		return nil, errors.Errorf("unknown graph %q, expected one of %s", name, strings.Join(graphNames, ", "))
	}
}

// compile builds the named graph on store. With offline set the model and search
// tool fail on use, which is enough to inspect the graph structure.
func (a *app) compile(name string, store checkpoints.Store, offline bool) (*graph.CompiledGraph, error) {
	opts := a.graphOptions(store)
	if name == graphCounter {
		return agents.NewCounter(agents.DefaultCounterLimit, opts...)
	}

	var (
		model  llms.Model = offlineModel{}
		search tools.Tool = offlineTool{}
	)
	if !offline {
		var err error
		if model, search, err = a.newModelAndSearch(); err != nil {
			return nil, err
		}
	}

	switch name {
	case graphResearch:
		agent, err := agents.NewResearchAgent(model, []tools.Tool{search},
			agents.WithTemperature(a.cfg.Model.Temperature),
			agents.WithGraphOptions(opts...),
		)
		if err != nil {
			return nil, err
		}
		return agent.Graph(), nil
	case graphWriter:
		w, err := agents.NewWriter(model, search,
			agents.WithWriterTemperature(a.cfg.Model.Temperature),
			agents.WithWriterGraphOptions(opts...),
		)
		if err != nil {
			return nil, err
		}
		return w.Graph(), nil
	default:
		_, err := schemaFor(name)
		return nil, err
	}
}

func newHistoryCmd(a *app) *cobra.Command {
	var (
		graphName string
		limit     int
	)
	cmd := &cobra.Command{
		Use:   "history",
		Short: "List the checkpoints of a thread, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			schema, err := schemaFor(graphName)
			if err != nil {
				return err
			}
			return a.withStore(func(store checkpoints.Store) error {
				out := cmd.OutOrStdout()
				n := 0
				for cp, err := range checkpoints.History(cmd.Context(), store, a.threadID, 0) {
					if err != nil {
						return err
					}
					values, err := schema.Decode(cp.Values)
					if err != nil {
						return errors.Wrapf(err, "failed to decode checkpoint %s", cp.Ref())
					}
					printSnapshot(out, &graph.Snapshot{
						Ref:       cp.Ref(),
						Parent:    cp.ParentRef(),
						Values:    values,
						Next:      cp.Next,
						Nodes:     cp.Nodes,
						Source:    cp.Source,
						Step:      cp.Step,
						CreatedAt: cp.CreatedAt,
					})
					n++
					if limit > 0 && n >= limit {
						break
					}
				}
				if n == 0 {
					fmt.Fprintf(out, "thread %s has no checkpoints\n", a.threadID)
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVarP(&graphName, "graph", "g", graphCounter, "graph the thread belongs to: "+strings.Join(graphNames, ", "))
	cmd.Flags().IntVarP(&limit, "limit", "n", 0, "show at most this many checkpoints")
	return cmd
}

func newReplayCmd(a *app) *cobra.Command {
	var (
		graphName    string
		checkpointID string
		asNode       string
		set          []string
	)
	cmd := &cobra.Command{
		Use:   "replay",
		Short: "Resume a thread from an earlier checkpoint, optionally editing its state first",
		Long: `Replay forks the thread at --checkpoint and runs it from there. Checkpoints
written before the fork are kept, so the original branch stays inspectable.

Values given with --set are applied as an update first, as if written by --as-node.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if checkpointID == "" {
				return errors.New("--checkpoint is required")
			}
			update, err := parseSet(set)
			if err != nil {
				return err
			}
			return a.withStore(func(store checkpoints.Store) error {
				g, err := a.compile(graphName, store, false)
				if err != nil {
					return err
				}

				from := checkpointID
				if len(update) > 0 {
					snap, err := g.UpdateState(cmd.Context(), checkpoints.Ref{ThreadID: a.threadID, CheckpointID: checkpointID}, update, asNode)
					if err != nil {
						return err
					}
					fmt.Fprintln(cmd.OutOrStdout(), titleStyle.Render("updated"))
					printSnapshot(cmd.OutOrStdout(), snap)
					from = snap.Ref.CheckpointID
				}
				return streamRun(cmd, g, a.threadID, nil, graph.WithCheckpointID(from))
			})
		},
	}
	cmd.Flags().StringVarP(&graphName, "graph", "g", graphCounter, "graph the thread belongs to: "+strings.Join(graphNames, ", "))
	cmd.Flags().StringVar(&checkpointID, "checkpoint", "", "checkpoint to resume from")
	cmd.Flags().StringVar(&asNode, "as-node", "", "node the update is attributed to")
	cmd.Flags().StringArrayVar(&set, "set", nil, "channel=value update, the value parsed as JSON when possible")
	return cmd
}

func newGraphCmd(a *app) *cobra.Command {
	var mermaid bool
	cmd := &cobra.Command{
		Use:       "graph <name>",
		Short:     "Print the structure of a graph",
		Args:      cobra.ExactArgs(1),
		ValidArgs: graphNames,
		RunE: func(cmd *cobra.Command, args []string) error {
			g, err := a.compile(args[0], checkpoints.NewMemoryStore(), true)
			if err != nil {
				return err
			}
			if mermaid {
				fmt.Fprintln(cmd.OutOrStdout(), g.Mermaid())
				return nil
			}
			g.PrintGraph(cmd.OutOrStdout())
			return nil
		},
	}
	cmd.Flags().BoolVar(&mermaid, "mermaid", false, "print a Mermaid flowchart")
	return cmd
}

// parseSet turns key=value pairs into a state update. Values that are not valid
// JSON are taken as strings.
func parseSet(pairs []string) (state.State, error) {
	update := make(state.State, len(pairs))
	for _, pair := range pairs {
		key, raw, ok := strings.Cut(pair, "=")
		if !ok || key == "" {
			return nil, errors.Errorf("invalid --set %q, expected channel=value", pair)
		}
		var value any
		if err := json.Unmarshal([]byte(raw), &value); err != nil {
			value = raw
		}
		// JSON numbers decode as float64; whole numbers are passed as ints.
		if f, ok := value.(float64); ok && f == float64(int(f)) {
			value = int(f)
		}
		update[key] = value
	}
	return update, nil
}

type offlineModel struct{}

func (offlineModel) GenerateContent(context.Context, []llms.MessageContent, ...llms.CallOption) (*llms.ContentResponse, error) {
	return nil, errOffline
}

func (offlineModel) Call(context.Context, string, ...llms.CallOption) (string, error) {
	return "", errOffline
}

type offlineTool struct{}

func (offlineTool) Name() string        { return "search" }
func (offlineTool) Description() string { return "unavailable search" }
func (offlineTool) Call(context.Context, string) (string, error) {
	return "", errOffline
}
