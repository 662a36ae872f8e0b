package main

import (
	"encoding/json"
	"fmt"
	"io"
	"maps"
	"slices"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/tmc/langchaingo/llms"

	"github.com/nigel-daniels/agents-langgraph/pkg/graph"
	"github.com/nigel-daniels/agents-langgraph/pkg/messages"
	"github.com/nigel-daniels/agents-langgraph/pkg/state"
)

var (
	titleStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
	labelStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	nodeStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	pauseStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("11")).Bold(true)
	errorStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("9")).Bold(true)
	boxStyle   = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
	roleStyles = map[llms.ChatMessageType]lipgloss.Style{
		llms.ChatMessageTypeHuman:  lipgloss.NewStyle().Foreground(lipgloss.Color("14")),
		llms.ChatMessageTypeAI:     lipgloss.NewStyle().Foreground(lipgloss.Color("10")),
		llms.ChatMessageTypeTool:   lipgloss.NewStyle().Foreground(lipgloss.Color("13")),
		llms.ChatMessageTypeSystem: lipgloss.NewStyle().Foreground(lipgloss.Color("8")),
	}
)

func printEvent(w io.Writer, ev graph.Event) {
	header := fmt.Sprintf("step %d", ev.Step)
	switch ev.Kind {
	case graph.EventInput:
		header += " " + labelStyle.Render("input")
	case graph.EventInterrupt:
		header += " " + pauseStyle.Render("paused before "+strings.Join(ev.Next, ", "))
	default:
		header += " " + nodeStyle.Render(strings.Join(ev.Nodes, ", "))
	}
	fmt.Fprintln(w, titleStyle.Render(header))

	for _, node := range slices.Sorted(maps.Keys(ev.Updates)) {
		fmt.Fprintf(w, "  %s %s\n", labelStyle.Render(node+":"), formatState(ev.Updates[node]))
	}
	if len(ev.Next) > 0 && ev.Kind != graph.EventInterrupt {
		fmt.Fprintf(w, "  %s %s\n", labelStyle.Render("next:"), strings.Join(ev.Next, ", "))
	}
}

func printResult(w io.Writer, res *graph.Result) {
	status := nodeStyle.Render(string(res.Status))
	if res.Status == graph.StatusInterrupted {
		status = pauseStyle.Render(fmt.Sprintf("%s before %s", res.Status, res.Interrupt))
	}
	body := fmt.Sprintf("%s %s\n%s %s\n%s %d",
		labelStyle.Render("status:"), status,
		labelStyle.Render("checkpoint:"), res.Checkpoint.CheckpointID,
		labelStyle.Render("steps:"), res.Steps,
	)
	fmt.Fprintln(w, boxStyle.Render(body))
}

func printSnapshot(w io.Writer, snap *graph.Snapshot) {
	fmt.Fprintf(w, "%s %s %s\n",
		titleStyle.Render(fmt.Sprintf("#%d", snap.Step)),
		snap.Ref.CheckpointID,
		labelStyle.Render(fmt.Sprintf("(%s by %s)", snap.Source, strings.Join(snap.Nodes, ", "))),
	)
	if snap.Parent.CheckpointID != "" {
		fmt.Fprintf(w, "  %s %s\n", labelStyle.Render("parent:"), snap.Parent.CheckpointID)
	}
	if len(snap.Next) > 0 {
		fmt.Fprintf(w, "  %s %s\n", labelStyle.Render("next:"), strings.Join(snap.Next, ", "))
	}
	fmt.Fprintf(w, "  %s %s\n", labelStyle.Render("values:"), formatState(snap.Values))
}

func printMessages(w io.Writer, msgs []messages.Message) {
	for _, m := range msgs {
		style, ok := roleStyles[m.Role]
		if !ok {
			style = labelStyle
		}
		line := m.Content
		for _, call := range m.ToolCalls {
			if call.FunctionCall != nil {
				line += fmt.Sprintf("\n  -> %s(%s) [%s]", call.FunctionCall.Name, call.FunctionCall.Arguments, call.ID)
			}
		}
		fmt.Fprintf(w, "%s %s\n", style.Render(string(m.Role)+":"), line)
	}
}

func printError(w io.Writer, err error) {
	fmt.Fprintln(w, errorStyle.Render("error: ")+err.Error())
	if ref, ok := graph.LastCheckpoint(err); ok {
		fmt.Fprintf(w, "  %s %s\n", labelStyle.Render("last checkpoint:"), ref.CheckpointID)
	}
}

// formatState renders st as compact JSON, truncating long values.
func formatState(st state.State) string {
	data, err := json.Marshal(st)
	if err != nil {
		return fmt.Sprintf("%v", map[string]any(st))
	}
	const limit = 240
	if len(data) > limit {
		return string(data[:limit]) + "..."
	}
	return string(data)
}
