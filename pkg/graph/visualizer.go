package graph

import (
	"fmt"
	"io"
	"slices"
	"strings"
)

// Info represents the graph structure for visualization
type Info struct {
	EntryPoint      string
	Nodes           []string
	InterruptBefore []string
	Edges           []EdgeInfo
}

type EdgeInfo struct {
	From string
	To   string
	// Label is the router label of a conditional edge
	Label       string
	Conditional bool
}

// GetGraphInfo returns the nodes in declaration order followed by static and
// conditional edges.
func (cg *CompiledGraph) GetGraphInfo() *Info {
	info := &Info{
		EntryPoint:      cg.entryPoint,
		Nodes:           cg.Nodes(),
		InterruptBefore: cg.InterruptBefore(),
	}

	for _, from := range info.Nodes {
		for _, to := range cg.edges[from] {
			info.Edges = append(info.Edges, EdgeInfo{From: from, To: to})
		}
		for _, br := range cg.branches[from] {
			labels := make([]string, 0, len(br.Routes))
			for label := range br.Routes {
				labels = append(labels, label)
			}
			slices.Sort(labels)
			for _, label := range labels {
				info.Edges = append(info.Edges, EdgeInfo{From: from, To: br.Routes[label], Label: label, Conditional: true})
			}
		}
	}
	return info
}

// PrintGraph writes a plain text representation of the graph
func (cg *CompiledGraph) PrintGraph(w io.Writer) {
	info := cg.GetGraphInfo()

	fmt.Fprintln(w, "Graph Structure:")
	fmt.Fprintf(w, "Entry Point: %s\n\n", info.EntryPoint)

	fmt.Fprintln(w, "Nodes:")
	for _, node := range info.Nodes {
		switch {
		case node == info.EntryPoint:
			fmt.Fprintf(w, "  * %s (Entry)\n", node)
		case slices.Contains(info.InterruptBefore, node):
			fmt.Fprintf(w, "  - %s (Interrupt)\n", node)
		default:
			fmt.Fprintf(w, "  - %s\n", node)
		}
	}

	fmt.Fprintln(w, "\nEdges:")
	for _, edge := range info.Edges {
		if edge.Conditional {
			fmt.Fprintf(w, "  %s --[%s]--> %s\n", edge.From, edge.Label, edge.To)
		} else {
			fmt.Fprintf(w, "  %s --> %s\n", edge.From, edge.To)
		}
	}
}

// Mermaid renders the graph as a mermaid flowchart.
func (cg *CompiledGraph) Mermaid() string {
	info := cg.GetGraphInfo()
	id := func(name string) string {
		return strings.NewReplacer("-", "_", " ", "_", ".", "_").Replace(name)
	}

	var b strings.Builder
	b.WriteString("flowchart TD\n")
	b.WriteString("\t__start__([start])\n")
	for _, node := range info.Nodes {
		fmt.Fprintf(&b, "\t%s[%s]\n", id(node), node)
	}
	b.WriteString("\t__end__([end])\n")
	fmt.Fprintf(&b, "\t__start__ --> %s\n", id(info.EntryPoint))
	for _, edge := range info.Edges {
		if edge.Conditional {
			fmt.Fprintf(&b, "\t%s -. %s .-> %s\n", id(edge.From), edge.Label, id(edge.To))
		} else {
			fmt.Fprintf(&b, "\t%s --> %s\n", id(edge.From), id(edge.To))
		}
	}
	if len(info.InterruptBefore) > 0 {
		b.WriteString("\tclassDef interrupt stroke-dasharray: 5 5\n")
	}
	for _, node := range info.InterruptBefore {
		fmt.Fprintf(&b, "\tclass %s interrupt\n", id(node))
	}
	return b.String()
}
