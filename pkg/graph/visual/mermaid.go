// Package visual renders the topic graph as a diagram.
// It operates directly on *graph.Graph and knows nothing about topic payloads;
// callers supply a label function when they want more than the node id.
package visual

import (
	"fmt"
	"path"
	"sort"
	"strings"

	"github.com/davidthor/tok/pkg/graph"
)

// MermaidOptions controls how a graph is rendered to a Mermaid flowchart.
type MermaidOptions[P any] struct {
	// GroupByDirectory uses subgraphs to group topics by the directory part
	// of their id.
	GroupByDirectory bool

	// Direction is the flowchart direction: "TD" (top-down) or "LR" (left-right).
	// Defaults to "TD" if empty.
	Direction string

	// Title is an optional diagram title rendered in the front matter.
	Title string

	// IncludeRoot draws the synthetic root and its edges.
	IncludeRoot bool

	// ShowCost appends the aggregate cost to every label.
	ShowCost bool

	// Label returns the display text of a node. Defaults to the node id.
	Label func(*graph.Node[P]) string
}

// RenderMermaid generates a Mermaid flowchart of the graph's current edges.
// Arrows point from a prerequisite to the topic that needs it.
func RenderMermaid[P any](g *graph.Graph[P], opts MermaidOptions[P]) (string, error) {
	if g == nil {
		return "", fmt.Errorf("graph is nil")
	}

	direction := opts.Direction
	if direction == "" {
		direction = "TD"
	}

	nodes := visibleNodes(g, opts.IncludeRoot)

	var b strings.Builder

	if opts.Title != "" {
		b.WriteString(fmt.Sprintf("---\ntitle: %s\n---\n", opts.Title))
	}

	b.WriteString(fmt.Sprintf("flowchart %s\n", direction))

	displayIDs := make(map[int]string, len(nodes))
	for _, node := range nodes {
		displayIDs[node.Index()] = mermaidID(node)
	}

	if opts.GroupByDirectory {
		renderGrouped(&b, nodes, displayIDs, opts)
	} else {
		renderFlat(&b, nodes, displayIDs, opts)
	}

	renderEdges(&b, g, nodes, displayIDs)

	return b.String(), nil
}

// renderFlat declares all nodes without subgraphs.
func renderFlat[P any](b *strings.Builder, nodes []*graph.Node[P], displayIDs map[int]string, opts MermaidOptions[P]) {
	for _, node := range nodes {
		b.WriteString(fmt.Sprintf("    %s[\"%s\"]\n", displayIDs[node.Index()], escapeMermaidLabel(nodeLabel(node, opts))))
	}
	b.WriteString("\n")
}

// renderGrouped declares nodes grouped by directory using Mermaid subgraphs.
func renderGrouped[P any](b *strings.Builder, nodes []*graph.Node[P], displayIDs map[int]string, opts MermaidOptions[P]) {
	dirNodes := make(map[string][]*graph.Node[P])
	var dirOrder []string
	for _, node := range nodes {
		dir := directoryOf(node)
		if _, seen := dirNodes[dir]; !seen {
			dirOrder = append(dirOrder, dir)
		}
		dirNodes[dir] = append(dirNodes[dir], node)
	}

	for _, dir := range dirOrder {
		b.WriteString(fmt.Sprintf("    subgraph %s [\"%s\"]\n", sanitizeSubgraphID(dir), escapeMermaidLabel(dir)))
		for _, node := range dirNodes[dir] {
			b.WriteString(fmt.Sprintf("        %s[\"%s\"]\n", displayIDs[node.Index()], escapeMermaidLabel(nodeLabel(node, opts))))
		}
		b.WriteString("    end\n\n")
	}
}

// renderEdges draws one arrow per predecessor edge between visible nodes.
func renderEdges[P any](b *strings.Builder, g *graph.Graph[P], nodes []*graph.Node[P], displayIDs map[int]string) {
	for _, node := range nodes {
		did := displayIDs[node.Index()]
		preds := g.Predecessors(node)
		sort.Slice(preds, func(i, j int) bool { return preds[i].ID < preds[j].ID })

		for _, pred := range preds {
			if pdid, ok := displayIDs[pred.Index()]; ok {
				b.WriteString(fmt.Sprintf("    %s --> %s\n", pdid, did))
			}
		}
	}
}

// visibleNodes returns the nodes to draw, sorted by id for deterministic
// output.
func visibleNodes[P any](g *graph.Graph[P], includeRoot bool) []*graph.Node[P] {
	var nodes []*graph.Node[P]
	for _, n := range g.Nodes() {
		if n.ID == graph.RootID && !includeRoot {
			continue
		}
		nodes = append(nodes, n)
	}
	sort.Slice(nodes, func(i, j int) bool { return nodes[i].ID < nodes[j].ID })
	return nodes
}

// mermaidID creates a Mermaid-safe node identifier. Topic ids are file paths
// that may contain any character, so the arena index is used instead.
func mermaidID[P any](node *graph.Node[P]) string {
	if node.ID == graph.RootID {
		return "root"
	}
	return fmt.Sprintf("t%d", node.Index())
}

// sanitizeSubgraphID creates a safe subgraph identifier from a directory.
func sanitizeSubgraphID(dir string) string {
	r := strings.NewReplacer("/", "_", "-", "_", ".", "_", " ", "_", `\`, "_")
	return "sg_" + r.Replace(dir)
}

func directoryOf[P any](node *graph.Node[P]) string {
	dir := path.Dir(strings.ReplaceAll(node.ID, `\`, "/"))
	if dir == "." || node.ID == graph.RootID {
		return "."
	}
	return dir
}

func nodeLabel[P any](node *graph.Node[P], opts MermaidOptions[P]) string {
	label := node.ID
	if opts.Label != nil && node.ID != graph.RootID {
		if l := opts.Label(node); l != "" {
			label = l
		}
	}
	if opts.ShowCost {
		label = fmt.Sprintf("%s (%d)", label, node.AggregateCost())
	}
	return label
}

// escapeMermaidLabel escapes characters that have special meaning in Mermaid labels.
func escapeMermaidLabel(s string) string {
	s = strings.ReplaceAll(s, `"`, `#quot;`)
	return s
}
