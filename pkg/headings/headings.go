// Package headings derives chapter and section headings from the shape of a
// sequenced topic graph. A topic whose sub-graph is large compared to the
// rest of the document, and which sits beside other branches, starts a new
// heading level below its parent.
package headings

import (
	"github.com/davidthor/tok/pkg/graph"
)

// MaxDepth is the deepest heading level that is ever rendered.
const MaxDepth = 6

// Section holds the heading titles inserted before a topic. Titles[k] is
// rendered at level Start+k; empty titles leave that level out.
type Section struct {
	Start  int
	Titles []string
}

// MinCost returns the aggregate cost a topic needs to qualify for a heading.
// sortedCosts must be sorted ascending. Costs are ranked h-index style and,
// unless extra headings are requested, every rank is raised by the sixth
// largest cost so only the heaviest branches qualify.
func MinCost(extra bool, sortedCosts []int) int {
	n := len(sortedCosts)
	if n == 0 {
		return 0
	}

	rank := make([]int, n)
	j := 0
	for i := 1; i < n; i++ {
		j++
		if sortedCosts[i-1] < sortedCosts[i] {
			rank[i] = j
		} else {
			rank[i] = rank[i-1]
		}
	}

	if !extra {
		minCostIndex := n - 1
		if n >= 6 {
			minCostIndex = n - 6
		}
		for i := range rank {
			rank[i] += sortedCosts[minCostIndex]
		}
	}

	for i, cost := range sortedCosts {
		if cost >= rank[i] {
			return cost
		}
	}
	return 0
}

// SetDepths assigns heading depths from the root down: a predecessor whose
// aggregate cost exceeds minCost, and whose parent has more than one
// predecessor, sits one level below its parent. Each node is expanded once;
// a node reached through several parents keeps the depth of the last one.
func SetDepths[P any](g *graph.Graph[P], minCost int) {
	for _, n := range g.Nodes() {
		n.HeadingDepth = 0
	}
	expanded := make(map[int]bool, g.Len())
	setDepths(g, g.Root(), minCost, expanded)
}

func setDepths[P any](g *graph.Graph[P], n *graph.Node[P], minCost int, expanded map[int]bool) {
	expanded[n.Index()] = true
	preds := g.Predecessors(n)
	for _, p := range preds {
		if p.AggregateCost() > minCost && len(preds) > 1 {
			p.HeadingDepth = n.HeadingDepth + 1
		}
		if !expanded[p.Index()] {
			setDepths(g, p, minCost, expanded)
		}
	}
}

// Titles computes the heading titles for a raw sequence (dependents first,
// as returned by the sequencer). The document is read back to front, so the
// node before a section boundary in raw order is the one that opens the new
// section in the document.
func Titles[P any](raw []*graph.Node[P], label func(*graph.Node[P]) string) map[string]*Section {
	sections := make(map[string]*Section)
	if len(raw) == 0 {
		return sections
	}

	section := func(n *graph.Node[P]) *Section {
		s, ok := sections[n.ID]
		if !ok {
			s = &Section{}
			sections[n.ID] = s
		}
		return s
	}

	for depth := 1; depth <= MaxDepth; depth++ {
		title := ""
		var prev *graph.Node[P]
		for _, n := range raw {
			current := n.HeadingDepth

			if prev != nil && current > 0 && current <= depth {
				s := section(prev)
				s.Titles = append(s.Titles, title)
				s.Start = current
			}

			if current == depth {
				title = label(n)
			} else if current > 0 && current < depth {
				title = ""
			}

			prev = n
		}

		// The last node in raw order opens the document.
		s := section(prev)
		s.Titles = append(s.Titles, title)
		s.Start = 1
	}

	return sections
}

// Deepest returns the largest heading depth among nodes, capped at MaxDepth.
func Deepest[P any](nodes []*graph.Node[P]) int {
	deepest := 0
	for _, n := range nodes {
		if n.HeadingDepth > deepest {
			deepest = n.HeadingDepth
		}
	}
	if deepest > MaxDepth {
		return MaxDepth
	}
	return deepest
}
