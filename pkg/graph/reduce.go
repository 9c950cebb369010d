package graph

import "sort"

// Reduce removes direct edges from n to any grandchild that is also
// reachable through one of n's children. When every direct edge would be
// removed (a cyclic cluster), the edge at index 0 is kept so n stays
// connected.
func (g *Graph[P]) Reduce(n *Node[P]) {
	if len(n.preds) == 0 {
		return
	}

	position := make(map[int]int, len(n.preds))
	for i, p := range n.preds {
		position[p] = i
	}

	marked := make(map[int]bool)
	var remove []int
	for _, child := range n.preds {
		for _, grandchild := range g.nodes[child].preds {
			i, direct := position[grandchild]
			if !direct || marked[i] {
				continue
			}
			marked[i] = true
			remove = append(remove, i)
		}
	}
	if len(remove) == 0 {
		return
	}

	keep := -1
	if len(remove) == len(n.preds) {
		keep = 0
	}

	// Remove from the back so earlier positions stay valid.
	sort.Sort(sort.Reverse(sort.IntSlice(remove)))
	for _, i := range remove {
		if i == keep {
			continue
		}
		g.removePredecessorAt(n, i)
	}
}

// ReduceAll reduces every node in the graph.
func (g *Graph[P]) ReduceAll() {
	for _, n := range g.nodes {
		g.Reduce(n)
	}
}
