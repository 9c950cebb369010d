package graph

// Sequence walks the graph from start and returns the nodes in discovery
// order. A node is emitted only once all of its successors have reached it,
// so the result lists dependents before their dependencies; reading it back
// to front gives document order. The start node is always emitted first.
//
// The graph must be acyclic; run BreakCycles after building. Every node
// reachable from start is then emitted exactly once.
func (g *Graph[P]) Sequence(start *Node[P]) []*Node[P] {
	g.ResetTraversal()

	out := []*Node[P]{start}
	start.emitted = true
	// The start node has no incoming edge to count, so it begins fully
	// discovered.
	start.visits = start.successors

	stack := []int{start.index}
	for len(stack) > 0 {
		top := len(stack) - 1
		n := g.nodes[stack[top]]
		stack = stack[:top]

		if n.visits > n.successors {
			continue
		}
		n.visits++

		if n.visits >= n.successors {
			stack = append(stack, n.preds...)
		}
		if n.visits == n.successors && !n.emitted {
			n.emitted = true
			out = append(out, n)
		}
	}
	return out
}

// Reversed returns a reversed copy of nodes.
func Reversed[P any](nodes []*Node[P]) []*Node[P] {
	out := make([]*Node[P], len(nodes))
	for i, n := range nodes {
		out[len(nodes)-1-i] = n
	}
	return out
}
