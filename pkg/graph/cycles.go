package graph

// BreakCycles removes the edges that close a cycle among the nodes reachable
// from the root. It walks predecessors depth first, in list order, and drops
// every edge that leads back to a node still on the walk. Cycles declared
// through a mix of before and after constraints slip past the builder's
// path checks and are caught here.
//
// Successor counts follow the removed edges. It returns the number of edges
// removed.
func (g *Graph[P]) BreakCycles() int {
	const (
		white = iota
		gray
		black
	)

	type edge struct{ node, pred int }

	color := make([]int, len(g.nodes))
	var back []edge

	var visit func(i int)
	visit = func(i int) {
		color[i] = gray
		for _, p := range g.nodes[i].preds {
			switch color[p] {
			case white:
				visit(p)
			case gray:
				back = append(back, edge{node: i, pred: p})
			}
		}
		color[i] = black
	}
	visit(g.Root().index)

	for _, e := range back {
		g.RemovePredecessor(g.nodes[e.node], g.nodes[e.pred])
	}
	return len(back)
}
