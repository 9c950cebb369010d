package graph

import (
	"context"

	"github.com/davidthor/tok/internal/ctxlog"
)

// costRun holds the memo and the in-progress marks of one evaluation.
type costRun[P any] struct {
	ctx    context.Context
	g      *Graph[P]
	done   []bool
	active []bool
}

// EvaluateCost recomputes the aggregate cost of every node reachable from
// start and returns the cost of start. A node's aggregate cost is its
// intrinsic cost plus the aggregate cost of each direct predecessor. A
// predecessor already on the evaluation stack contributes nothing.
func (g *Graph[P]) EvaluateCost(ctx context.Context, start *Node[P]) int {
	for _, n := range g.nodes {
		n.cost = n.IntrinsicCost
	}
	run := &costRun[P]{
		ctx:    ctx,
		g:      g,
		done:   make([]bool, len(g.nodes)),
		active: make([]bool, len(g.nodes)),
	}
	return run.eval(start.index)
}

func (r *costRun[P]) eval(i int) int {
	n := r.g.nodes[i]
	r.active[i] = true

	total := n.IntrinsicCost
	for _, p := range n.preds {
		switch {
		case r.active[p]:
			ctxlog.FromContext(r.ctx).Debug("skipping cyclic cost edge", "node", n.ID, "predecessor", r.g.nodes[p].ID)
		case r.done[p]:
			total += r.g.nodes[p].cost
		default:
			total += r.eval(p)
		}
	}

	r.active[i] = false
	r.done[i] = true
	n.cost = total
	return total
}
