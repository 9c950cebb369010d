package graph

import "sort"

// Mode selects the comparator used to order branches.
type Mode string

const (
	ModeCost     Mode = "cost"
	ModeDeadline Mode = "deadline"
)

// Ordering configures how sibling branches are ordered before sequencing.
type Ordering struct {
	Mode    Mode
	Reverse bool
}

// OrderBranches sorts every node's predecessor list. The sort is stable, so
// ties keep their id order.
func (g *Graph[P]) OrderBranches(o Ordering) {
	for _, n := range g.nodes {
		g.orderBranch(n, o)
	}
}

func (g *Graph[P]) orderBranch(n *Node[P], o Ordering) {
	sort.SliceStable(n.preds, func(i, j int) bool {
		return compareNodes(o, g.nodes[n.preds[i]], g.nodes[n.preds[j]]) < 0
	})
}

// compareNodes returns a negative number when a should be sequenced before b.
func compareNodes[P any](o Ordering, a, b *Node[P]) int {
	if o.Mode == ModeDeadline {
		switch {
		case a.Deadline != nil && b.Deadline != nil:
			if c := a.Deadline.Compare(*b.Deadline); c != 0 {
				return c
			}
		case a.Deadline != nil:
			return -1
		case b.Deadline != nil:
			return 1
		}
	}
	if o.Reverse {
		return compareInt(a.cost, b.cost)
	}
	return compareInt(b.cost, a.cost)
}

// DeadlineNodes returns every node with a deadline, earliest first; equal
// deadlines are ordered by id.
func DeadlineNodes[P any](g *Graph[P]) []*Node[P] {
	var out []*Node[P]
	for _, n := range g.nodes {
		if n.Deadline != nil {
			out = append(out, n)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if c := out[i].Deadline.Compare(*out[j].Deadline); c != 0 {
			return c < 0
		}
		return out[i].ID < out[j].ID
	})
	return out
}
