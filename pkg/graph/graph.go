package graph

import (
	"fmt"
	"sort"
)

// Graph is the registry of topic nodes. Nodes live in an arena and are
// addressed by stable integer indices; the id index guarantees at most one
// node per identity. The synthetic root is always at index 0.
//
// A Graph is not safe for concurrent use.
type Graph[P any] struct {
	nodes []*Node[P]
	index map[string]int
}

// New creates a graph containing only the synthetic root node.
func New[P any](rootPayload P) *Graph[P] {
	g := &Graph[P]{
		index: make(map[string]int),
	}
	root := NewNode(RootID, rootPayload)
	_, _ = g.Add(root)
	return g
}

// Root returns the synthetic root node.
func (g *Graph[P]) Root() *Node[P] {
	return g.nodes[0]
}

// Len returns the number of nodes, including the root.
func (g *Graph[P]) Len() int {
	return len(g.nodes)
}

// Add inserts a node into the registry.
func (g *Graph[P]) Add(n *Node[P]) (*Node[P], error) {
	if _, exists := g.index[n.ID]; exists {
		return nil, fmt.Errorf("node %s already exists", n.ID)
	}
	n.index = len(g.nodes)
	n.preds = nil
	n.successors = 0
	g.nodes = append(g.nodes, n)
	g.index[n.ID] = n.index
	return n, nil
}

// Node returns a node by id.
func (g *Graph[P]) Node(id string) (*Node[P], bool) {
	i, ok := g.index[id]
	if !ok {
		return nil, false
	}
	return g.nodes[i], true
}

// At returns the node at an arena index.
func (g *Graph[P]) At(i int) *Node[P] {
	return g.nodes[i]
}

// Nodes returns every node in insertion order.
func (g *Graph[P]) Nodes() []*Node[P] {
	out := make([]*Node[P], len(g.nodes))
	copy(out, g.nodes)
	return out
}

// Predecessors returns the resolved predecessors of n in their current
// order.
func (g *Graph[P]) Predecessors(n *Node[P]) []*Node[P] {
	out := make([]*Node[P], len(n.preds))
	for i, p := range n.preds {
		out[i] = g.nodes[p]
	}
	return out
}

// NumEdges returns the total number of predecessor edges.
func (g *Graph[P]) NumEdges() int {
	total := 0
	for _, n := range g.nodes {
		total += len(n.preds)
	}
	return total
}

// HasPredecessor reports whether pred is a direct predecessor of n.
func (g *Graph[P]) HasPredecessor(n, pred *Node[P]) bool {
	_, found := g.predecessorPos(n, pred)
	return found
}

// AddPredecessor links pred as a predecessor of n. Predecessors are kept
// sorted by id and free of duplicates; a new edge increments the
// predecessor's successor count. It reports whether an edge was added.
func (g *Graph[P]) AddPredecessor(n, pred *Node[P]) bool {
	if n.index == pred.index {
		return false
	}
	pos, found := g.predecessorPos(n, pred)
	if found {
		return false
	}
	n.preds = append(n.preds, 0)
	copy(n.preds[pos+1:], n.preds[pos:])
	n.preds[pos] = pred.index
	pred.successors++
	return true
}

// RemovePredecessor unlinks pred from n; it does nothing if pred is not a
// predecessor.
func (g *Graph[P]) RemovePredecessor(n, pred *Node[P]) {
	for i, p := range n.preds {
		if p == pred.index {
			g.removePredecessorAt(n, i)
			return
		}
	}
}

func (g *Graph[P]) removePredecessorAt(n *Node[P], i int) {
	if i < 0 || i >= len(n.preds) {
		return
	}
	g.nodes[n.preds[i]].successors--
	n.preds = append(n.preds[:i], n.preds[i+1:]...)
}

// predecessorPos reports whether pred is linked to n and, if not, where it
// belongs in the id-sorted predecessor list.
func (g *Graph[P]) predecessorPos(n, pred *Node[P]) (int, bool) {
	for _, p := range n.preds {
		if p == pred.index {
			return 0, true
		}
	}
	pos := sort.Search(len(n.preds), func(i int) bool {
		return g.nodes[n.preds[i]].ID >= pred.ID
	})
	return pos, false
}

// ResetEdges removes every edge and clears all derived state. Loaded nodes
// stay in the registry.
func (g *Graph[P]) ResetEdges() {
	for _, n := range g.nodes {
		n.preds = nil
		n.successors = 0
		n.cost = 0
		n.visits = 0
		n.emitted = false
	}
}

// ResetTraversal clears the per-run sequencing state.
func (g *Graph[P]) ResetTraversal() {
	for _, n := range g.nodes {
		n.visits = 0
		n.emitted = false
	}
}
