// Package graph builds, reduces and sequences the topic dependency graph.
//
// Topics declare ordering constraints against each other ("after" and
// "before" lists). The graph is constructed lazily from a synthetic root,
// cycles in the declared constraints are broken during construction, redundant
// transitive edges are removed, and a deterministic order is produced by a
// fan-in counting depth-first traversal.
package graph

import (
	"fmt"
	"sort"
)

// RootID is the identity of the synthetic root node every build starts from.
const RootID = "//"

// Deadline is the calendar date by which a topic is due.
type Deadline struct {
	Year  int
	Month int
	Day   int
}

// Compare orders deadlines by year, then month, then day.
func (d Deadline) Compare(o Deadline) int {
	switch {
	case d.Year != o.Year:
		return compareInt(d.Year, o.Year)
	case d.Month != o.Month:
		return compareInt(d.Month, o.Month)
	default:
		return compareInt(d.Day, o.Day)
	}
}

func (d Deadline) String() string {
	return fmt.Sprintf("%04d-%02d-%02d", d.Year, d.Month, d.Day)
}

// Node is a vertex of the topic graph. Nodes are owned by a Graph and
// reference each other by arena index.
type Node[P any] struct {
	// Canonical identity; also the equality key
	ID string

	// Declared constraints: this node must come before/after the listed ids
	Before []string
	After  []string

	// Cost of this node alone
	IntrinsicCost int

	// Optional deadline
	Deadline *Deadline

	// Opaque data owned by this node
	Payload P

	// HeadingDepth is written by the headings pass; zero means no heading.
	HeadingDepth int

	index      int
	preds      []int
	successors int
	visits     int
	cost       int
	emitted    bool
}

// NewNode creates a node that is not yet part of any graph.
func NewNode[P any](id string, payload P) *Node[P] {
	return &Node[P]{
		ID:      id,
		Before:  []string{},
		After:   []string{},
		Payload: payload,
		index:   -1,
	}
}

// Index returns the arena index of the node, or -1 if it was never added.
func (n *Node[P]) Index() int {
	return n.index
}

// SuccessorCount returns the number of nodes that hold this node as a
// predecessor.
func (n *Node[P]) SuccessorCount() int {
	return n.successors
}

// NumPredecessors returns the number of resolved predecessor edges.
func (n *Node[P]) NumPredecessors() int {
	return len(n.preds)
}

// AggregateCost returns the cost of the sub-graph rooted at this node as of
// the last cost evaluation.
func (n *Node[P]) AggregateCost() int {
	return n.cost
}

// Emitted reports whether the last sequencing run placed this node in its
// output.
func (n *Node[P]) Emitted() bool {
	return n.emitted
}

// HasDeadline reports whether the node carries a deadline.
func (n *Node[P]) HasDeadline() bool {
	return n.Deadline != nil
}

// DedupConstraints sorts the declared constraint lists and removes duplicates.
func (n *Node[P]) DedupConstraints() {
	n.Before = DedupIDs(n.Before)
	n.After = DedupIDs(n.After)
}

// DedupIDs returns the sorted, duplicate-free copy of ids.
func DedupIDs(ids []string) []string {
	out := make([]string, 0, len(ids))
	seen := make(map[string]bool, len(ids))
	for _, id := range ids {
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

func compareInt(a, b int) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}
