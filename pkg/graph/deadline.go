package graph

import (
	"context"

	"github.com/davidthor/tok/internal/ctxlog"
)

// Merger produces a sequence in which every deadline-bearing topic's
// minimal prerequisite set comes ahead of the unconstrained remainder.
type Merger[R, P any] struct {
	graph    *Graph[P]
	builder  *Builder[R, P]
	ordering Ordering
}

// NewMerger creates a deadline merger over the builder's graph.
func NewMerger[R, P any](g *Graph[P], b *Builder[R, P], o Ordering) *Merger[R, P] {
	return &Merger[R, P]{graph: g, builder: b, ordering: o}
}

// Merge runs one sequencing pass per deadline node, earliest first, each
// restricted to that node's prerequisites, then a final pass over the full
// graph. The result is the full pass followed by the deadline passes, latest
// deadline first, so that reading it back to front puts the earliest
// deadline's prerequisites at the top of the document.
//
// On return the graph holds the edges of the full pass.
func (m *Merger[R, P]) Merge(ctx context.Context, deadlines []*Node[P]) ([]*Node[P], error) {
	logger := ctxlog.FromContext(ctx)
	root := m.graph.Root()
	after := root.After
	defer func() { root.After = after }()

	var acc []*Node[P]
	for _, n := range deadlines {
		logger.Debug("sequencing deadline", "node", n.ID, "deadline", n.Deadline.String())
		root.After = []string{n.ID}
		seq, err := m.pass(ctx, 0)
		if err != nil {
			return nil, err
		}
		acc = append(seq, acc...)
	}

	root.After = after
	full, err := m.pass(ctx, m.builder.Depth())
	if err != nil {
		return nil, err
	}
	return append(full, acc...), nil
}

func (m *Merger[R, P]) pass(ctx context.Context, depth int) ([]*Node[P], error) {
	root := m.graph.Root()
	m.graph.ResetEdges()
	if err := m.builder.BuildDepth(ctx, root, depth); err != nil {
		return nil, err
	}
	if removed := m.graph.BreakCycles(); removed > 0 {
		ctxlog.FromContext(ctx).Debug("broke residual cycles", "edges", removed)
	}
	m.graph.ReduceAll()
	m.graph.EvaluateCost(ctx, root)
	m.graph.OrderBranches(m.ordering)
	return m.graph.Sequence(root), nil
}
