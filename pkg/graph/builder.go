package graph

import (
	"context"
	"fmt"

	"github.com/davidthor/tok/internal/ctxlog"
)

// DepthPolicy decides which descents consume the successor depth budget.
type DepthPolicy string

const (
	// DepthForward decrements the budget only when descending into a
	// successor.
	DepthForward DepthPolicy = "forward"

	// DepthBoth decrements the budget on every descent.
	DepthBoth DepthPolicy = "both"
)

// ParseDepthPolicy validates a policy name; the empty string selects
// DepthForward.
func ParseDepthPolicy(s string) (DepthPolicy, error) {
	switch DepthPolicy(s) {
	case "", DepthForward:
		return DepthForward, nil
	case DepthBoth:
		return DepthBoth, nil
	default:
		return "", fmt.Errorf("unknown depth policy %q (want %q or %q)", s, DepthForward, DepthBoth)
	}
}

// branch is the set of ids on the current recursion path.
type branch map[string]struct{}

func (b branch) has(id string) bool {
	_, ok := b[id]
	return ok
}

// Builder links loaded nodes into a graph by walking declared constraints
// outwards from a start node. Declared cycles are broken as they are found:
// an id already on the current predecessor (or successor) path is skipped.
type Builder[R, P any] struct {
	graph  *Graph[P]
	loader *Loader[R, P]
	depth  int
	policy DepthPolicy
}

// NewBuilder creates a builder. A negative depth leaves successor expansion
// unlimited; zero disables it.
func NewBuilder[R, P any](g *Graph[P], loader *Loader[R, P], depth int, policy DepthPolicy) *Builder[R, P] {
	if policy == "" {
		policy = DepthForward
	}
	return &Builder[R, P]{
		graph:  g,
		loader: loader,
		depth:  depth,
		policy: policy,
	}
}

// Depth returns the configured successor depth.
func (b *Builder[R, P]) Depth() int {
	return b.depth
}

// Build links everything reachable from start using the configured depth.
func (b *Builder[R, P]) Build(ctx context.Context, start *Node[P]) error {
	return b.BuildDepth(ctx, start, b.depth)
}

// BuildDepth links everything reachable from start using an explicit depth.
func (b *Builder[R, P]) BuildDepth(ctx context.Context, start *Node[P], depth int) error {
	return b.build(ctx, start, branch{}, branch{}, depth)
}

func (b *Builder[R, P]) build(ctx context.Context, n *Node[P], pbranch, sbranch branch, depth int) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if depth != 0 {
		if err := b.forward(ctx, n, sbranch, depth); err != nil {
			return err
		}
	}
	return b.backward(ctx, n, pbranch, depth)
}

// forward links the nodes n declares itself before. Each successor is also
// pinned under the root so it is reachable from the start of the document.
func (b *Builder[R, P]) forward(ctx context.Context, n *Node[P], sbranch branch, depth int) error {
	sbranch[n.ID] = struct{}{}
	defer delete(sbranch, n.ID)

	root := b.graph.Root()
	for _, id := range n.Before {
		succ, err := b.loader.Load(ctx, b.graph, id)
		if err != nil {
			return err
		}
		if sbranch.has(succ.ID) {
			ctxlog.FromContext(ctx).Debug("skipping cyclic successor", "node", n.ID, "successor", succ.ID)
			continue
		}
		if !b.graph.AddPredecessor(succ, n) {
			continue
		}
		b.graph.AddPredecessor(root, succ)

		if err := b.build(ctx, succ, branch{}, sbranch, b.descend(depth, true)); err != nil {
			return err
		}
	}
	return nil
}

// backward links the nodes n declares itself after.
func (b *Builder[R, P]) backward(ctx context.Context, n *Node[P], pbranch branch, depth int) error {
	pbranch[n.ID] = struct{}{}
	defer delete(pbranch, n.ID)

	for _, id := range n.After {
		pred, err := b.loader.Load(ctx, b.graph, id)
		if err != nil {
			return err
		}
		if pbranch.has(pred.ID) {
			ctxlog.FromContext(ctx).Debug("skipping cyclic predecessor", "node", n.ID, "predecessor", pred.ID)
			continue
		}
		if !b.graph.AddPredecessor(n, pred) {
			continue
		}

		if err := b.build(ctx, pred, pbranch, branch{}, b.descend(depth, false)); err != nil {
			return err
		}
	}
	return nil
}

func (b *Builder[R, P]) descend(depth int, successor bool) int {
	if depth <= 0 {
		return depth
	}
	if successor || b.policy == DepthBoth {
		return depth - 1
	}
	return depth
}
