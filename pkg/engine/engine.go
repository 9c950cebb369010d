// Package engine runs the topic ordering pipeline: build the graph from the
// requested topics, reduce it, cost it, sequence it (deadline topics first
// when any exist) and optionally derive headings.
package engine

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/davidthor/tok/internal/ctxlog"
	"github.com/davidthor/tok/pkg/errors"
	"github.com/davidthor/tok/pkg/graph"
	"github.com/davidthor/tok/pkg/headings"
)

// Stage names a step of the pipeline.
type Stage string

const (
	StageBuild     Stage = "build"
	StageReduce    Stage = "reduce"
	StageCost      Stage = "cost"
	StageSequence  Stage = "sequence"
	StageDeadlines Stage = "deadlines"
	StageHeadings  Stage = "headings"
)

// ProgressEvent reports a stage starting or finishing.
type ProgressEvent struct {
	Stage  Stage
	Done   bool
	Detail string
}

// ProgressCallback receives pipeline progress.
type ProgressCallback func(event ProgressEvent)

// Options configures a run.
type Options[P any] struct {
	// Depth bounds successor expansion; negative is unlimited and zero
	// disables it.
	Depth int

	// DepthPolicy decides which descents consume Depth.
	DepthPolicy graph.DepthPolicy

	// Reverse sequences cheaper branches first.
	Reverse bool

	// Headings derives heading titles; ExtraHeadings lowers the threshold.
	Headings      bool
	ExtraHeadings bool

	// Label names a node in heading titles. Defaults to the node id.
	Label func(*graph.Node[P]) string

	// OnProgress is called as stages start and finish
	OnProgress ProgressCallback
}

// Result is the outcome of a run.
type Result[P any] struct {
	BuildID string

	// Roots are the requested topic ids, normalized and deduplicated.
	Roots []string

	// Graph holds the edges of the full, unrestricted pass.
	Graph *graph.Graph[P]

	// Raw is Document reversed: dependents first, without the root. Headings
	// are derived from it.
	Raw []*graph.Node[P]

	// Document lists the topics in reading order.
	Document []*graph.Node[P]

	// Sections maps topic ids to the headings inserted before them.
	Sections map[string]*headings.Section

	// MaxHeadingDepth is the deepest heading used, at most headings.MaxDepth.
	MaxHeadingDepth int

	Duration time.Duration
}

// Engine orchestrates a run over a record loader.
type Engine[R, P any] struct {
	loader *graph.Loader[R, P]
	opts   Options[P]
}

// New creates an engine.
func New[R, P any](loader *graph.Loader[R, P], opts Options[P]) *Engine[R, P] {
	if opts.DepthPolicy == "" {
		opts.DepthPolicy = graph.DepthForward
	}
	if opts.Label == nil {
		opts.Label = func(n *graph.Node[P]) string { return n.ID }
	}
	return &Engine[R, P]{loader: loader, opts: opts}
}

// Run orders the topics reachable from roots.
func (e *Engine[R, P]) Run(ctx context.Context, roots []string) (*Result[P], error) {
	startTime := time.Now()
	buildID := uuid.New().String()
	logger := ctxlog.FromContext(ctx).With("build_id", buildID)
	ctx = ctxlog.WithLogger(ctx, logger)

	rootIDs := make([]string, 0, len(roots))
	for _, id := range roots {
		rootIDs = append(rootIDs, graph.NormalizeID(id))
	}
	rootIDs = graph.DedupIDs(rootIDs)
	if len(rootIDs) == 0 {
		return nil, errors.ValidationError("no topics given")
	}

	var zero P
	g := graph.New(zero)
	root := g.Root()
	root.After = rootIDs

	builder := graph.NewBuilder(g, e.loader, e.opts.Depth, e.opts.DepthPolicy)

	e.progress(StageBuild, false, fmt.Sprintf("%d topics requested", len(rootIDs)))
	logger.Debug("building directed acyclic graph", "roots", len(rootIDs), "depth", e.opts.Depth, "policy", e.opts.DepthPolicy)
	if err := builder.Build(ctx, root); err != nil {
		return nil, err
	}
	e.progress(StageBuild, true, fmt.Sprintf("%d topics loaded", g.Len()-1))

	e.progress(StageReduce, false, "")
	if removed := g.BreakCycles(); removed > 0 {
		logger.Debug("broke residual cycles", "edges", removed)
	}
	before := g.NumEdges()
	g.ReduceAll()
	e.progress(StageReduce, true, fmt.Sprintf("%d of %d edges kept", g.NumEdges(), before))

	e.progress(StageCost, false, "")
	total := g.EvaluateCost(ctx, root)
	e.progress(StageCost, true, fmt.Sprintf("total cost %d", total))

	ordering := graph.Ordering{Mode: graph.ModeCost, Reverse: e.opts.Reverse}
	var raw []*graph.Node[P]
	if deadlines := graph.DeadlineNodes(g); len(deadlines) > 0 {
		ordering.Mode = graph.ModeDeadline
		e.progress(StageDeadlines, false, fmt.Sprintf("%d topics with deadlines", len(deadlines)))
		merged, err := graph.NewMerger(g, builder, ordering).Merge(ctx, deadlines)
		if err != nil {
			return nil, err
		}
		raw = merged
		e.progress(StageDeadlines, true, "")
	} else {
		e.progress(StageSequence, false, "")
		g.OrderBranches(ordering)
		raw = g.Sequence(root)
		e.progress(StageSequence, true, "")
	}

	document := Dedupe(raw)
	result := &Result[P]{
		BuildID:  buildID,
		Roots:    rootIDs,
		Graph:    g,
		Raw:      graph.Reversed(document),
		Document: document,
		Sections: map[string]*headings.Section{},
	}

	if e.opts.Headings || e.opts.ExtraHeadings {
		e.progress(StageHeadings, false, "")
		costs := make([]int, 0, len(result.Raw))
		for _, n := range result.Raw {
			costs = append(costs, n.AggregateCost())
		}
		sort.Ints(costs)

		minCost := headings.MinCost(e.opts.ExtraHeadings, costs)
		headings.SetDepths(g, minCost)
		result.Sections = headings.Titles(result.Raw, e.opts.Label)
		result.MaxHeadingDepth = headings.Deepest(result.Raw)
		e.progress(StageHeadings, true, fmt.Sprintf("max depth %d", result.MaxHeadingDepth))
	}

	result.Duration = time.Since(startTime)
	logger.Debug("ordered topics", "topics", len(document), "duration", result.Duration)
	return result, nil
}

func (e *Engine[R, P]) progress(stage Stage, done bool, detail string) {
	if e.opts.OnProgress != nil {
		e.opts.OnProgress(ProgressEvent{Stage: stage, Done: done, Detail: detail})
	}
}

// Dedupe turns a raw sequence into document order, keeping the first
// occurrence of every topic and dropping the synthetic root. Deadline passes
// can emit a topic that the full pass emits again; the earlier position in
// the document wins.
func Dedupe[P any](raw []*graph.Node[P]) []*graph.Node[P] {
	seen := map[string]bool{graph.RootID: true}
	document := make([]*graph.Node[P], 0, len(raw))
	for i := len(raw) - 1; i >= 0; i-- {
		n := raw[i]
		if seen[n.ID] {
			continue
		}
		seen[n.ID] = true
		document = append(document, n)
	}
	return document
}
