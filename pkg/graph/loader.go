package graph

import (
	"context"
	"fmt"
	"strings"

	"github.com/davidthor/tok/internal/ctxlog"
	"github.com/davidthor/tok/pkg/errors"
)

// ReadRecordFunc fetches the raw record stored under a normalized id.
type ReadRecordFunc[R any] func(ctx context.Context, id string) (R, error)

// BuildNodeFunc turns a raw record into an unregistered node.
type BuildNodeFunc[R, P any] func(id string, record R) (*Node[P], error)

// Loader resolves ids to registered nodes, reading each record at most once.
type Loader[R, P any] struct {
	read  ReadRecordFunc[R]
	build BuildNodeFunc[R, P]
}

// NewLoader creates a loader from the record collaborators.
func NewLoader[R, P any](read ReadRecordFunc[R], build BuildNodeFunc[R, P]) *Loader[R, P] {
	return &Loader[R, P]{read: read, build: build}
}

// Load returns the node for id, reading and constructing it if it is not
// registered yet.
func (l *Loader[R, P]) Load(ctx context.Context, g *Graph[P], id string) (*Node[P], error) {
	clean := NormalizeID(id)
	if n, ok := g.Node(clean); ok {
		return n, nil
	}

	record, err := l.read(ctx, clean)
	if err != nil {
		return nil, errors.RecordLoadError(clean, err)
	}

	n, err := l.build(clean, record)
	if err != nil {
		return nil, errors.RecordLoadError(clean, err)
	}
	if n == nil {
		return nil, errors.RecordLoadError(clean, fmt.Errorf("no node constructed"))
	}
	n.ID = clean
	n.DedupConstraints()

	ctxlog.FromContext(ctx).Debug("loaded record", "id", clean)
	return g.Add(n)
}

// NormalizeID strips any run of leading relative path segments ("./", "../"
// and their backslash forms) so every spelling of a path maps to one node.
func NormalizeID(id string) string {
	for {
		switch {
		case strings.HasPrefix(id, "./"), strings.HasPrefix(id, `.\`):
			id = id[2:]
		case strings.HasPrefix(id, "../"), strings.HasPrefix(id, `..\`):
			id = id[3:]
		default:
			return id
		}
	}
}
