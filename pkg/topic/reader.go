package topic

import (
	"context"
	stderrors "errors"
	"fmt"
	"io"
	"path"

	"github.com/davidthor/tok/pkg/errors"
	"github.com/davidthor/tok/pkg/graph"
	"github.com/davidthor/tok/pkg/store"
)

// Reader reads topic records from a store.
type Reader struct {
	store store.Store
}

// NewReader creates a reader over s.
func NewReader(s store.Store) *Reader {
	return &Reader{store: s}
}

// Read fetches and decodes the record stored under id.
func (r *Reader) Read(ctx context.Context, id string) (Record, error) {
	rc, err := r.store.Read(ctx, id)
	if err != nil {
		if stderrors.Is(err, store.ErrNotFound) {
			return Record{}, errors.NotFoundError("topic", id)
		}
		return Record{}, errors.StoreError(r.store.Type(), "read", err)
	}
	defer rc.Close()

	data, err := io.ReadAll(rc)
	if err != nil {
		return Record{}, fmt.Errorf("failed to read %s: %w", id, err)
	}

	return Parse(id, data)
}

// Loader returns a graph loader that reads records through r.
func (r *Reader) Loader() *graph.Loader[Record, Topic] {
	return graph.NewLoader[Record, Topic](r.Read, NewNode)
}

// ListRecords returns every record id in the store. Publish manifests are
// not records.
func (r *Reader) ListRecords(ctx context.Context) ([]string, error) {
	paths, err := r.store.List(ctx, "")
	if err != nil {
		return nil, err
	}

	var ids []string
	for _, p := range paths {
		if IsRecordPath(p) && path.Base(p) != store.ManifestFile {
			ids = append(ids, p)
		}
	}
	return ids, nil
}
