package store

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"path"
	"sort"
	"time"
)

// ManifestFile is the name of the manifest written next to published files.
const ManifestFile = "manifest.json"

// Manifest records what a publish wrote and where it came from.
type Manifest struct {
	BuildID   string    `json:"build_id"`
	Title     string    `json:"title,omitempty"`
	Roots     []string  `json:"roots"`
	Topics    []string  `json:"topics"`
	Files     []string  `json:"files"`
	Who       string    `json:"who,omitempty"`
	Published time.Time `json:"published"`
}

// Publisher writes rendered documents into a directory of a store. Every
// publish holds the lock on the directory's main document, so two builds
// publishing to the same place do not interleave.
type Publisher struct {
	store Store
	dir   string
}

// NewPublisher creates a publisher writing under dir.
func NewPublisher(s Store, dir string) *Publisher {
	return &Publisher{store: s, dir: path.Clean("/" + dir)[1:]}
}

// Store returns the store written to.
func (p *Publisher) Store() Store {
	return p.store
}

// Publish writes files, keyed by name relative to the publish directory,
// followed by the manifest.
func (p *Publisher) Publish(ctx context.Context, files map[string][]byte, manifest Manifest) (err error) {
	lock, err := p.store.Lock(ctx, p.path("main.md"), LockInfo{
		Who:       manifest.Who,
		Operation: "publish",
	})
	if err != nil {
		return err
	}
	defer func() {
		if unlockErr := lock.Unlock(ctx); unlockErr != nil && err == nil {
			err = unlockErr
		}
	}()

	names := make([]string, 0, len(files))
	for name := range files {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		if err := p.store.Write(ctx, p.path(name), bytes.NewReader(files[name])); err != nil {
			return fmt.Errorf("failed to publish %s: %w", name, err)
		}
	}

	manifest.Files = names
	if manifest.Published.IsZero() {
		manifest.Published = time.Now().UTC()
	}
	return writeJSON(ctx, p.store, p.path(ManifestFile), manifest)
}

// Manifest reads the manifest of the last publish.
func (p *Publisher) Manifest(ctx context.Context) (*Manifest, error) {
	return readJSON[Manifest](ctx, p.store, p.path(ManifestFile))
}

func (p *Publisher) path(name string) string {
	if p.dir == "" {
		return name
	}
	return path.Join(p.dir, name)
}

func readJSON[T any](ctx context.Context, s Store, p string) (*T, error) {
	reader, err := s.Read(ctx, p)
	if err != nil {
		return nil, err
	}
	defer reader.Close()

	var result T
	if err := json.NewDecoder(reader).Decode(&result); err != nil {
		return nil, fmt.Errorf("failed to decode JSON: %w", err)
	}

	return &result, nil
}

func writeJSON(ctx context.Context, s Store, p string, data any) error {
	content, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode JSON: %w", err)
	}

	return s.Write(ctx, p, bytes.NewReader(content))
}
