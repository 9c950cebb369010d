// Package git implements a read-only store over the tree of a git revision,
// either a local repository or a remote one cloned into memory.
package git

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"
	"sync"

	"github.com/davidthor/tok/pkg/store"
	gogit "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
	githttp "github.com/go-git/go-git/v5/plumbing/transport/http"
	"github.com/go-git/go-git/v5/storage/memory"
)

func init() {
	store.Register("git", NewStore)
}

// Store serves records from a single commit tree.
type Store struct {
	source string
	ref    string
	prefix string

	open func(ctx context.Context) (*gogit.Repository, error)

	once sync.Once
	tree *object.Tree
	err  error
}

// NewStore creates a git store. Recognised keys: path (a local repository)
// or url (a remote cloned into memory on first use), ref (branch, tag or
// commit; defaults to HEAD), prefix (a directory inside the tree), and
// username/token for HTTP authentication.
func NewStore(cfg map[string]string) (store.Store, error) {
	repoPath, url := cfg["path"], cfg["url"]
	if repoPath == "" && url == "" {
		return nil, fmt.Errorf("git store requires 'path' or 'url' configuration")
	}
	if repoPath != "" && url != "" {
		return nil, fmt.Errorf("git store accepts only one of 'path' and 'url'")
	}

	ref := cfg["ref"]
	if ref == "" {
		ref = "HEAD"
	}

	s := &Store{
		ref:    ref,
		prefix: strings.Trim(cfg["prefix"], "/"),
	}

	if repoPath != "" {
		s.source = repoPath
		s.open = func(context.Context) (*gogit.Repository, error) {
			return gogit.PlainOpen(repoPath)
		}
		return s, nil
	}

	s.source = url
	cloneOpts := &gogit.CloneOptions{URL: url}
	if token := cfg["token"]; token != "" {
		username := cfg["username"]
		if username == "" {
			username = "tok"
		}
		cloneOpts.Auth = &githttp.BasicAuth{Username: username, Password: token}
	}
	s.open = func(ctx context.Context) (*gogit.Repository, error) {
		return gogit.CloneContext(ctx, memory.NewStorage(), nil, cloneOpts)
	}
	return s, nil
}

func (s *Store) Type() string {
	return "git"
}

// resolve opens the repository and the tree at ref once.
func (s *Store) resolve(ctx context.Context) (*object.Tree, error) {
	s.once.Do(func() {
		repo, err := s.open(ctx)
		if err != nil {
			s.err = fmt.Errorf("failed to open repository %s: %w", s.source, err)
			return
		}

		hash, err := repo.ResolveRevision(plumbing.Revision(s.ref))
		if err != nil {
			s.err = fmt.Errorf("failed to resolve %s in %s: %w", s.ref, s.source, err)
			return
		}

		commit, err := repo.CommitObject(*hash)
		if err != nil {
			s.err = fmt.Errorf("failed to load commit %s: %w", hash, err)
			return
		}

		s.tree, s.err = commit.Tree()
	})
	return s.tree, s.err
}

func (s *Store) Read(ctx context.Context, objectPath string) (io.ReadCloser, error) {
	tree, err := s.resolve(ctx)
	if err != nil {
		return nil, err
	}

	f, err := tree.File(s.fullPath(objectPath))
	if err != nil {
		if errors.Is(err, object.ErrFileNotFound) {
			return nil, store.ErrNotFound
		}
		return nil, fmt.Errorf("failed to read %s at %s: %w", objectPath, s.ref, err)
	}

	return f.Reader()
}

func (s *Store) Write(ctx context.Context, objectPath string, data io.Reader) error {
	return fmt.Errorf("cannot write %s: %w", objectPath, store.ErrReadOnly)
}

func (s *Store) List(ctx context.Context, prefix string) ([]string, error) {
	tree, err := s.resolve(ctx)
	if err != nil {
		return nil, err
	}

	fullPrefix := s.fullPath(prefix)
	var paths []string
	err = tree.Files().ForEach(func(f *object.File) error {
		if fullPrefix != "" && f.Name != fullPrefix && !strings.HasPrefix(f.Name, strings.TrimSuffix(fullPrefix, "/")+"/") {
			return nil
		}
		rel := f.Name
		if s.prefix != "" {
			rel = strings.TrimPrefix(rel, s.prefix+"/")
		}
		if isHidden(rel) {
			return nil
		}
		paths = append(paths, rel)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", s.source, err)
	}

	return paths, nil
}

func (s *Store) Exists(ctx context.Context, objectPath string) (bool, error) {
	tree, err := s.resolve(ctx)
	if err != nil {
		return false, err
	}

	if _, err := tree.File(s.fullPath(objectPath)); err != nil {
		if errors.Is(err, object.ErrFileNotFound) {
			return false, nil
		}
		return false, fmt.Errorf("failed to check %s: %w", objectPath, err)
	}
	return true, nil
}

func (s *Store) Lock(ctx context.Context, objectPath string, info store.LockInfo) (store.Lock, error) {
	return nil, fmt.Errorf("cannot lock %s: %w", objectPath, store.ErrReadOnly)
}

func (s *Store) fullPath(objectPath string) string {
	objectPath = strings.TrimPrefix(objectPath, "/")
	if s.prefix == "" {
		return objectPath
	}
	if objectPath == "" {
		return s.prefix
	}
	return path.Join(s.prefix, objectPath)
}

func isHidden(rel string) bool {
	for _, part := range strings.Split(rel, "/") {
		if strings.HasPrefix(part, ".") {
			return true
		}
	}
	return false
}

var _ store.Store = (*Store)(nil)
