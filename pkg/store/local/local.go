// Package local implements a store over a directory on the local filesystem.
package local

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/davidthor/tok/pkg/store"
)

func init() {
	store.Register("local", NewStore)
}

// staleLockAge is how long a lock file left behind by a crashed process is
// honoured.
const staleLockAge = time.Hour

// Store implements store.Store over a base directory. Locks are lock files
// created exclusively, so they hold across processes as well as goroutines.
type Store struct {
	root string
}

// NewStore creates a local store rooted at config["path"], or at the
// current directory when no path is configured.
func NewStore(config map[string]string) (store.Store, error) {
	root := config["path"]
	if root == "" {
		root = "."
	}
	if err := os.MkdirAll(root, 0755); err != nil {
		return nil, fmt.Errorf("failed to create store directory: %w", err)
	}
	return &Store{root: root}, nil
}

func (s *Store) Type() string {
	return "local"
}

func (s *Store) Read(ctx context.Context, p string) (io.ReadCloser, error) {
	name, err := s.resolve(p)
	if err != nil {
		return nil, err
	}

	f, err := os.Open(name)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", p, err)
	}
	if info, err := f.Stat(); err == nil && info.IsDir() {
		f.Close()
		return nil, fmt.Errorf("%s is a directory", p)
	}
	return f, nil
}

// Write replaces the file at p through a temp file in the same directory, so
// readers never see a partial document.
func (s *Store) Write(ctx context.Context, p string, data io.Reader) error {
	name, err := s.resolve(p)
	if err != nil {
		return err
	}
	dir := filepath.Dir(name)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create directory for %s: %w", p, err)
	}

	tmp, err := os.CreateTemp(dir, ".tok-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file for %s: %w", p, err)
	}
	_, err = io.Copy(tmp, data)
	if closeErr := tmp.Close(); err == nil {
		err = closeErr
	}
	if err == nil {
		err = os.Rename(tmp.Name(), name)
	}
	if err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to write %s: %w", p, err)
	}
	return nil
}

// List walks the directory under prefix. Hidden files and directories are
// skipped so temp files and VCS metadata never look like topics.
func (s *Store) List(ctx context.Context, prefix string) ([]string, error) {
	start, err := s.resolve(prefix)
	if err != nil {
		return nil, err
	}

	var paths []string
	err = filepath.WalkDir(start, func(name string, d fs.DirEntry, err error) error {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		if err != nil {
			return err
		}
		if name != start && strings.HasPrefix(d.Name(), ".") {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() || strings.HasSuffix(name, ".lock") {
			return nil
		}
		rel, err := filepath.Rel(s.root, name)
		if err != nil {
			return err
		}
		paths = append(paths, filepath.ToSlash(rel))
		return ctx.Err()
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list %q: %w", prefix, err)
	}
	return paths, nil
}

func (s *Store) Exists(ctx context.Context, p string) (bool, error) {
	name, err := s.resolve(p)
	if err != nil {
		return false, err
	}
	_, err = os.Stat(name)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, fs.ErrNotExist):
		return false, nil
	default:
		return false, fmt.Errorf("failed to check %s: %w", p, err)
	}
}

// Lock creates <p>.lock exclusively. A lock file older than staleLockAge is
// replaced.
func (s *Store) Lock(ctx context.Context, p string, info store.LockInfo) (store.Lock, error) {
	name, err := s.resolve(p + ".lock")
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Dir(name), 0755); err != nil {
		return nil, fmt.Errorf("failed to create lock directory: %w", err)
	}

	info.ID = uuid.New().String()
	info.Path = p
	info.Created = time.Now()
	data, err := json.Marshal(info)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal lock info: %w", err)
	}

	for attempt := 0; ; attempt++ {
		f, err := os.OpenFile(name, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
		if err == nil {
			_, err = f.Write(data)
			if closeErr := f.Close(); err == nil {
				err = closeErr
			}
			if err != nil {
				os.Remove(name)
				return nil, fmt.Errorf("failed to write lock file: %w", err)
			}
			return &localLock{file: name, info: info}, nil
		}
		if !errors.Is(err, fs.ErrExist) {
			return nil, fmt.Errorf("failed to create lock file: %w", err)
		}

		held, readErr := readLockFile(name)
		if readErr == nil && (attempt > 0 || time.Since(held.Created) < staleLockAge) {
			return nil, &store.LockError{Info: held, Err: store.ErrLocked}
		}
		if attempt > 0 {
			return nil, &store.LockError{Info: store.LockInfo{Path: p}, Err: store.ErrLocked}
		}
		// Stale or unreadable: take it over.
		if err := os.Remove(name); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("failed to remove stale lock: %w", err)
		}
	}
}

func readLockFile(name string) (store.LockInfo, error) {
	var info store.LockInfo
	data, err := os.ReadFile(name)
	if err != nil {
		return info, err
	}
	err = json.Unmarshal(data, &info)
	return info, err
}

// resolve maps a store path to a file name under the root. Paths that would
// leave the root are rejected.
func (s *Store) resolve(p string) (string, error) {
	rel := filepath.FromSlash(strings.TrimPrefix(p, "/"))
	if rel == "" {
		return s.root, nil
	}
	if !filepath.IsLocal(rel) {
		return "", fmt.Errorf("path %q is outside the store", p)
	}
	return filepath.Join(s.root, rel), nil
}

type localLock struct {
	file string
	info store.LockInfo
}

func (l *localLock) ID() string {
	return l.info.ID
}

// Unlock removes the lock file unless another process has since taken it.
func (l *localLock) Unlock(ctx context.Context) error {
	held, err := readLockFile(l.file)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err == nil && held.ID != l.info.ID {
		return nil
	}
	if err := os.Remove(l.file); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to remove lock file: %w", err)
	}
	return nil
}

func (l *localLock) Info() store.LockInfo {
	return l.info
}
