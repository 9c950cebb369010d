// Package store defines where topic records are read from and where rendered
// documents are published to. Concrete stores register themselves by type
// name from their init functions.
package store

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"sync"
	"time"
)

var (
	// ErrNotFound is returned when a path does not exist in the store.
	ErrNotFound = errors.New("not found")

	// ErrLocked is returned when a path is already locked by someone else.
	ErrLocked = errors.New("locked")

	// ErrReadOnly is returned by stores that cannot be written to.
	ErrReadOnly = errors.New("store is read-only")
)

// Store is a flat key/value view over a filesystem, bucket or repository.
// Paths always use forward slashes.
type Store interface {
	// Type returns the registered type name.
	Type() string

	// Read opens the object at path. The caller closes the reader.
	Read(ctx context.Context, path string) (io.ReadCloser, error)

	// Write replaces the object at path.
	Write(ctx context.Context, path string, data io.Reader) error

	// List returns every object path under prefix.
	List(ctx context.Context, prefix string) ([]string, error)

	// Exists reports whether an object exists at path.
	Exists(ctx context.Context, path string) (bool, error)

	// Lock takes an advisory lock on path.
	Lock(ctx context.Context, path string, info LockInfo) (Lock, error)
}

// Lock is a held advisory lock.
type Lock interface {
	ID() string
	Unlock(ctx context.Context) error
	Info() LockInfo
}

// LockInfo describes who holds a lock and why.
type LockInfo struct {
	ID        string    `json:"id"`
	Path      string    `json:"path"`
	Who       string    `json:"who"`
	Operation string    `json:"operation"`
	Created   time.Time `json:"created"`
}

// LockError reports a lock that is already held.
type LockError struct {
	Info LockInfo
	Err  error
}

func (e *LockError) Error() string {
	return fmt.Sprintf("%s is locked by %s (operation: %s, since %s)",
		e.Info.Path, e.Info.Who, e.Info.Operation, e.Info.Created.Format(time.RFC3339))
}

func (e *LockError) Unwrap() error {
	return e.Err
}

// Config selects and configures a store.
type Config struct {
	Type   string            `mapstructure:"type" yaml:"type"`
	Config map[string]string `mapstructure:"config" yaml:"config"`
}

// Factory creates a store from its key/value configuration.
type Factory func(config map[string]string) (Store, error)

var (
	registryMu sync.RWMutex
	registry   = make(map[string]Factory)
)

// Register makes a store type available to Create.
func Register(name string, factory Factory) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[name] = factory
}

// Create builds the store selected by config. An empty type selects "local".
func Create(config Config) (Store, error) {
	name := config.Type
	if name == "" {
		name = "local"
	}

	registryMu.RLock()
	factory, ok := registry[name]
	registryMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unknown store type %q (available: %v)", name, Types())
	}

	cfg := config.Config
	if cfg == nil {
		cfg = map[string]string{}
	}
	return factory(cfg)
}

// Types returns the registered store type names, sorted.
func Types() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()

	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
