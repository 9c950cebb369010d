package local

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"os"
	"path/filepath"
	"sort"
	"testing"
	"time"

	"github.com/davidthor/tok/pkg/store"
)

func TestNewStore(t *testing.T) {
	tmpDir := t.TempDir()

	s, err := NewStore(map[string]string{
		"path": tmpDir,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if s.Type() != "local" {
		t.Errorf("expected type 'local', got %q", s.Type())
	}
}

func TestCreate_Registered(t *testing.T) {
	s, err := store.Create(store.Config{Type: "local", Config: map[string]string{"path": t.TempDir()}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if s.Type() != "local" {
		t.Errorf("expected type 'local', got %q", s.Type())
	}
}

func TestStore_ReadWrite(t *testing.T) {
	tmpDir := t.TempDir()
	s, _ := NewStore(map[string]string{"path": tmpDir})

	ctx := context.Background()
	testPath := "sets/math_union.yaml"
	testData := []byte("after: [sets/math_intro.yaml]\nmain: A or B\n")

	err := s.Write(ctx, testPath, bytes.NewReader(testData))
	if err != nil {
		t.Fatalf("write failed: %v", err)
	}

	reader, err := s.Read(ctx, testPath)
	if err != nil {
		t.Fatalf("read failed: %v", err)
	}
	defer reader.Close()

	data, err := io.ReadAll(reader)
	if err != nil {
		t.Fatalf("read all failed: %v", err)
	}

	if !bytes.Equal(data, testData) {
		t.Errorf("expected %s, got %s", testData, data)
	}
}

func TestStore_ReadNotFound(t *testing.T) {
	s, _ := NewStore(map[string]string{"path": t.TempDir()})

	_, err := s.Read(context.Background(), "nonexistent.yaml")
	if err != store.ErrNotFound {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestStore_ReadDirectory(t *testing.T) {
	tmpDir := t.TempDir()
	if err := os.Mkdir(filepath.Join(tmpDir, "sets"), 0755); err != nil {
		t.Fatal(err)
	}
	s, _ := NewStore(map[string]string{"path": tmpDir})

	if _, err := s.Read(context.Background(), "sets"); err == nil {
		t.Error("expected error reading a directory")
	}
}

func TestStore_List(t *testing.T) {
	tmpDir := t.TempDir()
	s, _ := NewStore(map[string]string{"path": tmpDir})

	ctx := context.Background()

	_ = s.Write(ctx, "sets/math_intro.yaml", bytes.NewReader([]byte("{}")))
	_ = s.Write(ctx, "sets/math_union.yaml", bytes.NewReader([]byte("{}")))
	_ = s.Write(ctx, "logic.hcl", bytes.NewReader([]byte("")))
	_ = s.Write(ctx, ".git/HEAD", bytes.NewReader([]byte("ref")))
	_ = s.Write(ctx, "sets/.hidden.yaml", bytes.NewReader([]byte("{}")))

	paths, err := s.List(ctx, "")
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	sort.Strings(paths)

	want := []string{"logic.hcl", "sets/math_intro.yaml", "sets/math_union.yaml"}
	if len(paths) != len(want) {
		t.Fatalf("expected %v, got %v", want, paths)
	}
	for i := range want {
		if paths[i] != want[i] {
			t.Errorf("expected %v, got %v", want, paths)
		}
	}

	paths, err = s.List(ctx, "sets")
	if err != nil {
		t.Fatalf("list with prefix failed: %v", err)
	}
	if len(paths) != 2 {
		t.Errorf("expected 2 paths, got %d: %v", len(paths), paths)
	}

	paths, err = s.List(ctx, "missing")
	if err != nil {
		t.Fatalf("list of missing prefix failed: %v", err)
	}
	if len(paths) != 0 {
		t.Errorf("expected no paths, got %v", paths)
	}
}

func TestStore_Exists(t *testing.T) {
	s, _ := NewStore(map[string]string{"path": t.TempDir()})

	ctx := context.Background()
	testPath := "sets/math_intro.yaml"

	exists, err := s.Exists(ctx, testPath)
	if err != nil {
		t.Fatalf("exists failed: %v", err)
	}
	if exists {
		t.Error("expected file to not exist")
	}

	_ = s.Write(ctx, testPath, bytes.NewReader([]byte("{}")))

	exists, err = s.Exists(ctx, testPath)
	if err != nil {
		t.Fatalf("exists failed: %v", err)
	}
	if !exists {
		t.Error("expected file to exist")
	}
}

func TestStore_Lock(t *testing.T) {
	tmpDir := t.TempDir()
	s, _ := NewStore(map[string]string{"path": tmpDir})

	ctx := context.Background()
	testPath := "output/main.md"

	lock, err := s.Lock(ctx, testPath, store.LockInfo{Who: "test-user", Operation: "build"})
	if err != nil {
		t.Fatalf("lock failed: %v", err)
	}
	if lock.ID() == "" {
		t.Error("expected lock id to be set")
	}
	if lock.Info().Path != testPath {
		t.Errorf("expected lock path %q, got %q", testPath, lock.Info().Path)
	}

	lockPath := filepath.Join(tmpDir, "output", "main.md.lock")
	if _, err := os.Stat(lockPath); os.IsNotExist(err) {
		t.Error("expected lock file to exist")
	}

	if err := lock.Unlock(ctx); err != nil {
		t.Fatalf("unlock failed: %v", err)
	}

	if _, err := os.Stat(lockPath); !os.IsNotExist(err) {
		t.Error("expected lock file to be removed after unlock")
	}
}

func TestStore_LockConflict(t *testing.T) {
	s, _ := NewStore(map[string]string{"path": t.TempDir()})

	ctx := context.Background()
	info := store.LockInfo{Who: "test-user", Operation: "build"}

	lock1, err := s.Lock(ctx, "main.md", info)
	if err != nil {
		t.Fatalf("first lock failed: %v", err)
	}
	defer func() { _ = lock1.Unlock(ctx) }()

	_, err = s.Lock(ctx, "main.md", info)
	if !errors.Is(err, store.ErrLocked) {
		t.Errorf("expected ErrLocked, got %v", err)
	}
}

func TestStore_StaleLockFile(t *testing.T) {
	tmpDir := t.TempDir()
	s, _ := NewStore(map[string]string{"path": tmpDir})
	ctx := context.Background()

	stale, _ := json.Marshal(store.LockInfo{ID: "old", Who: "crashed", Created: time.Now().Add(-2 * time.Hour)})
	if err := os.WriteFile(filepath.Join(tmpDir, "main.md.lock"), stale, 0644); err != nil {
		t.Fatal(err)
	}

	lock, err := s.Lock(ctx, "main.md", store.LockInfo{Who: "me"})
	if err != nil {
		t.Fatalf("expected stale lock to be taken over, got %v", err)
	}
	_ = lock.Unlock(ctx)

	fresh, _ := json.Marshal(store.LockInfo{ID: "new", Who: "other", Created: time.Now()})
	if err := os.WriteFile(filepath.Join(tmpDir, "main.md.lock"), fresh, 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Lock(ctx, "main.md", store.LockInfo{Who: "me"}); !errors.Is(err, store.ErrLocked) {
		t.Errorf("expected ErrLocked for fresh lock file, got %v", err)
	}
}

func TestStore_AtomicWrite(t *testing.T) {
	s, _ := NewStore(map[string]string{"path": t.TempDir()})

	ctx := context.Background()
	testPath := "output/main.md"

	_ = s.Write(ctx, testPath, bytes.NewReader([]byte("# v1")))

	if err := s.Write(ctx, testPath, bytes.NewReader([]byte("# v2"))); err != nil {
		t.Fatalf("write failed: %v", err)
	}

	reader, _ := s.Read(ctx, testPath)
	data, _ := io.ReadAll(reader)
	reader.Close()

	if string(data) != "# v2" {
		t.Errorf("expected # v2, got %s", data)
	}
}

func TestStore_OutsideRoot(t *testing.T) {
	s, _ := NewStore(map[string]string{"path": t.TempDir()})
	ctx := context.Background()

	if _, err := s.Read(ctx, "../secrets.yaml"); err == nil || errors.Is(err, store.ErrNotFound) {
		t.Errorf("expected an outside-root error, got %v", err)
	}
	if err := s.Write(ctx, "sets/../../x.md", bytes.NewReader(nil)); err == nil {
		t.Error("expected write outside the root to fail")
	}
}

func TestStore_UnlockTakenOver(t *testing.T) {
	tmpDir := t.TempDir()
	s, _ := NewStore(map[string]string{"path": tmpDir})
	ctx := context.Background()

	lock, err := s.Lock(ctx, "main.md", store.LockInfo{Who: "me"})
	if err != nil {
		t.Fatalf("lock failed: %v", err)
	}

	// Another process took the lock over after ours went stale.
	other, _ := json.Marshal(store.LockInfo{ID: "other", Who: "them", Created: time.Now()})
	lockFile := filepath.Join(tmpDir, "main.md.lock")
	if err := os.WriteFile(lockFile, other, 0644); err != nil {
		t.Fatal(err)
	}

	if err := lock.Unlock(ctx); err != nil {
		t.Fatalf("unlock failed: %v", err)
	}
	if _, err := os.Stat(lockFile); err != nil {
		t.Error("expected the other lock file to be left in place")
	}
}
