package git

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	gogit "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/davidthor/tok/pkg/store"
)

// initRepo commits files to a fresh repository and returns its directory.
func initRepo(t *testing.T, files map[string]string) string {
	t.Helper()
	dir := t.TempDir()

	repo, err := gogit.PlainInit(dir, false)
	require.NoError(t, err)
	wt, err := repo.Worktree()
	require.NoError(t, err)

	for name, content := range files {
		full := filepath.Join(dir, filepath.FromSlash(name))
		require.NoError(t, os.MkdirAll(filepath.Dir(full), 0755))
		require.NoError(t, os.WriteFile(full, []byte(content), 0644))
		_, err := wt.Add(name)
		require.NoError(t, err)
	}

	_, err = wt.Commit("add topics", &gogit.CommitOptions{
		Author: &object.Signature{Name: "tok", Email: "tok@example.com", When: time.Now()},
	})
	require.NoError(t, err)
	return dir
}

func TestNewStore_Validation(t *testing.T) {
	tests := []struct {
		name    string
		config  map[string]string
		wantErr string
	}{
		{"no source", map[string]string{}, "'path' or 'url'"},
		{"both sources", map[string]string{"path": "/tmp/x", "url": "https://example.com/x.git"}, "only one"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewStore(tt.config)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestStore_LocalRepository(t *testing.T) {
	dir := initRepo(t, map[string]string{
		"notes/def_group.yaml":    "main: A group.\n",
		"notes/thm_lagrange.yaml": "after: [def_group.yaml]\n",
		"notes/.draft.yaml":       "main: hidden\n",
		"README.md":               "topics\n",
	})

	s, err := NewStore(map[string]string{"path": dir, "prefix": "notes"})
	require.NoError(t, err)
	assert.Equal(t, "git", s.Type())

	ctx := context.Background()
	r, err := s.Read(ctx, "def_group.yaml")
	require.NoError(t, err)
	data, err := io.ReadAll(r)
	r.Close()
	require.NoError(t, err)
	assert.Equal(t, "main: A group.\n", string(data))

	_, err = s.Read(ctx, "def_ring.yaml")
	assert.True(t, errors.Is(err, store.ErrNotFound))

	ok, err := s.Exists(ctx, "thm_lagrange.yaml")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = s.Exists(ctx, "README.md")
	require.NoError(t, err)
	assert.False(t, ok)

	paths, err := s.List(ctx, "")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"def_group.yaml", "thm_lagrange.yaml"}, paths)
}

func TestStore_CloneIntoMemory(t *testing.T) {
	dir := initRepo(t, map[string]string{"def_set.yaml": "main: A set.\n"})

	s, err := NewStore(map[string]string{"url": dir})
	require.NoError(t, err)

	ok, err := s.Exists(context.Background(), "def_set.yaml")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestStore_UnknownRef(t *testing.T) {
	dir := initRepo(t, map[string]string{"def_set.yaml": ""})

	s, err := NewStore(map[string]string{"path": dir, "ref": "no-such-branch"})
	require.NoError(t, err)

	_, err = s.List(context.Background(), "")
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "no-such-branch"))
}

func TestStore_ReadOnly(t *testing.T) {
	s, err := NewStore(map[string]string{"path": t.TempDir()})
	require.NoError(t, err)

	ctx := context.Background()
	err = s.Write(ctx, "main.md", strings.NewReader("# Notes"))
	assert.True(t, errors.Is(err, store.ErrReadOnly))

	_, err = s.Lock(ctx, "main.md", store.LockInfo{})
	assert.True(t, errors.Is(err, store.ErrReadOnly))
}

func TestFullPath(t *testing.T) {
	tests := []struct {
		prefix string
		path   string
		want   string
	}{
		{"", "a.yaml", "a.yaml"},
		{"", "/a.yaml", "a.yaml"},
		{"notes", "a.yaml", "notes/a.yaml"},
		{"notes", "", "notes"},
	}
	for _, tt := range tests {
		s := &Store{prefix: tt.prefix}
		assert.Equal(t, tt.want, s.fullPath(tt.path))
	}
}
