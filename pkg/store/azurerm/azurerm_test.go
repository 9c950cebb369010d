package azurerm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/davidthor/tok/pkg/store"
)

// mockBlobServer answers the Blob Storage calls the store makes.
type mockBlobServer struct {
	mu    sync.Mutex
	blobs map[string][]byte
	etags map[string]string
	seq   int
}

// conditionFailed applies If-None-Match and If-Match the way the service
// does, writing the error response when the condition does not hold.
func (m *mockBlobServer) conditionFailed(w http.ResponseWriter, r *http.Request, key string) bool {
	_, exists := m.blobs[key]
	if r.Header.Get("If-None-Match") == "*" && exists {
		w.Header().Set("x-ms-error-code", "BlobAlreadyExists")
		w.WriteHeader(http.StatusConflict)
		return true
	}
	if match := r.Header.Get("If-Match"); match != "" && match != m.etags[key] {
		w.Header().Set("x-ms-error-code", "ConditionNotMet")
		w.WriteHeader(http.StatusPreconditionFailed)
		return true
	}
	return false
}

func (m *mockBlobServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	m.mu.Lock()
	defer m.mu.Unlock()

	parts := strings.SplitN(strings.TrimPrefix(r.URL.Path, "/"), "/", 2)
	if len(parts) < 2 {
		if r.URL.Query().Get("restype") == "container" && r.URL.Query().Get("comp") == "list" {
			m.list(w, parts[0], r.URL.Query().Get("prefix"))
			return
		}
		http.Error(w, "Invalid path", http.StatusBadRequest)
		return
	}

	key := parts[0] + "/" + parts[1]
	notFound := func() {
		w.Header().Set("x-ms-error-code", "BlobNotFound")
		w.WriteHeader(http.StatusNotFound)
	}

	switch r.Method {
	case http.MethodGet:
		data, ok := m.blobs[key]
		if !ok {
			notFound()
			return
		}
		w.Header().Set("ETag", m.etags[key])
		_, _ = w.Write(data)
	case http.MethodPut:
		if m.conditionFailed(w, r, key) {
			return
		}
		data, err := io.ReadAll(r.Body)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		m.seq++
		m.blobs[key] = data
		m.etags[key] = fmt.Sprintf(`"0x%d"`, m.seq)
		w.Header().Set("ETag", m.etags[key])
		w.WriteHeader(http.StatusCreated)
	case http.MethodDelete:
		if _, ok := m.blobs[key]; !ok {
			notFound()
			return
		}
		if m.conditionFailed(w, r, key) {
			return
		}
		delete(m.blobs, key)
		delete(m.etags, key)
		w.WriteHeader(http.StatusAccepted)
	case http.MethodHead:
		if _, ok := m.blobs[key]; !ok {
			notFound()
			return
		}
		w.WriteHeader(http.StatusOK)
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

func (m *mockBlobServer) list(w http.ResponseWriter, containerName, prefix string) {
	var names []string
	for key := range m.blobs {
		name, ok := strings.CutPrefix(key, containerName+"/")
		if ok && strings.HasPrefix(name, prefix) {
			names = append(names, name)
		}
	}
	sort.Strings(names)

	w.Header().Set("Content-Type", "application/xml")
	var b strings.Builder
	b.WriteString(`<?xml version="1.0" encoding="utf-8"?><EnumerationResults><Blobs>`)
	for _, name := range names {
		b.WriteString(`<Blob><Name>` + name + `</Name></Blob>`)
	}
	b.WriteString(`</Blobs><NextMarker/></EnumerationResults>`)
	_, _ = w.Write([]byte(b.String()))
}

func newTestStore(t *testing.T, prefix string) (*Store, *mockBlobServer) {
	t.Helper()
	mock := &mockBlobServer{blobs: map[string][]byte{}, etags: map[string]string{}}
	server := httptest.NewServer(mock)
	t.Cleanup(server.Close)

	s, err := NewStore(map[string]string{
		"storage_account_name": "tokaccount",
		"container_name":       "topics",
		"endpoint":             server.URL + "/",
		"access_key":           "c2VjcmV0",
		"prefix":               prefix,
	})
	require.NoError(t, err)
	return s.(*Store), mock
}

func TestNewStore_Validation(t *testing.T) {
	tests := []struct {
		name    string
		config  map[string]string
		wantErr string
	}{
		{"missing account", map[string]string{"container_name": "topics"}, "storage_account_name"},
		{"missing container", map[string]string{"storage_account_name": "acct"}, "container_name"},
		{"empty container", map[string]string{"storage_account_name": "acct", "container_name": ""}, "container_name"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewStore(tt.config)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestNewStore_SASToken(t *testing.T) {
	s, err := NewStore(map[string]string{
		"storage_account_name": "tokaccount",
		"container_name":       "topics",
		"sas_token":            "?sv=2022-11-02&sig=abc",
		"key":                  "notes",
	})
	require.NoError(t, err)
	assert.Equal(t, "azurerm", s.Type())
	assert.Equal(t, "notes", s.(*Store).prefix)
}

func TestStore_fullPath(t *testing.T) {
	tests := []struct {
		prefix string
		path   string
		want   string
	}{
		{"", "def_group.yaml", "def_group.yaml"},
		{"notes", "def_group.yaml", "notes/def_group.yaml"},
	}
	for _, tt := range tests {
		s := &Store{prefix: tt.prefix}
		assert.Equal(t, tt.want, s.fullPath(tt.path))
	}
}

func TestStore_RoundTrip(t *testing.T) {
	ctx := context.Background()
	s, mock := newTestStore(t, "notes")

	data := []byte("main: A ring is a group with a second operation.\n")
	require.NoError(t, s.Write(ctx, "def_ring.yaml", bytes.NewReader(data)))
	assert.Equal(t, data, mock.blobs["topics/notes/def_ring.yaml"])

	r, err := s.Read(ctx, "def_ring.yaml")
	require.NoError(t, err)
	got, err := io.ReadAll(r)
	r.Close()
	require.NoError(t, err)
	assert.Equal(t, data, got)

	ok, err := s.Exists(ctx, "def_ring.yaml")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = s.Exists(ctx, "def_field.yaml")
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = s.Read(ctx, "def_field.yaml")
	assert.True(t, errors.Is(err, store.ErrNotFound))
}

func TestStore_List(t *testing.T) {
	s, mock := newTestStore(t, "notes")
	mock.blobs["topics/notes/a.yaml"] = []byte("{}")
	mock.blobs["topics/notes/sub/b.hcl"] = []byte("")
	mock.blobs["topics/notes/main.md.lock"] = []byte("{}")

	paths, err := s.List(context.Background(), "")
	require.NoError(t, err)
	assert.Equal(t, []string{"a.yaml", "sub/b.hcl"}, paths)
}

func TestStore_Lock(t *testing.T) {
	ctx := context.Background()
	s, mock := newTestStore(t, "")

	lock, err := s.Lock(ctx, "main.md", store.LockInfo{Who: "alice", Operation: "publish"})
	require.NoError(t, err)
	assert.Contains(t, mock.blobs, "topics/main.md.lock")

	_, err = s.Lock(ctx, "main.md", store.LockInfo{Who: "bob"})
	var lockErr *store.LockError
	require.ErrorAs(t, err, &lockErr)
	assert.Equal(t, lock.ID(), lockErr.Info.ID)

	require.NoError(t, lock.Unlock(ctx))
	assert.NotContains(t, mock.blobs, "topics/main.md.lock")
	// Releasing twice is harmless
	require.NoError(t, lock.Unlock(ctx))
}

func TestStore_StaleLock(t *testing.T) {
	ctx := context.Background()
	s, mock := newTestStore(t, "")

	stale, err := json.Marshal(store.LockInfo{ID: "old", Who: "crashed", Created: time.Now().Add(-2 * time.Hour)})
	require.NoError(t, err)
	mock.blobs["topics/main.md.lock"] = stale
	mock.etags["topics/main.md.lock"] = `"0xstale"`

	lock, err := s.Lock(ctx, "main.md", store.LockInfo{Who: "alice"})
	require.NoError(t, err)
	assert.NotEqual(t, "old", lock.ID())

	// Once someone else replaces the lock, unlocking leaves theirs alone.
	mock.etags["topics/main.md.lock"] = `"0xother"`
	require.NoError(t, lock.Unlock(ctx))
	assert.Contains(t, mock.blobs, "topics/main.md.lock")
}

func TestToPtr(t *testing.T) {
	p := toPtr("text/markdown")
	require.NotNil(t, p)
	assert.Equal(t, "text/markdown", *p)
}
