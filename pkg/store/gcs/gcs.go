// Package gcs implements a store over a Google Cloud Storage bucket.
package gcs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path"
	"strings"
	"time"

	"cloud.google.com/go/storage"
	"github.com/davidthor/tok/pkg/store"
	"github.com/google/uuid"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
)

func init() {
	store.Register("gcs", NewStore)
}

const staleLockAge = time.Hour

// Store implements store.Store for Google Cloud Storage.
type Store struct {
	client *storage.Client
	bucket string
	prefix string
}

// NewStore creates a GCS store. Recognised keys: bucket (required), prefix,
// credentials (a key file), credentials_json and endpoint, which targets an
// emulator without authentication.
func NewStore(cfg map[string]string) (store.Store, error) {
	bucketName, ok := cfg["bucket"]
	if !ok || bucketName == "" {
		return nil, fmt.Errorf("gcs store requires 'bucket' configuration")
	}

	ctx := context.Background()
	var opts []option.ClientOption

	if credentialsFile := cfg["credentials"]; credentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(credentialsFile))
	}
	if credentialsJSON := cfg["credentials_json"]; credentialsJSON != "" {
		opts = append(opts, option.WithCredentialsJSON([]byte(credentialsJSON)))
	}
	if endpoint := cfg["endpoint"]; endpoint != "" {
		opts = append(opts, option.WithEndpoint(endpoint), option.WithoutAuthentication())
	}

	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCS client: %w", err)
	}

	return &Store{
		client: client,
		bucket: bucketName,
		prefix: strings.Trim(cfg["prefix"], "/"),
	}, nil
}

func (s *Store) Type() string {
	return "gcs"
}

func (s *Store) Read(ctx context.Context, objectPath string) (io.ReadCloser, error) {
	name := s.fullPath(objectPath)

	reader, err := s.client.Bucket(s.bucket).Object(name).NewReader(ctx)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) {
			return nil, store.ErrNotFound
		}
		return nil, fmt.Errorf("failed to read gs://%s/%s: %w", s.bucket, name, err)
	}

	return reader, nil
}

func (s *Store) Write(ctx context.Context, objectPath string, data io.Reader) error {
	name := s.fullPath(objectPath)

	writer := s.client.Bucket(s.bucket).Object(name).NewWriter(ctx)
	writer.ContentType = contentType(objectPath)

	if _, err := io.Copy(writer, data); err != nil {
		writer.Close()
		return fmt.Errorf("failed to write gs://%s/%s: %w", s.bucket, name, err)
	}

	if err := writer.Close(); err != nil {
		return fmt.Errorf("failed to close writer: %w", err)
	}

	return nil
}

func (s *Store) List(ctx context.Context, prefix string) ([]string, error) {
	fullPrefix := s.fullPath(prefix)

	var paths []string
	it := s.client.Bucket(s.bucket).Objects(ctx, &storage.Query{
		Prefix: fullPrefix,
	})

	for {
		attrs, err := it.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to list objects: %w", err)
		}
		if rel := s.relPath(attrs.Name); !strings.HasSuffix(rel, ".lock") {
			paths = append(paths, rel)
		}
	}

	return paths, nil
}

func (s *Store) Exists(ctx context.Context, objectPath string) (bool, error) {
	name := s.fullPath(objectPath)

	_, err := s.client.Bucket(s.bucket).Object(name).Attrs(ctx)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) {
			return false, nil
		}
		return false, fmt.Errorf("failed to check existence: %w", err)
	}

	return true, nil
}

// Lock writes <path>.lock with a generation precondition, so two builds
// racing for the same lock cannot both win. A lock older than staleLockAge is
// replaced by matching its generation.
func (s *Store) Lock(ctx context.Context, objectPath string, info store.LockInfo) (store.Lock, error) {
	obj := s.client.Bucket(s.bucket).Object(s.fullPath(objectPath + ".lock"))

	cond := storage.Conditions{DoesNotExist: true}
	existing, generation, err := readLock(ctx, obj)
	switch {
	case err == nil && time.Since(existing.Created) < staleLockAge:
		return nil, &store.LockError{Info: existing, Err: store.ErrLocked}
	case err == nil:
		cond = storage.Conditions{GenerationMatch: generation}
	case !errors.Is(err, storage.ErrObjectNotExist):
		return nil, fmt.Errorf("failed to read lock: %w", err)
	}

	info.ID = uuid.New().String()
	info.Path = objectPath
	info.Created = time.Now()
	data, err := json.Marshal(info)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal lock info: %w", err)
	}

	w := obj.If(cond).NewWriter(ctx)
	w.ContentType = "application/json"
	if _, err := w.Write(data); err != nil {
		w.Close()
		return nil, fmt.Errorf("failed to write lock: %w", err)
	}
	if err := w.Close(); err != nil {
		if isPreconditionFailed(err) {
			held, _, _ := readLock(ctx, obj)
			return nil, &store.LockError{Info: held, Err: store.ErrLocked}
		}
		return nil, fmt.Errorf("failed to write lock: %w", err)
	}

	return &gcsLock{obj: obj, generation: w.Attrs().Generation, info: info}, nil
}

func readLock(ctx context.Context, obj *storage.ObjectHandle) (store.LockInfo, int64, error) {
	var info store.LockInfo
	r, err := obj.NewReader(ctx)
	if err != nil {
		return info, 0, err
	}
	defer r.Close()

	if err := json.NewDecoder(r).Decode(&info); err != nil {
		return info, 0, fmt.Errorf("failed to decode lock: %w", err)
	}
	return info, r.Attrs.Generation, nil
}

func isPreconditionFailed(err error) bool {
	var apiErr *googleapi.Error
	return errors.As(err, &apiErr) && apiErr.Code == http.StatusPreconditionFailed
}

func (s *Store) fullPath(objectPath string) string {
	if s.prefix == "" {
		return objectPath
	}
	return path.Join(s.prefix, objectPath)
}

func (s *Store) relPath(name string) string {
	if s.prefix == "" {
		return name
	}
	return strings.TrimPrefix(name, s.prefix+"/")
}

// Close closes the GCS client.
func (s *Store) Close() error {
	return s.client.Close()
}

func contentType(objectPath string) string {
	switch path.Ext(objectPath) {
	case ".md":
		return "text/markdown"
	case ".json":
		return "application/json"
	case ".yaml", ".yml":
		return "application/yaml"
	default:
		return "application/octet-stream"
	}
}

type gcsLock struct {
	obj        *storage.ObjectHandle
	generation int64
	info       store.LockInfo
}

func (l *gcsLock) ID() string {
	return l.info.ID
}

// Unlock deletes the lock object only if it is still the generation this
// lock wrote.
func (l *gcsLock) Unlock(ctx context.Context) error {
	err := l.obj.If(storage.Conditions{GenerationMatch: l.generation}).Delete(ctx)
	if err == nil || errors.Is(err, storage.ErrObjectNotExist) || isPreconditionFailed(err) {
		return nil
	}
	return fmt.Errorf("failed to release lock: %w", err)
}

func (l *gcsLock) Info() store.LockInfo {
	return l.info
}

var _ store.Store = (*Store)(nil)
