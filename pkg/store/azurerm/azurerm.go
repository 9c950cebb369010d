// Package azurerm implements a store over an Azure Blob Storage container.
package azurerm

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

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azidentity"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/blob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/bloberror"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/container"
	"github.com/davidthor/tok/pkg/store"
	"github.com/google/uuid"
)

func init() {
	store.Register("azurerm", NewStore)
}

const staleLockAge = time.Hour

// Store implements store.Store for Azure Blob Storage.
type Store struct {
	client        *azblob.Client
	containerName string
	prefix        string
}

// NewStore creates an Azure Blob Storage store. Recognised keys:
// storage_account_name and container_name (required), prefix, endpoint, and
// one of access_key, sas_token or connection_string. Without any of those the
// default Azure identity chain is used.
func NewStore(cfg map[string]string) (store.Store, error) {
	storageAccount, ok := cfg["storage_account_name"]
	if !ok || storageAccount == "" {
		return nil, fmt.Errorf("azurerm store requires 'storage_account_name' configuration")
	}

	containerName, ok := cfg["container_name"]
	if !ok || containerName == "" {
		return nil, fmt.Errorf("azurerm store requires 'container_name' configuration")
	}

	serviceURL := fmt.Sprintf("https://%s.blob.core.windows.net/", storageAccount)
	// Azurite
	if endpoint := cfg["endpoint"]; endpoint != "" {
		serviceURL = endpoint
	}

	client, err := newClient(serviceURL, storageAccount, cfg)
	if err != nil {
		return nil, err
	}

	prefix := cfg["prefix"]
	if prefix == "" {
		prefix = cfg["key"]
	}

	return &Store{
		client:        client,
		containerName: containerName,
		prefix:        strings.Trim(prefix, "/"),
	}, nil
}

func newClient(serviceURL, storageAccount string, cfg map[string]string) (*azblob.Client, error) {
	if accessKey := cfg["access_key"]; accessKey != "" {
		cred, err := azblob.NewSharedKeyCredential(storageAccount, accessKey)
		if err != nil {
			return nil, fmt.Errorf("azurerm shared key: %w", err)
		}
		client, err := azblob.NewClientWithSharedKeyCredential(serviceURL, cred, nil)
		if err != nil {
			return nil, fmt.Errorf("azurerm client (shared key): %w", err)
		}
		return client, nil
	}

	if sasToken := cfg["sas_token"]; sasToken != "" {
		sep := "?"
		if strings.Contains(serviceURL, "?") {
			sep = "&"
		}
		client, err := azblob.NewClientWithNoCredential(serviceURL+sep+strings.TrimPrefix(sasToken, "?"), nil)
		if err != nil {
			return nil, fmt.Errorf("azurerm client (sas token): %w", err)
		}
		return client, nil
	}

	if connectionString := cfg["connection_string"]; connectionString != "" {
		client, err := azblob.NewClientFromConnectionString(connectionString, nil)
		if err != nil {
			return nil, fmt.Errorf("azurerm client (connection string): %w", err)
		}
		return client, nil
	}

	cred, err := azidentity.NewDefaultAzureCredential(nil)
	if err != nil {
		return nil, fmt.Errorf("azurerm default credential: %w", err)
	}
	client, err := azblob.NewClient(serviceURL, cred, nil)
	if err != nil {
		return nil, fmt.Errorf("azurerm client: %w", err)
	}
	return client, nil
}

func (s *Store) Type() string {
	return "azurerm"
}

func (s *Store) Read(ctx context.Context, objectPath string) (io.ReadCloser, error) {
	blobPath := s.fullPath(objectPath)

	resp, err := s.client.DownloadStream(ctx, s.containerName, blobPath, nil)
	if err != nil {
		if bloberror.HasCode(err, bloberror.BlobNotFound) {
			return nil, store.ErrNotFound
		}
		return nil, fmt.Errorf("failed to read azure://%s/%s: %w", s.containerName, blobPath, err)
	}

	return resp.Body, nil
}

func (s *Store) Write(ctx context.Context, objectPath string, data io.Reader) error {
	blobPath := s.fullPath(objectPath)

	content, err := io.ReadAll(data)
	if err != nil {
		return fmt.Errorf("reading %s: %w", objectPath, err)
	}

	if _, err := s.upload(ctx, blobPath, content, contentType(objectPath), nil); err != nil {
		return fmt.Errorf("failed to write azure://%s/%s: %w", s.containerName, blobPath, err)
	}
	return nil
}

func (s *Store) upload(ctx context.Context, blobPath string, content []byte, mediaType string, cond *blob.ModifiedAccessConditions) (*azcore.ETag, error) {
	resp, err := s.client.UploadBuffer(ctx, s.containerName, blobPath, content, &azblob.UploadBufferOptions{
		HTTPHeaders: &blob.HTTPHeaders{
			BlobContentType: toPtr(mediaType),
		},
		AccessConditions: &blob.AccessConditions{ModifiedAccessConditions: cond},
	})
	if err != nil {
		return nil, err
	}
	return resp.ETag, nil
}

func (s *Store) List(ctx context.Context, prefix string) ([]string, error) {
	fullPrefix := s.fullPath(prefix)

	var paths []string
	pager := s.client.NewListBlobsFlatPager(s.containerName, &container.ListBlobsFlatOptions{
		Prefix: &fullPrefix,
	})

	for pager.More() {
		page, err := pager.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("listing %s: %w", fullPrefix, err)
		}

		for _, item := range page.Segment.BlobItems {
			if item.Name == nil || strings.HasSuffix(*item.Name, ".lock") {
				continue
			}
			rel := *item.Name
			if s.prefix != "" {
				rel = strings.TrimPrefix(rel, s.prefix+"/")
			}
			paths = append(paths, rel)
		}
	}

	return paths, nil
}

func (s *Store) Exists(ctx context.Context, objectPath string) (bool, error) {
	blobPath := s.fullPath(objectPath)

	_, err := s.client.ServiceClient().NewContainerClient(s.containerName).NewBlobClient(blobPath).GetProperties(ctx, nil)
	if err != nil {
		var respErr *azcore.ResponseError
		if errors.As(err, &respErr) && respErr.StatusCode == http.StatusNotFound {
			return false, nil
		}
		if bloberror.HasCode(err, bloberror.BlobNotFound) {
			return false, nil
		}
		return false, fmt.Errorf("checking %s: %w", blobPath, err)
	}

	return true, nil
}

// Lock uploads <path>.lock conditionally: If-None-Match * for a new lock, or
// If-Match on the ETag of a stale one, so concurrent builds cannot both hold it.
func (s *Store) Lock(ctx context.Context, objectPath string, info store.LockInfo) (store.Lock, error) {
	lockPath := s.fullPath(objectPath + ".lock")

	cond := &blob.ModifiedAccessConditions{IfNoneMatch: toPtr(azcore.ETagAny)}
	existing, etag, err := s.readLock(ctx, lockPath)
	switch {
	case err == nil && time.Since(existing.Created) < staleLockAge:
		return nil, &store.LockError{Info: existing, Err: store.ErrLocked}
	case err == nil:
		cond = &blob.ModifiedAccessConditions{IfMatch: etag}
	case !bloberror.HasCode(err, bloberror.BlobNotFound):
		return nil, fmt.Errorf("reading lock %s: %w", lockPath, err)
	}

	info.ID = uuid.New().String()
	info.Path = objectPath
	info.Created = time.Now()
	data, err := json.Marshal(info)
	if err != nil {
		return nil, fmt.Errorf("encoding lock: %w", err)
	}

	written, err := s.upload(ctx, lockPath, data, "application/json", cond)
	if bloberror.HasCode(err, bloberror.BlobAlreadyExists, bloberror.ConditionNotMet) {
		held, _, _ := s.readLock(ctx, lockPath)
		return nil, &store.LockError{Info: held, Err: store.ErrLocked}
	}
	if err != nil {
		return nil, fmt.Errorf("creating lock %s: %w", lockPath, err)
	}

	return &azureLock{store: s, path: lockPath, etag: written, info: info}, nil
}

func (s *Store) readLock(ctx context.Context, lockPath string) (store.LockInfo, *azcore.ETag, error) {
	var info store.LockInfo
	resp, err := s.client.DownloadStream(ctx, s.containerName, lockPath, nil)
	if err != nil {
		return info, nil, err
	}
	defer resp.Body.Close()

	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		return info, nil, fmt.Errorf("failed to decode lock: %w", err)
	}
	return info, resp.ETag, nil
}

func (s *Store) fullPath(objectPath string) string {
	if s.prefix == "" {
		return objectPath
	}
	return path.Join(s.prefix, objectPath)
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

type azureLock struct {
	store *Store
	path  string
	etag  *azcore.ETag
	info  store.LockInfo
}

func (l *azureLock) ID() string {
	return l.info.ID
}

// Unlock deletes the lock blob if it still carries the ETag this lock wrote.
func (l *azureLock) Unlock(ctx context.Context) error {
	_, err := l.store.client.DeleteBlob(ctx, l.store.containerName, l.path, &azblob.DeleteBlobOptions{
		AccessConditions: &blob.AccessConditions{
			ModifiedAccessConditions: &blob.ModifiedAccessConditions{IfMatch: l.etag},
		},
	})
	if err != nil && !bloberror.HasCode(err, bloberror.BlobNotFound, bloberror.ConditionNotMet) {
		return fmt.Errorf("releasing lock %s: %w", l.path, err)
	}
	return nil
}

func (l *azureLock) Info() store.LockInfo {
	return l.info
}

var _ store.Store = (*Store)(nil)

func toPtr[T any](v T) *T {
	return &v
}
