// Package s3 implements a store over an S3-compatible bucket.
package s3

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	"github.com/aws/smithy-go"
	"github.com/davidthor/tok/pkg/store"
	"github.com/google/uuid"
)

func init() {
	store.Register("s3", NewStore)
}

const staleLockAge = time.Hour

// Store implements store.Store for S3-compatible storage.
type Store struct {
	client *s3.Client
	bucket string
	prefix string
	region string
}

// secretCredentials is the JSON document expected in a credentials secret.
type secretCredentials struct {
	AccessKey    string `json:"access_key"`
	SecretKey    string `json:"secret_key"`
	SessionToken string `json:"session_token"`
}

// NewStore creates an S3 store. Recognised keys: bucket (required), region,
// prefix, endpoint, force_path_style, access_key, secret_key and
// credentials_secret, the name of a Secrets Manager secret holding the
// access keys as JSON.
func NewStore(cfg map[string]string) (store.Store, error) {
	bucket, ok := cfg["bucket"]
	if !ok || bucket == "" {
		return nil, fmt.Errorf("s3 store requires 'bucket' configuration")
	}

	region := cfg["region"]
	if region == "" {
		region = "us-east-1"
	}

	ctx := context.Background()
	opts := []func(*config.LoadOptions) error{config.WithRegion(region)}

	if accessKey := cfg["access_key"]; accessKey != "" {
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(accessKey, cfg["secret_key"], ""),
		))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	if secretID := cfg["credentials_secret"]; secretID != "" {
		provider, err := secretCredentialsProvider(ctx, awsCfg, secretID, cfg["secrets_endpoint"])
		if err != nil {
			return nil, err
		}
		awsCfg.Credentials = provider
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.UsePathStyle = cfg["force_path_style"] == "true"
		// MinIO, R2 and friends
		if endpoint := cfg["endpoint"]; endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
		}
	})

	prefix := cfg["prefix"]
	if prefix == "" {
		prefix = cfg["key"]
	}

	return &Store{
		client: client,
		bucket: bucket,
		prefix: strings.Trim(prefix, "/"),
		region: region,
	}, nil
}

// secretCredentialsProvider fetches static credentials from Secrets Manager.
func secretCredentialsProvider(ctx context.Context, awsCfg aws.Config, secretID, endpoint string) (aws.CredentialsProvider, error) {
	client := secretsmanager.NewFromConfig(awsCfg, func(o *secretsmanager.Options) {
		if endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
		}
	})

	out, err := client.GetSecretValue(ctx, &secretsmanager.GetSecretValueInput{
		SecretId: aws.String(secretID),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to read credentials secret %s: %w", secretID, err)
	}
	if out.SecretString == nil {
		return nil, fmt.Errorf("credentials secret %s has no string value", secretID)
	}

	var creds secretCredentials
	if err := json.Unmarshal([]byte(*out.SecretString), &creds); err != nil {
		return nil, fmt.Errorf("failed to parse credentials secret %s: %w", secretID, err)
	}
	if creds.AccessKey == "" || creds.SecretKey == "" {
		return nil, fmt.Errorf("credentials secret %s must contain access_key and secret_key", secretID)
	}

	return credentials.NewStaticCredentialsProvider(creds.AccessKey, creds.SecretKey, creds.SessionToken), nil
}

func (s *Store) Type() string {
	return "s3"
}

func (s *Store) Read(ctx context.Context, objectPath string) (io.ReadCloser, error) {
	key := s.fullPath(objectPath)

	output, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: &s.bucket,
		Key:    &key,
	})
	if err != nil {
		var nsk *types.NoSuchKey
		if errors.As(err, &nsk) {
			return nil, store.ErrNotFound
		}
		return nil, fmt.Errorf("failed to read s3://%s/%s: %w", s.bucket, key, err)
	}

	return output.Body, nil
}

func (s *Store) Write(ctx context.Context, objectPath string, data io.Reader) error {
	key := s.fullPath(objectPath)

	// PutObject needs a seekable body to compute the content length
	content, err := io.ReadAll(data)
	if err != nil {
		return fmt.Errorf("failed to read data: %w", err)
	}

	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      &s.bucket,
		Key:         &key,
		Body:        bytes.NewReader(content),
		ContentType: aws.String(contentType(objectPath)),
	})
	if err != nil {
		return fmt.Errorf("failed to write s3://%s/%s: %w", s.bucket, key, err)
	}

	return nil
}

func (s *Store) List(ctx context.Context, prefix string) ([]string, error) {
	fullPrefix := s.fullPath(prefix)

	var paths []string
	paginator := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket: &s.bucket,
		Prefix: &fullPrefix,
	})

	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to list objects: %w", err)
		}

		for _, obj := range page.Contents {
			rel := *obj.Key
			if s.prefix != "" {
				rel = strings.TrimPrefix(rel, s.prefix+"/")
			}
			if strings.HasSuffix(rel, ".lock") {
				continue
			}
			paths = append(paths, rel)
		}
	}

	return paths, nil
}

func (s *Store) Exists(ctx context.Context, objectPath string) (bool, error) {
	key := s.fullPath(objectPath)

	_, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: &s.bucket,
		Key:    &key,
	})
	if err != nil {
		var nsk *types.NoSuchKey
		if errors.As(err, &nsk) {
			return false, nil
		}
		var notFound *types.NotFound
		if errors.As(err, &notFound) {
			return false, nil
		}
		return false, fmt.Errorf("failed to check existence: %w", err)
	}

	return true, nil
}

// Lock puts <path>.lock with If-None-Match, or with If-Match on the ETag of a
// stale lock, so only one of two racing builds gets it.
func (s *Store) Lock(ctx context.Context, objectPath string, info store.LockInfo) (store.Lock, error) {
	lockKey := s.fullPath(objectPath + ".lock")

	input := &s3.PutObjectInput{
		Bucket:      &s.bucket,
		Key:         &lockKey,
		ContentType: aws.String("application/json"),
		IfNoneMatch: aws.String("*"),
	}
	existing, etag, err := s.readLock(ctx, lockKey)
	var nsk *types.NoSuchKey
	switch {
	case err == nil && time.Since(existing.Created) < staleLockAge:
		return nil, &store.LockError{Info: existing, Err: store.ErrLocked}
	case err == nil:
		input.IfNoneMatch = nil
		input.IfMatch = etag
	case !errors.As(err, &nsk):
		return nil, fmt.Errorf("failed to read lock: %w", err)
	}

	info.ID = uuid.New().String()
	info.Path = objectPath
	info.Created = time.Now()
	data, err := json.Marshal(info)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal lock info: %w", err)
	}
	input.Body = bytes.NewReader(data)

	if _, err := s.client.PutObject(ctx, input); err != nil {
		if isConditionFailure(err) {
			held, _, _ := s.readLock(ctx, lockKey)
			return nil, &store.LockError{Info: held, Err: store.ErrLocked}
		}
		return nil, fmt.Errorf("failed to create lock: %w", err)
	}

	return &s3Lock{store: s, key: lockKey, info: info}, nil
}

func (s *Store) readLock(ctx context.Context, key string) (store.LockInfo, *string, error) {
	var info store.LockInfo
	output, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: &s.bucket,
		Key:    &key,
	})
	if err != nil {
		return info, nil, err
	}
	defer output.Body.Close()

	if err := json.NewDecoder(output.Body).Decode(&info); err != nil {
		return info, nil, fmt.Errorf("failed to decode lock: %w", err)
	}
	return info, output.ETag, nil
}

// isConditionFailure reports a conditional put that lost to another writer.
func isConditionFailure(err error) bool {
	var apiErr smithy.APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	switch apiErr.ErrorCode() {
	case "PreconditionFailed", "ConditionalRequestConflict":
		return true
	}
	return false
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
	case ".png":
		return "image/png"
	default:
		return "application/octet-stream"
	}
}

type s3Lock struct {
	store *Store
	key   string
	info  store.LockInfo
}

func (l *s3Lock) ID() string {
	return l.info.ID
}

func (l *s3Lock) Unlock(ctx context.Context) error {
	_, err := l.store.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: &l.store.bucket,
		Key:    &l.key,
	})
	if err != nil {
		return fmt.Errorf("failed to release lock: %w", err)
	}
	return nil
}

func (l *s3Lock) Info() store.LockInfo {
	return l.info
}
