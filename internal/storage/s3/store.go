// Package s3 keeps incident batches in an S3 compatible bucket through
// minio-go.
package s3

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"path"
	"sort"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/nocassist/nocassist/internal/storage"
)

type Config struct {
	Endpoint         string
	Region           string
	Bucket           string
	AccessKeyID      string
	SecretAccessKey  string
	UseSSL           bool
	Prefix           string
	AutoCreateBucket bool
}

// bucketAPI is the slice of the S3 API the store needs.
type bucketAPI interface {
	put(ctx context.Context, key string, body io.Reader, size int64, contentType string) (storage.ObjectInfo, error)
	get(ctx context.Context, key string) (io.ReadCloser, error)
	list(ctx context.Context, prefix string) ([]storage.ObjectInfo, error)
	ensure(ctx context.Context, region string) error
}

// Store scopes every key under an optional prefix so several deployments can
// share one bucket.
type Store struct {
	api    bucketAPI
	prefix string
}

func New(ctx context.Context, cfg Config) (*Store, error) {
	bucket := strings.TrimSpace(cfg.Bucket)
	if strings.TrimSpace(cfg.Endpoint) == "" {
		return nil, fmt.Errorf("s3 endpoint is required")
	}
	if bucket == "" {
		return nil, fmt.Errorf("s3 bucket is required")
	}

	endpoint, secure, err := parseEndpoint(cfg.Endpoint, cfg.UseSSL)
	if err != nil {
		return nil, err
	}
	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		Secure: secure,
		Region: strings.TrimSpace(cfg.Region),
	})
	if err != nil {
		return nil, fmt.Errorf("create s3 client: %w", err)
	}

	store := newStore(&minioBucket{client: client, bucket: bucket}, cfg.Prefix)
	if cfg.AutoCreateBucket {
		if err := store.api.ensure(ctx, strings.TrimSpace(cfg.Region)); err != nil {
			return nil, fmt.Errorf("ensure bucket %q: %w", bucket, err)
		}
	}
	return store, nil
}

func newStore(api bucketAPI, prefix string) *Store {
	return &Store{api: api, prefix: cleanPrefix(prefix)}
}

func (s *Store) Put(ctx context.Context, key string, body io.Reader, size int64, opts storage.PutOptions) (storage.ObjectInfo, error) {
	full, err := s.objectKey(key)
	if err != nil {
		return storage.ObjectInfo{}, err
	}
	info, err := s.api.put(ctx, full, body, size, opts.ContentType)
	if err != nil {
		return storage.ObjectInfo{}, fmt.Errorf("put object %q: %w", full, err)
	}
	info.Key = s.relative(info.Key)
	return info, nil
}

func (s *Store) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	full, err := s.objectKey(key)
	if err != nil {
		return nil, err
	}
	reader, err := s.api.get(ctx, full)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotFound) {
			return nil, storage.ErrObjectNotFound
		}
		return nil, fmt.Errorf("get object %q: %w", full, err)
	}
	return reader, nil
}

func (s *Store) List(ctx context.Context, prefix string) ([]storage.ObjectInfo, error) {
	full := strings.TrimPrefix(strings.TrimSpace(prefix), "/")
	if s.prefix != "" {
		full = s.prefix + "/" + full
	}
	infos, err := s.api.list(ctx, full)
	if err != nil {
		return nil, fmt.Errorf("list objects %q: %w", full, err)
	}
	for i := range infos {
		infos[i].Key = s.relative(infos[i].Key)
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Key < infos[j].Key })
	return infos, nil
}

// objectKey rejects keys that would escape the store prefix.
func (s *Store) objectKey(key string) (string, error) {
	key = strings.TrimPrefix(strings.TrimSpace(key), "/")
	if key == "" {
		return "", fmt.Errorf("object key is required")
	}
	cleaned := path.Clean(key)
	if cleaned == "." || cleaned == ".." || strings.HasPrefix(cleaned, "../") {
		return "", fmt.Errorf("invalid object key: %q", key)
	}
	if s.prefix == "" {
		return cleaned, nil
	}
	return s.prefix + "/" + cleaned, nil
}

func (s *Store) relative(key string) string {
	if s.prefix == "" {
		return key
	}
	return strings.TrimPrefix(key, s.prefix+"/")
}

func cleanPrefix(prefix string) string {
	prefix = strings.Trim(strings.TrimSpace(prefix), "/")
	if prefix == "" {
		return ""
	}
	if cleaned := path.Clean(prefix); cleaned != "." {
		return cleaned
	}
	return ""
}

// parseEndpoint accepts host:port or a URL; an https URL forces TLS.
func parseEndpoint(raw string, useSSL bool) (string, bool, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", false, fmt.Errorf("endpoint is required")
	}
	if !strings.Contains(raw, "://") {
		return raw, useSSL, nil
	}
	parsed, err := url.Parse(raw)
	if err != nil {
		return "", false, fmt.Errorf("parse endpoint URL: %w", err)
	}
	if parsed.Host == "" {
		return "", false, fmt.Errorf("endpoint host is required")
	}
	switch parsed.Scheme {
	case "https":
		return parsed.Host, true, nil
	case "http":
		return parsed.Host, useSSL, nil
	default:
		return "", false, fmt.Errorf("unsupported endpoint scheme %q", parsed.Scheme)
	}
}

type minioBucket struct {
	client *minio.Client
	bucket string
}

func (m *minioBucket) put(ctx context.Context, key string, body io.Reader, size int64, contentType string) (storage.ObjectInfo, error) {
	uploaded, err := m.client.PutObject(ctx, m.bucket, key, body, size, minio.PutObjectOptions{ContentType: contentType})
	if err != nil {
		return storage.ObjectInfo{}, notFound(err)
	}
	return storage.ObjectInfo{Key: uploaded.Key, Size: uploaded.Size, LastModified: uploaded.LastModified}, nil
}

// get stats the object first so a missing key fails here rather than on the
// first Read.
func (m *minioBucket) get(ctx context.Context, key string) (io.ReadCloser, error) {
	object, err := m.client.GetObject(ctx, m.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, notFound(err)
	}
	if _, err := object.Stat(); err != nil {
		_ = object.Close()
		return nil, notFound(err)
	}
	return object, nil
}

func (m *minioBucket) list(ctx context.Context, prefix string) ([]storage.ObjectInfo, error) {
	var out []storage.ObjectInfo
	for object := range m.client.ListObjects(ctx, m.bucket, minio.ListObjectsOptions{Prefix: prefix, Recursive: true}) {
		if object.Err != nil {
			return nil, notFound(object.Err)
		}
		out = append(out, storage.ObjectInfo{Key: object.Key, Size: object.Size, LastModified: object.LastModified})
	}
	return out, nil
}

func (m *minioBucket) ensure(ctx context.Context, region string) error {
	exists, err := m.client.BucketExists(ctx, m.bucket)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}
	return m.client.MakeBucket(ctx, m.bucket, minio.MakeBucketOptions{Region: region})
}

func notFound(err error) error {
	var response minio.ErrorResponse
	if errors.As(err, &response) {
		switch response.Code {
		case "NoSuchKey", "NoSuchBucket", "NotFound":
			return storage.ErrObjectNotFound
		}
	}
	return err
}
