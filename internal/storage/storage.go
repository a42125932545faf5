// Package storage defines the object store that holds immutable incident
// batches for the lake backend.
package storage

import (
	"context"
	"errors"
	"io"
	"time"
)

var ErrObjectNotFound = errors.New("object not found")

type ObjectInfo struct {
	Key          string
	Size         int64
	LastModified time.Time
}

type PutOptions struct {
	ContentType string
}

// ObjectStore is write-once: batches are put and read back, never updated.
type ObjectStore interface {
	Put(ctx context.Context, key string, body io.Reader, size int64, opts PutOptions) (ObjectInfo, error)
	Get(ctx context.Context, key string) (io.ReadCloser, error)
	// List returns objects under prefix ordered by key. Keys are relative to
	// the store root and can be passed back to Get.
	List(ctx context.Context, prefix string) ([]ObjectInfo, error)
}
