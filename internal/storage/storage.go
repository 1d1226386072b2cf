// Package storage defines the object store contract the file endpoints are
// written against, plus the key layout stored objects follow. The s3
// subpackage provides the real implementation; tests substitute in-memory
// fakes.
package storage

import (
	"context"
	"errors"
	"io"
	"time"
)

// ErrObjectNotFound reports that no object exists under the requested key.
// Implementations translate their backend's missing-object errors to this
// sentinel so handlers can map it to a 404.
var ErrObjectNotFound = errors.New("no such object in the store")

// ObjectInfo describes one stored object. ContentType is only populated by
// Stat; uploads report the key, size and etag the backend assigned.
type ObjectInfo struct {
	Key          string
	Size         int64
	ETag         string
	ContentType  string
	LastModified time.Time
}

type PutOptions struct {
	ContentType string
}

// ObjectStore is the blob interface behind uploads, downloads, previews and
// temporary links. Keys are slash-separated paths relative to the store's
// configured prefix.
type ObjectStore interface {
	Put(ctx context.Context, key string, body io.Reader, size int64, opts PutOptions) (ObjectInfo, error)
	Get(ctx context.Context, key string) (io.ReadCloser, error)
	Stat(ctx context.Context, key string) (ObjectInfo, error)
	Delete(ctx context.Context, key string) error
	PresignGet(ctx context.Context, key string, expiry time.Duration) (string, error)
}
