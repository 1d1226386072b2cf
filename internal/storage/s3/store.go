// Package s3 stores sheet objects in any S3-compatible backend through the
// minio client. Keys are namespaced under an optional prefix so several
// deployments can share one bucket.
package s3

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"strings"
	"time"

	"github.com/sheetflow/sheetflow/internal/storage"
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

// objectAPI is the slice of the S3 client the store uses. The indirection
// keeps unit tests off the network; method names follow the minio client so
// the adapter in minio.go stays a thin translation layer.
type objectAPI interface {
	PutObject(ctx context.Context, bucket, key string, body io.Reader, size int64, opts storage.PutOptions) (storage.ObjectInfo, error)
	GetObject(ctx context.Context, bucket, key string) (io.ReadCloser, error)
	StatObject(ctx context.Context, bucket, key string) (storage.ObjectInfo, error)
	RemoveObject(ctx context.Context, bucket, key string) error
	PresignedGet(ctx context.Context, bucket, key string, expiry time.Duration) (*url.URL, error)
	BucketExists(ctx context.Context, bucket string) (bool, error)
	MakeBucket(ctx context.Context, bucket, region string) error
}

type Store struct {
	api    objectAPI
	bucket string
	prefix string
}

func New(ctx context.Context, cfg Config) (*Store, error) {
	bucket := strings.TrimSpace(cfg.Bucket)
	if bucket == "" {
		return nil, fmt.Errorf("object store bucket is required")
	}
	prefix, err := normalizePrefix(cfg.Prefix)
	if err != nil {
		return nil, err
	}

	api, err := newMinioBackend(cfg)
	if err != nil {
		return nil, err
	}
	store := &Store{api: api, bucket: bucket, prefix: prefix}
	if cfg.AutoCreateBucket {
		if err := store.ensureBucket(ctx, strings.TrimSpace(cfg.Region)); err != nil {
			return nil, err
		}
	}
	return store, nil
}

// NewWithClient builds a store over a caller-supplied backend. Tests use it
// to substitute fakes for the minio client.
func NewWithClient(bucket, prefix string, api objectAPI) (*Store, error) {
	if api == nil {
		return nil, fmt.Errorf("object api is required")
	}
	bucket = strings.TrimSpace(bucket)
	if bucket == "" {
		return nil, fmt.Errorf("object store bucket is required")
	}
	normalized, err := normalizePrefix(prefix)
	if err != nil {
		return nil, err
	}
	return &Store{api: api, bucket: bucket, prefix: normalized}, nil
}

func (s *Store) Put(ctx context.Context, key string, body io.Reader, size int64, opts storage.PutOptions) (storage.ObjectInfo, error) {
	resolved, err := s.resolve(key)
	if err != nil {
		return storage.ObjectInfo{}, err
	}
	info, err := s.api.PutObject(ctx, s.bucket, resolved, body, size, opts)
	if err != nil {
		return storage.ObjectInfo{}, fmt.Errorf("put object %q: %w", resolved, err)
	}
	return info, nil
}

func (s *Store) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	resolved, err := s.resolve(key)
	if err != nil {
		return nil, err
	}
	body, err := s.api.GetObject(ctx, s.bucket, resolved)
	if err != nil {
		return nil, wrapObjectErr("get", resolved, err)
	}
	return body, nil
}

func (s *Store) Stat(ctx context.Context, key string) (storage.ObjectInfo, error) {
	resolved, err := s.resolve(key)
	if err != nil {
		return storage.ObjectInfo{}, err
	}
	info, err := s.api.StatObject(ctx, s.bucket, resolved)
	if err != nil {
		return storage.ObjectInfo{}, wrapObjectErr("stat", resolved, err)
	}
	return info, nil
}

// Delete removes the object. Deleting a key that is already gone is not an
// error so callers can retry cleanup safely.
func (s *Store) Delete(ctx context.Context, key string) error {
	resolved, err := s.resolve(key)
	if err != nil {
		return err
	}
	if err := s.api.RemoveObject(ctx, s.bucket, resolved); err != nil {
		if errors.Is(err, storage.ErrObjectNotFound) {
			return nil
		}
		return fmt.Errorf("delete object %q: %w", resolved, err)
	}
	return nil
}

// PresignGet returns a time-limited URL that grants read access to one
// object without going through the API server. The object is stat'ed first
// so a missing key surfaces as ErrObjectNotFound rather than a signed URL
// that 404s on use.
func (s *Store) PresignGet(ctx context.Context, key string, expiry time.Duration) (string, error) {
	if expiry <= 0 {
		return "", fmt.Errorf("presign expiry must be positive")
	}
	resolved, err := s.resolve(key)
	if err != nil {
		return "", err
	}
	if _, err := s.api.StatObject(ctx, s.bucket, resolved); err != nil {
		return "", wrapObjectErr("presign", resolved, err)
	}
	signed, err := s.api.PresignedGet(ctx, s.bucket, resolved, expiry)
	if err != nil {
		return "", wrapObjectErr("presign", resolved, err)
	}
	return signed.String(), nil
}

func (s *Store) ensureBucket(ctx context.Context, region string) error {
	exists, err := s.api.BucketExists(ctx, s.bucket)
	if err != nil {
		return fmt.Errorf("check bucket %q: %w", s.bucket, err)
	}
	if exists {
		return nil
	}
	if err := s.api.MakeBucket(ctx, s.bucket, region); err != nil {
		return fmt.Errorf("create bucket %q: %w", s.bucket, err)
	}
	return nil
}

// resolve joins the key onto the store prefix after walking its segments.
// Dot and empty segments are dropped; a parent segment rejects the key
// outright since it could climb out of the prefix namespace.
func (s *Store) resolve(key string) (string, error) {
	cleaned, err := cleanKeyPath(key)
	if err != nil {
		return "", err
	}
	if s.prefix == "" {
		return cleaned, nil
	}
	return s.prefix + "/" + cleaned, nil
}

func cleanKeyPath(raw string) (string, error) {
	trimmed := strings.Trim(strings.TrimSpace(raw), "/")
	if trimmed == "" {
		return "", fmt.Errorf("object key is empty")
	}
	segments := strings.Split(trimmed, "/")
	kept := make([]string, 0, len(segments))
	for _, segment := range segments {
		switch segment {
		case "", ".":
			continue
		case "..":
			return "", fmt.Errorf("object key %q escapes the store namespace", raw)
		}
		kept = append(kept, segment)
	}
	if len(kept) == 0 {
		return "", fmt.Errorf("object key is empty")
	}
	return strings.Join(kept, "/"), nil
}

func normalizePrefix(prefix string) (string, error) {
	if strings.TrimSpace(prefix) == "" {
		return "", nil
	}
	cleaned, err := cleanKeyPath(prefix)
	if err != nil {
		return "", fmt.Errorf("invalid object store prefix: %w", err)
	}
	return cleaned, nil
}

func wrapObjectErr(op, key string, err error) error {
	if errors.Is(err, storage.ErrObjectNotFound) {
		return storage.ErrObjectNotFound
	}
	return fmt.Errorf("%s object %q: %w", op, key, err)
}
