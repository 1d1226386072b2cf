package s3

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/sheetflow/sheetflow/internal/storage"
)

// minioBackend adapts a *minio.Client to the objectAPI seam and translates
// minio error codes to the storage sentinels.
type minioBackend struct {
	client *minio.Client
}

func newMinioBackend(cfg Config) (*minioBackend, error) {
	host, secure, err := parseEndpoint(cfg.Endpoint, cfg.UseSSL)
	if err != nil {
		return nil, err
	}
	client, err := minio.New(host, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		Secure: secure,
		Region: strings.TrimSpace(cfg.Region),
	})
	if err != nil {
		return nil, fmt.Errorf("create object store client: %w", err)
	}
	return &minioBackend{client: client}, nil
}

// parseEndpoint accepts either a bare host:port or a full URL. A URL scheme
// decides TLS on its own; the useSSL flag only applies to bare hosts.
func parseEndpoint(raw string, useSSL bool) (string, bool, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return "", false, fmt.Errorf("object store endpoint is required")
	}
	if !strings.Contains(trimmed, "://") {
		return trimmed, useSSL, nil
	}
	parsed, err := url.Parse(trimmed)
	if err != nil {
		return "", false, fmt.Errorf("parse object store endpoint: %w", err)
	}
	if parsed.Host == "" {
		return "", false, fmt.Errorf("object store endpoint %q has no host", raw)
	}
	switch parsed.Scheme {
	case "https":
		return parsed.Host, true, nil
	case "http":
		return parsed.Host, false, nil
	default:
		return "", false, fmt.Errorf("object store endpoint scheme %q is not supported", parsed.Scheme)
	}
}

func (b *minioBackend) PutObject(ctx context.Context, bucket, key string, body io.Reader, size int64, opts storage.PutOptions) (storage.ObjectInfo, error) {
	uploaded, err := b.client.PutObject(ctx, bucket, key, body, size, minio.PutObjectOptions{ContentType: opts.ContentType})
	if err != nil {
		return storage.ObjectInfo{}, translateMinioErr(err)
	}
	return storage.ObjectInfo{Key: uploaded.Key, Size: uploaded.Size, ETag: uploaded.ETag}, nil
}

// GetObject stats the handle before returning it. The minio client opens
// objects lazily, so without the stat a missing key would only fail on the
// first read.
func (b *minioBackend) GetObject(ctx context.Context, bucket, key string) (io.ReadCloser, error) {
	object, err := b.client.GetObject(ctx, bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, translateMinioErr(err)
	}
	if _, err := object.Stat(); err != nil {
		_ = object.Close()
		return nil, translateMinioErr(err)
	}
	return object, nil
}

func (b *minioBackend) StatObject(ctx context.Context, bucket, key string) (storage.ObjectInfo, error) {
	info, err := b.client.StatObject(ctx, bucket, key, minio.StatObjectOptions{})
	if err != nil {
		return storage.ObjectInfo{}, translateMinioErr(err)
	}
	return storage.ObjectInfo{
		Key:          info.Key,
		Size:         info.Size,
		ETag:         info.ETag,
		ContentType:  info.ContentType,
		LastModified: info.LastModified,
	}, nil
}

func (b *minioBackend) RemoveObject(ctx context.Context, bucket, key string) error {
	if err := b.client.RemoveObject(ctx, bucket, key, minio.RemoveObjectOptions{}); err != nil {
		return translateMinioErr(err)
	}
	return nil
}

func (b *minioBackend) PresignedGet(ctx context.Context, bucket, key string, expiry time.Duration) (*url.URL, error) {
	signed, err := b.client.PresignedGetObject(ctx, bucket, key, expiry, url.Values{})
	if err != nil {
		return nil, translateMinioErr(err)
	}
	return signed, nil
}

func (b *minioBackend) BucketExists(ctx context.Context, bucket string) (bool, error) {
	exists, err := b.client.BucketExists(ctx, bucket)
	if err != nil {
		return false, translateMinioErr(err)
	}
	return exists, nil
}

func (b *minioBackend) MakeBucket(ctx context.Context, bucket, region string) error {
	if err := b.client.MakeBucket(ctx, bucket, minio.MakeBucketOptions{Region: region}); err != nil {
		return translateMinioErr(err)
	}
	return nil
}

func translateMinioErr(err error) error {
	if err == nil {
		return nil
	}
	var response minio.ErrorResponse
	if errors.As(err, &response) {
		switch response.Code {
		case "NoSuchKey", "NoSuchBucket", "NotFound":
			return storage.ErrObjectNotFound
		}
	}
	return err
}
