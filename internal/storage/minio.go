package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/google/logger"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// MinioStorage implements Storage using a MinIO (or any S3-compatible) backend.
// To switch to ArvanCloud Object Storage, change STORAGE_ENDPOINT and credentials;
// no code changes are needed since ArvanCloud is S3-compatible.
type MinioStorage struct {
	client     *minio.Client
	bucket     string
	publicBase string
	urlTTL     time.Duration
}

// MinioOptions configures NewMinioStorage.
type MinioOptions struct {
	Endpoint   string
	AccessKey  string
	SecretKey  string
	Bucket     string
	PublicBase string
	UseSSL     bool
	// URLTTL > 0 hands out presigned GET URLs; zero hands out PublicBase URLs.
	URLTTL time.Duration
}

// NewMinioStorage creates a MinIO client, ensures the bucket exists and returns a
// ready-to-use MinioStorage. Path-style lookup is forced so that a presigned URL
// always carries the bucket in its path and can be mapped back to a key.
func NewMinioStorage(ctx context.Context, opts MinioOptions) (*MinioStorage, error) {
	client, err := minio.New(opts.Endpoint, &minio.Options{
		Creds:        credentials.NewStaticV4(opts.AccessKey, opts.SecretKey, ""),
		Secure:       opts.UseSSL,
		BucketLookup: minio.BucketLookupPath,
	})
	if err != nil {
		return nil, fmt.Errorf("create minio client: %w", err)
	}

	exists, err := client.BucketExists(ctx, opts.Bucket)
	if err != nil {
		return nil, fmt.Errorf("check bucket existence: %w", err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, opts.Bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("create bucket %q: %w", opts.Bucket, err)
		}
		logger.Infof("storage: created bucket %q", opts.Bucket)
	}

	// Public URLs only resolve when anonymous reads are allowed.
	if opts.URLTTL <= 0 {
		if err := client.SetBucketPolicy(ctx, opts.Bucket, publicReadPolicy(opts.Bucket)); err != nil {
			return nil, fmt.Errorf("set bucket policy: %w", err)
		}
	}

	return &MinioStorage{
		client:     client,
		bucket:     opts.Bucket,
		publicBase: strings.TrimRight(opts.PublicBase, "/"),
		urlTTL:     opts.URLTTL,
	}, nil
}

// List returns the objects directly under prefix; sub-folders are not descended
// into. MinIO returns keys in lexicographic order.
func (s *MinioStorage) List(ctx context.Context, prefix string) ([]Object, error) {
	// Cancelling stops the lister goroutine if we return early.
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	dir := DirPrefix(prefix)
	var out []Object
	for info := range s.client.ListObjects(ctx, s.bucket, minio.ListObjectsOptions{
		Prefix: dir,
	}) {
		if info.Err != nil {
			return nil, fmt.Errorf("list objects %q: %w", prefix, info.Err)
		}
		if !DirectChild(dir, info.Key) {
			continue
		}
		out = append(out, Object{
			Key:          info.Key,
			Size:         info.Size,
			ContentType:  info.ContentType,
			LastModified: info.LastModified,
		})
	}
	return out, nil
}

// URL returns a presigned GET URL, or the public URL when presigning is disabled.
// For local MinIO: "http://localhost:9000/gallery/images/1700000000000_cat.jpg"
func (s *MinioStorage) URL(ctx context.Context, key string) (string, error) {
	if s.urlTTL <= 0 {
		return s.publicBase + "/" + escapeKey(key), nil
	}
	u, err := s.client.PresignedGetObject(ctx, s.bucket, key, s.urlTTL, nil)
	if err != nil {
		return "", fmt.Errorf("presign %q: %w", key, err)
	}
	return u.String(), nil
}

// Upload streams reader to MinIO under key. size must be the exact byte count
// (pass -1 only if the size is genuinely unknown; MinIO will buffer it).
func (s *MinioStorage) Upload(ctx context.Context, key string, reader io.Reader, size int64, contentType string) error {
	_, err := s.client.PutObject(ctx, s.bucket, key, reader, size, minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		return fmt.Errorf("put object %q: %w", key, err)
	}
	return nil
}

// Delete removes the object at key from the bucket.
func (s *MinioStorage) Delete(ctx context.Context, key string) error {
	if err := s.client.RemoveObject(ctx, s.bucket, key, minio.RemoveObjectOptions{}); err != nil {
		return fmt.Errorf("remove object %q: %w", key, err)
	}
	return nil
}

// KeyFromURL accepts both public and presigned URLs.
func (s *MinioStorage) KeyFromURL(locator string) (string, error) {
	return keyUnder(locator, s.publicBase, s.bucket)
}

// publicReadPolicy returns an S3 bucket policy JSON that allows anonymous GET on all objects.
func publicReadPolicy(bucket string) string {
	policy := map[string]interface{}{
		"Version": "2012-10-17",
		"Statement": []map[string]interface{}{
			{
				"Effect":    "Allow",
				"Principal": "*",
				"Action":    "s3:GetObject",
				"Resource":  fmt.Sprintf("arn:aws:s3:::%s/*", bucket),
			},
		},
	}
	b, _ := json.Marshal(policy)
	return string(b)
}
