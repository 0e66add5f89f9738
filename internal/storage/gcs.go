package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"strings"
	"time"

	gcs "cloud.google.com/go/storage"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
)

const (
	gcsPublicHost   = "https://storage.googleapis.com"
	firebaseAPIHost = "firebasestorage.googleapis.com"
)

// GCSStorage implements Storage on a Google Cloud Storage bucket.
type GCSStorage struct {
	client *gcs.Client
	bucket string
	urlTTL time.Duration
}

// NewGCSStorage opens a GCS client. credentialsFile may be empty to use
// application default credentials.
func NewGCSStorage(ctx context.Context, bucket, credentialsFile string, urlTTL time.Duration) (*GCSStorage, error) {
	var opts []option.ClientOption
	if credentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(credentialsFile))
	}
	client, err := gcs.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create gcs client: %w", err)
	}
	if _, err := client.Bucket(bucket).Attrs(ctx); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("check bucket %q: %w", bucket, err)
	}
	return &GCSStorage{client: client, bucket: bucket, urlTTL: urlTTL}, nil
}

// Close releases the underlying client.
func (s *GCSStorage) Close() error {
	return s.client.Close()
}

// List returns the objects directly under prefix, like Firebase listAll does.
// GCS returns names in lexicographic order.
func (s *GCSStorage) List(ctx context.Context, prefix string) ([]Object, error) {
	dir := DirPrefix(prefix)
	it := s.client.Bucket(s.bucket).Objects(ctx, &gcs.Query{Prefix: dir, Delimiter: "/"})
	var out []Object
	for {
		attrs, err := it.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("list objects %q: %w", prefix, err)
		}
		// With a delimiter, sub-folders come back as Prefix-only entries.
		if attrs.Prefix != "" || !DirectChild(dir, attrs.Name) {
			continue
		}
		out = append(out, Object{
			Key:          attrs.Name,
			Size:         attrs.Size,
			ContentType:  attrs.ContentType,
			LastModified: attrs.Updated,
		})
	}
	return out, nil
}

// URL signs a V4 GET URL, or returns the public object URL when signing is disabled.
func (s *GCSStorage) URL(_ context.Context, key string) (string, error) {
	if s.urlTTL <= 0 {
		return gcsPublicHost + "/" + s.bucket + "/" + escapeKey(key), nil
	}
	u, err := s.client.Bucket(s.bucket).SignedURL(key, &gcs.SignedURLOptions{
		Scheme:  gcs.SigningSchemeV4,
		Method:  "GET",
		Expires: time.Now().Add(s.urlTTL),
	})
	if err != nil {
		return "", fmt.Errorf("sign %q: %w", key, err)
	}
	return u, nil
}

// Upload writes reader into a new object. size is informational for GCS.
func (s *GCSStorage) Upload(ctx context.Context, key string, reader io.Reader, _ int64, contentType string) error {
	w := s.client.Bucket(s.bucket).Object(key).NewWriter(ctx)
	w.ContentType = contentType
	if _, err := io.Copy(w, reader); err != nil {
		_ = w.Close()
		return fmt.Errorf("write object %q: %w", key, err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("write object %q: %w", key, err)
	}
	return nil
}

// Delete removes the object at key.
func (s *GCSStorage) Delete(ctx context.Context, key string) error {
	if err := s.client.Bucket(s.bucket).Object(key).Delete(ctx); err != nil {
		return fmt.Errorf("delete object %q: %w", key, err)
	}
	return nil
}

// KeyFromURL understands storage.googleapis.com URLs (public or signed) and
// Firebase download URLs of the form
// https://firebasestorage.googleapis.com/v0/b/<bucket>/o/<escaped key>?alt=media.
func (s *GCSStorage) KeyFromURL(locator string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(locator))
	if err != nil {
		return "", ErrForeignLocator
	}
	if strings.EqualFold(u.Host, firebaseAPIHost) {
		return firebaseKey(u.EscapedPath(), s.bucket)
	}
	return keyUnder(locator, "", s.bucket)
}

func firebaseKey(escapedPath, bucket string) (string, error) {
	rest, ok := strings.CutPrefix(escapedPath, "/v0/b/"+bucket+"/o/")
	if !ok || rest == "" {
		return "", ErrForeignLocator
	}
	key, err := url.PathUnescape(rest)
	if err != nil {
		return "", ErrForeignLocator
	}
	return key, nil
}
