// Package storage defines the interface for object storage operations.
// Swap implementations by changing the concrete type injected at startup.
// The MinIO implementation works with any S3-compatible provider (MinIO, ArvanCloud, AWS S3),
// the GCS implementation with Google Cloud Storage buckets, including the ones behind Firebase.
package storage

import (
	"context"
	"errors"
	"io"
	"net/url"
	"path"
	"strings"
	"time"
)

// ErrForeignLocator is returned by KeyFromURL when a locator does not point into the bucket.
var ErrForeignLocator = errors.New("locator does not belong to this bucket")

// Object describes one stored object as returned by a listing.
type Object struct {
	Key          string
	Size         int64
	ContentType  string
	LastModified time.Time
}

// Storage is the interface for listing, uploading and removing objects.
type Storage interface {
	// List enumerates every object under prefix, in the order the backend returns them.
	List(ctx context.Context, prefix string) ([]Object, error)
	// URL resolves a key to a URL a client can download from.
	URL(ctx context.Context, key string) (string, error)
	// Upload streams data to the store under the given key.
	Upload(ctx context.Context, key string, reader io.Reader, size int64, contentType string) error
	// Delete removes an object identified by key.
	Delete(ctx context.Context, key string) error
	// KeyFromURL maps a URL produced by URL back to its key.
	KeyFromURL(locator string) (string, error)
}

// JoinKey joins a prefix and a name into an object key without leading or doubled slashes.
func JoinKey(prefix, name string) string {
	prefix = strings.Trim(prefix, "/")
	name = strings.TrimLeft(name, "/")
	if prefix == "" {
		return name
	}
	return prefix + "/" + name
}

// DirPrefix returns prefix in listing form, i.e. with exactly one trailing slash.
func DirPrefix(prefix string) string {
	prefix = strings.Trim(prefix, "/")
	if prefix == "" {
		return ""
	}
	return prefix + "/"
}

// DirectChild reports whether key names an object directly inside dir, not in
// a sub-folder of it and not a folder placeholder.
func DirectChild(dir, key string) bool {
	rest, ok := strings.CutPrefix(key, dir)
	return ok && rest != "" && !strings.Contains(rest, "/")
}

// keyUnder extracts the key that follows "/<bucket>/" in a path-style object URL.
func keyUnder(locator, base, bucket string) (string, error) {
	if base != "" && strings.HasPrefix(locator, base+"/") {
		rest := strings.TrimPrefix(locator, base+"/")
		if i := strings.IndexByte(rest, '?'); i >= 0 {
			rest = rest[:i]
		}
		key, err := url.PathUnescape(rest)
		if err != nil || key == "" {
			return "", ErrForeignLocator
		}
		return key, nil
	}

	u, err := url.Parse(strings.TrimSpace(locator))
	if err != nil {
		return "", ErrForeignLocator
	}
	p := strings.TrimLeft(path.Clean("/"+u.Path), "/")
	parts := strings.SplitN(p, "/", 2)
	if len(parts) < 2 || parts[0] != bucket || parts[1] == "" {
		return "", ErrForeignLocator
	}
	return parts[1], nil
}

// escapeKey escapes each path segment of key for use in a URL.
func escapeKey(key string) string {
	segs := strings.Split(key, "/")
	for i, s := range segs {
		segs[i] = url.PathEscape(s)
	}
	return strings.Join(segs, "/")
}
