// Package storagetest provides an in-memory storage.Storage for tests.
package storagetest

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/radif/gallery/internal/storage"
)

// BaseURL prefixes every URL the Memory store hands out.
const BaseURL = "https://objects.test/bucket"

// Memory keeps objects in a map and lists them in key order, like S3 and GCS do.
type Memory struct {
	mu      sync.Mutex
	objects map[string]memObject

	// Canned errors returned by the matching operation when non-nil.
	ListErr   error
	URLErr    error
	UploadErr error
	DeleteErr error
	// KeyErrs fails URL for individual keys.
	KeyErrs map[string]error

	// ResolveHook, when set, runs inside URL before it returns. Tests use it to
	// hold resolutions open or to reorder their completion.
	ResolveHook func(key string)
	// ListHook, when set, runs inside List after the snapshot has been taken.
	ListHook func()

	Deleted []string
}

type memObject struct {
	data        []byte
	contentType string
	modified    time.Time
}

// NewMemory returns an empty store.
func NewMemory() *Memory {
	return &Memory{objects: make(map[string]memObject)}
}

// Put stores an object directly, bypassing UploadErr.
func (m *Memory) Put(key string, data []byte, contentType string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[key] = memObject{data: data, contentType: contentType, modified: time.Now()}
}

// Get returns the object bytes and content type.
func (m *Memory) Get(key string) ([]byte, string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.objects[key]
	return o.data, o.contentType, ok
}

// Keys returns every stored key in order.
func (m *Memory) Keys() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	keys := make([]string, 0, len(m.objects))
	for k := range m.objects {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func (m *Memory) List(ctx context.Context, prefix string) ([]storage.Object, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	if m.ListErr != nil {
		m.mu.Unlock()
		return nil, m.ListErr
	}
	dir := storage.DirPrefix(prefix)
	var out []storage.Object
	for k, o := range m.objects {
		if storage.DirectChild(dir, k) {
			out = append(out, storage.Object{
				Key:          k,
				Size:         int64(len(o.data)),
				ContentType:  o.contentType,
				LastModified: o.modified,
			})
		}
	}
	hook := m.ListHook
	m.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	if hook != nil {
		hook()
	}
	return out, nil
}

func (m *Memory) URL(ctx context.Context, key string) (string, error) {
	m.mu.Lock()
	err, hook := m.URLErr, m.ResolveHook
	if kerr, ok := m.KeyErrs[key]; ok && err == nil {
		err = kerr
	}
	m.mu.Unlock()
	if hook != nil {
		hook(key)
	}
	if err != nil {
		return "", err
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}
	return BaseURL + "/" + key, nil
}

func (m *Memory) Upload(ctx context.Context, key string, reader io.Reader, _ int64, contentType string) error {
	m.mu.Lock()
	err := m.UploadErr
	m.mu.Unlock()
	if err != nil {
		return err
	}
	data, err := io.ReadAll(reader)
	if err != nil {
		return fmt.Errorf("read upload: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	m.Put(key, data, contentType)
	return nil
}

func (m *Memory) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.DeleteErr != nil {
		return m.DeleteErr
	}
	delete(m.objects, key)
	m.Deleted = append(m.Deleted, key)
	return nil
}

func (m *Memory) KeyFromURL(locator string) (string, error) {
	key, ok := strings.CutPrefix(locator, BaseURL+"/")
	if !ok || key == "" {
		return "", storage.ErrForeignLocator
	}
	return key, nil
}

// SetKeyErr makes URL fail for key alone. A nil err clears it.
func (m *Memory) SetKeyErr(key string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err == nil {
		delete(m.KeyErrs, key)
		return
	}
	if m.KeyErrs == nil {
		m.KeyErrs = make(map[string]error)
	}
	m.KeyErrs[key] = err
}

// SetErr swaps a canned error under the lock, for use while other goroutines run.
func (m *Memory) SetErr(target *error, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	*target = err
}

var _ storage.Storage = (*Memory)(nil)
