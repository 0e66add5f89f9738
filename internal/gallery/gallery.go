// Package gallery keeps a viewer's list of stored images and the cursor into it,
// and drives uploads, deletes and refreshes against the object store.
package gallery

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/logger"
	"golang.org/x/sync/errgroup"

	"github.com/radif/gallery/internal/storage"
)

// Notices shown to the viewer after an operation.
const (
	NoticeUploaded      = "Image uploaded successfully"
	NoticeUploadFailed  = "Failed to upload image"
	NoticeDeleted       = "Image deleted successfully"
	NoticeDeleteFailed  = "Failed to delete image"
	NoticeNoMoreImages  = "No more images..."
	NoticeNoImage       = "No image to delete"
	NoticeNoneSelected  = "No images selected"
	noticeFetchFailedFm = "Failed to fetch images: %v"
	noticeSkippedFm     = "%d of %d images could not be loaded"
)

var (
	// ErrNoMoreImages is returned when navigation would leave the list.
	ErrNoMoreImages = errors.New("no more images")
	// ErrNoImage is returned by DeleteCurrent when nothing is displayed.
	ErrNoImage = errors.New("no image to delete")
	// ErrNotImage is returned when image-only uploads are enforced and the content is something else.
	ErrNotImage = errors.New("content is not an image")
	// ErrEmptyBatch is returned when an upload batch carries no files.
	ErrEmptyBatch = errors.New("no images selected")
	// ErrDuplicateKey is returned by a Ledger when the object key is already taken.
	ErrDuplicateKey = errors.New("object key already taken")
)

// State is a point-in-time copy of a gallery.
type State struct {
	Images   []string `json:"images"`
	Position int      `json:"position"`
	Current  string   `json:"current,omitempty"`
	Count    int      `json:"count"`
}

// Result is what every gallery operation hands back: the state after the
// operation and the notice to show.
type Result struct {
	State  State  `json:"state"`
	Notice string `json:"notice,omitempty"`
}

// Options tune a Gallery.
type Options struct {
	Prefix       string
	Concurrency  int
	RequireImage bool
	Now          func() time.Time
}

func (o Options) withDefaults() Options {
	if o.Prefix == "" {
		o.Prefix = "images"
	}
	if o.Concurrency < 1 {
		o.Concurrency = 8
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	return o
}

// Gallery is one viewer's image list and cursor. Store I/O never happens
// under mu; refreshes commit only if no newer refresh has started since.
type Gallery struct {
	store     storage.Storage
	ledger    Ledger
	opts      Options
	sessionID string

	mu         sync.Mutex
	images     []string
	position   int
	generation uint64
	lastSeen   time.Time
}

// New returns an empty gallery. ledger may be nil.
func New(store storage.Storage, ledger Ledger, sessionID string, opts Options) *Gallery {
	opts = opts.withDefaults()
	return &Gallery{
		store:     store,
		ledger:    ledger,
		opts:      opts,
		sessionID: sessionID,
		lastSeen:  opts.Now(),
	}
}

// State returns the current snapshot.
func (g *Gallery) State() State {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.touchLocked()
	return g.snapshotLocked()
}

// LastSeen reports when the gallery was last used.
func (g *Gallery) LastSeen() time.Time {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.lastSeen
}

// Refresh re-enumerates the store and replaces the list in enumeration order.
func (g *Gallery) Refresh(ctx context.Context) (Result, error) {
	g.mu.Lock()
	g.generation++
	gen := g.generation
	g.touchLocked()
	g.mu.Unlock()

	urls, skipped, err := g.resolveAll(ctx)
	if err != nil {
		logger.Warningf("gallery %s: refresh: %v", g.sessionID, err)
		return g.result(fmt.Sprintf(noticeFetchFailedFm, err)), err
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	if gen == g.generation {
		g.images = urls
		g.clampLocked()
	}
	res := Result{State: g.snapshotLocked()}
	if skipped > 0 {
		res.Notice = fmt.Sprintf(noticeSkippedFm, skipped, skipped+len(urls))
	}
	return res, nil
}

// resolveAll lists the prefix and resolves every object, keeping listing order.
// Objects whose URL cannot be resolved are dropped and counted; the refresh
// fails only when the listing fails or nothing at all resolves.
func (g *Gallery) resolveAll(ctx context.Context) ([]string, int, error) {
	objects, err := g.store.List(ctx, g.opts.Prefix)
	if err != nil {
		return nil, 0, fmt.Errorf("list images: %w", err)
	}

	urls := make([]string, len(objects))
	errs := make([]error, len(objects))
	var eg errgroup.Group
	eg.SetLimit(g.opts.Concurrency)
	for i, obj := range objects {
		i, obj := i, obj
		eg.Go(func() error {
			u, err := g.store.URL(ctx, obj.Key)
			if err != nil {
				errs[i] = fmt.Errorf("resolve %q: %w", obj.Key, err)
				return nil
			}
			urls[i] = u
			return nil
		})
	}
	_ = eg.Wait()
	if err := ctx.Err(); err != nil {
		return nil, 0, err
	}

	out := make([]string, 0, len(objects))
	var failed []error
	for i, u := range urls {
		if errs[i] != nil {
			failed = append(failed, errs[i])
			continue
		}
		out = append(out, u)
	}
	if len(failed) == 0 {
		return out, 0, nil
	}
	if len(out) == 0 {
		return nil, 0, fmt.Errorf("resolve %d images: %w", len(failed), failed[0])
	}
	logger.Warningf("gallery %s: skipped %d images: %v", g.sessionID, len(failed), errors.Join(failed...))
	return out, len(failed), nil
}

// Next moves the cursor forward by one.
func (g *Gallery) Next() (Result, error) {
	return g.step(+1)
}

// Previous moves the cursor back by one.
func (g *Gallery) Previous() (Result, error) {
	return g.step(-1)
}

func (g *Gallery) step(delta int) (Result, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.touchLocked()

	next := g.position + delta
	if next < 0 || next >= len(g.images) {
		return Result{State: g.snapshotLocked(), Notice: NoticeNoMoreImages}, ErrNoMoreImages
	}
	g.position = next
	return Result{State: g.snapshotLocked()}, nil
}

// DeleteCurrent removes the displayed image from the store and refreshes.
func (g *Gallery) DeleteCurrent(ctx context.Context) (Result, error) {
	g.mu.Lock()
	g.touchLocked()
	if len(g.images) == 0 || g.position >= len(g.images) {
		res := Result{State: g.snapshotLocked(), Notice: NoticeNoImage}
		g.mu.Unlock()
		return res, ErrNoImage
	}
	locator := g.images[g.position]
	g.mu.Unlock()

	key, err := g.store.KeyFromURL(locator)
	if err != nil {
		logger.Warningf("gallery %s: delete %q: %v", g.sessionID, locator, err)
		return g.result(NoticeDeleteFailed), fmt.Errorf("resolve locator: %w", err)
	}
	if err := g.store.Delete(ctx, key); err != nil {
		logger.Warningf("gallery %s: delete %q: %v", g.sessionID, key, err)
		return g.result(NoticeDeleteFailed), fmt.Errorf("delete image: %w", err)
	}
	if g.ledger != nil {
		if err := g.ledger.MarkDeleted(ctx, key); err != nil {
			logger.Warningf("gallery %s: mark %q deleted: %v", g.sessionID, key, err)
		}
	}
	logger.Infof("gallery %s: deleted %q", g.sessionID, key)

	res, err := g.Refresh(ctx)
	res.Notice = joinNotice(NoticeDeleted, res.Notice)
	return res, err
}

// joinNotice appends a follow-up refresh notice to an action's own notice.
func joinNotice(action, refresh string) string {
	if refresh == "" {
		return action
	}
	return action + ". " + refresh
}

func (g *Gallery) result(notice string) Result {
	g.mu.Lock()
	defer g.mu.Unlock()
	return Result{State: g.snapshotLocked(), Notice: notice}
}

func (g *Gallery) clampLocked() {
	switch {
	case len(g.images) == 0:
		g.position = 0
	case g.position >= len(g.images):
		g.position = len(g.images) - 1
	case g.position < 0:
		g.position = 0
	}
}

func (g *Gallery) snapshotLocked() State {
	s := State{
		Images:   append([]string(nil), g.images...),
		Position: g.position,
		Count:    len(g.images),
	}
	if g.position >= 0 && g.position < len(g.images) {
		s.Current = g.images[g.position]
	}
	if s.Images == nil {
		s.Images = []string{}
	}
	return s
}

func (g *Gallery) touchLocked() {
	g.lastSeen = g.opts.Now()
}
