package gallery

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/google/logger"
	"github.com/google/uuid"

	"github.com/radif/gallery/internal/storage"
)

// sniffLen is how much of a body is buffered for content detection.
const sniffLen = 3072

// File is one picked file waiting to be uploaded.
type File struct {
	Name string
	Size int64
	Body io.Reader
}

// UploadFailure names a file that could not be uploaded.
type UploadFailure struct {
	Name  string `json:"name"`
	Error string `json:"error"`
}

// BatchResult is the outcome of UploadBatch.
type BatchResult struct {
	Result
	Uploaded []string        `json:"uploaded"`
	Failed   []UploadFailure `json:"failed,omitempty"`
}

// Upload stores a single file and refreshes the list.
func (g *Gallery) Upload(ctx context.Context, f File) (Result, error) {
	if _, err := g.put(ctx, f); err != nil {
		return g.result(NoticeUploadFailed), err
	}
	res, err := g.Refresh(ctx)
	res.Notice = joinNotice(NoticeUploaded, res.Notice)
	return res, err
}

// UploadBatch stores every file in order and refreshes once if any of them made it.
func (g *Gallery) UploadBatch(ctx context.Context, files []File) (BatchResult, error) {
	if len(files) == 0 {
		return BatchResult{Result: g.result(NoticeNoneSelected), Uploaded: []string{}}, ErrEmptyBatch
	}

	out := BatchResult{Uploaded: []string{}}
	var errs []error
	for _, f := range files {
		key, err := g.put(ctx, f)
		if err != nil {
			out.Failed = append(out.Failed, UploadFailure{Name: f.Name, Error: err.Error()})
			errs = append(errs, err)
			continue
		}
		out.Uploaded = append(out.Uploaded, key)
	}

	if len(out.Uploaded) == 0 {
		out.Result = g.result(NoticeUploadFailed)
		return out, errors.Join(errs...)
	}

	res, err := g.Refresh(ctx)
	out.Result = res
	notice := NoticeUploaded
	if len(out.Failed) > 0 {
		notice = fmt.Sprintf("%d of %d images uploaded", len(out.Uploaded), len(files))
	}
	out.Notice = joinNotice(notice, res.Notice)
	return out, err
}

// put sniffs, reserves a key and streams the file to the store. It returns the object key.
func (g *Gallery) put(ctx context.Context, f File) (string, error) {
	head := make([]byte, sniffLen)
	n, err := io.ReadFull(f.Body, head)
	if err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrUnexpectedEOF) {
		return "", fmt.Errorf("read %q: %w", f.Name, err)
	}
	head = head[:n]
	mtype := mimetype.Detect(head)
	if g.opts.RequireImage && !strings.HasPrefix(mtype.String(), "image/") {
		return "", fmt.Errorf("%q is %s: %w", f.Name, mtype.String(), ErrNotImage)
	}
	contentType := mtype.String()
	body := io.MultiReader(bytes.NewReader(head), f.Body)

	now := g.opts.Now()
	key := storage.JoinKey(g.opts.Prefix, ObjectName(now, f.Name))
	if err := g.reserve(ctx, key, f, contentType); err != nil {
		if !errors.Is(err, ErrDuplicateKey) {
			return "", err
		}
		key = storage.JoinKey(g.opts.Prefix, objectNameWithNonce(now, f.Name, uuid.NewString()[:8]))
		if err := g.reserve(ctx, key, f, contentType); err != nil {
			return "", err
		}
	}

	if err := g.store.Upload(ctx, key, body, f.Size, contentType); err != nil {
		logger.Warningf("gallery %s: upload %q: %v", g.sessionID, key, err)
		if g.ledger != nil {
			if rerr := g.ledger.Release(context.WithoutCancel(ctx), key); rerr != nil {
				logger.Warningf("gallery %s: release %q: %v", g.sessionID, key, rerr)
			}
		}
		return "", fmt.Errorf("upload %q: %w", f.Name, err)
	}
	logger.Infof("gallery %s: uploaded %q (%s, %d bytes)", g.sessionID, key, contentType, f.Size)
	return key, nil
}

func (g *Gallery) reserve(ctx context.Context, key string, f File, contentType string) error {
	if g.ledger == nil {
		return nil
	}
	err := g.ledger.Reserve(ctx, Record{
		ObjectKey:    key,
		OriginalName: f.Name,
		ContentType:  contentType,
		Size:         f.Size,
		SessionID:    g.sessionID,
	})
	if err != nil && !errors.Is(err, ErrDuplicateKey) {
		return fmt.Errorf("reserve %q: %w", key, err)
	}
	return err
}

// ObjectName builds "<unix millis>_<last path segment>" for a picked file.
func ObjectName(now time.Time, name string) string {
	return fmt.Sprintf("%d_%s", now.UnixMilli(), LastSegment(name))
}

func objectNameWithNonce(now time.Time, name, nonce string) string {
	return fmt.Sprintf("%d_%s_%s", now.UnixMilli(), nonce, LastSegment(name))
}

// LastSegment returns what follows the final '/' or '\' in name, or "image" if nothing does.
func LastSegment(name string) string {
	name = strings.TrimRight(strings.TrimSpace(name), `/\`)
	if i := strings.LastIndexAny(name, `/\`); i >= 0 {
		name = name[i+1:]
	}
	if name == "" || name == "." || name == ".." {
		return "image"
	}
	return name
}
