package gallery

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/radif/gallery/internal/middleware"
	"github.com/radif/gallery/internal/storage/storagetest"
)

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Message string          `json:"message"`
	Error   string          `json:"error"`
}

func newTestRouter(t *testing.T, keys ...string) (http.Handler, *storagetest.Memory) {
	t.Helper()
	mem := storagetest.NewMemory()
	for _, k := range keys {
		mem.Put(k, []byte("x"), "image/jpeg")
	}
	h := NewHandler(NewService(mem, newFakeLedger(), Options{}), 1<<20)

	r := chi.NewRouter()
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if id := r.Header.Get("X-Test-Session"); id != "" {
				r = r.WithContext(context.WithValue(r.Context(), middleware.SessionIDKey, id))
			}
			next.ServeHTTP(w, r)
		})
	})
	r.Get("/gallery", h.State)
	r.Post("/gallery/refresh", h.Refresh)
	r.Post("/gallery/images", h.Upload)
	r.Post("/gallery/next", h.Next)
	r.Post("/gallery/previous", h.Previous)
	r.Delete("/gallery/current", h.DeleteCurrent)
	r.Get("/gallery/uploads", h.Uploads)
	return r, mem
}

func do(t *testing.T, h http.Handler, req *http.Request) (int, envelope) {
	t.Helper()
	if req.Header.Get("X-Test-Session") == "" {
		req.Header.Set("X-Test-Session", "viewer")
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	var env envelope
	if err := json.Unmarshal(rec.Body.Bytes(), &env); err != nil {
		t.Fatalf("decode %s: %v", rec.Body.String(), err)
	}
	return rec.Code, env
}

func stateOf(t *testing.T, env envelope) State {
	t.Helper()
	var s State
	if err := json.Unmarshal(env.Data, &s); err != nil {
		t.Fatalf("decode state: %v", err)
	}
	return s
}

func TestHandler_Navigation(t *testing.T) {
	h, _ := newTestRouter(t, "images/1_a.jpg", "images/2_b.jpg")

	code, env := do(t, h, httptest.NewRequest(http.MethodGet, "/gallery", nil))
	if code != http.StatusOK || stateOf(t, env).Count != 2 {
		t.Fatalf("GET /gallery = %d %+v", code, env)
	}

	code, env = do(t, h, httptest.NewRequest(http.MethodPost, "/gallery/previous", nil))
	if code != http.StatusConflict || env.Message != NoticeNoMoreImages {
		t.Errorf("previous at start = %d %q", code, env.Message)
	}

	code, env = do(t, h, httptest.NewRequest(http.MethodPost, "/gallery/next", nil))
	if code != http.StatusOK || stateOf(t, env).Position != 1 {
		t.Errorf("next = %d %+v", code, stateOf(t, env))
	}

	code, env = do(t, h, httptest.NewRequest(http.MethodPost, "/gallery/next", nil))
	if code != http.StatusConflict || stateOf(t, env).Position != 1 {
		t.Errorf("next at end = %d %+v", code, stateOf(t, env))
	}
}

func TestHandler_SessionsAreIndependent(t *testing.T) {
	h, _ := newTestRouter(t, "images/1_a.jpg", "images/2_b.jpg")

	req := httptest.NewRequest(http.MethodPost, "/gallery/next", nil)
	req.Header.Set("X-Test-Session", "one")
	if code, _ := do(t, h, req); code != http.StatusOK {
		t.Fatalf("next = %d", code)
	}

	req = httptest.NewRequest(http.MethodGet, "/gallery", nil)
	req.Header.Set("X-Test-Session", "two")
	_, env := do(t, h, req)
	if stateOf(t, env).Position != 0 {
		t.Errorf("session two cursor moved by session one")
	}
}

// uploadRequest builds a multipart upload of the named files, each holding body.
func uploadRequest(t *testing.T, body []byte, names ...string) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for _, name := range names {
		fw, err := mw.CreateFormFile(formField, name)
		if err != nil {
			t.Fatal(err)
		}
		_, _ = fw.Write(body)
	}
	_ = mw.Close()
	req := httptest.NewRequest(http.MethodPost, "/gallery/images", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func TestHandler_FirstRequestUploadsWhenListingFails(t *testing.T) {
	h, mem := newTestRouter(t)
	mem.SetErr(&mem.ListErr, errors.New("list blip"))

	code, env := do(t, h, uploadRequest(t, pngHeader, "cat.png"))
	if keys := mem.Keys(); len(keys) != 1 {
		t.Fatalf("stored keys = %v, want the uploaded file", keys)
	}
	var out BatchResult
	if err := json.Unmarshal(env.Data, &out); err != nil {
		t.Fatal(err)
	}
	if len(out.Uploaded) != 1 {
		t.Errorf("uploaded = %v", out.Uploaded)
	}
	if !strings.HasPrefix(env.Message, NoticeUploaded) {
		t.Errorf("message = %q", env.Message)
	}
	// The follow-up refresh still fails, so the list may be stale.
	if code != http.StatusBadGateway {
		t.Errorf("status = %d, want 502", code)
	}

	mem.SetErr(&mem.ListErr, nil)
	code, env = do(t, h, httptest.NewRequest(http.MethodPost, "/gallery/refresh", nil))
	if code != http.StatusOK || stateOf(t, env).Count != 1 {
		t.Errorf("refresh after recovery = %d %+v", code, env)
	}
}

func TestHandler_FirstRefreshListsOnce(t *testing.T) {
	h, mem := newTestRouter(t, "images/1_a.jpg")
	var lists atomic.Int32
	mem.ListHook = func() { lists.Add(1) }

	code, env := do(t, h, httptest.NewRequest(http.MethodPost, "/gallery/refresh", nil))
	if code != http.StatusOK || stateOf(t, env).Count != 1 {
		t.Fatalf("refresh = %d %+v", code, env)
	}
	if n := lists.Load(); n != 1 {
		t.Errorf("listed %d times, want 1", n)
	}

	do(t, h, httptest.NewRequest(http.MethodPost, "/gallery/refresh", nil))
	if n := lists.Load(); n != 2 {
		t.Errorf("second refresh: listed %d times in total, want 2", n)
	}
}

func TestHandler_FirstStateShowsFetchFailure(t *testing.T) {
	h, mem := newTestRouter(t, "images/1_a.jpg")
	mem.SetErr(&mem.ListErr, errors.New("list blip"))

	code, env := do(t, h, httptest.NewRequest(http.MethodGet, "/gallery", nil))
	if code != http.StatusBadGateway || !strings.HasPrefix(env.Message, "Failed to fetch images: ") {
		t.Errorf("GET /gallery = %d %q", code, env.Message)
	}
}

func TestHandler_UploadTooLarge(t *testing.T) {
	h, mem := newTestRouter(t)
	big := bytes.Repeat([]byte{0}, 2<<20)

	t.Run("declared length", func(t *testing.T) {
		code, env := do(t, h, uploadRequest(t, big, "huge.png"))
		if code != http.StatusRequestEntityTooLarge {
			t.Errorf("status = %d (%q), want 413", code, env.Error)
		}
	})

	t.Run("unknown length", func(t *testing.T) {
		req := uploadRequest(t, big, "huge.png")
		req.ContentLength = -1
		code, env := do(t, h, req)
		if code != http.StatusRequestEntityTooLarge {
			t.Errorf("status = %d (%q), want 413", code, env.Error)
		}
	})

	if keys := mem.Keys(); len(keys) != 0 {
		t.Errorf("oversized upload stored %v", keys)
	}
}

func TestHandler_UploadAndDelete(t *testing.T) {
	h, mem := newTestRouter(t)

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	for _, name := range []string{"cat.png", "dog.png"} {
		fw, err := mw.CreateFormFile(formField, name)
		if err != nil {
			t.Fatal(err)
		}
		_, _ = fw.Write(pngHeader)
	}
	_ = mw.Close()

	req := httptest.NewRequest(http.MethodPost, "/gallery/images", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	code, env := do(t, h, req)
	if code != http.StatusOK {
		t.Fatalf("upload = %d %+v", code, env)
	}
	if env.Message != NoticeUploaded {
		t.Errorf("message = %q", env.Message)
	}
	var out BatchResult
	if err := json.Unmarshal(env.Data, &out); err != nil {
		t.Fatal(err)
	}
	if len(out.Uploaded) != 2 || out.State.Count != 2 {
		t.Errorf("batch = %+v", out)
	}

	code, env = do(t, h, httptest.NewRequest(http.MethodDelete, "/gallery/current", nil))
	if code != http.StatusOK || env.Message != NoticeDeleted {
		t.Fatalf("delete = %d %q", code, env.Message)
	}
	if s := stateOf(t, env); s.Count != 1 || len(mem.Keys()) != 1 {
		t.Errorf("after delete state %+v, keys %v", s, mem.Keys())
	}
}

func TestHandler_UploadEdgeCases(t *testing.T) {
	h, _ := newTestRouter(t)

	t.Run("no files", func(t *testing.T) {
		var body bytes.Buffer
		mw := multipart.NewWriter(&body)
		_ = mw.WriteField("note", "nothing picked")
		_ = mw.Close()
		req := httptest.NewRequest(http.MethodPost, "/gallery/images", &body)
		req.Header.Set("Content-Type", mw.FormDataContentType())

		code, env := do(t, h, req)
		if code != http.StatusOK || env.Message != NoticeNoneSelected {
			t.Errorf("empty upload = %d %q", code, env.Message)
		}
	})

	t.Run("not multipart", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/gallery/images", bytes.NewBufferString("{}"))
		req.Header.Set("Content-Type", "application/json")

		code, _ := do(t, h, req)
		if code != http.StatusBadRequest {
			t.Errorf("status = %d, want 400", code)
		}
	})
}

func TestHandler_DeleteEmpty(t *testing.T) {
	h, _ := newTestRouter(t)
	code, env := do(t, h, httptest.NewRequest(http.MethodDelete, "/gallery/current", nil))
	if code != http.StatusConflict || env.Message != NoticeNoImage {
		t.Errorf("delete on empty = %d %q", code, env.Message)
	}
}

func TestHandler_RefreshFailure(t *testing.T) {
	h, mem := newTestRouter(t, "images/1_a.jpg")
	if code, _ := do(t, h, httptest.NewRequest(http.MethodGet, "/gallery", nil)); code != http.StatusOK {
		t.Fatalf("open = %d", code)
	}
	mem.SetErr(&mem.ListErr, context.DeadlineExceeded)

	code, env := do(t, h, httptest.NewRequest(http.MethodPost, "/gallery/refresh", nil))
	if code != http.StatusBadGateway {
		t.Errorf("status = %d, want 502", code)
	}
	if stateOf(t, env).Count != 1 {
		t.Error("failed refresh should return the previous list")
	}
}

func TestHandler_Unauthenticated(t *testing.T) {
	h, _ := newTestRouter(t)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/gallery", nil))
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", rec.Code)
	}
}

func TestHandler_Uploads(t *testing.T) {
	h, _ := newTestRouter(t)
	if code, _ := do(t, h, uploadRequest(t, pngHeader, "cat.png")); code != http.StatusOK {
		t.Fatalf("upload = %d", code)
	}

	history := func(session string) []Record {
		t.Helper()
		req := httptest.NewRequest(http.MethodGet, "/gallery/uploads?limit=5", nil)
		req.Header.Set("X-Test-Session", session)
		code, env := do(t, h, req)
		if code != http.StatusOK {
			t.Fatalf("status = %d", code)
		}
		var recs []Record
		if err := json.Unmarshal(env.Data, &recs); err != nil {
			t.Fatal(err)
		}
		return recs
	}

	if recs := history("viewer"); len(recs) != 1 || recs[0].OriginalName != "cat.png" {
		t.Errorf("own history = %+v", recs)
	}
	if recs := history("someone-else"); len(recs) != 0 {
		t.Errorf("other session sees %d records, want 0", len(recs))
	}
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{ErrNoMoreImages, http.StatusConflict},
		{ErrNoImage, http.StatusConflict},
		{ErrNotImage, http.StatusUnsupportedMediaType},
		{context.Canceled, http.StatusBadGateway},
	}
	for _, tt := range tests {
		if got := statusFor(tt.err); got != tt.want {
			t.Errorf("statusFor(%v) = %d, want %d", tt.err, got, tt.want)
		}
	}
}
