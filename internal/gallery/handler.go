package gallery

import (
	"errors"
	"fmt"
	"mime/multipart"
	"net/http"
	"strconv"

	"github.com/google/logger"

	"github.com/radif/gallery/internal/middleware"
	"github.com/radif/gallery/internal/response"
)

// formField is the multipart field that carries picked files.
const formField = "images"

// Handler holds HTTP handlers for gallery endpoints.
type Handler struct {
	svc      *Service
	maxBytes int64
}

// NewHandler creates a new gallery Handler. maxBytes bounds a whole upload request.
func NewHandler(svc *Service, maxBytes int64) *Handler {
	return &Handler{svc: svc, maxBytes: maxBytes}
}

// open returns the caller's gallery, or nil once an error response is written.
// When this request created the gallery, initial holds the first refresh's
// result and initErr its error; a failed first fetch does not stop the
// requested action.
func (h *Handler) open(w http.ResponseWriter, r *http.Request) (g *Gallery, initial *Result, initErr error) {
	sessionID, ok := middleware.SessionID(r.Context())
	if !ok {
		response.Unauthorized(w, "unauthorized")
		return nil, nil, nil
	}
	g, initial, initErr = h.svc.Open(r.Context(), sessionID)
	if g == nil {
		logger.Warningf("session %s: open gallery: %v", sessionID, initErr)
		response.Error(w, http.StatusServiceUnavailable, "gallery is still loading")
		return nil, nil, nil
	}
	if initErr != nil {
		logger.Warningf("session %s: initial fetch: %v", sessionID, initErr)
	}
	return g, initial, initErr
}

// State godoc
//
//	@Summary		Current gallery state
//	@Description	Returns the image URLs, the cursor position and the URL at the cursor. The first call of a session fetches the list from storage.
//	@Tags			gallery
//	@Produce		json
//	@Security		BearerAuth
//	@Success		200	{object}	response.Envelope{data=State}
//	@Failure		401	{object}	response.Envelope
//	@Failure		502	{object}	response.Envelope{data=State}
//	@Router			/gallery [get]
func (h *Handler) State(w http.ResponseWriter, r *http.Request) {
	g, initial, err := h.open(w, r)
	if g == nil {
		return
	}
	if initial != nil {
		writeResult(w, *initial, err)
		return
	}
	writeResult(w, Result{State: g.State()}, nil)
}

// Refresh godoc
//
//	@Summary		Refresh the image list
//	@Tags			gallery
//	@Produce		json
//	@Security		BearerAuth
//	@Success		200	{object}	response.Envelope{data=State}
//	@Failure		502	{object}	response.Envelope{data=State}
//	@Router			/gallery/refresh [post]
func (h *Handler) Refresh(w http.ResponseWriter, r *http.Request) {
	g, initial, err := h.open(w, r)
	if g == nil {
		return
	}
	// A brand-new session has just been refreshed.
	if initial != nil {
		writeResult(w, *initial, err)
		return
	}
	res, err := g.Refresh(r.Context())
	writeResult(w, res, err)
}

// Next godoc
//
//	@Summary		Show the next image
//	@Tags			gallery
//	@Produce		json
//	@Security		BearerAuth
//	@Success		200	{object}	response.Envelope{data=State}
//	@Failure		409	{object}	response.Envelope{data=State}	"No more images..."
//	@Router			/gallery/next [post]
func (h *Handler) Next(w http.ResponseWriter, r *http.Request) {
	g, _, _ := h.open(w, r)
	if g == nil {
		return
	}
	res, err := g.Next()
	writeResult(w, res, err)
}

// Previous godoc
//
//	@Summary		Show the previous image
//	@Tags			gallery
//	@Produce		json
//	@Security		BearerAuth
//	@Success		200	{object}	response.Envelope{data=State}
//	@Failure		409	{object}	response.Envelope{data=State}	"No more images..."
//	@Router			/gallery/previous [post]
func (h *Handler) Previous(w http.ResponseWriter, r *http.Request) {
	g, _, _ := h.open(w, r)
	if g == nil {
		return
	}
	res, err := g.Previous()
	writeResult(w, res, err)
}

// DeleteCurrent godoc
//
//	@Summary		Delete the image at the cursor
//	@Tags			gallery
//	@Produce		json
//	@Security		BearerAuth
//	@Success		200	{object}	response.Envelope{data=State}
//	@Failure		409	{object}	response.Envelope{data=State}	"No image to delete"
//	@Failure		502	{object}	response.Envelope{data=State}
//	@Router			/gallery/current [delete]
func (h *Handler) DeleteCurrent(w http.ResponseWriter, r *http.Request) {
	g, _, _ := h.open(w, r)
	if g == nil {
		return
	}
	res, err := g.DeleteCurrent(r.Context())
	writeResult(w, res, err)
}

// Upload godoc
//
//	@Summary		Upload picked images
//	@Description	Accepts one or more files in the multipart field "images", uploads each, then refreshes the list once.
//	@Tags			gallery
//	@Accept			multipart/form-data
//	@Produce		json
//	@Security		BearerAuth
//	@Param			images	formData	file	true	"Image files (repeat the field for several)"
//	@Success		200		{object}	response.Envelope{data=BatchResult}
//	@Failure		400		{object}	response.Envelope
//	@Failure		413		{object}	response.Envelope
//	@Failure		415		{object}	response.Envelope{data=BatchResult}
//	@Failure		502		{object}	response.Envelope{data=BatchResult}
//	@Router			/gallery/images [post]
func (h *Handler) Upload(w http.ResponseWriter, r *http.Request) {
	g, _, _ := h.open(w, r)
	if g == nil {
		return
	}

	if r.ContentLength > h.maxBytes {
		tooLarge(w, h.maxBytes)
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, h.maxBytes)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		var mbe *http.MaxBytesError
		if errors.As(err, &mbe) {
			tooLarge(w, h.maxBytes)
			return
		}
		response.BadRequest(w, "invalid multipart body")
		return
	}
	defer func() { _ = r.MultipartForm.RemoveAll() }()

	headers := r.MultipartForm.File[formField]
	files := make([]File, 0, len(headers))
	for _, fh := range headers {
		f, err := fh.Open()
		if err != nil {
			logger.Warningf("open part %q: %v", fh.Filename, err)
			response.BadRequest(w, "unreadable file "+strconv.Quote(fh.Filename))
			closeAll(files)
			return
		}
		files = append(files, File{Name: fh.Filename, Size: fh.Size, Body: f})
	}
	defer closeAll(files)

	out, err := g.UploadBatch(r.Context(), files)
	switch {
	case err == nil, errors.Is(err, ErrEmptyBatch):
		response.Notice(w, out, out.Notice)
	default:
		response.Failure(w, statusFor(err), out, out.Notice)
	}
}

// Uploads godoc
//
//	@Summary		Upload history of the calling session
//	@Tags			gallery
//	@Produce		json
//	@Security		BearerAuth
//	@Param			limit	query		int	false	"Maximum rows (default 50, max 500)"
//	@Success		200		{object}	response.Envelope{data=[]Record}
//	@Failure		401		{object}	response.Envelope
//	@Failure		500		{object}	response.Envelope
//	@Router			/gallery/uploads [get]
func (h *Handler) Uploads(w http.ResponseWriter, r *http.Request) {
	sessionID, ok := middleware.SessionID(r.Context())
	if !ok {
		response.Unauthorized(w, "unauthorized")
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	recs, err := h.svc.History(r.Context(), sessionID, limit)
	if err != nil {
		logger.Errorf("upload history: %v", err)
		response.InternalError(w)
		return
	}
	response.OK(w, recs)
}

func writeResult(w http.ResponseWriter, res Result, err error) {
	if err == nil {
		response.Notice(w, res.State, res.Notice)
		return
	}
	response.Failure(w, statusFor(err), res.State, res.Notice)
}

// statusFor maps gallery errors onto HTTP statuses. Navigation and empty-list
// outcomes are conflicts with the current view, not faults.
func statusFor(err error) int {
	switch {
	case errors.Is(err, ErrNoMoreImages), errors.Is(err, ErrNoImage):
		return http.StatusConflict
	case errors.Is(err, ErrNotImage):
		return http.StatusUnsupportedMediaType
	default:
		return http.StatusBadGateway
	}
}

func tooLarge(w http.ResponseWriter, limit int64) {
	response.Error(w, http.StatusRequestEntityTooLarge, fmt.Sprintf("upload exceeds %d bytes", limit))
}

func closeAll(files []File) {
	for _, f := range files {
		if c, ok := f.Body.(multipart.File); ok {
			_ = c.Close()
		}
	}
}
