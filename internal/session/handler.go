package session

import (
	"net/http"

	"github.com/google/logger"

	"github.com/radif/gallery/internal/middleware"
	"github.com/radif/gallery/internal/response"
)

// Handler holds HTTP handlers for session endpoints.
type Handler struct {
	svc *Service
}

// NewHandler creates a new session Handler.
func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

type openData struct {
	Token   string   `json:"token" example:"eyJhbGci..."`
	Session *Session `json:"session"`
}

// Open godoc
//
//	@Summary		Open a viewer session
//	@Description	Creates an anonymous session and returns a Bearer token for the gallery endpoints.
//	@Tags			sessions
//	@Produce		json
//	@Success		201	{object}	response.Envelope{data=openData}
//	@Failure		500	{object}	response.Envelope
//	@Router			/sessions [post]
func (h *Handler) Open(w http.ResponseWriter, r *http.Request) {
	token, sess, err := h.svc.Open(r.Context())
	if err != nil {
		logger.Errorf("open session: %v", err)
		response.InternalError(w)
		return
	}
	response.Created(w, openData{Token: token, Session: sess})
}

// Track records activity for the session RequireSession put in the context.
// A token whose session row has been expired is rejected.
func (h *Handler) Track(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, ok := middleware.SessionID(r.Context())
		if !ok {
			response.Unauthorized(w, "unauthorized")
			return
		}
		if err := h.svc.Touch(r.Context(), id); err != nil {
			if h.svc.IsNotFound(err) {
				response.Unauthorized(w, "session expired")
				return
			}
			logger.Warningf("touch session %s: %v", id, err)
		}
		next.ServeHTTP(w, r)
	})
}
