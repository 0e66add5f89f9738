// Package middleware provides reusable HTTP middleware for the API server.
package middleware

import (
	"net/http"
	"time"

	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/google/logger"
)

// wrappedWriter captures the status code written by downstream handlers.
type wrappedWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *wrappedWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// Logger logs request id, method, path, status code, and duration for every request.
func Logger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := &wrappedWriter{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(ww, r)

		reqID := chiMiddleware.GetReqID(r.Context())
		switch {
		case ww.statusCode >= http.StatusInternalServerError:
			logger.Errorf("[%s] %s %s %d %s", reqID, r.Method, r.URL.Path, ww.statusCode, time.Since(start))
		case ww.statusCode >= http.StatusBadRequest:
			logger.Warningf("[%s] %s %s %d %s", reqID, r.Method, r.URL.Path, ww.statusCode, time.Since(start))
		default:
			logger.Infof("[%s] %s %s %d %s", reqID, r.Method, r.URL.Path, ww.statusCode, time.Since(start))
		}
	})
}
