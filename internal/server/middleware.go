package server

import (
	"context"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/quantmind-br/docbundle/internal/utils"
)

// HeaderRequestID carries the request id in both directions
const HeaderRequestID = "X-Request-ID"

type contextKey int

const requestIDKey contextKey = iota

// RequestID returns the id assigned to the request carried by ctx
func RequestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey).(string)
	return id
}

// chain applies request id, logging and panic recovery around a handler
func chain(logger *utils.Logger, next http.Handler) http.Handler {
	return requestIDMiddleware(loggingMiddleware(logger, recoveryMiddleware(logger, next)))
}

// requestIDMiddleware keeps a caller-supplied id or assigns a new one
func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(HeaderRequestID)
		if id == "" || len(id) > 128 {
			id = uuid.NewString()
		}
		w.Header().Set(HeaderRequestID, id)
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), requestIDKey, id)))
	})
}

// loggingMiddleware logs method, path, status and duration
func loggingMiddleware(logger *utils.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(wrapped, r)

		event := logger.Info()
		if wrapped.statusCode >= http.StatusInternalServerError {
			event = logger.Warn()
		}
		event.
			Str("request_id", RequestID(r.Context())).
			Str("method", r.Method).
			Str("host", r.Host).
			Str("path", r.URL.Path).
			Int("status", wrapped.statusCode).
			Dur("duration", time.Since(start)).
			Str("remote_addr", r.RemoteAddr).
			Msg("HTTP request")
	})
}

// recoveryMiddleware turns a handler panic into a 500 response
func recoveryMiddleware(logger *utils.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if p := recover(); p != nil {
				if p == http.ErrAbortHandler {
					panic(p)
				}
				logger.Error().
					Str("request_id", RequestID(r.Context())).
					Str("path", r.URL.Path).
					Interface("panic", p).
					Msg("HTTP handler panic")
				writeJSON(w, http.StatusInternalServerError, errorResponse{
					Code:  "INTERNAL",
					Error: "internal server error",
				})
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// responseWriter captures status codes for logging
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}
