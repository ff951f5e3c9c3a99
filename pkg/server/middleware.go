package server

import (
	"context"
	"log/slog"
	"net/http"
	"runtime/debug"
	"time"

	"github.com/google/uuid"

	"mercator-hq/warden/pkg/policy"
	"mercator-hq/warden/pkg/telemetry/logging"
)

const (
	// RequestIDHeader is the HTTP header for request ID.
	RequestIDHeader = "X-Request-ID"
)

type contextKey string

const actorKey contextKey = "actor"

// responseWriter wraps http.ResponseWriter to capture status code.
type responseWriter struct {
	http.ResponseWriter
	statusCode int
	written    bool
}

func newResponseWriter(w http.ResponseWriter) *responseWriter {
	return &responseWriter{
		ResponseWriter: w,
		statusCode:     http.StatusOK,
	}
}

// WriteHeader captures the status code before writing.
func (rw *responseWriter) WriteHeader(code int) {
	if !rw.written {
		rw.statusCode = code
		rw.written = true
		rw.ResponseWriter.WriteHeader(code)
	}
}

// Write ensures WriteHeader is called if not already done.
func (rw *responseWriter) Write(b []byte) (int, error) {
	if !rw.written {
		rw.WriteHeader(http.StatusOK)
	}
	return rw.ResponseWriter.Write(b)
}

// Flush lets streamed exports reach the client page by page.
func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// RequestIDMiddleware uses the caller's X-Request-ID or generates one, and
// stores it in the context for logging and audit records.
func RequestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get(RequestIDHeader)
		if requestID == "" {
			requestID = uuid.NewString()
		}

		w.Header().Set(RequestIDHeader, requestID)
		ctx := logging.WithRequestID(r.Context(), requestID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// LoggingMiddleware logs each completed request at a level derived from the
// status code.
func LoggingMiddleware(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rw := newResponseWriter(w)

			next.ServeHTTP(rw, r)

			level := slog.LevelInfo
			if rw.statusCode >= 500 {
				level = slog.LevelError
			} else if rw.statusCode >= 400 {
				level = slog.LevelWarn
			}

			logging.FromContext(r.Context(), logger).Log(r.Context(), level, "request completed",
				"method", r.Method,
				"path", r.URL.Path,
				"status", rw.statusCode,
				"latency_ms", time.Since(start).Milliseconds(),
				"remote_addr", r.RemoteAddr,
			)
		})
	}
}

// RecoveryMiddleware turns a handler panic into a 500 response without
// exposing internal detail.
func RecoveryMiddleware(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					if rec == http.ErrAbortHandler {
						panic(rec)
					}
					logging.FromContext(r.Context(), logger).ErrorContext(r.Context(), "panic in handler",
						"error", rec,
						"method", r.Method,
						"path", r.URL.Path,
						"stack", string(debug.Stack()),
					)
					writeError(w, http.StatusInternalServerError, ErrorBody{
						Kind:    kindInternal,
						Message: genericFailure,
					})
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

// ActorMiddleware resolves the caller from the configured identity headers.
// Requests without both headers are rejected with 401.
func ActorMiddleware(idHeader, roleHeader string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			actor := policy.Actor{
				ID:   r.Header.Get(idHeader),
				Role: r.Header.Get(roleHeader),
			}
			if actor.ID == "" || actor.Role == "" {
				writeError(w, http.StatusUnauthorized, ErrorBody{
					Kind:    kindUnauthenticated,
					Message: "missing " + idHeader + " or " + roleHeader + " header",
				})
				return
			}

			ctx := context.WithValue(r.Context(), actorKey, actor)
			ctx = logging.WithActor(ctx, actor.ID, actor.Role)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// ActorFromContext returns the actor set by ActorMiddleware.
func ActorFromContext(ctx context.Context) (policy.Actor, bool) {
	actor, ok := ctx.Value(actorKey).(policy.Actor)
	return actor, ok
}

// BodyLimitMiddleware caps request bodies at maxBytes.
func BodyLimitMiddleware(maxBytes int64) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if maxBytes > 0 && r.Body != nil {
				r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
			}
			next.ServeHTTP(w, r)
		})
	}
}
