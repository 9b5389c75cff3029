package middleware

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/signmaster-com/ComfyExpressMiddleware/internal/core/constants"
	"github.com/signmaster-com/ComfyExpressMiddleware/internal/logger"
	"github.com/signmaster-com/ComfyExpressMiddleware/internal/util"
	"github.com/signmaster-com/ComfyExpressMiddleware/pkg/format"
)

type contextKey string

const (
	RequestIDKey contextKey = "request_id"
	LoggerKey    contextKey = "logger"
)

// ResponseIDHeader carries the request id back to the caller so a failed job
// can be chased through the logs.
const ResponseIDHeader = "X-Cmw-Request-ID"

// IsProcessingRequest reports whether the path is a job submission endpoint.
// Those handlers log their own lifecycle at INFO, so the middleware demotes
// its start/finish lines to DEBUG to avoid double-logging every upload.
func IsProcessingRequest(path string) bool {
	switch path {
	case "/api/remove-background", "/api/upscale-image", "/api/upscale-remove-bg":
		return true
	}
	return strings.HasPrefix(path, "/api/async/")
}

// responseWriter records the status code and byte count on their way out
type responseWriter struct {
	http.ResponseWriter
	status int
	size   int64
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	size, err := rw.ResponseWriter.Write(b)
	rw.size += int64(size)
	return size, err
}

func (rw *responseWriter) WriteHeader(s int) {
	rw.status = s
	rw.ResponseWriter.WriteHeader(s)
}

func (rw *responseWriter) Flush() {
	if flusher, ok := rw.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}

// GetLogger retrieves the request-scoped logger from context.
func GetLogger(ctx context.Context) *slog.Logger {
	if reqLogger, ok := ctx.Value(LoggerKey).(*slog.Logger); ok {
		return reqLogger
	}
	return slog.Default()
}

// GetRequestID retrieves the request ID from context.
func GetRequestID(ctx context.Context) string {
	if requestID, ok := ctx.Value(RequestIDKey).(string); ok {
		return requestID
	}
	return ""
}

// RequestLogging assigns every request an id (honouring an inbound
// X-Request-ID), propagates an id-scoped logger through the context and logs
// request start and completion with the size flow.
func RequestLogging(styledLogger logger.StyledLogger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			reqBytes := max(r.ContentLength, 0)

			requestID := r.Header.Get("X-Request-ID")
			if requestID == "" {
				requestID = util.GenerateRequestID()
			}
			w.Header().Set(ResponseIDHeader, requestID)

			reqLogger := slog.Default().With(constants.ContextRequestIdKey, requestID)
			ctx := context.WithValue(r.Context(), RequestIDKey, requestID)
			ctx = context.WithValue(ctx, LoggerKey, reqLogger)

			logAt := reqLogger.Info
			if IsProcessingRequest(r.URL.Path) {
				logAt = reqLogger.Debug
			}

			logAt("Request started",
				"method", r.Method,
				"path", r.URL.Path,
				"remote_addr", r.RemoteAddr,
				"user_agent", r.UserAgent(),
				"request_bytes", reqBytes,
			)

			wrapped := &responseWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(wrapped, r.WithContext(ctx))

			logAt("Request completed",
				"method", r.Method,
				"path", r.URL.Path,
				"status", wrapped.status,
				"duration_ms", time.Since(start).Milliseconds(),
				"request_bytes", reqBytes,
				"response_bytes", wrapped.size,
				"size_flow", fmt.Sprintf("%s -> %s",
					format.Bytes(util.SafeUint64(reqBytes)),
					format.Bytes(util.SafeUint64(wrapped.size))),
			)
		})
	}
}
