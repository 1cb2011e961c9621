package middleware

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/meowlet/mercury-api/pkg/logging"
	"go.opentelemetry.io/otel/trace"
)

// RequestLogger creates a middleware that logs requests and injects the logger.
func RequestLogger(log *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			attrs := []any{
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
				slog.String("remote_addr", r.RemoteAddr),
			}
			if id := GetRequestID(r.Context()); id != "" {
				attrs = append(attrs, logging.RequestID(id))
			}
			if sc := trace.SpanContextFromContext(r.Context()); sc.IsValid() {
				attrs = append(attrs, logging.TraceID(sc.TraceID().String()), logging.SpanID(sc.SpanID().String()))
			}
			reqLog := log.With(attrs...)
			ctx := logging.WithContext(r.Context(), reqLog)

			reqLog.DebugContext(ctx, "request started")
			wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
			next.ServeHTTP(wrapped, r.WithContext(ctx))

			level := slog.LevelInfo
			if wrapped.statusCode >= http.StatusInternalServerError {
				level = slog.LevelError
			}
			reqLog.Log(ctx, level, "request completed",
				slog.Int("status", wrapped.statusCode),
				slog.Duration("duration", time.Since(start)))
		})
	}
}
