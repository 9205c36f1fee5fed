package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
)

type key int

const TraceKey key = 0

const TraceHeader = "X-Trace-ID"

// TraceID attaches a trace identifier to the request context, reusing the
// caller's X-Trace-ID header when present.
func TraceID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(TraceHeader)
		if id == "" {
			id = NewTraceID()
		}

		ctx := WithTraceID(r.Context(), id)
		w.Header().Set(TraceHeader, id)

		slog.InfoContext(ctx, "request received", "method", r.Method, "path", r.URL.Path) // #nosec G706 -- r.URL.Path is parsed by Go's net/http
		start := time.Now()

		next.ServeHTTP(w, r.WithContext(ctx))

		slog.InfoContext(ctx, "request completed", "method", r.Method, "path", r.URL.Path, "duration", time.Since(start)) // #nosec G706
	})
}

func NewTraceID() string {
	return uuid.New().String()
}

// GetTraceID returns the trace id stored in ctx, or "unknown".
func GetTraceID(ctx context.Context) string {
	if id, ok := ctx.Value(TraceKey).(string); ok && id != "" {
		return id
	}
	return "unknown"
}

// TraceIDFrom reports the trace id stored in ctx without a placeholder.
func TraceIDFrom(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(TraceKey).(string)
	return id, ok && id != ""
}

func WithTraceID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, TraceKey, id)
}
