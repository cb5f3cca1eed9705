package observability

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5/middleware"
)

// Audit records a clinic-visible state change tied to an HTTP request.
func Audit(r *http.Request, event string, attrs ...any) {
	requestID := middleware.GetReqID(r.Context())
	if requestID == "" {
		requestID = r.Header.Get("X-Request-Id")
	}
	base := []any{
		"method", r.Method,
		"path", r.URL.Path,
		"request_id", requestID,
	}
	AuditContext(r.Context(), event, append(base, attrs...)...)
}

// AuditContext is used by background work such as relay ingestion, where
// there is no request to attribute the event to.
func AuditContext(ctx context.Context, event string, attrs ...any) {
	slog.Default().InfoContext(ctx, "audit", append([]any{"event", event}, attrs...)...)
}
