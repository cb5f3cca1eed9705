package response

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/otel/trace"
)

func TestJSONWritesSuccessEnvelope(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Request-Id", "from-header")
	rr := httptest.NewRecorder()

	JSON(rr, req, http.StatusCreated, map[string]string{"id": "r1"})

	if rr.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d", rr.Code)
	}
	if got := rr.Header().Get("Cache-Control"); got != "no-store" {
		t.Fatalf("expected no-store, got %q", got)
	}
	var env Envelope
	if err := json.Unmarshal(rr.Body.Bytes(), &env); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !env.Success || env.Error != nil || env.Meta.RequestID != "from-header" || env.Meta.TraceID != "" {
		t.Fatalf("unexpected envelope: %+v", env)
	}
}

func TestErrorCarriesCodeRequestIDAndTraceID(t *testing.T) {
	traceID, _ := trace.TraceIDFromHex("4bf92f3577b34da6a3ce929d0e0e4736")
	spanID, _ := trace.SpanIDFromHex("00f067aa0ba902b7")
	ctx := trace.ContextWithSpanContext(
		context.WithValue(context.Background(), chimiddleware.RequestIDKey, "chi-id"),
		trace.NewSpanContext(trace.SpanContextConfig{TraceID: traceID, SpanID: spanID}),
	)
	req := httptest.NewRequest(http.MethodGet, "/", nil).WithContext(ctx)
	rr := httptest.NewRecorder()

	Error(rr, req, http.StatusGone, "LINK_EXPIRED", "survey link expired", nil)

	var env Envelope
	if err := json.Unmarshal(rr.Body.Bytes(), &env); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if env.Success || env.Error == nil || env.Error.Code != "LINK_EXPIRED" {
		t.Fatalf("unexpected error envelope: %+v", env)
	}
	if env.Meta.RequestID != "chi-id" || env.Meta.TraceID != traceID.String() {
		t.Fatalf("unexpected meta: %+v", env.Meta)
	}
}

func TestMetaFallsBackToUnknownRequestID(t *testing.T) {
	m := metaFor(httptest.NewRequest(http.MethodGet, "/", nil))
	if m.RequestID != "req-unknown" || m.Timestamp.IsZero() {
		t.Fatalf("unexpected meta: %+v", m)
	}
}
