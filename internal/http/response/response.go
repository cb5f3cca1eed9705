package response

import (
	"encoding/json"
	"net/http"
	"time"

	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/otel/trace"
)

// Envelope is the body shape of every JSON response the service writes.
type Envelope struct {
	Success bool      `json:"success"`
	Data    any       `json:"data,omitempty"`
	Error   *APIError `json:"error,omitempty"`
	Meta    Meta      `json:"meta"`
}

type APIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

type Meta struct {
	RequestID string    `json:"request_id"`
	TraceID   string    `json:"trace_id,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

func JSON(w http.ResponseWriter, r *http.Request, status int, data any) {
	write(w, status, Envelope{Success: true, Data: data, Meta: metaFor(r)})
}

func Error(w http.ResponseWriter, r *http.Request, status int, code, message string, details any) {
	write(w, status, Envelope{
		Error: &APIError{Code: code, Message: message, Details: details},
		Meta:  metaFor(r),
	})
}

// Survey links and answers must not be cached by intermediaries.
func write(w http.ResponseWriter, status int, body Envelope) {
	h := w.Header()
	h.Set("Content-Type", "application/json")
	h.Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func metaFor(r *http.Request) Meta {
	m := Meta{Timestamp: time.Now().UTC(), RequestID: "req-unknown"}
	if id := chimiddleware.GetReqID(r.Context()); id != "" {
		m.RequestID = id
	} else if id := r.Header.Get("X-Request-Id"); id != "" {
		m.RequestID = id
	}
	if sc := trace.SpanContextFromContext(r.Context()); sc.HasTraceID() {
		m.TraceID = sc.TraceID().String()
	}
	return m
}
