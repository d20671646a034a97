// Package middleware contains the HTTP middleware chain: request-id
// stamping, API-key extraction, rate limiting, and request logging.
package middleware

import (
	"context"
	"net/http"

	"github.com/turtacn/WAL-Service/internal/domain/identity"
)

type contextKey string

const (
	requestIDKey contextKey = "request_id"
	apiKeyKey    contextKey = "api_key"
	traceIDKey   contextKey = "trace_id"
)

// Header names.
const (
	HeaderRequestID = "X-Request-ID"
	HeaderAPIKey    = "X-API-Key"
	HeaderTraceID   = "X-Trace-ID"
)

// RequestID echoes an inbound X-Request-ID or generates one in the service
// format, stores it in the request context, and stamps it onto the response.
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(HeaderRequestID)
		if id == "" {
			id = identity.NewRequestID()
		}
		w.Header().Set(HeaderRequestID, id)

		ctx := context.WithValue(r.Context(), requestIDKey, id)
		if trace := r.Header.Get(HeaderTraceID); trace != "" {
			ctx = context.WithValue(ctx, traceIDKey, trace)
		}
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// APIKey extracts the X-API-Key header into the request context. Format and
// ACL enforcement happen in the pipeline so the error taxonomy stays in one
// place.
func APIKey(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := context.WithValue(r.Context(), apiKeyKey, r.Header.Get(HeaderAPIKey))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// ContextRequestID returns the request ID stored by RequestID, or "".
func ContextRequestID(ctx context.Context) string {
	v, _ := ctx.Value(requestIDKey).(string)
	return v
}

// ContextAPIKey returns the API key stored by APIKey, or "".
func ContextAPIKey(ctx context.Context) string {
	v, _ := ctx.Value(apiKeyKey).(string)
	return v
}

// ContextTraceID returns the trace ID stored by RequestID, or "".
func ContextTraceID(ctx context.Context) string {
	v, _ := ctx.Value(traceIDKey).(string)
	return v
}
