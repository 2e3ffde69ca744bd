package middlewares

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5/middleware"
)

const (
	HeaderXRequestId      = "x-request-id"
	HeaderXIdempotencyKey = "x-idempotency-key"
)

// contextKey is an unexported type for context keys in this package.
// Using a custom type prevents collisions with keys from other packages
// that might use the same underlying string value.
type contextKey string

const (
	contextKeyRequestID      contextKey = HeaderXRequestId
	contextKeyIdempotencyKey contextKey = HeaderXIdempotencyKey
)

// AttachRequestMetadata lifts the request ID and the client's idempotency key
// into the context so handlers and log lines can reach them.
func AttachRequestMetadata(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := middleware.GetReqID(r.Context())
		idempotencyKey := r.Header.Get(HeaderXIdempotencyKey)

		ctx := context.WithValue(r.Context(), contextKeyRequestID, requestID)
		ctx = context.WithValue(ctx, contextKeyIdempotencyKey, idempotencyKey)

		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequestID returns the request ID attached by AttachRequestMetadata, or "".
func RequestID(ctx context.Context) string {
	v, _ := ctx.Value(contextKeyRequestID).(string)
	return v
}

// IdempotencyKey returns the client-supplied idempotency key, or "".
func IdempotencyKey(ctx context.Context) string {
	v, _ := ctx.Value(contextKeyIdempotencyKey).(string)
	return v
}
