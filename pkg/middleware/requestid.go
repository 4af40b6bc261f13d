package middleware

import (
	"net/http"

	"github.com/google/uuid"

	"github.com/psychon7/vibe-kanban/pkg/observability"
)

// HeaderRequestID carries the request ID in and out of the service.
const HeaderRequestID = "X-Request-Id"

// RequestID assigns each request an ID (honoring one supplied by the
// proxy), attaches the logger to the context and echoes the ID in the
// response.
func RequestID(logger *observability.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			requestID := r.Header.Get(HeaderRequestID)
			if requestID == "" {
				requestID = uuid.NewString()
			}
			w.Header().Set(HeaderRequestID, requestID)

			ctx := observability.WithRequestID(r.Context(), requestID)
			ctx = observability.WithLogger(ctx, logger)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
