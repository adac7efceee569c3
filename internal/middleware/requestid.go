// Package middleware holds the HTTP middleware sprintpilot applies in front
// of its API: request identity and per-client rate limiting.
package middleware

import (
	"net/http"

	"github.com/google/uuid"

	"github.com/sprintpilot/sprintpilot/internal/logger"
)

const headerRequestID = "X-Request-ID"

// RequestID propagates an X-Request-ID through the request context and the
// response, minting one when the caller did not send any. Session operations
// log it, so one ID follows a request from the handler into the run loop.
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(headerRequestID)
		if id == "" {
			id = uuid.NewString()
		}

		ctx := logger.WithRequestID(r.Context(), id)
		w.Header().Set(headerRequestID, id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
