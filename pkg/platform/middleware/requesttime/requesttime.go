// Package requesttime provides middleware for request-scoped time.
// Every timestamp written while serving one request (card validity, audit
// events, created_at columns) uses the same "now".
package requesttime

import (
	"net/http"
	"time"

	"homebank/pkg/requestcontext"
)

// Middleware captures the current time at the start of the request
// using time.Now.
func Middleware(next http.Handler) http.Handler {
	return WithClock(time.Now)(next)
}

// WithClock is Middleware with an injectable clock, for tests that pin time.
func WithClock(now func() time.Time) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := requestcontext.WithTime(r.Context(), now().UTC())
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
