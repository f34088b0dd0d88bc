package httpmw

import (
	"context"
	"net/http"
	"time"
)

// TimeoutMiddleware attaches a deadline to each request's context. Handlers
// observe ctx.Done() and translate the cancellation into a timeout envelope
// themselves; the middleware does not write a response of its own, because
// a half-written SSE stream cannot be turned into a clean 504 after the
// fact.
func TimeoutMiddleware(timeout time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if timeout <= 0 {
				next.ServeHTTP(w, r)
				return
			}
			ctx, cancel := context.WithTimeout(r.Context(), timeout)
			defer cancel()
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
