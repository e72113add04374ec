package middleware

import (
	"context"
	"net/http"
	"time"
)

// MetricsRecorder records HTTP request metrics. Route is the chi route
// pattern, which keeps label cardinality bounded.
type MetricsRecorder interface {
	RecordHTTPRequest(ctx context.Context, method, route string, status int, duration time.Duration)
	IncInFlight()
	DecInFlight()
}

// Metrics returns a middleware that records HTTP metrics. A panicking
// handler is recorded as a 500 before the panic continues.
func Metrics(recorder MetricsRecorder) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			recorder.IncInFlight()
			defer recorder.DecInFlight()

			wrapped := wrapResponseWriter(w)
			defer func() {
				if err := recover(); err != nil {
					recorder.RecordHTTPRequest(r.Context(), r.Method, routePattern(r), http.StatusInternalServerError, time.Since(start))
					panic(err)
				}
			}()

			next.ServeHTTP(wrapped, r)

			recorder.RecordHTTPRequest(r.Context(), r.Method, routePattern(r), wrapped.statusCode, time.Since(start))
		})
	}
}
