package middleware

import (
	"net/http"
	"runtime/debug"

	"github.com/goclaw/conductor/pkg/api/response"
	"github.com/goclaw/conductor/pkg/logger"
)

// Recovery returns a middleware that turns handler panics into a 500
// response. The panic value is logged, never returned to the client.
func Recovery(log logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if err := recover(); err != nil {
					if err == http.ErrAbortHandler {
						panic(err)
					}
					log.ErrorContext(r.Context(), "Panic recovered",
						"error", err,
						"path", r.URL.Path,
						"method", r.Method,
						"stack", string(debug.Stack()),
					)

					requestID := GetRequestID(r.Context())
					if requestID == "" {
						requestID = "unknown"
					}
					response.Error(w,
						http.StatusInternalServerError,
						response.ErrCodeInternalServer,
						http.StatusText(http.StatusInternalServerError),
						requestID,
					)
				}
			}()

			next.ServeHTTP(w, r)
		})
	}
}
