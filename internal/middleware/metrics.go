package middleware

import (
	"net/http"
	"strconv"
	"time"

	"github.com/relaygate/relaygate/internal/telemetry"
)

// NewMetricsMiddleware records HTTP request latency against telemetry's
// Prometheus collectors. It wraps the response in its own instance of
// logging.go's responseWriter type to capture the status code. Requests to
// /health are not recorded.
func NewMetricsMiddleware(metrics *telemetry.Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			wrapped := &responseWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(wrapped, r)

			if r.URL.Path == "/health" {
				return
			}
			metrics.RecordHTTPRequest(r.Method, r.URL.Path, strconv.Itoa(wrapped.status), time.Since(start).Seconds())
		})
	}
}
