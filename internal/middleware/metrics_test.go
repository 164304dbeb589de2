package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"

	"github.com/relaygate/relaygate/internal/telemetry"
)

func TestMetricsMiddlewareRecordsHTTPRequestDuration(t *testing.T) {
	metrics := telemetry.NewMetrics()
	mw := NewMetricsMiddleware(metrics)

	handler := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusCreated)
	}))

	req := httptest.NewRequest(http.MethodPost, "/feedback", nil)
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusCreated, rec.Code)
	count := testutil.CollectAndCount(metrics.HTTPRequestDuration, "relaygate_http_request_duration_seconds")
	assert.Equal(t, 1, count)
}
