package observability

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMiddlewareRecordsRequests(t *testing.T) {
	metrics := NewMetrics()

	handler := metrics.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))

	req := httptest.NewRequest(http.MethodGet, "/anything", nil)
	res := httptest.NewRecorder()
	handler.ServeHTTP(res, req)
	require.Equal(t, http.StatusTeapot, res.Code)

	metricsRes := httptest.NewRecorder()
	metrics.Handler().ServeHTTP(metricsRes, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	body := metricsRes.Body.String()
	assert.Contains(t, body, "permsvc_http_requests_total")
	assert.Contains(t, body, `code="418"`)
}

func TestCountersNilSafe(t *testing.T) {
	var metrics *Metrics
	metrics.CountRebuild("mutation")
	metrics.CountDenial()

	res := httptest.NewRecorder()
	metrics.Handler().ServeHTTP(res, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusServiceUnavailable, res.Code)
}

func TestRebuildCounter(t *testing.T) {
	metrics := NewMetrics()
	metrics.CountRebuild("group_edit")
	metrics.CountRebuild("group_edit")

	res := httptest.NewRecorder()
	metrics.Handler().ServeHTTP(res, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, res.Code)
	assert.True(t, strings.Contains(res.Body.String(), `permsvc_cache_rebuilds_total{trigger="group_edit"} 2`))
}
