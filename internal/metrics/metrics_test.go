package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizePath(t *testing.T) {
	assert.Equal(t, "/api/sse", normalizePath("/api/sse"))
	assert.Equal(t, "/api/rpc", normalizePath("/api/rpc"))
	assert.Equal(t, "/metrics", normalizePath("/metrics"))
	assert.Equal(t, "/ws/events", normalizePath("/ws/events"))
	assert.Equal(t, "/other", normalizePath("/favicon.ico"))
	assert.Equal(t, "/other", normalizePath("/"))
}

func TestHTTPMiddlewareRecordsRequests(t *testing.T) {
	handler := HTTPMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/rpc", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	require.Equal(t, http.StatusTeapot, rec.Code)

	value := counterValue(t, "agentmesh_http_requests_total", map[string]string{
		"method": "GET",
		"path":   "/api/rpc",
		"status": "418",
	})
	assert.GreaterOrEqual(t, value, 1.0)
}

// counterValue digs one labeled counter out of the default registry.
func counterValue(t *testing.T, name string, labels map[string]string) float64 {
	t.Helper()
	families, err := prometheus.DefaultGatherer.Gather()
	require.NoError(t, err)

	for _, fam := range families {
		if fam.GetName() != name {
			continue
		}
		for _, m := range fam.GetMetric() {
			if matchLabels(m, labels) {
				return m.GetCounter().GetValue()
			}
		}
	}
	t.Fatalf("metric %s with labels %v not found", name, labels)
	return 0
}

func matchLabels(m *dto.Metric, want map[string]string) bool {
	got := make(map[string]string, len(m.GetLabel()))
	for _, l := range m.GetLabel() {
		got[l.GetName()] = l.GetValue()
	}
	for k, v := range want {
		if got[k] != v {
			return false
		}
	}
	return true
}
