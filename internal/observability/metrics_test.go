package observability

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"inkpost/internal/models"
	"inkpost/internal/version"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
)

func metricsProvider(t *testing.T) *Provider {
	t.Helper()
	provider, err := Setup(testConfig(func(c *models.Config) { c.Metrics.Enabled = true }), version.Info{Version: "v1"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = provider.Shutdown(context.Background()) })
	return provider
}

func TestMetricsServer_ServesRecordedMetrics(t *testing.T) {
	provider := metricsProvider(t)

	counter, err := otel.Meter("inkpost/test").Int64Counter("test_requests")
	require.NoError(t, err)
	counter.Add(context.Background(), 3)

	ms := NewMetricsServer(9090, "/metrics", provider)
	assert.Equal(t, ":9090", ms.server.Addr)

	rr := httptest.NewRecorder()
	ms.server.Handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), "test_requests")
	assert.Contains(t, rr.Body.String(), `inkpost_storage_type="memory"`)

	rr = httptest.NewRecorder()
	ms.server.Handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/other", nil))
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestMetricsServer_StartAndShutdown(t *testing.T) {
	ms := NewMetricsServer(0, "/metrics", metricsProvider(t))

	errCh := make(chan error, 1)
	go func() {
		errCh <- ms.Start()
	}()
	time.Sleep(100 * time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	assert.NoError(t, ms.Shutdown(ctx))
	assert.Equal(t, http.ErrServerClosed, <-errCh)
}

func TestNewMetricsServer_WithoutMetrics(t *testing.T) {
	for name, provider := range map[string]*Provider{"nil provider": nil, "metrics disabled": {}} {
		ms := NewMetricsServer(9090, "/metrics", provider)
		rr := httptest.NewRecorder()
		ms.server.Handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
		assert.Equal(t, http.StatusNotFound, rr.Code, name)
	}
}
