package metrics

import (
	"context"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/viewkit/viewkit/internal/config"
	"github.com/viewkit/viewkit/pkg/types"
)

func newTestCollector(t *testing.T) *Collector {
	t.Helper()
	c, err := NewCollector(&Config{Enabled: true, Namespace: "test"})
	require.NoError(t, err)
	return c
}

func TestNewCollector(t *testing.T) {
	t.Run("nil config uses defaults", func(t *testing.T) {
		c, err := NewCollector(nil)
		require.NoError(t, err)
		assert.True(t, c.Enabled())
		assert.Equal(t, "/metrics", c.config.Path)
		assert.Equal(t, "viewkit", c.config.Namespace)
		assert.NotNil(t, c.Registry())
	})

	t.Run("from file config", func(t *testing.T) {
		cfg := ConfigFrom(config.MetricsConfig{Enabled: true, Port: 9100, Path: "/m", Namespace: "app"})
		assert.True(t, cfg.ProcessMetrics)
		c, err := NewCollector(cfg)
		require.NoError(t, err)
		assert.Equal(t, 9100, c.config.Port)
	})

	t.Run("disabled collector ignores calls", func(t *testing.T) {
		c, err := NewCollector(&Config{Enabled: false})
		require.NoError(t, err)
		assert.Nil(t, c.Registry())

		c.RecordCacheRequest(types.KindImage, types.OutcomeHit)
		c.SetCacheStats(types.CacheStatistics{Images: 3})
		c.SetMemory(1, types.PressureCritical)
		c.RecordPressureCleanup()

		require.NoError(t, c.Start(context.Background()))
		assert.Empty(t, c.Addr())

		rec := httptest.NewRecorder()
		c.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})
}

func TestCollectorCacheMetrics(t *testing.T) {
	c := newTestCollector(t)

	c.RecordCacheRequest(types.KindImage, types.OutcomeHit)
	c.RecordCacheRequest(types.KindImage, types.OutcomeHit)
	c.RecordCacheRequest(types.KindImage, types.OutcomeLoaded)
	c.RecordCacheRequest(types.KindFont, types.OutcomeMiss)
	c.RecordLoadError(types.KindFont)
	c.RecordLoadDuration(types.KindImage, 3*time.Millisecond)

	assert.Equal(t, 2.0, testutil.ToFloat64(c.requestCounter.WithLabelValues("image", "hit")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.requestCounter.WithLabelValues("image", "loaded")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.requestCounter.WithLabelValues("font", "miss")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.loadErrorCounter.WithLabelValues("font")))
	assert.Equal(t, 1, testutil.CollectAndCount(c.loadDuration))

	c.SetCacheStats(types.CacheStatistics{
		Images:      4,
		Colors:      2,
		Fonts:       1,
		Utilization: 0.25,
		HitRate:     0.5,
	})
	assert.Equal(t, 4.0, testutil.ToFloat64(c.cacheEntries.WithLabelValues("image")))
	assert.Equal(t, 2.0, testutil.ToFloat64(c.cacheEntries.WithLabelValues("color")))
	assert.Equal(t, 0.0, testutil.ToFloat64(c.cacheEntries.WithLabelValues("bundle")))
	assert.Equal(t, 0.25, testutil.ToFloat64(c.cacheUtilization))
	assert.Equal(t, 0.5, testutil.ToFloat64(c.cacheHitRatio))

	c.RecordCacheClear("all")
	c.RecordCacheClear("resources")
	c.RecordCacheClear("all")
	assert.Equal(t, 2.0, testutil.ToFloat64(c.clearCounter.WithLabelValues("all")))
}

func TestCollectorPreloadAndPagination(t *testing.T) {
	c := newTestCollector(t)

	c.RecordPreload(5, 3)
	c.RecordPreload(2, 0)
	c.RecordPreload(-1, -1)
	assert.Equal(t, 7.0, testutil.ToFloat64(c.preloadRequested))
	assert.Equal(t, 3.0, testutil.ToFloat64(c.preloadLoaded))

	c.RecordPaginationBatch("feed", 20)
	c.RecordPaginationBatch("feed", 5)
	assert.Equal(t, 2.0, testutil.ToFloat64(c.paginationBatches.WithLabelValues("feed")))
	assert.Equal(t, 25.0, testutil.ToFloat64(c.paginationItems.WithLabelValues("feed")))
}

func TestCollectorMemoryAndPerformance(t *testing.T) {
	c := newTestCollector(t)

	c.SetMemory(512<<20, types.PressureWarning)
	c.RecordPressureCleanup()
	c.SetPerformance(types.PerformanceStats{FPS: 59.5, CacheHitRate: 0.8})

	assert.Equal(t, float64(512<<20), testutil.ToFloat64(c.residentBytes))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.pressureLevel))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.pressureCleanups))
	assert.Equal(t, 59.5, testutil.ToFloat64(c.framesPerSecond))
	assert.Equal(t, 0.8, testutil.ToFloat64(c.frameHitRatio))
}

func TestCollectorHandler(t *testing.T) {
	c := newTestCollector(t)
	c.RecordCacheRequest(types.KindColor, types.OutcomeHit)

	srv := httptest.NewServer(c.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `test_cache_requests_total{kind="color",result="hit"} 1`)
}

func TestCollectorServe(t *testing.T) {
	c, err := NewCollector(&Config{Enabled: true, Port: freePort(t), Namespace: "test"})
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, c.Start(ctx))
	assert.Error(t, c.Start(ctx), "second start must fail")

	resp, err := http.Get("http://" + c.Addr() + "/health")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Get("http://" + c.Addr() + "/metrics")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	stopCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	require.NoError(t, c.Stop(stopCtx))
	assert.Empty(t, c.Addr())
	require.NoError(t, c.Stop(stopCtx))
}

func freePort(t *testing.T) int {
	t.Helper()
	srv := httptest.NewServer(http.NotFoundHandler())
	addr := srv.Listener.Addr().(*net.TCPAddr)
	srv.Close()
	return addr.Port
}
