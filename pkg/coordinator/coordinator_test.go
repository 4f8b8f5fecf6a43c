package coordinator

import (
	"context"
	"encoding/json"
	"fmt"
	"image/color"
	"net/http"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/viewkit/viewkit/internal/config"
	"github.com/viewkit/viewkit/internal/storage"
	"github.com/viewkit/viewkit/pkg/errors"
	"github.com/viewkit/viewkit/pkg/memmon"
	"github.com/viewkit/viewkit/pkg/pagination"
	"github.com/viewkit/viewkit/pkg/types"
	"github.com/viewkit/viewkit/pkg/utils"
)

type fixture struct {
	c        *Coordinator
	store    *storage.MemoryStore
	resident atomic.Uint64
}

func testConfig() *config.Configuration {
	cfg := config.NewDefault()
	cfg.Global.LogLevel = "ERROR"
	cfg.Cache.Preload.Debounce = 10 * time.Millisecond
	cfg.Monitoring.Memory.SampleInterval = 5 * time.Millisecond
	cfg.Monitoring.Memory.Retention = time.Second
	cfg.Monitoring.Memory.Ceiling = "1000B"
	cfg.Monitoring.Performance.SampleInterval = 5 * time.Millisecond
	return cfg
}

func newFixture(t *testing.T, mutate func(*config.Configuration)) *fixture {
	t.Helper()
	cfg := testConfig()
	if mutate != nil {
		mutate(cfg)
	}

	f := &fixture{store: storage.NewMemoryStore()}
	f.resident.Store(100)

	c, err := New(context.Background(), Options{
		Config: cfg,
		Store:  f.store,
		Logger: utils.NewNopLogger(),
		Sampler: memmon.SamplerFunc(func(context.Context) (uint64, error) {
			return f.resident.Load(), nil
		}),
	})
	require.NoError(t, err)
	f.c = c

	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = c.Stop(ctx)
	})
	return f
}

func waitForWindow(t *testing.T, c *Coordinator, id string, want types.Range) {
	t.Helper()
	require.Eventually(t, func() bool {
		got, err := c.VisibleWindow(context.Background(), id)
		return err == nil && got == want
	}, 2*time.Second, time.Millisecond)
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	cfg := config.NewDefault()
	cfg.Pagination.BatchSize = 0
	_, err := New(context.Background(), Options{Config: cfg})
	assert.True(t, errors.HasCode(err, errors.ErrCodeConfigValidation))
}

func TestNewWithDefaults(t *testing.T) {
	c, err := New(context.Background(), Options{Logger: utils.NewNopLogger()})
	require.NoError(t, err)
	defer func() { _ = c.Stop(context.Background()) }()

	assert.True(t, c.CachingEnabled())
	assert.True(t, c.PreloadingEnabled())
	assert.True(t, c.MonitoringEnabled())
	assert.Empty(t, c.StoreState(), "the memory store is not guarded")
	assert.NotNil(t, c.Config())
}

func TestResourceHitAfterLoad(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	_, ok := f.c.Resource(ctx, "icon.logo", types.KindColor, types.DefaultScope)
	assert.False(t, ok, "nothing registered yet")

	f.store.Put(types.DefaultScope, "icon.logo.color", []byte("#FF8800"))

	res, ok := f.c.Resource(ctx, "icon.logo", types.KindColor, types.DefaultScope)
	require.True(t, ok)
	fetches := f.store.Fetches(types.DefaultScope, "icon.logo.color")

	again, ok := f.c.Resource(ctx, "icon.logo", types.KindColor, types.DefaultScope)
	require.True(t, ok)
	assert.Same(t, res, again)
	assert.Equal(t, fetches, f.store.Fetches(types.DefaultScope, "icon.logo.color"), "a hit never reads the store")

	c, ok := again.Color()
	require.True(t, ok)
	assert.Equal(t, color.NRGBA{R: 0xFF, G: 0x88, A: 0xFF}, c)

	outcome := f.c.LoadResource(ctx, "icon.logo", types.KindColor, types.DefaultScope)
	assert.Equal(t, types.OutcomeHit, outcome.Kind)

	stats, err := f.c.CacheStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Colors)
	assert.Equal(t, uint64(2), stats.Hits)
	assert.Equal(t, uint64(2), stats.Misses)
}

func TestStoreStateReportsBreaker(t *testing.T) {
	cfg := testConfig()
	guarded := storage.NewGuardedStore(storage.NewMemoryStore(), cfg.Store.Breaker, utils.NewNopLogger())
	c, err := New(context.Background(), Options{Config: cfg, Store: guarded, Logger: utils.NewNopLogger()})
	require.NoError(t, err)
	defer func() { _ = c.Stop(context.Background()) }()

	assert.Equal(t, "CLOSED", c.StoreState())
}

type countingStore struct {
	*storage.MemoryStore
}

func (s countingStore) StoreStats() types.StoreStats {
	return types.StoreStats{Requests: int64(s.TotalFetches())}
}

func TestStoreStatsThroughBreaker(t *testing.T) {
	cfg := testConfig()
	inner := countingStore{storage.NewMemoryStore()}
	inner.Put(types.DefaultScope, "x.color", []byte("#000000"))
	guarded := storage.NewGuardedStore(inner, cfg.Store.Breaker, utils.NewNopLogger())
	c, err := New(context.Background(), Options{Config: cfg, Store: guarded, Logger: utils.NewNopLogger()})
	require.NoError(t, err)
	defer func() { _ = c.Stop(context.Background()) }()

	_, ok := c.Resource(context.Background(), "x", types.KindColor, types.DefaultScope)
	require.True(t, ok)

	stats, ok := c.StoreStats()
	require.True(t, ok)
	assert.Equal(t, int64(1), stats.Requests)

	f := newFixture(t, nil)
	_, ok = f.c.StoreStats()
	assert.False(t, ok, "the plain memory store keeps no request statistics")
}

func TestCachingDisabledDoesNotStore(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	f.store.Put(types.DefaultScope, "accent.color", []byte("10,20,30"))

	f.c.SetCachingEnabled(false)
	assert.False(t, f.c.CachingEnabled())

	_, ok := f.c.Resource(ctx, "accent", types.KindColor, types.DefaultScope)
	assert.True(t, ok, "lookups still load")

	stats, err := f.c.CacheStats(ctx)
	require.NoError(t, err)
	assert.Zero(t, stats.Colors)

	f.c.SetCachingEnabled(true)
	_, ok = f.c.Resource(ctx, "accent", types.KindColor, types.DefaultScope)
	require.True(t, ok)
	stats, err = f.c.CacheStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Colors)
}

func TestPreloadFlag(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	f.store.Put(types.DefaultScope, "a.color", []byte("#000000"))
	f.store.Put(types.DefaultScope, "b.color", []byte("#FFFFFF"))

	f.c.SetPreloadingEnabled(false)
	report := f.c.Preload(ctx, []string{"a", "b"}, types.DefaultScope)
	assert.Equal(t, 2, report.Skipped)
	assert.Zero(t, report.Loaded)
	assert.False(t, f.c.SchedulePreload([]string{"a"}, types.DefaultScope))

	f.c.SetPreloadingEnabled(true)
	report = f.c.Preload(ctx, []string{"a", "b"}, types.DefaultScope)
	assert.Equal(t, 2, report.Loaded)

	stats, err := f.c.CacheStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Colors)
	assert.Equal(t, 2, stats.PreloadedNames)
}

func TestSchedulePreload(t *testing.T) {
	f := newFixture(t, nil)
	f.store.Put(types.DefaultScope, "late.color", []byte("#123456"))

	require.True(t, f.c.SchedulePreload([]string{"late"}, types.DefaultScope))
	require.Eventually(t, func() bool {
		stats, err := f.c.CacheStats(context.Background())
		return err == nil && stats.PreloadedNames == 1
	}, 2*time.Second, 5*time.Millisecond)
}

func TestListViewLifecycle(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	items := make([]string, 45)
	for i := range items {
		items[i] = fmt.Sprintf("item-%d", i)
	}
	list, err := NewList(f.c, "feed", pagination.NewSliceSource(items...))
	require.NoError(t, err)
	assert.Equal(t, []string{"feed"}, f.c.ViewIDs())

	started, err := f.c.OnItemAppeared(ctx, "feed", 0)
	require.NoError(t, err)
	assert.True(t, started)
	waitForWindow(t, f.c, "feed", types.Range{End: 20})

	_, err = f.c.OnItemAppeared(ctx, "feed", 15)
	require.NoError(t, err)
	waitForWindow(t, f.c, "feed", types.Range{End: 40})

	_, err = f.c.OnItemAppeared(ctx, "feed", 35)
	require.NoError(t, err)
	waitForWindow(t, f.c, "feed", types.Range{End: 45})

	state, err := list.State(ctx)
	require.NoError(t, err)
	assert.Equal(t, pagination.StateExhausted, state)

	started, err = f.c.OnItemAppeared(ctx, "feed", 44)
	require.NoError(t, err)
	assert.False(t, started)

	_, err = NewList(f.c, "feed", pagination.NewSliceSource(items...))
	assert.True(t, errors.HasCode(err, errors.ErrCodeViewExists))
	_, err = NewList(f.c, "", pagination.NewSliceSource(items...))
	assert.True(t, errors.HasCode(err, errors.ErrCodeInvalidConfig))

	require.NoError(t, f.c.RemoveView("feed"))
	_, err = f.c.VisibleWindow(ctx, "feed")
	assert.True(t, errors.HasCode(err, errors.ErrCodeViewNotFound))
}

func TestCarouselView(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	_, err := NewCarousel(f.c, "hero", pagination.NewSliceSource(1, 2, 3, 4, 5, 6, 7, 8, 9, 10),
		WithPrefetchThreshold(2))
	require.NoError(t, err)

	_, err = f.c.OnItemAppeared(ctx, "hero", 5)
	require.NoError(t, err)
	waitForWindow(t, f.c, "hero", types.Range{Start: 3, End: 8})

	_, err = f.c.OnItemAppeared(ctx, "hero", 0)
	require.NoError(t, err)
	waitForWindow(t, f.c, "hero", types.Range{Start: 0, End: 3})
}

func TestListViewOptions(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	_, err := NewList(f.c, "grid", pagination.NewSliceSource(make([]int, 30)...),
		WithBatchSize(8), WithPrefetchThreshold(0))
	require.NoError(t, err)

	_, err = f.c.OnItemAppeared(ctx, "grid", 0)
	require.NoError(t, err)
	waitForWindow(t, f.c, "grid", types.Range{End: 8})
}

func TestClearAndOptimize(t *testing.T) {
	f := newFixture(t, func(cfg *config.Configuration) { cfg.Cache.Capacity = 2 })
	ctx := context.Background()
	for _, name := range []string{"a", "b"} {
		f.store.Put(types.DefaultScope, name+".color", []byte("#010203"))
		_, ok := f.c.Resource(ctx, name, types.KindColor, types.DefaultScope)
		require.True(t, ok)
	}

	report, err := f.c.OptimizeAllCaches(ctx)
	require.NoError(t, err)
	assert.True(t, report.Cleared, "utilization reached 1")
	assert.Zero(t, report.After.ResourceEntries)

	_, ok := f.c.Resource(ctx, "a", types.KindColor, types.DefaultScope)
	require.True(t, ok)
	require.NoError(t, f.c.ClearAllCaches(ctx))
	stats, err := f.c.CacheStats(ctx)
	require.NoError(t, err)
	assert.Zero(t, stats.TotalEntries())
}

func TestCriticalPressureClearsCaches(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	f.store.Put(types.DefaultScope, "big.color", []byte("#FFFFFF"))
	_, ok := f.c.Resource(ctx, "big", types.KindColor, types.DefaultScope)
	require.True(t, ok)

	require.NoError(t, f.c.Start(ctx))
	assert.True(t, errors.HasCode(f.c.Start(ctx), errors.ErrCodeAlreadyStarted))

	f.resident.Store(950)
	require.Eventually(t, func() bool {
		return f.c.MemoryStats().CleanupsFired == 1
	}, 2*time.Second, 5*time.Millisecond)

	require.Eventually(t, func() bool {
		stats, err := f.c.CacheStats(ctx)
		return err == nil && stats.TotalEntries() == 0
	}, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, types.PressureCritical, f.c.MemoryStats().Level)

	alerts := f.c.MemoryAlerts()
	require.NotEmpty(t, alerts)
	assert.Equal(t, types.PressureCritical, alerts[len(alerts)-1].To)
}

func TestPressureHookRespectsMonitoringFlag(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	f.store.Put(types.DefaultScope, "keep.color", []byte("#FFFFFF"))
	_, ok := f.c.Resource(ctx, "keep", types.KindColor, types.DefaultScope)
	require.True(t, ok)

	f.c.SetMonitoringEnabled(false)
	err := f.c.ClearCaches(ctx)
	assert.True(t, errors.HasCode(err, errors.ErrCodeCleanupSkipped))
	stats, err := f.c.CacheStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Colors)

	f.c.SetMonitoringEnabled(true)
	require.NoError(t, f.c.ClearCaches(ctx))
	stats, err = f.c.CacheStats(ctx)
	require.NoError(t, err)
	assert.Zero(t, stats.Colors)
}

func TestSkippedPressureCleanupIsNotCounted(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	f.store.Put(types.DefaultScope, "keep.color", []byte("#FFFFFF"))
	_, ok := f.c.Resource(ctx, "keep", types.KindColor, types.DefaultScope)
	require.True(t, ok)

	require.NoError(t, f.c.Start(ctx))
	f.c.SetMonitoringEnabled(false)

	f.resident.Store(950)
	require.Eventually(t, func() bool {
		return f.c.MemoryStats().Level == types.PressureCritical
	}, 2*time.Second, 5*time.Millisecond)

	// Let a few more samples pass at critical.
	time.Sleep(30 * time.Millisecond)
	assert.Zero(t, f.c.MemoryStats().CleanupsFired)

	stats, err := f.c.CacheStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Colors)
}

func TestPerformanceStats(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	require.NoError(t, f.c.Start(ctx))

	for i := 0; i < 10; i++ {
		f.c.RecordFrame()
	}
	f.store.Put(types.DefaultScope, "x.color", []byte("#FFFFFF"))
	f.c.Resource(ctx, "x", types.KindColor, types.DefaultScope)
	f.c.Resource(ctx, "x", types.KindColor, types.DefaultScope)

	require.Eventually(t, func() bool {
		return f.c.PerformanceStats().CacheHitRate > 0
	}, 2*time.Second, 5*time.Millisecond)
}

func TestStopIsFinal(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	require.NoError(t, f.c.Start(ctx))

	_, err := NewList(f.c, "feed", pagination.NewSliceSource(1, 2, 3))
	require.NoError(t, err)

	require.NoError(t, f.c.Stop(ctx))
	require.NoError(t, f.c.Stop(ctx))
	assert.Empty(t, f.c.ViewIDs(), "stop closes every view")
	assert.True(t, errors.HasCode(f.c.Start(ctx), errors.ErrCodeComponentStopped))

	_, err = f.c.CacheStats(ctx)
	assert.True(t, errors.HasCode(err, errors.ErrCodeComponentStopped))
	_, ok := f.c.Resource(ctx, "anything", types.KindColor, types.DefaultScope)
	assert.False(t, ok)
}

func TestDebugAPI(t *testing.T) {
	f := newFixture(t, func(cfg *config.Configuration) {
		cfg.Monitoring.Debug.Enabled = true
		cfg.Monitoring.Debug.Address = "127.0.0.1:0"
		cfg.Monitoring.Metrics.Enabled = true
	})
	ctx := context.Background()
	require.NoError(t, f.c.Start(ctx))

	addr := f.c.debugAPI.Addr()
	require.NotEmpty(t, addr)

	resp, err := http.Get("http://" + addr + "/stats")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body map[string]interface{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Contains(t, body, "cache")
	assert.Contains(t, body, "memory")

	metricsResp, err := http.Get("http://" + addr + "/metrics")
	require.NoError(t, err)
	_ = metricsResp.Body.Close()
	assert.Equal(t, http.StatusOK, metricsResp.StatusCode)
}

func TestLoadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "viewkit.yaml")
	require.NoError(t, os.WriteFile(path, []byte("pagination:\n  batch_size: 12\n"), 0600))
	t.Setenv("VIEWKIT_PREFETCH_THRESHOLD", "3")

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, 12, cfg.Pagination.BatchSize)
	assert.Equal(t, 3, cfg.Pagination.PrefetchThreshold)

	cfg, err = LoadConfig("")
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig().Pagination.BatchSize, cfg.Pagination.BatchSize)

	_, err = LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.True(t, errors.HasCode(err, errors.ErrCodeConfigLoad))
}

func TestNewLoggerWritesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "viewkit.log")
	logger, closer, err := NewLogger(config.GlobalConfig{
		LogLevel:   "INFO",
		LogFormat:  "json",
		LogFile:    path,
		LogMaxSize: "1MB",
	})
	require.NoError(t, err)
	require.NotNil(t, closer)

	logger.Info("hello", map[string]interface{}{"answer": 42})
	require.NoError(t, closer.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"msg":"hello"`)
	assert.Contains(t, string(data), `"answer":42`)

	_, _, err = NewLogger(config.GlobalConfig{LogLevel: "LOUD"})
	assert.True(t, errors.HasCode(err, errors.ErrCodeInvalidConfig))
}
