package coordinator

import (
	"context"
	"io"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/viewkit/viewkit/internal/cache"
	"github.com/viewkit/viewkit/internal/config"
	"github.com/viewkit/viewkit/internal/dispatch"
	"github.com/viewkit/viewkit/internal/metrics"
	"github.com/viewkit/viewkit/internal/storage"
	"github.com/viewkit/viewkit/pkg/api"
	"github.com/viewkit/viewkit/pkg/errors"
	"github.com/viewkit/viewkit/pkg/memmon"
	"github.com/viewkit/viewkit/pkg/pagination"
	"github.com/viewkit/viewkit/pkg/perfmon"
	"github.com/viewkit/viewkit/pkg/types"
	"github.com/viewkit/viewkit/pkg/utils"
)

// Options configures New. Only Config is normally set; the other fields replace the component
// New would otherwise build from it.
type Options struct {
	// Config defaults to config.NewDefault().
	Config *config.Configuration

	// Store replaces the store selected by Config.Store.
	Store types.Store

	// Logger replaces the logger built from Config.Global.
	Logger *utils.StructuredLogger

	// Sampler replaces the process memory sampler.
	Sampler memmon.Sampler

	// Metrics replaces the Prometheus collector built from Config.Monitoring.Metrics.
	Metrics types.MetricsCollector
}

// Coordinator owns every resource component and is the entry point of the library. Build one
// with New at application start and pass it to the views that need it.
type Coordinator struct {
	config *config.Configuration
	logger *utils.StructuredLogger
	log    *utils.StructuredLogger
	closer io.Closer

	loop        *dispatch.Loop
	store       types.Store
	cache       *cache.ResourceCache
	preloader   *cache.PreloadScheduler
	views       *pagination.Registry
	memory      *memmon.MemoryMonitor
	performance *perfmon.Monitor
	metrics     types.MetricsCollector
	collector   *metrics.Collector
	debugAPI    *api.Server

	cachingEnabled    atomic.Bool
	preloadingEnabled atomic.Bool
	monitoringEnabled atomic.Bool

	mu       sync.Mutex
	started  bool
	stopped  bool
	cancel   context.CancelFunc
	stopOnce sync.Once
	stopErr  error
}

// New builds a coordinator. Nothing runs in the background until Start, except the dispatch
// loop which is needed for every cache and view call.
func New(ctx context.Context, opts Options) (*Coordinator, error) {
	cfg := opts.Config
	if cfg == nil {
		cfg = config.NewDefault()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	c := &Coordinator{config: cfg}

	c.logger = opts.Logger
	if c.logger == nil {
		logger, closer, err := NewLogger(cfg.Global)
		if err != nil {
			return nil, err
		}
		c.logger = logger
		c.closer = closer
	}

	c.log = c.logger.WithComponent("coordinator")

	c.metrics = opts.Metrics
	if c.metrics == nil {
		mc := metrics.ConfigFrom(cfg.Monitoring.Metrics)
		mc.Logger = c.logger
		collector, err := metrics.NewCollector(mc)
		if err != nil {
			c.closeLog()
			return nil, err
		}
		c.collector = collector
		c.metrics = collector
	}

	c.store = opts.Store
	if c.store == nil {
		store, err := storage.New(ctx, cfg.Store, c.logger)
		if err != nil {
			c.closeLog()
			return nil, err
		}
		c.store = store
	}

	c.loop = dispatch.NewLoop("main", 0, c.logger)

	resourceCache, err := cache.NewResourceCache(cache.Options{
		Store:   c.store,
		Loop:    c.loop,
		Config:  cfg.Cache,
		Logger:  c.logger,
		Metrics: c.metrics,
	})
	if err != nil {
		c.loop.Close()
		c.closeLog()
		return nil, err
	}
	c.cache = resourceCache
	c.preloader = cache.NewPreloadScheduler(resourceCache, cfg.Cache.Preload.Debounce, c.logger)
	c.views = pagination.NewRegistry()

	mc, err := memmon.ConfigFrom(cfg.Monitoring.Memory)
	if err != nil {
		c.teardown()
		return nil, errors.Wrap(errors.ErrCodeInvalidConfig, "invalid memory monitor config", err)
	}
	mc.Sampler = opts.Sampler
	mc.OnCritical = c.ClearCaches
	mc.Logger = c.logger
	mc.Metrics = c.metrics
	c.memory, err = memmon.NewMemoryMonitor(mc)
	if err != nil {
		c.teardown()
		return nil, err
	}

	pc := perfmon.ConfigFrom(cfg.Monitoring.Performance, resourceCache)
	pc.Logger = c.logger
	pc.Metrics = c.metrics
	c.performance = perfmon.NewMonitor(pc)

	if cfg.Monitoring.Debug.Enabled {
		sc := api.ConfigFrom(cfg.Monitoring.Debug)
		sc.Logger = c.logger
		if c.collector != nil && c.collector.Enabled() {
			sc.MetricsHandler = c.collector.Handler()
		}
		c.debugAPI = api.NewServer(sc, c)
	}

	c.cachingEnabled.Store(cfg.Cache.Enabled)
	c.cache.SetEnabled(cfg.Cache.Enabled)
	c.preloadingEnabled.Store(cfg.Cache.Preload.Enabled)
	c.monitoringEnabled.Store(cfg.Monitoring.Enabled)

	c.log.Info("Coordinator created", map[string]interface{}{
		"store":      cfg.Store.Type,
		"capacity":   cfg.Cache.Capacity,
		"caching":    cfg.Cache.Enabled,
		"preloading": cfg.Cache.Preload.Enabled,
		"monitoring": cfg.Monitoring.Enabled,
	})
	return c, nil
}

// Start starts the monitors when monitoring is enabled, the metrics endpoint and the debug API.
func (c *Coordinator) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.stopped {
		return errors.NewError(errors.ErrCodeComponentStopped, "coordinator stopped").
			WithComponent("coordinator")
	}
	if c.started {
		return errors.NewError(errors.ErrCodeAlreadyStarted, "coordinator already started").
			WithComponent("coordinator")
	}

	runCtx, cancel := context.WithCancel(context.Background())
	if c.monitoringEnabled.Load() {
		if err := c.memory.Start(runCtx); err != nil {
			cancel()
			return err
		}
		if err := c.performance.Start(runCtx); err != nil {
			cancel()
			_ = c.memory.Stop()
			return err
		}
	}
	if c.collector != nil {
		if err := c.collector.Start(ctx); err != nil {
			c.log.Warn("Metrics endpoint unavailable", map[string]interface{}{"error": err.Error()})
		}
	}
	if c.debugAPI != nil {
		if err := c.debugAPI.Start(ctx); err != nil {
			c.log.Warn("Debug API unavailable", map[string]interface{}{"error": err.Error()})
		}
	}

	c.cancel = cancel
	c.started = true
	c.log.Info("Coordinator started")
	return nil
}

// Stop closes every view, stops the monitors and servers, and shuts the dispatch loop down.
// Calls after the first return the first result.
func (c *Coordinator) Stop(ctx context.Context) error {
	c.stopOnce.Do(func() {
		c.mu.Lock()
		c.stopped = true
		cancel := c.cancel
		c.mu.Unlock()

		var errs []error
		if c.debugAPI != nil {
			if err := c.debugAPI.Shutdown(ctx); err != nil {
				errs = append(errs, err)
			}
		}
		if c.collector != nil {
			if err := c.collector.Stop(ctx); err != nil {
				errs = append(errs, err)
			}
		}
		_ = c.memory.Stop()
		_ = c.performance.Stop()
		if cancel != nil {
			cancel()
		}

		c.teardown()
		c.log.Info("Coordinator stopped")
		c.closeLog()

		if len(errs) > 0 {
			c.stopErr = errors.Wrap(errors.ErrCodeCleanupFailed, "coordinator stop incomplete", errs[0]).
				WithComponent("coordinator").
				WithDetail("failures", len(errs))
		}
	})
	return c.stopErr
}

func (c *Coordinator) teardown() {
	c.views.CloseAll()
	c.preloader.Stop()
	c.cache.Close()
	c.loop.Close()
}

func (c *Coordinator) closeLog() {
	if c.closer != nil {
		_ = c.closer.Close()
		c.closer = nil
	}
}

// Config returns the configuration the coordinator was built with.
func (c *Coordinator) Config() *config.Configuration {
	return c.config
}

// Logger returns the coordinator's logger.
func (c *Coordinator) Logger() *utils.StructuredLogger {
	return c.logger
}

// SetCachingEnabled toggles storing loaded resources. Lookups keep working when disabled.
func (c *Coordinator) SetCachingEnabled(enabled bool) {
	c.cachingEnabled.Store(enabled)
	c.cache.SetEnabled(enabled)
}

// CachingEnabled reports the caching flag.
func (c *Coordinator) CachingEnabled() bool {
	return c.cachingEnabled.Load()
}

// SetPreloadingEnabled toggles Preload and SchedulePreload.
func (c *Coordinator) SetPreloadingEnabled(enabled bool) {
	c.preloadingEnabled.Store(enabled)
}

// PreloadingEnabled reports the preloading flag.
func (c *Coordinator) PreloadingEnabled() bool {
	return c.preloadingEnabled.Load()
}

// SetMonitoringEnabled toggles the pressure cleanup and frame recording. Whether the monitors
// sample at all is decided once, at Start.
func (c *Coordinator) SetMonitoringEnabled(enabled bool) {
	c.monitoringEnabled.Store(enabled)
}

// MonitoringEnabled reports the monitoring flag.
func (c *Coordinator) MonitoringEnabled() bool {
	return c.monitoringEnabled.Load()
}

// Resource returns the resource for (name, kind, scope), loading it on a miss. Missing and
// failed resources both return false; use LoadResource to tell them apart.
func (c *Coordinator) Resource(ctx context.Context, name string, kind types.ResourceKind, scope types.ScopeID) (*types.Resource, bool) {
	return c.cache.Get(ctx, types.NewCacheKey(name, kind, scope))
}

// LoadResource is Resource with an explicit outcome.
func (c *Coordinator) LoadResource(ctx context.Context, name string, kind types.ResourceKind, scope types.ScopeID) types.LoadOutcome {
	return c.cache.Load(ctx, types.NewCacheKey(name, kind, scope))
}

// Preload loads names ahead of need and waits for it. It is a no-op while preloading is disabled.
func (c *Coordinator) Preload(ctx context.Context, names []string, scope types.ScopeID) cache.PreloadReport {
	if !c.preloadingEnabled.Load() {
		return cache.PreloadReport{Requested: len(names), Skipped: len(names)}
	}
	return c.preloader.Preload(ctx, names, scope)
}

// SchedulePreload preloads names after the configured debounce delay, replacing any request for
// scope still waiting. It returns false when preloading is disabled or the coordinator stopped.
func (c *Coordinator) SchedulePreload(names []string, scope types.ScopeID) bool {
	if !c.preloadingEnabled.Load() {
		return false
	}
	return c.preloader.Schedule(names, scope)
}

// RemoveView closes and unregisters a view.
func (c *Coordinator) RemoveView(id string) error {
	return c.views.Remove(id)
}

// ViewIDs lists the registered views.
func (c *Coordinator) ViewIDs() []string {
	return c.views.IDs()
}

// OnItemAppeared reports that item i of a view became visible. It returns true when a load
// started.
func (c *Coordinator) OnItemAppeared(ctx context.Context, viewID string, i int) (bool, error) {
	return c.views.OnItemAppeared(ctx, viewID, i)
}

// VisibleWindow returns the materialized range of a view.
func (c *Coordinator) VisibleWindow(ctx context.Context, viewID string) (types.Range, error) {
	return c.views.VisibleWindow(ctx, viewID)
}

// CacheStats returns the resource cache statistics.
func (c *Coordinator) CacheStats(ctx context.Context) (types.CacheStatistics, error) {
	return c.cache.Stats(ctx)
}

// MemoryStats returns the latest memory reading.
func (c *Coordinator) MemoryStats() types.MemoryStats {
	return c.memory.GetStats()
}

// MemoryAlerts returns recorded pressure changes, oldest first.
func (c *Coordinator) MemoryAlerts() []memmon.PressureAlert {
	return c.memory.GetAlerts()
}

// PerformanceStats returns the latest frame rate and hit ratio reading.
func (c *Coordinator) PerformanceStats() types.PerformanceStats {
	return c.performance.GetStats()
}

// RecordFrame counts a rendered frame. Ignored while monitoring is disabled.
func (c *Coordinator) RecordFrame() {
	if c.monitoringEnabled.Load() {
		c.performance.RecordFrame()
	}
}

// StoreState returns the backing store breaker state, or "" when the store is not guarded.
func (c *Coordinator) StoreState() string {
	if guarded, ok := c.store.(*storage.GuardedStore); ok {
		return guarded.State().String()
	}
	return ""
}

// StoreStats returns the request counters of the backing store, if it keeps any.
func (c *Coordinator) StoreStats() (types.StoreStats, bool) {
	store := c.store
	if guarded, ok := store.(*storage.GuardedStore); ok {
		store = guarded.Unwrap()
	}
	if reporter, ok := store.(types.StatsReporter); ok {
		return reporter.StoreStats(), true
	}
	return types.StoreStats{}, false
}

// ClearAllCaches drops every cached resource and bundle and the preloaded-name set.
func (c *Coordinator) ClearAllCaches(ctx context.Context) error {
	if err := c.cache.ClearAll(ctx); err != nil {
		return err
	}
	c.log.Info("All caches cleared")
	return nil
}

// OptimizeAllCaches runs each cache's optimize pass.
func (c *Coordinator) OptimizeAllCaches(ctx context.Context) (cache.OptimizeReport, error) {
	return c.cache.Optimize(ctx)
}

// ClearCaches is the critical memory pressure hook. It clears every cache and returns freed
// memory to the OS. While monitoring is disabled it does nothing and returns CLEANUP_SKIPPED.
func (c *Coordinator) ClearCaches(ctx context.Context) error {
	if !c.monitoringEnabled.Load() {
		return errors.NewError(errors.ErrCodeCleanupSkipped, "monitoring disabled").
			WithComponent("coordinator")
	}

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := c.cache.ClearAll(ctx); err != nil {
		return err
	}
	debug.FreeOSMemory()
	c.log.Warn("Caches cleared under memory pressure")
	return nil
}

var _ api.Backend = (*Coordinator)(nil)
