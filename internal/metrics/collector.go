package metrics

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/viewkit/viewkit/internal/config"
	"github.com/viewkit/viewkit/pkg/errors"
	"github.com/viewkit/viewkit/pkg/types"
	"github.com/viewkit/viewkit/pkg/utils"
)

// Collector exports cache, pagination, memory and frame metrics through a Prometheus registry.
// It implements types.MetricsCollector.
type Collector struct {
	mu       sync.Mutex
	config   *Config
	registry *prometheus.Registry
	logger   *utils.StructuredLogger

	requestCounter    *prometheus.CounterVec
	loadErrorCounter  *prometheus.CounterVec
	loadDuration      *prometheus.HistogramVec
	cacheEntries      *prometheus.GaugeVec
	cacheUtilization  prometheus.Gauge
	cacheHitRatio     prometheus.Gauge
	clearCounter      *prometheus.CounterVec
	preloadRequested  prometheus.Counter
	preloadLoaded     prometheus.Counter
	paginationBatches *prometheus.CounterVec
	paginationItems   *prometheus.CounterVec
	residentBytes     prometheus.Gauge
	pressureLevel     prometheus.Gauge
	pressureCleanups  prometheus.Counter
	framesPerSecond   prometheus.Gauge
	frameHitRatio     prometheus.Gauge

	server   *http.Server
	listener net.Listener
}

// Config represents metrics configuration
type Config struct {
	Enabled   bool
	Port      int
	Path      string
	Namespace string

	// Logger defaults to a no-op logger.
	Logger *utils.StructuredLogger

	// ProcessMetrics adds the Go runtime and process collectors.
	ProcessMetrics bool
}

// ConfigFrom converts the file configuration.
func ConfigFrom(cfg config.MetricsConfig) *Config {
	return &Config{
		Enabled:        cfg.Enabled,
		Port:           cfg.Port,
		Path:           cfg.Path,
		Namespace:      cfg.Namespace,
		ProcessMetrics: true,
	}
}

var _ types.MetricsCollector = (*Collector)(nil)

// NewCollector creates a new metrics collector. A disabled collector accepts every call and
// records nothing.
func NewCollector(cfg *Config) (*Collector, error) {
	if cfg == nil {
		cfg = &Config{
			Enabled:   true,
			Path:      "/metrics",
			Namespace: "viewkit",
		}
	}
	if cfg.Path == "" {
		cfg.Path = "/metrics"
	}
	if cfg.Namespace == "" {
		cfg.Namespace = "viewkit"
	}
	if cfg.Logger == nil {
		cfg.Logger = utils.NewNopLogger()
	}

	c := &Collector{
		config: cfg,
		logger: cfg.Logger.WithComponent("metrics"),
	}
	if !cfg.Enabled {
		return c, nil
	}

	c.registry = prometheus.NewRegistry()
	c.initMetrics()

	if err := c.registerMetrics(); err != nil {
		return nil, errors.NewError(errors.ErrCodeInvalidConfig, "failed to register metrics").
			WithComponent("metrics").
			WithCause(err)
	}
	return c, nil
}

func (c *Collector) initMetrics() {
	ns := c.config.Namespace

	c.requestCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: ns,
		Subsystem: "cache",
		Name:      "requests_total",
		Help:      "Resource lookups by kind and outcome",
	}, []string{"kind", "result"})

	c.loadErrorCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: ns,
		Subsystem: "cache",
		Name:      "load_errors_total",
		Help:      "Backing store loads that failed",
	}, []string{"kind"})

	c.loadDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: ns,
		Subsystem: "cache",
		Name:      "load_duration_seconds",
		Help:      "Time spent fetching and decoding a resource",
		Buckets:   prometheus.ExponentialBuckets(0.0005, 2, 14),
	}, []string{"kind"})

	c.cacheEntries = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: ns,
		Subsystem: "cache",
		Name:      "entries",
		Help:      "Cached entries by kind",
	}, []string{"kind"})

	c.cacheUtilization = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: ns,
		Subsystem: "cache",
		Name:      "utilization_ratio",
		Help:      "Resource entries divided by capacity",
	})

	c.cacheHitRatio = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: ns,
		Subsystem: "cache",
		Name:      "hit_ratio",
		Help:      "Hits divided by hits plus misses",
	})

	c.clearCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: ns,
		Subsystem: "cache",
		Name:      "clears_total",
		Help:      "Cache clears by target",
	}, []string{"target"})

	c.preloadRequested = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: ns,
		Subsystem: "preload",
		Name:      "requested_total",
		Help:      "Names submitted for preloading",
	})

	c.preloadLoaded = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: ns,
		Subsystem: "preload",
		Name:      "loaded_total",
		Help:      "Resources loaded by preloading",
	})

	c.paginationBatches = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: ns,
		Subsystem: "pagination",
		Name:      "batches_total",
		Help:      "Batches appended per view",
	}, []string{"view"})

	c.paginationItems = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: ns,
		Subsystem: "pagination",
		Name:      "items_total",
		Help:      "Items appended per view",
	}, []string{"view"})

	c.residentBytes = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: ns,
		Subsystem: "memory",
		Name:      "resident_bytes",
		Help:      "Last sampled resident memory",
	})

	c.pressureLevel = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: ns,
		Subsystem: "memory",
		Name:      "pressure_level",
		Help:      "0 normal, 1 warning, 2 critical",
	})

	c.pressureCleanups = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: ns,
		Subsystem: "memory",
		Name:      "pressure_cleanups_total",
		Help:      "Cache clears triggered by critical memory pressure",
	})

	c.framesPerSecond = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: ns,
		Subsystem: "performance",
		Name:      "frames_per_second",
		Help:      "Frames recorded per second over the last sample interval",
	})

	c.frameHitRatio = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: ns,
		Subsystem: "performance",
		Name:      "cache_hit_ratio",
		Help:      "Cache hit ratio seen by the performance monitor",
	})
}

func (c *Collector) registerMetrics() error {
	metrics := []prometheus.Collector{
		c.requestCounter,
		c.loadErrorCounter,
		c.loadDuration,
		c.cacheEntries,
		c.cacheUtilization,
		c.cacheHitRatio,
		c.clearCounter,
		c.preloadRequested,
		c.preloadLoaded,
		c.paginationBatches,
		c.paginationItems,
		c.residentBytes,
		c.pressureLevel,
		c.pressureCleanups,
		c.framesPerSecond,
		c.frameHitRatio,
	}
	if c.config.ProcessMetrics {
		metrics = append(metrics,
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	}

	for _, metric := range metrics {
		if err := c.registry.Register(metric); err != nil {
			return err
		}
	}
	return nil
}

// Enabled reports whether observations are recorded.
func (c *Collector) Enabled() bool {
	return c.config.Enabled
}

// Registry returns the underlying registry, or nil when disabled.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// Handler returns the exposition handler. A disabled collector serves 404.
func (c *Collector) Handler() http.Handler {
	if !c.config.Enabled {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}

// Start serves the metrics endpoint on the configured port. It is a no-op when the collector is
// disabled or no port is configured; the handler can still be mounted elsewhere.
func (c *Collector) Start(ctx context.Context) error {
	if !c.config.Enabled || c.config.Port <= 0 {
		return nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.server != nil {
		return errors.NewError(errors.ErrCodeAlreadyStarted, "metrics server already running").
			WithComponent("metrics")
	}

	mux := http.NewServeMux()
	mux.Handle(c.config.Path, c.Handler())
	mux.HandleFunc("/health", c.healthHandler)

	var lc net.ListenConfig
	listener, err := lc.Listen(ctx, "tcp", fmt.Sprintf(":%d", c.config.Port))
	if err != nil {
		return errors.NewError(errors.ErrCodeConnectionFailed, "failed to listen for metrics").
			WithComponent("metrics").
			WithDetail("port", c.config.Port).
			WithCause(err)
	}

	c.listener = listener
	c.server = &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 30 * time.Second, // Prevent Slowloris attacks
		ReadTimeout:       60 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	server := c.server
	go func() {
		if err := server.Serve(listener); err != nil && err != http.ErrServerClosed {
			c.logger.Error("Metrics server error", map[string]interface{}{"error": err.Error()})
		}
	}()

	c.logger.Info("Metrics endpoint listening", map[string]interface{}{
		"addr": listener.Addr().String(),
		"path": c.config.Path,
	})
	return nil
}

// Addr returns the listening address, or "" when not serving.
func (c *Collector) Addr() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.listener == nil {
		return ""
	}
	return c.listener.Addr().String()
}

// Stop stops the metrics server
func (c *Collector) Stop(ctx context.Context) error {
	c.mu.Lock()
	server := c.server
	c.server = nil
	c.listener = nil
	c.mu.Unlock()

	if server != nil {
		return server.Shutdown(ctx)
	}
	return nil
}

// RecordCacheRequest counts one lookup.
func (c *Collector) RecordCacheRequest(kind types.ResourceKind, outcome types.OutcomeKind) {
	if !c.config.Enabled {
		return
	}
	c.requestCounter.With(prometheus.Labels{
		"kind":   kind.String(),
		"result": outcome.String(),
	}).Inc()
}

// RecordLoadError counts one failed load.
func (c *Collector) RecordLoadError(kind types.ResourceKind) {
	if !c.config.Enabled {
		return
	}
	c.loadErrorCounter.WithLabelValues(kind.String()).Inc()
}

// RecordLoadDuration observes one load.
func (c *Collector) RecordLoadDuration(kind types.ResourceKind, d time.Duration) {
	if !c.config.Enabled {
		return
	}
	c.loadDuration.WithLabelValues(kind.String()).Observe(d.Seconds())
}

// SetCacheStats publishes a cache snapshot.
func (c *Collector) SetCacheStats(stats types.CacheStatistics) {
	if !c.config.Enabled {
		return
	}
	c.cacheEntries.WithLabelValues(types.KindImage.String()).Set(float64(stats.Images))
	c.cacheEntries.WithLabelValues(types.KindColor.String()).Set(float64(stats.Colors))
	c.cacheEntries.WithLabelValues(types.KindFont.String()).Set(float64(stats.Fonts))
	c.cacheEntries.WithLabelValues(types.KindBundle.String()).Set(float64(stats.Bundles))
	c.cacheUtilization.Set(stats.Utilization)
	c.cacheHitRatio.Set(stats.HitRate)
}

// RecordCacheClear counts one clear of the given target.
func (c *Collector) RecordCacheClear(target string) {
	if !c.config.Enabled {
		return
	}
	c.clearCounter.WithLabelValues(target).Inc()
}

// RecordPreload counts one preload batch.
func (c *Collector) RecordPreload(requested, loaded int) {
	if !c.config.Enabled {
		return
	}
	if requested > 0 {
		c.preloadRequested.Add(float64(requested))
	}
	if loaded > 0 {
		c.preloadLoaded.Add(float64(loaded))
	}
}

// RecordPaginationBatch counts one appended batch.
func (c *Collector) RecordPaginationBatch(view string, items int) {
	if !c.config.Enabled {
		return
	}
	c.paginationBatches.WithLabelValues(view).Inc()
	if items > 0 {
		c.paginationItems.WithLabelValues(view).Add(float64(items))
	}
}

// SetMemory publishes the last memory sample.
func (c *Collector) SetMemory(resident uint64, level types.PressureLevel) {
	if !c.config.Enabled {
		return
	}
	c.residentBytes.Set(float64(resident))
	c.pressureLevel.Set(float64(level))
}

// RecordPressureCleanup counts one pressure-triggered clear.
func (c *Collector) RecordPressureCleanup() {
	if !c.config.Enabled {
		return
	}
	c.pressureCleanups.Inc()
}

// SetPerformance publishes the last performance reading.
func (c *Collector) SetPerformance(stats types.PerformanceStats) {
	if !c.config.Enabled {
		return
	}
	c.framesPerSecond.Set(stats.FPS)
	c.frameHitRatio.Set(stats.CacheHitRate)
}

func (c *Collector) healthHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"status":"healthy","service":"viewkit-metrics"}`)) // Ignore write error for health check
}
