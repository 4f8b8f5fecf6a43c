// Package perfmon samples frame rate and cache hit ratio for observability. It never feeds back
// into cache behaviour.
package perfmon

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/viewkit/viewkit/internal/config"
	"github.com/viewkit/viewkit/pkg/errors"
	"github.com/viewkit/viewkit/pkg/types"
	"github.com/viewkit/viewkit/pkg/utils"
)

// Config configures a Monitor.
type Config struct {
	SampleInterval time.Duration
	MaxHistory     int

	// Counter supplies cache hits and misses. Optional.
	Counter types.HitCounter

	Logger  *utils.StructuredLogger
	Metrics types.MetricsCollector
}

// ConfigFrom converts the file configuration.
func ConfigFrom(cfg config.PerformanceConfig, counter types.HitCounter) Config {
	return Config{
		SampleInterval: cfg.SampleInterval,
		MaxHistory:     cfg.MaxHistory,
		Counter:        counter,
	}
}

// Monitor turns frame notifications and cache counters into periodic readings.
type Monitor struct {
	config  Config
	logger  *utils.StructuredLogger
	metrics types.MetricsCollector

	frames atomic.Uint64

	mu         sync.RWMutex
	history    []types.PerformanceStats
	latest     types.PerformanceStats
	lastTick   time.Time
	lastFrames uint64

	stopCh chan struct{}
	wg     sync.WaitGroup
	active int32
}

// NewMonitor creates a monitor. Nothing is sampled until Start.
func NewMonitor(cfg Config) *Monitor {
	if cfg.SampleInterval <= 0 {
		cfg.SampleInterval = time.Second
	}
	if cfg.MaxHistory <= 0 {
		cfg.MaxHistory = 300
	}
	if cfg.Logger == nil {
		cfg.Logger = utils.NewNopLogger()
	}
	if cfg.Metrics == nil {
		cfg.Metrics = types.NoopMetrics{}
	}
	return &Monitor{
		config:   cfg,
		logger:   cfg.Logger.WithComponent("performance-monitor"),
		metrics:  cfg.Metrics,
		history:  make([]types.PerformanceStats, 0, cfg.MaxHistory),
		lastTick: time.Now(),
		stopCh:   make(chan struct{}),
	}
}

// RecordFrame counts one rendered frame.
func (m *Monitor) RecordFrame() {
	m.frames.Add(1)
}

// RecordFrames counts n rendered frames.
func (m *Monitor) RecordFrames(n int) {
	if n > 0 {
		m.frames.Add(uint64(n))
	}
}

// Frames returns the total frames recorded.
func (m *Monitor) Frames() uint64 {
	return m.frames.Load()
}

// Start begins periodic sampling.
func (m *Monitor) Start(ctx context.Context) error {
	if !atomic.CompareAndSwapInt32(&m.active, 0, 1) {
		return errors.NewError(errors.ErrCodeAlreadyStarted, "performance monitor already running").
			WithComponent("performance-monitor")
	}

	m.mu.Lock()
	m.lastTick = time.Now()
	m.lastFrames = m.frames.Load()
	m.mu.Unlock()

	m.logger.Info("Starting performance monitor", map[string]interface{}{
		"sample_interval": m.config.SampleInterval.String(),
	})

	m.wg.Add(1)
	go m.sampleLoop(ctx)
	return nil
}

// Stop stops sampling.
func (m *Monitor) Stop() error {
	if !atomic.CompareAndSwapInt32(&m.active, 1, 2) {
		return nil
	}
	close(m.stopCh)
	m.wg.Wait()
	m.logger.Info("Stopped performance monitor")
	return nil
}

func (m *Monitor) sampleLoop(ctx context.Context) {
	defer m.wg.Done()

	ticker := time.NewTicker(m.config.SampleInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-m.stopCh:
			return
		case now := <-ticker.C:
			m.sample(now)
		}
	}
}

func (m *Monitor) sample(now time.Time) types.PerformanceStats {
	frames := m.frames.Load()

	m.mu.Lock()
	elapsed := now.Sub(m.lastTick)
	stats := types.PerformanceStats{
		Timestamp:    now,
		CacheHitRate: m.hitRate(),
	}
	if elapsed > 0 {
		stats.FPS = float64(frames-m.lastFrames) / elapsed.Seconds()
	}
	m.lastTick = now
	m.lastFrames = frames
	m.latest = stats

	m.history = append(m.history, stats)
	if len(m.history) > m.config.MaxHistory {
		m.history = append(m.history[:0], m.history[len(m.history)-m.config.MaxHistory:]...)
	}
	m.mu.Unlock()

	m.metrics.SetPerformance(stats)
	return stats
}

func (m *Monitor) hitRate() float64 {
	if m.config.Counter == nil {
		return 0
	}
	hits, misses := m.config.Counter.Counts()
	if total := hits + misses; total > 0 {
		return float64(hits) / float64(total)
	}
	return 0
}

// GetStats returns the latest reading. Before the first tick only CacheHitRate is filled in.
func (m *Monitor) GetStats() types.PerformanceStats {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.latest.Timestamp.IsZero() {
		return types.PerformanceStats{Timestamp: time.Now(), CacheHitRate: m.hitRate()}
	}
	return m.latest
}

// GetHistory returns past readings, oldest first.
func (m *Monitor) GetHistory() []types.PerformanceStats {
	m.mu.RLock()
	defer m.mu.RUnlock()

	history := make([]types.PerformanceStats, len(m.history))
	copy(history, m.history)
	return history
}
