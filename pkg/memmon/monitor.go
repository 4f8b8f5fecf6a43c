// Package memmon samples process memory, classifies it against a ceiling and runs a cleanup hook
// when pressure turns critical.
package memmon

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/viewkit/viewkit/internal/config"
	"github.com/viewkit/viewkit/pkg/errors"
	"github.com/viewkit/viewkit/pkg/types"
	"github.com/viewkit/viewkit/pkg/utils"
)

// MonitorConfig configures memory monitoring behavior
type MonitorConfig struct {
	// SampleInterval is how often to read resident memory
	SampleInterval time.Duration

	// Retention drops samples older than this
	Retention time.Duration

	// MaxSamples caps the history regardless of Retention
	MaxSamples int

	// CeilingBytes is the memory budget pressure is measured against
	CeilingBytes uint64

	WarningRatio  float64
	CriticalRatio float64

	// MaxAlerts caps the alert history
	MaxAlerts int

	// ProfileDir, when set, receives heap and goroutine profiles on every critical transition
	ProfileDir string

	// Sampler defaults to a ProcessSampler
	Sampler Sampler

	// OnCritical runs once each time pressure enters critical. Returning a CLEANUP_SKIPPED error
	// means nothing was done; it is not counted in CleanupsFired.
	OnCritical func(ctx context.Context) error

	Logger  *utils.StructuredLogger
	Metrics types.MetricsCollector
}

// DefaultMonitorConfig returns sensible defaults
func DefaultMonitorConfig() MonitorConfig {
	return MonitorConfig{
		SampleInterval: time.Second,
		Retention:      5 * time.Minute,
		MaxSamples:     300,
		CeilingBytes:   1 << 30,
		WarningRatio:   types.DefaultWarningRatio,
		CriticalRatio:  types.DefaultCriticalRatio,
		MaxAlerts:      100,
	}
}

// ConfigFrom converts the file configuration.
func ConfigFrom(cfg config.MemoryConfig) (MonitorConfig, error) {
	mc := DefaultMonitorConfig()
	if cfg.SampleInterval > 0 {
		mc.SampleInterval = cfg.SampleInterval
	}
	if cfg.Retention > 0 {
		mc.Retention = cfg.Retention
	}
	if cfg.MaxSamples > 0 {
		mc.MaxSamples = cfg.MaxSamples
	}
	if cfg.WarningRatio > 0 {
		mc.WarningRatio = cfg.WarningRatio
	}
	if cfg.CriticalRatio > 0 {
		mc.CriticalRatio = cfg.CriticalRatio
	}
	if cfg.MaxAlerts > 0 {
		mc.MaxAlerts = cfg.MaxAlerts
	}
	mc.ProfileDir = cfg.ProfileDir

	if cfg.Ceiling != "" {
		ceiling, err := cfg.CeilingBytes()
		if err != nil {
			return mc, err
		}
		mc.CeilingBytes = ceiling
	}
	return mc, nil
}

// PressureAlert records a change of pressure level.
type PressureAlert struct {
	Timestamp     time.Time           `json:"timestamp"`
	From          types.PressureLevel `json:"from"`
	To            types.PressureLevel `json:"to"`
	ResidentBytes uint64              `json:"resident_bytes"`
	CeilingBytes  uint64              `json:"ceiling_bytes"`
	Ratio         float64             `json:"ratio"`
	Message       string              `json:"message"`
}

// MemoryMonitor tracks resident memory and reacts to pressure changes
type MemoryMonitor struct {
	config   MonitorConfig
	logger   *utils.StructuredLogger
	metrics  types.MetricsCollector
	sampler  Sampler
	profiler *Profiler

	mu      sync.RWMutex
	samples []types.MemorySample
	level   types.PressureLevel
	peak    uint64
	alerts  []PressureAlert

	cleanups     atomic.Uint64
	sampleErrors atomic.Uint64

	stopCh chan struct{}
	wg     sync.WaitGroup
	active int32
}

// NewMemoryMonitor creates a new memory monitor
func NewMemoryMonitor(cfg MonitorConfig) (*MemoryMonitor, error) {
	defaults := DefaultMonitorConfig()
	if cfg.SampleInterval <= 0 {
		cfg.SampleInterval = defaults.SampleInterval
	}
	if cfg.MaxSamples <= 0 {
		cfg.MaxSamples = defaults.MaxSamples
	}
	if cfg.MaxAlerts <= 0 {
		cfg.MaxAlerts = defaults.MaxAlerts
	}
	if cfg.WarningRatio <= 0 {
		cfg.WarningRatio = defaults.WarningRatio
	}
	if cfg.CriticalRatio <= 0 {
		cfg.CriticalRatio = defaults.CriticalRatio
	}
	if cfg.WarningRatio > cfg.CriticalRatio {
		return nil, errors.Newf(errors.ErrCodeInvalidConfig, "warning ratio %.2f exceeds critical ratio %.2f",
			cfg.WarningRatio, cfg.CriticalRatio).WithComponent("memory-monitor")
	}
	if cfg.Sampler == nil {
		cfg.Sampler = NewProcessSampler()
	}
	if cfg.Logger == nil {
		cfg.Logger = utils.NewNopLogger()
	}
	if cfg.Metrics == nil {
		cfg.Metrics = types.NoopMetrics{}
	}

	mm := &MemoryMonitor{
		config:  cfg,
		logger:  cfg.Logger.WithComponent("memory-monitor"),
		metrics: cfg.Metrics,
		sampler: cfg.Sampler,
		samples: make([]types.MemorySample, 0, cfg.MaxSamples),
		alerts:  make([]PressureAlert, 0),
		stopCh:  make(chan struct{}),
	}

	if cfg.ProfileDir != "" {
		profiler, err := NewProfiler(cfg.ProfileDir)
		if err != nil {
			return nil, err
		}
		mm.profiler = profiler
	}
	return mm, nil
}

// Start begins memory monitoring
func (mm *MemoryMonitor) Start(ctx context.Context) error {
	if !atomic.CompareAndSwapInt32(&mm.active, 0, 1) {
		return errors.NewError(errors.ErrCodeAlreadyStarted, "memory monitor already running").
			WithComponent("memory-monitor")
	}

	mm.logger.Info("Starting memory monitor", map[string]interface{}{
		"sample_interval": mm.config.SampleInterval.String(),
		"ceiling_bytes":   mm.config.CeilingBytes,
	})

	mm.wg.Add(1)
	go mm.monitorLoop(ctx)

	return nil
}

// Stop stops memory monitoring and waits for an in-progress sample to finish.
func (mm *MemoryMonitor) Stop() error {
	if !atomic.CompareAndSwapInt32(&mm.active, 1, 2) {
		return nil
	}

	mm.logger.Info("Stopping memory monitor")
	close(mm.stopCh)
	mm.wg.Wait()

	return nil
}

func (mm *MemoryMonitor) monitorLoop(ctx context.Context) {
	defer mm.wg.Done()

	ticker := time.NewTicker(mm.config.SampleInterval)
	defer ticker.Stop()

	mm.takeSample(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-mm.stopCh:
			return
		case <-ticker.C:
			mm.takeSample(ctx)
		}
	}
}

// takeSample reads memory, records it and reacts to a level change. Sampler errors skip the tick.
func (mm *MemoryMonitor) takeSample(ctx context.Context) {
	resident, err := mm.sampler.Sample(ctx)
	if err != nil {
		mm.sampleErrors.Add(1)
		mm.logger.Warn("memory sample failed", map[string]interface{}{
			"error": err.Error(),
		})
		return
	}

	mm.record(ctx, types.MemorySample{Timestamp: time.Now(), ResidentBytes: resident})
}

func (mm *MemoryMonitor) record(ctx context.Context, sample types.MemorySample) {
	level := types.ClassifyPressureWith(sample.ResidentBytes, mm.config.CeilingBytes,
		mm.config.WarningRatio, mm.config.CriticalRatio)

	mm.mu.Lock()
	mm.samples = append(mm.samples, sample)
	mm.evictLocked(sample.Timestamp)
	if sample.ResidentBytes > mm.peak {
		mm.peak = sample.ResidentBytes
	}

	previous := mm.level
	mm.level = level
	if level != previous {
		mm.alertLocked(sample, previous, level)
	}
	mm.mu.Unlock()

	mm.metrics.SetMemory(sample.ResidentBytes, level)

	// Edge-triggered: only the transition into critical runs the hook.
	if level == types.PressureCritical && previous != types.PressureCritical {
		mm.onCritical(ctx, sample)
	}
}

func (mm *MemoryMonitor) evictLocked(now time.Time) {
	drop := 0
	if mm.config.Retention > 0 {
		cutoff := now.Add(-mm.config.Retention)
		for drop < len(mm.samples) && mm.samples[drop].Timestamp.Before(cutoff) {
			drop++
		}
	}
	if excess := len(mm.samples) - drop - mm.config.MaxSamples; excess > 0 {
		drop += excess
	}
	if drop > 0 {
		mm.samples = append(mm.samples[:0], mm.samples[drop:]...)
	}
}

// alertLocked records a level change (must be called with lock held)
func (mm *MemoryMonitor) alertLocked(sample types.MemorySample, from, to types.PressureLevel) {
	ratio := mm.ratio(sample.ResidentBytes)
	alert := PressureAlert{
		Timestamp:     sample.Timestamp,
		From:          from,
		To:            to,
		ResidentBytes: sample.ResidentBytes,
		CeilingBytes:  mm.config.CeilingBytes,
		Ratio:         ratio,
		Message: fmt.Sprintf("memory pressure %s -> %s (%d of %d bytes, %.1f%%)",
			from, to, sample.ResidentBytes, mm.config.CeilingBytes, ratio*100),
	}

	mm.alerts = append(mm.alerts, alert)
	if len(mm.alerts) > mm.config.MaxAlerts {
		mm.alerts = mm.alerts[len(mm.alerts)-mm.config.MaxAlerts:]
	}

	fields := map[string]interface{}{
		"from":     from.String(),
		"to":       to.String(),
		"resident": sample.ResidentBytes,
		"ceiling":  mm.config.CeilingBytes,
		"ratio":    ratio,
	}
	if to > from {
		mm.logger.Warn("Memory pressure increased", fields)
	} else {
		mm.logger.Info("Memory pressure decreased", fields)
	}
}

func (mm *MemoryMonitor) onCritical(ctx context.Context, sample types.MemorySample) {
	if mm.profiler != nil {
		paths, err := mm.profiler.WriteAllProfiles("critical")
		if err != nil {
			mm.logger.Warn("failed to write pressure profiles", map[string]interface{}{
				"error": err.Error(),
			})
		} else {
			mm.logger.Info("pressure profiles written", map[string]interface{}{
				"paths": paths,
			})
		}
	}

	if mm.config.OnCritical == nil {
		return
	}
	err := mm.runHook(ctx)
	if errors.HasCode(err, errors.ErrCodeCleanupSkipped) {
		mm.logger.Debug("critical pressure cleanup skipped", map[string]interface{}{
			"resident": sample.ResidentBytes,
		})
		return
	}

	// Failed cleanups still count: the hook ran.
	mm.cleanups.Add(1)
	mm.metrics.RecordPressureCleanup()
	if err != nil {
		mm.logger.Error("critical pressure cleanup failed", map[string]interface{}{
			"error":    err.Error(),
			"resident": sample.ResidentBytes,
		})
		return
	}
	mm.logger.Info("critical pressure cleanup ran", map[string]interface{}{
		"resident": sample.ResidentBytes,
	})
}

func (mm *MemoryMonitor) runHook(ctx context.Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.Newf(errors.ErrCodePanicRecovered, "pressure cleanup panicked: %v", r).
				WithComponent("memory-monitor").
				WithStack()
		}
	}()
	return mm.config.OnCritical(ctx)
}

func (mm *MemoryMonitor) ratio(resident uint64) float64 {
	if mm.config.CeilingBytes == 0 {
		return 0
	}
	return float64(resident) / float64(mm.config.CeilingBytes)
}

// GetStats returns current memory statistics
func (mm *MemoryMonitor) GetStats() types.MemoryStats {
	mm.mu.RLock()
	defer mm.mu.RUnlock()

	stats := types.MemoryStats{
		Level:         mm.level,
		CeilingBytes:  mm.config.CeilingBytes,
		SampleCount:   len(mm.samples),
		PeakResident:  mm.peak,
		CleanupsFired: mm.cleanups.Load(),
	}
	if n := len(mm.samples); n > 0 {
		stats.Latest = mm.samples[n-1]
		stats.Ratio = mm.ratio(stats.Latest.ResidentBytes)
	}
	return stats
}

// Level returns the pressure level of the latest sample.
func (mm *MemoryMonitor) Level() types.PressureLevel {
	mm.mu.RLock()
	defer mm.mu.RUnlock()
	return mm.level
}

// GetAlerts returns the recorded pressure changes, oldest first
func (mm *MemoryMonitor) GetAlerts() []PressureAlert {
	mm.mu.RLock()
	defer mm.mu.RUnlock()

	alerts := make([]PressureAlert, len(mm.alerts))
	copy(alerts, mm.alerts)
	return alerts
}

// GetSamples returns memory sample history
func (mm *MemoryMonitor) GetSamples() []types.MemorySample {
	mm.mu.RLock()
	defer mm.mu.RUnlock()

	samples := make([]types.MemorySample, len(mm.samples))
	copy(samples, mm.samples)
	return samples
}

// ClearAlerts clears all alerts
func (mm *MemoryMonitor) ClearAlerts() {
	mm.mu.Lock()
	defer mm.mu.Unlock()

	mm.alerts = make([]PressureAlert, 0)
}

// SampleErrors returns how many samples failed.
func (mm *MemoryMonitor) SampleErrors() uint64 {
	return mm.sampleErrors.Load()
}
