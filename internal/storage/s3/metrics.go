package s3

import (
	"sync"
	"time"

	"github.com/viewkit/viewkit/pkg/types"
)

// StoreMetrics tracks S3 store request metrics
type StoreMetrics = types.StoreStats

// MetricsCollector aggregates StoreMetrics
type MetricsCollector struct {
	mu      sync.RWMutex
	metrics StoreMetrics
}

// NewMetricsCollector creates a new metrics collector
func NewMetricsCollector() *MetricsCollector {
	return &MetricsCollector{}
}

// RecordRequest records one request with its latency
func (mc *MetricsCollector) RecordRequest(duration time.Duration, isError bool) {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	mc.metrics.Requests++
	if isError {
		mc.metrics.Errors++
	}

	// Rolling average latency
	if mc.metrics.Requests == 1 {
		mc.metrics.AverageLatency = duration
	} else {
		mc.metrics.AverageLatency = time.Duration(
			(int64(mc.metrics.AverageLatency)*9 + int64(duration)) / 10,
		)
	}
}

// RecordError records the most recent error
func (mc *MetricsCollector) RecordError(err error) {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	mc.metrics.LastError = err.Error()
	mc.metrics.LastErrorTime = time.Now()
}

// RecordNotFound counts lookups for missing keys. These are not errors.
func (mc *MetricsCollector) RecordNotFound() {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	mc.metrics.NotFound++
}

// RecordRetry counts a retried request
func (mc *MetricsCollector) RecordRetry() {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	mc.metrics.Retries++
}

// RecordBytesDownloaded records downloaded bytes
func (mc *MetricsCollector) RecordBytesDownloaded(bytes int64) {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	mc.metrics.BytesDownloaded += bytes
}

// GetMetrics returns current store metrics
func (mc *MetricsCollector) GetMetrics() StoreMetrics {
	mc.mu.RLock()
	defer mc.mu.RUnlock()
	return mc.metrics
}

// GetErrorRate calculates the current error rate
func (mc *MetricsCollector) GetErrorRate() float64 {
	mc.mu.RLock()
	defer mc.mu.RUnlock()

	if mc.metrics.Requests == 0 {
		return 0
	}
	return float64(mc.metrics.Errors) / float64(mc.metrics.Requests)
}
