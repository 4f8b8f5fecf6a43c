package types

import (
	"context"
	"time"
)

// Store is a read-only backing store for resources. Paths are slash separated and relative to the
// scope. Fetch returns a RESOURCE_NOT_FOUND error from pkg/errors when path does not exist.
type Store interface {
	Fetch(ctx context.Context, scope ScopeID, path string) ([]byte, error)
	List(ctx context.Context, scope ScopeID, dir string) ([]string, error)
}

// StoreStats are request counters of a remote backing store.
type StoreStats struct {
	Requests        int64         `json:"requests"`
	Errors          int64         `json:"errors"`
	NotFound        int64         `json:"not_found"`
	Retries         int64         `json:"retries"`
	BytesDownloaded int64         `json:"bytes_downloaded"`
	AverageLatency  time.Duration `json:"average_latency"`
	LastError       string        `json:"last_error,omitempty"`
	LastErrorTime   time.Time     `json:"last_error_time,omitempty"`
}

// StatsReporter is implemented by stores that count their requests.
type StatsReporter interface {
	StoreStats() StoreStats
}

// HitCounter exposes cumulative cache lookup counters
type HitCounter interface {
	Counts() (hits, misses uint64)
}

// MetricsCollector defines the metrics collection interface
type MetricsCollector interface {
	RecordCacheRequest(kind ResourceKind, outcome OutcomeKind)
	RecordLoadError(kind ResourceKind)
	RecordLoadDuration(kind ResourceKind, d time.Duration)
	SetCacheStats(stats CacheStatistics)
	RecordCacheClear(target string)
	RecordPreload(requested, loaded int)
	RecordPaginationBatch(view string, items int)
	SetMemory(resident uint64, level PressureLevel)
	RecordPressureCleanup()
	SetPerformance(stats PerformanceStats)
}

// NoopMetrics discards everything.
type NoopMetrics struct{}

func (NoopMetrics) RecordCacheRequest(ResourceKind, OutcomeKind)   {}
func (NoopMetrics) RecordLoadError(ResourceKind)                   {}
func (NoopMetrics) RecordLoadDuration(ResourceKind, time.Duration) {}
func (NoopMetrics) SetCacheStats(CacheStatistics)                  {}
func (NoopMetrics) RecordCacheClear(string)                        {}
func (NoopMetrics) RecordPreload(int, int)                         {}
func (NoopMetrics) RecordPaginationBatch(string, int)              {}
func (NoopMetrics) SetMemory(uint64, PressureLevel)                {}
func (NoopMetrics) RecordPressureCleanup()                         {}
func (NoopMetrics) SetPerformance(PerformanceStats)                {}
