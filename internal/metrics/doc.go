/*
Package metrics exports viewkit runtime metrics in the Prometheus format.

Collector implements types.MetricsCollector. Every component receives it through its
configuration and reports cache lookups, loads, clears, preload batches, pagination batches,
memory samples and frame-rate readings. A disabled collector accepts the same calls and
records nothing, so components never need a nil check.

Metrics are grouped by subsystem under the configured namespace:

	<ns>_cache_requests_total{kind,result}
	<ns>_cache_load_errors_total{kind}
	<ns>_cache_load_duration_seconds{kind}
	<ns>_cache_entries{kind}
	<ns>_cache_utilization_ratio
	<ns>_cache_hit_ratio
	<ns>_cache_clears_total{target}
	<ns>_preload_requested_total
	<ns>_preload_loaded_total
	<ns>_pagination_batches_total{view}
	<ns>_pagination_items_total{view}
	<ns>_memory_resident_bytes
	<ns>_memory_pressure_level
	<ns>_memory_pressure_cleanups_total
	<ns>_performance_frames_per_second
	<ns>_performance_cache_hit_ratio

Start serves the registry on the configured port together with a /health endpoint. When no
port is configured, Handler can be mounted on an existing mux instead.
*/
package metrics
