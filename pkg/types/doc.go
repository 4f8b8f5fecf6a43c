/*
Package types defines the data model and interfaces shared across viewkit.

# Resources

A resource is a named, typed asset resolved within a scope:

	key := types.NewCacheKey("icon.logo", types.KindImage, types.DefaultScope)

CacheKey is a comparable value, so identical (name, kind, scope) triples always resolve to the
same cache slot. The same name may exist under several kinds without collision.

A loaded Resource is shared by every caller of the cache. Typed accessors (Image, Color, Font,
Bundle) return zero values when the resource holds a different kind.

# Load Outcomes

LoadOutcome makes the result of a lookup explicit:

	OutcomeHit       served from the cache
	OutcomeLoaded    loaded from the backing store and stored
	OutcomeMiss      unavailable; Err is nil for "not found", non-nil for I/O or decode failures
	OutcomeCanceled  the caller's context ended first; nothing was stored

# Pressure

ClassifyPressure maps resident bytes against a ceiling onto PressureNormal (< 0.8),
PressureWarning ([0.8, 0.9)) and PressureCritical (>= 0.9).

# Interfaces

Store abstracts the read-only backing store (in-memory, directory or S3). HitCounter exposes
cache hit and miss counters to the performance monitor. MetricsCollector receives observations
from every component; NoopMetrics discards them.

Configuration types are re-exported from internal/config.
*/
package types
