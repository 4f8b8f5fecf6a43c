package types

import (
	"fmt"
	"image"
	"image/color"
	"strings"
	"time"

	"golang.org/x/image/font/opentype"

	"github.com/viewkit/viewkit/internal/config"
)

// ResourceKind identifies what a resource name resolves to
type ResourceKind int

const (
	KindImage ResourceKind = iota
	KindColor
	KindFont
	KindBundle
)

// AllKinds lists every resource kind in declaration order.
var AllKinds = []ResourceKind{KindImage, KindColor, KindFont, KindBundle}

// String returns the lowercase kind name
func (k ResourceKind) String() string {
	switch k {
	case KindImage:
		return "image"
	case KindColor:
		return "color"
	case KindFont:
		return "font"
	case KindBundle:
		return "bundle"
	default:
		return "unknown"
	}
}

// ParseResourceKind parses "image", "color", "font" or "bundle".
func ParseResourceKind(s string) (ResourceKind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "image":
		return KindImage, nil
	case "color":
		return KindColor, nil
	case "font":
		return KindFont, nil
	case "bundle":
		return KindBundle, nil
	default:
		return 0, fmt.Errorf("unknown resource kind: %q", s)
	}
}

// ScopeID names the bundle or source a resource is resolved within. The empty scope is the default.
type ScopeID string

// DefaultScope is the scope used when none is given.
const DefaultScope ScopeID = ""

// CacheKey identifies one cache slot. It is comparable and used directly as a map key.
type CacheKey struct {
	Name  string       `json:"name"`
	Kind  ResourceKind `json:"kind"`
	Scope ScopeID      `json:"scope,omitempty"`
}

// NewCacheKey builds a key.
func NewCacheKey(name string, kind ResourceKind, scope ScopeID) CacheKey {
	return CacheKey{Name: name, Kind: kind, Scope: scope}
}

func (k CacheKey) String() string {
	if k.Scope == DefaultScope {
		return fmt.Sprintf("%s:%s", k.Kind, k.Name)
	}
	return fmt.Sprintf("%s:%s/%s", k.Kind, k.Scope, k.Name)
}

// Bundle is the handle loaded for KindBundle.
type Bundle struct {
	ID      string   `json:"id"`
	Scope   ScopeID  `json:"scope,omitempty"`
	Entries []string `json:"entries"`
}

// Resource is a loaded cache entry. It is shared between callers and must not be mutated.
type Resource struct {
	Key      CacheKey
	Value    interface{}
	Size     int64
	LoadedAt time.Time
}

// Image returns the decoded image, or nil if the resource is not an image.
func (r *Resource) Image() image.Image {
	if r == nil {
		return nil
	}
	img, _ := r.Value.(image.Image)
	return img
}

// Color returns the parsed color and whether the resource is a color.
func (r *Resource) Color() (color.NRGBA, bool) {
	if r == nil {
		return color.NRGBA{}, false
	}
	c, ok := r.Value.(color.NRGBA)
	return c, ok
}

// Font returns the parsed font, or nil.
func (r *Resource) Font() *opentype.Font {
	if r == nil {
		return nil
	}
	f, _ := r.Value.(*opentype.Font)
	return f
}

// Bundle returns the bundle handle, or nil.
func (r *Resource) Bundle() *Bundle {
	if r == nil {
		return nil
	}
	b, _ := r.Value.(*Bundle)
	return b
}

// OutcomeKind classifies the result of a cache load
type OutcomeKind int

const (
	// OutcomeHit means the resource was already cached.
	OutcomeHit OutcomeKind = iota
	// OutcomeLoaded means the resource was loaded from the backing store.
	OutcomeLoaded
	// OutcomeMiss means the resource is unavailable. Err is nil when it simply does not exist.
	OutcomeMiss
	// OutcomeCanceled means the caller went away before the load finished.
	OutcomeCanceled
)

func (o OutcomeKind) String() string {
	switch o {
	case OutcomeHit:
		return "hit"
	case OutcomeLoaded:
		return "loaded"
	case OutcomeMiss:
		return "miss"
	case OutcomeCanceled:
		return "canceled"
	default:
		return "unknown"
	}
}

// LoadOutcome is the explicit result of a cache lookup.
type LoadOutcome struct {
	Kind     OutcomeKind
	Resource *Resource
	Err      error
}

// OK reports whether a resource is available.
func (o LoadOutcome) OK() bool {
	return o.Resource != nil && (o.Kind == OutcomeHit || o.Kind == OutcomeLoaded)
}

// Failed reports whether the miss was caused by an I/O or decode failure.
func (o LoadOutcome) Failed() bool {
	return o.Kind == OutcomeMiss && o.Err != nil
}

// CacheStatistics is a read-only snapshot of cache contents.
type CacheStatistics struct {
	Images          int     `json:"images"`
	Colors          int     `json:"colors"`
	Fonts           int     `json:"fonts"`
	Bundles         int     `json:"bundles"`
	ResourceEntries int     `json:"resource_entries"`
	PreloadedNames  int     `json:"preloaded_names"`
	Capacity        int     `json:"capacity"`
	Utilization     float64 `json:"utilization"`
	Hits            uint64  `json:"hits"`
	Misses          uint64  `json:"misses"`
	LoadErrors      uint64  `json:"load_errors"`
	HitRate         float64 `json:"hit_rate"`
}

// TotalEntries counts resource and bundle entries.
func (s CacheStatistics) TotalEntries() int {
	return s.ResourceEntries + s.Bundles
}

// MemorySample is one resident memory reading.
type MemorySample struct {
	Timestamp     time.Time `json:"timestamp"`
	ResidentBytes uint64    `json:"resident_bytes"`
}

// PressureLevel is a coarse classification of memory use relative to a ceiling.
type PressureLevel int

const (
	PressureNormal PressureLevel = iota
	PressureWarning
	PressureCritical
)

func (p PressureLevel) String() string {
	switch p {
	case PressureNormal:
		return "normal"
	case PressureWarning:
		return "warning"
	case PressureCritical:
		return "critical"
	default:
		return "unknown"
	}
}

// Default pressure thresholds as fractions of the ceiling.
const (
	DefaultWarningRatio  = 0.8
	DefaultCriticalRatio = 0.9
)

// ClassifyPressure classifies resident against ceiling with the default thresholds.
func ClassifyPressure(resident, ceiling uint64) PressureLevel {
	return ClassifyPressureWith(resident, ceiling, DefaultWarningRatio, DefaultCriticalRatio)
}

// ClassifyPressureWith classifies resident against ceiling. A zero ceiling is always critical.
func ClassifyPressureWith(resident, ceiling uint64, warning, critical float64) PressureLevel {
	if ceiling == 0 {
		return PressureCritical
	}
	ratio := float64(resident) / float64(ceiling)
	switch {
	case ratio >= critical:
		return PressureCritical
	case ratio >= warning:
		return PressureWarning
	default:
		return PressureNormal
	}
}

// MemoryStats is the latest sample plus its classification.
type MemoryStats struct {
	Latest        MemorySample  `json:"latest"`
	Level         PressureLevel `json:"level"`
	CeilingBytes  uint64        `json:"ceiling_bytes"`
	Ratio         float64       `json:"ratio"`
	SampleCount   int           `json:"sample_count"`
	PeakResident  uint64        `json:"peak_resident"`
	CleanupsFired uint64        `json:"cleanups_fired"`
}

// PerformanceStats is a frame rate and cache hit ratio reading.
type PerformanceStats struct {
	Timestamp    time.Time `json:"timestamp"`
	FPS          float64   `json:"fps"`
	CacheHitRate float64   `json:"cache_hit_rate"`
}

// Range is a half-open index interval [Start, End).
type Range struct {
	Start int `json:"start"`
	End   int `json:"end"`
}

// Len returns the number of indices covered.
func (r Range) Len() int {
	if r.End < r.Start {
		return 0
	}
	return r.End - r.Start
}

// Contains reports whether i lies in the range.
func (r Range) Contains(i int) bool {
	return i >= r.Start && i < r.End
}

// Configuration type aliases. These types are defined in internal/config and re-exported here
// so callers outside the module can build configurations.
type (
	Configuration     = config.Configuration
	GlobalConfig      = config.GlobalConfig
	CacheConfig       = config.CacheConfig
	PreloadConfig     = config.PreloadConfig
	PaginationConfig  = config.PaginationConfig
	MonitoringConfig  = config.MonitoringConfig
	MemoryConfig      = config.MemoryConfig
	PerformanceConfig = config.PerformanceConfig
	MetricsConfig     = config.MetricsConfig
	DebugConfig       = config.DebugConfig
	StoreConfig       = config.StoreConfig
	DirectoryConfig   = config.DirectoryConfig
	S3Config          = config.S3Config
	RetryConfig       = config.RetryConfig
	BreakerConfig     = config.BreakerConfig
)
