package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"gopkg.in/yaml.v2"

	"github.com/viewkit/viewkit/pkg/errors"
)

// Store types
const (
	StoreMemory    = "memory"
	StoreDirectory = "directory"
	StoreS3        = "s3"
)

// Configuration represents the complete library configuration
type Configuration struct {
	Global     GlobalConfig     `yaml:"global"`
	Cache      CacheConfig      `yaml:"cache"`
	Pagination PaginationConfig `yaml:"pagination"`
	Monitoring MonitoringConfig `yaml:"monitoring"`
	Store      StoreConfig      `yaml:"store"`
}

// GlobalConfig represents global settings
type GlobalConfig struct {
	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`
	LogFile   string `yaml:"log_file"`
	// LogMaxSize rotates LogFile once it would grow past this size ("10MB"). Empty disables rotation.
	LogMaxSize    string `yaml:"log_max_size"`
	LogMaxBackups int    `yaml:"log_max_backups"`
	LogCompress   bool   `yaml:"log_compress"`
}

// CacheConfig represents resource cache configuration
type CacheConfig struct {
	Enabled bool `yaml:"enabled"`
	// Capacity is the assumed entry ceiling used for the utilization ratio. It is not enforced.
	Capacity        int           `yaml:"capacity"`
	ImageExtensions []string      `yaml:"image_extensions"`
	FontExtensions  []string      `yaml:"font_extensions"`
	ColorExtension  string        `yaml:"color_extension"`
	Preload         PreloadConfig `yaml:"preload"`
}

// PreloadConfig represents preload settings
type PreloadConfig struct {
	Enabled     bool          `yaml:"enabled"`
	Kinds       []string      `yaml:"kinds"`
	Concurrency int           `yaml:"concurrency"`
	RateLimit   float64       `yaml:"rate_limit"`
	Burst       int           `yaml:"burst"`
	Debounce    time.Duration `yaml:"debounce"`
}

// PaginationConfig holds defaults for new paginated views
type PaginationConfig struct {
	BatchSize         int `yaml:"batch_size"`
	PrefetchThreshold int `yaml:"prefetch_threshold"`
}

// MonitoringConfig represents monitoring settings
type MonitoringConfig struct {
	Enabled     bool              `yaml:"enabled"`
	Memory      MemoryConfig      `yaml:"memory"`
	Performance PerformanceConfig `yaml:"performance"`
	Metrics     MetricsConfig     `yaml:"metrics"`
	Debug       DebugConfig       `yaml:"debug"`
}

// MemoryConfig represents memory monitor settings
type MemoryConfig struct {
	SampleInterval time.Duration `yaml:"sample_interval"`
	Retention      time.Duration `yaml:"retention"`
	MaxSamples     int           `yaml:"max_samples"`
	Ceiling        string        `yaml:"ceiling"`
	WarningRatio   float64       `yaml:"warning_ratio"`
	CriticalRatio  float64       `yaml:"critical_ratio"`
	MaxAlerts      int           `yaml:"max_alerts"`
	ProfileDir     string        `yaml:"profile_dir"`
}

// CeilingBytes parses Ceiling ("1GB", "512MiB", ...).
func (m MemoryConfig) CeilingBytes() (uint64, error) {
	return ParseSize(m.Ceiling)
}

// PerformanceConfig represents performance monitor settings
type PerformanceConfig struct {
	SampleInterval time.Duration `yaml:"sample_interval"`
	MaxHistory     int           `yaml:"max_history"`
}

// MetricsConfig represents Prometheus metrics settings
type MetricsConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Port      int    `yaml:"port"`
	Path      string `yaml:"path"`
	Namespace string `yaml:"namespace"`
}

// DebugConfig represents the debug HTTP API
type DebugConfig struct {
	Enabled bool   `yaml:"enabled"`
	Address string `yaml:"address"`
	// Pprof mounts net/http/pprof under /debug/pprof/.
	Pprof bool `yaml:"pprof"`
}

// StoreConfig selects and configures the backing store
type StoreConfig struct {
	Type      string          `yaml:"type"`
	Directory DirectoryConfig `yaml:"directory"`
	S3        S3Config        `yaml:"s3"`
	Breaker   BreakerConfig   `yaml:"breaker"`
}

// BreakerConfig guards the store with a circuit breaker
type BreakerConfig struct {
	Enabled          bool          `yaml:"enabled"`
	FailureThreshold uint32        `yaml:"failure_threshold"`
	Timeout          time.Duration `yaml:"timeout"`
}

// DirectoryConfig represents the directory store
type DirectoryConfig struct {
	Root string `yaml:"root"`
}

// S3Config represents the S3 store
type S3Config struct {
	Bucket          string      `yaml:"bucket"`
	Prefix          string      `yaml:"prefix"`
	Region          string      `yaml:"region"`
	Endpoint        string      `yaml:"endpoint"`
	AccessKeyID     string      `yaml:"access_key_id"`
	SecretAccessKey string      `yaml:"secret_access_key"`
	UsePathStyle    bool        `yaml:"use_path_style"`
	Retry           RetryConfig `yaml:"retry"`
}

// RetryConfig represents retry settings
type RetryConfig struct {
	MaxAttempts int           `yaml:"max_attempts"`
	BaseDelay   time.Duration `yaml:"base_delay"`
	MaxDelay    time.Duration `yaml:"max_delay"`
}

// NewDefault returns a configuration with sensible defaults
func NewDefault() *Configuration {
	return &Configuration{
		Global: GlobalConfig{
			LogLevel:      "INFO",
			LogFormat:     "text",
			LogMaxSize:    "10MB",
			LogMaxBackups: 3,
		},
		Cache: CacheConfig{
			Enabled:         true,
			Capacity:        500,
			ImageExtensions: []string{".png", ".jpg", ".jpeg", ".gif", ".webp", ".bmp"},
			FontExtensions:  []string{".ttf", ".otf"},
			ColorExtension:  ".color",
			Preload: PreloadConfig{
				Enabled:     true,
				Kinds:       []string{"image", "color"},
				Concurrency: 4,
				RateLimit:   0,
				Burst:       8,
				Debounce:    150 * time.Millisecond,
			},
		},
		Pagination: PaginationConfig{
			BatchSize:         20,
			PrefetchThreshold: 5,
		},
		Monitoring: MonitoringConfig{
			Enabled: true,
			Memory: MemoryConfig{
				SampleInterval: time.Second,
				Retention:      5 * time.Minute,
				MaxSamples:     300,
				Ceiling:        "1GB",
				WarningRatio:   0.8,
				CriticalRatio:  0.9,
				MaxAlerts:      100,
			},
			Performance: PerformanceConfig{
				SampleInterval: time.Second,
				MaxHistory:     300,
			},
			Metrics: MetricsConfig{
				Enabled:   false,
				Port:      0,
				Path:      "/metrics",
				Namespace: "viewkit",
			},
			Debug: DebugConfig{
				Enabled: false,
				Address: "localhost:6070",
				Pprof:   false,
			},
		},
		Store: StoreConfig{
			Type: StoreMemory,
			Breaker: BreakerConfig{
				Enabled:          true,
				FailureThreshold: 5,
				Timeout:          30 * time.Second,
			},
			S3: S3Config{
				Region: "us-east-1",
				Retry: RetryConfig{
					MaxAttempts: 3,
					BaseDelay:   100 * time.Millisecond,
					MaxDelay:    5 * time.Second,
				},
			},
		},
	}
}

// LoadFromFile loads configuration from a YAML file
func (c *Configuration) LoadFromFile(filename string) error {
	data, err := os.ReadFile(filename)
	if err != nil {
		return errors.Wrap(errors.ErrCodeConfigLoad, "failed to read config file", err).
			WithDetail("file", filename)
	}

	if err := yaml.Unmarshal(data, c); err != nil {
		return errors.Wrap(errors.ErrCodeConfigLoad, "failed to parse config file", err).
			WithDetail("file", filename)
	}

	return nil
}

// LoadFromEnv loads configuration from VIEWKIT_* environment variables. Malformed numeric values
// are reported rather than silently ignored.
func (c *Configuration) LoadFromEnv() error {
	// Global settings
	if val := os.Getenv("VIEWKIT_LOG_LEVEL"); val != "" {
		c.Global.LogLevel = strings.ToUpper(val)
	}
	if val := os.Getenv("VIEWKIT_LOG_FORMAT"); val != "" {
		c.Global.LogFormat = strings.ToLower(val)
	}
	if val := os.Getenv("VIEWKIT_LOG_FILE"); val != "" {
		c.Global.LogFile = val
	}

	// Cache settings
	if val := os.Getenv("VIEWKIT_CACHE_ENABLED"); val != "" {
		c.Cache.Enabled = parseBool(val)
	}
	if err := envInt("VIEWKIT_CACHE_CAPACITY", &c.Cache.Capacity); err != nil {
		return err
	}
	if val := os.Getenv("VIEWKIT_PRELOAD_ENABLED"); val != "" {
		c.Cache.Preload.Enabled = parseBool(val)
	}
	if err := envInt("VIEWKIT_PRELOAD_CONCURRENCY", &c.Cache.Preload.Concurrency); err != nil {
		return err
	}
	if err := envDuration("VIEWKIT_PRELOAD_DEBOUNCE", &c.Cache.Preload.Debounce); err != nil {
		return err
	}

	// Pagination
	if err := envInt("VIEWKIT_BATCH_SIZE", &c.Pagination.BatchSize); err != nil {
		return err
	}
	if err := envInt("VIEWKIT_PREFETCH_THRESHOLD", &c.Pagination.PrefetchThreshold); err != nil {
		return err
	}

	// Monitoring
	if val := os.Getenv("VIEWKIT_MONITORING_ENABLED"); val != "" {
		c.Monitoring.Enabled = parseBool(val)
	}
	if val := os.Getenv("VIEWKIT_MEMORY_CEILING"); val != "" {
		c.Monitoring.Memory.Ceiling = val
	}
	if err := envDuration("VIEWKIT_SAMPLE_INTERVAL", &c.Monitoring.Memory.SampleInterval); err != nil {
		return err
	}
	if err := envInt("VIEWKIT_METRICS_PORT", &c.Monitoring.Metrics.Port); err != nil {
		return err
	}
	if c.Monitoring.Metrics.Port > 0 {
		c.Monitoring.Metrics.Enabled = true
	}

	if val := os.Getenv("VIEWKIT_DEBUG_ADDR"); val != "" {
		c.Monitoring.Debug.Address = val
		c.Monitoring.Debug.Enabled = true
	}

	// Store
	if val := os.Getenv("VIEWKIT_STORE_TYPE"); val != "" {
		c.Store.Type = strings.ToLower(val)
	}
	if val := os.Getenv("VIEWKIT_STORE_ROOT"); val != "" {
		c.Store.Directory.Root = val
	}
	if val := os.Getenv("VIEWKIT_S3_BUCKET"); val != "" {
		c.Store.S3.Bucket = val
	}
	if val := os.Getenv("VIEWKIT_S3_PREFIX"); val != "" {
		c.Store.S3.Prefix = val
	}
	if val := os.Getenv("VIEWKIT_S3_REGION"); val != "" {
		c.Store.S3.Region = val
	}
	if val := os.Getenv("VIEWKIT_S3_ENDPOINT"); val != "" {
		c.Store.S3.Endpoint = val
	}

	return nil
}

// SaveToFile saves the configuration to a YAML file
func (c *Configuration) SaveToFile(filename string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(filename), 0750); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	if err := os.WriteFile(filename, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// Validate validates the configuration
func (c *Configuration) Validate() error {
	validLogLevels := []string{"DEBUG", "INFO", "WARN", "ERROR"}
	if !contains(validLogLevels, c.Global.LogLevel) {
		return invalid("invalid log_level: %s (must be one of: %s)",
			c.Global.LogLevel, strings.Join(validLogLevels, ", "))
	}
	if c.Global.LogFormat != "" && c.Global.LogFormat != "text" && c.Global.LogFormat != "json" {
		return invalid("invalid log_format: %s (must be text or json)", c.Global.LogFormat)
	}

	if c.Global.LogMaxSize != "" {
		if _, err := ParseSize(c.Global.LogMaxSize); err != nil {
			return errors.Wrap(errors.ErrCodeConfigValidation, "invalid log_max_size", err)
		}
	}
	if c.Global.LogMaxBackups < 0 {
		return invalid("log_max_backups cannot be negative")
	}

	if c.Cache.Capacity <= 0 {
		return invalid("cache capacity must be greater than 0")
	}
	if len(c.Cache.ImageExtensions) == 0 {
		return invalid("cache image_extensions cannot be empty")
	}
	if len(c.Cache.FontExtensions) == 0 {
		return invalid("cache font_extensions cannot be empty")
	}
	if c.Cache.ColorExtension == "" {
		return invalid("cache color_extension cannot be empty")
	}
	validKinds := []string{"image", "color", "font", "bundle"}
	for _, kind := range c.Cache.Preload.Kinds {
		if !contains(validKinds, kind) {
			return invalid("invalid preload kind: %s", kind)
		}
	}
	if c.Cache.Preload.Concurrency <= 0 {
		return invalid("preload concurrency must be greater than 0")
	}
	if c.Cache.Preload.RateLimit < 0 {
		return invalid("preload rate_limit cannot be negative")
	}

	if c.Pagination.BatchSize <= 0 {
		return invalid("batch_size must be greater than 0")
	}
	if c.Pagination.PrefetchThreshold < 0 {
		return invalid("prefetch_threshold cannot be negative")
	}

	mem := c.Monitoring.Memory
	if mem.SampleInterval <= 0 {
		return invalid("memory sample_interval must be positive")
	}
	if mem.Retention < mem.SampleInterval {
		return invalid("memory retention must be at least one sample_interval")
	}
	if mem.MaxSamples <= 0 {
		return invalid("memory max_samples must be greater than 0")
	}
	ceiling, err := mem.CeilingBytes()
	if err != nil {
		return errors.Wrap(errors.ErrCodeConfigValidation, "invalid memory ceiling", err)
	}
	if ceiling == 0 {
		return invalid("memory ceiling must be greater than 0")
	}
	if mem.WarningRatio <= 0 || mem.WarningRatio >= mem.CriticalRatio || mem.CriticalRatio > 1 {
		return invalid("pressure ratios must satisfy 0 < warning_ratio < critical_ratio <= 1")
	}
	if c.Monitoring.Performance.SampleInterval <= 0 {
		return invalid("performance sample_interval must be positive")
	}
	if c.Monitoring.Metrics.Port < 0 || c.Monitoring.Metrics.Port > 65535 {
		return invalid("invalid metrics port: %d", c.Monitoring.Metrics.Port)
	}

	if c.Monitoring.Debug.Enabled && c.Monitoring.Debug.Address == "" {
		return invalid("debug api requires address")
	}

	if c.Store.Breaker.Enabled && c.Store.Breaker.Timeout <= 0 {
		return invalid("store breaker timeout must be positive")
	}

	switch c.Store.Type {
	case StoreMemory:
	case StoreDirectory:
		if c.Store.Directory.Root == "" {
			return invalid("directory store requires root")
		}
	case StoreS3:
		if c.Store.S3.Bucket == "" {
			return invalid("s3 store requires bucket")
		}
		if c.Store.S3.Retry.MaxAttempts <= 0 {
			return invalid("s3 retry max_attempts must be greater than 0")
		}
	default:
		return invalid("invalid store type: %s (must be memory, directory or s3)", c.Store.Type)
	}

	return nil
}

// ParseSize parses human readable byte sizes such as "1GB" or "512MiB".
func ParseSize(size string) (uint64, error) {
	if strings.TrimSpace(size) == "" {
		return 0, fmt.Errorf("empty size")
	}
	return humanize.ParseBytes(size)
}

func invalid(format string, args ...interface{}) error {
	return errors.Newf(errors.ErrCodeConfigValidation, format, args...)
}

func contains(values []string, v string) bool {
	for _, candidate := range values {
		if candidate == v {
			return true
		}
	}
	return false
}

func parseBool(val string) bool {
	b, err := strconv.ParseBool(strings.TrimSpace(val))
	return err == nil && b
}

func envInt(name string, dst *int) error {
	val := os.Getenv(name)
	if val == "" {
		return nil
	}
	n, err := strconv.Atoi(strings.TrimSpace(val))
	if err != nil {
		return errors.Wrap(errors.ErrCodeInvalidConfig, "invalid integer in "+name, err)
	}
	*dst = n
	return nil
}

func envDuration(name string, dst *time.Duration) error {
	val := os.Getenv(name)
	if val == "" {
		return nil
	}
	d, err := time.ParseDuration(strings.TrimSpace(val))
	if err != nil {
		return errors.Wrap(errors.ErrCodeInvalidConfig, "invalid duration in "+name, err)
	}
	*dst = d
	return nil
}
