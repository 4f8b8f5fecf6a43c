/*
Package config provides configuration management for viewkit.

Configuration is assembled from three sources, lowest precedence first:

  - compiled-in defaults (NewDefault)
  - a YAML file (LoadFromFile)
  - VIEWKIT_* environment variables (LoadFromEnv)

Validate should be called after all sources are applied; it reports problems as
CONFIG_VALIDATION errors from pkg/errors.

# Sections

	global:       log_level, log_format, log_file
	cache:        enabled, capacity, image/font extensions, color extension
	  preload:    enabled, kinds, concurrency, rate_limit, burst, debounce
	pagination:   batch_size, prefetch_threshold
	monitoring:   enabled
	  memory:     sample_interval, retention, max_samples, ceiling, warning_ratio, critical_ratio
	  performance: sample_interval, max_history
	  metrics:    enabled, port, path, namespace
	store:        type (memory, directory, s3), directory.root, s3.*

Byte sizes such as the memory ceiling accept humanized values ("1GB", "512MiB").

# Environment Variables

	VIEWKIT_LOG_LEVEL            global.log_level
	VIEWKIT_LOG_FORMAT           global.log_format
	VIEWKIT_LOG_FILE             global.log_file
	VIEWKIT_CACHE_ENABLED        cache.enabled
	VIEWKIT_CACHE_CAPACITY       cache.capacity
	VIEWKIT_PRELOAD_ENABLED      cache.preload.enabled
	VIEWKIT_PRELOAD_CONCURRENCY  cache.preload.concurrency
	VIEWKIT_PRELOAD_DEBOUNCE     cache.preload.debounce
	VIEWKIT_BATCH_SIZE           pagination.batch_size
	VIEWKIT_PREFETCH_THRESHOLD   pagination.prefetch_threshold
	VIEWKIT_MONITORING_ENABLED   monitoring.enabled
	VIEWKIT_MEMORY_CEILING       monitoring.memory.ceiling
	VIEWKIT_SAMPLE_INTERVAL      monitoring.memory.sample_interval
	VIEWKIT_METRICS_PORT         monitoring.metrics.port (a positive port enables metrics)
	VIEWKIT_STORE_TYPE           store.type
	VIEWKIT_STORE_ROOT           store.directory.root
	VIEWKIT_S3_BUCKET            store.s3.bucket
	VIEWKIT_S3_PREFIX            store.s3.prefix
	VIEWKIT_S3_REGION            store.s3.region
	VIEWKIT_S3_ENDPOINT          store.s3.endpoint

# Usage

	cfg := config.NewDefault()
	if err := cfg.LoadFromFile("viewkit.yaml"); err != nil {
		return err
	}
	if err := cfg.LoadFromEnv(); err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
*/
package config
