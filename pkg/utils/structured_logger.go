package utils

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sort"
	"strings"
	"sync"
)

// LogFormat defines the output format for logs
type LogFormat int

const (
	FormatText LogFormat = iota
	FormatJSON
)

// ParseLogFormat accepts "text" or "json".
func ParseLogFormat(format string) (LogFormat, error) {
	switch strings.ToLower(strings.TrimSpace(format)) {
	case "text", "":
		return FormatText, nil
	case "json":
		return FormatJSON, nil
	default:
		return FormatText, fmt.Errorf("invalid log format: %s", format)
	}
}

// StructuredLogger provides leveled logging with context fields. Components tag their
// loggers with WithComponent so levels can be tuned per component.
type StructuredLogger struct {
	base            *slog.Logger
	level           *slog.LevelVar
	fields          map[string]interface{}
	componentLevels *componentLevels
}

// StructuredLoggerConfig holds configuration for the logger
type StructuredLoggerConfig struct {
	Level         LogLevel
	Output        io.Writer
	Format        LogFormat
	IncludeCaller bool
}

// DefaultStructuredLoggerConfig returns default configuration
func DefaultStructuredLoggerConfig() *StructuredLoggerConfig {
	return &StructuredLoggerConfig{
		Level:  INFO,
		Output: os.Stderr,
		Format: FormatText,
	}
}

// NewStructuredLogger creates a new structured logger
func NewStructuredLogger(config *StructuredLoggerConfig) (*StructuredLogger, error) {
	if config == nil {
		config = DefaultStructuredLoggerConfig()
	}
	if config.Level < DEBUG || config.Level > ERROR {
		return nil, fmt.Errorf("invalid log level: %d", config.Level)
	}

	output := config.Output
	if output == nil {
		output = os.Stderr
	}

	// Filtering happens in isEnabled so per-component overrides can lower the level.
	opts := &slog.HandlerOptions{
		AddSource: config.IncludeCaller,
		Level:     slog.LevelDebug,
	}

	var handler slog.Handler
	if config.Format == FormatJSON {
		handler = slog.NewJSONHandler(output, opts)
	} else {
		handler = slog.NewTextHandler(output, opts)
	}

	logger := &StructuredLogger{
		base:            slog.New(handler),
		level:           new(slog.LevelVar),
		fields:          make(map[string]interface{}),
		componentLevels: &componentLevels{levels: make(map[string]LogLevel)},
	}
	logger.level.Set(config.Level.slogLevel())
	return logger, nil
}

// NewNopLogger returns a logger that discards everything.
func NewNopLogger() *StructuredLogger {
	logger, _ := NewStructuredLogger(&StructuredLoggerConfig{Level: ERROR, Output: io.Discard})
	return logger
}

// WithField returns a new logger with an additional context field
func (sl *StructuredLogger) WithField(key string, value interface{}) *StructuredLogger {
	return sl.WithFields(map[string]interface{}{key: value})
}

// WithFields returns a new logger with multiple context fields
func (sl *StructuredLogger) WithFields(fields map[string]interface{}) *StructuredLogger {
	merged := make(map[string]interface{}, len(sl.fields)+len(fields))
	for k, v := range sl.fields {
		merged[k] = v
	}
	for k, v := range fields {
		merged[k] = v
	}

	return &StructuredLogger{
		base:            sl.base,
		level:           sl.level,
		fields:          merged,
		componentLevels: sl.componentLevels,
	}
}

// WithComponent returns a logger with a component field
func (sl *StructuredLogger) WithComponent(component string) *StructuredLogger {
	return sl.WithField("component", component)
}

// SetComponentLevel overrides the level for loggers tagged with component.
func (sl *StructuredLogger) SetComponentLevel(component string, level LogLevel) {
	sl.componentLevels.set(component, level)
}

// SetLevel sets the global log level
func (sl *StructuredLogger) SetLevel(level LogLevel) {
	sl.level.Set(level.slogLevel())
}

// GetLevel returns the current log level
func (sl *StructuredLogger) GetLevel() LogLevel {
	switch sl.level.Level() {
	case slog.LevelDebug:
		return DEBUG
	case slog.LevelWarn:
		return WARN
	case slog.LevelError:
		return ERROR
	default:
		return INFO
	}
}

func (sl *StructuredLogger) isEnabled(level LogLevel) bool {
	if component, ok := sl.fields["component"].(string); ok {
		if compLevel, exists := sl.componentLevels.get(component); exists {
			return level >= compLevel
		}
	}
	return level.slogLevel() >= sl.level.Level()
}

func (sl *StructuredLogger) log(level LogLevel, message string, fields map[string]interface{}) {
	if sl == nil || !sl.isEnabled(level) {
		return
	}

	attrs := make([]slog.Attr, 0, len(sl.fields)+len(fields))
	attrs = appendAttrs(attrs, sl.fields)
	attrs = appendAttrs(attrs, fields)
	sl.base.LogAttrs(context.Background(), level.slogLevel(), message, attrs...)
}

// appendAttrs adds fields in key order so output is stable.
func appendAttrs(attrs []slog.Attr, fields map[string]interface{}) []slog.Attr {
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		attrs = append(attrs, slog.Any(k, fields[k]))
	}
	return attrs
}

func firstFields(fieldMaps []map[string]interface{}) map[string]interface{} {
	if len(fieldMaps) > 0 {
		return fieldMaps[0]
	}
	return nil
}

// Debug logs a debug message
func (sl *StructuredLogger) Debug(message string, fields ...map[string]interface{}) {
	sl.log(DEBUG, message, firstFields(fields))
}

// Info logs an info message
func (sl *StructuredLogger) Info(message string, fields ...map[string]interface{}) {
	sl.log(INFO, message, firstFields(fields))
}

// Warn logs a warning message
func (sl *StructuredLogger) Warn(message string, fields ...map[string]interface{}) {
	sl.log(WARN, message, firstFields(fields))
}

// Error logs an error message
func (sl *StructuredLogger) Error(message string, fields ...map[string]interface{}) {
	sl.log(ERROR, message, firstFields(fields))
}

// Debugf logs a formatted debug message
func (sl *StructuredLogger) Debugf(format string, args ...interface{}) {
	sl.log(DEBUG, fmt.Sprintf(format, args...), nil)
}

// Infof logs a formatted info message
func (sl *StructuredLogger) Infof(format string, args ...interface{}) {
	sl.log(INFO, fmt.Sprintf(format, args...), nil)
}

// Warnf logs a formatted warning message
func (sl *StructuredLogger) Warnf(format string, args ...interface{}) {
	sl.log(WARN, fmt.Sprintf(format, args...), nil)
}

// Errorf logs a formatted error message
func (sl *StructuredLogger) Errorf(format string, args ...interface{}) {
	sl.log(ERROR, fmt.Sprintf(format, args...), nil)
}

type componentLevels struct {
	mu     sync.RWMutex
	levels map[string]LogLevel
}

func (c *componentLevels) set(component string, level LogLevel) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.levels[component] = level
}

func (c *componentLevels) get(component string) (LogLevel, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	level, ok := c.levels[component]
	return level, ok
}
