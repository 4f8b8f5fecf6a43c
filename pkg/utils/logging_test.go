package utils

import (
	"log/slog"
	"testing"
)

func TestParseLogLevel(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected LogLevel
		wantErr  bool
	}{
		{name: "debug level", input: "DEBUG", expected: DEBUG},
		{name: "info level", input: "INFO", expected: INFO},
		{name: "warn level", input: "WARN", expected: WARN},
		{name: "warning level", input: "WARNING", expected: WARN},
		{name: "error level", input: "ERROR", expected: ERROR},
		{name: "case insensitive", input: "debug", expected: DEBUG},
		{name: "empty defaults to info", input: "", expected: INFO},
		{name: "padded", input: "  warn ", expected: WARN},
		{name: "invalid level", input: "TRACE", expected: INFO, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := ParseLogLevel(tt.input)
			if tt.wantErr {
				if err == nil {
					t.Errorf("Expected error for input %s", tt.input)
				}
				return
			}
			if err != nil {
				t.Errorf("Unexpected error: %v", err)
			}
			if result != tt.expected {
				t.Errorf("Expected %v, got %v", tt.expected, result)
			}
		})
	}
}

func TestLogLevelString(t *testing.T) {
	tests := []struct {
		level    LogLevel
		expected string
	}{
		{DEBUG, "DEBUG"},
		{INFO, "INFO"},
		{WARN, "WARN"},
		{ERROR, "ERROR"},
		{LogLevel(99), "UNKNOWN"},
	}

	for _, tt := range tests {
		if got := tt.level.String(); got != tt.expected {
			t.Errorf("LogLevel(%d).String() = %s, want %s", tt.level, got, tt.expected)
		}
	}
}

func TestLogLevelSlogMapping(t *testing.T) {
	if DEBUG.slogLevel() != slog.LevelDebug || ERROR.slogLevel() != slog.LevelError {
		t.Error("unexpected slog mapping")
	}
	if LogLevel(99).slogLevel() != slog.LevelInfo {
		t.Error("unknown levels should map to info")
	}
}
