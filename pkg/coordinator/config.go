package coordinator

import (
	"github.com/viewkit/viewkit/internal/config"
)

// DefaultConfig returns the default configuration.
func DefaultConfig() *config.Configuration {
	return config.NewDefault()
}

// LoadConfig reads path (skipped when empty) over the defaults, applies VIEWKIT_* environment
// overrides and validates the result.
func LoadConfig(path string) (*config.Configuration, error) {
	cfg := config.NewDefault()
	if path != "" {
		if err := cfg.LoadFromFile(path); err != nil {
			return nil, err
		}
	}
	if err := cfg.LoadFromEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}
