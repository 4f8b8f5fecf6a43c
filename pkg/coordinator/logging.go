package coordinator

import (
	"io"

	"github.com/viewkit/viewkit/internal/config"
	"github.com/viewkit/viewkit/pkg/errors"
	"github.com/viewkit/viewkit/pkg/utils"
)

// NewLogger builds the logger described by cfg. When cfg.LogFile is set, output goes to a
// rotating file and the returned closer must be closed on shutdown; otherwise it is nil.
func NewLogger(cfg config.GlobalConfig) (*utils.StructuredLogger, io.Closer, error) {
	level, err := utils.ParseLogLevel(cfg.LogLevel)
	if err != nil {
		return nil, nil, errors.Wrap(errors.ErrCodeInvalidConfig, "invalid log level", err)
	}
	format, err := utils.ParseLogFormat(cfg.LogFormat)
	if err != nil {
		return nil, nil, errors.Wrap(errors.ErrCodeInvalidConfig, "invalid log format", err)
	}

	lc := utils.DefaultStructuredLoggerConfig()
	lc.Level = level
	lc.Format = format

	var closer io.Closer
	if cfg.LogFile != "" {
		rc := utils.RotationConfig{
			Filename:   cfg.LogFile,
			MaxBackups: cfg.LogMaxBackups,
			Compress:   cfg.LogCompress,
		}
		if cfg.LogMaxSize != "" {
			if rc.MaxBytes, err = config.ParseSize(cfg.LogMaxSize); err != nil {
				return nil, nil, errors.Wrap(errors.ErrCodeInvalidConfig, "invalid log_max_size", err)
			}
		}
		rotator, err := utils.NewLogRotator(rc)
		if err != nil {
			return nil, nil, errors.Wrap(errors.ErrCodeConfigLoad, "failed to open log file", err).
				WithDetail("file", cfg.LogFile)
		}
		lc.Output = rotator
		closer = rotator
	}

	logger, err := utils.NewStructuredLogger(lc)
	if err != nil {
		if closer != nil {
			_ = closer.Close()
		}
		return nil, nil, errors.Wrap(errors.ErrCodeInvalidConfig, "failed to create logger", err)
	}
	return logger, closer, nil
}
