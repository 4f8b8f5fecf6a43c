// Package retry provides retry logic with exponential backoff for remote store operations
package retry

import (
	"context"
	stderr "errors"
	"math"
	"math/rand"
	"time"

	"github.com/viewkit/viewkit/pkg/errors"
)

// Config defines retry behavior configuration
type Config struct {
	// MaxAttempts is the maximum number of attempts, including the first one
	MaxAttempts int `yaml:"max_attempts" json:"max_attempts"`

	// InitialDelay is the delay before the first retry
	InitialDelay time.Duration `yaml:"initial_delay" json:"initial_delay"`

	// MaxDelay caps the delay between retries
	MaxDelay time.Duration `yaml:"max_delay" json:"max_delay"`

	// Multiplier is the factor by which delay increases after each retry
	Multiplier float64 `yaml:"multiplier" json:"multiplier"`

	// Jitter adds ±20% randomness to each delay
	Jitter bool `yaml:"jitter" json:"jitter"`

	// RetryableErrors lists codes retried even when the error is not flagged retryable
	RetryableErrors []errors.ErrorCode `yaml:"retryable_errors" json:"retryable_errors"`

	// OnRetry is called before each retry attempt
	OnRetry func(attempt int, err error, delay time.Duration) `yaml:"-" json:"-"`
}

// DefaultConfig returns a sensible default retry configuration
func DefaultConfig() Config {
	return Config{
		MaxAttempts:  3,
		InitialDelay: 100 * time.Millisecond,
		MaxDelay:     5 * time.Second,
		Multiplier:   2.0,
		Jitter:       true,
		RetryableErrors: []errors.ErrorCode{
			errors.ErrCodeConnectionFailed,
			errors.ErrCodeNetworkError,
			errors.ErrCodeStorageRead,
		},
	}
}

// Retryer handles retry logic with exponential backoff
type Retryer struct {
	config Config
}

// New creates a new Retryer with the given configuration
func New(config Config) *Retryer {
	// Apply defaults for zero values
	if config.MaxAttempts <= 0 {
		config.MaxAttempts = 3
	}
	if config.InitialDelay <= 0 {
		config.InitialDelay = 100 * time.Millisecond
	}
	if config.MaxDelay <= 0 {
		config.MaxDelay = 5 * time.Second
	}
	if config.Multiplier <= 0 {
		config.Multiplier = 2.0
	}

	return &Retryer{config: config}
}

// Do executes fn with retry logic
func (r *Retryer) Do(fn func() error) error {
	return r.DoWithContext(context.Background(), func(context.Context) error {
		return fn()
	})
}

// DoWithContext executes fn with retry logic. Non-retryable errors are returned unchanged so
// callers can still inspect their codes; exhausting all attempts yields RETRY_EXHAUSTED wrapping
// the last error.
func (r *Retryer) DoWithContext(ctx context.Context, fn func(context.Context) error) error {
	var lastErr error

	for attempt := 1; attempt <= r.config.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return errors.Wrap(errors.ErrCodeOperationCanceled, "operation canceled", err).
				WithDetail("attempt", attempt)
		}

		err := fn(ctx)
		if err == nil {
			return nil
		}
		lastErr = err

		if !r.isRetryable(err) {
			return err
		}
		if attempt == r.config.MaxAttempts {
			break
		}

		delay := r.calculateDelay(attempt)
		if r.config.OnRetry != nil {
			r.config.OnRetry(attempt, err, delay)
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return errors.Wrap(errors.ErrCodeOperationCanceled, "operation canceled during backoff", ctx.Err()).
				WithDetail("attempt", attempt)
		case <-timer.C:
		}
	}

	return errors.Wrap(errors.ErrCodeRetryExhausted, "max retry attempts exceeded", lastErr).
		WithDetail("attempts", r.config.MaxAttempts)
}

// isRetryable determines if an error is worth another attempt
func (r *Retryer) isRetryable(err error) bool {
	var ve *errors.ViewkitError
	if !stderr.As(err, &ve) {
		return false
	}
	if ve.Retryable {
		return true
	}
	for _, code := range r.config.RetryableErrors {
		if ve.Code == code {
			return true
		}
	}
	return false
}

// calculateDelay calculates the delay for the next retry attempt
func (r *Retryer) calculateDelay(attempt int) time.Duration {
	// Exponential backoff: initialDelay * multiplier^(attempt-1)
	delay := float64(r.config.InitialDelay) * math.Pow(r.config.Multiplier, float64(attempt-1))

	if delay > float64(r.config.MaxDelay) {
		delay = float64(r.config.MaxDelay)
	}

	if r.config.Jitter {
		jitter := delay * 0.2 * (rand.Float64()*2 - 1)
		delay += jitter
	}

	return time.Duration(delay)
}

// Config returns the effective configuration
func (r *Retryer) Config() Config {
	return r.config
}

// WithMaxAttempts returns a new Retryer with modified max attempts
func (r *Retryer) WithMaxAttempts(attempts int) *Retryer {
	newConfig := r.config
	newConfig.MaxAttempts = attempts
	return New(newConfig)
}

// WithOnRetry returns a new Retryer with a retry callback
func (r *Retryer) WithOnRetry(callback func(attempt int, err error, delay time.Duration)) *Retryer {
	newConfig := r.config
	newConfig.OnRetry = callback
	return New(newConfig)
}
