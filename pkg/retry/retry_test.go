package retry

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/viewkit/viewkit/pkg/errors"
)

func fastConfig(attempts int) Config {
	config := DefaultConfig()
	config.MaxAttempts = attempts
	config.InitialDelay = time.Millisecond
	config.MaxDelay = 5 * time.Millisecond
	config.Jitter = false
	return config
}

func TestRetryer_Success(t *testing.T) {
	retryer := New(fastConfig(3))

	attempts := 0
	err := retryer.Do(func() error {
		attempts++
		return nil
	})

	if err != nil {
		t.Errorf("Expected nil error, got %v", err)
	}
	if attempts != 1 {
		t.Errorf("Expected 1 attempt, got %d", attempts)
	}
}

func TestRetryer_RetryableError(t *testing.T) {
	retryer := New(fastConfig(3))

	attempts := 0
	err := retryer.Do(func() error {
		attempts++
		if attempts < 3 {
			return errors.NewError(errors.ErrCodeNetworkError, "connection reset")
		}
		return nil
	})

	if err != nil {
		t.Errorf("Expected nil error, got %v", err)
	}
	if attempts != 3 {
		t.Errorf("Expected 3 attempts, got %d", attempts)
	}
}

func TestRetryer_NonRetryableError(t *testing.T) {
	retryer := New(fastConfig(3))

	attempts := 0
	testErr := errors.NewError(errors.ErrCodeResourceNotFound, "missing")

	err := retryer.Do(func() error {
		attempts++
		return testErr
	})

	if err != testErr {
		t.Errorf("Expected the original error back, got %v", err)
	}
	if attempts != 1 {
		t.Errorf("Expected 1 attempt (no retry), got %d", attempts)
	}
}

func TestRetryer_ForeignErrorNotRetried(t *testing.T) {
	retryer := New(fastConfig(3))

	attempts := 0
	_ = retryer.Do(func() error {
		attempts++
		return fmt.Errorf("plain error")
	})

	if attempts != 1 {
		t.Errorf("Expected 1 attempt, got %d", attempts)
	}
}

func TestRetryer_Exhausted(t *testing.T) {
	var retries []int
	retryer := New(fastConfig(4)).WithOnRetry(func(attempt int, err error, delay time.Duration) {
		retries = append(retries, attempt)
	})

	attempts := 0
	err := retryer.Do(func() error {
		attempts++
		return errors.NewError(errors.ErrCodeConnectionFailed, "refused")
	})

	if !errors.HasCode(err, errors.ErrCodeRetryExhausted) {
		t.Fatalf("Expected RETRY_EXHAUSTED, got %v", err)
	}
	if attempts != 4 {
		t.Errorf("Expected 4 attempts, got %d", attempts)
	}
	if len(retries) != 3 {
		t.Errorf("Expected OnRetry 3 times, got %v", retries)
	}
}

func TestRetryer_CodeList(t *testing.T) {
	config := fastConfig(2)
	config.RetryableErrors = []errors.ErrorCode{errors.ErrCodeAccessDenied}
	retryer := New(config)

	attempts := 0
	_ = retryer.Do(func() error {
		attempts++
		return errors.NewError(errors.ErrCodeAccessDenied, "denied")
	})

	if attempts != 2 {
		t.Errorf("Expected listed code to be retried, got %d attempts", attempts)
	}
}

func TestRetryer_ContextCanceled(t *testing.T) {
	config := fastConfig(5)
	config.InitialDelay = time.Second
	config.MaxDelay = time.Second
	retryer := New(config)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	start := time.Now()
	err := retryer.DoWithContext(ctx, func(context.Context) error {
		return errors.NewError(errors.ErrCodeNetworkError, "timeout")
	})

	if !errors.HasCode(err, errors.ErrCodeOperationCanceled) {
		t.Errorf("Expected OPERATION_CANCELED, got %v", err)
	}
	if time.Since(start) > 500*time.Millisecond {
		t.Error("cancellation should interrupt the backoff")
	}
}

func TestCalculateDelay(t *testing.T) {
	retryer := New(Config{
		MaxAttempts:  5,
		InitialDelay: 10 * time.Millisecond,
		MaxDelay:     50 * time.Millisecond,
		Multiplier:   2,
	})

	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{1, 10 * time.Millisecond},
		{2, 20 * time.Millisecond},
		{3, 40 * time.Millisecond},
		{4, 50 * time.Millisecond},
	}

	for _, tt := range tests {
		if got := retryer.calculateDelay(tt.attempt); got != tt.want {
			t.Errorf("calculateDelay(%d) = %v, want %v", tt.attempt, got, tt.want)
		}
	}
}

func TestNewAppliesDefaults(t *testing.T) {
	cfg := New(Config{}).Config()
	if cfg.MaxAttempts != 3 || cfg.Multiplier != 2.0 || cfg.InitialDelay <= 0 || cfg.MaxDelay <= 0 {
		t.Errorf("defaults not applied: %+v", cfg)
	}
	if New(Config{}).WithMaxAttempts(7).Config().MaxAttempts != 7 {
		t.Error("WithMaxAttempts not applied")
	}
}
