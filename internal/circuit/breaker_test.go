package circuit

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/viewkit/viewkit/pkg/errors"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

var errBackend = fmt.Errorf("backend down")

func fail(context.Context) error    { return errBackend }
func succeed(context.Context) error { return nil }

func newTestBreaker(clock *fakeClock, transitions *[]string) *CircuitBreaker {
	return NewCircuitBreaker("store", Config{
		Timeout:     10 * time.Second,
		Interval:    time.Minute,
		ReadyToTrip: TripAfter(3),
		Now:         clock.Now,
		OnStateChange: func(_ string, from, to State) {
			if transitions != nil {
				*transitions = append(*transitions, from.String()+"->"+to.String())
			}
		},
	})
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "CLOSED", StateClosed.String())
	assert.Equal(t, "OPEN", StateOpen.String())
	assert.Equal(t, "HALF_OPEN", StateHalfOpen.String())
	assert.Equal(t, "UNKNOWN", State(999).String())
}

func TestNewCircuitBreaker_Defaults(t *testing.T) {
	cb := NewCircuitBreaker("test", Config{})
	assert.Equal(t, "test", cb.Name())
	assert.Equal(t, StateClosed, cb.GetState())
	assert.Equal(t, uint32(1), cb.config.MaxRequests)
	assert.Equal(t, 60*time.Second, cb.config.Interval)
	assert.Equal(t, 30*time.Second, cb.config.Timeout)
	assert.NotNil(t, cb.config.ReadyToTrip)
	assert.NotNil(t, cb.config.IsSuccessful)
}

func TestCircuitBreaker_TripsAndRecovers(t *testing.T) {
	ctx := context.Background()
	clock := &fakeClock{now: time.Unix(1000, 0)}
	var transitions []string
	cb := newTestBreaker(clock, &transitions)

	for i := 0; i < 3; i++ {
		assert.ErrorIs(t, cb.Execute(ctx, fail), errBackend)
	}
	assert.Equal(t, StateOpen, cb.GetState())
	assert.Equal(t, uint64(1), cb.Trips())

	called := false
	err := cb.Execute(ctx, func(context.Context) error { called = true; return nil })
	assert.False(t, called, "open breaker must not run the request")
	assert.True(t, errors.HasCode(err, errors.ErrCodeConnectionFailed))

	clock.Advance(11 * time.Second)
	assert.Equal(t, StateHalfOpen, cb.GetState())
	require.NoError(t, cb.Execute(ctx, succeed))
	assert.Equal(t, StateClosed, cb.GetState())

	assert.Equal(t, []string{"CLOSED->OPEN", "OPEN->HALF_OPEN", "HALF_OPEN->CLOSED"}, transitions)
}

func TestCircuitBreaker_HalfOpenFailureReopens(t *testing.T) {
	ctx := context.Background()
	clock := &fakeClock{now: time.Unix(1000, 0)}
	cb := newTestBreaker(clock, nil)

	for i := 0; i < 3; i++ {
		_ = cb.Execute(ctx, fail)
	}
	clock.Advance(11 * time.Second)
	assert.ErrorIs(t, cb.Execute(ctx, fail), errBackend)
	assert.Equal(t, StateOpen, cb.GetState())
	assert.Equal(t, uint64(2), cb.Trips())
}

func TestCircuitBreaker_HalfOpenLimitsProbes(t *testing.T) {
	ctx := context.Background()
	clock := &fakeClock{now: time.Unix(1000, 0)}
	cb := newTestBreaker(clock, nil)

	for i := 0; i < 3; i++ {
		_ = cb.Execute(ctx, fail)
	}
	clock.Advance(11 * time.Second)

	release := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		done <- cb.Execute(ctx, func(context.Context) error { <-release; return nil })
	}()

	require.Eventually(t, func() bool { return cb.GetCounts().Requests == 1 }, time.Second, time.Millisecond)
	err := cb.Execute(ctx, succeed)
	assert.True(t, errors.HasCode(err, errors.ErrCodeConnectionFailed))

	close(release)
	require.NoError(t, <-done)
	assert.Equal(t, StateClosed, cb.GetState())
}

func TestCircuitBreaker_SuccessResetsConsecutiveFailures(t *testing.T) {
	ctx := context.Background()
	cb := newTestBreaker(&fakeClock{now: time.Unix(1000, 0)}, nil)

	_ = cb.Execute(ctx, fail)
	_ = cb.Execute(ctx, fail)
	_ = cb.Execute(ctx, succeed)
	_ = cb.Execute(ctx, fail)
	assert.Equal(t, StateClosed, cb.GetState())

	counts := cb.GetCounts()
	assert.Equal(t, uint32(4), counts.Requests)
	assert.Equal(t, uint32(3), counts.TotalFailures)
	assert.Equal(t, uint32(1), counts.ConsecutiveFailures)
}

func TestCircuitBreaker_IntervalClearsCounts(t *testing.T) {
	ctx := context.Background()
	clock := &fakeClock{now: time.Unix(1000, 0)}
	cb := newTestBreaker(clock, nil)

	_ = cb.Execute(ctx, fail)
	_ = cb.Execute(ctx, fail)
	clock.Advance(2 * time.Minute)
	_ = cb.Execute(ctx, fail)
	assert.Equal(t, StateClosed, cb.GetState())
}

func TestCircuitBreaker_IsSuccessful(t *testing.T) {
	ctx := context.Background()
	notFound := errors.NewError(errors.ErrCodeResourceNotFound, "missing")
	cb := NewCircuitBreaker("store", Config{
		ReadyToTrip:  TripAfter(1),
		IsSuccessful: func(err error) bool { return err == nil || errors.IsNotFound(err) },
	})

	for i := 0; i < 5; i++ {
		_ = cb.Execute(ctx, func(context.Context) error { return notFound })
	}
	assert.Equal(t, StateClosed, cb.GetState())
}

func TestCircuitBreaker_Reset(t *testing.T) {
	ctx := context.Background()
	cb := newTestBreaker(&fakeClock{now: time.Unix(1000, 0)}, nil)
	for i := 0; i < 3; i++ {
		_ = cb.Execute(ctx, fail)
	}
	require.Equal(t, StateOpen, cb.GetState())

	cb.Reset()
	assert.Equal(t, StateClosed, cb.GetState())
	assert.Zero(t, cb.GetCounts().Requests)
}
