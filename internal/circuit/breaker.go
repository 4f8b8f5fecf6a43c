// Package circuit implements a circuit breaker used to stop hammering a failing backing store.
package circuit

import (
	"context"
	"sync"
	"time"

	"github.com/viewkit/viewkit/pkg/errors"
)

// State represents the circuit breaker state
type State int

const (
	// StateClosed lets requests through
	StateClosed State = iota
	// StateOpen rejects requests until Timeout elapses
	StateOpen
	// StateHalfOpen lets MaxRequests probes through to test recovery
	StateHalfOpen
)

// String returns string representation of state
func (s State) String() string {
	switch s {
	case StateClosed:
		return "CLOSED"
	case StateOpen:
		return "OPEN"
	case StateHalfOpen:
		return "HALF_OPEN"
	default:
		return "UNKNOWN"
	}
}

// Config contains circuit breaker configuration
type Config struct {
	// Maximum number of requests allowed to pass through when state is half-open
	MaxRequests uint32

	// Period of the closed state after which counts are cleared
	Interval time.Duration

	// Period of the open state after which the breaker enters half-open state
	Timeout time.Duration

	// ReadyToTrip decides, after a failure in the closed state, whether to open
	ReadyToTrip func(counts Counts) bool

	// OnStateChange is called with the breaker lock held; it must not call back into the breaker
	OnStateChange func(name string, from State, to State)

	// IsSuccessful decides whether an error counts against the breaker
	IsSuccessful func(err error) bool

	// Now defaults to time.Now
	Now func() time.Time
}

// Counts holds the numbers of requests and their successes/failures
type Counts struct {
	Requests             uint32    `json:"requests"`
	TotalSuccesses       uint32    `json:"total_successes"`
	TotalFailures        uint32    `json:"total_failures"`
	ConsecutiveSuccesses uint32    `json:"consecutive_successes"`
	ConsecutiveFailures  uint32    `json:"consecutive_failures"`
	LastActivity         time.Time `json:"last_activity"`
}

// TripAfter returns a ReadyToTrip that opens after n consecutive failures.
func TripAfter(n uint32) func(Counts) bool {
	if n == 0 {
		n = 1
	}
	return func(c Counts) bool {
		return c.ConsecutiveFailures >= n
	}
}

// CircuitBreaker implements the circuit breaker pattern
type CircuitBreaker struct {
	name   string
	config Config

	mu     sync.Mutex
	state  State
	counts Counts
	expiry time.Time
	trips  uint64
}

// NewCircuitBreaker creates a new circuit breaker instance
func NewCircuitBreaker(name string, config Config) *CircuitBreaker {
	if config.MaxRequests == 0 {
		config.MaxRequests = 1
	}
	if config.Interval <= 0 {
		config.Interval = 60 * time.Second
	}
	if config.Timeout <= 0 {
		config.Timeout = 30 * time.Second
	}
	if config.ReadyToTrip == nil {
		config.ReadyToTrip = TripAfter(5)
	}
	if config.IsSuccessful == nil {
		config.IsSuccessful = func(err error) bool { return err == nil }
	}
	if config.Now == nil {
		config.Now = time.Now
	}

	return &CircuitBreaker{
		name:   name,
		config: config,
		state:  StateClosed,
		expiry: config.Now().Add(config.Interval),
	}
}

// Execute runs fn if the breaker allows it. A rejected call returns a CONNECTION_FAILED error
// without running fn.
func (cb *CircuitBreaker) Execute(ctx context.Context, fn func(context.Context) error) error {
	if err := cb.beforeRequest(); err != nil {
		return err
	}

	err := fn(ctx)
	cb.afterRequest(err)
	return err
}

func (cb *CircuitBreaker) beforeRequest() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	state := cb.currentState(cb.config.Now())

	if state == StateOpen {
		return cb.rejected("circuit breaker is open")
	}
	if state == StateHalfOpen && cb.counts.Requests >= cb.config.MaxRequests {
		return cb.rejected("too many requests in half-open state")
	}

	cb.counts.onRequest(cb.config.Now())
	return nil
}

func (cb *CircuitBreaker) rejected(msg string) error {
	return errors.NewError(errors.ErrCodeConnectionFailed, msg).
		WithComponent("circuit").
		WithDetail("breaker", cb.name)
}

func (cb *CircuitBreaker) afterRequest(err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	now := cb.config.Now()
	state := cb.currentState(now)

	if cb.config.IsSuccessful(err) {
		cb.counts.onSuccess()
		if state == StateHalfOpen {
			cb.setState(StateClosed, now)
		}
		return
	}

	cb.counts.onFailure()
	switch state {
	case StateClosed:
		if cb.config.ReadyToTrip(cb.counts) {
			cb.setState(StateOpen, now)
		}
	case StateHalfOpen:
		cb.setState(StateOpen, now)
	}
}

// currentState advances time-based transitions (must be called with lock held)
func (cb *CircuitBreaker) currentState(now time.Time) State {
	switch cb.state {
	case StateClosed:
		if !cb.expiry.IsZero() && cb.expiry.Before(now) {
			cb.counts.clear()
			cb.expiry = now.Add(cb.config.Interval)
		}
	case StateOpen:
		if cb.expiry.Before(now) {
			cb.setState(StateHalfOpen, now)
		}
	}
	return cb.state
}

func (cb *CircuitBreaker) setState(state State, now time.Time) {
	if cb.state == state {
		return
	}
	prev := cb.state

	cb.state = state
	cb.counts.clear()

	switch state {
	case StateClosed:
		cb.expiry = now.Add(cb.config.Interval)
	case StateOpen:
		cb.trips++
		cb.expiry = now.Add(cb.config.Timeout)
	case StateHalfOpen:
		cb.expiry = time.Time{}
	}

	if cb.config.OnStateChange != nil {
		cb.config.OnStateChange(cb.name, prev, state)
	}
}

// GetState returns the current state of the circuit breaker
func (cb *CircuitBreaker) GetState() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.currentState(cb.config.Now())
}

// GetCounts returns a copy of the current counts
func (cb *CircuitBreaker) GetCounts() Counts {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.counts
}

// Trips returns how many times the breaker has opened.
func (cb *CircuitBreaker) Trips() uint64 {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.trips
}

// Reset closes the breaker and clears its counts
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.counts.clear()
	cb.setState(StateClosed, cb.config.Now())
}

// Name returns the name of the circuit breaker
func (cb *CircuitBreaker) Name() string {
	return cb.name
}

func (c *Counts) onRequest(now time.Time) {
	c.Requests++
	c.LastActivity = now
}

func (c *Counts) onSuccess() {
	c.TotalSuccesses++
	c.ConsecutiveSuccesses++
	c.ConsecutiveFailures = 0
}

func (c *Counts) onFailure() {
	c.TotalFailures++
	c.ConsecutiveFailures++
	c.ConsecutiveSuccesses = 0
}

func (c *Counts) clear() {
	*c = Counts{}
}
