package storage

import (
	"context"

	"github.com/viewkit/viewkit/internal/circuit"
	"github.com/viewkit/viewkit/internal/config"
	"github.com/viewkit/viewkit/pkg/errors"
	"github.com/viewkit/viewkit/pkg/types"
	"github.com/viewkit/viewkit/pkg/utils"
)

// GuardedStore wraps a store with a circuit breaker. Missing resources and cancellations do not
// count as failures; once the breaker opens, calls fail fast with CONNECTION_FAILED.
type GuardedStore struct {
	inner   types.Store
	breaker *circuit.CircuitBreaker
}

// NewGuardedStore wraps inner.
func NewGuardedStore(inner types.Store, cfg config.BreakerConfig, logger *utils.StructuredLogger) *GuardedStore {
	if logger == nil {
		logger = utils.NewNopLogger()
	}
	logger = logger.WithComponent("storage")

	return &GuardedStore{
		inner: inner,
		breaker: circuit.NewCircuitBreaker("store", circuit.Config{
			Timeout:      cfg.Timeout,
			ReadyToTrip:  circuit.TripAfter(cfg.FailureThreshold),
			IsSuccessful: countsAsSuccess,
			OnStateChange: func(name string, from, to circuit.State) {
				logger.Warn("store circuit breaker changed state", map[string]interface{}{
					"breaker": name,
					"from":    from.String(),
					"to":      to.String(),
				})
			},
		}),
	}
}

func countsAsSuccess(err error) bool {
	return err == nil ||
		errors.IsNotFound(err) ||
		errors.HasCode(err, errors.ErrCodeOperationCanceled) ||
		errors.HasCode(err, errors.ErrCodeResourceDecode)
}

// Fetch implements types.Store.
func (g *GuardedStore) Fetch(ctx context.Context, scope types.ScopeID, p string) ([]byte, error) {
	var data []byte
	err := g.breaker.Execute(ctx, func(ctx context.Context) error {
		var err error
		data, err = g.inner.Fetch(ctx, scope, p)
		return err
	})
	return data, err
}

// List implements types.Store.
func (g *GuardedStore) List(ctx context.Context, scope types.ScopeID, dir string) ([]string, error) {
	var names []string
	err := g.breaker.Execute(ctx, func(ctx context.Context) error {
		var err error
		names, err = g.inner.List(ctx, scope, dir)
		return err
	})
	return names, err
}

// State returns the breaker state.
func (g *GuardedStore) State() circuit.State {
	return g.breaker.GetState()
}

// Reset closes the breaker.
func (g *GuardedStore) Reset() {
	g.breaker.Reset()
}

// Unwrap returns the wrapped store.
func (g *GuardedStore) Unwrap() types.Store {
	return g.inner
}
