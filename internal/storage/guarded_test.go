package storage

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/viewkit/viewkit/internal/circuit"
	"github.com/viewkit/viewkit/internal/config"
	"github.com/viewkit/viewkit/pkg/errors"
	"github.com/viewkit/viewkit/pkg/types"
)

// flakyStore fails every call with a network error while down is set.
type flakyStore struct {
	*MemoryStore
	down  bool
	calls int
}

func (f *flakyStore) Fetch(ctx context.Context, scope types.ScopeID, p string) ([]byte, error) {
	f.calls++
	if f.down {
		return nil, errors.NewError(errors.ErrCodeNetworkError, "connection reset")
	}
	return f.MemoryStore.Fetch(ctx, scope, p)
}

func TestGuardedStoreOpensOnFailures(t *testing.T) {
	ctx := context.Background()
	inner := &flakyStore{MemoryStore: NewMemoryStore(), down: true}
	inner.Put("", "a.color", []byte("#fff"))
	g := NewGuardedStore(inner, config.BreakerConfig{Enabled: true, FailureThreshold: 2, Timeout: time.Hour}, nil)

	for i := 0; i < 2; i++ {
		_, err := g.Fetch(ctx, "", "a.color")
		assert.True(t, errors.HasCode(err, errors.ErrCodeNetworkError))
	}
	assert.Equal(t, circuit.StateOpen, g.State())

	_, err := g.Fetch(ctx, "", "a.color")
	assert.True(t, errors.HasCode(err, errors.ErrCodeConnectionFailed))
	assert.Equal(t, 2, inner.calls, "open breaker must not reach the store")

	inner.down = false
	g.Reset()
	data, err := g.Fetch(ctx, "", "a.color")
	require.NoError(t, err)
	assert.Equal(t, "#fff", string(data))
}

func TestGuardedStoreIgnoresNotFound(t *testing.T) {
	ctx := context.Background()
	g := NewGuardedStore(NewMemoryStore(), config.BreakerConfig{Enabled: true, FailureThreshold: 1, Timeout: time.Hour}, nil)

	for i := 0; i < 3; i++ {
		_, err := g.Fetch(ctx, "", "missing.png")
		assert.True(t, errors.IsNotFound(err))
		_, err = g.List(ctx, "", "missing")
		assert.True(t, errors.IsNotFound(err))
	}
	assert.Equal(t, circuit.StateClosed, g.State())
}
