// Package storage provides the backing stores resources are loaded from.
package storage

import (
	"context"

	"github.com/viewkit/viewkit/internal/config"
	"github.com/viewkit/viewkit/internal/storage/s3"
	"github.com/viewkit/viewkit/pkg/errors"
	"github.com/viewkit/viewkit/pkg/types"
	"github.com/viewkit/viewkit/pkg/utils"
)

var (
	_ types.Store = (*MemoryStore)(nil)
	_ types.Store = (*DirStore)(nil)
	_ types.Store = (*s3.Store)(nil)
	_ types.Store = (*GuardedStore)(nil)
)

// New builds the store selected by cfg.Type, wrapped in a GuardedStore when the breaker is
// enabled. The memory store is never guarded.
func New(ctx context.Context, cfg config.StoreConfig, logger *utils.StructuredLogger) (types.Store, error) {
	store, err := newStore(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	if _, inMemory := store.(*MemoryStore); inMemory || !cfg.Breaker.Enabled {
		return store, nil
	}
	return NewGuardedStore(store, cfg.Breaker, logger), nil
}

func newStore(ctx context.Context, cfg config.StoreConfig, logger *utils.StructuredLogger) (types.Store, error) {
	switch cfg.Type {
	case config.StoreMemory, "":
		return NewMemoryStore(), nil
	case config.StoreDirectory:
		return NewDirStore(cfg.Directory.Root)
	case config.StoreS3:
		return s3.NewStore(ctx, cfg.S3, logger)
	default:
		return nil, errors.Newf(errors.ErrCodeInvalidConfig, "unknown store type %q", cfg.Type).
			WithComponent("storage")
	}
}

func notFound(scope types.ScopeID, p string) error {
	return errors.Newf(errors.ErrCodeResourceNotFound, "resource %q not found", p).
		WithComponent("storage").
		WithDetail("scope", string(scope))
}

func scopeNotFound(scope types.ScopeID) error {
	return errors.Newf(errors.ErrCodeScopeNotFound, "scope %q not found", scope).
		WithComponent("storage")
}
