package pagination

import (
	"context"
	"sync"

	"github.com/viewkit/viewkit/pkg/errors"
)

// Source is the backing data of a paginated view. Len must be cheap; it is called on the dispatch
// loop. Slice returns items [from, to) and may block.
type Source[T any] interface {
	Len() int
	Slice(ctx context.Context, from, to int) ([]T, error)
}

// SliceSource serves items from memory. Append grows it; it is safe for concurrent use.
type SliceSource[T any] struct {
	mu    sync.RWMutex
	items []T
}

// NewSliceSource creates a source over a copy of items.
func NewSliceSource[T any](items ...T) *SliceSource[T] {
	return &SliceSource[T]{items: append([]T(nil), items...)}
}

// Append adds items to the end of the source. A view that already reached StateExhausted does not
// look at the source again; call its Reset to load the new items.
func (s *SliceSource[T]) Append(items ...T) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items = append(s.items, items...)
}

// Len implements Source.
func (s *SliceSource[T]) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.items)
}

// Slice implements Source.
func (s *SliceSource[T]) Slice(ctx context.Context, from, to int) ([]T, error) {
	if err := ctx.Err(); err != nil {
		return nil, errors.Wrap(errors.ErrCodeOperationCanceled, "slice canceled", err)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if from < 0 || to < from || to > len(s.items) {
		return nil, errors.Newf(errors.ErrCodeSourceRead, "slice [%d, %d) out of range for %d items", from, to, len(s.items)).
			WithComponent("pagination")
	}
	return append([]T(nil), s.items[from:to]...), nil
}

// SourceFunc adapts a length and a fetch function to Source.
type SourceFunc[T any] struct {
	LenFunc   func() int
	SliceFunc func(ctx context.Context, from, to int) ([]T, error)
}

// Len implements Source.
func (f SourceFunc[T]) Len() int {
	return f.LenFunc()
}

// Slice implements Source.
func (f SourceFunc[T]) Slice(ctx context.Context, from, to int) ([]T, error) {
	return f.SliceFunc(ctx, from, to)
}
