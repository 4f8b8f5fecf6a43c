package pagination

import (
	"context"
	"sort"
	"sync"

	"github.com/viewkit/viewkit/pkg/errors"
	"github.com/viewkit/viewkit/pkg/types"
)

// View is the type-erased surface shared by Paginator and Carousel.
type View interface {
	ID() string
	OnItemAppeared(ctx context.Context, i int) (bool, error)
	VisibleWindow(ctx context.Context) (types.Range, error)
	State(ctx context.Context) (State, error)
	Close()
}

var (
	_ View = (*Paginator[int])(nil)
	_ View = (*Carousel[int])(nil)
)

// Registry maps view IDs to views.
type Registry struct {
	mu    sync.RWMutex
	views map[string]View
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{views: make(map[string]View)}
}

// Register adds v. IDs must be unique.
func (r *Registry) Register(v View) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.views[v.ID()]; exists {
		return errors.Newf(errors.ErrCodeViewExists, "view %q already registered", v.ID()).
			WithComponent("pagination")
	}
	r.views[v.ID()] = v
	return nil
}

// Get returns the view registered under id.
func (r *Registry) Get(id string) (View, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	v, ok := r.views[id]
	if !ok {
		return nil, viewNotFound(id)
	}
	return v, nil
}

// Remove unregisters and closes the view.
func (r *Registry) Remove(id string) error {
	r.mu.Lock()
	v, ok := r.views[id]
	delete(r.views, id)
	r.mu.Unlock()

	if !ok {
		return viewNotFound(id)
	}
	v.Close()
	return nil
}

// OnItemAppeared forwards the signal to view id.
func (r *Registry) OnItemAppeared(ctx context.Context, id string, i int) (bool, error) {
	v, err := r.Get(id)
	if err != nil {
		return false, err
	}
	return v.OnItemAppeared(ctx, i)
}

// VisibleWindow returns the window of view id.
func (r *Registry) VisibleWindow(ctx context.Context, id string) (types.Range, error) {
	v, err := r.Get(id)
	if err != nil {
		return types.Range{}, err
	}
	return v.VisibleWindow(ctx)
}

// IDs returns the registered view IDs, sorted.
func (r *Registry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]string, 0, len(r.views))
	for id := range r.views {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Len returns the number of registered views.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.views)
}

// CloseAll closes and removes every view.
func (r *Registry) CloseAll() {
	r.mu.Lock()
	views := r.views
	r.views = make(map[string]View)
	r.mu.Unlock()

	for _, v := range views {
		v.Close()
	}
}

func viewNotFound(id string) error {
	return errors.Newf(errors.ErrCodeViewNotFound, "no view %q", id).
		WithComponent("pagination")
}
