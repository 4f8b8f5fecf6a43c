package coordinator

import (
	"github.com/viewkit/viewkit/internal/config"
	"github.com/viewkit/viewkit/pkg/errors"
	"github.com/viewkit/viewkit/pkg/pagination"
)

// ViewOption adjusts the pagination settings of one view.
type ViewOption func(*config.PaginationConfig)

// WithBatchSize overrides the configured batch size.
func WithBatchSize(n int) ViewOption {
	return func(cfg *config.PaginationConfig) { cfg.BatchSize = n }
}

// WithPrefetchThreshold overrides the configured prefetch threshold. For a carousel it is the
// half-width of the window.
func WithPrefetchThreshold(n int) ViewOption {
	return func(cfg *config.PaginationConfig) { cfg.PrefetchThreshold = n }
}

func (c *Coordinator) viewOptions(id string, opts []ViewOption) (pagination.Options, error) {
	if id == "" {
		return pagination.Options{}, errors.NewError(errors.ErrCodeInvalidConfig, "view id is required").
			WithComponent("coordinator")
	}
	cfg := c.config.Pagination
	for _, opt := range opts {
		opt(&cfg)
	}
	return pagination.Options{
		ID:      id,
		Loop:    c.loop,
		Config:  cfg,
		Logger:  c.logger,
		Metrics: c.metrics,
	}, nil
}

// NewList creates a paginated list or grid view over source and registers it under id.
func NewList[T any](c *Coordinator, id string, source pagination.Source[T], opts ...ViewOption) (*pagination.Paginator[T], error) {
	po, err := c.viewOptions(id, opts)
	if err != nil {
		return nil, err
	}
	p, err := pagination.NewPaginator(source, po)
	if err != nil {
		return nil, err
	}
	if err := c.views.Register(p); err != nil {
		p.Close()
		return nil, err
	}
	return p, nil
}

// NewCarousel creates a carousel over source and registers it under id.
func NewCarousel[T any](c *Coordinator, id string, source pagination.Source[T], opts ...ViewOption) (*pagination.Carousel[T], error) {
	po, err := c.viewOptions(id, opts)
	if err != nil {
		return nil, err
	}
	car, err := pagination.NewCarousel(source, po)
	if err != nil {
		return nil, err
	}
	if err := c.views.Register(car); err != nil {
		car.Close()
		return nil, err
	}
	return car, nil
}
