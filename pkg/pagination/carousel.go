package pagination

import (
	"context"

	"github.com/viewkit/viewkit/pkg/errors"
	"github.com/viewkit/viewkit/pkg/types"
)

// Carousel keeps a window of items centred on the current index materialized. The window is
// [current - threshold, current + threshold] clamped to the source. It never becomes exhausted.
type Carousel[T any] struct {
	ld        *loader[T]
	threshold int

	// Loop-confined.
	source  Source[T]
	current int
	window  types.Range
	items   []T
	state   State
}

// NewCarousel creates a carousel with an empty window. BatchSize is not used.
func NewCarousel[T any](source Source[T], opts Options) (*Carousel[T], error) {
	cfg, err := opts.validate()
	if err != nil {
		return nil, err
	}
	if source == nil {
		return nil, errors.NewError(errors.ErrCodeInvalidConfig, "carousel requires a source").
			WithComponent("pagination")
	}
	return &Carousel[T]{
		ld:        newLoader[T](opts.ID, opts.Loop, opts.Logger, opts.Metrics),
		threshold: cfg.PrefetchThreshold,
		source:    source,
		current:   -1,
		state:     StateIdle,
	}, nil
}

// ID returns the view identifier.
func (c *Carousel[T]) ID() string {
	return c.ld.id
}

// OnItemAppeared makes i the current index and loads the window around it if that differs from
// the loaded one. Indices outside the source are ignored.
func (c *Carousel[T]) OnItemAppeared(ctx context.Context, i int) (bool, error) {
	var started bool
	err := c.ld.do(ctx, func() error {
		started = c.evaluate(i)
		return nil
	})
	return started, err
}

func (c *Carousel[T]) evaluate(i int) bool {
	total := c.source.Len()
	if i < 0 || i >= total {
		return false
	}
	c.current = i
	if c.state != StateIdle {
		return false
	}

	want := windowAround(i, c.threshold, total)
	if want == c.window {
		return false
	}

	c.state = StateLoading
	c.ld.start(c.source, want.Start, want.End, func(items []T, err error) {
		c.state = StateIdle
		if err != nil {
			return
		}
		c.window = want
		c.items = items
	})
	return true
}

func windowAround(i, threshold, total int) types.Range {
	return types.Range{
		Start: max(i-threshold, 0),
		End:   min(i+threshold+1, total),
	}
}

// VisibleWindow returns the loaded window.
func (c *Carousel[T]) VisibleWindow(ctx context.Context) (types.Range, error) {
	var r types.Range
	err := c.ld.do(ctx, func() error {
		r = c.window
		return nil
	})
	return r, err
}

// Items returns a copy of the items in the loaded window.
func (c *Carousel[T]) Items(ctx context.Context) ([]T, error) {
	var items []T
	err := c.ld.do(ctx, func() error {
		items = append([]T(nil), c.items...)
		return nil
	})
	return items, err
}

// Current returns the last index reported, or -1.
func (c *Carousel[T]) Current(ctx context.Context) (int, error) {
	var cur int
	err := c.ld.do(ctx, func() error {
		cur = c.current
		return nil
	})
	return cur, err
}

// State returns StateIdle or StateLoading.
func (c *Carousel[T]) State(ctx context.Context) (State, error) {
	var s State
	err := c.ld.do(ctx, func() error {
		s = c.state
		return nil
	})
	return s, err
}

// Reset swaps in source and clears the window.
func (c *Carousel[T]) Reset(ctx context.Context, source Source[T]) error {
	return c.ld.do(ctx, func() error {
		c.ld.invalidate()
		if source != nil {
			c.source = source
		}
		c.current = -1
		c.window = types.Range{}
		c.items = nil
		c.state = StateIdle
		return nil
	})
}

// Close cancels the in-flight load and discards its result.
func (c *Carousel[T]) Close() {
	c.ld.close()
}
