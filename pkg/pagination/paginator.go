// Package pagination implements incremental loading for list, grid and carousel views.
//
// Every view owns a small state machine that lives on a dispatch.Loop. Views report which item
// index just became visible; when that index is close enough to the end of what has been loaded,
// the view fetches the next batch from its Source off the loop and applies it back on the loop.
// At most one batch is in flight per view and signals that arrive meanwhile are dropped.
package pagination

import (
	"context"

	"github.com/viewkit/viewkit/internal/config"
	"github.com/viewkit/viewkit/internal/dispatch"
	"github.com/viewkit/viewkit/pkg/errors"
	"github.com/viewkit/viewkit/pkg/types"
	"github.com/viewkit/viewkit/pkg/utils"
)

// State is the load state of a view.
type State int

const (
	StateIdle State = iota
	StateLoading
	StateExhausted
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateLoading:
		return "loading"
	case StateExhausted:
		return "exhausted"
	default:
		return "unknown"
	}
}

// Options configures a view.
type Options struct {
	ID      string
	Loop    *dispatch.Loop
	Config  config.PaginationConfig
	Logger  *utils.StructuredLogger
	Metrics types.MetricsCollector
}

func (o Options) validate() (config.PaginationConfig, error) {
	if o.Loop == nil {
		return config.PaginationConfig{}, errors.NewError(errors.ErrCodeNotInitialized, "view requires a dispatch loop").
			WithComponent("pagination")
	}
	cfg := o.Config
	defaults := config.NewDefault().Pagination
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = defaults.BatchSize
	}
	if cfg.PrefetchThreshold < 0 {
		return cfg, errors.Newf(errors.ErrCodeInvalidConfig, "prefetch threshold must not be negative, got %d", cfg.PrefetchThreshold).
			WithComponent("pagination")
	}
	return cfg, nil
}

// Paginator grows a materialized prefix of its source batch by batch.
type Paginator[T any] struct {
	ld        *loader[T]
	batch     int
	threshold int

	// Loop-confined.
	source Source[T]
	items  []T
	state  State
}

// NewPaginator creates a paginator in the idle state with nothing loaded.
func NewPaginator[T any](source Source[T], opts Options) (*Paginator[T], error) {
	cfg, err := opts.validate()
	if err != nil {
		return nil, err
	}
	if source == nil {
		return nil, errors.NewError(errors.ErrCodeInvalidConfig, "paginator requires a source").
			WithComponent("pagination")
	}
	return &Paginator[T]{
		ld:        newLoader[T](opts.ID, opts.Loop, opts.Logger, opts.Metrics),
		batch:     cfg.BatchSize,
		threshold: cfg.PrefetchThreshold,
		source:    source,
		state:     StateIdle,
	}, nil
}

// ID returns the view identifier.
func (p *Paginator[T]) ID() string {
	return p.ld.id
}

// OnItemAppeared reports that item i became visible. It returns true if a batch load started.
func (p *Paginator[T]) OnItemAppeared(ctx context.Context, i int) (bool, error) {
	var started bool
	err := p.ld.do(ctx, func() error {
		started = p.evaluate(i)
		return nil
	})
	return started, err
}

func (p *Paginator[T]) evaluate(i int) bool {
	if p.state != StateIdle {
		return false
	}

	loaded := len(p.items)
	total := p.source.Len()
	if loaded >= total {
		p.state = StateExhausted
		p.ld.logger.Debug("view exhausted", map[string]interface{}{"loaded": loaded})
		return false
	}
	if i < loaded-p.threshold {
		return false
	}

	next := min(loaded+p.batch, total)
	p.state = StateLoading
	p.ld.start(p.source, loaded, next, func(items []T, err error) {
		if err != nil {
			p.state = StateIdle
			return
		}
		p.items = append(p.items, items...)
		p.state = StateIdle
		if len(p.items) >= p.source.Len() {
			p.state = StateExhausted
		}
	})
	return true
}

// VisibleWindow returns [0, loaded).
func (p *Paginator[T]) VisibleWindow(ctx context.Context) (types.Range, error) {
	var r types.Range
	err := p.ld.do(ctx, func() error {
		r = types.Range{Start: 0, End: len(p.items)}
		return nil
	})
	return r, err
}

// Items returns a copy of the loaded items.
func (p *Paginator[T]) Items(ctx context.Context) ([]T, error) {
	var items []T
	err := p.ld.do(ctx, func() error {
		items = append([]T(nil), p.items...)
		return nil
	})
	return items, err
}

// State returns the current load state.
func (p *Paginator[T]) State(ctx context.Context) (State, error) {
	var s State
	err := p.ld.do(ctx, func() error {
		s = p.state
		return nil
	})
	return s, err
}

// Reset swaps in source, drops loaded items and cancels any in-flight load. A nil source keeps the
// current one.
func (p *Paginator[T]) Reset(ctx context.Context, source Source[T]) error {
	return p.ld.do(ctx, func() error {
		p.ld.invalidate()
		if source != nil {
			p.source = source
		}
		p.items = nil
		p.state = StateIdle
		return nil
	})
}

// Close cancels the in-flight load and discards its result. Later calls fail with
// COMPONENT_STOPPED.
func (p *Paginator[T]) Close() {
	p.ld.close()
}
