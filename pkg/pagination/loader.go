package pagination

import (
	"context"
	"sync"
	"time"

	"github.com/viewkit/viewkit/internal/dispatch"
	"github.com/viewkit/viewkit/pkg/errors"
	"github.com/viewkit/viewkit/pkg/types"
	"github.com/viewkit/viewkit/pkg/utils"
)

// loader runs one slice fetch at a time for a view and hands the result back on the loop.
// epoch, cancel and closed are loop-confined.
type loader[T any] struct {
	id      string
	loop    *dispatch.Loop
	logger  *utils.StructuredLogger
	metrics types.MetricsCollector

	lifetime  context.Context
	terminate context.CancelFunc
	wg        sync.WaitGroup

	epoch  uint64
	cancel context.CancelFunc
	closed bool
}

func newLoader[T any](id string, loop *dispatch.Loop, logger *utils.StructuredLogger, metrics types.MetricsCollector) *loader[T] {
	if logger == nil {
		logger = utils.NewNopLogger()
	}
	if metrics == nil {
		metrics = types.NoopMetrics{}
	}
	lifetime, terminate := context.WithCancel(context.Background())
	return &loader[T]{
		id:        id,
		loop:      loop,
		logger:    logger.WithComponent("pagination").WithField("view", id),
		metrics:   metrics,
		lifetime:  lifetime,
		terminate: terminate,
	}
}

// start fetches [from, to) from src on a new goroutine. done runs on the loop unless the load was
// superseded by invalidate or close. Must be called on the loop.
func (l *loader[T]) start(src Source[T], from, to int, done func(items []T, err error)) {
	ctx, cancel := context.WithCancel(l.lifetime)
	l.cancel = cancel
	epoch := l.epoch

	l.wg.Add(1)
	go func() {
		defer l.wg.Done()
		defer cancel()

		started := time.Now()
		items, err := src.Slice(ctx, from, to)
		if err == nil && len(items) != to-from {
			err = errors.Newf(errors.ErrCodeSourceRead, "source returned %d items for [%d, %d)", len(items), from, to).
				WithComponent("pagination")
		}

		postErr := l.loop.Post(func() {
			if l.closed || l.epoch != epoch {
				l.logger.Debug("discarding superseded batch", map[string]interface{}{
					"from": from,
					"to":   to,
				})
				return
			}
			l.cancel = nil
			if err != nil {
				l.logger.Warn("batch load failed", map[string]interface{}{
					"from":  from,
					"to":    to,
					"error": err.Error(),
				})
			} else {
				l.metrics.RecordPaginationBatch(l.id, len(items))
				l.logger.Debug("batch loaded", map[string]interface{}{
					"from":     from,
					"to":       to,
					"duration": time.Since(started).String(),
				})
			}
			done(items, err)
		})
		if postErr != nil {
			l.logger.Debug("loop stopped before batch was applied", map[string]interface{}{
				"error": postErr.Error(),
			})
		}
	}()
}

// invalidate cancels the in-flight load and makes its result stale. Must be called on the loop.
func (l *loader[T]) invalidate() {
	l.epoch++
	if l.cancel != nil {
		l.cancel()
		l.cancel = nil
	}
}

// close stops the loader and waits for the in-flight fetch to return.
func (l *loader[T]) close() {
	_ = l.loop.Do(context.Background(), func() error {
		l.closed = true
		l.invalidate()
		return nil
	})
	l.terminate()
	l.wg.Wait()
}

func (l *loader[T]) do(ctx context.Context, fn func() error) error {
	return l.loop.Do(ctx, func() error {
		if l.closed {
			return errors.NewError(errors.ErrCodeComponentStopped, "view is closed").
				WithComponent("pagination").
				WithDetail("view", l.id)
		}
		return fn()
	})
}
