// Package dispatch provides the single-goroutine executor that owns all cache and pagination
// state, and a restartable debouncer for delayed actions.
package dispatch

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/viewkit/viewkit/pkg/errors"
	"github.com/viewkit/viewkit/pkg/utils"
)

const defaultQueueSize = 256

// Loop runs submitted tasks one at a time on a dedicated goroutine. State that is only touched
// from inside tasks needs no locking.
//
// Tasks must not call Do on the same loop; use Post to hand work back from other goroutines.
type Loop struct {
	name   string
	tasks  chan func()
	stopCh chan struct{}
	done   chan struct{}

	closed   atomic.Bool
	submitMu sync.RWMutex

	executed atomic.Uint64
	panics   atomic.Uint64

	logger *utils.StructuredLogger
}

// NewLoop starts a loop. queueSize <= 0 selects the default.
func NewLoop(name string, queueSize int, logger *utils.StructuredLogger) *Loop {
	if queueSize <= 0 {
		queueSize = defaultQueueSize
	}
	if logger == nil {
		logger = utils.NewNopLogger()
	}

	l := &Loop{
		name:   name,
		tasks:  make(chan func(), queueSize),
		stopCh: make(chan struct{}),
		done:   make(chan struct{}),
		logger: logger.WithComponent("dispatch").WithField("loop", name),
	}
	go l.run()
	return l
}

func (l *Loop) run() {
	defer close(l.done)

	for {
		select {
		case <-l.stopCh:
			// Drain what was accepted before Close so waiting callers get their results.
			for {
				select {
				case task := <-l.tasks:
					task()
				default:
					return
				}
			}
		case task := <-l.tasks:
			task()
		}
	}
}

// Do runs fn on the loop and waits for it. If ctx is done before fn starts, fn is skipped and an
// OPERATION_CANCELED error is returned. A panic in fn is returned as PANIC_RECOVERED.
func (l *Loop) Do(ctx context.Context, fn func() error) error {
	if err := ctx.Err(); err != nil {
		return canceled(err)
	}

	result := make(chan error, 1)
	task := func() {
		if err := ctx.Err(); err != nil {
			result <- canceled(err)
			return
		}
		result <- l.safeCall(fn)
	}

	if err := l.submit(ctx, task); err != nil {
		return err
	}

	// Accepted tasks always run, either normally or while draining on Close.
	return <-result
}

// Post enqueues fn without waiting. Panics are logged and counted.
func (l *Loop) Post(fn func()) error {
	return l.submit(context.Background(), func() {
		if err := l.safeCall(func() error { fn(); return nil }); err != nil {
			l.logger.Error("posted task failed", map[string]interface{}{
				"error": err.Error(),
			})
		}
	})
}

func (l *Loop) submit(ctx context.Context, task func()) error {
	l.submitMu.RLock()
	defer l.submitMu.RUnlock()

	if l.closed.Load() {
		return l.stoppedError()
	}

	select {
	case l.tasks <- task:
		return nil
	case <-l.stopCh:
		return l.stoppedError()
	case <-ctx.Done():
		return canceled(ctx.Err())
	}
}

func (l *Loop) safeCall(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			l.panics.Add(1)
			err = errors.Newf(errors.ErrCodePanicRecovered, "task panicked: %v", r).
				WithComponent("dispatch").
				WithOperation(l.name).
				WithStack()
			l.logger.Error("recovered panic in loop task", map[string]interface{}{
				"panic": fmt.Sprint(r),
			})
		}
	}()
	l.executed.Add(1)
	return fn()
}

// Close stops accepting tasks, runs what was already queued and waits for the goroutine to exit.
// It is idempotent.
func (l *Loop) Close() {
	if !l.closed.CompareAndSwap(false, true) {
		<-l.done
		return
	}

	l.submitMu.Lock()
	close(l.stopCh)
	l.submitMu.Unlock()

	<-l.done
	l.logger.Debug("loop stopped", map[string]interface{}{
		"executed": l.executed.Load(),
		"panics":   l.panics.Load(),
	})
}

// Closed reports whether Close has been called.
func (l *Loop) Closed() bool {
	return l.closed.Load()
}

// Stats returns the number of tasks executed and panics recovered.
func (l *Loop) Stats() (executed, panics uint64) {
	return l.executed.Load(), l.panics.Load()
}

func (l *Loop) stoppedError() error {
	return errors.NewError(errors.ErrCodeComponentStopped, "loop is closed").
		WithComponent("dispatch").
		WithOperation(l.name)
}

func canceled(cause error) error {
	return errors.Wrap(errors.ErrCodeOperationCanceled, "operation canceled", cause).
		WithComponent("dispatch")
}
