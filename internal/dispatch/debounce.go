package dispatch

import (
	"sync"
	"time"
)

// Debouncer delays actions per key. Scheduling a key again before its delay elapses replaces the
// pending action and restarts the delay.
type Debouncer struct {
	delay time.Duration

	mu      sync.Mutex
	pending map[string]*pendingAction
	seq     uint64
	stopped bool
}

type pendingAction struct {
	timer *time.Timer
	seq   uint64
}

// NewDebouncer creates a debouncer with the given delay.
func NewDebouncer(delay time.Duration) *Debouncer {
	return &Debouncer{
		delay:   delay,
		pending: make(map[string]*pendingAction),
	}
}

// Schedule runs fn after the delay unless key is rescheduled, cancelled or the debouncer is
// stopped first. fn runs on a timer goroutine. It returns false after Stop.
func (d *Debouncer) Schedule(key string, fn func()) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.stopped {
		return false
	}
	if p, ok := d.pending[key]; ok {
		p.timer.Stop()
	}

	d.seq++
	seq := d.seq
	d.pending[key] = &pendingAction{
		seq:   seq,
		timer: time.AfterFunc(d.delay, func() { d.fire(key, seq, fn) }),
	}
	return true
}

func (d *Debouncer) fire(key string, seq uint64, fn func()) {
	d.mu.Lock()
	p, ok := d.pending[key]
	// A replaced timer can still fire if Stop lost the race; the sequence check drops it.
	if !ok || p.seq != seq || d.stopped {
		d.mu.Unlock()
		return
	}
	delete(d.pending, key)
	d.mu.Unlock()

	fn()
}

// Cancel drops the pending action for key, reporting whether one existed.
func (d *Debouncer) Cancel(key string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	p, ok := d.pending[key]
	if !ok {
		return false
	}
	p.timer.Stop()
	delete(d.pending, key)
	return true
}

// Pending reports whether key has an action waiting.
func (d *Debouncer) Pending(key string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, ok := d.pending[key]
	return ok
}

// Stop cancels every pending action. Later calls to Schedule are ignored.
func (d *Debouncer) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.stopped = true
	for key, p := range d.pending {
		p.timer.Stop()
		delete(d.pending, key)
	}
}
