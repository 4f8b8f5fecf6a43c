package cache

import (
	"context"
	"sync"
	"time"

	"github.com/viewkit/viewkit/internal/dispatch"
	"github.com/viewkit/viewkit/pkg/types"
	"github.com/viewkit/viewkit/pkg/utils"
)

// PreloadScheduler batches preload requests. Immediate requests run right away; scheduled ones
// are debounced per scope so only the most recent request for a scope runs.
type PreloadScheduler struct {
	cache     *ResourceCache
	debouncer *dispatch.Debouncer
	logger    *utils.StructuredLogger

	lifetime context.Context
	cancel   context.CancelFunc

	mu      sync.Mutex
	stopped bool
	wg      sync.WaitGroup

	lastReport PreloadReport
	runs       uint64
}

// NewPreloadScheduler creates a scheduler that debounces scheduled requests by delay.
func NewPreloadScheduler(cache *ResourceCache, delay time.Duration, logger *utils.StructuredLogger) *PreloadScheduler {
	if logger == nil {
		logger = utils.NewNopLogger()
	}
	if delay <= 0 {
		delay = 150 * time.Millisecond
	}
	lifetime, cancel := context.WithCancel(context.Background())
	return &PreloadScheduler{
		cache:     cache,
		debouncer: dispatch.NewDebouncer(delay),
		logger:    logger.WithComponent("preload"),
		lifetime:  lifetime,
		cancel:    cancel,
	}
}

// Preload runs a preload immediately and waits for it.
func (s *PreloadScheduler) Preload(ctx context.Context, names []string, scope types.ScopeID) PreloadReport {
	report := s.cache.Preload(ctx, names, scope)
	s.record(report)
	return report
}

// Schedule replaces any pending request for scope with names and starts the delay again. It
// returns false once the scheduler is stopped.
func (s *PreloadScheduler) Schedule(names []string, scope types.ScopeID) bool {
	batch := append([]string(nil), names...)
	return s.debouncer.Schedule(string(scope), func() {
		s.mu.Lock()
		if s.stopped {
			s.mu.Unlock()
			return
		}
		s.wg.Add(1)
		s.mu.Unlock()
		defer s.wg.Done()

		s.record(s.cache.Preload(s.lifetime, batch, scope))
	})
}

// Cancel drops the pending request for scope.
func (s *PreloadScheduler) Cancel(scope types.ScopeID) bool {
	return s.debouncer.Cancel(string(scope))
}

// Pending reports whether scope has a request waiting for its delay.
func (s *PreloadScheduler) Pending(scope types.ScopeID) bool {
	return s.debouncer.Pending(string(scope))
}

// LastReport returns the most recent report and the number of completed runs.
func (s *PreloadScheduler) LastReport() (PreloadReport, uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastReport, s.runs
}

// Stop drops pending requests, cancels running ones and waits for them to return.
func (s *PreloadScheduler) Stop() {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.stopped = true
	s.mu.Unlock()

	s.debouncer.Stop()
	s.cancel()
	s.wg.Wait()
	s.logger.Debug("preload scheduler stopped")
}

func (s *PreloadScheduler) record(report PreloadReport) {
	s.mu.Lock()
	s.lastReport = report
	s.runs++
	s.mu.Unlock()
}
