package cache

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"

	"github.com/viewkit/viewkit/internal/config"
	"github.com/viewkit/viewkit/internal/dispatch"
	"github.com/viewkit/viewkit/pkg/errors"
	"github.com/viewkit/viewkit/pkg/types"
	"github.com/viewkit/viewkit/pkg/utils"
)

// Clear targets reported to metrics.
const (
	ClearTargetAll       = "all"
	ClearTargetResources = "resources"
	ClearTargetBundles   = "bundles"
	ClearTargetOptimize  = "optimize"
)

// Options configures a ResourceCache.
type Options struct {
	Store   types.Store
	Loop    *dispatch.Loop
	Config  config.CacheConfig
	Logger  *utils.StructuredLogger
	Metrics types.MetricsCollector
}

// ResourceCache maps (name, kind, scope) keys to loaded resources. Entries live until they are
// cleared; there is no eviction.
//
// The maps and the generation counter are owned by the dispatch loop. Fetching and decoding run
// off the loop and the result is handed back through Loop.Do.
type ResourceCache struct {
	loop    *dispatch.Loop
	store   types.Store
	decoder *Decoder
	logger  *utils.StructuredLogger
	metrics types.MetricsCollector

	capacity     int
	preloadKinds []types.ResourceKind
	concurrency  int
	limiter      *rate.Limiter

	// Loop-confined state.
	images     map[types.CacheKey]*types.Resource
	colors     map[types.CacheKey]*types.Resource
	fonts      map[types.CacheKey]*types.Resource
	bundles    map[types.CacheKey]*types.Resource
	preloaded  map[preloadKey]struct{}
	generation uint64

	enabled    atomic.Bool
	hits       atomic.Uint64
	misses     atomic.Uint64
	loadErrors atomic.Uint64

	group    singleflight.Group
	lifetime context.Context
	cancel   context.CancelFunc
}

type preloadKey struct {
	name  string
	scope types.ScopeID
}

// PreloadReport summarises a Preload call.
type PreloadReport struct {
	Requested int
	Skipped   int
	Loaded    int
	Missing   int
	Failed    int
	Canceled  int
}

// OptimizeReport summarises an Optimize call.
type OptimizeReport struct {
	PrunedPreloads int
	Cleared        bool
	Before         types.CacheStatistics
	After          types.CacheStatistics
}

// NewResourceCache creates a cache reading from opts.Store.
func NewResourceCache(opts Options) (*ResourceCache, error) {
	if opts.Store == nil {
		return nil, errors.NewError(errors.ErrCodeInvalidConfig, "resource cache requires a store").
			WithComponent("resource-cache")
	}
	if opts.Loop == nil {
		return nil, errors.NewError(errors.ErrCodeNotInitialized, "resource cache requires a dispatch loop").
			WithComponent("resource-cache")
	}
	if opts.Logger == nil {
		opts.Logger = utils.NewNopLogger()
	}
	if opts.Metrics == nil {
		opts.Metrics = types.NoopMetrics{}
	}

	cfg := opts.Config
	capacity := cfg.Capacity
	if capacity <= 0 {
		capacity = config.NewDefault().Cache.Capacity
	}

	kinds := make([]types.ResourceKind, 0, len(cfg.Preload.Kinds))
	for _, name := range cfg.Preload.Kinds {
		kind, err := types.ParseResourceKind(name)
		if err != nil {
			return nil, errors.Wrap(errors.ErrCodeInvalidConfig, "invalid preload kind", err).
				WithComponent("resource-cache")
		}
		kinds = append(kinds, kind)
	}
	if len(kinds) == 0 {
		kinds = []types.ResourceKind{types.KindImage, types.KindColor}
	}

	concurrency := cfg.Preload.Concurrency
	if concurrency <= 0 {
		concurrency = 4
	}

	var limiter *rate.Limiter
	if cfg.Preload.RateLimit > 0 {
		burst := cfg.Preload.Burst
		if burst <= 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.Preload.RateLimit), burst)
	}

	lifetime, cancel := context.WithCancel(context.Background())
	c := &ResourceCache{
		loop:         opts.Loop,
		store:        opts.Store,
		decoder:      NewDecoder(cfg),
		logger:       opts.Logger.WithComponent("resource-cache"),
		metrics:      opts.Metrics,
		capacity:     capacity,
		preloadKinds: kinds,
		concurrency:  concurrency,
		limiter:      limiter,
		images:       make(map[types.CacheKey]*types.Resource),
		colors:       make(map[types.CacheKey]*types.Resource),
		fonts:        make(map[types.CacheKey]*types.Resource),
		bundles:      make(map[types.CacheKey]*types.Resource),
		preloaded:    make(map[preloadKey]struct{}),
		lifetime:     lifetime,
		cancel:       cancel,
	}
	c.enabled.Store(true)
	return c, nil
}

// SetEnabled toggles storing loaded resources. Lookups still load when disabled.
func (c *ResourceCache) SetEnabled(enabled bool) {
	c.enabled.Store(enabled)
}

// Enabled reports whether loaded resources are stored.
func (c *ResourceCache) Enabled() bool {
	return c.enabled.Load()
}

// Get returns the resource for key, loading it on a miss. Absent resources and load failures
// both return false; use Load to tell them apart.
func (c *ResourceCache) Get(ctx context.Context, key types.CacheKey) (*types.Resource, bool) {
	outcome := c.Load(ctx, key)
	return outcome.Resource, outcome.OK()
}

// Load returns the resource for key with an explicit outcome.
func (c *ResourceCache) Load(ctx context.Context, key types.CacheKey) types.LoadOutcome {
	return c.load(ctx, key, true)
}

func (c *ResourceCache) load(ctx context.Context, key types.CacheKey, track bool) types.LoadOutcome {
	var (
		cached *types.Resource
		gen    uint64
	)
	err := c.loop.Do(ctx, func() error {
		cached = c.lookup(key)
		gen = c.generation
		return nil
	})
	if err != nil {
		return c.interrupted(key, err)
	}

	if cached != nil {
		if track {
			c.hits.Add(1)
			c.metrics.RecordCacheRequest(key.Kind, types.OutcomeHit)
		}
		return types.LoadOutcome{Kind: types.OutcomeHit, Resource: cached}
	}
	if track {
		c.misses.Add(1)
	}

	// Concurrent misses for the same key and generation share one fetch. The fetch runs under the
	// cache lifetime so one caller giving up does not fail the others.
	ch := c.group.DoChan(flightKey(gen, key), func() (interface{}, error) {
		return c.fetch(key)
	})

	var res singleflight.Result
	select {
	case <-ctx.Done():
		c.metrics.RecordCacheRequest(key.Kind, types.OutcomeCanceled)
		return types.LoadOutcome{Kind: types.OutcomeCanceled, Err: ctx.Err()}
	case res = <-ch:
	}

	if res.Err != nil {
		return c.failed(key, res.Err)
	}

	loaded := res.Val.(*types.Resource)
	var result *types.Resource
	err = c.loop.Do(ctx, func() error {
		if existing := c.lookup(key); existing != nil {
			result = existing
			return nil
		}
		result = loaded
		// A clear since the lookup means this load belongs to the old contents.
		if !c.enabled.Load() || c.generation != gen {
			return nil
		}
		c.put(key, loaded)
		return nil
	})
	if err != nil {
		return c.interrupted(key, err)
	}

	c.metrics.RecordCacheRequest(key.Kind, types.OutcomeLoaded)
	return types.LoadOutcome{Kind: types.OutcomeLoaded, Resource: result}
}

func (c *ResourceCache) fetch(key types.CacheKey) (*types.Resource, error) {
	start := time.Now()
	value, size, err := c.decoder.Resolve(c.lifetime, c.store, key)
	c.metrics.RecordLoadDuration(key.Kind, time.Since(start))
	if err != nil {
		return nil, err
	}
	return &types.Resource{
		Key:      key,
		Value:    value,
		Size:     size,
		LoadedAt: time.Now(),
	}, nil
}

func (c *ResourceCache) failed(key types.CacheKey, err error) types.LoadOutcome {
	if errors.IsNotFound(err) {
		c.metrics.RecordCacheRequest(key.Kind, types.OutcomeMiss)
		c.logger.Debug("resource not found", map[string]interface{}{
			"key": key.String(),
		})
		return types.LoadOutcome{Kind: types.OutcomeMiss}
	}

	c.loadErrors.Add(1)
	c.metrics.RecordCacheRequest(key.Kind, types.OutcomeMiss)
	c.metrics.RecordLoadError(key.Kind)
	c.logger.Warn("resource load failed", map[string]interface{}{
		"key":   key.String(),
		"error": err.Error(),
	})
	return types.LoadOutcome{Kind: types.OutcomeMiss, Err: err}
}

// interrupted maps a loop error to an outcome: cancellation stays cancellation, a stopped loop
// is a failed miss.
func (c *ResourceCache) interrupted(key types.CacheKey, err error) types.LoadOutcome {
	if errors.HasCode(err, errors.ErrCodeOperationCanceled) {
		c.metrics.RecordCacheRequest(key.Kind, types.OutcomeCanceled)
		return types.LoadOutcome{Kind: types.OutcomeCanceled, Err: err}
	}
	c.metrics.RecordCacheRequest(key.Kind, types.OutcomeMiss)
	return types.LoadOutcome{Kind: types.OutcomeMiss, Err: err}
}

func flightKey(gen uint64, key types.CacheKey) string {
	return fmt.Sprintf("%d\x00%d\x00%s\x00%s", gen, key.Kind, key.Scope, key.Name)
}

// Preload loads the configured preload kinds for every name in scope. Names preloaded before,
// and keys already cached, are skipped. A name whose load failed is not marked, so a later
// Preload tries it again.
func (c *ResourceCache) Preload(ctx context.Context, names []string, scope types.ScopeID) PreloadReport {
	report := PreloadReport{Requested: len(names)}

	var (
		pending []string
		keys    []types.CacheKey
		gen     uint64
	)
	err := c.loop.Do(ctx, func() error {
		gen = c.generation
		seen := make(map[string]struct{}, len(names))
		for _, name := range names {
			if _, dup := seen[name]; dup {
				continue
			}
			seen[name] = struct{}{}
			if _, ok := c.preloaded[preloadKey{name, scope}]; ok {
				continue
			}
			pending = append(pending, name)
			for _, kind := range c.preloadKinds {
				key := types.NewCacheKey(name, kind, scope)
				if c.lookup(key) == nil {
					keys = append(keys, key)
				}
			}
		}
		return nil
	})
	if err != nil {
		report.Canceled = len(names)
		return report
	}
	report.Skipped = len(names) - len(pending)

	var (
		mu       sync.Mutex
		canceled bool
		failed   = make(map[string]struct{})
	)
	var g errgroup.Group
	g.SetLimit(c.concurrency)
	for _, key := range keys {
		g.Go(func() error {
			if c.limiter != nil {
				if err := c.limiter.Wait(ctx); err != nil {
					mu.Lock()
					report.Canceled++
					canceled = true
					mu.Unlock()
					return nil
				}
			}

			outcome := c.load(ctx, key, false)

			mu.Lock()
			defer mu.Unlock()
			switch {
			case outcome.OK():
				report.Loaded++
			case outcome.Kind == types.OutcomeCanceled:
				report.Canceled++
				canceled = true
			case outcome.Err != nil:
				report.Failed++
				failed[key.Name] = struct{}{}
			default:
				report.Missing++
			}
			return nil
		})
	}
	_ = g.Wait()

	if !canceled && len(pending) > 0 {
		// Marking is skipped after a clear so the names are preloaded again. Names with a failed
		// load stay unmarked so the next preload retries them; plain misses are marked.
		_ = c.loop.Do(ctx, func() error {
			if c.generation != gen || !c.enabled.Load() {
				return nil
			}
			for _, name := range pending {
				if _, ok := failed[name]; ok {
					continue
				}
				c.preloaded[preloadKey{name, scope}] = struct{}{}
			}
			c.publish()
			return nil
		})
	}

	c.metrics.RecordPreload(report.Requested, report.Loaded)
	c.logger.Debug("preload finished", map[string]interface{}{
		"scope":     string(scope),
		"requested": report.Requested,
		"skipped":   report.Skipped,
		"loaded":    report.Loaded,
		"missing":   report.Missing,
		"failed":    report.Failed,
		"canceled":  report.Canceled,
	})
	return report
}

// IsPreloaded reports whether name was preloaded in scope since the last clear.
func (c *ResourceCache) IsPreloaded(ctx context.Context, name string, scope types.ScopeID) (bool, error) {
	var ok bool
	err := c.loop.Do(ctx, func() error {
		_, ok = c.preloaded[preloadKey{name, scope}]
		return nil
	})
	return ok, err
}

// ClearAll drops every entry and the preloaded-name set.
func (c *ResourceCache) ClearAll(ctx context.Context) error {
	return c.clear(ctx, ClearTargetAll, func() {
		c.resetResources()
		c.bundles = make(map[types.CacheKey]*types.Resource)
	})
}

// ClearResources drops images, colors, fonts and the preloaded-name set.
func (c *ResourceCache) ClearResources(ctx context.Context) error {
	return c.clear(ctx, ClearTargetResources, c.resetResources)
}

// ClearBundles drops bundle handles.
func (c *ResourceCache) ClearBundles(ctx context.Context) error {
	return c.clear(ctx, ClearTargetBundles, func() {
		c.bundles = make(map[types.CacheKey]*types.Resource)
	})
}

func (c *ResourceCache) clear(ctx context.Context, target string, reset func()) error {
	var dropped int
	err := c.loop.Do(ctx, func() error {
		before := c.snapshot()
		reset()
		c.generation++
		after := c.snapshot()
		dropped = before.TotalEntries() - after.TotalEntries()
		c.publish()
		return nil
	})
	if err != nil {
		return errors.Wrap(errors.ErrCodeCleanupFailed, "cache clear failed", err).
			WithComponent("resource-cache").
			WithOperation("clear_" + target)
	}

	c.metrics.RecordCacheClear(target)
	c.logger.Info("cache cleared", map[string]interface{}{
		"target":  target,
		"dropped": dropped,
	})
	return nil
}

func (c *ResourceCache) resetResources() {
	c.images = make(map[types.CacheKey]*types.Resource)
	c.colors = make(map[types.CacheKey]*types.Resource)
	c.fonts = make(map[types.CacheKey]*types.Resource)
	c.preloaded = make(map[preloadKey]struct{})
}

// Optimize prunes preloaded names whose resources are no longer cached and, once utilization
// reaches 1, clears every map including bundles. It never evicts individual entries.
func (c *ResourceCache) Optimize(ctx context.Context) (OptimizeReport, error) {
	var report OptimizeReport
	err := c.loop.Do(ctx, func() error {
		report.Before = c.snapshot()

		for pk := range c.preloaded {
			cached := false
			for _, kind := range c.preloadKinds {
				if c.lookup(types.NewCacheKey(pk.name, kind, pk.scope)) != nil {
					cached = true
					break
				}
			}
			if !cached {
				delete(c.preloaded, pk)
				report.PrunedPreloads++
			}
		}

		// Utilization counts bundles, so reaching capacity drops them too; otherwise bundles alone
		// would keep triggering a clear of everything else.
		if report.Before.Utilization >= 1 {
			c.resetResources()
			c.bundles = make(map[types.CacheKey]*types.Resource)
			c.generation++
			report.Cleared = true
		}

		report.After = c.snapshot()
		c.publish()
		return nil
	})
	if err != nil {
		return report, errors.Wrap(errors.ErrCodeCleanupFailed, "cache optimize failed", err).
			WithComponent("resource-cache").
			WithOperation("optimize")
	}

	if report.Cleared {
		c.metrics.RecordCacheClear(ClearTargetOptimize)
	}
	c.logger.Info("cache optimized", map[string]interface{}{
		"pruned_preloads": report.PrunedPreloads,
		"cleared":         report.Cleared,
		"utilization":     report.Before.Utilization,
	})
	return report, nil
}

// Stats returns a snapshot of the cache contents and counters.
func (c *ResourceCache) Stats(ctx context.Context) (types.CacheStatistics, error) {
	var stats types.CacheStatistics
	err := c.loop.Do(ctx, func() error {
		stats = c.snapshot()
		return nil
	})
	return stats, err
}

// Counts implements types.HitCounter.
func (c *ResourceCache) Counts() (hits, misses uint64) {
	return c.hits.Load(), c.misses.Load()
}

// Close cancels in-flight backing-store fetches. The loop is owned by the caller.
func (c *ResourceCache) Close() {
	c.cancel()
}

func (c *ResourceCache) mapFor(kind types.ResourceKind) map[types.CacheKey]*types.Resource {
	switch kind {
	case types.KindImage:
		return c.images
	case types.KindColor:
		return c.colors
	case types.KindFont:
		return c.fonts
	case types.KindBundle:
		return c.bundles
	default:
		return nil
	}
}

func (c *ResourceCache) lookup(key types.CacheKey) *types.Resource {
	return c.mapFor(key.Kind)[key]
}

func (c *ResourceCache) put(key types.CacheKey, res *types.Resource) {
	if m := c.mapFor(key.Kind); m != nil {
		m[key] = res
		c.publish()
	}
}

func (c *ResourceCache) snapshot() types.CacheStatistics {
	stats := types.CacheStatistics{
		Images:         len(c.images),
		Colors:         len(c.colors),
		Fonts:          len(c.fonts),
		Bundles:        len(c.bundles),
		PreloadedNames: len(c.preloaded),
		Capacity:       c.capacity,
		Hits:           c.hits.Load(),
		Misses:         c.misses.Load(),
		LoadErrors:     c.loadErrors.Load(),
	}
	stats.ResourceEntries = stats.Images + stats.Colors + stats.Fonts
	stats.Utilization = float64(stats.TotalEntries()) / float64(c.capacity)
	if total := stats.Hits + stats.Misses; total > 0 {
		stats.HitRate = float64(stats.Hits) / float64(total)
	}
	return stats
}

func (c *ResourceCache) publish() {
	c.metrics.SetCacheStats(c.snapshot())
}
