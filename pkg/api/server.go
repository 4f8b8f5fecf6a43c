// Package api serves a small debug HTTP API over a running coordinator: health probes, cache,
// memory and performance statistics, view windows, and cache clear/optimize actions.
package api

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/pprof"
	"sort"
	"sync"
	"time"

	"github.com/viewkit/viewkit/internal/cache"
	"github.com/viewkit/viewkit/internal/config"
	"github.com/viewkit/viewkit/pkg/errors"
	"github.com/viewkit/viewkit/pkg/types"
	"github.com/viewkit/viewkit/pkg/utils"
)

// Backend is what the server reports on. *coordinator.Coordinator implements it.
type Backend interface {
	CacheStats(ctx context.Context) (types.CacheStatistics, error)
	MemoryStats() types.MemoryStats
	PerformanceStats() types.PerformanceStats
	ViewIDs() []string
	VisibleWindow(ctx context.Context, viewID string) (types.Range, error)
	ClearAllCaches(ctx context.Context) error
	OptimizeAllCaches(ctx context.Context) (cache.OptimizeReport, error)
	// StoreState is the backing store breaker state, or "" when the store is not guarded.
	StoreState() string
	// StoreStats returns false when the store keeps no request counters.
	StoreStats() (types.StoreStats, bool)
}

// Health states
const (
	StatusHealthy     = "healthy"
	StatusDegraded    = "degraded"
	StatusUnavailable = "unavailable"
)

// ServerConfig configures the API server
type ServerConfig struct {
	// Address to bind the server to (e.g., "localhost:6070")
	Address string

	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration

	// Pprof mounts net/http/pprof under /debug/pprof/
	Pprof bool

	// MetricsHandler, when set, is mounted at /metrics
	MetricsHandler http.Handler

	Logger *utils.StructuredLogger
}

// DefaultServerConfig returns default server configuration
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		Address:      "localhost:6070",
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
}

// ConfigFrom converts the file configuration.
func ConfigFrom(cfg config.DebugConfig) ServerConfig {
	sc := DefaultServerConfig()
	if cfg.Address != "" {
		sc.Address = cfg.Address
	}
	sc.Pprof = cfg.Pprof
	return sc
}

// Server provides HTTP API endpoints for debugging
type Server struct {
	backend Backend
	config  ServerConfig
	logger  *utils.StructuredLogger
	handler http.Handler

	mu         sync.Mutex
	httpServer *http.Server
	listener   net.Listener
}

// NewServer creates a new API server
func NewServer(cfg ServerConfig, backend Backend) *Server {
	if cfg.Logger == nil {
		cfg.Logger = utils.NewNopLogger()
	}
	s := &Server{
		backend: backend,
		config:  cfg,
		logger:  cfg.Logger.WithComponent("debug-api"),
	}

	mux := http.NewServeMux()

	// Health endpoints
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /health/live", s.handleLiveness)

	// Statistics
	mux.HandleFunc("GET /stats", s.handleStats)
	mux.HandleFunc("GET /stats/cache", s.handleCacheStats)
	mux.HandleFunc("GET /stats/memory", s.handleMemoryStats)
	mux.HandleFunc("GET /stats/performance", s.handlePerformanceStats)
	mux.HandleFunc("GET /stats/store", s.handleStoreStats)

	// Views
	mux.HandleFunc("GET /views", s.handleViews)
	mux.HandleFunc("GET /views/{id}", s.handleView)

	// Actions
	mux.HandleFunc("POST /cache/clear", s.handleClear)
	mux.HandleFunc("POST /cache/optimize", s.handleOptimize)

	if cfg.MetricsHandler != nil {
		mux.Handle("GET /metrics", cfg.MetricsHandler)
	}
	if cfg.Pprof {
		registerPprof(mux)
	}

	s.handler = s.loggingMiddleware(mux)
	return s
}

func registerPprof(mux *http.ServeMux) {
	mux.HandleFunc("/debug/pprof/", pprof.Index)
	mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
	mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
	mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
	mux.HandleFunc("/debug/pprof/trace", pprof.Trace)
}

// Handler returns the routed handler, for mounting on an existing server.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Start listens on the configured address and serves in the background.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.httpServer != nil {
		return errors.NewError(errors.ErrCodeAlreadyStarted, "debug api already running").
			WithComponent("debug-api")
	}

	var lc net.ListenConfig
	listener, err := lc.Listen(ctx, "tcp", s.config.Address)
	if err != nil {
		return errors.NewError(errors.ErrCodeConnectionFailed, "failed to listen for debug api").
			WithComponent("debug-api").
			WithDetail("address", s.config.Address).
			WithCause(err)
	}

	s.listener = listener
	s.httpServer = &http.Server{
		Handler:           s.handler,
		ReadHeaderTimeout: s.config.ReadTimeout,
		ReadTimeout:       s.config.ReadTimeout,
		WriteTimeout:      s.config.WriteTimeout,
		IdleTimeout:       s.config.IdleTimeout,
	}

	server := s.httpServer
	go func() {
		if err := server.Serve(listener); err != nil && err != http.ErrServerClosed {
			s.logger.Error("Debug API server error", map[string]interface{}{"error": err.Error()})
		}
	}()

	s.logger.Info("Debug API listening", map[string]interface{}{"addr": listener.Addr().String()})
	return nil
}

// Addr returns the listening address, or "" when not serving.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	server := s.httpServer
	s.httpServer = nil
	s.listener = nil
	s.mu.Unlock()

	if server == nil {
		return nil
	}
	s.logger.Info("Shutting down debug API")
	return server.Shutdown(ctx)
}

// Health reports an overall status derived from memory pressure and the store breaker.
func Health(memory types.MemoryStats, storeState string) string {
	switch {
	case storeState == "OPEN":
		return StatusUnavailable
	case memory.Level == types.PressureCritical, storeState == "HALF_OPEN":
		return StatusDegraded
	default:
		return StatusHealthy
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	memory := s.backend.MemoryStats()
	storeState := s.backend.StoreState()
	status := Health(memory, storeState)

	statusCode := http.StatusOK
	switch status {
	case StatusUnavailable:
		statusCode = http.StatusServiceUnavailable
	case StatusDegraded:
		statusCode = http.StatusPartialContent
	}

	response := map[string]interface{}{
		"status":    status,
		"pressure":  memory.Level.String(),
		"timestamp": time.Now(),
	}
	if storeState != "" {
		response["store"] = storeState
	}
	s.respondJSON(w, statusCode, response)
}

func (s *Server) handleLiveness(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"alive":     true,
		"timestamp": time.Now(),
	})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	cacheStats, err := s.backend.CacheStats(r.Context())
	if err != nil {
		s.respondFailure(w, err)
		return
	}
	response := map[string]interface{}{
		"cache":       cacheStats,
		"memory":      s.backend.MemoryStats(),
		"performance": s.backend.PerformanceStats(),
		"views":       len(s.backend.ViewIDs()),
		"timestamp":   time.Now(),
	}
	if storeStats, ok := s.backend.StoreStats(); ok {
		response["store"] = storeStats
	}
	s.respondJSON(w, http.StatusOK, response)
}

func (s *Server) handleCacheStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.backend.CacheStats(r.Context())
	if err != nil {
		s.respondFailure(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, stats)
}

func (s *Server) handleMemoryStats(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, s.backend.MemoryStats())
}

func (s *Server) handlePerformanceStats(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, s.backend.PerformanceStats())
}

func (s *Server) handleStoreStats(w http.ResponseWriter, r *http.Request) {
	stats, ok := s.backend.StoreStats()
	if !ok {
		s.respondError(w, http.StatusNotFound, "store keeps no request statistics")
		return
	}
	s.respondJSON(w, http.StatusOK, stats)
}

type viewInfo struct {
	ID     string      `json:"id"`
	Window types.Range `json:"window"`
}

func (s *Server) handleViews(w http.ResponseWriter, r *http.Request) {
	ids := s.backend.ViewIDs()
	sort.Strings(ids)

	views := make([]viewInfo, 0, len(ids))
	for _, id := range ids {
		window, err := s.backend.VisibleWindow(r.Context(), id)
		if errors.HasCode(err, errors.ErrCodeViewNotFound) {
			continue // removed since ViewIDs
		}
		if err != nil {
			s.respondFailure(w, err)
			return
		}
		views = append(views, viewInfo{ID: id, Window: window})
	}

	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"views": views,
		"count": len(views),
	})
}

func (s *Server) handleView(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	window, err := s.backend.VisibleWindow(r.Context(), id)
	if err != nil {
		s.respondFailure(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, viewInfo{ID: id, Window: window})
}

func (s *Server) handleClear(w http.ResponseWriter, r *http.Request) {
	if err := s.backend.ClearAllCaches(r.Context()); err != nil {
		s.respondFailure(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"cleared":   true,
		"timestamp": time.Now(),
	})
}

func (s *Server) handleOptimize(w http.ResponseWriter, r *http.Request) {
	report, err := s.backend.OptimizeAllCaches(r.Context())
	if err != nil {
		s.respondFailure(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"pruned_preloads": report.PrunedPreloads,
		"cleared":         report.Cleared,
		"before":          report.Before,
		"after":           report.After,
	})
}

// Middleware

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.logger.Debug("Debug API request", map[string]interface{}{
			"method":   r.Method,
			"path":     r.URL.Path,
			"duration": time.Since(start).String(),
		})
	})
}

// Helper methods

func (s *Server) respondJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.logger.Warn("Error encoding JSON response", map[string]interface{}{"error": err.Error()})
	}
}

func (s *Server) respondFailure(w http.ResponseWriter, err error) {
	statusCode := http.StatusInternalServerError
	switch errors.CodeOf(err) {
	case errors.ErrCodeViewNotFound:
		statusCode = http.StatusNotFound
	case errors.ErrCodeComponentStopped:
		statusCode = http.StatusServiceUnavailable
	case errors.ErrCodeOperationCanceled:
		statusCode = http.StatusRequestTimeout
	}
	s.respondError(w, statusCode, err.Error())
}

func (s *Server) respondError(w http.ResponseWriter, statusCode int, message string) {
	s.respondJSON(w, statusCode, map[string]interface{}{
		"error":     message,
		"timestamp": time.Now(),
	})
}
