// Package api exposes the settlement engine over HTTP: one route per engine
// operation, JSON in and out, with the engine's error classes mapped onto
// HTTP status codes. A websocket hub streams engine events to subscribers.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"golang.org/x/time/rate"

	"github.com/clearmesh/clearmesh/internal/auth"
	"github.com/clearmesh/clearmesh/internal/config"
	"github.com/clearmesh/clearmesh/internal/logging"
	"github.com/clearmesh/clearmesh/internal/metrics"
	"github.com/clearmesh/clearmesh/internal/settlement"
)

// callerHeader names the request header carrying the caller's address.
// Signature-based caller authentication is handled by the gateway in front
// of this node; the engine's role checks are the authorization boundary here.
const callerHeader = "X-Caller-Address"

// Server is the node's HTTP API server.
type Server struct {
	config  config.APIConfig
	engine  *settlement.Engine
	metrics *metrics.Collector
	wsHub   *EventHub
	authz   *auth.Registry

	httpServer *http.Server
	mu         sync.RWMutex
	running    bool

	rateLimiters    sync.Map
	rateLimitCtx    context.Context
	rateLimitCancel context.CancelFunc
}

type rateLimiterEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewServer creates an API server over the given engine. The metrics
// collector and hub are optional.
func NewServer(cfg config.APIConfig, engine *settlement.Engine, collector *metrics.Collector, hub *EventHub) *Server {
	return &Server{
		config:  cfg,
		engine:  engine,
		metrics: collector,
		wsHub:   hub,
	}
}

// Start begins serving. It returns once the listener is bound; serving
// continues in the background until Stop.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return fmt.Errorf("api server already running")
	}

	s.rateLimitCtx, s.rateLimitCancel = context.WithCancel(context.Background())
	s.startRateLimiterCleanup()

	if s.wsHub != nil {
		s.wsHub.Start(ctx)
	}

	listener, err := net.Listen("tcp", s.config.ListenAddr)
	if err != nil {
		s.rateLimitCancel()
		return fmt.Errorf("failed to listen on %s: %w", s.config.ListenAddr, err)
	}

	s.httpServer = &http.Server{
		Handler:      s.buildRouter(),
		ReadTimeout:  time.Duration(s.config.ReadTimeoutSecs) * time.Second,
		WriteTimeout: time.Duration(s.config.WriteTimeoutSecs) * time.Second,
		IdleTimeout:  time.Duration(s.config.IdleTimeoutSecs) * time.Second,
	}

	go func() {
		if err := s.httpServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logging.Error("api server terminated", logging.Err(err), logging.Component("api"))
		}
	}()

	s.running = true
	logging.Info("api server started", "addr", s.config.ListenAddr, logging.Component("api"))
	return nil
}

// Stop shuts the server down gracefully.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return nil
	}
	s.running = false

	if s.rateLimitCancel != nil {
		s.rateLimitCancel()
	}
	if s.wsHub != nil {
		s.wsHub.Stop()
	}
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shut down api server: %w", err)
	}
	logging.Info("api server stopped", logging.Component("api"))
	return nil
}

func (s *Server) buildRouter() http.Handler {
	mux := http.NewServeMux()

	// Orders
	mux.HandleFunc("/v1/orders", s.withMiddleware(s.handleOrders))
	mux.HandleFunc("/v1/orders/", s.withMiddleware(s.handleOrderByID))

	// Proposals
	mux.HandleFunc("/v1/proposals", s.withMiddleware(s.handleProposals))
	mux.HandleFunc("/v1/proposals/", s.withMiddleware(s.handleProposalByID))

	// Provider intents
	mux.HandleFunc("/v1/intents", s.withMiddleware(s.handleIntents))
	mux.HandleFunc("/v1/intents/", s.withMiddleware(s.handleIntentByProvider))

	// Reputation and trust
	mux.HandleFunc("/v1/providers/", s.withMiddleware(s.handleProviderByAddress))

	// Integrators
	mux.HandleFunc("/v1/integrators", s.withMiddleware(s.handleIntegrators))
	mux.HandleFunc("/v1/integrators/", s.withMiddleware(s.handleIntegratorByAddress))

	// Replay-protection support
	mux.HandleFunc("/v1/nonce/", s.withMiddleware(s.handleNonce))

	// Role and lock management, only when an in-process registry is wired
	if s.authz != nil {
		mux.HandleFunc("/v1/admin/roles", s.withMiddleware(s.handleAdminRoles))
		mux.HandleFunc("/v1/admin/lock", s.withMiddleware(s.handleAdminLock))
		mux.HandleFunc("/v1/admin/unlock", s.withMiddleware(s.handleAdminUnlock))
	}

	// Health and metrics (no rate limiting, probes hit these hard)
	mux.HandleFunc("/healthz", s.handleHealthz)
	if s.metrics != nil {
		mux.Handle("/metrics", s.metrics.Handler())
	}

	// Event stream
	if s.wsHub != nil {
		mux.HandleFunc("/v1/ws", s.wsHub.HandleUpgrade)
	}

	return mux
}

// withMiddleware wraps a handler with rate limiting, body size capping, and
// request measurement.
func (s *Server) withMiddleware(handler http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.config.RateLimitRequests > 0 {
			ip := extractClientIP(r)
			if !s.getRateLimiter(ip).Allow() {
				logging.Warn("rate limit exceeded",
					"ip", ip,
					"path", r.URL.Path,
					logging.Component("api"))
				w.Header().Set("Content-Type", "application/json")
				w.Header().Set("Retry-After", strconv.Itoa(s.config.RateLimitWindowSecs))
				w.WriteHeader(http.StatusTooManyRequests)
				w.Write([]byte(`{"error": "rate limit exceeded"}`))
				return
			}
		}

		if s.config.MaxRequestSize > 0 {
			r.Body = http.MaxBytesReader(w, r.Body, int64(s.config.MaxRequestSize))
		}

		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		handler(rec, r)

		if s.metrics != nil {
			s.metrics.RecordRequest(routeLabel(r.URL.Path), strconv.Itoa(rec.status), time.Since(start))
		}
	}
}

// statusRecorder captures the response status for metrics.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// routeLabel collapses per-entity paths to their route pattern so metric
// cardinality stays bounded.
func routeLabel(path string) string {
	const prefixes = 3 // /v1/<collection>/<id...>
	seen := 0
	for i := 0; i < len(path); i++ {
		if path[i] == '/' {
			seen++
			if seen == prefixes {
				return path[:i] + "/:id"
			}
		}
	}
	return path
}

func (s *Server) getRateLimiter(ip string) *rate.Limiter {
	now := time.Now()
	if val, ok := s.rateLimiters.Load(ip); ok {
		entry := val.(*rateLimiterEntry)
		entry.lastSeen = now
		return entry.limiter
	}

	window := s.config.RateLimitWindowSecs
	if window <= 0 {
		window = 60
	}
	rps := rate.Limit(float64(s.config.RateLimitRequests) / float64(window))
	entry := &rateLimiterEntry{
		limiter:  rate.NewLimiter(rps, s.config.RateLimitRequests),
		lastSeen: now,
	}
	actual, _ := s.rateLimiters.LoadOrStore(ip, entry)
	return actual.(*rateLimiterEntry).limiter
}

func (s *Server) startRateLimiterCleanup() {
	go func() {
		ticker := time.NewTicker(5 * time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-s.rateLimitCtx.Done():
				return
			case <-ticker.C:
				s.cleanupRateLimiters()
			}
		}
	}()
}

func (s *Server) cleanupRateLimiters() {
	staleThreshold := time.Now().Add(-10 * time.Minute)
	var cleaned int
	s.rateLimiters.Range(func(key, value any) bool {
		if value.(*rateLimiterEntry).lastSeen.Before(staleThreshold) {
			s.rateLimiters.Delete(key)
			cleaned++
		}
		return true
	})
	if cleaned > 0 {
		logging.Debug("cleaned up stale rate limiters", "count", cleaned, logging.Component("api"))
	}
}

// extractClientIP uses the TCP remote address. Proxy headers are not trusted;
// this server binds to loopback by default and sits behind the gateway.
func extractClientIP(r *http.Request) string {
	ip, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return ip
}

// callerAddress extracts and validates the caller identity header.
func callerAddress(r *http.Request) (common.Address, error) {
	raw := r.Header.Get(callerHeader)
	if raw == "" {
		return common.Address{}, fmt.Errorf("missing %s header", callerHeader)
	}
	if !common.IsHexAddress(raw) {
		return common.Address{}, fmt.Errorf("invalid caller address: %s", raw)
	}
	return common.HexToAddress(raw), nil
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// errorBody is the JSON shape of every error response. Code is the stable
// machine-readable class; Error is the human-readable detail.
type errorBody struct {
	Code  string `json:"code"`
	Error string `json:"error"`
}

// writeEngineError maps the engine's error classes onto HTTP statuses.
func (s *Server) writeEngineError(w http.ResponseWriter, err error) {
	status, code := http.StatusInternalServerError, "internal"
	switch {
	case errors.Is(err, settlement.ErrValidation):
		status, code = http.StatusBadRequest, "validation"
	case errors.Is(err, settlement.ErrUnauthorized):
		status, code = http.StatusForbidden, "unauthorized"
	case errors.Is(err, settlement.ErrNotFound):
		status, code = http.StatusNotFound, "not_found"
	case errors.Is(err, settlement.ErrReplay):
		status, code = http.StatusConflict, "replay"
	case errors.Is(err, settlement.ErrStateConflict):
		status, code = http.StatusConflict, "state_conflict"
	case errors.Is(err, settlement.ErrTooEarly):
		status, code = http.StatusTooEarly, "too_early"
	case errors.Is(err, settlement.ErrTooLate):
		status, code = http.StatusGone, "too_late"
	}
	s.writeJSON(w, status, errorBody{Code: code, Error: err.Error()})
}

func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, errorBody{Code: "request", Error: message})
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
