package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/klauspost/compress/gzhttp"
	"github.com/rs/zerolog"

	"github.com/cuemby/hutch/pkg/auth"
	"github.com/cuemby/hutch/pkg/config"
	"github.com/cuemby/hutch/pkg/events"
	"github.com/cuemby/hutch/pkg/log"
	"github.com/cuemby/hutch/pkg/metrics"
	"github.com/cuemby/hutch/pkg/proxy"
	"github.com/cuemby/hutch/pkg/session"
	"github.com/cuemby/hutch/pkg/types"
)

// Permission names declared by the protected routes.
const (
	PermCreate = "preview:create"
	PermRead   = "preview:read"
	PermWrite  = "preview:write"
	PermStop   = "preview:stop"
)

// Server is the gateway's public HTTP surface: the /api REST routes,
// the /preview proxy mount, the /ws event hub, and the anonymous
// health and metrics endpoints, all on one listener.
type Server struct {
	cfg      *config.Config
	sessions *session.Manager
	mw       *auth.Middleware
	engine   *proxy.Engine
	hub      *events.Hub
	limiter  *RateLimiter
	httpSrv  *http.Server
	logger   zerolog.Logger
}

// NewServer assembles the HTTP surface. Start must still be called to
// open the listener; Handler is exposed separately for tests.
func NewServer(cfg *config.Config, sessions *session.Manager, mw *auth.Middleware, engine *proxy.Engine, hub *events.Hub) *Server {
	s := &Server{
		cfg:      cfg,
		sessions: sessions,
		mw:       mw,
		engine:   engine,
		hub:      hub,
		limiter:  NewRateLimiter(cfg.Limits.RatePerMinute, cfg.Limits.RateBurst),
		logger:   log.WithComponent("api"),
	}

	s.httpSrv = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:           s.Handler(),
		ReadHeaderTimeout: cfg.Server.ReadHeaderTimeout,
		IdleTimeout:       cfg.Server.IdleTimeout,
		// No WriteTimeout: hijacked HMR tunnels and streamed proxy
		// responses must be able to outlive any fixed deadline.
	}
	return s
}

// Handler builds the full routing tree.
func (s *Server) Handler() http.Handler {
	// REST surface. Rate limiting, the body cap, and compression apply
	// here only; preview traffic must not compete with API calls for
	// rate-limit tokens and proxied streams are never re-compressed.
	api := http.NewServeMux()
	api.Handle("POST /api/preview/start", chain(http.HandlerFunc(s.handleStart),
		s.mw.RequireAuth,
		s.mw.RequirePermission(PermCreate),
		s.mw.CheckQuota(types.QuotaConcurrentSessions),
		s.mw.CheckQuota(types.QuotaDailySessions),
	))
	api.Handle("PATCH /api/preview/{sessionId}/file", s.owned(http.HandlerFunc(s.handlePatchFile), PermWrite))
	api.Handle("GET /api/preview/{sessionId}/logs", s.owned(http.HandlerFunc(s.handleLogs), PermRead))
	api.Handle("POST /api/preview/{sessionId}/ping", s.owned(http.HandlerFunc(s.handlePing), PermWrite))
	api.Handle("POST /api/preview/{sessionId}/stop", s.owned(http.HandlerFunc(s.handleStop), PermStop))
	api.Handle("GET /api/preview/{sessionId}", s.owned(http.HandlerFunc(s.handleGet), PermRead))

	apiSurface := chain(gzhttp.GzipHandler(api),
		s.cors,
		s.rateLimit,
		maxBody(s.cfg.Limits.MaxBodyBytes),
	)

	// The proxy mount authenticates and checks ownership on every
	// entry; the engine itself never reauthenticates.
	preview := chain(s.engine, s.mw.RequireAuth, s.mw.RequireSessionOwner)

	root := http.NewServeMux()
	root.Handle("/api/", apiSurface)
	root.Handle("/preview/{sessionId}", preview)
	root.Handle("/preview/{sessionId}/{rest...}", preview)
	root.Handle("GET /ws", chain(http.HandlerFunc(s.hub.ServeWS), s.cors, s.mw.RequireAuth))

	// Health and metrics are anonymous and never rate-limited.
	root.Handle("GET /health", gzhttp.GzipHandler(metrics.HealthHandler()))
	root.Handle("GET /health/ready", gzhttp.GzipHandler(metrics.ReadyHandler()))
	root.Handle("GET /health/live", gzhttp.GzipHandler(metrics.LivenessHandler()))
	root.Handle("GET /metrics", metrics.Handler())

	return chain(root, RequestID, s.logging, s.recovery)
}

// Start opens the listener and serves until Shutdown. A clean shutdown
// returns nil.
func (s *Server) Start() error {
	s.limiter.Start()

	s.logger.Info().Str("addr", s.httpSrv.Addr).Msg("HTTP server listening")
	metrics.UpdateComponent("api", true, "serving")

	if err := s.httpSrv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		metrics.UpdateComponent("api", false, err.Error())
		return fmt.Errorf("http server failed: %w", err)
	}
	return nil
}

// Shutdown drains in-flight requests until ctx expires.
func (s *Server) Shutdown(ctx context.Context) error {
	s.limiter.Stop()
	metrics.UpdateComponent("api", false, "shutting down")
	return s.httpSrv.Shutdown(ctx)
}

// owned wires the standard gate stack for routes carrying a sessionId
// path parameter.
func (s *Server) owned(h http.Handler, permission string) http.Handler {
	return chain(h,
		s.mw.RequireAuth,
		s.mw.RequirePermission(permission),
		s.mw.RequireSessionOwner,
	)
}

// chain wraps h with the given middlewares; the first listed runs
// outermost.
func chain(h http.Handler, mws ...func(http.Handler) http.Handler) http.Handler {
	for i := len(mws) - 1; i >= 0; i-- {
		h = mws[i](h)
	}
	return h
}
