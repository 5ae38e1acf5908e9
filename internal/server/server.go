// Package server exposes the arbitrage engine over HTTP and WebSocket.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/alanyoungcy/arbengine/internal/domain"
	"github.com/alanyoungcy/arbengine/internal/server/handler"
	"github.com/alanyoungcy/arbengine/internal/server/middleware"
	"github.com/alanyoungcy/arbengine/internal/server/ws"
)

// Config holds the HTTP server configuration.
type Config struct {
	Port        int
	CORSOrigins []string
	// APIKey enables auth when non-empty.
	APIKey string
	// RateLimit is requests per RateWindow per client IP; 0 disables it.
	RateLimit  int
	RateWindow time.Duration
	// WriteTimeout must cover a full arbitrage run.
	WriteTimeout time.Duration
}

// Handlers aggregates the HTTP handlers. Manager and Comparison are
// optional and their routes are skipped when nil.
type Handlers struct {
	Health     *handler.HealthHandler
	Arbitrage  *handler.ArbitrageHandler
	Manager    *handler.ManagerHandler
	Comparison *handler.ComparisonHandler
}

// Server is the HTTP + WebSocket API.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
}

// NewServer registers routes and wraps them in CORS, logging, rate limiting
// and auth, outermost first. limiter may be nil.
func NewServer(cfg Config, handlers Handlers, hub *ws.Hub, limiter domain.RateLimiter, logger *slog.Logger) *Server {
	logger = logger.With(slog.String("component", "http_server"))
	mux := http.NewServeMux()
	registerRoutes(mux, handlers, hub)

	var h http.Handler = mux
	h = middleware.Auth(cfg.APIKey, "/api/health")(h)
	if limiter != nil && cfg.RateLimit > 0 {
		window := cfg.RateWindow
		if window <= 0 {
			window = time.Second
		}
		h = middleware.RateLimit(limiter, cfg.RateLimit, window, logger)(h)
	}
	h = middleware.Logging(logger)(h)
	h = middleware.CORS(cfg.CORSOrigins)(h)

	writeTimeout := cfg.WriteTimeout
	if writeTimeout <= 0 {
		writeTimeout = 2 * time.Minute
	}
	return &Server{
		httpServer: &http.Server{
			Addr:              fmt.Sprintf(":%d", cfg.Port),
			Handler:           h,
			ReadHeaderTimeout: 5 * time.Second,
			ReadTimeout:       15 * time.Second,
			WriteTimeout:      writeTimeout,
			IdleTimeout:       60 * time.Second,
		},
		logger: logger,
	}
}

func registerRoutes(mux *http.ServeMux, handlers Handlers, hub *ws.Hub) {
	mux.HandleFunc("GET /api/health", handlers.Health.HealthCheck)

	arb := handlers.Arbitrage
	mux.HandleFunc("GET /api/status", arb.GetStatus)
	mux.HandleFunc("GET /api/accounts", arb.GetAccounts)
	mux.HandleFunc("POST /api/arbitrage/info", arb.GetInfo)
	mux.HandleFunc("POST /api/arbitrage/run", arb.Run)
	mux.HandleFunc("GET /api/arbitrage/recent", arb.ListRecent)
	mux.HandleFunc("GET /api/arbitrage/archive", arb.ListArchive)
	mux.HandleFunc("GET /api/arbitrage/archive/{id}", arb.GetArchived)
	mux.HandleFunc("GET /api/audit", arb.ListAudit)

	if handlers.Manager != nil {
		mux.HandleFunc("GET /api/manager", handlers.Manager.Get)
		mux.HandleFunc("POST /api/manager/pause", handlers.Manager.Pause)
		mux.HandleFunc("POST /api/manager/resume", handlers.Manager.Resume)
	}
	if handlers.Comparison != nil {
		mux.HandleFunc("GET /api/comparison", handlers.Comparison.Get)
	}
	if hub != nil {
		mux.HandleFunc("GET /ws", hub.HandleWS)
	}
}

// Handler returns the fully wrapped handler.
func (s *Server) Handler() http.Handler { return s.httpServer.Handler }

// Start blocks until the server fails or is shut down.
func (s *Server) Start() error {
	s.logger.Info("http server listening", slog.String("addr", s.httpServer.Addr))
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server: listen: %w", err)
	}
	return nil
}

// Shutdown drains in-flight requests until ctx expires.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("http server shutting down")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server: shutdown: %w", err)
	}
	return nil
}
