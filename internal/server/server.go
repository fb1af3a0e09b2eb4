// Package server exposes the engine's operator API over HTTP and streams the
// journal over WebSocket.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/alanyoungcy/pollypilot/internal/server/handler"
	"github.com/alanyoungcy/pollypilot/internal/server/middleware"
	"github.com/alanyoungcy/pollypilot/internal/server/ws"
)

// Config holds the HTTP server configuration.
type Config struct {
	Port        int
	CORSOrigins []string
	APIKey      string // if empty, authentication is disabled
	// Limiter applies per-client rate limiting when non-nil.
	Limiter *middleware.IPLimiter
}

// Handlers aggregates all HTTP handlers that the server needs to register.
type Handlers struct {
	Health    *handler.HealthHandler
	Engine    *handler.EngineHandler
	Positions *handler.PositionHandler
	Portfolio *handler.PortfolioHandler
	Settings  *handler.SettingsHandler
	Logs      *handler.LogHandler
	Markets   *handler.MarketHandler
}

// Server is the headless HTTP + WebSocket API server.
type Server struct {
	httpServer *http.Server
	handler    http.Handler
	logger     *slog.Logger
}

// NewServer creates a new Server with all routes registered on the ServeMux.
// It wires up middleware (auth, logging, rate limiting, CORS) and attaches
// the WebSocket hub.
func NewServer(cfg Config, handlers Handlers, wsHub *ws.Hub, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	mux := http.NewServeMux()

	// Health check (no auth required).
	mux.HandleFunc("GET /api/health", handlers.Health.HealthCheck)

	// Engine lifecycle.
	mux.HandleFunc("GET /api/status", handlers.Engine.Status)
	mux.HandleFunc("POST /api/engine/start", handlers.Engine.Start)
	mux.HandleFunc("POST /api/engine/stop", handlers.Engine.Stop)
	mux.HandleFunc("POST /api/jobs/{name}/trigger", handlers.Engine.Trigger)

	// Positions and portfolio.
	mux.HandleFunc("GET /api/positions/open", handlers.Positions.ListOpen)
	mux.HandleFunc("POST /api/positions/{id}/close", handlers.Positions.Close)
	mux.HandleFunc("GET /api/history", handlers.Positions.History)
	mux.HandleFunc("GET /api/portfolio", handlers.Portfolio.Get)
	mux.HandleFunc("POST /api/portfolio/reset", handlers.Portfolio.Reset)

	// Settings, journal and markets.
	mux.HandleFunc("GET /api/settings", handlers.Settings.Get)
	mux.HandleFunc("PUT /api/settings", handlers.Settings.Update)
	mux.HandleFunc("GET /api/logs", handlers.Logs.List)
	mux.HandleFunc("GET /api/markets", handlers.Markets.List)

	// WebSocket endpoint.
	if wsHub != nil {
		mux.HandleFunc("GET /ws", wsHub.HandleWS)
	}

	// Build the middleware chain.
	var h http.Handler = mux

	// Apply auth middleware (skips if APIKey is empty).
	h = middleware.Auth(cfg.APIKey, "/api/health")(h)

	if cfg.Limiter != nil {
		h = middleware.RateLimit(cfg.Limiter)(h)
	}

	// Apply request logging middleware.
	h = middleware.Logging(logger, "/api/health")(h)

	// Apply CORS middleware.
	h = middleware.CORS(cfg.CORSOrigins)(h)

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           h,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	return &Server{
		httpServer: srv,
		handler:    h,
		logger:     logger,
	}
}

// Handler returns the fully wrapped handler.
func (s *Server) Handler() http.Handler { return s.handler }

// Start begins listening for HTTP requests. It blocks until the server
// encounters an error or is shut down.
func (s *Server) Start() error {
	s.logger.Info("server: starting",
		slog.String("addr", s.httpServer.Addr),
	)
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server: listen: %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down the server, waiting for in-flight requests
// to complete within the given context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("server: shutting down")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server: shutdown: %w", err)
	}
	return nil
}
