// Package server exposes the ledger over HTTP and WebSocket.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/alanyoungcy/betledger/internal/domain"
	"github.com/alanyoungcy/betledger/internal/server/handler"
	"github.com/alanyoungcy/betledger/internal/server/middleware"
	"github.com/alanyoungcy/betledger/internal/server/ws"
)

// Config holds the HTTP server configuration.
type Config struct {
	Port        int
	CORSOrigins []string
	APIKey      string // if empty, authentication is disabled

	// SignatureSkew and ReplayTTL configure signed-request verification.
	SignatureSkew time.Duration
	ReplayTTL     time.Duration

	// RateLimit is requests per RateWindow per client; zero disables it.
	RateLimit  int
	RateWindow time.Duration
	// TrustProxyHeaders takes the client address from forwarding headers.
	TrustProxyHeaders bool
}

// Handlers aggregates all HTTP handlers that the server needs to register.
type Handlers struct {
	Health  *handler.HealthHandler
	Status  *handler.StatusHandler
	Markets *handler.MarketHandler
	Ledger  *handler.LedgerHandler
	Audit   *handler.AuditHandler
}

// Deps are the coordination services the middleware chain relies on.
// Limiter may be nil, which disables rate limiting.
type Deps struct {
	Guard   domain.ReplayGuard
	Limiter domain.RateLimiter
}

// Server is the HTTP + WebSocket API server for the ledger.
type Server struct {
	httpServer *http.Server
	handler    http.Handler
	logger     *slog.Logger
}

// NewServer creates a new Server with all routes registered on a ServeMux and
// wires up the middleware chain (CORS, logging, rate limit, API key) plus
// signature verification on every mutating route.
func NewServer(cfg Config, handlers Handlers, deps Deps, wsHub *ws.Hub, logger *slog.Logger) *Server {
	logger = logger.With(slog.String("component", "server"))
	mux := http.NewServeMux()

	signed := middleware.Signature(middleware.SignatureConfig{
		Skew:      cfg.SignatureSkew,
		ReplayTTL: cfg.ReplayTTL,
		Guard:     deps.Guard,
		Logger:    logger,
	})

	// Read-only endpoints.
	mux.HandleFunc("GET /api/health", handlers.Health.HealthCheck)
	mux.HandleFunc("GET /api/status", handlers.Status.GetStatus)
	mux.HandleFunc("GET /api/markets", handlers.Markets.ListMarkets)
	mux.HandleFunc("GET /api/markets/{id}", handlers.Markets.GetMarket)
	mux.HandleFunc("GET /api/markets/{id}/stakes/{address}", handlers.Markets.GetStakes)
	mux.HandleFunc("GET /api/markets/{id}/claimable/{address}", handlers.Markets.GetClaimable)
	mux.HandleFunc("GET /api/audit", handlers.Audit.ListAudit)

	// Signed endpoints.
	mux.Handle("POST /api/markets", signed(http.HandlerFunc(handlers.Ledger.CreateMarket)))
	mux.Handle("POST /api/markets/{id}/stake/{side}", signed(http.HandlerFunc(handlers.Ledger.Stake)))
	mux.Handle("POST /api/markets/{id}/resolve", signed(http.HandlerFunc(handlers.Ledger.Resolve)))
	mux.Handle("POST /api/markets/{id}/claim", signed(http.HandlerFunc(handlers.Ledger.Claim)))

	if wsHub != nil {
		mux.HandleFunc("GET /ws", wsHub.HandleWS)
	}

	// Build the middleware chain, innermost first.
	var h http.Handler = mux
	h = middleware.Auth(cfg.APIKey, "/api/health")(h)
	if deps.Limiter != nil && cfg.RateLimit > 0 {
		h = middleware.RateLimit(deps.Limiter, middleware.RateLimitConfig{
			Limit:             cfg.RateLimit,
			Window:            cfg.RateWindow,
			TrustProxyHeaders: cfg.TrustProxyHeaders,
		}, logger)(h)
	}
	h = middleware.Logging(logger)(h)
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

// Handler returns the full middleware-wrapped handler.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Start begins listening for HTTP requests. It blocks until the server
// encounters an error or is shut down.
func (s *Server) Start() error {
	s.logger.Info("server: starting", slog.String("addr", s.httpServer.Addr))
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

// Run serves until ctx is cancelled, then shuts down with a grace period.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() { errCh <- s.Start() }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := s.Shutdown(shutdownCtx); err != nil {
			return err
		}
		return <-errCh
	}
}
