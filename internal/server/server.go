package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/handlers"
	"github.com/ulule/limiter/v3"
	"github.com/ulule/limiter/v3/drivers/middleware/stdlib"

	"github.com/sundayezeilo/shorturl/internal/config"
	"github.com/sundayezeilo/shorturl/internal/httpx"
	"github.com/sundayezeilo/shorturl/internal/metrics"
	"github.com/sundayezeilo/shorturl/internal/shortener"
)

const healthCheckTimeout = 2 * time.Second

// HealthCheck pings one dependency. A failing Critical check makes the
// service report itself unavailable; other failures only degrade it.
type HealthCheck struct {
	Name     string
	Critical bool
	Ping     func(ctx context.Context) error
}

// Options carries the server's collaborators. Metrics and RateLimiter are
// optional.
type Options struct {
	Handler      *shortener.Handler
	Metrics      *metrics.Metrics
	RateLimiter  *limiter.Limiter
	HealthChecks []HealthCheck
}

// Server represents the HTTP server with all dependencies.
type Server struct {
	config *config.Config
	logger *slog.Logger
	opts   Options
	server *http.Server
}

// New creates a new Server instance.
func New(cfg *config.Config, logger *slog.Logger, opts Options) *Server {
	return &Server{
		config: cfg,
		logger: logger,
		opts:   opts,
	}
}

// Handler returns the fully wrapped HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.applyMiddleware(s.setupRoutes())
}

// Start serves until ctx is cancelled or the process receives SIGINT/SIGTERM,
// then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	s.server = &http.Server{
		Addr:         fmt.Sprintf("%s:%s", s.config.Server.Host, s.config.Server.Port),
		Handler:      s.Handler(),
		ReadTimeout:  s.config.Server.ReadTimeout,
		WriteTimeout: s.config.Server.WriteTimeout,
		IdleTimeout:  s.config.Server.IdleTimeout,
	}

	serverErrors := make(chan error, 1)
	go func() {
		s.logger.Info("starting http server",
			"addr", s.server.Addr,
			"env", s.config.App.Environment,
		)
		serverErrors <- s.server.ListenAndServe()
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(shutdown)

	select {
	case err := <-serverErrors:
		return fmt.Errorf("server error: %w", err)
	case sig := <-shutdown:
		s.logger.Info("received shutdown signal", "signal", sig.String())
	case <-ctx.Done():
		s.logger.Info("context cancelled, stopping server")
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.config.Server.ShutdownTimeout)
	defer cancel()

	if err := s.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("graceful shutdown failed: %w", err)
	}

	s.logger.Info("server stopped gracefully")
	return nil
}

// setupRoutes configures all HTTP routes.
func (s *Server) setupRoutes() *http.ServeMux {
	mux := http.NewServeMux()
	h := s.opts.Handler

	mux.HandleFunc("GET /x/health", s.healthCheckHandler)
	if s.opts.Metrics != nil {
		mux.Handle("GET /metrics", s.opts.Metrics.Handler())
	}

	mux.Handle("POST /api/urls", s.rateLimit(http.HandlerFunc(h.CreateURL)))
	mux.HandleFunc("GET /api/urls", h.ListURLs)
	mux.HandleFunc("GET /api/urls/{code}/stats", h.GetStats)
	mux.HandleFunc("DELETE /api/urls/{code}", h.DeactivateURL)
	mux.HandleFunc("GET /{code}", h.Redirect)

	return mux
}

// applyMiddleware wraps the handler with middleware in the correct order.
func (s *Server) applyMiddleware(handler http.Handler) http.Handler {
	chain := []httpx.Middleware{
		httpx.Recovery(s.logger), // outermost: catch panics
		httpx.RequestID,
		httpx.Logger(s.logger),
		httpx.CORS(s.config.Server.AllowedOrigins),
		handlers.CompressHandler,
	}
	if s.opts.Metrics != nil {
		// innermost, so it sees the pattern the mux matched
		chain = append(chain, httpx.Metrics(s.opts.Metrics))
	}
	return httpx.Chain(chain...)(handler)
}

// rateLimit applies the per-IP creation limit when one is configured.
func (s *Server) rateLimit(next http.Handler) http.Handler {
	if s.opts.RateLimiter == nil {
		return next
	}

	mw := stdlib.NewMiddleware(s.opts.RateLimiter,
		stdlib.WithLimitReachedHandler(func(w http.ResponseWriter, r *http.Request) {
			s.logger.WarnContext(r.Context(), "rate limit reached",
				"request_id", httpx.GetRequestID(r.Context()),
				"remote_addr", r.RemoteAddr,
			)
			httpx.WriteError(w, http.StatusTooManyRequests, "rate_limited", "Too many requests. Please slow down.", nil)
		}),
		stdlib.WithErrorHandler(func(w http.ResponseWriter, r *http.Request, err error) {
			s.logger.ErrorContext(r.Context(), "rate limiter failed",
				"request_id", httpx.GetRequestID(r.Context()),
				"error", err.Error(),
			)
			httpx.WriteError(w, http.StatusServiceUnavailable, "unavailable", "Service temporarily unavailable. Please try again.", nil)
		}),
	)
	return mw.Handler(next)
}

// healthCheckHandler pings every registered dependency.
func (s *Server) healthCheckHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
	defer cancel()

	status := "ok"
	code := http.StatusOK
	checks := make(map[string]string, len(s.opts.HealthChecks))

	for _, c := range s.opts.HealthChecks {
		if err := c.Ping(ctx); err != nil {
			checks[c.Name] = err.Error()
			s.logger.WarnContext(ctx, "health check failed", "check", c.Name, "error", err.Error())
			if c.Critical {
				status, code = "unavailable", http.StatusServiceUnavailable
			} else if status == "ok" {
				status = "degraded"
			}
			continue
		}
		checks[c.Name] = "ok"
	}

	httpx.WriteJSON(w, code, map[string]any{
		"status":  status,
		"service": s.config.Observability.ServiceName,
		"version": s.config.Observability.ServiceVersion,
		"checks":  checks,
	})
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}

	s.logger.Info("shutting down server")

	if err := s.server.Shutdown(ctx); err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			s.logger.Warn("shutdown timeout exceeded, forcing close")
			return s.server.Close()
		}
		return err
	}

	return nil
}
