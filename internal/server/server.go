package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"claude-relay/internal/config"
	"claude-relay/internal/handlers"
	"claude-relay/internal/metrics"
	"claude-relay/internal/middleware"
	"claude-relay/internal/providers"
	"claude-relay/internal/transport"
)

type Server struct {
	config   *config.Manager
	registry *providers.Registry
	shim     *transport.Shim
	metrics  *metrics.Metrics
	logger   *slog.Logger
	server   *http.Server
}

func New(configManager *config.Manager, logger *slog.Logger) *Server {
	registry := providers.NewRegistry()
	registry.Initialize()

	timeout := transport.DefaultTimeout
	if cfg := configManager.Get(); cfg != nil && cfg.TimeoutSeconds > 0 {
		timeout = time.Duration(cfg.TimeoutSeconds) * time.Second
	}

	return &Server{
		config:   configManager,
		registry: registry,
		shim:     transport.New(timeout),
		metrics:  metrics.New(),
		logger:   logger,
	}
}

func (s *Server) Start() error {
	cfg := s.config.Get()
	if cfg == nil {
		return fmt.Errorf("configuration not loaded")
	}

	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)

	mux := s.setupRoutes()

	s.server = &http.Server{
		Addr:    addr,
		Handler: mux,
	}

	s.logger.Info("Starting server", "address", addr)

	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error("Server error", "error", err)
		}
	}()

	// Wait for interrupt signal to gracefully shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	s.logger.Info("Server is shutting down...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	s.logger.Info("Server exited")

	return nil
}

func (s *Server) Stop() error {
	if s.server == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	return s.server.Shutdown(ctx)
}

func (s *Server) setupRoutes() *http.ServeMux {
	mux := http.NewServeMux()

	proxyHandler := handlers.NewProxyHandler(s.config, s.registry, s.shim, s.metrics, s.logger)
	healthHandler := handlers.NewHealthHandler(s.logger)

	middlewareSet := middleware.NewMiddlewareSet(s.config, s.logger)

	mux.Handle("/health", middlewareSet.PublicChain().Handler(healthHandler))
	mux.Handle("/metrics", middlewareSet.PublicChain().Handler(s.metrics.Handler()))
	mux.Handle("/", middlewareSet.DefaultChain().Handler(proxyHandler))

	return mux
}
