// Package server sets up the HTTP server, router, and all route definitions.
//
// This package is the composition root: every dependency is built and wired
// here, in New and setupRoutes, rather than scattered across the codebase.
//
//	config → sqlstore.DB ─┬→ (rediscache.TokenCache) → AuthService → AuthHandler
//	       → auth.Resolver┘                            ↗
//	       → metrics.Metrics ─────────────────────────┘
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/redis/go-redis/v9"

	"github.com/sakif/backchat/internal/auth"
	"github.com/sakif/backchat/internal/config"
	"github.com/sakif/backchat/internal/handler"
	"github.com/sakif/backchat/internal/metrics"
	"github.com/sakif/backchat/internal/middleware"
	"github.com/sakif/backchat/internal/repository"
	"github.com/sakif/backchat/internal/repository/rediscache"
	"github.com/sakif/backchat/internal/repository/sqlstore"
	"github.com/sakif/backchat/internal/service"
)

// shutdownTimeout is how long in-flight requests get to finish.
const shutdownTimeout = 30 * time.Second

// Server represents the HTTP server and all its dependencies.
//
// The Server owns the database pool and, when configured, the Redis client.
// Both are closed by Close, which Start calls on the way out.
type Server struct {
	router  *chi.Mux
	config  config.Config
	logger  *slog.Logger
	db      *sqlstore.DB
	redis   *redis.Client
	metrics *metrics.Metrics
}

// New connects to the database (creating the schema if needed) and Redis,
// then wires services, handlers and routes.
func New(ctx context.Context, cfg config.Config, logger *slog.Logger) (*Server, error) {
	db, err := OpenDatabase(ctx, cfg.DatabaseURL, logger)
	if err != nil {
		return nil, err
	}
	if err := db.Migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}

	s := &Server{
		router: chi.NewRouter(),
		config: cfg,
		logger: logger,
		db:     db,
	}

	if cfg.RedisURL != "" {
		client, err := rediscache.NewClient(ctx, cfg.RedisURL)
		if err != nil {
			s.Close()
			return nil, fmt.Errorf("connecting to redis: %w", err)
		}
		s.redis = client
	}

	if cfg.MetricsEnabled {
		m, err := metrics.New()
		if err != nil {
			s.Close()
			return nil, err
		}
		s.metrics = m
	}

	s.setupRoutes()
	return s, nil
}

// OpenDatabase opens the store named by dsn. For a SQLite file path the
// parent directory is created first.
func OpenDatabase(ctx context.Context, dsn string, logger *slog.Logger) (*sqlstore.DB, error) {
	if sqlstore.DialectFor(dsn) == sqlstore.DialectSQLite && dsn != ":memory:" && !strings.HasPrefix(dsn, "file:") {
		dir := filepath.Dir(dsn)
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating database directory %s: %w", dir, err)
		}
	}

	db, err := sqlstore.Open(ctx, dsn, logger)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	return db, nil
}

// setupRoutes configures all middleware and route handlers.
//
// ROUTE STRUCTURE:
// POST   /          → validate an access token, returns {user}
// GET    /me        → the user behind a bearer session token
// GET    /healthz   → database ping
// GET    /metrics   → Prometheus exposition (when enabled)
//
// Middleware executes in the order it's added: request ID first so the
// logger can see it, Recoverer last so a panic is still logged as a 500.
func (s *Server) setupRoutes() {
	s.router.Use(middleware.RequestID)
	s.router.Use(chimiddleware.RealIP)
	s.router.Use(middleware.Logger(s.logger))
	s.router.Use(chimiddleware.Recoverer)

	// The token store is the relational store, optionally fronted by Redis.
	var tokens repository.TokenRepository = s.db
	if s.redis != nil {
		tokens = rediscache.NewTokenCache(s.db, s.redis, rediscache.Config{TTL: s.config.TokenCacheTTL}, s.logger)
	}

	resolver := auth.NewResolver(auth.ResolverConfig{
		Endpoints: map[auth.Provider]string{
			auth.ProviderFacebook: s.config.FacebookURL,
			auth.ProviderGoogle:   s.config.GoogleURL,
		},
		Timeout:  s.config.ProviderTimeout,
		Observer: s.metrics,
	}, s.logger)

	authService := service.NewAuthService(s.db, tokens, resolver, s.metrics, s.logger)
	authHandler := handler.NewAuthHandler(authService, s.logger)
	healthHandler := handler.NewHealthHandler(s.db, s.logger)

	s.router.Post("/", authHandler.HandleAuthenticate)
	s.router.With(auth.RequireSession(authService)).Get("/me", authHandler.HandleMe)
	s.router.Get("/healthz", healthHandler.HandleHealth)

	if s.metrics != nil {
		s.router.Handle("/metrics", s.metrics.Handler())
	}
}

// Handler returns the root handler, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start serves HTTP until ctx is cancelled, then shuts down gracefully:
//  1. Stop accepting new connections
//  2. Wait up to 30s for in-flight requests
//  3. Close the database pool and Redis client
func (s *Server) Start(ctx context.Context) error {
	defer s.Close()

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", s.config.Port),
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15*time.Second + s.config.ProviderTimeout,
		IdleTimeout:  60 * time.Second,
	}

	serverErrors := make(chan error, 1)
	go func() {
		s.logger.Info("server starting",
			slog.Int("port", s.config.Port),
			slog.String("dialect", string(s.db.Dialect())),
			slog.Bool("token_cache", s.redis != nil),
			slog.Bool("metrics", s.metrics != nil),
		)
		serverErrors <- srv.ListenAndServe()
	}()

	select {
	case err := <-serverErrors:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}

	case <-ctx.Done():
		s.logger.Info("shutdown signal received")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("graceful shutdown failed: %w", err)
		}
		s.logger.Info("server stopped gracefully")
	}

	return nil
}

// Close releases the database pool and the Redis client.
func (s *Server) Close() error {
	var errs []error
	if s.redis != nil {
		errs = append(errs, s.redis.Close())
	}
	if s.db != nil {
		errs = append(errs, s.db.Close())
	}
	return errors.Join(errs...)
}
