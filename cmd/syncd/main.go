package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/huyndo/notisync/internal/api"
	"github.com/huyndo/notisync/internal/config"
	"github.com/huyndo/notisync/internal/metrics"
	"github.com/huyndo/notisync/internal/observ"
	"github.com/huyndo/notisync/internal/redis"
	"github.com/huyndo/notisync/internal/restapi"
	"github.com/huyndo/notisync/internal/session"
	"github.com/huyndo/notisync/internal/stomp"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	// Load config
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	// Setup logger
	logger, err := observ.NewLogger(cfg.Env, cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("starting notisync daemon",
		zap.String("env", cfg.Env),
		zap.Int("port", cfg.Port),
		zap.String("push_url", cfg.PushURL),
		zap.String("api_base_url", cfg.APIBaseURL),
	)

	// Initialize Redis for the replay guard and rate limiting. The daemon
	// runs without it; notification state never lives in Redis anyway.
	ctx := context.Background()
	redisConfig := redis.Config{
		Host:     cfg.RedisHost,
		Port:     cfg.RedisPort,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	}

	redisClient, err := redis.New(ctx, redisConfig, logger)
	if err != nil {
		logger.Warn("redis unavailable, replay guard and rate limiting disabled",
			zap.Error(err),
			zap.String("host", cfg.RedisHost),
		)
	}

	var seenGuard *redis.SeenGuard
	var rateLimiter *redis.RateLimiter
	if redisClient != nil {
		seenGuard = redis.NewSeenGuard(redisClient)
		rateLimiter = redis.NewRateLimiter(redisClient, logger, redis.RateLimitConfig{
			Limit:  cfg.RateLimitRequests,
			Window: cfg.RateLimitWindow,
		})
		defer redisClient.Close()
	}

	// Upstream surfaces shared by all sessions.
	transport := stomp.NewTransport(stomp.Config{
		URL:         cfg.PushURL,
		Destination: cfg.Destination,
		Heartbeat:   time.Duration(cfg.HeartbeatMS) * time.Millisecond,
	}, logger)

	restClient := restapi.NewClient(restapi.Config{
		BaseURL: cfg.APIBaseURL,
		Timeout: cfg.APITimeout,
	}, logger)

	// Session factory: one synchronizer per recipient, created on first
	// API contact.
	factory := func(identity, credential string) *session.Session {
		sessCfg := session.Config{
			Identity:           identity,
			Credential:         credential,
			MaxConnectAttempts: cfg.MaxConnectAttempts,
			PollInterval:       cfg.PollInterval,
			PollTimeout:        cfg.PollTimeout,
		}
		var guard session.ReplayGuard
		if seenGuard != nil {
			guard = seenGuard
		}
		return session.New(sessCfg, session.WrapTransport(transport), restClient, guard, nil, logger)
	}

	registry := session.NewRegistry(factory, logger)
	defer registry.Close()

	// Setup router
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))
	r.Use(metrics.Middleware)

	// Custom logging middleware
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

			next.ServeHTTP(ww, r)

			logger.Info("request completed",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Duration("duration_ms", time.Since(start)),
				zap.String("request_id", middleware.GetReqID(r.Context())),
			)
		})
	})

	// API routes
	handler := api.NewHandler(logger, registry)
	r.Route("/v1", func(r chi.Router) {
		// Apply rate limiting to API routes
		r.Use(api.RateLimitMiddleware(rateLimiter, logger, api.RecipientKeyFunc))

		r.Get("/notifications", handler.ListNotifications)
		r.Get("/notifications/unread-count", handler.UnreadCount)
		r.Post("/notifications/{id}/read", handler.MarkRead)
		r.Post("/notifications/read-all", handler.MarkAllRead)
		r.Delete("/notifications/{id}", handler.DeleteNotification)

		r.Get("/connection", handler.Connection)
		r.Post("/connection/retry", handler.RetryConnection)
		r.Delete("/session", handler.Logout)
	})

	// Health check
	r.Get("/healthz", handler.Health)

	// Prometheus metrics endpoint
	r.Handle("/metrics", metrics.Handler())

	// Setup HTTP server
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in a goroutine
	serverErrors := make(chan error, 1)
	go func() {
		logger.Info("server listening", zap.String("addr", srv.Addr))
		serverErrors <- srv.ListenAndServe()
	}()

	// Listen for shutdown signals
	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	// Block until we receive a signal or server error
	select {
	case err := <-serverErrors:
		return fmt.Errorf("server error: %w", err)
	case sig := <-shutdown:
		logger.Info("shutdown signal received", zap.String("signal", sig.String()))

		// Give outstanding requests 10 seconds to complete
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if err := srv.Shutdown(ctx); err != nil {
			srv.Close()
			return fmt.Errorf("graceful shutdown failed: %w", err)
		}

		logger.Info("server stopped gracefully")
	}

	return nil
}
