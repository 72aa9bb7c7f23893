package main

import (
	"context"
	"net/http"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/duynhne/profile-sync/config"
	database "github.com/duynhne/profile-sync/internal/core"
	"github.com/duynhne/profile-sync/internal/core/remote"
	"github.com/duynhne/profile-sync/internal/core/repository/psql"
	logicv1 "github.com/duynhne/profile-sync/internal/logic/v1"
	webv1 "github.com/duynhne/profile-sync/internal/web/v1"
	"github.com/duynhne/profile-sync/middleware"
)

func main() {
	// Load configuration from environment variables (with .env file support for local dev)
	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		panic("Configuration validation failed: " + err.Error())
	}

	// Initialize structured logger
	logger, err := middleware.NewLogger()
	if err != nil {
		panic("Failed to initialize logger: " + err.Error())
	}
	defer logger.Sync()

	logger.Info("Service starting",
		zap.String("service", cfg.Service.Name),
		zap.String("version", cfg.Service.Version),
		zap.String("env", cfg.Service.Env),
		zap.String("port", cfg.Service.Port),
	)

	// Initialize OpenTelemetry tracing with centralized config
	var tp interface{ Shutdown(context.Context) error }
	if cfg.Tracing.Enabled {
		tp, err = middleware.InitTracing(cfg)
		if err != nil {
			logger.Warn("Failed to initialize tracing", zap.Error(err))
		} else {
			logger.Info("Tracing initialized",
				zap.String("endpoint", cfg.Tracing.Endpoint),
				zap.Float64("sample_rate", cfg.Tracing.SampleRate),
			)
		}
	} else {
		logger.Info("Tracing disabled (TRACING_ENABLED=false)")
	}

	// Initialize Pyroscope profiling
	if cfg.Profiling.Enabled {
		if err := middleware.InitProfiling(); err != nil {
			logger.Warn("Failed to initialize profiling", zap.Error(err))
		} else {
			logger.Info("Profiling initialized",
				zap.String("endpoint", cfg.Profiling.Endpoint),
			)
			defer middleware.StopProfiling()
		}
	} else {
		logger.Info("Profiling disabled (PROFILING_ENABLED=false)")
	}

	// Initialize database connection pool (pgx)
	pool, err := database.Connect(context.Background())
	if err != nil {
		logger.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer pool.Close()
	logger.Info("Database connection pool established")

	// Wire the sync engine: store + external collaborators + tuning
	engine := logicv1.NewProfileService(&logicv1.Deps{
		Store:    psql.NewProfileRepository(pool),
		Storage:  remote.NewStorageClient(cfg.Engine.AssetStorageURL),
		Resolver: remote.NewResolverClient(cfg.Engine.AssetResolverURL, logger),
		Verifier: remote.NewVerifierClient(logger),
		Codes:    remote.NewVerificationClient(cfg.Engine.VerificationServiceURL),
		Logger:   logger,
	}, logicv1.Tuning{
		DebounceDelay:      time.Duration(cfg.Engine.DebounceDelayMs) * time.Millisecond,
		ResolveRetryLimit:  cfg.Engine.ResolveRetryLimit,
		ResolveRetryDelay:  time.Duration(cfg.Engine.ResolveRetryDelayMs) * time.Millisecond,
		VerifyTimeoutShort: time.Duration(cfg.Engine.VerifyTimeoutShortMs) * time.Millisecond,
		VerifyTimeoutLong:  time.Duration(cfg.Engine.VerifyTimeoutLongMs) * time.Millisecond,
		ChallengeAttempts:  cfg.Engine.ChallengeAttempts,
		PrimaryAdminEmail:  cfg.Engine.PrimaryAdminEmail,
	})
	handler := webv1.NewProfileHandler(engine)

	r := gin.Default()

	var isShuttingDown atomic.Bool

	// Tracing middleware (must be first for context propagation)
	r.Use(middleware.TracingMiddleware())

	// Logging middleware (must be before Prometheus middleware)
	r.Use(middleware.LoggingMiddleware(logger))

	// Prometheus middleware
	r.Use(middleware.PrometheusMiddleware())

	// Initialize auth client for token introspection
	authClient := middleware.NewAuthClient(cfg.AuthServiceURL)
	logger.Info("Auth client initialized", zap.String("auth_service_url", cfg.AuthServiceURL))

	// Health check
	r.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})

	// Readiness check
	// Returns 503 once shutdown has started, to drain traffic before HTTP shutdown.
	r.GET("/ready", func(c *gin.Context) {
		if isShuttingDown.Load() {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "shutting_down"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	// Metrics endpoint
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// API v1 (canonical API - mobile-client-aligned)
	apiV1 := r.Group("/api/v1")
	apiV1.Use(middleware.AuthMiddleware(authClient, logger, cfg.AuthAllowUnauthenticatedFallback))
	{
		profile := apiV1.Group("/profile")
		{
			profile.GET("", handler.GetProfile)
			profile.POST("/edit", handler.BeginEdit)
			profile.POST("/cancel", handler.CancelEdit)
			profile.PATCH("/fields", handler.EditField)
			profile.PUT("/settings", handler.SetSetting)
			profile.POST("/avatar", handler.PickAvatar)
			profile.POST("/avatar/display-error", handler.AvatarDisplayError)
			profile.DELETE("/avatar", handler.DeleteAvatar)
			profile.POST("/username", handler.ChangeUsername)
			profile.POST("/email", handler.ChangeEmail)
			profile.POST("/challenge/request", handler.RequestCode)
			profile.POST("/challenge/confirm", handler.ConfirmChallenge)
			profile.DELETE("/challenge/:field", handler.CancelChallenge)
			profile.DELETE("/session", handler.CloseSession)
		}
		admin := apiV1.Group("/admin")
		admin.Use(middleware.RequireAdmin())
		{
			admin.POST("/users/role", handler.PromoteUser)
			admin.DELETE("/users/role", handler.DemoteUser)
		}
	}

	// Create HTTP server
	srv := &http.Server{
		Addr:    ":" + cfg.Service.Port,
		Handler: r,
	}

	// Start server in a goroutine
	go func() {
		logger.Info("Starting profile-sync service", zap.String("port", cfg.Service.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	// Graceful shutdown - modern signal handling with context
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	// Wait for shutdown signal
	<-ctx.Done()
	logger.Info("Shutdown signal received")

	// Fail readiness first and wait for propagation (best practice for K8s rollout).
	isShuttingDown.Store(true)
	drainDelay := cfg.GetReadinessDrainDelayDuration()
	if drainDelay > 0 {
		logger.Info("Readiness drain delay started", zap.Duration("delay", drainDelay))
		time.Sleep(drainDelay)
		logger.Info("Readiness drain delay completed", zap.Duration("delay", drainDelay))
	}

	// Shutdown context with configurable timeout
	shutdownTimeout := cfg.GetShutdownTimeoutDuration()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	logger.Info("Shutting down server...", zap.Duration("timeout", shutdownTimeout))

	// Explicit cleanup sequence: HTTP Server → Engine sessions → Database → Tracer
	// This ensures predictable shutdown order and easier debugging

	// 1. Shutdown HTTP server (stop accepting new connections, wait for in-flight requests)
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown error", zap.Error(err))
	} else {
		logger.Info("HTTP server shutdown complete")
	}

	// 2. Tear down engine sessions (cancels every pending autosave timer)
	engine.Close()
	logger.Info("Engine sessions closed")

	// 3. Close database connections (explicit cleanup + defer for safety)
	pool.Close()
	logger.Info("Database pool closed")

	// 4. Shutdown tracer (flush pending spans)
	if tp != nil {
		if err := tp.Shutdown(shutdownCtx); err != nil {
			logger.Error("Tracer shutdown error", zap.Error(err))
		} else {
			logger.Info("Tracer shutdown complete")
		}
	}

	logger.Info("Graceful shutdown complete")
}
