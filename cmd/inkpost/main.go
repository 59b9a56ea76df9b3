package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"inkpost/internal/api"
	"inkpost/internal/auth"
	"inkpost/internal/config"
	"inkpost/internal/logger"
	"inkpost/internal/observability"
	"inkpost/internal/ratelimit"
	"inkpost/internal/storage"
	"inkpost/internal/tasks"
	"inkpost/internal/version"
)

var (
	configFile    = flag.String("config", "", "Path to configuration file")
	exampleConfig = flag.String("write-example-config", "", "Write an example configuration file to this path and exit")
	showVersion   = flag.Bool("version", false, "Print version information and exit")
)

func main() {
	flag.Parse()

	ver := version.GetInfo()
	if *showVersion {
		fmt.Println(ver.String())
		return
	}

	if *exampleConfig != "" {
		if err := config.SaveExample(*exampleConfig); err != nil {
			slog.Error("Failed to write example configuration", "error", err)
			os.Exit(1)
		}
		return
	}

	// Load configuration
	cfg, err := config.Load(*configFile)
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	// Initialize structured logging
	log, closer, err := logger.Setup(cfg.Logging, ver)
	if err != nil {
		slog.Error("Failed to initialize logger", "error", err)
		os.Exit(1)
	}
	if closer != nil {
		defer closer.Close()
	}
	slog.SetDefault(log)

	// Initialize observability (OpenTelemetry)
	otelProvider, err := observability.Setup(cfg, ver)
	if err != nil {
		slog.Error("Failed to initialize observability", "error", err)
		os.Exit(1)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := otelProvider.Shutdown(shutdownCtx); err != nil {
			slog.Error("Failed to shutdown observability", "error", err)
		}
	}()

	// Initialize storage
	storageInstance, err := storage.NewFactory().Create(cfg.Storage)
	if err != nil {
		slog.Error("Failed to initialize storage", "error", err)
		os.Exit(1)
	}
	defer storageInstance.Close()

	// Wrap storage with instrumentation when any telemetry is collected
	var activeStorage storage.Storage = storageInstance
	if cfg.Metrics.Enabled || cfg.Observability.Tracing.Enabled {
		instrumented, err := observability.NewInstrumentedStorage(storageInstance)
		if err != nil {
			slog.Error("Failed to create instrumented storage", "error", err)
			os.Exit(1)
		}
		activeStorage = instrumented
	}

	if err := seedBootstrapKey(context.Background(), activeStorage, cfg.Security.BootstrapKey); err != nil {
		slog.Error("Failed to seed bootstrap key", "error", err)
		os.Exit(1)
	}

	// Rate limiter. The API key budgets are always enforced, so the limiter
	// exists even when route throttles are disabled.
	bucketStore, closeBuckets, err := newBucketStore(cfg)
	if err != nil {
		slog.Error("Failed to initialize rate limit store", "error", err)
		os.Exit(1)
	}
	defer closeBuckets()

	limiterMetrics, err := ratelimit.NewMetrics()
	if err != nil {
		slog.Error("Failed to create rate limit metrics", "error", err)
		os.Exit(1)
	}
	limiter := ratelimit.NewLimiter(bucketStore, ratelimit.WithMetrics(limiterMetrics))

	sweeper, err := newSweeper(bucketStore, cfg.RateLimit.SweepSchedule)
	if err != nil {
		slog.Error("Failed to schedule rate limit sweeps", "error", err)
		os.Exit(1)
	}
	sweeper.Start()

	// Background side effects (API key last-use bookkeeping)
	runner := tasks.NewRunner(cfg.Tasks)

	policies := ratelimit.PoliciesFromConfig(cfg.RateLimit, cfg.Security.APIKeyLimits)
	authenticator := auth.NewAuthenticator(activeStorage, limiter, policies, runner)

	if len(cfg.Security.AdminTokens) == 0 {
		slog.Warn("No admin tokens configured; admin endpoints will reject every request")
	}

	handlerOpts := []api.HandlerOption{api.WithComments(cfg.Comments)}
	if cfg.Media.Dir != "" {
		mediaRoot, err := os.OpenRoot(cfg.Media.Dir)
		if err != nil {
			slog.Error("Failed to open media directory", "dir", cfg.Media.Dir, "error", err)
			os.Exit(1)
		}
		defer mediaRoot.Close()
		handlerOpts = append(handlerOpts, api.WithMedia(mediaRoot, cfg.Media))
	}
	handlers := api.NewHandlers(activeStorage, limiter, ver, handlerOpts...)

	// Setup routes with middleware
	routeOpts := []api.RouteOption{}
	if cfg.Observability.Tracing.Enabled {
		routeOpts = append(routeOpts, api.WithOTelMiddleware(cfg.Observability.ServiceName))
	}
	router := api.SetupRoutes(handlers, cfg, authenticator, routeOpts...)

	// Start metrics server if enabled
	var metricsServer *observability.MetricsServer
	if cfg.Metrics.Enabled {
		metricsServer = observability.NewMetricsServer(cfg.Metrics.Port, cfg.Metrics.Path, otelProvider)
		go func() {
			if err := metricsServer.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				slog.Error("Metrics server failed", "error", err)
			}
		}()
	}

	// Create HTTP server
	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	// Start server in a goroutine
	serverErr := make(chan error, 1)
	go func() {
		slog.Info("Starting server",
			"addr", server.Addr,
			"storage", cfg.Storage.Type,
			"rate_limit_store", cfg.RateLimit.Store,
			"rate_limit_enabled", cfg.RateLimit.Enabled,
			"tls", cfg.Server.TLSEnabled,
		)

		var err error
		if cfg.Server.TLSEnabled {
			err = server.ListenAndServeTLS(cfg.Server.TLSCertFile, cfg.Server.TLSKeyFile)
		} else {
			err = server.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	// Wait for interrupt signal or a listener failure
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-quit:
		slog.Info("Shutting down server", "signal", sig.String())
	case err := <-serverErr:
		slog.Error("Server failed", "error", err)
	}

	// Create a deadline to wait for shutdown
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	// Shutdown metrics server
	if metricsServer != nil {
		if err := metricsServer.Shutdown(ctx); err != nil {
			slog.Error("Metrics server forced to shutdown", "error", err)
		}
	}

	// Attempt graceful shutdown
	if err := server.Shutdown(ctx); err != nil {
		slog.Error("Server forced to shutdown", "error", err)
	}

	// Drain queued bookkeeping before storage closes.
	if err := runner.Close(ctx); err != nil {
		slog.Error("Background tasks did not drain", "error", err)
	}
	if err := sweeper.Stop(ctx); err != nil {
		slog.Error("Rate limit sweeper did not stop", "error", err)
	}

	stats := runner.Stats()
	slog.Info("Server shutdown complete",
		"tasks_completed", stats.Completed,
		"tasks_failed", stats.Failed,
		"tasks_dropped", stats.Dropped,
	)
}
