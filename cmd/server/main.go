package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"github.com/pushfleet/pushfleet/internal/api"
	"github.com/pushfleet/pushfleet/internal/config"
	"github.com/pushfleet/pushfleet/internal/engine"
	"github.com/pushfleet/pushfleet/internal/scheduler"
	"github.com/pushfleet/pushfleet/internal/store"
	ws "github.com/pushfleet/pushfleet/internal/websocket"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	if err := godotenv.Load(); err != nil {
		logger.Info("no .env file found, using environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	// Initialize PostgreSQL
	ctx := context.Background()
	pgStore, err := store.NewPostgres(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Error("failed to connect to postgres", "error", err)
		os.Exit(1)
	}
	defer pgStore.Close()
	logger.Info("connected to PostgreSQL")

	// Run database migrations
	if err := pgStore.RunMigrations(ctx, "migrations"); err != nil {
		logger.Error("failed to run migrations", "error", err)
		os.Exit(1)
	}
	logger.Info("database migrations applied")

	// Outbound rate limiter and push-service circuit breaker are optional:
	// no Redis means neither.
	var limiter *engine.RateLimiter
	var breaker *engine.CircuitBreaker
	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			logger.Error("failed to parse redis URL", "error", err)
			os.Exit(1)
		}
		redisClient := redis.NewClient(opts)
		if err := redisClient.Ping(ctx).Err(); err != nil {
			logger.Error("failed to connect to redis", "error", err)
			os.Exit(1)
		}
		defer redisClient.Close()
		limiter = engine.NewRateLimiter(redisClient, logger)
		breaker = engine.NewCircuitBreaker(redisClient, logger, cfg.BreakerFailureThreshold, cfg.BreakerCooldown)
		logger.Info("connected to Redis, outbound rate limiting and circuit breaking enabled",
			"push_rate_per_second", cfg.PushRatePerSecond,
			"breaker_failure_threshold", cfg.BreakerFailureThreshold,
			"breaker_cooldown", cfg.BreakerCooldown,
		)
	}

	// Live dashboard feed
	hub := ws.NewHub(logger)
	go hub.Run()

	// Dispatch engine + scheduler sweeps
	transport := engine.NewWebPushTransport(cfg.PushTTL)
	keys := engine.NewKeyProvider(pgStore)
	dispatchEngine := engine.NewEngine(pgStore, keys, transport, limiter, breaker, hub, logger, engine.EngineConfig{
		Workers:           cfg.DispatchWorkers,
		PushRatePerSecond: cfg.PushRatePerSecond,
	})

	sched := scheduler.New(pgStore, dispatchEngine, logger, scheduler.Config{
		DispatchInterval:  cfg.DispatchInterval,
		ReconcileInterval: cfg.ReconcileInterval,
		CleanupInterval:   cfg.CleanupInterval,
		DispatchBatchSize: cfg.DispatchBatchSize,
		StuckThreshold:    cfg.StuckThreshold,
		RetentionWindow:   cfg.RetentionWindow,
	})
	sched.Start()

	// Setup router
	router := api.NewRouter(pgStore, hub, breaker)

	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in a goroutine
	go func() {
		logger.Info("server starting", "port", cfg.Port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for interrupt signal for graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", "error", err)
	}

	// Let in-flight sweeps finish before the store closes.
	sched.Stop()

	logger.Info("server stopped")
}
