package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds all configuration for the application.
type Config struct {
	Port        string
	DatabaseURL string
	RedisURL    string

	// Sweep timing.
	DispatchInterval  time.Duration
	ReconcileInterval time.Duration
	CleanupInterval   time.Duration

	// Dispatch sweep claims at most this many due notifications per tick.
	DispatchBatchSize int
	// Concurrent pushes per notification fan-out.
	DispatchWorkers int

	// A notification stuck in "sending" longer than this is failed by the
	// reconciliation sweep.
	StuckThreshold time.Duration
	// Terminal notifications older than this are removed by cleanup.
	RetentionWindow time.Duration

	// Outbound push rate limit per push-service host per second.
	// Zero disables rate limiting.
	PushRatePerSecond int
	// TTL handed to the push service, in seconds.
	PushTTL int

	// Transient failures per push-service host before its circuit opens.
	BreakerFailureThreshold int
	// How long an open circuit blocks pushes before allowing a probe.
	BreakerCooldown time.Duration
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	dbURL := getEnv("DATABASE_URL", "")
	if dbURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	return &Config{
		Port:              getEnv("PORT", "8080"),
		DatabaseURL:       dbURL,
		RedisURL:          getEnv("REDIS_URL", ""),
		DispatchInterval:  getEnvDuration("DISPATCH_INTERVAL", time.Minute),
		ReconcileInterval: getEnvDuration("RECONCILE_INTERVAL", 5*time.Minute),
		CleanupInterval:   getEnvDuration("CLEANUP_INTERVAL", 24*time.Hour),
		DispatchBatchSize: getEnvInt("DISPATCH_BATCH_SIZE", 100),
		DispatchWorkers:   getEnvInt("DISPATCH_WORKERS", 10),
		StuckThreshold:    getEnvDuration("STUCK_THRESHOLD", 10*time.Minute),
		RetentionWindow:   getEnvDuration("RETENTION_WINDOW", 90*24*time.Hour),
		PushRatePerSecond: getEnvInt("PUSH_RATE_PER_SECOND", 0),
		PushTTL:           getEnvInt("PUSH_TTL_SECONDS", 86400),

		BreakerFailureThreshold: getEnvInt("BREAKER_FAILURE_THRESHOLD", 5),
		BreakerCooldown:         getEnvDuration("BREAKER_COOLDOWN", 30*time.Second),
	}, nil
}

func getEnv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if val := os.Getenv(key); val != "" {
		n, err := strconv.Atoi(val)
		if err == nil {
			return n
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		d, err := time.ParseDuration(val)
		if err == nil {
			return d
		}
	}
	return fallback
}
