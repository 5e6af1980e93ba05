package engine

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// Circuit breaker states
const (
	StateClosed   = "closed"
	StateOpen     = "open"
	StateHalfOpen = "half-open"
)

// CircuitBreaker tracks push-service health per endpoint host in Redis.
// When a service keeps failing transiently (5xx, timeouts) the circuit
// opens and the fan-out stops hammering it; deliveries to that host are
// recorded as transient failures instead. State transitions:
// closed → open → half-open → closed.
//
// - Closed: normal operation, failures are counted.
// - Open: pushes to the host are rejected until the cooldown elapses.
// - Half-Open: one probe push is allowed. Success → closed, failure → open.
type CircuitBreaker struct {
	redisClient      *redis.Client
	logger           *slog.Logger
	failureThreshold int
	cooldownPeriod   time.Duration
}

// CircuitBreakerState is the current circuit state for one push-service host.
type CircuitBreakerState struct {
	State        string `json:"state"`
	Failures     int    `json:"failures"`
	LastFailedAt string `json:"last_failed_at,omitempty"`
}

func NewCircuitBreaker(redisClient *redis.Client, logger *slog.Logger, failureThreshold int, cooldown time.Duration) *CircuitBreaker {
	if failureThreshold <= 0 {
		failureThreshold = 5
	}
	if cooldown <= 0 {
		cooldown = 30 * time.Second
	}
	return &CircuitBreaker{
		redisClient:      redisClient,
		logger:           logger,
		failureThreshold: failureThreshold,
		cooldownPeriod:   cooldown,
	}
}

func cbKey(host string) string {
	return fmt.Sprintf("push_cb:%s", host)
}

// AllowRequest checks if a push to this host may proceed. Returns the
// current state and whether the push should go out.
func (cb *CircuitBreaker) AllowRequest(ctx context.Context, host string) (string, bool) {
	key := cbKey(host)

	data, err := cb.redisClient.HGetAll(ctx, key).Result()
	if err != nil || len(data) == 0 {
		// No state yet — circuit is closed (default). Redis errors fail
		// open like the rate limiter does.
		return StateClosed, true
	}

	state := data["state"]
	lastFailedAt, _ := strconv.ParseInt(data["last_failed_at"], 10, 64)

	switch state {
	case StateOpen:
		if time.Now().Unix()-lastFailedAt >= int64(cb.cooldownPeriod.Seconds()) {
			// Cooldown elapsed: allow one probe push
			cb.redisClient.HSet(ctx, key, "state", StateHalfOpen)
			cb.logger.Info("push service circuit half-open", "host", host)
			return StateHalfOpen, true
		}
		return StateOpen, false

	case StateHalfOpen:
		return StateHalfOpen, true

	default:
		return StateClosed, true
	}
}

// RecordSuccess resets the circuit to closed. Any response from the push
// service counts — a 410 for one subscription still proves the service is up.
func (cb *CircuitBreaker) RecordSuccess(ctx context.Context, host string) {
	key := cbKey(host)

	state, _ := cb.redisClient.HGet(ctx, key, "state").Result()

	cb.redisClient.HSet(ctx, key,
		"state", StateClosed,
		"failures", 0,
	)

	if state == StateHalfOpen {
		cb.logger.Info("push service circuit closed (recovered)", "host", host)
	}
}

// RecordFailure counts a transient push failure against the host. Opens the
// circuit once the threshold is reached.
func (cb *CircuitBreaker) RecordFailure(ctx context.Context, host string) {
	key := cbKey(host)

	failures, err := cb.redisClient.HIncrBy(ctx, key, "failures", 1).Result()
	if err != nil {
		cb.logger.Error("failed to record circuit failure", "error", err, "host", host)
		return
	}

	cb.redisClient.HSet(ctx, key, "last_failed_at", time.Now().Unix())

	state, _ := cb.redisClient.HGet(ctx, key, "state").Result()

	if state == StateHalfOpen {
		// Probe failed → back to open
		cb.redisClient.HSet(ctx, key, "state", StateOpen)
		cb.logger.Warn("push service circuit re-opened (probe failed)", "host", host)
	} else if failures >= int64(cb.failureThreshold) {
		cb.redisClient.HSet(ctx, key, "state", StateOpen)
		cb.logger.Warn("push service circuit opened",
			"host", host,
			"failures", failures,
			"threshold", cb.failureThreshold,
		)
	} else if state == "" {
		cb.redisClient.HSet(ctx, key, "state", StateClosed)
	}
}

// GetState returns the current circuit state for a push-service host.
func (cb *CircuitBreaker) GetState(ctx context.Context, host string) CircuitBreakerState {
	key := cbKey(host)

	data, err := cb.redisClient.HGetAll(ctx, key).Result()
	if err != nil || len(data) == 0 {
		return CircuitBreakerState{State: StateClosed, Failures: 0}
	}

	failures, _ := strconv.Atoi(data["failures"])
	state := data["state"]
	if state == "" {
		state = StateClosed
	}

	if state == StateOpen {
		lastFailedAt, _ := strconv.ParseInt(data["last_failed_at"], 10, 64)
		if time.Now().Unix()-lastFailedAt >= int64(cb.cooldownPeriod.Seconds()) {
			state = StateHalfOpen
		}
	}

	result := CircuitBreakerState{
		State:    state,
		Failures: failures,
	}

	if ts, ok := data["last_failed_at"]; ok && ts != "" {
		lastFailed, _ := strconv.ParseInt(ts, 10, 64)
		if lastFailed > 0 {
			result.LastFailedAt = time.Unix(lastFailed, 0).Format(time.RFC3339)
		}
	}

	return result
}
