package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// RateLimiter throttles outbound pushes per push-service host using a
// sliding window in Redis. Browser vendors rate-limit senders aggressively;
// pacing our own traffic keeps a big fan-out from tripping 429s for every
// subscriber behind the same push service.
type RateLimiter struct {
	redisClient *redis.Client
	logger      *slog.Logger
	script      *redis.Script
}

// Lua script for atomic sliding window rate limiting.
// 1. Remove entries older than the window
// 2. Count remaining entries
// 3. If under the limit, add a new entry and return 1 (allowed)
// 4. If at/over the limit, return 0 (denied)
var slidingWindowScript = redis.NewScript(`
local key = KEYS[1]
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local limit = tonumber(ARGV[3])
local member = ARGV[4]

-- Remove entries outside the sliding window
redis.call('ZREMRANGEBYSCORE', key, '-inf', now - window)

-- Count current entries in the window
local count = redis.call('ZCARD', key)

if count < limit then
    -- Under the limit: add this request and allow
    redis.call('ZADD', key, now, member)
    -- Set TTL so the key auto-expires after the window
    redis.call('EXPIRE', key, window / 1000 + 1)
    return 1
else
    -- At the limit: deny
    return 0
end
`)

func NewRateLimiter(redisClient *redis.Client, logger *slog.Logger) *RateLimiter {
	return &RateLimiter{
		redisClient: redisClient,
		logger:      logger,
		script:      slidingWindowScript,
	}
}

func rlKey(host string) string {
	return fmt.Sprintf("push_rl:%s", host)
}

// Allow reports whether one more push to the given host fits inside the
// per-second limit. A limit of zero disables rate limiting. Redis errors
// fail open — a broken limiter must not stall the whole sweep.
func (rl *RateLimiter) Allow(ctx context.Context, host string, limit int) bool {
	if limit <= 0 {
		return true
	}

	now := time.Now().UnixMilli()
	member := fmt.Sprintf("%d-%d", now, time.Now().UnixNano())

	result, err := rl.script.Run(ctx, rl.redisClient,
		[]string{rlKey(host)},
		now,
		1000, // window: 1 second in milliseconds
		limit,
		member,
	).Int()
	if err != nil {
		rl.logger.Error("rate limiter check failed", "error", err, "host", host)
		return true
	}

	return result == 1
}
