package middleware

import (
	"context"
	"net/http"
	"strconv"
	"sync"
	"time"

	"catalogsync/internal/service"
	"catalogsync/pkg/logger"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// tokenBucketScript implements the Token Bucket algorithm.
// Input: ARGV[1]=rate, ARGV[2]=capacity, ARGV[3]=now, ARGV[4]=requested
// Output: { allowed, remaining, reset_after }
var tokenBucketScript = redis.NewScript(`
local tokens_key = KEYS[1]
local ts_key = KEYS[2]
local rate = tonumber(ARGV[1])
local capacity = tonumber(ARGV[2])
local now = tonumber(ARGV[3])
local requested = tonumber(ARGV[4])

local fill_time = capacity / rate
local ttl = math.ceil(fill_time * 2)

-- Load state
local last_tokens = tonumber(redis.call("get", tokens_key))
if last_tokens == nil then last_tokens = capacity end

local last_ts = tonumber(redis.call("get", ts_key))
if last_ts == nil then last_ts = now end

-- Refill
local delta = math.max(0, now - last_ts)
local filled_tokens = math.min(capacity, last_tokens + (delta * rate))
local allowed = 0
local remaining = filled_tokens
local reset_after = 0

if filled_tokens >= requested then
    allowed = 1
    filled_tokens = filled_tokens - requested
    remaining = filled_tokens
else
    allowed = 0
    remaining = filled_tokens
    reset_after = (requested - filled_tokens) / rate
end

if allowed == 1 then
    redis.call("set", tokens_key, filled_tokens, "EX", ttl)
    redis.call("set", ts_key, now, "EX", ttl)
end

return { allowed, remaining, reset_after }
`)

type localLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimiter is a per-caller token bucket kept in Redis. When Redis is
// unreachable it fails open onto in-process buckets.
type RateLimiter struct {
	rdb       redis.UniversalClient
	rps       int
	burst     int
	keyPrefix string

	mu    sync.Mutex
	local map[string]*localLimiter
	sweep time.Time
}

func NewRateLimiter(rdb redis.UniversalClient, requestsPerSecond int) *RateLimiter {
	if requestsPerSecond <= 0 {
		requestsPerSecond = 5
	}
	return &RateLimiter{
		rdb:       rdb,
		rps:       requestsPerSecond,
		burst:     requestsPerSecond,
		keyPrefix: "catalogsync:ratelimit:",
		local:     make(map[string]*localLimiter),
		sweep:     time.Now(),
	}
}

// callerKey buckets authenticated callers by identity and anonymous ones by IP.
func callerKey(c *gin.Context) string {
	if op := service.GetOperatorInfo(c.Request.Context()); op != nil && op.UserID != "" {
		return "op:" + op.UserID
	}
	return "ip:" + c.ClientIP()
}

func (l *RateLimiter) fallback(key string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()
	if now.Sub(l.sweep) > 10*time.Minute {
		for k, v := range l.local {
			if now.Sub(v.lastSeen) > 10*time.Minute {
				delete(l.local, k)
			}
		}
		l.sweep = now
	}

	if v, ok := l.local[key]; ok {
		v.lastSeen = now
		return v.limiter
	}
	v := &localLimiter{limiter: rate.NewLimiter(rate.Limit(l.rps), l.burst), lastSeen: now}
	l.local[key] = v
	return v.limiter
}

func (l *RateLimiter) Middleware() gin.HandlerFunc {
	limit := strconv.Itoa(l.rps)

	return func(c *gin.Context) {
		key := callerKey(c)
		tokensKey := l.keyPrefix + key + ":tokens"
		tsKey := l.keyPrefix + key + ":ts"

		now := float64(time.Now().UnixMicro()) / 1e6
		args := []any{float64(l.rps), float64(l.burst), now, 1}

		ctx, cancel := context.WithTimeout(c.Request.Context(), 100*time.Millisecond)
		result, err := tokenBucketScript.Run(ctx, l.rdb, []string{tokensKey, tsKey}, args...).Result()
		cancel()

		c.Header("X-RateLimit-Limit", limit)

		if err != nil {
			logger.Warn("redis rate limit failed, switching to local fallback",
				zap.Error(err),
				zap.String("caller", key))

			limiter := l.fallback(key)
			if !limiter.Allow() {
				c.Header("X-RateLimit-Remaining", "0")
				c.Header("X-RateLimit-Reset", "1")
				c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "Too Many Requests"})
				return
			}
			c.Header("X-RateLimit-Remaining", strconv.Itoa(int(limiter.Tokens())))
			c.Next()
			return
		}

		resSlice, ok := result.([]any)
		if !ok || len(resSlice) != 3 {
			logger.Error("invalid redis rate limit response", zap.Any("response", result))
			c.Next()
			return
		}

		allowed := helperInt(resSlice[0]) == 1
		remaining := helperFloat(resSlice[1])
		resetAfter := helperFloat(resSlice[2])

		c.Header("X-RateLimit-Remaining", strconv.Itoa(int(remaining)))
		resetTime := time.Now().Add(time.Duration(resetAfter * float64(time.Second)))
		c.Header("X-RateLimit-Reset", strconv.FormatInt(resetTime.Unix(), 10))

		if !allowed {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "Too Many Requests"})
			return
		}
		c.Next()
	}
}

func helperInt(v any) int64 {
	if val, ok := v.(int64); ok {
		return val
	}
	if val, ok := v.(float64); ok {
		return int64(val)
	}
	return 0
}

func helperFloat(v any) float64 {
	switch val := v.(type) {
	case float64:
		return val
	case int64:
		return float64(val)
	default:
		return 0
	}
}
