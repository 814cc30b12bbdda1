package middleware

import (
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/iliyamo/chama-backend/internal/config"
)

// limiterScript takes one token from the bucket at KEYS[1].  The bucket is
// a hash of remaining tokens (tk) and the last refill time in ms (ts).
// ARGV: now_ms, capacity, refill_tokens, refill_interval_ms, ttl_ms.
// Returns {allowed, remaining, retry_after_ms}.
var limiterScript = redis.NewScript(`
local now, cap, refill, step, ttl =
	tonumber(ARGV[1]), tonumber(ARGV[2]), tonumber(ARGV[3]), tonumber(ARGV[4]), tonumber(ARGV[5])
local b = redis.call('HMGET', KEYS[1], 'tk', 'ts')
local tk = tonumber(b[1]) or cap
local ts = tonumber(b[2]) or now

if step > 0 and refill > 0 and now > ts then
	local n = math.floor((now - ts) / step)
	tk = tk + n * refill
	ts = ts + n * step
end
if tk >= cap then
	tk = cap
	ts = now
end

local allowed, wait = 0, 0
if tk >= 1 then
	allowed = 1
	tk = tk - 1
elseif step > 0 then
	wait = math.max(0, step - (now - ts))
end

redis.call('HSET', KEYS[1], 'tk', tk, 'ts', ts)
if ttl > 0 then
	redis.call('PEXPIRE', KEYS[1], ttl)
end
return { allowed, tk, wait }
`)

// bucketReply is the decoded result of limiterScript.
type bucketReply struct {
	Allowed   bool
	Remaining int64
	RetryMs   int64
}

func parseBucketReply(v any) (bucketReply, bool) {
	arr, ok := v.([]any)
	if !ok || len(arr) != 3 {
		return bucketReply{}, false
	}
	return bucketReply{
		Allowed:   asInt64(arr[0]) == 1,
		Remaining: asInt64(arr[1]),
		RetryMs:   asInt64(arr[2]),
	}, true
}

// retryAfterSeconds rounds a millisecond wait up to whole seconds.
func retryAfterSeconds(ms int64) int {
	if ms <= 0 {
		return 0
	}
	return int(math.Ceil(float64(ms) / 1000.0))
}

func passthrough(next echo.HandlerFunc) echo.HandlerFunc { return next }

// NewTokenBucket limits requests with a token bucket kept in Redis.  Redis
// errors fail open.
func NewTokenBucket(cfg config.RateLimitConfig, rdb *redis.Client, log zerolog.Logger) echo.MiddlewareFunc {
	if !cfg.Enabled || rdb == nil {
		return passthrough
	}
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			key := buildRateKey(cfg, c)
			vals, err := limiterScript.Run(c.Request().Context(), rdb, []string{key},
				time.Now().UnixMilli(), cfg.Capacity, cfg.RefillTokens,
				cfg.RefillInterval.Milliseconds(), cfg.TTL.Milliseconds()).Result()
			if err != nil {
				log.Warn().Err(err).Str("key", key).Msg("ratelimit: redis error")
				return next(c)
			}
			r, ok := parseBucketReply(vals)
			if !ok {
				log.Warn().Interface("result", vals).Msg("ratelimit: unexpected script result")
				return next(c)
			}

			h := c.Response().Header()
			h.Set("X-RateLimit-Limit", strconv.Itoa(cfg.Capacity))
			h.Set("X-RateLimit-Remaining", strconv.FormatInt(r.Remaining, 10))
			if !r.Allowed {
				h.Set("Retry-After", strconv.Itoa(retryAfterSeconds(r.RetryMs)))
				log.Debug().Str("key", key).Int64("retry_ms", r.RetryMs).Msg("ratelimit: blocked")
				return echo.NewHTTPError(http.StatusTooManyRequests, "Rate limit exceeded")
			}
			return next(c)
		}
	}
}

func asInt64(v any) int64 {
	switch t := v.(type) {
	case int64:
		return t
	case int:
		return int64(t)
	case float64:
		return int64(t)
	case string:
		if n, err := strconv.ParseInt(t, 10, 64); err == nil {
			return n
		}
	}
	return 0
}

func buildRateKey(cfg config.RateLimitConfig, c echo.Context) string {
	parts := []string{cfg.Prefix}
	ip := c.RealIP()
	if ip == "" {
		ip = "unknown"
	}
	uid := currentUserID(c)
	route := c.Request().Method + " " + c.Path()

	switch strings.ToLower(cfg.KeyStrategy) {
	case "ip":
		parts = append(parts, "ip", ip)
	case "user":
		parts = append(parts, "user", uid)
	case "route":
		parts = append(parts, "route", route)
	case "ip_user":
		parts = append(parts, "ip", ip, "user", uid)
	case "ip_route":
		parts = append(parts, "ip", ip, "route", route)
	case "user_route":
		parts = append(parts, "user", uid, "route", route)
	default:
		parts = append(parts, "ip", ip, "user", uid, "route", route)
	}
	return strings.Join(parts, ":")
}
