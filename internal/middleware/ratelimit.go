package middleware

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/iliyamo/session-auth/internal/config"
)

// takeScript refills a bucket continuously at rate tokens per millisecond and
// takes one token if a whole one is available. State lives in a hash with the
// token count (t) and the time of the last update (ts).
//
// KEYS[1] bucket key
// ARGV    now_ms, capacity, rate_per_ms, ttl_ms
// returns {allowed, whole tokens left, ms until the next token}
var takeScript = redis.NewScript(`
local now = tonumber(ARGV[1])
local capacity = tonumber(ARGV[2])
local rate = tonumber(ARGV[3])
local ttl = tonumber(ARGV[4])

local t = tonumber(redis.call('HGET', KEYS[1], 't'))
local ts = tonumber(redis.call('HGET', KEYS[1], 'ts'))
if t == nil or ts == nil then
	t = capacity
	ts = now
end
if now > ts then
	t = math.min(capacity, t + (now - ts) * rate)
	ts = now
end

local allowed = 0
local wait = 0
if t >= 1 then
	allowed = 1
	t = t - 1
elseif rate > 0 then
	wait = math.ceil((1 - t) / rate)
end

redis.call('HSET', KEYS[1], 't', tostring(t), 'ts', tostring(ts))
redis.call('PEXPIRE', KEYS[1], ttl)
return {allowed, math.floor(t), wait}
`)

// bucketResult is one decision of the token bucket.
type bucketResult struct {
	Allowed    bool
	Remaining  int64
	RetryAfter time.Duration
}

type tokenBucket struct {
	rdb       *redis.Client
	capacity  int
	ratePerMs float64
	ttl       time.Duration
}

func (b tokenBucket) take(ctx context.Context, key string, now time.Time) (bucketResult, error) {
	reply, err := takeScript.Run(ctx, b.rdb, []string{key},
		now.UnixMilli(), b.capacity, strconv.FormatFloat(b.ratePerMs, 'g', -1, 64), b.ttl.Milliseconds(),
	).Int64Slice()
	if err != nil {
		return bucketResult{}, err
	}
	if len(reply) != 3 {
		return bucketResult{}, fmt.Errorf("token bucket: unexpected reply %v", reply)
	}
	return bucketResult{
		Allowed:    reply[0] == 1,
		Remaining:  reply[1],
		RetryAfter: time.Duration(reply[2]) * time.Millisecond,
	}, nil
}

// NewTokenBucket throttles requests per key with a Redis token bucket. With
// the limiter disabled or no Redis client it passes everything through, and a
// Redis error fails open.
func NewTokenBucket(cfg config.RateLimitConfig, rdb *redis.Client, log logrus.FieldLogger) echo.MiddlewareFunc {
	if !cfg.Enabled || rdb == nil {
		return func(next echo.HandlerFunc) echo.HandlerFunc { return next }
	}
	bucket := tokenBucket{
		rdb:       rdb,
		capacity:  cfg.Capacity,
		ratePerMs: float64(cfg.RefillTokens) * float64(time.Millisecond) / float64(cfg.RefillInterval),
		ttl:       cfg.TTL,
	}
	limit := strconv.Itoa(cfg.Capacity)

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			key := rateKey(cfg, c)
			res, err := bucket.take(c.Request().Context(), key, time.Now())
			if err != nil {
				log.WithError(err).WithField("key", key).Warn("rate limiter unavailable, allowing request")
				return next(c)
			}

			h := c.Response().Header()
			h.Set("X-RateLimit-Limit", limit)
			h.Set("X-RateLimit-Remaining", strconv.FormatInt(res.Remaining, 10))
			if cfg.Debug {
				h.Set("X-RateLimit-Key", key)
			}
			if res.Allowed {
				return next(c)
			}

			secs := int((res.RetryAfter + time.Second - 1) / time.Second)
			h.Set("Retry-After", strconv.Itoa(secs))
			log.WithFields(logrus.Fields{
				"key":         key,
				"retry_after": res.RetryAfter,
			}).Info("rate limited")
			return c.JSON(http.StatusTooManyRequests, map[string]any{
				"error":       "too_many_requests",
				"message":     "rate limit exceeded",
				"retry_after": secs,
			})
		}
	}
}

// rateKey joins the configured parts of the request into a bucket key:
// client address, authenticated user and route.
func rateKey(cfg config.RateLimitConfig, c echo.Context) string {
	ip := c.RealIP()
	if ip == "" {
		ip = "unknown"
	}
	parts := map[string]string{
		"ip":    ip,
		"user":  userID(c),
		"route": c.Request().Method + " " + c.Path(),
	}

	var use []string
	switch s := strings.ToLower(cfg.KeyStrategy); s {
	case "ip", "user", "route":
		use = []string{s}
	case "ip_user":
		use = []string{"ip", "user"}
	case "ip_route":
		use = []string{"ip", "route"}
	case "user_route":
		use = []string{"user", "route"}
	default:
		use = []string{"ip", "user", "route"}
	}

	key := []string{cfg.Prefix}
	for _, name := range use {
		key = append(key, name, parts[name])
	}
	return strings.Join(key, ":")
}
