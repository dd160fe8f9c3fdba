package middleware

import (
    "context"
    "fmt"
    "math"
    "net/http"
    "strconv"
    "strings"
    "time"

    "github.com/labstack/echo/v4"
    "github.com/redis/go-redis/v9"
    log "github.com/sirupsen/logrus"

    "github.com/iliyamo/ticket-pool/internal/config"
)

// tokenBucketScript refills the bucket stored in KEYS[1] for the elapsed
// whole intervals, then takes one token if any is left.
// Returns {allowed, tokens_left, retry_after_ms}.
var tokenBucketScript = redis.NewScript(`
    local key = KEYS[1]
    local now_ms = tonumber(ARGV[1])
    local capacity = tonumber(ARGV[2])
    local refill_tokens = tonumber(ARGV[3])
    local interval_ms = tonumber(ARGV[4])
    local ttl_seconds = tonumber(ARGV[5])

    local state = redis.call('HMGET', key, 'tokens', 'last_refill_ms')
    local tokens = tonumber(state[1])
    local last_refill = tonumber(state[2])

    if tokens == nil or last_refill == nil then
        tokens = capacity
        last_refill = now_ms
    end

    if interval_ms > 0 and refill_tokens > 0 then
        local elapsed = math.max(0, now_ms - last_refill)
        local intervals = math.floor(elapsed / interval_ms)
        if intervals > 0 then
            tokens = math.min(capacity, tokens + (intervals * refill_tokens))
            last_refill = last_refill + (intervals * interval_ms)
        end
    end

    local allowed = 0
    local retry_after_ms = 0
    if tokens > 0 then
        allowed = 1
        tokens = tokens - 1
    else
        local until_next = interval_ms - (now_ms - last_refill)
        if until_next < 0 then until_next = 0 end
        retry_after_ms = until_next
    end

    redis.call('HSET', key, 'tokens', tokens, 'last_refill_ms', last_refill)
    redis.call('EXPIRE', key, ttl_seconds)

    return { allowed, tokens, retry_after_ms }
`)

type bucketResult struct {
    allowed   bool
    remaining int64
    retryMs   int64
}

type tokenBucket struct {
    cfg config.RateLimitConfig
    rdb redis.Scripter
    now func() time.Time
}

func (b *tokenBucket) take(ctx context.Context, key string) (bucketResult, error) {
    args := []interface{}{
        b.now().UnixMilli(),
        b.cfg.Capacity,
        b.cfg.RefillTokens,
        b.cfg.RefillInterval.Milliseconds(),
        int64(b.cfg.TTL / time.Second),
    }
    vals, err := tokenBucketScript.Run(ctx, b.rdb, []string{key}, args...).Int64Slice()
    if err != nil {
        return bucketResult{}, err
    }
    if len(vals) != 3 {
        return bucketResult{}, fmt.Errorf("unexpected limiter result %v", vals)
    }
    return bucketResult{allowed: vals[0] == 1, remaining: vals[1], retryMs: vals[2]}, nil
}

// NewTokenBucket returns a rate limiting middleware backed by Redis.  It is
// a pass-through when disabled or when no client is available, and fails
// open when Redis errors so an outage never blocks reservations.
func NewTokenBucket(cfg config.RateLimitConfig, rdb redis.Scripter, logger *log.Entry) echo.MiddlewareFunc {
    if !cfg.Enabled || rdb == nil {
        return func(next echo.HandlerFunc) echo.HandlerFunc { return next }
    }
    bucket := &tokenBucket{cfg: cfg, rdb: rdb, now: time.Now}
    logger = logger.WithField("component", "ratelimit")

    return func(next echo.HandlerFunc) echo.HandlerFunc {
        return func(c echo.Context) error {
            key := buildRateKey(cfg, c)
            res, err := bucket.take(c.Request().Context(), key)
            if err != nil {
                logger.WithError(err).WithField("key", key).Warn("limiter unavailable, allowing request")
                return next(c)
            }

            c.Response().Header().Set("X-RateLimit-Limit", strconv.Itoa(cfg.Capacity))
            c.Response().Header().Set("X-RateLimit-Remaining", strconv.FormatInt(res.remaining, 10))

            if !res.allowed {
                secs := int(math.Ceil(float64(res.retryMs) / 1000.0))
                if secs < 0 { secs = 0 }
                c.Response().Header().Set("Retry-After", strconv.Itoa(secs))
                if cfg.Debug {
                    logger.WithFields(log.Fields{"key": key, "retry_ms": res.retryMs}).Info("request throttled")
                }
                return c.JSON(http.StatusTooManyRequests, echo.Map{
                    "error":       "rate limit exceeded",
                    "code":        "too_many_requests",
                    "retry_after": secs,
                })
            }

            if cfg.Debug {
                c.Response().Header().Set("X-RateLimit-Key", key)
            }
            return next(c)
        }
    }
}

func buildRateKey(cfg config.RateLimitConfig, c echo.Context) string {
    parts := []string{cfg.Prefix}
    ip := c.RealIP()
    if ip == "" { ip = "unknown" }
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
    case "ip_user_route":
        parts = append(parts, "ip", ip, "user", uid, "route", route)
    default: // "ip_route"
        parts = append(parts, "ip", ip, "route", route)
    }
    return strings.Join(parts, ":")
}
