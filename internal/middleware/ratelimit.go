package middleware

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"
)

// FailPolicy decides what happens to a request when Redis cannot be reached.
type FailPolicy int

const (
	// FailOpen lets the request through.
	FailOpen FailPolicy = iota
	// FailClosed answers 503. Used on routes that move money.
	FailClosed
)

// RateLimitPrefix namespaces the counters in Redis.
const RateLimitPrefix = "editions:rl"

var errNoRedis = errors.New("redis client is nil")

// window is the state of one fixed-window counter after a hit.
type window struct {
	hits int64
	ttl  time.Duration
}

// hit increments the counter for key and starts its window if it has none.
// The expiry is checked on every hit so a counter whose EXPIRE was lost
// still resets.
func hit(ctx context.Context, rdb *redis.Client, key string, size time.Duration) (window, error) {
	var (
		incr *redis.IntCmd
		ttl  *redis.DurationCmd
	)
	_, err := rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		incr = p.Incr(ctx, key)
		ttl = p.PTTL(ctx, key)
		return nil
	})
	if err != nil {
		return window{}, err
	}

	w := window{hits: incr.Val(), ttl: ttl.Val()}
	if w.ttl < 0 {
		if err := rdb.PExpire(ctx, key, size).Err(); err != nil {
			return window{}, err
		}
		w.ttl = size
	}
	return w, nil
}

func limitingDisabled() bool {
	switch os.Getenv("APP_ENV") {
	case "", "test", "development":
		return true
	}
	return false
}

// CheckRateLimit counts one hit against resource/id and reports whether it is
// within limit for the current window. Limiting is off in test and
// development.
func CheckRateLimit(ctx context.Context, rdb *redis.Client, resource, id string, limit int, size time.Duration) (bool, error) {
	if limitingDisabled() {
		return true, nil
	}
	if rdb == nil {
		return false, errNoRedis
	}
	w, err := hit(ctx, rdb, fmt.Sprintf("%s:%s:%s", RateLimitPrefix, resource, id), size)
	if err != nil {
		return false, err
	}
	return w.hits <= int64(limit), nil
}

// RateLimit allows limit requests per window per caller (user id when
// authenticated, remote IP otherwise). It fails open.
func RateLimit(rdb *redis.Client, limit int, size time.Duration, name ...string) fiber.Handler {
	return RateLimitWithPolicy(rdb, limit, size, FailOpen, name...)
}

// RateLimitWithPolicy is RateLimit with an explicit failure policy. It sets
// X-RateLimit-Limit and X-RateLimit-Remaining, and Retry-After when refusing.
func RateLimitWithPolicy(rdb *redis.Client, limit int, size time.Duration, policy FailPolicy, name ...string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if limitingDisabled() {
			return c.Next()
		}

		resource := c.Path()
		if len(name) > 0 {
			resource = name[0]
		}
		caller := "ip:" + c.IP()
		if uid, ok := UserID(c); ok {
			caller = "user:" + strconv.FormatUint(uint64(uid), 10)
		}

		var (
			w   window
			err = errNoRedis
		)
		if rdb != nil {
			w, err = hit(c.UserContext(), rdb, fmt.Sprintf("%s:%s:%s", RateLimitPrefix, resource, caller), size)
		}
		if err != nil {
			Logger.WarnContext(c.UserContext(), "rate limit store unavailable",
				slog.String("resource", resource), slog.String("error", err.Error()))
			if policy == FailClosed {
				return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"error": "rate limit unavailable"})
			}
			return c.Next()
		}

		c.Set("X-RateLimit-Limit", strconv.Itoa(limit))
		c.Set("X-RateLimit-Remaining", strconv.FormatInt(max(int64(limit)-w.hits, 0), 10))
		if w.hits > int64(limit) {
			c.Set(fiber.HeaderRetryAfter, strconv.Itoa(int((w.ttl+time.Second-1)/time.Second)))
			return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{"error": "rate limit exceeded"})
		}
		return c.Next()
	}
}
