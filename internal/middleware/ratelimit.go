package middleware

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/dubstudio/api/pkg/response"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/limiter"
	"github.com/redis/go-redis/v9"
)

// RateLimiter counts requests per client in fixed windows. With a Redis
// client the counters are shared across instances; without one they live in
// process memory.
type RateLimiter struct {
	redis redis.UniversalClient
}

func NewRateLimiter(redisClient redis.UniversalClient) *RateLimiter {
	return &RateLimiter{redis: redisClient}
}

// clientKey identifies the caller: the authenticated user when there is one,
// otherwise the remote IP.
func clientKey(c *fiber.Ctx) string {
	if userID := GetUserID(c); userID != "" {
		return "user:" + userID
	}
	return "ip:" + c.IP()
}

// Limit creates a rate limiting middleware. maxRequests <= 0 disables it.
func (rl *RateLimiter) Limit(keyPrefix string, maxRequests int, window time.Duration) fiber.Handler {
	if maxRequests <= 0 {
		return func(c *fiber.Ctx) error { return c.Next() }
	}
	if rl.redis == nil {
		return limiter.New(limiter.Config{
			Max:        maxRequests,
			Expiration: window,
			KeyGenerator: func(c *fiber.Ctx) string {
				return keyPrefix + ":" + clientKey(c)
			},
			LimitReached: func(c *fiber.Ctx) error {
				return response.RateLimited(c)
			},
		})
	}

	return func(c *fiber.Ctx) error {
		key := fmt.Sprintf("ratelimit:%s:%s", keyPrefix, clientKey(c))
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()

		count, err := rl.redis.Incr(ctx, key).Result()
		if err != nil {
			// fail open: a Redis outage must not block uploads
			log.Printf("[RateLimit] Redis error for %s: %v", key, err)
			return c.Next()
		}
		if count == 1 {
			rl.redis.Expire(ctx, key, window)
		}

		if count > int64(maxRequests) {
			ttl, _ := rl.redis.TTL(ctx, key).Result()
			c.Set(fiber.HeaderRetryAfter, fmt.Sprintf("%d", int(ttl.Seconds())))
			return response.RateLimited(c)
		}

		c.Set("X-RateLimit-Limit", fmt.Sprintf("%d", maxRequests))
		c.Set("X-RateLimit-Remaining", fmt.Sprintf("%d", maxRequests-int(count)))
		return c.Next()
	}
}

// UploadLimit limits video uploads per hour
func (rl *RateLimiter) UploadLimit(maxPerHour int) fiber.Handler {
	return rl.Limit("upload", maxPerHour, time.Hour)
}
