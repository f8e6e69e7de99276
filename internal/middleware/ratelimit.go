package middleware

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/makeastory/api/internal/logging"
	"github.com/makeastory/api/pkg/response"
	"github.com/redis/go-redis/v9"
)

// RateLimiter counts requests per user and route group in fixed Redis
// windows.
type RateLimiter struct {
	redis  *redis.Client
	logger *slog.Logger
}

func NewRateLimiter(redisClient *redis.Client, logger *slog.Logger) *RateLimiter {
	return &RateLimiter{redis: redisClient, logger: logging.WithComponent(logger, "ratelimit")}
}

// Limit allows maxRequests per window for each user. A nil limiter, a
// non-positive max or a Redis failure lets the request through.
func (rl *RateLimiter) Limit(keyPrefix string, maxRequests int, window time.Duration) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if rl == nil || rl.redis == nil || maxRequests <= 0 {
			return c.Next()
		}
		userID := GetUserID(c)
		if userID == "" {
			return c.Next()
		}

		key := fmt.Sprintf("ratelimit:%s:%s", keyPrefix, userID)
		ctx := c.UserContext()

		count, err := rl.redis.Incr(ctx, key).Result()
		if err != nil {
			rl.logger.Warn("rate limit check failed", "key", key, "error", err)
			return c.Next()
		}
		if count == 1 {
			rl.redis.Expire(ctx, key, window)
		}

		if count > int64(maxRequests) {
			ttl, _ := rl.redis.TTL(ctx, key).Result()
			c.Set("Retry-After", fmt.Sprintf("%d", int(ttl.Seconds())))
			return response.RateLimited(c)
		}

		c.Set("X-RateLimit-Limit", fmt.Sprintf("%d", maxRequests))
		c.Set("X-RateLimit-Remaining", fmt.Sprintf("%d", maxRequests-int(count)))
		return c.Next()
	}
}

// StructureLimit guards story structure generation (per minute).
func (rl *RateLimiter) StructureLimit(maxPerMin int) fiber.Handler {
	return rl.Limit("structure", maxPerMin, time.Minute)
}

// GenerateLimit guards batch generation and character rendering (per hour).
func (rl *RateLimiter) GenerateLimit(maxPerHour int) fiber.Handler {
	return rl.Limit("generate", maxPerHour, time.Hour)
}

// VideosLimit guards the synchronous video endpoint (per hour).
func (rl *RateLimiter) VideosLimit(maxPerHour int) fiber.Handler {
	return rl.Limit("videos", maxPerHour, time.Hour)
}

// LibraryLimit guards library reads and writes (per minute).
func (rl *RateLimiter) LibraryLimit(maxPerMin int) fiber.Handler {
	return rl.Limit("library", maxPerMin, time.Minute)
}
