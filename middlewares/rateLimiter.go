package middlewares

import (
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
)

// RateLimiter is a fixed-window request counter kept in Redis.
type RateLimiter struct {
	client redis.Cmdable
	prefix string
	limit  int64
	window time.Duration
}

func NewRateLimiter(client redis.Cmdable, prefix string, limit int64, window time.Duration) *RateLimiter {
	return &RateLimiter{
		client: client,
		prefix: prefix,
		limit:  limit,
		window: window,
	}
}

// RateLimitMiddleware counts requests per client IP. Redis failures let the
// request through.
func (rl *RateLimiter) RateLimitMiddleware(c *gin.Context) {
	key := rl.prefix + c.ClientIP()
	ctx := c.Request.Context()

	count, err := rl.client.Incr(ctx, key).Result()
	if err != nil {
		_ = c.Error(fmt.Errorf("rate limiter: %w", err))
		c.Next()
		return
	}
	if count == 1 {
		if err := rl.client.Expire(ctx, key, rl.window).Err(); err != nil {
			_ = c.Error(fmt.Errorf("rate limiter expire: %w", err))
		}
	}

	if count > rl.limit {
		c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
			"error": fmt.Sprintf("Rate limit exceeded. Try again in %d seconds", int(rl.window.Seconds())),
		})
		return
	}

	c.Next()
}
