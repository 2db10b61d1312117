package middleware

import (
	"fmt"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/formgate/core/internal/pkg/response"
	"github.com/redis/go-redis/v9"
)

const rateLimitWindow = time.Minute

// RateLimit returns a middleware enforcing a fixed-window per-IP limit.
// Used on the public intake route, where callers are anonymous.
func RateLimit(rdb *redis.Client, max int) gin.HandlerFunc {
	return func(c *gin.Context) {
		ip := c.ClientIP()
		if ip == "" {
			c.Next()
			return
		}

		ctx := c.Request.Context()
		windowKey := time.Now().Unix() / int64(rateLimitWindow.Seconds())
		key := fmt.Sprintf("fg:rate_limit:%s:%d", ip, windowKey)

		count, err := rdb.Incr(ctx, key).Result()
		if err != nil {
			// Redis trouble should not take the intake path down.
			c.Next()
			return
		}
		if count == 1 {
			rdb.PExpire(ctx, key, rateLimitWindow+time.Second)
		}

		if count > int64(max) {
			c.Header("Retry-After", "60")
			response.TooManyRequests(c, "too many requests, slow down")
			return
		}

		c.Next()
	}
}
