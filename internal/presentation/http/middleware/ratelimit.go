package middleware

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/AtRiskMedia/presence-go/internal/infrastructure/config"
	"github.com/AtRiskMedia/presence-go/internal/infrastructure/ratelimit"
)

// RateLimitMiddleware enforces a per-client token bucket and sets the
// X-RateLimit-* headers on every response, blocked or not. Clients
// are keyed by customer id when one is known (set by
// CustomerMiddleware, which must run first), falling back to the
// remote IP for unauthenticated traffic such as the websocket
// upgrade.
func RateLimitMiddleware() gin.HandlerFunc {
	limiter := ratelimit.NewLimiter(config.RateLimitBurst, config.RateLimitRequestsPerSecond)

	return func(c *gin.Context) {
		key, ok := GetCustomerID(c)
		if !ok || key == "" {
			key = c.ClientIP()
		}

		bucket := limiter.Bucket(key)

		c.Header("X-RateLimit-Limit", strconv.Itoa(config.RateLimitBurst))

		if !bucket.Allow() {
			retryAfter := bucket.SecondsToNextToken()
			c.Header("X-RateLimit-Remaining", "0")
			c.Header("X-RateLimit-Reset", strconv.Itoa(retryAfter))
			c.Header("Retry-After", strconv.Itoa(retryAfter))
			c.AbortWithStatus(http.StatusTooManyRequests)
			return
		}

		c.Header("X-RateLimit-Remaining", strconv.Itoa(bucket.Remaining()))
		c.Header("X-RateLimit-Reset", strconv.Itoa(bucket.SecondsToNextToken()))
		c.Next()
	}
}
