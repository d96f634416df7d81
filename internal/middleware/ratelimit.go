package middleware

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/salvemundi/attendance/pkg/response"
)

// RateLimiter counts requests per client in fixed Redis windows, so limits hold across replicas.
type RateLimiter struct {
	redis  *redis.Client
	logger *zap.Logger
}

// NewRateLimiter creates a Redis-backed rate limiter.
func NewRateLimiter(client *redis.Client, logger *zap.Logger) *RateLimiter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RateLimiter{redis: client, logger: logger}
}

// Limit allows at most limit requests per window for each client under scope.
// Clients are identified by user id when authenticated, else by IP. Redis failures let the request through.
func (r *RateLimiter) Limit(scope string, limit int, window time.Duration) gin.HandlerFunc {
	return func(c *gin.Context) {
		if limit <= 0 {
			c.Next()
			return
		}
		key := fmt.Sprintf("ratelimit:%s:%s", scope, clientKey(c))
		ctx := c.Request.Context()

		count, err := r.hit(ctx, key, window)
		if err != nil {
			r.logger.Warn("rate limiter unavailable", zap.Error(err), zap.String("scope", scope))
			c.Next()
			return
		}
		if count > int64(limit) {
			c.Header("Retry-After", strconv.Itoa(int(window.Seconds())))
			response.TooManyRequests(c, "rate limit exceeded, please try again later")
			c.Abort()
			return
		}
		c.Next()
	}
}

// hit counts one request and sets the window expiry in the same transaction. EXPIRE NX only
// applies to a key without a TTL, so the window starts at the first hit and a key can never be
// left without one. Requires Redis 7.
func (r *RateLimiter) hit(ctx context.Context, key string, window time.Duration) (int64, error) {
	var incr *redis.IntCmd
	_, err := r.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		incr = pipe.Incr(ctx, key)
		pipe.ExpireNX(ctx, key, window)
		return nil
	})
	if err != nil {
		return 0, err
	}
	return incr.Val(), nil
}

func clientKey(c *gin.Context) string {
	if id, ok := UserID(c); ok {
		return "user:" + id.String()
	}
	return "ip:" + c.ClientIP()
}
