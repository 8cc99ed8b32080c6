package middleware

import (
	"context"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"golang.org/x/time/rate"

	"material-indexing-platform/internal/config"
	"material-indexing-platform/internal/logger"
	"material-indexing-platform/utils"
)

// localLimiters is the per-process fallback used while Redis is unreachable
type localLimiters struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	limit    rate.Limit
	burst    int
}

func newLocalLimiters(reqs, windowSeconds int) *localLimiters {
	if windowSeconds <= 0 {
		windowSeconds = 60
	}
	return &localLimiters{
		limiters: make(map[string]*rate.Limiter),
		limit:    rate.Limit(float64(reqs) / float64(windowSeconds)),
		burst:    reqs,
	}
}

func (l *localLimiters) allow(key string) bool {
	l.mu.Lock()
	limiter, ok := l.limiters[key]
	if !ok {
		limiter = rate.NewLimiter(l.limit, l.burst)
		l.limiters[key] = limiter
	}
	l.mu.Unlock()
	return limiter.Allow()
}

// RateLimitMiddleware implements rate limiting using Redis
// It limits requests per IP + endpoint combination. When Redis is nil or
// failing, an in-memory token bucket per key takes over.
func RateLimitMiddleware(rdb *redis.Client, cfg *config.Config) gin.HandlerFunc {
	fallback := newLocalLimiters(cfg.RateLimitReqs, cfg.RateLimitWindow)
	window := time.Duration(cfg.RateLimitWindow) * time.Second

	return func(c *gin.Context) {
		// Skip rate limiting for health checks
		if c.FullPath() == "/health" || c.FullPath() == "/ready" {
			c.Next()
			return
		}

		key := "ratelimit:" + c.ClientIP() + ":" + c.FullPath()

		if rdb == nil {
			if !fallback.allow(key) {
				rejectRateLimited(c, cfg)
				return
			}
			c.Next()
			return
		}

		ctx, cancel := context.WithTimeout(c.Request.Context(), 500*time.Millisecond)
		defer cancel()

		count, err := rdb.Incr(ctx, key).Result()
		if err != nil {
			logger.Warn("Rate limiter falling back to memory", "error", err)
			if !fallback.allow(key) {
				rejectRateLimited(c, cfg)
				return
			}
			c.Next()
			return
		}

		// Set expiration on first request
		if count == 1 {
			rdb.Expire(ctx, key, window)
		}

		if count > int64(cfg.RateLimitReqs) {
			rejectRateLimited(c, cfg)
			return
		}

		c.Header("X-RateLimit-Limit", strconv.Itoa(cfg.RateLimitReqs))
		c.Header("X-RateLimit-Remaining", strconv.Itoa(cfg.RateLimitReqs-int(count)))
		c.Next()
	}
}

func rejectRateLimited(c *gin.Context, cfg *config.Config) {
	c.Header("X-RateLimit-Limit", strconv.Itoa(cfg.RateLimitReqs))
	c.Header("X-RateLimit-Remaining", "0")
	c.Header("X-RateLimit-Reset", strconv.FormatInt(
		time.Now().Add(time.Duration(cfg.RateLimitWindow)*time.Second).Unix(), 10))

	utils.RespondWithError(c, http.StatusTooManyRequests,
		"rate_limit_exceeded",
		"Too many requests. Please try again later.",
		gin.H{
			"retry_after": cfg.RateLimitWindow,
			"limit":       cfg.RateLimitReqs,
		})
}
