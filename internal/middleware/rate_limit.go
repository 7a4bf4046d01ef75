package middleware

import (
	"math"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/osvaldoandrade/gdtrelay/internal/metrics"
	"github.com/osvaldoandrade/gdtrelay/internal/ratelimit"
	"github.com/osvaldoandrade/gdtrelay/pkg/config"
)

const inspectScope = "inspect"

// RateLimitInspect throttles uploads per client address. Each upload holds an
// analyzer slot for up to the analyzer timeout, so the bucket is separate from
// the invoker's own busy limit.
func RateLimitInspect(lim ratelimit.Limiter, cfg *config.Config) gin.HandlerFunc {
	bucket := ratelimit.Bucket{
		RequestsPerMinute: cfg.RateLimit.Inspect.RequestsPerMinute,
		BurstSize:         cfg.RateLimit.Inspect.BurstSize,
	}
	if lim == nil || !bucket.Enabled() {
		return func(c *gin.Context) { c.Next() }
	}
	limit := strconv.Itoa(bucket.BurstSize)

	return func(c *gin.Context) {
		dec, err := lim.Allow(c.Request.Context(), inspectScope, c.ClientIP(), bucket)
		if err != nil {
			// Redis trouble must not block uploads.
			LoggerFrom(c).Warn("rate limit check failed, allowing request", "scope", inspectScope, "err", err)
			c.Next()
			return
		}
		c.Header("X-RateLimit-Limit", limit)
		c.Header("X-RateLimit-Remaining", strconv.Itoa(dec.Remaining))
		if dec.Allowed {
			c.Next()
			return
		}

		wait := int(math.Ceil(dec.RetryAfter.Seconds()))
		if wait < 1 {
			wait = 1
		}
		c.Header("Retry-After", strconv.Itoa(wait))
		metrics.RateLimitHitsTotal.WithLabelValues(inspectScope).Inc()
		LoggerFrom(c).Info("upload rate limited", "client_ip", c.ClientIP(), "retry_after_s", wait)
		c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
			"error":               "Rate limit exceeded",
			"details":             "Too many uploads from this address, retry in " + strconv.Itoa(wait) + "s",
			"retry_after_seconds": wait,
		})
	}
}
