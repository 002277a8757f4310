// Package ginmw provides Gin middleware for sliding-window rate limiting.
//
// Separated from the middleware package so that importing the HTTP middleware
// does not pull in github.com/gin-gonic/gin.
//
// Usage:
//
//	limiter, _ := ratelimit.NewSlidingWindow(st)
//	r := gin.Default()
//	r.Use(ginmw.RateLimit(limiter, ratelimit.NewResolver(ratelimit.DefaultPolicyConfig())))
package ginmw

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	ratelimit "github.com/expenseflow/ratelimit"
	"github.com/expenseflow/ratelimit/middleware"
)

// IdentityFunc extracts the authenticated caller's identity from a Gin
// context. An empty return falls back to the client IP.
type IdentityFunc func(c *gin.Context) string

// DeniedHandler is called when a request is rate limited.
type DeniedHandler func(c *gin.Context, result *ratelimit.Result)

// Config holds the rate limit middleware configuration.
type Config struct {
	// Limiter is the rate limiter instance (required).
	Limiter ratelimit.Limiter

	// Resolver maps request paths to policies and categories (required).
	Resolver *ratelimit.Resolver

	// IdentityFunc extracts the authenticated identity.
	// Default: the Bearer token's subject claim.
	IdentityFunc IdentityFunc

	// DeniedHandler is called on denial. Default: 429 JSON with retry
	// guidance.
	DeniedHandler DeniedHandler

	// ExcludePaths are request paths that bypass rate limiting.
	ExcludePaths map[string]bool

	// Headers controls whether X-RateLimit-* headers are set.
	// Default: true.
	Headers *bool
}

// RateLimit creates Gin middleware with default settings.
func RateLimit(limiter ratelimit.Limiter, resolver *ratelimit.Resolver) gin.HandlerFunc {
	return RateLimitWithConfig(Config{
		Limiter:  limiter,
		Resolver: resolver,
	})
}

// RateLimitWithConfig creates Gin middleware with full configuration control.
func RateLimitWithConfig(cfg Config) gin.HandlerFunc {
	if cfg.Limiter == nil {
		panic("ginmw: Limiter is required")
	}
	if cfg.Resolver == nil {
		panic("ginmw: Resolver is required")
	}
	if cfg.IdentityFunc == nil {
		cfg.IdentityFunc = func(c *gin.Context) string {
			return middleware.IdentityFromBearerToken(c.Request)
		}
	}
	if cfg.DeniedHandler == nil {
		cfg.DeniedHandler = defaultDeniedHandler
	}
	sendHeaders := cfg.Headers == nil || *cfg.Headers

	return func(c *gin.Context) {
		path := c.Request.URL.Path
		if cfg.ExcludePaths != nil && cfg.ExcludePaths[path] {
			c.Next()
			return
		}

		// ClientIP() respects Gin's trusted proxy settings.
		key := ratelimit.PartitionKey(cfg.IdentityFunc(c), c.ClientIP(), cfg.Resolver.Category(path))
		result := cfg.Limiter.Check(c.Request.Context(), key, cfg.Resolver.Resolve(path))

		if !result.Allowed {
			cfg.DeniedHandler(c, result)
			return
		}

		if sendHeaders {
			setHeaders(c, result)
		}
		c.Next()
	}
}

// ─── Internals ───────────────────────────────────────────────────────────────

func setHeaders(c *gin.Context, result *ratelimit.Result) {
	c.Header("X-RateLimit-Limit", strconv.Itoa(result.Limit))
	c.Header("X-RateLimit-Remaining", strconv.Itoa(result.Remaining))
	if !result.ResetAt.IsZero() {
		c.Header("X-RateLimit-Reset", strconv.FormatInt(result.ResetAt.Unix(), 10))
	}
}

func defaultDeniedHandler(c *gin.Context, result *ratelimit.Result) {
	var retryAfter *int
	if result.RetryAfter > 0 {
		secs := int(result.RetryAfter.Seconds())
		retryAfter = &secs
		c.Header("Retry-After", strconv.Itoa(secs))
	}
	c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
		"message":           middleware.DeniedMessage,
		"retryAfterSeconds": retryAfter,
		"statusCode":        http.StatusTooManyRequests,
	})
}
