// Package echomw provides Echo middleware for sliding-window rate limiting.
//
// Separated from the middleware package so that importing the HTTP middleware
// does not pull in github.com/labstack/echo.
//
// Usage:
//
//	limiter, _ := ratelimit.NewSlidingWindow(st)
//	e := echo.New()
//	e.Use(echomw.RateLimit(limiter, ratelimit.NewResolver(ratelimit.DefaultPolicyConfig())))
package echomw

import (
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	ratelimit "github.com/expenseflow/ratelimit"
	"github.com/expenseflow/ratelimit/middleware"
)

// IdentityFunc extracts the authenticated caller's identity from an Echo
// context. An empty return falls back to the client IP.
type IdentityFunc func(c echo.Context) string

// DeniedHandler is called when a request is rate limited.
type DeniedHandler func(c echo.Context, result *ratelimit.Result) error

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

// RateLimit creates Echo middleware with default settings.
func RateLimit(limiter ratelimit.Limiter, resolver *ratelimit.Resolver) echo.MiddlewareFunc {
	return RateLimitWithConfig(Config{
		Limiter:  limiter,
		Resolver: resolver,
	})
}

// RateLimitWithConfig creates Echo middleware with full configuration control.
func RateLimitWithConfig(cfg Config) echo.MiddlewareFunc {
	if cfg.Limiter == nil {
		panic("echomw: Limiter is required")
	}
	if cfg.Resolver == nil {
		panic("echomw: Resolver is required")
	}
	if cfg.IdentityFunc == nil {
		cfg.IdentityFunc = func(c echo.Context) string {
			return middleware.IdentityFromBearerToken(c.Request())
		}
	}
	if cfg.DeniedHandler == nil {
		cfg.DeniedHandler = defaultDeniedHandler
	}
	sendHeaders := cfg.Headers == nil || *cfg.Headers

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			path := c.Request().URL.Path
			if cfg.ExcludePaths != nil && cfg.ExcludePaths[path] {
				return next(c)
			}

			// RealIP() respects X-Forwarded-For / X-Real-IP.
			key := ratelimit.PartitionKey(cfg.IdentityFunc(c), c.RealIP(), cfg.Resolver.Category(path))
			result := cfg.Limiter.Check(c.Request().Context(), key, cfg.Resolver.Resolve(path))

			if !result.Allowed {
				return cfg.DeniedHandler(c, result)
			}

			if sendHeaders {
				setHeaders(c, result)
			}
			return next(c)
		}
	}
}

// ─── Internals ───────────────────────────────────────────────────────────────

func setHeaders(c echo.Context, result *ratelimit.Result) {
	h := c.Response().Header()
	h.Set("X-RateLimit-Limit", strconv.Itoa(result.Limit))
	h.Set("X-RateLimit-Remaining", strconv.Itoa(result.Remaining))
	if !result.ResetAt.IsZero() {
		h.Set("X-RateLimit-Reset", strconv.FormatInt(result.ResetAt.Unix(), 10))
	}
}

func defaultDeniedHandler(c echo.Context, result *ratelimit.Result) error {
	var retryAfter *int
	if result.RetryAfter > 0 {
		secs := int(result.RetryAfter.Seconds())
		retryAfter = &secs
		c.Response().Header().Set("Retry-After", strconv.Itoa(secs))
	}
	return c.JSON(http.StatusTooManyRequests, map[string]any{
		"message":           middleware.DeniedMessage,
		"retryAfterSeconds": retryAfter,
		"statusCode":        http.StatusTooManyRequests,
	})
}
