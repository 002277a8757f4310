// Package fibermw provides Fiber middleware for sliding-window rate limiting.
//
// Separated from the middleware package so that importing the HTTP middleware
// does not pull in github.com/gofiber/fiber. Fiber uses fasthttp (not net/http),
// so a dedicated adapter is required.
//
// Usage:
//
//	limiter, _ := ratelimit.NewSlidingWindow(st)
//	app := fiber.New()
//	app.Use(fibermw.RateLimit(limiter, ratelimit.NewResolver(ratelimit.DefaultPolicyConfig())))
package fibermw

import (
	"strconv"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"

	ratelimit "github.com/expenseflow/ratelimit"
	"github.com/expenseflow/ratelimit/middleware"
)

// IdentityFunc extracts the authenticated caller's identity from a Fiber
// context. An empty return falls back to the client IP.
type IdentityFunc func(c *fiber.Ctx) string

// DeniedHandler is called when a request is rate limited.
type DeniedHandler func(c *fiber.Ctx, result *ratelimit.Result) error

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

// RateLimit creates Fiber middleware with default settings.
func RateLimit(limiter ratelimit.Limiter, resolver *ratelimit.Resolver) fiber.Handler {
	return RateLimitWithConfig(Config{
		Limiter:  limiter,
		Resolver: resolver,
	})
}

// RateLimitWithConfig creates Fiber middleware with full configuration control.
func RateLimitWithConfig(cfg Config) fiber.Handler {
	if cfg.Limiter == nil {
		panic("fibermw: Limiter is required")
	}
	if cfg.Resolver == nil {
		panic("fibermw: Resolver is required")
	}
	if cfg.IdentityFunc == nil {
		cfg.IdentityFunc = identityFromBearerToken
	}
	if cfg.DeniedHandler == nil {
		cfg.DeniedHandler = defaultDeniedHandler
	}
	sendHeaders := cfg.Headers == nil || *cfg.Headers

	return func(c *fiber.Ctx) error {
		path := c.Path()
		if cfg.ExcludePaths != nil && cfg.ExcludePaths[path] {
			return c.Next()
		}

		// IP() respects Fiber's proxy header configuration.
		key := ratelimit.PartitionKey(cfg.IdentityFunc(c), c.IP(), cfg.Resolver.Category(path))
		result := cfg.Limiter.Check(c.UserContext(), key, cfg.Resolver.Resolve(path))

		if !result.Allowed {
			return cfg.DeniedHandler(c, result)
		}

		if sendHeaders {
			setHeaders(c, result)
		}
		return c.Next()
	}
}

// ─── Internals ───────────────────────────────────────────────────────────────

// Fiber requests are not net/http requests, so the Bearer token helper from
// the middleware package cannot be reused directly.
func identityFromBearerToken(c *fiber.Ctx) string {
	auth := c.Get(fiber.HeaderAuthorization)
	const prefix = "Bearer "
	if len(auth) <= len(prefix) || !strings.EqualFold(auth[:len(prefix)], prefix) {
		return ""
	}
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(auth[len(prefix):], claims); err != nil {
		return ""
	}
	subject, err := claims.GetSubject()
	if err != nil {
		return ""
	}
	return subject
}

func setHeaders(c *fiber.Ctx, result *ratelimit.Result) {
	c.Set("X-RateLimit-Limit", strconv.Itoa(result.Limit))
	c.Set("X-RateLimit-Remaining", strconv.Itoa(result.Remaining))
	if !result.ResetAt.IsZero() {
		c.Set("X-RateLimit-Reset", strconv.FormatInt(result.ResetAt.Unix(), 10))
	}
}

func defaultDeniedHandler(c *fiber.Ctx, result *ratelimit.Result) error {
	var retryAfter *int
	if result.RetryAfter > 0 {
		secs := int(result.RetryAfter.Seconds())
		retryAfter = &secs
		c.Set("Retry-After", strconv.Itoa(secs))
	}
	return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{
		"message":           middleware.DeniedMessage,
		"retryAfterSeconds": retryAfter,
		"statusCode":        fiber.StatusTooManyRequests,
	})
}
