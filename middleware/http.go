// Package middleware provides HTTP rate limiting middleware built on the
// sliding-window limiter.
//
// Per request it derives the caller's identity (or falls back to client
// IP), normalizes the path to an endpoint category, resolves the policy
// for that category, and evaluates the limiter. Rejected requests get a
// 429 with a Retry-After hint; forwarded requests carry X-RateLimit-*
// quota headers.
//
// Usage with net/http:
//
//	mux := http.NewServeMux()
//	handler := middleware.RateLimit(limiter, resolver)(mux)
//
// Usage with chi:
//
//	r := chi.NewRouter()
//	r.Use(middleware.RateLimit(limiter, resolver))
package middleware

import (
	"encoding/json"
	"net"
	"net/http"
	"strconv"
	"strings"

	ratelimit "github.com/expenseflow/ratelimit"
)

// DeniedMessage is the body message sent with 429 responses.
const DeniedMessage = "Too many requests. Please try again later."

// IdentityFunc extracts the authenticated caller's identity from a request.
// An empty return means unauthenticated; the client IP is used instead.
type IdentityFunc func(r *http.Request) string

// ClientIPFunc extracts the client network address from a request.
type ClientIPFunc func(r *http.Request) string

// DeniedHandler is called when a request is rate limited.
// Default behavior: 429 with a JSON body and Retry-After header.
type DeniedHandler func(w http.ResponseWriter, r *http.Request, result *ratelimit.Result)

// Config holds the rate limit middleware configuration.
type Config struct {
	// Limiter is the rate limiter instance (required).
	Limiter ratelimit.Limiter

	// Resolver maps request paths to policies and categories (required).
	Resolver *ratelimit.Resolver

	// IdentityFunc extracts the authenticated identity.
	// Default: request-context identity, then the Bearer token's subject.
	IdentityFunc IdentityFunc

	// ClientIPFunc extracts the client address for unauthenticated callers.
	// Default: X-Forwarded-For, then X-Real-IP, then RemoteAddr.
	ClientIPFunc ClientIPFunc

	// DeniedHandler is called when a request is denied.
	// Default: 429 JSON body with retry guidance.
	DeniedHandler DeniedHandler

	// ExcludePaths are request paths that bypass rate limiting.
	ExcludePaths map[string]bool

	// Headers controls whether X-RateLimit-* headers are set on forwarded
	// responses. Default: true.
	Headers *bool
}

// RateLimit creates HTTP middleware with default settings.
func RateLimit(limiter ratelimit.Limiter, resolver *ratelimit.Resolver) func(http.Handler) http.Handler {
	return RateLimitWithConfig(Config{
		Limiter:  limiter,
		Resolver: resolver,
	})
}

// RateLimitWithConfig creates HTTP middleware with full configuration control.
func RateLimitWithConfig(cfg Config) func(http.Handler) http.Handler {
	if cfg.Limiter == nil {
		panic("ratelimit/middleware: Limiter is required")
	}
	if cfg.Resolver == nil {
		panic("ratelimit/middleware: Resolver is required")
	}
	if cfg.IdentityFunc == nil {
		cfg.IdentityFunc = DefaultIdentity
	}
	if cfg.ClientIPFunc == nil {
		cfg.ClientIPFunc = ClientIP
	}
	if cfg.DeniedHandler == nil {
		cfg.DeniedHandler = defaultDeniedHandler
	}
	sendHeaders := cfg.Headers == nil || *cfg.Headers

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if cfg.ExcludePaths != nil && cfg.ExcludePaths[r.URL.Path] {
				next.ServeHTTP(w, r)
				return
			}

			path := r.URL.Path
			key := ratelimit.PartitionKey(
				cfg.IdentityFunc(r),
				cfg.ClientIPFunc(r),
				cfg.Resolver.Category(path),
			)

			result := cfg.Limiter.Check(r.Context(), key, cfg.Resolver.Resolve(path))

			if !result.Allowed {
				cfg.DeniedHandler(w, r, result)
				return
			}

			if sendHeaders {
				setRateLimitHeaders(w, result)
			}
			next.ServeHTTP(w, r)
		})
	}
}

// ─── Client IP Extraction ────────────────────────────────────────────────────

// ClientIP extracts the client IP address from a request.
// It checks X-Forwarded-For, X-Real-IP, then falls back to RemoteAddr.
func ClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		if ip := strings.TrimSpace(strings.SplitN(xff, ",", 2)[0]); ip != "" {
			return ip
		}
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return strings.TrimSpace(xri)
	}
	ip, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return ip
}

// ─── Headers ─────────────────────────────────────────────────────────────────

func setRateLimitHeaders(w http.ResponseWriter, result *ratelimit.Result) {
	w.Header().Set("X-RateLimit-Limit", strconv.Itoa(result.Limit))
	w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(result.Remaining))
	if !result.ResetAt.IsZero() {
		w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(result.ResetAt.Unix(), 10))
	}
}

// ─── Default Denied Handler ──────────────────────────────────────────────────

type deniedResponse struct {
	Message           string `json:"message"`
	RetryAfterSeconds *int   `json:"retryAfterSeconds"`
	StatusCode        int    `json:"statusCode"`
}

func defaultDeniedHandler(w http.ResponseWriter, _ *http.Request, result *ratelimit.Result) {
	body := deniedResponse{
		Message:    DeniedMessage,
		StatusCode: http.StatusTooManyRequests,
	}
	if result.RetryAfter > 0 {
		secs := int(result.RetryAfter.Seconds())
		body.RetryAfterSeconds = &secs
		w.Header().Set("Retry-After", strconv.Itoa(secs))
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusTooManyRequests)
	_ = json.NewEncoder(w).Encode(body)
}
