// Package grpcmw provides gRPC server interceptors for sliding-window rate
// limiting.
//
// Separated from the middleware package so that importing the HTTP middleware
// does not pull in google.golang.org/grpc. Policies are resolved against the
// RPC's full method name (e.g. "/expense.TransactionService/Create"), so a
// Resolver built with method-name prefixes partitions RPCs the same way the
// HTTP middleware partitions paths.
//
// Usage:
//
//	limiter, _ := ratelimit.NewSlidingWindow(st)
//	server := grpc.NewServer(
//	    grpc.ChainUnaryInterceptor(grpcmw.UnaryServerInterceptor(limiter, resolver)),
//	    grpc.ChainStreamInterceptor(grpcmw.StreamServerInterceptor(limiter, resolver)),
//	)
package grpcmw

import (
	"context"
	"strconv"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/peer"
	"google.golang.org/grpc/status"

	ratelimit "github.com/expenseflow/ratelimit"
	"github.com/expenseflow/ratelimit/middleware"
)

// IdentityFunc extracts the authenticated caller's identity from an RPC
// context. An empty return falls back to the peer address.
type IdentityFunc func(ctx context.Context) string

// DeniedHandler produces the gRPC error returned when a request is rate
// limited. Default: codes.ResourceExhausted with retry guidance.
type DeniedHandler func(ctx context.Context, result *ratelimit.Result) error

// Config holds full configuration for gRPC rate limit interceptors.
type Config struct {
	// Limiter is the rate limiter instance (required).
	Limiter ratelimit.Limiter

	// Resolver maps full method names to policies and categories (required).
	Resolver *ratelimit.Resolver

	// IdentityFunc extracts the authenticated identity.
	// Default: the subject of a Bearer token in "authorization" metadata.
	IdentityFunc IdentityFunc

	// DeniedHandler produces the error returned on denial.
	// Default: codes.ResourceExhausted.
	DeniedHandler DeniedHandler

	// ExcludeMethods are full method names (e.g. "/pkg.Service/Method")
	// that bypass rate limiting.
	ExcludeMethods map[string]bool

	// Headers controls whether rate limit metadata is sent in response
	// headers. Default: true.
	Headers *bool
}

func (cfg *Config) fillDefaults() {
	if cfg.Limiter == nil {
		panic("grpcmw: Limiter is required")
	}
	if cfg.Resolver == nil {
		panic("grpcmw: Resolver is required")
	}
	if cfg.IdentityFunc == nil {
		cfg.IdentityFunc = IdentityFromMetadata
	}
	if cfg.DeniedHandler == nil {
		cfg.DeniedHandler = defaultDeniedHandler
	}
}

func (cfg *Config) check(ctx context.Context, fullMethod string, sendHeaders bool) (*ratelimit.Result, bool) {
	if cfg.ExcludeMethods != nil && cfg.ExcludeMethods[fullMethod] {
		return nil, true
	}

	key := ratelimit.PartitionKey(cfg.IdentityFunc(ctx), peerAddr(ctx), cfg.Resolver.Category(fullMethod))
	result := cfg.Limiter.Check(ctx, key, cfg.Resolver.Resolve(fullMethod))

	if sendHeaders {
		setRateLimitMetadata(ctx, result)
	}
	return result, result.Allowed
}

// ─── Unary Interceptor ───────────────────────────────────────────────────────

// UnaryServerInterceptor creates a unary server interceptor with default
// settings.
func UnaryServerInterceptor(limiter ratelimit.Limiter, resolver *ratelimit.Resolver) grpc.UnaryServerInterceptor {
	return UnaryServerInterceptorWithConfig(Config{
		Limiter:  limiter,
		Resolver: resolver,
	})
}

// UnaryServerInterceptorWithConfig creates a unary server interceptor with
// full configuration control.
func UnaryServerInterceptorWithConfig(cfg Config) grpc.UnaryServerInterceptor {
	cfg.fillDefaults()
	sendHeaders := cfg.Headers == nil || *cfg.Headers

	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		result, allowed := cfg.check(ctx, info.FullMethod, sendHeaders)
		if !allowed {
			return nil, cfg.DeniedHandler(ctx, result)
		}
		return handler(ctx, req)
	}
}

// ─── Stream Interceptor ──────────────────────────────────────────────────────

// StreamServerInterceptor creates a stream server interceptor with default
// settings.
func StreamServerInterceptor(limiter ratelimit.Limiter, resolver *ratelimit.Resolver) grpc.StreamServerInterceptor {
	return StreamServerInterceptorWithConfig(Config{
		Limiter:  limiter,
		Resolver: resolver,
	})
}

// StreamServerInterceptorWithConfig creates a stream server interceptor with
// full configuration control.
func StreamServerInterceptorWithConfig(cfg Config) grpc.StreamServerInterceptor {
	cfg.fillDefaults()
	sendHeaders := cfg.Headers == nil || *cfg.Headers

	return func(srv any, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
		result, allowed := cfg.check(ss.Context(), info.FullMethod, sendHeaders)
		if !allowed {
			return cfg.DeniedHandler(ss.Context(), result)
		}
		return handler(srv, ss)
	}
}

// ─── Identity Extraction ─────────────────────────────────────────────────────

// IdentityFromMetadata reads the "sub" claim from a Bearer token in the
// "authorization" metadata entry. Signature validation is the auth
// interceptor's job; this only reads the already-validated claims.
func IdentityFromMetadata(ctx context.Context) string {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return ""
	}
	vals := md.Get("authorization")
	if len(vals) == 0 {
		return ""
	}
	auth := vals[0]
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

// ─── Internals ───────────────────────────────────────────────────────────────

func peerAddr(ctx context.Context) string {
	p, ok := peer.FromContext(ctx)
	if ok && p.Addr != nil {
		return p.Addr.String()
	}
	return ""
}

func setRateLimitMetadata(ctx context.Context, result *ratelimit.Result) {
	md := metadata.Pairs(
		"x-ratelimit-limit", strconv.Itoa(result.Limit),
		"x-ratelimit-remaining", strconv.Itoa(result.Remaining),
	)
	if !result.ResetAt.IsZero() {
		md.Append("x-ratelimit-reset", strconv.FormatInt(result.ResetAt.Unix(), 10))
	}
	if !result.Allowed && result.RetryAfter > 0 {
		md.Append("retry-after", strconv.Itoa(int(result.RetryAfter.Seconds())))
	}
	_ = grpc.SetHeader(ctx, md)
}

func defaultDeniedHandler(_ context.Context, result *ratelimit.Result) error {
	if result.RetryAfter > 0 {
		return status.Errorf(codes.ResourceExhausted,
			"%s retry after %ds", middleware.DeniedMessage, int(result.RetryAfter.Seconds()))
	}
	return status.Error(codes.ResourceExhausted, middleware.DeniedMessage)
}
