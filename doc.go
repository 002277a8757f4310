// Package ratelimit provides distributed sliding-window rate limiting for
// multi-tenant HTTP APIs, backed by a shared store so that limits hold
// across multiple stateless service instances.
//
// # Components
//
//   - SlidingWindow — exact sliding-window-log evaluator over a store.Store
//   - Resolver — maps request paths to per-endpoint policies via prefix rules
//   - PartitionKey — stable per-caller, per-endpoint bucket keys
//   - middleware — net/http middleware plus gin/echo/fiber/grpc adapters
//
// # Quick Start
//
//	st := redisstore.New(redis.NewClient(&redis.Options{Addr: "localhost:6379"}))
//	limiter, err := ratelimit.NewSlidingWindow(st)
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	resolver := ratelimit.NewResolver(ratelimit.DefaultPolicyConfig())
//	key := ratelimit.PartitionKey("42", "", resolver.Category("/api/v1/transaction/7"))
//	result := limiter.Check(ctx, key, resolver.Resolve("/api/v1/transaction/7"))
//	if result.Allowed {
//	    // serve request
//	}
//
// # As middleware
//
//	handler := middleware.RateLimitWithConfig(middleware.Config{
//	    Limiter:  limiter,
//	    Resolver: resolver,
//	})(mux)
//
// Check never returns an error: store failures resolve to a fail-open allow
// so the limiter cannot become a point of total outage. The read-prune-write
// cycle is not atomic against the store; under concurrent bursts on one key
// the admitted count can transiently exceed the limit (last write wins).
package ratelimit
