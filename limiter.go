package ratelimit

import (
	"context"
	"time"
)

// Limiter decides whether a request identified by a partition key may
// proceed under the given policy.
type Limiter interface {
	// Check evaluates one request against the policy. It never returns an
	// error: failures inside the evaluation resolve to a fail-open allow
	// before control returns to the caller.
	Check(ctx context.Context, key string, pol Policy) *Result
}

// Result is the outcome of a single rate limit evaluation. It is produced
// fresh per request and never persisted.
type Result struct {
	// Allowed reports whether the request may proceed.
	Allowed bool

	// FailedOpen is true when Allowed was forced by a store failure rather
	// than decided from history.
	FailedOpen bool

	// Count is the number of requests in the current window, including this
	// one when allowed.
	Count int

	// Limit echoes the policy's permit limit.
	Limit int

	// Remaining is max(0, Limit-Count).
	Remaining int

	// RetryAfter is how long until the oldest recorded request exits the
	// window. Only set when the request was denied.
	RetryAfter time.Duration

	// ResetAt is when a full window's quota is available again.
	ResetAt time.Time
}
