package ratelimit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"time"

	"go.uber.org/zap"

	"github.com/expenseflow/ratelimit/store"
)

// historyTTLBuffer is added to the window size when persisting a history so
// idle keys self-expire from the store without a separate sweep process.
const historyTTLBuffer = 10 * time.Second

// SlidingWindow is an exact sliding-window-log rate limiter over a shared
// store. It keeps every admitted request's timestamp per partition key, so
// memory per key is O(permit limit) — acceptable while limits stay small.
//
// The read-prune-write cycle holds no lock across the store round-trips:
// two concurrent requests on one key can both read the same history and the
// second write wins, letting the admitted count transiently exceed the
// limit. Callers needing hard guarantees should substitute a store-side
// atomic script; see the package documentation.
type SlidingWindow struct {
	store store.Store
	opts  *Options
}

// NewSlidingWindow creates a sliding-window limiter over the given store.
// Per-request limits and windows arrive with each Check via a Policy.
func NewSlidingWindow(st store.Store, opts ...Option) (*SlidingWindow, error) {
	if st == nil {
		return nil, fmt.Errorf("ratelimit: store must not be nil")
	}
	return &SlidingWindow{
		store: st,
		opts:  applyOptions(opts),
	}, nil
}

// Check evaluates one request for key under pol.
//
// A missing or unparsable history is treated as empty. A store read or
// write failure fails open: the request is allowed with default counters
// and a warning is logged, never an error returned. The evaluation runs on
// a context detached from the caller's so a canceled request still gets
// its history written for future requests.
func (s *SlidingWindow) Check(ctx context.Context, key string, pol Policy) *Result {
	now := s.opts.Clock.Now()
	windowStart := now.Add(-pol.Window())

	if s.opts.StoreTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(context.WithoutCancel(ctx), s.opts.StoreTimeout)
		defer cancel()
	} else {
		ctx = context.WithoutCancel(ctx)
	}

	history, ok := s.readHistory(ctx, key)
	if !ok {
		return s.failOpen(pol, now)
	}

	// Keep only timestamps strictly inside the window.
	pruned := history[:0]
	cutoff := windowStart.UnixMilli()
	for _, ts := range history {
		if ts > cutoff {
			pruned = append(pruned, ts)
		}
	}

	ttl := pol.Window() + historyTTLBuffer

	if len(pruned) >= pol.PermitLimit {
		retryAfter := s.retryAfter(pruned, pol, now)

		// The rejected request must not count toward future windows, but
		// the pruned history may be shorter than what was read — persist it.
		if err := s.writeHistory(ctx, key, pruned, ttl); err != nil {
			return s.failOpen(pol, now)
		}

		s.opts.Logger.Warn("rate limit exceeded",
			zap.String("key", key),
			zap.Int("count", len(pruned)),
			zap.Int("limit", pol.PermitLimit),
			zap.Duration("retry_after", retryAfter),
		)

		return &Result{
			Allowed:    false,
			Count:      len(pruned),
			Limit:      pol.PermitLimit,
			Remaining:  0,
			RetryAfter: retryAfter,
			ResetAt:    now.Add(pol.Window()),
		}
	}

	pruned = append(pruned, now.UnixMilli())
	if err := s.writeHistory(ctx, key, pruned, ttl); err != nil {
		return s.failOpen(pol, now)
	}

	count := len(pruned)
	s.opts.Logger.Debug("rate limit check passed",
		zap.String("key", key),
		zap.Int("count", count),
		zap.Int("limit", pol.PermitLimit),
	)

	return &Result{
		Allowed:   true,
		Count:     count,
		Limit:     pol.PermitLimit,
		Remaining: max(0, pol.PermitLimit-count),
		ResetAt:   now.Add(pol.Window()),
	}
}

// readHistory returns the stored timestamp log for key. The second return
// is false only on a transient store failure; a missing or corrupt value
// is an empty history, not an error.
func (s *SlidingWindow) readHistory(ctx context.Context, key string) ([]int64, bool) {
	raw, err := s.store.Get(ctx, key)
	if err != nil {
		var notFound *store.ErrKeyNotFound
		if errors.As(err, &notFound) {
			return nil, true
		}
		s.opts.Logger.Warn("rate limit store read failed, failing open",
			zap.String("key", key),
			zap.Error(err),
		)
		return nil, false
	}

	var history []int64
	if err := json.Unmarshal([]byte(raw), &history); err != nil {
		s.opts.Logger.Warn("rate limit history unparsable, treating as empty",
			zap.String("key", key),
			zap.Error(err),
		)
		return nil, true
	}
	return history, true
}

func (s *SlidingWindow) writeHistory(ctx context.Context, key string, history []int64, ttl time.Duration) error {
	buf, err := json.Marshal(history)
	if err == nil {
		err = s.store.Set(ctx, key, string(buf), ttl)
	}
	if err != nil {
		s.opts.Logger.Warn("rate limit store write failed, failing open",
			zap.String("key", key),
			zap.Error(err),
		)
	}
	return err
}

// retryAfter is the ceiling of the time until the oldest recorded request
// exits the window, floored at zero.
func (s *SlidingWindow) retryAfter(history []int64, pol Policy, now time.Time) time.Duration {
	if len(history) == 0 {
		return 0
	}
	oldest := history[0]
	for _, ts := range history[1:] {
		if ts < oldest {
			oldest = ts
		}
	}
	exitAt := time.UnixMilli(oldest).Add(pol.Window())
	remaining := exitAt.Sub(now)
	if remaining <= 0 {
		return 0
	}
	return time.Duration(math.Ceil(remaining.Seconds())) * time.Second
}

func (s *SlidingWindow) failOpen(pol Policy, now time.Time) *Result {
	return &Result{
		Allowed:    true,
		FailedOpen: true,
		Count:      0,
		Limit:      pol.PermitLimit,
		Remaining:  pol.PermitLimit,
		ResetAt:    now.Add(pol.Window()),
	}
}
