package cache

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/expenseflow/ratelimit"
)

// mockLimiter records calls and returns configurable results.
type mockLimiter struct {
	mu    sync.Mutex
	calls int
	check func(ctx context.Context, key string, pol ratelimit.Policy) *ratelimit.Result
}

func (m *mockLimiter) Check(ctx context.Context, key string, pol ratelimit.Policy) *ratelimit.Result {
	m.mu.Lock()
	m.calls++
	m.mu.Unlock()
	return m.check(ctx, key, pol)
}

func (m *mockLimiter) getCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

var testPolicy = ratelimit.Policy{PermitLimit: 10, WindowSeconds: 60}

func TestLocalCache_CacheHit(t *testing.T) {
	mock := &mockLimiter{
		check: func(_ context.Context, _ string, _ ratelimit.Policy) *ratelimit.Result {
			return &ratelimit.Result{
				Allowed:   true,
				Count:     1,
				Limit:     10,
				Remaining: 9,
				ResetAt:   time.Now().Add(time.Minute),
			}
		},
	}

	lc := New(mock, WithTTL(500*time.Millisecond))
	defer lc.Close()

	ctx := context.Background()

	// First call — cache miss, hits backend
	r := lc.Check(ctx, "k1", testPolicy)
	if !r.Allowed {
		t.Fatalf("expected allowed, got allowed=%v", r.Allowed)
	}
	if mock.getCalls() != 1 {
		t.Fatalf("expected 1 backend call, got %d", mock.getCalls())
	}

	// Next calls should be served from cache
	for i := 0; i < 5; i++ {
		r = lc.Check(ctx, "k1", testPolicy)
		if !r.Allowed {
			t.Fatalf("call %d: expected allowed, got allowed=%v", i, r.Allowed)
		}
	}
	if mock.getCalls() != 1 {
		t.Fatalf("expected still 1 backend call after cache hits, got %d", mock.getCalls())
	}
}

func TestLocalCache_RemainingDecreases(t *testing.T) {
	mock := &mockLimiter{
		check: func(_ context.Context, _ string, _ ratelimit.Policy) *ratelimit.Result {
			return &ratelimit.Result{
				Allowed:   true,
				Count:     1,
				Limit:     5,
				Remaining: 4,
				ResetAt:   time.Now().Add(time.Minute),
			}
		},
	}

	lc := New(mock, WithTTL(time.Second))
	defer lc.Close()

	ctx := context.Background()

	// First call is cache miss → backend already counted this request,
	// returns Remaining=4 as-is. localUsed starts at 0.
	r := lc.Check(ctx, "k1", testPolicy)
	if r.Remaining != 4 {
		t.Fatalf("expected remaining=4 from backend, got %d", r.Remaining)
	}

	// Second call: cache hit → localUsed=1, remaining = 4-1 = 3
	r = lc.Check(ctx, "k1", testPolicy)
	if r.Remaining != 3 {
		t.Fatalf("expected remaining=3, got %d", r.Remaining)
	}
	if r.Count != 2 {
		t.Fatalf("expected count=2, got %d", r.Count)
	}

	// Third call: cache hit → localUsed=2, remaining = 4-2 = 2
	r = lc.Check(ctx, "k1", testPolicy)
	if r.Remaining != 2 {
		t.Fatalf("expected remaining=2, got %d", r.Remaining)
	}
}

func TestLocalCache_ExhaustedLocalQuota_SyncsBackend(t *testing.T) {
	var callCount atomic.Int64
	mock := &mockLimiter{
		check: func(_ context.Context, _ string, _ ratelimit.Policy) *ratelimit.Result {
			callCount.Add(1)
			return &ratelimit.Result{
				Allowed:   true,
				Count:     1,
				Limit:     3,
				Remaining: 2,
				ResetAt:   time.Now().Add(time.Minute),
			}
		},
	}

	lc := New(mock, WithTTL(5*time.Second))
	defer lc.Close()

	ctx := context.Background()

	// Call 1: cache miss → backend (call 1), returns remaining=2, localUsed=0
	lc.Check(ctx, "k1", testPolicy)
	if callCount.Load() != 1 {
		t.Fatalf("expected 1 backend call, got %d", callCount.Load())
	}

	// Call 2: cache hit → remaining=2, localUsed becomes 1 → serves locally
	lc.Check(ctx, "k1", testPolicy)
	if callCount.Load() != 1 {
		t.Fatalf("expected still 1 backend call, got %d", callCount.Load())
	}

	// Call 3: cache hit → remaining=2, localUsed becomes 2 → serves locally
	lc.Check(ctx, "k1", testPolicy)
	if callCount.Load() != 1 {
		t.Fatalf("expected still 1 backend call after call 3, got %d", callCount.Load())
	}

	// Call 4: cache hit → remaining=2, localUsed=2, 2-2=0 < 1 → exhausted, syncs backend (call 2)
	lc.Check(ctx, "k1", testPolicy)
	if callCount.Load() != 2 {
		t.Fatalf("expected 2 backend calls after local exhaustion, got %d", callCount.Load())
	}
}

func TestLocalCache_DeniedCached(t *testing.T) {
	mock := &mockLimiter{
		check: func(_ context.Context, _ string, _ ratelimit.Policy) *ratelimit.Result {
			return &ratelimit.Result{
				Allowed:    false,
				Count:      10,
				Limit:      10,
				Remaining:  0,
				RetryAfter: time.Second,
				ResetAt:    time.Now().Add(time.Second),
			}
		},
	}

	lc := New(mock, WithTTL(time.Second))
	defer lc.Close()

	ctx := context.Background()

	// First call — backend returns denial
	r := lc.Check(ctx, "k1", testPolicy)
	if r.Allowed {
		t.Fatal("expected denied")
	}

	// Subsequent calls served from cache (denial cached)
	for i := 0; i < 5; i++ {
		r = lc.Check(ctx, "k1", testPolicy)
		if r.Allowed {
			t.Fatal("expected cached denial")
		}
	}
	if mock.getCalls() != 1 {
		t.Fatalf("expected 1 backend call for cached denial, got %d", mock.getCalls())
	}
}

func TestLocalCache_TTLExpiry(t *testing.T) {
	mock := &mockLimiter{
		check: func(_ context.Context, _ string, _ ratelimit.Policy) *ratelimit.Result {
			return &ratelimit.Result{
				Allowed:   true,
				Count:     1,
				Limit:     100,
				Remaining: 99,
				ResetAt:   time.Now().Add(time.Minute),
			}
		},
	}

	lc := New(mock, WithTTL(50*time.Millisecond))
	defer lc.Close()

	ctx := context.Background()

	lc.Check(ctx, "k1", testPolicy)
	if mock.getCalls() != 1 {
		t.Fatal("expected 1 call")
	}

	// Within TTL — should still be cached
	lc.Check(ctx, "k1", testPolicy)
	if mock.getCalls() != 1 {
		t.Fatal("expected still 1 call within TTL")
	}

	// Wait for TTL to expire
	time.Sleep(60 * time.Millisecond)

	lc.Check(ctx, "k1", testPolicy)
	if mock.getCalls() != 2 {
		t.Fatalf("expected 2 calls after TTL expiry, got %d", mock.getCalls())
	}
}

func TestLocalCache_DenialTTL_UsesRetryAfter(t *testing.T) {
	callCount := 0
	mock := &mockLimiter{
		check: func(_ context.Context, _ string, _ ratelimit.Policy) *ratelimit.Result {
			callCount++
			return &ratelimit.Result{
				Allowed:    false,
				Count:      10,
				Limit:      10,
				Remaining:  0,
				RetryAfter: 30 * time.Millisecond,
				ResetAt:    time.Now().Add(30 * time.Millisecond),
			}
		},
	}

	// TTL is 5s, but denied result has RetryAfter=30ms → uses the shorter one
	lc := New(mock, WithTTL(5*time.Second))
	defer lc.Close()

	ctx := context.Background()

	lc.Check(ctx, "k1", testPolicy)
	if callCount != 1 {
		t.Fatal("expected 1 call")
	}

	time.Sleep(40 * time.Millisecond)

	lc.Check(ctx, "k1", testPolicy)
	if callCount != 2 {
		t.Fatalf("expected 2 calls after retryAfter expiry, got %d", callCount)
	}
}

func TestLocalCache_FailOpenNotCached(t *testing.T) {
	mock := &mockLimiter{
		check: func(_ context.Context, _ string, _ ratelimit.Policy) *ratelimit.Result {
			return &ratelimit.Result{
				Allowed:    true,
				FailedOpen: true,
				Limit:      10,
				Remaining:  10,
			}
		},
	}

	lc := New(mock, WithTTL(time.Second))
	defer lc.Close()

	ctx := context.Background()

	// Every call goes to the backend: fail-open results are not cached.
	for i := 0; i < 3; i++ {
		r := lc.Check(ctx, "k1", testPolicy)
		if !r.Allowed || !r.FailedOpen {
			t.Fatalf("call %d: expected fail-open allow, got %+v", i, r)
		}
	}
	if mock.getCalls() != 3 {
		t.Fatalf("expected 3 backend calls, got %d", mock.getCalls())
	}
}

func TestLocalCache_Forget(t *testing.T) {
	mock := &mockLimiter{
		check: func(_ context.Context, _ string, _ ratelimit.Policy) *ratelimit.Result {
			return &ratelimit.Result{
				Allowed:   true,
				Count:     1,
				Limit:     10,
				Remaining: 9,
				ResetAt:   time.Now().Add(time.Minute),
			}
		},
	}

	lc := New(mock, WithTTL(time.Minute))
	defer lc.Close()

	ctx := context.Background()

	lc.Check(ctx, "k1", testPolicy)
	lc.Check(ctx, "k1", testPolicy)
	if mock.getCalls() != 1 {
		t.Fatalf("expected 1 backend call, got %d", mock.getCalls())
	}

	lc.Forget("k1")

	lc.Check(ctx, "k1", testPolicy)
	if mock.getCalls() != 2 {
		t.Fatalf("expected 2 backend calls after Forget, got %d", mock.getCalls())
	}
}

func TestLocalCache_MaxKeysEviction(t *testing.T) {
	mock := &mockLimiter{
		check: func(_ context.Context, _ string, _ ratelimit.Policy) *ratelimit.Result {
			return &ratelimit.Result{
				Allowed:   true,
				Count:     1,
				Limit:     10,
				Remaining: 9,
				ResetAt:   time.Now().Add(time.Minute),
			}
		},
	}

	lc := New(mock, WithTTL(time.Minute), WithMaxKeys(3))
	defer lc.Close()

	ctx := context.Background()

	for _, k := range []string{"k1", "k2", "k3", "k4"} {
		lc.Check(ctx, k, testPolicy)
	}

	if got := lc.Stats().Keys; got > 3 {
		t.Fatalf("expected at most 3 cached keys, got %d", got)
	}
}

func TestLocalCache_CloseIdempotent(t *testing.T) {
	mock := &mockLimiter{
		check: func(_ context.Context, _ string, _ ratelimit.Policy) *ratelimit.Result {
			return &ratelimit.Result{Allowed: true, Limit: 10, Remaining: 9}
		},
	}

	lc := New(mock)
	lc.Close()
	lc.Close()
}
