package redis

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/expenseflow/ratelimit/store"
)

func setupTestStore(t *testing.T) (*Store, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	s := New(goredis.NewClient(&goredis.Options{Addr: mr.Addr()}))
	t.Cleanup(func() { _ = s.Close() })
	return s, mr
}

func TestSetGet(t *testing.T) {
	s, _ := setupTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Set(ctx, "k", `[1,2,3]`, time.Minute))

	got, err := s.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, `[1,2,3]`, got)
}

func TestGet_Missing(t *testing.T) {
	s, _ := setupTestStore(t)

	_, err := s.Get(context.Background(), "nope")
	var notFound *store.ErrKeyNotFound
	require.True(t, errors.As(err, &notFound))
	assert.Equal(t, "nope", notFound.Key)
}

func TestSet_AppliesTTL(t *testing.T) {
	s, mr := setupTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Set(ctx, "k", "v", 70*time.Second))
	assert.Equal(t, 70*time.Second, mr.TTL("k"))

	// The key disappears once the TTL elapses.
	mr.FastForward(71 * time.Second)
	_, err := s.Get(ctx, "k")
	var notFound *store.ErrKeyNotFound
	assert.True(t, errors.As(err, &notFound))
}

func TestSet_Overwrites(t *testing.T) {
	s, _ := setupTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Set(ctx, "k", "old", time.Minute))
	require.NoError(t, s.Set(ctx, "k", "new", time.Minute))

	got, err := s.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, "new", got)
}

func TestDel(t *testing.T) {
	s, _ := setupTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Set(ctx, "a", "1", time.Minute))
	require.NoError(t, s.Set(ctx, "b", "2", time.Minute))
	require.NoError(t, s.Del(ctx, "a", "b"))

	_, err := s.Get(ctx, "a")
	assert.Error(t, err)
	_, err = s.Get(ctx, "b")
	assert.Error(t, err)
}

func TestGet_ServerDown(t *testing.T) {
	s, mr := setupTestStore(t)
	mr.Close()

	_, err := s.Get(context.Background(), "k")
	require.Error(t, err)
	var notFound *store.ErrKeyNotFound
	assert.False(t, errors.As(err, &notFound), "transport errors must not look like a missing key")
}
