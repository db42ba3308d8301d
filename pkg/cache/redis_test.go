package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func newTestRedisProvider(t *testing.T) *RedisProvider {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedisProvider(client)
}

func TestRedisProvider_SetGetInvalidate(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	c := newTestRedisProvider(t)

	require.NoError(t, c.Set(ctx, "k", []byte("v"), time.Minute))

	val, ok, err := c.Get(ctx, "k")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "v", string(val))

	require.NoError(t, c.Invalidate(ctx, "k"))
	_, ok, err = c.Get(ctx, "k")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestRedisProvider_InvalidatePattern(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	c := newTestRedisProvider(t)

	require.NoError(t, c.Set(ctx, "tenant:t1:user:u1:provider:strava:athlete_profile", []byte("v"), time.Minute))
	require.NoError(t, c.Set(ctx, "tenant:t1:user:u2:provider:strava:athlete_profile", []byte("v"), time.Minute))
	require.NoError(t, c.Set(ctx, "tenant:t1:user:u1:provider:garmin:athlete_profile", []byte("v"), time.Minute))

	n, err := c.InvalidatePattern(ctx, TenantPattern("t1", "strava"))
	require.NoError(t, err)
	require.Equal(t, 2, n)
}

func TestRedisProvider_HealthCheck(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	c := newTestRedisProvider(t)
	require.NoError(t, c.HealthCheck(ctx))
}
