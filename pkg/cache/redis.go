package cache

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/stacklok/fedmcp/pkg/apperr"
)

// RedisProvider is a shared external cache backend, used when multiple
// server processes must observe the same cache state.
type RedisProvider struct {
	client *redis.Client
}

// NewRedisProvider wraps an existing *redis.Client. Constructing the
// client (pooling, TLS, auth) is the caller's concern, matching how
// toolhive threads a shared *redis.Client through its components.
func NewRedisProvider(client *redis.Client) *RedisProvider {
	return &RedisProvider{client: client}
}

// Set implements Provider.
func (r *RedisProvider) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := r.client.Set(ctx, key, value, ttl).Err(); err != nil {
		return &Unavailable{Cause: err}
	}
	return nil
}

// Get implements Provider.
func (r *RedisProvider) Get(ctx context.Context, key string) ([]byte, bool, error) {
	val, err := r.client.Get(ctx, key).Bytes()
	switch {
	case err == nil:
		return val, true, nil
	case err == redis.Nil:
		return nil, false, nil
	default:
		return nil, false, &Unavailable{Cause: err}
	}
}

// Invalidate implements Provider.
func (r *RedisProvider) Invalidate(ctx context.Context, key string) error {
	if err := r.client.Del(ctx, key).Err(); err != nil {
		return &Unavailable{Cause: err}
	}
	return nil
}

// InvalidatePattern implements Provider using SCAN rather than KEYS so
// invalidation never blocks the Redis event loop on a large keyspace.
func (r *RedisProvider) InvalidatePattern(ctx context.Context, pattern string) (int, error) {
	var cursor uint64
	count := 0
	for {
		keys, next, err := r.client.Scan(ctx, cursor, pattern, 200).Result()
		if err != nil {
			return count, &Unavailable{Cause: err}
		}
		if len(keys) > 0 {
			if err := r.client.Del(ctx, keys...).Err(); err != nil {
				return count, &Unavailable{Cause: err}
			}
			count += len(keys)
		}
		cursor = next
		if cursor == 0 {
			break
		}
	}
	return count, nil
}

// Exists implements Provider.
func (r *RedisProvider) Exists(ctx context.Context, key string) (bool, error) {
	n, err := r.client.Exists(ctx, key).Result()
	if err != nil {
		return false, &Unavailable{Cause: err}
	}
	return n > 0, nil
}

// TTL implements Provider.
func (r *RedisProvider) TTL(ctx context.Context, key string) (time.Duration, bool, error) {
	ttl, err := r.client.TTL(ctx, key).Result()
	if err != nil {
		return 0, false, &Unavailable{Cause: err}
	}
	if ttl < 0 {
		return 0, false, nil
	}
	return ttl, true, nil
}

// HealthCheck implements Provider.
func (r *RedisProvider) HealthCheck(ctx context.Context) error {
	if err := r.client.Ping(ctx).Err(); err != nil {
		return apperr.Wrap(apperr.KindCacheUnavailable, "redis ping failed", err)
	}
	return nil
}
