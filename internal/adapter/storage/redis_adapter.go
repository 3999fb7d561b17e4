package storage

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/rl1809/retail-pos/internal/port"
)

const DefaultIdempotencyTTL = 24 * time.Hour

// RedisAdapter implements port.IdempotencyGuard with one SETNX key per
// reservation.
type RedisAdapter struct {
	client redis.UniversalClient
	ttl    time.Duration
}

var _ port.IdempotencyGuard = (*RedisAdapter)(nil)

func NewRedisAdapter(client redis.UniversalClient, ttl time.Duration) *RedisAdapter {
	if ttl <= 0 {
		ttl = DefaultIdempotencyTTL
	}
	return &RedisAdapter{client: client, ttl: ttl}
}

func (r *RedisAdapter) Reserve(ctx context.Context, key string) (bool, error) {
	ok, err := r.client.SetNX(ctx, key, time.Now().UTC().Format(time.RFC3339Nano), r.ttl).Result()
	if err != nil {
		return false, err
	}

	return ok, nil
}

func (r *RedisAdapter) Release(ctx context.Context, key string) error {
	return r.client.Del(ctx, key).Err()
}

func (r *RedisAdapter) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}
