package repository

import (
	"context"
	"time"

	"github.com/go-redis/redis/v8"
)

const suppressedTokenPrefix = "push:token:suppressed:"

// RedisRepository caches push tokens the push service reported as no longer registered.
type RedisRepository struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisRepository(client *redis.Client, ttl time.Duration) *RedisRepository {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &RedisRepository{
		client: client,
		ttl:    ttl,
	}
}

func (r *RedisRepository) Close() error {
	return r.client.Close()
}

// IsTokenSuppressed returns true if the token is currently marked as unregistered.
func (r *RedisRepository) IsTokenSuppressed(ctx context.Context, token string) (bool, error) {
	exists, err := r.client.Exists(ctx, suppressedTokenPrefix+token).Result()
	if err != nil {
		return false, err
	}
	return exists == 1, nil
}

// SuppressToken stores a token with a TTL; a zero ttl uses the repository default.
func (r *RedisRepository) SuppressToken(ctx context.Context, token string, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = r.ttl
	}
	return r.client.SetEX(ctx, suppressedTokenPrefix+token, "1", ttl).Err()
}
