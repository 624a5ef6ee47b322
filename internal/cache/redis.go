package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const lockPrefix = "kvstore:lock:"
const cachePrefix = "kvstore:cache:"

// RedisCache is a thin wrapper over go-redis, the same shape as the
// ambient stack's RedisRepository: SetNX/Del for locks, a
// prefixed key namespace for cached values.
type RedisCache struct {
	client *redis.Client
}

// NewRedisCache connects to url (a redis:// URL) and verifies the
// connection with a PING.
func NewRedisCache(ctx context.Context, url string) (*RedisCache, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opt)
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return &RedisCache{client: client}, nil
}

func (c *RedisCache) Get(ctx context.Context, key string) (string, bool, error) {
	v, err := c.client.Get(ctx, cachePrefix+key).Result()
	if err == redis.Nil {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return v, true, nil
}

func (c *RedisCache) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	return c.client.Set(ctx, cachePrefix+key, value, ttl).Err()
}

// AcquireLock attempts to take a named lock with a unique token value and
// TTL, guarding against a crashed holder leaving the lock stuck forever.
func (c *RedisCache) AcquireLock(ctx context.Context, name string, ttl time.Duration) (bool, error) {
	token := uuid.NewString()
	ok, err := c.client.SetNX(ctx, lockPrefix+name, token, ttl).Result()
	if err != nil {
		return false, err
	}
	return ok, nil
}

func (c *RedisCache) ReleaseLock(ctx context.Context, name string) error {
	return c.client.Del(ctx, lockPrefix+name).Err()
}

func (c *RedisCache) Close() error {
	return c.client.Close()
}
