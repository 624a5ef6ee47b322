// Package cache provides a Redis-backed key/value cache and a distributed
// lock, with an in-process fallback when Redis is not configured. The
// service uses only the lock, for sweeper coordination. Grounded on
// db/repository/redis.go's RedisRepository (AcquireLock/ReleaseLock/
// SetCache/GetCache over a go-redis client).
package cache

import (
	"context"
	"time"
)

// Cache is the interface both the Redis-backed and in-process
// implementations satisfy.
type Cache interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	AcquireLock(ctx context.Context, name string, ttl time.Duration) (bool, error)
	ReleaseLock(ctx context.Context, name string) error
	Close() error
}
