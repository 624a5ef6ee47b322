package cache

import (
	"context"
	"sync"
	"time"
)

// LocalCache is an in-process fallback used when no Redis URL is
// configured. Lock coordination only matters across processes, so a
// single-process deployment needs nothing more than a mutex-guarded map.
type LocalCache struct {
	mu      sync.Mutex
	values  map[string]cacheEntry
	locks   map[string]time.Time // name -> expiry
}

type cacheEntry struct {
	value  string
	expiry time.Time
}

// NewLocalCache builds an empty in-process cache.
func NewLocalCache() *LocalCache {
	return &LocalCache{
		values: make(map[string]cacheEntry),
		locks:  make(map[string]time.Time),
	}
}

func (c *LocalCache) Get(_ context.Context, key string) (string, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.values[key]
	if !ok {
		return "", false, nil
	}
	if !e.expiry.IsZero() && time.Now().After(e.expiry) {
		delete(c.values, key)
		return "", false, nil
	}
	return e.value, true, nil
}

func (c *LocalCache) Set(_ context.Context, key, value string, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	var expiry time.Time
	if ttl > 0 {
		expiry = time.Now().Add(ttl)
	}
	c.values[key] = cacheEntry{value: value, expiry: expiry}
	return nil
}

func (c *LocalCache) AcquireLock(_ context.Context, name string, ttl time.Duration) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if expiry, held := c.locks[name]; held && time.Now().Before(expiry) {
		return false, nil
	}
	c.locks[name] = time.Now().Add(ttl)
	return true, nil
}

func (c *LocalCache) ReleaseLock(_ context.Context, name string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.locks, name)
	return nil
}

func (c *LocalCache) Close() error { return nil }
