package cache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalCache_SetGet(t *testing.T) {
	c := NewLocalCache()
	ctx := context.Background()

	_, ok, err := c.Get(ctx, "missing")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, c.Set(ctx, "k", "v", 0))
	v, ok, err := c.Get(ctx, "k")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "v", v)
}

func TestLocalCache_TTLExpiry(t *testing.T) {
	c := NewLocalCache()
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "k", "v", time.Millisecond))
	time.Sleep(5 * time.Millisecond)

	_, ok, err := c.Get(ctx, "k")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestLocalCache_LockMutualExclusion(t *testing.T) {
	c := NewLocalCache()
	ctx := context.Background()

	ok, err := c.AcquireLock(ctx, "sweeper", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = c.AcquireLock(ctx, "sweeper", time.Minute)
	require.NoError(t, err)
	assert.False(t, ok, "second acquire while held must fail")

	require.NoError(t, c.ReleaseLock(ctx, "sweeper"))

	ok, err = c.AcquireLock(ctx, "sweeper", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok, "acquire after release must succeed")
}

func TestLocalCache_LockExpiresAfterTTL(t *testing.T) {
	c := NewLocalCache()
	ctx := context.Background()

	ok, err := c.AcquireLock(ctx, "sweeper", time.Millisecond)
	require.NoError(t, err)
	require.True(t, ok)

	time.Sleep(5 * time.Millisecond)

	ok, err = c.AcquireLock(ctx, "sweeper", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok, "lock should be acquirable again after TTL lapses")
}
