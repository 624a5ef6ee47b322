package kv

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestEntry_IsTombstone(t *testing.T) {
	put := &Entry{Operation: OpPut}
	del := &Entry{Operation: OpDelete}
	assert.False(t, put.IsTombstone())
	assert.True(t, del.IsTombstone())
}

func TestEntry_IsExpired(t *testing.T) {
	now := time.Now()
	past := now.Add(-time.Minute)
	future := now.Add(time.Minute)

	t.Run("no ttl never expires", func(t *testing.T) {
		e := &Entry{}
		assert.False(t, e.IsExpired(now))
	})
	t.Run("future ttl not expired", func(t *testing.T) {
		e := &Entry{ExpiresAt: &future}
		assert.False(t, e.IsExpired(now))
	})
	t.Run("past ttl expired", func(t *testing.T) {
		e := &Entry{ExpiresAt: &past}
		assert.True(t, e.IsExpired(now))
	})
	t.Run("ttl exactly now is expired", func(t *testing.T) {
		e := &Entry{ExpiresAt: &now}
		assert.True(t, e.IsExpired(now))
	})
}
