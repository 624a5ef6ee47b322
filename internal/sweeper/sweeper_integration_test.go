//go:build integration

package sweeper_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kvstore.dev/kvstore/internal/apperr"
	"kvstore.dev/kvstore/internal/cache"
	"kvstore.dev/kvstore/internal/kv"
	"kvstore.dev/kvstore/internal/logging"
	"kvstore.dev/kvstore/internal/sweeper"
	"kvstore.dev/kvstore/internal/testutil"
)

// Invariant 10: TTL expiration — Get returns not-found immediately, but
// history still shows the row until the sweeper runs.
func TestSweeper_Invariant10_TTLExpiration(t *testing.T) {
	ctx := context.Background()
	database, cleanup := testutil.StartPostgres(t)
	defer cleanup()

	log := logging.WithService(logging.New(logging.Config{Level: logging.LevelError}), "sweeper-test")
	engine := kv.New(database, log)

	_, err := engine.CreateBucket(ctx, "", kv.CreateBucketParams{Name: "b"})
	require.NoError(t, err)

	_, err = engine.Put(ctx, "", "b", "k", kv.PutParams{Value: []byte("v"), TTLSeconds: 1})
	require.NoError(t, err)

	time.Sleep(1100 * time.Millisecond)

	_, err = engine.Get(ctx, "", "b", "k")
	ae, ok := apperr.As(err)
	require.True(t, ok)
	assert.Equal(t, apperr.KindNotFound, ae.Kind)

	hist, err := engine.History(ctx, "", "b", "k", 10)
	require.NoError(t, err)
	assert.Len(t, hist, 1, "expired row remains visible in history until swept")

	sw := sweeper.New(database, cache.NewLocalCache(), log, 50*time.Millisecond)
	sw.Start(ctx)
	defer sw.Stop()

	require.Eventually(t, func() bool {
		hist, err := engine.History(ctx, "", "b", "k", 10)
		require.NoError(t, err)
		return len(hist) == 0
	}, 2*time.Second, 50*time.Millisecond, "sweeper's own loop should remove the expired row")
}
