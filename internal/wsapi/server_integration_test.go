//go:build integration

package wsapi_test

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/require"

	"kvstore.dev/kvstore/internal/kv"
	"kvstore.dev/kvstore/internal/logging"
	"kvstore.dev/kvstore/internal/tenant"
	"kvstore.dev/kvstore/internal/testutil"
	"kvstore.dev/kvstore/internal/watch"
	"kvstore.dev/kvstore/internal/wsapi"
)

func dial(t *testing.T, srvURL, path, tenantID string) *websocket.Conn {
	t.Helper()
	wsURL := "ws" + strings.TrimPrefix(srvURL, "http") + path
	header := make(map[string][]string)
	if tenantID != "" {
		header[tenant.Header] = []string{tenantID}
	}
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, header)
	require.NoError(t, err)
	return conn
}

func mustBucketID(ctx context.Context, t *testing.T, e *kv.Engine, tenantID string) string {
	t.Helper()
	b, err := e.GetBucket(ctx, tenantID, "b")
	require.NoError(t, err)
	return b.ID
}

// S6: subscribing with replay=true delivers history since a revision
// before live events, in order, without duplication of already-seen ones.
func TestWatchReplayThenLive(t *testing.T) {
	ctx := context.Background()
	database, dsn, cleanup := testutil.StartPostgresWithDSN(t)
	defer cleanup()

	log := logging.WithService(logging.New(logging.Config{Level: logging.LevelError}), "wsapi-test")
	kvEngine := kv.New(database, log)
	registry := watch.NewRegistry(0)

	_, err := kvEngine.CreateBucket(ctx, "", kv.CreateBucketParams{Name: "b"})
	require.NoError(t, err)
	registry.SeedBucket(mustBucketID(ctx, t, kvEngine, ""), "b")

	for i := 0; i < 3; i++ {
		_, err := kvEngine.Put(ctx, "", "b", "k", kv.PutParams{Value: []byte("v")})
		require.NoError(t, err)
	}

	listener := watch.NewListener(dsn, registry, log)
	listener.Start(ctx)
	defer listener.Stop()

	e := echo.New()
	srv := wsapi.New(registry, database, log, 16)
	srv.Register(e)
	ts := httptest.NewServer(e)
	defer ts.Close()

	conn := dial(t, ts.URL, "/api/v1/kv/watch/b/k?since=1&replay=true", "")
	defer conn.Close()

	var connected map[string]interface{}
	require.NoError(t, conn.ReadJSON(&connected))
	require.Equal(t, "connected", connected["type"])

	// replay delivers revisions 2 and 3 (since=1)
	seenRevisions := []float64{}
	for i := 0; i < 2; i++ {
		var msg map[string]interface{}
		require.NoError(t, conn.ReadJSON(&msg))
		seenRevisions = append(seenRevisions, msg["revision"].(float64))
	}
	require.Equal(t, []float64{2, 3}, seenRevisions)

	_, err = kvEngine.Put(ctx, "", "b", "k", kv.PutParams{Value: []byte("v4")})
	require.NoError(t, err)

	conn.SetReadDeadline(time.Now().Add(10 * time.Second))
	var live map[string]interface{}
	require.NoError(t, conn.ReadJSON(&live))
	require.Equal(t, float64(4), live["revision"])
}

// S7: a subscriber bound to one tenant never observes another tenant's
// mutations on the same bucket name.
func TestWatchTenantIsolation(t *testing.T) {
	ctx := context.Background()
	database, dsn, cleanup := testutil.StartPostgresWithDSN(t)
	defer cleanup()

	log := logging.WithService(logging.New(logging.Config{Level: logging.LevelError}), "wsapi-test")
	kvEngine := kv.New(database, log)
	registry := watch.NewRegistry(0)

	_, err := kvEngine.CreateBucket(ctx, "tenant-a", kv.CreateBucketParams{Name: "b"})
	require.NoError(t, err)
	_, err = kvEngine.CreateBucket(ctx, "tenant-b", kv.CreateBucketParams{Name: "b"})
	require.NoError(t, err)
	registry.SeedBucket(mustBucketID(ctx, t, kvEngine, "tenant-a"), "b")
	registry.SeedBucket(mustBucketID(ctx, t, kvEngine, "tenant-b"), "b")

	listener := watch.NewListener(dsn, registry, log)
	listener.Start(ctx)
	defer listener.Stop()

	e := echo.New()
	srv := wsapi.New(registry, database, log, 16)
	srv.Register(e)
	ts := httptest.NewServer(e)
	defer ts.Close()

	conn := dial(t, ts.URL, "/api/v1/kv/watch/b", "tenant-a")
	defer conn.Close()

	var connected map[string]interface{}
	require.NoError(t, conn.ReadJSON(&connected))

	_, err = kvEngine.Put(ctx, "tenant-b", "b", "k", kv.PutParams{Value: []byte("other tenant")})
	require.NoError(t, err)

	_, err = kvEngine.Put(ctx, "tenant-a", "b", "k", kv.PutParams{Value: []byte("my tenant")})
	require.NoError(t, err)

	conn.SetReadDeadline(time.Now().Add(10 * time.Second))
	var msg map[string]interface{}
	require.NoError(t, conn.ReadJSON(&msg))
	require.Equal(t, "k", msg["key"])
	require.Equal(t, float64(1), msg["revision"])
}
