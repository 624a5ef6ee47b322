//go:build integration

package object_test

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kvstore.dev/kvstore/internal/logging"
	"kvstore.dev/kvstore/internal/object"
	"kvstore.dev/kvstore/internal/testutil"
)

func newEngine(t *testing.T) (*object.Engine, func()) {
	database, cleanup := testutil.StartPostgres(t)
	log := logging.WithService(logging.New(logging.Config{Level: logging.LevelError}), "object-test")
	return object.New(database, log), cleanup
}

func upload(t *testing.T, ctx context.Context, e *object.Engine, bucket, name string, data []byte) *object.Metadata {
	t.Helper()
	u, err := e.Begin(ctx, "", bucket, name, "application/octet-stream", "", nil)
	require.NoError(t, err)
	require.NoError(t, u.Write(ctx, data))
	meta, err := u.Finalize(ctx)
	require.NoError(t, err)
	return meta
}

// S3 Object chunking + verify.
func TestEngine_S3_ChunkingAndVerify(t *testing.T) {
	ctx := context.Background()
	e, cleanup := newEngine(t)
	defer cleanup()

	_, err := e.CreateBucket(ctx, "", object.CreateBucketParams{Name: "files", ChunkSize: 1 << 20})
	require.NoError(t, err)

	data := make([]byte, 5*(1<<20))
	_, err = rand.Read(data)
	require.NoError(t, err)
	sum := sha256.Sum256(data)
	wantDigest := hex.EncodeToString(sum[:])

	meta := upload(t, ctx, e, "files", "blob", data)
	assert.EqualValues(t, len(data), meta.Size)
	assert.Equal(t, 5, meta.ChunkCount)
	assert.Equal(t, wantDigest, meta.Digest)

	got, _, err := e.ReadRange(ctx, "", "files", "blob", 0, int64(len(data)))
	require.NoError(t, err)
	assert.Equal(t, data, got)

	valid, _, err := e.Verify(ctx, "", "files", "blob")
	require.NoError(t, err)
	assert.True(t, valid)
}

// S4 Dedup.
func TestEngine_S4_Dedup(t *testing.T) {
	ctx := context.Background()
	e, cleanup := newEngine(t)
	defer cleanup()

	_, err := e.CreateBucket(ctx, "", object.CreateBucketParams{Name: "files", ChunkSize: 4})
	require.NoError(t, err)

	content := []byte("identicalcontent") // 16 bytes -> 4 chunks of size 4
	upload(t, ctx, e, "files", "a", content)
	upload(t, ctx, e, "files", "b", content)

	b, _, err := e.ReadRange(ctx, "", "files", "b", 0, int64(len(content)))
	require.NoError(t, err)
	assert.Equal(t, content, b)

	require.NoError(t, e.DeleteObject(ctx, "", "files", "a"))

	still, _, err := e.ReadRange(ctx, "", "files", "b", 0, int64(len(content)))
	require.NoError(t, err)
	assert.Equal(t, content, still)
}

// S4 Dedup, cross-bucket: shared chunks are keyed by digest alone, so
// identical content uploaded to a second bucket reuses the same rows.
func TestEngine_S4_DedupCrossBucket(t *testing.T) {
	ctx := context.Background()
	e, cleanup := newEngine(t)
	defer cleanup()

	_, err := e.CreateBucket(ctx, "", object.CreateBucketParams{Name: "files", ChunkSize: 4})
	require.NoError(t, err)
	_, err = e.CreateBucket(ctx, "", object.CreateBucketParams{Name: "other", ChunkSize: 4})
	require.NoError(t, err)

	content := []byte("identicalcontent")
	upload(t, ctx, e, "files", "a", content)
	upload(t, ctx, e, "other", "a", content)

	got, _, err := e.ReadRange(ctx, "", "other", "a", 0, int64(len(content)))
	require.NoError(t, err)
	assert.Equal(t, content, got)

	require.NoError(t, e.DeleteObject(ctx, "", "files", "a"))

	still, _, err := e.ReadRange(ctx, "", "other", "a", 0, int64(len(content)))
	require.NoError(t, err)
	assert.Equal(t, content, still)
}

// S5 Range read.
func TestEngine_S5_RangeRead(t *testing.T) {
	ctx := context.Background()
	e, cleanup := newEngine(t)
	defer cleanup()

	_, err := e.CreateBucket(ctx, "", object.CreateBucketParams{Name: "files", ChunkSize: 8})
	require.NoError(t, err)

	body := []byte("0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZ")
	meta := upload(t, ctx, e, "files", "doc", body)
	assert.EqualValues(t, len(body), meta.Size)

	got, _, err := e.ReadRange(ctx, "", "files", "doc", 10, 5)
	require.NoError(t, err)
	assert.Equal(t, "ABCDE", string(got))

	_, _, err = e.ReadRange(ctx, "", "files", "doc", 100, 101)
	require.Error(t, err)

	got, _, err = e.ReadRange(ctx, "", "files", "doc", 30, int64(len(body))-30)
	require.NoError(t, err)
	assert.Equal(t, "UVWXYZ", string(got))
}
