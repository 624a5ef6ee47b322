//go:build integration

package storage_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kvstore.dev/kvstore/internal/apperr"
	"kvstore.dev/kvstore/internal/storage"
	"kvstore.dev/kvstore/internal/testutil"
)

func TestPostgresBackend_PutGetDelete(t *testing.T) {
	ctx := context.Background()
	database, cleanup := testutil.StartPostgres(t)
	defer cleanup()

	b := storage.NewPostgresBackend(database)

	err := b.Put(ctx, "acme", "uploads", "report.pdf", []byte("hello world"), "text/plain")
	require.NoError(t, err)

	data, err := b.Get(ctx, "acme", "uploads", "report.pdf")
	require.NoError(t, err)
	assert.Equal(t, []byte("hello world"), data)

	rangeData, err := b.GetRange(ctx, "acme", "uploads", "report.pdf", 6, 5)
	require.NoError(t, err)
	assert.Equal(t, []byte("world"), rangeData)

	require.NoError(t, b.Delete(ctx, "acme", "uploads", "report.pdf"))

	_, err = b.Get(ctx, "acme", "uploads", "report.pdf")
	ae, ok := apperr.As(err)
	require.True(t, ok)
	assert.Equal(t, apperr.KindNotFound, ae.Kind)
}

func TestPostgresBackend_PutOverwrites(t *testing.T) {
	ctx := context.Background()
	database, cleanup := testutil.StartPostgres(t)
	defer cleanup()

	b := storage.NewPostgresBackend(database)

	require.NoError(t, b.Put(ctx, "", "uploads", "k", []byte("v1"), "text/plain"))
	require.NoError(t, b.Put(ctx, "", "uploads", "k", []byte("v2 longer"), "text/plain"))

	data, err := b.Get(ctx, "", "uploads", "k")
	require.NoError(t, err)
	assert.Equal(t, []byte("v2 longer"), data)
}

func TestPostgresBackend_TenantIsolation(t *testing.T) {
	ctx := context.Background()
	database, cleanup := testutil.StartPostgres(t)
	defer cleanup()

	b := storage.NewPostgresBackend(database)

	require.NoError(t, b.Put(ctx, "tenant-a", "uploads", "k", []byte("a-data"), "text/plain"))

	_, err := b.Get(ctx, "tenant-b", "uploads", "k")
	ae, ok := apperr.As(err)
	require.True(t, ok)
	assert.Equal(t, apperr.KindNotFound, ae.Kind)
}

func TestPostgresBackend_GetRangeOutOfBounds(t *testing.T) {
	ctx := context.Background()
	database, cleanup := testutil.StartPostgres(t)
	defer cleanup()

	b := storage.NewPostgresBackend(database)
	require.NoError(t, b.Put(ctx, "", "uploads", "k", []byte("short"), "text/plain"))

	_, err := b.GetRange(ctx, "", "uploads", "k", 100, 10)
	ae, ok := apperr.As(err)
	require.True(t, ok)
	assert.Equal(t, apperr.KindUnsatisfiable, ae.Kind)
}
