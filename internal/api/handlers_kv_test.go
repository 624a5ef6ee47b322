package api

import (
	"encoding/base64"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"kvstore.dev/kvstore/internal/kv"
)

func TestToBucketResponse(t *testing.T) {
	b := &kv.Bucket{
		Name:             "sessions",
		Description:      "session store",
		MaxValueSize:     1024,
		MaxHistoryPerKey: 5,
		TTLSeconds:       3600,
	}
	r := toBucketResponse(b)
	assert.Equal(t, "sessions", r.Name)
	assert.Equal(t, "session store", r.Description)
	assert.Equal(t, int64(1024), r.MaxValueSize)
	assert.Equal(t, 5, r.MaxHistoryPerKey)
	assert.Equal(t, int64(3600), r.TTLSeconds)
}

func TestToEntryResponsePut(t *testing.T) {
	e := &kv.Entry{
		Key:       "k1",
		Value:     []byte("hello"),
		Revision:  3,
		Operation: kv.OpPut,
	}
	r := toEntryResponse(e)
	assert.Equal(t, "k1", r.Key)
	assert.Equal(t, int64(3), r.Revision)
	assert.Equal(t, "PUT", r.Operation)
	decoded, err := base64.StdEncoding.DecodeString(r.Value)
	assert.NoError(t, err)
	assert.Equal(t, []byte("hello"), decoded)
	assert.Empty(t, r.ExpiresAt)
}

func TestToEntryResponseTombstoneOmitsValue(t *testing.T) {
	e := &kv.Entry{
		Key:       "k1",
		Value:     []byte("stale"),
		Revision:  4,
		Operation: kv.OpDelete,
	}
	r := toEntryResponse(e)
	assert.Equal(t, "DELETE", r.Operation)
	assert.Empty(t, r.Value)
}

func TestToEntryResponseExpiresAt(t *testing.T) {
	exp := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	e := &kv.Entry{
		Key:       "k1",
		Operation: kv.OpPut,
		ExpiresAt: &exp,
	}
	r := toEntryResponse(e)
	assert.Equal(t, "2026-01-02T03:04:05Z", r.ExpiresAt)
}
