package api

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"kvstore.dev/kvstore/internal/object"
)

func TestToObjectBucketResponse(t *testing.T) {
	b := &object.Bucket{
		Name:          "uploads",
		ChunkSize:     1 << 20,
		MaxObjectSize: 1 << 30,
		Backend:       "postgres",
	}
	r := toObjectBucketResponse(b)
	assert.Equal(t, "uploads", r.Name)
	assert.Equal(t, int64(1<<20), r.ChunkSize)
	assert.Equal(t, int64(1<<30), r.MaxObjectSize)
	assert.Equal(t, "postgres", r.Backend)
}

func TestToMetadataResponse(t *testing.T) {
	m := &object.Metadata{
		Name:            "report.pdf",
		Size:            2048,
		ChunkCount:      2,
		Digest:          "deadbeef",
		DigestAlgorithm: object.DigestAlgorithm,
		ContentType:     "application/pdf",
		Description:     "monthly report",
		Status:          object.StatusCompleted,
	}
	r := toMetadataResponse(m)
	assert.Equal(t, "report.pdf", r.Name)
	assert.Equal(t, int64(2048), r.Size)
	assert.Equal(t, 2, r.ChunkCount)
	assert.Equal(t, "deadbeef", r.Digest)
	assert.Equal(t, "SHA-256", r.DigestAlgorithm)
	assert.Equal(t, "COMPLETED", r.Status)
}
