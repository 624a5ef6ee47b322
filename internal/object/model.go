// Package object implements the chunked, content-addressed object store:
// bucket management, the three-phase streaming upload pipeline, ranged
// reads, and integrity verification.
package object

import "time"

// Status is the lifecycle state of an object's metadata row.
type Status string

const (
	StatusUploading Status = "UPLOADING"
	StatusCompleted Status = "COMPLETED"
	StatusFailed    Status = "FAILED"
)

// DigestAlgorithm is fixed to SHA-256 for this implementation; the column
// exists so a future algorithm could be introduced without a migration.
const DigestAlgorithm = "SHA-256"

// Bucket is a tenant-scoped object namespace.
type Bucket struct {
	ID            string
	Tenant        string
	Name          string
	ChunkSize     int64
	MaxObjectSize int64
	Backend       string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Metadata describes a stored (or in-flight) object.
type Metadata struct {
	ID              string
	BucketID        string
	Tenant          string
	Name            string
	Size            int64
	ChunkCount      int
	Digest          string
	DigestAlgorithm string
	ContentType     string
	Description     string
	Headers         map[string]string
	Status          Status
	CreatedAt       time.Time
	CompletedAt     *time.Time
}

// CreateBucketParams is the input to CreateBucket.
type CreateBucketParams struct {
	Name          string
	ChunkSize     int64
	MaxObjectSize int64
	Backend       string
}
