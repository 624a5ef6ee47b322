// Package storage selects the object store's byte-storage backend once at
// startup. Expressed as one interface with two concrete whole-object
// implementations, PostgresBackend (storage_blobs) and S3Backend, not a
// runtime string-keyed lookup inside request handlers; the server installs
// S3Backend when configured for s3.
package storage

import "context"

// Backend stores and retrieves whole-object bytes keyed by (bucket, key).
// Neither implementation deduplicates; chunk-level dedup belongs to the
// internal/object chunk pipeline, not to this interface's contract.
type Backend interface {
	Put(ctx context.Context, tenant, bucket, key string, data []byte, contentType string) error
	Get(ctx context.Context, tenant, bucket, key string) ([]byte, error)
	GetRange(ctx context.Context, tenant, bucket, key string, offset, length int64) ([]byte, error)
	Delete(ctx context.Context, tenant, bucket, key string) error
}
