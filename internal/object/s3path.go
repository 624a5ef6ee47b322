package object

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/jackc/pgx/v5"

	"kvstore.dev/kvstore/internal/apperr"
	"kvstore.dev/kvstore/internal/tenant"
)

// PutWhole stores an object through the configured storage.Backend in one
// shot rather than the chunked pipeline, used for buckets whose Backend is
// not "postgres" (currently just "s3"). Metadata bookkeeping (size,
// digest, status, chunk_count=1) still lands in obj_metadata so listing
// and the watch triggers behave identically to the chunked path.
func (e *Engine) PutWhole(ctx context.Context, t, bucketName, name, contentType, description string, data []byte) (*Metadata, error) {
	if e.blob == nil {
		return nil, apperr.Fatal("no alternate storage backend configured", nil)
	}
	if name == "" {
		return nil, apperr.Validation("object name required").FieldError("name", "required")
	}

	var bucket *Bucket
	var metaID string
	err := e.db.WithTx(ctx, func(tx pgx.Tx) error {
		if err := tenant.Bind(ctx, tx, t); err != nil {
			return apperr.Fatal("bind tenant", err)
		}
		b, err := e.lookupBucket(ctx, tx, bucketName)
		if err != nil {
			return err
		}
		bucket = b
		if int64(len(data)) > bucket.MaxObjectSize {
			return apperr.Validation(fmt.Sprintf("object exceeds bucket max size %d", bucket.MaxObjectSize))
		}

		if _, err := tx.Exec(ctx, `DELETE FROM obj_metadata WHERE bucket_id = $1 AND object_key = $2`, bucket.ID, name); err != nil {
			return apperr.Fatal("replace prior object", err)
		}

		sum := sha256.Sum256(data)
		digest := hex.EncodeToString(sum[:])

		row := tx.QueryRow(ctx, `
			INSERT INTO obj_metadata (bucket_id, tenant, object_key, status, size, chunk_count, digest, digest_algorithm, content_type, description, completed_at)
			VALUES ($1, $2, $3, 'COMPLETED', $4, 1, $5, $6, $7, $8, now())
			RETURNING id`, bucket.ID, tenantArg(t), name, len(data), digest, DigestAlgorithm, contentType, description)
		if err := row.Scan(&metaID); err != nil {
			return apperr.Fatal("insert metadata", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if err := e.blob.Put(ctx, t, bucketName, name, data, contentType); err != nil {
		_ = e.DeleteObject(ctx, t, bucketName, name)
		return nil, err
	}

	return e.GetMetadata(ctx, t, bucketName, name)
}

// DeleteBlob removes an object's bytes from the configured storage.Backend.
// It does not touch obj_metadata; callers pair it with DeleteObject.
func (e *Engine) DeleteBlob(ctx context.Context, t, bucketName, name string) error {
	if e.blob == nil {
		return apperr.Fatal("no alternate storage backend configured", nil)
	}
	return e.blob.Delete(ctx, t, bucketName, name)
}

// GetWhole reads back an object stored through PutWhole, honoring an
// optional byte range. length < 0 means "to end of object".
func (e *Engine) GetWhole(ctx context.Context, t, bucketName, name string, offset, length int64) ([]byte, *Metadata, error) {
	if e.blob == nil {
		return nil, nil, apperr.Fatal("no alternate storage backend configured", nil)
	}
	meta, err := e.GetMetadata(ctx, t, bucketName, name)
	if err != nil {
		return nil, nil, err
	}
	if meta.Status != StatusCompleted {
		return nil, nil, apperr.NotFound(fmt.Sprintf("object %q not found", name))
	}

	if offset == 0 && length < 0 {
		data, err := e.blob.Get(ctx, t, bucketName, name)
		if err != nil {
			return nil, nil, err
		}
		return data, meta, nil
	}
	data, err := e.blob.GetRange(ctx, t, bucketName, name, offset, length)
	if err != nil {
		return nil, nil, err
	}
	return data, meta, nil
}
