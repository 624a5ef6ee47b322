package object

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/jackc/pgx/v5"

	"kvstore.dev/kvstore/internal/apperr"
	"kvstore.dev/kvstore/internal/tenant"
)

// GetMetadata returns an object's metadata row regardless of status.
func (e *Engine) GetMetadata(ctx context.Context, t, bucketName, name string) (*Metadata, error) {
	var m Metadata
	err := e.db.WithTx(ctx, func(tx pgx.Tx) error {
		if err := tenant.Bind(ctx, tx, t); err != nil {
			return apperr.Fatal("bind tenant", err)
		}
		bucket, err := e.lookupBucket(ctx, tx, bucketName)
		if err != nil {
			return err
		}
		row := tx.QueryRow(ctx, `
			SELECT id, bucket_id, coalesce(tenant,''), object_key, size, chunk_count, digest, digest_algorithm, content_type, description, headers, status, created_at, completed_at
			FROM obj_metadata WHERE bucket_id = $1 AND object_key = $2`, bucket.ID, name)
		if err := scanMetadata(row, &m); err != nil {
			if err == pgx.ErrNoRows {
				return apperr.NotFound(fmt.Sprintf("object %q not found", name))
			}
			return apperr.Fatal("get metadata", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &m, nil
}

// ListObjects lists completed objects in a bucket.
func (e *Engine) ListObjects(ctx context.Context, t, bucketName string) ([]*Metadata, error) {
	var out []*Metadata
	err := e.db.WithTx(ctx, func(tx pgx.Tx) error {
		if err := tenant.Bind(ctx, tx, t); err != nil {
			return apperr.Fatal("bind tenant", err)
		}
		bucket, err := e.lookupBucket(ctx, tx, bucketName)
		if err != nil {
			return err
		}
		rows, err := tx.Query(ctx, `
			SELECT id, bucket_id, coalesce(tenant,''), object_key, size, chunk_count, digest, digest_algorithm, content_type, description, headers, status, created_at, completed_at
			FROM obj_metadata WHERE bucket_id = $1 AND status = 'COMPLETED' ORDER BY object_key`, bucket.ID)
		if err != nil {
			return apperr.Fatal("list objects", err)
		}
		defer rows.Close()
		for rows.Next() {
			var m Metadata
			if err := scanMetadataRows(rows, &m); err != nil {
				return apperr.Fatal("scan object", err)
			}
			out = append(out, &m)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// DeleteObject removes an object's metadata and chunk links (shared chunks
// are left for other referencing objects, per the acknowledged
// shared-chunk GC open item).
func (e *Engine) DeleteObject(ctx context.Context, t, bucketName, name string) error {
	return e.db.WithTx(ctx, func(tx pgx.Tx) error {
		if err := tenant.Bind(ctx, tx, t); err != nil {
			return apperr.Fatal("bind tenant", err)
		}
		bucket, err := e.lookupBucket(ctx, tx, bucketName)
		if err != nil {
			return err
		}
		tag, err := tx.Exec(ctx, `DELETE FROM obj_metadata WHERE bucket_id = $1 AND object_key = $2`, bucket.ID, name)
		if err != nil {
			return apperr.Fatal("delete object", err)
		}
		if tag.RowsAffected() == 0 {
			return apperr.NotFound(fmt.Sprintf("object %q not found", name))
		}
		return nil
	})
}

// ReadRange returns bytes [offset, offset+length) of a completed object's
// content, stitched from its ordered chunk links.
func (e *Engine) ReadRange(ctx context.Context, t, bucketName, name string, offset, length int64) ([]byte, *Metadata, error) {
	var meta Metadata
	var out []byte
	err := e.db.WithTx(ctx, func(tx pgx.Tx) error {
		if err := tenant.Bind(ctx, tx, t); err != nil {
			return apperr.Fatal("bind tenant", err)
		}
		bucket, err := e.lookupBucket(ctx, tx, bucketName)
		if err != nil {
			return err
		}

		row := tx.QueryRow(ctx, `
			SELECT id, bucket_id, coalesce(tenant,''), object_key, size, chunk_count, digest, digest_algorithm, content_type, description, headers, status, created_at, completed_at
			FROM obj_metadata WHERE bucket_id = $1 AND object_key = $2`, bucket.ID, name)
		if err := scanMetadata(row, &meta); err != nil {
			if err == pgx.ErrNoRows {
				return apperr.NotFound(fmt.Sprintf("object %q not found", name))
			}
			return apperr.Fatal("get metadata", err)
		}
		if meta.Status != StatusCompleted {
			return apperr.NotFound(fmt.Sprintf("object %q not found", name))
		}

		if offset < 0 || length < 0 || offset >= meta.Size {
			if meta.Size == 0 && offset == 0 && length == 0 {
				return nil
			}
			return apperr.New(apperr.KindUnsatisfiable, fmt.Sprintf("range not satisfiable for object of size %d", meta.Size))
		}
		if offset+length > meta.Size {
			length = meta.Size - offset
		}
		if length == 0 {
			return nil
		}

		startChunk := offset / bucket.ChunkSize
		endChunk := (offset + length - 1) / bucket.ChunkSize

		rows, err := tx.Query(ctx, `
			SELECT mc.seq, sc.data
			FROM obj_metadata_chunks mc
			JOIN obj_shared_chunks sc ON sc.digest = mc.digest
			WHERE mc.metadata_id = $1 AND mc.seq BETWEEN $2 AND $3
			ORDER BY mc.seq`, meta.ID, startChunk, endChunk)
		if err != nil {
			return apperr.Fatal("read chunks", err)
		}
		defer rows.Close()

		var buf bytes.Buffer
		for rows.Next() {
			var seq int64
			var data []byte
			if err := rows.Scan(&seq, &data); err != nil {
				return apperr.Fatal("scan chunk", err)
			}
			chunkStart := seq * bucket.ChunkSize
			chunkEnd := chunkStart + int64(len(data))
			lo := offset
			if chunkStart > lo {
				lo = chunkStart
			}
			hi := offset + length
			if chunkEnd < hi {
				hi = chunkEnd
			}
			buf.Write(data[lo-chunkStart : hi-chunkStart])
		}
		if err := rows.Err(); err != nil {
			return apperr.Fatal("read chunks", err)
		}
		out = buf.Bytes()
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	return out, &meta, nil
}

// Verify walks an object's chunk links in order, recomputes the digest and
// compares it to the stored value.
func (e *Engine) Verify(ctx context.Context, t, bucketName, name string) (bool, string, error) {
	var meta Metadata
	var valid bool
	var message string
	err := e.db.WithTx(ctx, func(tx pgx.Tx) error {
		if err := tenant.Bind(ctx, tx, t); err != nil {
			return apperr.Fatal("bind tenant", err)
		}
		bucket, err := e.lookupBucket(ctx, tx, bucketName)
		if err != nil {
			return err
		}
		row := tx.QueryRow(ctx, `
			SELECT id, bucket_id, coalesce(tenant,''), object_key, size, chunk_count, digest, digest_algorithm, content_type, description, headers, status, created_at, completed_at
			FROM obj_metadata WHERE bucket_id = $1 AND object_key = $2`, bucket.ID, name)
		if err := scanMetadata(row, &meta); err != nil {
			if err == pgx.ErrNoRows {
				return apperr.NotFound(fmt.Sprintf("object %q not found", name))
			}
			return apperr.Fatal("get metadata", err)
		}
		if meta.Status != StatusCompleted {
			return apperr.NotFound(fmt.Sprintf("object %q not found", name))
		}

		rows, err := tx.Query(ctx, `
			SELECT sc.data
			FROM obj_metadata_chunks mc
			JOIN obj_shared_chunks sc ON sc.digest = mc.digest
			WHERE mc.metadata_id = $1 ORDER BY mc.seq`, meta.ID)
		if err != nil {
			return apperr.Fatal("read chunks", err)
		}
		defer rows.Close()

		h := sha256.New()
		for rows.Next() {
			var data []byte
			if err := rows.Scan(&data); err != nil {
				return apperr.Fatal("scan chunk", err)
			}
			h.Write(data)
		}
		if err := rows.Err(); err != nil {
			return apperr.Fatal("read chunks", err)
		}

		computed := hex.EncodeToString(h.Sum(nil))
		if computed == meta.Digest {
			valid = true
			message = "digest matches"
		} else {
			valid = false
			message = fmt.Sprintf("digest mismatch: stored %s computed %s", meta.Digest, computed)
		}
		return nil
	})
	if err != nil {
		return false, "", err
	}
	return valid, message, nil
}

func scanMetadataRows(rows pgx.Rows, m *Metadata) error {
	var headerJSON []byte
	var status string
	var digest *string
	if err := rows.Scan(&m.ID, &m.BucketID, &m.Tenant, &m.Name, &m.Size, &m.ChunkCount, &digest, &m.DigestAlgorithm, &m.ContentType, &m.Description, &headerJSON, &status, &m.CreatedAt, &m.CompletedAt); err != nil {
		return err
	}
	m.Status = Status(status)
	if digest != nil {
		m.Digest = *digest
	}
	return nil
}
