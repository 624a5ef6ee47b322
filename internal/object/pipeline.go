package object

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"hash"

	"github.com/jackc/pgx/v5"

	"kvstore.dev/kvstore/internal/apperr"
	"kvstore.dev/kvstore/internal/db"
	"kvstore.dev/kvstore/internal/tenant"
)

// Upload is an in-flight three-phase object write: Begin opens it, Write is
// called as many times as the producer yields byte runs, Finalize (or
// Abort) closes it. Bounds memory to roughly one chunk of buffering.
type Upload struct {
	eng      *Engine
	tenant   string
	bucket   *Bucket
	name     string
	metaID   string

	buf       []byte
	nextSeq   int
	total     int64
	hasher    hash.Hash
	aborted   bool
	completed bool
}

// Begin opens phase 1: inserts a metadata row with status=UPLOADING. Any
// existing object of the same name is deleted first (its chunk links go
// with it via cascade; shared chunks are left for dedup).
func (e *Engine) Begin(ctx context.Context, t, bucketName, name, contentType, description string, headers map[string]string) (*Upload, error) {
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

		if _, err := tx.Exec(ctx, `DELETE FROM obj_metadata WHERE bucket_id = $1 AND object_key = $2`, bucket.ID, name); err != nil {
			return apperr.Fatal("replace prior object", err)
		}

		headerJSON, err := json.Marshal(headers)
		if err != nil {
			return apperr.Fatal("marshal headers", err)
		}

		row := tx.QueryRow(ctx, `
			INSERT INTO obj_metadata (bucket_id, tenant, object_key, status, content_type, description, headers, digest_algorithm)
			VALUES ($1, $2, $3, 'UPLOADING', $4, $5, $6, $7)
			RETURNING id`, bucket.ID, tenantArg(t), name, contentType, description, headerJSON, DigestAlgorithm)
		if err := row.Scan(&metaID); err != nil {
			if db.IsUniqueViolation(err) {
				return apperr.Conflict(fmt.Sprintf("object %q already being uploaded", name))
			}
			return apperr.Fatal("begin upload", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return &Upload{
		eng:    e,
		tenant: t,
		bucket: bucket,
		name:   name,
		metaID: metaID,
		hasher: sha256.New(),
	}, nil
}

// Write is phase 2: buffers p, flushing full chunks as content-addressed
// rows once buffered bytes reach the bucket's chunk size. The digest
// accumulator consumes bytes in stream order regardless of chunk
// boundaries.
func (u *Upload) Write(ctx context.Context, p []byte) error {
	if u.aborted || u.completed {
		return apperr.Fatal("write after upload closed", nil)
	}
	if u.total+int64(len(p)) > u.bucket.MaxObjectSize {
		_ = u.Abort(ctx, apperr.Validation("object exceeds bucket max size"))
		return apperr.Validation(fmt.Sprintf("object exceeds bucket max size %d", u.bucket.MaxObjectSize))
	}

	u.hasher.Write(p)
	u.total += int64(len(p))
	u.buf = append(u.buf, p...)

	for int64(len(u.buf)) >= u.bucket.ChunkSize {
		chunk := u.buf[:u.bucket.ChunkSize]
		if err := u.flushChunk(ctx, chunk); err != nil {
			_ = u.Abort(ctx, err)
			return err
		}
		u.buf = append([]byte(nil), u.buf[u.bucket.ChunkSize:]...)
	}
	return nil
}

func (u *Upload) flushChunk(ctx context.Context, data []byte) error {
	sum := sha256.Sum256(data)
	digest := hex.EncodeToString(sum[:])
	seq := u.nextSeq

	err := u.eng.db.WithTx(ctx, func(tx pgx.Tx) error {
		if err := tenant.Bind(ctx, tx, u.tenant); err != nil {
			return apperr.Fatal("bind tenant", err)
		}
		// obj_shared_chunks is keyed by digest alone: deliberately global
		// across buckets and tenants to maximize dedup, per the shared
		// chunk's system-wide uniqueness invariant.
		if _, err := tx.Exec(ctx, `
			INSERT INTO obj_shared_chunks (digest, size, data)
			VALUES ($1, $2, $3)
			ON CONFLICT (digest) DO NOTHING`, digest, len(data), data); err != nil {
			return apperr.Fatal("write shared chunk", err)
		}
		if _, err := tx.Exec(ctx, `
			INSERT INTO obj_metadata_chunks (metadata_id, seq, digest, size)
			VALUES ($1, $2, $3, $4)`, u.metaID, seq, digest, len(data)); err != nil {
			return apperr.Fatal("link chunk", err)
		}
		return nil
	})
	if err != nil {
		return err
	}
	u.nextSeq++
	return nil
}

// Finalize is phase 3: flushes the leftover buffer as a final (possibly
// short) chunk, then updates the metadata row to status=COMPLETED.
func (u *Upload) Finalize(ctx context.Context) (*Metadata, error) {
	if u.aborted {
		return nil, apperr.Fatal("finalize after abort", nil)
	}
	if len(u.buf) > 0 {
		if err := u.flushChunk(ctx, u.buf); err != nil {
			_ = u.Abort(ctx, err)
			return nil, err
		}
		u.buf = nil
	}

	digest := hex.EncodeToString(u.hasher.Sum(nil))
	var meta Metadata
	err := u.eng.db.WithTx(ctx, func(tx pgx.Tx) error {
		if err := tenant.Bind(ctx, tx, u.tenant); err != nil {
			return apperr.Fatal("bind tenant", err)
		}
		row := tx.QueryRow(ctx, `
			UPDATE obj_metadata
			SET size = $2, chunk_count = $3, digest = $4, status = 'COMPLETED', completed_at = now()
			WHERE id = $1
			RETURNING id, bucket_id, coalesce(tenant,''), object_key, size, chunk_count, digest, digest_algorithm, content_type, description, headers, status, created_at, completed_at`,
			u.metaID, u.total, u.nextSeq, digest)
		if err := scanMetadata(row, &meta); err != nil {
			return apperr.Fatal("finalize upload", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	u.completed = true
	return &meta, nil
}

// Abort transitions the metadata to FAILED. Chunks already written and
// linked remain (they can be reaped later by a link-scoped delete); this
// is a deliberately shallow failure semantics per the pipeline's design.
func (u *Upload) Abort(ctx context.Context, cause error) error {
	if u.aborted || u.completed {
		return nil
	}
	u.aborted = true
	return u.eng.db.WithTx(ctx, func(tx pgx.Tx) error {
		if err := tenant.Bind(ctx, tx, u.tenant); err != nil {
			return apperr.Fatal("bind tenant", err)
		}
		_, err := tx.Exec(ctx, `UPDATE obj_metadata SET status = 'FAILED' WHERE id = $1`, u.metaID)
		return err
	})
}

func scanMetadata(row pgx.Row, m *Metadata) error {
	var headerJSON []byte
	var status string
	var digest *string
	if err := row.Scan(&m.ID, &m.BucketID, &m.Tenant, &m.Name, &m.Size, &m.ChunkCount, &digest, &m.DigestAlgorithm, &m.ContentType, &m.Description, &headerJSON, &status, &m.CreatedAt, &m.CompletedAt); err != nil {
		return err
	}
	m.Status = Status(status)
	if digest != nil {
		m.Digest = *digest
	}
	if len(headerJSON) > 0 {
		_ = json.Unmarshal(headerJSON, &m.Headers)
	}
	return nil
}
