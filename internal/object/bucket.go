package object

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"kvstore.dev/kvstore/internal/apperr"
	"kvstore.dev/kvstore/internal/db"
	"kvstore.dev/kvstore/internal/logging"
	"kvstore.dev/kvstore/internal/storage"
	"kvstore.dev/kvstore/internal/tenant"
)

const (
	defaultChunkSize     = 1 << 20        // 1 MiB
	defaultMaxObjectSize = 5 << 30         // 5 GiB
)

// Engine implements object bucket management and the chunk pipeline.
type Engine struct {
	db   *db.DB
	log  *logging.Logger
	blob storage.Backend // optional; set for deployments with OBJECTSTORE_BACKEND=s3
}

// New builds an object Engine over an open database handle.
func New(database *db.DB, log *logging.Logger) *Engine {
	return &Engine{db: database, log: log}
}

// SetBackend wires an alternate whole-object storage.Backend, used by
// buckets created with backend="s3". Selected once at startup by the
// caller's configuration, never per-request.
func (e *Engine) SetBackend(b storage.Backend) {
	e.blob = b
}

func tenantArg(t string) interface{} {
	if t == "" {
		return nil
	}
	return t
}

// CreateBucket creates a new object bucket for the active tenant.
func (e *Engine) CreateBucket(ctx context.Context, t string, p CreateBucketParams) (*Bucket, error) {
	if p.Name == "" {
		return nil, apperr.Validation("bucket name required").FieldError("name", "required")
	}
	if p.ChunkSize <= 0 {
		p.ChunkSize = defaultChunkSize
	}
	if p.MaxObjectSize <= 0 {
		p.MaxObjectSize = defaultMaxObjectSize
	}
	if p.Backend == "" {
		p.Backend = "postgres"
	}

	var b Bucket
	err := e.db.WithTx(ctx, func(tx pgx.Tx) error {
		if err := tenant.Bind(ctx, tx, t); err != nil {
			return apperr.Fatal("bind tenant", err)
		}
		row := tx.QueryRow(ctx, `
			INSERT INTO obj_buckets (tenant, name, chunk_size, max_object_size, backend)
			VALUES ($1, $2, $3, $4, $5)
			RETURNING id, coalesce(tenant,''), name, chunk_size, max_object_size, backend, created_at, updated_at`,
			tenantArg(t), p.Name, p.ChunkSize, p.MaxObjectSize, p.Backend)
		if err := scanBucket(row, &b); err != nil {
			if db.IsUniqueViolation(err) {
				return apperr.Conflict(fmt.Sprintf("bucket %q already exists", p.Name))
			}
			return apperr.Fatal("create bucket", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &b, nil
}

// GetBucket fetches a bucket by name for the active tenant.
func (e *Engine) GetBucket(ctx context.Context, t, name string) (*Bucket, error) {
	var b Bucket
	err := e.db.WithTx(ctx, func(tx pgx.Tx) error {
		if err := tenant.Bind(ctx, tx, t); err != nil {
			return apperr.Fatal("bind tenant", err)
		}
		row := tx.QueryRow(ctx, `
			SELECT id, coalesce(tenant,''), name, chunk_size, max_object_size, backend, created_at, updated_at
			FROM obj_buckets WHERE name = $1`, name)
		if err := scanBucket(row, &b); err != nil {
			if err == pgx.ErrNoRows {
				return apperr.NotFound(fmt.Sprintf("bucket %q not found", name))
			}
			return apperr.Fatal("get bucket", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &b, nil
}

// ListBuckets lists object buckets visible to the active tenant.
func (e *Engine) ListBuckets(ctx context.Context, t string) ([]*Bucket, error) {
	var out []*Bucket
	err := e.db.WithTx(ctx, func(tx pgx.Tx) error {
		if err := tenant.Bind(ctx, tx, t); err != nil {
			return apperr.Fatal("bind tenant", err)
		}
		rows, err := tx.Query(ctx, `
			SELECT id, coalesce(tenant,''), name, chunk_size, max_object_size, backend, created_at, updated_at
			FROM obj_buckets ORDER BY name`)
		if err != nil {
			return apperr.Fatal("list buckets", err)
		}
		defer rows.Close()
		for rows.Next() {
			var b Bucket
			if err := rows.Scan(&b.ID, &b.Tenant, &b.Name, &b.ChunkSize, &b.MaxObjectSize, &b.Backend, &b.CreatedAt, &b.UpdatedAt); err != nil {
				return apperr.Fatal("scan bucket", err)
			}
			out = append(out, &b)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// DeleteBucket removes a bucket and cascades to its metadata (shared chunks
// are left intact for other buckets/objects referencing them).
func (e *Engine) DeleteBucket(ctx context.Context, t, name string) error {
	return e.db.WithTx(ctx, func(tx pgx.Tx) error {
		if err := tenant.Bind(ctx, tx, t); err != nil {
			return apperr.Fatal("bind tenant", err)
		}
		tag, err := tx.Exec(ctx, `DELETE FROM obj_buckets WHERE name = $1`, name)
		if err != nil {
			return apperr.Fatal("delete bucket", err)
		}
		if tag.RowsAffected() == 0 {
			return apperr.NotFound(fmt.Sprintf("bucket %q not found", name))
		}
		return nil
	})
}

func (e *Engine) lookupBucket(ctx context.Context, tx pgx.Tx, name string) (*Bucket, error) {
	var b Bucket
	row := tx.QueryRow(ctx, `
		SELECT id, coalesce(tenant,''), name, chunk_size, max_object_size, backend, created_at, updated_at
		FROM obj_buckets WHERE name = $1`, name)
	if err := scanBucket(row, &b); err != nil {
		if err == pgx.ErrNoRows {
			return nil, apperr.NotFound(fmt.Sprintf("bucket %q not found", name))
		}
		return nil, apperr.Fatal("lookup bucket", err)
	}
	return &b, nil
}

func scanBucket(row pgx.Row, b *Bucket) error {
	return row.Scan(&b.ID, &b.Tenant, &b.Name, &b.ChunkSize, &b.MaxObjectSize, &b.Backend, &b.CreatedAt, &b.UpdatedAt)
}
