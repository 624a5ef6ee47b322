package kv

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"kvstore.dev/kvstore/internal/apperr"
	"kvstore.dev/kvstore/internal/db"
	"kvstore.dev/kvstore/internal/logging"
	"kvstore.dev/kvstore/internal/tenant"
)

const (
	defaultMaxValueSize     = 1 << 20
	defaultMaxHistoryPerKey = 64
)

// Engine implements the bucketed KV store: bucket management plus the
// atomic revision/CAS protocol for entries. One method per operation,
// manual row scanning, errors wrapped with apperr — the shape
// db/repository/postgres.go uses for its metrics repository, generalized
// here to the KV domain.
type Engine struct {
	db  *db.DB
	log *logging.Logger
}

// New builds a KV Engine over an open database handle.
func New(database *db.DB, log *logging.Logger) *Engine {
	return &Engine{db: database, log: log}
}

func tenantArg(t string) interface{} {
	if t == "" {
		return nil
	}
	return t
}

// --- Buckets ---------------------------------------------------------------

// CreateBucket creates a new bucket for the active tenant. Duplicate
// (tenant, name) yields apperr.Conflict.
func (e *Engine) CreateBucket(ctx context.Context, t string, p CreateBucketParams) (*Bucket, error) {
	if p.Name == "" {
		return nil, apperr.Validation("bucket name required").FieldError("name", "required")
	}
	if p.MaxValueSize <= 0 {
		p.MaxValueSize = defaultMaxValueSize
	}
	if p.MaxHistoryPerKey <= 0 {
		p.MaxHistoryPerKey = defaultMaxHistoryPerKey
	}

	var b Bucket
	err := e.db.WithTx(ctx, func(tx pgx.Tx) error {
		if err := tenant.Bind(ctx, tx, t); err != nil {
			return apperr.Fatal("bind tenant", err)
		}
		var ttl *int64
		if p.TTLSeconds > 0 {
			ttl = &p.TTLSeconds
		}
		row := tx.QueryRow(ctx, `
			INSERT INTO kv_buckets (tenant, name, description, max_value_size, max_history_per_key, ttl_seconds)
			VALUES ($1, $2, $3, $4, $5, $6)
			RETURNING id, coalesce(tenant,''), name, description, max_value_size, max_history_per_key, coalesce(ttl_seconds,0), created_at, updated_at`,
			tenantArg(t), p.Name, p.Description, p.MaxValueSize, p.MaxHistoryPerKey, ttl)
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
			SELECT id, coalesce(tenant,''), name, description, max_value_size, max_history_per_key, coalesce(ttl_seconds,0), created_at, updated_at
			FROM kv_buckets WHERE name = $1`, name)
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

// ListBuckets lists buckets visible to the active tenant.
func (e *Engine) ListBuckets(ctx context.Context, t string) ([]*Bucket, error) {
	var out []*Bucket
	err := e.db.WithTx(ctx, func(tx pgx.Tx) error {
		if err := tenant.Bind(ctx, tx, t); err != nil {
			return apperr.Fatal("bind tenant", err)
		}
		rows, err := tx.Query(ctx, `
			SELECT id, coalesce(tenant,''), name, description, max_value_size, max_history_per_key, coalesce(ttl_seconds,0), created_at, updated_at
			FROM kv_buckets ORDER BY name`)
		if err != nil {
			return apperr.Fatal("list buckets", err)
		}
		defer rows.Close()
		for rows.Next() {
			var b Bucket
			if err := rows.Scan(&b.ID, &b.Tenant, &b.Name, &b.Description, &b.MaxValueSize, &b.MaxHistoryPerKey, &b.TTLSeconds, &b.CreatedAt, &b.UpdatedAt); err != nil {
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

// UpdateBucket updates mutable bucket settings.
func (e *Engine) UpdateBucket(ctx context.Context, t, name string, p CreateBucketParams) (*Bucket, error) {
	var b Bucket
	err := e.db.WithTx(ctx, func(tx pgx.Tx) error {
		if err := tenant.Bind(ctx, tx, t); err != nil {
			return apperr.Fatal("bind tenant", err)
		}
		var ttl *int64
		if p.TTLSeconds > 0 {
			ttl = &p.TTLSeconds
		}
		row := tx.QueryRow(ctx, `
			UPDATE kv_buckets
			SET description = $2, max_value_size = $3, max_history_per_key = $4, ttl_seconds = $5, updated_at = now()
			WHERE name = $1
			RETURNING id, coalesce(tenant,''), name, description, max_value_size, max_history_per_key, coalesce(ttl_seconds,0), created_at, updated_at`,
			name, p.Description, p.MaxValueSize, p.MaxHistoryPerKey, ttl)
		if err := scanBucket(row, &b); err != nil {
			if err == pgx.ErrNoRows {
				return apperr.NotFound(fmt.Sprintf("bucket %q not found", name))
			}
			return apperr.Fatal("update bucket", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &b, nil
}

// DeleteBucket removes a bucket and cascades to its entries.
func (e *Engine) DeleteBucket(ctx context.Context, t, name string) error {
	return e.db.WithTx(ctx, func(tx pgx.Tx) error {
		if err := tenant.Bind(ctx, tx, t); err != nil {
			return apperr.Fatal("bind tenant", err)
		}
		tag, err := tx.Exec(ctx, `DELETE FROM kv_buckets WHERE name = $1`, name)
		if err != nil {
			return apperr.Fatal("delete bucket", err)
		}
		if tag.RowsAffected() == 0 {
			return apperr.NotFound(fmt.Sprintf("bucket %q not found", name))
		}
		return nil
	})
}

// PurgeBucket hard-deletes every entry in a bucket, returning the row count.
func (e *Engine) PurgeBucket(ctx context.Context, t, bucket string) (int64, error) {
	var count int64
	err := e.db.WithTx(ctx, func(tx pgx.Tx) error {
		if err := tenant.Bind(ctx, tx, t); err != nil {
			return apperr.Fatal("bind tenant", err)
		}
		b, err := e.lookupBucketID(ctx, tx, bucket)
		if err != nil {
			return err
		}
		tag, err := tx.Exec(ctx, `DELETE FROM kv_entries WHERE bucket_id = $1`, b)
		if err != nil {
			return apperr.Fatal("purge bucket", err)
		}
		count = tag.RowsAffected()
		return nil
	})
	return count, err
}

func (e *Engine) lookupBucketID(ctx context.Context, tx pgx.Tx, name string) (string, error) {
	var id string
	err := tx.QueryRow(ctx, `SELECT id FROM kv_buckets WHERE name = $1`, name).Scan(&id)
	if err == pgx.ErrNoRows {
		return "", apperr.NotFound(fmt.Sprintf("bucket %q not found", name))
	}
	if err != nil {
		return "", apperr.Fatal("lookup bucket", err)
	}
	return id, nil
}

func scanBucket(row pgx.Row, b *Bucket) error {
	return row.Scan(&b.ID, &b.Tenant, &b.Name, &b.Description, &b.MaxValueSize, &b.MaxHistoryPerKey, &b.TTLSeconds, &b.CreatedAt, &b.UpdatedAt)
}

// --- Keys --------------------------------------------------------------

// ListKeys returns the distinct live (non-purged) keys of a bucket.
func (e *Engine) ListKeys(ctx context.Context, t, bucket string) ([]string, error) {
	var keys []string
	err := e.db.WithTx(ctx, func(tx pgx.Tx) error {
		if err := tenant.Bind(ctx, tx, t); err != nil {
			return apperr.Fatal("bind tenant", err)
		}
		bucketID, err := e.lookupBucketID(ctx, tx, bucket)
		if err != nil {
			return err
		}
		rows, err := tx.Query(ctx, `SELECT DISTINCT key FROM kv_entries WHERE bucket_id = $1 ORDER BY key`, bucketID)
		if err != nil {
			return apperr.Fatal("list keys", err)
		}
		defer rows.Close()
		for rows.Next() {
			var k string
			if err := rows.Scan(&k); err != nil {
				return apperr.Fatal("scan key", err)
			}
			keys = append(keys, k)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}
	return keys, nil
}

// Put writes a new revision, optionally as a compare-and-swap when
// p.ExpectedRevision is set. This is the sole entry point for the
// revision-sequencing protocol described by the Revision Sequencer: the
// upsert into kv_revision_sequences is the serialization point for
// concurrent writers to the same key.
func (e *Engine) Put(ctx context.Context, t, bucket, key string, p PutParams) (*Entry, error) {
	if p.TTLSeconds < 0 {
		return nil, apperr.Validation("ttlSeconds must not be negative").FieldError("ttlSeconds", "must not be negative")
	}
	var entry Entry
	err := e.db.WithTx(ctx, func(tx pgx.Tx) error {
		if err := tenant.Bind(ctx, tx, t); err != nil {
			return apperr.Fatal("bind tenant", err)
		}

		var b Bucket
		row := tx.QueryRow(ctx, `
			SELECT id, coalesce(tenant,''), name, description, max_value_size, max_history_per_key, coalesce(ttl_seconds,0), created_at, updated_at
			FROM kv_buckets WHERE name = $1 FOR SHARE`, bucket)
		if err := scanBucket(row, &b); err != nil {
			if err == pgx.ErrNoRows {
				return apperr.NotFound(fmt.Sprintf("bucket %q not found", bucket))
			}
			return apperr.Fatal("get bucket", err)
		}

		if int64(len(p.Value)) > b.MaxValueSize {
			return apperr.Validation(fmt.Sprintf("value exceeds bucket max size %d", b.MaxValueSize))
		}

		// Acquire the per-key serialization point: an upsert on the
		// revision sequence row. The row lock held for the remainder of
		// this transaction is what linearizes concurrent writers.
		var current int64
		err := tx.QueryRow(ctx, `
			INSERT INTO kv_revision_sequences (bucket_id, key, last_revision)
			VALUES ($1, $2, 0)
			ON CONFLICT (bucket_id, key) DO UPDATE SET last_revision = kv_revision_sequences.last_revision
			RETURNING last_revision`, b.ID, key).Scan(&current)
		if err != nil {
			return apperr.Fatal("acquire sequence row", err)
		}

		if p.ExpectedRevision != nil {
			var latestRevision *int64
			err := tx.QueryRow(ctx, `
				SELECT revision FROM kv_entries WHERE bucket_id = $1 AND key = $2 ORDER BY revision DESC LIMIT 1`,
				b.ID, key).Scan(&latestRevision)
			if err != nil && err != pgx.ErrNoRows {
				return apperr.Fatal("read latest revision", err)
			}
			expected := *p.ExpectedRevision
			if expected == 0 {
				if latestRevision != nil {
					return apperr.CASConflict(fmt.Sprintf("key %q already exists at revision %d", key, *latestRevision))
				}
			} else {
				if latestRevision == nil || *latestRevision != expected {
					return apperr.CASConflict(fmt.Sprintf("key %q expected revision %d", key, expected))
				}
			}
		}

		next := current + 1
		if _, err := tx.Exec(ctx, `UPDATE kv_revision_sequences SET last_revision = $3 WHERE bucket_id = $1 AND key = $2`, b.ID, key, next); err != nil {
			return apperr.Fatal("advance sequence", err)
		}

		ttlSeconds := p.TTLSeconds
		if ttlSeconds == 0 {
			ttlSeconds = b.TTLSeconds
		}
		var expiresAt *time.Time
		if ttlSeconds > 0 {
			exp := time.Now().Add(time.Duration(ttlSeconds) * time.Second)
			expiresAt = &exp
		}

		row = tx.QueryRow(ctx, `
			INSERT INTO kv_entries (bucket_id, tenant, key, revision, value, deleted, ttl_expires_at)
			VALUES ($1, $2, $3, $4, $5, false, $6)
			RETURNING id, bucket_id, coalesce(tenant,''), key, value, revision, deleted, created_at, ttl_expires_at`,
			b.ID, tenantArg(t), key, next, p.Value, expiresAt)
		if err := scanEntry(row, &entry); err != nil {
			return apperr.Fatal("insert entry", err)
		}

		maxHistory := b.MaxHistoryPerKey
		if maxHistory > 0 {
			if _, err := tx.Exec(ctx, `
				DELETE FROM kv_entries WHERE bucket_id = $1 AND key = $2 AND revision <= $3`,
				b.ID, key, next-int64(maxHistory)); err != nil {
				return apperr.Fatal("prune history", err)
			}
		}

		return nil
	})
	if err != nil {
		return nil, err
	}
	return &entry, nil
}

// Get returns the latest non-tombstone, non-expired entry for a key.
func (e *Engine) Get(ctx context.Context, t, bucket, key string) (*Entry, error) {
	var entry Entry
	err := e.db.WithTx(ctx, func(tx pgx.Tx) error {
		if err := tenant.Bind(ctx, tx, t); err != nil {
			return apperr.Fatal("bind tenant", err)
		}
		bucketID, err := e.lookupBucketID(ctx, tx, bucket)
		if err != nil {
			return err
		}
		row := tx.QueryRow(ctx, `
			SELECT id, bucket_id, coalesce(tenant,''), key, value, revision, deleted, created_at, ttl_expires_at
			FROM kv_entries WHERE bucket_id = $1 AND key = $2 ORDER BY revision DESC LIMIT 1`, bucketID, key)
		if err := scanEntry(row, &entry); err != nil {
			if err == pgx.ErrNoRows {
				return apperr.NotFound(fmt.Sprintf("key %q not found", key))
			}
			return apperr.Fatal("get entry", err)
		}
		if entry.IsTombstone() {
			return apperr.NotFound(fmt.Sprintf("key %q not found", key))
		}
		if entry.IsExpired(time.Now()) {
			return apperr.NotFound(fmt.Sprintf("key %q not found", key))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &entry, nil
}

// GetRevision returns the exact entry at a revision, including tombstones
// and expired rows, for history fidelity.
func (e *Engine) GetRevision(ctx context.Context, t, bucket, key string, revision int64) (*Entry, error) {
	var entry Entry
	err := e.db.WithTx(ctx, func(tx pgx.Tx) error {
		if err := tenant.Bind(ctx, tx, t); err != nil {
			return apperr.Fatal("bind tenant", err)
		}
		bucketID, err := e.lookupBucketID(ctx, tx, bucket)
		if err != nil {
			return err
		}
		row := tx.QueryRow(ctx, `
			SELECT id, bucket_id, coalesce(tenant,''), key, value, revision, deleted, created_at, ttl_expires_at
			FROM kv_entries WHERE bucket_id = $1 AND key = $2 AND revision = $3`, bucketID, key, revision)
		if err := scanEntry(row, &entry); err != nil {
			if err == pgx.ErrNoRows {
				return apperr.NotFound(fmt.Sprintf("key %q revision %d not found", key, revision))
			}
			return apperr.Fatal("get revision", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &entry, nil
}

// History returns up to limit entries, newest first, including tombstones.
func (e *Engine) History(ctx context.Context, t, bucket, key string, limit int) ([]*Entry, error) {
	var out []*Entry
	err := e.db.WithTx(ctx, func(tx pgx.Tx) error {
		if err := tenant.Bind(ctx, tx, t); err != nil {
			return apperr.Fatal("bind tenant", err)
		}
		var b Bucket
		row := tx.QueryRow(ctx, `
			SELECT id, coalesce(tenant,''), name, description, max_value_size, max_history_per_key, coalesce(ttl_seconds,0), created_at, updated_at
			FROM kv_buckets WHERE name = $1`, bucket)
		if err := scanBucket(row, &b); err != nil {
			if err == pgx.ErrNoRows {
				return apperr.NotFound(fmt.Sprintf("bucket %q not found", bucket))
			}
			return apperr.Fatal("get bucket", err)
		}
		if limit <= 0 {
			limit = b.MaxHistoryPerKey
		}
		rows, err := tx.Query(ctx, `
			SELECT id, bucket_id, coalesce(tenant,''), key, value, revision, deleted, created_at, ttl_expires_at
			FROM kv_entries WHERE bucket_id = $1 AND key = $2 ORDER BY revision DESC LIMIT $3`, b.ID, key, limit)
		if err != nil {
			return apperr.Fatal("history", err)
		}
		defer rows.Close()
		for rows.Next() {
			var entry Entry
			if err := scanEntryRows(rows, &entry); err != nil {
				return apperr.Fatal("scan history entry", err)
			}
			out = append(out, &entry)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Delete appends a tombstone revision. Fails not-found if the key does not
// exist or is already deleted.
func (e *Engine) Delete(ctx context.Context, t, bucket, key string) (*Entry, error) {
	var entry Entry
	err := e.db.WithTx(ctx, func(tx pgx.Tx) error {
		if err := tenant.Bind(ctx, tx, t); err != nil {
			return apperr.Fatal("bind tenant", err)
		}
		bucketID, err := e.lookupBucketID(ctx, tx, bucket)
		if err != nil {
			return err
		}

		var current int64
		err = tx.QueryRow(ctx, `
			INSERT INTO kv_revision_sequences (bucket_id, key, last_revision)
			VALUES ($1, $2, 0)
			ON CONFLICT (bucket_id, key) DO UPDATE SET last_revision = kv_revision_sequences.last_revision
			RETURNING last_revision`, bucketID, key).Scan(&current)
		if err != nil {
			return apperr.Fatal("acquire sequence row", err)
		}

		var latestDeleted *bool
		err = tx.QueryRow(ctx, `SELECT deleted FROM kv_entries WHERE bucket_id = $1 AND key = $2 ORDER BY revision DESC LIMIT 1`, bucketID, key).Scan(&latestDeleted)
		if err != nil && err != pgx.ErrNoRows {
			return apperr.Fatal("read latest entry", err)
		}
		if latestDeleted == nil {
			return apperr.NotFound(fmt.Sprintf("key %q not found", key))
		}
		if *latestDeleted {
			return apperr.NotFound(fmt.Sprintf("key %q already deleted", key))
		}

		next := current + 1
		if _, err := tx.Exec(ctx, `UPDATE kv_revision_sequences SET last_revision = $3 WHERE bucket_id = $1 AND key = $2`, bucketID, key, next); err != nil {
			return apperr.Fatal("advance sequence", err)
		}

		row := tx.QueryRow(ctx, `
			INSERT INTO kv_entries (bucket_id, tenant, key, revision, value, deleted)
			VALUES ($1, $2, $3, $4, NULL, true)
			RETURNING id, bucket_id, coalesce(tenant,''), key, value, revision, deleted, created_at, ttl_expires_at`,
			bucketID, tenantArg(t), key, next)
		if err := scanEntry(row, &entry); err != nil {
			return apperr.Fatal("insert tombstone", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &entry, nil
}

// PurgeKey hard-removes every row for a key, including tombstones. The
// revision sequence row is retained so a purged key cannot resurrect at
// revision 1.
func (e *Engine) PurgeKey(ctx context.Context, t, bucket, key string) (int64, error) {
	var count int64
	err := e.db.WithTx(ctx, func(tx pgx.Tx) error {
		if err := tenant.Bind(ctx, tx, t); err != nil {
			return apperr.Fatal("bind tenant", err)
		}
		bucketID, err := e.lookupBucketID(ctx, tx, bucket)
		if err != nil {
			return err
		}
		tag, err := tx.Exec(ctx, `DELETE FROM kv_entries WHERE bucket_id = $1 AND key = $2`, bucketID, key)
		if err != nil {
			return apperr.Fatal("purge key", err)
		}
		count = tag.RowsAffected()
		return nil
	})
	return count, err
}

func scanEntry(row pgx.Row, entry *Entry) error {
	var deleted bool
	if err := row.Scan(&entry.ID, &entry.BucketID, &entry.Tenant, &entry.Key, &entry.Value, &entry.Revision, &deleted, &entry.CreatedAt, &entry.ExpiresAt); err != nil {
		return err
	}
	if deleted {
		entry.Operation = OpDelete
	} else {
		entry.Operation = OpPut
	}
	return nil
}

func scanEntryRows(rows pgx.Rows, entry *Entry) error {
	var deleted bool
	if err := rows.Scan(&entry.ID, &entry.BucketID, &entry.Tenant, &entry.Key, &entry.Value, &entry.Revision, &deleted, &entry.CreatedAt, &entry.ExpiresAt); err != nil {
		return err
	}
	if deleted {
		entry.Operation = OpDelete
	} else {
		entry.Operation = OpPut
	}
	return nil
}

