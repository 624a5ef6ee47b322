package storage

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"kvstore.dev/kvstore/internal/apperr"
	"kvstore.dev/kvstore/internal/db"
	"kvstore.dev/kvstore/internal/tenant"
)

// PostgresBackend stores whole objects as single rows in storage_blobs. The
// server does not install it as the object engine's backend: buckets whose
// backend column is "postgres" go through the chunked pipeline instead.
type PostgresBackend struct {
	db *db.DB
}

// NewPostgresBackend builds a PostgresBackend over an open database handle.
func NewPostgresBackend(database *db.DB) *PostgresBackend {
	return &PostgresBackend{db: database}
}

func tenantArg(t string) interface{} {
	if t == "" {
		return nil
	}
	return t
}

func (p *PostgresBackend) Put(ctx context.Context, t, bucket, key string, data []byte, contentType string) error {
	return p.db.WithTx(ctx, func(tx pgx.Tx) error {
		if err := tenant.Bind(ctx, tx, t); err != nil {
			return apperr.Fatal("bind tenant", err)
		}
		_, err := tx.Exec(ctx, `
			INSERT INTO storage_blobs (tenant, bucket_name, object_key, content_type, data)
			VALUES ($1, $2, $3, $4, $5)
			ON CONFLICT (COALESCE(tenant, ''), bucket_name, object_key) DO UPDATE SET content_type = $4, data = $5, created_at = now()`,
			tenantArg(t), bucket, key, contentType, data)
		if err != nil {
			return apperr.Fatal("put blob", err)
		}
		return nil
	})
}

func (p *PostgresBackend) Get(ctx context.Context, t, bucket, key string) ([]byte, error) {
	var data []byte
	err := p.db.WithTx(ctx, func(tx pgx.Tx) error {
		if err := tenant.Bind(ctx, tx, t); err != nil {
			return apperr.Fatal("bind tenant", err)
		}
		err := tx.QueryRow(ctx, `SELECT data FROM storage_blobs WHERE bucket_name = $1 AND object_key = $2`, bucket, key).Scan(&data)
		if err == pgx.ErrNoRows {
			return apperr.NotFound(fmt.Sprintf("object %q not found", key))
		}
		if err != nil {
			return apperr.Fatal("get blob", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return data, nil
}

func (p *PostgresBackend) GetRange(ctx context.Context, t, bucket, key string, offset, length int64) ([]byte, error) {
	data, err := p.Get(ctx, t, bucket, key)
	if err != nil {
		return nil, err
	}
	if offset < 0 || offset >= int64(len(data)) {
		return nil, apperr.New(apperr.KindUnsatisfiable, fmt.Sprintf("range not satisfiable for object of size %d", len(data)))
	}
	end := offset + length
	if length < 0 || end > int64(len(data)) {
		end = int64(len(data))
	}
	return data[offset:end], nil
}

func (p *PostgresBackend) Delete(ctx context.Context, t, bucket, key string) error {
	return p.db.WithTx(ctx, func(tx pgx.Tx) error {
		if err := tenant.Bind(ctx, tx, t); err != nil {
			return apperr.Fatal("bind tenant", err)
		}
		_, err := tx.Exec(ctx, `DELETE FROM storage_blobs WHERE bucket_name = $1 AND object_key = $2`, bucket, key)
		if err != nil {
			return apperr.Fatal("delete blob", err)
		}
		return nil
	})
}
