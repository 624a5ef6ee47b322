package watch

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"

	"kvstore.dev/kvstore/internal/apperr"
	"kvstore.dev/kvstore/internal/db"
	"kvstore.dev/kvstore/internal/tenant"
)

// replayCap bounds how much history a single key replays before live
// delivery starts, per the fixed cap in the fan-out design.
const replayCap = 100

// ReplayKey fetches a key's history (revision > since, capped), oldest
// first, and feeds it directly to sub ahead of live delivery. Receivers
// must be idempotent by (bucket, key, revision) since gaps between replay
// end and live start can duplicate events.
func ReplayKey(ctx context.Context, database *db.DB, t, bucket, key string, since int64, sub *Subscriber) error {
	bucketID, err := lookupBucketID(ctx, database, t, bucket)
	if err != nil {
		return err
	}

	return database.WithTx(ctx, func(tx pgx.Tx) error {
		if err := tenant.Bind(ctx, tx, t); err != nil {
			return apperr.Fatal("bind tenant", err)
		}
		rows, err := tx.Query(ctx, `
			SELECT key, revision, value, deleted, created_at
			FROM kv_entries
			WHERE bucket_id = $1 AND key = $2 AND revision > $3
			ORDER BY revision ASC LIMIT $4`, bucketID, key, since, replayCap)
		if err != nil {
			return apperr.Fatal("replay query", err)
		}
		defer rows.Close()

		for rows.Next() {
			var k string
			var revision int64
			var value []byte
			var deleted bool
			var createdAt time.Time
			if err := rows.Scan(&k, &revision, &value, &deleted, &createdAt); err != nil {
				return apperr.Fatal("scan replay row", err)
			}
			evtType := EventPut
			if deleted {
				evtType = EventDelete
			}
			sub.offer(Event{
				Type:      evtType,
				Tenant:    t,
				Bucket:    bucket,
				Key:       k,
				Value:     value,
				Revision:  revision,
				Timestamp: createdAt,
			})
		}
		return rows.Err()
	})
}

// ReplayBucket replays every key in a bucket, used for bucket-scope
// subscriptions.
func ReplayBucket(ctx context.Context, database *db.DB, t, bucket string, since int64, sub *Subscriber) error {
	bucketID, err := lookupBucketID(ctx, database, t, bucket)
	if err != nil {
		return err
	}

	var keys []string
	err = database.WithTx(ctx, func(tx pgx.Tx) error {
		if err := tenant.Bind(ctx, tx, t); err != nil {
			return apperr.Fatal("bind tenant", err)
		}
		rows, err := tx.Query(ctx, `SELECT DISTINCT key FROM kv_entries WHERE bucket_id = $1`, bucketID)
		if err != nil {
			return apperr.Fatal("replay key list", err)
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
		return err
	}

	for _, k := range keys {
		if err := ReplayKey(ctx, database, t, bucket, k, since, sub); err != nil {
			return err
		}
	}
	return nil
}

func lookupBucketID(ctx context.Context, database *db.DB, t, name string) (string, error) {
	var id string
	err := database.WithTx(ctx, func(tx pgx.Tx) error {
		if err := tenant.Bind(ctx, tx, t); err != nil {
			return apperr.Fatal("bind tenant", err)
		}
		err := tx.QueryRow(ctx, `SELECT id FROM kv_buckets WHERE name = $1`, name).Scan(&id)
		if err == pgx.ErrNoRows {
			return apperr.NotFound("bucket not found")
		}
		return err
	})
	return id, err
}
