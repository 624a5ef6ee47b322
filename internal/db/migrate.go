package db

import (
	"context"
	_ "embed"
	"fmt"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

//go:embed migrations/0001_schema.sql
var schemaSQL string

//go:embed migrations/0002_storage_blobs.sql
var storageBlobsSQL string

// gormBucket is the throwaway kv_buckets_bootstrap table that Migrate
// AutoMigrates and then drops; none of the real tables come from it.
type gormBucket struct {
	ID   int64 `gorm:"primaryKey"`
	Name string
}

func (gormBucket) TableName() string { return "kv_buckets_bootstrap" }

// Migrate runs the bootstrap AutoMigrate pass followed by the embedded raw
// SQL schema. The bootstrap table is a throwaway used only to exercise
// gorm's connection handling the way db.PGMigrations did in the ambient
// stack this service descends from; the real tables are created entirely
// by the embedded SQL, which is the only thing expressive enough for RLS,
// triggers and hash partitioning.
func Migrate(ctx context.Context, dsn string) error {
	gdb, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return fmt.Errorf("gorm open: %w", err)
	}
	sqlDB, err := gdb.DB()
	if err != nil {
		return fmt.Errorf("gorm underlying db: %w", err)
	}
	defer sqlDB.Close()

	if err := gdb.AutoMigrate(&gormBucket{}); err != nil {
		return fmt.Errorf("bootstrap automigrate: %w", err)
	}
	// The bootstrap table exists only to prove connectivity/migration
	// privileges before the real schema lands; drop it immediately.
	if err := gdb.Migrator().DropTable(&gormBucket{}); err != nil {
		return fmt.Errorf("drop bootstrap table: %w", err)
	}

	conn, err := sqlDB.Conn(ctx)
	if err != nil {
		return fmt.Errorf("acquire conn: %w", err)
	}
	defer conn.Close()

	if _, err := conn.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	if _, err := conn.ExecContext(ctx, storageBlobsSQL); err != nil {
		return fmt.Errorf("apply storage blobs schema: %w", err)
	}
	return nil
}
