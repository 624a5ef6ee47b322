// Package testutil provides a shared Postgres test container helper for
// integration tests across the kv, object and watch packages, grounded on
// the teacher's own setupPostgresContainer helper.
package testutil

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"kvstore.dev/kvstore/internal/db"
)

// StartPostgres launches a disposable postgres:16-alpine container, applies
// the schema migrations, and returns an open *db.DB plus a cleanup func.
func StartPostgres(t *testing.T) (*db.DB, func()) {
	t.Helper()
	database, _, cleanup := StartPostgresWithDSN(t)
	return database, cleanup
}

// StartPostgresWithDSN is StartPostgres but also returns the container's
// connection string, for callers (watch.Listener) that need to open their
// own dedicated connection rather than go through the pool.
func StartPostgresWithDSN(t *testing.T) (*db.DB, string, func()) {
	t.Helper()
	ctx := context.Background()

	container, err := tcpostgres.Run(ctx, "postgres:16-alpine",
		tcpostgres.WithDatabase("kvstore_test"),
		tcpostgres.WithUsername("kvstore"),
		tcpostgres.WithPassword("kvstore"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").WithOccurrence(2).WithStartupTimeout(60*time.Second),
		),
	)
	if err != nil {
		t.Fatalf("start postgres container: %v", err)
	}

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		t.Fatalf("connection string: %v", err)
	}

	if err := db.Migrate(ctx, dsn); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	database, err := db.New(ctx, dsn, 5)
	if err != nil {
		t.Fatalf("open db: %v", err)
	}

	cleanup := func() {
		database.Close()
		if err := container.Terminate(ctx); err != nil {
			fmt.Printf("terminate container: %v\n", err)
		}
	}
	return database, dsn, cleanup
}
