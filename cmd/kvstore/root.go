package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"kvstore.dev/kvstore/internal/api"
	"kvstore.dev/kvstore/internal/cache"
	"kvstore.dev/kvstore/internal/config"
	"kvstore.dev/kvstore/internal/db"
	"kvstore.dev/kvstore/internal/httpserver"
	"kvstore.dev/kvstore/internal/kv"
	"kvstore.dev/kvstore/internal/logging"
	"kvstore.dev/kvstore/internal/object"
	"kvstore.dev/kvstore/internal/storage"
	"kvstore.dev/kvstore/internal/sweeper"
	"kvstore.dev/kvstore/internal/version"
	"kvstore.dev/kvstore/internal/watch"
	"kvstore.dev/kvstore/internal/wsapi"
)

var rootCmd = &cobra.Command{
	Use:   "kvstore",
	Short: "a tenant-aware key-value and object store over PostgreSQL",
	Long: `kvstore serves a bucketed key-value store (revisioned, CAS, TTL) and a
chunked content-addressed object store over a single PostgreSQL database,
with live subscriptions over WebSocket fed by LISTEN/NOTIFY.

Configuration is read from the environment (DB_HOST, DB_PORT, PORT,
OBJECTSTORE_BACKEND, REDIS_URL, ...); see internal/config for the full list.`,
}

func init() {
	rootCmd.PersistentFlags().Int("port", 0, "HTTP port (overrides PORT env var)")
	viper.BindPFlag("port", rootCmd.PersistentFlags().Lookup("port"))
	viper.AutomaticEnv()

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(migrateCmd)
	rootCmd.AddCommand(versionCmd)
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "run the HTTP and WebSocket server",
	Run:   runServe,
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "apply database migrations and exit",
	Run:   runMigrate,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "print build and dependency information",
	Run: func(cmd *cobra.Command, args []string) {
		bi := version.GetBuildInfo()
		fmt.Printf("kvstore %s (%s)\n", bi.MainVersion, bi.GoVersion)
	},
}

func runMigrate(cmd *cobra.Command, args []string) {
	cfg := config.Load()
	ctx := context.Background()
	if err := db.Migrate(ctx, cfg.PostgresDSN()); err != nil {
		log.Fatalf("migration failed: %v", err)
	}
	fmt.Println("migrations applied")
}

func runServe(cmd *cobra.Command, args []string) {
	cfg := config.Load()
	if p := viper.GetInt("port"); p != 0 {
		cfg.Port = p
	}

	logLevel := logging.LevelInfo
	if cfg.Debug {
		logLevel = logging.LevelDebug
	}
	baseLogger := logging.New(logging.Config{Level: logLevel, Format: "json"})
	log := logging.WithService(baseLogger, "kvstore")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	database, err := db.New(ctx, cfg.PostgresDSN(), int32(cfg.DBMaxConnections))
	if err != nil {
		log.WithError(err).Error("connect to database")
		os.Exit(1)
	}
	defer database.Close()

	if err := db.Migrate(ctx, cfg.PostgresDSN()); err != nil {
		log.WithError(err).Error("apply migrations")
		os.Exit(1)
	}

	kvEngine := kv.New(database, log)
	objEngine := object.New(database, log)

	if cfg.ObjectStoreBackend == "s3" {
		if cfg.S3Bucket == "" {
			log.Error("OBJECTSTORE_BACKEND=s3 requires OBJECTSTORE_S3_BUCKET")
			os.Exit(1)
		}
		s3Backend, err := storage.NewS3Backend(ctx, cfg.S3Bucket, cfg.S3Region)
		if err != nil {
			log.WithError(err).Error("configure s3 backend")
			os.Exit(1)
		}
		objEngine.SetBackend(s3Backend)
	}

	var c cache.Cache
	if cfg.RedisURL != "" {
		redisCache, err := cache.NewRedisCache(ctx, cfg.RedisURL)
		if err != nil {
			log.WithError(err).Error("connect to redis")
			os.Exit(1)
		}
		c = redisCache
	} else {
		c = cache.NewLocalCache()
	}
	defer c.Close()

	registry := watch.NewRegistry(0)
	if err := seedRegistry(ctx, database, kvEngine, objEngine, registry); err != nil {
		log.WithError(err).Warn("seed watch registry bucket cache")
	}

	listener := watch.NewListener(cfg.PostgresDSN(), registry, log)
	listener.Start(ctx)
	defer listener.Stop()

	sw := sweeper.New(database, c, log, cfg.SweepInterval)
	sw.Start(ctx)
	defer sw.Stop()

	httpCfg := httpserver.DefaultConfig()
	e := httpserver.New(httpCfg, log)
	api.Register(e, &api.Handlers{KV: kvEngine, Objects: objEngine, Registry: registry})
	wsapi.New(registry, database, log, cfg.WatchQueueSize).Register(e)

	log.Infof("kv max value size %s, object chunk size %s, object max size %s",
		humanize.Bytes(uint64(cfg.KVMaxValueSize)), humanize.Bytes(uint64(cfg.ObjectChunkSize)), humanize.Bytes(uint64(cfg.ObjectMaxSize)))

	addr := fmt.Sprintf(":%d", cfg.Port)

	sigCtx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := httpserver.Start(sigCtx, e, addr, httpCfg, log); err != nil {
		log.WithError(err).Error("http server exited with error")
		os.Exit(1)
	}
}

// seedRegistry primes the watch registry's bucket id→name cache so the
// LISTEN/NOTIFY dispatcher can resolve bucket ids on its very first event
// without racing a fresh CreateBucket call.
func seedRegistry(ctx context.Context, database *db.DB, kvEngine *kv.Engine, objEngine *object.Engine, registry *watch.Registry) error {
	kvBuckets, err := kvEngine.ListBuckets(ctx, "")
	if err != nil {
		return err
	}
	for _, b := range kvBuckets {
		registry.SeedBucket(b.ID, b.Name)
	}
	objBuckets, err := objEngine.ListBuckets(ctx, "")
	if err != nil {
		return err
	}
	for _, b := range objBuckets {
		registry.SeedBucket(b.ID, b.Name)
	}
	return nil
}
