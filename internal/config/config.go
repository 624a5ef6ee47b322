// Package config loads kvstore configuration from environment variables,
// the way config.EnvConfig does it in the ambient stack this service is
// built from: typed getters over os.Getenv with sensible defaults.
package config

import (
	"os"
	"strconv"
	"time"
)

// env retrieves a string value with a default.
func env(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func envInt64(key string, def int64) int64 {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			return n
		}
	}
	return def
}

func envDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

// Config is the full set of configuration the serve/migrate commands need.
type Config struct {
	// Database
	DBHost           string
	DBPort           int
	DBName           string
	DBUsername       string
	DBPassword       string
	DBSSLMode        string
	DBMaxConnections int

	// HTTP
	Port  int
	Debug bool

	// KV defaults
	KVMaxValueSize   int64
	KVMaxHistorySize int

	// Object store defaults
	ObjectChunkSize    int64
	ObjectMaxSize      int64
	ObjectStoreBackend string // "postgres" | "s3"

	// S3 backend (only used when ObjectStoreBackend == "s3")
	S3Bucket string
	S3Region string

	// Cache / distributed lock (optional accelerator)
	RedisURL string

	// Sweeper
	SweepInterval time.Duration

	// Watch
	WatchQueueSize int
}

// Load reads configuration from the process environment, matching the
// environment variables enumerated in the specification's external
// interfaces section.
func Load() Config {
	return Config{
		DBHost:           env("DB_HOST", "localhost"),
		DBPort:           envInt("DB_PORT", 5432),
		DBName:           env("DB_NAME", "kvstore"),
		DBUsername:       env("DB_USERNAME", "kvstore"),
		DBPassword:       env("DB_PASSWORD", ""),
		DBSSLMode:        env("DB_SSLMODE", "disable"),
		DBMaxConnections: envInt("DB_MAX_CONNECTIONS", 20),

		Port:  envInt("PORT", 8080),
		Debug: env("DEBUG", "") == "true",

		KVMaxValueSize:   envInt64("KV_MAX_VALUE_SIZE", 1<<20),    // 1 MiB
		KVMaxHistorySize: envInt("KV_MAX_HISTORY_SIZE", 64),

		ObjectChunkSize:    envInt64("OBJECTSTORE_CHUNK_SIZE", 1<<20),     // 1 MiB
		ObjectMaxSize:      envInt64("OBJECTSTORE_MAX_OBJECT_SIZE", 5<<30), // 5 GiB
		ObjectStoreBackend: env("OBJECTSTORE_BACKEND", "postgres"),

		S3Bucket: env("OBJECTSTORE_S3_BUCKET", ""),
		S3Region: env("OBJECTSTORE_S3_REGION", "us-east-1"),

		RedisURL: env("REDIS_URL", ""),

		SweepInterval: envDuration("SWEEP_INTERVAL", time.Hour),

		WatchQueueSize: envInt("WATCH_QUEUE_SIZE", 64),
	}
}

// PostgresDSN builds a libpq-style connection string for the pgx pool.
func (c Config) PostgresDSN() string {
	return "host=" + c.DBHost +
		" port=" + strconv.Itoa(c.DBPort) +
		" dbname=" + c.DBName +
		" user=" + c.DBUsername +
		" password=" + c.DBPassword +
		" sslmode=" + c.DBSSLMode
}
