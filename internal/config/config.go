// Package config loads runtime configuration from the environment (and
// an optional .env file via godotenv), the same shape the rest of the
// pack uses rather than a flag-based or YAML-based loader.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

const (
	defaultEnv         = "development"
	defaultTCPHost     = "0.0.0.0"
	defaultTCPPort     = 9001
	defaultRedisAddr   = ""
	defaultRedisDB     = 0
	defaultSnapshotTTL = 2
	defaultRecvWorkers = 32
)

// Config keeps the runtime configuration for the matching engine process.
type Config struct {
	Env      string
	TCP      TCPConfig
	Postgres PostgresConfig
	Redis    RedisConfig
	Cache    CacheConfig
}

// TCPConfig holds the netproto listener's settings.
type TCPConfig struct {
	Host    string
	Port    int
	Workers int
}

// Addr renders the listen address in host:port form.
func (t TCPConfig) Addr() string {
	return fmt.Sprintf("%s:%d", t.Host, t.Port)
}

// PostgresConfig stores the durability coordinator's connection string.
type PostgresConfig struct {
	DSN string
}

// RedisConfig stores the snapshot cache's connection parameters. Addr
// empty means the cache is disabled and Registry.Snapshot is served
// straight from memory.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// CacheConfig stores cache behavior.
type CacheConfig struct {
	SnapshotTTLSeconds int
}

func (r RedisConfig) Enabled() bool { return r.Addr != "" }

// Load builds Config from the environment, first loading a .env file from
// the working directory if one is present (missing is not an error — it's
// only a convenience for local runs, not a requirement in production).
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("config: load .env: %w", err)
	}

	port, err := getInt("TCP_PORT", defaultTCPPort)
	if err != nil {
		return nil, fmt.Errorf("config: parse TCP_PORT: %w", err)
	}
	workers, err := getInt("TCP_WORKERS", defaultRecvWorkers)
	if err != nil {
		return nil, fmt.Errorf("config: parse TCP_WORKERS: %w", err)
	}

	dsn := os.Getenv("DATABASE_DSN")
	if dsn == "" {
		return nil, errors.New("config: DATABASE_DSN is required")
	}

	redisDB, err := getInt("REDIS_DB", defaultRedisDB)
	if err != nil {
		return nil, fmt.Errorf("config: parse REDIS_DB: %w", err)
	}
	snapshotTTL, err := getInt("CACHE_SNAPSHOT_TTL_SECONDS", defaultSnapshotTTL)
	if err != nil {
		return nil, fmt.Errorf("config: parse CACHE_SNAPSHOT_TTL_SECONDS: %w", err)
	}

	return &Config{
		Env: getString("APP_ENV", defaultEnv),
		TCP: TCPConfig{
			Host:    getString("TCP_HOST", defaultTCPHost),
			Port:    port,
			Workers: workers,
		},
		Postgres: PostgresConfig{DSN: dsn},
		Redis: RedisConfig{
			Addr:     getString("REDIS_ADDR", defaultRedisAddr),
			Password: os.Getenv("REDIS_PASSWORD"),
			DB:       redisDB,
		},
		Cache: CacheConfig{SnapshotTTLSeconds: snapshotTTL},
	}, nil
}

func getString(key, fallback string) string {
	value, ok := os.LookupEnv(key)
	if !ok || value == "" {
		return fallback
	}
	return value
}

func getInt(key string, fallback int) (int, error) {
	value, ok := os.LookupEnv(key)
	if !ok || value == "" {
		return fallback, nil
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("convert %s value %q to int: %w", key, value, err)
	}
	return parsed, nil
}
