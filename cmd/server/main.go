package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"fenrir/internal/cache"
	"fenrir/internal/config"
	"fenrir/internal/durable"
	"fenrir/internal/netproto"
	"fenrir/internal/registry"
)

func main() {
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}

	pool, err := pgxpool.New(ctx, cfg.Postgres.DSN)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to postgres")
	}
	defer pool.Close()

	coordinator := durable.NewPostgres(pool)
	if err := coordinator.Migrate(ctx); err != nil {
		log.Fatal().Err(err).Msg("failed to migrate durable schema")
	}

	var redisClient *redis.Client
	if cfg.Redis.Enabled() {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := redisClient.Ping(ctx).Err(); err != nil {
			log.Fatal().Err(err).Msg("failed to connect to redis")
		}
		defer redisClient.Close()
		log.Info().Str("addr", cfg.Redis.Addr).Msg("snapshot cache backed by redis")
	} else {
		log.Info().Msg("snapshot cache disabled, serving reads straight from memory")
	}

	// tcpServer is constructed before the registry because it is the
	// registry's fan-out sink (engine.Reporter); the handler and snapshot
	// cache sides of the dependency are wired back in once reg exists.
	tcpServer := netproto.New(cfg.TCP.Host, cfg.TCP.Port, nil, coordinator)
	reg := registry.New(coordinator, tcpServer)
	tcpServer.SetHandler(reg)

	log.Info().Msg("recovering open orders from durable storage")
	if err := reg.Recover(ctx); err != nil {
		log.Fatal().Err(err).Msg("failed to recover open orders")
	}

	snapshotTTL := time.Duration(cfg.Cache.SnapshotTTLSeconds) * time.Second
	tcpServer.SetSnapshots(cache.New(reg, redisClient, snapshotTTL))

	if err := tcpServer.Run(ctx); err != nil {
		log.Error().Err(err).Msg("server exited")
	}
}
