// Package cache is a read-through cache fronting Registry.Snapshot,
// modeled on the redis wiring other services in the pack use in front of
// a read-mostly query surface. It is entirely optional: Registry already
// serves Snapshot correctly from memory, and a SnapshotCache built with a
// nil redis.Client just calls through to the registry. Get has no
// nil-receiver case: calling it on a nil *SnapshotCache panics.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"fenrir/internal/common"
	"fenrir/internal/registry"
)

// SnapshotCache wraps a Registry's Snapshot reads with a short-TTL redis
// entry. Book snapshots change on every match, so the TTL exists purely
// to absorb bursts of read traffic (market-data polling, UI refreshes)
// rather than to serve genuinely stale data for long.
type SnapshotCache struct {
	registry *registry.Registry
	client   *redis.Client
	ttl      time.Duration
}

func New(reg *registry.Registry, client *redis.Client, ttl time.Duration) *SnapshotCache {
	return &SnapshotCache{registry: reg, client: client, ttl: ttl}
}

// Get returns the cached snapshot for instrument/depth if one is fresh,
// otherwise computes it from the registry and populates the cache.
func (c *SnapshotCache) Get(ctx context.Context, instrument string, depth int) (registry.Snapshot, error) {
	if c.client == nil {
		return c.registry.Snapshot(common.Instrument(instrument), depth), nil
	}

	key := cacheKey(instrument, depth)
	if raw, err := c.client.Get(ctx, key).Bytes(); err == nil {
		var snap registry.Snapshot
		if jsonErr := json.Unmarshal(raw, &snap); jsonErr == nil {
			return snap, nil
		}
	} else if err != redis.Nil {
		log.Warn().Err(err).Str("key", key).Msg("cache: redis get failed, falling back to registry")
	}

	snap := c.registry.Snapshot(common.Instrument(instrument), depth)
	if raw, err := json.Marshal(snap); err == nil {
		if err := c.client.Set(ctx, key, raw, c.ttl).Err(); err != nil {
			log.Warn().Err(err).Str("key", key).Msg("cache: redis set failed")
		}
	}
	return snap, nil
}

func cacheKey(instrument string, depth int) string {
	return fmt.Sprintf("book:snapshot:%s:%d", instrument, depth)
}
