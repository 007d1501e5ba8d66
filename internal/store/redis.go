package store

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/mosaicgrid/mosaic/pkg/canvas"
)

// RedisBackend persists each tile as one Redis hash (field per pixel key,
// JSON record per value) plus a set of known tile coordinates for discovery.
// All keys are namespaced by instance name so multiple Mosaic instances can
// share a Redis server.
type RedisBackend struct {
	rdb          *redis.Client
	instanceName string
}

// NewRedisBackend creates a Redis-backed tile store for the given instance.
// Returns an error if instanceName is empty.
func NewRedisBackend(redisOpts *redis.Options, instanceName string) (*RedisBackend, error) {
	if instanceName == "" {
		return nil, fmt.Errorf("instance name cannot be empty")
	}
	return &RedisBackend{
		rdb:          redis.NewClient(redisOpts),
		instanceName: instanceName,
	}, nil
}

// Ping verifies Redis connectivity. Useful for startup health checks.
func (b *RedisBackend) Ping(ctx context.Context) error {
	return b.rdb.Ping(ctx).Err()
}

// Close closes the Redis connection.
func (b *RedisBackend) Close() error {
	return b.rdb.Close()
}

// LoadTile reads a tile's pixel hash. An empty hash is ambiguous between
// "never saved" and "saved with no pixels", so membership in the tile index
// set decides: indexed tiles load as empty, unindexed return ErrTileNotFound.
func (b *RedisBackend) LoadTile(ctx context.Context, id canvas.Coord) (map[string]canvas.PixelRecord, error) {
	key := canvas.TileKey(b.instanceName, id.Key())

	hash, err := b.rdb.HGetAll(ctx, key).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read tile %s from Redis: %w", id.Key(), err)
	}

	if len(hash) == 0 {
		known, err := b.rdb.SIsMember(ctx, canvas.TileIndexKey(b.instanceName), id.Key()).Result()
		if err != nil {
			return nil, fmt.Errorf("failed to check tile index for %s: %w", id.Key(), err)
		}
		if !known {
			return nil, ErrTileNotFound
		}
		return map[string]canvas.PixelRecord{}, nil
	}

	pixels, err := canvas.HashToPixels(hash)
	if err != nil {
		return nil, fmt.Errorf("failed to deserialize tile %s: %w", id.Key(), err)
	}
	return pixels, nil
}

// SaveTile replaces the tile's persisted hash with the snapshot, adds the
// tile to the index set, and publishes the coordinate key on the tile events
// channel so out-of-process observers can follow activity.
func (b *RedisBackend) SaveTile(ctx context.Context, id canvas.Coord, pixels map[string]canvas.PixelRecord) error {
	hash, err := canvas.PixelsToHash(pixels)
	if err != nil {
		return fmt.Errorf("failed to serialize tile %s: %w", id.Key(), err)
	}

	key := canvas.TileKey(b.instanceName, id.Key())
	_, err = b.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, key)
		if len(hash) > 0 {
			pipe.HSet(ctx, key, hash)
		}
		pipe.SAdd(ctx, canvas.TileIndexKey(b.instanceName), id.Key())
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to write tile %s to Redis: %w", id.Key(), err)
	}

	if err := b.rdb.Publish(ctx, canvas.TileEventsChannel(b.instanceName), id.Key()).Err(); err != nil {
		return fmt.Errorf("failed to publish tile event for %s: %w", id.Key(), err)
	}

	return nil
}

// ListTileIDs returns the coordinate keys in the tile index set.
func (b *RedisBackend) ListTileIDs(ctx context.Context) ([]string, error) {
	ids, err := b.rdb.SMembers(ctx, canvas.TileIndexKey(b.instanceName)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list tiles from Redis: %w", err)
	}
	return ids, nil
}
