package redis

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	schemaVersionKey = keyPrefix + "schema:version"
)

// migration upgrades the key layout to version.
type migration struct {
	version int
	up      func(ctx context.Context, client *redis.Client) error
}

var migrations = []migration{
	{version: 1, up: rebuildRoomIndex},
}

// Migrate applies every migration newer than the stored schema version.
func Migrate(ctx context.Context, client *redis.Client, logger *zap.SugaredLogger) error {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}

	current, err := client.Get(ctx, schemaVersionKey).Int()
	if errors.Is(err, redis.Nil) {
		current = 0
	} else if err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}

	applied := 0
	for _, m := range migrations {
		if m.version <= current {
			continue
		}
		logger.Infow("Applying redis migration", "version", m.version)
		if err := m.up(ctx, client); err != nil {
			return fmt.Errorf("migration %d: %w", m.version, err)
		}
		if err := client.Set(ctx, schemaVersionKey, m.version, 0).Err(); err != nil {
			return fmt.Errorf("store schema version %d: %w", m.version, err)
		}
		applied++
	}

	logger.Debugw("Redis schema ready", "previous_version", current, "applied", applied)
	return nil
}

// rebuildRoomIndex adds every stored room hash to the rooms set.
func rebuildRoomIndex(ctx context.Context, client *redis.Client) error {
	iter := client.Scan(ctx, 0, keyPrefix+"room:*", 100).Iterator()
	for iter.Next(ctx) {
		key := iter.Val()
		if strings.HasSuffix(key, ":participants") || strings.HasSuffix(key, ":invites") {
			continue
		}
		id, err := client.HGet(ctx, key, "room_id").Result()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			return err
		}
		if err := client.SAdd(ctx, roomsIndexKey, id).Err(); err != nil {
			return err
		}
	}
	return iter.Err()
}
