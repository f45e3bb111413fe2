package redis

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"meetsync/pkg/distributed"
)

const (
	schemaVersionKey     = keyPrefix + "schema:version"
	schemaLockKey        = keyPrefix + "schema:lock"
	currentSchemaVersion = 1
)

type Migration struct {
	Version int
	Up      func(ctx context.Context, client *redis.Client) error
}

// Migrate runs every migration newer than the stored schema version.
// Registry instances starting together serialise on a schema lock.
func Migrate(ctx context.Context, client *redis.Client, logger *zap.SugaredLogger) error {
	currentVersion, err := getSchemaVersion(ctx, client)
	if err != nil {
		return fmt.Errorf("failed to get schema version: %w", err)
	}
	if currentVersion >= currentSchemaVersion {
		if logger != nil {
			logger.Debugw("schema is up to date", "current_version", currentVersion)
		}
		return nil
	}

	lock := distributed.NewLock(client, schemaLockKey, 30*time.Second)
	if err := lock.Acquire(ctx, 10*time.Second); err != nil {
		return fmt.Errorf("failed to lock schema: %w", err)
	}
	defer func() {
		if err := lock.Release(context.WithoutCancel(ctx)); err != nil && logger != nil {
			logger.Warnw("failed to release schema lock", "error", err)
		}
	}()

	// Another instance may have migrated while we waited.
	if currentVersion, err = getSchemaVersion(ctx, client); err != nil {
		return fmt.Errorf("failed to get schema version: %w", err)
	}

	for _, migration := range getMigrations() {
		if migration.Version <= currentVersion {
			continue
		}
		if logger != nil {
			logger.Infow("running migration", "version", migration.Version)
		}
		if err := migration.Up(ctx, client); err != nil {
			return fmt.Errorf("migration %d failed: %w", migration.Version, err)
		}
		if err := client.Set(ctx, schemaVersionKey, migration.Version, 0).Err(); err != nil {
			return fmt.Errorf("failed to update schema version: %w", err)
		}
	}

	return nil
}

func getSchemaVersion(ctx context.Context, client *redis.Client) (int, error) {
	val, err := client.Get(ctx, schemaVersionKey).Int()
	if err == redis.Nil {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return val, nil
}

func getMigrations() []Migration {
	return []Migration{
		{
			// Rebuild the creation-ordered meeting index from the meeting hashes.
			Version: 1,
			Up: func(ctx context.Context, client *redis.Client) error {
				iter := client.Scan(ctx, 0, meetingKeyPrefix+"*", 100).Iterator()
				for iter.Next(ctx) {
					key := iter.Val()
					fields, err := client.HMGet(ctx, key, fieldID, fieldCreatedAt).Result()
					if err != nil {
						return err
					}
					id, _ := fields[0].(string)
					created, _ := fields[1].(string)
					if id == "" {
						continue
					}
					nanos, _ := strconv.ParseInt(created, 10, 64)
					score := float64(nanos / int64(time.Millisecond))
					if err := client.ZAdd(ctx, meetingIndexKey, redis.Z{Score: score, Member: id}).Err(); err != nil {
						return err
					}
				}
				return iter.Err()
			},
		},
	}
}
