package repositories

import (
	"context"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"meetsync/internal/core/ports"
	"meetsync/internal/infrastructure/repositories/memory"
	redisrepo "meetsync/internal/infrastructure/repositories/redis"
	"meetsync/pkg/config"
)

// RepositoryFactory hands out Redis repositories when Redis is enabled and
// reachable, and in-memory ones otherwise.
type RepositoryFactory struct {
	useRedis    bool
	redisClient *redis.Client
	logger      *zap.SugaredLogger
}

func NewRepositoryFactory(cfg *config.Config, logger *zap.SugaredLogger) *RepositoryFactory {
	factory := &RepositoryFactory{
		useRedis: cfg.Redis.Enabled,
		logger:   logger,
	}

	if cfg.Redis.Enabled {
		client, err := redisrepo.NewRedisClient(
			cfg.Redis.Address,
			cfg.Redis.Password,
			cfg.Redis.DB,
			cfg.Redis.PoolSize,
			logger,
		)
		if err != nil {
			logger.Warnw("failed to connect to Redis, falling back to memory repositories",
				"error", err,
			)
			factory.useRedis = false
		} else {
			factory.redisClient = client
		}
	}

	logger.Infow("repositories selected", "redis", factory.useRedis)
	return factory
}

func (f *RepositoryFactory) CreateMeetingRepository() ports.MeetingRepository {
	if f.useRedis {
		return redisrepo.NewRedisMeetingRepository(f.redisClient)
	}
	return memory.NewMemoryMeetingRepository()
}

func (f *RepositoryFactory) CreateAuthorityRepository() ports.AuthorityRepository {
	if f.useRedis {
		return redisrepo.NewRedisAuthorityRepository(f.redisClient)
	}
	return memory.NewMemoryAuthorityRepository()
}

func (f *RepositoryFactory) CreateMetadataRepository() ports.MetadataRepository {
	if f.useRedis {
		return redisrepo.NewRedisMetadataRepository(f.redisClient)
	}
	return memory.NewMemoryMetadataRepository()
}

// RedisClient is nil when the factory fell back to memory.
func (f *RepositoryFactory) RedisClient() *redis.Client {
	return f.redisClient
}

func (f *RepositoryFactory) Close() error {
	return redisrepo.CloseRedisClient(f.redisClient)
}

func (f *RepositoryFactory) HealthCheck(ctx context.Context) error {
	if f.redisClient != nil {
		return f.redisClient.Ping(ctx).Err()
	}
	return nil
}
