package monitoring

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"

	"meetsync/internal/core/ports"
)

func (h *HealthChecker) AddRedisCheck(client *redis.Client, timeout time.Duration) {
	h.AddCheck("redis", func(ctx context.Context) error {
		return client.Ping(ctx).Err()
	}, timeout)
}

// AddRegistryCheck pings the registry's meeting store.
func (h *HealthChecker) AddRegistryCheck(registry ports.RegistryService, timeout time.Duration) {
	h.AddCheck("registry", registry.HealthCheck, timeout)
}
