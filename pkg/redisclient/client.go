package redisclient

import (
	"github.com/redis/go-redis/v9"

	"schednotify/pkg/config"
)

// NewClient builds the shared Redis client used by the cache layer and the
// event bus transport. go-redis reconnects internally, so a Redis outage is
// observed as per-call errors rather than a dead client.
func NewClient(cfg config.RedisConfig) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
}
