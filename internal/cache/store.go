// Package cache is a best-effort accelerator and short-lived state store on
// Redis. It is never a source of truth: every operation degrades to a miss or
// no-op when Redis is unreachable, and callers must treat that as a cache
// miss, not an error.
package cache

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

type Store struct {
	rdb    *redis.Client
	logger *zap.Logger
}

func NewStore(rdb *redis.Client, logger *zap.Logger) *Store {
	return &Store{rdb: rdb, logger: logger}
}

// Get returns the value and true on a hit. Unreachable Redis reads as a miss.
func (s *Store) Get(ctx context.Context, key string) (string, bool) {
	val, err := s.rdb.Get(ctx, key).Result()
	if err == redis.Nil {
		return "", false
	}
	if err != nil {
		s.logger.Warn("Cache get failed, treating as miss",
			zap.String("key", key),
			zap.Error(err),
		)
		return "", false
	}
	return val, true
}

// Set stores a value with a TTL. Returns false when the write did not happen.
func (s *Store) Set(ctx context.Context, key, value string, ttl time.Duration) bool {
	if err := s.rdb.Set(ctx, key, value, ttl).Err(); err != nil {
		s.logger.Warn("Cache set failed",
			zap.String("key", key),
			zap.Error(err),
		)
		return false
	}
	return true
}

// Delete removes a single key. Returns false when the delete did not happen.
func (s *Store) Delete(ctx context.Context, key string) bool {
	if err := s.rdb.Del(ctx, key).Err(); err != nil {
		s.logger.Warn("Cache delete failed",
			zap.String("key", key),
			zap.Error(err),
		)
		return false
	}
	return true
}

// DeletePattern removes every key matching a glob pattern and returns how
// many were deleted. Uses SCAN rather than KEYS so invalidation never stalls
// the shared Redis instance.
func (s *Store) DeletePattern(ctx context.Context, pattern string) int {
	var deleted int
	var cursor uint64

	for {
		keys, next, err := s.rdb.Scan(ctx, cursor, pattern, 100).Result()
		if err != nil {
			s.logger.Warn("Cache pattern scan failed",
				zap.String("pattern", pattern),
				zap.Error(err),
			)
			return deleted
		}

		if len(keys) > 0 {
			n, err := s.rdb.Del(ctx, keys...).Result()
			if err != nil {
				s.logger.Warn("Cache pattern delete failed",
					zap.String("pattern", pattern),
					zap.Error(err),
				)
				return deleted
			}
			deleted += int(n)
		}

		cursor = next
		if cursor == 0 {
			return deleted
		}
	}
}
