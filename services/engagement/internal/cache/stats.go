package cache

import (
	"context"

	"go.uber.org/zap"

	"github.com/example/blog-platform/services/engagement/internal/domain"
)

const statsKeyPrefix = "engagement:stats:"

// StatsKey is the Redis key holding the cached stats of userID.
func StatsKey(userID string) string { return statsKeyPrefix + userID }

// StatsCache stores user stats payloads in Redis. Every failure is logged
// and reported as a miss; the cache never fails a request.
type StatsCache struct {
	Redis *RedisCache
	Log   *zap.Logger
}

func NewStatsCache(r *RedisCache, log *zap.Logger) *StatsCache {
	if log == nil {
		log = zap.NewNop()
	}
	return &StatsCache{Redis: r, Log: log}
}

func (c *StatsCache) Get(ctx context.Context, userID string) (domain.Stats, bool) {
	var st domain.Stats
	ok, err := c.Redis.Get(ctx, StatsKey(userID), &st)
	if err != nil {
		c.Log.Debug("stats cache: get failed", zap.String("user_id", userID), zap.Error(err))
		return domain.Stats{}, false
	}
	return st, ok
}

func (c *StatsCache) Set(ctx context.Context, userID string, st domain.Stats) {
	if err := c.Redis.Set(ctx, StatsKey(userID), st); err != nil {
		c.Log.Debug("stats cache: set failed", zap.String("user_id", userID), zap.Error(err))
	}
}

func (c *StatsCache) Invalidate(ctx context.Context, userID string) {
	if err := c.Redis.Delete(ctx, StatsKey(userID)); err != nil {
		c.Log.Warn("stats cache: invalidate failed", zap.String("user_id", userID), zap.Error(err))
	}
}
