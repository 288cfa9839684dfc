package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"levelup/internal/tracker"
	"levelup/pkg/metrics"
)

// RedisSnapshotCache 把最近一次成功的快照以 JSON 形式存到 Redis
type RedisSnapshotCache struct {
	rdb    redis.Cmdable
	key    string
	ttl    time.Duration
	logger *zap.Logger
}

func NewRedisSnapshotCache(rdb redis.Cmdable, key string, ttl time.Duration, logger *zap.Logger) *RedisSnapshotCache {
	if key == "" {
		key = "levelup:snapshot"
	}
	return &RedisSnapshotCache{
		rdb:    rdb,
		key:    key,
		ttl:    ttl,
		logger: logger,
	}
}

type cachedSnapshot struct {
	tracker.Snapshot
	SavedAt time.Time `json:"saved_at"`
}

func (c *RedisSnapshotCache) Save(ctx context.Context, snap tracker.Snapshot) error {
	b, err := json.Marshal(cachedSnapshot{Snapshot: snap, SavedAt: time.Now()})
	if err != nil {
		metrics.IncrementSnapshotCache("save", "error")
		return fmt.Errorf("encode snapshot: %w", err)
	}
	if err := c.rdb.Set(ctx, c.key, b, c.ttl).Err(); err != nil {
		metrics.IncrementSnapshotCache("save", "error")
		return fmt.Errorf("save snapshot to redis: %w", err)
	}
	metrics.IncrementSnapshotCache("save", "ok")
	return nil
}

func (c *RedisSnapshotCache) Load(ctx context.Context) (tracker.Snapshot, bool, error) {
	b, err := c.rdb.Get(ctx, c.key).Bytes()
	if errors.Is(err, redis.Nil) {
		metrics.IncrementSnapshotCache("load", "miss")
		return tracker.Snapshot{}, false, nil
	}
	if err != nil {
		metrics.IncrementSnapshotCache("load", "error")
		return tracker.Snapshot{}, false, fmt.Errorf("load snapshot from redis: %w", err)
	}

	var cached cachedSnapshot
	if err := json.Unmarshal(b, &cached); err != nil {
		metrics.IncrementSnapshotCache("load", "error")
		return tracker.Snapshot{}, false, fmt.Errorf("decode snapshot: %w", err)
	}

	metrics.IncrementSnapshotCache("load", "hit")
	c.logger.Debug("Loaded cached snapshot",
		zap.String("key", c.key),
		zap.Time("saved_at", cached.SavedAt),
	)
	return cached.Snapshot, true, nil
}

// Clear 删除缓存的快照
func (c *RedisSnapshotCache) Clear(ctx context.Context) error {
	return c.rdb.Del(ctx, c.key).Err()
}
