package ledger

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/rapidaai/speechgw/internal/logging"
)

// Cache is a read-through cache over the (task_type, tariff) capability
// mapping, which changes rarely compared to how often allocate reads it.
type Cache struct {
	logger logging.Logger
	rdb    *redis.Client
	ttl    time.Duration
}

// NewCache wires a Cache over an existing redis client.
func NewCache(logger logging.Logger, rdb *redis.Client, ttl time.Duration) *Cache {
	return &Cache{logger: logger, rdb: rdb, ttl: ttl}
}

func cacheKey(taskType TaskType, tariff string) string {
	return "speechgw:capabilities:" + string(taskType) + ":" + tariff
}

// Capabilities returns the cached capability set for (taskType, tariff),
// falling back to load on a miss. Cache errors are logged and treated as
// a miss — the cache is an optimization, never a correctness dependency.
func (c *Cache) Capabilities(ctx context.Context, taskType TaskType, tariff string, load func(ctx context.Context) ([]Capability, error)) ([]Capability, error) {
	key := cacheKey(taskType, tariff)

	if cached, err := c.rdb.Get(ctx, key).Result(); err == nil {
		var caps []Capability
		if jsonErr := json.Unmarshal([]byte(cached), &caps); jsonErr == nil {
			return caps, nil
		}
	} else if err != redis.Nil {
		c.logger.Debugf("ledger: capability cache read failed, falling back to store: %v", err)
	}

	caps, err := load(ctx)
	if err != nil {
		return nil, err
	}

	if encoded, err := json.Marshal(caps); err == nil {
		if err := c.rdb.Set(ctx, key, encoded, c.ttl).Err(); err != nil {
			c.logger.Debugf("ledger: capability cache write failed: %v", err)
		}
	}
	return caps, nil
}

// Invalidate drops the cached entry for (taskType, tariff), used after an
// operator updates the capability mapping.
func (c *Cache) Invalidate(ctx context.Context, taskType TaskType, tariff string) error {
	return c.rdb.Del(ctx, cacheKey(taskType, tariff)).Err()
}
