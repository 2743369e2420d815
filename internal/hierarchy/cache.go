package hierarchy

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"accounting/internal/model"
)

// KV is the subset of the Redis client used by Cache.
type KV interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value any, expiration time.Duration) *redis.StatusCmd
}

// Cache keeps ancestor and subproject lists in Redis for a short TTL.
// Membership roles are always fetched from the directory.
type Cache struct {
	next   Directory
	kv     KV
	ttl    time.Duration
	logger *slog.Logger
}

func NewCache(next Directory, kv KV, ttl time.Duration, logger *slog.Logger) *Cache {
	if logger == nil {
		logger = slog.Default()
	}
	return &Cache{next: next, kv: kv, ttl: ttl, logger: logger}
}

func (c *Cache) Ancestors(ctx context.Context, projectID string) ([]string, error) {
	return c.list(ctx, "hierarchy:ancestors:"+projectID, func() ([]string, error) {
		return c.next.Ancestors(ctx, projectID)
	})
}

func (c *Cache) Subprojects(ctx context.Context, projectID string) ([]string, error) {
	return c.list(ctx, "hierarchy:subprojects:"+projectID, func() ([]string, error) {
		return c.next.Subprojects(ctx, projectID)
	})
}

func (c *Cache) MemberRole(ctx context.Context, projectID, username string) (model.ProjectRole, error) {
	return c.next.MemberRole(ctx, projectID, username)
}

func (c *Cache) list(ctx context.Context, key string, load func() ([]string, error)) ([]string, error) {
	cached, err := c.kv.Get(ctx, key).Result()
	switch {
	case err == nil:
		var ids []string
		if jsonErr := json.Unmarshal([]byte(cached), &ids); jsonErr == nil {
			return ids, nil
		}
		c.logger.Warn("hierarchy cache: dropping undecodable entry", "key", key)
	case !errors.Is(err, redis.Nil):
		c.logger.Warn("hierarchy cache: read failed, using directory", "key", key, "error", err)
	}

	ids, err := load()
	if err != nil {
		return nil, err
	}

	data, err := json.Marshal(ids)
	if err != nil {
		c.logger.Warn("hierarchy cache: encode failed", "key", key, "error", err)
		return ids, nil
	}
	if err := c.kv.Set(ctx, key, data, c.ttl).Err(); err != nil {
		c.logger.Warn("hierarchy cache: write failed", "key", key, "error", err)
	}
	return ids, nil
}
