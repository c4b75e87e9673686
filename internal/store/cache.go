package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/mnemo-ai/mnemo/internal/domain"
)

// RedisCache is the ephemeral tier: hot profile payloads, the short-term
// memory layer, daily activity sets, and the per-user namespace counter.
//
// Profile keys embed the namespace version (profile:{user}:v{n}); bumping
// the counter orphans every old key at once, so invalidation never has to
// enumerate keys. Orphans age out via TTL.
type RedisCache struct {
	rdb *redis.Client
}

func NewRedisCache(rdb *redis.Client) *RedisCache {
	return &RedisCache{rdb: rdb}
}

const (
	opTimeout   = 3 * time.Second
	activityTTL = 48 * time.Hour
)

func nsKey(userID string) string { return "mem:ns:" + userID }

func (c *RedisCache) namespace(ctx context.Context, userID string) (int64, error) {
	v, err := c.rdb.Get(ctx, nsKey(userID)).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	return v, err
}

func (c *RedisCache) profileKey(ctx context.Context, userID string) (string, error) {
	ns, err := c.namespace(ctx, userID)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("profile:%s:v%d", userID, ns), nil
}

func (c *RedisCache) GetProfile(ctx context.Context, userID string) ([]byte, bool, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	key, err := c.profileKey(ctx, userID)
	if err != nil {
		return nil, false, err
	}
	payload, err := c.rdb.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("cache get profile: %w", err)
	}
	return payload, true, nil
}

func (c *RedisCache) SetProfile(ctx context.Context, userID string, payload []byte, ttl time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	key, err := c.profileKey(ctx, userID)
	if err != nil {
		return err
	}
	if err := c.rdb.Set(ctx, key, payload, ttl).Err(); err != nil {
		return fmt.Errorf("cache set profile: %w", err)
	}
	return nil
}

func (c *RedisCache) BumpNamespace(ctx context.Context, userID string) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	if err := c.rdb.Incr(ctx, nsKey(userID)).Err(); err != nil {
		return fmt.Errorf("bump namespace: %w", err)
	}
	return nil
}

func shortTermKey(userID, memoryID string) string {
	return fmt.Sprintf("memory:short-term:%s:%s", userID, memoryID)
}

func (c *RedisCache) SetShortTerm(ctx context.Context, m *domain.Memory, ttl time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	payload, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("marshal short-term memory: %w", err)
	}
	if err := c.rdb.Set(ctx, shortTermKey(m.UserID, m.ID), payload, ttl).Err(); err != nil {
		return fmt.Errorf("cache set short-term: %w", err)
	}
	return nil
}

func (c *RedisCache) DeleteShortTerm(ctx context.Context, userID, memoryID string) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	if err := c.rdb.Del(ctx, shortTermKey(userID, memoryID)).Err(); err != nil {
		return fmt.Errorf("cache delete short-term: %w", err)
	}
	return nil
}

func activityKey(day string) string { return "recent_users:" + day }

func (c *RedisCache) TouchActivity(ctx context.Context, userID, day string) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	key := activityKey(day)
	pipe := c.rdb.Pipeline()
	pipe.SAdd(ctx, key, userID)
	pipe.Expire(ctx, key, activityTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("touch activity: %w", err)
	}
	return nil
}

func (c *RedisCache) ActiveUsers(ctx context.Context, day string) ([]string, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	users, err := c.rdb.SMembers(ctx, activityKey(day)).Result()
	if err != nil {
		return nil, fmt.Errorf("active users: %w", err)
	}
	return users, nil
}

func (c *RedisCache) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()
	return c.rdb.Ping(ctx).Err()
}
