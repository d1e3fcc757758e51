package permission

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// CacheTTL is the default time-to-live for cached override sets.
const CacheTTL = 300 * time.Second

// cachePrefix is the key prefix for cached overrides in Valkey.
const cachePrefix = "perms:overrides"

func cacheKey(groupID uuid.UUID) string {
	return cachePrefix + ":" + groupID.String()
}

// Cache provides get/set/invalidate operations for resolved per-group overrides, avoiding a
// Store round-trip on every permission check.
type Cache interface {
	Get(ctx context.Context, groupID uuid.UUID) (Overrides, bool, error)
	Set(ctx context.Context, groupID uuid.UUID, overrides Overrides) error
	Invalidate(ctx context.Context, groupID uuid.UUID) error
}

// ValkeyCache implements Cache using Valkey/Redis.
type ValkeyCache struct {
	client *redis.Client
}

// NewValkeyCache creates a new Valkey-backed override cache.
func NewValkeyCache(client *redis.Client) *ValkeyCache {
	return &ValkeyCache{client: client}
}

func (c *ValkeyCache) Get(ctx context.Context, groupID uuid.UUID) (Overrides, bool, error) {
	val, err := c.client.Get(ctx, cacheKey(groupID)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("get cached overrides: %w", err)
	}

	var overrides Overrides
	if err := json.Unmarshal([]byte(val), &overrides); err != nil {
		return nil, false, fmt.Errorf("unmarshal cached overrides: %w", err)
	}
	return overrides, true, nil
}

func (c *ValkeyCache) Set(ctx context.Context, groupID uuid.UUID, overrides Overrides) error {
	data, err := json.Marshal(overrides)
	if err != nil {
		return fmt.Errorf("marshal overrides: %w", err)
	}
	if err := c.client.Set(ctx, cacheKey(groupID), data, CacheTTL).Err(); err != nil {
		return fmt.Errorf("set cached overrides: %w", err)
	}
	return nil
}

func (c *ValkeyCache) Invalidate(ctx context.Context, groupID uuid.UUID) error {
	if err := c.client.Del(ctx, cacheKey(groupID)).Err(); err != nil {
		return fmt.Errorf("invalidate cached overrides: %w", err)
	}
	return nil
}
