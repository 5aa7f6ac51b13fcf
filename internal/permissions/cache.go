package permissions

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// HotCache fronts the persisted cached_codes row with a short-lived Redis
// entry so authorization checks skip PostgreSQL on the hot path. The
// persisted row stays authoritative; every rebuild invalidates the entry.
// A nil client degrades to the persisted row only.
type HotCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewHotCache constructs the cache helper.
func NewHotCache(client *redis.Client, ttl time.Duration) *HotCache {
	return &HotCache{client: client, ttl: ttl}
}

func hotCacheKey(userID uuid.UUID) string {
	return "perm:user:" + userID.String()
}

// Get returns the cached set, with ok false on a miss.
func (c *HotCache) Get(ctx context.Context, userID uuid.UUID) ([]string, bool, error) {
	if c == nil || c.client == nil {
		return nil, false, nil
	}
	raw, err := c.client.Get(ctx, hotCacheKey(userID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("permissions: hot cache get: %w", err)
	}
	var codes []string
	if err := json.Unmarshal(raw, &codes); err != nil {
		// Treat undecodable entries as a miss; the rebuild overwrites them.
		return nil, false, nil
	}
	return codes, true, nil
}

// Set stores a freshly resolved set.
func (c *HotCache) Set(ctx context.Context, userID uuid.UUID, codes []string) error {
	if c == nil || c.client == nil {
		return nil
	}
	if codes == nil {
		codes = []string{}
	}
	raw, err := json.Marshal(codes)
	if err != nil {
		return err
	}
	if err := c.client.Set(ctx, hotCacheKey(userID), raw, c.ttl).Err(); err != nil {
		return fmt.Errorf("permissions: hot cache set: %w", err)
	}
	return nil
}

// Invalidate drops the entry after a rebuild commits.
func (c *HotCache) Invalidate(ctx context.Context, userID uuid.UUID) error {
	if c == nil || c.client == nil {
		return nil
	}
	if err := c.client.Del(ctx, hotCacheKey(userID)).Err(); err != nil {
		return fmt.Errorf("permissions: hot cache invalidate: %w", err)
	}
	return nil
}
