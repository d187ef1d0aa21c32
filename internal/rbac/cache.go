package rbac

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

const permCachePrefix = "rbac:perms:"

// PermissionCache keeps resolved permission sets in Redis so repeated guard
// checks within a session do not re-read Postgres. Every mutation of roles
// or assignments invalidates, so a role change is visible on the next
// guarded action without waiting for the TTL.
type PermissionCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewPermissionCache constructs a cache. A nil client disables caching.
func NewPermissionCache(client *redis.Client, ttl time.Duration) *PermissionCache {
	return &PermissionCache{client: client, ttl: ttl}
}

// Get returns the cached set for the user, or ok=false on miss.
func (c *PermissionCache) Get(ctx context.Context, userID int64) (PermissionSet, bool) {
	if c == nil || c.client == nil {
		return nil, false
	}
	payload, err := c.client.Get(ctx, permCacheKey(userID)).Bytes()
	if err != nil {
		return nil, false
	}
	var ids []string
	if err := json.Unmarshal(payload, &ids); err != nil {
		return nil, false
	}
	return NewPermissionSet(ids...), true
}

// Put stores the resolved set for the user.
func (c *PermissionCache) Put(ctx context.Context, userID int64, set PermissionSet) {
	if c == nil || c.client == nil {
		return
	}
	payload, err := json.Marshal(set.IDs())
	if err != nil {
		return
	}
	_ = c.client.Set(ctx, permCacheKey(userID), payload, c.ttl).Err()
}

// Invalidate drops the cached set for one user.
func (c *PermissionCache) Invalidate(ctx context.Context, userID int64) {
	if c == nil || c.client == nil {
		return
	}
	_ = c.client.Del(ctx, permCacheKey(userID)).Err()
}

// InvalidateAll drops every cached set. Used after role mutations, which can
// affect any number of users.
func (c *PermissionCache) InvalidateAll(ctx context.Context) {
	if c == nil || c.client == nil {
		return
	}
	iter := c.client.Scan(ctx, 0, permCachePrefix+"*", 0).Iterator()
	for iter.Next(ctx) {
		_ = c.client.Del(ctx, iter.Val()).Err()
	}
	if err := iter.Err(); err != nil && !errors.Is(err, redis.Nil) {
		return
	}
}

func permCacheKey(userID int64) string {
	return permCachePrefix + strconv.FormatInt(userID, 10)
}
