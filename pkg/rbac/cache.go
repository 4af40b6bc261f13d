package rbac

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"
)

// PermissionCache stores resolved grant sets keyed by workspace and
// user, so repeated checks inside a request burst skip the catalog
// join.
type PermissionCache interface {
	Get(ctx context.Context, workspaceID uuid.UUID, userID string) (*GrantSet, bool)
	Set(ctx context.Context, workspaceID uuid.UUID, userID string, grants *GrantSet)
	Invalidate(ctx context.Context, workspaceID uuid.UUID, userID string)
}

// TwoTierCache is an in-process LRU in front of an optional shared
// Redis tier. The LRU absorbs the hot path; Redis keeps instances of
// the same deployment coherent through short TTLs plus explicit
// invalidation on membership mutations.
type TwoTierCache struct {
	local  *lru.Cache[string, *GrantSet]
	client *redis.Client
	ttl    time.Duration
}

// NewTwoTierCache creates a cache with the given local capacity.
// client may be nil for single-instance deployments.
func NewTwoTierCache(size int, client *redis.Client, ttl time.Duration) (*TwoTierCache, error) {
	if size <= 0 {
		size = 1024
	}
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	local, err := lru.New[string, *GrantSet](size)
	if err != nil {
		return nil, fmt.Errorf("failed to create permission cache: %w", err)
	}
	return &TwoTierCache{local: local, client: client, ttl: ttl}, nil
}

func cacheKey(workspaceID uuid.UUID, userID string) string {
	return "rbac:grants:" + workspaceID.String() + ":" + userID
}

func (c *TwoTierCache) Get(ctx context.Context, workspaceID uuid.UUID, userID string) (*GrantSet, bool) {
	key := cacheKey(workspaceID, userID)
	if grants, ok := c.local.Get(key); ok {
		return grants, true
	}
	if c.client == nil {
		return nil, false
	}

	payload, err := c.client.Get(ctx, key).Bytes()
	if err != nil {
		return nil, false
	}
	grants := &GrantSet{}
	if err := json.Unmarshal(payload, grants); err != nil {
		return nil, false
	}
	c.local.Add(key, grants)
	return grants, true
}

func (c *TwoTierCache) Set(ctx context.Context, workspaceID uuid.UUID, userID string, grants *GrantSet) {
	key := cacheKey(workspaceID, userID)
	c.local.Add(key, grants)
	if c.client == nil {
		return
	}
	if payload, err := json.Marshal(grants); err == nil {
		c.client.Set(ctx, key, payload, c.ttl)
	}
}

func (c *TwoTierCache) Invalidate(ctx context.Context, workspaceID uuid.UUID, userID string) {
	key := cacheKey(workspaceID, userID)
	c.local.Remove(key)
	if c.client != nil {
		c.client.Del(ctx, key)
	}
}
