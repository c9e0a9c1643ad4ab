package rbac

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/meridian-saas/meridian/internal/observability"
)

// Namespace partitions cache keys by the granularity invalidation
// operates at.
type Namespace string

const (
	// NamespaceUserPerms caches a user's effective permission names.
	NamespaceUserPerms Namespace = "user_perms"
	// NamespaceRolePerms caches a role's effective permission names.
	NamespaceRolePerms Namespace = "role_perms"
)

// Key is a fully qualified cache key. Keys can only be built through
// CacheKey, so the read path and the invalidation path cannot drift
// apart in how they name entries.
type Key struct {
	tenantID string
	ns       Namespace
	entityID int64
}

// CacheKey builds the cache key for an entity within a tenant.
func CacheKey(tenantID string, ns Namespace, entityID int64) Key {
	return Key{tenantID: tenantID, ns: ns, entityID: entityID}
}

// String renders the redis key. The tenant prefix is the isolation
// boundary between tenants sharing one redis backend.
func (k Key) String() string {
	return fmt.Sprintf("tenant:%s:%s:%d", k.tenantID, k.ns, k.entityID)
}

// Namespace returns the key's namespace.
func (k Key) Namespace() Namespace {
	return k.ns
}

// PermissionCache stores resolved permission sets in redis with a TTL.
// The cache is a pure optimization: every read degrades to a miss when
// redis is unavailable, and lookups fall through to the resolver.
type PermissionCache struct {
	client  *redis.Client
	ttl     time.Duration
	logger  *slog.Logger
	metrics *observability.Metrics
}

// DefaultTTL is applied when no TTL is configured.
const DefaultTTL = 15 * time.Minute

// NewPermissionCache constructs the cache. A nil client yields a cache
// that always misses, which keeps the gate functional without redis.
func NewPermissionCache(client *redis.Client, ttl time.Duration, logger *slog.Logger, metrics *observability.Metrics) *PermissionCache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &PermissionCache{client: client, ttl: ttl, logger: logger, metrics: metrics}
}

// GetPermissions returns the cached permission list for key, reporting
// a miss on absence or on any backend failure.
func (c *PermissionCache) GetPermissions(ctx context.Context, key Key) ([]string, bool) {
	if c == nil || c.client == nil {
		return nil, false
	}
	payload, err := c.client.Get(ctx, key.String()).Bytes()
	if err != nil {
		if err != redis.Nil && c.logger != nil {
			c.logger.Warn("permission cache read", slog.String("key", key.String()), slog.Any("error", err))
		}
		c.metrics.CacheMiss(string(key.Namespace()))
		return nil, false
	}
	var perms []string
	if err := json.Unmarshal(payload, &perms); err != nil {
		if c.logger != nil {
			c.logger.Warn("permission cache decode", slog.String("key", key.String()), slog.Any("error", err))
		}
		c.metrics.CacheMiss(string(key.Namespace()))
		return nil, false
	}
	c.metrics.CacheHit(string(key.Namespace()))
	return perms, true
}

// SetPermissions writes the permission list under key. Write failures
// are logged and swallowed: a missing cache entry only costs a miss.
func (c *PermissionCache) SetPermissions(ctx context.Context, key Key, perms []string) {
	if c == nil || c.client == nil {
		return
	}
	if perms == nil {
		perms = []string{}
	}
	payload, err := json.Marshal(perms)
	if err != nil {
		return
	}
	if err := c.client.Set(ctx, key.String(), payload, c.ttl).Err(); err != nil && c.logger != nil {
		c.logger.Warn("permission cache write", slog.String("key", key.String()), slog.Any("error", err))
	}
}

// Delete evicts the given keys. Unlike writes, eviction failures are
// returned to the caller: a mutation must not commit while a stale
// entry could survive it.
func (c *PermissionCache) Delete(ctx context.Context, keys ...Key) error {
	if c == nil || c.client == nil || len(keys) == 0 {
		return nil
	}
	raw := make([]string, len(keys))
	for i, k := range keys {
		raw[i] = k.String()
	}
	if err := c.client.Del(ctx, raw...).Err(); err != nil {
		return fmt.Errorf("rbac: cache eviction: %w", err)
	}
	for _, k := range keys {
		c.metrics.CacheEviction(string(k.Namespace()))
	}
	return nil
}
