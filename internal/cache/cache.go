// Package cache is the tag-addressed read-through cache for query
// procedures. Entries are advisory: a stale or missing entry is never
// authoritative, and all writes go to the repository, never the cache.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"time"

	"gantry/pkg/domain"
)

// Cache stores opaque byte values under keys with tags for bulk
// invalidation. InvalidateByTag accepts a glob pattern so cross-tenant
// mutations can tear down every tenant's variant of a tag.
type Cache interface {
	// Get returns (value, true) on a hit; (nil, false) on miss or expiry.
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration, tags []string) error
	InvalidateKey(ctx context.Context, key string) error
	InvalidateByTag(ctx context.Context, tagPattern string) error
}

// EntityKey is the exact cache key for a single-entity lookup. The
// invalidation stage derives the same key from a mutation, so cached lookups
// are torn down without tag scans.
func EntityKey(entityType string, tenantID domain.TenantID, entityID string) string {
	return entityType + ":" + tenantID.String() + ":" + entityID
}

// TenantTag scopes a declared tag to one tenant so invalidating tenant A's
// listings leaves tenant B's cache warm.
func TenantTag(tag string, tenantID domain.TenantID) string {
	return tag + ":" + tenantID.String()
}

// TagPattern matches every tenant's variant of a declared tag.
func TagPattern(tag string) string {
	return tag + ":*"
}

// RequestKey derives a deterministic key for a query procedure from its name,
// tenant, and canonicalized input. json.Marshal sorts map keys, so equal
// inputs hash equally.
func RequestKey(procedure string, tenantID domain.TenantID, input map[string]any) string {
	raw, err := json.Marshal(input)
	if err != nil {
		raw = []byte("{}")
	}
	sum := sha256.Sum256(raw)
	return procedure + ":" + tenantID.String() + ":" + hex.EncodeToString(sum[:8])
}
