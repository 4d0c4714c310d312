package policy

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/loomworks/fabricgate/internal/cache"
	"github.com/loomworks/fabricgate/internal/models"
)

// RegistrySource loads registry entries from the durable store on a cache miss.
type RegistrySource interface {
	EntriesForEndpoint(ctx context.Context, endpoint string) ([]models.PolicyRegistryEntry, error)
	ActiveEntries(ctx context.Context) ([]models.PolicyRegistryEntry, error)
}

// PermissionSource loads a user's explicit permissions on a cache miss.
type PermissionSource interface {
	PermissionsForUser(ctx context.Context, userID, companyID string) ([]models.UserPermission, error)
}

// TTLConfig sets per-key-class expiry. The classes differ by volatility: user
// permissions change most often, tenant-wide views least.
type TTLConfig struct {
	Policy time.Duration
	User   time.Duration
	Role   time.Duration
	Tenant time.Duration
}

func (c TTLConfig) withDefaults() TTLConfig {
	if c.Policy <= 0 {
		c.Policy = 30 * time.Minute
	}
	if c.User <= 0 {
		c.User = 15 * time.Minute
	}
	if c.Role <= 0 {
		c.Role = 60 * time.Minute
	}
	if c.Tenant <= 0 {
		c.Tenant = 120 * time.Minute
	}
	return c
}

// Cache is the policy lookup cache. Keys are sliced so that a mutation evicts exactly
// the affected entries; services evict before their write transaction commits so the
// next evaluation observes the change.
type Cache struct {
	store       cache.Store
	registry    RegistrySource
	permissions PermissionSource
	ttl         TTLConfig
	log         *zap.Logger
}

// NewCache wires the lookup cache over its backing sources.
func NewCache(store cache.Store, registry RegistrySource, permissions PermissionSource, ttl TTLConfig, log *zap.Logger) *Cache {
	if log == nil {
		log = zap.NewNop()
	}
	return &Cache{
		store:       store,
		registry:    registry,
		permissions: permissions,
		ttl:         ttl.withDefaults(),
		log:         log,
	}
}

func policyKey(endpoint string) string {
	return "policy:" + endpoint
}

func userKey(userID, companyID string) string {
	return fmt.Sprintf("user_policies:%s:%s", userID, companyID)
}

func roleKey(role, companyID string) string {
	return fmt.Sprintf("role_policies:%s:%s", role, companyID)
}

func tenantKey(companyID string) string {
	return "tenant_policies:" + companyID
}

// RegistryEntry returns the active registry entry for (endpoint, operation), or nil
// when none exists. Inactive entries are treated identically to missing ones.
func (c *Cache) RegistryEntry(ctx context.Context, endpoint string, operation models.Operation) (*models.PolicyRegistryEntry, error) {
	var entries []models.PolicyRegistryEntry
	err := c.lookup(ctx, policyKey(endpoint), c.ttl.Policy, &entries, func() (interface{}, error) {
		loaded, err := c.registry.EntriesForEndpoint(ctx, endpoint)
		if err != nil {
			return nil, err
		}
		entries = loaded
		return loaded, nil
	})
	if err != nil {
		return nil, err
	}

	for i := range entries {
		if entries[i].Operation == operation && entries[i].Active {
			entry := entries[i]
			return &entry, nil
		}
	}
	return nil, nil
}

// UserPermissions returns the caller's explicit permissions. Validity is not filtered
// here: the engine re-checks IsActive on every evaluation so an expired grant cannot
// outlive its window inside a cached slice.
func (c *Cache) UserPermissions(ctx context.Context, userID, companyID string) ([]models.UserPermission, error) {
	var perms []models.UserPermission
	err := c.lookup(ctx, userKey(userID, companyID), c.ttl.User, &perms, func() (interface{}, error) {
		loaded, err := c.permissions.PermissionsForUser(ctx, userID, companyID)
		if err != nil {
			return nil, err
		}
		perms = loaded
		return loaded, nil
	})
	if err != nil {
		return nil, err
	}
	return perms, nil
}

// RolePolicies returns the active registry entries a role grants by default.
// Read-side view for introspection; evaluation never consults it.
func (c *Cache) RolePolicies(ctx context.Context, role, companyID string) ([]models.PolicyRegistryEntry, error) {
	var entries []models.PolicyRegistryEntry
	err := c.lookup(ctx, roleKey(role, companyID), c.ttl.Role, &entries, func() (interface{}, error) {
		active, err := c.registry.ActiveEntries(ctx)
		if err != nil {
			return nil, err
		}
		matched := make([]models.PolicyRegistryEntry, 0)
		for _, entry := range active {
			if entry.HasDefaultRole([]string{role}) {
				matched = append(matched, entry)
			}
		}
		entries = matched
		return matched, nil
	})
	if err != nil {
		return nil, err
	}
	return entries, nil
}

// TenantPolicies returns all active registry entries, cached per tenant so a tenant's
// view can be invalidated independently.
func (c *Cache) TenantPolicies(ctx context.Context, companyID string) ([]models.PolicyRegistryEntry, error) {
	var entries []models.PolicyRegistryEntry
	err := c.lookup(ctx, tenantKey(companyID), c.ttl.Tenant, &entries, func() (interface{}, error) {
		active, err := c.registry.ActiveEntries(ctx)
		if err != nil {
			return nil, err
		}
		entries = active
		return active, nil
	})
	if err != nil {
		return nil, err
	}
	return entries, nil
}

// EvictPolicy drops the cached entries for an endpoint.
func (c *Cache) EvictPolicy(ctx context.Context, endpoint string) error {
	return c.store.Delete(ctx, policyKey(endpoint))
}

// EvictUserPolicies drops a user's cached permission slice.
func (c *Cache) EvictUserPolicies(ctx context.Context, userID, companyID string) error {
	return c.store.Delete(ctx, userKey(userID, companyID))
}

// EvictRolePolicies drops the cached role view.
func (c *Cache) EvictRolePolicies(ctx context.Context, role, companyID string) error {
	return c.store.Delete(ctx, roleKey(role, companyID))
}

// EvictTenantPolicies drops the cached tenant view.
func (c *Cache) EvictTenantPolicies(ctx context.Context, companyID string) error {
	return c.store.Delete(ctx, tenantKey(companyID))
}

// lookup implements the read-through pattern: cached JSON when present, otherwise the
// loader populates both the out parameter and the cache. Two concurrent misses may
// both populate; the overwrite is idempotent. Store errors propagate to the caller —
// the engine turns them into a fail-closed deny.
func (c *Cache) lookup(ctx context.Context, key string, ttl time.Duration, out interface{}, load func() (interface{}, error)) error {
	raw, ok, err := c.store.Get(ctx, key)
	if err != nil {
		return fmt.Errorf("policy cache: get %s: %w", key, err)
	}
	if ok {
		if err := json.Unmarshal(raw, out); err == nil {
			return nil
		}
		// Corrupt payload: drop it and fall through to the loader.
		c.log.Warn("discarding undecodable cache entry", zap.String("key", key))
		_ = c.store.Delete(ctx, key)
	}

	value, err := load()
	if err != nil {
		return err
	}

	encoded, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("policy cache: encode %s: %w", key, err)
	}
	if err := c.store.Set(ctx, key, encoded, ttl); err != nil {
		// Population failure is not fatal: the value was loaded from the source.
		c.log.Warn("cache population failed", zap.String("key", key), zap.Error(err))
	}
	return nil
}
