package policy

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/datatypes"

	"github.com/loomworks/fabricgate/internal/models"
)

type memStore struct {
	mu     sync.Mutex
	items  map[string][]byte
	getErr error
}

func newMemStore() *memStore {
	return &memStore{items: map[string][]byte{}}
}

func (s *memStore) Set(_ context.Context, key string, value []byte, _ time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items[key] = value
	return nil
}

func (s *memStore) Get(_ context.Context, key string) ([]byte, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.getErr != nil {
		return nil, false, s.getErr
	}
	v, ok := s.items[key]
	return v, ok, nil
}

func (s *memStore) Delete(_ context.Context, keys ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, key := range keys {
		delete(s.items, key)
	}
	return nil
}

type fakeRegistry struct {
	entries []models.PolicyRegistryEntry
	err     error
}

func (f *fakeRegistry) EntriesForEndpoint(_ context.Context, endpoint string) ([]models.PolicyRegistryEntry, error) {
	if f.err != nil {
		return nil, f.err
	}
	var out []models.PolicyRegistryEntry
	for _, e := range f.entries {
		if e.Endpoint == endpoint {
			out = append(out, e)
		}
	}
	return out, nil
}

func (f *fakeRegistry) ActiveEntries(_ context.Context) ([]models.PolicyRegistryEntry, error) {
	if f.err != nil {
		return nil, f.err
	}
	var out []models.PolicyRegistryEntry
	for _, e := range f.entries {
		if e.Active {
			out = append(out, e)
		}
	}
	return out, nil
}

type fakePermissions struct {
	perms []models.UserPermission
	err   error
}

func (f *fakePermissions) PermissionsForUser(_ context.Context, userID, companyID string) ([]models.UserPermission, error) {
	if f.err != nil {
		return nil, f.err
	}
	var out []models.UserPermission
	for _, p := range f.perms {
		if p.UserID == userID && p.CompanyID == companyID {
			out = append(out, p)
		}
	}
	return out, nil
}

type recordingAudit struct {
	mu      sync.Mutex
	records []Decision
}

func (r *recordingAudit) Record(_ *Context, decision Decision, _ time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records = append(r.records, decision)
}

func (r *recordingAudit) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.records)
}

const (
	testUserID    = "8a1e9c7e-4f2b-4d7e-9a10-0d6c2f3b4a55"
	testCompanyID = "3b9f1d20-7c8a-4e6f-b1c2-9d0e8f7a6b54"
)

func testContext(t *testing.T, method, path string, roles ...string) *Context {
	t.Helper()
	evalCtx, err := BuildContext(RequestMeta{Method: method, Path: path}, Identity{
		UserID:      testUserID,
		CompanyID:   testCompanyID,
		CompanyType: models.CompanyCustomer,
		Roles:       roles,
	})
	require.NoError(t, err)
	return evalCtx
}

func registryEntry(endpoint string, op models.Operation) models.PolicyRegistryEntry {
	return models.PolicyRegistryEntry{
		Endpoint:  endpoint,
		Operation: op,
		Active:    true,
		Version:   "1.0",
	}
}

func userPermission(endpoint string, op models.Operation, scope models.Scope, permType models.PermissionType) models.UserPermission {
	return models.UserPermission{
		UserID:         testUserID,
		CompanyID:      testCompanyID,
		Endpoint:       endpoint,
		Operation:      op,
		Scope:          scope,
		PermissionType: permType,
		Status:         models.PermissionActive,
	}
}

func newTestEngine(registry *fakeRegistry, perms *fakePermissions, audit AuditRecorder) (*Engine, *memStore) {
	store := newMemStore()
	cache := NewCache(store, registry, perms, TTLConfig{}, nil)
	return NewEngine(cache, audit, nil), store
}

func TestEvaluateExplicitDenyBeatsAllow(t *testing.T) {
	entry := registryEntry("/api/v1/orders", models.OperationRead)
	allow := userPermission("/api/v1/orders", models.OperationRead, models.ScopeCompany, models.PermissionAllow)
	deny := userPermission("/api/v1/orders", models.OperationRead, models.ScopeCompany, models.PermissionDeny)

	engine, _ := newTestEngine(
		&fakeRegistry{entries: []models.PolicyRegistryEntry{entry}},
		&fakePermissions{perms: []models.UserPermission{allow, deny}},
		nil,
	)

	decision := engine.Evaluate(context.Background(), testContext(t, "GET", "/api/v1/orders"))
	assert.Equal(t, EffectDeny, decision.Effect)
	assert.Equal(t, ReasonUserExplicitDeny, decision.Reason)
	assert.Equal(t, "1.0", decision.PolicyVersion)
}

func TestEvaluateExplicitAllow(t *testing.T) {
	entry := registryEntry("/api/v1/orders", models.OperationRead)
	entry.RequiresGrant = true
	allow := userPermission("/api/v1/orders", models.OperationRead, models.ScopeCompany, models.PermissionAllow)

	engine, _ := newTestEngine(
		&fakeRegistry{entries: []models.PolicyRegistryEntry{entry}},
		&fakePermissions{perms: []models.UserPermission{allow}},
		nil,
	)

	decision := engine.Evaluate(context.Background(), testContext(t, "GET", "/api/v1/orders"))
	assert.Equal(t, EffectAllow, decision.Effect)
	assert.Equal(t, ReasonUserExplicitAllow, decision.Reason)
}

func TestEvaluateExpiredPermissionIgnored(t *testing.T) {
	entry := registryEntry("/api/v1/orders", models.OperationRead)
	entry.RequiresGrant = true

	past := time.Now().Add(-time.Hour)
	allow := userPermission("/api/v1/orders", models.OperationRead, models.ScopeCompany, models.PermissionAllow)
	allow.ValidUntil = &past

	engine, _ := newTestEngine(
		&fakeRegistry{entries: []models.PolicyRegistryEntry{entry}},
		&fakePermissions{perms: []models.UserPermission{allow}},
		nil,
	)

	decision := engine.Evaluate(context.Background(), testContext(t, "GET", "/api/v1/orders"))
	assert.Equal(t, EffectDeny, decision.Effect)
	assert.Equal(t, ReasonRequiresGrantMissing, decision.Reason)
}

func TestEvaluateNotYetValidPermissionIgnored(t *testing.T) {
	entry := registryEntry("/api/v1/orders", models.OperationRead)
	entry.RequiresGrant = true

	future := time.Now().Add(time.Hour)
	allow := userPermission("/api/v1/orders", models.OperationRead, models.ScopeCompany, models.PermissionAllow)
	allow.ValidFrom = &future

	engine, _ := newTestEngine(
		&fakeRegistry{entries: []models.PolicyRegistryEntry{entry}},
		&fakePermissions{perms: []models.UserPermission{allow}},
		nil,
	)

	decision := engine.Evaluate(context.Background(), testContext(t, "GET", "/api/v1/orders"))
	assert.Equal(t, EffectDeny, decision.Effect)
	assert.Equal(t, ReasonRequiresGrantMissing, decision.Reason)
}

func TestEvaluateUnregisteredEndpointDenied(t *testing.T) {
	engine, _ := newTestEngine(&fakeRegistry{}, &fakePermissions{}, nil)

	decision := engine.Evaluate(context.Background(), testContext(t, "GET", "/api/v1/unknown"))
	assert.Equal(t, EffectDeny, decision.Effect)
	assert.Equal(t, ReasonUnregisteredEndpoint, decision.Reason)
	assert.Empty(t, decision.PolicyVersion)
}

func TestEvaluateInactiveEntryTreatedAsUnregistered(t *testing.T) {
	entry := registryEntry("/api/v1/orders", models.OperationRead)
	entry.Active = false

	engine, _ := newTestEngine(
		&fakeRegistry{entries: []models.PolicyRegistryEntry{entry}},
		&fakePermissions{},
		nil,
	)

	decision := engine.Evaluate(context.Background(), testContext(t, "GET", "/api/v1/orders"))
	assert.Equal(t, EffectDeny, decision.Effect)
	assert.Equal(t, ReasonUnregisteredEndpoint, decision.Reason)
}

func TestEvaluateRequiresGrantDeniesRoleHolders(t *testing.T) {
	entry := registryEntry("/api/v1/admin/exports", models.OperationRead)
	entry.RequiresGrant = true
	entry.DefaultRoles = datatypes.JSONSlice[string]{"ADMIN"}

	engine, _ := newTestEngine(
		&fakeRegistry{entries: []models.PolicyRegistryEntry{entry}},
		&fakePermissions{},
		nil,
	)

	decision := engine.Evaluate(context.Background(), testContext(t, "GET", "/api/v1/admin/exports", "ADMIN"))
	assert.Equal(t, EffectDeny, decision.Effect)
	assert.Equal(t, ReasonRequiresGrantMissing, decision.Reason)
}

func TestEvaluateCompanyTypeRestriction(t *testing.T) {
	entry := registryEntry("/api/v1/orders", models.OperationRead)
	entry.AllowedCompanyTypes = datatypes.JSONSlice[string]{"INTERNAL", "SUPPLIER"}

	engine, _ := newTestEngine(
		&fakeRegistry{entries: []models.PolicyRegistryEntry{entry}},
		&fakePermissions{},
		nil,
	)

	decision := engine.Evaluate(context.Background(), testContext(t, "GET", "/api/v1/orders"))
	assert.Equal(t, EffectDeny, decision.Effect)
	assert.Equal(t, ReasonCompanyTypeNotAllowed, decision.Reason)
}

func TestEvaluateRoleDefaults(t *testing.T) {
	entry := registryEntry("/api/v1/orders", models.OperationWrite)
	entry.DefaultRoles = datatypes.JSONSlice[string]{"PLANNER", "MANAGER"}

	registry := &fakeRegistry{entries: []models.PolicyRegistryEntry{entry}}

	t.Run("member allowed", func(t *testing.T) {
		engine, _ := newTestEngine(registry, &fakePermissions{}, nil)
		decision := engine.Evaluate(context.Background(), testContext(t, "POST", "/api/v1/orders", "PLANNER"))
		assert.Equal(t, EffectAllow, decision.Effect)
		assert.Equal(t, ReasonRoleDefaultAccess, decision.Reason)
	})

	t.Run("non-member denied", func(t *testing.T) {
		engine, _ := newTestEngine(registry, &fakePermissions{}, nil)
		decision := engine.Evaluate(context.Background(), testContext(t, "POST", "/api/v1/orders", "VIEWER"))
		assert.Equal(t, EffectDeny, decision.Effect)
		assert.Equal(t, ReasonRoleNotPermitted, decision.Reason)
	})
}

func TestEvaluatePlatformDefaultAllow(t *testing.T) {
	entry := registryEntry("/api/v1/orders", models.OperationRead)

	engine, _ := newTestEngine(
		&fakeRegistry{entries: []models.PolicyRegistryEntry{entry}},
		&fakePermissions{},
		nil,
	)

	decision := engine.Evaluate(context.Background(), testContext(t, "GET", "/api/v1/orders"))
	assert.Equal(t, EffectAllow, decision.Effect)
	assert.Equal(t, ReasonPlatformDefaultAllow, decision.Reason)
}

func TestEvaluateNarrowScopeDoesNotSatisfyWiderRequest(t *testing.T) {
	entry := registryEntry("/api/v1/orders", models.OperationRead)
	entry.RequiresGrant = true

	// SELF-scoped grant against a COMPANY-scoped endpoint.
	allow := userPermission("/api/v1/orders", models.OperationRead, models.ScopeSelf, models.PermissionAllow)

	engine, _ := newTestEngine(
		&fakeRegistry{entries: []models.PolicyRegistryEntry{entry}},
		&fakePermissions{perms: []models.UserPermission{allow}},
		nil,
	)

	decision := engine.Evaluate(context.Background(), testContext(t, "GET", "/api/v1/orders"))
	assert.Equal(t, EffectDeny, decision.Effect)
	assert.Equal(t, ReasonRequiresGrantMissing, decision.Reason)
}

func TestEvaluateWiderScopeSatisfiesNarrowerRequest(t *testing.T) {
	entry := registryEntry("/api/v1/orders", models.OperationRead)
	entry.RequiresGrant = true

	allow := userPermission("/api/v1/orders", models.OperationRead, models.ScopeGlobal, models.PermissionAllow)

	engine, _ := newTestEngine(
		&fakeRegistry{entries: []models.PolicyRegistryEntry{entry}},
		&fakePermissions{perms: []models.UserPermission{allow}},
		nil,
	)

	decision := engine.Evaluate(context.Background(), testContext(t, "GET", "/api/v1/orders"))
	assert.Equal(t, EffectAllow, decision.Effect)
	assert.Equal(t, ReasonUserExplicitAllow, decision.Reason)
}

func TestEvaluateRegistryScopeOverride(t *testing.T) {
	entry := registryEntry("/api/v1/orders", models.OperationRead)
	entry.RequiresGrant = true
	entry.Scope = models.ScopeGlobal

	// COMPANY-scoped grant; the entry demands GLOBAL.
	allow := userPermission("/api/v1/orders", models.OperationRead, models.ScopeCompany, models.PermissionAllow)

	engine, _ := newTestEngine(
		&fakeRegistry{entries: []models.PolicyRegistryEntry{entry}},
		&fakePermissions{perms: []models.UserPermission{allow}},
		nil,
	)

	decision := engine.Evaluate(context.Background(), testContext(t, "GET", "/api/v1/orders"))
	assert.Equal(t, EffectDeny, decision.Effect)
	assert.Equal(t, ReasonRequiresGrantMissing, decision.Reason)
}

func TestEvaluateFailsClosedOnStoreError(t *testing.T) {
	entry := registryEntry("/api/v1/orders", models.OperationRead)
	engine, store := newTestEngine(
		&fakeRegistry{entries: []models.PolicyRegistryEntry{entry}},
		&fakePermissions{},
		nil,
	)
	store.getErr = errors.New("connection refused")

	decision := engine.Evaluate(context.Background(), testContext(t, "GET", "/api/v1/orders"))
	assert.Equal(t, EffectDeny, decision.Effect)
	assert.Equal(t, ReasonEvaluationError, decision.Reason)
}

func TestEvaluateFailsClosedOnSourceError(t *testing.T) {
	engine, _ := newTestEngine(
		&fakeRegistry{err: errors.New("db unavailable")},
		&fakePermissions{},
		nil,
	)

	decision := engine.Evaluate(context.Background(), testContext(t, "GET", "/api/v1/orders"))
	assert.Equal(t, EffectDeny, decision.Effect)
	assert.Equal(t, ReasonEvaluationError, decision.Reason)
}

type panickingRegistry struct{}

func (panickingRegistry) EntriesForEndpoint(context.Context, string) ([]models.PolicyRegistryEntry, error) {
	panic("boom")
}

func (panickingRegistry) ActiveEntries(context.Context) ([]models.PolicyRegistryEntry, error) {
	panic("boom")
}

func TestEvaluateRecoversFromPanic(t *testing.T) {
	audit := &recordingAudit{}
	store := newMemStore()
	cache := NewCache(store, panickingRegistry{}, &fakePermissions{}, TTLConfig{}, nil)
	engine := NewEngine(cache, audit, nil)

	decision := engine.Evaluate(context.Background(), testContext(t, "GET", "/api/v1/orders"))
	assert.Equal(t, EffectDeny, decision.Effect)
	assert.Equal(t, ReasonEvaluationError, decision.Reason)
	assert.Equal(t, 1, audit.count())
}

func TestEvaluateRecordsExactlyOneAuditPerCall(t *testing.T) {
	entry := registryEntry("/api/v1/orders", models.OperationRead)
	audit := &recordingAudit{}
	store := newMemStore()
	cache := NewCache(store, &fakeRegistry{entries: []models.PolicyRegistryEntry{entry}}, &fakePermissions{}, TTLConfig{}, nil)
	engine := NewEngine(cache, audit, nil)

	for i := 0; i < 3; i++ {
		engine.Evaluate(context.Background(), testContext(t, "GET", "/api/v1/orders"))
	}
	assert.Equal(t, 3, audit.count())
}

func TestEvaluateSeesChangeAfterEviction(t *testing.T) {
	entry := registryEntry("/api/v1/orders", models.OperationRead)
	entry.RequiresGrant = true
	registry := &fakeRegistry{entries: []models.PolicyRegistryEntry{entry}}
	perms := &fakePermissions{}

	store := newMemStore()
	cache := NewCache(store, registry, perms, TTLConfig{}, nil)
	engine := NewEngine(cache, nil, nil)

	evalCtx := testContext(t, "GET", "/api/v1/orders")

	decision := engine.Evaluate(context.Background(), evalCtx)
	require.Equal(t, ReasonRequiresGrantMissing, decision.Reason)

	// Grant arrives; without eviction the cached empty slice still denies.
	perms.perms = []models.UserPermission{
		userPermission("/api/v1/orders", models.OperationRead, models.ScopeCompany, models.PermissionAllow),
	}
	decision = engine.Evaluate(context.Background(), evalCtx)
	require.Equal(t, EffectDeny, decision.Effect)

	require.NoError(t, cache.EvictUserPolicies(context.Background(), testUserID, testCompanyID))

	decision = engine.Evaluate(context.Background(), evalCtx)
	assert.Equal(t, EffectAllow, decision.Effect)
	assert.Equal(t, ReasonUserExplicitAllow, decision.Reason)
}

func TestEvaluateRevokedPermissionIgnored(t *testing.T) {
	entry := registryEntry("/api/v1/orders", models.OperationRead)
	entry.RequiresGrant = true

	allow := userPermission("/api/v1/orders", models.OperationRead, models.ScopeCompany, models.PermissionAllow)
	allow.Status = models.PermissionRevoked

	engine, _ := newTestEngine(
		&fakeRegistry{entries: []models.PolicyRegistryEntry{entry}},
		&fakePermissions{perms: []models.UserPermission{allow}},
		nil,
	)

	decision := engine.Evaluate(context.Background(), testContext(t, "GET", "/api/v1/orders"))
	assert.Equal(t, EffectDeny, decision.Effect)
	assert.Equal(t, ReasonRequiresGrantMissing, decision.Reason)
}
