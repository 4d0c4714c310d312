package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"gorm.io/gorm"
)

func TestUserPermissionIsActive(t *testing.T) {
	now := time.Date(2026, 3, 15, 12, 0, 0, 0, time.UTC)
	past := now.Add(-time.Hour)
	future := now.Add(time.Hour)

	tests := []struct {
		name string
		perm UserPermission
		want bool
	}{
		{"active no window", UserPermission{Status: PermissionActive}, true},
		{"active inside window", UserPermission{Status: PermissionActive, ValidFrom: &past, ValidUntil: &future}, true},
		{"expired window", UserPermission{Status: PermissionActive, ValidUntil: &past}, false},
		{"valid until equals now", UserPermission{Status: PermissionActive, ValidUntil: &now}, false},
		{"not yet valid", UserPermission{Status: PermissionActive, ValidFrom: &future}, false},
		{"revoked", UserPermission{Status: PermissionRevoked}, false},
		{"expired status", UserPermission{Status: PermissionExpired}, false},
		{"soft deleted", UserPermission{Status: PermissionActive, DeletedAt: gorm.DeletedAt{Time: past, Valid: true}}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.perm.IsActive(now))
		})
	}
}

func TestUserPermissionMatches(t *testing.T) {
	perm := UserPermission{
		Endpoint:  "/api/v1/orders",
		Operation: OperationRead,
		Scope:     ScopeCompany,
	}

	assert.True(t, perm.Matches("/api/v1/orders", OperationRead, ScopeCompany))
	assert.True(t, perm.Matches("/api/v1/orders", OperationRead, ScopeSelf))
	assert.False(t, perm.Matches("/api/v1/orders", OperationRead, ScopeGlobal))
	assert.False(t, perm.Matches("/api/v1/orders", OperationWrite, ScopeCompany))
	assert.False(t, perm.Matches("/api/v1/other", OperationRead, ScopeCompany))
}

func TestScopeCovers(t *testing.T) {
	assert.True(t, ScopeGlobal.Covers(ScopeSelf))
	assert.True(t, ScopeGlobal.Covers(ScopeGlobal))
	assert.True(t, ScopeCompany.Covers(ScopeSelf))
	assert.False(t, ScopeSelf.Covers(ScopeCompany))
	assert.False(t, ScopeSelf.Covers(ScopeGlobal))
	assert.False(t, Scope("BOGUS").Covers(ScopeSelf))
	assert.False(t, Scope("").Covers(Scope("")))
}

func TestRegistryEntryAllowsCompanyType(t *testing.T) {
	unrestricted := PolicyRegistryEntry{}
	assert.True(t, unrestricted.AllowsCompanyType(CompanyCustomer))

	restricted := PolicyRegistryEntry{AllowedCompanyTypes: []string{"INTERNAL", "SUPPLIER"}}
	assert.True(t, restricted.AllowsCompanyType(CompanyInternal))
	assert.False(t, restricted.AllowsCompanyType(CompanyCustomer))
}

func TestRegistryEntryHasDefaultRole(t *testing.T) {
	entry := PolicyRegistryEntry{DefaultRoles: []string{"ADMIN", "PLANNER"}}
	assert.True(t, entry.HasDefaultRole([]string{"VIEWER", "PLANNER"}))
	assert.False(t, entry.HasDefaultRole([]string{"VIEWER"}))
	assert.False(t, entry.HasDefaultRole(nil))
}
