package models

import (
	"gorm.io/datatypes"
)

// PolicyRegistryEntry is the admin-managed security metadata for one endpoint/operation
// pair. The (endpoint, operation) pair is unique; the version strictly increases on
// every update.
type PolicyRegistryEntry struct {
	BaseModel
	Endpoint  string    `gorm:"not null;uniqueIndex:idx_registry_endpoint_operation" json:"endpoint"`
	Operation Operation `gorm:"not null;uniqueIndex:idx_registry_endpoint_operation" json:"operation"`

	// Scope optionally overrides the scope derived from the request path.
	Scope Scope `json:"scope,omitempty"`

	// AllowedCompanyTypes restricts which tenant kinds may call the endpoint.
	// Empty means unrestricted.
	AllowedCompanyTypes datatypes.JSONSlice[string] `gorm:"type:json" json:"allowed_company_types"`

	// DefaultRoles grant access by role membership. Empty means no role restriction
	// is declared for the endpoint.
	DefaultRoles datatypes.JSONSlice[string] `gorm:"type:json" json:"default_roles"`

	// RequiresGrant marks privileged endpoints where role membership is insufficient
	// and an explicit per-user ALLOW is mandatory.
	RequiresGrant bool `gorm:"not null;default:false" json:"requires_grant"`

	// PlatformPolicy carries free-form policy parameters consumed by downstream services.
	PlatformPolicy datatypes.JSON `gorm:"type:json" json:"platform_policy,omitempty"`

	Active  bool   `gorm:"not null;default:true" json:"active"`
	Version string `gorm:"not null;default:'1.0'" json:"version"`
}

// AllowsCompanyType reports whether the entry permits callers of the given tenant kind.
// An empty restriction set is unrestricted.
func (e *PolicyRegistryEntry) AllowsCompanyType(t CompanyType) bool {
	if len(e.AllowedCompanyTypes) == 0 {
		return true
	}
	for _, allowed := range e.AllowedCompanyTypes {
		if CompanyType(allowed) == t {
			return true
		}
	}
	return false
}

// HasDefaultRole reports whether any of the caller's roles appears in DefaultRoles.
func (e *PolicyRegistryEntry) HasDefaultRole(roles []string) bool {
	for _, declared := range e.DefaultRoles {
		for _, role := range roles {
			if declared == role {
				return true
			}
		}
	}
	return false
}
