package models

import (
	"time"

	"gorm.io/gorm"
)

// UserPermission is an explicit per-user ALLOW or DENY for one endpoint/operation,
// bounded by an optional validity window.
type UserPermission struct {
	BaseModel
	UserID    string `gorm:"type:uuid;not null;index:idx_user_permission_user" json:"user_id"`
	CompanyID string `gorm:"type:uuid;not null;index:idx_user_permission_user" json:"company_id"`

	Endpoint  string    `gorm:"not null" json:"endpoint"`
	Operation Operation `gorm:"not null" json:"operation"`
	Scope     Scope     `gorm:"not null" json:"scope"`

	PermissionType PermissionType `gorm:"not null" json:"permission_type"`

	// ValidFrom/ValidUntil bound the grant. A nil ValidUntil never expires.
	ValidFrom  *time.Time `json:"valid_from,omitempty"`
	ValidUntil *time.Time `json:"valid_until,omitempty"`

	GrantedBy string           `gorm:"type:uuid" json:"granted_by"`
	Reason    string           `json:"reason"`
	Status    PermissionStatus `gorm:"not null;default:'ACTIVE'" json:"status"`

	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`
}

// IsActive computes effective validity at the supplied instant. Expiry is evaluated
// lazily here on every read; the stored Status column is never trusted past its window.
func (p *UserPermission) IsActive(now time.Time) bool {
	if p.Status != PermissionActive {
		return false
	}
	if p.DeletedAt.Valid {
		return false
	}
	if p.ValidFrom != nil && now.Before(*p.ValidFrom) {
		return false
	}
	if p.ValidUntil != nil && !p.ValidUntil.After(now) {
		return false
	}
	return true
}

// Matches reports whether the permission applies to the requested endpoint, operation
// and scope. Scope matches exact-or-wider; a narrower permission never satisfies a
// wider request.
func (p *UserPermission) Matches(endpoint string, operation Operation, requested Scope) bool {
	return p.Endpoint == endpoint && p.Operation == operation && p.Scope.Covers(requested)
}
