package policy

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"github.com/loomworks/fabricgate/internal/models"
)

// GormRegistrySource reads registry entries from the relational store.
type GormRegistrySource struct {
	db *gorm.DB
}

// NewGormRegistrySource constructs a registry source backed by the provided database.
func NewGormRegistrySource(db *gorm.DB) (*GormRegistrySource, error) {
	if db == nil {
		return nil, errors.New("registry source: db is required")
	}
	return &GormRegistrySource{db: db}, nil
}

// EntriesForEndpoint returns every entry declared for the endpoint, active or not.
// Filtering on activity happens at read time in the cache.
func (s *GormRegistrySource) EntriesForEndpoint(ctx context.Context, endpoint string) ([]models.PolicyRegistryEntry, error) {
	var entries []models.PolicyRegistryEntry
	if err := s.db.WithContext(ctx).
		Where("endpoint = ?", endpoint).
		Find(&entries).Error; err != nil {
		return nil, fmt.Errorf("registry source: load endpoint %s: %w", endpoint, err)
	}
	return entries, nil
}

// ActiveEntries returns all active registry entries.
func (s *GormRegistrySource) ActiveEntries(ctx context.Context) ([]models.PolicyRegistryEntry, error) {
	var entries []models.PolicyRegistryEntry
	if err := s.db.WithContext(ctx).
		Where("active = ?", true).
		Order("endpoint, operation").
		Find(&entries).Error; err != nil {
		return nil, fmt.Errorf("registry source: load active entries: %w", err)
	}
	return entries, nil
}

// GormPermissionSource reads user permissions from the relational store.
type GormPermissionSource struct {
	db *gorm.DB
}

// NewGormPermissionSource constructs a permission source backed by the provided database.
func NewGormPermissionSource(db *gorm.DB) (*GormPermissionSource, error) {
	if db == nil {
		return nil, errors.New("permission source: db is required")
	}
	return &GormPermissionSource{db: db}, nil
}

// PermissionsForUser returns the user's permission rows for one tenant. Soft-deleted
// rows are excluded by gorm; status and validity are re-checked by the engine.
func (s *GormPermissionSource) PermissionsForUser(ctx context.Context, userID, companyID string) ([]models.UserPermission, error) {
	var perms []models.UserPermission
	if err := s.db.WithContext(ctx).
		Where("user_id = ? AND company_id = ?", userID, companyID).
		Find(&perms).Error; err != nil {
		return nil, fmt.Errorf("permission source: load user %s: %w", userID, err)
	}
	return perms, nil
}
