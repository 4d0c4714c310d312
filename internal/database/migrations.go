package database

import (
	"gorm.io/gorm"

	"github.com/loomworks/fabricgate/internal/models"
)

// AutoMigrate creates or updates the database schema for all policy models.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&models.PolicyRegistryEntry{},
		&models.UserPermission{},
		&models.PolicyDecisionAudit{},
	)
}
