package policy

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/loomworks/fabricgate/internal/models"
)

// RegistryDeclaration is one statically declared endpoint policy, loaded from
// configuration at process start. Declarations are the bootstrap source for the
// registry table; runtime mutations go through the admin API.
type RegistryDeclaration struct {
	Endpoint            string                 `mapstructure:"endpoint"`
	Operation           string                 `mapstructure:"operation"`
	Scope               string                 `mapstructure:"scope"`
	AllowedCompanyTypes []string               `mapstructure:"allowed_company_types"`
	DefaultRoles        []string               `mapstructure:"default_roles"`
	RequiresGrant       bool                   `mapstructure:"requires_grant"`
	PlatformPolicy      map[string]interface{} `mapstructure:"platform_policy"`
}

// SyncRegistry upserts declared entries into the registry table. New declarations are
// created at the initial version; changed ones are updated with a version bump so the
// version keeps increasing. Entries created through the admin API are left untouched.
func SyncRegistry(ctx context.Context, db *gorm.DB, declarations []RegistryDeclaration) error {
	if db == nil {
		return errors.New("policy: db is required")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	for _, decl := range declarations {
		endpoint := NormalizePath(decl.Endpoint)
		operation := models.Operation(strings.ToUpper(strings.TrimSpace(decl.Operation)))
		if endpoint == "/" && strings.TrimSpace(decl.Endpoint) == "" {
			return fmt.Errorf("policy: declaration with empty endpoint")
		}

		var platform datatypes.JSON
		if len(decl.PlatformPolicy) > 0 {
			encoded, err := json.Marshal(decl.PlatformPolicy)
			if err != nil {
				return fmt.Errorf("policy: encode platform policy for %s: %w", endpoint, err)
			}
			platform = datatypes.JSON(encoded)
		}

		desired := models.PolicyRegistryEntry{
			Endpoint:            endpoint,
			Operation:           operation,
			Scope:               models.Scope(strings.ToUpper(strings.TrimSpace(decl.Scope))),
			AllowedCompanyTypes: datatypes.JSONSlice[string](decl.AllowedCompanyTypes),
			DefaultRoles:        datatypes.JSONSlice[string](decl.DefaultRoles),
			RequiresGrant:       decl.RequiresGrant,
			PlatformPolicy:      platform,
			Active:              true,
			Version:             InitialVersion,
		}

		err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			var existing models.PolicyRegistryEntry
			result := tx.Where("endpoint = ? AND operation = ?", endpoint, operation).First(&existing)
			switch {
			case errors.Is(result.Error, gorm.ErrRecordNotFound):
				return tx.Create(&desired).Error
			case result.Error != nil:
				return result.Error
			}

			if declarationMatches(&existing, &desired) {
				return nil
			}

			desired.ID = existing.ID
			desired.CreatedAt = existing.CreatedAt
			desired.Version = NextVersion(existing.Version)
			return tx.Save(&desired).Error
		})
		if err != nil {
			return fmt.Errorf("policy: sync %s %s: %w", operation, endpoint, err)
		}
	}

	return nil
}

func declarationMatches(existing, desired *models.PolicyRegistryEntry) bool {
	return existing.Scope == desired.Scope &&
		existing.RequiresGrant == desired.RequiresGrant &&
		existing.Active &&
		sliceEqual(existing.AllowedCompanyTypes, desired.AllowedCompanyTypes) &&
		sliceEqual(existing.DefaultRoles, desired.DefaultRoles) &&
		string(existing.PlatformPolicy) == string(desired.PlatformPolicy)
}

func sliceEqual(a, b datatypes.JSONSlice[string]) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
