package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/loomworks/fabricgate/internal/models"
	"github.com/loomworks/fabricgate/internal/policy"
	appErrors "github.com/loomworks/fabricgate/pkg/errors"
)

// RegistryEntryInput is the admin mutation payload for a registry entry. Validation
// happens here at write time: the engine treats whatever reaches the table
// defensively, but bad data should never get that far.
type RegistryEntryInput struct {
	Endpoint            string                 `json:"endpoint" validate:"required"`
	Operation           string                 `json:"operation" validate:"required,oneof=READ WRITE DELETE"`
	Scope               string                 `json:"scope" validate:"omitempty,oneof=SELF COMPANY GLOBAL"`
	AllowedCompanyTypes []string               `json:"allowed_company_types" validate:"dive,oneof=INTERNAL CUSTOMER SUPPLIER SUBCONTRACTOR"`
	DefaultRoles        []string               `json:"default_roles" validate:"dive,required"`
	RequiresGrant       bool                   `json:"requires_grant"`
	PlatformPolicy      map[string]interface{} `json:"platform_policy"`
}

// RegistryService owns admin mutations on the policy registry. Every mutation evicts
// the affected cache slice before its transaction commits, so the next evaluation is
// guaranteed to observe the change.
type RegistryService struct {
	db       *gorm.DB
	cache    *policy.Cache
	validate *validator.Validate
	log      *zap.Logger
}

// NewRegistryService constructs the registry admin service.
func NewRegistryService(db *gorm.DB, cache *policy.Cache, log *zap.Logger) (*RegistryService, error) {
	if db == nil {
		return nil, errors.New("registry service: db is required")
	}
	if cache == nil {
		return nil, errors.New("registry service: cache is required")
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &RegistryService{
		db:       db,
		cache:    cache,
		validate: validator.New(),
		log:      log,
	}, nil
}

// Create registers a new endpoint policy at the initial version.
func (s *RegistryService) Create(ctx context.Context, input RegistryEntryInput) (*models.PolicyRegistryEntry, error) {
	entry, err := s.entryFromInput(input)
	if err != nil {
		return nil, err
	}
	entry.Active = true
	entry.Version = policy.InitialVersion

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var count int64
		if err := tx.Model(&models.PolicyRegistryEntry{}).
			Where("endpoint = ? AND operation = ?", entry.Endpoint, entry.Operation).
			Count(&count).Error; err != nil {
			return err
		}
		if count > 0 {
			return appErrors.ErrConflict.WithMessage(
				fmt.Sprintf("policy for %s %s already exists", entry.Operation, entry.Endpoint))
		}

		if err := tx.Create(entry).Error; err != nil {
			return err
		}
		// Evict before commit: an evaluation racing this create must not pin the
		// "no entry" result past the transaction.
		return s.cache.EvictPolicy(ctx, entry.Endpoint)
	})
	if err != nil {
		return nil, err
	}

	s.log.Info("registry entry created",
		zap.String("endpoint", entry.Endpoint),
		zap.String("operation", string(entry.Operation)),
		zap.String("version", entry.Version),
	)
	return entry, nil
}

// Update replaces an entry's policy metadata and bumps its version.
func (s *RegistryService) Update(ctx context.Context, id string, input RegistryEntryInput) (*models.PolicyRegistryEntry, error) {
	desired, err := s.entryFromInput(input)
	if err != nil {
		return nil, err
	}

	var updated models.PolicyRegistryEntry
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing models.PolicyRegistryEntry
		if err := tx.First(&existing, "id = ?", id).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return appErrors.ErrNotFound
			}
			return err
		}

		desired.ID = existing.ID
		desired.CreatedAt = existing.CreatedAt
		desired.Active = existing.Active
		desired.Version = policy.NextVersion(existing.Version)

		if err := tx.Save(desired).Error; err != nil {
			return err
		}
		updated = *desired

		if existing.Endpoint != desired.Endpoint {
			if err := s.cache.EvictPolicy(ctx, existing.Endpoint); err != nil {
				return err
			}
		}
		return s.cache.EvictPolicy(ctx, desired.Endpoint)
	})
	if err != nil {
		return nil, err
	}

	s.log.Info("registry entry updated",
		zap.String("endpoint", updated.Endpoint),
		zap.String("version", updated.Version),
	)
	return &updated, nil
}

// Deactivate soft-disables an entry. The engine treats an inactive entry exactly like
// a missing one, so deactivation is an immediate deny for role-based access.
func (s *RegistryService) Deactivate(ctx context.Context, id string) error {
	return s.setActive(ctx, id, false)
}

// Activate re-enables a previously deactivated entry.
func (s *RegistryService) Activate(ctx context.Context, id string) error {
	return s.setActive(ctx, id, true)
}

func (s *RegistryService) setActive(ctx context.Context, id string, active bool) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing models.PolicyRegistryEntry
		if err := tx.First(&existing, "id = ?", id).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return appErrors.ErrNotFound
			}
			return err
		}
		if existing.Active == active {
			return nil
		}

		existing.Active = active
		existing.Version = policy.NextVersion(existing.Version)
		if err := tx.Save(&existing).Error; err != nil {
			return err
		}
		return s.cache.EvictPolicy(ctx, existing.Endpoint)
	})
}

// Get returns one entry by ID.
func (s *RegistryService) Get(ctx context.Context, id string) (*models.PolicyRegistryEntry, error) {
	var entry models.PolicyRegistryEntry
	if err := s.db.WithContext(ctx).First(&entry, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, appErrors.ErrNotFound
		}
		return nil, fmt.Errorf("registry service: get entry: %w", err)
	}
	return &entry, nil
}

// List returns all entries ordered by endpoint.
func (s *RegistryService) List(ctx context.Context) ([]models.PolicyRegistryEntry, error) {
	var entries []models.PolicyRegistryEntry
	if err := s.db.WithContext(ctx).
		Order("endpoint, operation").
		Find(&entries).Error; err != nil {
		return nil, fmt.Errorf("registry service: list entries: %w", err)
	}
	return entries, nil
}

func (s *RegistryService) entryFromInput(input RegistryEntryInput) (*models.PolicyRegistryEntry, error) {
	if err := s.validate.Struct(input); err != nil {
		return nil, appErrors.NewBadRequest(err.Error())
	}

	var platform datatypes.JSON
	if len(input.PlatformPolicy) > 0 {
		encoded, err := json.Marshal(input.PlatformPolicy)
		if err != nil {
			return nil, appErrors.NewBadRequest("platform_policy is not serializable")
		}
		platform = datatypes.JSON(encoded)
	}

	return &models.PolicyRegistryEntry{
		Endpoint:            policy.NormalizePath(input.Endpoint),
		Operation:           models.Operation(strings.ToUpper(input.Operation)),
		Scope:               models.Scope(strings.ToUpper(strings.TrimSpace(input.Scope))),
		AllowedCompanyTypes: datatypes.JSONSlice[string](input.AllowedCompanyTypes),
		DefaultRoles:        datatypes.JSONSlice[string](input.DefaultRoles),
		RequiresGrant:       input.RequiresGrant,
		PlatformPolicy:      platform,
	}, nil
}
