package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/loomworks/fabricgate/internal/models"
	"github.com/loomworks/fabricgate/internal/policy"
	appErrors "github.com/loomworks/fabricgate/pkg/errors"
)

// GrantInput is the payload for granting an explicit ALLOW or DENY to a user.
type GrantInput struct {
	UserID         string     `json:"user_id" validate:"required,uuid4"`
	CompanyID      string     `json:"company_id" validate:"required,uuid4"`
	Endpoint       string     `json:"endpoint" validate:"required"`
	Operation      string     `json:"operation" validate:"required,oneof=READ WRITE DELETE"`
	Scope          string     `json:"scope" validate:"required,oneof=SELF COMPANY GLOBAL"`
	PermissionType string     `json:"permission_type" validate:"required,oneof=ALLOW DENY"`
	ValidFrom      *time.Time `json:"valid_from"`
	ValidUntil     *time.Time `json:"valid_until"`
	GrantedBy      string     `json:"granted_by" validate:"omitempty,uuid4"`
	Reason         string     `json:"reason" validate:"required"`
}

// PermissionService owns grant and revoke mutations on user permissions. Like the
// registry service, it evicts the user's cache slice before the write commits —
// a DENY grant must take effect on the very next evaluation.
type PermissionService struct {
	db       *gorm.DB
	cache    *policy.Cache
	validate *validator.Validate
	log      *zap.Logger
}

// NewPermissionService constructs the permission admin service.
func NewPermissionService(db *gorm.DB, cache *policy.Cache, log *zap.Logger) (*PermissionService, error) {
	if db == nil {
		return nil, errors.New("permission service: db is required")
	}
	if cache == nil {
		return nil, errors.New("permission service: cache is required")
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &PermissionService{
		db:       db,
		cache:    cache,
		validate: validator.New(),
		log:      log,
	}, nil
}

// Grant records an explicit permission for a user.
func (s *PermissionService) Grant(ctx context.Context, input GrantInput) (*models.UserPermission, error) {
	if err := s.validate.Struct(input); err != nil {
		return nil, appErrors.NewBadRequest(err.Error())
	}
	if input.ValidUntil != nil && !input.ValidUntil.After(time.Now()) {
		return nil, appErrors.NewBadRequest("valid_until must be in the future")
	}
	if input.ValidFrom != nil && input.ValidUntil != nil && !input.ValidUntil.After(*input.ValidFrom) {
		return nil, appErrors.NewBadRequest("valid_until must be after valid_from")
	}

	perm := &models.UserPermission{
		UserID:         input.UserID,
		CompanyID:      input.CompanyID,
		Endpoint:       policy.NormalizePath(input.Endpoint),
		Operation:      models.Operation(strings.ToUpper(input.Operation)),
		Scope:          models.Scope(strings.ToUpper(input.Scope)),
		PermissionType: models.PermissionType(strings.ToUpper(input.PermissionType)),
		ValidFrom:      input.ValidFrom,
		ValidUntil:     input.ValidUntil,
		GrantedBy:      input.GrantedBy,
		Reason:         strings.TrimSpace(input.Reason),
		Status:         models.PermissionActive,
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(perm).Error; err != nil {
			return err
		}
		return s.cache.EvictUserPolicies(ctx, perm.UserID, perm.CompanyID)
	})
	if err != nil {
		return nil, fmt.Errorf("permission service: grant: %w", err)
	}

	s.log.Info("permission granted",
		zap.String("user_id", perm.UserID),
		zap.String("endpoint", perm.Endpoint),
		zap.String("type", string(perm.PermissionType)),
	)
	return perm, nil
}

// Revoke marks a permission revoked. The row is kept for traceability; the engine
// stops honoring it immediately.
func (s *PermissionService) Revoke(ctx context.Context, permissionID, revokedBy string) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var perm models.UserPermission
		if err := tx.First(&perm, "id = ?", permissionID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return appErrors.ErrNotFound
			}
			return err
		}
		if perm.Status == models.PermissionRevoked {
			return nil
		}

		perm.Status = models.PermissionRevoked
		if err := tx.Save(&perm).Error; err != nil {
			return err
		}
		return s.cache.EvictUserPolicies(ctx, perm.UserID, perm.CompanyID)
	})
	if err != nil {
		return err
	}

	s.log.Info("permission revoked",
		zap.String("permission_id", permissionID),
		zap.String("revoked_by", revokedBy),
	)
	return nil
}

// ListForUser returns a user's permission rows, newest first.
func (s *PermissionService) ListForUser(ctx context.Context, userID, companyID string) ([]models.UserPermission, error) {
	var perms []models.UserPermission
	if err := s.db.WithContext(ctx).
		Where("user_id = ? AND company_id = ?", userID, companyID).
		Order("created_at DESC").
		Find(&perms).Error; err != nil {
		return nil, fmt.Errorf("permission service: list for user: %w", err)
	}
	return perms, nil
}
