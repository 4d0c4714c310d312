package services

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loomworks/fabricgate/internal/database/testutil"
	"github.com/loomworks/fabricgate/internal/models"
	"github.com/loomworks/fabricgate/internal/policy"
	appErrors "github.com/loomworks/fabricgate/pkg/errors"
)

func newPermissionService(t *testing.T) (*PermissionService, *policy.Cache) {
	t.Helper()
	db := testutil.MustOpenTestDB(t)
	cache := newTestPolicyCache(t, db)
	svc, err := NewPermissionService(db, cache, nil)
	require.NoError(t, err)
	return svc, cache
}

func validGrant() GrantInput {
	return GrantInput{
		UserID:         uuid.NewString(),
		CompanyID:      uuid.NewString(),
		Endpoint:       "/api/v1/orders",
		Operation:      "READ",
		Scope:          "COMPANY",
		PermissionType: "ALLOW",
		GrantedBy:      uuid.NewString(),
		Reason:         "seasonal planner access",
	}
}

func TestPermissionServiceGrant(t *testing.T) {
	svc, _ := newPermissionService(t)

	input := validGrant()
	perm, err := svc.Grant(context.Background(), input)
	require.NoError(t, err)

	assert.Equal(t, input.UserID, perm.UserID)
	assert.Equal(t, models.PermissionAllow, perm.PermissionType)
	assert.Equal(t, models.PermissionActive, perm.Status)
	assert.NotEmpty(t, perm.ID)
}

func TestPermissionServiceGrantValidation(t *testing.T) {
	svc, _ := newPermissionService(t)
	past := time.Now().Add(-time.Hour)
	future := time.Now().Add(time.Hour)
	later := time.Now().Add(2 * time.Hour)

	tests := []struct {
		name   string
		mutate func(*GrantInput)
	}{
		{"bad user id", func(g *GrantInput) { g.UserID = "not-a-uuid" }},
		{"bad permission type", func(g *GrantInput) { g.PermissionType = "MAYBE" }},
		{"missing reason", func(g *GrantInput) { g.Reason = "" }},
		{"valid_until in the past", func(g *GrantInput) { g.ValidUntil = &past }},
		{"valid_until before valid_from", func(g *GrantInput) {
			g.ValidFrom = &later
			g.ValidUntil = &future
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			input := validGrant()
			tt.mutate(&input)
			_, err := svc.Grant(context.Background(), input)
			assert.Error(t, err)
		})
	}
}

func TestPermissionServiceGrantEvictsUserCache(t *testing.T) {
	svc, cache := newPermissionService(t)
	ctx := context.Background()

	input := validGrant()

	// A read before the grant caches the empty slice.
	perms, err := cache.UserPermissions(ctx, input.UserID, input.CompanyID)
	require.NoError(t, err)
	require.Empty(t, perms)

	_, err = svc.Grant(ctx, input)
	require.NoError(t, err)

	perms, err = cache.UserPermissions(ctx, input.UserID, input.CompanyID)
	require.NoError(t, err)
	assert.Len(t, perms, 1)
}

func TestPermissionServiceRevoke(t *testing.T) {
	svc, cache := newPermissionService(t)
	ctx := context.Background()

	input := validGrant()
	perm, err := svc.Grant(ctx, input)
	require.NoError(t, err)

	// Warm the cache with the active grant.
	perms, err := cache.UserPermissions(ctx, input.UserID, input.CompanyID)
	require.NoError(t, err)
	require.Len(t, perms, 1)

	require.NoError(t, svc.Revoke(ctx, perm.ID, uuid.NewString()))

	perms, err = cache.UserPermissions(ctx, input.UserID, input.CompanyID)
	require.NoError(t, err)
	require.Len(t, perms, 1)
	assert.Equal(t, models.PermissionRevoked, perms[0].Status)
	assert.False(t, perms[0].IsActive(time.Now()))

	// Revoking again is a no-op.
	require.NoError(t, svc.Revoke(ctx, perm.ID, uuid.NewString()))
}

func TestPermissionServiceRevokeNotFound(t *testing.T) {
	svc, _ := newPermissionService(t)
	err := svc.Revoke(context.Background(), uuid.NewString(), uuid.NewString())
	assert.ErrorIs(t, err, appErrors.ErrNotFound)
}

func TestPermissionServiceListForUser(t *testing.T) {
	svc, _ := newPermissionService(t)
	ctx := context.Background()

	input := validGrant()
	_, err := svc.Grant(ctx, input)
	require.NoError(t, err)

	second := validGrant()
	second.UserID = input.UserID
	second.CompanyID = input.CompanyID
	second.Endpoint = "/api/v1/fabrics"
	_, err = svc.Grant(ctx, second)
	require.NoError(t, err)

	perms, err := svc.ListForUser(ctx, input.UserID, input.CompanyID)
	require.NoError(t, err)
	assert.Len(t, perms, 2)

	other, err := svc.ListForUser(ctx, uuid.NewString(), input.CompanyID)
	require.NoError(t, err)
	assert.Empty(t, other)
}
