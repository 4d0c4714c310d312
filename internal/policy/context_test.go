package policy

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loomworks/fabricgate/internal/models"
)

func TestNormalizePath(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"plain", "/api/v1/orders", "/api/v1/orders"},
		{"trailing slash", "/api/v1/orders/", "/api/v1/orders"},
		{"query string", "/api/v1/orders?page=2&sort=asc", "/api/v1/orders"},
		{"numeric id", "/api/v1/orders/42", "/api/v1/orders/{id}"},
		{"uuid id", "/api/v1/orders/8a1e9c7e-4f2b-4d7e-9a10-0d6c2f3b4a55", "/api/v1/orders/{id}"},
		{"nested ids", "/api/v1/orders/42/lines/7", "/api/v1/orders/{id}/lines/{id}"},
		{"duplicate slashes", "/api//v1///orders", "/api/v1/orders"},
		{"root", "/", "/"},
		{"empty", "", "/"},
		{"version segment kept", "/api/v1/orders", "/api/v1/orders"},
		{"alphanumeric kept", "/api/v1/orders/abc123", "/api/v1/orders/abc123"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, NormalizePath(tt.in))
		})
	}
}

func TestBuildContextRequiresIdentity(t *testing.T) {
	_, err := BuildContext(RequestMeta{Method: "GET", Path: "/api/v1/orders"}, Identity{})
	assert.ErrorIs(t, err, ErrMissingIdentity)

	_, err = BuildContext(RequestMeta{Method: "GET", Path: "/api/v1/orders"}, Identity{UserID: "u"})
	assert.ErrorIs(t, err, ErrMissingIdentity)
}

func TestBuildContextDerivesOperation(t *testing.T) {
	tests := []struct {
		method string
		want   models.Operation
	}{
		{"GET", models.OperationRead},
		{"HEAD", models.OperationRead},
		{"POST", models.OperationWrite},
		{"PUT", models.OperationWrite},
		{"PATCH", models.OperationWrite},
		{"DELETE", models.OperationDelete},
		{"OPTIONS", models.OperationWrite},
	}
	for _, tt := range tests {
		t.Run(tt.method, func(t *testing.T) {
			evalCtx, err := BuildContext(RequestMeta{Method: tt.method, Path: "/api/v1/orders"}, Identity{
				UserID:    "user-1",
				CompanyID: "company-1",
			})
			require.NoError(t, err)
			assert.Equal(t, tt.want, evalCtx.Operation)
		})
	}
}

func TestBuildContextDerivesScope(t *testing.T) {
	tests := []struct {
		path string
		want models.Scope
	}{
		{"/api/v1/users/me", models.ScopeSelf},
		{"/api/v1/profile", models.ScopeSelf},
		{"/api/v1/admin/policies", models.ScopeGlobal},
		{"/api/v1/system/config", models.ScopeGlobal},
		{"/api/v1/orders", models.ScopeCompany},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			evalCtx, err := BuildContext(RequestMeta{Method: "GET", Path: tt.path}, Identity{
				UserID:    "user-1",
				CompanyID: "company-1",
			})
			require.NoError(t, err)
			assert.Equal(t, tt.want, evalCtx.Scope)
		})
	}
}

func TestBuildContextNormalizesRoles(t *testing.T) {
	evalCtx, err := BuildContext(RequestMeta{Method: "GET", Path: "/api/v1/orders"}, Identity{
		UserID:    "user-1",
		CompanyID: "company-1",
		Roles:     []string{"ROLE_ADMIN", "ADMIN", " planner ", "", "ROLE_"},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"ADMIN", "planner"}, evalCtx.Roles)
}

func TestBuildContextCorrelationIDs(t *testing.T) {
	t.Run("generated when absent", func(t *testing.T) {
		evalCtx, err := BuildContext(RequestMeta{Method: "GET", Path: "/api/v1/orders"}, Identity{
			UserID:    "user-1",
			CompanyID: "company-1",
		})
		require.NoError(t, err)
		assert.NotEmpty(t, evalCtx.CorrelationID)
		assert.NotEmpty(t, evalCtx.RequestID)
	})

	t.Run("preserved when supplied", func(t *testing.T) {
		evalCtx, err := BuildContext(RequestMeta{
			Method:        "GET",
			Path:          "/api/v1/orders",
			CorrelationID: "corr-1",
			RequestID:     "req-1",
		}, Identity{UserID: "user-1", CompanyID: "company-1"})
		require.NoError(t, err)
		assert.Equal(t, "corr-1", evalCtx.CorrelationID)
		assert.Equal(t, "req-1", evalCtx.RequestID)
	})
}

func TestBuildContextNormalizesEndpoint(t *testing.T) {
	evalCtx, err := BuildContext(RequestMeta{Method: "get", Path: "/api/v1/orders/42?x=1"}, Identity{
		UserID:    "user-1",
		CompanyID: "company-1",
	})
	require.NoError(t, err)
	assert.Equal(t, "/api/v1/orders/{id}", evalCtx.Endpoint)
	assert.Equal(t, "GET", evalCtx.HTTPMethod)
}
