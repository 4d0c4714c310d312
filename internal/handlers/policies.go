package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/loomworks/fabricgate/internal/middleware"
	"github.com/loomworks/fabricgate/internal/policy"
	"github.com/loomworks/fabricgate/pkg/errors"
	"github.com/loomworks/fabricgate/pkg/response"
)

// PolicyHandler exposes read-side introspection over the cached policy views: what
// the caller's tenant can reach and what a given role grants by default.
type PolicyHandler struct {
	cache *policy.Cache
}

// NewPolicyHandler constructs the handler.
func NewPolicyHandler(cache *policy.Cache) (*PolicyHandler, error) {
	if cache == nil {
		return nil, errors.ErrInternalServer.WithMessage("policy cache is required")
	}
	return &PolicyHandler{cache: cache}, nil
}

// GET /api/v1/policies
func (h *PolicyHandler) TenantPolicies(c *gin.Context) {
	id, ok := middleware.IdentityFrom(c)
	if !ok {
		response.Error(c, errors.ErrUnauthorized)
		return
	}

	entries, err := h.cache.TenantPolicies(c.Request.Context(), id.CompanyID)
	if err != nil {
		response.Error(c, errors.ErrInternalServer)
		return
	}
	response.Success(c, http.StatusOK, entries)
}

// GET /api/v1/policies/roles/:role
func (h *PolicyHandler) RolePolicies(c *gin.Context) {
	id, ok := middleware.IdentityFrom(c)
	if !ok {
		response.Error(c, errors.ErrUnauthorized)
		return
	}

	entries, err := h.cache.RolePolicies(c.Request.Context(), c.Param("role"), id.CompanyID)
	if err != nil {
		response.Error(c, errors.ErrInternalServer)
		return
	}
	response.Success(c, http.StatusOK, entries)
}
