package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/loomworks/fabricgate/internal/middleware"
	"github.com/loomworks/fabricgate/internal/services"
	"github.com/loomworks/fabricgate/pkg/errors"
	"github.com/loomworks/fabricgate/pkg/response"
)

// PermissionHandler exposes grant/revoke operations on user permissions.
type PermissionHandler struct {
	svc *services.PermissionService
}

// NewPermissionHandler constructs the handler.
func NewPermissionHandler(svc *services.PermissionService) (*PermissionHandler, error) {
	if svc == nil {
		return nil, errors.ErrInternalServer.WithMessage("permission service is required")
	}
	return &PermissionHandler{svc: svc}, nil
}

// POST /api/v1/admin/permissions
func (h *PermissionHandler) Grant(c *gin.Context) {
	var input services.GrantInput
	if err := c.ShouldBindJSON(&input); err != nil {
		response.Error(c, errors.NewBadRequest("invalid request body"))
		return
	}
	if input.GrantedBy == "" {
		input.GrantedBy = c.GetString(middleware.CtxUserIDKey)
	}

	perm, err := h.svc.Grant(c.Request.Context(), input)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusCreated, perm)
}

// DELETE /api/v1/admin/permissions/:id
func (h *PermissionHandler) Revoke(c *gin.Context) {
	revokedBy := c.GetString(middleware.CtxUserIDKey)
	if err := h.svc.Revoke(c.Request.Context(), c.Param("id"), revokedBy); err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"revoked": true})
}

// GET /api/v1/admin/permissions/users/:userId?company_id=...
func (h *PermissionHandler) ListForUser(c *gin.Context) {
	companyID := c.Query("company_id")
	if companyID == "" {
		response.Error(c, errors.NewBadRequest("company_id is required"))
		return
	}

	perms, err := h.svc.ListForUser(c.Request.Context(), c.Param("userId"), companyID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, perms)
}
