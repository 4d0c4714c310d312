package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/loomworks/fabricgate/internal/services"
	"github.com/loomworks/fabricgate/pkg/errors"
	"github.com/loomworks/fabricgate/pkg/response"
)

// RegistryHandler exposes the admin mutation API for policy registry entries.
type RegistryHandler struct {
	svc *services.RegistryService
}

// NewRegistryHandler constructs the handler.
func NewRegistryHandler(svc *services.RegistryService) (*RegistryHandler, error) {
	if svc == nil {
		return nil, errors.ErrInternalServer.WithMessage("registry service is required")
	}
	return &RegistryHandler{svc: svc}, nil
}

// GET /api/v1/admin/policies
func (h *RegistryHandler) List(c *gin.Context) {
	entries, err := h.svc.List(c.Request.Context())
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, entries)
}

// GET /api/v1/admin/policies/:id
func (h *RegistryHandler) Get(c *gin.Context) {
	entry, err := h.svc.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, entry)
}

// POST /api/v1/admin/policies
func (h *RegistryHandler) Create(c *gin.Context) {
	var input services.RegistryEntryInput
	if err := c.ShouldBindJSON(&input); err != nil {
		response.Error(c, errors.NewBadRequest("invalid request body"))
		return
	}

	entry, err := h.svc.Create(c.Request.Context(), input)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusCreated, entry)
}

// PUT /api/v1/admin/policies/:id
func (h *RegistryHandler) Update(c *gin.Context) {
	var input services.RegistryEntryInput
	if err := c.ShouldBindJSON(&input); err != nil {
		response.Error(c, errors.NewBadRequest("invalid request body"))
		return
	}

	entry, err := h.svc.Update(c.Request.Context(), c.Param("id"), input)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, entry)
}

// DELETE /api/v1/admin/policies/:id deactivates the entry; rows are never removed.
func (h *RegistryHandler) Deactivate(c *gin.Context) {
	if err := h.svc.Deactivate(c.Request.Context(), c.Param("id")); err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"deactivated": true})
}
