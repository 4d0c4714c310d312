package api

import (
	"github.com/gin-gonic/gin"

	"github.com/loomworks/fabricgate/internal/handlers"
)

func registerPolicyRoutes(api *gin.RouterGroup, deps Deps) error {
	policyHandler, err := handlers.NewPolicyHandler(deps.Cache)
	if err != nil {
		return err
	}
	registryHandler, err := handlers.NewRegistryHandler(deps.Registry)
	if err != nil {
		return err
	}
	permissionHandler, err := handlers.NewPermissionHandler(deps.Permissions)
	if err != nil {
		return err
	}

	api.GET("/policies", policyHandler.TenantPolicies)
	api.GET("/policies/roles/:role", policyHandler.RolePolicies)

	admin := api.Group("/admin")
	{
		admin.GET("/policies", registryHandler.List)
		admin.GET("/policies/:id", registryHandler.Get)
		admin.POST("/policies", registryHandler.Create)
		admin.PUT("/policies/:id", registryHandler.Update)
		admin.DELETE("/policies/:id", registryHandler.Deactivate)

		admin.POST("/permissions", permissionHandler.Grant)
		admin.DELETE("/permissions/:id", permissionHandler.Revoke)
		admin.GET("/permissions/users/:userId", permissionHandler.ListForUser)
	}

	return nil
}
