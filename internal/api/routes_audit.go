package api

import (
	"github.com/gin-gonic/gin"

	"github.com/loomworks/fabricgate/internal/handlers"
)

func registerAuditRoutes(api *gin.RouterGroup, deps Deps) error {
	auditHandler, err := handlers.NewAuditHandler(deps.Audit)
	if err != nil {
		return err
	}

	audit := api.Group("/audit")
	{
		audit.GET("/users/:userId", auditHandler.RecentForUser)
		audit.GET("/denied", auditHandler.Denied)
		audit.GET("/stats", auditHandler.Stats)
	}

	return nil
}
