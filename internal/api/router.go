package api

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"gorm.io/gorm"

	"github.com/loomworks/fabricgate/internal/app"
	"github.com/loomworks/fabricgate/internal/auth"
	"github.com/loomworks/fabricgate/internal/handlers"
	"github.com/loomworks/fabricgate/internal/middleware"
	"github.com/loomworks/fabricgate/internal/policy"
	"github.com/loomworks/fabricgate/internal/services"
)

// Deps bundles everything the router needs.
type Deps struct {
	DB          *gorm.DB
	Verifier    auth.TokenVerifier
	Engine      *policy.Engine
	Cache       *policy.Cache
	Registry    *services.RegistryService
	Permissions *services.PermissionService
	Audit       *services.AuditService
}

// NewRouter assembles the policy service HTTP surface: health/metrics, the
// policy-enforced API group, and the admin mutation endpoints.
func NewRouter(cfg *app.Config, deps Deps) (*gin.Engine, error) {
	router := gin.New()
	router.Use(middleware.Recovery())
	router.Use(middleware.Logger())
	router.Use(middleware.Metrics())
	router.NoRoute(middleware.NotFoundHandler)

	health := handlers.NewHealthHandler(deps.DB)
	router.GET("/healthz", health.Check)

	if cfg.Monitoring.Prometheus.Enabled {
		router.GET(cfg.Monitoring.Prometheus.Endpoint, gin.WrapH(promhttp.Handler()))
	}

	apiGroup := router.Group("/api/v1")
	apiGroup.Use(middleware.Auth(deps.Verifier))
	apiGroup.Use(middleware.PolicyEnforcement(deps.Engine, cfg.Policy.ServicePublicPaths))

	if err := registerPolicyRoutes(apiGroup, deps); err != nil {
		return nil, err
	}
	if err := registerAuditRoutes(apiGroup, deps); err != nil {
		return nil, err
	}

	return router, nil
}
