package gateway

import (
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/loomworks/fabricgate/internal/auth"
	"github.com/loomworks/fabricgate/internal/middleware"
	"github.com/loomworks/fabricgate/internal/models"
	"github.com/loomworks/fabricgate/internal/policy"
	"github.com/loomworks/fabricgate/pkg/errors"
	"github.com/loomworks/fabricgate/pkg/logger"
	"github.com/loomworks/fabricgate/pkg/response"
)

// Filter is the edge enforcement point. It runs before any other concern: structural
// validation first, then the same policy evaluation the service filter performs.
// Public paths skip evaluation and are forwarded with no identity attached.
type Filter struct {
	verifier    auth.TokenVerifier
	engine      *policy.Engine
	publicPaths []string
	log         *zap.Logger
}

// NewFilter constructs the gateway enforcement filter.
func NewFilter(verifier auth.TokenVerifier, engine *policy.Engine, publicPaths []string) *Filter {
	return &Filter{
		verifier:    verifier,
		engine:      engine,
		publicPaths: publicPaths,
		log:         logger.WithComponent("gateway-filter"),
	}
}

// Handler enforces policy on every request before it reaches the proxy.
func (f *Filter) Handler() gin.HandlerFunc {
	return func(c *gin.Context) {
		path := c.Request.URL.Path
		if f.isPublic(path) {
			c.Next()
			return
		}

		header := c.GetHeader("Authorization")
		if len(header) < 8 || !strings.EqualFold(header[:7], "Bearer ") {
			response.Error(c, errors.ErrUnauthorized)
			c.Abort()
			return
		}

		claims, err := f.verifier.Verify(strings.TrimSpace(header[7:]))
		if err != nil {
			c.Header("WWW-Authenticate", "Bearer")
			response.Error(c, errors.ErrUnauthorized)
			c.Abort()
			return
		}

		// Cheap structural checks happen before any engine work: a token whose
		// identity fields are not well-formed UUIDs is rejected outright.
		if _, err := uuid.Parse(claims.UserID); err != nil {
			response.Error(c, errors.ErrMalformedIdentity)
			c.Abort()
			return
		}
		if _, err := uuid.Parse(claims.CompanyID); err != nil {
			response.Error(c, errors.ErrMalformedIdentity)
			c.Abort()
			return
		}

		evalCtx, err := policy.BuildContext(policy.RequestMeta{
			Method:        c.Request.Method,
			Path:          path,
			CorrelationID: c.GetHeader("X-Correlation-ID"),
			RequestID:     c.GetHeader("X-Request-ID"),
			RemoteIP:      c.ClientIP(),
		}, policy.Identity{
			UserID:      claims.UserID,
			CompanyID:   claims.CompanyID,
			CompanyType: models.CompanyType(claims.CompanyType),
			Roles:       claims.Roles,
		})
		if err != nil {
			response.Error(c, errors.ErrUnauthorized)
			c.Abort()
			return
		}

		decision := f.engine.Evaluate(c.Request.Context(), evalCtx)
		if !decision.Allowed() {
			f.log.Info("request denied at edge",
				zap.String("endpoint", evalCtx.Endpoint),
				zap.String("reason", decision.Reason),
				zap.String("user_id", evalCtx.UserID),
				zap.String("correlation_id", decision.CorrelationID),
			)
			response.Error(c, errors.ErrPolicyDenied.WithMessage(decision.Reason))
			c.Abort()
			return
		}

		annotateRequest(c, claims, evalCtx)
		c.Next()
	}
}

func (f *Filter) isPublic(path string) bool {
	for _, prefix := range f.publicPaths {
		if prefix != "" && strings.HasPrefix(path, prefix) {
			return true
		}
	}
	return false
}

// annotateRequest attaches identity and correlation headers for downstream services.
func annotateRequest(c *gin.Context, claims *auth.Claims, evalCtx *policy.Context) {
	req := c.Request
	req.Header.Set(middleware.HeaderUserID, claims.UserID)
	req.Header.Set(middleware.HeaderCompanyID, claims.CompanyID)
	req.Header.Set(middleware.HeaderCompanyType, claims.CompanyType)
	req.Header.Set(middleware.HeaderRoles, strings.Join(evalCtx.Roles, ","))
	req.Header.Set("X-Correlation-ID", evalCtx.CorrelationID)
	req.Header.Set("X-Request-ID", evalCtx.RequestID)
}
