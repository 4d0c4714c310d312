package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/loomworks/fabricgate/internal/policy"
	"github.com/loomworks/fabricgate/pkg/errors"
	"github.com/loomworks/fabricgate/pkg/logger"
	"github.com/loomworks/fabricgate/pkg/response"
)

// Context keys carrying decision metadata for access logging.
const (
	CtxDecisionKey = "policyDecision"
	CtxReasonKey   = "policyReason"
)

// PolicyEnforcement is the service-level enforcement filter. It runs after Auth and
// re-evaluates the request even when the gateway already allowed it: this is the last
// line of defense when the gateway is bypassed, so any fault denies by default.
func PolicyEnforcement(engine *policy.Engine, publicPaths []string) gin.HandlerFunc {
	log := logger.WithComponent("policy-filter")

	return func(c *gin.Context) {
		if isPublicPath(c.Request.URL.Path, publicPaths) {
			c.Next()
			return
		}

		id, ok := IdentityFrom(c)
		if !ok {
			response.Error(c, errors.ErrUnauthorized)
			c.Abort()
			return
		}

		evalCtx, err := policy.BuildContext(policy.RequestMeta{
			Method:        c.Request.Method,
			Path:          c.Request.URL.Path,
			CorrelationID: c.GetHeader("X-Correlation-ID"),
			RequestID:     c.GetHeader("X-Request-ID"),
			RemoteIP:      c.ClientIP(),
		}, id)
		if err != nil {
			// Identity was present but unusable; never feed a partial context in.
			response.Error(c, errors.ErrUnauthorized)
			c.Abort()
			return
		}

		decision := engine.Evaluate(c.Request.Context(), evalCtx)
		c.Set(CtxDecisionKey, string(decision.Effect))
		c.Set(CtxReasonKey, decision.Reason)

		if !decision.Allowed() {
			log.Info("request denied",
				zap.String("endpoint", evalCtx.Endpoint),
				zap.String("reason", decision.Reason),
				zap.String("user_id", evalCtx.UserID),
				zap.String("correlation_id", decision.CorrelationID),
			)
			response.Error(c, errors.ErrPolicyDenied.WithMessage(decision.Reason))
			c.Abort()
			return
		}

		c.Next()
	}
}

func isPublicPath(path string, publicPaths []string) bool {
	for _, prefix := range publicPaths {
		if prefix != "" && strings.HasPrefix(path, prefix) {
			return true
		}
	}
	return false
}
