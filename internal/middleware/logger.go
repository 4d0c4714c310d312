package middleware

import (
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/loomworks/fabricgate/pkg/logger"
)

// Logger writes a concise structured access log for each request, including the
// policy decision metadata when enforcement ran.
func Logger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		method := c.Request.Method

		c.Next()

		fields := []zap.Field{
			zap.String("method", method),
			zap.String("path", path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("duration", time.Since(start)),
			zap.String("client_ip", c.ClientIP()),
		}
		if decision := c.GetString(CtxDecisionKey); decision != "" {
			fields = append(fields,
				zap.String("decision", decision),
				zap.String("decision_reason", c.GetString(CtxReasonKey)),
			)
		}

		logger.WithComponent("http").Info("request", fields...)
	}
}
