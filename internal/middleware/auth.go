package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/loomworks/fabricgate/internal/auth"
	"github.com/loomworks/fabricgate/internal/models"
	"github.com/loomworks/fabricgate/internal/policy"
	"github.com/loomworks/fabricgate/pkg/errors"
	"github.com/loomworks/fabricgate/pkg/response"
)

// Context keys populated by the authentication middleware.
const (
	CtxIdentityKey = "policyIdentity"
	CtxUserIDKey   = "userID"
)

// Identity headers attached by the gateway for downstream services.
const (
	HeaderUserID      = "X-User-ID"
	HeaderCompanyID   = "X-Company-ID"
	HeaderCompanyType = "X-Company-Type"
	HeaderRoles       = "X-Roles"
)

// Auth attaches the authenticated identity to the request context. The identity comes
// from the bearer token when present, otherwise from the identity headers the gateway
// forwards for requests it already authenticated.
func Auth(verifier auth.TokenVerifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		if id, ok := identityFromToken(c, verifier); ok {
			attach(c, id)
			c.Next()
			return
		}

		if id, ok := identityFromHeaders(c); ok {
			attach(c, id)
			c.Next()
			return
		}

		c.Header("WWW-Authenticate", "Bearer")
		response.Error(c, errors.ErrUnauthorized)
		c.Abort()
	}
}

// IdentityFrom extracts the identity attached by Auth, if any.
func IdentityFrom(c *gin.Context) (policy.Identity, bool) {
	v, ok := c.Get(CtxIdentityKey)
	if !ok {
		return policy.Identity{}, false
	}
	id, ok := v.(policy.Identity)
	return id, ok
}

func attach(c *gin.Context, id policy.Identity) {
	c.Set(CtxIdentityKey, id)
	c.Set(CtxUserIDKey, id.UserID)
}

func identityFromToken(c *gin.Context, verifier auth.TokenVerifier) (policy.Identity, bool) {
	if verifier == nil {
		return policy.Identity{}, false
	}

	header := c.GetHeader("Authorization")
	if len(header) < 8 || !strings.EqualFold(header[:7], "Bearer ") {
		return policy.Identity{}, false
	}

	claims, err := verifier.Verify(strings.TrimSpace(header[7:]))
	if err != nil {
		return policy.Identity{}, false
	}

	return policy.Identity{
		UserID:      claims.UserID,
		CompanyID:   claims.CompanyID,
		CompanyType: models.CompanyType(claims.CompanyType),
		Roles:       claims.Roles,
	}, true
}

func identityFromHeaders(c *gin.Context) (policy.Identity, bool) {
	userID := strings.TrimSpace(c.GetHeader(HeaderUserID))
	companyID := strings.TrimSpace(c.GetHeader(HeaderCompanyID))
	if userID == "" || companyID == "" {
		return policy.Identity{}, false
	}

	var roles []string
	if raw := c.GetHeader(HeaderRoles); raw != "" {
		for _, role := range strings.Split(raw, ",") {
			if role = strings.TrimSpace(role); role != "" {
				roles = append(roles, role)
			}
		}
	}

	return policy.Identity{
		UserID:      userID,
		CompanyID:   companyID,
		CompanyType: models.CompanyType(strings.TrimSpace(c.GetHeader(HeaderCompanyType))),
		Roles:       roles,
	}, true
}
