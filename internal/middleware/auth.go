package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/charlesng35/kbguard/internal/auditctx"
	iauth "github.com/charlesng35/kbguard/internal/auth"
	"github.com/charlesng35/kbguard/pkg/errors"
	"github.com/charlesng35/kbguard/pkg/response"
)

const (
	CtxClaimsKey    = "authClaims"
	CtxUserIDKey    = "userID"
	CtxTenantIDKey  = "tenantID"
	CtxRequestIDKey = response.RequestIDKey
)

// Auth enforces bearer JWT authentication. The uid claim becomes the acting user for
// every service call made while serving the request.
func Auth(jwt *iauth.JWTService) gin.HandlerFunc {
	return func(c *gin.Context) {
		authz := c.GetHeader("Authorization")
		if len(authz) < 8 || !strings.EqualFold(authz[:7], "Bearer ") {
			c.Header("WWW-Authenticate", "Bearer")
			response.Error(c, errors.ErrUnauthorized)
			c.Abort()
			return
		}

		claims, err := jwt.ValidateAccessToken(strings.TrimSpace(authz[7:]))
		if err != nil {
			// Normalise all validation failures to 401
			c.Header("WWW-Authenticate", "Bearer")
			response.Error(c, errors.ErrUnauthorized)
			c.Abort()
			return
		}

		c.Set(CtxClaimsKey, claims)
		c.Set(CtxUserIDKey, claims.UserID)
		if claims.TenantID != "" {
			c.Set(CtxTenantIDKey, claims.TenantID)
		}

		ctx := auditctx.WithActor(c.Request.Context(), auditctx.Actor{
			UserID:    claims.UserID,
			TenantID:  claims.TenantID,
			IPAddress: c.ClientIP(),
			UserAgent: c.Request.UserAgent(),
			RequestID: c.GetString(CtxRequestIDKey),
		})
		c.Request = c.Request.WithContext(ctx)

		c.Next()
	}
}
