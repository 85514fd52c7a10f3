package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/charlesng35/kbguard/internal/permissions"
	"github.com/charlesng35/kbguard/pkg/errors"
	"github.com/charlesng35/kbguard/pkg/logger"
	"github.com/charlesng35/kbguard/pkg/response"
)

// TenantFunc extracts the tenant a route operates on.
type TenantFunc func(c *gin.Context) string

// TenantFromRequest reads tenant_id from the query string and falls back to the tid
// claim of the caller's token.
func TenantFromRequest(c *gin.Context) string {
	if tenant := strings.TrimSpace(c.Query("tenant_id")); tenant != "" {
		return tenant
	}
	return c.GetString(CtxTenantIDKey)
}

// RequireCapability aborts unless the authenticated user holds capability at tenant scope
// for rt. An infrastructure deny maps to 503 so callers can tell it from a refusal.
func RequireCapability(checker *permissions.Checker, tenant TenantFunc, rt permissions.ResourceType, capability permissions.Capability) gin.HandlerFunc {
	if tenant == nil {
		tenant = TenantFromRequest
	}
	return func(c *gin.Context) {
		userID := c.GetString(CtxUserIDKey)
		if userID == "" {
			response.Error(c, errors.ErrUnauthorized)
			c.Abort()
			return
		}

		tenantID := tenant(c)
		if tenantID == "" {
			response.Error(c, errors.NewValidation("tenant_id is required"))
			c.Abort()
			return
		}

		decision, err := checker.CheckPermission(c.Request.Context(), permissions.CheckRequest{
			UserID:       userID,
			TenantID:     tenantID,
			ResourceType: rt,
			Capability:   capability,
		})
		if err != nil {
			logger.WithModule("http").Warn("route permission check failed",
				zap.String("user_id", userID),
				zap.String("path", c.FullPath()),
				zap.Error(err),
			)
			response.Error(c, err)
			c.Abort()
			return
		}
		if !decision.Allowed {
			if decision.Reason == permissions.ReasonInfrastructure {
				response.Error(c, errors.ErrInfrastructure)
			} else {
				response.Error(c, errors.ErrForbidden)
			}
			c.Abort()
			return
		}
		c.Next()
	}
}
