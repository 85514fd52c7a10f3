package handlers

import (
	"context"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/charlesng35/kbguard/internal/middleware"
)

// requestContext safely returns the request context with a background fallback for tests.
func requestContext(c *gin.Context) context.Context {
	if c == nil {
		return context.Background()
	}
	if req := c.Request; req != nil {
		return req.Context()
	}
	return context.Background()
}

// actorID returns the authenticated caller set by the auth middleware.
func actorID(c *gin.Context) string {
	if c == nil {
		return ""
	}
	return c.GetString(middleware.CtxUserIDKey)
}

// tenantQuery reads tenant_id from the query string, falling back to the caller's token tenant.
func tenantQuery(c *gin.Context) string {
	return middleware.TenantFromRequest(c)
}

// tenantOr prefers an explicit body tenant over the request tenant.
func tenantOr(c *gin.Context, explicit string) string {
	if tenant := strings.TrimSpace(explicit); tenant != "" {
		return tenant
	}
	return tenantQuery(c)
}
