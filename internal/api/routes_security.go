package api

import (
	"github.com/gin-gonic/gin"

	"github.com/charlesng35/kbguard/internal/handlers"
)

func registerSecurityRoutes(api *gin.RouterGroup, handler *handlers.SecurityHandler, tenantAdmin gin.HandlerFunc) {
	if handler == nil {
		return
	}
	api.GET("/security/audit", tenantAdmin, handler.Audit)
}
