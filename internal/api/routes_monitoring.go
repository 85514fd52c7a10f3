package api

import (
	"github.com/gin-gonic/gin"

	"github.com/charlesng35/kbguard/internal/handlers"
)

func registerMonitoringRoutes(api *gin.RouterGroup, handler *handlers.MonitoringHandler, tenantAdmin gin.HandlerFunc) {
	if api == nil || handler == nil {
		return
	}

	group := api.Group("/monitoring")
	group.GET("/summary", tenantAdmin, handler.Summary)
}
