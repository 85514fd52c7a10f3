package api

import (
	"github.com/gin-gonic/gin"

	"github.com/charlesng35/kbguard/internal/handlers"
)

func registerCacheRoutes(api *gin.RouterGroup, handler *handlers.CacheHandler, tenantAdmin gin.HandlerFunc) {
	group := api.Group("/cache", tenantAdmin)
	{
		group.GET("/stats", handler.Stats)
		group.POST("/sweep", handler.Sweep)
	}
}
