package api

import (
	"github.com/gin-gonic/gin"

	"github.com/charlesng35/kbguard/internal/handlers"
)

func registerPermissionRoutes(api *gin.RouterGroup, handler *handlers.PermissionHandler, limiter gin.HandlerFunc) {
	api.GET("/permissions", handler.Registry)
	api.POST("/permissions/check", limiter, handler.Check)
}
