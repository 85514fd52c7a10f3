package api

import (
	"github.com/gin-gonic/gin"

	"github.com/charlesng35/kbguard/internal/handlers"
)

// Role mutations authorize inside the role service, since the required tier depends on the role.
func registerRoleRoutes(api *gin.RouterGroup, handler *handlers.RoleHandler) {
	roles := api.Group("/roles")
	{
		roles.GET("", handler.Catalog)
		roles.POST("", handler.Create)
		roles.PATCH("/:roleID", handler.Update)
		roles.DELETE("/:roleID", handler.Delete)
		roles.PUT("/:roleID/permissions", handler.SetPermissions)
	}
}
