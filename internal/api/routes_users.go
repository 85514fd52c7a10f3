package api

import (
	"github.com/gin-gonic/gin"

	"github.com/charlesng35/kbguard/internal/handlers"
)

func registerUserRoutes(api *gin.RouterGroup, roles *handlers.RoleHandler, grants *handlers.GrantHandler) {
	users := api.Group("/users/:userID")
	{
		users.GET("/roles", roles.ListUserRoles)
		users.POST("/roles", grants.GrantUserRole)
		users.DELETE("/roles", grants.RevokeUserRole)
		users.GET("/permissions", roles.ListUserPermissions)
		users.POST("/direct-permissions", grants.GrantDirect)
		users.DELETE("/direct-permissions", grants.RevokeDirect)
	}
}
