package api

import (
	"github.com/gin-gonic/gin"

	"github.com/charlesng35/kbguard/internal/handlers"
)

func registerResourceRoutes(api *gin.RouterGroup, grants *handlers.GrantHandler) {
	resources := api.Group("/resources/:type/:id")
	{
		resources.PUT("/owner", grants.TransferOwnership)
		resources.DELETE("", grants.ForgetResource)
	}
}
