package api

import (
	"github.com/gin-gonic/gin"

	"github.com/charlesng35/kbguard/internal/handlers"
)

func registerTeamRoutes(api *gin.RouterGroup, roles *handlers.RoleHandler, grants *handlers.GrantHandler, teams *handlers.TeamHandler, tenantAdmin gin.HandlerFunc) {
	group := api.Group("/teams/:teamID")
	{
		group.GET("/roles", roles.ListTeamRoles)
		group.POST("/roles", grants.GrantTeamRole)
		group.DELETE("/roles", grants.RevokeTeamRole)
		group.GET("/members", teams.ListMembers)
		group.POST("/members", teams.AddMember)
		group.DELETE("/members/:userID", teams.RemoveMember)
		group.POST("/members/changed", tenantAdmin, grants.MembershipChanged)
	}
}
