package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/charlesng35/kbguard/internal/services"
	"github.com/charlesng35/kbguard/pkg/response"
)

type TeamHandler struct {
	svc *services.TeamService
}

func NewTeamHandler(svc *services.TeamService) (*TeamHandler, error) {
	if svc == nil {
		return nil, errors.New("team handler: team service is required")
	}
	return &TeamHandler{svc: svc}, nil
}

// GET /api/teams/:teamID/members
func (h *TeamHandler) ListMembers(c *gin.Context) {
	members, err := h.svc.ListMembers(requestContext(c), actorID(c), tenantQuery(c), c.Param("teamID"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"team_id": c.Param("teamID"), "user_ids": members})
}

// POST /api/teams/:teamID/members
func (h *TeamHandler) AddMember(c *gin.Context) {
	var input services.TeamMemberInput
	if !bindJSON(c, &input) {
		return
	}
	input.TeamID = c.Param("teamID")
	input.TenantID = tenantOr(c, input.TenantID)
	input.ActorID = actorID(c)

	if err := h.svc.AddMember(requestContext(c), input); err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusCreated, gin.H{"added": true})
}

// DELETE /api/teams/:teamID/members/:userID
func (h *TeamHandler) RemoveMember(c *gin.Context) {
	input := services.TeamMemberInput{
		TeamID:   c.Param("teamID"),
		UserID:   c.Param("userID"),
		TenantID: tenantQuery(c),
		ActorID:  actorID(c),
	}
	if err := h.svc.RemoveMember(requestContext(c), input); err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"removed": true})
}
