package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/charlesng35/kbguard/internal/permissions"
	"github.com/charlesng35/kbguard/internal/services"
	"github.com/charlesng35/kbguard/pkg/response"
)

// GrantHandler exposes role, direct permission and ownership mutations.
type GrantHandler struct {
	svc *services.GrantService
}

// NewGrantHandler constructs a GrantHandler.
func NewGrantHandler(svc *services.GrantService) (*GrantHandler, error) {
	if svc == nil {
		return nil, errors.New("grant handler: grant service is required")
	}
	return &GrantHandler{svc: svc}, nil
}

type grantResponse[T any] struct {
	Grant    *T   `json:"grant"`
	Previous *T   `json:"previous"`
	Noop     bool `json:"noop"`
}

func writeGrant[T any](c *gin.Context, result permissions.ReplaceResult[T]) {
	status := http.StatusCreated
	if result.Noop {
		status = http.StatusOK
	}
	response.Success(c, status, grantResponse[T]{Grant: result.Grant, Previous: result.Previous, Noop: result.Noop})
}

func (h *GrantHandler) grantInput(c *gin.Context, holder string) (services.GrantRoleInput, bool) {
	var input services.GrantRoleInput
	if !bindJSON(c, &input) {
		return input, false
	}
	input.HolderID = c.Param(holder)
	input.TenantID = tenantOr(c, input.TenantID)
	input.ActorID = actorID(c)
	return input, true
}

func (h *GrantHandler) revokeInput(c *gin.Context, holder string) (services.RevokeRoleInput, bool) {
	var input services.RevokeRoleInput
	if !bindJSON(c, &input) {
		return input, false
	}
	input.HolderID = c.Param(holder)
	input.TenantID = tenantOr(c, input.TenantID)
	input.ActorID = actorID(c)
	return input, true
}

// POST /api/users/:userID/roles
func (h *GrantHandler) GrantUserRole(c *gin.Context) {
	input, ok := h.grantInput(c, "userID")
	if !ok {
		return
	}
	result, err := h.svc.GrantUserRole(requestContext(c), input)
	if err != nil {
		response.Error(c, err)
		return
	}
	writeGrant(c, result)
}

// DELETE /api/users/:userID/roles
func (h *GrantHandler) RevokeUserRole(c *gin.Context) {
	input, ok := h.revokeInput(c, "userID")
	if !ok {
		return
	}
	revoked, err := h.svc.RevokeUserRole(requestContext(c), input)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"revoked": revoked})
}

// POST /api/teams/:teamID/roles
func (h *GrantHandler) GrantTeamRole(c *gin.Context) {
	input, ok := h.grantInput(c, "teamID")
	if !ok {
		return
	}
	result, err := h.svc.GrantTeamRole(requestContext(c), input)
	if err != nil {
		response.Error(c, err)
		return
	}
	writeGrant(c, result)
}

// DELETE /api/teams/:teamID/roles
func (h *GrantHandler) RevokeTeamRole(c *gin.Context) {
	input, ok := h.revokeInput(c, "teamID")
	if !ok {
		return
	}
	revoked, err := h.svc.RevokeTeamRole(requestContext(c), input)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"revoked": revoked})
}

func (h *GrantHandler) directInput(c *gin.Context) (services.DirectPermissionInput, bool) {
	var input services.DirectPermissionInput
	if !bindJSON(c, &input) {
		return input, false
	}
	input.UserID = c.Param("userID")
	input.TenantID = tenantOr(c, input.TenantID)
	input.ActorID = actorID(c)
	return input, true
}

// POST /api/users/:userID/direct-permissions
func (h *GrantHandler) GrantDirect(c *gin.Context) {
	input, ok := h.directInput(c)
	if !ok {
		return
	}
	perm, err := h.svc.GrantDirectPermission(requestContext(c), input)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusCreated, perm)
}

// DELETE /api/users/:userID/direct-permissions
func (h *GrantHandler) RevokeDirect(c *gin.Context) {
	input, ok := h.directInput(c)
	if !ok {
		return
	}
	if err := h.svc.RevokeDirectPermission(requestContext(c), input); err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"revoked": true})
}

// PUT /api/resources/:type/:id/owner
func (h *GrantHandler) TransferOwnership(c *gin.Context) {
	var input services.OwnershipInput
	if !bindJSON(c, &input) {
		return
	}
	input.TenantID = tenantOr(c, input.TenantID)
	input.ResourceType = c.Param("type")
	input.ResourceID = c.Param("id")
	input.ActorID = actorID(c)

	previous, err := h.svc.TransferOwnership(requestContext(c), input)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{
		"owner_id":          input.OwnerID,
		"previous_owner_id": previous,
	})
}

// DELETE /api/resources/:type/:id
func (h *GrantHandler) ForgetResource(c *gin.Context) {
	input := services.ForgetResourceInput{
		TenantID:     tenantQuery(c),
		ResourceType: c.Param("type"),
		ResourceID:   c.Param("id"),
		ActorID:      actorID(c),
	}
	if err := h.svc.ForgetResource(requestContext(c), input); err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"forgotten": true})
}

// POST /api/teams/:teamID/members/changed
func (h *GrantHandler) MembershipChanged(c *gin.Context) {
	var change services.MembershipChange
	if !bindJSON(c, &change) {
		return
	}
	change.TeamID = c.Param("teamID")
	change.TenantID = tenantOr(c, change.TenantID)
	change.ActorID = actorID(c)

	if err := h.svc.NotifyMembershipChanged(requestContext(c), change); err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"invalidated": true})
}
