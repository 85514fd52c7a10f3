package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/charlesng35/kbguard/internal/services"
	"github.com/charlesng35/kbguard/pkg/response"
)

// RoleHandler exposes the role catalog, custom role management and grant listings.
type RoleHandler struct {
	svc *services.RoleService
}

// NewRoleHandler constructs a RoleHandler.
func NewRoleHandler(svc *services.RoleService) (*RoleHandler, error) {
	if svc == nil {
		return nil, errors.New("role handler: role service is required")
	}
	return &RoleHandler{svc: svc}, nil
}

// GET /api/roles
func (h *RoleHandler) Catalog(c *gin.Context) {
	roles, err := h.svc.Catalog(requestContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, roles)
}

// POST /api/roles
func (h *RoleHandler) Create(c *gin.Context) {
	var input services.CreateRoleInput
	if !bindJSON(c, &input) {
		return
	}
	input.TenantID = tenantOr(c, input.TenantID)
	input.ActorID = actorID(c)

	role, err := h.svc.CreateRole(requestContext(c), input)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusCreated, role)
}

// PATCH /api/roles/:roleID
func (h *RoleHandler) Update(c *gin.Context) {
	var input services.UpdateRoleInput
	if !bindJSON(c, &input) {
		return
	}
	input.TenantID = tenantOr(c, input.TenantID)
	input.ActorID = actorID(c)

	role, err := h.svc.UpdateRole(requestContext(c), c.Param("roleID"), input)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, role)
}

// DELETE /api/roles/:roleID
func (h *RoleHandler) Delete(c *gin.Context) {
	if err := h.svc.DeleteRole(requestContext(c), actorID(c), c.Param("roleID"), tenantQuery(c)); err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"deleted": true})
}

// PUT /api/roles/:roleID/permissions
func (h *RoleHandler) SetPermissions(c *gin.Context) {
	var input services.SetRolePermissionsInput
	if !bindJSON(c, &input) {
		return
	}
	input.TenantID = tenantOr(c, input.TenantID)
	input.ActorID = actorID(c)

	if err := h.svc.SetRolePermissions(requestContext(c), c.Param("roleID"), input); err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"updated": true})
}

// GET /api/users/:userID/roles
func (h *RoleHandler) ListUserRoles(c *gin.Context) {
	grants, err := h.svc.ListUserRoles(requestContext(c), actorID(c), c.Param("userID"), tenantQuery(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, grants)
}

// GET /api/teams/:teamID/roles
func (h *RoleHandler) ListTeamRoles(c *gin.Context) {
	grants, err := h.svc.ListTeamRoles(requestContext(c), actorID(c), c.Param("teamID"), tenantQuery(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, grants)
}

// GET /api/users/:userID/permissions
func (h *RoleHandler) ListUserPermissions(c *gin.Context) {
	perms, err := h.svc.ListUserPermissions(requestContext(c), actorID(c), c.Param("userID"), tenantQuery(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, perms)
}
