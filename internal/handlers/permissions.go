package handlers

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/charlesng35/kbguard/internal/permissions"
	apperrors "github.com/charlesng35/kbguard/pkg/errors"
	"github.com/charlesng35/kbguard/pkg/response"
)

// PermissionHandler answers permission checks and exposes the permission catalog.
type PermissionHandler struct {
	checker *permissions.Checker
}

// NewPermissionHandler constructs a PermissionHandler.
func NewPermissionHandler(checker *permissions.Checker) (*PermissionHandler, error) {
	if checker == nil {
		return nil, errors.New("permission handler: checker is required")
	}
	return &PermissionHandler{checker: checker}, nil
}

type checkPermissionRequest struct {
	UserID         string `json:"user_id"`
	TenantID       string `json:"tenant_id"`
	ResourceType   string `json:"resource_type"`
	ResourceID     string `json:"resource_id"`
	PermissionType string `json:"permission_type"`
}

type checkPermissionResponse struct {
	HasPermission   bool     `json:"has_permission"`
	PermissionLevel string   `json:"permission_level,omitempty"`
	GrantedRoles    []string `json:"granted_roles"`
	Reason          string   `json:"reason"`
	Provenance      string   `json:"provenance"`
}

type permissionDefinition struct {
	Code         string                   `json:"code"`
	ResourceType permissions.ResourceType `json:"resource_type"`
	Capability   permissions.Capability   `json:"capability"`
	Description  string                   `json:"description"`
}

// POST /api/permissions/check
//
// A caller may check itself; checking another user requires tenant admin. An infrastructure
// failure is still answered with 200 and has_permission=false.
func (h *PermissionHandler) Check(c *gin.Context) {
	var body checkPermissionRequest
	if !bindJSON(c, &body) {
		return
	}
	if strings.TrimSpace(body.UserID) == "" {
		body.UserID = actorID(c)
	}

	req, err := permissions.NewCheckRequest(body.UserID, tenantOr(c, body.TenantID), body.ResourceType, body.ResourceID, body.PermissionType)
	if err != nil {
		response.Error(c, err)
		return
	}

	if err := h.authorizeSubject(c, req); err != nil {
		response.Error(c, err)
		return
	}

	decision, err := h.checker.CheckPermission(requestContext(c), req)
	if err != nil {
		response.Error(c, err)
		return
	}

	roles := decision.GrantedRoles
	if roles == nil {
		roles = []string{}
	}
	response.Success(c, http.StatusOK, checkPermissionResponse{
		HasPermission:   decision.Allowed,
		PermissionLevel: decision.Level,
		GrantedRoles:    roles,
		Reason:          decision.Reason,
		Provenance:      decision.Provenance,
	})
}

func (h *PermissionHandler) authorizeSubject(c *gin.Context, req permissions.CheckRequest) error {
	actor := actorID(c)
	if actor == "" {
		return apperrors.ErrUnauthorized
	}
	if actor == req.UserID {
		return nil
	}

	decision, err := h.checker.CheckPermission(requestContext(c), permissions.CheckRequest{
		UserID:       actor,
		TenantID:     req.TenantID,
		ResourceType: permissions.ResourceTenant,
		Capability:   permissions.CapabilityAdmin,
	})
	if err != nil {
		return err
	}
	if decision.Allowed {
		return nil
	}
	if decision.Reason == permissions.ReasonInfrastructure {
		return apperrors.ErrInfrastructure.WithMessage("authorization could not be verified")
	}
	return apperrors.ErrForbidden.WithMessage("tenant admin required to check other users")
}

// GET /api/permissions
func (h *PermissionHandler) Registry(c *gin.Context) {
	defs := permissions.All()
	out := make([]permissionDefinition, 0, len(defs))
	for _, def := range defs {
		out = append(out, permissionDefinition{
			Code:         def.Code,
			ResourceType: def.ResourceType,
			Capability:   def.Capability,
			Description:  def.Description,
		})
	}
	response.Success(c, http.StatusOK, out)
}
