package permissions

import (
	"strings"

	apperrors "github.com/charlesng35/kbguard/pkg/errors"
)

// Provenance names the channel that produced a decision.
const (
	ProvenanceSuperAdmin = "super_admin"
	ProvenanceDirect     = "direct"
	ProvenanceOwner      = "owner"
	ProvenanceDeny       = "deny"

	rolePrefix = "role:"
)

// Channels recorded in Decision.Checked, in evaluation order.
const (
	ChannelSuperAdmin = "super_admin"
	ChannelDirect     = "direct"
	ChannelRole       = "role"
	ChannelOwner      = "owner"
)

// Denial and allow reasons.
const (
	ReasonSuperAdmin     = "super administrator override"
	ReasonDirect         = "direct resource grant"
	ReasonOwner          = "resource owner"
	ReasonNoGrant        = "no relevant grant"
	ReasonInfrastructure = "infrastructure unavailable"
)

// RoleProvenance returns the provenance string for an allow produced by a role.
func RoleProvenance(code string) string {
	return rolePrefix + code
}

// ErrInfrastructure marks store or cache outages raised by the engine.
var ErrInfrastructure = apperrors.ErrInfrastructure

// Decision is the outcome of a single permission check. It is cached but never persisted.
type Decision struct {
	Allowed      bool     `json:"allowed"`
	Level        string   `json:"level,omitempty"`
	Provenance   string   `json:"provenance"`
	GrantedRoles []string `json:"granted_roles"`
	Reason       string   `json:"reason"`
	Checked      []string `json:"checked,omitempty"`
}

// RoleCode returns the role code when the decision was produced by a role grant.
func (d Decision) RoleCode() (string, bool) {
	if !strings.HasPrefix(d.Provenance, rolePrefix) {
		return "", false
	}
	return strings.TrimPrefix(d.Provenance, rolePrefix), true
}

func denyDecision(reason string, checked []string) Decision {
	return Decision{
		Allowed:      false,
		Provenance:   ProvenanceDeny,
		GrantedRoles: []string{},
		Reason:       reason,
		Checked:      checked,
	}
}

// CheckRequest identifies one capability check. An empty ResourceID is a tenant-global check.
type CheckRequest struct {
	UserID       string
	TenantID     string
	ResourceType ResourceType
	ResourceID   string
	Capability   Capability
}

// NewCheckRequest validates caller-supplied values and builds a CheckRequest.
func NewCheckRequest(userID, tenantID, resourceType, resourceID, capability string) (CheckRequest, error) {
	req := CheckRequest{
		UserID:     strings.TrimSpace(userID),
		TenantID:   strings.TrimSpace(tenantID),
		ResourceID: strings.TrimSpace(resourceID),
	}
	if req.UserID == "" {
		return CheckRequest{}, apperrors.NewValidation("user id is required")
	}
	if req.TenantID == "" {
		return CheckRequest{}, apperrors.NewValidation("tenant id is required")
	}

	rt, err := ParseResourceType(resourceType)
	if err != nil {
		return CheckRequest{}, err
	}
	parsedCap, err := ParseCapability(capability)
	if err != nil {
		return CheckRequest{}, err
	}
	req.ResourceType = rt
	req.Capability = parsedCap
	return req, nil
}

// Validate re-checks a request built without NewCheckRequest.
func (r CheckRequest) Validate() error {
	_, err := NewCheckRequest(r.UserID, r.TenantID, string(r.ResourceType), r.ResourceID, string(r.Capability))
	return err
}

// Global reports whether the request targets the tenant rather than a single resource.
func (r CheckRequest) Global() bool {
	return r.ResourceID == ""
}

// Permission returns the capability pair the request asks for.
func (r CheckRequest) Permission() PermissionRef {
	return PermissionRef{ResourceType: r.ResourceType, Capability: r.Capability}
}
