package permissions

import (
	"context"
	"time"

	"github.com/charlesng35/kbguard/internal/models"
)

// GrantScope is the (tenant, resource type, resource id) tuple a grant applies to. Empty
// type and id denote the tenant-global scope.
type GrantScope struct {
	TenantID     string
	ResourceType ResourceType
	ResourceID   string
}

// GlobalScope returns the tenant-wide scope.
func GlobalScope(tenantID string) GrantScope {
	return GrantScope{TenantID: tenantID}
}

// ResourceScope returns the scope of a single resource.
func ResourceScope(tenantID string, rt ResourceType, resourceID string) GrantScope {
	return GrantScope{TenantID: tenantID, ResourceType: rt, ResourceID: resourceID}
}

// IsGlobal reports whether the scope is tenant-wide.
func (s GrantScope) IsGlobal() bool {
	return s.ResourceID == ""
}

// Scope classifies the grant scope for the compatibility table.
func (s GrantScope) Scope() Scope {
	if s.IsGlobal() {
		return ScopeGlobal
	}
	return ScopeResource
}

// RoleGrant is the engine's view of an active user or team grant. Kind is parsed at the
// store boundary.
type RoleGrant struct {
	ID           string
	HolderID     string
	RoleID       string
	RoleCode     string
	Kind         RoleKind
	TenantID     string
	ResourceType ResourceType
	ResourceID   string
	ExpiresAt    *time.Time
}

// ActiveAt reports whether the grant is still in force at now. A grant expiring exactly
// at now is inactive.
func (g RoleGrant) ActiveAt(now time.Time) bool {
	return g.ExpiresAt == nil || now.Before(*g.ExpiresAt)
}

// Source tags where a candidate grant came from.
type Source string

const (
	SourceUser Source = "user"
	SourceTeam Source = "team"
)

// CandidateGrant is a grant from either channel, merged before evaluation.
type CandidateGrant struct {
	Grant  RoleGrant
	Source Source
}

// GrantReader is the read side of the grant store.
type GrantReader interface {
	// UserRoleGrants returns active grants held personally by the user at exactly scope.
	UserRoleGrants(ctx context.Context, userID string, scope GrantScope) ([]RoleGrant, error)
	// TeamRoleGrants returns active grants held by any of the teams at exactly scope.
	TeamRoleGrants(ctx context.Context, teamIDs []string, scope GrantScope) ([]RoleGrant, error)
	UserTeams(ctx context.Context, userID string) ([]string, error)
	// RolePermissions returns the active permission edges of a role, parsed into pairs.
	RolePermissions(ctx context.Context, roleID string) ([]PermissionRef, error)
	HasDirectPermission(ctx context.Context, req CheckRequest, now time.Time) (bool, error)
	ResourceOwner(ctx context.Context, tenantID string, rt ResourceType, resourceID string) (string, bool, error)
}

// TeamMembership enumerates the members of a team for invalidation.
type TeamMembership interface {
	TeamMembers(ctx context.Context, teamID string) ([]string, error)
}

// ReplaceResult reports the outcome of a single-role replace.
type ReplaceResult[T any] struct {
	Grant    *T
	Previous *T
	Noop     bool
}

// RevokeFilter selects active grants to deactivate. An empty ResourceType with a
// non-empty ResourceID matches the resource on any type.
type RevokeFilter struct {
	HolderID     string
	RoleID       string
	TenantID     string
	ResourceType ResourceType
	ResourceID   string
	RevokedBy    string
}

// RoleHolders lists the users and teams holding an active grant of a role.
type RoleHolders struct {
	UserIDs []string
	TeamIDs []string
}

// GrantWriter is the write side of the grant store. Every method is atomic.
type GrantWriter interface {
	FindRoleByCode(ctx context.Context, code string) (*models.Role, error)
	ListRoles(ctx context.Context) ([]models.Role, error)
	ReplaceUserGrant(ctx context.Context, grant *models.UserRoleGrant) (ReplaceResult[models.UserRoleGrant], error)
	ReplaceTeamGrant(ctx context.Context, grant *models.TeamRoleGrant) (ReplaceResult[models.TeamRoleGrant], error)
	DeactivateUserGrants(ctx context.Context, filter RevokeFilter, now time.Time) ([]models.UserRoleGrant, error)
	DeactivateTeamGrants(ctx context.Context, filter RevokeFilter, now time.Time) ([]models.TeamRoleGrant, error)
	UpsertDirectPermission(ctx context.Context, perm *models.ResourcePermission) error
	DeleteDirectPermission(ctx context.Context, userID, tenantID string, rt ResourceType, resourceID string, capability Capability) (bool, error)
	SetOwner(ctx context.Context, ownership *models.ResourceOwnership) (string, error)
	ForgetResource(ctx context.Context, rt ResourceType, resourceID string, revokedBy string, now time.Time) error
	SetRolePermissions(ctx context.Context, roleID string, refs []PermissionRef) error
	RoleHolders(ctx context.Context, roleID string) (RoleHolders, error)
}

// DenialRecorder receives denied checks when denial auditing is enabled.
type DenialRecorder interface {
	RecordDenial(ctx context.Context, req CheckRequest, decision Decision) error
}

// RoleDefinitionCache memoizes role permission sets. Loaders read RoleGeneration before
// fetching from the store and pass it back to PutRolePermissions.
type RoleDefinitionCache interface {
	GetRolePermissions(ctx context.Context, roleID string) ([]PermissionRef, bool)
	RoleGeneration(roleID string) uint64
	PutRolePermissions(ctx context.Context, roleID string, generation uint64, refs []PermissionRef)
}
