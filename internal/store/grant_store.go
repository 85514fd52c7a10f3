package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/charlesng35/kbguard/internal/models"
	"github.com/charlesng35/kbguard/internal/permissions"
	"github.com/charlesng35/kbguard/pkg/logger"
)

// ErrNotFound is returned when a looked-up record does not exist.
var ErrNotFound = errors.New("store: record not found")

// GrantStore is the gorm-backed grant store. It implements permissions.GrantReader,
// permissions.GrantWriter and permissions.TeamMembership.
type GrantStore struct {
	db  *gorm.DB
	log *zap.Logger
}

var (
	_ permissions.GrantReader    = (*GrantStore)(nil)
	_ permissions.GrantWriter    = (*GrantStore)(nil)
	_ permissions.TeamMembership = (*GrantStore)(nil)
)

// NewGrantStore constructs a GrantStore using the provided database handle.
func NewGrantStore(db *gorm.DB) (*GrantStore, error) {
	if db == nil {
		return nil, errors.New("grant store: db is required")
	}
	return &GrantStore{db: db, log: logger.WithModule("store")}, nil
}

// DB exposes the underlying handle for health checks.
func (s *GrantStore) DB() *gorm.DB {
	return s.db
}

// UserRoleGrants returns the active grants held by userID at exactly scope.
func (s *GrantStore) UserRoleGrants(ctx context.Context, userID string, scope permissions.GrantScope) ([]permissions.RoleGrant, error) {
	ctx = ensureContext(ctx)

	var rows []models.UserRoleGrant
	err := scopeQuery(s.db.WithContext(ctx), scope).
		Preload("Role").
		Where("user_id = ? AND active = ?", userID, true).
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("grant store: user grants: %w", err)
	}

	out := make([]permissions.RoleGrant, 0, len(rows))
	for i := range rows {
		row := &rows[i]
		if grant, ok := s.roleGrant(row.ID, row.UserID, row.Role, row.TenantID, row.ResourceType, row.ResourceID, row.ExpiresAt); ok {
			out = append(out, grant)
		}
	}
	return out, nil
}

// TeamRoleGrants returns the active grants held by any of teamIDs at exactly scope.
func (s *GrantStore) TeamRoleGrants(ctx context.Context, teamIDs []string, scope permissions.GrantScope) ([]permissions.RoleGrant, error) {
	ctx = ensureContext(ctx)
	if len(teamIDs) == 0 {
		return []permissions.RoleGrant{}, nil
	}

	var rows []models.TeamRoleGrant
	err := scopeQuery(s.db.WithContext(ctx), scope).
		Preload("Role").
		Where("team_id IN ? AND active = ?", teamIDs, true).
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("grant store: team grants: %w", err)
	}

	out := make([]permissions.RoleGrant, 0, len(rows))
	for i := range rows {
		row := &rows[i]
		if grant, ok := s.roleGrant(row.ID, row.TeamID, row.Role, row.TenantID, row.ResourceType, row.ResourceID, row.ExpiresAt); ok {
			out = append(out, grant)
		}
	}
	return out, nil
}

func (s *GrantStore) roleGrant(id, holderID string, role *models.Role, tenantID, resourceType, resourceID string, expiresAt *time.Time) (permissions.RoleGrant, bool) {
	if role == nil {
		s.log.Warn("grant references missing role", zap.String("grant_id", id))
		return permissions.RoleGrant{}, false
	}
	kind, err := permissions.ParseRoleKind(role.Kind)
	if err != nil {
		s.log.Warn("grant references role with unknown kind",
			zap.String("grant_id", id),
			zap.String("role", role.Code),
			zap.String("kind", role.Kind))
		return permissions.RoleGrant{}, false
	}
	return permissions.RoleGrant{
		ID:           id,
		HolderID:     holderID,
		RoleID:       role.ID,
		RoleCode:     role.Code,
		Kind:         kind,
		TenantID:     tenantID,
		ResourceType: permissions.ResourceType(resourceType),
		ResourceID:   resourceID,
		ExpiresAt:    expiresAt,
	}, true
}

// UserTeams lists the teams userID belongs to.
func (s *GrantStore) UserTeams(ctx context.Context, userID string) ([]string, error) {
	ctx = ensureContext(ctx)

	teams := []string{}
	if err := s.db.WithContext(ctx).
		Model(&models.TeamMember{}).
		Where("user_id = ?", userID).
		Order("team_id").
		Pluck("team_id", &teams).Error; err != nil {
		return nil, fmt.Errorf("grant store: user teams: %w", err)
	}
	return teams, nil
}

// TeamMembers lists the members of teamID.
func (s *GrantStore) TeamMembers(ctx context.Context, teamID string) ([]string, error) {
	ctx = ensureContext(ctx)

	members := []string{}
	if err := s.db.WithContext(ctx).
		Model(&models.TeamMember{}).
		Where("team_id = ?", teamID).
		Order("user_id").
		Pluck("user_id", &members).Error; err != nil {
		return nil, fmt.Errorf("grant store: team members: %w", err)
	}
	return members, nil
}

// RolePermissions returns the active permission edges of roleID. Codes that no longer parse
// into the catalog are skipped.
func (s *GrantStore) RolePermissions(ctx context.Context, roleID string) ([]permissions.PermissionRef, error) {
	ctx = ensureContext(ctx)

	var codes []string
	err := s.db.WithContext(ctx).
		Table("role_permissions").
		Joins("JOIN permissions ON permissions.id = role_permissions.permission_id").
		Where("role_permissions.role_id = ? AND role_permissions.active = ?", roleID, true).
		Order("permissions.code").
		Pluck("permissions.code", &codes).Error
	if err != nil {
		return nil, fmt.Errorf("grant store: role permissions: %w", err)
	}

	refs := make([]permissions.PermissionRef, 0, len(codes))
	for _, code := range codes {
		ref, err := permissions.ParsePermissionCode(code)
		if err != nil {
			s.log.Warn("skipping unknown permission code", zap.String("role_id", roleID), zap.String("code", code))
			continue
		}
		refs = append(refs, ref)
	}
	return refs, nil
}

// HasDirectPermission reports whether an unexpired direct grant matches req exactly.
func (s *GrantStore) HasDirectPermission(ctx context.Context, req permissions.CheckRequest, now time.Time) (bool, error) {
	ctx = ensureContext(ctx)

	var count int64
	err := s.db.WithContext(ctx).
		Model(&models.ResourcePermission{}).
		Where("user_id = ? AND tenant_id = ? AND resource_type = ? AND resource_id = ? AND capability = ?",
			req.UserID, req.TenantID, string(req.ResourceType), req.ResourceID, string(req.Capability)).
		Where("expires_at IS NULL OR expires_at > ?", now.UTC()).
		Count(&count).Error
	if err != nil {
		return false, fmt.Errorf("grant store: direct permission: %w", err)
	}
	return count > 0, nil
}

// ResourceOwner returns the owner of a resource within tenantID.
func (s *GrantStore) ResourceOwner(ctx context.Context, tenantID string, rt permissions.ResourceType, resourceID string) (string, bool, error) {
	ctx = ensureContext(ctx)

	var ownership models.ResourceOwnership
	err := s.db.WithContext(ctx).
		Where("resource_type = ? AND resource_id = ? AND tenant_id = ?", string(rt), resourceID, tenantID).
		Take(&ownership).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("grant store: resource owner: %w", err)
	}
	return ownership.OwnerID, true, nil
}

// ListUserGrants returns the active grants of userID in tenantID across every scope.
func (s *GrantStore) ListUserGrants(ctx context.Context, userID, tenantID string) ([]models.UserRoleGrant, error) {
	ctx = ensureContext(ctx)

	var rows []models.UserRoleGrant
	if err := s.db.WithContext(ctx).
		Preload("Role").
		Where("user_id = ? AND tenant_id = ? AND active = ?", userID, tenantID, true).
		Order("resource_type, resource_id, granted_at").
		Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("grant store: list user grants: %w", err)
	}
	return rows, nil
}

// ListTeamGrants returns the active grants of teamID in tenantID across every scope.
func (s *GrantStore) ListTeamGrants(ctx context.Context, teamID, tenantID string) ([]models.TeamRoleGrant, error) {
	ctx = ensureContext(ctx)

	var rows []models.TeamRoleGrant
	if err := s.db.WithContext(ctx).
		Preload("Role").
		Where("team_id = ? AND tenant_id = ? AND active = ?", teamID, tenantID, true).
		Order("resource_type, resource_id, granted_at").
		Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("grant store: list team grants: %w", err)
	}
	return rows, nil
}

// ListDirectPermissions returns the direct grants of userID in tenantID, including expired rows.
func (s *GrantStore) ListDirectPermissions(ctx context.Context, userID, tenantID string) ([]models.ResourcePermission, error) {
	ctx = ensureContext(ctx)

	var rows []models.ResourcePermission
	if err := s.db.WithContext(ctx).
		Where("user_id = ? AND tenant_id = ?", userID, tenantID).
		Order("resource_type, resource_id, capability").
		Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("grant store: list direct permissions: %w", err)
	}
	return rows, nil
}

// scopeQuery restricts a grant query to exactly one scope.
func scopeQuery(db *gorm.DB, scope permissions.GrantScope) *gorm.DB {
	db = db.Where("tenant_id = ?", scope.TenantID)
	if scope.IsGlobal() {
		return db.Where("resource_type = ? AND resource_id = ?", "", "")
	}
	return db.Where("resource_type = ? AND resource_id = ?", string(scope.ResourceType), scope.ResourceID)
}

func lockForUpdate(db *gorm.DB) *gorm.DB {
	return db.Clauses(clause.Locking{Strength: "UPDATE"})
}

func ensureContext(ctx context.Context) context.Context {
	if ctx == nil {
		return context.Background()
	}
	return ctx
}
