package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/charlesng35/kbguard/internal/models"
	"github.com/charlesng35/kbguard/internal/permissions"
)

// FindRoleByCode loads a role and its permission edges by code.
func (s *GrantStore) FindRoleByCode(ctx context.Context, code string) (*models.Role, error) {
	ctx = ensureContext(ctx)

	var role models.Role
	err := s.db.WithContext(ctx).
		Preload("Permissions", "active = ?", true).
		Preload("Permissions.Permission").
		Where("code = ?", strings.TrimSpace(code)).
		Take(&role).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("grant store: find role: %w", err)
	}
	return &role, nil
}

// FindRoleByID loads a role and its permission edges by id.
func (s *GrantStore) FindRoleByID(ctx context.Context, roleID string) (*models.Role, error) {
	ctx = ensureContext(ctx)

	var role models.Role
	err := s.db.WithContext(ctx).
		Preload("Permissions", "active = ?", true).
		Preload("Permissions.Permission").
		Where("id = ?", roleID).
		Take(&role).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("grant store: find role: %w", err)
	}
	return &role, nil
}

// ListRoles returns every role with its active permission edges.
func (s *GrantStore) ListRoles(ctx context.Context) ([]models.Role, error) {
	ctx = ensureContext(ctx)

	var roles []models.Role
	if err := s.db.WithContext(ctx).
		Preload("Permissions", "active = ?", true).
		Preload("Permissions.Permission").
		Order("code ASC").
		Find(&roles).Error; err != nil {
		return nil, fmt.Errorf("grant store: list roles: %w", err)
	}
	return roles, nil
}

// CreateRole inserts a role together with its active permission set.
func (s *GrantStore) CreateRole(ctx context.Context, role *models.Role, refs []permissions.PermissionRef) error {
	ctx = ensureContext(ctx)

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Omit(clause.Associations).Create(role).Error; err != nil {
			return fmt.Errorf("insert role: %w", err)
		}
		return applyRolePermissions(tx, role.ID, refs)
	})
	if err != nil {
		return fmt.Errorf("grant store: create role: %w", err)
	}
	return nil
}

// UpdateRole applies column updates to a role.
func (s *GrantStore) UpdateRole(ctx context.Context, roleID string, updates map[string]any) error {
	ctx = ensureContext(ctx)

	result := s.db.WithContext(ctx).Model(&models.Role{}).Where("id = ?", roleID).Updates(updates)
	if result.Error != nil {
		return fmt.Errorf("grant store: update role: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteRole removes a role and its permission edges.
func (s *GrantStore) DeleteRole(ctx context.Context, roleID string) error {
	ctx = ensureContext(ctx)

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("role_id = ?", roleID).Delete(&models.RolePermission{}).Error; err != nil {
			return fmt.Errorf("grant store: delete role permissions: %w", err)
		}
		result := tx.Where("id = ?", roleID).Delete(&models.Role{})
		if result.Error != nil {
			return fmt.Errorf("grant store: delete role: %w", result.Error)
		}
		if result.RowsAffected == 0 {
			return ErrNotFound
		}
		return nil
	})
}

// RoleReferenced reports whether any grant row, active or historical, references roleID.
func (s *GrantStore) RoleReferenced(ctx context.Context, roleID string) (bool, error) {
	ctx = ensureContext(ctx)

	for _, model := range []any{&models.UserRoleGrant{}, &models.TeamRoleGrant{}} {
		var count int64
		if err := s.db.WithContext(ctx).Model(model).Where("role_id = ?", roleID).Count(&count).Error; err != nil {
			return false, fmt.Errorf("grant store: role references: %w", err)
		}
		if count > 0 {
			return true, nil
		}
	}
	return false, nil
}

// ReplaceUserGrant atomically deactivates the active grant on the target scope and inserts
// grant as the new active one. Re-granting the same role with the same expiry is a no-op.
func (s *GrantStore) ReplaceUserGrant(ctx context.Context, grant *models.UserRoleGrant) (permissions.ReplaceResult[models.UserRoleGrant], error) {
	ctx = ensureContext(ctx)

	var result permissions.ReplaceResult[models.UserRoleGrant]
	key := models.ScopeKey(models.HolderUser, grant.UserID, grant.TenantID, grant.ResourceType, grant.ResourceID)

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var current models.UserRoleGrant
		err := lockForUpdate(tx).Where("active_scope_key = ?", key).Take(&current).Error
		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
		case err != nil:
			return fmt.Errorf("load active grant: %w", err)
		default:
			if current.RoleID == grant.RoleID && sameExpiry(current.ExpiresAt, grant.ExpiresAt) && !current.ExpiredAt(grant.GrantedAt) {
				result = permissions.ReplaceResult[models.UserRoleGrant]{Grant: &current, Noop: true}
				return nil
			}
			if err := tx.Model(&current).Updates(deactivation(grant.GrantedAt, grant.GrantedBy)).Error; err != nil {
				return fmt.Errorf("deactivate grant: %w", err)
			}
			markInactive(&current.Active, &current.ActiveScopeKey, &current.RevokedAt, &current.RevokedBy, grant.GrantedAt, grant.GrantedBy)
			result.Previous = &current
		}

		grant.Active = true
		grant.ActiveScopeKey = &key
		grant.RevokedAt = nil
		grant.RevokedBy = ""
		if err := tx.Omit(clause.Associations).Create(grant).Error; err != nil {
			return fmt.Errorf("insert grant: %w", err)
		}
		result.Grant = grant
		return nil
	})
	if err != nil {
		return permissions.ReplaceResult[models.UserRoleGrant]{}, fmt.Errorf("grant store: replace user grant: %w", err)
	}
	return result, nil
}

// ReplaceTeamGrant is ReplaceUserGrant for teams.
func (s *GrantStore) ReplaceTeamGrant(ctx context.Context, grant *models.TeamRoleGrant) (permissions.ReplaceResult[models.TeamRoleGrant], error) {
	ctx = ensureContext(ctx)

	var result permissions.ReplaceResult[models.TeamRoleGrant]
	key := models.ScopeKey(models.HolderTeam, grant.TeamID, grant.TenantID, grant.ResourceType, grant.ResourceID)

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var current models.TeamRoleGrant
		err := lockForUpdate(tx).Where("active_scope_key = ?", key).Take(&current).Error
		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
		case err != nil:
			return fmt.Errorf("load active grant: %w", err)
		default:
			if current.RoleID == grant.RoleID && sameExpiry(current.ExpiresAt, grant.ExpiresAt) && !current.ExpiredAt(grant.GrantedAt) {
				result = permissions.ReplaceResult[models.TeamRoleGrant]{Grant: &current, Noop: true}
				return nil
			}
			if err := tx.Model(&current).Updates(deactivation(grant.GrantedAt, grant.GrantedBy)).Error; err != nil {
				return fmt.Errorf("deactivate grant: %w", err)
			}
			markInactive(&current.Active, &current.ActiveScopeKey, &current.RevokedAt, &current.RevokedBy, grant.GrantedAt, grant.GrantedBy)
			result.Previous = &current
		}

		grant.Active = true
		grant.ActiveScopeKey = &key
		grant.RevokedAt = nil
		grant.RevokedBy = ""
		if err := tx.Omit(clause.Associations).Create(grant).Error; err != nil {
			return fmt.Errorf("insert grant: %w", err)
		}
		result.Grant = grant
		return nil
	})
	if err != nil {
		return permissions.ReplaceResult[models.TeamRoleGrant]{}, fmt.Errorf("grant store: replace team grant: %w", err)
	}
	return result, nil
}

// DeactivateUserGrants deactivates every active user grant matching filter and returns them.
func (s *GrantStore) DeactivateUserGrants(ctx context.Context, filter permissions.RevokeFilter, now time.Time) ([]models.UserRoleGrant, error) {
	ctx = ensureContext(ctx)

	var rows []models.UserRoleGrant
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		query := revokeQuery(lockForUpdate(tx), filter).Where("user_id = ?", filter.HolderID)
		if err := query.Find(&rows).Error; err != nil {
			return fmt.Errorf("load grants: %w", err)
		}
		if len(rows) == 0 {
			return nil
		}

		ids := make([]string, 0, len(rows))
		for i := range rows {
			ids = append(ids, rows[i].ID)
			markInactive(&rows[i].Active, &rows[i].ActiveScopeKey, &rows[i].RevokedAt, &rows[i].RevokedBy, now, filter.RevokedBy)
		}
		if err := tx.Model(&models.UserRoleGrant{}).Where("id IN ?", ids).Updates(deactivation(now, filter.RevokedBy)).Error; err != nil {
			return fmt.Errorf("deactivate grants: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("grant store: deactivate user grants: %w", err)
	}
	return rows, nil
}

// DeactivateTeamGrants deactivates every active team grant matching filter and returns them.
func (s *GrantStore) DeactivateTeamGrants(ctx context.Context, filter permissions.RevokeFilter, now time.Time) ([]models.TeamRoleGrant, error) {
	ctx = ensureContext(ctx)

	var rows []models.TeamRoleGrant
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		query := revokeQuery(lockForUpdate(tx), filter).Where("team_id = ?", filter.HolderID)
		if err := query.Find(&rows).Error; err != nil {
			return fmt.Errorf("load grants: %w", err)
		}
		if len(rows) == 0 {
			return nil
		}

		ids := make([]string, 0, len(rows))
		for i := range rows {
			ids = append(ids, rows[i].ID)
			markInactive(&rows[i].Active, &rows[i].ActiveScopeKey, &rows[i].RevokedAt, &rows[i].RevokedBy, now, filter.RevokedBy)
		}
		if err := tx.Model(&models.TeamRoleGrant{}).Where("id IN ?", ids).Updates(deactivation(now, filter.RevokedBy)).Error; err != nil {
			return fmt.Errorf("deactivate grants: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("grant store: deactivate team grants: %w", err)
	}
	return rows, nil
}

// UpsertDirectPermission inserts a direct grant or refreshes the existing one.
func (s *GrantStore) UpsertDirectPermission(ctx context.Context, perm *models.ResourcePermission) error {
	ctx = ensureContext(ctx)

	if perm.ExpiresAt != nil {
		utc := perm.ExpiresAt.UTC()
		perm.ExpiresAt = &utc
	}
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{
			{Name: "user_id"},
			{Name: "tenant_id"},
			{Name: "resource_type"},
			{Name: "resource_id"},
			{Name: "capability"},
		},
		DoUpdates: clause.AssignmentColumns([]string{"granted_by", "expires_at", "metadata", "updated_at"}),
	}).Create(perm).Error
	if err != nil {
		return fmt.Errorf("grant store: upsert direct permission: %w", err)
	}
	return nil
}

// DeleteDirectPermission removes a direct grant and reports whether one existed.
func (s *GrantStore) DeleteDirectPermission(ctx context.Context, userID, tenantID string, rt permissions.ResourceType, resourceID string, capability permissions.Capability) (bool, error) {
	ctx = ensureContext(ctx)

	result := s.db.WithContext(ctx).
		Where("user_id = ? AND tenant_id = ? AND resource_type = ? AND resource_id = ? AND capability = ?",
			userID, tenantID, string(rt), resourceID, string(capability)).
		Delete(&models.ResourcePermission{})
	if result.Error != nil {
		return false, fmt.Errorf("grant store: delete direct permission: %w", result.Error)
	}
	return result.RowsAffected > 0, nil
}

// SetOwner records the owner of a resource and returns the previous owner, if any.
func (s *GrantStore) SetOwner(ctx context.Context, ownership *models.ResourceOwnership) (string, error) {
	ctx = ensureContext(ctx)

	var previous string
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var current models.ResourceOwnership
		err := lockForUpdate(tx).
			Where("resource_type = ? AND resource_id = ?", ownership.ResourceType, ownership.ResourceID).
			Take(&current).Error
		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
		case err != nil:
			return fmt.Errorf("load owner: %w", err)
		default:
			previous = current.OwnerID
		}

		return tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "resource_type"}, {Name: "resource_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"tenant_id", "owner_id", "updated_at"}),
		}).Create(ownership).Error
	})
	if err != nil {
		return "", fmt.Errorf("grant store: set owner: %w", err)
	}
	return previous, nil
}

// ForgetResource deactivates every grant on a resource and removes its direct grants and
// ownership record.
func (s *GrantStore) ForgetResource(ctx context.Context, rt permissions.ResourceType, resourceID string, revokedBy string, now time.Time) error {
	ctx = ensureContext(ctx)

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		updates := deactivation(now, revokedBy)
		for _, model := range []any{&models.UserRoleGrant{}, &models.TeamRoleGrant{}} {
			if err := tx.Model(model).
				Where("resource_type = ? AND resource_id = ? AND active = ?", string(rt), resourceID, true).
				Updates(updates).Error; err != nil {
				return fmt.Errorf("deactivate grants: %w", err)
			}
		}
		if err := tx.Where("resource_type = ? AND resource_id = ?", string(rt), resourceID).
			Delete(&models.ResourcePermission{}).Error; err != nil {
			return fmt.Errorf("delete direct permissions: %w", err)
		}
		if err := tx.Where("resource_type = ? AND resource_id = ?", string(rt), resourceID).
			Delete(&models.ResourceOwnership{}).Error; err != nil {
			return fmt.Errorf("delete owner: %w", err)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("grant store: forget resource: %w", err)
	}
	return nil
}

// SetRolePermissions makes refs the exact active permission set of roleID. Edges outside the
// set are kept but deactivated.
func (s *GrantStore) SetRolePermissions(ctx context.Context, roleID string, refs []permissions.PermissionRef) error {
	ctx = ensureContext(ctx)

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var count int64
		if err := tx.Model(&models.Role{}).Where("id = ?", roleID).Count(&count).Error; err != nil {
			return fmt.Errorf("load role: %w", err)
		}
		if count == 0 {
			return ErrNotFound
		}
		return applyRolePermissions(tx, roleID, refs)
	})
	if errors.Is(err, ErrNotFound) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("grant store: set role permissions: %w", err)
	}
	return nil
}

func applyRolePermissions(tx *gorm.DB, roleID string, refs []permissions.PermissionRef) error {
	codes := make([]string, 0, len(refs))
	for _, ref := range refs {
		codes = append(codes, ref.Code())
	}
	codes = uniqueStrings(codes)

	var perms []models.Permission
	if len(codes) > 0 {
		if err := tx.Where("code IN ?", codes).Find(&perms).Error; err != nil {
			return fmt.Errorf("load permissions: %w", err)
		}
	}
	if len(perms) != len(codes) {
		return fmt.Errorf("%w: unsynced permission code in set", permissions.ErrUnknownPermission)
	}

	if err := tx.Model(&models.RolePermission{}).
		Where("role_id = ?", roleID).
		Update("active", false).Error; err != nil {
		return fmt.Errorf("deactivate edges: %w", err)
	}
	for _, perm := range perms {
		edge := models.RolePermission{RoleID: roleID, PermissionID: perm.ID, Active: true}
		if err := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "role_id"}, {Name: "permission_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"active", "updated_at"}),
		}).Omit(clause.Associations).Create(&edge).Error; err != nil {
			return fmt.Errorf("upsert edge: %w", err)
		}
	}
	return nil
}

// RoleHolders lists users and teams holding an active grant of roleID.
func (s *GrantStore) RoleHolders(ctx context.Context, roleID string) (permissions.RoleHolders, error) {
	ctx = ensureContext(ctx)

	holders := permissions.RoleHolders{UserIDs: []string{}, TeamIDs: []string{}}
	if err := s.db.WithContext(ctx).Model(&models.UserRoleGrant{}).
		Where("role_id = ? AND active = ?", roleID, true).
		Distinct().Order("user_id").
		Pluck("user_id", &holders.UserIDs).Error; err != nil {
		return permissions.RoleHolders{}, fmt.Errorf("grant store: role holders: %w", err)
	}
	if err := s.db.WithContext(ctx).Model(&models.TeamRoleGrant{}).
		Where("role_id = ? AND active = ?", roleID, true).
		Distinct().Order("team_id").
		Pluck("team_id", &holders.TeamIDs).Error; err != nil {
		return permissions.RoleHolders{}, fmt.Errorf("grant store: role holders: %w", err)
	}
	return holders, nil
}

// revokeQuery narrows active grants to filter. A resource id without a type matches the
// resource on any type.
func revokeQuery(db *gorm.DB, filter permissions.RevokeFilter) *gorm.DB {
	db = db.Where("tenant_id = ? AND active = ?", filter.TenantID, true)
	if filter.RoleID != "" {
		db = db.Where("role_id = ?", filter.RoleID)
	}
	if filter.ResourceID == "" {
		return db.Where("resource_type = ? AND resource_id = ?", "", "")
	}
	db = db.Where("resource_id = ?", filter.ResourceID)
	if filter.ResourceType != "" {
		db = db.Where("resource_type = ?", string(filter.ResourceType))
	}
	return db
}

func deactivation(at time.Time, by string) map[string]any {
	return map[string]any{
		"active":           false,
		"active_scope_key": nil,
		"revoked_at":       at.UTC(),
		"revoked_by":       by,
	}
}

func markInactive(active *bool, key **string, revokedAt **time.Time, revokedBy *string, at time.Time, by string) {
	utc := at.UTC()
	*active = false
	*key = nil
	*revokedAt = &utc
	*revokedBy = by
}

func sameExpiry(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a.Equal(*b)
}

func uniqueStrings(values []string) []string {
	seen := make(map[string]struct{}, len(values))
	out := make([]string, 0, len(values))
	for _, value := range values {
		if _, ok := seen[value]; ok {
			continue
		}
		seen[value] = struct{}{}
		out = append(out, value)
	}
	return out
}
