package database

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/charlesng35/kbguard/internal/models"
)

func TestAutoMigrateCreatesGrantTables(t *testing.T) {
	db := openTestDB(t)

	require.NoError(t, AutoMigrate(db))

	migrator := db.Migrator()
	tables := []interface{}{
		&models.Role{},
		&models.Permission{},
		&models.RolePermission{},
		&models.UserRoleGrant{},
		&models.TeamRoleGrant{},
		&models.ResourcePermission{},
		&models.ResourceOwnership{},
		&models.TeamMember{},
		&models.AuditLog{},
		&models.CacheEntry{},
		&models.SeedMarker{},
	}

	for _, table := range tables {
		require.True(t, migrator.HasTable(table), "expected table for %T to exist", table)
	}
	require.True(t, migrator.HasIndex(&models.UserRoleGrant{}, "idx_user_role_grants_active_scope_key"))
}

func TestActiveScopeKeyAllowsOneActiveGrant(t *testing.T) {
	db := openTestDB(t)
	require.NoError(t, AutoMigrateAndSeed(db))

	var role models.Role
	require.NoError(t, db.Where("code = ?", "viewer").First(&role).Error)

	key := models.ScopeKey(models.HolderUser, "u1", "t1", "", "")
	first := models.UserRoleGrant{UserID: "u1", TenantID: "t1", RoleID: role.ID, Active: true, ActiveScopeKey: &key}
	require.NoError(t, db.Create(&first).Error)

	second := models.UserRoleGrant{UserID: "u1", TenantID: "t1", RoleID: role.ID, Active: true, ActiveScopeKey: &key}
	require.Error(t, db.Create(&second).Error)

	// Historical rows carry a NULL key and never conflict.
	for i := 0; i < 2; i++ {
		inactive := models.UserRoleGrant{UserID: "u1", TenantID: "t1", RoleID: role.ID}
		require.NoError(t, db.Create(&inactive).Error)
	}
}

func TestBootstrapSuperAdminsAppliedOnce(t *testing.T) {
	db := openTestDB(t)
	require.NoError(t, AutoMigrateAndSeed(db, WithBootstrapSuperAdmins("t1", "root", " ")))

	var grants []models.UserRoleGrant
	require.NoError(t, db.Preload("Role").Where("user_id = ? AND active = ?", "root", true).Find(&grants).Error)
	require.Len(t, grants, 1)
	require.Equal(t, "super_admin", grants[0].Role.Code)
	require.Equal(t, "t1", grants[0].TenantID)

	// An operator revokes the bootstrap grant; a restart must not restore it.
	require.NoError(t, db.Model(&models.UserRoleGrant{}).
		Where("id = ?", grants[0].ID).
		Updates(map[string]any{"active": false, "active_scope_key": nil}).Error)
	require.NoError(t, SeedData(db, WithBootstrapSuperAdmins("t1", "root")))

	var active int64
	require.NoError(t, db.Model(&models.UserRoleGrant{}).Where("user_id = ? AND active = ?", "root", true).Count(&active).Error)
	require.Zero(t, active)
}

func TestBootstrapSuperAdminsRequireTenant(t *testing.T) {
	db := openTestDB(t)
	require.NoError(t, AutoMigrate(db))
	require.Error(t, SeedData(db, WithBootstrapSuperAdmins("", "root")))
}
