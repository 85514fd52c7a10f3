package database

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"gorm.io/gorm"

	"github.com/charlesng35/kbguard/internal/models"
	"github.com/charlesng35/kbguard/internal/permissions"
)

// AutoMigrate creates or updates the database schema for all models.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
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
	)
}

// SeedOption customises SeedData.
type SeedOption func(*seedConfig)

type seedConfig struct {
	tenantID    string
	superAdmins []string
}

// WithBootstrapSuperAdmins grants the super_admin role globally in tenantID to each user
// the first time they are seen.
func WithBootstrapSuperAdmins(tenantID string, userIDs ...string) SeedOption {
	return func(cfg *seedConfig) {
		cfg.tenantID = strings.TrimSpace(tenantID)
		for _, id := range userIDs {
			if id = strings.TrimSpace(id); id != "" {
				cfg.superAdmins = append(cfg.superAdmins, id)
			}
		}
	}
}

// SeedData populates the permission catalog, built-in roles and bootstrap grants.
func SeedData(db *gorm.DB, opts ...SeedOption) error {
	if db == nil {
		return errors.New("nil database handle")
	}
	cfg := seedConfig{}
	for _, opt := range opts {
		opt(&cfg)
	}

	ctx := context.Background()
	if err := permissions.Sync(ctx, db); err != nil {
		return err
	}
	if err := permissions.SeedSystemRoles(ctx, db); err != nil {
		return err
	}

	if len(cfg.superAdmins) == 0 {
		return nil
	}
	if cfg.tenantID == "" {
		return errors.New("bootstrap super admins require a default tenant")
	}

	var role models.Role
	if err := db.Where("code = ?", string(permissions.KindSuperAdmin)).First(&role).Error; err != nil {
		return fmt.Errorf("load super_admin role: %w", err)
	}
	for _, userID := range cfg.superAdmins {
		if err := bootstrapSuperAdmin(ctx, db, role.ID, cfg.tenantID, userID); err != nil {
			return fmt.Errorf("bootstrap super admin %s: %w", userID, err)
		}
	}
	return nil
}
