package database

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/charlesng35/kbguard/internal/models"
)

// bootstrapSuperAdmin grants the super admin role once per user and tenant. The seed marker
// keeps a later revoke from being undone on restart.
func bootstrapSuperAdmin(ctx context.Context, db *gorm.DB, roleID, tenantID, userID string) error {
	marker := BootstrapMarker(tenantID, userID)
	seeded, err := markerApplied(ctx, db, marker)
	if err != nil || seeded {
		return err
	}

	now := time.Now().UTC()
	scopeKey := models.ScopeKey(models.HolderUser, userID, tenantID, "", "")

	return db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&models.UserRoleGrant{}).
			Where("active_scope_key = ?", scopeKey).
			Updates(map[string]any{
				"active":           false,
				"active_scope_key": nil,
				"revoked_at":       now,
				"revoked_by":       "bootstrap",
			}).Error; err != nil {
			return err
		}

		grant := models.UserRoleGrant{
			UserID:         userID,
			TenantID:       tenantID,
			RoleID:         roleID,
			GrantedBy:      "bootstrap",
			GrantedAt:      now,
			Active:         true,
			ActiveScopeKey: &scopeKey,
		}
		if err := tx.Create(&grant).Error; err != nil {
			return err
		}

		return recordMarker(ctx, tx, marker, "bootstrap", now)
	})
}
