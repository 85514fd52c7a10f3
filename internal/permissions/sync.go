package permissions

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/charlesng35/kbguard/internal/models"
)

// Sync persists registered permission definitions to the backing database.
func Sync(ctx context.Context, db *gorm.DB) error {
	if db == nil {
		return errors.New("permission: db is required")
	}
	ctx = ensureContext(ctx)

	tx := db.WithContext(ctx)
	for _, def := range All() {
		record := models.Permission{
			Code:         def.Code,
			ResourceType: string(def.ResourceType),
			Capability:   string(def.Capability),
			Description:  def.Description,
		}

		if err := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "code"}},
			DoUpdates: clause.AssignmentColumns([]string{"resource_type", "capability", "description", "updated_at"}),
		}).Create(&record).Error; err != nil {
			return fmt.Errorf("permission: sync %s: %w", def.Code, err)
		}
	}

	return nil
}

// SeedSystemRoles creates the built-in roles and their default permission edges. Existing
// roles keep their edges so administrative changes survive restarts.
func SeedSystemRoles(ctx context.Context, db *gorm.DB) error {
	if db == nil {
		return errors.New("permission: db is required")
	}
	ctx = ensureContext(ctx)

	return db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var perms []models.Permission
		if err := tx.Find(&perms).Error; err != nil {
			return fmt.Errorf("permission: load permissions: %w", err)
		}
		byCode := make(map[string]string, len(perms))
		for _, p := range perms {
			byCode[p.Code] = p.ID
		}

		for _, tmpl := range SystemRoles() {
			var role models.Role
			result := tx.Where(models.Role{Code: tmpl.Code}).
				Attrs(models.Role{
					Name:        tmpl.Name,
					Description: tmpl.Description,
					Kind:        string(tmpl.Kind),
					IsSystem:    true,
				}).
				FirstOrCreate(&role)
			if result.Error != nil {
				return fmt.Errorf("permission: seed role %s: %w", tmpl.Code, result.Error)
			}
			if result.RowsAffected == 0 {
				continue
			}

			for _, ref := range tmpl.Permissions {
				permID, ok := byCode[ref.Code()]
				if !ok {
					return fmt.Errorf("%w %q", ErrUnknownPermission, ref.Code())
				}
				edge := models.RolePermission{RoleID: role.ID, PermissionID: permID, Active: true}
				if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&edge).Error; err != nil {
					return fmt.Errorf("permission: seed %s edge %s: %w", tmpl.Code, ref.Code(), err)
				}
			}
		}
		return nil
	})
}

func ensureContext(ctx context.Context) context.Context {
	if ctx != nil {
		return ctx
	}
	return context.Background()
}
