package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/charlesng35/kbguard/internal/models"
)

// BootstrapMarker is the seed marker key for a bootstrap super admin grant.
func BootstrapMarker(tenantID, userID string) string {
	return fmt.Sprintf("bootstrap.super_admin/%s/%s", tenantID, userID)
}

// markerApplied reports whether key was recorded. A schema that has not been migrated yet
// counts as not applied.
func markerApplied(ctx context.Context, db *gorm.DB, key string) (bool, error) {
	if !db.Migrator().HasTable(&models.SeedMarker{}) {
		return false, nil
	}

	var marker models.SeedMarker
	err := db.WithContext(ctx).Where(&models.SeedMarker{Key: key}).Take(&marker).Error
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, gorm.ErrRecordNotFound):
		return false, nil
	default:
		return false, fmt.Errorf("seed marker %q: %w", key, err)
	}
}

// recordMarker stores key; a second write for the same key keeps the first timestamp.
func recordMarker(ctx context.Context, db *gorm.DB, key, appliedBy string, at time.Time) error {
	marker := models.SeedMarker{Key: key, AppliedAt: at.UTC(), AppliedBy: appliedBy}
	if err := db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&marker).Error; err != nil {
		return fmt.Errorf("record seed marker %q: %w", key, err)
	}
	return nil
}
