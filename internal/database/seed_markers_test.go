package database

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/charlesng35/kbguard/internal/models"
)

func TestSeedMarkers(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	applied, err := markerApplied(ctx, db, BootstrapMarker("t1", "root"))
	require.NoError(t, err)
	require.False(t, applied, "unmigrated schema is treated as not applied")

	require.NoError(t, AutoMigrate(db))

	first := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, recordMarker(ctx, db, BootstrapMarker("t1", "root"), "bootstrap", first))
	require.NoError(t, recordMarker(ctx, db, BootstrapMarker("t1", "root"), "bootstrap", first.Add(time.Hour)))

	applied, err = markerApplied(ctx, db, BootstrapMarker("t1", "root"))
	require.NoError(t, err)
	require.True(t, applied)

	var marker models.SeedMarker
	require.NoError(t, db.Where(&models.SeedMarker{Key: BootstrapMarker("t1", "root")}).Take(&marker).Error)
	require.True(t, first.Equal(marker.AppliedAt))

	applied, err = markerApplied(ctx, db, BootstrapMarker("t2", "root"))
	require.NoError(t, err)
	require.False(t, applied)
}
