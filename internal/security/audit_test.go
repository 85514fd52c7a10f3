package security

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/charlesng35/kbguard/internal/app"
	iauth "github.com/charlesng35/kbguard/internal/auth"
	"github.com/charlesng35/kbguard/internal/database"
	testutil "github.com/charlesng35/kbguard/internal/database/testutil"
)

func findCheck(t *testing.T, result Result, id string) Check {
	t.Helper()
	for _, check := range result.Checks {
		if check.ID == id {
			return check
		}
	}
	t.Fatalf("check %q not found", id)
	return Check{}
}

func TestAuditServiceRun(t *testing.T) {
	db := testutil.MustOpenTestDB(t, testutil.WithSeedData(database.WithBootstrapSuperAdmins("t1", "root")))

	jwtSecret := "0123456789abcdef0123456789abcdef0123456789abcdef"
	jwtSvc, err := iauth.NewJWTService(iauth.JWTConfig{
		Secret:         jwtSecret,
		Issuer:         "test-suite",
		AccessTokenTTL: time.Hour,
	})
	require.NoError(t, err)

	cfg := &app.Config{
		Cache:      app.CacheConfig{Permission: app.PermissionCacheConfig{DecisionTTL: 2 * time.Minute}},
		Permission: app.PermissionConfig{DefaultTenant: "t1", AuditDenials: true},
	}

	svc := NewAuditService(db, jwtSvc, cfg)
	fixed := time.Date(2024, 7, 1, 12, 0, 0, 0, time.UTC)
	svc.WithClock(func() time.Time { return fixed })

	result := svc.Run(context.Background())
	require.Equal(t, fixed.UTC(), result.CheckedAt)
	require.Len(t, result.Checks, 5)
	require.Equal(t, 5, result.Summary[string(StatusPass)])
	require.False(t, result.Failed())
}

func TestAuditServiceDetectsMissingSuperAdmin(t *testing.T) {
	db := testutil.MustOpenTestDB(t, testutil.WithSeedData())

	jwtSvc, err := iauth.NewJWTService(iauth.JWTConfig{
		Secret:         "0123456789abcdef0123456789abcdef",
		AccessTokenTTL: 48 * time.Hour,
	})
	require.NoError(t, err)

	svc := NewAuditService(db, jwtSvc, &app.Config{
		Cache: app.CacheConfig{Permission: app.PermissionCacheConfig{DecisionTTL: 2 * time.Hour}},
	})
	result := svc.Run(context.Background())

	require.True(t, result.Failed())
	require.Equal(t, StatusFail, findCheck(t, result, "super_admin_present").Status)
	require.Equal(t, StatusWarn, findCheck(t, result, "jwt_secret_strength").Status)
	require.Equal(t, StatusWarn, findCheck(t, result, "access_token_ttl").Status)
	require.Equal(t, StatusWarn, findCheck(t, result, "decision_cache_ttl").Status)
	require.Equal(t, StatusWarn, findCheck(t, result, "denial_auditing").Status)
}

func TestAuditServiceWithoutDependencies(t *testing.T) {
	result := NewAuditService(nil, nil, nil).Run(context.Background())
	require.Len(t, result.Checks, 5)
	require.Equal(t, 5, result.Summary[string(StatusWarn)])
}
