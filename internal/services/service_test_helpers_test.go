package services

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/charlesng35/kbguard/internal/cache"
	"github.com/charlesng35/kbguard/internal/database"
	"github.com/charlesng35/kbguard/internal/database/testutil"
	"github.com/charlesng35/kbguard/internal/models"
	"github.com/charlesng35/kbguard/internal/permissions"
	"github.com/charlesng35/kbguard/internal/store"
)

const (
	testTenant = "t1"
	rootUser   = "root"
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Date(2026, 5, 4, 9, 30, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type harness struct {
	db      *gorm.DB
	store   *store.GrantStore
	cache   *permissions.PermissionCache
	checker *permissions.Checker
	audit   *AuditService
	grants  *GrantService
	roles   *RoleService
	clock   *testClock
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	db := testutil.MustOpenTestDB(t, testutil.WithSeedData(database.WithBootstrapSuperAdmins(testTenant, rootUser)))
	grantStore, err := store.NewGrantStore(db)
	require.NoError(t, err)

	clock := newTestClock()
	mem, err := cache.NewMemoryStore(1024, cache.WithMemoryClock(clock.Now))
	require.NoError(t, err)
	permCache, err := permissions.NewPermissionCache(mem,
		permissions.WithTeamMembership(grantStore),
		permissions.WithCacheClock(clock.Now))
	require.NoError(t, err)

	checker, err := permissions.NewChecker(grantStore,
		permissions.WithCache(permCache),
		permissions.WithClock(clock.Now),
		permissions.WithRetryBackoff(0))
	require.NoError(t, err)

	audit, err := NewAuditService(db)
	require.NoError(t, err)
	audit.WithClock(clock.Now)

	grants, err := NewGrantService(grantStore, checker, audit, WithGrantClock(clock.Now))
	require.NoError(t, err)
	roles, err := NewRoleService(grantStore, checker, audit, WithRoleClock(clock.Now))
	require.NoError(t, err)

	return &harness{
		db:      db,
		store:   grantStore,
		cache:   permCache,
		checker: checker,
		audit:   audit,
		grants:  grants,
		roles:   roles,
		clock:   clock,
	}
}

func (h *harness) grantUser(t *testing.T, actor, userID, roleCode, rt, rid string) permissions.ReplaceResult[models.UserRoleGrant] {
	t.Helper()
	result, err := h.grants.GrantUserRole(context.Background(), GrantRoleInput{
		HolderID:     userID,
		RoleCode:     roleCode,
		TenantID:     testTenant,
		ResourceType: rt,
		ResourceID:   rid,
		ActorID:      actor,
	})
	require.NoError(t, err)
	return result
}

func (h *harness) check(t *testing.T, userID, rt, rid, capability string) permissions.Decision {
	t.Helper()
	req, err := permissions.NewCheckRequest(userID, testTenant, rt, rid, capability)
	require.NoError(t, err)
	decision, err := h.checker.CheckPermission(context.Background(), req)
	require.NoError(t, err)
	return decision
}

func (h *harness) join(t *testing.T, teamID, userID string) {
	t.Helper()
	require.NoError(t, h.db.Create(&models.TeamMember{TeamID: teamID, UserID: userID}).Error)
}

func (h *harness) auditCount(t *testing.T, action, result string) int64 {
	t.Helper()
	var count int64
	require.NoError(t, h.db.Model(&models.AuditLog{}).Where("action = ? AND result = ?", action, result).Count(&count).Error)
	return count
}
