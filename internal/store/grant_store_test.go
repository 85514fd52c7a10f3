package store

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/charlesng35/kbguard/internal/database/testutil"
	"github.com/charlesng35/kbguard/internal/models"
	"github.com/charlesng35/kbguard/internal/permissions"
)

var storeNow = time.Date(2026, 5, 4, 9, 30, 0, 0, time.UTC)

func newTestStore(t *testing.T) (*GrantStore, *gorm.DB) {
	t.Helper()
	db := testutil.MustOpenTestDB(t, testutil.WithSeedData())
	store, err := NewGrantStore(db)
	require.NoError(t, err)
	return store, db
}

func mustRole(t *testing.T, store *GrantStore, code string) *models.Role {
	t.Helper()
	role, err := store.FindRoleByCode(context.Background(), code)
	require.NoError(t, err)
	return role
}

func userGrant(userID, roleID, rt, rid string) *models.UserRoleGrant {
	return &models.UserRoleGrant{
		UserID:       userID,
		TenantID:     "t1",
		ResourceType: rt,
		ResourceID:   rid,
		RoleID:       roleID,
		GrantedBy:    "admin",
		GrantedAt:    storeNow,
	}
}

func countActive(t *testing.T, db *gorm.DB, userID string) int64 {
	t.Helper()
	var count int64
	require.NoError(t, db.Model(&models.UserRoleGrant{}).Where("user_id = ? AND active = ?", userID, true).Count(&count).Error)
	return count
}

func TestNewGrantStoreRequiresDB(t *testing.T) {
	_, err := NewGrantStore(nil)
	require.Error(t, err)
}

func TestReplaceUserGrantKeepsOneActivePerScope(t *testing.T) {
	ctx := context.Background()
	store, db := newTestStore(t)
	viewer := mustRole(t, store, "viewer")
	editor := mustRole(t, store, "editor")

	first, err := store.ReplaceUserGrant(ctx, userGrant("u1", viewer.ID, "knowledgebase", "kb1"))
	require.NoError(t, err)
	require.False(t, first.Noop)
	require.Nil(t, first.Previous)
	require.True(t, first.Grant.Active)

	second, err := store.ReplaceUserGrant(ctx, userGrant("u1", editor.ID, "knowledgebase", "kb1"))
	require.NoError(t, err)
	require.NotNil(t, second.Previous)
	require.Equal(t, first.Grant.ID, second.Previous.ID)
	require.False(t, second.Previous.Active)
	require.Nil(t, second.Previous.ActiveScopeKey)

	require.EqualValues(t, 1, countActive(t, db, "u1"))

	var historical models.UserRoleGrant
	require.NoError(t, db.First(&historical, "id = ?", first.Grant.ID).Error)
	require.False(t, historical.Active)
	require.Equal(t, "admin", historical.RevokedBy)
	require.NotNil(t, historical.RevokedAt)

	grants, err := store.UserRoleGrants(ctx, "u1", permissions.ResourceScope("t1", permissions.ResourceKnowledgeBase, "kb1"))
	require.NoError(t, err)
	require.Len(t, grants, 1)
	require.Equal(t, "editor", grants[0].RoleCode)
	require.Equal(t, permissions.KindEditor, grants[0].Kind)
}

func TestReplaceUserGrantIsNoopForSameRoleAndExpiry(t *testing.T) {
	ctx := context.Background()
	store, db := newTestStore(t)
	viewer := mustRole(t, store, "viewer")
	expires := storeNow.Add(24 * time.Hour)

	grant := userGrant("u1", viewer.ID, "", "")
	grant.ExpiresAt = &expires
	first, err := store.ReplaceUserGrant(ctx, grant)
	require.NoError(t, err)

	again := userGrant("u1", viewer.ID, "", "")
	again.ExpiresAt = &expires
	second, err := store.ReplaceUserGrant(ctx, again)
	require.NoError(t, err)
	require.True(t, second.Noop)
	require.Equal(t, first.Grant.ID, second.Grant.ID)

	var rows int64
	require.NoError(t, db.Model(&models.UserRoleGrant{}).Where("user_id = ?", "u1").Count(&rows).Error)
	require.EqualValues(t, 1, rows)

	later := storeNow.Add(48 * time.Hour)
	extended := userGrant("u1", viewer.ID, "", "")
	extended.ExpiresAt = &later
	third, err := store.ReplaceUserGrant(ctx, extended)
	require.NoError(t, err)
	require.False(t, third.Noop)
	require.EqualValues(t, 1, countActive(t, db, "u1"))
}

func TestReplaceUserGrantReplacesExpiredGrant(t *testing.T) {
	ctx := context.Background()
	store, db := newTestStore(t)
	viewer := mustRole(t, store, "viewer")
	expired := storeNow.Add(-time.Minute)

	grant := userGrant("u1", viewer.ID, "", "")
	grant.ExpiresAt = &expired
	_, err := store.ReplaceUserGrant(ctx, grant)
	require.NoError(t, err)

	again := userGrant("u1", viewer.ID, "", "")
	again.ExpiresAt = &expired
	result, err := store.ReplaceUserGrant(ctx, again)
	require.NoError(t, err)
	require.False(t, result.Noop)
	require.EqualValues(t, 1, countActive(t, db, "u1"))
}

func TestConcurrentReplacesLeaveOneActiveGrant(t *testing.T) {
	ctx := context.Background()
	store, db := newTestStore(t)
	codes := []string{"viewer", "editor", "viewer", "editor", "viewer", "editor"}

	var wg sync.WaitGroup
	for _, code := range codes {
		role := mustRole(t, store, code)
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = store.ReplaceUserGrant(ctx, userGrant("u1", role.ID, "knowledgebase", "kb1"))
		}()
	}
	wg.Wait()

	require.EqualValues(t, 1, countActive(t, db, "u1"))
}

func TestActiveScopeKeyRejectsSecondActiveRow(t *testing.T) {
	store, db := newTestStore(t)
	viewer := mustRole(t, store, "viewer")

	_, err := store.ReplaceUserGrant(context.Background(), userGrant("u1", viewer.ID, "", ""))
	require.NoError(t, err)

	key := models.ScopeKey(models.HolderUser, "u1", "t1", "", "")
	raw := userGrant("u1", viewer.ID, "", "")
	raw.Active = true
	raw.ActiveScopeKey = &key
	require.Error(t, db.Create(raw).Error)
}

func TestReplaceGrantWithMaximalIdentifiers(t *testing.T) {
	ctx := context.Background()
	store, db := newTestStore(t)
	viewer := mustRole(t, store, "viewer")
	editor := mustRole(t, store, "editor")

	userID := strings.Repeat("é", 64)
	resourceID := strings.Repeat("/", 128)
	grant := userGrant(userID, viewer.ID, "knowledgebase", resourceID)
	grant.TenantID = strings.Repeat("%", 64)

	first, err := store.ReplaceUserGrant(ctx, grant)
	require.NoError(t, err)
	require.NotNil(t, first.Grant.ActiveScopeKey)
	require.Len(t, *first.Grant.ActiveScopeKey, 64)

	replacement := userGrant(userID, editor.ID, "knowledgebase", resourceID)
	replacement.TenantID = grant.TenantID
	second, err := store.ReplaceUserGrant(ctx, replacement)
	require.NoError(t, err)
	require.NotNil(t, second.Previous)
	require.Equal(t, *first.Grant.ActiveScopeKey, *second.Grant.ActiveScopeKey)
	require.EqualValues(t, 1, countActive(t, db, userID))

	team, err := store.ReplaceTeamGrant(ctx, &models.TeamRoleGrant{
		TeamID:       strings.Repeat("t", 64),
		TenantID:     grant.TenantID,
		ResourceType: "knowledgebase",
		ResourceID:   resourceID,
		RoleID:       viewer.ID,
		GrantedBy:    "admin",
		GrantedAt:    storeNow,
	})
	require.NoError(t, err)
	require.Len(t, *team.Grant.ActiveScopeKey, 64)
	require.NotEqual(t, *first.Grant.ActiveScopeKey, *team.Grant.ActiveScopeKey)
}

func TestDeactivateUserGrantsFilters(t *testing.T) {
	ctx := context.Background()
	store, db := newTestStore(t)
	viewer := mustRole(t, store, "viewer")
	user := mustRole(t, store, "user")

	_, err := store.ReplaceUserGrant(ctx, userGrant("u1", user.ID, "", ""))
	require.NoError(t, err)
	_, err = store.ReplaceUserGrant(ctx, userGrant("u1", viewer.ID, "knowledgebase", "kb1"))
	require.NoError(t, err)
	_, err = store.ReplaceUserGrant(ctx, userGrant("u1", viewer.ID, "document", "doc1"))
	require.NoError(t, err)

	none, err := store.DeactivateUserGrants(ctx, permissions.RevokeFilter{
		HolderID: "u1", TenantID: "t1", RoleID: user.ID, ResourceID: "kb1",
	}, storeNow)
	require.NoError(t, err)
	require.Empty(t, none)

	revoked, err := store.DeactivateUserGrants(ctx, permissions.RevokeFilter{
		HolderID: "u1", TenantID: "t1", ResourceID: "kb1", RevokedBy: "admin",
	}, storeNow)
	require.NoError(t, err)
	require.Len(t, revoked, 1)
	require.Equal(t, "kb1", revoked[0].ResourceID)
	require.False(t, revoked[0].Active)
	require.EqualValues(t, 2, countActive(t, db, "u1"))

	global, err := store.DeactivateUserGrants(ctx, permissions.RevokeFilter{HolderID: "u1", TenantID: "t1"}, storeNow)
	require.NoError(t, err)
	require.Len(t, global, 1)
	require.Empty(t, global[0].ResourceID)
	require.EqualValues(t, 1, countActive(t, db, "u1"))
}

func TestTeamGrantsAndMembership(t *testing.T) {
	ctx := context.Background()
	store, db := newTestStore(t)
	viewer := mustRole(t, store, "viewer")
	editor := mustRole(t, store, "editor")

	require.NoError(t, db.Create(&models.TeamMember{TeamID: "team1", UserID: "u2"}).Error)
	require.NoError(t, db.Create(&models.TeamMember{TeamID: "team2", UserID: "u2"}).Error)
	require.NoError(t, db.Create(&models.TeamMember{TeamID: "team1", UserID: "u3"}).Error)

	for teamID, role := range map[string]*models.Role{"team1": viewer, "team2": editor} {
		_, err := store.ReplaceTeamGrant(ctx, &models.TeamRoleGrant{
			TeamID: teamID, TenantID: "t1", RoleID: role.ID, GrantedBy: "admin", GrantedAt: storeNow,
		})
		require.NoError(t, err)
	}

	teams, err := store.UserTeams(ctx, "u2")
	require.NoError(t, err)
	require.Equal(t, []string{"team1", "team2"}, teams)

	members, err := store.TeamMembers(ctx, "team1")
	require.NoError(t, err)
	require.Equal(t, []string{"u2", "u3"}, members)

	grants, err := store.TeamRoleGrants(ctx, teams, permissions.GlobalScope("t1"))
	require.NoError(t, err)
	require.Len(t, grants, 2)

	empty, err := store.TeamRoleGrants(ctx, nil, permissions.GlobalScope("t1"))
	require.NoError(t, err)
	require.Empty(t, empty)

	revoked, err := store.DeactivateTeamGrants(ctx, permissions.RevokeFilter{HolderID: "team1", TenantID: "t1"}, storeNow)
	require.NoError(t, err)
	require.Len(t, revoked, 1)

	holders, err := store.RoleHolders(ctx, editor.ID)
	require.NoError(t, err)
	require.Equal(t, []string{"team2"}, holders.TeamIDs)
	require.Empty(t, holders.UserIDs)
}

func TestRolePermissionsParsesSeededEdges(t *testing.T) {
	ctx := context.Background()
	store, _ := newTestStore(t)
	viewer := mustRole(t, store, "viewer")

	refs, err := store.RolePermissions(ctx, viewer.ID)
	require.NoError(t, err)
	require.Len(t, refs, 6)
	require.Contains(t, refs, permissions.PermissionRef{ResourceType: permissions.ResourceDocument, Capability: permissions.CapabilityRead})
	require.NotContains(t, refs, permissions.PermissionRef{ResourceType: permissions.ResourceDocument, Capability: permissions.CapabilityWrite})
}

func TestSetRolePermissionsReplacesActiveSet(t *testing.T) {
	ctx := context.Background()
	store, _ := newTestStore(t)
	guest := mustRole(t, store, "guest")

	refs := []permissions.PermissionRef{
		{ResourceType: permissions.ResourceModel, Capability: permissions.CapabilityRead},
		{ResourceType: permissions.ResourceDocument, Capability: permissions.CapabilityRead},
	}
	require.NoError(t, store.SetRolePermissions(ctx, guest.ID, refs))

	got, err := store.RolePermissions(ctx, guest.ID)
	require.NoError(t, err)
	require.ElementsMatch(t, refs, got)

	require.ErrorIs(t, store.SetRolePermissions(ctx, "missing", refs), ErrNotFound)
}

func TestDirectPermissionLifecycle(t *testing.T) {
	ctx := context.Background()
	store, _ := newTestStore(t)

	req := permissions.CheckRequest{
		UserID: "u1", TenantID: "t1",
		ResourceType: permissions.ResourceDocument, ResourceID: "doc1",
		Capability: permissions.CapabilityWrite,
	}
	expires := storeNow.Add(time.Hour)
	require.NoError(t, store.UpsertDirectPermission(ctx, &models.ResourcePermission{
		UserID: "u1", TenantID: "t1", ResourceType: "document", ResourceID: "doc1",
		Capability: "write", GrantedBy: "admin", ExpiresAt: &expires,
	}))

	ok, err := store.HasDirectPermission(ctx, req, storeNow)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = store.HasDirectPermission(ctx, req, expires)
	require.NoError(t, err)
	require.False(t, ok, "a grant expiring exactly now is inactive")

	require.NoError(t, store.UpsertDirectPermission(ctx, &models.ResourcePermission{
		UserID: "u1", TenantID: "t1", ResourceType: "document", ResourceID: "doc1",
		Capability: "write", GrantedBy: "admin2",
	}))
	ok, err = store.HasDirectPermission(ctx, req, expires.Add(time.Hour))
	require.NoError(t, err)
	require.True(t, ok)

	rows, err := store.ListDirectPermissions(ctx, "u1", "t1")
	require.NoError(t, err)
	require.Len(t, rows, 1)
	require.Equal(t, "admin2", rows[0].GrantedBy)

	deleted, err := store.DeleteDirectPermission(ctx, "u1", "t1", permissions.ResourceDocument, "doc1", permissions.CapabilityWrite)
	require.NoError(t, err)
	require.True(t, deleted)
	deleted, err = store.DeleteDirectPermission(ctx, "u1", "t1", permissions.ResourceDocument, "doc1", permissions.CapabilityWrite)
	require.NoError(t, err)
	require.False(t, deleted)
}

func TestOwnershipAndForgetResource(t *testing.T) {
	ctx := context.Background()
	store, db := newTestStore(t)
	viewer := mustRole(t, store, "viewer")

	previous, err := store.SetOwner(ctx, &models.ResourceOwnership{
		ResourceType: "knowledgebase", ResourceID: "kb1", TenantID: "t1", OwnerID: "u1",
	})
	require.NoError(t, err)
	require.Empty(t, previous)

	previous, err = store.SetOwner(ctx, &models.ResourceOwnership{
		ResourceType: "knowledgebase", ResourceID: "kb1", TenantID: "t1", OwnerID: "u2",
	})
	require.NoError(t, err)
	require.Equal(t, "u1", previous)

	owner, ok, err := store.ResourceOwner(ctx, "t1", permissions.ResourceKnowledgeBase, "kb1")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "u2", owner)

	_, ok, err = store.ResourceOwner(ctx, "t2", permissions.ResourceKnowledgeBase, "kb1")
	require.NoError(t, err)
	require.False(t, ok, "ownership does not cross tenants")

	_, err = store.ReplaceUserGrant(ctx, userGrant("u3", viewer.ID, "knowledgebase", "kb1"))
	require.NoError(t, err)
	require.NoError(t, store.UpsertDirectPermission(ctx, &models.ResourcePermission{
		UserID: "u3", TenantID: "t1", ResourceType: "knowledgebase", ResourceID: "kb1", Capability: "share",
	}))

	require.NoError(t, store.ForgetResource(ctx, permissions.ResourceKnowledgeBase, "kb1", "admin", storeNow))

	_, ok, err = store.ResourceOwner(ctx, "t1", permissions.ResourceKnowledgeBase, "kb1")
	require.NoError(t, err)
	require.False(t, ok)
	require.EqualValues(t, 0, countActive(t, db, "u3"))

	var rows int64
	require.NoError(t, db.Model(&models.UserRoleGrant{}).Where("user_id = ?", "u3").Count(&rows).Error)
	require.EqualValues(t, 1, rows, "grants are deactivated, never deleted")
}

func TestRoleLifecycleHelpers(t *testing.T) {
	ctx := context.Background()
	store, _ := newTestStore(t)

	tenant := "t1"
	role := &models.Role{Code: "reviewer", Name: "Reviewer", Kind: "viewer", TenantID: &tenant}
	require.NoError(t, store.CreateRole(ctx, role, []permissions.PermissionRef{
		{ResourceType: permissions.ResourceDocument, Capability: permissions.CapabilityRead},
	}))

	refs, err := store.RolePermissions(ctx, role.ID)
	require.NoError(t, err)
	require.Len(t, refs, 1)

	referenced, err := store.RoleReferenced(ctx, role.ID)
	require.NoError(t, err)
	require.False(t, referenced)

	require.NoError(t, store.UpdateRole(ctx, role.ID, map[string]any{"description": "reads things"}))
	loaded, err := store.FindRoleByID(ctx, role.ID)
	require.NoError(t, err)
	require.Equal(t, "reads things", loaded.Description)

	_, err = store.ReplaceUserGrant(ctx, userGrant("u1", role.ID, "", ""))
	require.NoError(t, err)
	referenced, err = store.RoleReferenced(ctx, role.ID)
	require.NoError(t, err)
	require.True(t, referenced)

	_, err = store.FindRoleByCode(ctx, "nope")
	require.ErrorIs(t, err, ErrNotFound)
	require.ErrorIs(t, store.DeleteRole(ctx, "missing"), ErrNotFound)
}
