package services

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/charlesng35/kbguard/internal/auditctx"
	"github.com/charlesng35/kbguard/internal/models"
	"github.com/charlesng35/kbguard/internal/permissions"
	apperrors "github.com/charlesng35/kbguard/pkg/errors"
)

func TestNewGrantServiceRequiresDependencies(t *testing.T) {
	h := newHarness(t)

	_, err := NewGrantService(nil, h.checker, nil)
	require.Error(t, err)
	_, err = NewGrantService(h.store, nil, nil)
	require.Error(t, err)
}

func TestGrantRevokeInvalidatesCachedDecisions(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	before := h.check(t, "u1", "knowledgebase", "kb1", "read")
	require.False(t, before.Allowed)

	h.grantUser(t, rootUser, "u1", "viewer", "knowledgebase", "kb1")

	read := h.check(t, "u1", "knowledgebase", "kb1", "read")
	require.True(t, read.Allowed)
	require.Equal(t, "role:viewer", read.Provenance)
	require.False(t, h.check(t, "u1", "knowledgebase", "kb1", "write").Allowed)

	h.grantUser(t, rootUser, "u1", "editor", "knowledgebase", "kb1")
	write := h.check(t, "u1", "knowledgebase", "kb1", "write")
	require.True(t, write.Allowed)
	require.Equal(t, "role:editor", write.Provenance)

	revoked, err := h.grants.RevokeUserRole(ctx, RevokeRoleInput{
		HolderID:     "u1",
		RoleCode:     "editor",
		TenantID:     testTenant,
		ResourceType: "knowledgebase",
		ResourceID:   "kb1",
		ActorID:      rootUser,
	})
	require.NoError(t, err)
	require.Len(t, revoked, 1)

	after := h.check(t, "u1", "knowledgebase", "kb1", "read")
	require.False(t, after.Allowed)
	require.Equal(t, permissions.ReasonNoGrant, after.Reason)

	require.EqualValues(t, 2, h.auditCount(t, "role.grant", AuditResultSuccess))
	require.EqualValues(t, 1, h.auditCount(t, "role.revoke", AuditResultSuccess))
}

func TestGrantUserRoleKeepsSingleActiveRole(t *testing.T) {
	h := newHarness(t)

	first := h.grantUser(t, rootUser, "u1", "viewer", "", "")
	second := h.grantUser(t, rootUser, "u1", "user", "", "")
	require.NotNil(t, second.Previous)
	require.Equal(t, first.Grant.ID, second.Previous.ID)

	var active int64
	require.NoError(t, h.db.Model(&models.UserRoleGrant{}).
		Where("user_id = ? AND tenant_id = ? AND resource_id = ? AND active = ?", "u1", testTenant, "", true).
		Count(&active).Error)
	require.EqualValues(t, 1, active)
}

func TestRegrantSameRoleIsNoop(t *testing.T) {
	h := newHarness(t)

	first := h.grantUser(t, rootUser, "u1", "viewer", "knowledgebase", "kb1")
	again := h.grantUser(t, rootUser, "u1", "viewer", "knowledgebase", "kb1")

	require.True(t, again.Noop)
	require.Equal(t, first.Grant.ID, again.Grant.ID)
	require.Equal(t, "viewer", again.Grant.Role.Code)
	require.EqualValues(t, 1, h.auditCount(t, "role.grant", AuditResultSuccess))
	require.EqualValues(t, 1, h.auditCount(t, "role.grant", AuditResultNoop))
}

func TestGrantValidation(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	cases := map[string]GrantRoleInput{
		"missing tenant":  {HolderID: "u1", RoleCode: "viewer", ActorID: rootUser},
		"unknown role":    {HolderID: "u1", RoleCode: "owner", TenantID: testTenant, ActorID: rootUser},
		"type without id": {HolderID: "u1", RoleCode: "viewer", TenantID: testTenant, ResourceType: "document", ActorID: rootUser},
		"unknown type":    {HolderID: "u1", RoleCode: "viewer", TenantID: testTenant, ResourceType: "folder", ResourceID: "f1", ActorID: rootUser},
		"blank holder":    {HolderID: "  ", RoleCode: "viewer", TenantID: testTenant, ActorID: rootUser},
		"id without type": {HolderID: "u1", RoleCode: "viewer", TenantID: testTenant, ResourceID: "kb1", ActorID: rootUser},
	}
	for name, input := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := h.grants.GrantUserRole(ctx, input)
			require.ErrorIs(t, err, apperrors.ErrValidation)
		})
	}

	past := h.clock.Now().Add(-time.Minute)
	_, err := h.grants.GrantUserRole(ctx, GrantRoleInput{
		HolderID: "u1", RoleCode: "viewer", TenantID: testTenant, ExpiresAt: &past, ActorID: rootUser,
	})
	require.ErrorIs(t, err, apperrors.ErrValidation)

	_, err = h.grants.GrantUserRole(ctx, GrantRoleInput{HolderID: "u1", RoleCode: "viewer", TenantID: testTenant})
	require.ErrorIs(t, err, apperrors.ErrUnauthorized)
}

func TestGrantRejectsIncompatibleScope(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.grants.GrantUserRole(ctx, GrantRoleInput{
		HolderID: "u1", RoleCode: "admin", TenantID: testTenant,
		ResourceType: "knowledgebase", ResourceID: "kb1", ActorID: rootUser,
	})
	require.ErrorIs(t, err, apperrors.ErrScopeMismatch)

	_, err = h.grants.GrantTeamRole(ctx, GrantRoleInput{
		HolderID: "team1", RoleCode: "guest", TenantID: testTenant, ActorID: rootUser,
	})
	require.ErrorIs(t, err, apperrors.ErrScopeMismatch)
}

func TestGrantRequiresAdminOnScope(t *testing.T) {
	h := newHarness(t)
	h.grantUser(t, rootUser, "u1", "editor", "knowledgebase", "kb1")

	_, err := h.grants.GrantUserRole(context.Background(), GrantRoleInput{
		HolderID: "u2", RoleCode: "viewer", TenantID: testTenant,
		ResourceType: "knowledgebase", ResourceID: "kb1", ActorID: "u1",
	})
	require.ErrorIs(t, err, apperrors.ErrForbidden)
	require.EqualValues(t, 1, h.auditCount(t, "role.grant", AuditResultDenied))
}

func TestEscalationGuard(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.grantUser(t, rootUser, "a1", "admin", "", "")

	_, err := h.grants.GrantUserRole(ctx, GrantRoleInput{
		HolderID: "u3", RoleCode: "super_admin", TenantID: testTenant, ActorID: "a1",
	})
	require.ErrorIs(t, err, apperrors.ErrPrivilegeEscalation)

	result, err := h.grants.GrantUserRole(ctx, GrantRoleInput{
		HolderID: "u3", RoleCode: "admin", TenantID: testTenant, ActorID: "a1",
	})
	require.NoError(t, err, "granting the caller's own tier is allowed")
	require.False(t, result.Noop)
}

func TestOwnerMayGrantOnOwnResource(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.grants.TransferOwnership(ctx, OwnershipInput{
		TenantID: testTenant, ResourceType: "knowledgebase", ResourceID: "kb9", OwnerID: "u5", ActorID: "u5",
	})
	require.NoError(t, err)

	_, err = h.grants.GrantUserRole(ctx, GrantRoleInput{
		HolderID: "u7", RoleCode: "editor", TenantID: testTenant,
		ResourceType: "knowledgebase", ResourceID: "kb9", ActorID: "u5",
	})
	require.NoError(t, err)
	require.True(t, h.check(t, "u7", "knowledgebase", "kb9", "write").Allowed)

	_, err = h.grants.GrantUserRole(ctx, GrantRoleInput{
		HolderID: "u7", RoleCode: "editor", TenantID: testTenant, ActorID: "u5",
	})
	require.ErrorIs(t, err, apperrors.ErrForbidden, "ownership does not confer tenant admin")
}

func TestRevokeWithoutActiveGrantIsNotFound(t *testing.T) {
	h := newHarness(t)

	_, err := h.grants.RevokeUserRole(context.Background(), RevokeRoleInput{
		HolderID: "u1", TenantID: testTenant, ActorID: rootUser,
	})
	require.ErrorIs(t, err, apperrors.ErrNotFound)
}

func TestRevokeByResourceIDMatchesAnyType(t *testing.T) {
	h := newHarness(t)
	h.grantUser(t, rootUser, "u1", "viewer", "document", "shared-1")

	revoked, err := h.grants.RevokeUserRole(context.Background(), RevokeRoleInput{
		HolderID: "u1", TenantID: testTenant, ResourceID: "shared-1", ActorID: rootUser,
	})
	require.NoError(t, err)
	require.Len(t, revoked, 1)
	require.Equal(t, "document", revoked[0].ResourceType)
}

func TestTeamGrantReachesMembersAndMembershipHook(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.join(t, "team1", "u2")

	_, err := h.grants.GrantTeamRole(ctx, GrantRoleInput{
		HolderID: "team1", RoleCode: "viewer", TenantID: testTenant, ActorID: rootUser,
	})
	require.NoError(t, err)

	decision := h.check(t, "u2", "knowledgebase", "kb1", "read")
	require.True(t, decision.Allowed)
	require.Equal(t, "role:viewer", decision.Provenance)
	require.False(t, h.check(t, "u2", "knowledgebase", "kb1", "write").Allowed)

	require.NoError(t, h.db.Where("team_id = ? AND user_id = ?", "team1", "u2").Delete(&models.TeamMember{}).Error)
	require.NoError(t, h.grants.NotifyMembershipChanged(ctx, MembershipChange{
		TeamID: "team1", TenantID: testTenant, UserIDs: []string{"u2"}, ActorID: rootUser,
	}))

	require.False(t, h.check(t, "u2", "knowledgebase", "kb1", "read").Allowed)

	revoked, err := h.grants.RevokeTeamRole(ctx, RevokeRoleInput{
		HolderID: "team1", RoleCode: "viewer", TenantID: testTenant, ActorID: rootUser,
	})
	require.NoError(t, err)
	require.Len(t, revoked, 1)
}

func TestNotifyMembershipChangedValidates(t *testing.T) {
	h := newHarness(t)
	err := h.grants.NotifyMembershipChanged(context.Background(), MembershipChange{})
	require.ErrorIs(t, err, apperrors.ErrValidation)

	err = h.grants.NotifyMembershipChanged(context.Background(), MembershipChange{TeamID: "team1", ActorID: rootUser})
	require.ErrorIs(t, err, apperrors.ErrValidation)
}

func TestNotifyMembershipChangedRequiresTenantAdmin(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.join(t, "team1", "u2")
	h.grantUser(t, rootUser, "u2", "editor", "", "")
	require.True(t, h.check(t, "u2", "knowledgebase", "kb1", "write").Allowed)

	err := h.grants.NotifyMembershipChanged(ctx, MembershipChange{
		TeamID: "team1", TenantID: testTenant, UserIDs: []string{"u2"}, ActorID: "u2",
	})
	require.ErrorIs(t, err, apperrors.ErrForbidden)

	err = h.grants.NotifyMembershipChanged(ctx, MembershipChange{TeamID: "team1", TenantID: testTenant})
	require.ErrorIs(t, err, apperrors.ErrUnauthorized)

	require.EqualValues(t, 1, h.auditCount(t, "team.membership.changed", AuditResultDenied))
}

func TestDirectPermissionGrantAndRevoke(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	input := DirectPermissionInput{
		UserID: "u1", TenantID: testTenant, ResourceType: "document", ResourceID: "doc1",
		Capability: "share", Metadata: map[string]any{"ticket": "OPS-7"}, ActorID: rootUser,
	}

	perm, err := h.grants.GrantDirectPermission(ctx, input)
	require.NoError(t, err)
	require.Equal(t, rootUser, perm.GrantedBy)
	require.JSONEq(t, `{"ticket":"OPS-7"}`, string(perm.Metadata))

	decision := h.check(t, "u1", "document", "doc1", "share")
	require.True(t, decision.Allowed)
	require.Equal(t, permissions.ProvenanceDirect, decision.Provenance)

	require.NoError(t, h.grants.RevokeDirectPermission(ctx, input))
	require.False(t, h.check(t, "u1", "document", "doc1", "share").Allowed)
	require.ErrorIs(t, h.grants.RevokeDirectPermission(ctx, input), apperrors.ErrNotFound)

	input.Capability = "fly"
	_, err = h.grants.GrantDirectPermission(ctx, input)
	require.ErrorIs(t, err, apperrors.ErrValidation)
}

func TestTransferOwnershipAndForgetResource(t *testing.T) {
	h := newHarness(t)
	ctx := auditctx.WithActor(context.Background(), auditctx.Actor{UserID: "u5", IPAddress: "10.0.0.5"})

	previous, err := h.grants.TransferOwnership(ctx, OwnershipInput{
		TenantID: testTenant, ResourceType: "knowledgebase", ResourceID: "kb9", OwnerID: "u5",
	})
	require.NoError(t, err)
	require.Empty(t, previous)
	require.Equal(t, permissions.ProvenanceOwner, h.check(t, "u5", "knowledgebase", "kb9", "delete").Provenance)
	require.False(t, h.check(t, "u5", "knowledgebase", "kb9", "export").Allowed, "export is outside the owner set")

	_, err = h.grants.TransferOwnership(ctx, OwnershipInput{
		TenantID: testTenant, ResourceType: "knowledgebase", ResourceID: "kb9", OwnerID: "u6", ActorID: "u6",
	})
	require.ErrorIs(t, err, apperrors.ErrForbidden)

	previous, err = h.grants.TransferOwnership(ctx, OwnershipInput{
		TenantID: testTenant, ResourceType: "knowledgebase", ResourceID: "kb9", OwnerID: "u6",
	})
	require.NoError(t, err)
	require.Equal(t, "u5", previous)
	require.False(t, h.check(t, "u5", "knowledgebase", "kb9", "read").Allowed)
	require.True(t, h.check(t, "u6", "knowledgebase", "kb9", "read").Allowed)

	var entry models.AuditLog
	require.NoError(t, h.db.Where("action = ? AND result = ?", "resource.owner", AuditResultSuccess).
		Order("created_at").First(&entry).Error)
	require.Equal(t, "u5", entry.ActorID)
	require.Equal(t, "10.0.0.5", entry.IPAddress)

	h.grantUser(t, rootUser, "u7", "viewer", "knowledgebase", "kb9")
	require.True(t, h.check(t, "u7", "knowledgebase", "kb9", "read").Allowed)

	require.NoError(t, h.grants.ForgetResource(ctx, ForgetResourceInput{
		TenantID: testTenant, ResourceType: "knowledgebase", ResourceID: "kb9", ActorID: rootUser,
	}))
	require.False(t, h.check(t, "u6", "knowledgebase", "kb9", "read").Allowed)
	require.False(t, h.check(t, "u7", "knowledgebase", "kb9", "read").Allowed)
}

func TestExpiredGrantStopsApplying(t *testing.T) {
	h := newHarness(t)
	expires := h.clock.Now().Add(time.Hour)

	_, err := h.grants.GrantUserRole(context.Background(), GrantRoleInput{
		HolderID: "u1", RoleCode: "viewer", TenantID: testTenant,
		ResourceType: "knowledgebase", ResourceID: "kb1", ExpiresAt: &expires, ActorID: rootUser,
	})
	require.NoError(t, err)
	require.True(t, h.check(t, "u1", "knowledgebase", "kb1", "read").Allowed)

	h.clock.Advance(time.Hour)
	require.False(t, h.check(t, "u1", "knowledgebase", "kb1", "read").Allowed)
}
