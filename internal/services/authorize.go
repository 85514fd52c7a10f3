package services

import (
	"context"
	"fmt"
	"time"

	"github.com/charlesng35/kbguard/internal/permissions"
	apperrors "github.com/charlesng35/kbguard/pkg/errors"
)

// authorizer answers "may this caller administer this scope" on top of the checker.
type authorizer struct {
	checker *permissions.Checker
}

// adminRequest is the check that guards mutations on scope. A global scope, or a resource
// id without a type, is guarded by tenant administration.
func adminRequest(actor string, scope permissions.GrantScope) permissions.CheckRequest {
	req := permissions.CheckRequest{
		UserID:       actor,
		TenantID:     scope.TenantID,
		ResourceType: permissions.ResourceTenant,
		Capability:   permissions.CapabilityAdmin,
	}
	if !scope.IsGlobal() && scope.ResourceType != "" {
		req.ResourceType = scope.ResourceType
		req.ResourceID = scope.ResourceID
	}
	return req
}

// requireAdmin fails with an authorization error unless actor holds admin on scope.
func (a authorizer) requireAdmin(ctx context.Context, actor string, scope permissions.GrantScope) (permissions.Decision, error) {
	if actor == "" {
		return permissions.Decision{}, apperrors.ErrUnauthorized
	}
	decision, err := a.checker.CheckPermission(ctx, adminRequest(actor, scope))
	if err != nil {
		return permissions.Decision{}, err
	}
	if decision.Allowed {
		return decision, nil
	}
	if decision.Reason == permissions.ReasonInfrastructure {
		return decision, apperrors.ErrInfrastructure.WithMessage("authorization could not be verified")
	}
	return decision, apperrors.ErrForbidden.WithMessage(
		fmt.Sprintf("admin capability required on %s", scopeLabel(scope)))
}

// callerTier returns the caller's best role tier for scope. An admin decision reached through
// ownership or a direct grant counts as the admin tier.
func (a authorizer) callerTier(ctx context.Context, actor string, scope permissions.GrantScope, admin permissions.Decision, now time.Time) (permissions.RoleKind, bool, error) {
	best, found, err := a.checker.Resolver().BestTier(ctx, actor, scope, now)
	if err != nil {
		return "", false, apperrors.Infrastructure(err)
	}
	if admin.Provenance == permissions.ProvenanceOwner || admin.Provenance == permissions.ProvenanceDirect {
		if !found || permissions.KindAdmin.Outranks(best) {
			return permissions.KindAdmin, true, nil
		}
	}
	return best, found, nil
}

// guardEscalation rejects assigning a role that outranks the caller's own tier on scope.
func (a authorizer) guardEscalation(ctx context.Context, actor string, scope permissions.GrantScope, admin permissions.Decision, target permissions.RoleKind, now time.Time) error {
	tier, found, err := a.callerTier(ctx, actor, scope, admin, now)
	if err != nil {
		return err
	}
	if !found || target.Outranks(tier) {
		return apperrors.ErrPrivilegeEscalation.WithMessage(
			fmt.Sprintf("cannot assign %s role above own tier", target))
	}
	return nil
}
