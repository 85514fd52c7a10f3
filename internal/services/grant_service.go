package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"gorm.io/datatypes"

	"github.com/charlesng35/kbguard/internal/models"
	"github.com/charlesng35/kbguard/internal/monitoring"
	"github.com/charlesng35/kbguard/internal/permissions"
	"github.com/charlesng35/kbguard/internal/store"
	apperrors "github.com/charlesng35/kbguard/pkg/errors"
	"github.com/charlesng35/kbguard/pkg/logger"
	"github.com/charlesng35/kbguard/pkg/metrics"
)

var grantTracer = otel.Tracer("kbguard/services/grants")

// GrantStore is the store surface the mutation services need.
type GrantStore interface {
	permissions.GrantReader
	permissions.GrantWriter
}

// GrantService applies grant mutations. Every mutation is validated, authorized against the
// caller's admin capability, written atomically, invalidated in the cache and audited.
type GrantService struct {
	store   GrantStore
	checker *permissions.Checker
	cache   *permissions.PermissionCache
	auth    authorizer
	audit   AuditSink
	now     func() time.Time
	log     *zap.Logger
}

// GrantServiceOption customises a GrantService.
type GrantServiceOption func(*GrantService)

// WithGrantClock overrides the clock used for grant timestamps and expiry checks.
func WithGrantClock(now func() time.Time) GrantServiceOption {
	return func(s *GrantService) {
		if now != nil {
			s.now = now
		}
	}
}

// NewGrantService constructs a GrantService. audit may be nil.
func NewGrantService(grants GrantStore, checker *permissions.Checker, audit AuditSink, opts ...GrantServiceOption) (*GrantService, error) {
	if grants == nil {
		return nil, errors.New("grant service: store is required")
	}
	if checker == nil {
		return nil, errors.New("grant service: checker is required")
	}
	svc := &GrantService{
		store:   grants,
		checker: checker,
		cache:   checker.Cache(),
		auth:    authorizer{checker: checker},
		audit:   audit,
		now:     time.Now,
		log:     logger.WithModule("grants"),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(svc)
		}
	}
	return svc, nil
}

// GrantRoleInput describes a role assignment to a user or team.
type GrantRoleInput struct {
	HolderID     string     `json:"holder_id" validate:"notblank,max=64"`
	RoleCode     string     `json:"role_code" validate:"notblank,slug,max=64"`
	TenantID     string     `json:"tenant_id" validate:"notblank,max=64"`
	ResourceType string     `json:"resource_type" validate:"omitempty,slug,max=32"`
	ResourceID   string     `json:"resource_id" validate:"omitempty,max=128"`
	ExpiresAt    *time.Time `json:"expires_at"`
	ActorID      string     `json:"-"`
}

// RevokeRoleInput selects active grants to deactivate. An empty RoleCode matches any role;
// a ResourceID without a ResourceType matches the resource on any type.
type RevokeRoleInput struct {
	HolderID     string `json:"holder_id" validate:"notblank,max=64"`
	RoleCode     string `json:"role_code" validate:"omitempty,slug,max=64"`
	TenantID     string `json:"tenant_id" validate:"notblank,max=64"`
	ResourceType string `json:"resource_type" validate:"omitempty,slug,max=32"`
	ResourceID   string `json:"resource_id" validate:"omitempty,max=128"`
	ActorID      string `json:"-"`
}

// DirectPermissionInput describes a direct capability grant on one resource.
type DirectPermissionInput struct {
	UserID       string         `json:"user_id" validate:"notblank,max=64"`
	TenantID     string         `json:"tenant_id" validate:"notblank,max=64"`
	ResourceType string         `json:"resource_type" validate:"notblank,slug,max=32"`
	ResourceID   string         `json:"resource_id" validate:"notblank,max=128"`
	Capability   string         `json:"permission_type" validate:"notblank,max=16"`
	ExpiresAt    *time.Time     `json:"expires_at"`
	Metadata     map[string]any `json:"metadata"`
	ActorID      string         `json:"-"`
}

// OwnershipInput records a new owner for a resource.
type OwnershipInput struct {
	TenantID     string `json:"tenant_id" validate:"notblank,max=64"`
	ResourceType string `json:"resource_type" validate:"notblank,slug,max=32"`
	ResourceID   string `json:"resource_id" validate:"notblank,max=128"`
	OwnerID      string `json:"owner_id" validate:"notblank,max=64"`
	ActorID      string `json:"-"`
}

// ForgetResourceInput identifies a deleted resource.
type ForgetResourceInput struct {
	TenantID     string `json:"tenant_id" validate:"notblank,max=64"`
	ResourceType string `json:"resource_type" validate:"notblank,slug,max=32"`
	ResourceID   string `json:"resource_id" validate:"notblank,max=128"`
	ActorID      string `json:"-"`
}

// MembershipChange reports that the members of a team changed. UserIDs lists users who
// joined or left; current members are always refreshed.
type MembershipChange struct {
	TeamID   string   `json:"team_id" validate:"notblank,max=64"`
	TenantID string   `json:"tenant_id" validate:"notblank,max=64"`
	UserIDs  []string `json:"user_ids"`
	ActorID  string   `json:"-"`
}

type preparedGrant struct {
	role      *models.Role
	kind      permissions.RoleKind
	scope     permissions.GrantScope
	expiresAt *time.Time
	actor     string
	now       time.Time
}

// prepareGrant runs every check that precedes a role grant write.
func (s *GrantService) prepareGrant(ctx context.Context, input GrantRoleInput) (preparedGrant, error) {
	if err := validateInput(input); err != nil {
		return preparedGrant{}, err
	}
	actor := actorID(ctx, input.ActorID)
	if actor == "" {
		return preparedGrant{}, apperrors.ErrUnauthorized
	}

	scope, err := parseScope(input.TenantID, input.ResourceType, input.ResourceID)
	if err != nil {
		return preparedGrant{}, err
	}
	role, kind, err := s.resolveRole(ctx, input.RoleCode, scope.TenantID)
	if err != nil {
		return preparedGrant{}, err
	}
	if err := kind.CheckScope(scope.Scope()); err != nil {
		return preparedGrant{}, err
	}

	now := s.now().UTC()
	expiresAt, err := checkExpiry(input.ExpiresAt, now)
	if err != nil {
		return preparedGrant{}, err
	}

	admin, err := s.auth.requireAdmin(ctx, actor, scope)
	if err != nil {
		return preparedGrant{}, err
	}
	if err := s.auth.guardEscalation(ctx, actor, scope, admin, kind, now); err != nil {
		return preparedGrant{}, err
	}

	return preparedGrant{role: role, kind: kind, scope: scope, expiresAt: expiresAt, actor: actor, now: now}, nil
}

func (s *GrantService) resolveRole(ctx context.Context, code, tenantID string) (*models.Role, permissions.RoleKind, error) {
	role, err := s.store.FindRoleByCode(ctx, strings.TrimSpace(code))
	if errors.Is(err, store.ErrNotFound) {
		return nil, "", apperrors.NewValidation(fmt.Sprintf("unknown role %q", code))
	}
	if err != nil {
		return nil, "", apperrors.Infrastructure(err)
	}
	if role.TenantID != nil && *role.TenantID != tenantID {
		return nil, "", apperrors.NewValidation(fmt.Sprintf("role %q is not available in tenant %q", code, tenantID))
	}
	kind, err := permissions.ParseRoleKind(role.Kind)
	if err != nil {
		return nil, "", err
	}
	return role, kind, nil
}

// GrantUserRole assigns a role to a user on a scope, replacing any role the user already
// holds there.
func (s *GrantService) GrantUserRole(ctx context.Context, input GrantRoleInput) (result permissions.ReplaceResult[models.UserRoleGrant], err error) {
	ctx = ensureContext(ctx)
	ctx, span := s.startSpan(ctx, "GrantUserRole", input.TenantID, input.RoleCode)
	outcome := AuditResultSuccess
	defer func() { s.observe(span, "grant_user_role", outcome, err) }()

	prepared, err := s.prepareGrant(ctx, input)
	if err != nil {
		s.auditRejected(ctx, "role.grant", models.HolderUser, input.HolderID, input.TenantID, input.ActorID, err)
		return result, err
	}

	holderID := strings.TrimSpace(input.HolderID)
	grant := &models.UserRoleGrant{
		UserID:       holderID,
		TenantID:     prepared.scope.TenantID,
		ResourceType: string(prepared.scope.ResourceType),
		ResourceID:   prepared.scope.ResourceID,
		RoleID:       prepared.role.ID,
		GrantedBy:    prepared.actor,
		GrantedAt:    prepared.now,
		ExpiresAt:    prepared.expiresAt,
	}

	result, err = s.store.ReplaceUserGrant(ctx, grant)
	if err != nil {
		return result, storeError(err)
	}
	result.Grant.Role = prepared.role
	if result.Noop {
		outcome = AuditResultNoop
	}

	invalidateErr := s.invalidate(ctx, permissions.ByUser(holderID))
	recordAudit(s.audit, s.log, ctx, AuditEntry{
		ActorID:    prepared.actor,
		Action:     "role.grant",
		TargetType: models.HolderUser,
		TargetID:   holderID,
		TenantID:   prepared.scope.TenantID,
		Resource:   scopeLabel(prepared.scope),
		Result:     outcome,
		Metadata:   grantMetadata(prepared, result.Noop, previousUserRole(result.Previous), invalidateErr),
	})
	return result, invalidateErr
}

// GrantTeamRole assigns a role to a team on a scope. Members inherit it.
func (s *GrantService) GrantTeamRole(ctx context.Context, input GrantRoleInput) (result permissions.ReplaceResult[models.TeamRoleGrant], err error) {
	ctx = ensureContext(ctx)
	ctx, span := s.startSpan(ctx, "GrantTeamRole", input.TenantID, input.RoleCode)
	outcome := AuditResultSuccess
	defer func() { s.observe(span, "grant_team_role", outcome, err) }()

	prepared, err := s.prepareGrant(ctx, input)
	if err != nil {
		s.auditRejected(ctx, "role.grant", models.HolderTeam, input.HolderID, input.TenantID, input.ActorID, err)
		return result, err
	}

	holderID := strings.TrimSpace(input.HolderID)
	grant := &models.TeamRoleGrant{
		TeamID:       holderID,
		TenantID:     prepared.scope.TenantID,
		ResourceType: string(prepared.scope.ResourceType),
		ResourceID:   prepared.scope.ResourceID,
		RoleID:       prepared.role.ID,
		GrantedBy:    prepared.actor,
		GrantedAt:    prepared.now,
		ExpiresAt:    prepared.expiresAt,
	}

	result, err = s.store.ReplaceTeamGrant(ctx, grant)
	if err != nil {
		return result, storeError(err)
	}
	result.Grant.Role = prepared.role
	if result.Noop {
		outcome = AuditResultNoop
	}

	invalidateErr := s.invalidate(ctx, permissions.ByTeam(holderID))
	var previous string
	if result.Previous != nil {
		previous = result.Previous.RoleID
	}
	recordAudit(s.audit, s.log, ctx, AuditEntry{
		ActorID:    prepared.actor,
		Action:     "role.grant",
		TargetType: models.HolderTeam,
		TargetID:   holderID,
		TenantID:   prepared.scope.TenantID,
		Resource:   scopeLabel(prepared.scope),
		Result:     outcome,
		Metadata:   grantMetadata(prepared, result.Noop, previous, invalidateErr),
	})
	return result, invalidateErr
}

type preparedRevoke struct {
	filter permissions.RevokeFilter
	scope  permissions.GrantScope
	actor  string
	now    time.Time
}

func (s *GrantService) prepareRevoke(ctx context.Context, input RevokeRoleInput) (preparedRevoke, error) {
	if err := validateInput(input); err != nil {
		return preparedRevoke{}, err
	}
	actor := actorID(ctx, input.ActorID)
	if actor == "" {
		return preparedRevoke{}, apperrors.ErrUnauthorized
	}

	scope := permissions.GlobalScope(strings.TrimSpace(input.TenantID))
	if rid := strings.TrimSpace(input.ResourceID); rid != "" {
		scope.ResourceID = rid
		if rt := strings.TrimSpace(input.ResourceType); rt != "" {
			parsed, err := permissions.ParseResourceType(rt)
			if err != nil {
				return preparedRevoke{}, err
			}
			scope.ResourceType = parsed
		}
	} else if strings.TrimSpace(input.ResourceType) != "" {
		return preparedRevoke{}, apperrors.NewValidation("resource_type requires resource_id")
	}

	filter := permissions.RevokeFilter{
		HolderID:     strings.TrimSpace(input.HolderID),
		TenantID:     scope.TenantID,
		ResourceType: scope.ResourceType,
		ResourceID:   scope.ResourceID,
		RevokedBy:    actor,
	}
	if code := strings.TrimSpace(input.RoleCode); code != "" {
		role, _, err := s.resolveRole(ctx, code, scope.TenantID)
		if err != nil {
			return preparedRevoke{}, err
		}
		filter.RoleID = role.ID
	}

	if _, err := s.auth.requireAdmin(ctx, actor, scope); err != nil {
		return preparedRevoke{}, err
	}
	return preparedRevoke{filter: filter, scope: scope, actor: actor, now: s.now().UTC()}, nil
}

// RevokeUserRole deactivates the user's matching grants. No escalation guard applies.
func (s *GrantService) RevokeUserRole(ctx context.Context, input RevokeRoleInput) (revoked []models.UserRoleGrant, err error) {
	ctx = ensureContext(ctx)
	ctx, span := s.startSpan(ctx, "RevokeUserRole", input.TenantID, input.RoleCode)
	outcome := AuditResultSuccess
	defer func() { s.observe(span, "revoke_user_role", outcome, err) }()

	prepared, err := s.prepareRevoke(ctx, input)
	if err != nil {
		s.auditRejected(ctx, "role.revoke", models.HolderUser, input.HolderID, input.TenantID, input.ActorID, err)
		return nil, err
	}

	revoked, err = s.store.DeactivateUserGrants(ctx, prepared.filter, prepared.now)
	if err != nil {
		return nil, storeError(err)
	}
	if len(revoked) == 0 {
		return nil, apperrors.ErrNotFound.WithMessage("no active grant matches")
	}

	ids := make([]string, 0, len(revoked))
	for _, grant := range revoked {
		ids = append(ids, grant.ID)
	}
	invalidateErr := s.invalidate(ctx, permissions.ByUser(prepared.filter.HolderID))
	recordAudit(s.audit, s.log, ctx, AuditEntry{
		ActorID:    prepared.actor,
		Action:     "role.revoke",
		TargetType: models.HolderUser,
		TargetID:   prepared.filter.HolderID,
		TenantID:   prepared.scope.TenantID,
		Resource:   revokeLabel(prepared.scope),
		Result:     outcome,
		Metadata:   revokeMetadata(input.RoleCode, ids, invalidateErr),
	})
	return revoked, invalidateErr
}

// RevokeTeamRole deactivates the team's matching grants.
func (s *GrantService) RevokeTeamRole(ctx context.Context, input RevokeRoleInput) (revoked []models.TeamRoleGrant, err error) {
	ctx = ensureContext(ctx)
	ctx, span := s.startSpan(ctx, "RevokeTeamRole", input.TenantID, input.RoleCode)
	outcome := AuditResultSuccess
	defer func() { s.observe(span, "revoke_team_role", outcome, err) }()

	prepared, err := s.prepareRevoke(ctx, input)
	if err != nil {
		s.auditRejected(ctx, "role.revoke", models.HolderTeam, input.HolderID, input.TenantID, input.ActorID, err)
		return nil, err
	}

	revoked, err = s.store.DeactivateTeamGrants(ctx, prepared.filter, prepared.now)
	if err != nil {
		return nil, storeError(err)
	}
	if len(revoked) == 0 {
		return nil, apperrors.ErrNotFound.WithMessage("no active grant matches")
	}

	ids := make([]string, 0, len(revoked))
	for _, grant := range revoked {
		ids = append(ids, grant.ID)
	}
	invalidateErr := s.invalidate(ctx, permissions.ByTeam(prepared.filter.HolderID))
	recordAudit(s.audit, s.log, ctx, AuditEntry{
		ActorID:    prepared.actor,
		Action:     "role.revoke",
		TargetType: models.HolderTeam,
		TargetID:   prepared.filter.HolderID,
		TenantID:   prepared.scope.TenantID,
		Resource:   revokeLabel(prepared.scope),
		Result:     outcome,
		Metadata:   revokeMetadata(input.RoleCode, ids, invalidateErr),
	})
	return revoked, invalidateErr
}

func (s *GrantService) prepareDirect(ctx context.Context, input DirectPermissionInput) (permissions.CheckRequest, string, error) {
	if err := validateInput(input); err != nil {
		return permissions.CheckRequest{}, "", err
	}
	actor := actorID(ctx, input.ActorID)
	if actor == "" {
		return permissions.CheckRequest{}, "", apperrors.ErrUnauthorized
	}
	req, err := permissions.NewCheckRequest(input.UserID, input.TenantID, input.ResourceType, input.ResourceID, input.Capability)
	if err != nil {
		return permissions.CheckRequest{}, "", err
	}
	return req, actor, nil
}

// GrantDirectPermission records a direct capability on one resource. Granting the admin
// capability directly requires the caller to hold at least the admin tier.
func (s *GrantService) GrantDirectPermission(ctx context.Context, input DirectPermissionInput) (perm *models.ResourcePermission, err error) {
	ctx = ensureContext(ctx)
	ctx, span := s.startSpan(ctx, "GrantDirectPermission", input.TenantID, input.Capability)
	outcome := AuditResultSuccess
	defer func() { s.observe(span, "grant_direct_permission", outcome, err) }()

	req, actor, err := s.prepareDirect(ctx, input)
	if err != nil {
		return nil, err
	}
	scope := permissions.ResourceScope(req.TenantID, req.ResourceType, req.ResourceID)
	now := s.now().UTC()
	expiresAt, err := checkExpiry(input.ExpiresAt, now)
	if err != nil {
		return nil, err
	}

	admin, err := s.auth.requireAdmin(ctx, actor, scope)
	if err == nil && req.Capability == permissions.CapabilityAdmin {
		err = s.auth.guardEscalation(ctx, actor, scope, admin, permissions.KindAdmin, now)
	}
	if err != nil {
		s.auditRejected(ctx, "permission.grant", models.HolderUser, req.UserID, req.TenantID, actor, err)
		return nil, err
	}

	perm = &models.ResourcePermission{
		UserID:       req.UserID,
		TenantID:     req.TenantID,
		ResourceType: string(req.ResourceType),
		ResourceID:   req.ResourceID,
		Capability:   string(req.Capability),
		GrantedBy:    actor,
		ExpiresAt:    expiresAt,
	}
	if input.Metadata != nil {
		encoded, err := json.Marshal(input.Metadata)
		if err != nil {
			return nil, apperrors.NewValidation("metadata must be a JSON object")
		}
		perm.Metadata = datatypes.JSON(encoded)
	}
	if err := s.store.UpsertDirectPermission(ctx, perm); err != nil {
		return nil, storeError(err)
	}

	invalidateErr := s.invalidate(ctx, permissions.ByUser(req.UserID))
	recordAudit(s.audit, s.log, ctx, AuditEntry{
		ActorID:    actor,
		Action:     "permission.grant",
		TargetType: models.HolderUser,
		TargetID:   req.UserID,
		TenantID:   req.TenantID,
		Resource:   scopeLabel(scope),
		Result:     outcome,
		Metadata:   withInvalidation(map[string]any{"capability": string(req.Capability), "expires_at": expiresAt}, invalidateErr),
	})
	return perm, invalidateErr
}

// RevokeDirectPermission removes a direct capability grant.
func (s *GrantService) RevokeDirectPermission(ctx context.Context, input DirectPermissionInput) (err error) {
	ctx = ensureContext(ctx)
	ctx, span := s.startSpan(ctx, "RevokeDirectPermission", input.TenantID, input.Capability)
	outcome := AuditResultSuccess
	defer func() { s.observe(span, "revoke_direct_permission", outcome, err) }()

	req, actor, err := s.prepareDirect(ctx, input)
	if err != nil {
		return err
	}
	scope := permissions.ResourceScope(req.TenantID, req.ResourceType, req.ResourceID)
	if _, err := s.auth.requireAdmin(ctx, actor, scope); err != nil {
		s.auditRejected(ctx, "permission.revoke", models.HolderUser, req.UserID, req.TenantID, actor, err)
		return err
	}

	deleted, err := s.store.DeleteDirectPermission(ctx, req.UserID, req.TenantID, req.ResourceType, req.ResourceID, req.Capability)
	if err != nil {
		return storeError(err)
	}
	if !deleted {
		return apperrors.ErrNotFound.WithMessage("no direct permission matches")
	}

	invalidateErr := s.invalidate(ctx, permissions.ByUser(req.UserID))
	recordAudit(s.audit, s.log, ctx, AuditEntry{
		ActorID:    actor,
		Action:     "permission.revoke",
		TargetType: models.HolderUser,
		TargetID:   req.UserID,
		TenantID:   req.TenantID,
		Resource:   scopeLabel(scope),
		Result:     outcome,
		Metadata:   withInvalidation(map[string]any{"capability": string(req.Capability)}, invalidateErr),
	})
	return invalidateErr
}

// TransferOwnership records a resource's owner. The first owner of an unowned resource may
// register themselves; every later change needs admin on the resource.
func (s *GrantService) TransferOwnership(ctx context.Context, input OwnershipInput) (previous string, err error) {
	ctx = ensureContext(ctx)
	ctx, span := s.startSpan(ctx, "TransferOwnership", input.TenantID, "")
	outcome := AuditResultSuccess
	defer func() { s.observe(span, "transfer_ownership", outcome, err) }()

	if err := validateInput(input); err != nil {
		return "", err
	}
	actor := actorID(ctx, input.ActorID)
	if actor == "" {
		return "", apperrors.ErrUnauthorized
	}
	scope, err := parseScope(input.TenantID, input.ResourceType, input.ResourceID)
	if err != nil {
		return "", err
	}
	ownerID := strings.TrimSpace(input.OwnerID)

	current, owned, err := s.store.ResourceOwner(ctx, scope.TenantID, scope.ResourceType, scope.ResourceID)
	if err != nil {
		return "", apperrors.Infrastructure(err)
	}
	if owned && current == ownerID {
		outcome = AuditResultNoop
		return current, nil
	}
	if owned || actor != ownerID {
		if _, err := s.auth.requireAdmin(ctx, actor, scope); err != nil {
			s.auditRejected(ctx, "resource.owner", "resource", scope.ResourceID, scope.TenantID, actor, err)
			return "", err
		}
	}

	previous, err = s.store.SetOwner(ctx, &models.ResourceOwnership{
		ResourceType: string(scope.ResourceType),
		ResourceID:   scope.ResourceID,
		TenantID:     scope.TenantID,
		OwnerID:      ownerID,
	})
	if err != nil {
		return "", storeError(err)
	}

	invalidateErr := s.invalidate(ctx, permissions.ByResource(scope.ResourceType, scope.ResourceID))
	recordAudit(s.audit, s.log, ctx, AuditEntry{
		ActorID:    actor,
		Action:     "resource.owner",
		TargetType: "resource",
		TargetID:   scope.ResourceID,
		TenantID:   scope.TenantID,
		Resource:   scopeLabel(scope),
		Result:     outcome,
		Metadata:   withInvalidation(map[string]any{"owner_id": ownerID, "previous_owner_id": previous}, invalidateErr),
	})
	return previous, invalidateErr
}

// ForgetResource drops every grant, direct permission and ownership record of a deleted
// resource.
func (s *GrantService) ForgetResource(ctx context.Context, input ForgetResourceInput) (err error) {
	ctx = ensureContext(ctx)
	ctx, span := s.startSpan(ctx, "ForgetResource", input.TenantID, "")
	outcome := AuditResultSuccess
	defer func() { s.observe(span, "forget_resource", outcome, err) }()

	if err := validateInput(input); err != nil {
		return err
	}
	actor := actorID(ctx, input.ActorID)
	if actor == "" {
		return apperrors.ErrUnauthorized
	}
	scope, err := parseScope(input.TenantID, input.ResourceType, input.ResourceID)
	if err != nil {
		return err
	}
	if _, err := s.auth.requireAdmin(ctx, actor, scope); err != nil {
		s.auditRejected(ctx, "resource.forget", "resource", scope.ResourceID, scope.TenantID, actor, err)
		return err
	}

	if err := s.store.ForgetResource(ctx, scope.ResourceType, scope.ResourceID, actor, s.now().UTC()); err != nil {
		return storeError(err)
	}

	invalidateErr := s.invalidate(ctx, permissions.ByResource(scope.ResourceType, scope.ResourceID))
	recordAudit(s.audit, s.log, ctx, AuditEntry{
		ActorID:    actor,
		Action:     "resource.forget",
		TargetType: "resource",
		TargetID:   scope.ResourceID,
		TenantID:   scope.TenantID,
		Resource:   scopeLabel(scope),
		Result:     outcome,
		Metadata:   withInvalidation(map[string]any{}, invalidateErr),
	})
	return invalidateErr
}

// NotifyMembershipChanged drops cached decisions of everyone affected by a membership change
// made outside the service. The caller must administer the tenant.
func (s *GrantService) NotifyMembershipChanged(ctx context.Context, change MembershipChange) error {
	ctx = ensureContext(ctx)
	if err := validateInput(change); err != nil {
		return err
	}
	actor := actorID(ctx, change.ActorID)
	if _, err := s.auth.requireAdmin(ctx, actor, permissions.GlobalScope(strings.TrimSpace(change.TenantID))); err != nil {
		s.auditRejected(ctx, "team.membership.changed", "team", change.TeamID, change.TenantID, actor, err)
		return err
	}
	return s.invalidateMembership(ctx, strings.TrimSpace(change.TeamID), change.UserIDs)
}

func (s *GrantService) invalidateMembership(ctx context.Context, teamID string, userIDs []string) error {
	var errs error
	for _, userID := range normaliseIDs(userIDs) {
		errs = multierr.Append(errs, s.cache.Invalidate(ctx, permissions.ByUser(userID)))
	}
	errs = multierr.Append(errs, s.cache.Invalidate(ctx, permissions.ByTeam(teamID)))
	if errs != nil {
		s.log.Error("membership invalidation failed", zap.String("team_id", teamID), zap.Error(errs))
		return apperrors.Infrastructure(errs)
	}
	s.log.Debug("membership change applied", zap.String("team_id", teamID), zap.Int("users", len(userIDs)))
	return nil
}

// invalidate runs after a committed write. A failure is surfaced so the caller knows stale
// decisions may be served until they expire.
func (s *GrantService) invalidate(ctx context.Context, selector permissions.Selector) error {
	if err := s.cache.Invalidate(ctx, selector); err != nil {
		s.log.Error("cache invalidation failed after write",
			zap.String("selector", selector.Kind()),
			zap.Error(err))
		return apperrors.Infrastructure(err)
	}
	return nil
}

func (s *GrantService) startSpan(ctx context.Context, name, tenantID, subject string) (context.Context, trace.Span) {
	return grantTracer.Start(ctx, name, trace.WithAttributes(
		attribute.String("tenant_id", tenantID),
		attribute.String("subject", subject),
	))
}

func (s *GrantService) observe(span trace.Span, operation, outcome string, err error) {
	defer span.End()
	if err != nil {
		outcome = AuditResultFailure
		if isDenial(err) {
			outcome = AuditResultDenied
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, operation+" failed")
	}
	span.SetAttributes(attribute.String("outcome", outcome))
	metrics.GrantMutations.WithLabelValues(operation, outcome).Inc()
	monitoring.RecordMutation(operation, outcome)
}

// auditRejected records authorization and escalation refusals. Other validation failures are
// not audited.
func (s *GrantService) auditRejected(ctx context.Context, action, targetType, targetID, tenantID, actor string, err error) {
	if !isDenial(err) {
		return
	}
	recordAudit(s.audit, s.log, ctx, AuditEntry{
		ActorID:    actorID(ctx, actor),
		Action:     action,
		TargetType: targetType,
		TargetID:   strings.TrimSpace(targetID),
		TenantID:   strings.TrimSpace(tenantID),
		Result:     AuditResultDenied,
		Metadata:   map[string]any{"error": apperrors.FromError(err).Code},
	})
}

func isDenial(err error) bool {
	return errors.Is(err, apperrors.ErrForbidden) || errors.Is(err, apperrors.ErrPrivilegeEscalation)
}

func grantMetadata(prepared preparedGrant, noop bool, previousRole string, invalidateErr error) map[string]any {
	meta := map[string]any{
		"role":       prepared.role.Code,
		"kind":       string(prepared.kind),
		"noop":       noop,
		"expires_at": prepared.expiresAt,
	}
	if previousRole != "" {
		meta["previous_role_id"] = previousRole
	}
	return withInvalidation(meta, invalidateErr)
}

func revokeMetadata(roleCode string, grantIDs []string, invalidateErr error) map[string]any {
	meta := map[string]any{"grant_ids": grantIDs}
	if code := strings.TrimSpace(roleCode); code != "" {
		meta["role"] = code
	}
	return withInvalidation(meta, invalidateErr)
}

func withInvalidation(meta map[string]any, invalidateErr error) map[string]any {
	if invalidateErr != nil {
		meta["invalidation_failed"] = true
	}
	return meta
}

func previousUserRole(previous *models.UserRoleGrant) string {
	if previous == nil {
		return ""
	}
	return previous.RoleID
}

func revokeLabel(scope permissions.GrantScope) string {
	if !scope.IsGlobal() && scope.ResourceType == "" {
		return "*:" + scope.ResourceID
	}
	return scopeLabel(scope)
}
