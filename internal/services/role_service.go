package services

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/charlesng35/kbguard/internal/models"
	"github.com/charlesng35/kbguard/internal/monitoring"
	"github.com/charlesng35/kbguard/internal/permissions"
	"github.com/charlesng35/kbguard/internal/store"
	apperrors "github.com/charlesng35/kbguard/pkg/errors"
	"github.com/charlesng35/kbguard/pkg/logger"
	"github.com/charlesng35/kbguard/pkg/metrics"
)

// RoleStore extends GrantStore with role lifecycle and listing queries.
type RoleStore interface {
	GrantStore
	FindRoleByID(ctx context.Context, roleID string) (*models.Role, error)
	CreateRole(ctx context.Context, role *models.Role, refs []permissions.PermissionRef) error
	UpdateRole(ctx context.Context, roleID string, updates map[string]any) error
	DeleteRole(ctx context.Context, roleID string) error
	RoleReferenced(ctx context.Context, roleID string) (bool, error)
	ListUserGrants(ctx context.Context, userID, tenantID string) ([]models.UserRoleGrant, error)
	ListTeamGrants(ctx context.Context, teamID, tenantID string) ([]models.TeamRoleGrant, error)
	ListDirectPermissions(ctx context.Context, userID, tenantID string) ([]models.ResourcePermission, error)
}

var _ RoleStore = (*store.GrantStore)(nil)

// RoleView is the catalog representation of a role.
type RoleView struct {
	ID          string               `json:"id"`
	Code        string               `json:"code"`
	Name        string               `json:"name"`
	Description string               `json:"description"`
	Kind        permissions.RoleKind `json:"kind"`
	Priority    int                  `json:"priority"`
	IsSystem    bool                 `json:"is_system"`
	TenantID    *string              `json:"tenant_id,omitempty"`
	Scopes      []string             `json:"scopes"`
	Permissions []string             `json:"permissions"`
}

// GrantView describes an active grant held by a user, directly or through a team.
type GrantView struct {
	ID           string               `json:"id"`
	Source       permissions.Source   `json:"source"`
	HolderID     string               `json:"holder_id"`
	RoleID       string               `json:"role_id"`
	RoleCode     string               `json:"role_code"`
	RoleKind     permissions.RoleKind `json:"role_kind"`
	TenantID     string               `json:"tenant_id"`
	ResourceType string               `json:"resource_type,omitempty"`
	ResourceID   string               `json:"resource_id,omitempty"`
	GrantedBy    string               `json:"granted_by"`
	GrantedAt    time.Time            `json:"granted_at"`
	ExpiresAt    *time.Time           `json:"expires_at,omitempty"`
}

// ResourcePermissions lists the capabilities a user holds on one resource.
type ResourcePermissions struct {
	ResourceType string   `json:"resource_type"`
	ResourceID   string   `json:"resource_id"`
	Roles        []string `json:"roles"`
	Direct       []string `json:"direct"`
	Permissions  []string `json:"permissions"`
}

// UserPermissions summarises everything a user can do in a tenant. Ownership is evaluated
// per check and not listed.
type UserPermissions struct {
	UserID      string                `json:"user_id"`
	TenantID    string                `json:"tenant_id"`
	SuperAdmin  bool                  `json:"super_admin"`
	GlobalRoles []string              `json:"global_roles"`
	Global      []string              `json:"global"`
	Resources   []ResourcePermissions `json:"resources"`
}

// CreateRoleInput describes a tenant-scoped custom role.
type CreateRoleInput struct {
	TenantID    string   `json:"tenant_id" validate:"notblank,max=64"`
	Code        string   `json:"code" validate:"notblank,slug,max=64"`
	Name        string   `json:"name" validate:"notblank,max=128"`
	Description string   `json:"description" validate:"max=512"`
	Kind        string   `json:"kind" validate:"notblank"`
	Permissions []string `json:"permissions"`
	ActorID     string   `json:"-"`
}

// UpdateRoleInput describes mutable role fields. Nil fields are left unchanged.
type UpdateRoleInput struct {
	TenantID    string  `json:"tenant_id" validate:"notblank,max=64"`
	Name        *string `json:"name" validate:"omitempty,max=128"`
	Description *string `json:"description" validate:"omitempty,max=512"`
	ActorID     string  `json:"-"`
}

// SetRolePermissionsInput replaces the permission set of a role.
type SetRolePermissionsInput struct {
	TenantID    string   `json:"tenant_id" validate:"notblank,max=64"`
	Permissions []string `json:"permissions"`
	ActorID     string   `json:"-"`
}

// RoleService exposes the role catalog, role lifecycle and grant listings.
type RoleService struct {
	store   RoleStore
	checker *permissions.Checker
	cache   *permissions.PermissionCache
	auth    authorizer
	audit   AuditSink
	now     func() time.Time
	log     *zap.Logger
}

// RoleServiceOption customises a RoleService.
type RoleServiceOption func(*RoleService)

// WithRoleClock overrides the clock used to filter expired grants.
func WithRoleClock(now func() time.Time) RoleServiceOption {
	return func(s *RoleService) {
		if now != nil {
			s.now = now
		}
	}
}

// NewRoleService constructs a RoleService. audit may be nil.
func NewRoleService(roles RoleStore, checker *permissions.Checker, audit AuditSink, opts ...RoleServiceOption) (*RoleService, error) {
	if roles == nil {
		return nil, errors.New("role service: store is required")
	}
	if checker == nil {
		return nil, errors.New("role service: checker is required")
	}
	svc := &RoleService{
		store:   roles,
		checker: checker,
		cache:   checker.Cache(),
		auth:    authorizer{checker: checker},
		audit:   audit,
		now:     time.Now,
		log:     logger.WithModule("roles"),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(svc)
		}
	}
	return svc, nil
}

// Catalog returns every role ordered by tier then code.
func (s *RoleService) Catalog(ctx context.Context) ([]RoleView, error) {
	ctx = ensureContext(ctx)

	roles, err := s.store.ListRoles(ctx)
	if err != nil {
		return nil, apperrors.Infrastructure(err)
	}

	views := make([]RoleView, 0, len(roles))
	for i := range roles {
		views = append(views, roleView(&roles[i]))
	}
	sort.SliceStable(views, func(i, j int) bool {
		if views[i].Priority != views[j].Priority {
			return views[i].Priority < views[j].Priority
		}
		return views[i].Code < views[j].Code
	})
	return views, nil
}

// Permissions returns the permission catalog.
func (s *RoleService) Permissions() []permissions.Definition {
	return permissions.All()
}

// ListUserRoles returns the user's active grants in tenantID, personal ones first and then
// those inherited from teams. Callers other than the user need tenant admin.
func (s *RoleService) ListUserRoles(ctx context.Context, actor, userID, tenantID string) ([]GrantView, error) {
	ctx = ensureContext(ctx)
	userID, tenantID = strings.TrimSpace(userID), strings.TrimSpace(tenantID)
	if err := s.authorizeSubject(ctx, actor, userID, tenantID); err != nil {
		return nil, err
	}
	return s.userGrantViews(ctx, userID, tenantID)
}

// ListTeamRoles returns the team's active grants in tenantID. It needs tenant admin.
func (s *RoleService) ListTeamRoles(ctx context.Context, actor, teamID, tenantID string) ([]GrantView, error) {
	ctx = ensureContext(ctx)
	teamID, tenantID = strings.TrimSpace(teamID), strings.TrimSpace(tenantID)
	if teamID == "" || tenantID == "" {
		return nil, apperrors.NewValidation("team id and tenant id are required")
	}
	if _, err := s.auth.requireAdmin(ctx, actorID(ctx, actor), permissions.GlobalScope(tenantID)); err != nil {
		return nil, err
	}

	rows, err := s.store.ListTeamGrants(ctx, teamID, tenantID)
	if err != nil {
		return nil, apperrors.Infrastructure(err)
	}
	now := s.now()
	views := make([]GrantView, 0, len(rows))
	for i := range rows {
		if rows[i].ExpiredAt(now) {
			continue
		}
		views = append(views, teamGrantView(&rows[i]))
	}
	return views, nil
}

// ListUserPermissions expands the user's grants into capability codes per scope.
func (s *RoleService) ListUserPermissions(ctx context.Context, actor, userID, tenantID string) (UserPermissions, error) {
	ctx = ensureContext(ctx)
	userID, tenantID = strings.TrimSpace(userID), strings.TrimSpace(tenantID)
	if err := s.authorizeSubject(ctx, actor, userID, tenantID); err != nil {
		return UserPermissions{}, err
	}

	grants, err := s.userGrantViews(ctx, userID, tenantID)
	if err != nil {
		return UserPermissions{}, err
	}

	out := UserPermissions{UserID: userID, TenantID: tenantID, GlobalRoles: []string{}, Global: []string{}, Resources: []ResourcePermissions{}}
	global := map[string]struct{}{}
	resources := map[string]*resourceAccumulator{}
	refsByRole := map[string][]permissions.PermissionRef{}

	for _, grant := range grants {
		refs, ok := refsByRole[grant.RoleID]
		if !ok {
			refs, err = s.store.RolePermissions(ctx, grant.RoleID)
			if err != nil {
				return UserPermissions{}, apperrors.Infrastructure(err)
			}
			refsByRole[grant.RoleID] = refs
		}

		if grant.ResourceID == "" {
			if grant.Source == permissions.SourceUser && grant.RoleKind == permissions.KindSuperAdmin {
				out.SuperAdmin = true
			}
			out.GlobalRoles = appendUnique(out.GlobalRoles, grant.RoleCode)
			for _, ref := range refs {
				global[ref.Code()] = struct{}{}
			}
			continue
		}

		acc := accumulatorFor(resources, grant.ResourceType, grant.ResourceID)
		acc.roles = appendUnique(acc.roles, grant.RoleCode)
		for _, ref := range refs {
			if string(ref.ResourceType) == grant.ResourceType {
				acc.permissions[ref.Code()] = struct{}{}
			}
		}
	}

	direct, err := s.store.ListDirectPermissions(ctx, userID, tenantID)
	if err != nil {
		return UserPermissions{}, apperrors.Infrastructure(err)
	}
	now := s.now()
	for _, perm := range direct {
		if perm.ExpiresAt != nil && !now.Before(*perm.ExpiresAt) {
			continue
		}
		code := permissions.PermissionCode(permissions.ResourceType(perm.ResourceType), permissions.Capability(perm.Capability))
		acc := accumulatorFor(resources, perm.ResourceType, perm.ResourceID)
		acc.direct = appendUnique(acc.direct, code)
		acc.permissions[code] = struct{}{}
	}

	out.Global = sortedKeys(global)
	for _, acc := range resources {
		out.Resources = append(out.Resources, ResourcePermissions{
			ResourceType: acc.resourceType,
			ResourceID:   acc.resourceID,
			Roles:        acc.roles,
			Direct:       acc.direct,
			Permissions:  sortedKeys(acc.permissions),
		})
	}
	sort.Slice(out.Resources, func(i, j int) bool {
		if out.Resources[i].ResourceType != out.Resources[j].ResourceType {
			return out.Resources[i].ResourceType < out.Resources[j].ResourceType
		}
		return out.Resources[i].ResourceID < out.Resources[j].ResourceID
	})
	return out, nil
}

// CreateRole adds a custom role to a tenant. The role's kind may not outrank the caller.
func (s *RoleService) CreateRole(ctx context.Context, input CreateRoleInput) (*models.Role, error) {
	ctx = ensureContext(ctx)
	if err := validateInput(input); err != nil {
		return nil, err
	}
	actor := actorID(ctx, input.ActorID)
	kind, err := permissions.ParseRoleKind(input.Kind)
	if err != nil {
		return nil, err
	}
	refs, err := parsePermissionCodes(input.Permissions)
	if err != nil {
		return nil, err
	}

	tenantID := strings.TrimSpace(input.TenantID)
	scope := permissions.GlobalScope(tenantID)
	admin, err := s.auth.requireAdmin(ctx, actor, scope)
	if err != nil {
		return nil, err
	}
	if err := s.auth.guardEscalation(ctx, actor, scope, admin, kind, s.now()); err != nil {
		return nil, err
	}

	role := &models.Role{
		Code:        strings.TrimSpace(input.Code),
		Name:        strings.TrimSpace(input.Name),
		Description: strings.TrimSpace(input.Description),
		Kind:        string(kind),
		TenantID:    &tenantID,
	}
	if err := s.store.CreateRole(ctx, role, refs); err != nil {
		if isUniqueConstraintError(err) {
			return nil, apperrors.NewValidation(fmt.Sprintf("role code %q already exists", role.Code))
		}
		return nil, apperrors.Infrastructure(err)
	}
	metrics.GrantMutations.WithLabelValues("create_role", AuditResultSuccess).Inc()
	monitoring.RecordMutation("create_role", AuditResultSuccess)

	recordAudit(s.audit, s.log, ctx, AuditEntry{
		ActorID:    actor,
		Action:     "role.create",
		TargetType: "role",
		TargetID:   role.ID,
		TenantID:   tenantID,
		Result:     AuditResultSuccess,
		Metadata:   map[string]any{"code": role.Code, "kind": role.Kind, "permissions": permissionCodes(refs)},
	})
	return role, nil
}

// UpdateRole changes role metadata. Once any grant references a role, and always for system
// roles, only the description may change.
func (s *RoleService) UpdateRole(ctx context.Context, roleID string, input UpdateRoleInput) (*models.Role, error) {
	ctx = ensureContext(ctx)
	if err := validateInput(input); err != nil {
		return nil, err
	}
	actor := actorID(ctx, input.ActorID)
	role, err := s.loadManagedRole(ctx, actor, roleID, input.TenantID)
	if err != nil {
		return nil, err
	}

	updates := map[string]any{}
	if input.Name != nil {
		name := strings.TrimSpace(*input.Name)
		if name == "" {
			return nil, apperrors.NewValidation("name cannot be blank")
		}
		if name != role.Name {
			if role.IsSystem {
				return nil, ErrSystemRoleImmutable
			}
			referenced, err := s.store.RoleReferenced(ctx, role.ID)
			if err != nil {
				return nil, apperrors.Infrastructure(err)
			}
			if referenced {
				return nil, ErrRoleInUse.WithMessage("only the description of a granted role can change")
			}
			updates["name"] = name
		}
	}
	if input.Description != nil {
		if desc := strings.TrimSpace(*input.Description); desc != role.Description {
			updates["description"] = desc
		}
	}
	if len(updates) == 0 {
		return role, nil
	}

	if err := s.store.UpdateRole(ctx, role.ID, updates); err != nil {
		return nil, apperrors.Infrastructure(err)
	}
	updated, err := s.store.FindRoleByID(ctx, role.ID)
	if err != nil {
		return nil, apperrors.Infrastructure(err)
	}

	recordAudit(s.audit, s.log, ctx, AuditEntry{
		ActorID:    actor,
		Action:     "role.update",
		TargetType: "role",
		TargetID:   role.ID,
		TenantID:   strings.TrimSpace(input.TenantID),
		Result:     AuditResultSuccess,
		Metadata:   updates,
	})
	return updated, nil
}

// DeleteRole removes a custom role that no grant has ever referenced.
func (s *RoleService) DeleteRole(ctx context.Context, actor, roleID, tenantID string) error {
	ctx = ensureContext(ctx)
	actor = actorID(ctx, actor)
	role, err := s.loadManagedRole(ctx, actor, roleID, tenantID)
	if err != nil {
		return err
	}
	if role.IsSystem {
		return ErrSystemRoleImmutable
	}
	referenced, err := s.store.RoleReferenced(ctx, role.ID)
	if err != nil {
		return apperrors.Infrastructure(err)
	}
	if referenced {
		return ErrRoleInUse
	}

	if err := s.store.DeleteRole(ctx, role.ID); err != nil {
		return apperrors.Infrastructure(err)
	}
	if err := s.cache.InvalidateRole(ctx, role.ID); err != nil {
		s.log.Warn("role definition invalidation failed", zap.String("role_id", role.ID), zap.Error(err))
	}

	recordAudit(s.audit, s.log, ctx, AuditEntry{
		ActorID:    actor,
		Action:     "role.delete",
		TargetType: "role",
		TargetID:   role.ID,
		TenantID:   strings.TrimSpace(tenantID),
		Result:     AuditResultSuccess,
		Metadata:   map[string]any{"code": role.Code},
	})
	return nil
}

// SetRolePermissions replaces the permission set of a role and drops the cached decisions of
// everyone holding it.
func (s *RoleService) SetRolePermissions(ctx context.Context, roleID string, input SetRolePermissionsInput) error {
	ctx = ensureContext(ctx)
	if err := validateInput(input); err != nil {
		return err
	}
	actor := actorID(ctx, input.ActorID)
	refs, err := parsePermissionCodes(input.Permissions)
	if err != nil {
		return err
	}
	role, err := s.loadManagedRole(ctx, actor, roleID, input.TenantID)
	if err != nil {
		return err
	}

	if err := s.store.SetRolePermissions(ctx, role.ID, refs); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return apperrors.ErrNotFound.WithMessage("role not found")
		}
		return apperrors.Infrastructure(err)
	}
	metrics.GrantMutations.WithLabelValues("set_role_permissions", AuditResultSuccess).Inc()
	monitoring.RecordMutation("set_role_permissions", AuditResultSuccess)

	invalidateErr := s.invalidateHolders(ctx, role.ID)
	recordAudit(s.audit, s.log, ctx, AuditEntry{
		ActorID:    actor,
		Action:     "role.permissions",
		TargetType: "role",
		TargetID:   role.ID,
		TenantID:   strings.TrimSpace(input.TenantID),
		Result:     AuditResultSuccess,
		Metadata:   withInvalidation(map[string]any{"code": role.Code, "permissions": permissionCodes(refs)}, invalidateErr),
	})
	return invalidateErr
}

func (s *RoleService) invalidateHolders(ctx context.Context, roleID string) error {
	errs := s.cache.InvalidateRole(ctx, roleID)

	holders, err := s.store.RoleHolders(ctx, roleID)
	if err != nil {
		errs = multierr.Append(errs, err)
		errs = multierr.Append(errs, s.cache.Invalidate(ctx, permissions.AllDecisions()))
	} else {
		for _, userID := range holders.UserIDs {
			errs = multierr.Append(errs, s.cache.Invalidate(ctx, permissions.ByUser(userID)))
		}
		for _, teamID := range holders.TeamIDs {
			errs = multierr.Append(errs, s.cache.Invalidate(ctx, permissions.ByTeam(teamID)))
		}
	}
	if errs != nil {
		s.log.Error("role holder invalidation failed", zap.String("role_id", roleID), zap.Error(errs))
		return apperrors.Infrastructure(errs)
	}
	return nil
}

// loadManagedRole loads a role the caller may manage within tenantID. Tenant roles need
// tenant admin; global roles need a super administrator.
func (s *RoleService) loadManagedRole(ctx context.Context, actor, roleID, tenantID string) (*models.Role, error) {
	tenantID = strings.TrimSpace(tenantID)
	role, err := s.store.FindRoleByID(ctx, strings.TrimSpace(roleID))
	if errors.Is(err, store.ErrNotFound) {
		return nil, apperrors.ErrNotFound.WithMessage("role not found")
	}
	if err != nil {
		return nil, apperrors.Infrastructure(err)
	}
	if role.TenantID != nil && *role.TenantID != tenantID {
		return nil, apperrors.ErrNotFound.WithMessage("role not found")
	}

	scope := permissions.GlobalScope(tenantID)
	admin, err := s.auth.requireAdmin(ctx, actor, scope)
	if err != nil {
		return nil, err
	}
	if role.TenantID == nil {
		tier, found, err := s.auth.callerTier(ctx, actor, scope, admin, s.now())
		if err != nil {
			return nil, err
		}
		if !found || tier != permissions.KindSuperAdmin {
			return nil, apperrors.ErrForbidden.WithMessage("global roles are managed by super administrators")
		}
	}
	return role, nil
}

func (s *RoleService) authorizeSubject(ctx context.Context, actor, subject, tenantID string) error {
	if subject == "" || tenantID == "" {
		return apperrors.NewValidation("user id and tenant id are required")
	}
	actor = actorID(ctx, actor)
	if actor == subject {
		return nil
	}
	_, err := s.auth.requireAdmin(ctx, actor, permissions.GlobalScope(tenantID))
	return err
}

func (s *RoleService) userGrantViews(ctx context.Context, userID, tenantID string) ([]GrantView, error) {
	now := s.now()

	personal, err := s.store.ListUserGrants(ctx, userID, tenantID)
	if err != nil {
		return nil, apperrors.Infrastructure(err)
	}
	views := make([]GrantView, 0, len(personal))
	for i := range personal {
		if personal[i].ExpiredAt(now) {
			continue
		}
		views = append(views, userGrantView(&personal[i]))
	}

	teams, err := s.store.UserTeams(ctx, userID)
	if err != nil {
		return nil, apperrors.Infrastructure(err)
	}
	for _, teamID := range teams {
		rows, err := s.store.ListTeamGrants(ctx, teamID, tenantID)
		if err != nil {
			return nil, apperrors.Infrastructure(err)
		}
		for i := range rows {
			if rows[i].ExpiredAt(now) {
				continue
			}
			views = append(views, teamGrantView(&rows[i]))
		}
	}
	return views, nil
}

type resourceAccumulator struct {
	resourceType string
	resourceID   string
	roles        []string
	direct       []string
	permissions  map[string]struct{}
}

func accumulatorFor(set map[string]*resourceAccumulator, resourceType, resourceID string) *resourceAccumulator {
	key := resourceType + "/" + resourceID
	acc, ok := set[key]
	if !ok {
		acc = &resourceAccumulator{
			resourceType: resourceType,
			resourceID:   resourceID,
			roles:        []string{},
			direct:       []string{},
			permissions:  map[string]struct{}{},
		}
		set[key] = acc
	}
	return acc
}

func roleView(role *models.Role) RoleView {
	kind := permissions.RoleKind(role.Kind)
	view := RoleView{
		ID:          role.ID,
		Code:        role.Code,
		Name:        role.Name,
		Description: role.Description,
		Kind:        kind,
		Priority:    kind.Priority(),
		IsSystem:    role.IsSystem,
		TenantID:    role.TenantID,
		Scopes:      []string{},
		Permissions: []string{},
	}
	for _, scope := range []permissions.Scope{permissions.ScopeGlobal, permissions.ScopeResource} {
		if kind.AllowsScope(scope) {
			view.Scopes = append(view.Scopes, scope.String())
		}
	}
	for _, edge := range role.Permissions {
		if edge.Permission != nil {
			view.Permissions = append(view.Permissions, edge.Permission.Code)
		}
	}
	sort.Strings(view.Permissions)
	return view
}

func userGrantView(grant *models.UserRoleGrant) GrantView {
	view := GrantView{
		ID:           grant.ID,
		Source:       permissions.SourceUser,
		HolderID:     grant.UserID,
		RoleID:       grant.RoleID,
		TenantID:     grant.TenantID,
		ResourceType: grant.ResourceType,
		ResourceID:   grant.ResourceID,
		GrantedBy:    grant.GrantedBy,
		GrantedAt:    grant.GrantedAt,
		ExpiresAt:    grant.ExpiresAt,
	}
	if grant.Role != nil {
		view.RoleCode = grant.Role.Code
		view.RoleKind = permissions.RoleKind(grant.Role.Kind)
	}
	return view
}

func teamGrantView(grant *models.TeamRoleGrant) GrantView {
	view := GrantView{
		ID:           grant.ID,
		Source:       permissions.SourceTeam,
		HolderID:     grant.TeamID,
		RoleID:       grant.RoleID,
		TenantID:     grant.TenantID,
		ResourceType: grant.ResourceType,
		ResourceID:   grant.ResourceID,
		GrantedBy:    grant.GrantedBy,
		GrantedAt:    grant.GrantedAt,
		ExpiresAt:    grant.ExpiresAt,
	}
	if grant.Role != nil {
		view.RoleCode = grant.Role.Code
		view.RoleKind = permissions.RoleKind(grant.Role.Kind)
	}
	return view
}

func parsePermissionCodes(codes []string) ([]permissions.PermissionRef, error) {
	refs := make([]permissions.PermissionRef, 0, len(codes))
	for _, code := range normaliseIDs(codes) {
		ref, err := permissions.ParsePermissionCode(code)
		if err != nil {
			return nil, apperrors.NewValidation(err.Error())
		}
		refs = append(refs, ref)
	}
	return refs, nil
}

func permissionCodes(refs []permissions.PermissionRef) []string {
	out := make([]string, 0, len(refs))
	for _, ref := range refs {
		out = append(out, ref.Code())
	}
	return out
}

func appendUnique(values []string, value string) []string {
	for _, existing := range values {
		if existing == value {
			return values
		}
	}
	return append(values, value)
}

func sortedKeys(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for key := range set {
		out = append(out, key)
	}
	sort.Strings(out)
	return out
}
