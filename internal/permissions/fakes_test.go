package permissions

import (
	"context"
	"errors"
	"sync"
	"time"
)

var errStoreDown = errors.New("store unavailable")

type fakeReader struct {
	mu         sync.Mutex
	userGrants map[string][]RoleGrant
	teamGrants map[string][]RoleGrant
	teams      map[string][]string
	roles      map[string][]PermissionRef
	direct     map[CheckRequest]*time.Time
	owners     map[string]string
	failures   int
	calls      int
	hold       *readerHold
}

// readerHold parks the next RolePermissions call after it has read the role table.
type readerHold struct {
	entered chan struct{}
	release chan struct{}
}

func newFakeReader() *fakeReader {
	r := &fakeReader{
		userGrants: map[string][]RoleGrant{},
		teamGrants: map[string][]RoleGrant{},
		teams:      map[string][]string{},
		roles:      map[string][]PermissionRef{},
		direct:     map[CheckRequest]*time.Time{},
		owners:     map[string]string{},
	}
	for _, tmpl := range SystemRoles() {
		r.roles[roleID(tmpl.Code)] = tmpl.Permissions
	}
	return r
}

func roleID(code string) string { return "role-" + code }

func (r *fakeReader) defineRole(code string, refs ...PermissionRef) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.roles[roleID(code)] = refs
}

func (r *fakeReader) grantUser(userID, code string, kind RoleKind, scope GrantScope, expires *time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.userGrants[userID] = append(r.userGrants[userID], newGrant(userID, code, kind, scope, expires))
}

func (r *fakeReader) grantTeam(teamID, code string, kind RoleKind, scope GrantScope) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.teamGrants[teamID] = append(r.teamGrants[teamID], newGrant(teamID, code, kind, scope, nil))
}

func (r *fakeReader) revokeUser(userID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.userGrants, userID)
}

func (r *fakeReader) join(userID, teamID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.teams[userID] = append(r.teams[userID], teamID)
}

func (r *fakeReader) setOwner(rt ResourceType, resourceID, owner string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.owners[string(rt)+"/"+resourceID] = owner
}

func (r *fakeReader) grantDirect(req CheckRequest, expires *time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.direct[req] = expires
}

// holdRolePermissions pauses the next role definition load. The returned channel closes
// once the load has read its result; release lets it return.
func (r *fakeReader) holdRolePermissions() (<-chan struct{}, func()) {
	hold := &readerHold{entered: make(chan struct{}), release: make(chan struct{})}
	r.mu.Lock()
	r.hold = hold
	r.mu.Unlock()
	var once sync.Once
	return hold.entered, func() { once.Do(func() { close(hold.release) }) }
}

func (r *fakeReader) failNext(n int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failures = n
}

func (r *fakeReader) callCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls
}

func newGrant(holder, code string, kind RoleKind, scope GrantScope, expires *time.Time) RoleGrant {
	return RoleGrant{
		ID:           holder + "-" + code + "-" + scope.ResourceID,
		HolderID:     holder,
		RoleID:       roleID(code),
		RoleCode:     code,
		Kind:         kind,
		TenantID:     scope.TenantID,
		ResourceType: scope.ResourceType,
		ResourceID:   scope.ResourceID,
		ExpiresAt:    expires,
	}
}

// enter records a call and reports an injected or context failure.
func (r *fakeReader) enter(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls++
	if r.failures > 0 {
		r.failures--
		return errStoreDown
	}
	return nil
}

func matchScope(grants []RoleGrant, scope GrantScope) []RoleGrant {
	var out []RoleGrant
	for _, grant := range grants {
		if grant.TenantID == scope.TenantID && grant.ResourceType == scope.ResourceType && grant.ResourceID == scope.ResourceID {
			out = append(out, grant)
		}
	}
	return out
}

func (r *fakeReader) UserRoleGrants(ctx context.Context, userID string, scope GrantScope) ([]RoleGrant, error) {
	if err := r.enter(ctx); err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return matchScope(r.userGrants[userID], scope), nil
}

func (r *fakeReader) TeamRoleGrants(ctx context.Context, teamIDs []string, scope GrantScope) ([]RoleGrant, error) {
	if err := r.enter(ctx); err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []RoleGrant
	for _, teamID := range teamIDs {
		out = append(out, matchScope(r.teamGrants[teamID], scope)...)
	}
	return out, nil
}

func (r *fakeReader) UserTeams(ctx context.Context, userID string) ([]string, error) {
	if err := r.enter(ctx); err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.teams[userID]...), nil
}

func (r *fakeReader) RolePermissions(ctx context.Context, id string) ([]PermissionRef, error) {
	if err := r.enter(ctx); err != nil {
		return nil, err
	}
	r.mu.Lock()
	refs, hold := r.roles[id], r.hold
	r.hold = nil
	r.mu.Unlock()

	if hold != nil {
		close(hold.entered)
		select {
		case <-hold.release:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return refs, nil
}

func (r *fakeReader) HasDirectPermission(ctx context.Context, req CheckRequest, now time.Time) (bool, error) {
	if err := r.enter(ctx); err != nil {
		return false, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	expires, ok := r.direct[req]
	if !ok {
		return false, nil
	}
	return expires == nil || now.Before(*expires), nil
}

func (r *fakeReader) ResourceOwner(ctx context.Context, _ string, rt ResourceType, resourceID string) (string, bool, error) {
	if err := r.enter(ctx); err != nil {
		return "", false, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	owner, ok := r.owners[string(rt)+"/"+resourceID]
	return owner, ok, nil
}

func (r *fakeReader) TeamMembers(ctx context.Context, teamID string) ([]string, error) {
	if err := r.enter(ctx); err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	var members []string
	for userID, teams := range r.teams {
		for _, id := range teams {
			if id == teamID {
				members = append(members, userID)
			}
		}
	}
	return members, nil
}

type recordedDenial struct {
	req      CheckRequest
	decision Decision
}

type fakeDenials struct {
	mu      sync.Mutex
	entries []recordedDenial
}

func (f *fakeDenials) RecordDenial(_ context.Context, req CheckRequest, decision Decision) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.entries = append(f.entries, recordedDenial{req: req, decision: decision})
	return nil
}

type fixedClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFixedClock() *fixedClock {
	return &fixedClock{now: time.Date(2026, 5, 4, 9, 30, 0, 0, time.UTC)}
}

func (c *fixedClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fixedClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}
