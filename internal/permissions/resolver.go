package permissions

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// roleFetchLimit bounds concurrent role-definition loads for one resolution.
const roleFetchLimit = 4

// Resolution is the outcome of role resolution for one capability.
type Resolution struct {
	Allowed bool
	// MatchedRole is the display role: the matching role with the highest tier.
	MatchedRole  string
	MatchedKind  RoleKind
	GrantedRoles []string
	Tier         Scope
}

// Resolver turns user and team grants into a pass or fail for one capability.
type Resolver struct {
	reader GrantReader
	defs   RoleDefinitionCache
}

// NewResolver constructs a resolver. defs may be nil, in which case role permission sets are
// always read from the store.
func NewResolver(reader GrantReader, defs RoleDefinitionCache) (*Resolver, error) {
	if reader == nil {
		return nil, errors.New("permission resolver: grant reader is required")
	}
	return &Resolver{reader: reader, defs: defs}, nil
}

// ResolveRole evaluates the resource tier first and falls back to the global tier. Team
// grants are unioned into both tiers.
func (r *Resolver) ResolveRole(ctx context.Context, req CheckRequest, now time.Time) (Resolution, error) {
	ctx = ensureContext(ctx)

	var teams []string
	for _, scope := range tiersFor(req) {
		candidates, err := r.candidates(ctx, req.UserID, scope, now, &teams)
		if err != nil {
			return Resolution{}, err
		}
		matched, err := r.match(ctx, candidates, req.Permission())
		if err != nil {
			return Resolution{}, err
		}
		if len(matched) == 0 {
			continue
		}

		codes := make([]string, 0, len(matched))
		for _, grant := range matched {
			codes = append(codes, grant.RoleCode)
		}
		return Resolution{
			Allowed:      true,
			MatchedRole:  matched[0].RoleCode,
			MatchedKind:  matched[0].Kind,
			GrantedRoles: codes,
			Tier:         scope.Scope(),
		}, nil
	}

	return Resolution{GrantedRoles: []string{}}, nil
}

// BestTier returns the caller's highest role kind applicable to scope, across personal and
// team grants at the scope itself and at the tenant-global scope.
func (r *Resolver) BestTier(ctx context.Context, userID string, scope GrantScope, now time.Time) (RoleKind, bool, error) {
	ctx = ensureContext(ctx)

	scopes := []GrantScope{GlobalScope(scope.TenantID)}
	if !scope.IsGlobal() {
		scopes = append([]GrantScope{scope}, scopes...)
	}

	var (
		teams []string
		best  RoleKind
		found bool
	)
	for _, s := range scopes {
		candidates, err := r.candidates(ctx, userID, s, now, &teams)
		if err != nil {
			return "", false, err
		}
		for _, candidate := range candidates {
			if !found || candidate.Grant.Kind.Outranks(best) {
				best = candidate.Grant.Kind
				found = true
			}
		}
	}
	return best, found, nil
}

func tiersFor(req CheckRequest) []GrantScope {
	global := GlobalScope(req.TenantID)
	if req.Global() {
		return []GrantScope{global}
	}
	return []GrantScope{ResourceScope(req.TenantID, req.ResourceType, req.ResourceID), global}
}

// candidates fetches personal and team grants for scope in parallel and merges them.
// teams is filled on first use and reused by later tiers.
func (r *Resolver) candidates(ctx context.Context, userID string, scope GrantScope, now time.Time, teams *[]string) ([]CandidateGrant, error) {
	var userGrants, teamGrants []RoleGrant

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		grants, err := r.reader.UserRoleGrants(gctx, userID, scope)
		userGrants = grants
		return err
	})
	g.Go(func() error {
		if *teams == nil {
			ids, err := r.reader.UserTeams(gctx, userID)
			if err != nil {
				return err
			}
			if ids == nil {
				ids = []string{}
			}
			*teams = ids
		}
		if len(*teams) == 0 {
			return nil
		}
		grants, err := r.reader.TeamRoleGrants(gctx, *teams, scope)
		teamGrants = grants
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	merged := make([]CandidateGrant, 0, len(userGrants)+len(teamGrants))
	merged = appendCandidates(merged, userGrants, SourceUser, now)
	merged = appendCandidates(merged, teamGrants, SourceTeam, now)
	return merged, nil
}

func appendCandidates(dst []CandidateGrant, grants []RoleGrant, source Source, now time.Time) []CandidateGrant {
	for _, grant := range grants {
		if !grant.ActiveAt(now) {
			continue
		}
		dst = append(dst, CandidateGrant{Grant: grant, Source: source})
	}
	return dst
}

// match returns one grant per distinct matching role, ordered by tier then code.
func (r *Resolver) match(ctx context.Context, candidates []CandidateGrant, want PermissionRef) ([]RoleGrant, error) {
	roles := make(map[string]RoleGrant, len(candidates))
	for _, candidate := range candidates {
		if _, seen := roles[candidate.Grant.RoleID]; !seen {
			roles[candidate.Grant.RoleID] = candidate.Grant
		}
	}
	if len(roles) == 0 {
		return nil, nil
	}

	var (
		mu      sync.Mutex
		matched []RoleGrant
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(roleFetchLimit)
	for roleID, grant := range roles {
		g.Go(func() error {
			refs, err := r.rolePermissions(gctx, roleID)
			if err != nil {
				return err
			}
			for _, ref := range refs {
				if ref.Matches(want.ResourceType, want.Capability) {
					mu.Lock()
					matched = append(matched, grant)
					mu.Unlock()
					return nil
				}
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	sort.Slice(matched, func(i, j int) bool {
		pi, pj := matched[i].Kind.Priority(), matched[j].Kind.Priority()
		if pi != pj {
			return pi < pj
		}
		return matched[i].RoleCode < matched[j].RoleCode
	})
	return matched, nil
}

func (r *Resolver) rolePermissions(ctx context.Context, roleID string) ([]PermissionRef, error) {
	if r.defs == nil {
		return r.reader.RolePermissions(ctx, roleID)
	}
	if refs, ok := r.defs.GetRolePermissions(ctx, roleID); ok {
		return refs, nil
	}
	generation := r.defs.RoleGeneration(roleID)
	refs, err := r.reader.RolePermissions(ctx, roleID)
	if err != nil {
		return nil, err
	}
	r.defs.PutRolePermissions(ctx, roleID, generation, refs)
	return refs, nil
}
