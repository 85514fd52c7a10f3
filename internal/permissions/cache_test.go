package permissions

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/charlesng35/kbguard/internal/cache"
)

type brokenStore struct{}

func (brokenStore) IncrementWithTTL(context.Context, string, time.Duration) (int64, time.Duration, error) {
	return 0, 0, errStoreDown
}

func (brokenStore) Set(context.Context, string, []byte, time.Duration) error {
	return errStoreDown
}

func (brokenStore) Get(context.Context, string) ([]byte, bool, error) {
	return nil, false, errStoreDown
}

func (brokenStore) Delete(context.Context, ...string) error {
	return errStoreDown
}

func (brokenStore) DeletePattern(context.Context, string) (int64, error) {
	return 0, errStoreDown
}

func (brokenStore) Count(context.Context, string) (int64, error) {
	return 0, errStoreDown
}

func (brokenStore) SweepExpired(context.Context) (int64, error) {
	return 0, errStoreDown
}

type failingMembers struct{}

func (failingMembers) TeamMembers(context.Context, string) ([]string, error) {
	return nil, errStoreDown
}

func allow(code string) Decision {
	return Decision{Allowed: true, Level: "editor", Provenance: RoleProvenance(code), GrantedRoles: []string{code}, Reason: "granted"}
}

func seedDecisions(t *testing.T, c *PermissionCache, keys ...Key) {
	t.Helper()
	for _, key := range keys {
		require.NoError(t, c.Put(context.Background(), key, allow("editor"), 0))
	}
}

func present(c *PermissionCache, key Key) bool {
	_, ok := c.Get(context.Background(), key)
	return ok
}

func TestKeyEscapesSegments(t *testing.T) {
	key := Key{UserID: "a:b*", TenantID: "t 1", ResourceType: ResourceKnowledgeBase, ResourceID: "kb?1", Capability: CapabilityRead}
	rendered := key.String()
	require.True(t, strings.HasPrefix(rendered, "permission:decision:"))
	require.NotContains(t, strings.TrimPrefix(rendered, "permission:decision:"), "*")
	require.Contains(t, rendered, "u=a%3Ab%2A:")
	require.Contains(t, rendered, "r=kb%3F1:")
}

func TestCacheGetPutAndLazyExpiry(t *testing.T) {
	reader := newFakeReader()
	clock := newFixedClock()
	c := newTestCache(t, reader, clock)
	key := KeyFor(kbRead("u1", "kb1"))

	require.NoError(t, c.Put(context.Background(), key, allow("editor"), time.Minute))
	got, ok := c.Get(context.Background(), key)
	require.True(t, ok)
	require.Equal(t, allow("editor"), got)

	clock.Advance(time.Minute)
	_, ok = c.Get(context.Background(), key)
	require.False(t, ok)

	stats, err := c.Stats(context.Background())
	require.NoError(t, err)
	require.EqualValues(t, 1, stats.Hits)
	require.EqualValues(t, 1, stats.Misses)
	require.InDelta(t, 0.5, stats.HitRate, 1e-9)
	require.Zero(t, stats.Entries)
}

func TestInvalidateByUserOnlyTouchesThatUser(t *testing.T) {
	c := newTestCache(t, newFakeReader(), newFixedClock())
	u1a, u1b := KeyFor(kbRead("u1", "kb1")), KeyFor(kbRead("u1", "kb2"))
	u10 := KeyFor(kbRead("u10", "kb1"))
	seedDecisions(t, c, u1a, u1b, u10)

	require.NoError(t, c.Invalidate(context.Background(), ByUser("u1")))
	require.False(t, present(c, u1a))
	require.False(t, present(c, u1b))
	require.True(t, present(c, u10))
}

func TestInvalidateByResource(t *testing.T) {
	c := newTestCache(t, newFakeReader(), newFixedClock())
	onKB1 := KeyFor(kbRead("u1", "kb1"))
	otherUserKB1 := KeyFor(kbRead("u2", "kb1"))
	onKB2 := KeyFor(kbRead("u1", "kb2"))
	doc := KeyFor(CheckRequest{UserID: "u1", TenantID: tenant, ResourceType: ResourceDocument, ResourceID: "kb1", Capability: CapabilityRead})
	seedDecisions(t, c, onKB1, otherUserKB1, onKB2, doc)

	require.NoError(t, c.Invalidate(context.Background(), ByResource(ResourceKnowledgeBase, "kb1")))
	require.False(t, present(c, onKB1))
	require.False(t, present(c, otherUserKB1))
	require.True(t, present(c, onKB2))
	require.True(t, present(c, doc))

	require.NoError(t, c.Invalidate(context.Background(), ByResource("", "kb1")))
	require.False(t, present(c, doc))
}

func TestInvalidateByTeamClearsMembers(t *testing.T) {
	reader := newFakeReader()
	reader.join("u1", "team1")
	reader.join("u2", "team1")
	c := newTestCache(t, reader, newFixedClock())
	member1, member2 := KeyFor(kbRead("u1", "kb1")), KeyFor(kbRead("u2", "kb1"))
	outsider := KeyFor(kbRead("u3", "kb1"))
	seedDecisions(t, c, member1, member2, outsider)

	require.NoError(t, c.Invalidate(context.Background(), ByTeam("team1")))
	require.False(t, present(c, member1))
	require.False(t, present(c, member2))
	require.True(t, present(c, outsider))
}

func TestInvalidateByTeamOverInvalidatesWhenMembersUnknown(t *testing.T) {
	store, err := cache.NewMemoryStore(64)
	require.NoError(t, err)
	c, err := NewPermissionCache(store, WithTeamMembership(failingMembers{}))
	require.NoError(t, err)
	key := KeyFor(kbRead("u3", "kb1"))
	seedDecisions(t, c, key)
	require.NoError(t, store.Set(context.Background(), roleKey("r1"), []byte(`{"permissions":[]}`), 0))

	require.NoError(t, c.Invalidate(context.Background(), ByTeam("team1")))
	require.False(t, present(c, key))

	_, ok, err := store.Get(context.Background(), roleKey("r1"))
	require.NoError(t, err)
	require.True(t, ok, "role definitions survive a decision flush")
}

func TestStoreFailureDegradesToMiss(t *testing.T) {
	c, err := NewPermissionCache(brokenStore{})
	require.NoError(t, err)
	key := KeyFor(kbRead("u1", "kb1"))

	require.Error(t, c.Put(context.Background(), key, allow("editor"), 0))
	_, ok := c.Get(context.Background(), key)
	require.False(t, ok)
	require.True(t, errors.Is(c.Invalidate(context.Background(), ByUser("u1")), errStoreDown))

	stats, err := c.Stats(context.Background())
	require.Error(t, err)
	require.EqualValues(t, 1, stats.Misses)
}

func TestCheckerServesLiveDecisionsWhenCacheStoreIsDown(t *testing.T) {
	reader := newFakeReader()
	reader.grantUser("u1", "viewer", KindViewer, GlobalScope(tenant), nil)
	c, err := NewPermissionCache(brokenStore{})
	require.NoError(t, err)
	checker := newTestChecker(t, reader, newFixedClock(), WithCache(c))

	decision, err := checker.CheckPermission(context.Background(), kbRead("u1", "kb1"))
	require.NoError(t, err)
	require.True(t, decision.Allowed)
}

func TestRoleDefinitionCache(t *testing.T) {
	c := newTestCache(t, newFakeReader(), newFixedClock())
	ctx := context.Background()
	refs := []PermissionRef{{ResourceType: ResourceModel, Capability: CapabilityRead}}

	_, ok := c.GetRolePermissions(ctx, "r1")
	require.False(t, ok)

	c.PutRolePermissions(ctx, "r1", c.RoleGeneration("r1"), refs)
	got, ok := c.GetRolePermissions(ctx, "r1")
	require.True(t, ok)
	require.Equal(t, refs, got)

	require.NoError(t, c.InvalidateRole(ctx, "r1"))
	_, ok = c.GetRolePermissions(ctx, "r1")
	require.False(t, ok)
}

func TestSweepRemovesExpiredDecisions(t *testing.T) {
	clock := newFixedClock()
	c := newTestCache(t, newFakeReader(), clock)
	seedDecisions(t, c, KeyFor(kbRead("u1", "kb1")), KeyFor(kbRead("u2", "kb1")))

	clock.Advance(DefaultDecisionTTL)
	removed, err := c.Sweep(context.Background())
	require.NoError(t, err)
	require.EqualValues(t, 2, removed)
}

func TestClosedCacheIsBypassed(t *testing.T) {
	c := newTestCache(t, newFakeReader(), newFixedClock())
	key := KeyFor(kbRead("u1", "kb1"))
	seedDecisions(t, c, key)

	require.NoError(t, c.Close())
	require.False(t, present(c, key))
}

func TestPutIfCurrentRefusesWritesAfterInvalidation(t *testing.T) {
	c := newTestCache(t, newFakeReader(), newFixedClock())
	ctx := context.Background()
	key := KeyFor(kbRead("u1", "kb1"))
	neighbour := KeyFor(kbRead("u2", "kb2"))

	cases := []struct {
		name     string
		selector Selector
	}{
		{name: "user", selector: ByUser("u1")},
		{name: "resource", selector: ByResource(ResourceKnowledgeBase, "kb1")},
		{name: "resource any type", selector: ByResource("", "kb1")},
		{name: "all", selector: AllDecisions()},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			generation := c.Generation(key)
			neighbourGeneration := c.Generation(neighbour)
			require.NoError(t, c.Invalidate(ctx, tc.selector))

			stored, err := c.PutIfCurrent(ctx, key, generation, allow("editor"), 0)
			require.NoError(t, err)
			require.False(t, stored)
			require.False(t, present(c, key))

			if tc.selector.Kind() != "all" {
				stored, err = c.PutIfCurrent(ctx, neighbour, neighbourGeneration, allow("editor"), 0)
				require.NoError(t, err)
				require.True(t, stored)
			}

			stored, err = c.PutIfCurrent(ctx, key, c.Generation(key), allow("editor"), 0)
			require.NoError(t, err)
			require.True(t, stored)
			require.True(t, present(c, key))
		})
	}
}

func TestPutIfCurrentRefusesWritesAfterTeamInvalidation(t *testing.T) {
	reader := newFakeReader()
	reader.join("u1", "team1")
	c := newTestCache(t, reader, newFixedClock())
	ctx := context.Background()
	key := KeyFor(kbRead("u1", "kb1"))

	generation := c.Generation(key)
	require.NoError(t, c.Invalidate(ctx, ByTeam("team1")))
	stored, err := c.PutIfCurrent(ctx, key, generation, allow("editor"), 0)
	require.NoError(t, err)
	require.False(t, stored)
}

func TestRoleDefinitionWriteAfterInvalidationIsDropped(t *testing.T) {
	c := newTestCache(t, newFakeReader(), newFixedClock())
	ctx := context.Background()
	stale := []PermissionRef{{ResourceType: ResourceKnowledgeBase, Capability: CapabilityRead}}

	generation := c.RoleGeneration("r1")
	require.NoError(t, c.InvalidateRole(ctx, "r1"))
	c.PutRolePermissions(ctx, "r1", generation, stale)

	_, ok := c.GetRolePermissions(ctx, "r1")
	require.False(t, ok)
}
