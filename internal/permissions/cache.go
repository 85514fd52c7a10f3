package permissions

import (
	"context"
	"encoding/json"
	"errors"
	"net/url"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/charlesng35/kbguard/internal/cache"
	"github.com/charlesng35/kbguard/internal/monitoring"
	"github.com/charlesng35/kbguard/pkg/logger"
	"github.com/charlesng35/kbguard/pkg/metrics"
)

const (
	decisionNamespace = "permission:decision:"
	roleNamespace     = "permission:role:"

	DefaultDecisionTTL = 5 * time.Minute
	DefaultRoleTTL     = 30 * time.Minute
)

// Key identifies one cached decision. Each distinct capability check is cached
// independently; there are no wildcard lookups.
type Key struct {
	UserID       string
	TenantID     string
	ResourceType ResourceType
	ResourceID   string
	Capability   Capability
}

// KeyFor builds the cache key of a request.
func KeyFor(req CheckRequest) Key {
	return Key{
		UserID:       req.UserID,
		TenantID:     req.TenantID,
		ResourceType: req.ResourceType,
		ResourceID:   req.ResourceID,
		Capability:   req.Capability,
	}
}

// String renders the store key. Segments are query-escaped so that separators and glob
// metacharacters in identifiers cannot widen an invalidation pattern.
func (k Key) String() string {
	return decisionNamespace +
		"u=" + escapeSegment(k.UserID) +
		":t=" + escapeSegment(k.TenantID) +
		":rt=" + escapeSegment(string(k.ResourceType)) +
		":r=" + escapeSegment(k.ResourceID) +
		":c=" + escapeSegment(string(k.Capability))
}

func escapeSegment(value string) string {
	return url.QueryEscape(value)
}

// Selector chooses a subset of cached decisions to invalidate.
type Selector struct {
	kind         string
	id           string
	resourceType ResourceType
}

// ByUser selects every decision for the user across all resources and capabilities.
func ByUser(userID string) Selector {
	return Selector{kind: "user", id: userID}
}

// ByTeam selects every decision for every current member of the team.
func ByTeam(teamID string) Selector {
	return Selector{kind: "team", id: teamID}
}

// ByResource selects every decision referencing the resource. An empty type matches the
// resource id on any type.
func ByResource(rt ResourceType, resourceID string) Selector {
	return Selector{kind: "resource", id: resourceID, resourceType: rt}
}

// AllDecisions selects the whole decision namespace. Intended for maintenance only.
func AllDecisions() Selector {
	return Selector{kind: "all"}
}

// Kind names the selector for logs and metrics.
func (s Selector) Kind() string {
	return s.kind
}

// Stats summarises cache use since construction.
type Stats struct {
	Hits    uint64  `json:"hits"`
	Misses  uint64  `json:"misses"`
	HitRate float64 `json:"hit_rate"`
	Entries int64   `json:"entries"`
}

type cacheEntry struct {
	Decision Decision      `json:"decision"`
	StoredAt time.Time     `json:"stored_at"`
	TTL      time.Duration `json:"ttl"`
}

type roleEntry struct {
	Permissions []PermissionRef `json:"permissions"`
}

// PermissionCache stores prior decisions and role definitions in a cache.Store. It is
// constructed once per process and closed on shutdown.
type PermissionCache struct {
	store       cache.Store
	members     TeamMembership
	decisionTTL time.Duration
	roleTTL     time.Duration
	now         func() time.Time
	log         *zap.Logger

	gens   generations
	hits   atomic.Uint64
	misses atomic.Uint64
	closed atomic.Bool
}

// CacheOption customises a PermissionCache.
type CacheOption func(*PermissionCache)

// WithTTLs overrides the per-class TTLs. Non-positive values keep the defaults.
func WithTTLs(decision, role time.Duration) CacheOption {
	return func(c *PermissionCache) {
		if decision > 0 {
			c.decisionTTL = decision
		}
		if role > 0 {
			c.roleTTL = role
		}
	}
}

// WithTeamMembership installs the reverse index used by ByTeam.
func WithTeamMembership(members TeamMembership) CacheOption {
	return func(c *PermissionCache) {
		c.members = members
	}
}

// WithCacheClock overrides the clock used for lazy expiry.
func WithCacheClock(now func() time.Time) CacheOption {
	return func(c *PermissionCache) {
		if now != nil {
			c.now = now
		}
	}
}

// NewPermissionCache wraps store.
func NewPermissionCache(store cache.Store, opts ...CacheOption) (*PermissionCache, error) {
	if store == nil {
		return nil, errors.New("permission cache: store is required")
	}
	c := &PermissionCache{
		store:       store,
		decisionTTL: DefaultDecisionTTL,
		roleTTL:     DefaultRoleTTL,
		now:         time.Now,
		log:         logger.WithModule("permission_cache"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// DecisionTTL reports the TTL applied to decisions.
func (c *PermissionCache) DecisionTTL() time.Duration {
	return c.decisionTTL
}

// Get returns a cached decision. Store failures and corrupt or expired entries are misses.
func (c *PermissionCache) Get(ctx context.Context, key Key) (Decision, bool) {
	if c == nil || c.closed.Load() {
		return Decision{}, false
	}
	ctx = ensureContext(ctx)

	raw, ok, err := c.store.Get(ctx, key.String())
	if err != nil {
		c.log.Warn("permission cache read failed", zap.Error(err))
		metrics.CacheLookups.WithLabelValues("error").Inc()
		c.misses.Add(1)
		return Decision{}, false
	}
	if !ok {
		return c.miss()
	}

	var entry cacheEntry
	if err := json.Unmarshal(raw, &entry); err != nil {
		_ = c.store.Delete(ctx, key.String())
		return c.miss()
	}
	if entry.TTL > 0 && !c.now().Before(entry.StoredAt.Add(entry.TTL)) {
		_ = c.store.Delete(ctx, key.String())
		return c.miss()
	}

	c.hits.Add(1)
	metrics.CacheLookups.WithLabelValues("hit").Inc()
	return entry.Decision, true
}

func (c *PermissionCache) miss() (Decision, bool) {
	c.misses.Add(1)
	metrics.CacheLookups.WithLabelValues("miss").Inc()
	return Decision{}, false
}

// Put stores decision under key, replacing any previous entry wholesale. A non-positive
// ttl uses the decision TTL.
func (c *PermissionCache) Put(ctx context.Context, key Key, decision Decision, ttl time.Duration) error {
	if c == nil || c.closed.Load() {
		return nil
	}
	if ttl <= 0 {
		ttl = c.decisionTTL
	}
	payload, err := json.Marshal(cacheEntry{Decision: decision, StoredAt: c.now(), TTL: ttl})
	if err != nil {
		return err
	}
	return c.store.Set(ensureContext(ctx), key.String(), payload, ttl)
}

// Generation reports the invalidation generation covering key. Read it before evaluating
// a decision and hand it to PutIfCurrent.
func (c *PermissionCache) Generation(key Key) uint64 {
	if c == nil {
		return 0
	}
	return c.gens.decision(key)
}

// PutIfCurrent stores decision unless an invalidation covering key ran since generation
// was read. It reports whether the entry was kept.
func (c *PermissionCache) PutIfCurrent(ctx context.Context, key Key, generation uint64, decision Decision, ttl time.Duration) (bool, error) {
	if c == nil || c.closed.Load() || c.gens.decision(key) != generation {
		return false, nil
	}
	ctx = ensureContext(ctx)
	if err := c.Put(ctx, key, decision, ttl); err != nil {
		return false, err
	}
	// An invalidation may have deleted the key between the check and the write.
	if c.gens.decision(key) != generation {
		return false, c.store.Delete(ctx, key.String())
	}
	return true, nil
}

// Invalidate removes the decisions chosen by selector. Failures are returned so that the
// mutation path can surface them. Writers holding an older generation for a selected key
// are refused from this point on.
func (c *PermissionCache) Invalidate(ctx context.Context, selector Selector) error {
	if c == nil {
		return nil
	}
	ctx = ensureContext(ctx)
	metrics.CacheInvalidations.WithLabelValues(selector.kind).Inc()
	monitoring.RecordInvalidation(selector.kind)

	switch selector.kind {
	case "user":
		c.gens.bumpUser(selector.id)
		return c.deletePattern(ctx, userPattern(selector.id))
	case "team":
		return c.invalidateTeam(ctx, selector.id)
	case "resource":
		c.gens.bumpResource(selector.id)
		return c.deletePattern(ctx, resourcePattern(selector.resourceType, selector.id))
	case "all":
		return c.flushDecisions(ctx)
	default:
		return errors.New("permission cache: unknown selector")
	}
}

func (c *PermissionCache) invalidateTeam(ctx context.Context, teamID string) error {
	if c.members == nil {
		c.log.Warn("no team membership index; flushing all decisions", zap.String("team_id", teamID))
		return c.flushDecisions(ctx)
	}

	members, err := c.members.TeamMembers(ctx, teamID)
	if err != nil {
		c.log.Warn("team members unavailable; flushing all decisions",
			zap.String("team_id", teamID),
			zap.Error(err),
		)
		return c.flushDecisions(ctx)
	}
	for _, member := range members {
		c.gens.bumpUser(member)
	}
	for _, member := range members {
		if err := c.deletePattern(ctx, userPattern(member)); err != nil {
			return err
		}
	}
	return nil
}

func (c *PermissionCache) flushDecisions(ctx context.Context) error {
	c.gens.bumpAll()
	return c.deletePattern(ctx, decisionNamespace+"*")
}

func (c *PermissionCache) deletePattern(ctx context.Context, pattern string) error {
	_, err := c.store.DeletePattern(ctx, pattern)
	return err
}

func userPattern(userID string) string {
	return decisionNamespace + "u=" + escapeSegment(userID) + ":*"
}

func resourcePattern(rt ResourceType, resourceID string) string {
	typeSegment := "*"
	if rt != "" {
		typeSegment = escapeSegment(string(rt))
	}
	return decisionNamespace + "u=*:t=*:rt=" + typeSegment + ":r=" + escapeSegment(resourceID) + ":c=*"
}

// Stats reports hit and miss counters and the live decision count.
func (c *PermissionCache) Stats(ctx context.Context) (Stats, error) {
	hits, misses := c.hits.Load(), c.misses.Load()
	stats := Stats{Hits: hits, Misses: misses}
	if total := hits + misses; total > 0 {
		stats.HitRate = float64(hits) / float64(total)
	}

	entries, err := c.store.Count(ensureContext(ctx), decisionNamespace+"*")
	if err != nil {
		return stats, err
	}
	stats.Entries = entries
	return stats, nil
}

// Sweep proactively removes expired entries from the backing store.
func (c *PermissionCache) Sweep(ctx context.Context) (int64, error) {
	return c.store.SweepExpired(ensureContext(ctx))
}

// GetRolePermissions returns a cached role permission set.
func (c *PermissionCache) GetRolePermissions(ctx context.Context, roleID string) ([]PermissionRef, bool) {
	if c == nil || c.closed.Load() {
		return nil, false
	}
	raw, ok, err := c.store.Get(ensureContext(ctx), roleKey(roleID))
	if err != nil || !ok {
		return nil, false
	}
	var entry roleEntry
	if err := json.Unmarshal(raw, &entry); err != nil {
		return nil, false
	}
	return entry.Permissions, true
}

// RoleGeneration reports the invalidation generation of a role definition.
func (c *PermissionCache) RoleGeneration(roleID string) uint64 {
	if c == nil {
		return 0
	}
	return c.gens.role(roleID)
}

// PutRolePermissions caches a role permission set under the role TTL unless the role was
// invalidated since generation was read. Failures are logged.
func (c *PermissionCache) PutRolePermissions(ctx context.Context, roleID string, generation uint64, refs []PermissionRef) {
	if c == nil || c.closed.Load() || c.gens.role(roleID) != generation {
		return
	}
	payload, err := json.Marshal(roleEntry{Permissions: refs})
	if err != nil {
		return
	}
	ctx = ensureContext(ctx)
	if err := c.store.Set(ctx, roleKey(roleID), payload, c.roleTTL); err != nil {
		c.log.Debug("role definition cache write failed", zap.String("role_id", roleID), zap.Error(err))
		return
	}
	if c.gens.role(roleID) != generation {
		_ = c.store.Delete(ctx, roleKey(roleID))
	}
}

// InvalidateRole drops a cached role permission set.
func (c *PermissionCache) InvalidateRole(ctx context.Context, roleID string) error {
	if c == nil {
		return nil
	}
	c.gens.bumpRole(roleID)
	return c.store.Delete(ensureContext(ctx), roleKey(roleID))
}

func roleKey(roleID string) string {
	return roleNamespace + escapeSegment(roleID) + ":permissions"
}

// Close stops serving from the cache. The backing store is owned by the caller.
func (c *PermissionCache) Close() error {
	if c != nil {
		c.closed.Store(true)
	}
	return nil
}
