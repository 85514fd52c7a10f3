package permissions

import (
	"context"
	"errors"
	"strconv"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/charlesng35/kbguard/internal/monitoring"
	apperrors "github.com/charlesng35/kbguard/pkg/errors"
	"github.com/charlesng35/kbguard/pkg/logger"
	"github.com/charlesng35/kbguard/pkg/metrics"
)

// DefaultRetryBackoff is the pause before the single read-path retry.
const DefaultRetryBackoff = 50 * time.Millisecond

var checkerTracer = otel.Tracer("kbguard/permissions/checker")

// Checker evaluates the precedence chain: super administrator, direct grant, role,
// ownership, then deny. It holds no mutable state besides the injected cache.
type Checker struct {
	reader   GrantReader
	resolver *Resolver
	cache    *PermissionCache
	denials  DenialRecorder
	now      func() time.Time
	backoff  time.Duration
	group    singleflight.Group
	log      *zap.Logger
}

// CheckerOption customises a Checker.
type CheckerOption func(*Checker)

// WithCache enables decision caching. The cache also serves role definitions.
func WithCache(cache *PermissionCache) CheckerOption {
	return func(c *Checker) {
		c.cache = cache
	}
}

// WithClock overrides the clock used for expiry evaluation.
func WithClock(now func() time.Time) CheckerOption {
	return func(c *Checker) {
		if now != nil {
			c.now = now
		}
	}
}

// WithRetryBackoff overrides DefaultRetryBackoff. Zero retries immediately.
func WithRetryBackoff(backoff time.Duration) CheckerOption {
	return func(c *Checker) {
		if backoff >= 0 {
			c.backoff = backoff
		}
	}
}

// WithDenialRecorder audits denied checks.
func WithDenialRecorder(recorder DenialRecorder) CheckerOption {
	return func(c *Checker) {
		c.denials = recorder
	}
}

// WithLogger overrides the module logger.
func WithLogger(log *zap.Logger) CheckerOption {
	return func(c *Checker) {
		if log != nil {
			c.log = log
		}
	}
}

// NewChecker constructs a permission checker backed by the provided grant reader.
func NewChecker(reader GrantReader, opts ...CheckerOption) (*Checker, error) {
	if reader == nil {
		return nil, errors.New("permission checker: grant reader is required")
	}

	c := &Checker{
		reader:  reader,
		now:     time.Now,
		backoff: DefaultRetryBackoff,
		log:     logger.WithModule("permissions"),
	}
	for _, opt := range opts {
		opt(c)
	}

	var defs RoleDefinitionCache
	if c.cache != nil {
		defs = c.cache
	}
	resolver, err := NewResolver(reader, defs)
	if err != nil {
		return nil, err
	}
	c.resolver = resolver
	return c, nil
}

// Resolver exposes the role resolver used by the checker.
func (c *Checker) Resolver() *Resolver {
	return c.resolver
}

// Cache returns the decision cache, or nil when caching is disabled.
func (c *Checker) Cache() *PermissionCache {
	return c.cache
}

// CheckPermission returns the decision for req. It serves cached decisions, coalesces
// concurrent misses and fails closed: an infrastructure failure is retried once and then
// resolves to a deny carrying ReasonInfrastructure with a nil error. Validation errors are
// returned unchanged. A cancelled context returns the infrastructure deny with ctx.Err().
func (c *Checker) CheckPermission(ctx context.Context, req CheckRequest) (Decision, error) {
	ctx = ensureContext(ctx)
	if err := req.Validate(); err != nil {
		return Decision{}, err
	}

	ctx, span := checkerTracer.Start(ctx, "CheckPermission",
		trace.WithAttributes(
			attribute.String("tenant_id", req.TenantID),
			attribute.String("resource_type", string(req.ResourceType)),
			attribute.String("capability", string(req.Capability)),
			attribute.Bool("global", req.Global()),
		),
	)
	defer span.End()

	start := time.Now()
	key := KeyFor(req)

	if decision, ok := c.cache.Get(ctx, key); ok {
		span.SetAttributes(attribute.Bool("cached", true))
		c.observe(ctx, req, decision, true, start, nil)
		return decision, nil
	}

	decision, err := c.resolveWithRetry(ctx, req, key)
	if err != nil {
		span.RecordError(err)
		if !errors.Is(err, ErrInfrastructure) && ctx.Err() == nil {
			span.SetStatus(codes.Error, "permission check failed")
			return Decision{}, err
		}
		span.SetStatus(codes.Error, ReasonInfrastructure)
		c.log.Error("permission check failed closed",
			zap.String("user_id", req.UserID),
			zap.String("tenant_id", req.TenantID),
			zap.String("resource_type", string(req.ResourceType)),
			zap.String("resource_id", req.ResourceID),
			zap.String("capability", string(req.Capability)),
			zap.Error(err),
		)
		decision = denyDecision(ReasonInfrastructure, nil)
		c.observe(ctx, req, decision, false, start, err)
		if ctxErr := ctx.Err(); ctxErr != nil {
			return decision, ctxErr
		}
		return decision, nil
	}

	span.SetAttributes(
		attribute.Bool("cached", false),
		attribute.Bool("allowed", decision.Allowed),
		attribute.String("provenance", decision.Provenance),
	)
	c.observe(ctx, req, decision, false, start, nil)
	return decision, nil
}

func (c *Checker) resolveWithRetry(ctx context.Context, req CheckRequest, key Key) (Decision, error) {
	decision, err := c.resolveShared(ctx, req, key)
	if err == nil || !errors.Is(err, ErrInfrastructure) {
		return decision, err
	}

	metrics.InfrastructureRetries.Inc()
	c.log.Warn("permission check hit infrastructure failure; retrying",
		zap.String("user_id", req.UserID),
		zap.Duration("backoff", c.backoff),
		zap.Error(err),
	)

	timer := time.NewTimer(c.backoff)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return Decision{}, apperrors.Infrastructure(ctx.Err())
	case <-timer.C:
	}

	return c.resolveShared(ctx, req, key)
}

// sharedDecision is one coalesced evaluation and the cache generation it started from.
type sharedDecision struct {
	decision   Decision
	generation uint64
}

// resolveShared coalesces concurrent evaluations of the same key. A caller that joins an
// evaluation begun before an invalidation covering its key evaluates again rather than
// accept the older result. When the shared call was abandoned by another caller's context,
// the evaluation is repeated with this caller's.
func (c *Checker) resolveShared(ctx context.Context, req CheckRequest, key Key) (Decision, error) {
	generation := c.cache.Generation(key)
	value, err, _ := c.group.Do(key.String(), func() (any, error) {
		return c.evaluateAndStore(ctx, req, key)
	})
	if err != nil && isContextError(err) && ctx.Err() == nil {
		return c.Evaluate(ctx, req)
	}
	if err != nil {
		return Decision{}, err
	}
	shared := value.(sharedDecision)
	if shared.generation != generation {
		fresh, err := c.evaluateAndStore(ctx, req, key)
		if err != nil {
			return Decision{}, err
		}
		return fresh.decision, nil
	}
	return shared.decision, nil
}

// evaluateAndStore evaluates req and caches the result unless an invalidation covering key
// lands while the evaluation is running.
func (c *Checker) evaluateAndStore(ctx context.Context, req CheckRequest, key Key) (sharedDecision, error) {
	generation := c.cache.Generation(key)
	decision, err := c.Evaluate(ctx, req)
	if err != nil {
		return sharedDecision{}, err
	}
	stored, putErr := c.cache.PutIfCurrent(ctx, key, generation, decision, 0)
	switch {
	case putErr != nil:
		c.log.Debug("permission cache write failed", zap.Error(putErr))
	case !stored && c.cache != nil:
		c.log.Debug("permission cache write skipped after invalidation", zap.String("user_id", req.UserID))
	}
	return sharedDecision{decision: decision, generation: generation}, nil
}

// Evaluate computes a decision directly from the grant store, bypassing the decision cache.
// Store failures are returned as infrastructure errors and never produce an allow.
func (c *Checker) Evaluate(ctx context.Context, req CheckRequest) (Decision, error) {
	ctx = ensureContext(ctx)
	if err := req.Validate(); err != nil {
		return Decision{}, err
	}
	now := c.now()
	checked := make([]string, 0, 4)

	checked = append(checked, ChannelSuperAdmin)
	globals, err := c.reader.UserRoleGrants(ctx, req.UserID, GlobalScope(req.TenantID))
	if err != nil {
		return Decision{}, infrastructure(err)
	}
	for _, grant := range globals {
		if grant.Kind == KindSuperAdmin && grant.ActiveAt(now) {
			return Decision{
				Allowed:      true,
				Level:        string(KindSuperAdmin),
				Provenance:   ProvenanceSuperAdmin,
				GrantedRoles: []string{grant.RoleCode},
				Reason:       ReasonSuperAdmin,
				Checked:      checked,
			}, nil
		}
	}

	if !req.Global() {
		checked = append(checked, ChannelDirect)
		direct, err := c.reader.HasDirectPermission(ctx, req, now)
		if err != nil {
			return Decision{}, infrastructure(err)
		}
		if direct {
			return Decision{
				Allowed:      true,
				Level:        ProvenanceDirect,
				Provenance:   ProvenanceDirect,
				GrantedRoles: []string{},
				Reason:       ReasonDirect,
				Checked:      checked,
			}, nil
		}
	}

	checked = append(checked, ChannelRole)
	resolution, err := c.resolver.ResolveRole(ctx, req, now)
	if err != nil {
		return Decision{}, infrastructure(err)
	}
	if resolution.Allowed {
		return Decision{
			Allowed:      true,
			Level:        string(resolution.MatchedKind),
			Provenance:   RoleProvenance(resolution.MatchedRole),
			GrantedRoles: resolution.GrantedRoles,
			Reason:       "granted by role " + resolution.MatchedRole + " at " + resolution.Tier.String() + " scope",
			Checked:      checked,
		}, nil
	}

	if !req.Global() {
		checked = append(checked, ChannelOwner)
		if OwnerGrants(req.Capability) {
			owner, found, err := c.reader.ResourceOwner(ctx, req.TenantID, req.ResourceType, req.ResourceID)
			if err != nil {
				return Decision{}, infrastructure(err)
			}
			if found && owner == req.UserID {
				return Decision{
					Allowed:      true,
					Level:        ProvenanceOwner,
					Provenance:   ProvenanceOwner,
					GrantedRoles: []string{},
					Reason:       ReasonOwner,
					Checked:      checked,
				}, nil
			}
		}
	}

	return denyDecision(ReasonNoGrant, checked), nil
}

func (c *Checker) observe(ctx context.Context, req CheckRequest, decision Decision, cached bool, start time.Time, failure error) {
	result := "deny"
	switch {
	case failure != nil:
		result = "error"
	case decision.Allowed:
		result = "allow"
	}
	provenance := decision.Provenance
	if _, ok := decision.RoleCode(); ok {
		provenance = ChannelRole
	}
	metrics.PermissionChecks.WithLabelValues(string(req.Capability), provenance, result).Inc()
	monitoring.RecordDecision(result, provenance)
	metrics.PermissionCheckLatency.WithLabelValues(strconv.FormatBool(cached)).Observe(time.Since(start).Seconds())

	if decision.Allowed || c.denials == nil {
		return
	}
	if err := c.denials.RecordDenial(context.WithoutCancel(ctx), req, decision); err != nil {
		c.log.Warn("failed to record denied check", zap.Error(err))
	}
}

func infrastructure(err error) error {
	if err == nil || errors.Is(err, ErrInfrastructure) {
		return err
	}
	var appErr *apperrors.AppError
	if errors.As(err, &appErr) {
		return err
	}
	return apperrors.Infrastructure(err)
}

func isContextError(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
