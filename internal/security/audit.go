package security

import (
	"context"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/charlesng35/kbguard/internal/app"
	iauth "github.com/charlesng35/kbguard/internal/auth"
	"github.com/charlesng35/kbguard/internal/models"
	"github.com/charlesng35/kbguard/internal/permissions"
)

// CheckStatus captures the outcome of a security audit check.
type CheckStatus string

const (
	StatusPass CheckStatus = "pass"
	StatusWarn CheckStatus = "warn"
	StatusFail CheckStatus = "fail"
)

const (
	maxRecommendedTokenTTL    = 24 * time.Hour
	maxRecommendedDecisionTTL = time.Hour
)

// Check contains the result of a single audit verification.
type Check struct {
	ID          string      `json:"id"`
	Status      CheckStatus `json:"status"`
	Message     string      `json:"message"`
	Remediation string      `json:"remediation,omitempty"`
	Details     any         `json:"details,omitempty"`
}

// Result aggregates all checks with a simple status summary.
type Result struct {
	CheckedAt time.Time      `json:"checked_at"`
	Checks    []Check        `json:"checks"`
	Summary   map[string]int `json:"summary"`
}

// Failed reports whether any check failed.
func (r Result) Failed() bool {
	return r.Summary[string(StatusFail)] > 0
}

// AuditService evaluates the deployment's access-control posture.
type AuditService struct {
	db  *gorm.DB
	jwt *iauth.JWTService
	cfg *app.Config
	now func() time.Time
}

// NewAuditService constructs the audit service. All dependencies are optional; missing
// inputs degrade specific checks to warnings.
func NewAuditService(db *gorm.DB, jwt *iauth.JWTService, cfg *app.Config) *AuditService {
	return &AuditService{
		db:  db,
		jwt: jwt,
		cfg: cfg,
		now: time.Now,
	}
}

// WithClock overrides the clock used in results (primarily for testing).
func (s *AuditService) WithClock(clock func() time.Time) {
	if clock != nil {
		s.now = clock
	}
}

// Run executes all audit checks and returns their outcome.
func (s *AuditService) Run(ctx context.Context) Result {
	if ctx == nil {
		ctx = context.Background()
	}

	checks := []Check{
		s.checkSuperAdmin(ctx),
		s.checkJWTSecret(),
		s.checkTokenTTL(),
		s.checkDecisionTTL(),
		s.checkDenialAuditing(),
	}

	summary := map[string]int{
		string(StatusPass): 0,
		string(StatusWarn): 0,
		string(StatusFail): 0,
	}

	for _, check := range checks {
		summary[string(check.Status)]++
	}

	return Result{
		CheckedAt: s.now().UTC(),
		Checks:    checks,
		Summary:   summary,
	}
}

func (s *AuditService) checkSuperAdmin(ctx context.Context) Check {
	if s.db == nil {
		return Check{
			ID:          "super_admin_present",
			Status:      StatusWarn,
			Message:     "Database unavailable; unable to confirm a super admin exists.",
			Remediation: "Ensure database connectivity before running the audit.",
		}
	}

	query := s.db.WithContext(ctx).
		Model(&models.UserRoleGrant{}).
		Joins("JOIN roles ON roles.id = user_role_grants.role_id").
		Where("user_role_grants.active = ? AND user_role_grants.resource_type = ? AND roles.kind = ?",
			true, "", string(permissions.KindSuperAdmin)).
		Where("user_role_grants.expires_at IS NULL OR user_role_grants.expires_at > ?", s.now().UTC())

	tenant := ""
	if s.cfg != nil {
		tenant = strings.TrimSpace(s.cfg.Permission.DefaultTenant)
	}
	if tenant != "" {
		query = query.Where("user_role_grants.tenant_id = ?", tenant)
	}

	var count int64
	if err := query.Count(&count).Error; err != nil {
		return Check{
			ID:          "super_admin_present",
			Status:      StatusWarn,
			Message:     fmt.Sprintf("Could not verify super admins: %v", err),
			Remediation: "Retry after resolving database errors.",
		}
	}

	if count == 0 {
		return Check{
			ID:          "super_admin_present",
			Status:      StatusFail,
			Message:     "No active super admin grant found.",
			Remediation: "Set permission.bootstrap_super_admins so at least one user can recover access.",
			Details:     map[string]any{"tenant": tenant},
		}
	}

	return Check{
		ID:      "super_admin_present",
		Status:  StatusPass,
		Message: "Super admin present.",
		Details: map[string]any{"count": count, "tenant": tenant},
	}
}

func (s *AuditService) checkJWTSecret() Check {
	if s.jwt == nil {
		return Check{
			ID:          "jwt_secret_strength",
			Status:      StatusWarn,
			Message:     "JWT service not initialised; unable to assess signing secret strength.",
			Remediation: "Initialise JWT service with a strong secret.",
		}
	}

	length := s.jwt.SecretLength()

	switch {
	case length < 32:
		return Check{
			ID:          "jwt_secret_strength",
			Status:      StatusFail,
			Message:     fmt.Sprintf("JWT signing secret is too short (%d bytes).", length),
			Remediation: "Use a randomly generated secret of at least 32 bytes.",
		}
	case length < 48:
		return Check{
			ID:          "jwt_secret_strength",
			Status:      StatusWarn,
			Message:     fmt.Sprintf("JWT signing secret is %d bytes. Consider increasing to 48+ bytes.", length),
			Remediation: "Increase the length of KBGUARD_AUTH_JWT_SECRET to at least 48 bytes.",
			Details:     map[string]any{"length": length},
		}
	default:
		return Check{
			ID:      "jwt_secret_strength",
			Status:  StatusPass,
			Message: fmt.Sprintf("JWT signing secret length is %d bytes.", length),
			Details: map[string]any{"length": length},
		}
	}
}

func (s *AuditService) checkTokenTTL() Check {
	if s.jwt == nil {
		return Check{
			ID:          "access_token_ttl",
			Status:      StatusWarn,
			Message:     "JWT service not initialised; unable to evaluate token lifetime.",
			Remediation: "Initialise JWT service before running the security audit.",
		}
	}

	ttl := s.jwt.TTL()
	if ttl > maxRecommendedTokenTTL {
		return Check{
			ID:          "access_token_ttl",
			Status:      StatusWarn,
			Message:     fmt.Sprintf("Access token TTL (%s) exceeds recommended maximum (%s).", ttl, maxRecommendedTokenTTL),
			Remediation: "Reduce KBGUARD_AUTH_JWT_ACCESS_TOKEN_TTL to limit credential exposure.",
			Details:     map[string]any{"ttl": ttl.String()},
		}
	}

	return Check{
		ID:      "access_token_ttl",
		Status:  StatusPass,
		Message: fmt.Sprintf("Access token TTL is %s.", ttl),
		Details: map[string]any{"ttl": ttl.String()},
	}
}

func (s *AuditService) checkDecisionTTL() Check {
	if s.cfg == nil {
		return Check{
			ID:          "decision_cache_ttl",
			Status:      StatusWarn,
			Message:     "Configuration not loaded; unable to evaluate decision cache lifetime.",
			Remediation: "Load configuration before running the security audit.",
		}
	}

	ttl := s.cfg.Cache.Permission.DecisionTTL
	if ttl <= 0 {
		ttl = permissions.DefaultDecisionTTL
	}
	if ttl > maxRecommendedDecisionTTL {
		return Check{
			ID:          "decision_cache_ttl",
			Status:      StatusWarn,
			Message:     fmt.Sprintf("Decision cache TTL (%s) exceeds recommended maximum (%s).", ttl, maxRecommendedDecisionTTL),
			Remediation: "Lower cache.permission.decision_ttl so a missed invalidation expires quickly.",
			Details:     map[string]any{"ttl": ttl.String()},
		}
	}

	return Check{
		ID:      "decision_cache_ttl",
		Status:  StatusPass,
		Message: fmt.Sprintf("Decision cache TTL is %s.", ttl),
		Details: map[string]any{"ttl": ttl.String()},
	}
}

func (s *AuditService) checkDenialAuditing() Check {
	if s.cfg == nil || !s.cfg.Permission.AuditDenials {
		return Check{
			ID:          "denial_auditing",
			Status:      StatusWarn,
			Message:     "Denied permission checks are not written to the audit log.",
			Remediation: "Enable permission.audit_denials to keep a trail of refused access.",
		}
	}

	return Check{
		ID:      "denial_auditing",
		Status:  StatusPass,
		Message: "Denied permission checks are audited.",
	}
}
