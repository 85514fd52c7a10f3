package services

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/charlesng35/kbguard/internal/models"
	"github.com/charlesng35/kbguard/internal/permissions"
	apperrors "github.com/charlesng35/kbguard/pkg/errors"
	"github.com/charlesng35/kbguard/pkg/logger"
)

var (
	// ErrTeamMemberAlreadyExists signals the user is already a member of the team.
	ErrTeamMemberAlreadyExists = apperrors.New("TEAM_MEMBER_EXISTS", "User already assigned to team", http.StatusConflict)
	// ErrTeamMemberNotFound indicates the requested membership does not exist.
	ErrTeamMemberNotFound = apperrors.New("TEAM_MEMBER_NOT_FOUND", "User is not a member of the team", http.StatusNotFound)
)

// TeamMemberInput identifies a single membership change. Team administration is tenant
// administration: the actor must hold admin on TenantID.
type TeamMemberInput struct {
	TeamID   string `json:"-" validate:"notblank,max=64"`
	UserID   string `json:"user_id" validate:"notblank,max=64"`
	TenantID string `json:"tenant_id" validate:"notblank,max=64"`
	ActorID  string `json:"-"`
}

// TeamService maintains the flat team membership relation and keeps cached decisions of
// affected members consistent.
type TeamService struct {
	db     *gorm.DB
	grants *GrantService
	auth   authorizer
	audit  AuditSink
	now    func() time.Time
	log    *zap.Logger
}

// NewTeamService constructs a TeamService instance.
func NewTeamService(db *gorm.DB, grants *GrantService, audit AuditSink) (*TeamService, error) {
	if db == nil {
		return nil, errors.New("team service: db is required")
	}
	if grants == nil {
		return nil, errors.New("team service: grant service is required")
	}
	return &TeamService{
		db:     db,
		grants: grants,
		auth:   grants.auth,
		audit:  audit,
		now:    grants.now,
		log:    logger.WithModule("teams"),
	}, nil
}

// AddMember places a user in a team.
func (s *TeamService) AddMember(ctx context.Context, input TeamMemberInput) error {
	ctx = ensureContext(ctx)
	if err := validateInput(input); err != nil {
		return err
	}
	actor := actorID(ctx, input.ActorID)
	teamID, userID := strings.TrimSpace(input.TeamID), strings.TrimSpace(input.UserID)

	if _, err := s.auth.requireAdmin(ctx, actor, permissions.GlobalScope(strings.TrimSpace(input.TenantID))); err != nil {
		s.grants.auditRejected(ctx, "team.member.add", "team", teamID, input.TenantID, actor, err)
		return err
	}

	member := models.TeamMember{TeamID: teamID, UserID: userID, CreatedAt: s.now().UTC()}
	if err := s.db.WithContext(ctx).Create(&member).Error; err != nil {
		if isUniqueConstraintError(err) {
			return ErrTeamMemberAlreadyExists
		}
		return apperrors.Infrastructure(err)
	}

	return s.afterChange(ctx, "team.member.add", actor, input.TenantID, teamID, userID)
}

// RemoveMember drops a user from a team.
func (s *TeamService) RemoveMember(ctx context.Context, input TeamMemberInput) error {
	ctx = ensureContext(ctx)
	if err := validateInput(input); err != nil {
		return err
	}
	actor := actorID(ctx, input.ActorID)
	teamID, userID := strings.TrimSpace(input.TeamID), strings.TrimSpace(input.UserID)

	if _, err := s.auth.requireAdmin(ctx, actor, permissions.GlobalScope(strings.TrimSpace(input.TenantID))); err != nil {
		s.grants.auditRejected(ctx, "team.member.remove", "team", teamID, input.TenantID, actor, err)
		return err
	}

	result := s.db.WithContext(ctx).
		Where("team_id = ? AND user_id = ?", teamID, userID).
		Delete(&models.TeamMember{})
	if result.Error != nil {
		return apperrors.Infrastructure(result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrTeamMemberNotFound
	}

	return s.afterChange(ctx, "team.member.remove", actor, input.TenantID, teamID, userID)
}

// ListMembers returns the user IDs of a team ordered by join time.
func (s *TeamService) ListMembers(ctx context.Context, actor, tenantID, teamID string) ([]string, error) {
	ctx = ensureContext(ctx)
	actor = actorID(ctx, actor)
	tenantID, teamID = strings.TrimSpace(tenantID), strings.TrimSpace(teamID)
	if tenantID == "" || teamID == "" {
		return nil, apperrors.NewValidation("tenant_id and team id are required")
	}
	if _, err := s.auth.requireAdmin(ctx, actor, permissions.GlobalScope(tenantID)); err != nil {
		return nil, err
	}

	var members []models.TeamMember
	if err := s.db.WithContext(ctx).
		Where("team_id = ?", teamID).
		Order("created_at ASC, user_id ASC").
		Find(&members).Error; err != nil {
		return nil, apperrors.Infrastructure(err)
	}
	ids := make([]string, 0, len(members))
	for _, member := range members {
		ids = append(ids, member.UserID)
	}
	return ids, nil
}

func (s *TeamService) afterChange(ctx context.Context, action, actor, tenantID, teamID, userID string) error {
	invalidateErr := s.grants.invalidateMembership(ctx, teamID, []string{userID})

	recordAudit(s.audit, s.log, ctx, AuditEntry{
		ActorID:    actor,
		Action:     action,
		TargetType: "team",
		TargetID:   teamID,
		TenantID:   strings.TrimSpace(tenantID),
		Result:     AuditResultSuccess,
		Metadata:   withInvalidation(map[string]any{"user_id": userID}, invalidateErr),
	})
	return invalidateErr
}
