package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/charlesng35/kbguard/internal/auditctx"
	"github.com/charlesng35/kbguard/internal/models"
	"github.com/charlesng35/kbguard/internal/permissions"
)

// Audit results.
const (
	AuditResultSuccess = "success"
	AuditResultNoop    = "noop"
	AuditResultDenied  = "denied"
	AuditResultFailure = "failure"
)

// AuditEntry captures a single audit event to persist.
type AuditEntry struct {
	ActorID    string
	Action     string
	TargetType string
	TargetID   string
	TenantID   string
	Resource   string
	Result     string
	IPAddress  string
	UserAgent  string
	Metadata   map[string]any
}

// AuditSink receives audit records from the mutation services.
type AuditSink interface {
	Log(ctx context.Context, entry AuditEntry) error
}

// AuditFilters encapsulates optional filters when querying audit logs.
type AuditFilters struct {
	ActorID    string
	Action     string
	TargetType string
	TargetID   string
	TenantID   string
	Result     string
	Since      *time.Time
	Until      *time.Time
}

// AuditListOptions controls pagination and filtering for audit queries.
type AuditListOptions struct {
	Page     int
	PageSize int
	Filters  AuditFilters
}

// AuditService persists and retrieves audit log entries.
type AuditService struct {
	db  *gorm.DB
	now func() time.Time
}

var (
	_ AuditSink                  = (*AuditService)(nil)
	_ permissions.DenialRecorder = (*AuditService)(nil)
)

// NewAuditService constructs an AuditService using the provided database handle.
func NewAuditService(db *gorm.DB) (*AuditService, error) {
	if db == nil {
		return nil, errors.New("audit service: db is required")
	}
	return &AuditService{db: db, now: time.Now}, nil
}

// WithClock overrides the clock used for retention cutoffs.
func (s *AuditService) WithClock(now func() time.Time) *AuditService {
	if now != nil {
		s.now = now
	}
	return s
}

// Log stores an audit entry, marshalling metadata into JSON form. Request actor details
// from ctx fill any fields the entry leaves empty.
func (s *AuditService) Log(ctx context.Context, entry AuditEntry) error {
	ctx = ensureContext(ctx)

	if strings.TrimSpace(entry.Action) == "" {
		return errors.New("audit service: action is required")
	}
	if strings.TrimSpace(entry.Result) == "" {
		return errors.New("audit service: result is required")
	}

	if actor, ok := auditctx.FromContext(ctx); ok {
		if entry.ActorID == "" {
			entry.ActorID = actor.UserID
		}
		if entry.IPAddress == "" {
			entry.IPAddress = actor.IPAddress
		}
		if entry.UserAgent == "" {
			entry.UserAgent = actor.UserAgent
		}
	}

	var payload datatypes.JSON
	if entry.Metadata != nil {
		encoded, err := json.Marshal(entry.Metadata)
		if err != nil {
			return fmt.Errorf("audit service: marshal metadata: %w", err)
		}
		payload = datatypes.JSON(encoded)
	}

	log := models.AuditLog{
		ActorID:    strings.TrimSpace(entry.ActorID),
		Action:     strings.TrimSpace(entry.Action),
		TargetType: strings.TrimSpace(entry.TargetType),
		TargetID:   strings.TrimSpace(entry.TargetID),
		TenantID:   strings.TrimSpace(entry.TenantID),
		Resource:   strings.TrimSpace(entry.Resource),
		Result:     strings.TrimSpace(entry.Result),
		IPAddress:  strings.TrimSpace(entry.IPAddress),
		UserAgent:  strings.TrimSpace(entry.UserAgent),
		Metadata:   payload,
		CreatedAt:  s.now().UTC(),
	}

	return s.db.WithContext(ctx).Create(&log).Error
}

// RecordDenial stores a denied permission check.
func (s *AuditService) RecordDenial(ctx context.Context, req permissions.CheckRequest, decision permissions.Decision) error {
	resource := "tenant:" + req.TenantID
	if !req.Global() {
		resource = fmt.Sprintf("%s:%s", req.ResourceType, req.ResourceID)
	}
	return s.Log(ctx, AuditEntry{
		ActorID:    req.UserID,
		Action:     "permission.denied",
		TargetType: models.HolderUser,
		TargetID:   req.UserID,
		TenantID:   req.TenantID,
		Resource:   resource,
		Result:     AuditResultDenied,
		Metadata: map[string]any{
			"capability":    string(req.Capability),
			"resource_type": string(req.ResourceType),
			"reason":        decision.Reason,
			"checked":       decision.Checked,
		},
	})
}

// List returns paginated audit logs ordered by creation time descending.
func (s *AuditService) List(ctx context.Context, opts AuditListOptions) ([]models.AuditLog, int64, error) {
	ctx = ensureContext(ctx)

	page := opts.Page
	if page <= 0 {
		page = 1
	}
	perPage := opts.PageSize
	if perPage <= 0 || perPage > 200 {
		perPage = 50
	}

	var (
		results []models.AuditLog
		total   int64
	)

	query := s.db.WithContext(ctx).Model(&models.AuditLog{})
	query = applyAuditFilters(query, opts.Filters)

	if err := query.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("audit service: count logs: %w", err)
	}

	if err := query.
		Order("created_at DESC").
		Offset((page - 1) * perPage).
		Limit(perPage).
		Find(&results).Error; err != nil {
		return nil, 0, fmt.Errorf("audit service: list logs: %w", err)
	}

	return results, total, nil
}

// CleanupOlderThan removes audit logs older than the supplied retention window (in days).
func (s *AuditService) CleanupOlderThan(ctx context.Context, retentionDays int) (int64, error) {
	ctx = ensureContext(ctx)

	if retentionDays <= 0 {
		return 0, errors.New("audit service: retentionDays must be positive")
	}

	cutoff := s.now().UTC().AddDate(0, 0, -retentionDays)

	result := s.db.WithContext(ctx).Where("created_at < ?", cutoff).Delete(&models.AuditLog{})
	if result.Error != nil {
		return 0, fmt.Errorf("audit service: cleanup logs: %w", result.Error)
	}

	return result.RowsAffected, nil
}

func applyAuditFilters(query *gorm.DB, filters AuditFilters) *gorm.DB {
	if filters.ActorID != "" {
		query = query.Where("actor_id = ?", filters.ActorID)
	}
	if filters.Action != "" {
		query = query.Where("action = ?", filters.Action)
	}
	if filters.TargetType != "" {
		query = query.Where("target_type = ?", filters.TargetType)
	}
	if filters.TargetID != "" {
		query = query.Where("target_id = ?", filters.TargetID)
	}
	if filters.TenantID != "" {
		query = query.Where("tenant_id = ?", filters.TenantID)
	}
	if filters.Result != "" {
		query = query.Where("result = ?", filters.Result)
	}
	if filters.Since != nil {
		query = query.Where("created_at >= ?", filters.Since.UTC())
	}
	if filters.Until != nil {
		query = query.Where("created_at <= ?", filters.Until.UTC())
	}
	return query
}
