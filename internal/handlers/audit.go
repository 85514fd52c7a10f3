package handlers

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/charlesng35/kbguard/internal/services"
	apperrors "github.com/charlesng35/kbguard/pkg/errors"
	"github.com/charlesng35/kbguard/pkg/response"
)

type AuditHandler struct {
	svc *services.AuditService
}

func NewAuditHandler(svc *services.AuditService) (*AuditHandler, error) {
	if svc == nil {
		return nil, errors.New("audit handler: audit service is required")
	}
	return &AuditHandler{svc: svc}, nil
}

// GET /api/audit
//
// Results are always restricted to the tenant the caller was authorized against.
func (h *AuditHandler) List(c *gin.Context) {
	page := parseIntQuery(c, "page", 1)
	per := min(parseIntQuery(c, "per_page", 50), 200)

	filters := services.AuditFilters{
		ActorID:    c.Query("actor_id"),
		Action:     c.Query("action"),
		TargetType: c.Query("target_type"),
		TargetID:   c.Query("target_id"),
		TenantID:   tenantQuery(c),
		Result:     c.Query("result"),
	}

	var err error
	if filters.Since, err = parseTimeQuery(c, "since"); err != nil {
		response.Error(c, err)
		return
	}
	if filters.Until, err = parseTimeQuery(c, "until"); err != nil {
		response.Error(c, err)
		return
	}

	logs, total, err := h.svc.List(requestContext(c), services.AuditListOptions{Page: page, PageSize: per, Filters: filters})
	if err != nil {
		response.Error(c, apperrors.Infrastructure(err))
		return
	}

	response.SuccessWithMeta(c, http.StatusOK, logs, response.NewMeta(page, per, total))
}

func parseTimeQuery(c *gin.Context, key string) (*time.Time, error) {
	raw := strings.TrimSpace(c.Query(key))
	if raw == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return nil, apperrors.NewValidation(key + " must be an RFC3339 timestamp")
	}
	t = t.UTC()
	return &t, nil
}
