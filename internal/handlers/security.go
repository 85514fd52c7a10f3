package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/charlesng35/kbguard/internal/security"
	"github.com/charlesng35/kbguard/pkg/response"
)

// SecurityHandler serves the deployment posture report.
type SecurityHandler struct {
	audit *security.AuditService
}

// NewSecurityHandler returns nil when no audit service is configured.
func NewSecurityHandler(audit *security.AuditService) *SecurityHandler {
	if audit == nil {
		return nil
	}
	return &SecurityHandler{audit: audit}
}

// GET /api/security/audit
func (h *SecurityHandler) Audit(c *gin.Context) {
	response.Success(c, http.StatusOK, h.audit.Run(requestContext(c)))
}
