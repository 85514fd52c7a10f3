package services

import (
	"context"

	"go.uber.org/zap"
)

// recordAudit logs the supplied entry while tolerating audit failures.
func recordAudit(audit AuditSink, log *zap.Logger, ctx context.Context, entry AuditEntry) {
	if audit == nil {
		return
	}
	if err := audit.Log(context.WithoutCancel(ensureContext(ctx)), entry); err != nil && log != nil {
		log.Warn("audit sink failed", zap.String("action", entry.Action), zap.Error(err))
	}
}
