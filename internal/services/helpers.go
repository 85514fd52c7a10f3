package services

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charlesng35/kbguard/internal/auditctx"
	"github.com/charlesng35/kbguard/internal/permissions"
	apperrors "github.com/charlesng35/kbguard/pkg/errors"
	"github.com/charlesng35/kbguard/pkg/validator"
)

func normaliseIDs(values []string) []string {
	if len(values) == 0 {
		return nil
	}

	seen := make(map[string]struct{}, len(values))
	var out []string
	for _, value := range values {
		value = strings.TrimSpace(value)
		if value == "" {
			continue
		}
		if _, exists := seen[value]; exists {
			continue
		}
		seen[value] = struct{}{}
		out = append(out, value)
	}
	return out
}

func ensureContext(ctx context.Context) context.Context {
	if ctx == nil {
		return context.Background()
	}
	return ctx
}

// validateInput runs struct validation and maps failures onto the validation kind.
func validateInput(input any) error {
	if err := validator.ValidateStruct(input); err != nil {
		return apperrors.NewValidation(validator.Describe(err))
	}
	return nil
}

// parseScope builds a grant scope. Both resource fields must be given together; an empty
// pair is the tenant-global scope.
func parseScope(tenantID, resourceType, resourceID string) (permissions.GrantScope, error) {
	tenantID = strings.TrimSpace(tenantID)
	resourceType = strings.TrimSpace(resourceType)
	resourceID = strings.TrimSpace(resourceID)

	if resourceID == "" {
		if resourceType != "" {
			return permissions.GrantScope{}, apperrors.NewValidation("resource_type requires resource_id")
		}
		return permissions.GlobalScope(tenantID), nil
	}
	if resourceType == "" {
		return permissions.GrantScope{}, apperrors.NewValidation("resource_id requires resource_type")
	}
	rt, err := permissions.ParseResourceType(resourceType)
	if err != nil {
		return permissions.GrantScope{}, err
	}
	return permissions.ResourceScope(tenantID, rt, resourceID), nil
}

// scopeLabel renders a scope for audit records.
func scopeLabel(scope permissions.GrantScope) string {
	if scope.IsGlobal() {
		return "tenant:" + scope.TenantID
	}
	return fmt.Sprintf("%s:%s", scope.ResourceType, scope.ResourceID)
}

func checkExpiry(expiresAt *time.Time, now time.Time) (*time.Time, error) {
	if expiresAt == nil {
		return nil, nil
	}
	if !expiresAt.After(now) {
		return nil, apperrors.NewValidation("expires_at must be in the future")
	}
	utc := expiresAt.UTC()
	return &utc, nil
}

// actorID prefers the explicit actor and falls back to the request actor in ctx.
func actorID(ctx context.Context, explicit string) string {
	if id := strings.TrimSpace(explicit); id != "" {
		return id
	}
	if actor, ok := auditctx.FromContext(ctx); ok {
		return strings.TrimSpace(actor.UserID)
	}
	return ""
}
