package models

import (
	"crypto/sha256"
	"encoding/hex"
	"net/url"
	"strings"
	"time"
)

// UserRoleGrant assigns a role to a user within a tenant. Empty ResourceType and
// ResourceID denote the tenant-global scope.
//
// ActiveScopeKey holds the scope key while the grant is active and NULL afterwards, so the
// unique index allows any number of historical rows but only one active row per scope. The
// key is a fixed-width digest so that maximal identifiers still fit the column.
type UserRoleGrant struct {
	BaseModel

	UserID       string     `gorm:"type:varchar(64);not null;index:idx_user_grant_scope,priority:1" json:"user_id"`
	TenantID     string     `gorm:"type:varchar(64);not null;index:idx_user_grant_scope,priority:2" json:"tenant_id"`
	ResourceType string     `gorm:"type:varchar(32);not null;default:'';index:idx_user_grant_scope,priority:3" json:"resource_type,omitempty"`
	ResourceID   string     `gorm:"type:varchar(128);not null;default:'';index:idx_user_grant_scope,priority:4" json:"resource_id,omitempty"`
	RoleID       string     `gorm:"type:varchar(36);not null;index" json:"role_id"`
	GrantedBy    string     `gorm:"type:varchar(64)" json:"granted_by"`
	GrantedAt    time.Time  `json:"granted_at"`
	ExpiresAt    *time.Time `gorm:"index" json:"expires_at,omitempty"`
	Active       bool       `gorm:"not null;index" json:"active"`
	RevokedAt    *time.Time `json:"revoked_at,omitempty"`
	RevokedBy    string     `gorm:"type:varchar(64)" json:"revoked_by,omitempty"`

	ActiveScopeKey *string `gorm:"type:char(64);uniqueIndex" json:"-"`

	Role *Role `gorm:"foreignKey:RoleID" json:"role,omitempty"`
}

// TeamRoleGrant mirrors UserRoleGrant for teams. Members inherit every active team grant.
type TeamRoleGrant struct {
	BaseModel

	TeamID       string     `gorm:"type:varchar(64);not null;index:idx_team_grant_scope,priority:1" json:"team_id"`
	TenantID     string     `gorm:"type:varchar(64);not null;index:idx_team_grant_scope,priority:2" json:"tenant_id"`
	ResourceType string     `gorm:"type:varchar(32);not null;default:'';index:idx_team_grant_scope,priority:3" json:"resource_type,omitempty"`
	ResourceID   string     `gorm:"type:varchar(128);not null;default:'';index:idx_team_grant_scope,priority:4" json:"resource_id,omitempty"`
	RoleID       string     `gorm:"type:varchar(36);not null;index" json:"role_id"`
	GrantedBy    string     `gorm:"type:varchar(64)" json:"granted_by"`
	GrantedAt    time.Time  `json:"granted_at"`
	ExpiresAt    *time.Time `gorm:"index" json:"expires_at,omitempty"`
	Active       bool       `gorm:"not null;index" json:"active"`
	RevokedAt    *time.Time `json:"revoked_at,omitempty"`
	RevokedBy    string     `gorm:"type:varchar(64)" json:"revoked_by,omitempty"`

	ActiveScopeKey *string `gorm:"type:char(64);uniqueIndex" json:"-"`

	Role *Role `gorm:"foreignKey:RoleID" json:"role,omitempty"`
}

// Holder kinds used in scope keys.
const (
	HolderUser = "user"
	HolderTeam = "team"
)

// ScopeKey renders the value stored in ActiveScopeKey for an active grant: the hex SHA-256
// of the escaped holder and scope tuple.
func ScopeKey(holderKind, holderID, tenantID, resourceType, resourceID string) string {
	sum := sha256.Sum256([]byte(scopeTuple(holderKind, holderID, tenantID, resourceType, resourceID)))
	return hex.EncodeToString(sum[:])
}

func scopeTuple(parts ...string) string {
	escaped := make([]string, len(parts))
	for i, part := range parts {
		escaped[i] = url.QueryEscape(part)
	}
	return strings.Join(escaped, "|")
}

// ExpiredAt reports whether the grant has expired at now.
func (g *UserRoleGrant) ExpiredAt(now time.Time) bool {
	return g.ExpiresAt != nil && !now.Before(*g.ExpiresAt)
}

// ExpiredAt reports whether the grant has expired at now.
func (g *TeamRoleGrant) ExpiredAt(now time.Time) bool {
	return g.ExpiresAt != nil && !now.Before(*g.ExpiresAt)
}
