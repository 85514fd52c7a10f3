package models

import (
	"time"

	"gorm.io/datatypes"
)

// ResourcePermission stores a direct capability grant on one resource, bypassing roles.
type ResourcePermission struct {
	BaseModel

	UserID       string         `gorm:"type:varchar(64);not null;uniqueIndex:idx_direct_grant,priority:1" json:"user_id"`
	TenantID     string         `gorm:"type:varchar(64);not null;uniqueIndex:idx_direct_grant,priority:2" json:"tenant_id"`
	ResourceType string         `gorm:"type:varchar(32);not null;uniqueIndex:idx_direct_grant,priority:3" json:"resource_type"`
	ResourceID   string         `gorm:"type:varchar(128);not null;uniqueIndex:idx_direct_grant,priority:4;index" json:"resource_id"`
	Capability   string         `gorm:"type:varchar(16);not null;uniqueIndex:idx_direct_grant,priority:5" json:"capability"`
	GrantedBy    string         `gorm:"type:varchar(64)" json:"granted_by"`
	ExpiresAt    *time.Time     `json:"expires_at,omitempty"`
	Metadata     datatypes.JSON `json:"metadata,omitempty"`
}

// TableName overrides the default table name for GORM.
func (ResourcePermission) TableName() string {
	return "resource_permissions"
}
