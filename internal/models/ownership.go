package models

import "time"

// ResourceOwnership records the owning user of a resource. It is written by the
// resource-owning subsystem through the ownership hooks.
type ResourceOwnership struct {
	ResourceType string    `gorm:"primaryKey;type:varchar(32)" json:"resource_type"`
	ResourceID   string    `gorm:"primaryKey;type:varchar(128)" json:"resource_id"`
	TenantID     string    `gorm:"type:varchar(64);not null;index" json:"tenant_id"`
	OwnerID      string    `gorm:"type:varchar(64);not null;index" json:"owner_id"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// TableName overrides the default table name for GORM.
func (ResourceOwnership) TableName() string {
	return "resource_ownerships"
}
