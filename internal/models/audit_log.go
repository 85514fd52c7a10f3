package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// AuditLog is an append-only record of a grant mutation or a denied check.
type AuditLog struct {
	ID         string         `gorm:"primaryKey;type:varchar(36)" json:"id"`
	ActorID    string         `gorm:"type:varchar(64);index" json:"actor_id"`
	Action     string         `gorm:"not null;index" json:"action"`
	TargetType string         `gorm:"type:varchar(16);index" json:"target_type"`
	TargetID   string         `gorm:"type:varchar(64);index" json:"target_id"`
	TenantID   string         `gorm:"type:varchar(64);index" json:"tenant_id"`
	Resource   string         `gorm:"index" json:"resource"`
	Result     string         `gorm:"not null" json:"result"`
	IPAddress  string         `json:"ip_address"`
	UserAgent  string         `json:"user_agent"`
	Metadata   datatypes.JSON `json:"metadata"`
	CreatedAt  time.Time      `gorm:"index" json:"created_at"`
}

func (a *AuditLog) BeforeCreate(tx *gorm.DB) error {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	return nil
}
