package models

// Role is a named bundle of permissions. Kind is the precedence tier used for
// tie-breaking, escalation checks and scope compatibility.
type Role struct {
	BaseModel

	Code        string  `gorm:"type:varchar(64);uniqueIndex;not null" json:"code"`
	Name        string  `gorm:"not null" json:"name"`
	Description string  `json:"description"`
	Kind        string  `gorm:"type:varchar(32);not null;index" json:"kind"`
	IsSystem    bool    `gorm:"default:false" json:"is_system"`
	TenantID    *string `gorm:"type:varchar(64);index" json:"tenant_id,omitempty"`

	Permissions []RolePermission `gorm:"foreignKey:RoleID" json:"permissions,omitempty"`
}

// RolePermission links a role to a permission. Inactive edges are ignored by the resolver.
type RolePermission struct {
	BaseModel

	RoleID       string `gorm:"type:varchar(36);not null;uniqueIndex:idx_role_permission,priority:1" json:"role_id"`
	PermissionID string `gorm:"type:varchar(36);not null;uniqueIndex:idx_role_permission,priority:2" json:"permission_id"`
	Active       bool   `gorm:"not null" json:"active"`

	Permission *Permission `gorm:"foreignKey:PermissionID" json:"permission,omitempty"`
}

// TableName overrides the default table name for GORM.
func (RolePermission) TableName() string {
	return "role_permissions"
}
