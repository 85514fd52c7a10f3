package models

// Permission is a (resource type, capability) pair. Code is "<resource_type>_<capability>".
type Permission struct {
	BaseModel

	Code         string `gorm:"type:varchar(96);uniqueIndex;not null" json:"code"`
	ResourceType string `gorm:"type:varchar(32);not null;index" json:"resource_type"`
	Capability   string `gorm:"type:varchar(16);not null" json:"capability"`
	Description  string `json:"description"`
}
