package models

import "time"

// TeamMember is the flat team-membership relation maintained by user management.
type TeamMember struct {
	TeamID    string    `gorm:"primaryKey;type:varchar(64)" json:"team_id"`
	UserID    string    `gorm:"primaryKey;type:varchar(64);index" json:"user_id"`
	CreatedAt time.Time `json:"created_at"`
}
