package models

import "time"

// SeedMarker records that a one-off seed step ran, so restarts do not repeat it.
type SeedMarker struct {
	Key       string    `gorm:"primaryKey;size:191" json:"key"`
	AppliedAt time.Time `gorm:"not null" json:"applied_at"`
	AppliedBy string    `gorm:"size:64" json:"applied_by"`
}
