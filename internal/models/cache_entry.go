package models

import "time"

// CacheEntry is one row of the database cache store: serialized permission decisions and
// role lookups, plus the rate limiter's counters. A zero ExpiresAt never expires.
type CacheEntry struct {
	Key       string    `gorm:"primaryKey;size:512"`
	Value     []byte    `gorm:"not null"`
	ExpiresAt time.Time `gorm:"index"`
	UpdatedAt time.Time
}
