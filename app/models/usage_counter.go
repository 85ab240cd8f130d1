package models

import "time"

// UsageCounter is the relational mirror of the per-license daily call
// counter. The hot path increments in Redis; rows here are written by the
// counter flusher and by the transactional fallback when Redis is down.
type UsageCounter struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	LicenseID uint      `gorm:"not null;index:ux_usage_counters_license_day,unique,priority:1" json:"license_id"`
	Day       string    `gorm:"type:char(10);not null;index:ux_usage_counters_license_day,unique,priority:2" json:"day"`
	CallCount int64     `gorm:"not null;default:0" json:"call_count"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}
