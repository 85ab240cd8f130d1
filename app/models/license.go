package models

import "time"

// License is an entitlement grant identified by an opaque key. Licenses are
// deactivated on cancellation or expiry, never deleted, so the audit trail
// and usage history stay intact.
type License struct {
	ID             uint       `gorm:"primaryKey" json:"id"`
	UserID         uint       `gorm:"not null;index" json:"user_id"`
	SubscriptionID *uint      `gorm:"index;default:null" json:"subscription_id,omitempty"`
	LicenseKey     string     `gorm:"type:varchar(191);not null;uniqueIndex" json:"license_key"`
	Tier           string     `gorm:"type:varchar(50);not null;default:'free';index" json:"tier"`
	MaxServers     int        `gorm:"not null;default:1" json:"max_servers"`
	IsActive       bool       `gorm:"default:true;index" json:"is_active"`
	ExpiresAt      *time.Time `gorm:"type:timestamp;default:null" json:"expires_at,omitempty"`
	DeactivatedAt  *time.Time `gorm:"type:timestamp;default:null" json:"deactivated_at,omitempty"`
	CreatedAt      time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt      time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

// IsUsable reports whether calls against this license may be served.
func (l *License) IsUsable(now time.Time) bool {
	if !l.IsActive {
		return false
	}
	if l.ExpiresAt != nil && now.After(*l.ExpiresAt) {
		return false
	}
	return true
}
