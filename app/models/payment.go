package models

import "time"

const (
	PaymentStatusSucceeded = "succeeded"
	PaymentStatusFailed    = "failed"
)

// Payment is an append-only ledger row per payment attempt. Rows are never
// mutated after creation; they exist for audit and support.
type Payment struct {
	ID                uint      `gorm:"primaryKey" json:"id"`
	UserID            uint      `gorm:"not null;index" json:"user_id"`
	SubscriptionID    uint      `gorm:"not null;index" json:"subscription_id"`
	ProviderPaymentID string    `gorm:"type:varchar(191);not null;default:'';index" json:"provider_payment_id"`
	Status            string    `gorm:"type:varchar(32);not null;index" json:"status"`
	AmountCents       int64     `gorm:"not null;default:0" json:"amount_cents"`
	Currency          string    `gorm:"type:varchar(8);not null;default:'usd'" json:"currency"`
	FailureReason     string    `gorm:"type:varchar(255);default:''" json:"failure_reason,omitempty"`
	OccurredAt        time.Time `gorm:"type:timestamp;not null" json:"occurred_at"`
	CreatedAt         time.Time `gorm:"autoCreateTime" json:"created_at"`
}
