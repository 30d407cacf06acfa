// Package domain contains models and contracts for purchased top-up credit.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

// TopupCredit is one applied payment event. The unique external payment ID is
// the idempotency key that makes retried webhook deliveries harmless.
type TopupCredit struct {
	ID                snowflake.ID `gorm:"primaryKey"`
	UserID            snowflake.ID `gorm:"not null;index"`
	ExternalPaymentID string       `gorm:"type:text;not null;uniqueIndex"`
	Minutes           int          `gorm:"not null"`
	AmountCents       int64        `gorm:"not null"`
	CreatedAt         time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (TopupCredit) TableName() string { return "topup_credits" }
