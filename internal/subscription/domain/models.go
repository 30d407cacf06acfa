// Package domain contains the read-only subscription model. Subscriptions are
// authored by the external billing system; this service only reads them.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

// Tier governs whether transcription is permitted and how it is metered.
type Tier string

const (
	TierFree      Tier = "free"
	TierPro       Tier = "pro"
	TierUnlimited Tier = "unlimited"
)

// Subscription captures a user's current plan and billing anchors.
// Exactly one of {provider-anchored period, signup anchor, rolling fallback}
// applies when resolving the accounting window.
type Subscription struct {
	ID                 snowflake.ID `gorm:"primaryKey"`
	UserID             snowflake.ID `gorm:"not null;uniqueIndex"`
	Tier               Tier         `gorm:"type:text;not null"`
	CurrentPeriodStart *time.Time   `gorm:""`
	CurrentPeriodEnd   *time.Time   `gorm:""`
	UserCreatedAt      time.Time    `gorm:"not null"`
	CreatedAt          time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt          time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (Subscription) TableName() string { return "subscriptions" }

// HasProviderPeriod reports whether the billing provider supplied authoritative
// period dates for the current cycle.
func (s Subscription) HasProviderPeriod() bool {
	return s.CurrentPeriodStart != nil && s.CurrentPeriodEnd != nil
}

// IsPaid reports whether the tier grants a metered transcription allowance.
func (s Subscription) IsPaid() bool {
	return s.Tier == TierPro || s.Tier == TierUnlimited
}
