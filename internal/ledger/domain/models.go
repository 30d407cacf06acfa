// Package domain contains persistence models for the credit ledger: the
// per-job consumption split and the purchased top-up balance.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

// CreditConsumption records how many minutes a job drew from each pool.
// The split recorded here is authoritative for refunds; refunds reverse this
// row exactly and never recompute from current balances.
type CreditConsumption struct {
	ID               snowflake.ID `gorm:"primaryKey"`
	UserID           snowflake.ID `gorm:"not null;index:idx_credit_consumptions_user_period,priority:1"`
	JobID            snowflake.ID `gorm:"not null;uniqueIndex"`
	Minutes          int          `gorm:"not null"`
	FromSubscription int          `gorm:"not null"`
	FromTopup        int          `gorm:"not null"`
	ConsumedAt       time.Time    `gorm:"not null;index:idx_credit_consumptions_user_period,priority:2"`
	Refunded         bool         `gorm:"not null;default:false"`
	RefundedAt       *time.Time   `gorm:""`
	CreatedAt        time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt        time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (CreditConsumption) TableName() string { return "credit_consumptions" }

// TopupBalance is a user's purchased, non-expiring minute balance. Mutated
// only inside ledger and top-up transactions; never negative.
type TopupBalance struct {
	UserID    snowflake.ID `gorm:"primaryKey"`
	Minutes   int          `gorm:"not null;default:0"`
	CreatedAt time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (TopupBalance) TableName() string { return "topup_balances" }
