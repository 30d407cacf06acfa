// Package domain defines admission decisions and usage summaries.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

// UnlimitedMinutes is the serializable stand-in for "no limit". Large and
// finite so JSON clients never see Inf or overflow on 32-bit parsers.
const UnlimitedMinutes = 999999

// Decision reason codes, stable across the API surface.
const (
	ReasonOK                  = "OK"
	ReasonNoSubscription      = "NO_SUBSCRIPTION"
	ReasonNotPro              = "NOT_PRO"
	ReasonExistingJob         = "EXISTING_JOB"
	ReasonInsufficientCredits = "INSUFFICIENT_CREDITS"
)

type SubscriptionMinutes struct {
	Used      int `json:"used"`
	Limit     int `json:"limit"`
	Remaining int `json:"remaining"`
}

// UsageStats is a point-in-time snapshot of both credit pools.
type UsageStats struct {
	SubscriptionMinutes SubscriptionMinutes `json:"subscription_minutes"`
	TopupMinutes        int                 `json:"topup_minutes"`
	TotalRemaining      int                 `json:"total_remaining"`
	PeriodStart         time.Time           `json:"period_start"`
	PeriodEnd           time.Time           `json:"period_end"`
	ResetAt             time.Time           `json:"reset_at"`
	IsUnlimited         bool                `json:"is_unlimited"`
}

// Decision is the advisory admission verdict for starting a job. The ledger
// re-validates sufficiency at consumption time; an allowed decision is not a
// reservation.
type Decision struct {
	Allowed       bool          `json:"allowed"`
	Reason        string        `json:"reason"`
	Stats         *UsageStats   `json:"stats,omitempty"`
	WillUseTopup  bool          `json:"will_use_topup"`
	MinutesNeeded int           `json:"minutes_needed,omitempty"`
	ExistingJobID *snowflake.ID `json:"existing_job_id,omitempty"`
}
