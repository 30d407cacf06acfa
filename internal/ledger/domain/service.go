package domain

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	"github.com/tubescribe/tubescribe/internal/billingperiod"
)

// Split is the result of a successful consumption: how many minutes came out
// of each pool. FromSubscription + FromTopup always equals the requested total.
type Split struct {
	FromSubscription int `json:"from_subscription"`
	FromTopup        int `json:"from_topup"`
}

type ConsumeRequest struct {
	UserID  snowflake.ID
	JobID   snowflake.ID
	Minutes int
}

type Service interface {
	// Consume atomically deducts minutes for a job, subscription pool first,
	// shortfall from the top-up balance. All-or-nothing: if the top-up balance
	// cannot cover the shortfall nothing is recorded. Retried calls for the
	// same job return the originally recorded split. Unlimited accounts are a
	// no-op success.
	Consume(ctx context.Context, req ConsumeRequest) (Split, error)

	// Refund reverses the recorded split for a job and returns the minutes
	// restored. Idempotent: jobs without a recorded consumption, and second
	// refunds, return zero with balances untouched.
	Refund(ctx context.Context, jobID snowflake.ID) (int, error)

	// UsedMinutes sums the subscription-pool minutes consumed inside the
	// period. This reads the authoritative ledger, never a cache.
	UsedMinutes(ctx context.Context, userID snowflake.ID, period billingperiod.Period) (int, error)

	// History lists a user's consumption rows inside the period, newest first.
	History(ctx context.Context, userID snowflake.ID, period billingperiod.Period) ([]CreditConsumption, error)
}

var (
	ErrInvalidUser         = errors.New("invalid_user")
	ErrInvalidJob          = errors.New("invalid_job")
	ErrInvalidMinutes      = errors.New("invalid_minutes")
	ErrInsufficientCredits = errors.New("insufficient_credits")
)
