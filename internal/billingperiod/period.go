// Package billingperiod resolves the active accounting window for a user.
// Resolution is a pure function of the subscription record and the clock.
package billingperiod

import (
	"time"

	subscriptiondomain "github.com/tubescribe/tubescribe/internal/subscription/domain"
)

// Period is the half-open accounting window [Start, End).
type Period struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// Contains reports whether t falls inside the window.
func (p Period) Contains(t time.Time) bool {
	return !t.Before(p.Start) && t.Before(p.End)
}

const cycleLength = 30 * 24 * time.Hour

// Resolve computes the billing period for a subscription at the given instant.
// Priority order:
//  1. Paid tier with provider-anchored dates: returned verbatim, the provider
//     is authoritative and dates are never recomputed.
//  2. Signup anchor: time is partitioned into fixed 30-day cycles anchored at
//     signup, which yields gapless, non-overlapping periods no matter when
//     resolution happens.
//  3. Rolling 30-day window ending now. Degraded fallback, expected to be rare.
func Resolve(sub subscriptiondomain.Subscription, now time.Time) Period {
	now = now.UTC()

	if sub.IsPaid() && sub.HasProviderPeriod() {
		return Period{
			Start: sub.CurrentPeriodStart.UTC(),
			End:   sub.CurrentPeriodEnd.UTC(),
		}
	}

	if !sub.UserCreatedAt.IsZero() && !sub.UserCreatedAt.After(now) {
		signup := sub.UserCreatedAt.UTC()
		cycleIndex := now.Sub(signup) / cycleLength
		start := signup.Add(cycleIndex * cycleLength)
		return Period{
			Start: start,
			End:   start.Add(cycleLength),
		}
	}

	return Period{
		Start: now.Add(-cycleLength),
		End:   now,
	}
}
