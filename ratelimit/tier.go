package ratelimit

import (
	"context"
	"strings"

	"github.com/AuralStack/ScribeFlow/fault"
	"github.com/AuralStack/ScribeFlow/types"
)

// TierResolver maps a user to their subscription tier. No account
// service exists in scope, so deployments plug their own lookup in and
// everything else defaults to free.
type TierResolver func(ctx context.Context, userID string) types.Tier

// FreeTier resolves every user to the free tier.
func FreeTier(context.Context, string) types.Tier {
	return types.TierFree
}

// QuotaExceededError reports a denied quota check. It carries every
// violated rule and what the user has left so the API response can say
// more than "try later".
type QuotaExceededError struct {
	Violations []string
	Remaining  types.QuotaRemaining
}

func (e *QuotaExceededError) Error() string {
	return "quota exceeded: " + strings.Join(e.Violations, ", ")
}

// Unwrap places the error in the rate-limited fault kind so the HTTP
// layer maps it to 429 without special knowledge.
func (e *QuotaExceededError) Unwrap() error {
	return fault.New(fault.KindRateLimited, "quota_exceeded", "tier quota exceeded")
}

// Err converts a denied decision into a QuotaExceededError; an allowed
// decision yields nil.
func (d *QuotaDecision) Err() error {
	if d.Allowed {
		return nil
	}
	return &QuotaExceededError{Violations: d.Violations, Remaining: d.Remaining}
}
