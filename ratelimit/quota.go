package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/AuralStack/ScribeFlow/fault"
	"github.com/AuralStack/ScribeFlow/types"
)

// UsageStore persists per-user quota usage records.
type UsageStore interface {
	// Get returns the user's usage record, or a not_found fault if the
	// user has no recorded usage yet.
	Get(ctx context.Context, userID string) (*types.QuotaUsage, error)

	// Put stores the usage record.
	Put(ctx context.Context, usage *types.QuotaUsage) error
}

// QuotaRequest describes the consumption a quota check is sizing.
type QuotaRequest struct {
	// FileSizeMB is the size of the upload being admitted, 0 if none.
	FileSizeMB int64

	// Minutes is the audio duration about to be transcribed, 0 if none.
	Minutes float64

	// StorageGB is the storage the request would add, 0 if none.
	StorageGB float64

	// NewJob marks requests that would occupy a concurrent-job slot.
	NewJob bool
}

// QuotaDecision is the outcome of a quota check. Violations lists every
// failing rule, never only the first.
type QuotaDecision struct {
	Allowed    bool
	Violations []string
	Remaining  types.QuotaRemaining
}

// QuotaManager enforces tier-driven absolute quotas on top of the rate
// classes.
type QuotaManager struct {
	store   UsageStore
	limits  map[types.Tier]types.TierLimits
	enabled bool
	clock   func() time.Time
}

// QuotaOption configures a QuotaManager.
type QuotaOption func(*QuotaManager)

// WithTierLimits overrides the default tier table.
func WithTierLimits(limits map[types.Tier]types.TierLimits) QuotaOption {
	return func(m *QuotaManager) {
		m.limits = limits
	}
}

// WithQuotaEnabled toggles enforcement. A disabled manager allows every
// request and records nothing.
func WithQuotaEnabled(enabled bool) QuotaOption {
	return func(m *QuotaManager) {
		m.enabled = enabled
	}
}

// withQuotaClock injects a clock for tests.
func withQuotaClock(clock func() time.Time) QuotaOption {
	return func(m *QuotaManager) {
		m.clock = clock
	}
}

// NewQuotaManager creates a quota manager over the given usage store.
func NewQuotaManager(store UsageStore, opts ...QuotaOption) *QuotaManager {
	m := &QuotaManager{
		store:   store,
		limits:  types.DefaultTierLimits(),
		enabled: true,
		clock:   time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// usage loads the user's record, rolling lazy period resets. Missing
// records start fresh.
func (m *QuotaManager) usage(ctx context.Context, userID string) (*types.QuotaUsage, error) {
	u, err := m.store.Get(ctx, userID)
	if err != nil {
		if fault.IsKind(err, fault.KindNotFound) {
			u = &types.QuotaUsage{UserID: userID}
		} else {
			return nil, err
		}
	}
	u.RollPeriods(m.clock())
	return u, nil
}

// tierLimits resolves a tier, falling back to free for unknown values.
func (m *QuotaManager) tierLimits(tier types.Tier) types.TierLimits {
	if limits, ok := m.limits[tier]; ok {
		return limits
	}
	return m.limits[types.TierFree]
}

// Check sizes a request against the user's tier. It does not consume quota;
// callers record usage after the work succeeds.
func (m *QuotaManager) Check(ctx context.Context, userID string, tier types.Tier, req QuotaRequest) (*QuotaDecision, error) {
	if !m.enabled {
		return &QuotaDecision{Allowed: true}, nil
	}

	u, err := m.usage(ctx, userID)
	if err != nil {
		return nil, err
	}
	limits := m.tierLimits(tier)

	var violations []string
	if req.Minutes > 0 && u.MinutesUsedToday+req.Minutes > limits.DailyMinutes {
		violations = append(violations, types.ViolationDailyMinutes)
	}
	if req.Minutes > 0 && u.MinutesUsedMonth+req.Minutes > limits.MonthlyMinutes {
		violations = append(violations, types.ViolationMonthlyMinutes)
	}
	if req.FileSizeMB > 0 && req.FileSizeMB > limits.MaxFileSizeMB {
		violations = append(violations, types.ViolationFileSize)
	}
	if req.NewJob && u.ActiveJobs >= limits.ConcurrentJobs {
		violations = append(violations, types.ViolationConcurrentJobs)
	}
	if u.APICallsThisHour >= limits.APICallsPerHour {
		violations = append(violations, types.ViolationAPICalls)
	}
	if req.StorageGB > 0 && u.StorageUsedGB+req.StorageGB > limits.StorageGB {
		violations = append(violations, types.ViolationStorage)
	}

	return &QuotaDecision{
		Allowed:    len(violations) == 0,
		Violations: violations,
		Remaining:  remaining(u, limits),
	}, nil
}

// remaining computes what the user has left under their tier.
func remaining(u *types.QuotaUsage, limits types.TierLimits) types.QuotaRemaining {
	r := types.QuotaRemaining{
		DailyMinutes:   limits.DailyMinutes - u.MinutesUsedToday,
		MonthlyMinutes: limits.MonthlyMinutes - u.MinutesUsedMonth,
		StorageGB:      limits.StorageGB - u.StorageUsedGB,
		ConcurrentJobs: limits.ConcurrentJobs - u.ActiveJobs,
		APICalls:       limits.APICallsPerHour - u.APICallsThisHour,
	}
	if r.DailyMinutes < 0 {
		r.DailyMinutes = 0
	}
	if r.MonthlyMinutes < 0 {
		r.MonthlyMinutes = 0
	}
	if r.StorageGB < 0 {
		r.StorageGB = 0
	}
	if r.ConcurrentJobs < 0 {
		r.ConcurrentJobs = 0
	}
	if r.APICalls < 0 {
		r.APICalls = 0
	}
	return r
}

// RecordTranscription adds transcribed minutes to the day and month counters.
func (m *QuotaManager) RecordTranscription(ctx context.Context, userID string, minutes float64) error {
	return m.update(ctx, userID, func(u *types.QuotaUsage) {
		u.MinutesUsedToday += minutes
		u.MinutesUsedMonth += minutes
	})
}

// RecordAPICall counts one call against the hourly ceiling.
func (m *QuotaManager) RecordAPICall(ctx context.Context, userID string) error {
	return m.update(ctx, userID, func(u *types.QuotaUsage) {
		u.APICallsThisHour++
	})
}

// RecordStorage adjusts the user's stored volume. Negative deltas reclaim
// space after deletes.
func (m *QuotaManager) RecordStorage(ctx context.Context, userID string, deltaGB float64) error {
	return m.update(ctx, userID, func(u *types.QuotaUsage) {
		u.StorageUsedGB += deltaGB
		if u.StorageUsedGB < 0 {
			u.StorageUsedGB = 0
		}
	})
}

// AcquireJobSlot takes a concurrent-job slot if the tier allows another.
func (m *QuotaManager) AcquireJobSlot(ctx context.Context, userID string, tier types.Tier) (bool, error) {
	if !m.enabled {
		return true, nil
	}

	u, err := m.usage(ctx, userID)
	if err != nil {
		return false, err
	}
	if u.ActiveJobs >= m.tierLimits(tier).ConcurrentJobs {
		return false, nil
	}
	u.ActiveJobs++
	if err := m.store.Put(ctx, u); err != nil {
		return false, fmt.Errorf("failed to persist job slot: %w", err)
	}
	return true, nil
}

// ReleaseJobSlot returns a concurrent-job slot. Must be balanced with
// AcquireJobSlot on every exit path.
func (m *QuotaManager) ReleaseJobSlot(ctx context.Context, userID string) error {
	return m.update(ctx, userID, func(u *types.QuotaUsage) {
		if u.ActiveJobs > 0 {
			u.ActiveJobs--
		}
	})
}

// Usage returns the user's current usage with periods rolled.
func (m *QuotaManager) Usage(ctx context.Context, userID string) (*types.QuotaUsage, error) {
	return m.usage(ctx, userID)
}

// update applies fn to the user's record and persists it. No-op when
// disabled.
func (m *QuotaManager) update(ctx context.Context, userID string, fn func(*types.QuotaUsage)) error {
	if !m.enabled {
		return nil
	}

	u, err := m.usage(ctx, userID)
	if err != nil {
		return err
	}
	fn(u)
	if err := m.store.Put(ctx, u); err != nil {
		return fmt.Errorf("failed to persist quota usage: %w", err)
	}
	return nil
}
