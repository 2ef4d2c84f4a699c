package types

import "time"

// Tier identifies a user's subscription level, which drives quota limits.
type Tier string

// Subscription tiers.
const (
	TierFree       Tier = "free"
	TierPremium    Tier = "premium"
	TierEnterprise Tier = "enterprise"
)

// TierLimits defines the absolute quotas for one subscription tier.
type TierLimits struct {
	DailyMinutes    float64 `json:"daily_minutes"`      // Audio minutes transcribable per day
	MonthlyMinutes  float64 `json:"monthly_minutes"`    // Audio minutes transcribable per month
	MaxFileSizeMB   int64   `json:"max_file_size_mb"`   // Largest accepted upload
	ConcurrentJobs  int     `json:"concurrent_jobs"`    // Jobs allowed to run at once
	APICallsPerHour int     `json:"api_calls_per_hour"` // Hard API ceiling on top of rate classes
	StorageGB       float64 `json:"storage_gb"`         // Total stored media and artifacts
}

// DefaultTierLimits returns the built-in limits table. Deployments
// override individual tiers through configuration.
func DefaultTierLimits() map[Tier]TierLimits {
	return map[Tier]TierLimits{
		TierFree: {
			DailyMinutes:    60,
			MonthlyMinutes:  300,
			MaxFileSizeMB:   100,
			ConcurrentJobs:  1,
			APICallsPerHour: 100,
			StorageGB:       1,
		},
		TierPremium: {
			DailyMinutes:    600,
			MonthlyMinutes:  6000,
			MaxFileSizeMB:   1024,
			ConcurrentJobs:  5,
			APICallsPerHour: 1000,
			StorageGB:       50,
		},
		TierEnterprise: {
			DailyMinutes:    6000,
			MonthlyMinutes:  100000,
			MaxFileSizeMB:   5120,
			ConcurrentJobs:  20,
			APICallsPerHour: 10000,
			StorageGB:       500,
		},
	}
}

// QuotaUsage tracks a user's consumption against their tier limits.
// Day and hour counters reset lazily when the recorded period rolls over.
type QuotaUsage struct {
	UserID           string  `json:"user_id"`
	MinutesUsedToday float64 `json:"minutes_used_today"`
	MinutesUsedMonth float64 `json:"minutes_used_month"`
	StorageUsedGB    float64 `json:"storage_used_gb"`
	APICallsThisHour int     `json:"api_calls_this_hour"`
	ActiveJobs       int     `json:"active_jobs"`

	// Period markers for lazy resets
	LastResetDay  string `json:"last_reset_day"`  // YYYY-MM-DD in UTC
	LastResetHour string `json:"last_reset_hour"` // YYYY-MM-DDTHH in UTC
}

// Quota violation codes. A quota check reports every failing rule, never
// only the first.
const (
	ViolationDailyMinutes   = "daily_minutes_exceeded"
	ViolationMonthlyMinutes = "monthly_minutes_exceeded"
	ViolationFileSize       = "file_size_exceeded"
	ViolationConcurrentJobs = "concurrent_jobs_exceeded"
	ViolationAPICalls       = "api_calls_exceeded"
	ViolationStorage        = "storage_exceeded"
)

// RollPeriods lazily resets day and hour counters when the current time
// has moved past the recorded period markers.
func (u *QuotaUsage) RollPeriods(now time.Time) {
	now = now.UTC()
	day := now.Format("2006-01-02")
	hour := now.Format("2006-01-02T15")

	if u.LastResetDay != day {
		prevDay := u.LastResetDay
		u.MinutesUsedToday = 0
		u.LastResetDay = day
		if prevDay == "" || monthOf(prevDay) != monthOf(day) {
			u.MinutesUsedMonth = 0
		}
	}
	if u.LastResetHour != hour {
		u.APICallsThisHour = 0
		u.LastResetHour = hour
	}
}

func monthOf(day string) string {
	if len(day) >= 7 {
		return day[:7]
	}
	return day
}

// QuotaRemaining summarizes what a user has left, returned alongside
// violation lists so callers can size their next request.
type QuotaRemaining struct {
	DailyMinutes   float64 `json:"daily_minutes"`
	MonthlyMinutes float64 `json:"monthly_minutes"`
	StorageGB      float64 `json:"storage_gb"`
	ConcurrentJobs int     `json:"concurrent_jobs"`
	APICalls       int     `json:"api_calls"`
}
