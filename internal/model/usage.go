package model

import (
	"time"
)

// UsageRecord tracks automated-action consumption for one (tenant, service)
// pair across two rolling windows. Counters are monotonic within a window and
// reset exactly when wall-clock time crosses into a new window.
type UsageRecord struct {
	TenantID string `json:"tenant_id"`
	Service  string `json:"service"`

	DailyCount   int `json:"daily_count"`
	MonthlyCount int `json:"monthly_count"`

	DailyWindowStart   time.Time `json:"daily_window_start"`
	MonthlyWindowStart time.Time `json:"monthly_window_start"`

	// LimitExceeded is sticky until an administrative reset.
	LimitExceeded bool `json:"limit_exceeded"`

	// WarningSent and CutoffSent are sticky per window and gate
	// notification idempotency. They are set only after delivery succeeds.
	WarningSent bool `json:"warning_sent"`
	CutoffSent  bool `json:"cutoff_sent"`

	UpdatedAt time.Time `json:"updated_at"`
}

// DailyWindow truncates t to the start of its UTC day.
func DailyWindow(t time.Time) time.Time {
	return t.UTC().Truncate(24 * time.Hour)
}

// MonthlyWindow truncates t to the first of its UTC month.
func MonthlyWindow(t time.Time) time.Time {
	u := t.UTC()
	return time.Date(u.Year(), u.Month(), 1, 0, 0, 0, 0, time.UTC)
}
