// Package quota gates automated actions behind per-tenant, per-service usage
// counters with daily and monthly rolling windows.
package quota

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/resolvely-ai/automation-engine/internal/audit"
	"github.com/resolvely-ai/automation-engine/internal/model"
	"github.com/resolvely-ai/automation-engine/internal/notify"
	"github.com/resolvely-ai/automation-engine/internal/store"
	"github.com/resolvely-ai/automation-engine/pkg/logger"
	"github.com/resolvely-ai/automation-engine/pkg/metrics"
)

// Reason explains a gate decision.
type Reason string

const (
	ReasonOK          Reason = "ok"
	ReasonApproaching Reason = "approaching"
	ReasonExhausted   Reason = "exhausted"
	ReasonUnlimited   Reason = "unlimited"
	ReasonFailOpen    Reason = "fail_open"
)

// Decision is the outcome of a gate check.
type Decision struct {
	Allowed      bool   `json:"allowed"`
	Reason       Reason `json:"reason"`
	DailyCount   int    `json:"daily_count"`
	MonthlyCount int    `json:"monthly_count"`
	DailyLimit   int    `json:"daily_limit"`
	MonthlyLimit int    `json:"monthly_limit"`
}

// Limits are the effective bounds for a (tenant, service) pair. The daily
// limit is a platform constant; the monthly limit derives from the tenant's
// purchased allotment.
type Limits struct {
	Daily     int
	Monthly   int
	Unlimited bool
}

// LimitResolver resolves effective limits for a tenant's plan.
type LimitResolver func(tenantID, service string) Limits

// ContactResolver resolves the tenant's billing contact for limit emails.
type ContactResolver func(tenantID string) string

// Tracker gates automated actions. The check-and-increment runs as a single
// atomic store mutation, so concurrent requests can never overshoot a limit.
type Tracker struct {
	store      store.UsageStore
	limits     LimitResolver
	dispatcher *notify.Dispatcher
	trail      audit.Trail
	contact    ContactResolver
	logger     *logger.Logger
	clock      func() time.Time
}

// NewTracker creates a quota tracker.
func NewTracker(
	usage store.UsageStore,
	limits LimitResolver,
	dispatcher *notify.Dispatcher,
	trail audit.Trail,
	contact ContactResolver,
	log *logger.Logger,
) *Tracker {
	return &Tracker{
		store:      usage,
		limits:     limits,
		dispatcher: dispatcher,
		trail:      trail,
		contact:    contact,
		logger:     log,
		clock:      time.Now,
	}
}

// WithClock overrides the tracker's time source. Intended for tests.
func (t *Tracker) WithClock(clock func() time.Time) *Tracker {
	t.clock = clock
	return t
}

// CheckAndConsume decides whether one automated action may proceed and, when
// allowed, consumes one unit from both windows. A store outage fails open:
// a tracking problem must not block customer-facing automation, but the event
// is logged for reconciliation.
func (t *Tracker) CheckAndConsume(ctx context.Context, tenantID, service string) Decision {
	now := t.clock()
	limits := t.limits(tenantID, service)

	var (
		decision    Decision
		needWarning bool
		needCutoff  bool
	)

	rec, err := t.store.Mutate(ctx, tenantID, service, now, func(rec *model.UsageRecord) error {
		rollover(rec, now, limits)

		if limits.Unlimited {
			// Usage is still recorded for observability.
			rec.DailyCount++
			rec.MonthlyCount++
			decision = snapshot(rec, limits, true, ReasonUnlimited)
			return nil
		}

		if rec.DailyCount >= limits.Daily || rec.MonthlyCount >= limits.Monthly {
			rec.LimitExceeded = true
			needCutoff = !rec.CutoffSent
			decision = snapshot(rec, limits, false, ReasonExhausted)
			return nil
		}

		rec.DailyCount++
		rec.MonthlyCount++

		reason := ReasonOK
		if approaching(rec.DailyCount, limits.Daily) || approaching(rec.MonthlyCount, limits.Monthly) {
			reason = ReasonApproaching
			needWarning = !rec.WarningSent
		}
		decision = snapshot(rec, limits, true, reason)
		return nil
	})
	if err != nil {
		t.logger.Error("usage store unreachable, failing open",
			zap.String("tenant_id", tenantID),
			zap.String("service", service),
			zap.Error(err),
		)
		metrics.QuotaDecisionsTotal.WithLabelValues(service, string(ReasonFailOpen)).Inc()
		return Decision{Allowed: true, Reason: ReasonFailOpen,
			DailyLimit: limits.Daily, MonthlyLimit: limits.Monthly}
	}

	metrics.QuotaDecisionsTotal.WithLabelValues(service, string(decision.Reason)).Inc()

	if needCutoff {
		t.notifyLimit(ctx, rec, limits, notify.KindCutoff)
	} else if needWarning {
		t.notifyLimit(ctx, rec, limits, notify.KindWarning)
	}

	if !decision.Allowed {
		t.trail.Record(ctx, model.AuditEntry{
			TenantID: tenantID,
			Kind:     model.AuditQuotaDecision,
			Outcome:  string(ReasonExhausted),
			Reason:   "usage limit reached",
			Metadata: map[string]any{
				"service":       service,
				"daily_count":   rec.DailyCount,
				"monthly_count": rec.MonthlyCount,
				"daily_limit":   limits.Daily,
				"monthly_limit": limits.Monthly,
			},
		})
	}

	return decision
}

// notifyLimit delivers a warning or cutoff email at most once per window.
// The sticky sent flag commits only after the dispatcher confirms delivery,
// so a transport failure leaves the retry possible.
func (t *Tracker) notifyLimit(ctx context.Context, rec *model.UsageRecord, limits Limits, kind notify.Kind) {
	contact := t.contact(rec.TenantID)
	if contact == "" {
		return
	}

	// The window closer to its limit is the binding one; it keys the event
	// and supplies the numbers in the email.
	windowStart := rec.MonthlyWindowStart
	count, limit := rec.MonthlyCount, limits.Monthly
	if limit <= 0 || (limits.Daily > 0 && rec.DailyCount*limits.Monthly >= rec.MonthlyCount*limits.Daily) {
		windowStart = rec.DailyWindowStart
		count, limit = rec.DailyCount, limits.Daily
	}

	var (
		n         notify.Notification
		auditKind model.AuditKind
	)
	if kind == notify.KindCutoff {
		n = notify.UsageCutoff(rec.TenantID, contact, rec.Service, limit)
		auditKind = model.AuditUsageCutoff
	} else {
		n = notify.UsageWarning(rec.TenantID, contact, rec.Service, count, limit)
		auditKind = model.AuditUsageWarning
	}

	key := notify.UsageKey(rec.TenantID, rec.Service, kind, windowStart)
	sent, err := t.dispatcher.SendOnce(ctx, key, n)
	if err != nil || !sent {
		return
	}

	if _, err := t.store.Mutate(ctx, rec.TenantID, rec.Service, t.clock(), func(r *model.UsageRecord) error {
		if kind == notify.KindCutoff {
			r.CutoffSent = true
		} else {
			r.WarningSent = true
		}
		return nil
	}); err != nil {
		t.logger.Error("failed to persist limit notification flag",
			zap.String("tenant_id", rec.TenantID),
			zap.String("service", rec.Service),
			zap.String("kind", string(kind)),
			zap.Error(err),
		)
	}

	t.trail.Record(ctx, model.AuditEntry{
		TenantID: rec.TenantID,
		Kind:     auditKind,
		Outcome:  "sent",
		Metadata: map[string]any{
			"service": rec.Service,
			"count":   count,
			"limit":   limit,
		},
	})
}

// Reset zeroes all counters and clears sticky flags for a (tenant, service)
// pair. Window starts are left where they are.
func (t *Tracker) Reset(ctx context.Context, tenantID, service string) error {
	_, err := t.store.Mutate(ctx, tenantID, service, t.clock(), func(rec *model.UsageRecord) error {
		rec.DailyCount = 0
		rec.MonthlyCount = 0
		rec.LimitExceeded = false
		rec.WarningSent = false
		rec.CutoffSent = false
		return nil
	})
	if err != nil {
		return err
	}

	t.trail.Record(ctx, model.AuditEntry{
		TenantID: tenantID,
		Kind:     model.AuditQuotaDecision,
		Outcome:  "reset",
		Reason:   "administrative reset",
		Metadata: map[string]any{"service": service},
	})
	return nil
}

// Usage returns the current record and effective limits, with windows rolled
// forward so the counters reflect the current windows.
func (t *Tracker) Usage(ctx context.Context, tenantID, service string) (*model.UsageRecord, Limits, error) {
	limits := t.limits(tenantID, service)
	rec, err := t.store.Mutate(ctx, tenantID, service, t.clock(), func(rec *model.UsageRecord) error {
		rollover(rec, t.clock(), limits)
		return nil
	})
	if err != nil {
		return nil, limits, err
	}
	return rec, limits, nil
}

// rollover zeroes counters whose window the wall clock has left, advancing
// the window start to the current boundary. This runs before any limit is
// consulted.
func rollover(rec *model.UsageRecord, now time.Time, limits Limits) {
	daily := model.DailyWindow(now)
	monthly := model.MonthlyWindow(now)

	dailyRolled := daily.After(rec.DailyWindowStart)
	monthlyRolled := monthly.After(rec.MonthlyWindowStart)

	if dailyRolled {
		rec.DailyCount = 0
		rec.DailyWindowStart = daily
	}
	if monthlyRolled {
		rec.MonthlyCount = 0
		rec.MonthlyWindowStart = monthly
	}

	// Sticky flags clear when the binding constraint can no longer hold:
	// a monthly rollover always clears them, a daily rollover only when the
	// monthly counter is still under its limit.
	if monthlyRolled || (dailyRolled && (limits.Unlimited || rec.MonthlyCount < limits.Monthly)) {
		rec.LimitExceeded = false
		rec.WarningSent = false
		rec.CutoffSent = false
	}
}

func approaching(count, limit int) bool {
	if limit <= 0 {
		return false
	}
	return count*10 >= limit*9
}

func snapshot(rec *model.UsageRecord, limits Limits, allowed bool, reason Reason) Decision {
	return Decision{
		Allowed:      allowed,
		Reason:       reason,
		DailyCount:   rec.DailyCount,
		MonthlyCount: rec.MonthlyCount,
		DailyLimit:   limits.Daily,
		MonthlyLimit: limits.Monthly,
	}
}
