package model

import (
	"time"
)

// AuditKind categorizes activity-trail entries.
type AuditKind string

const (
	AuditStateTransition AuditKind = "state_transition"
	AuditQuotaDecision   AuditKind = "quota_decision"
	AuditUsageWarning    AuditKind = "usage_warning"
	AuditUsageCutoff     AuditKind = "usage_cutoff"
	AuditActionExecuted  AuditKind = "action_executed"
	AuditActionFailed    AuditKind = "action_failed"
	AuditNotification    AuditKind = "notification"
)

// AuditEntry is one append-only activity-trail record. It carries enough
// metadata to reconstruct the decision for a human reviewer.
type AuditEntry struct {
	ID             string         `json:"id"`
	TenantID       string         `json:"tenant_id"`
	ConversationID string         `json:"conversation_id,omitempty"`
	Kind           AuditKind      `json:"kind"`
	Intent         IntentType     `json:"intent,omitempty"`
	Confidence     int            `json:"confidence,omitempty"`
	Rule           string         `json:"rule,omitempty"`
	Outcome        string         `json:"outcome"`
	Reason         string         `json:"reason,omitempty"`
	Metadata       map[string]any `json:"metadata,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
}
