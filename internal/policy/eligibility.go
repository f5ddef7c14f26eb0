// Package policy holds the eligibility rules for automated resolution. The
// evaluator is a pure function of its inputs so every decision is
// reproducible; all I/O (order lookup) happens before it is called.
package policy

import (
	"fmt"
	"time"

	"github.com/resolvely-ai/automation-engine/internal/model"
)

// Outcome is the evaluator's decision.
type Outcome string

const (
	OutcomeApprove  Outcome = "approve"
	OutcomeDeny     Outcome = "deny"
	OutcomeEscalate Outcome = "escalate"
)

// Verdict is the decision plus the rule that produced it.
type Verdict struct {
	Outcome Outcome `json:"outcome"`
	Rule    string  `json:"rule"`
	Reason  string  `json:"reason"`
}

// TenantPolicy is the tenant's automation configuration.
type TenantPolicy struct {
	// AutoApprovalWindow bounds how long after the transaction an action
	// may still be auto-approved. Older requests always go to a human.
	AutoApprovalWindow time.Duration

	// MaxFollowUps caps information requests per conversation.
	MaxFollowUps int

	// EvidenceRequired adds an evidence field to return requests.
	EvidenceRequired bool
}

// RequiredFields lists the fields a request must carry before it can be
// evaluated.
func (p TenantPolicy) RequiredFields(intent model.IntentType) []string {
	switch intent {
	case model.IntentReturn:
		fields := []string{model.FieldOrderReference, model.FieldReason}
		if p.EvidenceRequired {
			fields = append(fields, model.FieldEvidence)
		}
		return fields
	case model.IntentPromoRefund:
		return []string{model.FieldOrderReference, model.FieldPromoCode}
	case model.IntentSubscriptionPause, model.IntentSubscriptionResume, model.IntentSubscriptionCancel:
		return []string{model.FieldSubscriptionID}
	}
	return nil
}

// NeedsOrder reports whether the intent requires an order lookup before
// evaluation.
func NeedsOrder(intent model.IntentType) bool {
	switch intent {
	case model.IntentReturn, model.IntentPromoRefund:
		return true
	}
	return false
}

// Evaluate decides approve, deny, or escalate for a fully-populated request.
// order is nil when the lookup found nothing; now is passed in so the result
// is deterministic.
func Evaluate(intent model.IntentType, order *model.Order, p TenantPolicy, now time.Time) Verdict {
	if !NeedsOrder(intent) {
		return Verdict{
			Outcome: OutcomeApprove,
			Rule:    "subscription_change",
			Reason:  "subscription changes execute directly against the billing platform",
		}
	}

	if order == nil {
		return Verdict{
			Outcome: OutcomeEscalate,
			Rule:    "order_not_found",
			Reason:  "the referenced order could not be located",
		}
	}

	// Age failures always go to a human, never a silent deny.
	if p.AutoApprovalWindow > 0 && now.Sub(order.PlacedAt) > p.AutoApprovalWindow {
		return Verdict{
			Outcome: OutcomeEscalate,
			Rule:    "outside_auto_approval_window",
			Reason: fmt.Sprintf("order %s is older than the %d-day auto-approval window",
				order.Reference, int(p.AutoApprovalWindow.Hours()/24)),
		}
	}

	if order.Status.Terminal() {
		return Verdict{
			Outcome: OutcomeDeny,
			Rule:    "order_already_terminal",
			Reason:  fmt.Sprintf("order %s is already %s; no further action applies", order.Reference, order.Status),
		}
	}

	return Verdict{
		Outcome: OutcomeApprove,
		Rule:    "within_policy",
		Reason:  "request satisfies the tenant's automation policy",
	}
}
