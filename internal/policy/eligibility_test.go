package policy

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/resolvely-ai/automation-engine/internal/model"
)

func TestEvaluate(t *testing.T) {
	now := time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)
	pol := TenantPolicy{
		AutoApprovalWindow: 30 * 24 * time.Hour,
		MaxFollowUps:       3,
	}

	order := func(status model.OrderStatus, age time.Duration) *model.Order {
		return &model.Order{
			ID:        "ord_1",
			Reference: "A-1001",
			Status:    status,
			PlacedAt:  now.Add(-age),
		}
	}

	tests := []struct {
		name    string
		intent  model.IntentType
		order   *model.Order
		outcome Outcome
		rule    string
	}{
		{
			name:    "return within window approves",
			intent:  model.IntentReturn,
			order:   order(model.OrderStatusFulfilled, 10*24*time.Hour),
			outcome: OutcomeApprove,
			rule:    "within_policy",
		},
		{
			name:    "promo refund within window approves",
			intent:  model.IntentPromoRefund,
			order:   order(model.OrderStatusPaid, 5*24*time.Hour),
			outcome: OutcomeApprove,
			rule:    "within_policy",
		},
		{
			name:    "order outside window escalates, never denies",
			intent:  model.IntentReturn,
			order:   order(model.OrderStatusFulfilled, 45*24*time.Hour),
			outcome: OutcomeEscalate,
			rule:    "outside_auto_approval_window",
		},
		{
			name:    "missing order escalates",
			intent:  model.IntentReturn,
			order:   nil,
			outcome: OutcomeEscalate,
			rule:    "order_not_found",
		},
		{
			name:    "already refunded order denies",
			intent:  model.IntentReturn,
			order:   order(model.OrderStatusRefunded, 2*24*time.Hour),
			outcome: OutcomeDeny,
			rule:    "order_already_terminal",
		},
		{
			name:    "cancelled order denies",
			intent:  model.IntentPromoRefund,
			order:   order(model.OrderStatusCancelled, 2*24*time.Hour),
			outcome: OutcomeDeny,
			rule:    "order_already_terminal",
		},
		{
			name:    "subscription change approves without an order",
			intent:  model.IntentSubscriptionPause,
			order:   nil,
			outcome: OutcomeApprove,
			rule:    "subscription_change",
		},
		{
			name:    "subscription cancel approves without an order",
			intent:  model.IntentSubscriptionCancel,
			order:   nil,
			outcome: OutcomeApprove,
			rule:    "subscription_change",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			verdict := Evaluate(tt.intent, tt.order, pol, now)
			assert.Equal(t, tt.outcome, verdict.Outcome)
			assert.Equal(t, tt.rule, verdict.Rule)
			assert.NotEmpty(t, verdict.Reason)
		})
	}
}

func TestEvaluateDeterministic(t *testing.T) {
	now := time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)
	pol := TenantPolicy{AutoApprovalWindow: 30 * 24 * time.Hour}
	order := &model.Order{Reference: "A-1", Status: model.OrderStatusPaid, PlacedAt: now.Add(-24 * time.Hour)}

	first := Evaluate(model.IntentReturn, order, pol, now)
	for i := 0; i < 10; i++ {
		assert.Equal(t, first, Evaluate(model.IntentReturn, order, pol, now))
	}
}

func TestEvaluateZeroWindowSkipsAgeCheck(t *testing.T) {
	now := time.Now().UTC()
	order := &model.Order{Reference: "A-1", Status: model.OrderStatusPaid, PlacedAt: now.Add(-400 * 24 * time.Hour)}

	verdict := Evaluate(model.IntentReturn, order, TenantPolicy{}, now)
	assert.Equal(t, OutcomeApprove, verdict.Outcome)
}

func TestRequiredFields(t *testing.T) {
	base := TenantPolicy{}
	assert.Equal(t, []string{model.FieldOrderReference, model.FieldReason}, base.RequiredFields(model.IntentReturn))
	assert.Equal(t, []string{model.FieldOrderReference, model.FieldPromoCode}, base.RequiredFields(model.IntentPromoRefund))
	assert.Equal(t, []string{model.FieldSubscriptionID}, base.RequiredFields(model.IntentSubscriptionPause))
	assert.Nil(t, base.RequiredFields(model.IntentUnknown))

	strict := TenantPolicy{EvidenceRequired: true}
	assert.Contains(t, strict.RequiredFields(model.IntentReturn), model.FieldEvidence)
}

func TestNeedsOrder(t *testing.T) {
	assert.True(t, NeedsOrder(model.IntentReturn))
	assert.True(t, NeedsOrder(model.IntentPromoRefund))
	assert.False(t, NeedsOrder(model.IntentSubscriptionPause))
	assert.False(t, NeedsOrder(model.IntentSubscriptionResume))
	assert.False(t, NeedsOrder(model.IntentSubscriptionCancel))
	assert.False(t, NeedsOrder(model.IntentUnknown))
}
