package model

// IntentType is the closed set of request categories the engine automates.
type IntentType string

const (
	IntentReturn             IntentType = "return"
	IntentPromoRefund        IntentType = "promo_refund"
	IntentSubscriptionPause  IntentType = "subscription_pause"
	IntentSubscriptionResume IntentType = "subscription_resume"
	IntentSubscriptionCancel IntentType = "subscription_cancel"
	IntentUnknown            IntentType = "unknown"
)

// Intents lists every actionable intent, in classifier schema order.
func Intents() []IntentType {
	return []IntentType{
		IntentReturn,
		IntentPromoRefund,
		IntentSubscriptionPause,
		IntentSubscriptionResume,
		IntentSubscriptionCancel,
	}
}

// ParseIntent maps a classifier label to an IntentType, IntentUnknown when
// the label falls outside the closed set.
func ParseIntent(label string) IntentType {
	for _, it := range Intents() {
		if string(it) == label {
			return it
		}
	}
	return IntentUnknown
}

// Service returns the quota service bucket an intent is gated under.
func (t IntentType) Service() string {
	switch t {
	case IntentReturn:
		return "returns"
	case IntentPromoRefund:
		return "promo_refunds"
	case IntentSubscriptionPause, IntentSubscriptionResume, IntentSubscriptionCancel:
		return "subscription_changes"
	}
	return "unclassified"
}

// Well-known field names the engine collects from customers.
const (
	FieldOrderReference = "order_reference"
	FieldReason         = "reason"
	FieldEvidence       = "evidence"
	FieldPromoCode      = "promo_code"
	FieldSubscriptionID = "subscription_id"
)

// Extraction is the typed result of running the extractor over a message.
type Extraction struct {
	Intent     IntentType        `json:"intent"`
	Confidence int               `json:"confidence"`
	Fields     map[string]string `json:"fields,omitempty"`
	Source     string            `json:"source"`
}
