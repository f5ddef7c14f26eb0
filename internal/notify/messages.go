package notify

import (
	"fmt"
	"strings"

	"github.com/resolvely-ai/automation-engine/internal/model"
)

func fieldLabel(name string) string {
	switch name {
	case model.FieldOrderReference:
		return "your order number"
	case model.FieldReason:
		return "the reason for your request"
	case model.FieldEvidence:
		return "a photo or description of the issue"
	case model.FieldPromoCode:
		return "the promo code you tried to use"
	case model.FieldSubscriptionID:
		return "your subscription ID"
	}
	return strings.ReplaceAll(name, "_", " ")
}

func fieldList(fields []string) string {
	labels := make([]string, len(fields))
	for i, f := range fields {
		labels[i] = "- " + fieldLabel(f)
	}
	return strings.Join(labels, "\n")
}

// InfoRequest asks the customer for the still-missing fields. The same
// template serves the initial ask and every follow-up.
func InfoRequest(conv *model.Conversation) Notification {
	return Notification{
		Kind:     KindInfoRequest,
		TenantID: conv.TenantID,
		To:       conv.CustomerContact,
		Subject:  "We need a little more information",
		Body: fmt.Sprintf(
			"Thanks for reaching out. To process your request we still need:\n\n%s\n\nJust reply to this email with the details.",
			fieldList(conv.MissingFields)),
		TemplateTag: "info-request",
	}
}

// Approval confirms the automated action to the customer.
func Approval(conv *model.Conversation, detail string) Notification {
	return Notification{
		Kind:        KindApproval,
		TenantID:    conv.TenantID,
		To:          conv.CustomerContact,
		Subject:     "Your request has been processed",
		Body:        fmt.Sprintf("Good news! %s\n\nIf anything looks off, just reply to this email.", detail),
		TemplateTag: "approval",
	}
}

// Denial tells the customer why the request could not be auto-processed.
func Denial(conv *model.Conversation, reason string) Notification {
	return Notification{
		Kind:        KindDenial,
		TenantID:    conv.TenantID,
		To:          conv.CustomerContact,
		Subject:     "About your recent request",
		Body:        fmt.Sprintf("We looked into your request: %s\n\nReply to this email if you have questions.", reason),
		TemplateTag: "denial",
	}
}

// Escalation tells the customer a person will take over.
func Escalation(conv *model.Conversation) Notification {
	return Notification{
		Kind:        KindEscalation,
		TenantID:    conv.TenantID,
		To:          conv.CustomerContact,
		Subject:     "We're on it",
		Body:        "Your request needs a closer look, so a member of our team will follow up with you shortly.",
		TemplateTag: "escalation",
	}
}

// ActionFailed apologizes generically; the failure detail stays internal.
func ActionFailed(conv *model.Conversation) Notification {
	return Notification{
		Kind:        KindActionFailed,
		TenantID:    conv.TenantID,
		To:          conv.CustomerContact,
		Subject:     "About your recent request",
		Body:        "We ran into a problem processing your request. Our team has been notified and will follow up with you directly.",
		TemplateTag: "action-failed",
	}
}

// UsageWarning alerts the tenant at 90% of a window limit. Warning and
// cutoff share the usage-limit template but stay distinct kinds so tenant
// reporting can tell them apart.
func UsageWarning(tenantID, contact, service string, count, limit int) Notification {
	return Notification{
		Kind:     KindWarning,
		TenantID: tenantID,
		To:       contact,
		Subject:  "Automation credits running low",
		Body: fmt.Sprintf(
			"Your %s automation has used %d of %d actions in the current window. Consider upgrading your plan to avoid interruptions.",
			service, count, limit),
		TemplateTag: "usage-limit",
	}
}

// UsageCutoff alerts the tenant that automation is paused for the window.
func UsageCutoff(tenantID, contact, service string, limit int) Notification {
	return Notification{
		Kind:     KindCutoff,
		TenantID: tenantID,
		To:       contact,
		Subject:  "Automation credits exhausted",
		Body: fmt.Sprintf(
			"Your %s automation has reached its limit of %d actions for the current window. Automated processing is paused until the window resets or your plan is upgraded.",
			service, limit),
		TemplateTag: "usage-limit",
	}
}
