// Package notify dispatches outbound notifications at most once per logical
// event key, idempotently across retries.
package notify

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/resolvely-ai/automation-engine/internal/collab"
	"github.com/resolvely-ai/automation-engine/pkg/logger"
	"github.com/resolvely-ai/automation-engine/pkg/metrics"
)

// Kind is the class of outbound notification.
type Kind string

const (
	KindInfoRequest  Kind = "info_request"
	KindApproval     Kind = "approval"
	KindDenial       Kind = "denial"
	KindEscalation   Kind = "escalation"
	KindActionFailed Kind = "action_failed"
	KindWarning      Kind = "warning"
	KindCutoff       Kind = "cutoff"
)

// Notification is one outbound message.
type Notification struct {
	Kind        Kind
	TenantID    string
	To          string
	Subject     string
	Body        string
	TemplateTag string
}

// ConversationKey identifies a conversation-scoped logical event. attempt
// distinguishes successive information requests on the same thread.
func ConversationKey(conversationID string, kind Kind, attempt int) string {
	return fmt.Sprintf("conversation:%s:%s:%d", conversationID, kind, attempt)
}

// UsageKey identifies a usage-window-scoped logical event.
func UsageKey(tenantID, service string, kind Kind, windowStart time.Time) string {
	return fmt.Sprintf("usage:%s:%s:%s:%d", tenantID, service, kind, windowStart.UTC().Unix())
}

// Dispatcher delivers notifications with per-key at-most-once semantics.
// A transport failure never marks the key sent, so a retry stays possible.
type Dispatcher struct {
	sender collab.EmailSender
	logger *logger.Logger

	mu       sync.Mutex
	sent     map[string]time.Time
	inflight map[string]struct{}
}

// NewDispatcher creates a dispatcher over the given sender.
func NewDispatcher(sender collab.EmailSender, log *logger.Logger) *Dispatcher {
	return &Dispatcher{
		sender:   sender,
		logger:   log,
		sent:     make(map[string]time.Time),
		inflight: make(map[string]struct{}),
	}
}

// SendOnce delivers n unless the key was already delivered (or is being
// delivered concurrently). Returns true when this call performed the
// delivery, false on suppression. The key is recorded only after the sender
// confirms success.
func (d *Dispatcher) SendOnce(ctx context.Context, key string, n Notification) (bool, error) {
	d.mu.Lock()
	if _, done := d.sent[key]; done {
		d.mu.Unlock()
		metrics.NotificationsTotal.WithLabelValues(string(n.Kind), "suppressed").Inc()
		return false, nil
	}
	if _, busy := d.inflight[key]; busy {
		d.mu.Unlock()
		metrics.NotificationsTotal.WithLabelValues(string(n.Kind), "suppressed").Inc()
		return false, nil
	}
	d.inflight[key] = struct{}{}
	d.mu.Unlock()

	err := d.sender.Send(ctx, n.TenantID, n.To, n.Subject, n.Body, n.TemplateTag)

	d.mu.Lock()
	delete(d.inflight, key)
	if err == nil {
		d.sent[key] = time.Now()
	}
	d.mu.Unlock()

	if err != nil {
		d.logger.Warn("notification delivery failed",
			zap.String("key", key),
			zap.String("kind", string(n.Kind)),
			zap.String("tenant_id", n.TenantID),
			zap.Error(err),
		)
		metrics.NotificationsTotal.WithLabelValues(string(n.Kind), "failed").Inc()
		return false, fmt.Errorf("failed to deliver %s notification: %w", n.Kind, err)
	}

	metrics.NotificationsTotal.WithLabelValues(string(n.Kind), "sent").Inc()
	return true, nil
}

// Delivered reports whether a key has been successfully delivered.
func (d *Dispatcher) Delivered(key string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, done := d.sent[key]
	return done
}
