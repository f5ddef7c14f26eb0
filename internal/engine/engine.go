// Package engine owns customer request conversations end-to-end: it
// classifies inbound messages, collects missing information across
// follow-ups, gates execution on the usage quota, evaluates eligibility, and
// drives the terminal outcome.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/resolvely-ai/automation-engine/internal/action"
	"github.com/resolvely-ai/automation-engine/internal/audit"
	"github.com/resolvely-ai/automation-engine/internal/collab"
	"github.com/resolvely-ai/automation-engine/internal/extract"
	"github.com/resolvely-ai/automation-engine/internal/model"
	"github.com/resolvely-ai/automation-engine/internal/notify"
	"github.com/resolvely-ai/automation-engine/internal/policy"
	"github.com/resolvely-ai/automation-engine/internal/quota"
	"github.com/resolvely-ai/automation-engine/internal/store"
	"github.com/resolvely-ai/automation-engine/pkg/logger"
	"github.com/resolvely-ai/automation-engine/pkg/metrics"
)

// PolicyResolver resolves the automation policy for a tenant.
type PolicyResolver func(tenantID string) policy.TenantPolicy

// Engine is the conversation manager.
type Engine struct {
	convs      store.ConversationStore
	tracker    *quota.Tracker
	extractor  *extract.Extractor
	orders     collab.OrderLookup
	actions    *action.Executor
	dispatcher *notify.Dispatcher
	trail      audit.Trail
	policies   PolicyResolver
	logger     *logger.Logger
	clock      func() time.Time

	lookupTimeout time.Duration

	// Per-thread serialization: messages on one thread apply in arrival
	// order, different threads proceed concurrently.
	mu      sync.Mutex
	threads map[string]*sync.Mutex
}

// New creates an engine.
func New(
	convs store.ConversationStore,
	tracker *quota.Tracker,
	extractor *extract.Extractor,
	orders collab.OrderLookup,
	actions *action.Executor,
	dispatcher *notify.Dispatcher,
	trail audit.Trail,
	policies PolicyResolver,
	lookupTimeout time.Duration,
	log *logger.Logger,
) *Engine {
	if lookupTimeout <= 0 {
		lookupTimeout = 10 * time.Second
	}
	return &Engine{
		convs:         convs,
		tracker:       tracker,
		extractor:     extractor,
		orders:        orders,
		actions:       actions,
		dispatcher:    dispatcher,
		trail:         trail,
		policies:      policies,
		logger:        log,
		clock:         time.Now,
		lookupTimeout: lookupTimeout,
		threads:       make(map[string]*sync.Mutex),
	}
}

// WithClock overrides the engine's time source. Intended for tests.
func (e *Engine) WithClock(clock func() time.Time) *Engine {
	e.clock = clock
	return e
}

func (e *Engine) threadLock(tenantID, threadID string) *sync.Mutex {
	key := tenantID + "/" + threadID
	e.mu.Lock()
	defer e.mu.Unlock()
	lock, ok := e.threads[key]
	if !ok {
		lock = &sync.Mutex{}
		e.threads[key] = lock
	}
	return lock
}

// HandleMessage applies one inbound customer message to its thread's
// conversation, creating the conversation on first contact. A retryable
// collaborator failure returns an error without mutating state, so the
// message can be redelivered.
func (e *Engine) HandleMessage(ctx context.Context, tenantID string, msg *model.InboundMessage) (*model.Conversation, error) {
	lock := e.threadLock(tenantID, msg.ThreadID)
	lock.Lock()
	defer lock.Unlock()

	conv, err := e.convs.GetByThread(ctx, tenantID, msg.ThreadID)
	switch {
	case errors.Is(err, store.ErrNotFound):
		return e.handleNewThread(ctx, tenantID, msg)
	case err != nil:
		return nil, fmt.Errorf("failed to load conversation: %w", err)
	}

	if conv.State.Terminal() {
		// No transition leaves a terminal state.
		return conv, nil
	}
	return e.handleContinuation(ctx, conv, msg)
}

func (e *Engine) handleNewThread(ctx context.Context, tenantID string, msg *model.InboundMessage) (*model.Conversation, error) {
	ext, err := e.extractor.Extract(ctx, msg.Subject+"\n"+msg.Body)
	if err != nil {
		// Classifier down: abandon this message, nothing was persisted.
		return nil, err
	}

	pol := e.policies(tenantID)
	now := e.clock()

	conv := &model.Conversation{
		ID:              uuid.Must(uuid.NewV7()).String(),
		TenantID:        tenantID,
		ThreadID:        msg.ThreadID,
		RequestID:       msg.RequestID,
		CustomerContact: msg.Customer,
		Intent:          ext.Intent,
		Confidence:      ext.Confidence,
		Service:         ext.Intent.Service(),
		State:           model.StateCollectingInfo,
		CollectedFields: map[string]string{},
		MaxFollowUps:    pol.MaxFollowUps,
		CreatedAt:       now,
		LastActivityAt:  now,
	}

	required := pol.RequiredFields(ext.Intent)
	for _, f := range required {
		if v, ok := ext.Fields[f]; ok && v != "" {
			conv.CollectedFields[f] = v
		} else {
			conv.MissingFields = append(conv.MissingFields, f)
		}
	}

	log := e.logger.WithConversation(conv.ID, conv.ThreadID)

	// Low confidence never reaches the evaluator: route to a human instead
	// of guessing.
	if ext.Intent == model.IntentUnknown || ext.Confidence < e.extractor.Threshold() {
		if err := e.convs.Create(ctx, conv); err != nil {
			return nil, fmt.Errorf("failed to create conversation: %w", err)
		}
		log.Info("escalating on low classification confidence",
			zap.String("intent", string(ext.Intent)),
			zap.Int("confidence", ext.Confidence),
		)
		return e.finish(ctx, conv, model.StateEscalated, "low_confidence",
			"classification confidence below threshold", notify.Escalation(conv))
	}

	// Quota gates the whole automated interaction; one unit is consumed
	// per conversation, at entry.
	decision := e.tracker.CheckAndConsume(ctx, tenantID, conv.Service)
	if !decision.Allowed {
		if err := e.convs.Create(ctx, conv); err != nil {
			return nil, fmt.Errorf("failed to create conversation: %w", err)
		}
		log.Info("quota exhausted, escalating",
			zap.String("service", conv.Service),
			zap.Int("monthly_count", decision.MonthlyCount),
		)
		return e.finish(ctx, conv, model.StateEscalated, "quota_exhausted",
			"automation limit reached; upgrade required", notify.Escalation(conv))
	}

	if len(conv.MissingFields) == 0 {
		if err := e.convs.Create(ctx, conv); err != nil {
			return nil, fmt.Errorf("failed to create conversation: %w", err)
		}
		return e.evaluate(ctx, conv)
	}

	if err := e.convs.Create(ctx, conv); err != nil {
		return nil, fmt.Errorf("failed to create conversation: %w", err)
	}
	e.auditTransition(ctx, conv, "", model.StateCollectingInfo, "missing_information", "")

	e.sendInfoRequest(ctx, conv)
	return conv, nil
}

func (e *Engine) handleContinuation(ctx context.Context, conv *model.Conversation, msg *model.InboundMessage) (*model.Conversation, error) {
	ext, err := e.extractor.Extract(ctx, msg.Subject+"\n"+msg.Body)
	if err != nil {
		// No field collected, no counter advanced; redeliverable.
		return nil, err
	}

	var stillMissing []string
	for _, f := range conv.MissingFields {
		if v, ok := ext.Fields[f]; ok && v != "" {
			conv.CollectedFields[f] = v
		} else {
			stillMissing = append(stillMissing, f)
		}
	}
	conv.MissingFields = stillMissing
	conv.LastActivityAt = e.clock()

	if len(conv.MissingFields) == 0 {
		return e.evaluate(ctx, conv)
	}

	if conv.FollowUpCount >= conv.MaxFollowUps {
		// The attempt budget is spent; escalate before crossing it.
		return e.finish(ctx, conv, model.StateEscalated, "attempt_budget_exhausted",
			"information not provided within attempt budget", notify.Escalation(conv))
	}

	if err := e.convs.Update(ctx, conv); err != nil {
		return nil, fmt.Errorf("failed to update conversation: %w", err)
	}

	e.sendInfoRequest(ctx, conv)
	return conv, nil
}

// sendInfoRequest asks the customer for the still-missing fields. The
// follow-up counter advances only after the message is queued, so a
// transport failure leaves the attempt unspent.
func (e *Engine) sendInfoRequest(ctx context.Context, conv *model.Conversation) {
	attempt := conv.FollowUpCount + 1
	key := notify.ConversationKey(conv.ID, notify.KindInfoRequest, attempt)

	sent, err := e.dispatcher.SendOnce(ctx, key, notify.InfoRequest(conv))
	if err != nil {
		e.logger.WithConversation(conv.ID, conv.ThreadID).Warn("info request not delivered",
			zap.Int("attempt", attempt),
			zap.Error(err),
		)
		return
	}
	if !sent {
		return
	}

	conv.FollowUpCount = attempt
	if err := e.convs.Update(ctx, conv); err != nil {
		e.logger.WithConversation(conv.ID, conv.ThreadID).Error("failed to persist follow-up count",
			zap.Error(err),
		)
		return
	}
	metrics.FollowUpsTotal.WithLabelValues(conv.TenantID).Inc()
}

// evaluate runs the eligibility decision and, on approval, the action.
func (e *Engine) evaluate(ctx context.Context, conv *model.Conversation) (*model.Conversation, error) {
	from := conv.State
	conv.State = model.StateEvaluating
	conv.MissingFields = nil

	var order *model.Order
	if policy.NeedsOrder(conv.Intent) {
		var err error
		order, err = e.lookupOrder(ctx, conv)
		if err != nil {
			// Lookup transport failure: leave the stored conversation
			// untouched so the message can be redelivered.
			conv.State = from
			return nil, err
		}
	}

	if err := e.convs.Update(ctx, conv); err != nil {
		return nil, fmt.Errorf("failed to update conversation: %w", err)
	}
	e.auditTransition(ctx, conv, from, model.StateEvaluating, "", "")

	pol := e.policies(conv.TenantID)
	verdict := policy.Evaluate(conv.Intent, order, pol, e.clock())

	switch verdict.Outcome {
	case policy.OutcomeApprove:
		return e.execute(ctx, conv, order, verdict)
	case policy.OutcomeDeny:
		return e.finish(ctx, conv, model.StateDenied, verdict.Rule, verdict.Reason,
			notify.Denial(conv, verdict.Reason))
	default:
		return e.finish(ctx, conv, model.StateEscalated, verdict.Rule, verdict.Reason,
			notify.Escalation(conv))
	}
}

func (e *Engine) lookupOrder(ctx context.Context, conv *model.Conversation) (*model.Order, error) {
	ref := conv.CollectedFields[model.FieldOrderReference]

	ctx, cancel := context.WithTimeout(ctx, e.lookupTimeout)
	defer cancel()

	order, err := e.orders.FindOrder(ctx, conv.TenantID, ref)
	switch {
	case errors.Is(err, collab.ErrOrderNotFound):
		return nil, nil
	case err != nil:
		return nil, fmt.Errorf("order lookup failed: %w", err)
	}
	return order, nil
}

func (e *Engine) execute(ctx context.Context, conv *model.Conversation, order *model.Order, verdict policy.Verdict) (*model.Conversation, error) {
	req := action.Request{
		Type:     action.ForIntent(conv.Intent),
		TenantID: conv.TenantID,
	}
	if req.Type == action.TypeRefund {
		req.Target = order.ID
	} else {
		req.Target = conv.CollectedFields[model.FieldSubscriptionID]
	}

	result, err := e.actions.Execute(ctx, req)
	if err != nil {
		// The mutation may be partially applied; a human must follow up
		// rather than the engine retrying it.
		e.trail.Record(ctx, model.AuditEntry{
			TenantID:       conv.TenantID,
			ConversationID: conv.ID,
			Kind:           model.AuditActionFailed,
			Intent:         conv.Intent,
			Confidence:     conv.Confidence,
			Rule:           verdict.Rule,
			Outcome:        "failed",
			Reason:         err.Error(),
			Metadata:       map[string]any{"retryable": collab.IsUnavailable(err)},
		})
		return e.finish(ctx, conv, model.StateEscalated, "action_failed",
			"approved action failed to execute", notify.ActionFailed(conv))
	}

	e.trail.Record(ctx, model.AuditEntry{
		TenantID:       conv.TenantID,
		ConversationID: conv.ID,
		Kind:           model.AuditActionExecuted,
		Intent:         conv.Intent,
		Confidence:     conv.Confidence,
		Rule:           verdict.Rule,
		Outcome:        "success",
		Metadata: map[string]any{
			"action":      string(req.Type),
			"target":      req.Target,
			"external_id": result.ExternalID,
			"amount":      result.Amount,
		},
	})

	detail := approvalDetail(conv.Intent, result)
	return e.finish(ctx, conv, model.StateApproved, verdict.Rule, verdict.Reason,
		notify.Approval(conv, detail))
}

func approvalDetail(intent model.IntentType, result *action.Result) string {
	switch intent {
	case model.IntentSubscriptionPause:
		return "Your subscription has been paused."
	case model.IntentSubscriptionResume:
		return "Your subscription has been resumed."
	case model.IntentSubscriptionCancel:
		return "Your subscription has been cancelled."
	}
	if result.Amount > 0 {
		return fmt.Sprintf("Your refund of %.2f has been processed (reference %s).", result.Amount, result.ExternalID)
	}
	return "Your refund has been processed."
}

// finish moves a conversation into a terminal state, audits the transition,
// and dispatches the outcome notification. The state change commits
// regardless of delivery; only the dispatcher's sent flag depends on it.
func (e *Engine) finish(ctx context.Context, conv *model.Conversation, outcome model.State, rule, reason string, n notify.Notification) (*model.Conversation, error) {
	from := conv.State
	conv.State = outcome
	conv.MissingFields = nil
	conv.Resolution = &model.Resolution{
		Outcome:    outcome,
		Reason:     reason,
		Rule:       rule,
		ResolvedAt: e.clock(),
	}
	conv.LastActivityAt = conv.Resolution.ResolvedAt

	if err := e.convs.Update(ctx, conv); err != nil {
		return nil, fmt.Errorf("failed to update conversation: %w", err)
	}

	e.auditTransition(ctx, conv, from, outcome, rule, reason)
	metrics.ConversationsTotal.WithLabelValues(conv.TenantID, string(outcome)).Inc()

	key := notify.ConversationKey(conv.ID, n.Kind, 0)
	if _, err := e.dispatcher.SendOnce(ctx, key, n); err != nil {
		e.logger.WithConversation(conv.ID, conv.ThreadID).Warn("outcome notification not delivered",
			zap.String("outcome", string(outcome)),
			zap.Error(err),
		)
	}

	return conv, nil
}

func (e *Engine) auditTransition(ctx context.Context, conv *model.Conversation, from, to model.State, rule, reason string) {
	e.trail.Record(ctx, model.AuditEntry{
		TenantID:       conv.TenantID,
		ConversationID: conv.ID,
		Kind:           model.AuditStateTransition,
		Intent:         conv.Intent,
		Confidence:     conv.Confidence,
		Rule:           rule,
		Outcome:        string(to),
		Reason:         reason,
		Metadata:       map[string]any{"from": string(from)},
	})
}

// StaleConversations returns collecting_info conversations with no activity
// for at least olderThan. An empty tenantID spans all tenants.
func (e *Engine) StaleConversations(ctx context.Context, tenantID string, olderThan time.Duration) ([]model.Conversation, error) {
	return e.convs.StaleCollecting(ctx, tenantID, e.clock().Add(-olderThan))
}

// SweepStale escalates conversations whose customers went quiet. Meant to be
// driven by an external scheduler, not an in-process timer.
func (e *Engine) SweepStale(ctx context.Context, olderThan time.Duration) (int, error) {
	stale, err := e.convs.StaleCollecting(ctx, "", e.clock().Add(-olderThan))
	if err != nil {
		return 0, fmt.Errorf("failed to list stale conversations: %w", err)
	}

	swept := 0
	for i := range stale {
		conv := &stale[i]
		lock := e.threadLock(conv.TenantID, conv.ThreadID)
		lock.Lock()

		current, err := e.convs.Get(ctx, conv.TenantID, conv.ID)
		if err == nil && current.State == model.StateCollectingInfo {
			if _, err := e.finish(ctx, current, model.StateEscalated, "customer_unresponsive",
				"customer unresponsive", notify.Escalation(current)); err == nil {
				swept++
			}
		}
		lock.Unlock()
	}
	return swept, nil
}

// Escalate hands a conversation to a human on request.
func (e *Engine) Escalate(ctx context.Context, tenantID, conversationID, reason string) (*model.Conversation, error) {
	conv, err := e.convs.Get(ctx, tenantID, conversationID)
	if err != nil {
		return nil, err
	}

	lock := e.threadLock(conv.TenantID, conv.ThreadID)
	lock.Lock()
	defer lock.Unlock()

	conv, err = e.convs.Get(ctx, tenantID, conversationID)
	if err != nil {
		return nil, err
	}
	if conv.State.Terminal() {
		return conv, nil
	}
	if reason == "" {
		reason = "manually escalated"
	}
	return e.finish(ctx, conv, model.StateEscalated, "manual", reason, notify.Escalation(conv))
}
