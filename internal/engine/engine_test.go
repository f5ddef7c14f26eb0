package engine

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/resolvely-ai/automation-engine/internal/action"
	"github.com/resolvely-ai/automation-engine/internal/collab"
	"github.com/resolvely-ai/automation-engine/internal/extract"
	"github.com/resolvely-ai/automation-engine/internal/model"
	"github.com/resolvely-ai/automation-engine/internal/notify"
	"github.com/resolvely-ai/automation-engine/internal/policy"
	"github.com/resolvely-ai/automation-engine/internal/quota"
	"github.com/resolvely-ai/automation-engine/internal/store"
	"github.com/resolvely-ai/automation-engine/pkg/logger"
)

type fakeSender struct {
	mu   sync.Mutex
	tags []string
	err  error
}

func (f *fakeSender) Send(ctx context.Context, tenantID, to, subject, body, templateTag string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.tags = append(f.tags, templateTag)
	return nil
}

func (f *fakeSender) sentTags() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.tags...)
}

func (f *fakeSender) countTag(tag string) int {
	n := 0
	for _, t := range f.sentTags() {
		if t == tag {
			n++
		}
	}
	return n
}

type fakeOrders struct {
	mu     sync.Mutex
	orders map[string]*model.Order // by reference
	err    error
}

func (f *fakeOrders) FindOrder(ctx context.Context, tenantID, reference string) (*model.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	order, ok := f.orders[reference]
	if !ok {
		return nil, collab.ErrOrderNotFound
	}
	return order, nil
}

func (f *fakeOrders) FindOrdersByCustomer(ctx context.Context, tenantID, email string) ([]model.Order, error) {
	return nil, nil
}

func (f *fakeOrders) setErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.err = err
}

type fakeRefunds struct {
	mu      sync.Mutex
	calls   []string // order IDs
	err     error
	rejects bool
}

func (f *fakeRefunds) Refund(ctx context.Context, tenantID, orderID string, amount *float64) (*collab.RefundResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	if f.rejects {
		return &collab.RefundResult{Success: false}, nil
	}
	f.calls = append(f.calls, orderID)
	return &collab.RefundResult{Success: true, ExternalID: "re_1", Amount: 42.50}, nil
}

func (f *fakeRefunds) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

type fakeSubs struct {
	mu     sync.Mutex
	paused []string
}

func (f *fakeSubs) Pause(ctx context.Context, tenantID, subscriptionID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.paused = append(f.paused, subscriptionID)
	return nil
}

func (f *fakeSubs) Resume(ctx context.Context, tenantID, subscriptionID string) error { return nil }
func (f *fakeSubs) Cancel(ctx context.Context, tenantID, subscriptionID string) error { return nil }

type captureTrail struct {
	mu      sync.Mutex
	entries []model.AuditEntry
}

func (c *captureTrail) Record(ctx context.Context, entry model.AuditEntry) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = append(c.entries, entry)
}

func (c *captureTrail) byKind(kind model.AuditKind) []model.AuditEntry {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []model.AuditEntry
	for _, e := range c.entries {
		if e.Kind == kind {
			out = append(out, e)
		}
	}
	return out
}

type fixture struct {
	eng     *Engine
	store   *store.Memory
	sender  *fakeSender
	trail   *captureTrail
	orders  *fakeOrders
	refunds *fakeRefunds
	subs    *fakeSubs

	nowMu sync.Mutex
	now   time.Time
}

type fixtureOpts struct {
	policy policy.TenantPolicy
	limits quota.Limits
}

func defaultOpts() fixtureOpts {
	return fixtureOpts{
		policy: policy.TenantPolicy{
			AutoApprovalWindow: 30 * 24 * time.Hour,
			MaxFollowUps:       3,
		},
		limits: quota.Limits{Daily: 100, Monthly: 500},
	}
}

func newFixture(t *testing.T, opts fixtureOpts) *fixture {
	t.Helper()

	log, err := logger.New("fatal")
	require.NoError(t, err)

	f := &fixture{
		store:   store.NewMemory(),
		sender:  &fakeSender{},
		trail:   &captureTrail{},
		orders:  &fakeOrders{orders: map[string]*model.Order{}},
		refunds: &fakeRefunds{},
		subs:    &fakeSubs{},
		now:     time.Date(2025, 6, 15, 10, 0, 0, 0, time.UTC),
	}
	clock := func() time.Time {
		f.nowMu.Lock()
		defer f.nowMu.Unlock()
		return f.now
	}

	dispatcher := notify.NewDispatcher(f.sender, log)
	tracker := quota.NewTracker(
		f.store,
		func(tenantID, service string) quota.Limits { return opts.limits },
		dispatcher,
		f.trail,
		func(tenantID string) string { return "billing@tenant.example" },
		log,
	).WithClock(clock)

	f.eng = New(
		f.store,
		tracker,
		extract.New(nil, 70, time.Second, log),
		f.orders,
		action.NewExecutor(f.refunds, f.subs, time.Second, log),
		dispatcher,
		f.trail,
		func(tenantID string) policy.TenantPolicy { return opts.policy },
		time.Second,
		log,
	).WithClock(clock)

	return f
}

func (f *fixture) advance(d time.Duration) {
	f.nowMu.Lock()
	defer f.nowMu.Unlock()
	f.now = f.now.Add(d)
}

func (f *fixture) addOrder(reference string, status model.OrderStatus, age time.Duration) {
	f.nowMu.Lock()
	placedAt := f.now.Add(-age)
	f.nowMu.Unlock()
	f.orders.orders[reference] = &model.Order{
		ID:        "ord_" + reference,
		Reference: reference,
		TenantID:  "t1",
		Status:    status,
		PlacedAt:  placedAt,
	}
}

func msg(threadID, body string) *model.InboundMessage {
	return &model.InboundMessage{
		ThreadID:  threadID,
		RequestID: "req-" + threadID,
		Customer:  "customer@example.com",
		Body:      body,
	}
}

func TestReturnApprovedInOneMessage(t *testing.T) {
	f := newFixture(t, defaultOpts())
	f.addOrder("A-1042", model.OrderStatusFulfilled, 5*24*time.Hour)

	conv, err := f.eng.HandleMessage(context.Background(), "t1",
		msg("thread-1", "I want to return my order #A-1042 because it arrived damaged."))
	require.NoError(t, err)

	assert.Equal(t, model.StateApproved, conv.State)
	require.NotNil(t, conv.Resolution)
	assert.Equal(t, "within_policy", conv.Resolution.Rule)
	assert.Equal(t, model.IntentReturn, conv.Intent)
	assert.Equal(t, "returns", conv.Service)

	// Refund ran against the resolved order ID, not the raw reference.
	f.refunds.mu.Lock()
	assert.Equal(t, []string{"ord_A-1042"}, f.refunds.calls)
	f.refunds.mu.Unlock()

	assert.Equal(t, 1, f.sender.countTag("approval"))
	assert.Len(t, f.trail.byKind(model.AuditActionExecuted), 1)
}

func TestMissingInfoCollectedAcrossMessages(t *testing.T) {
	f := newFixture(t, defaultOpts())
	f.addOrder("A-1042", model.OrderStatusFulfilled, 5*24*time.Hour)
	ctx := context.Background()

	conv, err := f.eng.HandleMessage(ctx, "t1",
		msg("thread-1", "I'd like a refund for my recent purchase please."))
	require.NoError(t, err)
	assert.Equal(t, model.StateCollectingInfo, conv.State)
	assert.Equal(t, 1, conv.FollowUpCount)
	assert.Contains(t, conv.MissingFields, model.FieldOrderReference)
	assert.Equal(t, 1, f.sender.countTag("info-request"))

	conv, err = f.eng.HandleMessage(ctx, "t1",
		msg("thread-1", "order_reference: A-1042\nreason: arrived damaged"))
	require.NoError(t, err)
	assert.Equal(t, model.StateApproved, conv.State)
	assert.Equal(t, "A-1042", conv.CollectedFields[model.FieldOrderReference])
	assert.Equal(t, 1, conv.FollowUpCount)
}

func TestAttemptBudgetExhaustedEscalates(t *testing.T) {
	opts := defaultOpts()
	opts.policy.MaxFollowUps = 2
	f := newFixture(t, opts)
	ctx := context.Background()

	conv, err := f.eng.HandleMessage(ctx, "t1",
		msg("thread-1", "I'd like a refund for my recent purchase please."))
	require.NoError(t, err)
	assert.Equal(t, 1, conv.FollowUpCount)

	conv, err = f.eng.HandleMessage(ctx, "t1", msg("thread-1", "hello? anyone there?"))
	require.NoError(t, err)
	assert.Equal(t, model.StateCollectingInfo, conv.State)
	assert.Equal(t, 2, conv.FollowUpCount)

	// The budget is spent: the third unhelpful message escalates instead of
	// asking a third time.
	conv, err = f.eng.HandleMessage(ctx, "t1", msg("thread-1", "still here"))
	require.NoError(t, err)
	assert.Equal(t, model.StateEscalated, conv.State)
	require.NotNil(t, conv.Resolution)
	assert.Equal(t, "attempt_budget_exhausted", conv.Resolution.Rule)

	assert.Equal(t, 2, f.sender.countTag("info-request"))
	assert.Equal(t, 1, f.sender.countTag("escalation"))
}

func TestLowConfidenceEscalatesWithoutConsumingQuota(t *testing.T) {
	f := newFixture(t, defaultOpts())

	conv, err := f.eng.HandleMessage(context.Background(), "t1",
		msg("thread-1", "hi, what are your opening hours?"))
	require.NoError(t, err)

	assert.Equal(t, model.StateEscalated, conv.State)
	require.NotNil(t, conv.Resolution)
	assert.Equal(t, "low_confidence", conv.Resolution.Rule)

	// No usage unit was consumed for the unclassified request.
	_, err = f.store.GetUsage(context.Background(), "t1", "unclassified")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestQuotaExhaustedEscalates(t *testing.T) {
	opts := defaultOpts()
	opts.limits = quota.Limits{Daily: 100, Monthly: 1}
	f := newFixture(t, opts)
	f.addOrder("A-1001", model.OrderStatusPaid, 24*time.Hour)
	f.addOrder("A-2002", model.OrderStatusPaid, 24*time.Hour)
	ctx := context.Background()

	conv, err := f.eng.HandleMessage(ctx, "t1",
		msg("thread-1", "Please refund order A-1001 because it broke."))
	require.NoError(t, err)
	assert.Equal(t, model.StateApproved, conv.State)

	conv, err = f.eng.HandleMessage(ctx, "t1",
		msg("thread-2", "Please refund order A-2002 because it also broke."))
	require.NoError(t, err)
	assert.Equal(t, model.StateEscalated, conv.State)
	require.NotNil(t, conv.Resolution)
	assert.Equal(t, "quota_exhausted", conv.Resolution.Rule)

	assert.Equal(t, 1, f.refunds.callCount())
}

func TestOrderNotFoundEscalates(t *testing.T) {
	f := newFixture(t, defaultOpts())

	conv, err := f.eng.HandleMessage(context.Background(), "t1",
		msg("thread-1", "I want to return order #GHOST-1 because it never arrived."))
	require.NoError(t, err)

	assert.Equal(t, model.StateEscalated, conv.State)
	require.NotNil(t, conv.Resolution)
	assert.Equal(t, "order_not_found", conv.Resolution.Rule)
	assert.Equal(t, 0, f.refunds.callCount())
}

func TestTerminalOrderDenied(t *testing.T) {
	f := newFixture(t, defaultOpts())
	f.addOrder("A-1042", model.OrderStatusRefunded, 5*24*time.Hour)

	conv, err := f.eng.HandleMessage(context.Background(), "t1",
		msg("thread-1", "I want to return my order #A-1042 because it arrived damaged."))
	require.NoError(t, err)

	assert.Equal(t, model.StateDenied, conv.State)
	require.NotNil(t, conv.Resolution)
	assert.Equal(t, "order_already_terminal", conv.Resolution.Rule)
	assert.Equal(t, 1, f.sender.countTag("denial"))
	assert.Equal(t, 0, f.refunds.callCount())
}

func TestOldOrderEscalatesNotDenies(t *testing.T) {
	f := newFixture(t, defaultOpts())
	f.addOrder("A-1042", model.OrderStatusFulfilled, 60*24*time.Hour)

	conv, err := f.eng.HandleMessage(context.Background(), "t1",
		msg("thread-1", "I want to return my order #A-1042 because it arrived damaged."))
	require.NoError(t, err)

	assert.Equal(t, model.StateEscalated, conv.State)
	require.NotNil(t, conv.Resolution)
	assert.Equal(t, "outside_auto_approval_window", conv.Resolution.Rule)
}

func TestLookupOutageIsRedeliverable(t *testing.T) {
	f := newFixture(t, defaultOpts())
	f.addOrder("A-1042", model.OrderStatusFulfilled, 5*24*time.Hour)
	f.orders.setErr(&collab.Unavailable{Collaborator: "orders", Err: errors.New("gateway 503")})
	ctx := context.Background()

	m := msg("thread-1", "I want to return my order #A-1042 because it arrived damaged.")
	_, err := f.eng.HandleMessage(ctx, "t1", m)
	require.Error(t, err)
	assert.True(t, collab.IsUnavailable(err))

	// The stored conversation did not advance past collection.
	stored, err := f.store.GetByThread(ctx, "t1", "thread-1")
	require.NoError(t, err)
	assert.Equal(t, model.StateCollectingInfo, stored.State)

	// Redelivering the same message after recovery completes the request.
	f.orders.setErr(nil)
	conv, err := f.eng.HandleMessage(ctx, "t1", m)
	require.NoError(t, err)
	assert.Equal(t, model.StateApproved, conv.State)
	assert.Equal(t, 1, f.refunds.callCount())
}

func TestTerminalStateAbsorbs(t *testing.T) {
	f := newFixture(t, defaultOpts())
	f.addOrder("A-1042", model.OrderStatusFulfilled, 5*24*time.Hour)
	ctx := context.Background()

	m := msg("thread-1", "I want to return my order #A-1042 because it arrived damaged.")
	conv, err := f.eng.HandleMessage(ctx, "t1", m)
	require.NoError(t, err)
	require.Equal(t, model.StateApproved, conv.State)

	// A duplicate or late message changes nothing and runs nothing.
	again, err := f.eng.HandleMessage(ctx, "t1", m)
	require.NoError(t, err)
	assert.Equal(t, model.StateApproved, again.State)
	assert.Equal(t, conv.ID, again.ID)
	assert.Equal(t, 1, f.refunds.callCount())
	assert.Equal(t, 1, f.sender.countTag("approval"))
}

func TestActionFailureEscalatesWithoutRetry(t *testing.T) {
	f := newFixture(t, defaultOpts())
	f.addOrder("A-1042", model.OrderStatusFulfilled, 5*24*time.Hour)
	f.refunds.err = errors.New("payment platform rejected the call")

	conv, err := f.eng.HandleMessage(context.Background(), "t1",
		msg("thread-1", "I want to return my order #A-1042 because it arrived damaged."))
	require.NoError(t, err)

	assert.Equal(t, model.StateEscalated, conv.State)
	require.NotNil(t, conv.Resolution)
	assert.Equal(t, "action_failed", conv.Resolution.Rule)
	assert.Equal(t, 1, f.sender.countTag("action-failed"))
	assert.Len(t, f.trail.byKind(model.AuditActionFailed), 1)
	assert.Empty(t, f.trail.byKind(model.AuditActionExecuted))
}

func TestSubscriptionPauseApprovedWithoutOrder(t *testing.T) {
	f := newFixture(t, defaultOpts())

	conv, err := f.eng.HandleMessage(context.Background(), "t1",
		msg("thread-1", "Could you pause my subscription sub_12345 for a while?"))
	require.NoError(t, err)

	assert.Equal(t, model.StateApproved, conv.State)
	require.NotNil(t, conv.Resolution)
	assert.Equal(t, "subscription_change", conv.Resolution.Rule)

	f.subs.mu.Lock()
	assert.Equal(t, []string{"sub_12345"}, f.subs.paused)
	f.subs.mu.Unlock()
}

func TestSweepStaleEscalatesUnresponsiveCustomers(t *testing.T) {
	f := newFixture(t, defaultOpts())
	ctx := context.Background()

	conv, err := f.eng.HandleMessage(ctx, "t1",
		msg("thread-1", "I'd like a refund for my recent purchase please."))
	require.NoError(t, err)
	require.Equal(t, model.StateCollectingInfo, conv.State)

	// Not yet stale.
	swept, err := f.eng.SweepStale(ctx, 72*time.Hour)
	require.NoError(t, err)
	assert.Zero(t, swept)

	f.advance(80 * time.Hour)
	swept, err = f.eng.SweepStale(ctx, 72*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 1, swept)

	stored, err := f.store.Get(ctx, "t1", conv.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StateEscalated, stored.State)
	require.NotNil(t, stored.Resolution)
	assert.Equal(t, "customer_unresponsive", stored.Resolution.Rule)

	// Sweeping again finds nothing.
	swept, err = f.eng.SweepStale(ctx, 72*time.Hour)
	require.NoError(t, err)
	assert.Zero(t, swept)
}

func TestManualEscalate(t *testing.T) {
	f := newFixture(t, defaultOpts())
	ctx := context.Background()

	conv, err := f.eng.HandleMessage(ctx, "t1",
		msg("thread-1", "I'd like a refund for my recent purchase please."))
	require.NoError(t, err)

	escalated, err := f.eng.Escalate(ctx, "t1", conv.ID, "customer called support")
	require.NoError(t, err)
	assert.Equal(t, model.StateEscalated, escalated.State)
	require.NotNil(t, escalated.Resolution)
	assert.Equal(t, "manual", escalated.Resolution.Rule)
	assert.Equal(t, "customer called support", escalated.Resolution.Reason)

	// Escalating a terminal conversation is a no-op.
	again, err := f.eng.Escalate(ctx, "t1", conv.ID, "")
	require.NoError(t, err)
	assert.Equal(t, escalated.Resolution.Reason, again.Resolution.Reason)
}

func TestStaleConversationsScopedToTenant(t *testing.T) {
	f := newFixture(t, defaultOpts())
	ctx := context.Background()

	_, err := f.eng.HandleMessage(ctx, "t1",
		msg("thread-1", "I'd like a refund for my recent purchase please."))
	require.NoError(t, err)
	_, err = f.eng.HandleMessage(ctx, "t2",
		msg("thread-2", "I'd like a refund for my recent purchase please."))
	require.NoError(t, err)

	f.advance(80 * time.Hour)

	stale, err := f.eng.StaleConversations(ctx, "t1", 72*time.Hour)
	require.NoError(t, err)
	require.Len(t, stale, 1)
	assert.Equal(t, "t1", stale[0].TenantID)
}
