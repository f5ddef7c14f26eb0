package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/resolvely-ai/automation-engine/internal/model"
)

func newConversation(id, tenantID, threadID string, createdAt time.Time) *model.Conversation {
	return &model.Conversation{
		ID:              id,
		TenantID:        tenantID,
		ThreadID:        threadID,
		State:           model.StateCollectingInfo,
		CollectedFields: map[string]string{},
		CreatedAt:       createdAt,
		LastActivityAt:  createdAt,
	}
}

func TestConversationCreateAndGet(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	now := time.Now()

	conv := newConversation("c1", "t1", "thread-1", now)
	require.NoError(t, m.Create(ctx, conv))

	got, err := m.Get(ctx, "t1", "c1")
	require.NoError(t, err)
	assert.Equal(t, "c1", got.ID)

	byThread, err := m.GetByThread(ctx, "t1", "thread-1")
	require.NoError(t, err)
	assert.Equal(t, "c1", byThread.ID)

	// Tenant scoping applies to both lookups.
	_, err = m.Get(ctx, "t2", "c1")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = m.GetByThread(ctx, "t2", "thread-1")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestConversationCreateConflicts(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	now := time.Now()

	require.NoError(t, m.Create(ctx, newConversation("c1", "t1", "thread-1", now)))

	err := m.Create(ctx, newConversation("c1", "t1", "thread-2", now))
	assert.ErrorIs(t, err, ErrConflict)

	// One conversation owns a thread.
	err = m.Create(ctx, newConversation("c2", "t1", "thread-1", now))
	assert.ErrorIs(t, err, ErrConflict)
}

func TestConversationUpdateIsolation(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	conv := newConversation("c1", "t1", "thread-1", time.Now())
	require.NoError(t, m.Create(ctx, conv))

	// Mutating the caller's copy must not leak into the store.
	conv.CollectedFields["order_reference"] = "A-1"
	got, err := m.Get(ctx, "t1", "c1")
	require.NoError(t, err)
	assert.Empty(t, got.CollectedFields)

	conv.State = model.StateApproved
	require.NoError(t, m.Update(ctx, conv))
	got, err = m.Get(ctx, "t1", "c1")
	require.NoError(t, err)
	assert.Equal(t, model.StateApproved, got.State)

	missing := newConversation("nope", "t1", "thread-x", time.Now())
	assert.ErrorIs(t, m.Update(ctx, missing), ErrNotFound)
}

func TestConversationList(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	base := time.Now()

	for i, id := range []string{"c1", "c2", "c3"} {
		conv := newConversation(id, "t1", "thread-"+id, base.Add(time.Duration(i)*time.Minute))
		require.NoError(t, m.Create(ctx, conv))
	}
	require.NoError(t, m.Create(ctx, newConversation("other", "t2", "thread-o", base)))

	convs, total, err := m.List(ctx, "t1", 2, 0)
	require.NoError(t, err)
	assert.Equal(t, 3, total)
	require.Len(t, convs, 2)
	// Newest first.
	assert.Equal(t, "c3", convs[0].ID)
	assert.Equal(t, "c2", convs[1].ID)

	convs, _, err = m.List(ctx, "t1", 2, 2)
	require.NoError(t, err)
	require.Len(t, convs, 1)
	assert.Equal(t, "c1", convs[0].ID)
}

func TestStaleCollecting(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	now := time.Now()

	old := newConversation("old", "t1", "thread-old", now.Add(-100*time.Hour))
	fresh := newConversation("fresh", "t1", "thread-fresh", now)
	done := newConversation("done", "t1", "thread-done", now.Add(-100*time.Hour))
	done.State = model.StateApproved
	otherTenant := newConversation("other", "t2", "thread-other", now.Add(-100*time.Hour))

	for _, c := range []*model.Conversation{old, fresh, done, otherTenant} {
		require.NoError(t, m.Create(ctx, c))
	}

	stale, err := m.StaleCollecting(ctx, "t1", now.Add(-72*time.Hour))
	require.NoError(t, err)
	require.Len(t, stale, 1)
	assert.Equal(t, "old", stale[0].ID)

	// Empty tenant spans all tenants.
	stale, err = m.StaleCollecting(ctx, "", now.Add(-72*time.Hour))
	require.NoError(t, err)
	assert.Len(t, stale, 2)
}

func TestUsageMutate(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	now := time.Date(2025, 6, 15, 10, 0, 0, 0, time.UTC)

	rec, err := m.Mutate(ctx, "t1", "returns", now, func(rec *model.UsageRecord) error {
		rec.DailyCount++
		rec.MonthlyCount++
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, rec.DailyCount)
	assert.Equal(t, model.DailyWindow(now), rec.DailyWindowStart)
	assert.Equal(t, model.MonthlyWindow(now), rec.MonthlyWindowStart)

	// An fn error discards the mutation.
	_, err = m.Mutate(ctx, "t1", "returns", now, func(rec *model.UsageRecord) error {
		rec.DailyCount = 99
		return errors.New("nope")
	})
	require.Error(t, err)

	got, err := m.GetUsage(ctx, "t1", "returns")
	require.NoError(t, err)
	assert.Equal(t, 1, got.DailyCount)

	_, err = m.GetUsage(ctx, "t1", "promo_refunds")
	assert.ErrorIs(t, err, ErrNotFound)
}
