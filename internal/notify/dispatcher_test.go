package notify

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/resolvely-ai/automation-engine/pkg/logger"
)

type fakeSender struct {
	mu    sync.Mutex
	sends int
	err   error
}

func (f *fakeSender) Send(ctx context.Context, tenantID, to, subject, body, templateTag string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.sends++
	return nil
}

func (f *fakeSender) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sends
}

func testLogger(t *testing.T) *logger.Logger {
	t.Helper()
	log, err := logger.New("error")
	require.NoError(t, err)
	return log
}

func TestSendOnceIdempotent(t *testing.T) {
	sender := &fakeSender{}
	d := NewDispatcher(sender, testLogger(t))
	n := Notification{Kind: KindApproval, TenantID: "t1", To: "a@b.com", Subject: "s", Body: "b"}

	sent, err := d.SendOnce(context.Background(), "key-1", n)
	require.NoError(t, err)
	assert.True(t, sent)

	sent, err = d.SendOnce(context.Background(), "key-1", n)
	require.NoError(t, err)
	assert.False(t, sent)

	assert.Equal(t, 1, sender.count())
	assert.True(t, d.Delivered("key-1"))
}

func TestSendOnceDistinctKeys(t *testing.T) {
	sender := &fakeSender{}
	d := NewDispatcher(sender, testLogger(t))
	n := Notification{Kind: KindInfoRequest, TenantID: "t1", To: "a@b.com"}

	for attempt := 1; attempt <= 3; attempt++ {
		sent, err := d.SendOnce(context.Background(), ConversationKey("c1", KindInfoRequest, attempt), n)
		require.NoError(t, err)
		assert.True(t, sent)
	}
	assert.Equal(t, 3, sender.count())
}

func TestSendOnceFailureLeavesKeyUnsent(t *testing.T) {
	sender := &fakeSender{err: errors.New("smtp down")}
	d := NewDispatcher(sender, testLogger(t))
	n := Notification{Kind: KindDenial, TenantID: "t1", To: "a@b.com"}

	sent, err := d.SendOnce(context.Background(), "key-1", n)
	require.Error(t, err)
	assert.False(t, sent)
	assert.False(t, d.Delivered("key-1"))

	// Once the transport recovers, the same key delivers.
	sender.mu.Lock()
	sender.err = nil
	sender.mu.Unlock()

	sent, err = d.SendOnce(context.Background(), "key-1", n)
	require.NoError(t, err)
	assert.True(t, sent)
	assert.Equal(t, 1, sender.count())
}

func TestSendOnceConcurrent(t *testing.T) {
	sender := &fakeSender{}
	d := NewDispatcher(sender, testLogger(t))
	n := Notification{Kind: KindEscalation, TenantID: "t1", To: "a@b.com"}

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			d.SendOnce(context.Background(), "shared-key", n)
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, sender.count())
}

func TestUsageKeyIncludesWindow(t *testing.T) {
	june := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	july := time.Date(2025, 7, 1, 0, 0, 0, 0, time.UTC)

	w1 := UsageKey("t1", "returns", KindWarning, june)
	w2 := UsageKey("t1", "returns", KindWarning, july)
	assert.NotEqual(t, w1, w2)

	c := UsageKey("t1", "returns", KindCutoff, june)
	assert.NotEqual(t, w1, c)
}
