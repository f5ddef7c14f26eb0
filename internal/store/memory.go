package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/resolvely-ai/automation-engine/internal/model"
)

// Memory is an in-memory Store implementation guarded by mutexes.
type Memory struct {
	convMu      sync.RWMutex
	convs       map[string]*model.Conversation
	convsThread map[string]string // tenant/thread -> conversation ID

	usageMu sync.Mutex
	usage   map[string]*model.UsageRecord // tenant/service
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		convs:       make(map[string]*model.Conversation),
		convsThread: make(map[string]string),
		usage:       make(map[string]*model.UsageRecord),
	}
}

func threadKey(tenantID, threadID string) string {
	return tenantID + "/" + threadID
}

// Create stores a new conversation and indexes it by thread.
func (m *Memory) Create(ctx context.Context, conv *model.Conversation) error {
	m.convMu.Lock()
	defer m.convMu.Unlock()

	if _, exists := m.convs[conv.ID]; exists {
		return ErrConflict
	}
	if _, exists := m.convsThread[threadKey(conv.TenantID, conv.ThreadID)]; exists {
		return ErrConflict
	}

	cp := cloneConversation(conv)
	m.convs[conv.ID] = cp
	m.convsThread[threadKey(conv.TenantID, conv.ThreadID)] = conv.ID
	return nil
}

// Get retrieves a conversation by ID, scoped to the tenant.
func (m *Memory) Get(ctx context.Context, tenantID, conversationID string) (*model.Conversation, error) {
	m.convMu.RLock()
	defer m.convMu.RUnlock()

	conv, exists := m.convs[conversationID]
	if !exists || conv.TenantID != tenantID {
		return nil, ErrNotFound
	}
	return cloneConversation(conv), nil
}

// GetByThread retrieves the conversation owning a request thread.
func (m *Memory) GetByThread(ctx context.Context, tenantID, threadID string) (*model.Conversation, error) {
	m.convMu.RLock()
	defer m.convMu.RUnlock()

	id, exists := m.convsThread[threadKey(tenantID, threadID)]
	if !exists {
		return nil, ErrNotFound
	}
	return cloneConversation(m.convs[id]), nil
}

// Update replaces a stored conversation.
func (m *Memory) Update(ctx context.Context, conv *model.Conversation) error {
	m.convMu.Lock()
	defer m.convMu.Unlock()

	existing, exists := m.convs[conv.ID]
	if !exists || existing.TenantID != conv.TenantID {
		return ErrNotFound
	}
	m.convs[conv.ID] = cloneConversation(conv)
	return nil
}

// List retrieves conversations for a tenant, newest first.
func (m *Memory) List(ctx context.Context, tenantID string, limit, offset int) ([]model.Conversation, int, error) {
	m.convMu.RLock()
	defer m.convMu.RUnlock()

	var convs []model.Conversation
	for _, conv := range m.convs {
		if conv.TenantID == tenantID {
			convs = append(convs, *cloneConversation(conv))
		}
	}
	sort.Slice(convs, func(i, j int) bool {
		return convs[i].CreatedAt.After(convs[j].CreatedAt)
	})

	total := len(convs)
	start := offset
	if start > total {
		start = total
	}
	end := start + limit
	if end > total {
		end = total
	}
	return convs[start:end], total, nil
}

// StaleCollecting returns collecting_info conversations idle since cutoff.
// An empty tenantID matches every tenant.
func (m *Memory) StaleCollecting(ctx context.Context, tenantID string, cutoff time.Time) ([]model.Conversation, error) {
	m.convMu.RLock()
	defer m.convMu.RUnlock()

	var stale []model.Conversation
	for _, conv := range m.convs {
		if tenantID != "" && conv.TenantID != tenantID {
			continue
		}
		if conv.State == model.StateCollectingInfo && conv.LastActivityAt.Before(cutoff) {
			stale = append(stale, *cloneConversation(conv))
		}
	}
	sort.Slice(stale, func(i, j int) bool {
		return stale[i].LastActivityAt.Before(stale[j].LastActivityAt)
	})
	return stale, nil
}

// Mutate applies fn to the usage record under the store's usage lock, making
// the caller's read-check-increment sequence atomic.
func (m *Memory) Mutate(ctx context.Context, tenantID, service string, now time.Time, fn func(rec *model.UsageRecord) error) (*model.UsageRecord, error) {
	m.usageMu.Lock()
	defer m.usageMu.Unlock()

	key := tenantID + "/" + service
	rec, exists := m.usage[key]
	if !exists {
		rec = &model.UsageRecord{
			TenantID:           tenantID,
			Service:            service,
			DailyWindowStart:   model.DailyWindow(now),
			MonthlyWindowStart: model.MonthlyWindow(now),
		}
	}

	work := *rec
	if err := fn(&work); err != nil {
		return nil, err
	}
	work.UpdatedAt = now

	m.usage[key] = &work
	out := work
	return &out, nil
}

// GetUsage retrieves the usage record for a (tenant, service) pair.
func (m *Memory) GetUsage(ctx context.Context, tenantID, service string) (*model.UsageRecord, error) {
	m.usageMu.Lock()
	defer m.usageMu.Unlock()

	rec, exists := m.usage[tenantID+"/"+service]
	if !exists {
		return nil, ErrNotFound
	}
	out := *rec
	return &out, nil
}

func cloneConversation(conv *model.Conversation) *model.Conversation {
	cp := *conv
	if conv.MissingFields != nil {
		cp.MissingFields = append([]string(nil), conv.MissingFields...)
	}
	if conv.CollectedFields != nil {
		cp.CollectedFields = make(map[string]string, len(conv.CollectedFields))
		for k, v := range conv.CollectedFields {
			cp.CollectedFields[k] = v
		}
	}
	if conv.Resolution != nil {
		res := *conv.Resolution
		cp.Resolution = &res
	}
	return &cp
}
