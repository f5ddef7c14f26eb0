// Package store defines persistence interfaces for engine state and provides
// an in-memory implementation (would be replaced with a database in
// production).
package store

import (
	"context"
	"errors"
	"time"

	"github.com/resolvely-ai/automation-engine/internal/model"
)

var (
	// ErrNotFound is returned when a record does not exist.
	ErrNotFound = errors.New("not found")
	// ErrConflict is returned when a create collides with an existing record.
	ErrConflict = errors.New("conflict")
)

// ConversationStore persists conversations.
type ConversationStore interface {
	Create(ctx context.Context, conv *model.Conversation) error
	Get(ctx context.Context, tenantID, conversationID string) (*model.Conversation, error)
	GetByThread(ctx context.Context, tenantID, threadID string) (*model.Conversation, error)
	Update(ctx context.Context, conv *model.Conversation) error
	List(ctx context.Context, tenantID string, limit, offset int) ([]model.Conversation, int, error)

	// StaleCollecting returns conversations still in collecting_info whose
	// last activity predates cutoff. Used by the external sweep job.
	StaleCollecting(ctx context.Context, tenantID string, cutoff time.Time) ([]model.Conversation, error)
}

// UsageStore persists usage records. Mutate is the single serialization point
// for a (tenant, service) pair: the read-check-increment sequence runs as one
// atomic operation, so concurrent consumers can never both observe a count
// below the limit and both increment past it.
type UsageStore interface {
	// Mutate applies fn to the record for (tenant, service), creating a
	// zero record at the given window starts when absent. Changes persist
	// only when fn returns nil; a non-nil error discards them.
	Mutate(ctx context.Context, tenantID, service string, now time.Time, fn func(rec *model.UsageRecord) error) (*model.UsageRecord, error)

	GetUsage(ctx context.Context, tenantID, service string) (*model.UsageRecord, error)
}
