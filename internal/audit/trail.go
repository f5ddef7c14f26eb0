// Package audit writes the append-only activity trail. Every state
// transition, quota decision, and executed action lands here with enough
// metadata to reconstruct the decision for a human reviewer.
package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go/jetstream"
	"go.uber.org/zap"

	"github.com/resolvely-ai/automation-engine/internal/model"
	natsclient "github.com/resolvely-ai/automation-engine/internal/nats"
	"github.com/resolvely-ai/automation-engine/pkg/logger"
)

const (
	// StreamName is the name of the audit stream.
	StreamName = "AUTOMATION_AUDIT"

	// SubjectPrefix is the prefix for all audit subjects.
	SubjectPrefix = "audit"
)

// Trail records activity entries.
type Trail interface {
	Record(ctx context.Context, entry model.AuditEntry)
}

// Stream is a Trail backed by a NATS JetStream stream with deletes and
// purges denied, making the trail append-only at the broker.
type Stream struct {
	client *natsclient.Client
	logger *logger.Logger
}

// NewStream creates an audit trail over the given NATS client.
func NewStream(client *natsclient.Client, log *logger.Logger) *Stream {
	return &Stream{client: client, logger: log}
}

// EnsureStream ensures the audit stream exists with proper configuration.
func (s *Stream) EnsureStream(ctx context.Context) error {
	js := s.client.JetStream()

	if _, err := js.Stream(ctx, StreamName); err == nil {
		return nil // Stream already exists
	}

	_, err := js.CreateStream(ctx, jetstream.StreamConfig{
		Name:        StreamName,
		Subjects:    []string{fmt.Sprintf("%s.>", SubjectPrefix)},
		Retention:   jetstream.LimitsPolicy,
		MaxAge:      2 * 365 * 24 * time.Hour,
		MaxBytes:    50 * 1024 * 1024 * 1024,
		Storage:     jetstream.FileStorage,
		Replicas:    1,
		Compression: jetstream.S2Compression,
		DenyDelete:  true,
		DenyPurge:   true,
		Description: "Append-only trail of automation decisions and actions",
	})
	if err != nil {
		return fmt.Errorf("failed to create audit stream: %w", err)
	}

	return nil
}

// Subject returns the subject for an audit entry.
func Subject(tenantID string, kind model.AuditKind) string {
	return fmt.Sprintf("%s.%s.%s", SubjectPrefix, tenantID, kind)
}

// Record publishes an entry. Publish failures are logged with the full entry
// so nothing is lost silently, but they never block the decision path.
func (s *Stream) Record(ctx context.Context, entry model.AuditEntry) {
	if entry.ID == "" {
		entry.ID = uuid.Must(uuid.NewV7()).String()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now()
	}

	data, err := json.Marshal(entry)
	if err != nil {
		s.logger.Error("failed to marshal audit entry",
			zap.String("entry_id", entry.ID),
			zap.Error(err),
		)
		return
	}

	if _, err := s.client.JetStream().Publish(ctx, Subject(entry.TenantID, entry.Kind), data); err != nil {
		s.logger.Error("failed to publish audit entry",
			zap.String("entry_id", entry.ID),
			zap.String("tenant_id", entry.TenantID),
			zap.String("kind", string(entry.Kind)),
			zap.ByteString("entry", data),
			zap.Error(err),
		)
	}
}
