// Package collab defines the external collaborator contracts the engine
// consumes. The engine calls these through typed interfaces and never
// interprets anything beyond the typed result.
package collab

import (
	"context"
	"errors"

	"github.com/resolvely-ai/automation-engine/internal/model"
)

var (
	// ErrOrderNotFound is returned when a reference resolves to no order.
	ErrOrderNotFound = errors.New("order not found")
)

// Unavailable wraps a collaborator transport failure. Operations that hit one
// are abandoned for the current message without corrupting state; the caller
// may redeliver.
type Unavailable struct {
	Collaborator string
	Err          error
}

func (u *Unavailable) Error() string {
	return u.Collaborator + " unavailable: " + u.Err.Error()
}

func (u *Unavailable) Unwrap() error { return u.Err }

// Retryable marks transport failures as safe to retry.
func (u *Unavailable) Retryable() bool { return true }

// IsUnavailable reports whether err is a collaborator transport failure.
func IsUnavailable(err error) bool {
	var u *Unavailable
	return errors.As(err, &u)
}

// OrderLookup resolves order references against the tenant's order platform.
type OrderLookup interface {
	FindOrder(ctx context.Context, tenantID, reference string) (*model.Order, error)
	FindOrdersByCustomer(ctx context.Context, tenantID, email string) ([]model.Order, error)
}

// EmailSender delivers outbound customer and tenant notifications.
type EmailSender interface {
	Send(ctx context.Context, tenantID, to, subject, body, templateTag string) error
}

// RefundResult is the typed outcome of a refund execution.
type RefundResult struct {
	Success    bool    `json:"success"`
	ExternalID string  `json:"id"`
	Amount     float64 `json:"amount"`
}

// RefundExecutor executes refunds against the payment platform.
type RefundExecutor interface {
	Refund(ctx context.Context, tenantID, orderID string, amount *float64) (*RefundResult, error)
}

// SubscriptionExecutor mutates subscriptions on the billing platform.
type SubscriptionExecutor interface {
	Pause(ctx context.Context, tenantID, subscriptionID string) error
	Resume(ctx context.Context, tenantID, subscriptionID string) error
	Cancel(ctx context.Context, tenantID, subscriptionID string) error
}
