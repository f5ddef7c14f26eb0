// Package action invokes external mutation APIs. This is the only place in
// the engine that touches a third-party mutation surface, and it never
// retries a destructive action on its own: a failed refund or cancellation
// needs a fresh evaluation before another attempt.
package action

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/resolvely-ai/automation-engine/internal/collab"
	"github.com/resolvely-ai/automation-engine/internal/model"
	"github.com/resolvely-ai/automation-engine/pkg/logger"
	"github.com/resolvely-ai/automation-engine/pkg/metrics"
)

// Type identifies an executable action.
type Type string

const (
	TypeRefund Type = "refund"
	TypePause  Type = "pause"
	TypeResume Type = "resume"
	TypeCancel Type = "cancel"
)

// ForIntent maps an approved intent to its action.
func ForIntent(intent model.IntentType) Type {
	switch intent {
	case model.IntentSubscriptionPause:
		return TypePause
	case model.IntentSubscriptionResume:
		return TypeResume
	case model.IntentSubscriptionCancel:
		return TypeCancel
	}
	return TypeRefund
}

// Request describes one action to execute. Target is an order ID for
// refunds and a subscription ID for subscription changes. A nil Amount
// refunds in full.
type Request struct {
	Type     Type
	TenantID string
	Target   string
	Amount   *float64
}

// Result is the typed outcome of an executed action.
type Result struct {
	Success    bool    `json:"success"`
	ExternalID string  `json:"external_id,omitempty"`
	Amount     float64 `json:"amount,omitempty"`
}

// Executor runs actions against the payment and billing collaborators.
type Executor struct {
	refunds collab.RefundExecutor
	subs    collab.SubscriptionExecutor
	timeout time.Duration
	logger  *logger.Logger
}

// NewExecutor creates an action executor. Calls are bounded by timeout; a
// timeout is a retryable infrastructure failure, not a policy decision.
func NewExecutor(refunds collab.RefundExecutor, subs collab.SubscriptionExecutor, timeout time.Duration, log *logger.Logger) *Executor {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Executor{refunds: refunds, subs: subs, timeout: timeout, logger: log}
}

// Execute runs one approved action. It is called only after the quota gate
// allowed and the evaluator approved.
func (e *Executor) Execute(ctx context.Context, req Request) (*Result, error) {
	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	result, err := e.run(ctx, req)
	status := "success"
	if err != nil {
		status = "failure"
	}
	metrics.ActionsTotal.WithLabelValues(string(req.Type), status).Inc()

	if err != nil {
		e.logger.Error("action execution failed",
			zap.String("type", string(req.Type)),
			zap.String("tenant_id", req.TenantID),
			zap.String("target", req.Target),
			zap.Bool("retryable", collab.IsUnavailable(err)),
			zap.Error(err),
		)
		return nil, err
	}
	return result, nil
}

func (e *Executor) run(ctx context.Context, req Request) (*Result, error) {
	switch req.Type {
	case TypeRefund:
		res, err := e.refunds.Refund(ctx, req.TenantID, req.Target, req.Amount)
		if err != nil {
			return nil, fmt.Errorf("refund failed: %w", err)
		}
		if !res.Success {
			return nil, fmt.Errorf("refund rejected for order %s", req.Target)
		}
		return &Result{Success: true, ExternalID: res.ExternalID, Amount: res.Amount}, nil

	case TypePause:
		if err := e.subs.Pause(ctx, req.TenantID, req.Target); err != nil {
			return nil, fmt.Errorf("pause failed: %w", err)
		}
	case TypeResume:
		if err := e.subs.Resume(ctx, req.TenantID, req.Target); err != nil {
			return nil, fmt.Errorf("resume failed: %w", err)
		}
	case TypeCancel:
		if err := e.subs.Cancel(ctx, req.TenantID, req.Target); err != nil {
			return nil, fmt.Errorf("cancel failed: %w", err)
		}
	default:
		return nil, fmt.Errorf("unknown action type %q", req.Type)
	}

	return &Result{Success: true}, nil
}
