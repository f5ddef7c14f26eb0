// Package handler provides HTTP handlers for the API.
package handler

import (
	"encoding/json"
	"net/http"

	"go.uber.org/zap"

	"github.com/resolvely-ai/automation-engine/internal/collab"
	"github.com/resolvely-ai/automation-engine/internal/engine"
	"github.com/resolvely-ai/automation-engine/internal/middleware"
	"github.com/resolvely-ai/automation-engine/internal/model"
	"github.com/resolvely-ai/automation-engine/pkg/logger"
)

// RequestHandler receives inbound customer messages.
type RequestHandler struct {
	engine *engine.Engine
	logger *logger.Logger
}

// NewRequestHandler creates a new request handler.
func NewRequestHandler(eng *engine.Engine, log *logger.Logger) *RequestHandler {
	return &RequestHandler{engine: eng, logger: log}
}

// Receive handles POST /api/v1/requests
func (h *RequestHandler) Receive(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := middleware.GetTenantID(ctx)

	var msg model.InboundMessage
	if err := json.NewDecoder(r.Body).Decode(&msg); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := middleware.ValidateThreadID(msg.ThreadID); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := middleware.ValidateCustomerContact(msg.Customer); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := middleware.ValidateMessageBody(msg.Body); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	conv, err := h.engine.HandleMessage(ctx, tenantID, &msg)
	if err != nil {
		if collab.IsUnavailable(err) {
			// State is untouched; the caller may redeliver the message.
			w.Header().Set("Retry-After", "30")
			writeError(w, http.StatusServiceUnavailable, "a dependency is unavailable, retry later")
			return
		}
		h.logger.Error("failed to process inbound message",
			zap.String("tenant_id", tenantID),
			zap.String("thread_id", msg.ThreadID),
			zap.Error(err),
		)
		writeError(w, http.StatusInternalServerError, "failed to process message")
		return
	}

	writeJSON(w, http.StatusOK, conv)
}
