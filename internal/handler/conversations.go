package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/resolvely-ai/automation-engine/internal/engine"
	"github.com/resolvely-ai/automation-engine/internal/middleware"
	"github.com/resolvely-ai/automation-engine/internal/model"
	"github.com/resolvely-ai/automation-engine/internal/store"
	"github.com/resolvely-ai/automation-engine/pkg/logger"
)

// ConversationHandler handles conversation endpoints.
type ConversationHandler struct {
	convs  store.ConversationStore
	engine *engine.Engine
	logger *logger.Logger
}

// NewConversationHandler creates a new conversation handler.
func NewConversationHandler(convs store.ConversationStore, eng *engine.Engine, log *logger.Logger) *ConversationHandler {
	return &ConversationHandler{convs: convs, engine: eng, logger: log}
}

// List handles GET /api/v1/conversations
func (h *ConversationHandler) List(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := middleware.GetTenantID(ctx)

	limit := 20
	offset := 0

	if l := r.URL.Query().Get("limit"); l != "" {
		if parsed, err := strconv.Atoi(l); err == nil && parsed > 0 && parsed <= 100 {
			limit = parsed
		}
	}
	if o := r.URL.Query().Get("offset"); o != "" {
		if parsed, err := strconv.Atoi(o); err == nil && parsed >= 0 {
			offset = parsed
		}
	}

	convs, total, err := h.convs.List(ctx, tenantID, limit, offset)
	if err != nil {
		h.logger.Error("failed to list conversations", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to list conversations")
		return
	}

	writeJSON(w, http.StatusOK, &model.ListConversationsResponse{
		Conversations: convs,
		Total:         total,
		HasMore:       offset+len(convs) < total,
	})
}

// Get handles GET /api/v1/conversations/:id
func (h *ConversationHandler) Get(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := middleware.GetTenantID(ctx)
	conversationID := chi.URLParam(r, "id")

	if err := middleware.ValidateConversationID(conversationID); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	conv, err := h.convs.Get(ctx, tenantID, conversationID)
	if err != nil {
		writeError(w, http.StatusNotFound, "conversation not found")
		return
	}

	writeJSON(w, http.StatusOK, conv)
}

// Stale handles GET /api/v1/conversations/stale
func (h *ConversationHandler) Stale(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := middleware.GetTenantID(ctx)

	olderThan := 72 * time.Hour
	if v := r.URL.Query().Get("older_than"); v != "" {
		parsed, err := time.ParseDuration(v)
		if err != nil || parsed <= 0 {
			writeError(w, http.StatusBadRequest, "invalid older_than duration")
			return
		}
		olderThan = parsed
	}

	convs, err := h.engine.StaleConversations(ctx, tenantID, olderThan)
	if err != nil {
		h.logger.Error("failed to list stale conversations", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to list stale conversations")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"conversations": convs,
		"older_than":    olderThan.String(),
	})
}

// Escalate handles POST /api/v1/conversations/:id/escalate
func (h *ConversationHandler) Escalate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := middleware.GetTenantID(ctx)
	conversationID := chi.URLParam(r, "id")

	if err := middleware.ValidateConversationID(conversationID); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	var req struct {
		Reason string `json:"reason"`
	}
	if r.Body != nil {
		_ = json.NewDecoder(r.Body).Decode(&req)
	}

	conv, err := h.engine.Escalate(ctx, tenantID, conversationID, req.Reason)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "conversation not found")
			return
		}
		h.logger.Error("failed to escalate conversation", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to escalate conversation")
		return
	}

	writeJSON(w, http.StatusOK, conv)
}
