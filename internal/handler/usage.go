package handler

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/resolvely-ai/automation-engine/internal/engine"
	"github.com/resolvely-ai/automation-engine/internal/middleware"
	"github.com/resolvely-ai/automation-engine/internal/quota"
	"github.com/resolvely-ai/automation-engine/pkg/logger"
)

// UsageHandler handles usage and admin endpoints.
type UsageHandler struct {
	tracker *quota.Tracker
	engine  *engine.Engine
	logger  *logger.Logger
}

// NewUsageHandler creates a new usage handler.
func NewUsageHandler(tracker *quota.Tracker, eng *engine.Engine, log *logger.Logger) *UsageHandler {
	return &UsageHandler{tracker: tracker, engine: eng, logger: log}
}

// Get handles GET /api/v1/usage/:service
func (h *UsageHandler) Get(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := middleware.GetTenantID(ctx)
	service := chi.URLParam(r, "service")

	if err := middleware.ValidateService(service); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	rec, limits, err := h.tracker.Usage(ctx, tenantID, service)
	if err != nil {
		h.logger.Error("failed to read usage", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to read usage")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"usage": rec,
		"limits": map[string]any{
			"daily":     limits.Daily,
			"monthly":   limits.Monthly,
			"unlimited": limits.Unlimited,
		},
	})
}

// Reset handles POST /api/v1/admin/usage/:service/reset
func (h *UsageHandler) Reset(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := middleware.GetTenantID(ctx)
	service := chi.URLParam(r, "service")

	if err := middleware.ValidateService(service); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := h.tracker.Reset(ctx, tenantID, service); err != nil {
		h.logger.Error("failed to reset usage", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to reset usage")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// Sweep handles POST /api/v1/admin/sweep
func (h *UsageHandler) Sweep(w http.ResponseWriter, r *http.Request) {
	olderThan := 72 * time.Hour
	if v := r.URL.Query().Get("older_than"); v != "" {
		parsed, err := time.ParseDuration(v)
		if err != nil || parsed <= 0 {
			writeError(w, http.StatusBadRequest, "invalid older_than duration")
			return
		}
		olderThan = parsed
	}

	swept, err := h.engine.SweepStale(r.Context(), olderThan)
	if err != nil {
		h.logger.Error("stale sweep failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "sweep failed")
		return
	}

	writeJSON(w, http.StatusOK, map[string]int{"escalated": swept})
}
