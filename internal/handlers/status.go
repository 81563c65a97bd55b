package handlers

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"jigaku-backend/internal/middleware"
	"jigaku-backend/internal/presence"
)

type StatusStore interface {
	Set(ctx context.Context, userID string, studying bool) error
	Get(ctx context.Context, userID string) (bool, error)
	GetAll(ctx context.Context) (presence.Snapshot, error)
}

type StatusHandler struct {
	statuses StatusStore
}

func NewStatusHandler(statuses StatusStore) *StatusHandler {
	return &StatusHandler{statuses: statuses}
}

func (h *StatusHandler) List(w http.ResponseWriter, r *http.Request) {
	snap, err := h.statuses.GetAll(r.Context())
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"statuses": snap})
}

func (h *StatusHandler) Get(w http.ResponseWriter, r *http.Request) {
	userID, err := uuid.Parse(chi.URLParam(r, "userID"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResp("VALIDATION_ERROR", "Invalid user ID", r))
		return
	}

	studying, err := h.statuses.Get(r.Context(), userID.String())
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"user_id":     userID,
		"is_studying": studying,
	})
}

func (h *StatusHandler) SetMine(w http.ResponseWriter, r *http.Request) {
	var req struct {
		IsStudying *bool `json:"is_studying"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.IsStudying == nil {
		writeJSON(w, http.StatusBadRequest, errorRespWithFields("VALIDATION_ERROR", "Validation failed",
			map[string]string{"is_studying": "is_studying is required"}, r))
		return
	}

	userID := middleware.GetUserID(r.Context())
	if err := h.statuses.Set(r.Context(), userID.String(), *req.IsStudying); err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"user_id":     userID,
		"is_studying": *req.IsStudying,
	})
}
