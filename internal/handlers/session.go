package handlers

import (
	"context"
	"net/http"

	"github.com/google/uuid"

	"jigaku-backend/internal/middleware"
	"jigaku-backend/internal/models"
)

type SessionService interface {
	Complete(ctx context.Context, userID uuid.UUID, seconds int) (*models.StudySession, int64, error)
	List(ctx context.Context, userID uuid.UUID) ([]models.StudySession, error)
	Total(ctx context.Context, userID uuid.UUID) (*models.SessionTotal, error)
}

type SessionHandler struct {
	sessions SessionService
}

func NewSessionHandler(sessions SessionService) *SessionHandler {
	return &SessionHandler{sessions: sessions}
}

func (h *SessionHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req struct {
		DurationSeconds int `json:"duration_seconds"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}

	session, total, err := h.sessions.Complete(r.Context(), middleware.GetUserID(r.Context()), req.DurationSeconds)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, map[string]interface{}{
		"session":            session,
		"total_time_studied": total,
	})
}

func (h *SessionHandler) List(w http.ResponseWriter, r *http.Request) {
	sessions, err := h.sessions.List(r.Context(), middleware.GetUserID(r.Context()))
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"sessions": sessions})
}

func (h *SessionHandler) Total(w http.ResponseWriter, r *http.Request) {
	total, err := h.sessions.Total(r.Context(), middleware.GetUserID(r.Context()))
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, total)
}
