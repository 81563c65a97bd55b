package handlers

import (
	"errors"
	"net/http"

	"github.com/google/uuid"

	"jigaku-backend/internal/middleware"
	"jigaku-backend/internal/timer"
)

type TimerManager interface {
	State(userID uuid.UUID) timer.State
	SetDuration(userID uuid.UUID, minutes int) (timer.State, error)
	Start(userID uuid.UUID) (timer.State, error)
	Stop(userID uuid.UUID) timer.State
	Finish(userID uuid.UUID) (timer.State, int)
	Reset(userID uuid.UUID) timer.State
}

type TimerHandler struct {
	timers TimerManager
}

func NewTimerHandler(timers TimerManager) *TimerHandler {
	return &TimerHandler{timers: timers}
}

func (h *TimerHandler) Get(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.timers.State(middleware.GetUserID(r.Context())))
}

func (h *TimerHandler) SetDuration(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Minutes int `json:"minutes"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}

	st, err := h.timers.SetDuration(middleware.GetUserID(r.Context()), req.Minutes)
	if err != nil {
		if errors.Is(err, timer.ErrInvalidDuration) {
			writeJSON(w, http.StatusBadRequest, errorRespWithFields("VALIDATION_ERROR", "Validation failed",
				map[string]string{"minutes": err.Error()}, r))
			return
		}
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (h *TimerHandler) Start(w http.ResponseWriter, r *http.Request) {
	st, err := h.timers.Start(middleware.GetUserID(r.Context()))
	if err != nil {
		if errors.Is(err, timer.ErrClosed) {
			writeJSON(w, http.StatusServiceUnavailable, errorResp("UNAVAILABLE", "Server is shutting down", r))
			return
		}
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (h *TimerHandler) Stop(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.timers.Stop(middleware.GetUserID(r.Context())))
}

func (h *TimerHandler) Finish(w http.ResponseWriter, r *http.Request) {
	st, elapsed := h.timers.Finish(middleware.GetUserID(r.Context()))
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"timer":            st,
		"recorded_seconds": elapsed,
	})
}

func (h *TimerHandler) Reset(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.timers.Reset(middleware.GetUserID(r.Context())))
}
