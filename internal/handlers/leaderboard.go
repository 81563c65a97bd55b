package handlers

import (
	"context"
	"net/http"

	"jigaku-backend/internal/roster"
)

type RosterCache interface {
	EnsureLoaded(ctx context.Context, withPresence bool) error
	ForceRefresh(ctx context.Context, withPresence bool) error
	State() roster.State
}

type LeaderboardHandler struct {
	cache RosterCache
}

func NewLeaderboardHandler(cache RosterCache) *LeaderboardHandler {
	return &LeaderboardHandler{cache: cache}
}

func (h *LeaderboardHandler) Get(w http.ResponseWriter, r *http.Request) {
	h.respond(w, r, h.cache.EnsureLoaded(r.Context(), true))
}

func (h *LeaderboardHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	h.respond(w, r, h.cache.ForceRefresh(r.Context(), true))
}

// respond serves the last good roster even when the load failed; only a
// failure with nothing cached is an error response.
func (h *LeaderboardHandler) respond(w http.ResponseWriter, r *http.Request, loadErr error) {
	st := h.cache.State()
	if loadErr != nil && !st.HasInitialLoad {
		writeJSON(w, http.StatusServiceUnavailable, errorResp("LEADERBOARD_UNAVAILABLE", loadErr.Error(), r))
		return
	}
	writeJSON(w, http.StatusOK, st.Leaderboard())
}
