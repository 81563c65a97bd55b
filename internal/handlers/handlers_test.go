package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"jigaku-backend/internal/middleware"
	"jigaku-backend/internal/models"
	"jigaku-backend/internal/presence"
	"jigaku-backend/internal/roster"
	"jigaku-backend/internal/services"
	"jigaku-backend/internal/timer"
)

func authedRequest(method, target, body string, userID uuid.UUID) *http.Request {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	return req.WithContext(middleware.WithUserID(req.Context(), userID))
}

func decodeError(t *testing.T, rr *httptest.ResponseRecorder) models.APIError {
	t.Helper()
	var resp models.ErrorResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	return resp.Error
}

// ─── Error mapping ───

func TestHandleServiceError(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{"validation", &services.ValidationError{Fields: map[string]string{"email": "bad"}}, http.StatusBadRequest, "VALIDATION_ERROR"},
		{"conflict", &services.ConflictError{Message: "taken"}, http.StatusConflict, "CONFLICT"},
		{"not found", &services.NotFoundError{Message: "gone"}, http.StatusNotFound, "NOT_FOUND"},
		{"unauthorized", &services.UnauthorizedError{Message: "no"}, http.StatusUnauthorized, "UNAUTHORIZED"},
		{"wrapped", fmt.Errorf("outer: %w", &services.NotFoundError{Message: "gone"}), http.StatusNotFound, "NOT_FOUND"},
		{"unknown", errors.New("boom"), http.StatusInternalServerError, "INTERNAL_ERROR"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			rr := httptest.NewRecorder()
			handleServiceError(rr, httptest.NewRequest(http.MethodGet, "/", nil), tc.err)
			assert.Equal(t, tc.status, rr.Code)
			assert.Equal(t, tc.code, decodeError(t, rr).Code)
		})
	}
}

// ─── Auth ───

type stubAuth struct {
	loggedOut uuid.UUID
	loginErr  error
}

func (s *stubAuth) Register(ctx context.Context, req models.RegisterRequest) (*models.User, *models.AuthTokens, error) {
	if req.Password == "" {
		return nil, nil, &services.ValidationError{Fields: map[string]string{"password": "required"}}
	}
	return &models.User{ID: uuid.New(), Email: req.Email}, &models.AuthTokens{AccessToken: "a", RefreshToken: "r"}, nil
}

func (s *stubAuth) Login(ctx context.Context, req models.LoginRequest) (*models.AuthTokens, error) {
	if s.loginErr != nil {
		return nil, s.loginErr
	}
	return &models.AuthTokens{AccessToken: "a"}, nil
}

func (s *stubAuth) RefreshToken(ctx context.Context, token string) (*models.AuthTokens, error) {
	return &models.AuthTokens{AccessToken: "a2"}, nil
}

func (s *stubAuth) Logout(ctx context.Context, userID uuid.UUID, token string) error {
	s.loggedOut = userID
	return nil
}

func (s *stubAuth) GoogleLogin(ctx context.Context, idToken string) (*models.AuthTokens, error) {
	return &models.AuthTokens{AccessToken: "g"}, nil
}

func (s *stubAuth) Me(ctx context.Context, userID uuid.UUID) (*models.User, error) {
	return &models.User{ID: userID, FullName: "Aoi"}, nil
}

func TestAuthHandler_Register(t *testing.T) {
	h := NewAuthHandler(&stubAuth{})

	rr := httptest.NewRecorder()
	h.Register(rr, httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"full_name":"A","email":"a@b.co","password":"password1"}`)))
	assert.Equal(t, http.StatusCreated, rr.Code)

	rr = httptest.NewRecorder()
	h.Register(rr, httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"email":"a@b.co"}`)))
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Equal(t, "required", decodeError(t, rr).Fields["password"])

	rr = httptest.NewRecorder()
	h.Register(rr, httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`not json`)))
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestAuthHandler_LoginUnauthorized(t *testing.T) {
	h := NewAuthHandler(&stubAuth{loginErr: &services.UnauthorizedError{Message: "Invalid email or password"}})

	rr := httptest.NewRecorder()
	h.Login(rr, httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"email":"a@b.co","password":"x"}`)))
	assert.Equal(t, http.StatusUnauthorized, rr.Code)
	assert.Equal(t, "Invalid email or password", decodeError(t, rr).Message)
}

func TestAuthHandler_LogoutUsesContextUser(t *testing.T) {
	auth := &stubAuth{}
	h := NewAuthHandler(auth)
	userID := uuid.New()

	rr := httptest.NewRecorder()
	h.Logout(rr, authedRequest(http.MethodPost, "/", `{"refresh_token":"r"}`, userID))
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, userID, auth.loggedOut)
}

// ─── Sessions ───

type stubSessions struct {
	completed []int
}

func (s *stubSessions) Complete(ctx context.Context, userID uuid.UUID, seconds int) (*models.StudySession, int64, error) {
	if seconds <= 0 {
		return nil, 0, &services.ValidationError{Fields: map[string]string{"duration_seconds": "Duration must be positive"}}
	}
	s.completed = append(s.completed, seconds)
	return &models.StudySession{UserID: userID, DurationSeconds: seconds}, int64(seconds), nil
}

func (s *stubSessions) List(ctx context.Context, userID uuid.UUID) ([]models.StudySession, error) {
	return []models.StudySession{}, nil
}

func (s *stubSessions) Total(ctx context.Context, userID uuid.UUID) (*models.SessionTotal, error) {
	return &models.SessionTotal{TotalSeconds: 7200, Formatted: "Studied: 2 hours"}, nil
}

func TestSessionHandler_Create(t *testing.T) {
	stub := &stubSessions{}
	h := NewSessionHandler(stub)

	rr := httptest.NewRecorder()
	h.Create(rr, authedRequest(http.MethodPost, "/", `{"duration_seconds":1500}`, uuid.New()))
	assert.Equal(t, http.StatusCreated, rr.Code)
	assert.Equal(t, []int{1500}, stub.completed)

	rr = httptest.NewRecorder()
	h.Create(rr, authedRequest(http.MethodPost, "/", `{"duration_seconds":0}`, uuid.New()))
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestSessionHandler_Total(t *testing.T) {
	h := NewSessionHandler(&stubSessions{})

	rr := httptest.NewRecorder()
	h.Total(rr, authedRequest(http.MethodGet, "/", "", uuid.New()))
	require.Equal(t, http.StatusOK, rr.Code)

	var total models.SessionTotal
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &total))
	assert.Equal(t, "Studied: 2 hours", total.Formatted)
}

// ─── Timer ───

type nopHooks struct{}

func (nopHooks) StatusChanged(uuid.UUID, bool) {}
func (nopHooks) Completed(uuid.UUID, int)      {}

func TestTimerHandler_SetDurationValidation(t *testing.T) {
	h := NewTimerHandler(timer.NewManager(nopHooks{}, timer.Options{}))
	userID := uuid.New()

	rr := httptest.NewRecorder()
	h.SetDuration(rr, authedRequest(http.MethodPut, "/", `{"minutes":500}`, userID))
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Contains(t, decodeError(t, rr).Fields, "minutes")

	rr = httptest.NewRecorder()
	h.SetDuration(rr, authedRequest(http.MethodPut, "/", `{"minutes":50}`, userID))
	require.Equal(t, http.StatusOK, rr.Code)

	var st timer.State
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &st))
	assert.Equal(t, 3000, st.RemainingSeconds)
	assert.Equal(t, "50:00", st.Display)
}

func TestTimerHandler_StartAfterClose(t *testing.T) {
	m := timer.NewManager(nopHooks{}, timer.Options{})
	m.Close()
	h := NewTimerHandler(m)

	rr := httptest.NewRecorder()
	h.Start(rr, authedRequest(http.MethodPost, "/", "", uuid.New()))
	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
}

// ─── Status ───

type stubStatuses struct {
	flags presence.Snapshot
}

func (s *stubStatuses) Set(ctx context.Context, userID string, studying bool) error {
	s.flags[userID] = studying
	return nil
}

func (s *stubStatuses) Get(ctx context.Context, userID string) (bool, error) {
	return s.flags[userID], nil
}

func (s *stubStatuses) GetAll(ctx context.Context) (presence.Snapshot, error) {
	return s.flags, nil
}

func TestStatusHandler_SetMineAndGet(t *testing.T) {
	statuses := &stubStatuses{flags: presence.Snapshot{}}
	h := NewStatusHandler(statuses)
	userID := uuid.New()

	rr := httptest.NewRecorder()
	h.SetMine(rr, authedRequest(http.MethodPut, "/", `{}`, userID))
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr = httptest.NewRecorder()
	h.SetMine(rr, authedRequest(http.MethodPut, "/", `{"is_studying":true}`, userID))
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.True(t, statuses.flags[userID.String()])

	r := chi.NewRouter()
	r.Get("/status/{userID}", h.Get)

	rr = httptest.NewRecorder()
	r.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/status/"+userID.String(), nil))
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), `"is_studying":true`)

	rr = httptest.NewRecorder()
	r.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/status/not-a-uuid", nil))
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

// ─── Leaderboard ───

type stubCache struct {
	state   roster.State
	loadErr error
	forced  bool
}

func (s *stubCache) EnsureLoaded(ctx context.Context, withPresence bool) error { return s.loadErr }

func (s *stubCache) ForceRefresh(ctx context.Context, withPresence bool) error {
	s.forced = true
	return s.loadErr
}

func (s *stubCache) State() roster.State { return s.state }

func TestLeaderboardHandler_Get(t *testing.T) {
	cache := &stubCache{state: roster.State{
		Users: []models.UserRecord{
			{UserID: "b", Name: "Bo", TotalTimeStudied: 7320, IsStudying: true},
			{UserID: "a", Name: "Ai", TotalTimeStudied: 59},
		},
		FormattedTimes: map[string]string{"b": "2 hr 2 min", "a": "Just started"},
		HasInitialLoad: true,
	}}
	h := NewLeaderboardHandler(cache)

	rr := httptest.NewRecorder()
	h.Get(rr, httptest.NewRequest(http.MethodGet, "/", nil))
	require.Equal(t, http.StatusOK, rr.Code)

	var lb roster.Leaderboard
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &lb))
	require.Len(t, lb.Entries, 2)
	assert.Equal(t, 1, lb.Entries[0].Rank)
	assert.Equal(t, "2 hr 2 min", lb.Entries[0].Formatted)
	assert.Equal(t, "Just started", lb.Entries[1].Formatted)
}

func TestLeaderboardHandler_StaleOnFailure(t *testing.T) {
	cache := &stubCache{
		loadErr: errors.New("store offline"),
		state: roster.State{
			Users:          []models.UserRecord{{UserID: "a", Name: "Ai", TotalTimeStudied: 60}},
			FormattedTimes: map[string]string{"a": "1 min"},
			HasInitialLoad: true,
			Error:          "store offline",
		},
	}
	h := NewLeaderboardHandler(cache)

	rr := httptest.NewRecorder()
	h.Refresh(rr, httptest.NewRequest(http.MethodPost, "/", nil))
	assert.True(t, cache.forced)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), "store offline")

	cache.state = roster.State{}
	rr = httptest.NewRecorder()
	h.Get(rr, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
}

// ─── Health ───

func TestHealthHandler(t *testing.T) {
	h := NewHealthHandler(map[string]Pinger{
		"postgres": func(ctx context.Context) error { return nil },
		"redis":    func(ctx context.Context) error { return errors.New("connection refused") },
	})

	rr := httptest.NewRecorder()
	h.Check(rr, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
	assert.Contains(t, rr.Body.String(), `"status":"degraded"`)
}
