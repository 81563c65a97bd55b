package services

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
	"google.golang.org/api/idtoken"

	"jigaku-backend/internal/middleware"
	"jigaku-backend/internal/models"
)

type memUsers struct {
	mu    sync.Mutex
	users map[uuid.UUID]*models.User
}

func newMemUsers() *memUsers {
	return &memUsers{users: make(map[uuid.UUID]*models.User)}
}

func (m *memUsers) Create(ctx context.Context, user *models.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	user.ID = uuid.New()
	if user.AuthProvider == "" {
		user.AuthProvider = "email"
	}
	cp := *user
	m.users[user.ID] = &cp
	return nil
}

func (m *memUsers) find(match func(*models.User) bool) (*models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if match(u) {
			cp := *u
			return &cp, nil
		}
	}
	return nil, pgx.ErrNoRows
}

func (m *memUsers) GetByEmail(ctx context.Context, email string) (*models.User, error) {
	return m.find(func(u *models.User) bool { return u.Email == email })
}

func (m *memUsers) GetByID(ctx context.Context, id uuid.UUID) (*models.User, error) {
	return m.find(func(u *models.User) bool { return u.ID == id })
}

func (m *memUsers) GetByGoogleID(ctx context.Context, googleID string) (*models.User, error) {
	return m.find(func(u *models.User) bool { return u.GoogleID != nil && *u.GoogleID == googleID })
}

func (m *memUsers) LinkGoogle(ctx context.Context, userID uuid.UUID, googleID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.users[userID].GoogleID = &googleID
	return nil
}

func (m *memUsers) UpdateLastLogin(ctx context.Context, userID uuid.UUID) error { return nil }

type recordedStatus struct {
	userID   string
	studying bool
}

type fakeStatuses struct {
	sets []recordedStatus
}

func (f *fakeStatuses) Set(ctx context.Context, userID string, studying bool) error {
	f.sets = append(f.sets, recordedStatus{userID, studying})
	return nil
}

func newTestAuth(t *testing.T) (*AuthService, *memUsers, *fakeStatuses, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	users := newMemUsers()
	statuses := &fakeStatuses{}
	svc := NewAuthService(users, client, middleware.NewJWTAuth("test-secret"), statuses, "client-123", zap.NewNop())
	svc.bcryptCost = bcrypt.MinCost
	return svc, users, statuses, mr
}

func TestAuthService_RegisterAndLogin(t *testing.T) {
	svc, _, _, _ := newTestAuth(t)
	ctx := context.Background()

	user, tokens, err := svc.Register(ctx, models.RegisterRequest{
		FullName: "Aiko", Email: " Aiko@Example.com ", Password: "studyhard1",
	})
	require.NoError(t, err)
	assert.Equal(t, "aiko@example.com", user.Email)
	assert.NotEmpty(t, tokens.AccessToken)
	assert.Equal(t, 900, tokens.ExpiresIn)

	_, err = svc.Login(ctx, models.LoginRequest{Email: "aiko@example.com", Password: "studyhard1"})
	require.NoError(t, err)

	_, err = svc.Login(ctx, models.LoginRequest{Email: "aiko@example.com", Password: "wrongpass1"})
	var unauthorized *UnauthorizedError
	assert.ErrorAs(t, err, &unauthorized)

	_, _, err = svc.Register(ctx, models.RegisterRequest{FullName: "Aiko", Email: "aiko@example.com", Password: "studyhard1"})
	var conflict *ConflictError
	assert.ErrorAs(t, err, &conflict)
}

func TestAuthService_RegisterValidation(t *testing.T) {
	svc, _, _, _ := newTestAuth(t)

	_, _, err := svc.Register(context.Background(), models.RegisterRequest{Email: "nope", Password: "short"})
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Contains(t, verr.Fields, "full_name")
	assert.Contains(t, verr.Fields, "email")
	assert.Equal(t, "Password must be at least 8 characters", verr.Fields["password"])

	_, _, err = svc.Register(context.Background(), models.RegisterRequest{FullName: "A", Email: "a@b.co", Password: "nodigitshere"})
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "Password must contain at least one number", verr.Fields["password"])
}

func TestAuthService_RefreshRotates(t *testing.T) {
	svc, _, _, mr := newTestAuth(t)
	ctx := context.Background()

	_, tokens, err := svc.Register(ctx, models.RegisterRequest{FullName: "Ken", Email: "ken@example.com", Password: "password1"})
	require.NoError(t, err)
	assert.True(t, mr.Exists("refresh:"+tokens.RefreshToken))

	next, err := svc.RefreshToken(ctx, tokens.RefreshToken)
	require.NoError(t, err)
	assert.NotEqual(t, tokens.RefreshToken, next.RefreshToken)
	assert.False(t, mr.Exists("refresh:"+tokens.RefreshToken))

	_, err = svc.RefreshToken(ctx, tokens.RefreshToken)
	var unauthorized *UnauthorizedError
	assert.ErrorAs(t, err, &unauthorized)
}

func TestAuthService_LogoutClearsStatus(t *testing.T) {
	svc, _, statuses, mr := newTestAuth(t)
	ctx := context.Background()

	user, tokens, err := svc.Register(ctx, models.RegisterRequest{FullName: "Mei", Email: "mei@example.com", Password: "password1"})
	require.NoError(t, err)

	require.NoError(t, svc.Logout(ctx, user.ID, tokens.RefreshToken))
	assert.False(t, mr.Exists("refresh:"+tokens.RefreshToken))
	assert.Equal(t, []recordedStatus{{user.ID.String(), false}}, statuses.sets)
}

func TestAuthService_GoogleLogin(t *testing.T) {
	svc, users, _, _ := newTestAuth(t)
	ctx := context.Background()

	svc.verifyGoogle = func(ctx context.Context, token, audience string) (*idtoken.Payload, error) {
		if token != "good" || audience != "client-123" {
			return nil, errors.New("bad token")
		}
		return &idtoken.Payload{
			Subject: "g-1",
			Claims:  map[string]interface{}{"email": "Sora@Example.com", "name": "Sora"},
		}, nil
	}

	existing, _, err := svc.Register(ctx, models.RegisterRequest{FullName: "Sora", Email: "sora@example.com", Password: "password1"})
	require.NoError(t, err)

	_, err = svc.GoogleLogin(ctx, "good")
	require.NoError(t, err)

	linked, err := users.GetByGoogleID(ctx, "g-1")
	require.NoError(t, err)
	assert.Equal(t, existing.ID, linked.ID)

	_, err = svc.GoogleLogin(ctx, "bad")
	var unauthorized *UnauthorizedError
	assert.ErrorAs(t, err, &unauthorized)
}

func TestAuthService_GoogleLoginCreatesUser(t *testing.T) {
	svc, users, _, _ := newTestAuth(t)
	svc.verifyGoogle = func(ctx context.Context, token, audience string) (*idtoken.Payload, error) {
		return &idtoken.Payload{
			Subject: "g-2",
			Claims:  map[string]interface{}{"email": "riku@example.com", "picture": "https://img/riku.png"},
		}, nil
	}

	_, err := svc.GoogleLogin(context.Background(), "token")
	require.NoError(t, err)

	user, err := users.GetByGoogleID(context.Background(), "g-2")
	require.NoError(t, err)
	assert.Equal(t, "riku", user.FullName)
	assert.Equal(t, "google", user.AuthProvider)
	require.NotNil(t, user.AvatarURL)
}

func TestAuthService_GoogleNotConfigured(t *testing.T) {
	svc, _, _, _ := newTestAuth(t)
	svc.googleClientID = ""

	_, err := svc.GoogleLogin(context.Background(), "token")
	var verr *ValidationError
	assert.ErrorAs(t, err, &verr)
}

type fakeSessions struct {
	total    int64
	saved    []models.StudySession
	totalErr error
}

func (f *fakeSessions) Complete(ctx context.Context, s *models.StudySession) (int64, error) {
	s.ID = uuid.New()
	f.saved = append(f.saved, *s)
	f.total += int64(s.DurationSeconds)
	return f.total, nil
}

func (f *fakeSessions) ListByUser(ctx context.Context, userID uuid.UUID) ([]models.StudySession, error) {
	return f.saved, nil
}

func (f *fakeSessions) GetTotalTime(ctx context.Context, userID uuid.UUID) (int64, error) {
	return f.total, f.totalErr
}

func TestSessionService_Complete(t *testing.T) {
	store := &fakeSessions{total: 3600}
	svc := NewSessionService(store)
	userID := uuid.New()

	session, total, err := svc.Complete(context.Background(), userID, 1500)
	require.NoError(t, err)
	assert.Equal(t, int64(5100), total)
	assert.Equal(t, userID, session.UserID)
	assert.Len(t, store.saved, 1)

	for _, seconds := range []int{0, -5} {
		_, _, err := svc.Complete(context.Background(), userID, seconds)
		var verr *ValidationError
		assert.ErrorAs(t, err, &verr)
	}
	assert.Len(t, store.saved, 1)
}

func TestSessionService_Total(t *testing.T) {
	svc := NewSessionService(&fakeSessions{total: 3660})
	total, err := svc.Total(context.Background(), uuid.New())
	require.NoError(t, err)
	assert.Equal(t, "Studied: 1 hour 1 minute", total.Formatted)

	svc = NewSessionService(&fakeSessions{totalErr: pgx.ErrNoRows})
	_, err = svc.Total(context.Background(), uuid.New())
	var nf *NotFoundError
	assert.ErrorAs(t, err, &nf)
}
