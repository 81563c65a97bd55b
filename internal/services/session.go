package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"jigaku-backend/internal/models"
	"jigaku-backend/internal/timefmt"
)

type SessionStore interface {
	Complete(ctx context.Context, s *models.StudySession) (int64, error)
	ListByUser(ctx context.Context, userID uuid.UUID) ([]models.StudySession, error)
	GetTotalTime(ctx context.Context, userID uuid.UUID) (int64, error)
}

type SessionService struct {
	store SessionStore
}

func NewSessionService(store SessionStore) *SessionService {
	return &SessionService{store: store}
}

// Complete records a finished study session and returns it with the user's
// new accumulated total.
func (s *SessionService) Complete(ctx context.Context, userID uuid.UUID, seconds int) (*models.StudySession, int64, error) {
	if seconds <= 0 {
		return nil, 0, &ValidationError{Fields: map[string]string{"duration_seconds": "Duration must be positive"}}
	}

	session := &models.StudySession{UserID: userID, DurationSeconds: seconds}
	total, err := s.store.Complete(ctx, session)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, 0, &NotFoundError{Message: "User not found"}
		}
		return nil, 0, fmt.Errorf("failed to complete session: %w", err)
	}
	return session, total, nil
}

func (s *SessionService) List(ctx context.Context, userID uuid.UUID) ([]models.StudySession, error) {
	return s.store.ListByUser(ctx, userID)
}

func (s *SessionService) Total(ctx context.Context, userID uuid.UUID) (*models.SessionTotal, error) {
	total, err := s.store.GetTotalTime(ctx, userID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, &NotFoundError{Message: "User not found"}
		}
		return nil, err
	}
	return &models.SessionTotal{TotalSeconds: total, Formatted: timefmt.Summary(total)}, nil
}
