package repository

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"jigaku-backend/internal/models"
)

type StudySessionRepo struct {
	pool *pgxpool.Pool
}

func NewStudySessionRepo(pool *pgxpool.Pool) *StudySessionRepo {
	return &StudySessionRepo{pool: pool}
}

// Complete records a finished session and adds its duration to the user's
// total in one transaction. It returns the new total.
func (r *StudySessionRepo) Complete(ctx context.Context, s *models.StudySession) (int64, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to begin session transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	err = tx.QueryRow(ctx, `
		INSERT INTO study_sessions (user_id, duration_seconds)
		VALUES ($1, $2)
		RETURNING id, timestamp
	`, s.UserID, s.DurationSeconds).Scan(&s.ID, &s.Timestamp)
	if err != nil {
		return 0, fmt.Errorf("failed to save session: %w", err)
	}

	var total int64
	err = tx.QueryRow(ctx, `
		UPDATE users
		SET total_time_studied = total_time_studied + $1
		WHERE id = $2
		RETURNING total_time_studied
	`, s.DurationSeconds, s.UserID).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("failed to update total time: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("failed to commit session: %w", err)
	}
	return total, nil
}

func (r *StudySessionRepo) ListByUser(ctx context.Context, userID uuid.UUID) ([]models.StudySession, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, user_id, duration_seconds, timestamp
		FROM study_sessions
		WHERE user_id = $1
		ORDER BY timestamp DESC
	`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	sessions := make([]models.StudySession, 0)
	for rows.Next() {
		var s models.StudySession
		if err := rows.Scan(&s.ID, &s.UserID, &s.DurationSeconds, &s.Timestamp); err != nil {
			return nil, err
		}
		sessions = append(sessions, s)
	}

	return sessions, rows.Err()
}

func (r *StudySessionRepo) GetTotalTime(ctx context.Context, userID uuid.UUID) (int64, error) {
	var total int64
	err := r.pool.QueryRow(ctx, "SELECT total_time_studied FROM users WHERE id = $1", userID).Scan(&total)
	return total, err
}
