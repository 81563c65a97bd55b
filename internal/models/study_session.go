package models

import (
	"time"

	"github.com/google/uuid"
)

type StudySession struct {
	ID              uuid.UUID `json:"id"`
	UserID          uuid.UUID `json:"user_id"`
	DurationSeconds int       `json:"duration_seconds"`
	Timestamp       time.Time `json:"timestamp"`
}

type SessionTotal struct {
	TotalSeconds int64  `json:"total_seconds"`
	Formatted    string `json:"formatted"`
}
